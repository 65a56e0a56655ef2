package asr

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"testing"

	"avsrt/internal/artifact"
	"avsrt/internal/config"
	"avsrt/internal/services"
)

type clipWriter struct{}

func (clipWriter) Extract(context.Context, string, string) error { return nil }

func (clipWriter) Clip(_ context.Context, _ string, _, _ int64, dest string) error {
	return os.WriteFile(dest, []byte("clip"), 0o644)
}

type recordingTranscriber struct {
	mu     sync.Mutex
	calls  []string
	opts   []Options
	failOn string
}

func (r *recordingTranscriber) Transcribe(_ context.Context, clip string, opts Options) (Result, error) {
	name := filepath.Base(clip)
	r.mu.Lock()
	r.calls = append(r.calls, name)
	r.opts = append(r.opts, opts)
	r.mu.Unlock()
	if _, err := os.Stat(clip); err != nil {
		return Result{}, fmt.Errorf("clip missing: %w", err)
	}
	if name == r.failOn {
		return Result{}, errors.New("model crashed")
	}
	return Result{Text: "text " + name, Metrics: map[string]float64{config.MetricNoSpeechProb: 0.1}}, nil
}

func newStoreWithSegments(t *testing.T, n int) *artifact.Store {
	t.Helper()
	store := artifact.NewStore(t.TempDir())
	raw := make(artifact.RawSegments, n)
	for i := range raw {
		raw[i] = artifact.RawSegment{SegID: i, StartMS: int64(i) * 2000, EndMS: int64(i)*2000 + 1500}
	}
	if err := store.WriteJSON(artifact.VADName, raw); err != nil {
		t.Fatalf("write vad: %v", err)
	}
	return store
}

func TestBuildArgsCPU(t *testing.T) {
	w := NewWhisperX(WhisperXConfig{Model: "large-v3"})
	args := w.buildArgs("/w/clips/seg_00001.wav", "/w/clips/out", Options{Language: "jpn", BeamSize: 5})
	joined := strings.Join(args, " ")
	for _, want := range []string{
		"--index-url " + PypiIndexURL,
		"whisperx /w/clips/seg_00001.wav",
		"--model large-v3",
		"--output_format json",
		"--output_dir /w/clips/out",
		"--beam_size 5",
		"--temperature 0",
		"--language ja",
		"--device cpu --compute_type float32",
	} {
		if !strings.Contains(joined, want) {
			t.Fatalf("expected %q in %q", want, joined)
		}
	}
	if strings.Contains(joined, CUDAIndexURL) {
		t.Fatalf("cpu args must not reference cuda index: %q", joined)
	}
}

func TestBuildArgsCUDASalvage(t *testing.T) {
	w := NewWhisperX(WhisperXConfig{CUDAEnabled: true})
	args := w.buildArgs("clip.wav", "out", Options{BeamSize: 10, Temperature: 0.2})
	joined := strings.Join(args, " ")
	for _, want := range []string{"--index-url " + CUDAIndexURL, "--device cuda", "--beam_size 10", "--temperature 0.2", "--model " + DefaultModel} {
		if !strings.Contains(joined, want) {
			t.Fatalf("expected %q in %q", want, joined)
		}
	}
	if slices.Contains(args, "--language") {
		t.Fatalf("empty language must not be passed: %q", joined)
	}
}

func TestTranscribeAggregatesMetrics(t *testing.T) {
	dir := t.TempDir()
	clip := filepath.Join(dir, "seg_00000.wav")
	if err := os.WriteFile(clip, []byte("clip"), 0o644); err != nil {
		t.Fatalf("write clip: %v", err)
	}
	payload := `{"segments":[
		{"text":" こんにちは ","start":0,"end":1,"avg_logprob":-0.4,"no_speech_prob":0.1,"compression_ratio":1.2},
		{"text":"世界","start":1,"end":2,"avg_logprob":-0.9,"no_speech_prob":0.3,"compression_ratio":NaN}
	]}`
	w := NewWhisperX(WhisperXConfig{})
	w.WithCommandRunner(func(_ context.Context, name string, args ...string) error {
		if name != UVXCommand {
			t.Fatalf("unexpected command %q", name)
		}
		outDir := args[slices.Index(args, "--output_dir")+1]
		return os.WriteFile(filepath.Join(outDir, "seg_00000.json"), []byte(payload), 0o644)
	})

	result, err := w.Transcribe(context.Background(), clip, Options{Language: "ja"})
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if result.Text != "こんにちは世界" {
		t.Fatalf("text = %q", result.Text)
	}
	if got := result.Metrics[config.MetricAvgLogprob]; got != -0.9 {
		t.Fatalf("avg_logprob = %v, want -0.9", got)
	}
	if got := result.Metrics[config.MetricNoSpeechProb]; got != 0.3 {
		t.Fatalf("no_speech_prob = %v, want 0.3", got)
	}
	if _, ok := result.Metrics[config.MetricCompressionRatio]; ok {
		t.Fatal("malformed compression_ratio must not be reported as a value")
	}
	if !slices.Equal(result.Malformed, []string{config.MetricCompressionRatio}) {
		t.Fatalf("malformed = %v", result.Malformed)
	}
	entries, _ := os.ReadDir(dir)
	if len(entries) != 1 {
		t.Fatalf("scratch output dir not removed: %v", entries)
	}
}

func TestTranscribeJoinsLatinTextWithSpaces(t *testing.T) {
	result := aggregate([]Segment{{Text: "hello"}, {Text: " world "}}, "en")
	if result.Text != "hello world" {
		t.Fatalf("text = %q", result.Text)
	}
	if len(result.Metrics) != 0 || len(result.Malformed) != 0 {
		t.Fatalf("expected no metrics, got %+v", result)
	}
}

func TestTranscribeSurfacesRunnerFailure(t *testing.T) {
	clip := filepath.Join(t.TempDir(), "seg_00000.wav")
	w := NewWhisperX(WhisperXConfig{})
	w.WithCommandRunner(func(context.Context, string, ...string) error { return errors.New("exit status 1") })
	if _, err := w.Transcribe(context.Background(), clip, Options{}); err == nil {
		t.Fatal("expected error")
	}
}

func TestRunTranscribesAndOrdersSegments(t *testing.T) {
	store := newStoreWithSegments(t, 5)
	tr := &recordingTranscriber{}
	segments, err := Run(context.Background(), Params{
		Store:       store,
		Extractor:   clipWriter{},
		Transcriber: tr,
		Options:     Options{Language: "ja", BeamSize: 5},
		Workers:     3,
		Fingerprint: "fp-1",
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(segments) != 5 || len(tr.calls) != 5 {
		t.Fatalf("segments=%d calls=%d", len(segments), len(tr.calls))
	}
	var stored artifact.TranscribedSegments
	if err := store.ReadJSON(artifact.ASRName, &stored); err != nil {
		t.Fatalf("read asr: %v", err)
	}
	for i, seg := range stored {
		if seg.SegID != i || seg.Text != fmt.Sprintf("text seg_%05d.wav", i) {
			t.Fatalf("segment %d = %+v", i, seg)
		}
	}
	if _, err := os.Stat(store.Path(clipDirName)); !os.IsNotExist(err) {
		t.Fatal("clip directory should be removed")
	}
}

func TestRunReusesMatchingLogEntries(t *testing.T) {
	store := newStoreWithSegments(t, 3)
	log, err := artifact.OpenAppendLog[LogEntry](store.Path(artifact.ASRLogName))
	if err != nil {
		t.Fatalf("open log: %v", err)
	}
	seg0 := artifact.TranscribedSegment{RawSegment: artifact.RawSegment{SegID: 0, StartMS: 0, EndMS: 1500}, Text: "cached", Metrics: map[string]float64{}}
	seg1 := artifact.TranscribedSegment{RawSegment: artifact.RawSegment{SegID: 1, StartMS: 2000, EndMS: 3500}, Text: "stale", Metrics: map[string]float64{}}
	if err := log.Append(LogEntry{Fingerprint: "fp-1", Segment: seg0}); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := log.Append(LogEntry{Fingerprint: "fp-old", Segment: seg1}); err != nil {
		t.Fatalf("append: %v", err)
	}
	_ = log.Close()

	tr := &recordingTranscriber{}
	segments, err := Run(context.Background(), Params{Store: store, Extractor: clipWriter{}, Transcriber: tr, Workers: 1, Fingerprint: "fp-1"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	slices.Sort(tr.calls)
	if !slices.Equal(tr.calls, []string{"seg_00001.wav", "seg_00002.wav"}) {
		t.Fatalf("calls = %v", tr.calls)
	}
	if segments[0].Text != "cached" || segments[1].Text == "stale" {
		t.Fatalf("unexpected reuse: %+v", segments)
	}
}

func TestRunFailureKeepsFlushedEntries(t *testing.T) {
	store := newStoreWithSegments(t, 3)
	tr := &recordingTranscriber{failOn: "seg_00002.wav"}
	_, err := Run(context.Background(), Params{Store: store, Extractor: clipWriter{}, Transcriber: tr, Workers: 1, Fingerprint: "fp-1"})
	if !errors.Is(err, services.ErrStageExecution) {
		t.Fatalf("expected stage execution error, got %v", err)
	}
	if store.Exists(artifact.ASRName) {
		t.Fatal("asr artifact must not be written on failure")
	}
	log, err := artifact.OpenAppendLog[LogEntry](store.Path(artifact.ASRLogName))
	if err != nil {
		t.Fatalf("open log: %v", err)
	}
	defer log.Close()
	entries, _, err := log.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(entries) != 2 || entries[0].Segment.SegID != 0 || entries[1].Segment.SegID != 1 {
		t.Fatalf("expected segments 0 and 1 flushed, got %+v", entries)
	}
}

func TestSalvagerUsesSalvageOptions(t *testing.T) {
	store := artifact.NewStore(t.TempDir())
	tr := &recordingTranscriber{}
	cfg := config.Default().ASR
	s := &Salvager{Store: store, Extractor: clipWriter{}, Transcriber: tr, Options: SalvageOptions(cfg)}
	seg := artifact.TranscribedSegment{RawSegment: artifact.RawSegment{SegID: 7, StartMS: 100, EndMS: 900}, Text: "old"}
	got, err := s.Retranscribe(context.Background(), seg)
	if err != nil {
		t.Fatalf("Retranscribe: %v", err)
	}
	if got.RawSegment != seg.RawSegment || got.Text != "text seg_00007.wav" {
		t.Fatalf("unexpected result %+v", got)
	}
	if tr.opts[0].BeamSize != cfg.SalvageBeamSize || tr.opts[0].Temperature != cfg.SalvageTemperature {
		t.Fatalf("salvage options not used: %+v", tr.opts[0])
	}
}
