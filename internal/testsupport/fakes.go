package testsupport

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	"avsrt/internal/asr"
	"avsrt/internal/audio"
	"avsrt/internal/vad"
)

// FakeExtractor writes silent WAV files instead of running ffmpeg.
type FakeExtractor struct {
	SampleRate int
	DurationMS int64
	Err        error

	mu       sync.Mutex
	extracts int
	clips    int
}

// Extract implements audio.Extractor.
func (f *FakeExtractor) Extract(_ context.Context, _ string, dest string) error {
	f.mu.Lock()
	f.extracts++
	f.mu.Unlock()
	if f.Err != nil {
		return f.Err
	}
	return audio.WriteWAV(dest, f.rate(), make([]int16, int64(f.rate())*f.DurationMS/1000))
}

// Clip implements audio.Extractor.
func (f *FakeExtractor) Clip(_ context.Context, _ string, startMS, endMS int64, dest string) error {
	f.mu.Lock()
	f.clips++
	f.mu.Unlock()
	return audio.WriteWAV(dest, f.rate(), make([]int16, int64(f.rate())*(endMS-startMS)/1000))
}

// Extracts returns how many times Extract ran.
func (f *FakeExtractor) Extracts() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.extracts
}

// Clips returns how many clips were cut.
func (f *FakeExtractor) Clips() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.clips
}

func (f *FakeExtractor) rate() int {
	if f.SampleRate <= 0 {
		return 16000
	}
	return f.SampleRate
}

// FakeDetector returns fixed intervals.
type FakeDetector struct {
	Intervals []vad.Interval
	Err       error
}

// Detect implements vad.Detector.
func (f *FakeDetector) Detect(context.Context, []byte, int) ([]vad.Interval, error) {
	return f.Intervals, f.Err
}

// FakeTranscriber answers from Texts keyed by segment id, falling back to
// Default. Respond, when set, takes precedence.
type FakeTranscriber struct {
	Texts   map[int]string
	Default string
	Respond func(segID int, opts asr.Options) (asr.Result, error)

	mu    sync.Mutex
	calls []int
}

// Transcribe implements asr.Transcriber.
func (f *FakeTranscriber) Transcribe(_ context.Context, clipPath string, opts asr.Options) (asr.Result, error) {
	segID := SegmentID(clipPath)
	f.mu.Lock()
	f.calls = append(f.calls, segID)
	f.mu.Unlock()
	if f.Respond != nil {
		return f.Respond(segID, opts)
	}
	text, ok := f.Texts[segID]
	if !ok {
		text = f.Default
	}
	return asr.Result{Text: text}, nil
}

// Calls returns the segment ids transcribed so far, in call order.
func (f *FakeTranscriber) Calls() []int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int(nil), f.calls...)
}

// SegmentID recovers the segment id from a clip path named seg_00042.wav.
// It returns -1 for other names.
func SegmentID(clipPath string) int {
	var id int
	name := strings.TrimSuffix(filepath.Base(clipPath), filepath.Ext(clipPath))
	if _, err := fmt.Sscanf(name, "seg_%d", &id); err != nil {
		return -1
	}
	return id
}

// FakeTranslator prefixes every text with the target language.
type FakeTranslator struct {
	Err error

	mu      sync.Mutex
	batches [][]string
}

// Translate implements translation.Translator.
func (f *FakeTranslator) Translate(_ context.Context, texts []string, _, target string) ([]string, error) {
	f.mu.Lock()
	f.batches = append(f.batches, append([]string(nil), texts...))
	f.mu.Unlock()
	if f.Err != nil {
		return nil, f.Err
	}
	out := make([]string, len(texts))
	for i, text := range texts {
		out[i] = "[" + target + "] " + text
	}
	return out, nil
}

// Batches returns every batch the translator received.
func (f *FakeTranslator) Batches() [][]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]string(nil), f.batches...)
}
