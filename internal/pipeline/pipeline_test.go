package pipeline_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"avsrt/internal/artifact"
	"avsrt/internal/asr"
	"avsrt/internal/config"
	"avsrt/internal/pipeline"
	"avsrt/internal/services"
	"avsrt/internal/testsupport"
	"avsrt/internal/vad"
	"avsrt/internal/workspace"
)

type fixture struct {
	cfg         *config.Config
	ws          *workspace.Handle
	extractor   *testsupport.FakeExtractor
	transcriber *testsupport.FakeTranscriber
	translator  *testsupport.FakeTranslator
	observer    *recordingObserver
}

func newFixture(t *testing.T, opts ...testsupport.ConfigOption) *fixture {
	t.Helper()
	cfg := testsupport.NewConfig(t, opts...)
	cfg.ASR.Workers = 1
	video := filepath.Join(testsupport.BaseDir(cfg), "media", "ep01.mkv")
	testsupport.WriteFile(t, video, 2048)

	ws, err := workspace.NewResolver(cfg, nil).Resolve(context.Background(), video)
	if err != nil {
		t.Fatalf("resolve workspace: %v", err)
	}
	t.Cleanup(func() { _ = ws.Close() })

	return &fixture{
		cfg:         cfg,
		ws:          ws,
		extractor:   &testsupport.FakeExtractor{SampleRate: cfg.Audio.SampleRate, DurationMS: 4000},
		transcriber: &testsupport.FakeTranscriber{Default: "こんにちは"},
		translator:  &testsupport.FakeTranslator{},
		observer:    &recordingObserver{},
	}
}

func (f *fixture) run(t *testing.T) (pipeline.Report, error) {
	t.Helper()
	return f.runContext(t, context.Background())
}

func (f *fixture) runContext(t *testing.T, ctx context.Context) (pipeline.Report, error) {
	t.Helper()
	stages := pipeline.Build(f.cfg, f.ws, pipeline.Deps{
		Extractor: f.extractor,
		Detector: &testsupport.FakeDetector{Intervals: []vad.Interval{
			{StartMS: 0, EndMS: 1000},
			{StartMS: 2000, EndMS: 3000},
		}},
		Transcriber: f.transcriber,
		Translator:  f.translator,
	})
	runner := pipeline.NewRunner("", nil, f.observer)
	return runner.Run(ctx, stages, f.env())
}

func (f *fixture) env() *pipeline.Env {
	return &pipeline.Env{Config: f.cfg, Workspace: f.ws, Store: f.ws.Store, Counters: pipeline.NewCounters()}
}

type recordingObserver struct {
	mu     sync.Mutex
	events []pipeline.Event
}

func (o *recordingObserver) StageEvent(_ context.Context, event pipeline.Event) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.events = append(o.events, event)
	return nil
}

func (o *recordingObserver) kinds(stage string) []pipeline.EventKind {
	o.mu.Lock()
	defer o.mu.Unlock()
	var kinds []pipeline.EventKind
	for _, event := range o.events {
		if event.Stage == stage {
			kinds = append(kinds, event.Kind)
		}
	}
	return kinds
}

func states(report pipeline.Report) map[string]pipeline.State {
	out := make(map[string]pipeline.State, len(report.Stages))
	for _, status := range report.Stages {
		out[status.Name] = status.State
	}
	return out
}

func TestRunWritesSourceSubtitles(t *testing.T) {
	f := newFixture(t)

	report, err := f.run(t)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(report.Stages) != 7 {
		t.Fatalf("expected 7 stages without translation, got %d", len(report.Stages))
	}
	for _, status := range report.Stages {
		if status.State != pipeline.StateDone {
			t.Fatalf("stage %s: expected done, got %s (%s)", status.Name, status.State, status.Reason)
		}
	}

	data, err := os.ReadFile(f.ws.OutputPath("ja"))
	if err != nil {
		t.Fatalf("read srt: %v", err)
	}
	srt := string(data)
	if !strings.HasPrefix(srt, "1\n00:00:00,000 --> ") {
		t.Fatalf("unexpected srt start: %q", srt)
	}
	if strings.Count(srt, "こんにちは") != 2 {
		t.Fatalf("expected both segments in srt, got %q", srt)
	}
	if !f.ws.Store.Exists(artifact.MetadataName(f.ws.OutputPath("ja"))) {
		t.Fatal("expected srt metadata inside the work dir")
	}

	want := map[string]int64{
		pipeline.CounterSegmentsProduced: 2,
		pipeline.CounterSegmentsAccepted: 2,
		pipeline.CounterSegmentsRejected: 0,
		pipeline.CounterBlocksProduced:   2,
		pipeline.CounterStagesRun:        7,
	}
	for name, value := range want {
		if got := report.Counters[name]; got != value {
			t.Errorf("counter %s = %d, want %d", name, got, value)
		}
	}
	if got := f.observer.kinds(pipeline.StageASR); !slices.Equal(got, []pipeline.EventKind{pipeline.EventStart, pipeline.EventComplete}) {
		t.Fatalf("unexpected asr events %v", got)
	}
}

func TestRerunSkipsEveryStage(t *testing.T) {
	f := newFixture(t)
	if _, err := f.run(t); err != nil {
		t.Fatalf("first run: %v", err)
	}
	before, err := os.ReadFile(f.ws.OutputPath("ja"))
	if err != nil {
		t.Fatalf("read srt: %v", err)
	}
	calls := len(f.transcriber.Calls())

	report, err := f.run(t)
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	for _, status := range report.Stages {
		if status.State != pipeline.StateSkipped {
			t.Fatalf("stage %s: expected skipped, got %s (%s)", status.Name, status.State, status.Reason)
		}
	}
	if f.extractor.Extracts() != 1 {
		t.Fatalf("expected a single extraction, got %d", f.extractor.Extracts())
	}
	if got := len(f.transcriber.Calls()); got != calls {
		t.Fatalf("expected no new transcriptions, got %d more", got-calls)
	}
	after, err := os.ReadFile(f.ws.OutputPath("ja"))
	if err != nil {
		t.Fatalf("read srt: %v", err)
	}
	if string(before) != string(after) {
		t.Fatal("srt changed on a fully cached rerun")
	}
	if report.Counters[pipeline.CounterSegmentsProduced] != 2 {
		t.Fatalf("skipped stages should still report counters, got %v", report.Counters)
	}
	if report.Counters[pipeline.CounterStagesSkipped] != 7 {
		t.Fatalf("expected 7 skipped stages, got %d", report.Counters[pipeline.CounterStagesSkipped])
	}
}

func TestConfigChangeRerunsFromAffectedStage(t *testing.T) {
	f := newFixture(t)
	if _, err := f.run(t); err != nil {
		t.Fatalf("first run: %v", err)
	}

	f.cfg.Chunking.CharsPerLine = 3
	report, err := f.run(t)
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	got := states(report)
	for _, name := range []string{pipeline.StageExtractAudio, pipeline.StageVAD, pipeline.StageASR, pipeline.StageGate} {
		if got[name] != pipeline.StateSkipped {
			t.Fatalf("stage %s: expected skipped, got %s", name, got[name])
		}
	}
	for _, name := range []string{pipeline.StageBlocks, pipeline.StageNormalize, pipeline.StageSRT} {
		if got[name] != pipeline.StateDone {
			t.Fatalf("stage %s: expected rerun, got %s", name, got[name])
		}
	}
	if report.Stages[4].Reason != "configuration changed" {
		t.Fatalf("unexpected blocks reason %q", report.Stages[4].Reason)
	}
}

func TestFailureLeavesLaterStagesPending(t *testing.T) {
	f := newFixture(t)
	var failing atomic.Bool
	failing.Store(true)
	f.transcriber.Respond = func(segID int, _ asr.Options) (asr.Result, error) {
		if segID == 1 && failing.Load() {
			return asr.Result{}, errors.New("model crashed")
		}
		return asr.Result{Text: "こんにちは"}, nil
	}

	report, err := f.run(t)
	if err == nil {
		t.Fatal("expected failure")
	}
	if stage, ok := pipeline.FailedStage(err); !ok || stage != pipeline.StageASR {
		t.Fatalf("expected asr failure, got %q (%v)", stage, err)
	}
	if !services.Fatal(err) {
		t.Fatalf("asr failure should be fatal: %v", err)
	}
	got := states(report)
	if got[pipeline.StageASR] != pipeline.StateFailed {
		t.Fatalf("asr state %s", got[pipeline.StageASR])
	}
	for _, name := range []string{pipeline.StageGate, pipeline.StageBlocks, pipeline.StageSRT} {
		if got[name] != pipeline.StatePending {
			t.Fatalf("stage %s: expected pending, got %s", name, got[name])
		}
	}
	if _, err := os.Stat(f.ws.OutputPath("ja")); !os.IsNotExist(err) {
		t.Fatalf("srt should not exist after a failed run, stat err=%v", err)
	}
	if got := f.observer.kinds(pipeline.StageASR); !slices.Contains(got, pipeline.EventFailure) {
		t.Fatalf("expected failure event, got %v", got)
	}

	failing.Store(false)
	calls := len(f.transcriber.Calls())
	if _, err := f.run(t); err != nil {
		t.Fatalf("resumed run: %v", err)
	}
	resumed := f.transcriber.Calls()[calls:]
	if !slices.Equal(resumed, []int{1}) {
		t.Fatalf("expected only segment 1 to be retranscribed, got %v", resumed)
	}
}

func TestTranslationFailureKeepsSourceSubtitles(t *testing.T) {
	f := newFixture(t, testsupport.WithTranslation("zh-TW"))
	f.translator.Err = errors.New("quota exhausted")

	report, err := f.run(t)
	if err == nil {
		t.Fatal("expected translation failure")
	}
	if services.Classify(err) != services.KindTranslation {
		t.Fatalf("expected translation kind, got %s (%v)", services.Classify(err), err)
	}
	if services.Fatal(err) {
		t.Fatal("translation failure must not be fatal")
	}
	if _, err := os.Stat(f.ws.OutputPath("ja")); err != nil {
		t.Fatalf("source srt missing: %v", err)
	}
	if _, err := os.Stat(f.ws.OutputPath("zh-TW")); !os.IsNotExist(err) {
		t.Fatalf("translated srt should not exist, stat err=%v", err)
	}
	got := states(report)
	if got[pipeline.StageSRT] != pipeline.StateDone || got[pipeline.StageTranslate] != pipeline.StateFailed {
		t.Fatalf("unexpected states %v", got)
	}
	if got[pipeline.StageSRTTranslated] != pipeline.StatePending {
		t.Fatalf("srt_translated state %s", got[pipeline.StageSRTTranslated])
	}
	if report.Counters[pipeline.CounterTranslationFailures] != 1 {
		t.Fatalf("expected one translation failure, got %v", report.Counters)
	}
}

func TestTranslationFailureRemovesStaleTranslation(t *testing.T) {
	f := newFixture(t, testsupport.WithTranslation("zh-TW"))
	if _, err := f.run(t); err != nil {
		t.Fatalf("first run: %v", err)
	}
	targetSRT := f.ws.OutputPath("zh-TW")
	if _, err := os.Stat(targetSRT); err != nil {
		t.Fatalf("translated srt missing after first run: %v", err)
	}

	f.cfg.Chunking.MergeGapMS = 5000
	f.translator.Err = errors.New("401 unauthorized")
	report, err := f.run(t)
	if services.Classify(err) != services.KindTranslation {
		t.Fatalf("expected translation failure, got %v", err)
	}
	got := states(report)
	if got[pipeline.StageSRT] != pipeline.StateDone || got[pipeline.StageTranslate] != pipeline.StateFailed {
		t.Fatalf("unexpected states %v", got)
	}

	data, err := os.ReadFile(f.ws.OutputPath("ja"))
	if err != nil {
		t.Fatalf("read source srt: %v", err)
	}
	if strings.Contains(string(data), "\n2\n") {
		t.Fatalf("expected the segments merged into one cue, got %q", data)
	}
	if _, err := os.Stat(targetSRT); !os.IsNotExist(err) {
		t.Fatalf("stale translated srt should be removed, stat err=%v", err)
	}
	if f.ws.Store.Exists(artifact.MetadataName(targetSRT)) {
		t.Fatal("stale translated srt metadata should be removed")
	}
	if f.ws.Store.Exists(artifact.TranslatedBlocksName("zh-TW")) {
		t.Fatal("stale translated blocks should be removed")
	}
}

func TestResumeAfterGateStartsAtBlocks(t *testing.T) {
	f := newFixture(t)
	if _, err := f.run(t); err != nil {
		t.Fatalf("first run: %v", err)
	}
	if err := f.ws.Store.Remove(artifact.BlocksName); err != nil {
		t.Fatalf("remove blocks: %v", err)
	}
	calls := len(f.transcriber.Calls())

	report, err := f.run(t)
	if err != nil {
		t.Fatalf("resumed run: %v", err)
	}
	got := states(report)
	for _, name := range []string{pipeline.StageExtractAudio, pipeline.StageVAD, pipeline.StageASR, pipeline.StageGate} {
		if got[name] != pipeline.StateSkipped {
			t.Fatalf("stage %s: expected skipped, got %s", name, got[name])
		}
	}
	if got[pipeline.StageBlocks] != pipeline.StateDone || report.Stages[4].Reason != "no metadata" {
		t.Fatalf("blocks should rerun for missing metadata, got %s (%s)", got[pipeline.StageBlocks], report.Stages[4].Reason)
	}
	if f.extractor.Extracts() != 1 || len(f.transcriber.Calls()) != calls {
		t.Fatalf("upstream work repeated: extracts=%d transcriptions=%d", f.extractor.Extracts(), len(f.transcriber.Calls())-calls)
	}
	if _, err := os.Stat(f.ws.OutputPath("ja")); err != nil {
		t.Fatalf("source srt missing: %v", err)
	}
}

func TestTranslationUsesCacheAcrossRuns(t *testing.T) {
	f := newFixture(t, testsupport.WithTranslation("zh-TW"))

	report, err := f.run(t)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	data, err := os.ReadFile(f.ws.OutputPath("zh-TW"))
	if err != nil {
		t.Fatalf("read translated srt: %v", err)
	}
	if strings.Count(string(data), "[zh-TW] こんにちは") != 2 {
		t.Fatalf("unexpected translated srt %q", data)
	}
	// Both blocks share one text, so a single text is sent.
	if batches := f.translator.Batches(); len(batches) != 1 || len(batches[0]) != 1 {
		t.Fatalf("unexpected batches %v", batches)
	}
	if report.Counters[pipeline.CounterCacheMisses] != 1 || report.Counters[pipeline.CounterCacheHits] != 1 {
		t.Fatalf("unexpected cache counters %v", report.Counters)
	}

	translated := artifact.TranslatedBlocksName("zh-TW")
	if err := os.Remove(f.ws.Store.Path(translated)); err != nil {
		t.Fatalf("remove translated blocks: %v", err)
	}
	report, err = f.run(t)
	if err != nil {
		t.Fatalf("rerun: %v", err)
	}
	got := states(report)
	if got[pipeline.StageTranslate] != pipeline.StateDone {
		t.Fatalf("translate should rerun, got %s", got[pipeline.StageTranslate])
	}
	if got[pipeline.StageSRTTranslated] != pipeline.StateSkipped {
		t.Fatalf("identical translated blocks should keep the srt cached, got %s", got[pipeline.StageSRTTranslated])
	}
	if len(f.translator.Batches()) != 1 {
		t.Fatalf("expected cached translations to be reused, got %d batches", len(f.translator.Batches()))
	}
	if report.Counters[pipeline.CounterCacheHits] != 2 || report.Counters[pipeline.CounterCacheMisses] != 0 {
		t.Fatalf("unexpected cache counters %v", report.Counters)
	}
}

func TestPlanReportsSkipDecisions(t *testing.T) {
	f := newFixture(t)
	stages := pipeline.Build(f.cfg, f.ws, pipeline.Deps{})
	runner := pipeline.NewRunner("", nil, nil)

	plan := runner.Plan(stages, f.env())
	if plan[0].Reason != "no metadata" {
		t.Fatalf("unexpected first reason %q", plan[0].Reason)
	}
	for _, status := range plan[1:] {
		if status.State != pipeline.StatePending || status.Reason != "upstream will rerun" {
			t.Fatalf("stage %s: unexpected plan %s (%s)", status.Name, status.State, status.Reason)
		}
	}

	if _, err := f.run(t); err != nil {
		t.Fatalf("run: %v", err)
	}
	for _, status := range runner.Plan(stages, f.env()) {
		if status.State != pipeline.StateSkipped || !status.Present {
			t.Fatalf("stage %s: expected cached, got %s (%s)", status.Name, status.State, status.Reason)
		}
	}

	if err := os.Remove(f.ws.OutputPath("ja")); err != nil {
		t.Fatalf("remove srt: %v", err)
	}
	plan = runner.Plan(stages, f.env())
	last := plan[len(plan)-1]
	if last.Name != pipeline.StageSRT || last.Reason != "artifact missing" || last.Present {
		t.Fatalf("unexpected srt plan %+v", last)
	}
}

func TestCanceledRunStopsBeforeFirstStage(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	report, err := f.runContext(t, ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancellation, got %v", err)
	}
	for _, status := range report.Stages {
		if status.State != pipeline.StatePending {
			t.Fatalf("stage %s: expected pending, got %s", status.Name, status.State)
		}
	}
	if f.extractor.Extracts() != 0 {
		t.Fatal("extractor should not run")
	}
}
