package asr

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"sync"

	"avsrt/internal/artifact"
	"avsrt/internal/audio"
	"avsrt/internal/logging"
	"avsrt/internal/services"
	"avsrt/internal/workpool"
)

const clipDirName = "clips"

// LogEntry is one flushed transcription in segments.asr.jsonl. Fingerprint
// ties the entry to the configuration that produced it so a resumed run only
// reuses entries from an identical configuration.
type LogEntry struct {
	Fingerprint string                      `json:"fingerprint"`
	Segment     artifact.TranscribedSegment `json:"segment"`
}

// Validate implements artifact.Validatable.
func (e *LogEntry) Validate() error {
	if e.Fingerprint == "" {
		return errors.New("missing fingerprint")
	}
	if e.Segment.SegID < 0 || e.Segment.EndMS <= e.Segment.StartMS {
		return fmt.Errorf("segment %d: invalid range", e.Segment.SegID)
	}
	return nil
}

// Params wires the ASR stage to its collaborators.
type Params struct {
	Store       *artifact.Store
	Extractor   audio.Extractor
	Transcriber Transcriber
	Options     Options
	Workers     int
	// Fingerprint identifies the ASR configuration; log entries carrying a
	// different value are ignored.
	Fingerprint string
	Logger      *slog.Logger
}

// Run transcribes every VAD segment, reusing entries already flushed to the
// append log by an interrupted run, and writes segments.asr.json ordered by
// seg_id.
func Run(ctx context.Context, p Params) (artifact.TranscribedSegments, error) {
	logger := p.Logger
	if logger == nil {
		logger = logging.NewNop()
	}

	var raw artifact.RawSegments
	if err := p.Store.ReadJSON(artifact.VADName, &raw); err != nil {
		return nil, services.Wrap(services.ErrStageExecution, "asr", "read segments", "", err)
	}

	asrLog, err := artifact.OpenAppendLog[LogEntry](p.Store.Path(artifact.ASRLogName))
	if err != nil {
		return nil, fmt.Errorf("open asr log: %w", err)
	}
	defer asrLog.Close()

	done, skipped, err := reusable(asrLog, raw, p.Fingerprint)
	if err != nil {
		return nil, err
	}
	if len(done) > 0 || skipped > 0 {
		logger.Info("asr log reused",
			logging.Int("reused_segments", len(done)),
			logging.Int("skipped_lines", skipped),
		)
	}

	pending := make([]artifact.RawSegment, 0, len(raw))
	for _, seg := range raw {
		if _, ok := done[seg.SegID]; !ok {
			pending = append(pending, seg)
		}
	}

	clipDir := p.Store.Path(clipDirName)
	if len(pending) > 0 {
		if err := os.MkdirAll(clipDir, 0o755); err != nil {
			return nil, fmt.Errorf("create clip dir: %w", err)
		}
	}

	var (
		mu       sync.Mutex
		finished int
		sampler  = logging.NewProgressSampler(10)
	)
	err = workpool.Run(ctx, len(pending), p.Workers, func(ctx context.Context, i int) error {
		seg := pending[i]
		transcribed, err := transcribeSegment(ctx, p, clipDir, seg, p.Options)
		if err != nil {
			return err
		}
		if err := asrLog.Append(LogEntry{Fingerprint: p.Fingerprint, Segment: transcribed}); err != nil {
			return fmt.Errorf("append asr log: %w", err)
		}
		mu.Lock()
		defer mu.Unlock()
		done[seg.SegID] = transcribed
		finished++
		if sampler.ShouldLog(finished, len(pending)) {
			logger.Info("asr progress",
				logging.Int("completed", finished),
				logging.Int("total", len(pending)),
				logging.Int("percent", logging.Percent(finished, len(pending))),
			)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	_ = os.RemoveAll(clipDir)

	segments := make(artifact.TranscribedSegments, 0, len(done))
	for _, seg := range done {
		segments = append(segments, seg)
	}
	slices.SortFunc(segments, func(a, b artifact.TranscribedSegment) int { return a.SegID - b.SegID })
	if err := artifact.MatchesSegments(raw, segments); err != nil {
		return nil, services.Wrap(services.ErrStageExecution, "asr", "assemble", "", err)
	}
	if err := p.Store.WriteJSON(artifact.ASRName, segments); err != nil {
		return nil, fmt.Errorf("write %s: %w", artifact.ASRName, err)
	}
	return segments, nil
}

// reusable returns log entries that match both the fingerprint and a current
// VAD segment. Later entries for the same seg_id win.
func reusable(asrLog *artifact.AppendLog[LogEntry], raw artifact.RawSegments, fingerprint string) (map[int]artifact.TranscribedSegment, int, error) {
	entries, skipped, err := asrLog.Load()
	if err != nil {
		return nil, 0, fmt.Errorf("load asr log: %w", err)
	}
	byID := make(map[int]artifact.RawSegment, len(raw))
	for _, seg := range raw {
		byID[seg.SegID] = seg
	}
	done := make(map[int]artifact.TranscribedSegment, len(raw))
	for _, entry := range entries {
		if entry.Fingerprint != fingerprint {
			continue
		}
		if seg, ok := byID[entry.Segment.SegID]; ok && seg == entry.Segment.RawSegment {
			done[seg.SegID] = entry.Segment
		}
	}
	return done, skipped, nil
}

func transcribeSegment(ctx context.Context, p Params, clipDir string, seg artifact.RawSegment, opts Options) (artifact.TranscribedSegment, error) {
	clip := filepath.Join(clipDir, fmt.Sprintf("seg_%05d.wav", seg.SegID))
	defer os.Remove(clip)

	if err := p.Extractor.Clip(ctx, p.Store.Path(artifact.AudioName), seg.StartMS, seg.EndMS, clip); err != nil {
		return artifact.TranscribedSegment{}, err
	}
	result, err := p.Transcriber.Transcribe(ctx, clip, opts)
	if err != nil {
		if ctx.Err() != nil {
			return artifact.TranscribedSegment{}, ctx.Err()
		}
		return artifact.TranscribedSegment{}, services.Wrap(services.ErrStageExecution, "asr", "transcribe", fmt.Sprintf("segment %d", seg.SegID), err)
	}
	metrics := result.Metrics
	if metrics == nil {
		metrics = map[string]float64{}
	}
	return artifact.TranscribedSegment{
		RawSegment: seg,
		Text:       result.Text,
		Metrics:    metrics,
		Malformed:  result.Malformed,
	}, nil
}

// Salvager re-transcribes a single segment with alternate decoding options.
type Salvager struct {
	Store       *artifact.Store
	Extractor   audio.Extractor
	Transcriber Transcriber
	Options     Options
}

// Retranscribe clips seg from the workspace audio and transcribes it again.
func (s *Salvager) Retranscribe(ctx context.Context, seg artifact.TranscribedSegment) (artifact.TranscribedSegment, error) {
	clipDir := s.Store.Path(clipDirName)
	if err := os.MkdirAll(clipDir, 0o755); err != nil {
		return artifact.TranscribedSegment{}, fmt.Errorf("create clip dir: %w", err)
	}
	p := Params{Store: s.Store, Extractor: s.Extractor, Transcriber: s.Transcriber}
	return transcribeSegment(ctx, p, clipDir, seg.RawSegment, s.Options)
}
