package gate

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"slices"

	"avsrt/internal/artifact"
	"avsrt/internal/config"
	"avsrt/internal/logging"
	"avsrt/internal/services"
)

// dropLogLimit caps the per-segment drop lines written for one run.
const dropLogLimit = 10

// Salvager re-transcribes a segment with alternate decoding options.
type Salvager interface {
	Retranscribe(ctx context.Context, seg artifact.TranscribedSegment) (artifact.TranscribedSegment, error)
}

// Stats summarizes one gating pass.
type Stats struct {
	Accepted         int
	Rejected         int
	ByReason         map[string]int
	SalvageAttempts  int
	SalvageSuccesses int
}

// Gate applies Evaluate to a transcript, optionally salvaging segments that
// fail only on confidence.
type Gate struct {
	cfg      config.Gate
	salvager Salvager
	logger   *slog.Logger
}

// New returns a gate. salvager may be nil, which disables salvage
// regardless of configuration.
func New(cfg config.Gate, salvager Salvager, logger *slog.Logger) *Gate {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Gate{cfg: cfg, salvager: salvager, logger: logger}
}

// Apply evaluates every segment in order. A salvaged segment is evaluated
// once more and that verdict is final. Salvage failures other than
// cancellation keep the original rejection.
func (g *Gate) Apply(ctx context.Context, segments artifact.TranscribedSegments) (artifact.GatedSegments, Stats, error) {
	stats := Stats{ByReason: map[string]int{}}
	out := make(artifact.GatedSegments, 0, len(segments))
	dropped := 0

	for _, seg := range segments {
		gated := artifact.GatedSegment{TranscribedSegment: seg}
		verdict := Evaluate(seg, g.cfg)

		if !verdict.Accepted && g.cfg.Salvage && g.salvager != nil && confidenceOnly(seg, g.cfg) {
			gated.SalvageAttempted = true
			stats.SalvageAttempts++
			retried, err := g.salvager.Retranscribe(ctx, seg)
			switch {
			case err != nil && ctx.Err() != nil:
				return nil, stats, ctx.Err()
			case err != nil:
				logging.WarnWithContext(g.logger, "salvage failed", "gate_salvage_failed",
					logging.Int("seg_id", seg.SegID),
					logging.String(logging.FieldErrorHint, "segment keeps its original rejection"),
					logging.String(logging.FieldImpact, "segment dropped"),
					logging.Error(err),
				)
			default:
				retried.RawSegment = seg.RawSegment
				verdict = Evaluate(retried, g.cfg)
				if verdict.Accepted {
					gated.TranscribedSegment = retried
					gated.Salvaged = true
					stats.SalvageSuccesses++
				}
			}
		}

		if verdict.Reason == artifact.ReasonMalformedMetrics {
			err := services.Wrap(services.ErrGateEvaluation, "gate", "evaluate",
				fmt.Sprintf("segment %d", seg.SegID), fmt.Errorf("unreadable metrics %v", gated.Malformed))
			logging.WarnWithContext(g.logger, "malformed confidence metrics", "gate_malformed_metrics",
				logging.Int("seg_id", seg.SegID),
				logging.String(logging.FieldErrorHint, "check the ASR backend output"),
				logging.String(logging.FieldImpact, "segment rejected"),
				logging.Error(err),
			)
		}

		gated.Accepted = verdict.Accepted
		gated.RejectReason = verdict.Reason
		if verdict.Accepted {
			stats.Accepted++
		} else {
			stats.Rejected++
			stats.ByReason[verdict.Reason]++
			if dropped < dropLogLimit {
				g.logger.Info("gate drop",
					logging.Int("seg_id", seg.SegID),
					logging.String("reason", verdict.Reason),
				)
			}
			dropped++
		}
		out = append(out, gated)
	}
	return out, stats, nil
}

// Run reads segments.asr.json, gates it, and writes segments.gated.json.
func (g *Gate) Run(ctx context.Context, store *artifact.Store) (artifact.GatedSegments, Stats, error) {
	var segments artifact.TranscribedSegments
	if err := store.ReadJSON(artifact.ASRName, &segments); err != nil {
		return nil, Stats{}, services.Wrap(services.ErrStageExecution, "gate", "read transcript", "", err)
	}
	gated, stats, err := g.Apply(ctx, segments)
	if err != nil {
		return nil, stats, err
	}
	if err := store.WriteJSON(artifact.GatedName, gated); err != nil {
		return nil, stats, fmt.Errorf("write %s: %w", artifact.GatedName, err)
	}
	attrs := []logging.Attr{
		logging.Int("accepted", stats.Accepted),
		logging.Int("total", len(gated)),
	}
	for _, reason := range slices.Sorted(maps.Keys(stats.ByReason)) {
		attrs = append(attrs, logging.Int("rejected_"+reason, stats.ByReason[reason]))
	}
	g.logger.Info("gate kept segments", logging.Args(attrs...)...)
	return gated, stats, nil
}

// Tally recomputes Stats from a stored gate artifact so a skipped stage can
// still report its counters.
func Tally(segments artifact.GatedSegments) Stats {
	stats := Stats{ByReason: map[string]int{}}
	for _, seg := range segments {
		if seg.SalvageAttempted {
			stats.SalvageAttempts++
		}
		if seg.Salvaged {
			stats.SalvageSuccesses++
		}
		if seg.Accepted {
			stats.Accepted++
			continue
		}
		stats.Rejected++
		stats.ByReason[seg.RejectReason]++
	}
	return stats
}
