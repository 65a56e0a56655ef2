package pipeline

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"avsrt/internal/artifact"
	"avsrt/internal/logging"
	"avsrt/internal/services"
)

// Runner executes stages in order, skipping those whose cached artifact is
// still valid for the current configuration.
type Runner struct {
	RunID    string
	Logger   *slog.Logger
	Observer Observer

	now func() time.Time
}

// NewRunner builds a runner. An empty runID gets a fresh UUID.
func NewRunner(runID string, logger *slog.Logger, observer Observer) *Runner {
	if runID == "" {
		runID = uuid.NewString()
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Runner{
		RunID:    runID,
		Logger:   logger,
		Observer: observer,
		now:      time.Now,
	}
}

type fingerprintInput struct {
	Stage    string `json:"stage"`
	Config   any    `json:"config"`
	Upstream string `json:"upstream_sha256"`
}

// Fingerprint hashes the stage configuration together with the digest
// recorded for its upstream artifact.
func Fingerprint(stage Stage, upstreamDigest string) (string, []byte, error) {
	configJSON, err := json.Marshal(stage.Config)
	if err != nil {
		return "", nil, fmt.Errorf("encode %s config: %w", stage.Name, err)
	}
	payload, err := json.Marshal(fingerprintInput{
		Stage:    stage.Name,
		Config:   json.RawMessage(configJSON),
		Upstream: upstreamDigest,
	})
	if err != nil {
		return "", nil, fmt.Errorf("encode %s fingerprint: %w", stage.Name, err)
	}
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:]), configJSON, nil
}

// Run walks stages in order. The first failure stops the run; later stages
// stay pending and the error is returned as a *StageError.
func (r *Runner) Run(ctx context.Context, stages []Stage, env *Env) (Report, error) {
	if env.Counters == nil {
		env.Counters = NewCounters()
	}
	ctx = services.WithRunID(ctx, r.RunID)
	report := Report{RunID: r.RunID, Stages: make([]StageStatus, len(stages))}
	for i, stage := range stages {
		report.Stages[i] = StageStatus{Name: stage.Name, State: StatePending, Artifact: stage.Artifact}
	}
	artifacts := artifactIndex(stages)

	var runErr error
	for i, stage := range stages {
		if err := ctx.Err(); err != nil {
			runErr = err
			break
		}
		status, err := r.runStage(ctx, stage, env, artifacts)
		report.Stages[i] = status
		if err != nil {
			if services.Classify(err) == services.KindTranslation {
				env.Counters.Add(CounterTranslationFailures, 1)
			}
			runErr = &StageError{Stage: stage.Name, Err: err}
			break
		}
	}
	report.Counters = env.Counters.Snapshot()
	return report, runErr
}

func (r *Runner) runStage(ctx context.Context, stage Stage, env *Env, artifacts map[string]string) (StageStatus, error) {
	status := StageStatus{Name: stage.Name, State: StatePending, Artifact: stage.Artifact}
	requestID := uuid.NewString()
	stageCtx := services.WithRequestID(logging.WithStage(ctx, stage.Name), requestID)
	logger := logging.WithContext(stageCtx, r.Logger)

	digest, err := upstreamDigest(stage, env.Store, artifacts)
	if err != nil {
		return r.fail(stageCtx, logger, status, requestID, 0, err)
	}
	fingerprint, configJSON, err := Fingerprint(stage, digest)
	if err != nil {
		return r.fail(stageCtx, logger, status, requestID, 0, err)
	}

	meta, reason := checkCache(stage, env, fingerprint)
	if reason == "" {
		if stage.Account != nil {
			if err := stage.Account(env); err != nil {
				return r.fail(stageCtx, logger, status, requestID, 0, err)
			}
		}
		env.Counters.Add(CounterStagesSkipped, 1)
		status.State = StateSkipped
		status.Present = true
		status.Reason = "cached artifact valid"
		status.CompletedAt = meta.CompletedAt
		logger.Info("stage skipped",
			logging.String(logging.FieldEventType, string(EventSkip)),
			logging.String("artifact", stage.Artifact),
			logging.String("completed_at", meta.CompletedAt.Format(time.RFC3339)),
		)
		r.notify(stageCtx, logger, Event{Stage: stage.Name, Kind: EventSkip, RequestID: requestID, Detail: status.Reason})
		return status, nil
	}
	status.Reason = reason

	status.State = StateRunning
	logger.Info("stage started",
		logging.String(logging.FieldEventType, string(EventStart)),
		logging.String("artifact", stage.Artifact),
		logging.String("cache_miss", status.Reason),
		logging.Bool("external", stage.External),
	)
	r.notify(stageCtx, logger, Event{Stage: stage.Name, Kind: EventStart, RequestID: requestID, Detail: status.Reason})

	start := r.now()
	err = stage.Run(stageCtx, &Invocation{Env: env, Fingerprint: fingerprint, Logger: logger})
	if err == nil && stage.Validate != nil {
		if verr := stage.Validate(env); verr != nil {
			err = services.Wrap(services.ErrValidation, stage.Name, "validate output", "", verr)
		}
	}
	if err == nil {
		meta, err = env.Store.Seal(stage.Artifact, artifact.Metadata{
			Stage:             stage.Name,
			ConfigFingerprint: fingerprint,
			Config:            configJSON,
		})
	}
	if err == nil && stage.Account != nil {
		err = stage.Account(env)
	}
	duration := r.now().Sub(start)
	if err != nil {
		return r.fail(stageCtx, logger, status, requestID, duration, err)
	}

	env.Counters.Add(CounterStagesRun, 1)
	status.State = StateDone
	status.Present = true
	status.Duration = duration
	status.CompletedAt = meta.CompletedAt
	logger.Info("stage completed",
		logging.String(logging.FieldEventType, string(EventComplete)),
		logging.String("artifact", stage.Artifact),
		logging.Duration("duration", duration),
	)
	r.notify(stageCtx, logger, Event{Stage: stage.Name, Kind: EventComplete, RequestID: requestID, Duration: duration})
	return status, nil
}

func (r *Runner) fail(ctx context.Context, logger *slog.Logger, status StageStatus, requestID string, duration time.Duration, err error) (StageStatus, error) {
	status.State = StateFailed
	status.Duration = duration
	kind := services.Classify(err)
	if kind == services.KindCanceled {
		logger.Warn("stage canceled",
			logging.String(logging.FieldEventType, string(EventFailure)),
			logging.Error(err),
		)
	} else {
		logging.ErrorWithContext(logger, "stage failed", string(EventFailure),
			logging.String("error_kind", string(kind)),
			logging.Duration("duration", duration),
			logging.Error(err),
		)
	}
	r.notify(ctx, logger, Event{Stage: status.Name, Kind: EventFailure, RequestID: requestID, Duration: duration, Err: err})
	return status, err
}

func (r *Runner) notify(ctx context.Context, logger *slog.Logger, event Event) {
	if r.Observer == nil {
		return
	}
	event.RunID = r.RunID
	if event.At.IsZero() {
		event.At = r.now()
	}
	// Record the failure of a canceled stage even though ctx is done.
	if err := r.Observer.StageEvent(context.WithoutCancel(ctx), event); err != nil {
		logging.WarnWithContext(logger, "stage event not recorded", "ledger_write_failed",
			logging.String(logging.FieldImpact, "run history is incomplete"),
			logging.String(logging.FieldErrorHint, "check the ledger database permissions"),
			logging.Error(err),
		)
	}
}

// Plan evaluates the skip decision for every stage without running anything.
// A stage after one that must rerun is reported as pending because its
// upstream artifact will change.
func (r *Runner) Plan(stages []Stage, env *Env) []StageStatus {
	artifacts := artifactIndex(stages)
	statuses := make([]StageStatus, len(stages))
	rerun := make(map[string]bool)
	for i, stage := range stages {
		status := StageStatus{Name: stage.Name, State: StatePending, Artifact: stage.Artifact}
		status.Present = env.Store.Exists(stage.Artifact)
		if meta, err := env.Store.ReadMetadata(stage.Artifact); err == nil {
			status.CompletedAt = meta.CompletedAt
		}
		switch {
		case stage.Upstream != "" && rerun[stage.Upstream]:
			status.Reason = "upstream will rerun"
		default:
			digest, err := upstreamDigest(stage, env.Store, artifacts)
			if err != nil {
				status.Reason = err.Error()
				break
			}
			fingerprint, _, err := Fingerprint(stage, digest)
			if err != nil {
				status.Reason = err.Error()
				break
			}
			if _, reason := checkCache(stage, env, fingerprint); reason != "" {
				status.Reason = reason
			} else {
				status.State = StateSkipped
				status.Reason = "cached artifact valid"
			}
		}
		if status.State != StateSkipped {
			rerun[stage.Name] = true
		}
		statuses[i] = status
	}
	return statuses
}

// checkCache returns the stored metadata and an empty reason when the
// artifact can be reused, otherwise the reason it cannot.
func checkCache(stage Stage, env *Env, fingerprint string) (artifact.Metadata, string) {
	meta, err := env.Store.ReadMetadata(stage.Artifact)
	if err != nil {
		return meta, "no metadata"
	}
	if meta.ConfigFingerprint != fingerprint {
		return meta, "configuration changed"
	}
	digest, err := env.Store.Digest(stage.Artifact)
	if err != nil {
		if errors.Is(err, services.ErrNotFound) {
			return meta, "artifact missing"
		}
		return meta, "artifact unreadable"
	}
	if digest != meta.ArtifactSHA256 {
		return meta, "artifact changed"
	}
	if stage.Validate != nil {
		if err := stage.Validate(env); err != nil {
			return meta, "artifact invalid: " + err.Error()
		}
	}
	return meta, ""
}

func upstreamDigest(stage Stage, store *artifact.Store, artifacts map[string]string) (string, error) {
	if stage.Upstream == "" {
		return "", nil
	}
	name, ok := artifacts[stage.Upstream]
	if !ok {
		return "", fmt.Errorf("unknown upstream stage %q", stage.Upstream)
	}
	meta, err := store.ReadMetadata(name)
	if err != nil {
		return "", services.Wrap(services.ErrValidation, stage.Name, "read upstream metadata", stage.Upstream, err)
	}
	return meta.ArtifactSHA256, nil
}

func artifactIndex(stages []Stage) map[string]string {
	index := make(map[string]string, len(stages))
	for _, stage := range stages {
		index[stage.Name] = stage.Artifact
	}
	return index
}
