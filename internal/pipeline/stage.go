package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"avsrt/internal/artifact"
	"avsrt/internal/config"
	"avsrt/internal/workspace"
)

// Env is the shared state every stage reads from.
type Env struct {
	Config    *config.Config
	Workspace *workspace.Handle
	Store     *artifact.Store
	Counters  *Counters
}

// Invocation is what a stage body receives when it runs.
type Invocation struct {
	Env *Env
	// Fingerprint identifies the stage configuration and upstream artifact.
	Fingerprint string
	// Logger is scoped to the stage and also writes to the run log.
	Logger *slog.Logger
}

// Stage describes one pipeline step. The runner derives the skip decision
// from Artifact, Config and Upstream; Run is only called on a cache miss.
type Stage struct {
	Name string
	// Artifact is the file the stage produces, relative to the work dir or
	// absolute for outputs beside the video.
	Artifact string
	// Config holds every parameter that affects the artifact. It is encoded
	// as JSON for the fingerprint.
	Config any
	// Upstream names the stage whose artifact this one consumes.
	Upstream string
	Run      func(ctx context.Context, inv *Invocation) error
	// Validate checks a cached artifact structurally.
	Validate func(env *Env) error
	// Account derives run counters from the artifact after a run or skip.
	Account func(env *Env) error
	// External marks stages that call an outside collaborator.
	External bool
}

// State is where a stage is in the current run.
type State string

const (
	StatePending State = "pending"
	StateSkipped State = "skipped"
	StateRunning State = "running"
	StateDone    State = "done"
	StateFailed  State = "failed"
)

// StageStatus reports one stage.
type StageStatus struct {
	Name        string
	State       State
	Artifact    string
	Present     bool
	Reason      string
	Duration    time.Duration
	CompletedAt time.Time
}

// Report is the outcome of Runner.Run.
type Report struct {
	RunID    string
	Stages   []StageStatus
	Counters map[string]int64
}

// StageError is a stage failure. The wrapped error keeps its marker.
type StageError struct {
	Stage string
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("stage %s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// FailedStage returns the stage named by a StageError in err's chain.
func FailedStage(err error) (string, bool) {
	var stageErr *StageError
	if errors.As(err, &stageErr) {
		return stageErr.Stage, true
	}
	return "", false
}

// EventKind names a runner lifecycle event.
type EventKind string

const (
	EventStart    EventKind = "stage_start"
	EventSkip     EventKind = "stage_skip"
	EventComplete EventKind = "stage_complete"
	EventFailure  EventKind = "stage_failure"
)

// Event is handed to the Observer for every stage transition.
type Event struct {
	RunID     string
	Stage     string
	Kind      EventKind
	RequestID string
	Duration  time.Duration
	Detail    string
	Err       error
	At        time.Time
}

// Observer receives stage events. Errors are logged and otherwise ignored.
type Observer interface {
	StageEvent(ctx context.Context, event Event) error
}
