package workspace

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gofrs/flock"

	"avsrt/internal/artifact"
	"avsrt/internal/config"
	"avsrt/internal/logging"
	"avsrt/internal/services"
)

const (
	maxCandidates = 1000
	lockFileName  = ".lock"
)

// Resolver maps an input video to its working directory.
type Resolver struct {
	Suffix string
	Policy string
	Lock   bool
	Logger *slog.Logger
}

// NewResolver builds a resolver from the workspace section of cfg.
func NewResolver(cfg *config.Config, logger *slog.Logger) *Resolver {
	return &Resolver{
		Suffix: cfg.Workspace.Suffix,
		Policy: cfg.Workspace.MismatchPolicy,
		Lock:   cfg.Workspace.Lock,
		Logger: logging.NewComponentLogger(logger, "workspace"),
	}
}

// Handle is a resolved, optionally locked, workspace.
type Handle struct {
	Dir       string
	InputPath string
	Record    Record
	Resumed   bool
	Store     *artifact.Store

	lock *flock.Flock
}

// Path returns the location of name inside the work dir.
func (h *Handle) Path(name string) string {
	return filepath.Join(h.Dir, name)
}

// OutputPath returns <video dir>/<stem>.<lang>.srt.
func (h *Handle) OutputPath(lang string) string {
	return filepath.Join(filepath.Dir(h.InputPath), stem(h.InputPath)+"."+lang+".srt")
}

// RunLogPath returns the workspace run log location.
func (h *Handle) RunLogPath() string {
	return h.Path(artifact.RunLogName)
}

// Close releases the workspace lock.
func (h *Handle) Close() error {
	if h == nil || h.lock == nil {
		return nil
	}
	err := h.lock.Unlock()
	h.lock = nil
	return err
}

// Resolve computes the video's fingerprint and walks the candidate
// directories <stem><suffix>, <stem><suffix>.001, ... A candidate whose record
// matches is resumed, an empty one is adopted, and any other existing one is
// skipped. The first free candidate is created. With the refuse policy a
// mismatch fails instead of allocating a new directory.
func (r *Resolver) Resolve(ctx context.Context, videoPath string) (*Handle, error) {
	fp, err := ComputeFingerprint(videoPath)
	if err != nil {
		return nil, err
	}
	logger := r.Logger
	if logger == nil {
		logger = logging.NewNop()
	}

	mismatched := ""
	for i := 0; i < maxCandidates; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		dir := candidateDir(fp.Path, r.suffix(), i)
		state, record, err := inspectCandidate(dir, fp)
		if err != nil {
			return nil, services.Wrap(services.ErrWorkspace, "workspace", "inspect", dir, err)
		}
		switch state {
		case candidateMatch:
			handle, err := r.open(dir, fp, record, true)
			if err != nil {
				return nil, err
			}
			logger.Info("workspace resumed",
				logging.String("work_dir", dir),
				logging.String(logging.FieldEventType, "workspace_resume"),
			)
			return handle, nil
		case candidateEmpty, candidateMissing:
			if mismatched != "" && r.Policy == config.MismatchRefuse {
				return nil, services.Wrap(services.ErrWorkspace, "workspace", "resolve",
					fmt.Sprintf("%s belongs to a different file and mismatch_policy is refuse", mismatched), nil)
			}
			record, err := createWorkspace(dir, fp)
			if err != nil {
				return nil, services.Wrap(services.ErrWorkspace, "workspace", "create", dir, err)
			}
			handle, err := r.open(dir, fp, record, false)
			if err != nil {
				return nil, err
			}
			logger.Info("workspace created",
				logging.String("work_dir", dir),
				logging.Bool("adopted", state == candidateEmpty),
				logging.String(logging.FieldEventType, "workspace_create"),
			)
			return handle, nil
		default:
			if mismatched == "" {
				mismatched = dir
			}
			logger.Debug("workspace candidate skipped",
				logging.String("work_dir", dir),
				logging.String("reason", string(state)),
			)
		}
	}
	return nil, services.Wrap(services.ErrWorkspace, "workspace", "resolve",
		fmt.Sprintf("no free workspace after %d candidates", maxCandidates), nil)
}

func (r *Resolver) suffix() string {
	if r.Suffix == "" {
		return ".av_srt"
	}
	return r.Suffix
}

func (r *Resolver) open(dir string, fp Fingerprint, record Record, resumed bool) (*Handle, error) {
	handle := &Handle{
		Dir:       dir,
		InputPath: fp.Path,
		Record:    record,
		Resumed:   resumed,
		Store:     artifact.NewStore(dir),
	}
	if !r.Lock {
		return handle, nil
	}
	lock := flock.New(filepath.Join(dir, lockFileName))
	ok, err := lock.TryLock()
	if err != nil {
		return nil, services.Wrap(services.ErrWorkspace, "workspace", "lock", dir, err)
	}
	if !ok {
		return nil, services.Wrap(services.ErrWorkspace, "workspace", "lock", "workspace in use by another run: "+dir, nil)
	}
	handle.lock = lock
	return handle, nil
}

type candidateState string

const (
	candidateMissing  candidateState = "missing"
	candidateEmpty    candidateState = "empty"
	candidateMatch    candidateState = "match"
	candidateMismatch candidateState = "fingerprint mismatch"
	candidateNotDir   candidateState = "not a directory"
)

func inspectCandidate(dir string, fp Fingerprint) (candidateState, Record, error) {
	info, err := os.Stat(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return candidateMissing, Record{}, nil
		}
		return "", Record{}, err
	}
	if !info.IsDir() {
		return candidateNotDir, Record{}, nil
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", Record{}, err
	}
	empty := true
	for _, entry := range entries {
		if entry.Name() != lockFileName {
			empty = false
			break
		}
	}
	if empty {
		return candidateEmpty, Record{}, nil
	}
	var record Record
	if err := artifact.NewStore(dir).ReadJSON(artifact.WorkspaceRecord, &record); err != nil {
		return candidateMismatch, Record{}, nil
	}
	if !record.Fingerprint.Equal(fp) {
		return candidateMismatch, Record{}, nil
	}
	return candidateMatch, record, nil
}

func createWorkspace(dir string, fp Fingerprint) (Record, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return Record{}, err
	}
	record := Record{
		Fingerprint: fp,
		WorkDir:     dir,
		CreatedAt:   time.Now().UTC(),
	}
	if err := artifact.NewStore(dir).WriteJSON(artifact.WorkspaceRecord, &record); err != nil {
		return Record{}, err
	}
	return record, nil
}

func candidateDir(videoPath, suffix string, index int) string {
	name := stem(videoPath) + suffix
	if index > 0 {
		name = fmt.Sprintf("%s.%03d", name, index)
	}
	return filepath.Join(filepath.Dir(videoPath), name)
}

func stem(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}
