package logging

import (
	"io"
	"log/slog"
)

// RunLog is the human-readable, append-only log kept inside each workspace.
// It records stage markers and run summaries and is never read back by the
// pipeline.
type RunLog struct {
	handler slog.Handler
	closer  io.Closer
}

// OpenRunLog opens (or creates) the run log at path. Records at or above level
// are written in console format without source locations.
func OpenRunLog(path, level string) (*RunLog, error) {
	file, err := openAppend(path)
	if err != nil {
		return nil, err
	}
	return &RunLog{
		handler: newPrettyHandler(file, parseLevel(level), false),
		closer:  file,
	}, nil
}

// Handler returns the slog handler writing to the run log.
func (r *RunLog) Handler() slog.Handler {
	if r == nil {
		return nil
	}
	return r.handler
}

// Attach returns a logger that writes to both base and the run log.
func (r *RunLog) Attach(base *slog.Logger) *slog.Logger {
	if r == nil {
		if base == nil {
			return NewNop()
		}
		return base
	}
	return TeeLogger(base, r.handler)
}

// Close flushes and closes the underlying file.
func (r *RunLog) Close() error {
	if r == nil || r.closer == nil {
		return nil
	}
	return r.closer.Close()
}
