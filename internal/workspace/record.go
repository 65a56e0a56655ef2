package workspace

import (
	"errors"
	"time"
)

// Record is the workspace identity artifact (media.json). It is written once
// when a workspace is created or adopted and never mutated.
type Record struct {
	Fingerprint Fingerprint `json:"fingerprint"`
	WorkDir     string      `json:"work_dir_path"`
	CreatedAt   time.Time   `json:"created_at"`
}

// Validate implements artifact.Validatable.
func (r *Record) Validate() error {
	switch {
	case r.Fingerprint.Path == "":
		return errors.New("fingerprint path missing")
	case r.Fingerprint.SizeBytes < 0:
		return errors.New("fingerprint size negative")
	case r.Fingerprint.MTime.IsZero():
		return errors.New("fingerprint mtime missing")
	case r.WorkDir == "":
		return errors.New("work_dir_path missing")
	}
	return nil
}
