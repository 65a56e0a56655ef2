package workspace

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"avsrt/internal/services"
)

// Fingerprint identifies an input video by location, size, and modification
// time. Equality defines whether a workspace belongs to the video.
type Fingerprint struct {
	Path      string    `json:"path"`
	SizeBytes int64     `json:"size_bytes"`
	MTime     time.Time `json:"mtime"`
}

// Equal compares fingerprints, treating mtimes as instants.
func (f Fingerprint) Equal(other Fingerprint) bool {
	return f.Path == other.Path && f.SizeBytes == other.SizeBytes && f.MTime.Equal(other.MTime)
}

// ComputeFingerprint stats the live file at path. A missing, non-regular, or
// unreadable input fails with ErrInput.
func ComputeFingerprint(path string) (Fingerprint, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return Fingerprint{}, services.Wrap(services.ErrInput, "workspace", "resolve input", path, err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return Fingerprint{}, services.Wrap(services.ErrInput, "workspace", "stat input", abs, err)
	}
	if !info.Mode().IsRegular() {
		return Fingerprint{}, services.Wrap(services.ErrInput, "workspace", "stat input", fmt.Sprintf("%s is not a regular file", abs), nil)
	}
	file, err := os.Open(abs)
	if err != nil {
		return Fingerprint{}, services.Wrap(services.ErrInput, "workspace", "open input", abs, err)
	}
	_ = file.Close()
	return Fingerprint{
		Path:      abs,
		SizeBytes: info.Size(),
		MTime:     info.ModTime().UTC(),
	}, nil
}
