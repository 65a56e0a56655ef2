package workspace

import (
	"avsrt/internal/artifact"
)

// Inspection is the read-only view of a video's workspace used by status.
type Inspection struct {
	Fingerprint Fingerprint
	Dir         string
	Found       bool
	Record      Record
}

// Handle returns an unlocked handle for reading the inspected workspace.
func (i Inspection) Handle() *Handle {
	return &Handle{
		Dir:       i.Dir,
		InputPath: i.Fingerprint.Path,
		Record:    i.Record,
		Resumed:   true,
		Store:     artifact.NewStore(i.Dir),
	}
}

// Inspect locates the workspace whose record matches the video without
// creating, adopting, or locking anything. When no candidate matches, Dir is
// the directory a run would use next.
func Inspect(videoPath, suffix string) (Inspection, error) {
	fp, err := ComputeFingerprint(videoPath)
	if err != nil {
		return Inspection{}, err
	}
	if suffix == "" {
		suffix = ".av_srt"
	}
	next := ""
	for i := 0; i < maxCandidates; i++ {
		dir := candidateDir(fp.Path, suffix, i)
		state, record, err := inspectCandidate(dir, fp)
		if err != nil {
			return Inspection{}, err
		}
		switch state {
		case candidateMatch:
			return Inspection{Fingerprint: fp, Dir: dir, Found: true, Record: record}, nil
		case candidateMissing:
			if next == "" {
				next = dir
			}
			return Inspection{Fingerprint: fp, Dir: next}, nil
		case candidateEmpty:
			if next == "" {
				next = dir
			}
		}
	}
	return Inspection{Fingerprint: fp, Dir: next}, nil
}
