package deps

import (
	"fmt"
	"os/exec"
	"strings"

	"avsrt/internal/config"
	"avsrt/internal/vad"
)

// Requirement defines an external dependency avsrt relies on.
type Requirement struct {
	Name        string
	Command     string
	Description string
	Optional    bool
}

// Status reports the availability of a dependency.
type Status struct {
	Name        string
	Command     string
	Description string
	Optional    bool
	Available   bool
	Detail      string
}

// CheckBinaries evaluates the provided requirements and reports availability.
func CheckBinaries(requirements []Requirement) []Status {
	results := make([]Status, 0, len(requirements))
	for _, req := range requirements {
		cmd := strings.TrimSpace(req.Command)
		status := Status{
			Name:        req.Name,
			Command:     cmd,
			Description: strings.TrimSpace(req.Description),
			Optional:    req.Optional,
		}
		if cmd == "" {
			status.Available = false
			status.Detail = "command not configured"
			results = append(results, status)
			continue
		}
		resolved, err := exec.LookPath(cmd)
		if err != nil {
			status.Available = false
			status.Detail = fmt.Sprintf("binary %q not found", cmd)
			results = append(results, status)
			continue
		}
		status.Command = resolved
		status.Available = true
		results = append(results, status)
	}
	return results
}

// Requirements lists the external tools the configured pipeline runs.
func Requirements(cfg *config.Config) []Requirement {
	return []Requirement{
		{
			Name:        "FFmpeg",
			Command:     cfg.Audio.FFmpegBinary,
			Description: "Required for audio extraction and segment clips",
		},
		{
			Name:        "uvx",
			Command:     cfg.ASR.UVXBinary,
			Description: "Required for WhisperX-driven transcription",
		},
	}
}

// CheckVAD reports whether the configured VAD backend can run in this build.
func CheckVAD(cfg config.VAD) Status {
	status := Status{
		Name:        "VAD",
		Command:     cfg.Backend,
		Description: "Speech detection backend",
	}
	if _, err := vad.New(cfg); err != nil {
		status.Detail = err.Error()
		return status
	}
	status.Available = true
	return status
}
