package asr

import (
	"context"
	"fmt"
	"strings"

	"avsrt/internal/config"
)

// Options are the per-call decoding parameters.
type Options struct {
	Language    string
	BeamSize    int
	Temperature float64
}

// Result is one clip's transcription. Metrics holds the aggregated numeric
// diagnostics; Malformed names metrics the backend reported in a form that
// could not be read as a finite number.
type Result struct {
	Text      string
	Metrics   map[string]float64
	Malformed []string
}

// Transcriber converts an audio clip into text plus confidence diagnostics.
type Transcriber interface {
	Transcribe(ctx context.Context, clipPath string, opts Options) (Result, error)
}

// DefaultOptions returns the first-pass decoding options.
func DefaultOptions(cfg config.ASR) Options {
	return Options{Language: cfg.Language, BeamSize: cfg.BeamSize}
}

// SalvageOptions returns the alternate decoding options used when a segment
// is retried after failing only confidence checks.
func SalvageOptions(cfg config.ASR) Options {
	return Options{Language: cfg.Language, BeamSize: cfg.SalvageBeamSize, Temperature: cfg.SalvageTemperature}
}

// New returns the transcriber for the configured backend.
func New(cfg config.ASR) (Transcriber, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Backend)) {
	case config.ASRBackendWhisperX:
		return NewWhisperX(WhisperXConfig{
			UVXBinary:   cfg.UVXBinary,
			Model:       cfg.Model,
			CUDAEnabled: cfg.CUDA,
		}), nil
	default:
		return nil, fmt.Errorf("unknown asr backend %q", cfg.Backend)
	}
}
