package vad

import (
	"context"
	"fmt"
	"strings"

	"avsrt/internal/config"
)

// Interval is a span of detected speech in milliseconds.
type Interval struct {
	StartMS int64
	EndMS   int64
}

// Detector locates speech in 16-bit little-endian mono PCM.
type Detector interface {
	Detect(ctx context.Context, pcm []byte, sampleRate int) ([]Interval, error)
}

// Options tune frame classification and smoothing.
type Options struct {
	Mode         int
	FrameMS      int
	MinSpeechMS  int
	MinSilenceMS int
	PaddingMS    int
}

// OptionsFromConfig maps the [vad] section onto detector options.
func OptionsFromConfig(cfg config.VAD) Options {
	return Options{
		Mode:         cfg.Mode,
		FrameMS:      cfg.FrameMS,
		MinSpeechMS:  cfg.MinSpeechMS,
		MinSilenceMS: cfg.MinSilenceMS,
		PaddingMS:    cfg.PaddingMS,
	}
}

// New returns the detector for the configured backend.
func New(cfg config.VAD) (Detector, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Backend)) {
	case config.VADBackendWebRTC:
		if !Available() {
			return nil, fmt.Errorf("vad backend %q requires cgo", cfg.Backend)
		}
		return NewWebRTC(OptionsFromConfig(cfg)), nil
	case config.VADBackendWhole:
		return Whole{}, nil
	default:
		return nil, fmt.Errorf("unknown vad backend %q", cfg.Backend)
	}
}

// pcmDurationMS converts a 16-bit mono payload length to milliseconds.
func pcmDurationMS(pcm []byte, sampleRate int) int64 {
	if sampleRate <= 0 {
		return 0
	}
	return int64(len(pcm)/2) * 1000 / int64(sampleRate)
}
