package vad

import (
	"context"
	"fmt"
)

// frameClassifier labels one PCM frame as speech or not.
type frameClassifier interface {
	Process(sampleRate int, frame []byte) (bool, error)
}

// WebRTC classifies fixed frames with the WebRTC voice activity detector and
// smooths the per-frame decisions into intervals.
type WebRTC struct {
	opts      Options
	newFrames func(mode int) (frameClassifier, error)
}

// NewWebRTC returns a WebRTC detector.
func NewWebRTC(opts Options) *WebRTC {
	if opts.FrameMS == 0 {
		opts.FrameMS = 30
	}
	return &WebRTC{opts: opts, newFrames: newClassifier}
}

// Detect implements Detector. The underlying VAD instance is not safe for
// concurrent use so each call creates its own.
func (w *WebRTC) Detect(ctx context.Context, pcm []byte, sampleRate int) ([]Interval, error) {
	classifier, err := w.newFrames(w.opts.Mode)
	if err != nil {
		return nil, err
	}
	flags, err := classifyFrames(ctx, classifier, pcm, sampleRate, w.opts.FrameMS)
	if err != nil {
		return nil, err
	}
	return Smooth(flags, w.opts, pcmDurationMS(pcm, sampleRate)), nil
}

// classifyFrames walks pcm in frameMS steps. A frame the classifier cannot
// process counts as silence so frame timing stays aligned.
func classifyFrames(ctx context.Context, classifier frameClassifier, pcm []byte, sampleRate, frameMS int) ([]bool, error) {
	samplesPerFrame := sampleRate * frameMS / 1000
	frameBytes := samplesPerFrame * 2
	if frameBytes <= 0 {
		return nil, fmt.Errorf("invalid frame size for %d Hz / %d ms", sampleRate, frameMS)
	}
	flags := make([]bool, 0, len(pcm)/frameBytes)
	for offset := 0; offset+frameBytes <= len(pcm); offset += frameBytes {
		if len(flags)%1000 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		isSpeech, err := classifier.Process(sampleRate, pcm[offset:offset+frameBytes])
		flags = append(flags, err == nil && isSpeech)
	}
	return flags, nil
}
