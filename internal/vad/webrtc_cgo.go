//go:build cgo

package vad

import "github.com/visvasity/webrtcvad"

// Available reports whether the WebRTC backend was compiled in.
func Available() bool { return true }

func newClassifier(mode int) (frameClassifier, error) {
	vad, err := webrtcvad.New()
	if err != nil {
		return nil, err
	}
	// Modes run 0 (quality) .. 3 (aggressive).
	if err := vad.SetMode(mode); err != nil {
		return nil, err
	}
	return vad, nil
}
