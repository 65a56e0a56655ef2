//go:build !cgo

package vad

import "errors"

// Available reports whether the WebRTC backend was compiled in.
func Available() bool { return false }

func newClassifier(int) (frameClassifier, error) {
	return nil, errors.New("webrtcvad unavailable (cgo disabled)")
}
