// Package vad locates speech in the extracted audio and turns it into the
// numbered segment list that ASR consumes.
//
// The WebRTC backend needs cgo; without it only the whole-track backend is
// available.
package vad
