// Package audio wraps ffmpeg for extracting the canonical mono 16 kHz WAV and
// for cutting per-segment clips, and parses RIFF/WAVE headers so a cached
// audio.wav can be validated without decoding it.
package audio
