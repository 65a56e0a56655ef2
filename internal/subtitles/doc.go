// Package subtitles normalizes block text and renders, parses and validates
// SRT files.
//
// Rendering is deterministic: the same blocks always produce byte-identical
// output, which is what lets a rerun prove nothing changed.
package subtitles
