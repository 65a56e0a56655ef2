// Package chunking builds timed, line-wrapped subtitle blocks from gated
// segments.
package chunking
