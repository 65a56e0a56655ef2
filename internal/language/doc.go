// Package language normalizes the language codes avsrt accepts on the command
// line and in configuration.
//
// Codes are parsed as BCP 47 tags via golang.org/x/text/language, with a small
// alias table for ISO 639-2 and English word forms. WhisperX receives the
// ISO 639-1 base, translation backends and output file names receive the
// canonical tag.
package language
