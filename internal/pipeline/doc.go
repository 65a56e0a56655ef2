// Package pipeline runs the fixed stage sequence that turns a video into
// subtitle files.
//
// A Stage names the artifact it produces, the configuration that shapes it
// and the stage whose artifact it consumes. Before running a stage the
// Runner hashes that configuration together with the upstream artifact's
// recorded digest. When the stored metadata carries the same fingerprint, the
// artifact on disk still matches its recorded sha256 and it passes the
// stage's structural validation, the stage is skipped. Otherwise the stage
// body runs, its output is validated, and metadata is sealed after the
// artifact is fully written, so an interrupted run resumes at the first stage
// without valid metadata.
//
// Build assembles the audio/video stages:
//
//	extract_audio -> vad -> asr -> gate -> blocks -> normalize -> srt
//	                                                    \-> translate -> srt_translated
//
// The first failure stops the run and is returned as a *StageError. Stage
// transitions are reported to an optional Observer (the run ledger) and the
// Counters collected along the way form the run summary.
package pipeline
