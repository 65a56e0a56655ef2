// Package asr transcribes VAD segments into text with confidence metrics.
//
// Each segment is cut from the workspace audio with ffmpeg, passed to the
// configured backend (WhisperX through uvx), and appended to
// segments.asr.jsonl as soon as it finishes. An interrupted run therefore
// only re-transcribes segments that never reached the log. The assembled
// artifact is sorted by seg_id and must match the VAD output one to one.
package asr
