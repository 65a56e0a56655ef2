package vad

import (
	"cmp"
	"context"
	"fmt"
	"slices"

	"avsrt/internal/artifact"
	"avsrt/internal/audio"
	"avsrt/internal/services"
)

// Normalize sorts intervals, clips them to [0, durationMS], trims overlap,
// splits anything longer than maxSegmentMS into equal parts, and numbers the
// result from 0.
func Normalize(intervals []Interval, durationMS, maxSegmentMS int64) artifact.RawSegments {
	sorted := slices.Clone(intervals)
	slices.SortFunc(sorted, func(a, b Interval) int {
		if c := cmp.Compare(a.StartMS, b.StartMS); c != 0 {
			return c
		}
		return cmp.Compare(a.EndMS, b.EndMS)
	})

	segments := artifact.RawSegments{}
	var prevEnd int64
	for _, iv := range sorted {
		start := max(iv.StartMS, 0, prevEnd)
		end := iv.EndMS
		if durationMS > 0 {
			end = min(end, durationMS)
		}
		if end <= start {
			continue
		}
		for _, part := range split(start, end, maxSegmentMS) {
			segments = append(segments, artifact.RawSegment{SegID: len(segments), StartMS: part.StartMS, EndMS: part.EndMS})
		}
		prevEnd = end
	}
	return segments
}

func split(start, end, maxMS int64) []Interval {
	span := end - start
	if maxMS <= 0 || span <= maxMS {
		return []Interval{{StartMS: start, EndMS: end}}
	}
	parts := (span + maxMS - 1) / maxMS
	out := make([]Interval, 0, parts)
	for i := int64(0); i < parts; i++ {
		s := start + span*i/parts
		e := start + span*(i+1)/parts
		out = append(out, Interval{StartMS: s, EndMS: e})
	}
	return out
}

// Segments runs detector over pcm and normalizes the result. When nothing is
// detected the whole track becomes a single segment so ASR still sees it.
func Segments(ctx context.Context, detector Detector, pcm []byte, sampleRate int, maxSegmentMS int64) (artifact.RawSegments, error) {
	duration := pcmDurationMS(pcm, sampleRate)
	intervals, err := detector.Detect(ctx, pcm, sampleRate)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, services.Wrap(services.ErrStageExecution, "vad", "detect", "", err)
	}
	segments := Normalize(intervals, duration, maxSegmentMS)
	if len(segments) == 0 && duration > 0 {
		segments = Normalize([]Interval{{StartMS: 0, EndMS: duration}}, duration, maxSegmentMS)
	}
	return segments, nil
}

// Run reads the workspace audio, detects speech, and writes the segment list.
func Run(ctx context.Context, store *artifact.Store, detector Detector, sampleRate int, maxSegmentMS int64) (artifact.RawSegments, error) {
	info, pcm, err := audio.ReadWAV(store.Path(artifact.AudioName))
	if err != nil {
		return nil, services.Wrap(services.ErrStageExecution, "vad", "read audio", "", err)
	}
	if err := audio.ValidateWAV(info, sampleRate); err != nil {
		return nil, services.Wrap(services.ErrStageExecution, "vad", "read audio", "", err)
	}
	segments, err := Segments(ctx, detector, pcm, sampleRate, maxSegmentMS)
	if err != nil {
		return nil, err
	}
	if err := store.WriteJSON(artifact.VADName, segments); err != nil {
		return nil, fmt.Errorf("write %s: %w", artifact.VADName, err)
	}
	return segments, nil
}
