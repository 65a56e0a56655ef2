package artifact

import (
	"fmt"
	"strings"
)

// Artifact file names inside a workspace.
const (
	AudioName       = "audio.wav"
	VADName         = "segments.vad.json"
	ASRName         = "segments.asr.json"
	ASRLogName      = "segments.asr.jsonl"
	GatedName       = "segments.gated.json"
	BlocksName      = "subtitle_blocks_ja.json"
	NormalizedName  = "subtitle_blocks_ja.normalized.json"
	RunLogName      = "run.log"
	WorkspaceRecord = "media.json"
)

// TranslatedBlocksName returns the artifact name for blocks in lang.
func TranslatedBlocksName(lang string) string {
	return "subtitle_blocks_" + lang + ".json"
}

// RawSegment is one speech interval from voice activity detection.
type RawSegment struct {
	SegID   int   `json:"seg_id"`
	StartMS int64 `json:"start_ms"`
	EndMS   int64 `json:"end_ms"`
}

// DurationMS returns the segment length in milliseconds.
func (s RawSegment) DurationMS() int64 {
	return s.EndMS - s.StartMS
}

// RawSegments is the VAD artifact.
type RawSegments []RawSegment

// Validate requires seg_id to run 0..n-1 with ordered, non-overlapping,
// non-empty intervals.
func (s *RawSegments) Validate() error {
	return validateSegmentTimes(len(*s), func(i int) RawSegment { return (*s)[i] })
}

// TranscribedSegment is a RawSegment with recognized text and the backend's
// confidence diagnostics.
type TranscribedSegment struct {
	RawSegment
	Text      string             `json:"text"`
	Metrics   map[string]float64 `json:"confidence_metrics"`
	Malformed []string           `json:"malformed_metrics,omitempty"`
}

// TranscribedSegments is the ASR artifact.
type TranscribedSegments []TranscribedSegment

// Validate requires contiguous seg_ids and sane timing.
func (s *TranscribedSegments) Validate() error {
	return validateSegmentTimes(len(*s), func(i int) RawSegment { return (*s)[i].RawSegment })
}

// Reject reasons, in gate evaluation order.
const (
	ReasonEmpty            = "empty"
	ReasonMalformedMetrics = "malformed_metrics"
	ReasonConfidence       = "confidence"
	ReasonTooShort         = "too_short"
	ReasonTooFast          = "too_fast"
	ReasonLowScriptRatio   = "low_script_ratio"
	ReasonRepeatedChar     = "repeated_char"
	ReasonPunctOnly        = "punct_only"
)

// GatedSegment is a TranscribedSegment with the gate's verdict.
type GatedSegment struct {
	TranscribedSegment
	Accepted         bool   `json:"accepted"`
	RejectReason     string `json:"reject_reason,omitempty"`
	SalvageAttempted bool   `json:"salvage_attempted,omitempty"`
	Salvaged         bool   `json:"salvaged,omitempty"`
}

// GatedSegments is the gate artifact. Rejected segments are kept so block
// building can treat them as hard boundaries.
type GatedSegments []GatedSegment

// Validate checks timing and that every verdict is consistent with its reason.
func (s *GatedSegments) Validate() error {
	if err := validateSegmentTimes(len(*s), func(i int) RawSegment { return (*s)[i].RawSegment }); err != nil {
		return err
	}
	for _, seg := range *s {
		if seg.Accepted == (seg.RejectReason != "") {
			return fmt.Errorf("segment %d: accepted=%v with reject_reason %q", seg.SegID, seg.Accepted, seg.RejectReason)
		}
	}
	return nil
}

// SubtitleBlock is one timed, line-wrapped subtitle.
type SubtitleBlock struct {
	BlockID          int      `json:"block_id"`
	StartMS          int64    `json:"start_ms"`
	EndMS            int64    `json:"end_ms"`
	Lines            []string `json:"lines"`
	Text             string   `json:"text"`
	SourceSegmentIDs []int    `json:"source_segment_ids"`
}

// DurationMS returns the block length in milliseconds.
func (b SubtitleBlock) DurationMS() int64 {
	return b.EndMS - b.StartMS
}

// SubtitleBlocks is a block artifact in any language.
type SubtitleBlocks []SubtitleBlock

// Validate requires block ids from 1, ordered non-overlapping timing, and at
// least one non-empty line per block.
func (b *SubtitleBlocks) Validate() error {
	var prevEnd int64
	for i, block := range *b {
		if block.BlockID != i+1 {
			return fmt.Errorf("block %d: expected block_id %d", block.BlockID, i+1)
		}
		if block.StartMS < 0 || block.EndMS <= block.StartMS {
			return fmt.Errorf("block %d: invalid range %d-%d", block.BlockID, block.StartMS, block.EndMS)
		}
		if i > 0 && block.StartMS < prevEnd {
			return fmt.Errorf("block %d: overlaps previous block", block.BlockID)
		}
		if len(block.Lines) == 0 {
			return fmt.Errorf("block %d: no lines", block.BlockID)
		}
		for _, line := range block.Lines {
			if strings.TrimSpace(line) == "" {
				return fmt.Errorf("block %d: empty line", block.BlockID)
			}
		}
		prevEnd = block.EndMS
	}
	return nil
}

func validateSegmentTimes(n int, at func(int) RawSegment) error {
	var prevEnd int64
	for i := 0; i < n; i++ {
		seg := at(i)
		if seg.SegID != i {
			return fmt.Errorf("segment %d: expected seg_id %d", seg.SegID, i)
		}
		if seg.StartMS < 0 || seg.EndMS <= seg.StartMS {
			return fmt.Errorf("segment %d: invalid range %d-%d", seg.SegID, seg.StartMS, seg.EndMS)
		}
		if i > 0 && seg.StartMS < prevEnd {
			return fmt.Errorf("segment %d: overlaps previous segment", seg.SegID)
		}
		prevEnd = seg.EndMS
	}
	return nil
}

// MatchesSegments reports whether transcribed covers exactly the segments in
// raw, one to one, with identical ids and timing.
func MatchesSegments(raw RawSegments, transcribed TranscribedSegments) error {
	if len(raw) != len(transcribed) {
		return fmt.Errorf("segment count %d does not match vad count %d", len(transcribed), len(raw))
	}
	for i := range raw {
		if raw[i] != transcribed[i].RawSegment {
			return fmt.Errorf("segment %d does not match vad segment %d", transcribed[i].SegID, raw[i].SegID)
		}
	}
	return nil
}
