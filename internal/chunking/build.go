package chunking

import (
	"strings"
	"unicode"

	"avsrt/internal/artifact"
	"avsrt/internal/config"
)

// readingSpeedSlack is how far above the target reading speed a merge may
// push a block.
const readingSpeedSlack = 1.2

// span is a source segment's contribution to a block.
type span struct {
	id         int
	start, end int64
	text       string
}

type block struct {
	start, end int64
	text       string
	spans      []span
}

func (b block) duration() int64 { return b.end - b.start }

func (b block) segmentIDs() []int {
	ids := make([]int, 0, len(b.spans))
	for _, s := range b.spans {
		ids = append(ids, s.id)
	}
	return ids
}

// Build turns gated segments into numbered subtitle blocks: a greedy merge
// of accepted neighbours, a recursive split of blocks that are too long or
// need too many lines, and a pass stretching blocks that are too brief into
// the surrounding gaps. Rejected segments end the current block.
func Build(segments artifact.GatedSegments, cfg config.Chunking) artifact.SubtitleBlocks {
	var blocks []block
	for _, merged := range merge(segments, cfg) {
		blocks = append(blocks, split(merged, cfg)...)
	}
	extendShort(blocks, int64(cfg.MinBlockMS))

	out := make(artifact.SubtitleBlocks, 0, len(blocks))
	for _, b := range blocks {
		lines := FitLines(b.text, cfg.CharsPerLine, cfg.MaxLines)
		if len(lines) == 0 {
			continue
		}
		out = append(out, artifact.SubtitleBlock{
			BlockID:          len(out) + 1,
			StartMS:          b.start,
			EndMS:            b.end,
			Lines:            lines,
			Text:             b.text,
			SourceSegmentIDs: b.segmentIDs(),
		})
	}
	return out
}

func merge(segments artifact.GatedSegments, cfg config.Chunking) []block {
	var (
		blocks []block
		open   *block
	)
	closeOpen := func() {
		if open != nil {
			blocks = append(blocks, *open)
			open = nil
		}
	}
	for _, seg := range segments {
		text := strings.TrimSpace(seg.Text)
		if !seg.Accepted || text == "" {
			closeOpen()
			continue
		}
		s := span{id: seg.SegID, start: seg.StartMS, end: seg.EndMS, text: text}
		if open != nil && canMerge(*open, s, cfg) {
			open.end = max(open.end, s.end)
			open.text = open.text + " " + s.text
			open.spans = append(open.spans, s)
			continue
		}
		closeOpen()
		open = &block{start: s.start, end: s.end, text: s.text, spans: []span{s}}
	}
	closeOpen()
	return blocks
}

func canMerge(open block, next span, cfg config.Chunking) bool {
	if next.start-open.end > int64(cfg.MergeGapMS) {
		return false
	}
	end := max(open.end, next.end)
	if end-open.start > int64(cfg.MaxBlockMS) {
		return false
	}
	text := open.text + " " + next.text
	if len(Wrap(text, cfg.CharsPerLine)) > cfg.MaxLines {
		return false
	}
	if cfg.TargetCharsPerSec > 0 {
		cps := float64(countChars(text)) * 1000 / float64(end-open.start)
		if cps > cfg.TargetCharsPerSec*readingSpeedSlack {
			return false
		}
	}
	return true
}

func needsSplit(b block, cfg config.Chunking) bool {
	return b.duration() > int64(cfg.MaxBlockMS) || len(Wrap(b.text, cfg.CharsPerLine)) > cfg.MaxLines
}

// split recursively halves b until every piece fits. A piece whose text
// cannot be halved any further is cut short at MaxBlockMS.
func split(b block, cfg config.Chunking) []block {
	if !needsSplit(b, cfg) {
		return []block{b}
	}
	left, right, ok := halveText(b)
	if !ok {
		return []block{capDuration(b, int64(cfg.MaxBlockMS))}
	}
	return append(split(left, cfg), split(right, cfg)...)
}

// capDuration ends b at most maxMS after it starts.
func capDuration(b block, maxMS int64) block {
	if maxMS <= 0 || b.duration() <= maxMS {
		return b
	}
	b.end = b.start + maxMS
	b.spans = overlapping(b.spans, b.start, b.end)
	return b
}

// halveText cuts the text at the best split point and apportions time by
// character count. The cut instant stays strictly inside the block so both
// halves are non-empty and contiguous.
func halveText(b block) (block, block, bool) {
	runes := []rune(b.text)
	if len(runes) < 2 || b.duration() < 2 {
		return block{}, block{}, false
	}
	at := splitPoint(runes)
	leftText := strings.TrimSpace(string(runes[:at]))
	rightText := strings.TrimSpace(string(runes[at:]))
	if leftText == "" || rightText == "" {
		return block{}, block{}, false
	}

	ratio := 0.5
	if total := countChars(b.text); total > 0 {
		ratio = float64(countChars(leftText)) / float64(total)
	}
	cut := b.start + int64(float64(b.duration())*ratio)
	cut = min(max(cut, b.start+1), b.end-1)

	left := block{start: b.start, end: cut, text: leftText, spans: overlapping(b.spans, b.start, cut)}
	right := block{start: cut, end: b.end, text: rightText, spans: overlapping(b.spans, cut, b.end)}
	return left, right, true
}

// splitPoint returns the rune index the second half starts at: just after the
// punctuation mark nearest the midpoint, else at the space nearest it, else
// the midpoint itself. Ties go to the earlier position.
func splitPoint(runes []rune) int {
	mid := len(runes) / 2
	nearest := func(match func(r rune) bool, offset int) int {
		best := -1
		for i := 0; i < len(runes)-1; i++ {
			if !match(runes[i]) {
				continue
			}
			at := i + offset
			if at <= 0 || at >= len(runes) {
				continue
			}
			if best < 0 || abs(at-mid) < abs(best-mid) {
				best = at
			}
		}
		return best
	}
	if at := nearest(isSplitPunct, 1); at > 0 {
		return at
	}
	if at := nearest(unicode.IsSpace, 0); at > 0 {
		return at
	}
	return mid
}

// overlapping returns the spans that overlap [start, end), clipped to it.
func overlapping(spans []span, start, end int64) []span {
	var out []span
	for _, s := range spans {
		if s.start < end && s.end > start {
			s.start, s.end = max(s.start, start), min(s.end, end)
			out = append(out, s)
		}
	}
	return out
}

// extendShort grows blocks shorter than minMS, first into the gap after them,
// then by taking time from a split neighbour that starts exactly where they
// end, and last into the gap before. Neighbours are never overlapped.
func extendShort(blocks []block, minMS int64) {
	contiguous := make([]bool, len(blocks))
	for i := 0; i+1 < len(blocks); i++ {
		contiguous[i] = blocks[i].end == blocks[i+1].start
	}
	for i := range blocks {
		need := minMS - blocks[i].duration()
		if need <= 0 {
			continue
		}
		grow := need
		if i+1 < len(blocks) {
			grow = min(need, max(blocks[i+1].start-blocks[i].end, 0))
		}
		blocks[i].end += grow
		need -= grow
		if need > 0 && contiguous[i] {
			lend := min(need, lendable(blocks, i+1, minMS))
			blocks[i].end += lend
			blocks[i+1].start += lend
			need -= lend
		}
		if need <= 0 {
			continue
		}
		floor := int64(0)
		if i > 0 {
			floor = blocks[i-1].end
		}
		blocks[i].start -= min(need, max(blocks[i].start-floor, 0))
	}
}

// lendable returns how much time blocks[i] can give up from its start and
// still reach minMS by growing into the gap after it. The last block can
// always grow, so it only has to keep one millisecond.
func lendable(blocks []block, i int, minMS int64) int64 {
	b := blocks[i]
	keep := b.duration() - 1
	if i+1 == len(blocks) {
		return max(keep, 0)
	}
	reach := b.duration() - minMS + max(blocks[i+1].start-b.end, 0)
	return max(min(reach, keep), 0)
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
