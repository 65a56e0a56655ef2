package subtitles

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"

	"avsrt/internal/artifact"
	"avsrt/internal/services"
)

var (
	fullWidthPunct  = strings.NewReplacer(",", "、", ".", "。", "?", "？", "!", "！")
	whitespaceRun   = regexp.MustCompile(`\s+`)
	spaceAroundMark = regexp.MustCompile(`\s*([、。！？])\s*`)
)

// Normalize maps ASCII , . ? ! to their full-width forms, collapses
// whitespace runs to one space, drops whitespace next to full-width marks or
// between two Japanese characters, and trims. Everything else is kept
// verbatim, so Latin words stay space separated.
func Normalize(text string) string {
	text = fullWidthPunct.Replace(text)
	text = whitespaceRun.ReplaceAllString(text, " ")
	text = spaceAroundMark.ReplaceAllString(text, "$1")
	text = joinJapanese(text)
	return strings.TrimSpace(text)
}

// joinJapanese removes single spaces that sit between two Japanese
// characters. Merged segments are joined with a space.
func joinJapanese(text string) string {
	if !strings.Contains(text, " ") {
		return text
	}
	runes := []rune(text)
	var b strings.Builder
	b.Grow(len(text))
	for i, r := range runes {
		if r == ' ' && i > 0 && i+1 < len(runes) && isJapanese(runes[i-1]) && isJapanese(runes[i+1]) {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func isJapanese(r rune) bool {
	return unicode.In(r, unicode.Han, unicode.Hiragana, unicode.Katakana) || r == 'ー'
}

// NormalizeBlocks returns a copy of blocks with every line and text
// normalized. Line count never changes.
func NormalizeBlocks(blocks artifact.SubtitleBlocks) artifact.SubtitleBlocks {
	out := make(artifact.SubtitleBlocks, len(blocks))
	for i, block := range blocks {
		lines := make([]string, len(block.Lines))
		for j, line := range block.Lines {
			lines[j] = Normalize(line)
		}
		block.Lines = lines
		block.Text = Normalize(block.Text)
		block.SourceSegmentIDs = append([]int(nil), block.SourceSegmentIDs...)
		out[i] = block
	}
	return out
}

// RunNormalize reads the built blocks and writes their normalized form.
func RunNormalize(store *artifact.Store) (artifact.SubtitleBlocks, error) {
	var blocks artifact.SubtitleBlocks
	if err := store.ReadJSON(artifact.BlocksName, &blocks); err != nil {
		return nil, services.Wrap(services.ErrStageExecution, "normalize", "read blocks", "", err)
	}
	normalized := NormalizeBlocks(blocks)
	if err := store.WriteJSON(artifact.NormalizedName, normalized); err != nil {
		return nil, fmt.Errorf("write %s: %w", artifact.NormalizedName, err)
	}
	return normalized, nil
}
