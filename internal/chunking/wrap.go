package chunking

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// splitPunct are the marks a line or block may break after.
const splitPunct = "。！？、,.!?"

// wrapLookback is how far back from the line limit a punctuation break is
// preferred over a hard break.
const wrapLookback = 4

func isSplitPunct(r rune) bool {
	return strings.ContainsRune(splitPunct, r)
}

// Wrap breaks text into lines of at most charsPerLine runes. A break after
// punctuation within the last few runes of the window wins, then the last
// space in the window, then a hard break at the limit.
func Wrap(text string, charsPerLine int) []string {
	return wrap(text, charsPerLine, 0)
}

// FitLines wraps text like Wrap but never returns more than maxLines lines:
// whatever does not fit before the last line is kept whole on it.
func FitLines(text string, charsPerLine, maxLines int) []string {
	return wrap(text, charsPerLine, maxLines)
}

// WrapWithin wraps text at charsPerLine and, when that takes more than
// maxLines lines, widens the line until the text fits.
func WrapWithin(text string, charsPerLine, maxLines int) []string {
	lines := Wrap(text, charsPerLine)
	if maxLines <= 0 || charsPerLine <= 0 {
		return lines
	}
	limit := utf8.RuneCountInString(strings.TrimSpace(text))
	for width := charsPerLine + 1; len(lines) > maxLines && width <= limit; width++ {
		lines = Wrap(text, width)
	}
	return lines
}

func wrap(text string, charsPerLine, maxLines int) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if charsPerLine <= 0 {
		return []string{text}
	}
	var lines []string
	remaining := []rune(text)
	for len(remaining) > 0 {
		if len(remaining) <= charsPerLine || (maxLines > 0 && len(lines) == maxLines-1) {
			lines = appendLine(lines, string(remaining))
			break
		}
		cut, skip := charsPerLine, 0
		if !unicode.IsSpace(remaining[charsPerLine]) {
			cut, skip = breakPoint(remaining[:charsPerLine])
		}
		lines = appendLine(lines, string(remaining[:cut]))
		remaining = trimLeftSpace(remaining[cut+skip:])
	}
	return lines
}

// breakPoint returns where to end the line within window and how many runes
// to drop after it.
func breakPoint(window []rune) (cut, skip int) {
	limit := len(window)
	floor := max(limit-wrapLookback, 1)
	for i := limit - 1; i >= floor; i-- {
		if isSplitPunct(window[i]) {
			return i + 1, 0
		}
	}
	for i := limit - 1; i > 0; i-- {
		if unicode.IsSpace(window[i]) {
			return i, 1
		}
	}
	return limit, 0
}

func trimLeftSpace(runes []rune) []rune {
	for len(runes) > 0 && unicode.IsSpace(runes[0]) {
		runes = runes[1:]
	}
	return runes
}

func appendLine(lines []string, line string) []string {
	if line = strings.TrimSpace(line); line != "" {
		lines = append(lines, line)
	}
	return lines
}

// countChars counts non-space runes, the unit for reading speed and time
// apportioning.
func countChars(text string) int {
	n := 0
	for _, r := range text {
		if !unicode.IsSpace(r) {
			n++
		}
	}
	return n
}
