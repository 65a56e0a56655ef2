package gate

import (
	"slices"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/width"

	"avsrt/internal/artifact"
	"avsrt/internal/config"
)

// Verdict is the outcome of evaluating one segment.
type Verdict struct {
	Accepted bool
	Reason   string
}

func reject(reason string) Verdict { return Verdict{Reason: reason} }

var accept = Verdict{Accepted: true}

// Evaluate applies the quality checks to seg in fixed order and returns the
// first failure. It depends only on its arguments.
func Evaluate(seg artifact.TranscribedSegment, cfg config.Gate) Verdict {
	if strings.TrimSpace(seg.Text) == "" {
		return reject(artifact.ReasonEmpty)
	}
	if v := evaluateMetrics(seg, cfg); !v.Accepted {
		return v
	}
	return evaluateText(seg, cfg)
}

// evaluateText runs every check except the confidence metrics.
func evaluateText(seg artifact.TranscribedSegment, cfg config.Gate) Verdict {
	text := strings.TrimSpace(seg.Text)
	if text == "" {
		return reject(artifact.ReasonEmpty)
	}

	chars := utf8.RuneCountInString(text)
	durationMS := seg.DurationMS()
	if chars < cfg.MinTextChars && durationMS >= int64(cfg.MinCharsDurationMS) {
		return reject(artifact.ReasonTooShort)
	}
	if cfg.MaxCharsPerSec > 0 && durationMS > 0 {
		if float64(chars)*1000/float64(durationMS) > cfg.MaxCharsPerSec {
			return reject(artifact.ReasonTooFast)
		}
	}
	if cfg.Script != "" && cfg.MinScriptRatio > 0 {
		if ratio, ok := ScriptRatio(text, cfg.Script); ok && ratio < cfg.MinScriptRatio {
			return reject(artifact.ReasonLowScriptRatio)
		}
	}
	if cfg.MaxRepeatedCharRatio > 0 && RepeatedCharRatio(text) > cfg.MaxRepeatedCharRatio {
		return reject(artifact.ReasonRepeatedChar)
	}
	if cfg.DropPunctOnly && punctOnly(text) {
		return reject(artifact.ReasonPunctOnly)
	}
	return accept
}

// evaluateMetrics checks the confidence diagnostics against configured
// bounds. Metrics absent from the segment are not checked.
func evaluateMetrics(seg artifact.TranscribedSegment, cfg config.Gate) Verdict {
	if len(seg.Malformed) > 0 {
		return reject(artifact.ReasonMalformedMetrics)
	}
	names := make([]string, 0, len(cfg.Metrics))
	for name := range cfg.Metrics {
		names = append(names, name)
	}
	slices.Sort(names)
	for _, name := range names {
		value, ok := seg.Metrics[name]
		if !ok {
			continue
		}
		bounds := cfg.Metrics[name]
		if bounds.Min != nil && value < *bounds.Min {
			return reject(artifact.ReasonConfidence)
		}
		if bounds.Max != nil && value > *bounds.Max {
			return reject(artifact.ReasonConfidence)
		}
	}
	return accept
}

// confidenceOnly reports whether seg fails the metric checks but would pass
// every other check.
func confidenceOnly(seg artifact.TranscribedSegment, cfg config.Gate) bool {
	return !evaluateMetrics(seg, cfg).Accepted && evaluateText(seg, cfg).Accepted
}

// ScriptRatio returns the share of letters and digits in text that belong
// to script (ja, zh or ko). ok is false when text has no letters or digits.
// Half-width katakana is widened before classification.
func ScriptRatio(text, script string) (ratio float64, ok bool) {
	inScript := scriptMatcher(script)
	if inScript == nil {
		return 0, false
	}
	var target, total int
	for _, r := range width.Widen.String(text) {
		switch {
		case inScript(r):
			target++
			total++
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			total++
		}
	}
	if total == 0 {
		return 0, false
	}
	return float64(target) / float64(total), true
}

func scriptMatcher(script string) func(rune) bool {
	switch script {
	case "ja":
		return func(r rune) bool {
			return (r >= 0x3040 && r <= 0x30FF) || unicode.Is(unicode.Han, r)
		}
	case "zh":
		return func(r rune) bool { return unicode.Is(unicode.Han, r) }
	case "ko":
		return func(r rune) bool { return unicode.Is(unicode.Hangul, r) }
	}
	return nil
}

// RepeatedCharRatio returns the share of the most frequent rune among the
// non-space runes of text.
func RepeatedCharRatio(text string) float64 {
	counts := map[rune]int{}
	total, best := 0, 0
	for _, r := range text {
		if unicode.IsSpace(r) {
			continue
		}
		total++
		counts[r]++
		best = max(best, counts[r])
	}
	if total == 0 {
		return 0
	}
	return float64(best) / float64(total)
}

func punctOnly(text string) bool {
	for _, r := range text {
		if unicode.IsLetter(r) || unicode.IsNumber(r) || unicode.IsMark(r) {
			return false
		}
	}
	return true
}
