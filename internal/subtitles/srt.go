package subtitles

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"avsrt/internal/artifact"
	"avsrt/internal/services"
)

// Cue is one parsed SRT entry.
type Cue struct {
	Index   int
	StartMS int64
	EndMS   int64
	Lines   []string
}

// FormatTimestamp renders ms as HH:MM:SS,mmm. Negative values clamp to zero.
func FormatTimestamp(ms int64) string {
	if ms < 0 {
		ms = 0
	}
	hours := ms / 3_600_000
	minutes := ms / 60_000 % 60
	seconds := ms / 1000 % 60
	millis := ms % 1000
	return fmt.Sprintf("%02d:%02d:%02d,%03d", hours, minutes, seconds, millis)
}

// Render serializes blocks as SRT with indices from 1. Every cue, including
// the last, is followed by a blank line.
func Render(blocks artifact.SubtitleBlocks) string {
	var sb strings.Builder
	for i, block := range blocks {
		fmt.Fprintf(&sb, "%d\n", i+1)
		fmt.Fprintf(&sb, "%s --> %s\n", FormatTimestamp(block.StartMS), FormatTimestamp(block.EndMS))
		for _, line := range block.Lines {
			sb.WriteString(line)
			sb.WriteString("\n")
		}
		sb.WriteString("\n")
	}
	return sb.String()
}

// ParseSRT parses SRT content. CRLF line endings and a period as the
// millisecond separator are accepted.
func ParseSRT(data []byte) ([]Cue, error) {
	content := strings.TrimSpace(strings.ReplaceAll(string(data), "\r\n", "\n"))
	if content == "" {
		return nil, nil
	}
	var cues []Cue
	for n, block := range strings.Split(content, "\n\n") {
		block = strings.Trim(block, "\n")
		if block == "" {
			continue
		}
		lines := strings.Split(block, "\n")
		if len(lines) < 2 {
			return nil, fmt.Errorf("cue %d: missing timing line", n+1)
		}
		index, err := strconv.Atoi(strings.TrimSpace(lines[0]))
		if err != nil {
			return nil, fmt.Errorf("cue %d: invalid index %q", n+1, lines[0])
		}
		parts := strings.Split(lines[1], "-->")
		if len(parts) != 2 {
			return nil, fmt.Errorf("cue %d: invalid timing line %q", index, lines[1])
		}
		start, err := parseTimestamp(parts[0])
		if err != nil {
			return nil, fmt.Errorf("cue %d: %w", index, err)
		}
		end, err := parseTimestamp(parts[1])
		if err != nil {
			return nil, fmt.Errorf("cue %d: %w", index, err)
		}
		cues = append(cues, Cue{Index: index, StartMS: start, EndMS: end, Lines: lines[2:]})
	}
	return cues, nil
}

func parseTimestamp(value string) (int64, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, errors.New("empty timestamp")
	}
	value = strings.ReplaceAll(value, ".", ",")
	timeParts := strings.Split(value, ",")
	if len(timeParts) != 2 {
		return 0, fmt.Errorf("invalid timestamp %q", value)
	}
	hms := strings.Split(timeParts[0], ":")
	if len(hms) != 3 {
		return 0, fmt.Errorf("invalid timestamp %q", value)
	}
	hours, errH := strconv.Atoi(hms[0])
	minutes, errM := strconv.Atoi(hms[1])
	seconds, errS := strconv.Atoi(hms[2])
	millis, errMS := strconv.Atoi(timeParts[1])
	if errH != nil || errM != nil || errS != nil || errMS != nil || minutes > 59 || seconds > 59 || millis > 999 {
		return 0, fmt.Errorf("invalid timestamp %q", value)
	}
	return int64(hours*3600+minutes*60+seconds)*1000 + int64(millis), nil
}

// ValidateSRT checks that cues are numbered from 1, have positive duration,
// carry at least one text line, and do not overlap.
func ValidateSRT(cues []Cue) error {
	var prevEnd int64
	for i, cue := range cues {
		if cue.Index != i+1 {
			return fmt.Errorf("cue %d: expected index %d", cue.Index, i+1)
		}
		if cue.EndMS <= cue.StartMS {
			return fmt.Errorf("cue %d: end %d not after start %d", cue.Index, cue.EndMS, cue.StartMS)
		}
		if cue.StartMS < prevEnd {
			return fmt.Errorf("cue %d: overlaps previous cue", cue.Index)
		}
		if len(cue.Lines) == 0 {
			return fmt.Errorf("cue %d: no text", cue.Index)
		}
		prevEnd = cue.EndMS
	}
	return nil
}

// ValidateSRTFile parses and validates the SRT at path.
func ValidateSRTFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read srt: %w", err)
	}
	cues, err := ParseSRT(data)
	if err != nil {
		return err
	}
	return ValidateSRT(cues)
}

// WriteSRT renders the blocks stored under blocksName and writes them
// atomically to outputPath.
func WriteSRT(store *artifact.Store, blocksName, outputPath string) (int, error) {
	var blocks artifact.SubtitleBlocks
	if err := store.ReadJSON(blocksName, &blocks); err != nil {
		return 0, services.Wrap(services.ErrStageExecution, "srt", "read blocks", blocksName, err)
	}
	if err := store.WriteBytes(outputPath, []byte(Render(blocks))); err != nil {
		return 0, fmt.Errorf("write %s: %w", outputPath, err)
	}
	return len(blocks), nil
}
