package translation

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"avsrt/internal/artifact"
	"avsrt/internal/chunking"
	"avsrt/internal/logging"
	"avsrt/internal/services"
)

// Params carries what the translate stage needs.
type Params struct {
	Store        *artifact.Store
	Cache        *Cache
	Translator   Translator
	Source       string
	Target       string
	BatchSize    int
	Workers      int
	CharsPerLine int
	MaxLines     int
	Logger       *slog.Logger
}

// Run translates the normalized source blocks and writes
// subtitle_blocks_<target>.json with the same ids and timing.
func Run(ctx context.Context, p Params) (artifact.SubtitleBlocks, error) {
	logger := p.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	var source artifact.SubtitleBlocks
	if err := p.Store.ReadJSON(artifact.NormalizedName, &source); err != nil {
		return nil, services.Wrap(services.ErrStageExecution, "translate", "read normalized blocks", "", err)
	}

	texts := make([]string, len(source))
	for i, block := range source {
		texts[i] = blockText(block)
	}
	translated, err := p.Cache.Resolve(ctx, texts, p.Translator, p.Source, p.Target, p.BatchSize, p.Workers)
	if err != nil {
		return nil, err
	}

	blocks, err := MapBlocks(source, translated, p.CharsPerLine, p.MaxLines)
	if err != nil {
		return nil, err
	}
	name := artifact.TranslatedBlocksName(p.Target)
	if err := p.Store.WriteJSON(name, blocks); err != nil {
		return nil, fmt.Errorf("write %s: %w", name, err)
	}

	hits, misses, skipped := p.Cache.Stats()
	logger.Info("translated subtitle blocks",
		logging.String("target_language", p.Target),
		logging.Int("blocks", len(blocks)),
		logging.Int("cache_hits", hits),
		logging.Int("cache_misses", misses),
		logging.Int("cache_lines_skipped", skipped),
	)
	return blocks, nil
}

// MapBlocks pairs each source block with its translation, keeping id, timing
// and source segment ids. Lines are rewrapped for the target text.
func MapBlocks(source artifact.SubtitleBlocks, translated []string, charsPerLine, maxLines int) (artifact.SubtitleBlocks, error) {
	if len(translated) != len(source) {
		return nil, services.Wrap(services.ErrTranslation, "translate", "map blocks",
			fmt.Sprintf("%d translations for %d blocks", len(translated), len(source)), nil)
	}
	out := make(artifact.SubtitleBlocks, len(source))
	for i, block := range source {
		text := strings.TrimSpace(translated[i])
		if text == "" {
			return nil, services.Wrap(services.ErrTranslation, "translate", "map blocks",
				fmt.Sprintf("empty translation for block %d", block.BlockID), nil)
		}
		out[i] = artifact.SubtitleBlock{
			BlockID:          block.BlockID,
			StartMS:          block.StartMS,
			EndMS:            block.EndMS,
			Lines:            chunking.WrapWithin(text, charsPerLine, maxLines),
			Text:             text,
			SourceSegmentIDs: append([]int(nil), block.SourceSegmentIDs...),
		}
	}
	return out, nil
}

func blockText(block artifact.SubtitleBlock) string {
	if text := strings.TrimSpace(block.Text); text != "" {
		return text
	}
	return strings.Join(block.Lines, "")
}
