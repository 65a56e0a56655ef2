package chunking

import (
	"fmt"

	"avsrt/internal/artifact"
	"avsrt/internal/config"
	"avsrt/internal/services"
)

// Run reads segments.gated.json, builds blocks, and writes
// subtitle_blocks_ja.json.
func Run(store *artifact.Store, cfg config.Chunking) (artifact.SubtitleBlocks, error) {
	var gated artifact.GatedSegments
	if err := store.ReadJSON(artifact.GatedName, &gated); err != nil {
		return nil, services.Wrap(services.ErrStageExecution, "blocks", "read gated segments", "", err)
	}
	blocks := Build(gated, cfg)
	if err := store.WriteJSON(artifact.BlocksName, blocks); err != nil {
		return nil, fmt.Errorf("write %s: %w", artifact.BlocksName, err)
	}
	return blocks, nil
}
