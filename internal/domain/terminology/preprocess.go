package terminology

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// Preprocess parses the raw directory of one ontology and writes its
// processed form into outDir. An empty outDir means ProcessedDir(dataDir).
func Preprocess(ctx context.Context, p Parser, dataDir, outDir string, logger zerolog.Logger) (*Manifest, error) {
	if outDir == "" {
		outDir = ProcessedDir(dataDir)
	}
	log := logger.With().Str("ontology", p.Ontology()).Logger()
	start := time.Now()
	log.Info().Str("input", dataDir).Str("output", outDir).Msg("preprocessing started")

	b, err := Build(ctx, p, dataDir)
	if err != nil {
		return nil, err
	}
	log.Info().Int("concepts", b.Store.Len()).Int("tokens", len(b.Index)).Int("skipped", b.Result.Skipped).Msg("parsed raw files")

	pol := p.Policy()
	sidecars := make(map[string]any)
	for name, v := range b.Result.Extras {
		sidecars[name] = v
	}
	if pol.Sidecars != nil {
		for name, v := range pol.Sidecars(b.Store) {
			sidecars[name] = v
		}
	}

	m, err := WriteProcessed(outDir, p.Ontology(), b.Store, b.Index, pol, sidecars)
	if err != nil {
		return nil, fmt.Errorf("write %s chunks: %w", p.Ontology(), err)
	}
	m.SkippedRecords = b.Result.Skipped
	m.SourceFormat = b.Result.SourceFormat
	if err := CommitManifest(outDir, m); err != nil {
		return nil, err
	}

	log.Info().
		Int("chunks", m.TotalChunks).
		Str("generation", m.Generation).
		Dur("took", time.Since(start)).
		Msg("preprocessing complete")
	return m, nil
}
