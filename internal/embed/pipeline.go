package embed

import (
	"context"
	"fmt"
	"sort"

	"github.com/kintopp/rijksmuseum-mcp-plus/internal/logger"
	"github.com/kintopp/rijksmuseum-mcp-plus/internal/store"
)

// Config carries the embedding pipeline's tunables, sourced from
// Config.Embed.
type Config struct {
	DocumentPrefix    string
	QueryPrefix       string
	BatchSize         int
	FlushThreshold    int
	ValidationQueries []string
}

// Stats reports what Run did, for the CLI to print.
type Stats struct {
	Skipped    int
	Encoded    int
	Flushed    int
	Dangling   int
	Validation []ValidationResult
}

// Run streams every tier2-complete artwork through the encoder, skipping
// rows already present in both embedding tables (resume mode), and
// flushes in batches of cfg.FlushThreshold (spec §4.6). Dangling rows
// present in only one of the two tables are logged and re-embedded.
func Run(ctx context.Context, st *store.Store, enc Encoder, cfg Config) (*Stats, error) {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.FlushThreshold <= 0 {
		cfg.FlushThreshold = 5000
	}

	if err := st.EnsureVecTable(ctx, enc.Dimensions()); err != nil {
		return nil, err
	}

	artworks, err := st.ArtworksReadyForEmbedding(ctx)
	if err != nil {
		return nil, fmt.Errorf("list artworks ready for embedding: %w", err)
	}

	dangling, err := st.DanglingEmbeddingIDs(ctx)
	if err != nil {
		return nil, err
	}
	if len(dangling) > 0 {
		logger.Info("embed: dangling rows present in only one embedding table, will re-embed", "count", len(dangling))
	}
	danglingSet := map[int64]bool{}
	for _, id := range dangling {
		danglingSet[id] = true
	}

	blobIDs, err := st.ExistingEmbeddingIDs(ctx)
	if err != nil {
		return nil, err
	}
	vecIDs, err := st.ExistingVecIDs(ctx)
	if err != nil {
		return nil, err
	}

	stats := &Stats{}
	var pending []store.EmbeddingRow

	flush := func() error {
		if len(pending) == 0 {
			return nil
		}
		if err := st.FlushEmbeddings(ctx, pending); err != nil {
			return err
		}
		stats.Flushed += len(pending)
		pending = pending[:0]
		return nil
	}

	for i := 0; i < len(artworks); i += cfg.BatchSize {
		end := i + cfg.BatchSize
		if end > len(artworks) {
			end = len(artworks)
		}
		batch := artworks[i:end]

		var texts []string
		var targets []store.ArtworkForEmbedding
		for _, a := range batch {
			done := blobIDs[a.ArtworkID] && vecIDs[a.ArtworkID] && !danglingSet[a.ArtworkID]
			if done {
				stats.Skipped++
				continue
			}
			text := CompositeText(a)
			if text == "" {
				stats.Skipped++
				continue
			}
			texts = append(texts, text)
			targets = append(targets, a)
		}
		if len(texts) == 0 {
			continue
		}

		vectors, err := enc.EmbedBatch(ctx, texts, cfg.DocumentPrefix)
		if err != nil {
			return nil, fmt.Errorf("embed batch starting at artwork %d: %w", targets[0].ArtworkID, err)
		}

		for j, vec := range vectors {
			text := texts[j]
			pending = append(pending, store.EmbeddingRow{
				ArtworkID:  targets[j].ArtworkID,
				SourceText: text,
				SourceHash: SourceHash(text),
				Vector:     Quantize(vec),
			})
			stats.Encoded++
		}

		if len(pending) >= cfg.FlushThreshold {
			if err := flush(); err != nil {
				return nil, err
			}
		}
	}
	if err := flush(); err != nil {
		return nil, err
	}
	stats.Dangling = len(dangling)

	if len(cfg.ValidationQueries) > 0 {
		results, err := Validate(ctx, st, enc, cfg.QueryPrefix, cfg.ValidationQueries)
		if err != nil {
			logger.Warn("embed: validation pass failed", "error", err.Error())
		} else {
			stats.Validation = results
		}
	}

	logger.Info("embed pipeline complete",
		"encoded", stats.Encoded, "flushed", stats.Flushed,
		"skipped", stats.Skipped, "dangling_reembedded", stats.Dangling)
	return stats, nil
}

// ValidationResult is one fixed test query's KNN-vs-brute-force agreement
// check (spec §4.6 Validation, §8 seed test 4).
type ValidationResult struct {
	Query       string
	KNNTop1     int64
	BruteTop1   int64
	Agree       bool
}

// Validate runs each query through the encoder in query mode and confirms
// the top-1 KNN hit (via sqlite-vec's MATCH operator) matches the top-1
// brute-force cosine scan over every stored embedding.
func Validate(ctx context.Context, st *store.Store, enc Encoder, queryPrefix string, queries []string) ([]ValidationResult, error) {
	vectors, err := enc.EmbedBatch(ctx, queries, queryPrefix)
	if err != nil {
		return nil, fmt.Errorf("embed validation queries: %w", err)
	}

	all, err := loadAllEmbeddings(ctx, st)
	if err != nil {
		return nil, err
	}

	out := make([]ValidationResult, 0, len(queries))
	for i, q := range queries {
		qVec := Quantize(vectors[i])

		knnID, err := st.NearestNeighbor(ctx, int8ToBlob(qVec))
		if err != nil {
			return nil, fmt.Errorf("knn query %q: %w", q, err)
		}

		bruteID := bruteForceNearest(qVec, all)
		out = append(out, ValidationResult{
			Query:     q,
			KNNTop1:   knnID,
			BruteTop1: bruteID,
			Agree:     knnID == bruteID,
		})
	}
	return out, nil
}

func bruteForceNearest(q []int8, all map[int64][]int8) int64 {
	var bestID int64 = -1
	bestDist := 2.0
	ids := make([]int64, 0, len(all))
	for id := range all {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		d := CosineDistance(q, all[id])
		if d < bestDist {
			bestDist = d
			bestID = id
		}
	}
	return bestID
}

func loadAllEmbeddings(ctx context.Context, st *store.Store) (map[int64][]int8, error) {
	return st.AllEmbeddings(ctx)
}

func int8ToBlob(v []int8) []byte {
	b := make([]byte, len(v))
	for i, x := range v {
		b[i] = byte(x)
	}
	return b
}
