package linkedart

import (
	"context"

	"github.com/kintopp/rijksmuseum-mcp-plus/internal/dispatch"
	"github.com/kintopp/rijksmuseum-mcp-plus/internal/logger"
	"github.com/kintopp/rijksmuseum-mcp-plus/internal/model"
	"github.com/kintopp/rijksmuseum-mcp-plus/internal/store"
)

type pendingArtwork struct {
	objectNumber string
	sourceURI    string
}

type enrichment struct {
	objectNumber string
	artwork      model.Artwork
	mappings     []TierMapping
	notFound     bool
}

// RunEnrich is P4: fetch every artwork still missing Tier-2 extraction and
// write back its substructure. A 404 is an authoritative "this artwork has
// no further structure" and still marks tier2_done so it isn't retried
// forever; any other failure leaves tier2_done false for the next run.
func RunEnrich(ctx context.Context, st *store.Store, client *Client, cfg EnrichConfig, concurrency int) (done, failed int, err error) {
	pending, err := st.ArtworksPendingTier2(ctx)
	if err != nil {
		return 0, 0, err
	}
	if len(pending) == 0 {
		return 0, 0, nil
	}

	items := make([]pendingArtwork, len(pending))
	for i, p := range pending {
		items[i] = pendingArtwork{objectNumber: p[0], sourceURI: p[1]}
	}
	logger.Info("enriching artworks", "count", len(items), "concurrency", concurrency)

	_, failedCount := dispatch.Run(ctx, items, dispatch.Options{
		Concurrency:   concurrency,
		ProgressEvery: 500,
		ProgressLabel: "enrich-artworks",
	}, func(ctx context.Context, item pendingArtwork) (enrichment, error) {
		doc, err := client.FetchURI(ctx, item.sourceURI)
		if err != nil {
			if IsNotFound(err) {
				return enrichment{objectNumber: item.objectNumber, notFound: true}, nil
			}
			return enrichment{}, err
		}
		artwork, mappings := ExtractTier2(doc, cfg)
		artwork.ObjectNumber = item.objectNumber
		return enrichment{objectNumber: item.objectNumber, artwork: artwork, mappings: mappings}, nil
	}, func(item pendingArtwork, e enrichment, err error) {
		if err != nil {
			return
		}
		if e.notFound {
			if upsertErr := st.UpdateArtworkTier2(ctx, model.Artwork{ObjectNumber: item.objectNumber}); upsertErr != nil {
				logger.Error("mark tier2 done for not-found artwork failed", upsertErr, "object_number", item.objectNumber)
			}
			return
		}
		if upsertErr := st.UpdateArtworkTier2(ctx, e.artwork); upsertErr != nil {
			logger.Error("update artwork tier2 failed", upsertErr, "object_number", item.objectNumber)
			return
		}
		for _, m := range e.mappings {
			if insertErr := st.InsertMapping(ctx, item.objectNumber, m.VocabID, m.Field); insertErr != nil {
				logger.Error("insert tier2 mapping failed", insertErr, "object_number", item.objectNumber)
			}
		}
	})

	doneCount := len(items) - failedCount
	logger.Info("tier2 enrichment complete", "done", doneCount, "failed", failedCount)
	return doneCount, failedCount, nil
}
