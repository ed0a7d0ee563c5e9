package linkedart

import (
	"context"

	"github.com/kintopp/rijksmuseum-mcp-plus/internal/dispatch"
	"github.com/kintopp/rijksmuseum-mcp-plus/internal/logger"
	"github.com/kintopp/rijksmuseum-mcp-plus/internal/model"
	"github.com/kintopp/rijksmuseum-mcp-plus/internal/store"
)

type resolution struct {
	term  *model.VocabTerm
	names []model.PersonNameVariant
}

// RunResolve is P2/P2-bis: resolve every vocabulary id referenced by a
// mapping but absent from the vocabulary table, via bounded-concurrency
// Linked Art fetches. Re-invoking it after P4 (P2-bis) is the same
// function over the same query, since P4 mints new production_role/
// attribution_qualifier references that also need resolving.
func RunResolve(ctx context.Context, st *store.Store, client *Client, concurrency int) (resolved, failed int, err error) {
	ids, err := st.UnresolvedVocabIDs(ctx)
	if err != nil {
		return 0, 0, err
	}
	if len(ids) == 0 {
		return 0, 0, nil
	}
	logger.Info("resolving unmatched vocabulary ids", "count", len(ids), "concurrency", concurrency)

	_, failedCount := dispatch.Run(ctx, ids, dispatch.Options{
		Concurrency:   concurrency,
		ProgressEvery: 1000,
		ProgressLabel: "resolve-vocab",
	}, func(ctx context.Context, id string) (resolution, error) {
		doc, err := client.Fetch(ctx, id)
		if err != nil {
			return resolution{}, err
		}
		term := ResolveVocabTerm(id, doc)
		var names []model.PersonNameVariant
		if term != nil && term.Type == model.VocabPerson {
			names = ExtractPersonNameVariants(id, doc)
		}
		return resolution{term: term, names: names}, nil
	}, func(id string, res resolution, err error) {
		if err != nil {
			// Not-found ids are permanent misses (e.g. external AAT ids the
			// Rijksmuseum API never served); transient failures are simply
			// left unresolved for the next P2 invocation to retry.
			return
		}
		if res.term == nil {
			return
		}
		if upsertErr := st.UpsertVocabTerm(ctx, *res.term); upsertErr != nil {
			logger.Error("upsert resolved vocab term failed", upsertErr, "id", id)
			return
		}
		for _, v := range res.names {
			if upsertErr := st.UpsertPersonNameVariant(ctx, v); upsertErr != nil {
				logger.Error("upsert person name variant failed", upsertErr, "person_id", id)
			}
		}
	})

	resolvedCount := len(ids) - failedCount
	logger.Info("vocabulary resolution complete", "resolved", resolvedCount, "failed", failedCount)
	return resolvedCount, failedCount, nil
}
