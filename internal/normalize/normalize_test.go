package normalize

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/kintopp/rijksmuseum-mcp-plus/internal/model"
	"github.com/kintopp/rijksmuseum-mcp-plus/internal/store"
)

func seedWideStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "vocabulary.db"))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	ctx := context.Background()

	if err := s.UpsertArtwork(ctx, model.Artwork{ObjectNumber: "SK-A-1", Title: "De Nachtwacht", RightsURI: "https://rights.example/cc0"}); err != nil {
		t.Fatalf("upsert artwork: %v", err)
	}
	if err := s.UpsertVocabTerm(ctx, model.VocabTerm{ID: "v1", Type: model.VocabClassification, LabelEn: "Painting"}); err != nil {
		t.Fatalf("upsert vocab: %v", err)
	}
	if err := s.InsertMapping(ctx, "SK-A-1", "v1", model.FieldSubject); err != nil {
		t.Fatalf("insert mapping: %v", err)
	}
	// An orphaned mapping referencing a vocab id that never resolves — must
	// be dropped and counted during normalization (spec §3 invariant 1,
	// §4.7 step 3).
	if err := s.InsertMapping(ctx, "SK-A-1", "missing-vocab", model.FieldMaterial); err != nil {
		t.Fatalf("insert orphan mapping: %v", err)
	}
	return s
}

func TestRunAssignsSurrogatesAndDropsOrphans(t *testing.T) {
	s := seedWideStore(t)
	defer func() { _ = s.Close() }()

	res, err := Run(context.Background(), s)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.AlreadyNormalized {
		t.Fatalf("expected a fresh store to need normalization")
	}
	if res.VocabAssigned != 1 {
		t.Errorf("expected 1 vocab surrogate assigned, got %d", res.VocabAssigned)
	}
	if res.ArtworksAssigned != 1 {
		t.Errorf("expected 1 artwork surrogate assigned, got %d", res.ArtworksAssigned)
	}
	if res.MappingsWritten != 1 {
		t.Errorf("expected 1 narrow mapping written, got %d", res.MappingsWritten)
	}
	if res.OrphanMappings != 1 {
		t.Errorf("expected 1 orphan mapping dropped, got %d", res.OrphanMappings)
	}

	shape, err := s.MappingShape()
	if err != nil {
		t.Fatalf("MappingShape: %v", err)
	}
	if shape != store.ShapeNarrow {
		t.Errorf("expected narrow shape after normalization, got %v", shape)
	}
}

func TestRunIsIdempotent(t *testing.T) {
	s := seedWideStore(t)
	defer func() { _ = s.Close() }()

	ctx := context.Background()
	if _, err := Run(ctx, s); err != nil {
		t.Fatalf("first Run: %v", err)
	}

	var rowCountBefore int
	if err := s.DB().QueryRowContext(ctx, `SELECT COUNT(*) FROM mappings`).Scan(&rowCountBefore); err != nil {
		t.Fatalf("count mappings: %v", err)
	}

	res2, err := Run(ctx, s)
	if err != nil {
		t.Fatalf("second Run: %v", err)
	}
	if !res2.AlreadyNormalized {
		t.Fatalf("expected second Run to detect the normalized shape and no-op")
	}

	var rowCountAfter int
	if err := s.DB().QueryRowContext(ctx, `SELECT COUNT(*) FROM mappings`).Scan(&rowCountAfter); err != nil {
		t.Fatalf("count mappings after second run: %v", err)
	}
	if rowCountAfter != rowCountBefore {
		t.Errorf("expected no row-count change on re-run, got %d -> %d", rowCountBefore, rowCountAfter)
	}
}

func TestRunBuildsFTSAndRightsLookup(t *testing.T) {
	s := seedWideStore(t)
	defer func() { _ = s.Close() }()
	ctx := context.Background()

	if _, err := Run(ctx, s); err != nil {
		t.Fatalf("Run: %v", err)
	}

	var ftsCount int
	if err := s.DB().QueryRowContext(ctx, `SELECT COUNT(*) FROM vocabulary_fts WHERE vocabulary_fts MATCH 'Painting'`).Scan(&ftsCount); err != nil {
		t.Fatalf("query vocabulary_fts: %v", err)
	}
	if ftsCount != 1 {
		t.Errorf("expected vocabulary_fts to find the seeded label, got %d hits", ftsCount)
	}

	var rightsCount int
	if err := s.DB().QueryRowContext(ctx, `SELECT COUNT(*) FROM rights_lookup`).Scan(&rightsCount); err != nil {
		t.Fatalf("query rights_lookup: %v", err)
	}
	if rightsCount != 1 {
		t.Errorf("expected 1 rights_lookup row, got %d", rightsCount)
	}
}
