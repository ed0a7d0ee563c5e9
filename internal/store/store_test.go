package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/kintopp/rijksmuseum-mcp-plus/internal/model"
)

func TestOpen(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "vocabulary.db")

	s, err := Open(dbPath)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer func() { _ = s.Close() }()

	shape, err := s.MappingShape()
	if err != nil {
		t.Fatalf("MappingShape failed: %v", err)
	}
	if shape != ShapeWide {
		t.Errorf("expected ShapeWide on fresh store, got %v", shape)
	}
}

func TestUpsertVocabTermDoesNotOverwriteExistingLabels(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "vocabulary.db"))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer func() { _ = s.Close() }()

	ctx := context.Background()
	if err := s.UpsertVocabTerm(ctx, model.VocabTerm{ID: "123", Type: model.VocabPlace, LabelEn: "Amsterdam"}); err != nil {
		t.Fatalf("first upsert: %v", err)
	}
	if err := s.UpsertVocabTerm(ctx, model.VocabTerm{ID: "123", Type: model.VocabPlace, LabelEn: "Should Not Overwrite", LabelNl: "Amsterdam (NL)"}); err != nil {
		t.Fatalf("second upsert: %v", err)
	}

	var labelEn, labelNl string
	row := s.DB().QueryRowContext(ctx, "SELECT label_en, label_nl FROM vocabulary WHERE id = ?", "123")
	if err := row.Scan(&labelEn, &labelNl); err != nil {
		t.Fatalf("scan: %v", err)
	}
	if labelEn != "Amsterdam" {
		t.Errorf("expected label_en to stay %q, got %q", "Amsterdam", labelEn)
	}
	if labelNl != "Amsterdam (NL)" {
		t.Errorf("expected label_nl to be filled in from second upsert, got %q", labelNl)
	}
}

func TestUpsertArtworkIdempotent(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "vocabulary.db"))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer func() { _ = s.Close() }()

	ctx := context.Background()
	a := model.Artwork{ObjectNumber: "SK-A-1", Title: "De Nachtwacht"}
	if err := s.UpsertArtwork(ctx, a); err != nil {
		t.Fatalf("upsert 1: %v", err)
	}
	if err := s.UpsertArtwork(ctx, model.Artwork{ObjectNumber: "SK-A-1", Title: "Different title"}); err != nil {
		t.Fatalf("upsert 2: %v", err)
	}

	var title string
	row := s.DB().QueryRowContext(ctx, "SELECT title FROM artworks WHERE object_number = ?", "SK-A-1")
	if err := row.Scan(&title); err != nil {
		t.Fatalf("scan: %v", err)
	}
	if title != "De Nachtwacht" {
		t.Errorf("expected title to stay %q on replay, got %q", "De Nachtwacht", title)
	}
}

func TestUnresolvedVocabIDs(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "vocabulary.db"))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer func() { _ = s.Close() }()

	ctx := context.Background()
	if err := s.UpsertArtwork(ctx, model.Artwork{ObjectNumber: "SK-A-1"}); err != nil {
		t.Fatalf("upsert artwork: %v", err)
	}
	if err := s.InsertMapping(ctx, "SK-A-1", "999", model.FieldSubject); err != nil {
		t.Fatalf("insert mapping: %v", err)
	}
	if err := s.UpsertVocabTerm(ctx, model.VocabTerm{ID: "111", Type: model.VocabClassification, LabelEn: "resolved"}); err != nil {
		t.Fatalf("upsert vocab: %v", err)
	}
	if err := s.InsertMapping(ctx, "SK-A-1", "111", model.FieldSubject); err != nil {
		t.Fatalf("insert mapping: %v", err)
	}

	ids, err := s.UnresolvedVocabIDs(ctx)
	if err != nil {
		t.Fatalf("UnresolvedVocabIDs: %v", err)
	}
	if len(ids) != 1 || ids[0] != "999" {
		t.Errorf("expected [999], got %v", ids)
	}
}

func TestUpdateArtworkTier2(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "vocabulary.db"))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer func() { _ = s.Close() }()

	ctx := context.Background()
	if err := s.UpsertArtwork(ctx, model.Artwork{ObjectNumber: "SK-A-2", SourceURI: "https://data.rijksmuseum.nl/SK-A-2"}); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	pending, err := s.ArtworksPendingTier2(ctx)
	if err != nil {
		t.Fatalf("ArtworksPendingTier2: %v", err)
	}
	if len(pending) != 1 {
		t.Fatalf("expected 1 pending artwork, got %d", len(pending))
	}

	if err := s.UpdateArtworkTier2(ctx, model.Artwork{ObjectNumber: "SK-A-2", Inscription: "foo"}); err != nil {
		t.Fatalf("UpdateArtworkTier2: %v", err)
	}

	pending, err = s.ArtworksPendingTier2(ctx)
	if err != nil {
		t.Fatalf("ArtworksPendingTier2 after update: %v", err)
	}
	if len(pending) != 0 {
		t.Errorf("expected no pending artworks after tier2 update, got %d", len(pending))
	}
}
