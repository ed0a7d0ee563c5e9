package geocode

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/kintopp/rijksmuseum-mcp-plus/internal/model"
	"github.com/kintopp/rijksmuseum-mcp-plus/internal/store"
)

func ptr(f float64) *float64 { return &f }

func TestValidateFlagsLatLonSwap(t *testing.T) {
	s, err := store.Open(filepath.Join(t.TempDir(), "vocabulary.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer func() { _ = s.Close() }()

	ctx := context.Background()
	// Real Amsterdam is lat=52.37 lon=4.89; seed it swapped.
	if err := s.UpsertVocabTerm(ctx, model.VocabTerm{
		ID: "amsterdam-1", Type: model.VocabPlace, LabelEn: "Amsterdam",
		Lat: ptr(4.89), Lon: ptr(52.37),
	}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	issues, err := Validate(ctx, s)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}

	found := false
	for _, iss := range issues {
		if iss.PlaceID == "amsterdam-1" && iss.Kind == IssueLatLonSwap {
			found = true
		}
	}
	if !found {
		t.Errorf("expected a lat_lon_swap issue for swapped Amsterdam coords, got %+v", issues)
	}
}

func TestValidateFlagsNullIslandAndOutOfRange(t *testing.T) {
	s, err := store.Open(filepath.Join(t.TempDir(), "vocabulary.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer func() { _ = s.Close() }()

	ctx := context.Background()
	if err := s.UpsertVocabTerm(ctx, model.VocabTerm{
		ID: "null-island", Type: model.VocabPlace, LabelEn: "Nullville", Lat: ptr(0), Lon: ptr(0),
	}); err != nil {
		t.Fatalf("seed null island: %v", err)
	}
	if err := s.UpsertVocabTerm(ctx, model.VocabTerm{
		ID: "oob", Type: model.VocabPlace, LabelEn: "Out There", Lat: ptr(95), Lon: ptr(4),
	}); err != nil {
		t.Fatalf("seed out of range: %v", err)
	}

	issues, err := Validate(ctx, s)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}

	var kinds = map[string]bool{}
	for _, iss := range issues {
		kinds[iss.PlaceID+":"+iss.Kind] = true
	}
	if !kinds["null-island:"+IssueNullIsland] {
		t.Errorf("expected null_island issue, got %+v", issues)
	}
	if !kinds["oob:"+IssueOutOfRange] {
		t.Errorf("expected out_of_range issue, got %+v", issues)
	}
}

func TestValidateNoIssuesForPlausibleCoords(t *testing.T) {
	s, err := store.Open(filepath.Join(t.TempDir(), "vocabulary.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer func() { _ = s.Close() }()

	ctx := context.Background()
	if err := s.UpsertVocabTerm(ctx, model.VocabTerm{
		ID: "amsterdam-ok", Type: model.VocabPlace, LabelEn: "Amsterdam", Lat: ptr(52.37), Lon: ptr(4.89),
	}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	issues, err := Validate(ctx, s)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if len(issues) != 0 {
		t.Errorf("expected no issues for correctly-ordered Amsterdam coords, got %+v", issues)
	}
}
