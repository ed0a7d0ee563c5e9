package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/kintopp/rijksmuseum-mcp-plus/internal/model"
)

// PlaceCategory selects a subset of ungeocoded places by external-id shape,
// matching geocode_places.py's get_ungeocoded category filters.
type PlaceCategory string

const (
	CategoryWikidata    PlaceCategory = "wikidata"
	CategoryGazetteer   PlaceCategory = "gazetteer"
	CategoryGettyTGN    PlaceCategory = "getty_tgn"
	CategorySelfRef     PlaceCategory = "self_ref"
	CategoryNoExternal  PlaceCategory = "no_external_used"
	CategoryAll         PlaceCategory = ""
)

// UngeocodedPlaces returns place vocabulary terms still missing coordinates,
// optionally narrowed to one external-id category.
func (s *Store) UngeocodedPlaces(ctx context.Context, category PlaceCategory) ([]model.VocabTerm, error) {
	query := `
		SELECT id, label_en, label_nl, external_id
		FROM vocabulary
		WHERE type = 'place' AND lat IS NULL
	`
	switch category {
	case CategoryWikidata:
		query += ` AND external_id LIKE '%wikidata%'`
	case CategoryGazetteer:
		query += ` AND external_id LIKE '%geonames%'`
	case CategoryGettyTGN:
		query += ` AND external_id LIKE '%getty.edu/tgn%'`
	case CategorySelfRef:
		query += ` AND external_id LIKE '%id.rijksmuseum.nl%'`
	case CategoryNoExternal:
		used := `m.vocab_id = vocabulary.id`
		if shape, err := s.MappingShape(); err == nil && shape == ShapeNarrow {
			used = `m.vocab_rowid = vocabulary.vocab_id`
		}
		query += ` AND (external_id IS NULL OR external_id = '')
			AND EXISTS (SELECT 1 FROM mappings m WHERE ` + used + `)`
	}

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query ungeocoded places (%s): %w", category, err)
	}
	defer rows.Close()

	var out []model.VocabTerm
	for rows.Next() {
		var t model.VocabTerm
		var labelEn, labelNl, externalID *string
		if err := rows.Scan(&t.ID, &labelEn, &labelNl, &externalID); err != nil {
			return nil, err
		}
		if labelEn != nil {
			t.LabelEn = *labelEn
		}
		if labelNl != nil {
			t.LabelNl = *labelNl
		}
		if externalID != nil {
			t.ExternalID = *externalID
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// GeocodedPlaces returns every place with coordinates, for the validation pass.
func (s *Store) GeocodedPlaces(ctx context.Context) ([]model.VocabTerm, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, label_en, label_nl, external_id, lat, lon
		FROM vocabulary
		WHERE type = 'place' AND lat IS NOT NULL
	`)
	if err != nil {
		return nil, fmt.Errorf("query geocoded places: %w", err)
	}
	defer rows.Close()

	var out []model.VocabTerm
	for rows.Next() {
		var t model.VocabTerm
		var labelEn, labelNl, externalID *string
		if err := rows.Scan(&t.ID, &labelEn, &labelNl, &externalID, &t.Lat, &t.Lon); err != nil {
			return nil, err
		}
		if labelEn != nil {
			t.LabelEn = *labelEn
		}
		if labelNl != nil {
			t.LabelNl = *labelNl
		}
		if externalID != nil {
			t.ExternalID = *externalID
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// UpdateCoords writes lat/lon for a batch of vocabulary ids, only touching
// rows still ungeocoded ("only for still-ungeocoded rows"). Returns the
// number of rows actually updated.
func (s *Store) UpdateCoords(ctx context.Context, updates map[string][2]float64) (int, error) {
	if len(updates) == 0 {
		return 0, nil
	}
	updated := 0
	err := s.WithTx(ctx, func(tx *sql.Tx) error {
		for id, coord := range updates {
			res, err := tx.ExecContext(ctx,
				`UPDATE vocabulary SET lat = ?, lon = ? WHERE id = ? AND lat IS NULL`,
				coord[0], coord[1], id)
			if err != nil {
				return fmt.Errorf("update coords for %s: %w", id, err)
			}
			n, _ := res.RowsAffected()
			updated += int(n)
		}
		return nil
	})
	return updated, err
}

// CoordExternalUpdate is a (lat, lon, external_id) write for UpdateCoordsAndExternalID.
type CoordExternalUpdate struct {
	Lat        float64
	Lon        float64
	ExternalID string
}

// UpdateCoordsAndExternalID writes lat/lon and a canonical external id in a
// single transaction, only for rows still ungeocoded (spec §4.5 3d apply).
func (s *Store) UpdateCoordsAndExternalID(ctx context.Context, updates map[string]CoordExternalUpdate) (int, error) {
	if len(updates) == 0 {
		return 0, nil
	}
	updated := 0
	err := s.WithTx(ctx, func(tx *sql.Tx) error {
		for id, u := range updates {
			res, err := tx.ExecContext(ctx,
				`UPDATE vocabulary SET lat = ?, lon = ?, external_id = ? WHERE id = ? AND lat IS NULL`,
				u.Lat, u.Lon, u.ExternalID, id)
			if err != nil {
				return fmt.Errorf("update coords+external id for %s: %w", id, err)
			}
			n, _ := res.RowsAffected()
			updated += int(n)
		}
		return nil
	})
	return updated, err
}

// SelfReferenceCoords finds places whose external id is an internal
// id.rijksmuseum.nl URI pointing at another, already-geocoded vocabulary
// row, and returns the coordinates to copy (phase 2, a pure SQL self-join —
// no HTTP calls needed).
func (s *Store) SelfReferenceCoords(ctx context.Context) (map[string][2]float64, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT src.id, tgt.lat, tgt.lon
		FROM vocabulary src
		JOIN vocabulary tgt ON tgt.id = REPLACE(
			REPLACE(src.external_id, 'https://id.rijksmuseum.nl/', ''),
			'http://id.rijksmuseum.nl/', ''
		)
		WHERE src.type = 'place'
			AND src.lat IS NULL
			AND src.external_id LIKE '%id.rijksmuseum.nl%'
			AND tgt.lat IS NOT NULL
	`)
	if err != nil {
		return nil, fmt.Errorf("query self-reference coords: %w", err)
	}
	defer rows.Close()

	out := map[string][2]float64{}
	for rows.Next() {
		var id string
		var lat, lon float64
		if err := rows.Scan(&id, &lat, &lon); err != nil {
			return nil, err
		}
		out[id] = [2]float64{lat, lon}
	}
	return out, rows.Err()
}

// PlaceCoverage reports (total places, places with coordinates).
func (s *Store) PlaceCoverage(ctx context.Context) (total, withCoords int, err error) {
	if err = s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM vocabulary WHERE type = 'place'`).Scan(&total); err != nil {
		return 0, 0, fmt.Errorf("count places: %w", err)
	}
	if err = s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM vocabulary WHERE type = 'place' AND lat IS NOT NULL`).Scan(&withCoords); err != nil {
		return 0, 0, fmt.Errorf("count geocoded places: %w", err)
	}
	return total, withCoords, nil
}
