// Package normalize implements P3: the idempotent integer-encoding pass
// that turns the ingest-shape store (string-keyed vocabulary/mappings)
// into the normalized shape (surrogate-keyed, FTS-indexed, derived
// columns populated). Grounded on original_source/scripts/normalize-db.py
// (the teacher has no analogous pass — rcliao-briefly never repacks its
// own schema — so this is new code in the teacher's SQL-transaction style:
// one *sql.Tx per logical step, wrapped errors, a progress log line per
// step) and on spec §4.7's 8-step contract.
package normalize

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"

	"github.com/kintopp/rijksmuseum-mcp-plus/internal/logger"
	"github.com/kintopp/rijksmuseum-mcp-plus/internal/store"
)

// Result reports what the normalizer did, for the CLI to print and for
// tests to assert idempotency against (spec §8 "no schema change, no row
// count change, no orphan-drop message" on a second run).
type Result struct {
	AlreadyNormalized bool
	VocabAssigned     int
	ArtworksAssigned  int
	FieldCount        int
	MappingsWritten   int
	OrphanMappings    int
	RightsAssigned    int
}

// Run performs the full 8-step normalization pass. If the store is already
// in normalized (narrow) shape, it returns immediately with
// AlreadyNormalized=true and does nothing else — the idempotency guard
// described in spec §9's "double-representation" design note and required
// by the seed test "Normalizer idempotence".
func Run(ctx context.Context, st *store.Store) (*Result, error) {
	shape, err := st.MappingShape()
	if err != nil {
		return nil, fmt.Errorf("determine mapping shape: %w", err)
	}
	if shape == ShapeNarrow() {
		logger.Info("normalizer: store already normalized, nothing to do")
		return &Result{AlreadyNormalized: true}, nil
	}
	if shape == ShapeUnknown() {
		return nil, fmt.Errorf("normalize: mappings table missing or has unrecognized shape")
	}

	// A pass that stopped between the two renames in buildNarrowMappings
	// leaves the wide rows in mappings_old; fold them back into mappings.
	var leftover int
	if err := st.DB().QueryRowContext(ctx, `SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = 'mappings_old'`).Scan(&leftover); err != nil {
		return nil, fmt.Errorf("check for mappings_old: %w", err)
	}
	if leftover > 0 {
		if _, err := st.DB().ExecContext(ctx, `INSERT OR IGNORE INTO mappings (object_number, vocab_id, field) SELECT object_number, vocab_id, field FROM mappings_old`); err != nil {
			return nil, fmt.Errorf("restore mappings_old: %w", err)
		}
		if _, err := st.DB().ExecContext(ctx, `DROP TABLE mappings_old`); err != nil {
			return nil, fmt.Errorf("drop mappings_old: %w", err)
		}
	}

	res := &Result{}

	if err := assignSurrogateIDs(ctx, st, res); err != nil {
		return nil, err
	}
	fields, err := buildFieldLookup(ctx, st)
	if err != nil {
		return nil, err
	}
	res.FieldCount = len(fields)

	if err := buildNarrowMappings(ctx, st, fields, res); err != nil {
		return nil, err
	}
	if err := recreateIndexes(ctx, st); err != nil {
		return nil, err
	}
	if err := normalizeRightsURI(ctx, st, res); err != nil {
		return nil, err
	}
	if err := rebuildDerived(ctx, st); err != nil {
		return nil, err
	}
	if err := st.Compact(ctx); err != nil {
		return nil, err
	}

	logger.Info("normalizer complete",
		"vocab_assigned", res.VocabAssigned,
		"artworks_assigned", res.ArtworksAssigned,
		"mappings_written", res.MappingsWritten,
		"orphans_dropped", res.OrphanMappings,
	)
	return res, nil
}

// ShapeNarrow and ShapeUnknown re-export store.MappingShape's constants so
// callers in this package read naturally; kept as functions rather than
// package-level aliases to avoid an import-cycle-shaped re-export pattern.
func ShapeNarrow() store.MappingShape  { return store.ShapeNarrow }
func ShapeUnknown() store.MappingShape { return store.ShapeUnknown }

// assignSurrogateIDs gives every vocabulary row and artwork row a dense
// positive integer id (step 1). Ids are assigned in a stable (string id)
// order so re-running P0-P4 before normalization doesn't change existing
// ids once assigned, and only rows still missing an id are touched.
func assignSurrogateIDs(ctx context.Context, st *store.Store, res *Result) error {
	if err := assignIDs(ctx, st, "vocabulary", "id", "vocab_id", &res.VocabAssigned); err != nil {
		return fmt.Errorf("assign vocabulary surrogate ids: %w", err)
	}
	if err := assignIDs(ctx, st, "artworks", "object_number", "artwork_id", &res.ArtworksAssigned); err != nil {
		return fmt.Errorf("assign artwork surrogate ids: %w", err)
	}
	return nil
}

func assignIDs(ctx context.Context, st *store.Store, table, keyCol, idCol string, assigned *int) error {
	var maxID sql.NullInt64
	if err := st.DB().QueryRowContext(ctx, fmt.Sprintf("SELECT MAX(%s) FROM %s", idCol, table)).Scan(&maxID); err != nil {
		return err
	}
	next := int64(1)
	if maxID.Valid {
		next = maxID.Int64 + 1
	}

	rows, err := st.DB().QueryContext(ctx, fmt.Sprintf(
		"SELECT %s FROM %s WHERE %s IS NULL ORDER BY %s", keyCol, table, idCol, keyCol))
	if err != nil {
		return err
	}
	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			rows.Close()
			return err
		}
		keys = append(keys, k)
	}
	if err := rows.Err(); err != nil {
		return err
	}
	rows.Close()

	return st.WithTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, fmt.Sprintf("UPDATE %s SET %s = ? WHERE %s = ?", table, idCol, keyCol))
		if err != nil {
			return err
		}
		defer stmt.Close()
		for _, k := range keys {
			if _, err := stmt.ExecContext(ctx, next, k); err != nil {
				return err
			}
			next++
			*assigned++
		}
		return nil
	})
}

// buildFieldLookup enumerates the distinct field names currently present
// in the wide mappings table (step 2).
func buildFieldLookup(ctx context.Context, st *store.Store) ([]string, error) {
	if _, err := st.DB().ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS field_lookup (
			field_id INTEGER PRIMARY KEY,
			field    TEXT NOT NULL UNIQUE
		)`); err != nil {
		return nil, fmt.Errorf("create field_lookup: %w", err)
	}

	rows, err := st.DB().QueryContext(ctx, `SELECT DISTINCT field FROM mappings ORDER BY field`)
	if err != nil {
		return nil, fmt.Errorf("query distinct fields: %w", err)
	}
	var fields []string
	for rows.Next() {
		var f string
		if err := rows.Scan(&f); err != nil {
			rows.Close()
			return nil, err
		}
		fields = append(fields, f)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	rows.Close()
	sort.Strings(fields)

	err = st.WithTx(ctx, func(tx *sql.Tx) error {
		for i, f := range fields {
			if _, err := tx.ExecContext(ctx,
				`INSERT OR IGNORE INTO field_lookup (field_id, field) VALUES (?, ?)`, i+1, f); err != nil {
				return err
			}
		}
		return nil
	})
	return fields, err
}

// buildNarrowMappings creates the integer-keyed mappings table (step 3),
// populates it by joining the wide table to the surrogate tables (dropping
// and counting orphans), then does the crash-safe two-step rename (step 4)
// and recreates secondary indexes (step 5 is folded into recreateIndexes).
func buildNarrowMappings(ctx context.Context, st *store.Store, fields []string, res *Result) error {
	if _, err := st.DB().ExecContext(ctx, `DROP TABLE IF EXISTS mappings_new`); err != nil {
		return fmt.Errorf("drop stale mappings_new: %w", err)
	}
	if _, err := st.DB().ExecContext(ctx, `
		CREATE TABLE mappings_new (
			artwork_id  INTEGER NOT NULL,
			vocab_rowid INTEGER NOT NULL,
			field_id    INTEGER NOT NULL,
			PRIMARY KEY (artwork_id, vocab_rowid, field_id)
		) WITHOUT ROWID`); err != nil {
		return fmt.Errorf("create mappings_new: %w", err)
	}

	res2, err := st.DB().ExecContext(ctx, `
		INSERT OR IGNORE INTO mappings_new (artwork_id, vocab_rowid, field_id)
		SELECT a.artwork_id, v.vocab_id, f.field_id
		FROM mappings m
		JOIN artworks a ON a.object_number = m.object_number
		JOIN vocabulary v ON v.id = m.vocab_id
		JOIN field_lookup f ON f.field = m.field
	`)
	if err != nil {
		return fmt.Errorf("populate mappings_new: %w", err)
	}
	written, _ := res2.RowsAffected()
	res.MappingsWritten = int(written)

	var total int
	if err := st.DB().QueryRowContext(ctx, `SELECT COUNT(*) FROM mappings`).Scan(&total); err != nil {
		return fmt.Errorf("count wide mappings: %w", err)
	}
	res.OrphanMappings = total - res.MappingsWritten
	if res.OrphanMappings > 0 {
		logger.Info("normalizer: dropping orphaned mapping rows", "count", res.OrphanMappings)
	}

	// Step 4: crash-safe two-step rename. A crash between these two
	// statements leaves "mappings_old" (wide) and "mappings_new" (narrow)
	// with no "mappings"; the next Open creates an empty wide "mappings",
	// Run folds "mappings_old" back into it, and the pass re-runs from the
	// top, overwriting mappings_new.
	if _, err := st.DB().ExecContext(ctx, `ALTER TABLE mappings RENAME TO mappings_old`); err != nil {
		return fmt.Errorf("rename old mappings aside: %w", err)
	}
	if _, err := st.DB().ExecContext(ctx, `ALTER TABLE mappings_new RENAME TO mappings`); err != nil {
		return fmt.Errorf("rename new mappings in: %w", err)
	}
	if _, err := st.DB().ExecContext(ctx, `DROP TABLE mappings_old`); err != nil {
		return fmt.Errorf("drop old mappings: %w", err)
	}
	return nil
}

func recreateIndexes(ctx context.Context, st *store.Store) error {
	stmts := []string{
		`DROP INDEX IF EXISTS idx_mappings_field_vocab`,
		`DROP INDEX IF EXISTS idx_mappings_field_object`,
		`DROP INDEX IF EXISTS idx_mappings_vocab`,
		`CREATE INDEX IF NOT EXISTS idx_mappings_vocab_rowid ON mappings(vocab_rowid)`,
		`CREATE INDEX IF NOT EXISTS idx_mappings_field_id ON mappings(field_id)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_vocabulary_vocab_id ON vocabulary(vocab_id)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_artworks_artwork_id ON artworks(artwork_id)`,
	}
	for _, stmt := range stmts {
		if _, err := st.DB().ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("recreate index (%s): %w", stmt, err)
		}
	}
	return nil
}

// normalizeRightsURI builds a tiny rights_lookup table and points
// artworks.rights_id at it (step 6). The rights_uri column is dropped if
// the SQLite build supports it (3.35+); otherwise it's left as dead weight
// per spec.
func normalizeRightsURI(ctx context.Context, st *store.Store, res *Result) error {
	if _, err := st.DB().ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS rights_lookup (
			rights_id  INTEGER PRIMARY KEY,
			rights_uri TEXT NOT NULL UNIQUE
		)`); err != nil {
		return fmt.Errorf("create rights_lookup: %w", err)
	}

	rows, err := st.DB().QueryContext(ctx, `
		SELECT DISTINCT rights_uri FROM artworks WHERE rights_uri IS NOT NULL ORDER BY rights_uri`)
	if err != nil {
		return fmt.Errorf("query distinct rights uris: %w", err)
	}
	var uris []string
	for rows.Next() {
		var u string
		if err := rows.Scan(&u); err != nil {
			rows.Close()
			return err
		}
		uris = append(uris, u)
	}
	if err := rows.Err(); err != nil {
		return err
	}
	rows.Close()

	err = st.WithTx(ctx, func(tx *sql.Tx) error {
		for _, u := range uris {
			if _, err := tx.ExecContext(ctx,
				`INSERT OR IGNORE INTO rights_lookup (rights_uri) VALUES (?)`, u); err != nil {
				return err
			}
		}
		res2, err := tx.ExecContext(ctx, `
			UPDATE artworks SET rights_id = (
				SELECT rights_id FROM rights_lookup WHERE rights_lookup.rights_uri = artworks.rights_uri
			) WHERE rights_uri IS NOT NULL AND rights_id IS NULL`)
		if err != nil {
			return err
		}
		n, _ := res2.RowsAffected()
		res.RightsAssigned = int(n)
		return nil
	})
	if err != nil {
		return fmt.Errorf("assign rights surrogates: %w", err)
	}

	// Column drop is best-effort: older SQLite builds reject it outright.
	_, _ = st.DB().ExecContext(ctx, `ALTER TABLE artworks DROP COLUMN rights_uri`)
	return nil
}

// rebuildDerived runs step 7: vocab_term_counts, FTS indexes, normalized
// label columns, and conditional indexes for dimensions/dates/lat-lon.
func rebuildDerived(ctx context.Context, st *store.Store) error {
	stmts := []string{
		`DROP TABLE IF EXISTS vocab_term_counts`,
		`CREATE TABLE vocab_term_counts AS
			SELECT vocab_rowid AS vocab_id, COUNT(*) AS mapping_count
			FROM mappings GROUP BY vocab_rowid`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_vocab_term_counts ON vocab_term_counts(vocab_id)`,

		`UPDATE vocabulary SET label_en_norm = normalize_label(label_en) WHERE label_en IS NOT NULL`,
		`UPDATE vocabulary SET label_nl_norm = normalize_label(label_nl) WHERE label_nl IS NOT NULL`,

		`DROP TABLE IF EXISTS vocabulary_fts`,
		`CREATE VIRTUAL TABLE vocabulary_fts USING fts5(
			id UNINDEXED, label_en, label_nl, notation,
			tokenize = 'unicode61 remove_diacritics 2'
		)`,
		`INSERT INTO vocabulary_fts (id, label_en, label_nl, notation)
			SELECT id, label_en, label_nl, notation FROM vocabulary`,

		`DROP TABLE IF EXISTS person_names_fts`,
		`CREATE VIRTUAL TABLE person_names_fts USING fts5(
			person_id UNINDEXED, name,
			tokenize = 'unicode61 remove_diacritics 2'
		)`,
		`INSERT INTO person_names_fts (person_id, name) SELECT person_id, name FROM person_names`,

		`DROP TABLE IF EXISTS artwork_texts_fts`,
		`CREATE VIRTUAL TABLE artwork_texts_fts USING fts5(
			artwork_id UNINDEXED, title, inscription, provenance, description, narrative, all_titles,
			tokenize = 'unicode61 remove_diacritics 2'
		)`,
		`INSERT INTO artwork_texts_fts (artwork_id, title, inscription, provenance, description, narrative, all_titles)
			SELECT artwork_id, title, inscription, provenance, description, narrative, all_titles FROM artworks`,
	}
	for _, stmt := range stmts {
		if _, err := st.DB().ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("rebuild derived (%s...): %w", truncate(stmt, 40), err)
		}
	}

	if err := conditionalIndex(ctx, st, "idx_artworks_dimensions",
		`CREATE INDEX idx_artworks_dimensions ON artworks(height_cm, width_cm)`,
		`SELECT COUNT(*) FROM artworks WHERE height_cm IS NOT NULL OR width_cm IS NOT NULL`); err != nil {
		return err
	}
	if err := conditionalIndex(ctx, st, "idx_artworks_dates",
		`CREATE INDEX idx_artworks_dates ON artworks(date_earliest, date_latest)`,
		`SELECT COUNT(*) FROM artworks WHERE date_earliest IS NOT NULL`); err != nil {
		return err
	}
	if err := conditionalIndex(ctx, st, "idx_vocabulary_latlon",
		`CREATE INDEX idx_vocabulary_latlon ON vocabulary(lat, lon)`,
		`SELECT COUNT(*) FROM vocabulary WHERE lat IS NOT NULL`); err != nil {
		return err
	}
	return nil
}

// conditionalIndex creates an index only when at least one row would
// benefit from it (spec §4.7 step 7: "created only if any matching rows
// exist").
func conditionalIndex(ctx context.Context, st *store.Store, name, createStmt, countQuery string) error {
	var n int
	if err := st.DB().QueryRowContext(ctx, countQuery).Scan(&n); err != nil {
		return fmt.Errorf("count rows for %s: %w", name, err)
	}
	if n == 0 {
		return nil
	}
	if _, err := st.DB().ExecContext(ctx, `DROP INDEX IF EXISTS `+name); err != nil {
		return fmt.Errorf("drop stale %s: %w", name, err)
	}
	if _, err := st.DB().ExecContext(ctx, createStmt); err != nil {
		return fmt.Errorf("create %s: %w", name, err)
	}
	return nil
}

func truncate(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	if len(s) <= n {
		return s
	}
	return s[:n]
}
