// Package store wraps the embedded relational store (SQLite) that every
// harvest/normalize/enrich phase reads from and writes to.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/kintopp/rijksmuseum-mcp-plus/internal/model"
)

// vecExtensionPath, when non-empty, is loaded into every new connection via
// sqlite3's extension-loading hook (mirrors Python's sqlite_vec.load(conn) in
// generate-embeddings-v2.py). Phases that never touch vec_artworks (P0, P1,
// P2, P4) run fine without it; the embed and normalize (compaction) phases
// require it or virtual-table resolution fails, per spec §4.6/§4.7.
var vecExtensionPath string

func init() {
	sql.Register("sqlite3_rijksharvest", &sqlite3.SQLiteDriver{
		ConnectHook: func(conn *sqlite3.SQLiteConn) error {
			if err := conn.RegisterFunc("normalize_label", normalizeLabel, true); err != nil {
				return fmt.Errorf("register normalize_label: %w", err)
			}
			if vecExtensionPath == "" {
				return nil
			}
			return conn.LoadExtension(vecExtensionPath, "sqlite3_vec_init")
		},
	})
}

// SetVecExtensionPath configures the shared-library path for the vector
// search extension. Must be called before Open if any opened Store needs
// vec_artworks (the embed and normalize/compact phases).
func SetVecExtensionPath(path string) {
	vecExtensionPath = path
}

// MappingShape describes which of the two tagged shapes the mappings table
// currently has (see spec §3 invariant 8 and §9 "double-representation").
type MappingShape int

const (
	// ShapeUnknown means the mappings table does not exist yet.
	ShapeUnknown MappingShape = iota
	// ShapeWide is the ingest-time (object_number, vocab_id, field) TEXT triple.
	ShapeWide
	// ShapeNarrow is the normalized (artwork_id, vocab_rowid, field_id) INTEGER triple.
	ShapeNarrow
)

// Store is the single-writer handle to the embedded relational store.
type Store struct {
	db   *sql.DB
	path string
}

// Open opens (creating if absent) the SQLite database at path and applies
// the WAL/synchronous/cache pragmas from spec §5.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create store directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3_rijksharvest", path)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	db.SetMaxOpenConns(1) // single-writer model (spec §5)

	s := &Store{db: db, path: path}
	if err := s.applyPragmas(); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := s.ensureIngestSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) applyPragmas() error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA cache_size=-64000",
		"PRAGMA busy_timeout=30000",
		"PRAGMA foreign_keys=ON",
	}
	for _, p := range pragmas {
		if _, err := s.db.Exec(p); err != nil {
			return fmt.Errorf("apply pragma %q: %w", p, err)
		}
	}
	return nil
}

// DB returns the underlying *sql.DB for phase packages that need to run
// shape- or phase-specific SQL the store doesn't wrap directly.
func (s *Store) DB() *sql.DB { return s.db }

// Path returns the store's file path.
func (s *Store) Path() string { return s.path }

// Close closes the underlying database handle.
func (s *Store) Close() error { return s.db.Close() }

// ensureIngestSchema creates the ingest-shape tables if they don't already
// exist. Schema drift at start-up only ADDS columns/indexes idempotently
// (spec §7f) — it never destructively alters existing data.
func (s *Store) ensureIngestSchema() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS vocabulary (
			id            TEXT PRIMARY KEY,
			type          TEXT NOT NULL,
			label_en      TEXT,
			label_nl      TEXT,
			external_id   TEXT,
			broader_id    TEXT,
			notation      TEXT,
			lat           REAL,
			lon           REAL,
			label_en_norm TEXT,
			label_nl_norm TEXT,
			vocab_id      INTEGER
		)`,
		`CREATE TABLE IF NOT EXISTS artworks (
			object_number TEXT PRIMARY KEY,
			title         TEXT,
			creator_label TEXT,
			rights_uri    TEXT,
			source_uri    TEXT,
			inscription   TEXT,
			provenance    TEXT,
			credit_line   TEXT,
			description   TEXT,
			narrative     TEXT,
			all_titles    TEXT,
			height_cm     REAL,
			width_cm      REAL,
			date_earliest INTEGER,
			date_latest   INTEGER,
			tier2_done    BOOLEAN NOT NULL DEFAULT 0,
			artwork_id    INTEGER,
			rights_id     INTEGER
		)`,
		`CREATE TABLE IF NOT EXISTS mappings (
			object_number TEXT NOT NULL,
			vocab_id      TEXT NOT NULL,
			field         TEXT NOT NULL,
			PRIMARY KEY (object_number, vocab_id, field)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_mappings_field_vocab ON mappings(field, vocab_id)`,
		`CREATE INDEX IF NOT EXISTS idx_mappings_field_object ON mappings(field, object_number)`,
		`CREATE INDEX IF NOT EXISTS idx_mappings_vocab ON mappings(vocab_id)`,
		`CREATE INDEX IF NOT EXISTS idx_vocab_label_en ON vocabulary(label_en COLLATE NOCASE)`,
		`CREATE INDEX IF NOT EXISTS idx_vocab_label_nl ON vocabulary(label_nl COLLATE NOCASE)`,
		`CREATE INDEX IF NOT EXISTS idx_vocab_notation ON vocabulary(notation)`,
		`CREATE INDEX IF NOT EXISTS idx_vocab_type ON vocabulary(type)`,
		`CREATE TABLE IF NOT EXISTS person_names (
			person_id      TEXT NOT NULL REFERENCES vocabulary(id),
			name           TEXT NOT NULL,
			lang           TEXT,
			classification TEXT,
			UNIQUE(person_id, name, lang)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_person_names_id ON person_names(person_id)`,
		`CREATE TABLE IF NOT EXISTS artwork_embeddings (
			artwork_id  INTEGER PRIMARY KEY,
			source_text TEXT,
			source_hash TEXT,
			embedding   BLOB,
			generated_at DATETIME
		)`,
	}
	// A normalized store's mappings table is narrow and lacks the columns
	// the ingest-shape mapping indexes cover, so those indexes are skipped.
	cols, err := s.columns("mappings")
	if err != nil {
		return fmt.Errorf("ensure ingest schema: %w", err)
	}
	narrow := cols["field_id"]
	for _, stmt := range stmts {
		if narrow && strings.Contains(stmt, " ON mappings(") {
			continue
		}
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("ensure ingest schema: %w", err)
		}
	}
	return nil
}

// MappingShape reports whether the mappings table is in ingest (wide) or
// normalized (narrow) shape, per spec §9's one-liner shape detection: the
// narrow shape carries an artwork_id column instead of object_number.
func (s *Store) MappingShape() (MappingShape, error) {
	cols, err := s.columns("mappings")
	if err != nil {
		return ShapeUnknown, err
	}
	if len(cols) == 0 {
		return ShapeUnknown, nil
	}
	if cols["artwork_id"] && cols["field_id"] {
		return ShapeNarrow, nil
	}
	if cols["object_number"] && cols["field"] {
		return ShapeWide, nil
	}
	return ShapeUnknown, fmt.Errorf("mappings table has unrecognized shape: %v", cols)
}

func (s *Store) columns(table string) (map[string]bool, error) {
	rows, err := s.db.Query(fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return nil, fmt.Errorf("pragma table_info(%s): %w", table, err)
	}
	defer rows.Close()

	cols := map[string]bool{}
	for rows.Next() {
		var cid int
		var name, ctype string
		var notnull, pk int
		var dflt sql.NullString
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dflt, &pk); err != nil {
			return nil, err
		}
		cols[name] = true
	}
	return cols, rows.Err()
}

// UpsertVocabTerm inserts a vocabulary term if absent. Existing labels are
// never overwritten (spec §3 Lifecycles: "labels may be upgraded but
// existing values are not overwritten").
func (s *Store) UpsertVocabTerm(ctx context.Context, t model.VocabTerm) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO vocabulary (id, type, label_en, label_nl, external_id, broader_id, notation, lat, lon)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			label_en    = COALESCE(NULLIF(vocabulary.label_en, ''), excluded.label_en),
			label_nl    = COALESCE(NULLIF(vocabulary.label_nl, ''), excluded.label_nl),
			external_id = COALESCE(NULLIF(vocabulary.external_id, ''), excluded.external_id),
			notation    = COALESCE(NULLIF(vocabulary.notation, ''), excluded.notation),
			lat         = COALESCE(vocabulary.lat, excluded.lat),
			lon         = COALESCE(vocabulary.lon, excluded.lon)
	`, t.ID, string(t.Type), nullIfEmpty(t.LabelEn), nullIfEmpty(t.LabelNl), nullIfEmpty(t.ExternalID),
		nullIfEmpty(t.BroaderID), nullIfEmpty(t.Notation), t.Lat, t.Lon)
	if err != nil {
		return fmt.Errorf("upsert vocab term %s: %w", t.ID, err)
	}
	return nil
}

// UpsertArtwork inserts an artwork if absent (P1 idempotency guard).
func (s *Store) UpsertArtwork(ctx context.Context, a model.Artwork) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO artworks (object_number, title, creator_label, rights_uri, source_uri)
		VALUES (?, ?, ?, ?, ?)
	`, a.ObjectNumber, nullIfEmpty(a.Title), nullIfEmpty(a.CreatorLabel), nullIfEmpty(a.RightsURI), nullIfEmpty(a.SourceURI))
	if err != nil {
		return fmt.Errorf("upsert artwork %s: %w", a.ObjectNumber, err)
	}
	return nil
}

// InsertMapping inserts a wide-shape mapping edge if absent.
func (s *Store) InsertMapping(ctx context.Context, objectNumber, vocabID string, field model.MappingField) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO mappings (object_number, vocab_id, field) VALUES (?, ?, ?)
	`, objectNumber, vocabID, string(field))
	if err != nil {
		return fmt.Errorf("insert mapping (%s,%s,%s): %w", objectNumber, vocabID, field, err)
	}
	return nil
}

// UpsertPersonNameVariant inserts a person-name variant if absent.
func (s *Store) UpsertPersonNameVariant(ctx context.Context, v model.PersonNameVariant) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO person_names (person_id, name, lang, classification) VALUES (?, ?, ?, ?)
	`, v.PersonID, v.Text, nullIfEmpty(v.Language), nullIfEmpty(string(v.Classification)))
	if err != nil {
		return fmt.Errorf("upsert person name variant for %s: %w", v.PersonID, err)
	}
	return nil
}

// UpdateArtworkTier2 writes the Tier-2 fields extracted by P4 and marks the
// artwork done. Called both for a successful extraction and for an
// authoritative 404 (all fields left nil).
func (s *Store) UpdateArtworkTier2(ctx context.Context, a model.Artwork) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE artworks SET
			inscription = ?, provenance = ?, credit_line = ?, description = ?,
			narrative = ?, all_titles = ?, height_cm = ?, width_cm = ?,
			date_earliest = ?, date_latest = ?, tier2_done = 1
		WHERE object_number = ?
	`, nullIfEmpty(a.Inscription), nullIfEmpty(a.Provenance), nullIfEmpty(a.CreditLine),
		nullIfEmpty(a.Description), nullIfEmpty(a.Narrative), nullIfEmpty(a.AllTitles),
		a.HeightCM, a.WidthCM, a.DateEarliest, a.DateLatest, a.ObjectNumber)
	if err != nil {
		return fmt.Errorf("update artwork tier2 %s: %w", a.ObjectNumber, err)
	}
	return nil
}

// UnresolvedVocabIDs returns vocabulary ids referenced by mappings but with
// no corresponding vocabulary row (drives P2 and P2-bis).
func (s *Store) UnresolvedVocabIDs(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT m.vocab_id
		FROM mappings m
		LEFT JOIN vocabulary v ON m.vocab_id = v.id
		WHERE v.id IS NULL
	`)
	if err != nil {
		return nil, fmt.Errorf("query unresolved vocab ids: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ArtworksPendingTier2 returns (object_number, source_uri) pairs for
// artworks with a Linked-Art URI that haven't completed Tier-2 extraction.
func (s *Store) ArtworksPendingTier2(ctx context.Context) ([][2]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT object_number, source_uri FROM artworks
		WHERE source_uri IS NOT NULL AND source_uri != '' AND tier2_done = 0
	`)
	if err != nil {
		return nil, fmt.Errorf("query artworks pending tier2: %w", err)
	}
	defer rows.Close()

	var out [][2]string
	for rows.Next() {
		var objNum, uri string
		if err := rows.Scan(&objNum, &uri); err != nil {
			return nil, err
		}
		out = append(out, [2]string{objNum, uri})
	}
	return out, rows.Err()
}

// Compact runs VACUUM. Per spec §4.6, this must run with the vector
// extension loaded if vec_artworks exists, or virtual-table resolution
// fails; callers are responsible for calling SetVecExtensionPath before
// Open when compaction follows an embed run.
func (s *Store) Compact(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "VACUUM"); err != nil {
		return fmt.Errorf("vacuum: %w", err)
	}
	return nil
}

// WithTx runs fn inside a single transaction, committing on success and
// rolling back on error or panic.
func (s *Store) WithTx(ctx context.Context, fn func(tx *sql.Tx) error) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback()
			return
		}
		err = tx.Commit()
	}()
	err = fn(tx)
	return err
}

// normalizeLabel lowercases and removes all whitespace, the fallback-lookup
// transform from spec §3's VocabTerm entity ("normalized label copies
// (lowercased, whitespace-stripped)"); diacritics are kept as they are. Exposed
// to SQL as normalize_label() so the normalizer can populate
// label_en_norm/label_nl_norm in a single UPDATE.
func normalizeLabel(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), "")
}

func nullIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// StatTiming is a small helper for phases that print "N/min" style progress
// lines (spec §4.2/§4.4), grounded on the teacher's periodic-log idiom.
func StatTiming(start time.Time, count int) float64 {
	elapsed := time.Since(start).Minutes()
	if elapsed <= 0 {
		return 0
	}
	return float64(count) / elapsed
}
