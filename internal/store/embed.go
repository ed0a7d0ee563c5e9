package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/kintopp/rijksmuseum-mcp-plus/internal/model"
)

// ArtworkForEmbedding is the subset of an artwork plus its subject labels
// the embedding pipeline needs to build composite text (spec §4.6).
type ArtworkForEmbedding struct {
	ArtworkID    int64
	Title        string
	CreatorLabel string
	Narrative    string
	Inscription  string
	Description  string
	Subjects     []string
}

// ArtworksReadyForEmbedding returns every artwork with tier2_done=true, in
// stable artwork_id order (spec §4.6 "iterate artworks in stable order"),
// along with its subject mapping labels. Requires the store to be in
// normalized (narrow) shape, since artwork_id/vocab_id surrogates and the
// field_lookup table only exist after P3.
func (s *Store) ArtworksReadyForEmbedding(ctx context.Context) ([]ArtworkForEmbedding, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT artwork_id, COALESCE(title, ''), COALESCE(creator_label, ''),
			COALESCE(narrative, ''), COALESCE(inscription, ''), COALESCE(description, '')
		FROM artworks
		WHERE tier2_done = 1 AND artwork_id IS NOT NULL
		ORDER BY artwork_id
	`)
	if err != nil {
		return nil, fmt.Errorf("query artworks ready for embedding: %w", err)
	}
	defer rows.Close()

	var out []ArtworkForEmbedding
	for rows.Next() {
		var a ArtworkForEmbedding
		if err := rows.Scan(&a.ArtworkID, &a.Title, &a.CreatorLabel, &a.Narrative, &a.Inscription, &a.Description); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	subjects, err := s.subjectLabelsByArtwork(ctx)
	if err != nil {
		return nil, err
	}
	for i := range out {
		out[i].Subjects = subjects[out[i].ArtworkID]
	}
	return out, nil
}

func (s *Store) subjectLabelsByArtwork(ctx context.Context) (map[int64][]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT m.artwork_id, COALESCE(v.label_en, v.label_nl, '')
		FROM mappings m
		JOIN field_lookup f ON f.field_id = m.field_id AND f.field = 'subject'
		JOIN vocabulary v ON v.vocab_id = m.vocab_rowid
		WHERE v.label_en IS NOT NULL OR v.label_nl IS NOT NULL
		ORDER BY m.artwork_id
	`)
	if err != nil {
		return nil, fmt.Errorf("query subject labels: %w", err)
	}
	defer rows.Close()

	out := map[int64][]string{}
	for rows.Next() {
		var artworkID int64
		var label string
		if err := rows.Scan(&artworkID, &label); err != nil {
			return nil, err
		}
		if label == "" {
			continue
		}
		out[artworkID] = append(out[artworkID], label)
	}
	return out, rows.Err()
}

// ExistingEmbeddingIDs returns the set of artwork ids already present in
// the keyed BLOB table.
func (s *Store) ExistingEmbeddingIDs(ctx context.Context) (map[int64]bool, error) {
	return s.idSet(ctx, "SELECT artwork_id FROM artwork_embeddings")
}

// ExistingVecIDs returns the set of artwork ids already present in the
// vector-KNN virtual table.
func (s *Store) ExistingVecIDs(ctx context.Context) (map[int64]bool, error) {
	if !s.hasTable("vec_artworks") {
		return map[int64]bool{}, nil
	}
	return s.idSet(ctx, "SELECT rowid FROM vec_artworks")
}

func (s *Store) idSet(ctx context.Context, query string) (map[int64]bool, error) {
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query id set: %w", err)
	}
	defer rows.Close()

	out := map[int64]bool{}
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out[id] = true
	}
	return out, rows.Err()
}

func (s *Store) hasTable(name string) bool {
	var n int
	_ = s.db.QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE type IN ('table','view') AND name = ?`, name).Scan(&n)
	return n > 0
}

// EnsureVecTable creates the vec0 vector-KNN virtual table if absent. Must
// be called on a Store opened with the vec extension loaded
// (SetVecExtensionPath before Open) or virtual-table resolution fails
// (spec §4.6 Compaction / §9).
func (s *Store) EnsureVecTable(ctx context.Context, dimensions int) error {
	_, err := s.db.ExecContext(ctx, fmt.Sprintf(
		`CREATE VIRTUAL TABLE IF NOT EXISTS vec_artworks USING vec0(embedding int8[%d])`, dimensions))
	if err != nil {
		return fmt.Errorf("ensure vec_artworks table: %w", err)
	}
	return nil
}

// EmbeddingRow is one flushed embedding, destined for both the BLOB table
// and the KNN virtual table.
type EmbeddingRow struct {
	ArtworkID  int64
	SourceText string
	SourceHash string
	Vector     []int8
}

// FlushEmbeddings writes a batch of embeddings in a single transaction: an
// INSERT-OR-REPLACE against the keyed BLOB table and a DELETE-then-INSERT
// against the KNN virtual table (vec0 has no upsert — spec §4.6).
func (s *Store) FlushEmbeddings(ctx context.Context, rows []EmbeddingRow) error {
	if len(rows) == 0 {
		return nil
	}
	return s.WithTx(ctx, func(tx *sql.Tx) error {
		now := time.Now().UTC()
		for _, r := range rows {
			blob := int8ToBytes(r.Vector)
			if _, err := tx.ExecContext(ctx, `
				INSERT OR REPLACE INTO artwork_embeddings (artwork_id, source_text, source_hash, embedding, generated_at)
				VALUES (?, ?, ?, ?, ?)
			`, r.ArtworkID, r.SourceText, r.SourceHash, blob, now); err != nil {
				return fmt.Errorf("upsert artwork_embeddings %d: %w", r.ArtworkID, err)
			}
			if _, err := tx.ExecContext(ctx, `DELETE FROM vec_artworks WHERE rowid = ?`, r.ArtworkID); err != nil {
				return fmt.Errorf("delete stale vec row %d: %w", r.ArtworkID, err)
			}
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO vec_artworks(rowid, embedding) VALUES (?, vec_int8(?))`, r.ArtworkID, blob); err != nil {
				return fmt.Errorf("insert vec row %d: %w", r.ArtworkID, err)
			}
		}
		return nil
	})
}

// DanglingEmbeddingIDs returns artwork ids present in exactly one of the
// two embedding tables (spec §3 invariant 4 / §4.6 resumability: "dangling
// rows in only one table are logged and re-embedded").
func (s *Store) DanglingEmbeddingIDs(ctx context.Context) ([]int64, error) {
	blobIDs, err := s.ExistingEmbeddingIDs(ctx)
	if err != nil {
		return nil, err
	}
	vecIDs, err := s.ExistingVecIDs(ctx)
	if err != nil {
		return nil, err
	}
	var out []int64
	for id := range blobIDs {
		if !vecIDs[id] {
			out = append(out, id)
		}
	}
	for id := range vecIDs {
		if !blobIDs[id] {
			out = append(out, id)
		}
	}
	return out, nil
}

func int8ToBytes(v []int8) []byte {
	b := make([]byte, len(v))
	for i, x := range v {
		b[i] = byte(x)
	}
	return b
}

// NearestNeighbor returns the artwork id of the closest vector to query in
// the KNN virtual table, via sqlite-vec's MATCH operator.
func (s *Store) NearestNeighbor(ctx context.Context, query []byte) (int64, error) {
	var id int64
	err := s.db.QueryRowContext(ctx, `
		SELECT rowid FROM vec_artworks
		WHERE embedding MATCH vec_int8(?)
		ORDER BY distance
		LIMIT 1
	`, query).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("knn query: %w", err)
	}
	return id, nil
}

// AllEmbeddings loads every stored quantized vector, for the brute-force
// validation scan (spec §4.6). Not meant for production-scale query
// paths — only the fixed, small validation-query set uses it.
func (s *Store) AllEmbeddings(ctx context.Context) (map[int64][]int8, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT artwork_id, embedding FROM artwork_embeddings`)
	if err != nil {
		return nil, fmt.Errorf("load all embeddings: %w", err)
	}
	defer rows.Close()

	out := map[int64][]int8{}
	for rows.Next() {
		var id int64
		var blob []byte
		if err := rows.Scan(&id, &blob); err != nil {
			return nil, err
		}
		vec := make([]int8, len(blob))
		for i, b := range blob {
			vec[i] = int8(b)
		}
		out[id] = vec
	}
	return out, rows.Err()
}

// VocabTermByID looks up a single vocabulary term by its stable string id,
// used by the geocoder's single-row reads.
func (s *Store) VocabTermByID(ctx context.Context, id string) (*model.VocabTerm, error) {
	var t model.VocabTerm
	var labelEn, labelNl, externalID *string
	row := s.db.QueryRowContext(ctx, `SELECT id, label_en, label_nl, external_id FROM vocabulary WHERE id = ?`, id)
	if err := row.Scan(&t.ID, &labelEn, &labelNl, &externalID); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("query vocab term %s: %w", id, err)
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
	return &t, nil
}
