package embed

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/kintopp/rijksmuseum-mcp-plus/internal/store"
)

// fakeQueryEncoder returns a fixed vector per query text, used only to drive
// Validate through Encoder without a real Gemini client.
type fakeQueryEncoder struct {
	dims    int
	vectors map[string][]float32
}

func (f *fakeQueryEncoder) Dimensions() int { return f.dims }

func (f *fakeQueryEncoder) EmbedBatch(ctx context.Context, texts []string, prefix string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = f.vectors[t]
	}
	return out, nil
}

// TestValidateAgreesWithBruteForce seeds both embedding tables with a small
// set of orthogonal vectors and confirms sqlite-vec's KNN top-1 hit matches
// a brute-force cosine scan over every stored embedding, for queries nearest
// each of the three seeded artworks (spec §4.6 Validation, §8 seed test 4).
// It requires a real sqlite-vec shared library, so it skips when one isn't
// made available to the test run via RIJKSHARVEST_TEST_VEC_EXTENSION.
func TestValidateAgreesWithBruteForce(t *testing.T) {
	vecPath := os.Getenv("RIJKSHARVEST_TEST_VEC_EXTENSION")
	if vecPath == "" {
		t.Skip("RIJKSHARVEST_TEST_VEC_EXTENSION not set; sqlite-vec shared library required for KNN agreement test")
	}

	store.SetVecExtensionPath(vecPath)
	defer store.SetVecExtensionPath("")

	st, err := store.Open(filepath.Join(t.TempDir(), "embed-validate.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer st.Close()

	ctx := context.Background()
	const dims = 4
	if err := st.EnsureVecTable(ctx, dims); err != nil {
		t.Fatalf("ensure vec table: %v", err)
	}

	seeded := []store.EmbeddingRow{
		{ArtworkID: 1, SourceText: "artwork one", SourceHash: "h1", Vector: []int8{120, 0, 0, 0}},
		{ArtworkID: 2, SourceText: "artwork two", SourceHash: "h2", Vector: []int8{0, 120, 0, 0}},
		{ArtworkID: 3, SourceText: "artwork three", SourceHash: "h3", Vector: []int8{0, 0, 120, 0}},
	}
	if err := st.FlushEmbeddings(ctx, seeded); err != nil {
		t.Fatalf("flush embeddings: %v", err)
	}

	queries := []string{"near one", "near two", "near three"}
	enc := &fakeQueryEncoder{
		dims: dims,
		vectors: map[string][]float32{
			"near one":   {0.9, 0.1, 0.0, 0.0},
			"near two":   {0.0, 0.95, 0.05, 0.0},
			"near three": {0.05, 0.0, 0.9, 0.0},
		},
	}

	results, err := Validate(ctx, st, enc, "query: ", queries)
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if len(results) != len(queries) {
		t.Fatalf("expected %d results, got %d", len(queries), len(results))
	}

	wantTop1 := map[string]int64{"near one": 1, "near two": 2, "near three": 3}
	for _, r := range results {
		if !r.Agree {
			t.Errorf("query %q: knn top1 %d disagrees with brute-force top1 %d", r.Query, r.KNNTop1, r.BruteTop1)
		}
		if want := wantTop1[r.Query]; r.KNNTop1 != want {
			t.Errorf("query %q: expected top1 artwork %d, got %d", r.Query, want, r.KNNTop1)
		}
	}
}

// TestBruteForceNearestPicksLowestCosineDistance exercises the pure
// brute-force scan directly (no sqlite-vec needed), pinning its tie-break
// (lowest artwork id wins) and its agreement with an obviously-closest
// vector.
func TestBruteForceNearestPicksLowestCosineDistance(t *testing.T) {
	all := map[int64][]int8{
		1: {127, 0, 0, 0},
		2: {0, 127, 0, 0},
		3: {90, 90, 0, 0},
	}
	q := []int8{127, 0, 0, 0}
	if got := bruteForceNearest(q, all); got != 1 {
		t.Errorf("expected artwork 1 (identical vector), got %d", got)
	}

	tied := map[int64][]int8{
		5: {127, 0, 0, 0},
		2: {127, 0, 0, 0},
	}
	if got := bruteForceNearest(q, tied); got != 2 {
		t.Errorf("expected lowest id (2) to win an exact tie, got %d", got)
	}
}
