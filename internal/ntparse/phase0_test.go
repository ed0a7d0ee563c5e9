package ntparse

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/kintopp/rijksmuseum-mcp-plus/internal/model"
	"github.com/kintopp/rijksmuseum-mcp-plus/internal/store"
)

func writeTestDumpArchive(t *testing.T, path string, files map[string]string) {
	t.Helper()

	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)
	for name, content := range files {
		hdr := &tar.Header{Name: name, Size: int64(len(content)), Mode: 0o644}
		if err := tw.WriteHeader(hdr); err != nil {
			t.Fatalf("write tar header: %v", err)
		}
		if _, err := tw.Write([]byte(content)); err != nil {
			t.Fatalf("write tar content: %v", err)
		}
	}
	if err := tw.Close(); err != nil {
		t.Fatalf("close tar writer: %v", err)
	}
	if err := gz.Close(); err != nil {
		t.Fatalf("close gzip writer: %v", err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		t.Fatalf("write archive: %v", err)
	}
}

func TestExtractDumpAndWalk(t *testing.T) {
	dir := t.TempDir()
	archivePath := filepath.Join(dir, "place.tar.gz")

	entity := `_:b0 <http://www.cidoc-crm.org/cidoc-crm/P190_has_symbolic_content> "Utrecht" .
_:b0 <http://www.cidoc-crm.org/cidoc-crm/P72_has_language> <http://vocab.getty.edu/aat/300388277> .
_:b0 <http://www.cidoc-crm.org/cidoc-crm/P2_has_type> <http://vocab.getty.edu/aat/300404670> .
`
	writeTestDumpArchive(t, archivePath, map[string]string{"13000": entity})

	extractDir := filepath.Join(dir, "extracted")
	if err := ExtractDump(archivePath, extractDir); err != nil {
		t.Fatalf("ExtractDump failed: %v", err)
	}

	terms, err := WalkDumpDir(extractDir, model.VocabPlace)
	if err != nil {
		t.Fatalf("WalkDumpDir failed: %v", err)
	}
	if len(terms) != 1 {
		t.Fatalf("expected 1 term, got %d", len(terms))
	}
	if terms[0].ID != "13000" || terms[0].LabelEn != "Utrecht" {
		t.Errorf("expected id=13000 label=Utrecht, got %+v", terms[0])
	}

	// A second extraction should short-circuit rather than erroring on
	// already-populated directory contents.
	if err := ExtractDump(archivePath, extractDir); err != nil {
		t.Errorf("second ExtractDump should be a no-op, got error: %v", err)
	}
}

func TestRunPhase0SeedsExternalVocabularyWithoutDumpsDir(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "vocabulary.db")
	st, err := store.Open(dbPath)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer st.Close()

	missingDir := filepath.Join(t.TempDir(), "does-not-exist")
	if err := RunPhase0(context.Background(), st, missingDir, t.TempDir()); err != nil {
		t.Fatalf("RunPhase0 failed: %v", err)
	}

	var count int
	row := st.DB().QueryRow("SELECT COUNT(*) FROM vocabulary WHERE id IN ('300078817', '300010292')")
	if err := row.Scan(&count); err != nil {
		t.Fatalf("scan: %v", err)
	}
	if count != 2 {
		t.Errorf("expected 2 external vocabulary rows seeded, got %d", count)
	}
}
