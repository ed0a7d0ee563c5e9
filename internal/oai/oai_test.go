package oai

import (
	"context"
	"encoding/xml"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kintopp/rijksmuseum-mcp-plus/internal/model"
	"github.com/kintopp/rijksmuseum-mcp-plus/internal/store"
)

const samplePage = `<?xml version="1.0" encoding="UTF-8"?>
<OAI-PMH xmlns="http://www.openarchives.org/OAI/2.0/">
  <ListRecords>
    <record>
      <header>
        <identifier>oai:data.rijksmuseum.nl:SK-A-1</identifier>
        <setSpec>schilderijen</setSpec>
      </header>
      <metadata>
        <rdf:RDF xmlns:rdf="http://www.w3.org/1999/02/22-rdf-syntax-ns#"
                 xmlns:ore="http://www.openarchives.org/ore/terms/"
                 xmlns:edm="http://www.europeana.eu/schemas/edm/"
                 xmlns:dc="http://purl.org/dc/elements/1.1/"
                 xmlns:dcterms="http://purl.org/dc/terms/">
          <ore:Aggregation rdf:about="https://data.rijksmuseum.nl/aggregation/SK-A-1">
            <edm:rights rdf:resource="http://creativecommons.org/publicdomain/mark/1.0/"/>
          </ore:Aggregation>
          <edm:ProvidedCHO rdf:about="https://id.rijksmuseum.nl/SK-A-1">
            <dc:identifier>SK-A-1</dc:identifier>
            <dc:title xml:lang="en">The Night Watch</dc:title>
            <dc:subject rdf:resource="https://id.rijksmuseum.nl/22222"/>
            <dc:creator rdf:resource="https://id.rijksmuseum.nl/31111"/>
          </edm:ProvidedCHO>
          <edm:Agent rdf:about="https://id.rijksmuseum.nl/31111">
            <skos:prefLabel xmlns:skos="http://www.w3.org/2004/02/skos/core#" xml:lang="en">Rembrandt van Rijn</skos:prefLabel>
          </edm:Agent>
        </rdf:RDF>
      </metadata>
    </record>
    <record>
      <header status="deleted">
        <identifier>oai:data.rijksmuseum.nl:SK-A-DEAD</identifier>
      </header>
    </record>
  </ListRecords>
</OAI-PMH>`

func TestExtractRecords(t *testing.T) {
	var root node
	if err := xml.Unmarshal([]byte(samplePage), &root); err != nil {
		t.Fatalf("unmarshal sample page: %v", err)
	}

	records := extractRecords(&root)
	if len(records) != 1 {
		t.Fatalf("expected 1 non-deleted record, got %d", len(records))
	}

	rec := records[0]
	if rec.ObjectNumber != "SK-A-1" {
		t.Errorf("expected object number SK-A-1, got %q", rec.ObjectNumber)
	}
	if rec.Title != "The Night Watch" {
		t.Errorf("expected title 'The Night Watch', got %q", rec.Title)
	}
	if rec.CreatorLabel != "Rembrandt van Rijn" {
		t.Errorf("expected creator label, got %q", rec.CreatorLabel)
	}
	if rec.RightsURI != "http://creativecommons.org/publicdomain/mark/1.0/" {
		t.Errorf("expected rights uri, got %q", rec.RightsURI)
	}

	var sawSubject, sawCreator, sawSet bool
	for _, m := range rec.Mappings {
		switch {
		case m.field == model.FieldSubject && m.vocabID == "22222":
			sawSubject = true
		case m.field == model.FieldCreator && m.vocabID == "31111":
			sawCreator = true
		case m.field == model.FieldCollectionSet && m.vocabID == "schilderijen":
			sawSet = true
		}
	}
	if !sawSubject || !sawCreator || !sawSet {
		t.Errorf("expected subject/creator/collection_set mappings, got %+v", rec.Mappings)
	}
}

func TestRunHarvestsSinglePageAndWritesStore(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/xml")
		_, _ = w.Write([]byte(samplePage))
	}))
	defer server.Close()

	dbPath := filepath.Join(t.TempDir(), "vocabulary.db")
	st, err := store.Open(dbPath)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer st.Close()

	h := New(Config{
		BaseURL:        server.URL,
		MetadataPrefix: "edm",
		UserAgent:      "test-agent",
		CheckpointPath: filepath.Join(t.TempDir(), "checkpoint.json"),
		PageTimeout:    5 * time.Second,
		MaxRetries:     1,
		RetryBaseDelay: time.Millisecond,
		CommitEveryN:   1,
		ProgressEveryN: 0,
	})

	if err := h.Run(context.Background(), st, false); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	var title string
	row := st.DB().QueryRow("SELECT title FROM artworks WHERE object_number = ?", "SK-A-1")
	if err := row.Scan(&title); err != nil {
		t.Fatalf("scan: %v", err)
	}
	if title != "The Night Watch" {
		t.Errorf("expected title to be written, got %q", title)
	}
}

// oaiPage renders a ListRecords page with one record per object number,
// optionally carrying a resumptionToken (empty means final page).
func oaiPage(objectNumbers []string, resumptionToken string) string {
	var records strings.Builder
	for _, id := range objectNumbers {
		fmt.Fprintf(&records, `
    <record>
      <header>
        <identifier>oai:data.rijksmuseum.nl:%[1]s</identifier>
      </header>
      <metadata>
        <rdf:RDF xmlns:rdf="http://www.w3.org/1999/02/22-rdf-syntax-ns#"
                 xmlns:edm="http://www.europeana.eu/schemas/edm/"
                 xmlns:dc="http://purl.org/dc/elements/1.1/">
          <edm:ProvidedCHO rdf:about="https://id.rijksmuseum.nl/%[1]s">
            <dc:identifier>%[1]s</dc:identifier>
            <dc:title xml:lang="en">Untitled %[1]s</dc:title>
          </edm:ProvidedCHO>
        </rdf:RDF>
      </metadata>
    </record>`, id)
	}
	token := ""
	if resumptionToken != "" {
		token = fmt.Sprintf("\n    <resumptionToken>%s</resumptionToken>", resumptionToken)
	}
	return fmt.Sprintf(`<?xml version="1.0" encoding="UTF-8"?>
<OAI-PMH xmlns="http://www.openarchives.org/OAI/2.0/">
  <ListRecords>%s%s
  </ListRecords>
</OAI-PMH>`, records.String(), token)
}

func objectNumbers(prefix string, from, to int) []string {
	out := make([]string, 0, to-from+1)
	for i := from; i <= to; i++ {
		out = append(out, fmt.Sprintf("%s-%d", prefix, i))
	}
	return out
}

// TestRunResumesAfterCrashWithoutDuplicatingRecords simulates a two-page
// harvest that fails after the first page commits (the resumption token
// from page A is checkpointed to disk, but the fetch of page B fails
// outright, mirroring a process crash mid-harvest). A second Run call with
// resume=true must pick up exactly where the checkpoint left off: page B is
// (re)fetched, the store ends up with all 20 distinct artworks and no
// duplicates, and the checkpoint file is gone once the harvest completes
// (spec §5 resumability, §8 seed test 1).
func TestRunResumesAfterCrashWithoutDuplicatingRecords(t *testing.T) {
	const resumeToken = "page-2-token"
	pageA := oaiPage(objectNumbers("SK-A", 1, 10), resumeToken)
	pageB := oaiPage(objectNumbers("SK-A", 11, 20), "")

	var pageBAttempts int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/xml")
		if r.URL.Query().Get("resumptionToken") == resumeToken {
			if atomic.AddInt32(&pageBAttempts, 1) == 1 {
				w.WriteHeader(http.StatusInternalServerError)
				return
			}
			_, _ = w.Write([]byte(pageB))
			return
		}
		_, _ = w.Write([]byte(pageA))
	}))
	defer server.Close()

	dbPath := filepath.Join(t.TempDir(), "vocabulary.db")
	st, err := store.Open(dbPath)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer st.Close()

	checkpointPath := filepath.Join(t.TempDir(), "checkpoint.json")
	cfg := Config{
		BaseURL:        server.URL,
		MetadataPrefix: "edm",
		UserAgent:      "test-agent",
		CheckpointPath: checkpointPath,
		PageTimeout:    5 * time.Second,
		MaxRetries:     0,
		RetryBaseDelay: time.Millisecond,
		CommitEveryN:   1,
		ProgressEveryN: 0,
	}

	h := New(cfg)
	if err := h.Run(context.Background(), st, false); err == nil {
		t.Fatal("expected first Run to fail on the simulated page-B crash")
	}

	if _, err := os.Stat(checkpointPath); err != nil {
		t.Fatalf("expected checkpoint file to survive the crash: %v", err)
	}
	if n := countArtworks(t, st); n != 10 {
		t.Fatalf("expected 10 artworks committed before the crash, got %d", n)
	}

	h2 := New(cfg)
	if err := h2.Run(context.Background(), st, true); err != nil {
		t.Fatalf("resumed Run failed: %v", err)
	}

	if pageBAttempts != 2 {
		t.Errorf("expected page B to be fetched twice (crash + resume), got %d", pageBAttempts)
	}
	if n := countArtworks(t, st); n != 20 {
		t.Errorf("expected 20 distinct artworks after resume, got %d", n)
	}
	if _, err := os.Stat(checkpointPath); err == nil {
		t.Error("expected checkpoint file to be cleared after a completed harvest")
	}
}

func countArtworks(t *testing.T, st *store.Store) int {
	t.Helper()
	var n int
	if err := st.DB().QueryRow(`SELECT COUNT(DISTINCT object_number) FROM artworks`).Scan(&n); err != nil {
		t.Fatalf("count artworks: %v", err)
	}
	return n
}
