package ntparse

import (
	"strings"
	"testing"

	"github.com/kintopp/rijksmuseum-mcp-plus/internal/model"
)

func TestParseEntityDisplayNameBothLanguages(t *testing.T) {
	nt := `<https://id.rijksmuseum.nl/12345> <http://www.w3.org/1999/02/22-rdf-syntax-ns#type> <https://linked.art/ns/Place> .
_:b0 <http://www.cidoc-crm.org/cidoc-crm/P190_has_symbolic_content> "Amsterdam" .
_:b0 <http://www.cidoc-crm.org/cidoc-crm/P72_has_language> <http://vocab.getty.edu/aat/300388277> .
_:b0 <http://www.cidoc-crm.org/cidoc-crm/P2_has_type> <http://vocab.getty.edu/aat/300404670> .
_:b1 <http://www.cidoc-crm.org/cidoc-crm/P190_has_symbolic_content> "Amsterdam" .
_:b1 <http://www.cidoc-crm.org/cidoc-crm/P72_has_language> <http://vocab.getty.edu/aat/300388256> .
_:b1 <http://www.cidoc-crm.org/cidoc-crm/P2_has_type> <http://vocab.getty.edu/aat/300404670> .
`
	term, err := ParseEntity("12345", strings.NewReader(nt), model.VocabClassification)
	if err != nil {
		t.Fatalf("ParseEntity failed: %v", err)
	}
	if term == nil {
		t.Fatal("expected a term, got nil")
	}
	if term.LabelEn != "Amsterdam" || term.LabelNl != "Amsterdam" {
		t.Errorf("expected both labels set, got en=%q nl=%q", term.LabelEn, term.LabelNl)
	}
	if term.Type != model.VocabPlace {
		t.Errorf("expected type refined to place via rdf:type, got %v", term.Type)
	}
}

func TestParseEntityCoordinates(t *testing.T) {
	nt := `_:b0 <http://www.cidoc-crm.org/cidoc-crm/P190_has_symbolic_content> "Rotterdam" .
_:b0 <http://www.cidoc-crm.org/cidoc-crm/P72_has_language> <http://vocab.getty.edu/aat/300388277> .
_:b0 <http://www.cidoc-crm.org/cidoc-crm/P2_has_type> <http://vocab.getty.edu/aat/300404670> .
<https://id.rijksmuseum.nl/999> <http://www.cidoc-crm.org/cidoc-crm/P168_place_is_defined_by> "POINT(4.47917 51.9225)" .
`
	term, err := ParseEntity("999", strings.NewReader(nt), model.VocabPlace)
	if err != nil {
		t.Fatalf("ParseEntity failed: %v", err)
	}
	if term == nil {
		t.Fatal("expected a term, got nil")
	}
	if term.Lon == nil || term.Lat == nil {
		t.Fatal("expected coordinates to be parsed")
	}
	if *term.Lon != 4.47917 || *term.Lat != 51.9225 {
		t.Errorf("expected (4.47917, 51.9225), got (%v, %v)", *term.Lon, *term.Lat)
	}
}

func TestParseEntityNoLabelReturnsNil(t *testing.T) {
	nt := `<https://id.rijksmuseum.nl/1> <http://www.w3.org/2004/02/skos/core#broader> <https://id.rijksmuseum.nl/2> .
`
	term, err := ParseEntity("1", strings.NewReader(nt), model.VocabClassification)
	if err != nil {
		t.Fatalf("ParseEntity failed: %v", err)
	}
	if term != nil {
		t.Errorf("expected nil for entity with no usable label, got %+v", term)
	}
}

func TestExternalIDPrefersIconclassThenWikidata(t *testing.T) {
	if got := bestExternalID([]string{"https://www.wikidata.org/wiki/Q1", "https://iconclass.org/25F23"}); got != "https://iconclass.org/25F23" {
		t.Errorf("expected iconclass to win, got %q", got)
	}
	if got := bestExternalID([]string{"https://www.wikidata.org/wiki/Q1"}); got != "https://www.wikidata.org/wiki/Q1" {
		t.Errorf("expected wikidata fallback, got %q", got)
	}
	if got := bestExternalID([]string{"https://example.org/other"}); got != "https://example.org/other" {
		t.Errorf("expected first-seen fallback, got %q", got)
	}
}

func TestExternalVocabSeedCount(t *testing.T) {
	seed := ExternalVocabSeed()
	if len(seed) != 2 {
		t.Errorf("expected 2 seeded external vocabulary terms, got %d", len(seed))
	}
}
