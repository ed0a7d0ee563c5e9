package linkedart

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/kintopp/rijksmuseum-mcp-plus/internal/model"
)

func jsonContent(s string) json.RawMessage {
	b, err := json.Marshal(s)
	if err != nil {
		panic(err)
	}
	return b
}

func testConfig(baseURL string) Config {
	return Config{
		BaseURL:       baseURL,
		UserAgent:     "test-agent",
		AcceptHeader:  "application/ld+json",
		ProfileHeader: "https://linked.art/ns/v1/linked-art.json",
	}
}

func TestFetchAndResolvePlace(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/ld+json")
		_, _ = w.Write([]byte(`{
			"id": "https://id.rijksmuseum.nl/13000",
			"type": "Place",
			"identified_by": [
				{"type": "Name", "content": "Utrecht", "language": [{"id": "` + LangEn + `"}]}
			],
			"equivalent": [{"id": "https://www.wikidata.org/wiki/Q803"}],
			"defined_by": "POINT(5.1214 52.0907)"
		}`))
	}))
	defer server.Close()

	client := NewClient(testConfig(server.URL), nil)
	doc, err := client.Fetch(context.Background(), "13000")
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}

	term := ResolveVocabTerm("13000", doc)
	if term == nil {
		t.Fatal("expected resolved term, got nil")
	}
	if term.Type != model.VocabPlace {
		t.Errorf("expected place, got %v", term.Type)
	}
	if term.LabelEn != "Utrecht" {
		t.Errorf("expected label Utrecht, got %q", term.LabelEn)
	}
	if term.Lat == nil || term.Lon == nil || *term.Lat != 52.0907 || *term.Lon != 5.1214 {
		t.Errorf("expected coordinates (52.0907,5.1214), got lat=%v lon=%v", term.Lat, term.Lon)
	}
	if term.ExternalID != "https://www.wikidata.org/wiki/Q803" {
		t.Errorf("expected wikidata external id, got %q", term.ExternalID)
	}
}

func TestFetchNotFound(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	client := NewClient(testConfig(server.URL), nil)
	_, err := client.Fetch(context.Background(), "missing")
	if err == nil {
		t.Fatal("expected error for 404")
	}
	if !IsNotFound(err) {
		t.Errorf("expected IsNotFound to recognize the error, got %v", err)
	}
}

func TestResolveVocabTermUnrecognizedType(t *testing.T) {
	doc := &Document{ID: "x", Type: "SomethingElse"}
	if term := ResolveVocabTerm("x", doc); term != nil {
		t.Errorf("expected nil for unrecognized type, got %+v", term)
	}
}

func TestExtractPersonNameVariantsDedup(t *testing.T) {
	doc := &Document{
		IdentifiedBy: []identifiedByEntry{
			{Type: "Name", Content: jsonContent("Rembrandt van Rijn"), Language: []langRef{{ID: LangEn}}, ClassifiedAs: []langRef{{ID: "http://vocab.getty.edu/aat/300404670"}}},
			{Type: "Name", Content: jsonContent("Rembrandt van Rijn"), Language: []langRef{{ID: LangEn}}},
			{Type: "Name", Content: jsonContent("Rijn, Rembrandt van"), Language: []langRef{{ID: LangEn}}, ClassifiedAs: []langRef{{ID: "http://vocab.getty.edu/aat/300404672"}}},
			{Type: "Identifier", Content: jsonContent("ULAN-1234")},
		},
	}

	variants := ExtractPersonNameVariants("31111", doc)
	if len(variants) != 2 {
		t.Fatalf("expected 2 deduplicated Name variants, got %d: %+v", len(variants), variants)
	}
	if variants[0].Classification != model.NameDisplay {
		t.Errorf("expected first variant classified display, got %v", variants[0].Classification)
	}
	if variants[1].Classification != model.NameInverted {
		t.Errorf("expected second variant classified inverted, got %v", variants[1].Classification)
	}
}

func TestExtractClassifiedTextAndDimensions(t *testing.T) {
	doc := &Document{
		ReferredToBy: []referredToByEntry{
			{Content: jsonContent("Dutch inscription"), Language: []langRef{{ID: LangNl}}, ClassifiedAs: []langRef{{ID: "aat:300435414"}}},
			{Content: jsonContent("English inscription"), Language: []langRef{{ID: LangEn}}, ClassifiedAs: []langRef{{ID: "aat:300435414"}}},
		},
		SubjectOf: []linguisticObjectGroup{
			{Part: []referredToByEntry{
				{Content: jsonContent("short"), ClassifiedAs: []langRef{{ID: "aat:300048722"}}},
				{Content: jsonContent("a much longer narrative essay about the painting"), Language: []langRef{{ID: LangEn}}, ClassifiedAs: []langRef{{ID: "aat:300048722"}}},
			}},
		},
		Dimension: []dimensionEntry{
			{Value: 100, Unit: langRef{ID: "aat:centimeter"}, ClassifiedAs: []langRef{{ID: "aat:300055644"}}},
			{Value: 50, Unit: langRef{ID: "aat:centimeter"}, ClassifiedAs: []langRef{{ID: "aat:300055647"}}},
		},
	}

	// Multiple hits for the same AAT class concatenate in document order,
	// rather than picking one by language preference.
	inscription := extractConcatenatedText(doc, aatInscription)
	if inscription != "Dutch inscription | English inscription" {
		t.Errorf("expected both inscriptions concatenated, got %q", inscription)
	}

	narrative := extractNarrative(doc, aatNarrative, defaultLangOrder)
	if narrative != "a much longer narrative essay about the painting" {
		t.Errorf("expected the English-tagged narrative part, got %q", narrative)
	}

	artwork, _ := ExtractTier2(doc, DefaultEnrichConfig())
	if artwork.HeightCM == nil || *artwork.HeightCM != 100 {
		t.Errorf("expected height 100cm, got %v", artwork.HeightCM)
	}
	if artwork.WidthCM == nil || *artwork.WidthCM != 50 {
		t.Errorf("expected width 50cm, got %v", artwork.WidthCM)
	}
}

func TestExtractConcatenatedTextStripsInlineHTML(t *testing.T) {
	doc := &Document{
		ReferredToBy: []referredToByEntry{
			{Content: jsonContent("a stray <i>italic</i> inscription with a<br>line break"), ClassifiedAs: []langRef{{ID: "aat:300435414"}}},
		},
	}
	got := extractConcatenatedText(doc, aatInscription)
	if strings.Contains(got, "<") {
		t.Errorf("expected html markup stripped, got %q", got)
	}
	if !strings.Contains(got, "italic") || !strings.Contains(got, "line break") {
		t.Errorf("expected text content preserved, got %q", got)
	}
}

func TestFlattenContentHandlesArrayValues(t *testing.T) {
	if got := flattenContent(json.RawMessage(`"plain string"`)); got != "plain string" {
		t.Errorf("expected plain string passthrough, got %q", got)
	}
	if got := flattenContent(json.RawMessage(`["part one", "part two"]`)); got != "part one | part two" {
		t.Errorf("expected array values flattened, got %q", got)
	}
	if got := flattenContent(nil); got != "" {
		t.Errorf("expected empty string for nil content, got %q", got)
	}
}

func TestExtractConcatenatedTextFlattensArrayContent(t *testing.T) {
	doc := &Document{
		ReferredToBy: []referredToByEntry{
			{Content: json.RawMessage(`["a multi-valued", "inscription"]`), ClassifiedAs: []langRef{{ID: "aat:300435414"}}},
		},
	}
	if got := extractConcatenatedText(doc, aatInscription); got != "a multi-valued | inscription" {
		t.Errorf("expected flattened array content, got %q", got)
	}
}

func TestParseTimespanYearHandlesBCE(t *testing.T) {
	if y := parseTimespanYear("1642-01-01"); y == nil || *y != 1642 {
		t.Errorf("expected 1642, got %v", y)
	}
	if y := parseTimespanYear("-0050-01-01"); y == nil || *y != -50 {
		t.Errorf("expected -50, got %v", y)
	}
	if y := parseTimespanYear(""); y != nil {
		t.Errorf("expected nil for empty bound, got %v", y)
	}
}

func TestExtractProductionMappings(t *testing.T) {
	doc := &Document{
		ProducedBy: &production{
			Part: []production{
				{
					Technique:    []langRef{{ID: "https://id.rijksmuseum.nl/12345"}},
					ClassifiedAs: []langRef{{ID: "https://id.rijksmuseum.nl/67890"}},
				},
			},
		},
	}
	_, mappings := ExtractTier2(doc, DefaultEnrichConfig())
	var sawRole, sawQualifier bool
	for _, m := range mappings {
		if m.Field == model.FieldProductionRole && m.VocabID == "12345" {
			sawRole = true
		}
		if m.Field == model.FieldAttributionQualifier && m.VocabID == "67890" {
			sawQualifier = true
		}
	}
	if !sawRole || !sawQualifier {
		t.Errorf("expected production_role and attribution_qualifier mappings, got %+v", mappings)
	}
}
