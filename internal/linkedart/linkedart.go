// Package linkedart resolves Rijksmuseum Linked Art (JSON-LD) documents:
// vocabulary terms referenced by OAI-PMH mappings (P2/P2-bis) and artwork
// "Tier 2" substructure (P4). Grounded on harvest-vocabulary-db.py's
// resolve_uri/run_phase2 and harvest-person-names.py's fetch_person_names.
package linkedart

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/kintopp/rijksmuseum-mcp-plus/internal/model"
	"github.com/kintopp/rijksmuseum-mcp-plus/internal/ntparse"
)

// Language tag URIs shared with the N-Triples parser — same AAT terms, same
// meaning, whichever serialization carries them.
const (
	LangEn = ntparse.LangEn
	LangNl = ntparse.LangNl
)

// AAT name-classification ids (harvest-person-names.py AAT_CLASSIFICATION).
const (
	aatNameDisplay   = "300404670"
	aatNamePreferred = "300404671"
	aatNameInverted  = "300404672"
)

var nameClassificationByAAT = map[string]model.NameClassification{
	aatNameDisplay:   model.NameDisplay,
	aatNamePreferred: model.NamePreferred,
	aatNameInverted:  model.NameInverted,
}

// laTypeMap maps a Linked Art `type` to an internal vocabulary type.
var laTypeMap = map[string]model.VocabType{
	"Person":          model.VocabPerson,
	"Group":           model.VocabPerson,
	"Actor":           model.VocabPerson,
	"Place":           model.VocabPlace,
	"Activity":        model.VocabEvent,
	"Event":           model.VocabEvent,
	"Set":             model.VocabClassification,
	"Type":            model.VocabClassification,
	"Concept":         model.VocabClassification,
	"Material":        model.VocabClassification,
	"MeasurementUnit": model.VocabClassification,
	"Language":        model.VocabClassification,
	"Currency":        model.VocabClassification,
}

// langRef is an {"id": "..."} reference, used for language and
// classified_as/equivalent/technique arrays alike.
type langRef struct {
	ID string `json:"id"`
}

// identifiedByEntry is one entry of a Linked Art `identified_by` array —
// covers both Name and Identifier entries; Type distinguishes them.
type identifiedByEntry struct {
	Type         string          `json:"type"`
	Content      json.RawMessage `json:"content"`
	Language     []langRef       `json:"language"`
	ClassifiedAs []langRef       `json:"classified_as"`
}

// text returns the entry's content flattened to a single string.
func (e identifiedByEntry) text() string {
	return flattenContent(e.Content)
}

// flattenContent decodes a Linked Art `content` field. It is usually a
// plain string, but some Tier-2 documents carry an array of strings for a
// single statement (e.g. a name recorded in more than one script); array
// variants are flattened by joining with " | ", the same separator
// extractConcatenatedText uses for multiple matching statements.
func flattenContent(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var arr []string
	if err := json.Unmarshal(raw, &arr); err == nil {
		return strings.Join(arr, " | ")
	}
	return ""
}

// dimensionEntry is one Linked Art `dimension` array entry.
type dimensionEntry struct {
	Value        float64   `json:"value"`
	Unit         langRef   `json:"unit"`
	ClassifiedAs []langRef `json:"classified_as"`
}

// timespan carries ISO-ish date bound strings (may have a leading '-' for BCE).
type timespan struct {
	BeginOfTheBegin string `json:"begin_of_the_begin"`
	EndOfTheEnd     string `json:"end_of_the_end"`
}

// production is a `produced_by` node, possibly with sub-events in `part`.
type production struct {
	Timespan     *timespan    `json:"timespan"`
	Part         []production `json:"part"`
	Technique    []langRef    `json:"technique"`
	ClassifiedAs []langRef    `json:"classified_as"`
}

// linguisticObjectGroup is a `subject_of` entry — a LinguisticObject that
// itself bundles essay-length narrative text in a `part` array, distinct
// from the flat `referred_to_by` text statements.
type linguisticObjectGroup struct {
	Part []referredToByEntry `json:"part"`
}

// Document is a Linked Art JSON-LD resource, covering both vocabulary
// terms (Person/Place/Concept/...) and artworks (HumanMadeObject).
type Document struct {
	ID           string              `json:"id"`
	Type         string              `json:"type"`
	IdentifiedBy []identifiedByEntry `json:"identified_by"`
	Equivalent   []langRef           `json:"equivalent"`
	ClassifiedAs []langRef           `json:"classified_as"`
	DefinedBy    json.RawMessage     `json:"defined_by"`
	ProducedBy   *production         `json:"produced_by"`
	Dimension    []dimensionEntry    `json:"dimension"`
	ReferredToBy []referredToByEntry `json:"referred_to_by"`
	SubjectOf    []linguisticObjectGroup `json:"subject_of"`
}

// definedByWKT returns the document's defined_by field as a WKT string, if
// it is one (places encode their footprint this way; other types either
// omit the field or use a richer structure we don't need here).
func (d *Document) definedByWKT() string {
	if len(d.DefinedBy) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(d.DefinedBy, &s); err != nil {
		return ""
	}
	return s
}

// Config carries the resolver's tunables, sourced from Config.LinkedArt.
type Config struct {
	BaseURL       string
	UserAgent     string
	AcceptHeader  string
	ProfileHeader string
}

// Client fetches and decodes Linked Art JSON-LD resources.
type Client struct {
	cfg    Config
	client *http.Client
}

func NewClient(cfg Config, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{cfg: cfg, client: httpClient}
}

// errNotFound marks a 404 so callers can distinguish "this id is not a
// Rijksmuseum entity" (permanent, do not retry) from a transient failure.
type errNotFound struct {
	url string
}

func (e *errNotFound) Error() string { return fmt.Sprintf("not found: %s", e.url) }

// IsNotFound reports whether err wraps a 404 response.
func IsNotFound(err error) bool {
	var nf *errNotFound
	return err != nil && asErrNotFound(err, &nf)
}

func asErrNotFound(err error, target **errNotFound) bool {
	for err != nil {
		if nf, ok := err.(*errNotFound); ok {
			*target = nf
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

// Fetch resolves id against the Linked Art base URL and decodes the result.
func (c *Client) Fetch(ctx context.Context, id string) (*Document, error) {
	url := fmt.Sprintf("%s/%s", strings.TrimRight(c.cfg.BaseURL, "/"), id)
	return c.fetchURL(ctx, url)
}

// FetchURI resolves an already-absolute Linked Art URI (used by P4, which
// stores the artwork's own URI from OAI-PMH's ProvidedCHO rdf:about).
func (c *Client) FetchURI(ctx context.Context, uri string) (*Document, error) {
	return c.fetchURL(ctx, uri)
}

func (c *Client) fetchURL(ctx context.Context, url string) (*Document, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build linked art request: %w", err)
	}
	req.Header.Set("Accept", c.cfg.AcceptHeader)
	req.Header.Set("Profile", c.cfg.ProfileHeader)
	req.Header.Set("User-Agent", c.cfg.UserAgent)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, &errNotFound{url: url}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch %s: status %d", url, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", url, err)
	}

	var doc Document
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("decode %s: %w", url, err)
	}
	return &doc, nil
}

// extractLabel walks identified_by for the first AAT-display-language-
// tagged label in English, then Dutch, falling back to the first content
// string seen if neither language matches anything — the same conservative
// fallback the Python resolver applies.
func extractLabel(entries []identifiedByEntry) (labelEn, labelNl string) {
	var fallback string
	for _, e := range entries {
		content := e.text()
		if content == "" {
			continue
		}
		langIDs := make([]string, 0, len(e.Language))
		for _, l := range e.Language {
			langIDs = append(langIDs, l.ID)
		}
		switch {
		case containsID(langIDs, LangEn):
			if labelEn == "" {
				labelEn = content
			}
		case containsID(langIDs, LangNl):
			if labelNl == "" {
				labelNl = content
			}
		default:
			if fallback == "" {
				fallback = content
			}
		}
	}
	if labelEn == "" && labelNl == "" {
		labelEn = fallback
	}
	return labelEn, labelNl
}

func containsID(ids []string, target string) bool {
	for _, id := range ids {
		if id == target {
			return true
		}
	}
	return false
}

// extractExternalID prefers a Wikidata equivalent link, else the first
// equivalent seen.
func extractExternalID(equivalents []langRef) string {
	for _, eq := range equivalents {
		if strings.Contains(eq.ID, "wikidata.org") {
			return eq.ID
		}
	}
	if len(equivalents) > 0 {
		return equivalents[0].ID
	}
	return ""
}
