package linkedart

import (
	"encoding/json"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/kintopp/rijksmuseum-mcp-plus/internal/model"
)

// AAT text-statement classification ids (original_source build-iconclass-db.py
// and the Linked Art profile's referred_to_by convention).
const (
	aatInscription = "300435414"
	aatProvenance  = "300444174"
	aatCreditLine  = "300026687"
	aatDescription = "300435452"
	aatNarrative   = "300048722" // essay-length narrative text
)

var defaultLangOrder = []string{"en", "nl"}

// referredToByEntry is a Linked Art LinguisticObject carrying a text
// statement (inscription, provenance, description, ...), reached via
// `referred_to_by` rather than `identified_by` (which is reserved for
// Name/Identifier entries).
type referredToByEntry struct {
	Type         string          `json:"type"`
	Content      json.RawMessage `json:"content"`
	Language     []langRef       `json:"language"`
	ClassifiedAs []langRef       `json:"classified_as"`
}

// text returns the entry's content flattened to a single string.
func (e referredToByEntry) text() string {
	return flattenContent(e.Content)
}

// EnrichConfig carries the configurable AAT id lists for dimension fields —
// "or the museum-specific equivalent id", so these are not hardcoded to a
// single constant.
type EnrichConfig struct {
	HeightAATIDs []string
	WidthAATIDs  []string
}

func DefaultEnrichConfig() EnrichConfig {
	return EnrichConfig{
		HeightAATIDs: []string{"300055644"},
		WidthAATIDs:  []string{"300055647"},
	}
}

// unitToCM converts a dimension unit id's local suffix to a centimeter
// multiplier and reports whether the unit was recognized (a round only
// happens when a conversion actually occurred). Unknown units default to
// 1.0 (open question, carried as-is).
func unitToCM(unitID string) (factor float64, known bool) {
	switch {
	case strings.HasSuffix(unitID, "cm"), strings.Contains(strings.ToLower(unitID), "centimeter"):
		return 1.0, true
	case strings.HasSuffix(unitID, "mm"), strings.Contains(strings.ToLower(unitID), "millimeter"):
		return 0.1, true
	case strings.HasSuffix(unitID, "m"), strings.Contains(strings.ToLower(unitID), "meter"):
		return 100.0, true
	default:
		return 1.0, false
	}
}

// extractConcatenatedText collects every referred_to_by entry classified
// under aatID and joins their contents with " | " in document order — the
// four text-statement fields (inscription/provenance/credit-line/
// description) all go through this (spec §4.4: "multiple hits per class
// are concatenated ... in document order").
func extractConcatenatedText(doc *Document, aatID string) string {
	var parts []string
	for _, e := range doc.ReferredToBy {
		if !classifiedAs(e.ClassifiedAs, aatID) {
			continue
		}
		if c := strings.TrimSpace(sanitizeHTML(e.text())); c != "" {
			parts = append(parts, c)
		}
	}
	return strings.Join(parts, " | ")
}

// sanitizeHTML strips inline markup that Tier-2 text statements occasionally
// carry (AAT free-text inscription/provenance/description fields are
// sometimes transcribed with stray `<i>`/`<br>` tags from the museum's own
// editorial tooling). Plain text without a '<' passes through untouched.
func sanitizeHTML(s string) string {
	if !strings.ContainsRune(s, '<') {
		return s
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(s))
	if err != nil {
		return s
	}
	text := doc.Find("body").Text()
	if text == "" {
		return s
	}
	return text
}

// extractNarrative picks the first essay-classified (aatNarrative) part
// within subject_of[].part[], preferring English, then Dutch, then
// whichever comes first — a single pick, not a concatenation.
func extractNarrative(doc *Document, aatID string, langOrder []string) string {
	var candidates []referredToByEntry
	for _, s := range doc.SubjectOf {
		for _, e := range s.Part {
			if classifiedAs(e.ClassifiedAs, aatID) {
				candidates = append(candidates, e)
			}
		}
	}
	if len(candidates) == 0 {
		return ""
	}

	for _, lang := range langOrder {
		for _, c := range candidates {
			for _, l := range c.Language {
				if languageMatches(l.ID, lang) {
					return strings.TrimSpace(sanitizeHTML(c.text()))
				}
			}
		}
	}
	return strings.TrimSpace(sanitizeHTML(candidates[0].text()))
}

func classifiedAs(classifications []langRef, aatID string) bool {
	for _, c := range classifications {
		if strings.HasSuffix(c.ID, aatID) {
			return true
		}
	}
	return false
}

func languageMatches(langID, lang string) bool {
	switch lang {
	case "en":
		return langID == LangEn
	case "nl":
		return langID == LangNl
	default:
		return false
	}
}

var leadingYear = regexp.MustCompile(`^(-?\d+)-`)

// parseTimespanYear extracts the leading year from a Linked Art timespan
// bound string (e.g. "1642-01-01" -> 1642, "-0050-01-01" -> -50, matching
// ISO 8601's signed-year convention for BCE dates).
func parseTimespanYear(bound string) *int {
	m := leadingYear.FindStringSubmatch(bound)
	if m == nil {
		return nil
	}
	year, err := strconv.Atoi(m[1])
	if err != nil {
		return nil
	}
	return &year
}

// TierMapping is a (vocabulary id, field) pair minted by P4 extraction —
// production_role and attribution_qualifier references that P2-bis must
// still resolve.
type TierMapping struct {
	VocabID string
	Field   model.MappingField
}

// ExtractTier2 pulls every Tier-2 substructure field the distilled spec
// names out of a fetched artwork document.
func ExtractTier2(doc *Document, cfg EnrichConfig) (model.Artwork, []TierMapping) {
	a := model.Artwork{
		Inscription: extractConcatenatedText(doc, aatInscription),
		Provenance:  extractConcatenatedText(doc, aatProvenance),
		CreditLine:  extractConcatenatedText(doc, aatCreditLine),
		Description: extractConcatenatedText(doc, aatDescription),
		Narrative:   extractNarrative(doc, aatNarrative, defaultLangOrder),
		AllTitles:   extractAllTitles(doc),
	}

	if h, ok := extractDimension(doc, cfg.HeightAATIDs); ok {
		a.HeightCM = &h
	}
	if w, ok := extractDimension(doc, cfg.WidthAATIDs); ok {
		a.WidthCM = &w
	}

	if doc.ProducedBy != nil && doc.ProducedBy.Timespan != nil {
		earliest := parseTimespanYear(doc.ProducedBy.Timespan.BeginOfTheBegin)
		latest := parseTimespanYear(doc.ProducedBy.Timespan.EndOfTheEnd)
		// A timespan with only one bound populates both fields with it.
		if earliest == nil {
			earliest = latest
		}
		if latest == nil {
			latest = earliest
		}
		a.DateEarliest = earliest
		a.DateLatest = latest
	}

	mappings := extractProductionMappings(doc.ProducedBy)
	return a, mappings
}

// extractAllTitles joins every Name-typed identified_by entry's content
// with newlines, matching the distilled spec's "all titles" field.
func extractAllTitles(doc *Document) string {
	var titles []string
	for _, e := range doc.IdentifiedBy {
		if content := e.text(); e.Type == "Name" && content != "" {
			titles = append(titles, content)
		}
	}
	return strings.Join(titles, "\n")
}

// extractDimension picks the first dimension entry matching one of the
// configured AAT ids, converting its value to centimeters and rounding to
// two decimals only when a unit conversion actually occurred.
func extractDimension(doc *Document, aatIDs []string) (float64, bool) {
	for _, dim := range doc.Dimension {
		if !classifiedAsAny(dim.ClassifiedAs, aatIDs) {
			continue
		}
		factor, known := unitToCM(dim.Unit.ID)
		value := dim.Value * factor
		if known && factor != 1.0 {
			value = math.Round(value*100) / 100
		}
		return value, true
	}
	return 0, false
}

func classifiedAsAny(classifications []langRef, aatIDs []string) bool {
	for _, aatID := range aatIDs {
		if classifiedAs(classifications, aatID) {
			return true
		}
	}
	return false
}

// extractProductionMappings walks produced_by.part[] (falling back to
// produced_by itself when there are no parts) for technique references
// (production_role) and classified_as references (attribution_qualifier).
func extractProductionMappings(p *production) []TierMapping {
	if p == nil {
		return nil
	}

	events := p.Part
	if len(events) == 0 {
		events = []production{*p}
	}

	var out []TierMapping
	for _, ev := range events {
		for _, t := range ev.Technique {
			if id := lastSegment(t.ID); id != "" {
				out = append(out, TierMapping{VocabID: id, Field: model.FieldProductionRole})
			}
		}
		for _, c := range ev.ClassifiedAs {
			if id := lastSegment(c.ID); id != "" {
				out = append(out, TierMapping{VocabID: id, Field: model.FieldAttributionQualifier})
			}
		}
	}
	return out
}

func lastSegment(uri string) string {
	if idx := strings.LastIndex(uri, "/"); idx >= 0 {
		return uri[idx+1:]
	}
	return uri
}
