// Package ntparse parses the Rijksmuseum linked-data dump's per-entity
// N-Triples files into vocabulary.VocabTerm records (spec §4.1, Phase 0).
// The regex-based triple matcher mirrors harvest-vocabulary-db.py's
// NT_PATTERN/BNODE_PATTERN exactly: these dumps are one-triple-per-line with
// no blank-node nesting deeper than a single level, so a full RDF parser
// would buy nothing a line-oriented regex doesn't already give.
package ntparse

import (
	"bufio"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"

	"github.com/kintopp/rijksmuseum-mcp-plus/internal/model"
)

var (
	ntPattern    = regexp.MustCompile(`^<([^>]+)>\s+<([^>]+)>\s+(?:<([^>]+)>|"([^"]*)")\s*\.\s*$`)
	bnodePattern = regexp.MustCompile(`^_:(\S+)\s+<([^>]+)>\s+(?:<([^>]+)>|"([^"]*)")\s*\.\s*$`)
	wktPoint     = regexp.MustCompile(`^POINT\(([-\d.]+)\s+([-\d.]+)\)$`)
)

// Predicate URIs referenced while walking a dump entity's triples.
const (
	predLabel      = "http://www.cidoc-crm.org/cidoc-crm/P190_has_symbolic_content"
	predLanguage   = "http://www.cidoc-crm.org/cidoc-crm/P72_has_language"
	predEquivalent = "https://linked.art/ns/terms/equivalent"
	predBroader    = "http://www.w3.org/2004/02/skos/core#broader"
	predHasType    = "http://www.cidoc-crm.org/cidoc-crm/P2_has_type"
	predDefinedBy  = "http://www.cidoc-crm.org/cidoc-crm/P168_place_is_defined_by"
	predRDFType    = "http://www.w3.org/1999/02/22-rdf-syntax-ns#type"
	typeIdentifier = "http://www.cidoc-crm.org/cidoc-crm/E42_Identifier"

	LangEn         = "http://vocab.getty.edu/aat/300388277"
	LangNl         = "http://vocab.getty.edu/aat/300388256"
	aatDisplayName = "http://vocab.getty.edu/aat/300404670"
	aatPreferred   = "http://vocab.getty.edu/aat/300404671"
	typeRDFSLabel  = "http://www.w3.org/2000/01/rdf-schema#Label"
)

// laTypeMap maps a Linked Art rdf:type local name to a vocabulary type,
// used to refine the dump's default type when the entity's own rdf:type
// triple disagrees with it (e.g. an "organisation" dump entry whose
// rdf:type is actually la:Group).
var laTypeMap = map[string]model.VocabType{
	"Person":          model.VocabPerson,
	"Group":           model.VocabPerson,
	"Actor":           model.VocabPerson,
	"Place":           model.VocabPlace,
	"Activity":        model.VocabEvent,
	"Set":             model.VocabClassification,
	"Type":            model.VocabClassification,
	"Material":        model.VocabClassification,
	"MeasurementUnit": model.VocabClassification,
	"Language":        model.VocabClassification,
	"Currency":        model.VocabClassification,
}

type bnodeFacts struct {
	label         string
	language      string
	isDisplayName bool
	isPreferred   bool
	isRDFSLabel   bool
	isIdentifier  bool
}

// ParseEntity parses one dump entity's N-Triples file and returns the
// vocabulary term it describes, or nil if the entity carries no usable
// label (the same "no label, no record" rule the Python harvester applies).
func ParseEntity(entityID string, r io.Reader, defaultType model.VocabType) (*model.VocabTerm, error) {
	entityURI := "https://id.rijksmuseum.nl/" + entityID

	bnodes := map[string]*bnodeFacts{}
	var equivalents []string
	var broaderID, definedBy, rdfType string

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		if m := ntPattern.FindStringSubmatch(line); m != nil && m[1] == entityURI {
			pred, objURI, objLit := m[2], m[3], m[4]
			switch {
			case pred == predEquivalent && objURI != "":
				equivalents = append(equivalents, objURI)
			case pred == predBroader && objURI != "":
				broaderID = lastPathSegment(objURI)
			case pred == predDefinedBy && m[3] == "" && objLit != "":
				definedBy = objLit
			case pred == predRDFType && objURI != "":
				rdfType = objURI
			}
		}

		if m := bnodePattern.FindStringSubmatch(line); m != nil {
			bnodeID, pred, objURI, objLit := m[1], m[2], m[3], m[4]
			bn, ok := bnodes[bnodeID]
			if !ok {
				bn = &bnodeFacts{}
				bnodes[bnodeID] = bn
			}
			switch {
			case pred == predLabel && objURI == "":
				bn.label = objLit
			case pred == predLanguage && objURI != "":
				bn.language = objURI
			case pred == predHasType && objURI == aatDisplayName:
				bn.isDisplayName = true
			case pred == predHasType && objURI == aatPreferred:
				bn.isPreferred = true
			case pred == predRDFType && objURI == typeIdentifier:
				bn.isIdentifier = true
			case pred == predRDFType && objURI == typeRDFSLabel:
				bn.isRDFSLabel = true
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan entity %s: %w", entityID, err)
	}

	var labelEn, labelNl, notation string
	for _, bn := range bnodes {
		if bn.label == "" {
			continue
		}
		switch {
		case bn.isIdentifier:
			notation = bn.label
		case bn.isDisplayName:
			switch bn.language {
			case LangEn:
				labelEn = bn.label
			case LangNl:
				labelNl = bn.label
			}
		}
	}

	// No display-name bnode covered one or both languages: fall back to any
	// language-tagged preferred or RDFS label bnode, without overwriting a
	// display-name label already found.
	if labelEn == "" || labelNl == "" {
		for _, bn := range bnodes {
			if bn.label == "" || bn.isIdentifier || bn.isDisplayName {
				continue
			}
			if !bn.isPreferred && !bn.isRDFSLabel {
				continue
			}
			switch bn.language {
			case LangEn:
				if labelEn == "" {
					labelEn = bn.label
				}
			case LangNl:
				if labelNl == "" {
					labelNl = bn.label
				}
			}
		}
	}

	vocabType := defaultType
	if rdfType != "" {
		name := lastPathSegment(rdfType)
		if idx := strings.LastIndex(name, "#"); idx >= 0 {
			name = name[idx+1:]
		}
		if mapped, ok := laTypeMap[name]; ok {
			vocabType = mapped
		}
	}

	externalID := bestExternalID(equivalents)

	var lat, lon *float64
	if strings.HasPrefix(definedBy, "POINT") {
		notation = definedBy
		if m := wktPoint.FindStringSubmatch(definedBy); m != nil {
			lonVal, errLon := strconv.ParseFloat(m[1], 64)
			latVal, errLat := strconv.ParseFloat(m[2], 64)
			if errLon == nil && errLat == nil {
				lon, lat = &lonVal, &latVal
			}
		}
	}

	if labelEn == "" && labelNl == "" {
		return nil, nil
	}

	return &model.VocabTerm{
		ID:         entityID,
		Type:       vocabType,
		LabelEn:    labelEn,
		LabelNl:    labelNl,
		ExternalID: externalID,
		BroaderID:  broaderID,
		Notation:   notation,
		Lat:        lat,
		Lon:        lon,
	}, nil
}

// bestExternalID prefers an Iconclass reference, then Wikidata, else the
// first equivalent link seen — matching the Python harvester's preference
// order exactly.
func bestExternalID(equivalents []string) string {
	for _, eq := range equivalents {
		if strings.Contains(eq, "iconclass.org") {
			return eq
		}
	}
	for _, eq := range equivalents {
		if strings.Contains(eq, "wikidata.org") {
			return eq
		}
	}
	if len(equivalents) > 0 {
		return equivalents[0]
	}
	return ""
}

func lastPathSegment(uri string) string {
	if idx := strings.LastIndex(uri, "/"); idx >= 0 {
		return uri[idx+1:]
	}
	return uri
}

// ExternalVocabSeed lists classification terms the Rijksmuseum's own
// OAI-PMH feed references (via Getty AAT dc:type URIs) but which 404 when
// resolved against the Linked Art API, since they are Getty entities, not
// Rijksmuseum ones. Phase 0 seeds these directly so Phase 2's resolver
// never wastes a round trip on them.
func ExternalVocabSeed() []model.VocabTerm {
	return []model.VocabTerm{
		{
			ID:         "300078817",
			Type:       model.VocabClassification,
			LabelEn:    "rectos",
			LabelNl:    "rectozijden",
			ExternalID: "http://vocab.getty.edu/aat/300078817",
		},
		{
			ID:         "300010292",
			Type:       model.VocabClassification,
			LabelEn:    "versos",
			LabelNl:    "versozijden",
			ExternalID: "http://vocab.getty.edu/aat/300010292",
		},
	}
}

// DumpConfig names a data-dump directory and the vocabulary type its
// entities default to absent a more specific rdf:type triple.
type DumpConfig struct {
	Name        string
	DefaultType model.VocabType
}

// DumpConfigs enumerates the dump directories Phase 0 walks, in the order
// the Python harvester processes them.
var DumpConfigs = []DumpConfig{
	{Name: "classification", DefaultType: model.VocabClassification},
	{Name: "concept", DefaultType: model.VocabClassification},
	{Name: "topical_term", DefaultType: model.VocabClassification},
	{Name: "person", DefaultType: model.VocabPerson},
	{Name: "organisation", DefaultType: model.VocabPerson},
	{Name: "place", DefaultType: model.VocabPlace},
	{Name: "event", DefaultType: model.VocabEvent},
}
