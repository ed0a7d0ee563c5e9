package linkedart

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/kintopp/rijksmuseum-mcp-plus/internal/model"
)

var wktPoint = regexp.MustCompile(`^POINT\(([-\d.]+)\s+([-\d.]+)\)$`)

// ResolveVocabTerm converts a fetched Linked Art document into a vocabulary
// term, or nil if the document's type doesn't map to any vocabulary type
// this store tracks (P2's "unrecognized → emit nothing" rule).
func ResolveVocabTerm(id string, doc *Document) *model.VocabTerm {
	vocabType, ok := laTypeMap[doc.Type]
	if !ok {
		return nil
	}

	labelEn, labelNl := extractLabel(doc.IdentifiedBy)
	externalID := extractExternalID(doc.Equivalent)

	var notation string
	var lat, lon *float64
	if vocabType == model.VocabPlace {
		if wkt := doc.definedByWKT(); strings.HasPrefix(wkt, "POINT") {
			notation = wkt
			if m := wktPoint.FindStringSubmatch(wkt); m != nil {
				lonVal, errLon := strconv.ParseFloat(m[1], 64)
				latVal, errLat := strconv.ParseFloat(m[2], 64)
				if errLon == nil && errLat == nil {
					lon, lat = &lonVal, &latVal
				}
			}
		}
	}

	return &model.VocabTerm{
		ID:         id,
		Type:       vocabType,
		LabelEn:    labelEn,
		LabelNl:    labelNl,
		ExternalID: externalID,
		Notation:   notation,
		Lat:        lat,
		Lon:        lon,
	}
}

// ExtractPersonNameVariants walks a person document's identified_by array
// for Name entries (skipping Identifier entries like ULAN ids or registry
// numbers), deduplicating on (text, language) and classifying each via its
// classified_as AAT id, per harvest-person-names.py's fetch_person_names.
func ExtractPersonNameVariants(personID string, doc *Document) []model.PersonNameVariant {
	seen := map[[2]string]bool{}
	var out []model.PersonNameVariant

	for _, entry := range doc.IdentifiedBy {
		content := entry.text()
		if entry.Type != "Name" || content == "" {
			continue
		}

		lang := ""
		for _, l := range entry.Language {
			switch l.ID {
			case LangEn:
				lang = "en"
			case LangNl:
				lang = "nl"
			}
			if lang != "" {
				break
			}
		}

		var classification model.NameClassification
		for _, c := range entry.ClassifiedAs {
			if cls, ok := nameClassificationByAATSuffix(c.ID); ok {
				classification = cls
				break
			}
		}

		key := [2]string{content, lang}
		if seen[key] {
			continue
		}
		seen[key] = true

		out = append(out, model.PersonNameVariant{
			PersonID:       personID,
			Text:           content,
			Language:       lang,
			Classification: classification,
		})
	}

	return out
}

func nameClassificationByAATSuffix(classifiedAsID string) (model.NameClassification, bool) {
	for suffix, label := range nameClassificationByAAT {
		if strings.HasSuffix(classifiedAsID, suffix) {
			return label, true
		}
	}
	return "", false
}
