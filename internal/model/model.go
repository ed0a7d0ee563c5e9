// Package model holds the domain entities shared across the harvest,
// normalize, geocode, and embedding phases.
package model

import "time"

// VocabType enumerates the vocabulary term kinds the store distinguishes.
type VocabType string

const (
	VocabClassification VocabType = "classification"
	VocabPerson         VocabType = "person"
	VocabPlace          VocabType = "place"
	VocabEvent          VocabType = "event"
	VocabSet            VocabType = "set"
)

// MappingField enumerates the mapping-edge field names.
type MappingField string

const (
	FieldSubject              MappingField = "subject"
	FieldMaterial             MappingField = "material"
	FieldType                 MappingField = "type"
	FieldCreator              MappingField = "creator"
	FieldSpatial              MappingField = "spatial"
	FieldTechnique            MappingField = "technique"
	FieldBirthPlace           MappingField = "birth_place"
	FieldDeathPlace           MappingField = "death_place"
	FieldProfession           MappingField = "profession"
	FieldCollectionSet        MappingField = "collection_set"
	FieldProductionRole       MappingField = "production_role"
	FieldAttributionQualifier MappingField = "attribution_qualifier"
)

// NameClassification enumerates person-name-variant classifications.
type NameClassification string

const (
	NameDisplay   NameClassification = "display"
	NamePreferred NameClassification = "preferred"
	NameInverted  NameClassification = "inverted"
)

// VocabTerm is a vocabulary term row (classification, person, place, event, or set).
type VocabTerm struct {
	ID          string // stable string id (ingest shape)
	VocabID     int64  // dense surrogate id, 0 until the normalizer assigns one
	Type        VocabType
	LabelEn     string
	LabelNl     string
	ExternalID  string
	BroaderID   string // parent term's string id
	Notation    string
	Lat         *float64
	Lon         *float64
	LabelEnNorm string // lowercased, whitespace-stripped
	LabelNlNorm string
}

// HasCoordinates reports whether the term carries a lat/lon pair.
func (v VocabTerm) HasCoordinates() bool {
	return v.Lat != nil && v.Lon != nil
}

// Artwork is a single museum object.
type Artwork struct {
	ObjectNumber string // stable string id
	ArtworkID    int64  // dense surrogate id, 0 until normalized
	Title        string
	CreatorLabel string
	RightsURI    string
	SourceURI    string // Linked-Art URI used for Tier-2 resolution

	// Tier-2 fields, populated by the enrichment resolver (P4).
	Inscription  string
	Provenance   string
	CreditLine   string
	Description  string
	Narrative    string
	AllTitles    string
	HeightCM     *float64
	WidthCM      *float64
	DateEarliest *int
	DateLatest   *int
	Tier2Done    bool
}

// MappingEdge is an (artwork, vocabulary-term, field) relation.
//
// Before normalization ArtworkKey/VocabKey carry the ingest-time string ids
// (ObjectNumber and VocabTerm.ID); after normalization ArtworkID/VocabID
// carry the dense surrogate integers. Code that queries the mappings table
// must check which shape is live — see store.Store.MappingShape.
type MappingEdge struct {
	ArtworkKey string
	VocabKey   string
	ArtworkID  int64
	VocabID    int64
	Field      MappingField
}

// PersonNameVariant is a (person, text, language, classification) tuple.
type PersonNameVariant struct {
	PersonID       string
	Text           string
	Language       string
	Classification NameClassification
}

// ArtworkEmbedding is a quantized semantic vector for one artwork.
type ArtworkEmbedding struct {
	ArtworkID   int64
	SourceText  string
	SourceHash  string
	Vector      []int8
	GeneratedAt time.Time
}
