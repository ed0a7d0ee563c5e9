// Package geocode implements the multi-phase progressive geocoder (G):
// gazetteer lookup, alternative/cross-reference SPARQL, self-reference,
// entity reconciliation with scored candidates, and a validation pass
// (spec §4.5). Grounded on original_source/scripts/geocode_places.py's
// phase sequence and on the teacher's internal/fetch retry/backoff idiom,
// generalized to the five geocoding strategies instead of one HTML
// fetcher.
package geocode

import (
	"net/http"
	"time"
)

// Config carries the geocoder's tunables, sourced from Config.Geocoder.
type Config struct {
	GazetteerUsername    string
	GazetteerBaseURL      string
	GazetteerRatePerSec   float64
	WikidataSPARQLURL     string
	GettySPARQLURL        string
	WikidataAPIURL        string
	UserAgent             string
	SPARQLBatchSize       int
	SPARQLBatchDelay      time.Duration
	SPARQLMaxRetries      int
	ReconcileConcurrency  int
	BackoffInitial        time.Duration
	BackoffMax            time.Duration
	AcceptScore           float64
	AcceptGap             float64
	ReviewScore           float64
	ReviewScoreWithCoords float64
	OutputDir             string
}

// Client bundles the shared HTTP client every geocoding phase uses.
type Client struct {
	cfg  Config
	http *http.Client
}

// NewClient builds a geocoder client. httpClient defaults to a client
// with a 30-second timeout if nil.
func NewClient(cfg Config, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{cfg: cfg, http: httpClient}
}

// OutputDir returns the directory reconciliation CSVs are written to.
func (c *Client) OutputDir() string {
	if c.cfg.OutputDir == "" {
		return "offline/geo"
	}
	return c.cfg.OutputDir
}

// Candidate is one scored reconciliation candidate (phase 3).
type Candidate struct {
	QID         string
	Label       string
	Types       []string
	CountryQID  string
	AdminQID    string
	Lat, Lon    *float64
	HasCoord    bool
	Score       float64
}

// Decision is the outcome of scoring a place's candidates (phase 3c).
type Decision string

const (
	DecisionAccepted Decision = "accepted"
	DecisionReview   Decision = "review"
	DecisionRejected Decision = "rejected"
)

// ScoredPlace is one place's reconciliation outcome, ready to be written
// to one of the three phase-3 CSVs or applied directly.
type ScoredPlace struct {
	PlaceID    string
	PlaceName  string
	Candidates []Candidate
	Top        *Candidate
	Gap        float64
	Decision   Decision
}
