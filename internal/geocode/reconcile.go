package geocode

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/antzucaro/matchr"
	"golang.org/x/sync/errgroup"

	"github.com/kintopp/rijksmuseum-mcp-plus/internal/logger"
	"github.com/kintopp/rijksmuseum-mcp-plus/internal/model"
	"github.com/kintopp/rijksmuseum-mcp-plus/internal/store"
)

// backoffCell is a shared "do-not-start-before" timestamp every
// reconciliation worker consults before calling the search API (spec §4.5
// 3a, §9 "coroutine / async control flow": "N concurrent worker tasks
// sharing a 429-backoff cell"). Any threading model can hold this —
// goroutines here, but the bookkeeping is just a mutex-guarded timestamp.
type backoffCell struct {
	mu        sync.Mutex
	notBefore time.Time
	current   time.Duration
}

func newBackoffCell(initial time.Duration) *backoffCell {
	return &backoffCell{current: initial}
}

// wait blocks until the shared cooldown has elapsed.
func (b *backoffCell) wait(ctx context.Context) error {
	b.mu.Lock()
	until := b.notBefore
	b.mu.Unlock()
	if d := time.Until(until); d > 0 {
		select {
		case <-time.After(d):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// trip registers a 429 and doubles the shared cooldown, capped at max.
func (b *backoffCell) trip(max time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.notBefore = time.Now().Add(b.current)
	b.current *= 2
	if b.current > max {
		b.current = max
	}
}

var parenthetical = regexp.MustCompile(`\s*\([^)]*\)\s*$`)

func stripParenthetical(name string) string {
	return strings.TrimSpace(parenthetical.ReplaceAllString(name, ""))
}

type searchHit struct {
	ID          string `json:"id"`
	Label       string `json:"label"`
	Description string `json:"description"`
}

type searchResponse struct {
	Search []searchHit `json:"search"`
}

// search calls the wbsearchentities-style endpoint for one name/lang pair.
func (c *Client) search(ctx context.Context, name, lang string) ([]searchHit, error) {
	u := fmt.Sprintf("%s?action=wbsearchentities&format=json&type=item&language=%s&search=%s",
		c.cfg.WikidataAPIURL, url.QueryEscape(lang), url.QueryEscape(name))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", c.cfg.UserAgent)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, errRateLimited
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("search status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	var sr searchResponse
	if err := json.Unmarshal(body, &sr); err != nil {
		return nil, fmt.Errorf("decode search response: %w", err)
	}
	return sr.Search, nil
}

type errRateLimitedType struct{}

func (errRateLimitedType) Error() string { return "rate limited (429)" }

var errRateLimited error = errRateLimitedType{}

// searchCandidates tries Dutch, then English, then (if still nothing) the
// parenthetical-stripped name in both languages, consulting the shared
// backoff cell before every call and tripping it on a 429 (spec §4.5 3a).
func (c *Client) searchCandidates(ctx context.Context, backoff *backoffCell, name string) ([]searchHit, error) {
	attempts := []struct{ name, lang string }{
		{name, "nl"},
		{name, "en"},
	}
	if stripped := stripParenthetical(name); stripped != name {
		attempts = append(attempts, struct{ name, lang string }{stripped, "nl"}, struct{ name, lang string }{stripped, "en"})
	}

	for _, a := range attempts {
		if err := backoff.wait(ctx); err != nil {
			return nil, err
		}
		hits, err := c.search(ctx, a.name, a.lang)
		if err == errRateLimited {
			backoff.trip(c.cfg.BackoffMax)
			continue
		}
		if err != nil {
			logger.Warn("reconcile search failed", "name", a.name, "lang", a.lang, "error", err.Error())
			continue
		}
		if len(hits) > 0 {
			return hits, nil
		}
	}
	return nil, nil
}

// RunSearch is phase 3a: for every place with no external id but
// referenced by at least one mapping, search for Wikidata candidates.
// Bounded concurrency via errgroup.SetLimit; concurrency=1 degenerates to
// a synchronous fallback with identical behavior (spec §4.5 3a, §9).
func (c *Client) RunSearch(ctx context.Context, st *store.Store, concurrency int) (map[string][]searchHit, error) {
	if concurrency <= 0 {
		concurrency = 1
	}
	places, err := st.UngeocodedPlaces(ctx, store.CategoryNoExternal)
	if err != nil {
		return nil, err
	}
	if len(places) == 0 {
		return map[string][]searchHit{}, nil
	}

	backoff := newBackoffCell(c.cfg.BackoffInitial)
	var mu sync.Mutex
	results := map[string][]searchHit{}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for _, p := range places {
		p := p
		name := p.LabelEn
		if name == "" {
			name = p.LabelNl
		}
		if name == "" {
			continue
		}
		g.Go(func() error {
			hits, err := c.searchCandidates(gctx, backoff, name)
			if err != nil {
				return nil // per-place failures are non-fatal (dispatcher-style)
			}
			mu.Lock()
			results[p.ID] = hits
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	logger.Info("geocode phase 3a (search) complete", "places", len(places), "with_candidates", len(results))
	return results, nil
}

// candidateDetail is the phase 3b validation result for one QID.
type candidateDetail struct {
	QID        string
	Types      []string
	CountryQID string
	AdminQID   string
	Lat, Lon   *float64
	Label      string
}

// RunValidate is phase 3b: batch-SPARQL every candidate QID to fetch
// instance-of types, country, first-level admin, coordinate, and English
// label.
func (c *Client) RunValidate(ctx context.Context, qids []string) (map[string]candidateDetail, error) {
	if len(qids) == 0 {
		return map[string]candidateDetail{}, nil
	}
	batchSize := c.cfg.SPARQLBatchSize
	if batchSize <= 0 {
		batchSize = 200
	}

	out := map[string]candidateDetail{}
	for i := 0; i < len(qids); i += batchSize {
		end := i + batchSize
		if end > len(qids) {
			end = len(qids)
		}
		batch := qids[i:end]
		resp, err := c.querySPARQL(ctx, c.cfg.WikidataSPARQLURL, validateQuery(batch))
		if err != nil {
			logger.Warn("reconcile validate batch failed", "error", err.Error())
			continue
		}
		for _, b := range resp.Results.Bindings {
			item, ok := b["item"]
			if !ok {
				continue
			}
			qid := qidFromURI(item.Value)
			d := out[qid]
			d.QID = qid
			if t, ok := b["type"]; ok {
				d.Types = appendUnique(d.Types, qidFromURI(t.Value))
			}
			if country, ok := b["country"]; ok {
				d.CountryQID = qidFromURI(country.Value)
			}
			if admin, ok := b["admin"]; ok {
				d.AdminQID = qidFromURI(admin.Value)
			}
			if coord, ok := b["coord"]; ok {
				if lat, lon, ok := pointValue(coord.Value); ok {
					d.Lat, d.Lon = &lat, &lon
				}
			}
			if label, ok := b["label"]; ok && d.Label == "" {
				d.Label = label.Value
			}
			out[qid] = d
		}
		if end < len(qids) {
			select {
			case <-time.After(c.cfg.SPARQLBatchDelay):
			case <-ctx.Done():
				return out, ctx.Err()
			}
		}
	}
	return out, nil
}

func appendUnique(list []string, v string) []string {
	for _, x := range list {
		if x == v {
			return list
		}
	}
	return append(list, v)
}

func validateQuery(qids []string) string {
	values := make([]string, len(qids))
	for i, q := range qids {
		values[i] = "wd:" + q
	}
	return fmt.Sprintf(`SELECT ?item ?type ?country ?admin ?coord ?label WHERE {
		VALUES ?item { %s }
		OPTIONAL { ?item wdt:P31 ?type }
		OPTIONAL { ?item wdt:P17 ?country }
		OPTIONAL { ?item wdt:P131 ?admin }
		OPTIONAL { ?item wdt:P625 ?coord }
		OPTIONAL { ?item rdfs:label ?label . FILTER(LANG(?label) = "en") }
	}`, strings.Join(values, " "))
}

// geographicTypeScore / geographicTypeReject classify instance-of QIDs for the
// phase 3c geographic-type score component (spec §4.5 3c: "0/25/50/100 ×
// 25% depending on match against a geographic allowlist vs. rejection
// set").
var geographicTypeScore = map[string]float64{
	"Q515":     100, // city
	"Q3957":    100, // town
	"Q5119":    100, // capital
	"Q1549591": 50,  // big city
	"Q486972":  50,  // human settlement
	"Q15284":   50,  // municipality
	"Q6256":    25,  // country (too coarse, but still geographic)
	"Q10864048": 25, // administrative territorial entity
}

var geographicTypeReject = map[string]bool{
	"Q5":        true, // human
	"Q43229":    true, // organization
	"Q4167410":  true, // Wikimedia disambiguation page
	"Q13442814": true, // scholarly article
}

func geographicTypeScoreFor(types []string) float64 {
	best := 0.0
	for _, t := range types {
		if geographicTypeReject[t] {
			return 0
		}
		if s, ok := geographicTypeScore[t]; ok && s > best {
			best = s
		}
	}
	return best
}

// countryContextScore implements the 100/50/40/25 tier from spec §4.5 3c.
var majorCountryQIDs = map[string]bool{
	"Q142":  true, // France
	"Q183":  true, // Germany
	"Q38":   true, // Italy
	"Q145":  true, // United Kingdom
	"Q29":   true, // Spain
	"Q30":   true, // United States
	"Q252":  true, // Indonesia
	"Q17":   true, // Japan
	"Q148":  true, // China
}

const netherlandsQID = "Q55"

func countryContextScore(countryQID string) float64 {
	switch {
	case countryQID == netherlandsQID:
		return 100
	case countryQID == "":
		return 25
	case majorCountryQIDs[countryQID]:
		return 50
	default:
		return 40
	}
}

// Score implements phase 3c's weighted scoring function: string similarity
// (40%), geographic type (25%), has-coordinate (20%), country context
// (15%).
func Score(placeName string, cand candidateDetail) float64 {
	stripped := stripParenthetical(placeName)
	simRaw := matchr.JaroWinkler(strings.ToLower(placeName), strings.ToLower(cand.Label), false)
	simStripped := matchr.JaroWinkler(strings.ToLower(stripped), strings.ToLower(cand.Label), false)
	sim := simRaw
	if simStripped > sim {
		sim = simStripped
	}

	geoType := geographicTypeScoreFor(cand.Types)

	hasCoord := 0.0
	if cand.Lat != nil && cand.Lon != nil {
		hasCoord = 100
	}

	country := countryContextScore(cand.CountryQID)

	return sim*100*0.40 + geoType*0.25 + hasCoord*0.20 + country*0.15
}

// Decide implements the accept/review/reject thresholds (spec §4.5 3c).
func Decide(cfg Config, top, runnerUp float64, hasCoord bool) (Decision, float64) {
	gap := top - runnerUp
	switch {
	case top >= cfg.AcceptScore && hasCoord && gap >= cfg.AcceptGap:
		return DecisionAccepted, gap
	case top >= cfg.ReviewScore:
		return DecisionReview, gap
	case top >= cfg.ReviewScoreWithCoords && hasCoord:
		return DecisionReview, gap
	default:
		return DecisionRejected, gap
	}
}

// ScorePlace combines RunSearch hits and RunValidate details into a
// ranked, decided ScoredPlace.
func ScorePlace(cfg Config, place model.VocabTerm, hits []searchHit, details map[string]candidateDetail) ScoredPlace {
	name := place.LabelEn
	if name == "" {
		name = place.LabelNl
	}

	sp := ScoredPlace{PlaceID: place.ID, PlaceName: name}
	var candidates []Candidate
	for _, h := range hits {
		d, ok := details[h.ID]
		if !ok {
			d = candidateDetail{QID: h.ID, Label: h.Label}
		}
		score := Score(name, d)
		candidates = append(candidates, Candidate{
			QID: h.ID, Label: d.Label, Types: d.Types, CountryQID: d.CountryQID,
			AdminQID: d.AdminQID, Lat: d.Lat, Lon: d.Lon, HasCoord: d.Lat != nil, Score: score,
		})
	}
	sortCandidatesByScore(candidates)
	sp.Candidates = candidates
	if len(candidates) == 0 {
		sp.Decision = DecisionRejected
		return sp
	}

	top := candidates[0]
	runnerUp := 0.0
	if len(candidates) > 1 {
		runnerUp = candidates[1].Score
	}
	decision, gap := Decide(cfg, top.Score, runnerUp, top.HasCoord)
	sp.Top = &top
	sp.Gap = gap
	sp.Decision = decision
	return sp
}

func sortCandidatesByScore(c []Candidate) {
	for i := 1; i < len(c); i++ {
		for j := i; j > 0 && c[j].Score > c[j-1].Score; j-- {
			c[j], c[j-1] = c[j-1], c[j]
		}
	}
}

// ApplyAccepted is phase 3d: write accepted rows' lat/lon and canonical
// Wikidata external id, only for still-ungeocoded rows, in one
// transaction.
func (c *Client) ApplyAccepted(ctx context.Context, st *store.Store, scored []ScoredPlace) (int, error) {
	updates := map[string]store.CoordExternalUpdate{}
	for _, sp := range scored {
		if sp.Decision != DecisionAccepted || sp.Top == nil || sp.Top.Lat == nil || sp.Top.Lon == nil {
			continue
		}
		updates[sp.PlaceID] = store.CoordExternalUpdate{
			Lat:        *sp.Top.Lat,
			Lon:        *sp.Top.Lon,
			ExternalID: "https://www.wikidata.org/wiki/" + sp.Top.QID,
		}
	}
	return st.UpdateCoordsAndExternalID(ctx, updates)
}

// RunReconcile drives phases 3a-3d end to end: search, validate, score, and
// (unless apply is false, e.g. --dry-run) apply accepted rows; review and
// rejected candidates are left for WriteScoredCSVs to export for human
// review rather than being written to the store.
func (c *Client) RunReconcile(ctx context.Context, st *store.Store, apply bool) ([]ScoredPlace, int, error) {
	concurrency := c.cfg.ReconcileConcurrency
	hits, err := c.RunSearch(ctx, st, concurrency)
	if err != nil {
		return nil, 0, fmt.Errorf("reconcile search: %w", err)
	}
	if len(hits) == 0 {
		return nil, 0, nil
	}

	qidSet := map[string]bool{}
	for _, hs := range hits {
		for _, h := range hs {
			qidSet[h.ID] = true
		}
	}
	qids := make([]string, 0, len(qidSet))
	for q := range qidSet {
		qids = append(qids, q)
	}
	details, err := c.RunValidate(ctx, qids)
	if err != nil {
		return nil, 0, fmt.Errorf("reconcile validate: %w", err)
	}

	places, err := st.UngeocodedPlaces(ctx, store.CategoryNoExternal)
	if err != nil {
		return nil, 0, err
	}
	byID := map[string]model.VocabTerm{}
	for _, p := range places {
		byID[p.ID] = p
	}

	var scored []ScoredPlace
	for placeID, placeHits := range hits {
		place, ok := byID[placeID]
		if !ok {
			continue
		}
		scored = append(scored, ScorePlace(c.cfg, place, placeHits, details))
	}

	if !apply {
		logger.Info("geocode phase 3 (reconcile) dry run, not applying", "scored", len(scored))
		return scored, 0, nil
	}

	applied, err := c.ApplyAccepted(ctx, st, scored)
	if err != nil {
		return scored, 0, fmt.Errorf("reconcile apply: %w", err)
	}

	logger.Info("geocode phase 3 (reconcile) complete", "scored", len(scored), "applied", applied)
	return scored, applied, nil
}
