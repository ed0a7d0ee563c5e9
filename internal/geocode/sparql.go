package geocode

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/kintopp/rijksmuseum-mcp-plus/internal/logger"
	"github.com/kintopp/rijksmuseum-mcp-plus/internal/store"
)

// sparqlBinding is one row of a SPARQL JSON result's bindings map, keyed
// by variable name; only .Value is needed for the scalar results this
// geocoder queries (QIDs, coordinates, labels).
type sparqlBinding map[string]struct {
	Value string `json:"value"`
}

type sparqlResponse struct {
	Results struct {
		Bindings []sparqlBinding `json:"bindings"`
	} `json:"results"`
}

// querySPARQL POSTs-as-GET a SPARQL query (query string in the URL,
// matching the distilled spec's "batch POST-as-GET calls") with up to
// cfg.SPARQLMaxRetries retries and exponential backoff on failure.
func (c *Client) querySPARQL(ctx context.Context, endpoint, query string) (*sparqlResponse, error) {
	var lastErr error
	backoff := time.Second
	for attempt := 0; attempt <= c.cfg.SPARQLMaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
			backoff *= 2
		}

		resp, err := c.doSPARQL(ctx, endpoint, query)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		logger.Warn("sparql query failed, retrying", "attempt", attempt+1, "error", err.Error())
	}
	return nil, fmt.Errorf("sparql query failed after %d retries: %w", c.cfg.SPARQLMaxRetries, lastErr)
}

func (c *Client) doSPARQL(ctx context.Context, endpoint, query string) (*sparqlResponse, error) {
	u := fmt.Sprintf("%s?query=%s&format=json", endpoint, url.QueryEscape(query))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/sparql-results+json")
	req.Header.Set("User-Agent", c.cfg.UserAgent)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("sparql endpoint status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	var sr sparqlResponse
	if err := json.Unmarshal(body, &sr); err != nil {
		return nil, fmt.Errorf("decode sparql response: %w", err)
	}
	return &sr, nil
}

func qidFromURI(uri string) string {
	if idx := strings.LastIndex(uri, "/"); idx >= 0 {
		return uri[idx+1:]
	}
	return uri
}

func wikidataQIDFromExternalID(externalID string) string {
	if !strings.Contains(externalID, "wikidata.org") {
		return ""
	}
	return qidFromURI(externalID)
}

func parseFloatOrNil(s string) *float64 {
	if s == "" {
		return nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil
	}
	return &f
}

// pointValue parses a SPARQL "Point(lon lat)" literal (Wikidata's wktLiteral
// shape for P625), note the lon-first order shared with WKT generally.
func pointValue(wkt string) (lat, lon float64, ok bool) {
	wkt = strings.TrimPrefix(wkt, "Point(")
	wkt = strings.TrimSuffix(wkt, ")")
	parts := strings.Fields(wkt)
	if len(parts) != 2 {
		return 0, 0, false
	}
	lonF, errLon := strconv.ParseFloat(parts[0], 64)
	latF, errLat := strconv.ParseFloat(parts[1], 64)
	if errLon != nil || errLat != nil {
		return 0, 0, false
	}
	return latF, lonF, true
}

// RunAltSPARQL is phase 1b: for places with a Wikidata external id but no
// coordinate yet, batch-query a union of three relation paths
// (headquarters/P159, location, located-in-admin-territory/P131) to P625.
func (c *Client) RunAltSPARQL(ctx context.Context, st *store.Store) (geocoded int, err error) {
	places, err := st.UngeocodedPlaces(ctx, store.CategoryWikidata)
	if err != nil {
		return 0, err
	}
	byQID := map[string]string{} // qid -> place id
	for _, p := range places {
		if qid := wikidataQIDFromExternalID(p.ExternalID); qid != "" {
			byQID[qid] = p.ID
		}
	}
	return c.batchCoords(ctx, st, byQID, c.cfg.WikidataSPARQLURL, altSPARQLQuery, "item")
}

// RunCrossReference is phase 1c: for places with a Getty TGN external id,
// batch-query Wikidata entities bearing that TGN id (P1667) and having a
// primary coordinate (P625).
func (c *Client) RunCrossReference(ctx context.Context, st *store.Store) (geocoded int, err error) {
	places, err := st.UngeocodedPlaces(ctx, store.CategoryGettyTGN)
	if err != nil {
		return 0, err
	}
	byTGN := map[string]string{} // tgn id -> place id
	for _, p := range places {
		if tgn := gazetteerIDFromExternalID(p.ExternalID); tgn != "" {
			byTGN[tgn] = p.ID
		}
	}
	return c.batchCoords(ctx, st, byTGN, c.cfg.GettySPARQLURL, tgnCrossRefQuery, "tgn")
}

// queryBuilder renders a SPARQL query for one batch of ids.
type queryBuilder func(ids []string) string

func altSPARQLQuery(qids []string) string {
	values := make([]string, len(qids))
	for i, q := range qids {
		values[i] = "wd:" + q
	}
	return fmt.Sprintf(`SELECT ?item ?coord WHERE {
		VALUES ?item { %s }
		{ ?item wdt:P159/wdt:P625 ?coord }
		UNION { ?item wdt:P276/wdt:P625 ?coord }
		UNION { ?item wdt:P131/wdt:P625 ?coord }
	}`, strings.Join(values, " "))
}

func tgnCrossRefQuery(tgnIDs []string) string {
	values := make([]string, len(tgnIDs))
	for i, t := range tgnIDs {
		values[i] = `"` + t + `"`
	}
	return fmt.Sprintf(`SELECT ?item ?tgn ?coord WHERE {
		?item wdt:P1667 ?tgn ; wdt:P625 ?coord .
		VALUES ?tgn { %s }
	}`, strings.Join(values, " "))
}

// batchCoords batches keys (Wikidata QIDs or Getty TGN ids) into groups of
// cfg.SPARQLBatchSize, runs build(keys) against endpoint, and applies the
// first coordinate hit per key to the corresponding place (keyToPlaceID),
// waiting cfg.SPARQLBatchDelay between batches (spec §4.5 1b/1c, §5
// "SPARQL batches: >= 2s inter-batch delay").
func (c *Client) batchCoords(ctx context.Context, st *store.Store, keyToPlaceID map[string]string, endpoint string, build queryBuilder, itemVar string) (int, error) {
	if len(keyToPlaceID) == 0 {
		return 0, nil
	}
	keys := make([]string, 0, len(keyToPlaceID))
	for k := range keyToPlaceID {
		keys = append(keys, k)
	}

	batchSize := c.cfg.SPARQLBatchSize
	if batchSize <= 0 {
		batchSize = 200
	}

	updates := map[string][2]float64{}
	for i := 0; i < len(keys); i += batchSize {
		end := i + batchSize
		if end > len(keys) {
			end = len(keys)
		}
		batch := keys[i:end]

		resp, err := c.querySPARQL(ctx, endpoint, build(batch))
		if err != nil {
			logger.Warn("sparql batch failed, leaving batch for next run", "error", err.Error())
		} else {
			for _, b := range resp.Results.Bindings {
				item, ok := b[itemVar]
				if !ok {
					continue
				}
				qid := qidFromURI(item.Value)
				placeID, known := keyToPlaceID[qid]
				if !known {
					continue
				}
				if _, already := updates[placeID]; already {
					continue // first hit per id wins
				}
				coordField, ok := b["coord"]
				if !ok {
					continue
				}
				if lat, lon, ok := pointValue(coordField.Value); ok {
					updates[placeID] = [2]float64{lat, lon}
				}
			}
		}

		if end < len(keys) {
			select {
			case <-time.After(c.cfg.SPARQLBatchDelay):
			case <-ctx.Done():
				return 0, ctx.Err()
			}
		}
	}

	n, err := st.UpdateCoords(ctx, updates)
	if err != nil {
		return 0, err
	}
	logger.Info("geocode sparql batch complete", "geocoded", n, "candidates", len(keys))
	return n, nil
}
