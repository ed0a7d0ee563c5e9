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

	"golang.org/x/time/rate"

	"github.com/kintopp/rijksmuseum-mcp-plus/internal/logger"
	"github.com/kintopp/rijksmuseum-mcp-plus/internal/store"
)

// gazetteerIDFromExternalID pulls a gazetteer numeric id out of an
// external id URI (e.g. "https://www.geonames.org/2759794/amsterdam.html").
func gazetteerIDFromExternalID(externalID string) string {
	parts := strings.Split(strings.Trim(externalID, "/"), "/")
	for i := len(parts) - 1; i >= 0; i-- {
		if _, err := strconv.Atoi(parts[i]); err == nil {
			return parts[i]
		}
	}
	return ""
}

type gazetteerResponse struct {
	Lat float64 `json:"lat,string"`
	Lng float64 `json:"lng,string"`
}

// RunGazetteer is phase 1a: fetch coordinates one-by-one from the
// gazetteer API for places whose external id is a gazetteer id, rate-
// limited to roughly cfg.GazetteerRatePerSec. (0,0) responses are
// rejected as invalid per spec.
func (c *Client) RunGazetteer(ctx context.Context, st *store.Store, skip bool) (geocoded int, err error) {
	if skip {
		logger.Info("geocode phase 1a (gazetteer): skipped by configuration")
		return 0, nil
	}
	if c.cfg.GazetteerUsername == "" {
		logger.Info("geocode phase 1a (gazetteer): no username configured, skipping")
		return 0, nil
	}

	places, err := st.UngeocodedPlaces(ctx, store.CategoryGazetteer)
	if err != nil {
		return 0, err
	}
	if len(places) == 0 {
		return 0, nil
	}

	limiter := rate.NewLimiter(rate.Limit(c.cfg.GazetteerRatePerSec), 1)
	updates := map[string][2]float64{}

	for _, p := range places {
		if err := limiter.Wait(ctx); err != nil {
			return geocoded, err
		}
		gid := gazetteerIDFromExternalID(p.ExternalID)
		if gid == "" {
			continue
		}
		lat, lon, ok, fetchErr := c.fetchGazetteer(ctx, gid)
		if fetchErr != nil {
			logger.Warn("gazetteer fetch failed", "place", p.ID, "error", fetchErr.Error())
			continue
		}
		if !ok {
			continue
		}
		updates[p.ID] = [2]float64{lat, lon}
	}

	n, err := st.UpdateCoords(ctx, updates)
	if err != nil {
		return 0, err
	}
	logger.Info("geocode phase 1a (gazetteer) complete", "geocoded", n, "candidates", len(places))
	return n, nil
}

func (c *Client) fetchGazetteer(ctx context.Context, gazetteerID string) (lat, lon float64, ok bool, err error) {
	u := fmt.Sprintf("%s?geonameId=%s&username=%s", c.cfg.GazetteerBaseURL, url.QueryEscape(gazetteerID), url.QueryEscape(c.cfg.GazetteerUsername))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return 0, 0, false, err
	}
	req.Header.Set("User-Agent", c.cfg.UserAgent)

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, 0, false, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return 0, 0, false, fmt.Errorf("gazetteer status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, 0, false, err
	}
	var gr gazetteerResponse
	if err := json.Unmarshal(body, &gr); err != nil {
		return 0, 0, false, fmt.Errorf("decode gazetteer response: %w", err)
	}
	if gr.Lat == 0 && gr.Lng == 0 {
		return 0, 0, false, nil // spec: reject (0,0)
	}
	return gr.Lat, gr.Lng, true, nil
}
