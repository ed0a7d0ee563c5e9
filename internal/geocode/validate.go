package geocode

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/kintopp/rijksmuseum-mcp-plus/internal/model"
	"github.com/kintopp/rijksmuseum-mcp-plus/internal/store"
)

// Issue is one validation finding against a geocoded place. Validation is
// report-only — it never writes to the store (spec §4.5 phase 4).
type Issue struct {
	PlaceID   string
	PlaceName string
	Kind      string
	Detail    string
}

const (
	IssueNullIsland      = "null_island"
	IssueOutOfRange      = "out_of_range"
	IssueLatLonSwap      = "lat_lon_swap"
	IssueNegativeLatNL   = "negative_lat_dutch_city"
	IssueCaribbeanBounds = "caribbean_bounds"
	IssueSharedCoord     = "shared_coordinate_cluster"
)

// dutchCities is an exact-match allowlist used for the lat/lon-swap and
// negative-latitude heuristics: any of these names seen with an
// out-of-hemisphere coordinate is almost certainly swapped or mistyped,
// since the Netherlands sits entirely in the northern, low-eastern
// hemisphere (spec §4.5 phase 4).
var dutchCities = map[string]bool{
	"amsterdam": true, "rotterdam": true, "den haag": true, "the hague": true,
	"utrecht": true, "haarlem": true, "leiden": true, "delft": true,
	"groningen": true, "maastricht": true, "arnhem": true, "nijmegen": true,
	"eindhoven": true, "tilburg": true, "breda": true, "zwolle": true,
}

// caribbeanWordBounds matches place-name fragments for the Dutch Caribbean
// and Suriname, whose real coordinates sit far outside the Netherlands'
// bounding box and are easy to confuse with an unrelated European hit
// sharing the same label.
var caribbeanWordBounds = regexp.MustCompile(`(?i)\b(cura[cç]ao|aruba|bonaire|sint maarten|st\.? maarten|suriname|paramaribo)\b`)

// Validate runs phase 4's heuristic checks over every geocoded place and
// returns a report. It never mutates the store.
func Validate(ctx context.Context, st *store.Store) ([]Issue, error) {
	places, err := st.GeocodedPlaces(ctx)
	if err != nil {
		return nil, fmt.Errorf("validate: load geocoded places: %w", err)
	}

	var issues []Issue
	for _, p := range places {
		issues = append(issues, checkPlace(p)...)
	}
	issues = append(issues, sharedCoordinateClusters(places)...)
	return issues, nil
}

func checkPlace(p model.VocabTerm) []Issue {
	if !p.HasCoordinates() {
		return nil
	}
	lat, lon := *p.Lat, *p.Lon
	name := p.LabelEn
	if name == "" {
		name = p.LabelNl
	}
	nameLower := strings.ToLower(strings.TrimSpace(name))

	var out []Issue

	if lat == 0 && lon == 0 {
		out = append(out, Issue{p.ID, name, IssueNullIsland, "coordinates are (0, 0)"})
	}

	if lat < -90 || lat > 90 || lon < -180 || lon > 180 {
		out = append(out, Issue{p.ID, name, IssueOutOfRange, fmt.Sprintf("lat=%v lon=%v out of valid range", lat, lon)})
	}

	if dutchCities[nameLower] {
		// The Netherlands is entirely within roughly lat 50.7-53.7, lon 3.2-7.2.
		if lat > 90 {
			out = append(out, Issue{p.ID, name, IssueLatLonSwap, fmt.Sprintf("Dutch city %q has implausible latitude %v, lat/lon may be swapped", name, lat)})
		} else if lat < 0 {
			out = append(out, Issue{p.ID, name, IssueNegativeLatNL, fmt.Sprintf("Dutch city %q has negative latitude %v", name, lat)})
		} else if lon < -10 || lon > 15 {
			out = append(out, Issue{p.ID, name, IssueLatLonSwap, fmt.Sprintf("Dutch city %q has implausible longitude %v, lat/lon may be swapped", name, lon)})
		}
	}

	if caribbeanWordBounds.MatchString(name) {
		// Dutch Caribbean / Suriname roughly bounds: lat 0-20, lon -75 to -55.
		if lat < -5 || lat > 25 || lon < -80 || lon > -50 {
			out = append(out, Issue{p.ID, name, IssueCaribbeanBounds,
				fmt.Sprintf("%q matched Caribbean/Suriname name but lat=%v lon=%v falls outside the expected bounding box", name, lat, lon)})
		}
	}

	return out
}

// sharedCoordinateClusters flags groups of >=5 places sharing an exact
// coordinate whose names diverge in their first word by at least 3
// characters — a sign of a bad fallback (e.g. several unrelated places
// resolved to a country centroid) rather than a legitimate shared site.
func sharedCoordinateClusters(places []model.VocabTerm) []Issue {
	type key struct{ lat, lon float64 }
	groups := map[key][]model.VocabTerm{}
	for _, p := range places {
		if !p.HasCoordinates() {
			continue
		}
		k := key{*p.Lat, *p.Lon}
		groups[k] = append(groups[k], p)
	}

	var out []Issue
	for k, group := range groups {
		if len(group) < 5 {
			continue
		}
		if !namesDivergeFirstWord(group) {
			continue
		}
		ids := make([]string, 0, len(group))
		for _, p := range group {
			ids = append(ids, p.ID)
		}
		sort.Strings(ids)
		out = append(out, Issue{
			PlaceID: ids[0],
			PlaceName: fmt.Sprintf("%d places", len(group)),
			Kind:      IssueSharedCoord,
			Detail:    fmt.Sprintf("lat=%v lon=%v shared by %d places with divergent names: %s", k.lat, k.lon, len(group), strings.Join(ids, ", ")),
		})
	}
	return out
}

func namesDivergeFirstWord(group []model.VocabTerm) bool {
	firstWords := map[string]bool{}
	for _, p := range group {
		name := p.LabelEn
		if name == "" {
			name = p.LabelNl
		}
		fields := strings.Fields(name)
		if len(fields) == 0 {
			continue
		}
		firstWords[strings.ToLower(fields[0])] = true
	}
	if len(firstWords) < 2 {
		return false
	}
	words := make([]string, 0, len(firstWords))
	for w := range firstWords {
		words = append(words, w)
	}
	for i := 0; i < len(words); i++ {
		for j := i + 1; j < len(words); j++ {
			if wordDistanceAtLeast(words[i], words[j], 3) {
				return true
			}
		}
	}
	return false
}

// wordDistanceAtLeast is a cheap common-prefix divergence check, not a full
// edit distance: two words "diverge by at least n" if, past their shared
// prefix, either one has n or more characters left over.
func wordDistanceAtLeast(a, b string, n int) bool {
	shared := 0
	for shared < len(a) && shared < len(b) && a[shared] == b[shared] {
		shared++
	}
	return len(a)-shared >= n || len(b)-shared >= n
}
