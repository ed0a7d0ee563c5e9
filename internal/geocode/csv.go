package geocode

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/kintopp/rijksmuseum-mcp-plus/internal/logger"
	"github.com/kintopp/rijksmuseum-mcp-plus/internal/store"
)

// ImportCSV reads a hand-curated geocoding CSV and writes lat/lon (and,
// where the CSV supplies a non-empty differing value, external_id) for
// existing vocabulary rows only — it never creates new places.
func ImportCSV(ctx context.Context, st *store.Store, path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("open geocoding import csv: %w", err)
	}
	defer f.Close()

	rows, err := readCSVRows(f)
	if err != nil {
		return 0, err
	}

	updates := map[string]store.CoordExternalUpdate{}
	coordOnly := map[string][2]float64{}
	for _, row := range rows {
		id := row["id"]
		if id == "" {
			continue
		}
		lat, latOK := parseCSVFloat(row["lat"])
		lon, lonOK := parseCSVFloat(row["lon"])
		if !latOK || !lonOK {
			continue
		}
		externalID := strings.TrimSpace(row["external_id"])
		if externalID != "" {
			updates[id] = store.CoordExternalUpdate{Lat: lat, Lon: lon, ExternalID: externalID}
		} else {
			coordOnly[id] = [2]float64{lat, lon}
		}
	}

	n1, err := st.UpdateCoordsAndExternalID(ctx, updates)
	if err != nil {
		return 0, err
	}
	n2, err := st.UpdateCoords(ctx, coordOnly)
	if err != nil {
		return 0, err
	}
	total := n1 + n2
	logger.Info("geocode csv import complete", "path", path, "rows", len(rows), "applied", total)
	return total, nil
}

// acceptedDecisionValues is the case-insensitive set of "yes" markers the
// apply-reviewed CSV accepts in its decision column.
var acceptedDecisionValues = map[string]bool{
	"y": true, "yes": true, "1": true, "accept": true,
}

// ApplyReviewedCSV reads a human-reviewed CSV (the phase-3 "review" export,
// annotated with a decision column) and applies the top candidate's lat/lon
// and Wikidata external id for every row whose decision marks it accepted.
func ApplyReviewedCSV(ctx context.Context, st *store.Store, path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("open reviewed geocoding csv: %w", err)
	}
	defer f.Close()

	rows, err := readCSVRows(f)
	if err != nil {
		return 0, err
	}

	updates := map[string]store.CoordExternalUpdate{}
	for _, row := range rows {
		decision := strings.ToLower(strings.TrimSpace(row["decision"]))
		if !acceptedDecisionValues[decision] {
			continue
		}
		id := row["place_id"]
		lat, latOK := parseCSVFloat(row["top_lat"])
		lon, lonOK := parseCSVFloat(row["top_lon"])
		if id == "" || !latOK || !lonOK {
			continue
		}
		var externalID string
		if qid := strings.TrimSpace(row["top_qid"]); qid != "" {
			externalID = "https://www.wikidata.org/wiki/" + qid
		}
		updates[id] = store.CoordExternalUpdate{
			Lat:        lat,
			Lon:        lon,
			ExternalID: externalID,
		}
	}

	n, err := st.UpdateCoordsAndExternalID(ctx, updates)
	if err != nil {
		return 0, err
	}
	logger.Info("geocode apply-reviewed complete", "path", path, "rows", len(rows), "applied", n)
	return n, nil
}

// readCSVRows parses a CSV with a header row into column-name-keyed maps.
func readCSVRows(r io.Reader) ([]map[string]string, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	header, err := cr.Read()
	if err == io.EOF {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read csv header: %w", err)
	}

	var out []map[string]string
	for {
		record, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read csv row: %w", err)
		}
		row := map[string]string{}
		for i, col := range header {
			if i < len(record) {
				row[strings.TrimSpace(col)] = record[i]
			}
		}
		out = append(out, row)
	}
	return out, nil
}

func parseCSVFloat(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

// WriteScoredCSVs writes the phase 3c outputs: accepted (informational —
// these were already applied), review, and rejected places, one CSV per
// decision bucket under dir.
func WriteScoredCSVs(dir string, scored []ScoredPlace) (accepted, review, rejected string, err error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", "", "", fmt.Errorf("create geocode output dir: %w", err)
	}
	accepted = dir + "/reconcile_accepted.csv"
	review = dir + "/reconcile_review.csv"
	rejected = dir + "/reconcile_rejected.csv"

	buckets := map[Decision][]ScoredPlace{}
	for _, sp := range scored {
		buckets[sp.Decision] = append(buckets[sp.Decision], sp)
	}

	if err := writeScoredCSV(accepted, buckets[DecisionAccepted]); err != nil {
		return "", "", "", err
	}
	if err := writeScoredCSV(review, buckets[DecisionReview]); err != nil {
		return "", "", "", err
	}
	if err := writeScoredCSV(rejected, buckets[DecisionRejected]); err != nil {
		return "", "", "", err
	}
	return accepted, review, rejected, nil
}

func writeScoredCSV(path string, scored []ScoredPlace) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	defer w.Flush()

	header := []string{"place_id", "place_name", "decision", "gap", "top_qid", "top_label", "top_score", "top_lat", "top_lon"}
	if err := w.Write(header); err != nil {
		return err
	}
	for _, sp := range scored {
		row := []string{sp.PlaceID, sp.PlaceName, string(sp.Decision), fmt.Sprintf("%.2f", sp.Gap)}
		if sp.Top != nil {
			lat, lon := "", ""
			if sp.Top.Lat != nil {
				lat = fmt.Sprintf("%.6f", *sp.Top.Lat)
			}
			if sp.Top.Lon != nil {
				lon = fmt.Sprintf("%.6f", *sp.Top.Lon)
			}
			row = append(row, sp.Top.QID, sp.Top.Label, fmt.Sprintf("%.2f", sp.Top.Score), lat, lon)
		} else {
			row = append(row, "", "", "", "", "")
		}
		if err := w.Write(row); err != nil {
			return err
		}
	}
	return nil
}
