package cmd

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	gc "github.com/kintopp/rijksmuseum-mcp-plus/internal/geocode"
	"github.com/kintopp/rijksmuseum-mcp-plus/internal/logger"
	"github.com/kintopp/rijksmuseum-mcp-plus/internal/store"
)

var geocodeSubPhase string

var geocodeCmd = &cobra.Command{
	Use:   "geocode",
	Short: "Geocode place vocabulary terms (gazetteer, SPARQL, reconciliation, validation)",
	RunE: func(cmd *cobra.Command, args []string) error {
		logger.SetPhase("geocode")
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		st, err := openStore(cfg)
		if err != nil {
			return err
		}
		defer st.Close()

		ctx := cmd.Context()

		if applyReview != "" {
			n, err := gc.ApplyReviewedCSV(ctx, st, applyReview)
			if err != nil {
				return fmt.Errorf("apply reviewed csv: %w", err)
			}
			cmd.Printf("applied %d reviewed rows from %s\n", n, applyReview)
			return nil
		}

		client := gc.NewClient(gc.Config{
			GazetteerUsername:    cfg.Geocoder.GazetteerUsername,
			GazetteerBaseURL:      cfg.Geocoder.GazetteerBaseURL,
			GazetteerRatePerSec:   cfg.Geocoder.GazetteerRatePerSec,
			WikidataSPARQLURL:     cfg.Geocoder.WikidataSPARQLURL,
			GettySPARQLURL:        cfg.Geocoder.GettySPARQLURL,
			WikidataAPIURL:        cfg.Geocoder.WikidataAPIURL,
			UserAgent:             cfg.Geocoder.UserAgent,
			SPARQLBatchSize:       cfg.Geocoder.SPARQLBatchSize,
			SPARQLBatchDelay:      cfg.Geocoder.SPARQLBatchDelay,
			SPARQLMaxRetries:      cfg.Geocoder.SPARQLMaxRetries,
			ReconcileConcurrency:  cfg.Geocoder.ReconcileConcurrency,
			BackoffInitial:        cfg.Geocoder.BackoffInitial,
			BackoffMax:            cfg.Geocoder.BackoffMax,
			AcceptScore:           cfg.Geocoder.AcceptScore,
			AcceptGap:             cfg.Geocoder.AcceptGap,
			ReviewScore:           cfg.Geocoder.ReviewScore,
			ReviewScoreWithCoords: cfg.Geocoder.ReviewScoreWithCoords,
			OutputDir:             cfg.Geocoder.OutputDir,
		}, nil)

		phases := geocodeSubPhase
		if phases == "" {
			phases = "1a,1b,1c,2,3,4"
		}
		return runGeocodePhases(ctx, client, st, phases)
	},
}

func init() {
	geocodeCmd.Flags().StringVar(&geocodeSubPhase, "sub-phase", "", "comma-separated geocoder sub-phases to run (1a,1b,1c,2,3,4); default all")
}

// runGeocodePhases drives the requested comma-separated sub-phases in the
// geocoder's fixed strict order, regardless of the order they were listed
// in (spec §4.5's "1a/1b/1c/2/3a-d/4" sequence).
func runGeocodePhases(ctx context.Context, client *gc.Client, st *store.Store, phases string) error {
	want := map[string]bool{}
	for _, p := range strings.Split(phases, ",") {
		want[strings.TrimSpace(p)] = true
	}

	// --dry-run only meaningfully separates "find candidates" from "write
	// results" for phase 3 (reconcile) and phase 2 (a single cheap SQL
	// read before the write); phases 1a-1c fetch and write coordinates in
	// one pass each, so dry-run skips them outright rather than half-run
	// them.
	if want["1a"] {
		if dryRun {
			fmt.Println("phase 1a (gazetteer): skipped (dry-run)")
		} else {
			n, err := client.RunGazetteer(ctx, st, false)
			if err != nil {
				return fmt.Errorf("geocode phase 1a: %w", err)
			}
			fmt.Printf("phase 1a (gazetteer): geocoded %d places\n", n)
		}
	}

	if want["1b"] {
		if dryRun {
			fmt.Println("phase 1b (alternative SPARQL): skipped (dry-run)")
		} else {
			n, err := client.RunAltSPARQL(ctx, st)
			if err != nil {
				return fmt.Errorf("geocode phase 1b: %w", err)
			}
			fmt.Printf("phase 1b (alternative SPARQL): geocoded %d places\n", n)
		}
	}

	if want["1c"] {
		if dryRun {
			fmt.Println("phase 1c (cross-reference SPARQL): skipped (dry-run)")
		} else {
			n, err := client.RunCrossReference(ctx, st)
			if err != nil {
				return fmt.Errorf("geocode phase 1c: %w", err)
			}
			fmt.Printf("phase 1c (cross-reference SPARQL): geocoded %d places\n", n)
		}
	}

	if want["2"] {
		updates, err := st.SelfReferenceCoords(ctx)
		if err != nil {
			return fmt.Errorf("geocode phase 2: %w", err)
		}
		if dryRun {
			fmt.Printf("phase 2 (self-reference): %d candidates found (dry-run, not applied)\n", len(updates))
		} else {
			n, err := st.UpdateCoords(ctx, updates)
			if err != nil {
				return fmt.Errorf("geocode phase 2 apply: %w", err)
			}
			fmt.Printf("phase 2 (self-reference): geocoded %d places\n", n)
		}
	}

	if want["3"] {
		scored, applied, err := client.RunReconcile(ctx, st, !dryRun)
		if err != nil {
			return fmt.Errorf("geocode phase 3: %w", err)
		}
		accepted, review, rejected, err := gc.WriteScoredCSVs(client.OutputDir(), scored)
		if err != nil {
			return fmt.Errorf("geocode phase 3 csv export: %w", err)
		}
		fmt.Printf("phase 3 (reconciliation): scored %d places, applied %d\n", len(scored), applied)
		fmt.Printf("  accepted -> %s\n  review -> %s\n  rejected -> %s\n", accepted, review, rejected)
	}

	if want["4"] {
		issues, err := gc.Validate(ctx, st)
		if err != nil {
			return fmt.Errorf("geocode phase 4: %w", err)
		}
		fmt.Printf("phase 4 (validation): %d issues found\n", len(issues))
		for _, iss := range issues {
			fmt.Printf("  [%s] %s: %s\n", iss.Kind, iss.PlaceName, iss.Detail)
		}
	}

	total, withCoords, err := st.PlaceCoverage(ctx)
	if err != nil {
		return fmt.Errorf("geocode coverage: %w", err)
	}
	fmt.Printf("coverage: %d/%d places geocoded\n", withCoords, total)
	return nil
}
