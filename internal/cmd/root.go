// Package cmd wires the cobra command tree for rijksharvest: one
// subcommand per pipeline phase (dump, harvest, resolve, normalize,
// enrich, geocode, embed) plus a composite run command that drives a
// phase range end to end. Grounded on the teacher's cmd/cmd/root.go
// (persistent flags, cobra.OnInitialize, Execute) generalized from a
// single flat command set to a phase-oriented subcommand tree.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/kintopp/rijksmuseum-mcp-plus/internal/config"
	"github.com/kintopp/rijksmuseum-mcp-plus/internal/store"
)

var (
	cfgFile     string
	threads     int
	resume      bool
	skipDump    bool
	phaseFlag   int
	geoCSVPath  string
	dryRun      bool
	applyReview string
)

var rootCmd = &cobra.Command{
	Use:   "rijksharvest",
	Short: "Harvest, normalize, geocode, and embed the Rijksmuseum linked-data collection",
	Long: `rijksharvest drives the museum collection knowledge-base pipeline:
bulk N-Triples ingestion, OAI-PMH harvesting, Linked Art resolution and
enrichment, dense-to-narrow normalization, multi-phase place geocoding,
and semantic embedding.`,
}

// Execute runs the root command. Called once from main.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./.rijksharvest.yaml or $HOME/.rijksharvest.yaml)")
	rootCmd.PersistentFlags().IntVar(&threads, "threads", 0, "override dispatch concurrency (0 = use config)")
	rootCmd.PersistentFlags().BoolVar(&resume, "resume", true, "resume from the last checkpoint where supported")
	rootCmd.PersistentFlags().BoolVar(&skipDump, "skip-dump", false, "skip bulk N-Triples ingestion (phase 0)")
	rootCmd.PersistentFlags().IntVar(&phaseFlag, "phase", 0, "for run: highest phase number to execute (1=harvest .. 6=embed; 0 = all phases)")
	rootCmd.PersistentFlags().StringVar(&geoCSVPath, "geo-csv", "", "path to a hand-curated geocoding import CSV")
	rootCmd.PersistentFlags().BoolVar(&dryRun, "dry-run", false, "report what would change without writing to the store")
	rootCmd.PersistentFlags().StringVar(&applyReview, "apply-reviewed", "", "path to a reviewed geocoding CSV to apply (geocode subcommand)")

	rootCmd.AddCommand(dumpCmd, harvestCmd, resolveCmd, normalizeCmd, enrichCmd, geocodeCmd, embedCmd, runCmd)
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("load configuration: %w", err)
	}
	if threads > 0 {
		cfg.Dispatch.Threads = threads
	}
	return cfg, nil
}

func openStore(cfg *config.Config) (*store.Store, error) {
	st, err := store.Open(cfg.Store.Path)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	return st, nil
}

func openVecStore(cfg *config.Config) (*store.Store, error) {
	if cfg.Store.VecPath != "" {
		store.SetVecExtensionPath(cfg.Store.VecPath)
	}
	return openStore(cfg)
}
