package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kintopp/rijksmuseum-mcp-plus/internal/linkedart"
	"github.com/kintopp/rijksmuseum-mcp-plus/internal/logger"
)

var enrichCmd = &cobra.Command{
	Use:   "enrich",
	Short: "Fetch Tier-2 artwork substructure via Linked Art (phase 4)",
	RunE: func(cmd *cobra.Command, args []string) error {
		logger.SetPhase("enrich")
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		st, err := openStore(cfg)
		if err != nil {
			return err
		}
		defer st.Close()

		client := linkedart.NewClient(linkedart.Config{
			BaseURL:       cfg.LinkedArt.BaseURL,
			UserAgent:     cfg.LinkedArt.UserAgent,
			AcceptHeader:  cfg.LinkedArt.AcceptHeader,
			ProfileHeader: cfg.LinkedArt.ProfileHeader,
		}, nil)

		done, failed, err := linkedart.RunEnrich(cmd.Context(), st, client, linkedart.DefaultEnrichConfig(), cfg.Dispatch.Threads)
		if err != nil {
			return fmt.Errorf("phase 4: %w", err)
		}
		cmd.Printf("enriched %d artworks (%d failed, left for next run)\n", done, failed)

		// P4 mints new production_role/attribution_qualifier vocabulary
		// references; re-run phase 2 over the new gap (P2-bis).
		resolved, resolveFailed, err := linkedart.RunResolve(cmd.Context(), st, client, cfg.Dispatch.Threads)
		if err != nil {
			return fmt.Errorf("phase 2-bis: %w", err)
		}
		cmd.Printf("resolved %d newly-referenced vocabulary terms (%d failed)\n", resolved, resolveFailed)
		return nil
	},
}
