package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kintopp/rijksmuseum-mcp-plus/internal/linkedart"
	"github.com/kintopp/rijksmuseum-mcp-plus/internal/logger"
)

var resolveCmd = &cobra.Command{
	Use:   "resolve",
	Short: "Resolve vocabulary ids referenced by mappings via Linked Art (phase 2 / 2-bis)",
	RunE: func(cmd *cobra.Command, args []string) error {
		logger.SetPhase("resolve")
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

		resolved, failed, err := linkedart.RunResolve(cmd.Context(), st, client, cfg.Dispatch.Threads)
		if err != nil {
			return fmt.Errorf("phase 2: %w", err)
		}
		cmd.Printf("resolved %d vocabulary terms (%d failed, left for next run)\n", resolved, failed)
		return nil
	},
}
