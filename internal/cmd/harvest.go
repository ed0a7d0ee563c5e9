package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kintopp/rijksmuseum-mcp-plus/internal/logger"
	"github.com/kintopp/rijksmuseum-mcp-plus/internal/oai"
)

var harvestCmd = &cobra.Command{
	Use:   "harvest",
	Short: "Harvest artwork records and mappings via OAI-PMH (phase 1)",
	RunE: func(cmd *cobra.Command, args []string) error {
		logger.SetPhase("harvest")
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		st, err := openStore(cfg)
		if err != nil {
			return err
		}
		defer st.Close()

		h := oai.New(oai.Config{
			BaseURL:        cfg.OAI.BaseURL,
			MetadataPrefix: cfg.OAI.MetadataPrefix,
			UserAgent:      cfg.OAI.UserAgent,
			CheckpointPath: cfg.OAI.CheckpointPath,
			PageTimeout:    cfg.OAI.PageTimeout,
			MaxRetries:     cfg.OAI.MaxRetries,
			RetryBaseDelay: cfg.OAI.RetryBaseDelay,
			CommitEveryN:   cfg.OAI.CommitEveryN,
			ProgressEveryN: cfg.OAI.ProgressEveryN,
		})

		ctx := cmd.Context()
		sets, err := h.ListSets(ctx)
		if err != nil {
			return fmt.Errorf("list sets: %w", err)
		}
		for _, s := range sets {
			if err := st.UpsertVocabTerm(ctx, s); err != nil {
				return fmt.Errorf("seed collection set %s: %w", s.ID, err)
			}
		}

		if err := h.Run(ctx, st, resume); err != nil {
			return fmt.Errorf("phase 1: %w", err)
		}
		return nil
	},
}
