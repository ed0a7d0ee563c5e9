package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kintopp/rijksmuseum-mcp-plus/internal/logger"
	"github.com/kintopp/rijksmuseum-mcp-plus/internal/ntparse"
)

var dumpCmd = &cobra.Command{
	Use:   "dump",
	Short: "Seed external vocabulary and bulk-load N-Triples dumps (phase 0)",
	RunE: func(cmd *cobra.Command, args []string) error {
		logger.SetPhase("dump")
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
		if err := ntparse.RunPhase0(ctx, st, cfg.Dumps.Dir, cfg.Dumps.ExtractTmpDir); err != nil {
			return fmt.Errorf("phase 0: %w", err)
		}
		return nil
	},
}
