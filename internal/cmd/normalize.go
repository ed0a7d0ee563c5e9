package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kintopp/rijksmuseum-mcp-plus/internal/geocode"
	"github.com/kintopp/rijksmuseum-mcp-plus/internal/logger"
	"github.com/kintopp/rijksmuseum-mcp-plus/internal/normalize"
)

var normalizeCmd = &cobra.Command{
	Use:   "normalize",
	Short: "Collapse the wide ingest mapping shape into dense surrogate ids (phase 3)",
	RunE: func(cmd *cobra.Command, args []string) error {
		logger.SetPhase("normalize")
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		st, err := openVecStore(cfg)
		if err != nil {
			return err
		}
		defer st.Close()

		res, err := normalize.Run(cmd.Context(), st)
		if err != nil {
			return fmt.Errorf("phase 3: %w", err)
		}
		if res.AlreadyNormalized {
			cmd.Println("normalizer: store already normalized, nothing to do")
		} else {
			cmd.Printf("normalized: %d vocab ids assigned, %d artwork ids assigned, %d mappings written, %d orphans dropped\n",
				res.VocabAssigned, res.ArtworksAssigned, res.MappingsWritten, res.OrphanMappings)
		}

		if geoCSVPath != "" {
			n, err := geocode.ImportCSV(cmd.Context(), st, geoCSVPath)
			if err != nil {
				return fmt.Errorf("import geocoding csv: %w", err)
			}
			cmd.Printf("applied %d rows from %s\n", n, geoCSVPath)
		}
		return nil
	},
}
