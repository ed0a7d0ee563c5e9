package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

// runCmd drives phases 0 through phaseFlag (default: all) in sequence,
// reusing each subcommand's own RunE so "run --phase 4" behaves exactly
// like invoking dump, harvest, resolve, enrich, normalize in order.
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the pipeline from dump through the requested --phase",
	Long: `run drives the pipeline end to end: dump (0), harvest (1),
resolve (2), enrich (4, which also re-runs resolve for newly-minted
references), normalize (3), geocode (5), embed (6) — normalize always
runs after enrich regardless of numbering, since embedding and
geocoding both require the normalized (narrow) mapping shape.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		highest := phaseFlag
		if highest <= 0 {
			highest = 6
		}

		steps := []struct {
			phase int
			name  string
			run   func(*cobra.Command, []string) error
		}{
			{0, "dump", dumpCmd.RunE},
			{1, "harvest", harvestCmd.RunE},
			{2, "resolve", resolveCmd.RunE},
			{4, "enrich", enrichCmd.RunE},
			{3, "normalize", normalizeCmd.RunE},
			{5, "geocode", geocodeCmd.RunE},
			{6, "embed", embedCmd.RunE},
		}

		for _, step := range steps {
			if step.phase == 0 && skipDump {
				continue
			}
			if step.phase > highest {
				continue
			}
			cmd.Printf("=== phase %d: %s ===\n", step.phase, step.name)
			if err := step.run(cmd, args); err != nil {
				return fmt.Errorf("phase %d (%s): %w", step.phase, step.name, err)
			}
		}
		return nil
	},
}
