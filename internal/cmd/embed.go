package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"google.golang.org/genai"

	"github.com/kintopp/rijksmuseum-mcp-plus/internal/config"
	"github.com/kintopp/rijksmuseum-mcp-plus/internal/embed"
	"github.com/kintopp/rijksmuseum-mcp-plus/internal/logger"
)

var embedCmd = &cobra.Command{
	Use:   "embed",
	Short: "Generate and store semantic embeddings for every enriched artwork (phase E)",
	RunE: func(cmd *cobra.Command, args []string) error {
		logger.SetPhase("embed")
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		st, err := openVecStore(cfg)
		if err != nil {
			return err
		}
		defer st.Close()

		enc, err := buildEncoder(cmd.Context(), cfg)
		if err != nil {
			return err
		}

		stats, err := embed.Run(cmd.Context(), st, enc, embed.Config{
			DocumentPrefix:    cfg.Embed.DocumentPrefix,
			QueryPrefix:       cfg.Embed.QueryPrefix,
			BatchSize:         cfg.Embed.BatchSize,
			FlushThreshold:    cfg.Embed.FlushThreshold,
			ValidationQueries: cfg.Embed.ValidationQueries,
		})
		if err != nil {
			return fmt.Errorf("phase E: %w", err)
		}

		cmd.Printf("embedding: %d encoded, %d flushed, %d skipped, %d dangling re-embedded\n",
			stats.Encoded, stats.Flushed, stats.Skipped, stats.Dangling)
		for _, v := range stats.Validation {
			cmd.Printf("  validation query %q -> knn=%d brute-force=%d agree=%v\n", v.Query, v.KNNTop1, v.BruteTop1, v.Agree)
		}
		return nil
	},
}

func buildEncoder(ctx context.Context, cfg *config.Config) (embed.Encoder, error) {
	apiKey := cfg.Embed.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("GEMINI_API_KEY")
	}
	if apiKey == "" {
		return nil, fmt.Errorf("embed: no Gemini API key configured (set embed.api_key or GEMINI_API_KEY)")
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("embed: create genai client: %w", err)
	}
	return embed.NewGeminiEncoder(client, cfg.Embed.Model, cfg.Embed.Dimensions), nil
}
