package main

import (
	"context"
	"os"
	"time"

	"github.com/fpang/lumina-enhancer/internal/auth"
	"github.com/fpang/lumina-enhancer/internal/cli"
	"github.com/fpang/lumina-enhancer/internal/config"
	"github.com/fpang/lumina-enhancer/internal/logging"
	"github.com/fpang/lumina-enhancer/internal/metrics"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var modelFlag string

var rootCmd = &cobra.Command{
	Use:   "lumina-mcp",
	Short: "MCP server exposing Lumina photo enhancement",
	Long: `Lumina MCP serves the enhance_photo and validate_key tools over stdio so
an MCP-capable assistant can enhance local photos.

The API key is read from GEMINI_API_KEY, SSM or the GPG credentials file;
this server never prompts.

Examples:
  lumina-mcp
  lumina-mcp --model gemini-3-pro-image-preview`,
	Run: runMain,
}

func init() {
	rootCmd.Flags().StringVarP(&modelFlag, "model", "m", "", "Gemini image model to use")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runMain(cmd *cobra.Command, args []string) {
	logging.Init()
	// stdout carries the MCP stream
	if os.Getenv("LUMINA_METRICS") == "emf" {
		metrics.Enable(os.Stderr, "lumina-mcp")
	}
	cfg := config.Load()
	if modelFlag != "" {
		cfg.Model = modelFlag
	}

	keys := auth.NewKeyring(nil, cli.KeySources(cfg)...)
	t := &tools{
		keys:     keys,
		enhancer: cli.NewEnhancer(cfg, keys),
		validate: cli.KeyValidator(cfg.GeminiBaseURL),
		timeout:  cfg.EnhanceTimeout,
		now:      time.Now,
	}

	server := newServer(t)
	log.Info().
		Str("model", cli.ModelName(cfg)).
		Str("commit", commitHash).
		Str("build_time", buildTime).
		Msg("Lumina MCP server listening on stdio")
	if err := server.Run(context.Background(), &mcp.StdioTransport{}); err != nil {
		log.Fatal().Err(err).Msg("MCP server stopped")
	}
}
