package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/fpang/lumina-enhancer/internal/auth"
	"github.com/fpang/lumina-enhancer/internal/cli"
	"github.com/fpang/lumina-enhancer/internal/config"
	"github.com/fpang/lumina-enhancer/internal/export"
	"github.com/fpang/lumina-enhancer/internal/logging"
	"github.com/fpang/lumina-enhancer/internal/metrics"
	"github.com/fpang/lumina-enhancer/internal/session"
	"github.com/fpang/lumina-enhancer/internal/web"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

// CLI flags
var (
	portFlag         int
	modelFlag        string
	dialogFlag       bool
	skipValidateFlag bool
	timeoutFlag      time.Duration
)

var rootCmd = &cobra.Command{
	Use:   "lumina-web",
	Short: "Web UI for Lumina photo enhancement",
	Long: `Lumina Web starts a local web server with a browser interface for
enhancing photos with the Gemini image model. Upload a photo, compare the
result with the original, and download or export it.

Examples:
  lumina-web
  lumina-web --port 9090
  lumina-web --dialog          # pick the API key with a native dialog`,
	Run: runMain,
}

func init() {
	rootCmd.Flags().IntVar(&portFlag, "port", 0, "Port to listen on (default $LUMINA_PORT or 8080)")
	rootCmd.Flags().StringVarP(&modelFlag, "model", "m", "", "Gemini image model to use")
	rootCmd.Flags().BoolVar(&dialogFlag, "dialog", false, "Ask for the API key with a native dialog")
	rootCmd.Flags().BoolVar(&skipValidateFlag, "skip-validate", false, "Store browser-supplied keys without a test request")
	rootCmd.Flags().DurationVar(&timeoutFlag, "enhance-timeout", 0, "Upper bound for one enhancement (0 = none)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runMain(cmd *cobra.Command, args []string) {
	initStart := time.Now()
	logging.Init()
	cfg := config.Load()

	if portFlag != 0 {
		cfg.Port = portFlag
	}
	if modelFlag != "" {
		cfg.Model = modelFlag
	}
	if cmd.Flags().Changed("enhance-timeout") {
		cfg.EnhanceTimeout = timeoutFlag
	}
	metricsOn := metrics.EnabledFromEnv("lumina-web")

	var prompter auth.Prompter
	if dialogFlag {
		prompter = auth.DialogPrompter{}
	}
	sources := cli.KeySources(cfg)
	reg := session.NewRegistry(func() *session.Session {
		keys := auth.NewKeyring(prompter, sources...)
		return session.New(keys, cli.NewEnhancer(cfg, keys))
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	opts := web.Options{
		EnhanceTimeout:     cfg.EnhanceTimeout,
		OriginVerifySecret: cfg.OriginVerifySecret,
		Metrics:            metricsOn,
	}
	if !skipValidateFlag {
		opts.ValidateKey = cli.KeyValidator(cfg.GeminiBaseURL)
	}
	if cfg.ExportBucket != "" {
		exporter, err := export.NewS3Exporter(ctx, cfg.ExportBucket, cfg.ExportPrefix)
		if err != nil {
			log.Warn().Err(err).Msg("S3 export disabled")
		} else {
			opts.Exporter = exporter
		}
	}

	go reg.Run(ctx, cfg.SessionIdleTTL)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      web.New(reg, opts).Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 180 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		log.Info().Msg("Shutting down...")
		cancel()
		shutdownCtx, done := context.WithTimeout(context.Background(), 10*time.Second)
		defer done()
		srv.Shutdown(shutdownCtx)
	}()

	logging.NewStartupLogger("lumina-web").
		CommitHash(commitHash).
		BuildTime(buildTime).
		InitDuration(time.Since(initStart)).
		Feature("metrics", metricsOn).
		Feature("dialogKey", dialogFlag).
		Feature("s3Export", opts.Exporter != nil).
		Feature("keyValidation", opts.ValidateKey != nil).
		Config("port", strconv.Itoa(cfg.Port)).
		Config("model", cli.ModelName(cfg)).
		Config("enhanceTimeout", cfg.EnhanceTimeout.String()).
		Config("sessionIdleTTL", cfg.SessionIdleTTL.String()).
		Log()

	fmt.Printf("\n  Lumina AI: http://localhost:%d\n\n", cfg.Port)

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal().Err(err).Msg("Server failed")
	}
}
