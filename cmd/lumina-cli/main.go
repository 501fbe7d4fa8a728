package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fpang/lumina-enhancer/internal/auth"
	"github.com/fpang/lumina-enhancer/internal/cli"
	"github.com/fpang/lumina-enhancer/internal/config"
	"github.com/fpang/lumina-enhancer/internal/export"
	"github.com/fpang/lumina-enhancer/internal/ingest"
	"github.com/fpang/lumina-enhancer/internal/logging"
	"github.com/fpang/lumina-enhancer/internal/metrics"
	"github.com/fpang/lumina-enhancer/internal/session"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

// CLI flags
var (
	outFlag      string
	modelFlag    string
	bundleFlag   bool
	noPromptFlag bool
	timeoutFlag  time.Duration
)

var rootCmd = &cobra.Command{
	Use:   "lumina",
	Short: "Professional photo enhancement with the Gemini image model",
	Long: `Lumina enhances a photo with the Gemini image model while preserving the
subject, composition and identity, and saves the result next to you.

Examples:
  lumina enhance portrait.jpg
  lumina enhance portrait.jpg --out ~/Pictures --bundle
  lumina enhance                 # pick a photo with a native dialog
  lumina validate                # check the configured API key`,
	SilenceUsage: true,
}

var enhanceCmd = &cobra.Command{
	Use:   "enhance [file]",
	Short: "Enhance one photo",
	Args:  cobra.MaximumNArgs(1),
	Run:   runEnhance,
}

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check that the Gemini API key works",
	Args:  cobra.NoArgs,
	Run:   runValidate,
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&noPromptFlag, "no-prompt", false, "Never open dialogs; read from the terminal instead")

	enhanceCmd.Flags().StringVarP(&outFlag, "out", "o", ".", "Directory to save the enhanced photo in")
	enhanceCmd.Flags().StringVarP(&modelFlag, "model", "m", "", "Gemini image model to use")
	enhanceCmd.Flags().BoolVar(&bundleFlag, "bundle", false, "Also save a ZIP with the original and the enhanced photo")
	enhanceCmd.Flags().DurationVar(&timeoutFlag, "timeout", 0, "Upper bound for the enhancement (0 = none)")

	rootCmd.AddCommand(enhanceCmd, validateCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newKeyring(cfg config.Config) *auth.Keyring {
	var prompter auth.Prompter
	if !noPromptFlag {
		prompter = auth.DialogPrompter{}
	}
	return auth.NewKeyring(prompter, cli.KeySources(cfg)...)
}

func runEnhance(cmd *cobra.Command, args []string) {
	logging.Init()
	metrics.EnabledFromEnv("lumina-cli")
	cfg := config.Load()
	if modelFlag != "" {
		cfg.Model = modelFlag
	}
	if cmd.Flags().Changed("timeout") {
		cfg.EnhanceTimeout = timeoutFlag
	}

	ctx := context.Background()
	keys := newKeyring(cfg)
	sess := session.New(keys, cli.NewEnhancer(cfg, keys))

	if !sess.CheckCredential(ctx) {
		if noPromptFlag {
			cli.HandleCredentialError(auth.ErrNoCredential)
		}
		if err := sess.SelectCredential(ctx); err != nil {
			cli.HandleCredentialError(err)
		}
	}

	path, err := choosePath(args)
	if err != nil {
		log.Fatal().Err(err).Msg("No photo to enhance")
	}
	if path, err = cli.ResolveImagePath(path); err != nil {
		log.Fatal().Err(err).Msg("Invalid photo path")
	}
	file, err := ingest.OpenLocal(path)
	if err != nil {
		log.Fatal().Err(err).Msg(cli.Hint(err))
	}

	if cfg.EnhanceTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.EnhanceTimeout)
		defer cancel()
	}

	start := time.Now()
	done, err := sess.Submit(ctx, file)
	if err != nil {
		log.Fatal().Err(err).Str("path", path).Msg(cli.Hint(err))
	}
	fmt.Printf("Enhancing %s (%s) with %s...\n", filepath.Base(path), cli.FormatBytes(int(file.Size())), cli.ModelName(cfg))

	switch st := (<-done).(type) {
	case session.Complete:
		saveResult(st.Result, time.Since(start))
	case session.Failed:
		hint := cli.Hint(st.Err)
		if hint == "" {
			hint = "Enhancement failed"
		}
		log.Fatal().Err(st.Err).Msg(hint)
	default:
		log.Fatal().Str("state", st.Name()).Msg("Unexpected session state")
	}
}

func saveResult(res session.EnhancementResult, took time.Duration) {
	now := time.Now()
	if err := os.MkdirAll(outFlag, 0o755); err != nil {
		log.Fatal().Err(err).Str("dir", outFlag).Msg("Failed to create output directory")
	}
	saved, err := export.SaveFile(outFlag, res.Enhanced, now)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to save enhanced photo")
	}
	fmt.Printf("Enhanced in %s: %s (%s)\n", cli.FormatDurationShort(took), saved, cli.FormatBytes(res.Enhanced.Len()))

	if !bundleFlag {
		return
	}
	bundlePath := filepath.Join(outFlag, export.BundleName(now))
	f, err := os.OpenFile(bundlePath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create bundle")
	}
	if err := export.WriteBundle(f, res.Original, res.Enhanced, now); err != nil {
		f.Close()
		os.Remove(bundlePath)
		log.Fatal().Err(err).Msg("Failed to write bundle")
	}
	if err := f.Close(); err != nil {
		log.Fatal().Err(err).Msg("Failed to close bundle")
	}
	fmt.Printf("Before/after bundle: %s\n", bundlePath)
}

// choosePath returns the argument, or asks for a photo with a native
// dialog, falling back to the terminal when no dialog can be shown.
func choosePath(args []string) (string, error) {
	if len(args) == 1 {
		return args[0], nil
	}
	if !noPromptFlag {
		path, err := cli.PickImage()
		if err == nil || errors.Is(err, cli.ErrNoSelection) {
			return path, err
		}
		log.Warn().Err(err).Msg("Native dialog unavailable; reading path from terminal")
	}
	return cli.PromptForPath(os.Stdin, os.Stdout)
}

func runValidate(cmd *cobra.Command, args []string) {
	logging.Init()
	cfg := config.Load()
	ctx := context.Background()

	keys := newKeyring(cfg)
	if !keys.HasCredential(ctx) {
		if noPromptFlag {
			cli.HandleCredentialError(auth.ErrNoCredential)
		}
		if err := keys.PromptForCredential(ctx); err != nil {
			cli.HandleCredentialError(err)
		}
	}
	key, err := keys.APIKey(ctx)
	if err != nil {
		cli.HandleCredentialError(err)
	}
	if err := cli.ValidateKey(ctx, key, cfg.GeminiBaseURL); err != nil {
		cli.HandleCredentialError(err)
	}
	fmt.Printf("API key from %s is valid.\n", keys.Origin())
}
