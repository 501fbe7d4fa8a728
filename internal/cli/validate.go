package cli

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fpang/lumina-enhancer/internal/auth"
	"github.com/fpang/lumina-enhancer/internal/enhance"
	"github.com/fpang/lumina-enhancer/internal/ingest"
	"github.com/rs/zerolog/log"
)

// ResolveImagePath checks that path is an existing regular file and returns
// its absolute form.
func ResolveImagePath(path string) (string, error) {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("file not found: %s", path)
		}
		return "", fmt.Errorf("failed to access %s: %w", path, err)
	}
	if info.IsDir() {
		return "", fmt.Errorf("%s is a directory", path)
	}
	if abs, err := filepath.Abs(path); err == nil {
		path = abs
	}
	return path, nil
}

// Hint returns a one-line suggestion for err, or "" when there is none.
func Hint(err error) string {
	var verr *ingest.ValidationError
	switch {
	case err == nil:
		return ""
	case errors.As(err, &verr):
		return verr.Message
	case ingest.IsIOError(err):
		return "Failed to read file."
	case errors.Is(err, enhance.ErrNoImage):
		return "The model returned no image. Try again or use a different photo."
	case errors.Is(err, auth.ErrPromptCanceled):
		return "Key selection was canceled."
	}

	switch auth.Classify(err).Kind {
	case auth.KindNoKey:
		return "No API key configured. Set GEMINI_API_KEY or store one in ~/.lumina/credentials.gpg"
	case auth.KindInvalidKey:
		return "Invalid API key. Please check your API key and try again"
	case auth.KindNetwork:
		return "Network error. Please check your internet connection"
	case auth.KindQuota:
		return "API quota exceeded. Please try again later or check your usage limits"
	default:
		return ""
	}
}

// HandleCredentialError logs err with its hint and exits.
func HandleCredentialError(err error) {
	if hint := Hint(err); hint != "" {
		log.Fatal().Err(err).Msg(hint)
	}
	log.Fatal().Err(err).Msg("API key validation failed")
	os.Exit(1)
}
