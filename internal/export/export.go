// Package export saves enhanced images: a local file with a timestamped
// name, a ZIP bundle of the before/after pair, or an S3 object.
package export

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fpang/lumina-enhancer/internal/ingest"
	"github.com/rs/zerolog/log"
)

// FilePrefix starts every exported file name.
const FilePrefix = "lumina-enhanced-"

// Extension returns the file extension for mediaType, defaulting to png.
func Extension(mediaType string) string {
	switch strings.ToLower(strings.TrimSpace(mediaType)) {
	case "image/jpeg", "image/jpg":
		return "jpg"
	case "image/webp":
		return "webp"
	case "image/gif":
		return "gif"
	case "image/heic":
		return "heic"
	case "image/heif":
		return "heif"
	default:
		return "png"
	}
}

// Filename returns lumina-enhanced-<unix millis>.<ext>.
func Filename(mediaType string, now time.Time) string {
	return fmt.Sprintf("%s%d.%s", FilePrefix, now.UnixMilli(), Extension(mediaType))
}

// SaveFile writes p into dir under Filename and returns the path. An
// existing file is never overwritten.
func SaveFile(dir string, p ingest.ImagePayload, now time.Time) (string, error) {
	if p.IsZero() {
		return "", fmt.Errorf("nothing to save: empty image")
	}
	path := filepath.Join(dir, Filename(p.MediaType(), now))
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return "", fmt.Errorf("failed to create %s: %w", path, err)
	}
	if _, err := f.Write(p.Bytes()); err != nil {
		f.Close()
		os.Remove(path)
		return "", fmt.Errorf("failed to write %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("failed to close %s: %w", path, err)
	}
	log.Info().Str("path", path).Int("bytes", p.Len()).Msg("Enhanced image saved")
	return path, nil
}
