// Package ingest turns a user-selected file into an ImagePayload. It checks
// the declared media type and size, then reads the content in one blocking
// call. It performs no network access.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/rs/zerolog/log"
)

// MaxFileSize is the largest accepted upload: 10 MiB.
const MaxFileSize int64 = 10 * 1024 * 1024

// File is one user-provided file, whether uploaded, dropped, picked from a
// native dialog or named on the command line.
type File interface {
	// Name is the file's base name, used for logging only.
	Name() string
	// MediaType is the declared media type (e.g. "image/jpeg").
	MediaType() string
	// Size is the declared size in bytes.
	Size() int64
	// Open returns a reader over the content. The caller closes it.
	Open() (io.ReadCloser, error)
}

// Reason identifies why a file failed validation.
type Reason int

const (
	// ReasonMediaType means the media type does not begin with "image/".
	ReasonMediaType Reason = iota
	// ReasonTooLarge means the file exceeds MaxFileSize.
	ReasonTooLarge
)

func (r Reason) String() string {
	switch r {
	case ReasonMediaType:
		return "media_type"
	case ReasonTooLarge:
		return "too_large"
	default:
		return "unknown"
	}
}

// ValidationError reports a file rejected before any content was used.
type ValidationError struct {
	Reason    Reason
	Message   string
	MediaType string
	Size      int64
}

func (e *ValidationError) Error() string {
	return e.Message
}

// IOError reports a file that passed validation but could not be read.
type IOError struct {
	Name string
	Err  error
}

func (e *IOError) Error() string {
	return "Failed to read file."
}

func (e *IOError) Unwrap() error {
	return e.Err
}

// IsValidationError reports whether err is (or wraps) a *ValidationError.
func IsValidationError(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}

// IsIOError reports whether err is (or wraps) an *IOError.
func IsIOError(err error) bool {
	var e *IOError
	return errors.As(err, &e)
}

// Validate checks the declared media type and size of f.
func Validate(f File) error {
	return ValidateDeclared(f.MediaType(), f.Size())
}

// ValidateDeclared checks a media type and size before any content exists,
// e.g. ahead of a direct upload. The media type prefix is matched without
// regard to case.
func ValidateDeclared(mediaType string, size int64) error {
	if !strings.HasPrefix(strings.ToLower(strings.TrimSpace(mediaType)), "image/") {
		return &ValidationError{
			Reason:    ReasonMediaType,
			Message:   "Please upload a valid image file (JPEG, PNG, WebP).",
			MediaType: mediaType,
			Size:      size,
		}
	}
	if size > MaxFileSize {
		return tooLarge(mediaType, size)
	}
	return nil
}

func tooLarge(mediaType string, size int64) *ValidationError {
	return &ValidationError{
		Reason:    ReasonTooLarge,
		Message:   "File size too large. Please upload an image under 10MB.",
		MediaType: mediaType,
		Size:      size,
	}
}

// Ingest validates f and reads it into an ImagePayload carrying f's
// declared media type. Validation failures return *ValidationError and
// read failures *IOError; nothing is read when validation fails.
func Ingest(ctx context.Context, f File) (ImagePayload, error) {
	if err := Validate(f); err != nil {
		log.Warn().
			Str("file", f.Name()).
			Str("media_type", f.MediaType()).
			Int64("size", f.Size()).
			Err(err).
			Msg("File rejected")
		return ImagePayload{}, err
	}

	if err := ctx.Err(); err != nil {
		return ImagePayload{}, &IOError{Name: f.Name(), Err: err}
	}

	data, err := readAll(f)
	if err != nil {
		var v *ValidationError
		if errors.As(err, &v) {
			log.Warn().Str("file", f.Name()).Int64("declared_size", f.Size()).Msg("File content exceeds declared size")
			return ImagePayload{}, err
		}
		log.Error().Err(err).Str("file", f.Name()).Msg("Failed to read file")
		return ImagePayload{}, &IOError{Name: f.Name(), Err: err}
	}

	payload := NewImagePayload(data, f.MediaType())

	info := Inspect(payload)
	evt := log.Info().
		Str("file", f.Name()).
		Str("media_type", payload.MediaType()).
		Int("bytes", payload.Len())
	if info.Width > 0 {
		evt = evt.Int("width", info.Width).Int("height", info.Height)
	}
	if info.CameraModel != "" {
		evt = evt.Str("camera", strings.TrimSpace(info.CameraMake+" "+info.CameraModel))
	}
	evt.Msg("Image ingested")

	return payload, nil
}

// readAll reads at most MaxFileSize bytes; content beyond the limit is a
// validation failure even when the declared size was within it.
func readAll(f File) ([]byte, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", f.Name(), err)
	}
	defer rc.Close()

	data, err := io.ReadAll(io.LimitReader(rc, MaxFileSize+1))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", f.Name(), err)
	}
	if int64(len(data)) > MaxFileSize {
		return nil, tooLarge(f.MediaType(), int64(len(data)))
	}
	return data, nil
}
