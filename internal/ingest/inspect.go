package ingest

import (
	"image"
	// Decoders registered for image.DecodeConfig.
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"strings"
	"time"

	"github.com/evanoberholster/imagemeta"
	"github.com/rs/zerolog/log"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// ImageInfo is descriptive data read from an image's header and EXIF block.
// Every field is optional; zero means unknown.
type ImageInfo struct {
	Format      string    `json:"format,omitempty"`
	Width       int       `json:"width,omitempty"`
	Height      int       `json:"height,omitempty"`
	CameraMake  string    `json:"cameraMake,omitempty"`
	CameraModel string    `json:"cameraModel,omitempty"`
	DateTaken   time.Time `json:"dateTaken,omitzero"`
}

// Inspect reads dimensions and EXIF data from p. It never fails: formats the
// decoders do not know (HEIC dimensions, for example) simply yield fewer
// fields.
func Inspect(p ImagePayload) (info ImageInfo) {
	defer func() {
		if r := recover(); r != nil {
			log.Debug().Interface("panic", r).Str("media_type", p.MediaType()).Msg("EXIF decoder panicked")
		}
	}()

	if cfg, format, err := image.DecodeConfig(p.Reader()); err == nil {
		info.Format = format
		info.Width = cfg.Width
		info.Height = cfg.Height
	} else {
		log.Debug().Err(err).Str("media_type", p.MediaType()).Msg("Could not decode image dimensions")
	}

	exifData, err := imagemeta.Decode(p.Reader())
	if err != nil {
		log.Debug().Err(err).Str("media_type", p.MediaType()).Msg("No EXIF metadata")
		return info
	}

	info.CameraMake = strings.TrimSpace(exifData.Make)
	info.CameraModel = strings.TrimSpace(exifData.Model)
	switch {
	case !exifData.DateTimeOriginal().IsZero():
		info.DateTaken = exifData.DateTimeOriginal()
	case !exifData.CreateDate().IsZero():
		info.DateTaken = exifData.CreateDate()
	case !exifData.ModifyDate().IsZero():
		info.DateTaken = exifData.ModifyDate()
	}
	return info
}
