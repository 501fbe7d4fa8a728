package export

import (
	"archive/zip"
	"bytes"
	"fmt"
	"io"
	"time"

	"github.com/fpang/lumina-enhancer/internal/ingest"
	"github.com/klauspost/compress/zstd"
)

// ZipMethodZstd is the ZIP method id for Zstandard (APPNOTE 6.3.7).
const ZipMethodZstd uint16 = 93

// BundleName returns the ZIP file name for a bundle written at now.
func BundleName(now time.Time) string {
	return fmt.Sprintf("%s%d.zip", FilePrefix, now.UnixMilli())
}

// WriteBundle writes a zstd-compressed ZIP holding original-<ts>.<ext> and
// the enhanced image under its Filename.
func WriteBundle(w io.Writer, original, enhanced ingest.ImagePayload, now time.Time) error {
	zw := zip.NewWriter(w)
	zw.RegisterCompressor(ZipMethodZstd, func(out io.Writer) (io.WriteCloser, error) {
		return zstd.NewWriter(out, zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(12)))
	})

	entries := []struct {
		name string
		p    ingest.ImagePayload
	}{
		{fmt.Sprintf("original-%d.%s", now.UnixMilli(), Extension(original.MediaType())), original},
		{Filename(enhanced.MediaType(), now), enhanced},
	}
	for _, e := range entries {
		if e.p.IsZero() {
			continue
		}
		header := &zip.FileHeader{Name: e.name, Method: ZipMethodZstd}
		header.Modified = now
		fw, err := zw.CreateHeader(header)
		if err != nil {
			return fmt.Errorf("create ZIP entry for %s: %w", e.name, err)
		}
		if _, err := fw.Write(e.p.Bytes()); err != nil {
			return fmt.Errorf("write to ZIP for %s: %w", e.name, err)
		}
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("close ZIP writer: %w", err)
	}
	return nil
}

// OpenBundle opens a bundle written by WriteBundle.
func OpenBundle(data []byte) (*zip.Reader, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("open ZIP: %w", err)
	}
	zr.RegisterDecompressor(ZipMethodZstd, zstd.ZipDecompressor())
	return zr, nil
}
