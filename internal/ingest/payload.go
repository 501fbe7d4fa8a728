package ingest

import "bytes"

// ImagePayload is binary image content plus its declared media type.
// The content is copied on construction and on access, so a payload
// never changes after it is created.
type ImagePayload struct {
	data      []byte
	mediaType string
}

// NewImagePayload copies data into a new payload. mediaType is kept exactly
// as declared.
func NewImagePayload(data []byte, mediaType string) ImagePayload {
	return ImagePayload{
		data:      bytes.Clone(data),
		mediaType: mediaType,
	}
}

// Bytes returns a copy of the image content.
func (p ImagePayload) Bytes() []byte {
	return bytes.Clone(p.data)
}

// Reader returns a read-only view of the content without copying it.
func (p ImagePayload) Reader() *bytes.Reader {
	return bytes.NewReader(p.data)
}

// MediaType returns the declared media type, e.g. "image/png".
func (p ImagePayload) MediaType() string {
	return p.mediaType
}

// Len returns the content size in bytes.
func (p ImagePayload) Len() int {
	return len(p.data)
}

// IsZero reports whether the payload holds no content.
func (p ImagePayload) IsZero() bool {
	return len(p.data) == 0 && p.mediaType == ""
}
