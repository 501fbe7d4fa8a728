package ingest

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"
)

// sizedFile declares one size and serves content of another.
type sizedFile struct {
	name      string
	mediaType string
	declared  int64
	content   []byte
	openErr   error
	readErr   error
	opened    bool
}

func (f *sizedFile) Name() string      { return f.name }
func (f *sizedFile) MediaType() string { return f.mediaType }
func (f *sizedFile) Size() int64       { return f.declared }
func (f *sizedFile) Open() (io.ReadCloser, error) {
	f.opened = true
	if f.openErr != nil {
		return nil, f.openErr
	}
	if f.readErr != nil {
		return io.NopCloser(&failingReader{err: f.readErr}), nil
	}
	return io.NopCloser(bytes.NewReader(f.content)), nil
}

type failingReader struct{ err error }

func (r *failingReader) Read([]byte) (int, error) { return 0, r.err }

func TestIngest_RejectsNonImageMediaTypes(t *testing.T) {
	types := []string{"text/plain", "application/pdf", "video/mp4", "", "application/octet-stream", "imagex/png"}
	for _, mt := range types {
		t.Run(mt, func(t *testing.T) {
			f := &sizedFile{name: "doc", mediaType: mt, declared: 3, content: []byte("abc")}
			_, err := Ingest(context.Background(), f)

			var v *ValidationError
			if !errors.As(err, &v) {
				t.Fatalf("expected *ValidationError, got %v", err)
			}
			if v.Reason != ReasonMediaType {
				t.Errorf("expected ReasonMediaType, got %v", v.Reason)
			}
			if f.opened {
				t.Error("file must not be read when validation fails")
			}
		})
	}
}

func TestIngest_AcceptsImageTypes(t *testing.T) {
	types := []string{"image/png", "image/jpeg", "image/webp", "image/heic", "IMAGE/PNG", "image/PNG"}
	for _, mt := range types {
		t.Run(mt, func(t *testing.T) {
			content := []byte("not really pixels")
			p, err := Ingest(context.Background(), FromBytes("photo", mt, content))
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if p.MediaType() != mt {
				t.Errorf("expected declared media type %q, got %q", mt, p.MediaType())
			}
			if !bytes.Equal(p.Bytes(), content) {
				t.Error("payload content differs from file content")
			}
		})
	}
}

func TestIngest_SizeBoundary(t *testing.T) {
	exact := make([]byte, MaxFileSize)
	p, err := Ingest(context.Background(), FromBytes("exact.png", "image/png", exact))
	if err != nil {
		t.Fatalf("exactly 10 MiB should be accepted: %v", err)
	}
	if int64(p.Len()) != MaxFileSize {
		t.Errorf("expected %d bytes, got %d", MaxFileSize, p.Len())
	}

	over := make([]byte, MaxFileSize+1)
	_, err = Ingest(context.Background(), FromBytes("over.png", "image/png", over))
	var v *ValidationError
	if !errors.As(err, &v) {
		t.Fatalf("expected *ValidationError for 10 MiB + 1, got %v", err)
	}
	if v.Reason != ReasonTooLarge {
		t.Errorf("expected ReasonTooLarge, got %v", v.Reason)
	}
	if !strings.Contains(v.Error(), "too large") {
		t.Errorf("expected message to mention 'too large', got %q", v.Error())
	}
}

func TestIngest_ContentLargerThanDeclared(t *testing.T) {
	f := &sizedFile{
		name:      "liar.png",
		mediaType: "image/png",
		declared:  10,
		content:   make([]byte, MaxFileSize+1),
	}
	_, err := Ingest(context.Background(), f)
	var v *ValidationError
	if !errors.As(err, &v) || v.Reason != ReasonTooLarge {
		t.Fatalf("expected too-large validation error, got %v", err)
	}
}

func TestIngest_ReadFailures(t *testing.T) {
	cause := errors.New("disk on fire")
	tests := []struct {
		name string
		file *sizedFile
	}{
		{"open", &sizedFile{name: "a.png", mediaType: "image/png", declared: 1, openErr: cause}},
		{"read", &sizedFile{name: "b.png", mediaType: "image/png", declared: 1, readErr: cause}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Ingest(context.Background(), tt.file)
			if !IsIOError(err) {
				t.Fatalf("expected *IOError, got %v", err)
			}
			if IsValidationError(err) {
				t.Error("read failures must not be validation errors")
			}
			if !errors.Is(err, cause) {
				t.Error("IOError should wrap the underlying cause")
			}
			if err.Error() != "Failed to read file." {
				t.Errorf("unexpected message %q", err.Error())
			}
		})
	}
}

func TestIngest_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Ingest(ctx, FromBytes("a.png", "image/png", []byte{1}))
	if !IsIOError(err) || !errors.Is(err, context.Canceled) {
		t.Fatalf("expected IOError wrapping context.Canceled, got %v", err)
	}
}

func TestImagePayload_Immutable(t *testing.T) {
	src := []byte{1, 2, 3}
	p := NewImagePayload(src, " Image/PNG ")
	src[0] = 9

	got := p.Bytes()
	if got[0] != 1 {
		t.Error("payload must not alias the constructor's slice")
	}
	got[1] = 9
	if p.Bytes()[1] != 2 {
		t.Error("payload must not alias the returned slice")
	}
	if p.MediaType() != "image/png" {
		t.Errorf("expected normalized media type, got %q", p.MediaType())
	}
	if p.IsZero() {
		t.Error("non-empty payload reported as zero")
	}
	if !(ImagePayload{}).IsZero() {
		t.Error("zero payload not reported as zero")
	}
}

func TestValidateDeclared(t *testing.T) {
	tests := []struct {
		mediaType string
		size      int64
		reason    Reason
		ok        bool
	}{
		{"image/png", MaxFileSize, 0, true},
		{"Image/JPEG", 1, 0, true},
		{"image/png", MaxFileSize + 1, ReasonTooLarge, false},
		{"application/pdf", 1, ReasonMediaType, false},
	}
	for _, tt := range tests {
		err := ValidateDeclared(tt.mediaType, tt.size)
		if tt.ok {
			if err != nil {
				t.Errorf("ValidateDeclared(%q, %d) = %v", tt.mediaType, tt.size, err)
			}
			continue
		}
		var v *ValidationError
		if !errors.As(err, &v) || v.Reason != tt.reason {
			t.Errorf("ValidateDeclared(%q, %d) = %v, want reason %v", tt.mediaType, tt.size, err, tt.reason)
		}
	}
}
