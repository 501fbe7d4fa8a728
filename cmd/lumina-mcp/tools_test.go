package main

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/fpang/lumina-enhancer/internal/auth"
	"github.com/fpang/lumina-enhancer/internal/export"
	"github.com/fpang/lumina-enhancer/internal/ingest"
)

type stubEnhancer struct {
	out ingest.ImagePayload
	err error
}

func (s stubEnhancer) Enhance(context.Context, ingest.ImagePayload) (ingest.ImagePayload, error) {
	return s.out, s.err
}

func newTools(t *testing.T, withKey bool, enh stubEnhancer) *tools {
	t.Helper()
	keys := auth.NewKeyring(nil)
	if withKey {
		if err := keys.Set("test-key"); err != nil {
			t.Fatal(err)
		}
	}
	fixed := time.UnixMilli(1700000000000)
	return &tools{
		keys:     keys,
		enhancer: enh,
		validate: func(context.Context, string) error { return nil },
		now:      func() time.Time { return fixed },
	}
}

func writePhoto(t *testing.T) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "photo.png")
	if err := os.WriteFile(p, []byte("original-bytes"), 0o644); err != nil {
		t.Fatal(err)
	}
	return p
}

func TestEnhancePhotoSavesResult(t *testing.T) {
	enhanced := ingest.NewImagePayload([]byte("enhanced-bytes"), "image/png")
	tl := newTools(t, true, stubEnhancer{out: enhanced})
	photo := writePhoto(t)
	outDir := t.TempDir()

	_, out, err := tl.enhancePhoto(context.Background(), nil, EnhanceInput{Path: photo, OutDir: outDir, Bundle: true})
	if err != nil {
		t.Fatalf("enhancePhoto: %v", err)
	}
	want := filepath.Join(outDir, "lumina-enhanced-1700000000000.png")
	if out.SavedPath != want {
		t.Errorf("SavedPath = %q, want %q", out.SavedPath, want)
	}
	got, err := os.ReadFile(out.SavedPath)
	if err != nil || string(got) != "enhanced-bytes" {
		t.Errorf("saved content = %q, %v", got, err)
	}
	if out.OriginalBytes != len("original-bytes") || out.EnhancedBytes != len("enhanced-bytes") {
		t.Errorf("sizes = %d/%d", out.OriginalBytes, out.EnhancedBytes)
	}
	if out.BundlePath != filepath.Join(outDir, export.BundleName(tl.now())) {
		t.Errorf("BundlePath = %q", out.BundlePath)
	}
	if _, err := os.Stat(out.BundlePath); err != nil {
		t.Errorf("bundle missing: %v", err)
	}
}

func TestEnhancePhotoDefaultsToPhotoDir(t *testing.T) {
	tl := newTools(t, true, stubEnhancer{out: ingest.NewImagePayload([]byte("x"), "image/png")})
	photo := writePhoto(t)

	_, out, err := tl.enhancePhoto(context.Background(), nil, EnhanceInput{Path: photo})
	if err != nil {
		t.Fatalf("enhancePhoto: %v", err)
	}
	if filepath.Dir(out.SavedPath) != filepath.Dir(photo) {
		t.Errorf("saved in %q, want %q", filepath.Dir(out.SavedPath), filepath.Dir(photo))
	}
}

func TestEnhancePhotoErrors(t *testing.T) {
	photo := writePhoto(t)

	t.Run("missing path", func(t *testing.T) {
		tl := newTools(t, true, stubEnhancer{})
		if _, _, err := tl.enhancePhoto(context.Background(), nil, EnhanceInput{}); err == nil {
			t.Fatal("expected error")
		}
	})

	t.Run("no key", func(t *testing.T) {
		tl := newTools(t, false, stubEnhancer{})
		_, _, err := tl.enhancePhoto(context.Background(), nil, EnhanceInput{Path: photo})
		if !errors.Is(err, auth.ErrNoCredential) {
			t.Fatalf("err = %v, want ErrNoCredential", err)
		}
	})

	t.Run("service failure", func(t *testing.T) {
		tl := newTools(t, true, stubEnhancer{err: errors.New("quota exhausted")})
		_, _, err := tl.enhancePhoto(context.Background(), nil, EnhanceInput{Path: photo})
		if err == nil || !strings.Contains(err.Error(), "quota exhausted") {
			t.Fatalf("err = %v", err)
		}
	})
}

func TestValidateKey(t *testing.T) {
	tl := newTools(t, true, stubEnhancer{})
	_, out, err := tl.validateKey(context.Background(), nil, ValidateInput{})
	if err != nil || !out.Valid {
		t.Fatalf("validateKey = %+v, %v", out, err)
	}

	tl = newTools(t, false, stubEnhancer{})
	_, out, err = tl.validateKey(context.Background(), nil, ValidateInput{})
	if err != nil {
		t.Fatal(err)
	}
	if out.Valid || out.Kind != auth.KindNoKey.String() {
		t.Errorf("validateKey without key = %+v", out)
	}
}
