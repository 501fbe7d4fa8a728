package cli

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/fpang/lumina-enhancer/internal/auth"
	"github.com/fpang/lumina-enhancer/internal/config"
	"github.com/fpang/lumina-enhancer/internal/enhance"
	"github.com/fpang/lumina-enhancer/internal/ingest"
	"google.golang.org/genai"
)

func TestFormatDurationShort(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want string
	}{
		{0, "0:00"},
		{23 * time.Second, "0:23"},
		{61 * time.Second, "1:01"},
		{time.Hour + 2*time.Minute + 3*time.Second, "1:02:03"},
	}
	for _, tt := range tests {
		if got := FormatDurationShort(tt.d); got != tt.want {
			t.Errorf("FormatDurationShort(%v) = %q, want %q", tt.d, got, tt.want)
		}
	}
}

func TestFormatBytes(t *testing.T) {
	if got := FormatBytes(512); got != "512 B" {
		t.Errorf("got %q", got)
	}
	if got := FormatBytes(1536); got != "1.5 KB" {
		t.Errorf("got %q", got)
	}
	if got := FormatBytes(10 << 20); got != "10.0 MB" {
		t.Errorf("got %q", got)
	}
}

func TestResolveImagePath(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "a.png")
	if err := os.WriteFile(file, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	got, err := ResolveImagePath(file)
	if err != nil || got != file {
		t.Errorf("ResolveImagePath = %q, %v", got, err)
	}
	if _, err := ResolveImagePath(dir); err == nil {
		t.Error("directory should be rejected")
	}
	if _, err := ResolveImagePath(filepath.Join(dir, "missing.png")); err == nil {
		t.Error("missing file should be rejected")
	}
}

func TestPromptForPath(t *testing.T) {
	var out bytes.Buffer
	got, err := PromptForPath(strings.NewReader("  \"/tmp/My Photo.jpg\"\n"), &out)
	if err != nil || got != "/tmp/My Photo.jpg" {
		t.Errorf("PromptForPath = %q, %v", got, err)
	}
	if !strings.Contains(out.String(), "Photo to enhance") {
		t.Errorf("prompt = %q", out.String())
	}
	if _, err := PromptForPath(strings.NewReader("\n"), &out); !errors.Is(err, ErrNoSelection) {
		t.Errorf("empty input: err = %v", err)
	}
}

func TestHint(t *testing.T) {
	_, verr := ingest.Ingest(context.Background(), ingest.FromBytes("a.txt", "text/plain", []byte("x")))
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"nil", nil, ""},
		{"validation", verr, "Please upload a valid image file (JPEG, PNG, WebP)."},
		{"no image", enhance.ErrNoImage, "The model returned no image"},
		{"no key", auth.ErrNoCredential, "No API key configured"},
		{"invalid", &genai.APIError{Code: 401}, "Invalid API key"},
		{"quota", &genai.APIError{Code: 429}, "API quota exceeded"},
		{"network", errors.New("dial tcp: connection refused"), "Network error"},
		{"other", errors.New("mystery"), ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Hint(tt.err)
			if tt.want == "" && got != "" || !strings.HasPrefix(got, tt.want) {
				t.Errorf("Hint(%v) = %q, want prefix %q", tt.err, got, tt.want)
			}
		})
	}
}

func TestKeySources(t *testing.T) {
	sources := KeySources(config.Config{SSMParam: "/lumina/key", GPGCredentials: "/nonexistent/credentials.gpg"})
	var names []string
	for _, s := range sources {
		names = append(names, s.Name())
	}
	want := []string{"env:GEMINI_API_KEY", "ssm:/lumina/key", "gpg"}
	if strings.Join(names, ",") != strings.Join(want, ",") {
		t.Errorf("sources = %v, want %v", names, want)
	}

	if got := KeySources(config.Config{}); len(got) != 1 {
		t.Errorf("unconfigured sources = %d, want env only", len(got))
	}
}

func TestValidateKey(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.Contains(r.URL.Path, auth.ValidationModel) {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"candidates":[{"content":{"role":"model","parts":[{"text":"hello"}]}}]}`))
	}))
	defer srv.Close()

	if err := KeyValidator(srv.URL + "/")(context.Background(), "k"); err != nil {
		t.Errorf("ValidateKey: %v", err)
	}
}
