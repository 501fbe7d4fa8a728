package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func captureLog(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	old := log.Logger
	oldLevel := zerolog.GlobalLevel()
	log.Logger = zerolog.New(&buf)
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	t.Cleanup(func() {
		log.Logger = old
		zerolog.SetGlobalLevel(oldLevel)
	})
	return &buf
}

func TestStartupLogger_Log(t *testing.T) {
	buf := captureLog(t)

	NewStartupLogger("lumina-web").
		CommitHash("abc123").
		Feature("s3Export", true).
		Config("model", "gemini-3-pro-image-preview").
		Config("bucket", "").
		Log()

	var doc map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &doc); err != nil {
		t.Fatalf("failed to parse log line: %v\n%s", err, buf.String())
	}

	process, ok := doc["process"].(map[string]interface{})
	if !ok {
		t.Fatal("missing process dict")
	}
	if process["name"] != "lumina-web" {
		t.Errorf("expected name lumina-web, got %v", process["name"])
	}
	if process["commitHash"] != "abc123" {
		t.Errorf("expected commitHash abc123, got %v", process["commitHash"])
	}

	features, ok := doc["features"].(map[string]interface{})
	if !ok || features["s3Export"] != true {
		t.Errorf("expected s3Export feature true, got %v", doc["features"])
	}

	config, ok := doc["config"].(map[string]interface{})
	if !ok {
		t.Fatal("missing config dict")
	}
	if _, present := config["bucket"]; present {
		t.Error("empty config values should be skipped")
	}
	if config["model"] != "gemini-3-pro-image-preview" {
		t.Errorf("unexpected model config: %v", config["model"])
	}
}

func TestSetLevel(t *testing.T) {
	old := zerolog.GlobalLevel()
	defer zerolog.SetGlobalLevel(old)

	tests := []struct {
		in   string
		want zerolog.Level
	}{
		{"debug", zerolog.DebugLevel},
		{"WARN", zerolog.WarnLevel},
		{" error ", zerolog.ErrorLevel},
		{"", zerolog.InfoLevel},
		{"verbose", zerolog.InfoLevel},
	}
	for _, tt := range tests {
		SetLevel(tt.in)
		if got := zerolog.GlobalLevel(); got != tt.want {
			t.Errorf("SetLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestEnvOrDefault(t *testing.T) {
	t.Setenv("LUMINA_TEST_VALUE", "set")
	if got := EnvOrDefault("LUMINA_TEST_VALUE", "fallback"); got != "set" {
		t.Errorf("expected set, got %s", got)
	}
	t.Setenv("LUMINA_TEST_VALUE", "")
	if got := EnvOrDefault("LUMINA_TEST_VALUE", "fallback"); got != "fallback" {
		t.Errorf("expected fallback, got %s", got)
	}
}
