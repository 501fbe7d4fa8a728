// Package config resolves runtime settings from the environment. A .env file
// in the working directory is loaded first when present; variables already
// set in the environment win over the file.
package config

import (
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

// Environment variable names.
const (
	EnvAPIKey         = "GEMINI_API_KEY"
	EnvSSMParam       = "LUMINA_SSM_API_KEY_PARAM"
	EnvGPGCredentials = "LUMINA_GPG_CREDENTIALS"
	EnvModel          = "LUMINA_MODEL"
	EnvGeminiBaseURL  = "LUMINA_GEMINI_BASE_URL"
	EnvPort           = "LUMINA_PORT"
	EnvExportBucket   = "LUMINA_EXPORT_BUCKET"
	EnvExportPrefix   = "LUMINA_EXPORT_PREFIX"
	EnvEnhanceTimeout = "LUMINA_ENHANCE_TIMEOUT"
	EnvSessionIdleTTL = "LUMINA_SESSION_IDLE_TTL"
	EnvOriginSecret   = "LUMINA_ORIGIN_VERIFY_SECRET"
	EnvSessionTable   = "LUMINA_SESSION_TABLE"
	EnvMediaBucket    = "LUMINA_MEDIA_BUCKET"
)

// Config holds every setting the binaries share. Flags in cmd/ override
// individual fields after Load.
type Config struct {
	// SSMParam is the Parameter Store name holding the Gemini API key.
	SSMParam string
	// GPGCredentials is the path of the GPG-encrypted API key file.
	GPGCredentials string

	Model         string
	GeminiBaseURL string

	Port int

	ExportBucket string
	ExportPrefix string

	// EnhanceTimeout bounds one enhancement call when non-zero. The core
	// imposes none; hosts opt in.
	EnhanceTimeout time.Duration
	SessionIdleTTL time.Duration

	OriginVerifySecret string

	// SessionTable is the DynamoDB table sessions are shared through.
	SessionTable string
	// MediaBucket holds session payloads and direct browser uploads.
	// It defaults to ExportBucket.
	MediaBucket string
}

// Load reads .env (if present) and the environment.
func Load() Config {
	for _, f := range []string{".env", ".env.local"} {
		if _, err := os.Stat(f); err != nil {
			continue
		}
		if err := godotenv.Load(f); err != nil {
			log.Warn().Err(err).Str("file", f).Msg("Failed to load env file")
		} else {
			log.Debug().Str("file", f).Msg("Loaded env file")
		}
	}

	exportBucket := os.Getenv(EnvExportBucket)
	return Config{
		SSMParam:           os.Getenv(EnvSSMParam),
		GPGCredentials:     getenv(EnvGPGCredentials, defaultGPGPath()),
		Model:              os.Getenv(EnvModel),
		GeminiBaseURL:      os.Getenv(EnvGeminiBaseURL),
		Port:               getInt(EnvPort, 8080),
		ExportBucket:       exportBucket,
		ExportPrefix:       getenv(EnvExportPrefix, "exports/"),
		EnhanceTimeout:     getDuration(EnvEnhanceTimeout, 0),
		SessionIdleTTL:     getDuration(EnvSessionIdleTTL, 30*time.Minute),
		OriginVerifySecret: os.Getenv(EnvOriginSecret),
		SessionTable:       os.Getenv(EnvSessionTable),
		MediaBucket:        getenv(EnvMediaBucket, exportBucket),
	}
}

func defaultGPGPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".lumina", "credentials.gpg")
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func getInt(k string, def int) int {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Warn().Str("var", k).Str("value", v).Msg("Invalid integer, using default")
		return def
	}
	return n
}

func getDuration(k string, def time.Duration) time.Duration {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		log.Warn().Str("var", k).Str("value", v).Msg("Invalid duration, using default")
		return def
	}
	return d
}
