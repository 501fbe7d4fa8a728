package cli

import (
	"context"

	"github.com/fpang/lumina-enhancer/internal/auth"
	"github.com/fpang/lumina-enhancer/internal/config"
	"github.com/fpang/lumina-enhancer/internal/enhance"
	"github.com/rs/zerolog/log"
	"google.golang.org/genai"
)

// KeySources returns the API key sources for cfg in lookup order:
// environment, SSM Parameter Store (when configured), GPG file.
func KeySources(cfg config.Config) []auth.Source {
	sources := []auth.Source{auth.EnvSource{Var: config.EnvAPIKey}}
	if cfg.SSMParam != "" {
		sources = append(sources, auth.NewSSMSource(cfg.SSMParam, nil))
	}
	if cfg.GPGCredentials != "" {
		sources = append(sources, auth.GPGSource{Path: cfg.GPGCredentials})
	}
	return sources
}

// NewEnhancer builds an enhancement client reading its key from keys.
func NewEnhancer(cfg config.Config, keys auth.KeySource) *enhance.Client {
	return enhance.New(enhance.GeminiFactory(keys, cfg.GeminiBaseURL), enhance.WithModel(cfg.Model))
}

// ValidateKey checks key with a minimal Gemini request.
func ValidateKey(ctx context.Context, key, baseURL string) error {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:      key,
		Backend:     genai.BackendGeminiAPI,
		HTTPOptions: genai.HTTPOptions{BaseURL: baseURL},
	})
	if err != nil {
		return &auth.CredentialError{Kind: auth.KindUnknown, Message: "failed to create Gemini client", Err: err}
	}
	log.Debug().Msg("Gemini client initialized for key validation")
	return auth.ValidateAPIKey(ctx, client.Models)
}

// KeyValidator returns ValidateKey bound to baseURL.
func KeyValidator(baseURL string) func(ctx context.Context, key string) error {
	return func(ctx context.Context, key string) error {
		return ValidateKey(ctx, key, baseURL)
	}
}

// ModelName returns the configured image model or the default.
func ModelName(cfg config.Config) string {
	if cfg.Model != "" {
		return cfg.Model
	}
	return enhance.DefaultModel
}
