// Package enhance sends a photo to the Gemini image model with the fixed
// enhancement prompt and returns the image the model produces.
package enhance

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fpang/lumina-enhancer/internal/auth"
	"github.com/fpang/lumina-enhancer/internal/ingest"
	"github.com/fpang/lumina-enhancer/internal/metrics"
	"github.com/rs/zerolog/log"
	"google.golang.org/genai"
)

const (
	// DefaultModel is the Gemini image editing model.
	DefaultModel = "gemini-3-pro-image-preview"
	// ImageSize is the requested output resolution.
	ImageSize = "1K"
)

// ErrNoImage is returned when the response carries no inline image.
var ErrNoImage = errors.New("no image produced: No image data found in the response.")

// Generator is satisfied by *genai.Models.
type Generator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// Factory returns a Generator bound to the current credential. It is called
// once per enhancement so a newly selected key takes effect immediately.
type Factory func(ctx context.Context) (Generator, error)

// GeminiFactory builds a genai client from the key in keys. A non-empty
// baseURL overrides the Gemini API endpoint.
func GeminiFactory(keys auth.KeySource, baseURL string) Factory {
	return func(ctx context.Context) (Generator, error) {
		key, err := keys.APIKey(ctx)
		if err != nil {
			return nil, err
		}
		cfg := &genai.ClientConfig{
			APIKey:  key,
			Backend: genai.BackendGeminiAPI,
		}
		if baseURL != "" {
			cfg.HTTPOptions.BaseURL = baseURL
		}
		client, err := genai.NewClient(ctx, cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to create Gemini client: %w", err)
		}
		return client.Models, nil
	}
}

// Client performs enhancements.
type Client struct {
	factory Factory
	model   string
}

// Option configures a Client.
type Option func(*Client)

// WithModel overrides DefaultModel.
func WithModel(model string) Option {
	return func(c *Client) {
		if model != "" {
			c.model = model
		}
	}
}

// New creates a Client that obtains a Generator from factory per call.
func New(factory Factory, opts ...Option) *Client {
	c := &Client{factory: factory, model: DefaultModel}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Model returns the model name requests are sent to.
func (c *Client) Model() string { return c.model }

// Enhance sends img with FullPrompt in a single request. The first inline image
// in the first candidate is returned, tagged with the input media type.
// Errors from the service are returned unchanged.
func (c *Client) Enhance(ctx context.Context, img ingest.ImagePayload) (ingest.ImagePayload, error) {
	start := time.Now()
	result, err := c.enhance(ctx, img)

	outcome := "success"
	switch {
	case errors.Is(err, ErrNoImage):
		outcome = "no_image"
	case err != nil:
		outcome = auth.Classify(err).Kind.String()
	}
	metrics.New(metrics.Namespace).
		Dimension("Model", c.model).
		Dimension("Result", outcome).
		Duration("EnhanceLatencyMs", time.Since(start)).
		Metric("EnhanceInputBytes", float64(img.Len()), metrics.UnitBytes).
		Count("EnhanceRequests").
		Flush()

	return result, err
}

func (c *Client) enhance(ctx context.Context, img ingest.ImagePayload) (ingest.ImagePayload, error) {
	gen, err := c.factory(ctx)
	if err != nil {
		return ingest.ImagePayload{}, err
	}

	log.Info().
		Str("model", c.model).
		Int("image_bytes", img.Len()).
		Str("image_mime", img.MediaType()).
		Msg("Sending image to Gemini for enhancement")

	start := time.Now()
	resp, err := gen.GenerateContent(ctx, c.model, BuildRequest(img), RequestConfig())
	if err != nil {
		log.Error().Err(err).Dur("duration", time.Since(start)).Msg("Gemini enhancement request failed")
		return ingest.ImagePayload{}, err
	}

	data, text := firstImage(resp)
	if data == nil {
		log.Warn().
			Str("text", truncateString(text, 200)).
			Msg("Gemini response contained no image")
		return ingest.ImagePayload{}, ErrNoImage
	}

	log.Info().
		Int("output_bytes", len(data)).
		Dur("duration", time.Since(start)).
		Msg("Gemini enhancement complete")

	return ingest.NewImagePayload(data, img.MediaType()), nil
}

// BuildRequest returns the single user turn: prompt text, then the image.
func BuildRequest(img ingest.ImagePayload) []*genai.Content {
	return []*genai.Content{{
		Role: "user",
		Parts: []*genai.Part{
			{Text: FullPrompt},
			{InlineData: &genai.Blob{MIMEType: img.MediaType(), Data: img.Bytes()}},
		},
	}}
}

// RequestConfig asks for text and image output and pins the output size.
func RequestConfig() *genai.GenerateContentConfig {
	return &genai.GenerateContentConfig{
		ResponseModalities: []string{"TEXT", "IMAGE"},
		ImageConfig:        &genai.ImageConfig{ImageSize: ImageSize},
	}
}

// firstImage scans only the first candidate. Text parts are collected for
// logging when no image is found.
func firstImage(resp *genai.GenerateContentResponse) ([]byte, string) {
	if resp == nil || len(resp.Candidates) == 0 {
		return nil, ""
	}
	content := resp.Candidates[0].Content
	if content == nil {
		return nil, ""
	}
	var text string
	for _, part := range content.Parts {
		if part == nil {
			continue
		}
		if part.InlineData != nil && len(part.InlineData.Data) > 0 {
			return part.InlineData.Data, text
		}
		text += part.Text
	}
	return nil, text
}

func truncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
