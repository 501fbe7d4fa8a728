package auth

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/fpang/lumina-enhancer/internal/metrics"
	"github.com/rs/zerolog/log"
	"google.golang.org/genai"
)

// ValidationModel is the text model used for the key check.
const ValidationModel = "gemini-3-flash-preview"

// Kind categorizes a credential or service failure.
type Kind int

const (
	// KindNoKey indicates no API key was found.
	KindNoKey Kind = iota
	// KindInvalidKey indicates the API key is invalid or revoked.
	KindInvalidKey
	// KindNetwork indicates a connectivity or server-side issue.
	KindNetwork
	// KindQuota indicates the API quota has been exceeded.
	KindQuota
	// KindUnknown indicates an unclassified failure.
	KindUnknown
)

// String returns the metric dimension value for k.
func (k Kind) String() string {
	switch k {
	case KindNoKey:
		return "no_key"
	case KindInvalidKey:
		return "invalid"
	case KindNetwork:
		return "network_error"
	case KindQuota:
		return "quota"
	default:
		return "unknown"
	}
}

// CredentialError describes why a key could not be used.
type CredentialError struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *CredentialError) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *CredentialError) Unwrap() error {
	return e.Err
}

// ContentGenerator is satisfied by *genai.Models.
type ContentGenerator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// ValidateAPIKey makes a minimal text request to check the key behind
// models. It returns nil or a *CredentialError.
func ValidateAPIKey(ctx context.Context, models ContentGenerator) error {
	log.Debug().Str("model", ValidationModel).Msg("Validating API key with Gemini API")

	start := time.Now()
	resp, err := models.GenerateContent(ctx, ValidationModel, genai.Text("hi"), nil)
	elapsed := time.Since(start)

	var verr *CredentialError
	switch {
	case err != nil:
		verr = Classify(err)
	case resp == nil || len(resp.Candidates) == 0:
		log.Warn().Msg("API key validation returned empty response")
		verr = &CredentialError{Kind: KindUnknown, Message: "API returned empty response"}
	}

	result := "success"
	if verr != nil {
		result = verr.Kind.String()
	}
	metrics.New(metrics.Namespace).
		Dimension("Result", result).
		Duration("ApiKeyValidationMs", elapsed).
		Count("ApiKeyValidationResult").
		Flush()

	if verr != nil {
		return verr
	}
	log.Info().Dur("duration", elapsed).Msg("API key validated successfully")
	return nil
}

// Classify maps err onto a CredentialError. An err that already is one is
// returned as is; nil yields nil.
func Classify(err error) *CredentialError {
	if err == nil {
		return nil
	}

	var cerr *CredentialError
	if errors.As(err, &cerr) {
		return cerr
	}
	var apiErr *genai.APIError
	if errors.As(err, &apiErr) {
		return classifyAPIError(apiErr)
	}
	if errors.Is(err, ErrNoCredential) || errors.Is(err, ErrNotFound) {
		return &CredentialError{Kind: KindNoKey, Message: "no API key available", Err: err}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &CredentialError{Kind: KindNetwork, Message: "request timed out", Err: err}
	}

	errLower := strings.ToLower(err.Error())
	switch {
	case strings.Contains(errLower, "api key not valid") ||
		strings.Contains(errLower, "invalid api key") ||
		strings.Contains(errLower, "api_key_invalid") ||
		strings.Contains(errLower, "permission denied"):
		return &CredentialError{Kind: KindInvalidKey, Message: "API key is invalid or has been revoked", Err: err}

	case strings.Contains(errLower, "quota") ||
		strings.Contains(errLower, "resource exhausted") ||
		strings.Contains(errLower, "rate limit"):
		return &CredentialError{Kind: KindQuota, Message: "API quota exceeded or rate limited", Err: err}

	case strings.Contains(errLower, "connection") ||
		strings.Contains(errLower, "network") ||
		strings.Contains(errLower, "timeout") ||
		strings.Contains(errLower, "dial") ||
		strings.Contains(errLower, "no such host") ||
		strings.Contains(errLower, "unreachable"):
		return &CredentialError{Kind: KindNetwork, Message: "Network error - check your internet connection", Err: err}

	default:
		return &CredentialError{Kind: KindUnknown, Message: "Gemini request failed", Err: err}
	}
}

func classifyAPIError(err *genai.APIError) *CredentialError {
	log.Debug().Int("code", err.Code).Str("message", err.Message).Msg("Gemini API error")
	switch err.Code {
	case 400:
		return &CredentialError{Kind: KindInvalidKey, Message: "Bad request - API key may be malformed", Err: err}
	case 401, 403:
		return &CredentialError{Kind: KindInvalidKey, Message: "API key is invalid, expired, or lacks permissions", Err: err}
	case 429:
		return &CredentialError{Kind: KindQuota, Message: "API rate limit exceeded - try again later", Err: err}
	case 500, 502, 503, 504:
		return &CredentialError{Kind: KindNetwork, Message: "Gemini API server error - try again later", Err: err}
	default:
		return &CredentialError{Kind: KindUnknown, Message: err.Message, Err: err}
	}
}
