package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fpang/lumina-enhancer/internal/auth"
	"github.com/fpang/lumina-enhancer/internal/cli"
	"github.com/fpang/lumina-enhancer/internal/export"
	"github.com/fpang/lumina-enhancer/internal/ingest"
	"github.com/fpang/lumina-enhancer/internal/session"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/rs/zerolog/log"
)

// EnhanceInput is the argument object of the enhance_photo tool.
type EnhanceInput struct {
	Path   string `json:"path" jsonschema:"absolute path of the photo to enhance"`
	OutDir string `json:"out_dir,omitempty" jsonschema:"directory for the result; defaults to the photo's directory"`
	Bundle bool   `json:"bundle,omitempty" jsonschema:"also write a ZIP with the original and the enhanced photo"`
}

// EnhanceOutput describes the saved result.
type EnhanceOutput struct {
	SavedPath     string `json:"saved_path"`
	BundlePath    string `json:"bundle_path,omitempty"`
	MediaType     string `json:"media_type"`
	OriginalBytes int    `json:"original_bytes"`
	EnhancedBytes int    `json:"enhanced_bytes"`
	Duration      string `json:"duration"`
}

// ValidateInput is empty; validate_key takes no arguments.
type ValidateInput struct{}

type ValidateOutput struct {
	Valid  bool   `json:"valid"`
	Source string `json:"source,omitempty"`
	Kind   string `json:"kind,omitempty"`
	Hint   string `json:"hint,omitempty"`
}

type tools struct {
	keys     *auth.Keyring
	enhancer session.Enhancer
	validate func(ctx context.Context, key string) error
	timeout  time.Duration
	now      func() time.Time
}

func newServer(t *tools) *mcp.Server {
	server := mcp.NewServer(&mcp.Implementation{Name: "lumina", Version: commitHash}, nil)
	mcp.AddTool(server, &mcp.Tool{
		Name:        "enhance_photo",
		Description: "Enhance a local photo with the Gemini image model and save the result next to it.",
	}, t.enhancePhoto)
	mcp.AddTool(server, &mcp.Tool{
		Name:        "validate_key",
		Description: "Check that the configured Gemini API key is present and accepted.",
	}, t.validateKey)
	return server
}

func (t *tools) enhancePhoto(ctx context.Context, _ *mcp.CallToolRequest, in EnhanceInput) (*mcp.CallToolResult, EnhanceOutput, error) {
	var out EnhanceOutput
	if in.Path == "" {
		return nil, out, errors.New("path is required")
	}
	path, err := cli.ResolveImagePath(in.Path)
	if err != nil {
		return nil, out, err
	}
	file, err := ingest.OpenLocal(path)
	if err != nil {
		return nil, out, err
	}

	sess := session.New(t.keys, t.enhancer)
	if !sess.CheckCredential(ctx) {
		return nil, out, fmt.Errorf("%w: %s", auth.ErrNoCredential, cli.Hint(auth.ErrNoCredential))
	}

	if t.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.timeout)
		defer cancel()
	}
	start := t.now()
	done, err := sess.Submit(ctx, file)
	if err != nil {
		return nil, out, err
	}

	var res session.EnhancementResult
	switch st := (<-done).(type) {
	case session.Complete:
		res = st.Result
	case session.Failed:
		log.Warn().Err(st.Err).Str("path", path).Msg("Enhancement failed")
		return nil, out, errors.New(st.Message)
	default:
		return nil, out, fmt.Errorf("unexpected state %s", st.Name())
	}

	dir := in.OutDir
	if dir == "" {
		dir = filepath.Dir(path)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, out, err
	}
	finished := t.now()
	saved, err := export.SaveFile(dir, res.Enhanced, finished)
	if err != nil {
		return nil, out, err
	}
	out = EnhanceOutput{
		SavedPath:     saved,
		MediaType:     res.Enhanced.MediaType(),
		OriginalBytes: res.Original.Len(),
		EnhancedBytes: res.Enhanced.Len(),
		Duration:      cli.FormatDurationShort(finished.Sub(start)),
	}
	if in.Bundle {
		if out.BundlePath, err = writeBundle(dir, res, finished); err != nil {
			return nil, out, err
		}
	}
	log.Info().Str("path", path).Str("saved", saved).Str("duration", out.Duration).Msg("Photo enhanced")
	return nil, out, nil
}

func writeBundle(dir string, res session.EnhancementResult, now time.Time) (string, error) {
	p := filepath.Join(dir, export.BundleName(now))
	f, err := os.OpenFile(p, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return "", err
	}
	if err := export.WriteBundle(f, res.Original, res.Enhanced, now); err != nil {
		f.Close()
		os.Remove(p)
		return "", err
	}
	return p, f.Close()
}

func (t *tools) validateKey(ctx context.Context, _ *mcp.CallToolRequest, _ ValidateInput) (*mcp.CallToolResult, ValidateOutput, error) {
	key, err := t.keys.APIKey(ctx)
	if err == nil {
		err = t.validate(ctx, key)
	}
	if err != nil {
		return nil, ValidateOutput{Kind: auth.Classify(err).Kind.String(), Hint: cli.Hint(err)}, nil
	}
	return nil, ValidateOutput{Valid: true, Source: t.keys.Origin()}, nil
}
