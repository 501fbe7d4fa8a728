package auth

import (
	"context"
	"errors"
	"strings"

	"github.com/ncruces/zenity"
)

var (
	// ErrNoPrompter is returned when a key is requested but no prompter is set.
	ErrNoPrompter = errors.New("no credential prompter configured")
	// ErrPromptCanceled is returned when the user dismisses the prompt.
	ErrPromptCanceled = errors.New("credential prompt canceled")
)

// Prompter asks the user for an API key.
type Prompter interface {
	Prompt(ctx context.Context) (string, error)
}

// PromptFunc adapts a function to Prompter.
type PromptFunc func(ctx context.Context) (string, error)

// Prompt implements Prompter.
func (f PromptFunc) Prompt(ctx context.Context) (string, error) { return f(ctx) }

// StaticKey returns a Prompter that answers with key, as when the browser
// posts the key the user picked.
func StaticKey(key string) Prompter {
	return PromptFunc(func(context.Context) (string, error) { return key, nil })
}

// DialogPrompter shows a native password-entry dialog.
type DialogPrompter struct {
	Title string
}

// Prompt implements Prompter.
func (d DialogPrompter) Prompt(ctx context.Context) (string, error) {
	title := d.Title
	if title == "" {
		title = "Lumina AI"
	}
	key, err := zenity.Entry(
		"To use the Gemini image model for professional enhancement, enter a Gemini API key.",
		zenity.Title(title),
		zenity.HideText(),
		zenity.Context(ctx),
	)
	if err != nil {
		if errors.Is(err, zenity.ErrCanceled) {
			return "", ErrPromptCanceled
		}
		return "", err
	}
	return strings.TrimSpace(key), nil
}
