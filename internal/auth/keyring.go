package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"
)

// ErrNoCredential is returned by APIKey when no key is available.
var ErrNoCredential = errors.New("API key not found. Set GEMINI_API_KEY or select a key")

// Provider gates access to the enhancement capability.
type Provider interface {
	// HasCredential reports whether a credential is present.
	HasCredential(ctx context.Context) bool
	// PromptForCredential asks the user to select a credential.
	PromptForCredential(ctx context.Context) error
}

// KeySource supplies the current API key to the enhancement client.
type KeySource interface {
	APIKey(ctx context.Context) (string, error)
}

// Keyring holds at most one API key. It is a Provider and a KeySource.
type Keyring struct {
	mu       sync.Mutex
	key      string
	origin   string
	sources  []Source
	prompter Prompter
}

// NewKeyring creates a Keyring consulting sources in order. prompter may be
// nil, in which case PromptForCredential fails with ErrNoPrompter.
func NewKeyring(prompter Prompter, sources ...Source) *Keyring {
	return &Keyring{sources: sources, prompter: prompter}
}

// HasCredential implements Provider. The first source holding a key is
// remembered; source errors are logged and the next source is tried.
func (k *Keyring) HasCredential(ctx context.Context) bool {
	_, err := k.APIKey(ctx)
	return err == nil
}

// APIKey implements KeySource.
func (k *Keyring) APIKey(ctx context.Context) (string, error) {
	k.mu.Lock()
	defer k.mu.Unlock()

	if k.key != "" {
		return k.key, nil
	}
	for _, src := range k.sources {
		key, err := src.Lookup(ctx)
		if err != nil {
			if !errors.Is(err, ErrNotFound) {
				log.Warn().Err(err).Str("source", src.Name()).Msg("Credential source failed")
			}
			continue
		}
		k.key, k.origin = key, src.Name()
		log.Debug().Str("source", src.Name()).Msg("Using API key")
		return key, nil
	}
	return "", ErrNoCredential
}

// PromptForCredential implements Provider.
func (k *Keyring) PromptForCredential(ctx context.Context) error {
	if k.prompter == nil {
		return ErrNoPrompter
	}
	return k.PromptWith(ctx, k.prompter)
}

// PromptWith asks p for a key and stores it.
func (k *Keyring) PromptWith(ctx context.Context, p Prompter) error {
	key, err := p.Prompt(ctx)
	if err != nil {
		return fmt.Errorf("credential selection failed: %w", err)
	}
	if err := k.Set(key); err != nil {
		return err
	}
	log.Info().Msg("API key selected")
	return nil
}

// Set stores key, replacing any previous one.
func (k *Keyring) Set(key string) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return &CredentialError{Kind: KindNoKey, Message: "empty API key"}
	}
	k.mu.Lock()
	k.key, k.origin = key, "selected"
	k.mu.Unlock()
	return nil
}

// Clear forgets the stored key; sources are consulted again next time.
func (k *Keyring) Clear() {
	k.mu.Lock()
	k.key, k.origin = "", ""
	k.mu.Unlock()
}

// Origin names where the current key came from, or "" without one.
func (k *Keyring) Origin() string {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.origin
}
