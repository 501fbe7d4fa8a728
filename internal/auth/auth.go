// Package auth supplies the Gemini API key. A Keyring resolves the key from
// an ordered list of sources (environment, SSM Parameter Store, a
// GPG-encrypted file) and, when none has it, asks a Prompter: a native
// dialog on the desktop or a key posted by the browser.
package auth

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog/log"
)

// ErrNotFound is returned by a Source that holds no key.
var ErrNotFound = errors.New("api key not found")

// Source resolves an API key from one backing store.
type Source interface {
	// Name identifies the source in logs.
	Name() string
	// Lookup returns the key, or ErrNotFound when the source has none.
	Lookup(ctx context.Context) (string, error)
}

// EnvSource reads the key from an environment variable.
type EnvSource struct {
	Var string
}

// Name implements Source.
func (s EnvSource) Name() string { return "env:" + s.Var }

// Lookup implements Source.
func (s EnvSource) Lookup(context.Context) (string, error) {
	if key := strings.TrimSpace(os.Getenv(s.Var)); key != "" {
		return key, nil
	}
	return "", ErrNotFound
}

// GPGSource decrypts the key from a GPG-encrypted file with the gpg binary.
// A .gpg-passphrase file next to the executable or in the working directory
// enables non-interactive decryption; it must be owner-only (0600).
type GPGSource struct {
	Path string
}

// Name implements Source.
func (s GPGSource) Name() string { return "gpg" }

// Lookup implements Source.
func (s GPGSource) Lookup(ctx context.Context) (string, error) {
	if s.Path == "" {
		return "", ErrNotFound
	}
	if _, err := os.Stat(s.Path); os.IsNotExist(err) {
		return "", ErrNotFound
	}

	log.Debug().Str("file", s.Path).Msg("Decrypting GPG credentials")

	args := []string{"--decrypt", "--quiet", "--batch"}
	if passphrasePath, ok := findPassphraseFile(); ok {
		args = append(args, "--pinentry-mode", "loopback", "--passphrase-file", passphrasePath)
	}
	args = append(args, s.Path)

	output, err := exec.CommandContext(ctx, "gpg", args...).Output()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return "", fmt.Errorf("GPG decryption failed: %s", strings.TrimSpace(string(exitErr.Stderr)))
		}
		return "", fmt.Errorf("GPG decryption failed: %w", err)
	}

	key := strings.TrimSpace(string(output))
	if key == "" {
		return "", ErrNotFound
	}
	return key, nil
}

// findPassphraseFile looks for .gpg-passphrase beside the executable, then in
// the working directory. Files readable by group or others are ignored.
func findPassphraseFile() (string, bool) {
	var candidates []string
	if exe, err := os.Executable(); err == nil {
		candidates = append(candidates, filepath.Join(filepath.Dir(exe), ".gpg-passphrase"))
	}
	if cwd, err := os.Getwd(); err == nil {
		candidates = append(candidates, filepath.Join(cwd, ".gpg-passphrase"))
	}

	for _, path := range candidates {
		fi, err := os.Stat(path)
		if err != nil {
			continue
		}
		if mode := fi.Mode().Perm(); mode&0o077 != 0 {
			log.Warn().
				Str("passphrase_file", path).
				Str("permissions", fmt.Sprintf("%04o", mode)).
				Msg("Passphrase file has insecure permissions (should be 0600); skipping")
			continue
		}
		return path, true
	}
	return "", false
}
