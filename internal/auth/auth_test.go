package auth

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/aws/aws-sdk-go-v2/service/ssm/types"
	"google.golang.org/genai"
)

type staticSource struct {
	name  string
	key   string
	err   error
	calls int
}

func (s *staticSource) Name() string { return s.name }

func (s *staticSource) Lookup(context.Context) (string, error) {
	s.calls++
	if s.err != nil {
		return "", s.err
	}
	if s.key == "" {
		return "", ErrNotFound
	}
	return s.key, nil
}

func TestEnvSource(t *testing.T) {
	const testKey = "test-api-key-12345"
	t.Setenv("GEMINI_API_KEY", "  "+testKey+"\n")

	key, err := EnvSource{Var: "GEMINI_API_KEY"}.Lookup(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if key != testKey {
		t.Errorf("expected key %q, got %q", testKey, key)
	}
}

func TestEnvSourceEmpty(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "")

	_, err := EnvSource{Var: "GEMINI_API_KEY"}.Lookup(context.Background())
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestGPGSourceFileNotFound(t *testing.T) {
	src := GPGSource{Path: filepath.Join(t.TempDir(), "credentials.gpg")}
	_, err := src.Lookup(context.Background())
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestFindPassphraseFileSkipsInsecure(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	path := filepath.Join(dir, ".gpg-passphrase")
	if err := os.WriteFile(path, []byte("secret"), 0o644); err != nil {
		t.Fatal(err)
	}

	if got, ok := findPassphraseFile(); ok && got == path {
		t.Errorf("insecure passphrase file %q should be skipped", got)
	}

	if err := os.Chmod(path, 0o600); err != nil {
		t.Fatal(err)
	}
	got, ok := findPassphraseFile()
	if !ok || got != path {
		t.Errorf("findPassphraseFile() = %q, %v; want %q", got, ok, path)
	}
}

func TestKeyringSourceOrder(t *testing.T) {
	failing := &staticSource{name: "broken", err: errors.New("boom")}
	empty := &staticSource{name: "empty"}
	found := &staticSource{name: "found", key: "k1"}
	never := &staticSource{name: "never", key: "k2"}

	k := NewKeyring(nil, failing, empty, found, never)
	if !k.HasCredential(context.Background()) {
		t.Fatal("expected credential")
	}
	key, _ := k.APIKey(context.Background())
	if key != "k1" {
		t.Errorf("key = %q, want k1", key)
	}
	if never.calls != 0 {
		t.Error("sources after the first hit should not be consulted")
	}
	if found.calls != 1 {
		t.Errorf("found source consulted %d times, want 1 (key is cached)", found.calls)
	}
	if k.Origin() != "found" {
		t.Errorf("origin = %q", k.Origin())
	}
}

func TestKeyringNoCredential(t *testing.T) {
	k := NewKeyring(nil, &staticSource{name: "empty"})
	if k.HasCredential(context.Background()) {
		t.Fatal("expected no credential")
	}
	_, err := k.APIKey(context.Background())
	if !errors.Is(err, ErrNoCredential) {
		t.Errorf("err = %v, want ErrNoCredential", err)
	}
	if err := k.PromptForCredential(context.Background()); !errors.Is(err, ErrNoPrompter) {
		t.Errorf("prompt err = %v, want ErrNoPrompter", err)
	}
}

func TestKeyringPrompt(t *testing.T) {
	k := NewKeyring(StaticKey(" picked "))
	if err := k.PromptForCredential(context.Background()); err != nil {
		t.Fatal(err)
	}
	key, err := k.APIKey(context.Background())
	if err != nil || key != "picked" {
		t.Errorf("APIKey() = %q, %v", key, err)
	}

	k.Clear()
	if k.HasCredential(context.Background()) {
		t.Error("cleared keyring should have no credential")
	}
}

func TestKeyringPromptFailures(t *testing.T) {
	canceled := NewKeyring(PromptFunc(func(context.Context) (string, error) {
		return "", ErrPromptCanceled
	}))
	if err := canceled.PromptForCredential(context.Background()); !errors.Is(err, ErrPromptCanceled) {
		t.Errorf("err = %v, want ErrPromptCanceled", err)
	}

	blank := NewKeyring(StaticKey("   "))
	err := blank.PromptForCredential(context.Background())
	var cerr *CredentialError
	if !errors.As(err, &cerr) || cerr.Kind != KindNoKey {
		t.Errorf("err = %v, want CredentialError(KindNoKey)", err)
	}
	if blank.HasCredential(context.Background()) {
		t.Error("blank key must not be stored")
	}
}

type fakeSSM struct {
	value string
	err   error
	input *ssm.GetParameterInput
}

func (f *fakeSSM) GetParameter(_ context.Context, in *ssm.GetParameterInput, _ ...func(*ssm.Options)) (*ssm.GetParameterOutput, error) {
	f.input = in
	if f.err != nil {
		return nil, f.err
	}
	return &ssm.GetParameterOutput{Parameter: &types.Parameter{Value: aws.String(f.value)}}, nil
}

func TestSSMSource(t *testing.T) {
	fake := &fakeSSM{value: "ssm-key\n"}
	src := NewSSMSource("/lumina/gemini-api-key", fake)

	key, err := src.Lookup(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if key != "ssm-key" {
		t.Errorf("key = %q", key)
	}
	if aws.ToString(fake.input.Name) != "/lumina/gemini-api-key" || !aws.ToBool(fake.input.WithDecryption) {
		t.Errorf("unexpected input: %+v", fake.input)
	}
}

func TestSSMSourceMissing(t *testing.T) {
	src := NewSSMSource("/missing", &fakeSSM{err: &types.ParameterNotFound{}})
	if _, err := src.Lookup(context.Background()); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}

	unset := NewSSMSource("", nil)
	if _, err := unset.Lookup(context.Background()); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"unauthorized", &genai.APIError{Code: 401, Message: "bad key"}, KindInvalidKey},
		{"forbidden", &genai.APIError{Code: 403}, KindInvalidKey},
		{"rate limited", &genai.APIError{Code: 429}, KindQuota},
		{"server error", &genai.APIError{Code: 503}, KindNetwork},
		{"other api error", &genai.APIError{Code: 418, Message: "teapot"}, KindUnknown},
		{"message invalid key", errors.New("API key not valid. Please pass a valid API key."), KindInvalidKey},
		{"message quota", errors.New("Resource exhausted"), KindQuota},
		{"dial failure", errors.New("dial tcp: no such host"), KindNetwork},
		{"deadline", context.DeadlineExceeded, KindNetwork},
		{"no credential", ErrNoCredential, KindNoKey},
		{"unknown", errors.New("something odd"), KindUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Classify(tt.err)
			if got.Kind != tt.want {
				t.Errorf("Classify(%v).Kind = %v, want %v", tt.err, got.Kind, tt.want)
			}
			if !errors.Is(got, tt.err) {
				t.Error("classified error should wrap the original")
			}
		})
	}

	if Classify(nil) != nil {
		t.Error("Classify(nil) should be nil")
	}
}

type stubModels struct {
	resp *genai.GenerateContentResponse
	err  error
}

func (s stubModels) GenerateContent(context.Context, string, []*genai.Content, *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	return s.resp, s.err
}

func TestValidateAPIKey(t *testing.T) {
	ok := stubModels{resp: &genai.GenerateContentResponse{Candidates: []*genai.Candidate{{}}}}
	if err := ValidateAPIKey(context.Background(), ok); err != nil {
		t.Errorf("valid key: %v", err)
	}

	empty := stubModels{resp: &genai.GenerateContentResponse{}}
	var cerr *CredentialError
	if err := ValidateAPIKey(context.Background(), empty); !errors.As(err, &cerr) || cerr.Kind != KindUnknown {
		t.Errorf("empty response: %v", err)
	}

	denied := stubModels{err: &genai.APIError{Code: 403}}
	if err := ValidateAPIKey(context.Background(), denied); !errors.As(err, &cerr) || cerr.Kind != KindInvalidKey {
		t.Errorf("denied: %v", err)
	}
}
