package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/aws/aws-sdk-go-v2/service/ssm/types"
	"github.com/rs/zerolog/log"
)

// ssmGetter is the subset of *ssm.Client used here.
type ssmGetter interface {
	GetParameter(ctx context.Context, in *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
}

// SSMSource reads the key from an SSM Parameter Store SecureString.
type SSMSource struct {
	Param string

	once    sync.Once
	client  ssmGetter
	initErr error
}

// NewSSMSource creates a source for param. A nil client is created lazily
// from the default AWS configuration on first lookup.
func NewSSMSource(param string, client ssmGetter) *SSMSource {
	return &SSMSource{Param: param, client: client}
}

// Name implements Source.
func (s *SSMSource) Name() string { return "ssm:" + s.Param }

// Lookup implements Source.
func (s *SSMSource) Lookup(ctx context.Context) (string, error) {
	if s.Param == "" {
		return "", ErrNotFound
	}

	s.once.Do(func() {
		if s.client != nil {
			return
		}
		cfg, err := awsconfig.LoadDefaultConfig(ctx)
		if err != nil {
			s.initErr = fmt.Errorf("load AWS config: %w", err)
			return
		}
		log.Debug().Str("region", cfg.Region).Msg("AWS config loaded for SSM")
		s.client = ssm.NewFromConfig(cfg)
	})
	if s.initErr != nil {
		return "", s.initErr
	}

	out, err := s.client.GetParameter(ctx, &ssm.GetParameterInput{
		Name:           aws.String(s.Param),
		WithDecryption: aws.Bool(true),
	})
	if err != nil {
		var notFound *types.ParameterNotFound
		if errors.As(err, &notFound) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("read SSM parameter %s: %w", s.Param, err)
	}
	if out.Parameter == nil || strings.TrimSpace(aws.ToString(out.Parameter.Value)) == "" {
		return "", ErrNotFound
	}
	log.Info().Str("param", s.Param).Msg("Gemini API key loaded from SSM Parameter Store")
	return strings.TrimSpace(aws.ToString(out.Parameter.Value)), nil
}
