// Package lambdaboot holds the cold-start bootstrap shared by the AWS hosts:
// AWS config, SSM-backed key sources, the media bucket, the DynamoDB session
// store, the optional S3 exporter and the startup summary.
package lambdaboot

import (
	"context"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/rs/zerolog/log"

	"github.com/fpang/lumina-enhancer/internal/auth"
	"github.com/fpang/lumina-enhancer/internal/config"
	"github.com/fpang/lumina-enhancer/internal/export"
	"github.com/fpang/lumina-enhancer/internal/logging"
	"github.com/fpang/lumina-enhancer/internal/store"
)

// DefaultSSMParam is used when no parameter name is configured.
const DefaultSSMParam = "/lumina/prod/gemini-api-key"

// AWSClients holds the core AWS SDK clients.
type AWSClients struct {
	Config   aws.Config
	SSM      *ssm.Client
	DynamoDB *dynamodb.Client
}

// InitAWS loads the default AWS config. Fatals on error.
func InitAWS(ctx context.Context) AWSClients {
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load AWS config")
	}
	log.Debug().Str("region", cfg.Region).Msg("AWS config loaded")
	return AWSClients{
		Config:   cfg,
		SSM:      ssm.NewFromConfig(cfg),
		DynamoDB: dynamodb.NewFromConfig(cfg),
	}
}

// KeySources returns env then SSM sources, sharing the SSM client.
func KeySources(clients AWSClients, cfg config.Config) []auth.Source {
	param := cfg.SSMParam
	if param == "" {
		param = DefaultSSMParam
	}
	return []auth.Source{
		auth.EnvSource{Var: config.EnvAPIKey},
		auth.NewSSMSource(param, clients.SSM),
	}
}

// InitMediaBucket returns the bucket for session payloads and direct
// uploads, or nil when none is configured.
func InitMediaBucket(clients AWSClients, cfg config.Config) *export.Bucket {
	if cfg.MediaBucket == "" {
		log.Info().Msg("Media bucket not set; direct uploads disabled")
		return nil
	}
	return export.NewBucket(clients.Config, cfg.MediaBucket)
}

// InitSessionStore returns the DynamoDB session store when cfg names a
// table and a media bucket is available, else nil.
func InitSessionStore(clients AWSClients, cfg config.Config, media *export.Bucket) *store.DynamoStore {
	if cfg.SessionTable == "" || media == nil {
		log.Warn().
			Str("table", cfg.SessionTable).
			Bool("mediaBucket", media != nil).
			Msg("Session store disabled; sessions are local to this container")
		return nil
	}
	return store.NewDynamoStore(clients.DynamoDB, cfg.SessionTable, media)
}

// InitExporter returns an S3 exporter when cfg names a bucket, else nil.
// It shares media when both name the same bucket.
func InitExporter(clients AWSClients, cfg config.Config, media *export.Bucket) *export.S3Exporter {
	if cfg.ExportBucket == "" {
		log.Info().Msg("Export bucket not set; S3 export disabled")
		return nil
	}
	if media != nil && media.Name() == cfg.ExportBucket {
		return export.NewS3ExporterForBucket(media, cfg.ExportPrefix)
	}
	return export.NewS3ExporterFromConfig(clients.Config, cfg.ExportBucket, cfg.ExportPrefix)
}

// StartupLog is a convenience wrapper for the startup logger.
func StartupLog(name string, initStart time.Time) *logging.StartupLogger {
	return logging.NewStartupLogger(name).InitDuration(time.Since(initStart))
}
