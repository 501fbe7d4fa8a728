// Package main serves the Lumina web API from AWS Lambda behind API Gateway
// (HTTP API, payload v2). Session states are kept in DynamoDB with their
// images in S3, so any container can continue a session; enhancements run
// synchronously within the invocation. Browsers upload photos straight to
// the media bucket through presigned URLs.
//
// Environment:
//
//	GEMINI_API_KEY / LUMINA_SSM_API_KEY_PARAM  API key (env first, then SSM)
//	LUMINA_SESSION_TABLE                         DynamoDB session table
//	LUMINA_MEDIA_BUCKET                          session images and uploads
//	LUMINA_EXPORT_BUCKET, LUMINA_EXPORT_PREFIX   optional S3 export
//	LUMINA_ORIGIN_VERIFY_SECRET                  CloudFront origin header
package main

import (
	"context"
	"net/http"
	"time"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/awslabs/aws-lambda-go-api-proxy/httpadapter"
	"github.com/rs/zerolog/log"

	"github.com/fpang/lumina-enhancer/internal/auth"
	"github.com/fpang/lumina-enhancer/internal/cli"
	"github.com/fpang/lumina-enhancer/internal/config"
	"github.com/fpang/lumina-enhancer/internal/lambdaboot"
	"github.com/fpang/lumina-enhancer/internal/logging"
	"github.com/fpang/lumina-enhancer/internal/metrics"
	"github.com/fpang/lumina-enhancer/internal/session"
	"github.com/fpang/lumina-enhancer/internal/web"
)

var handler http.Handler

func init() {
	initStart := time.Now()
	logging.InitJSON()
	metrics.EnabledFromEnv("lumina-lambda")

	cfg := config.Load()
	clients := lambdaboot.InitAWS(context.Background())
	sources := lambdaboot.KeySources(clients, cfg)

	media := lambdaboot.InitMediaBucket(clients, cfg)
	var regOpts []session.RegistryOption
	sessionStore := lambdaboot.InitSessionStore(clients, cfg, media)
	if sessionStore != nil {
		regOpts = append(regOpts, session.WithStore(sessionStore))
	}
	reg := session.NewRegistry(func() *session.Session {
		keys := auth.NewKeyring(nil, sources...)
		return session.New(keys, cli.NewEnhancer(cfg, keys))
	}, regOpts...)

	opts := web.Options{
		Synchronous:        true,
		EnhanceTimeout:     cfg.EnhanceTimeout,
		OriginVerifySecret: cfg.OriginVerifySecret,
		Metrics:            true,
		ValidateKey:        cli.KeyValidator(cfg.GeminiBaseURL),
	}
	if media != nil {
		opts.Uploads = media
	}
	if exporter := lambdaboot.InitExporter(clients, cfg, media); exporter != nil {
		opts.Exporter = exporter
	}
	if cfg.OriginVerifySecret == "" {
		log.Warn().Msg("LUMINA_ORIGIN_VERIFY_SECRET not set; origin verification disabled")
	}

	handler = sweeping(reg, cfg.SessionIdleTTL, web.New(reg, opts).Handler())

	lambdaboot.StartupLog("lumina-lambda", initStart).
		CommitHash(commitHash).
		BuildTime(buildTime).
		Feature("s3Export", opts.Exporter != nil).
		Feature("sessionStore", sessionStore != nil).
		Feature("directUpload", opts.Uploads != nil).
		Feature("originVerify", cfg.OriginVerifySecret != "").
		Config("model", cli.ModelName(cfg)).
		Config("exportBucket", cfg.ExportBucket).
		Config("sessionTable", cfg.SessionTable).
		Config("mediaBucket", cfg.MediaBucket).
		Log()
}

// sweeping drops idle sessions before each request; Lambda has no
// background time between invocations.
func sweeping(reg *session.Registry, ttl time.Duration, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if ttl > 0 {
			reg.Sweep(ttl)
		}
		next.ServeHTTP(w, r)
	})
}

func main() {
	adapter := httpadapter.NewV2(handler)
	lambda.Start(adapter.ProxyWithContext)
}
