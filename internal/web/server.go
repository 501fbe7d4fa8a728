// Package web serves the Lumina browser UI and its JSON API. Each browser
// gets its own session, identified by a cookie.
package web

import (
	"context"
	"embed"
	"io/fs"
	"net/http"
	"strings"
	"time"

	"github.com/fpang/lumina-enhancer/internal/export"
	"github.com/fpang/lumina-enhancer/internal/ingest"
	"github.com/fpang/lumina-enhancer/internal/session"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

//go:embed all:frontend_dist
var frontendFS embed.FS

// SessionCookie names the cookie carrying the session id.
const SessionCookie = "lumina_session"

// Exporter uploads an image and returns where it went.
type Exporter interface {
	Upload(ctx context.Context, p ingest.ImagePayload, now time.Time) (export.Upload, error)
}

// UploadStore issues direct-upload URLs and opens the uploaded objects.
// *export.Bucket satisfies it.
type UploadStore interface {
	PresignUpload(ctx context.Context, key, contentType string) (string, error)
	Open(ctx context.Context, key, name string) (ingest.File, error)
}

// KeyValidator checks a key posted by the browser before it is stored.
type KeyValidator func(ctx context.Context, key string) error

// Options configures a Server. Zero values are usable.
type Options struct {
	// Exporter enables POST /api/export/s3 when set.
	Exporter Exporter
	// Uploads enables POST /api/upload-url and JSON POST /api/enhance.
	Uploads UploadStore
	// ValidateKey, when set, vets keys posted to /api/credential.
	ValidateKey KeyValidator
	// EnhanceTimeout bounds each enhancement; zero means no limit.
	EnhanceTimeout time.Duration
	// Synchronous makes POST /api/enhance wait for the terminal state.
	Synchronous bool
	// OriginVerifySecret, when set, is required in x-origin-verify.
	OriginVerifySecret string
	// Metrics wraps the handler with per-request metrics.
	Metrics bool
	// Now is the clock for export names.
	Now func() time.Time
}

// Server holds the session registry and serves HTTP.
type Server struct {
	reg      *session.Registry
	opts     Options
	upgrader websocket.Upgrader
}

// New creates a Server over reg.
func New(reg *session.Registry, opts Options) *Server {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	s := &Server{reg: reg, opts: opts}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
		CheckOrigin:     sameOrigin,
	}
	return s
}

// Handler returns the routed handler with middleware applied.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/health", s.handleHealth)
	mux.HandleFunc("GET /api/session", s.handleSession)
	mux.HandleFunc("POST /api/credential", s.handleCredential)
	mux.HandleFunc("POST /api/upload-url", s.handleUploadURL)
	mux.HandleFunc("POST /api/enhance", s.handleEnhance)
	mux.HandleFunc("POST /api/reset", s.handleReset)
	mux.HandleFunc("GET /api/result/{which}", s.handleResult)
	mux.HandleFunc("GET /api/download", s.handleDownload)
	mux.HandleFunc("POST /api/export/s3", s.handleExportS3)
	mux.HandleFunc("GET /api/events", s.handleEvents)
	connectSrc := "'self'"
	if s.opts.Uploads != nil {
		connectSrc += " https://*.amazonaws.com"
	}
	mux.Handle("/", staticHandler(connectSrc))

	var h http.Handler = mux
	if s.opts.Metrics {
		h = withMetrics(h)
	}
	h = withOriginVerify(s.opts.OriginVerifySecret, h)
	return withLogging(withCORS(h))
}

// staticHandler serves the embedded frontend with security headers and
// falls back to index.html for unknown paths. connectSrc is the CSP
// connect-src list.
func staticHandler(connectSrc string) http.Handler {
	frontendSub, err := fs.Sub(frontendFS, "frontend_dist")
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to access embedded frontend")
	}
	fileServer := http.FileServer(http.FS(frontendSub))
	csp := "default-src 'self'; img-src 'self' blob: data:; style-src 'self' 'unsafe-inline'; connect-src " + connectSrc
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Security-Policy", csp)
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")

		if path := r.URL.Path; path != "/" {
			f, err := frontendSub.Open(strings.TrimPrefix(path, "/"))
			if err != nil {
				r.URL.Path = "/"
			} else {
				f.Close()
			}
		}
		fileServer.ServeHTTP(w, r)
	})
}

// sameOrigin accepts requests without Origin, from localhost pages, or from
// the host serving the page.
func sameOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || isLocalOrigin(origin) {
		return true
	}
	host := strings.TrimPrefix(strings.TrimPrefix(origin, "https://"), "http://")
	return host == r.Host
}

// sessionFor returns the caller's session, creating one (and checking for
// an ambient credential) when the cookie is absent or stale.
func (s *Server) sessionFor(w http.ResponseWriter, r *http.Request) *session.Session {
	if c, err := r.Cookie(SessionCookie); err == nil {
		if sess, ok := s.reg.Get(r.Context(), c.Value); ok {
			return sess
		}
	}
	sess := s.reg.Create()
	sess.CheckCredential(r.Context())
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookie,
		Value:    sess.ID(),
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteStrictMode,
		Secure:   r.TLS != nil || r.Header.Get("X-Forwarded-Proto") == "https",
	})
	return sess
}
