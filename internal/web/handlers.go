package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/fpang/lumina-enhancer/internal/auth"
	"github.com/fpang/lumina-enhancer/internal/export"
	"github.com/fpang/lumina-enhancer/internal/ingest"
	"github.com/fpang/lumina-enhancer/internal/session"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// maxUploadBody bounds the multipart body; files between MaxFileSize and
// this limit reach ingestion and get its validation message.
const maxUploadBody = ingest.MaxFileSize + 2<<20

// keyAcceptor is implemented by providers that accept a key chosen
// elsewhere, such as *auth.Keyring.
type keyAcceptor interface {
	PromptWith(ctx context.Context, p auth.Prompter) error
	Clear()
}

// GET /api/health
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":       "ok",
		"service":      "lumina-enhancer",
		"sessions":     s.reg.Len(),
		"directUpload": s.opts.Uploads != nil,
	})
}

// GET /api/session
func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	sess := s.sessionFor(w, r)
	sess.CheckCredential(r.Context())
	respondJSON(w, http.StatusOK, sess.View())
}

type credentialRequest struct {
	Key string `json:"key"`
}

// POST /api/credential
//
// With {"key": "..."} the posted key is stored for this session. With an
// empty body the provider's own prompt (a native dialog) is used.
func (s *Server) handleCredential(w http.ResponseWriter, r *http.Request) {
	sess := s.sessionFor(w, r)

	var req credentialRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 4096)).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		httpError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if req.Key == "" {
		if err := sess.SelectCredential(r.Context()); err != nil {
			s.credentialError(w, err)
			return
		}
		respondJSON(w, http.StatusOK, sess.View())
		return
	}

	acceptor, ok := sess.Provider().(keyAcceptor)
	if !ok {
		httpError(w, http.StatusNotImplemented, "this server does not accept keys from the browser")
		return
	}
	if s.opts.ValidateKey != nil {
		if err := s.opts.ValidateKey(r.Context(), req.Key); err != nil {
			s.credentialError(w, err)
			return
		}
	}
	if err := acceptor.PromptWith(r.Context(), auth.StaticKey(req.Key)); err != nil {
		s.credentialError(w, err)
		return
	}
	if !sess.CheckCredential(r.Context()) {
		acceptor.Clear()
		s.credentialError(w, session.ErrCredentialUnavailable)
		return
	}
	respondJSON(w, http.StatusOK, sess.View())
}

func (s *Server) credentialError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, auth.ErrNoPrompter):
		httpError(w, http.StatusBadRequest, "key is required")
	case errors.Is(err, auth.ErrPromptCanceled):
		httpError(w, http.StatusConflict, "key selection canceled")
	case errors.Is(err, session.ErrCredentialUnavailable):
		httpError(w, http.StatusUnauthorized, "no API key was selected")
	default:
		cerr := auth.Classify(err)
		status := http.StatusUnauthorized
		if cerr.Kind == auth.KindNetwork || cerr.Kind == auth.KindUnknown {
			status = http.StatusBadGateway
		}
		httpError(w, status, cerr.Message, err.Error())
	}
}

// POST /api/enhance
//
// Takes either a multipart form with field "file", or JSON {"key", "name"}
// naming an object uploaded through /api/upload-url. Responds 202 with the
// Processing view, or with the terminal view when the server is
// synchronous or ?wait=1 is given.
func (s *Server) handleEnhance(w http.ResponseWriter, r *http.Request) {
	sess := s.sessionFor(w, r)

	var file ingest.File
	if isJSON(r) {
		f, ok := s.uploadedFile(w, r, sess)
		if !ok {
			return
		}
		file = f
	} else {
		r.Body = http.MaxBytesReader(w, r.Body, maxUploadBody)
		if err := r.ParseMultipartForm(ingest.MaxFileSize); err != nil {
			var tooBig *http.MaxBytesError
			if errors.As(err, &tooBig) {
				httpError(w, http.StatusRequestEntityTooLarge, "File size too large. Please upload an image under 10MB.")
				return
			}
			httpError(w, http.StatusBadRequest, "multipart form with a file field is required")
			return
		}
		defer r.MultipartForm.RemoveAll()

		headers := r.MultipartForm.File["file"]
		if len(headers) == 0 {
			httpError(w, http.StatusBadRequest, "file is required")
			return
		}
		file = ingest.FromMultipart(headers[0])
	}

	// The enhancement outlives this request unless the server waits.
	ctx := context.WithoutCancel(r.Context())
	cancel := context.CancelFunc(func() {})
	if s.opts.EnhanceTimeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, s.opts.EnhanceTimeout)
	}

	done, err := sess.Submit(ctx, file)
	if err != nil {
		cancel()
		var verr *ingest.ValidationError
		switch {
		case errors.As(err, &verr):
			validationError(w, verr)
		case ingest.IsIOError(err):
			httpError(w, http.StatusBadRequest, err.Error(), fmt.Sprint(errors.Unwrap(err)))
		case errors.Is(err, session.ErrInvalidTransition):
			httpError(w, http.StatusConflict, fmt.Sprintf("cannot enhance while %s", sess.State().Name()))
		default:
			httpError(w, http.StatusInternalServerError, "enhancement could not start", err.Error())
		}
		return
	}

	if s.opts.Synchronous || r.URL.Query().Get("wait") == "1" {
		final := <-done
		cancel()
		respondJSON(w, http.StatusOK, session.ViewOf(sess.ID(), final))
		return
	}
	go func() {
		<-done
		cancel()
	}()
	respondJSON(w, http.StatusAccepted, sess.View())
}

func isJSON(r *http.Request) bool {
	return strings.HasPrefix(r.Header.Get("Content-Type"), "application/json")
}

func validationError(w http.ResponseWriter, verr *ingest.ValidationError) {
	respondJSON(w, http.StatusBadRequest, map[string]string{"error": verr.Message, "reason": verr.Reason.String()})
}

// uploadPrefix scopes direct uploads to one session.
func uploadPrefix(sessionID string) string {
	return "uploads/" + sessionID + "/"
}

type uploadURLRequest struct {
	Name      string `json:"name"`
	MediaType string `json:"mediaType"`
	Size      int64  `json:"size"`
}

// POST /api/upload-url
//
// Returns a presigned PUT URL so the browser can send the photo straight
// to S3, bypassing the request size limit of the host.
func (s *Server) handleUploadURL(w http.ResponseWriter, r *http.Request) {
	if s.opts.Uploads == nil {
		httpError(w, http.StatusNotImplemented, "direct uploads are not configured")
		return
	}
	sess := s.sessionFor(w, r)

	var req uploadURLRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 4096)).Decode(&req); err != nil {
		httpError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := ingest.ValidateDeclared(req.MediaType, req.Size); err != nil {
		var verr *ingest.ValidationError
		errors.As(err, &verr)
		validationError(w, verr)
		return
	}

	key := uploadPrefix(sess.ID()) + uuid.NewString() + "." + export.Extension(req.MediaType)
	url, err := s.opts.Uploads.PresignUpload(r.Context(), key, req.MediaType)
	if err != nil {
		httpError(w, http.StatusBadGateway, "failed to generate upload URL", err.Error())
		return
	}
	log.Debug().Str("session", sess.ID()).Str("key", key).Int64("size", req.Size).Msg("Upload URL issued")
	respondJSON(w, http.StatusOK, map[string]string{"uploadUrl": url, "key": key})
}

type uploadedRequest struct {
	Key  string `json:"key"`
	Name string `json:"name"`
}

// uploadedFile resolves the JSON form of POST /api/enhance. It writes the
// error response itself and reports whether a file was found.
func (s *Server) uploadedFile(w http.ResponseWriter, r *http.Request, sess *session.Session) (ingest.File, bool) {
	if s.opts.Uploads == nil {
		httpError(w, http.StatusNotImplemented, "direct uploads are not configured")
		return nil, false
	}
	var req uploadedRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 4096)).Decode(&req); err != nil || req.Key == "" {
		httpError(w, http.StatusBadRequest, "key of an uploaded file is required")
		return nil, false
	}
	if !strings.HasPrefix(req.Key, uploadPrefix(sess.ID())) || strings.Contains(req.Key, "..") {
		httpError(w, http.StatusForbidden, "upload does not belong to this session")
		return nil, false
	}
	f, err := s.opts.Uploads.Open(r.Context(), req.Key, req.Name)
	if err != nil {
		if errors.Is(err, export.ErrObjectNotFound) {
			httpError(w, http.StatusNotFound, "upload not found")
			return nil, false
		}
		httpError(w, http.StatusBadGateway, "failed to read upload", err.Error())
		return nil, false
	}
	return f, true
}

// POST /api/reset
func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	sess := s.sessionFor(w, r)
	if err := sess.Reset(); err != nil {
		httpError(w, http.StatusConflict, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, sess.View())
}

// GET /api/result/{original|enhanced}
func (s *Server) handleResult(w http.ResponseWriter, r *http.Request) {
	sess := s.sessionFor(w, r)
	res, ok := sess.Result()
	if !ok {
		httpError(w, http.StatusNotFound, "no result")
		return
	}

	var p ingest.ImagePayload
	switch r.PathValue("which") {
	case "original":
		p = res.Original
	case "enhanced":
		p = res.Enhanced
	default:
		httpError(w, http.StatusNotFound, "unknown image")
		return
	}
	writeImage(w, p, "")
}

// GET /api/download[?bundle=zip]
func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	sess := s.sessionFor(w, r)
	res, ok := sess.Result()
	if !ok {
		httpError(w, http.StatusNotFound, "no result")
		return
	}
	now := s.opts.Now()

	if r.URL.Query().Get("bundle") == "zip" {
		w.Header().Set("Content-Type", "application/zip")
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", export.BundleName(now)))
		if err := export.WriteBundle(w, res.Original, res.Enhanced, now); err != nil {
			log.Error().Err(err).Str("session", sess.ID()).Msg("Failed to write bundle")
		}
		return
	}
	writeImage(w, res.Enhanced, export.Filename(res.Enhanced.MediaType(), now))
}

// POST /api/export/s3
func (s *Server) handleExportS3(w http.ResponseWriter, r *http.Request) {
	if s.opts.Exporter == nil {
		httpError(w, http.StatusNotImplemented, "S3 export is not configured")
		return
	}
	sess := s.sessionFor(w, r)
	res, ok := sess.Result()
	if !ok {
		httpError(w, http.StatusNotFound, "no result")
		return
	}
	up, err := s.opts.Exporter.Upload(r.Context(), res.Enhanced, s.opts.Now())
	if err != nil {
		httpError(w, http.StatusBadGateway, "export failed", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, up)
}

func writeImage(w http.ResponseWriter, p ingest.ImagePayload, attachment string) {
	w.Header().Set("Content-Type", p.MediaType())
	w.Header().Set("Content-Length", fmt.Sprint(p.Len()))
	w.Header().Set("Cache-Control", "no-store")
	if attachment != "" {
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", attachment))
	}
	w.Write(p.Bytes())
}
