package web

import (
	"context"
	"errors"
	"mime"
	"net/http"
	"strings"
	"time"

	"github.com/dontdude/testgen/internal/domain"
)

// Orchestrator is the part of generate.Service the transport needs.
type Orchestrator interface {
	Submit(ctx context.Context, sub domain.Submission) (domain.Result, error)
	Stream(ctx context.Context, sub domain.Submission, onChunk func(string) error) (domain.Result, error)
	ResetSession(ctx context.Context, id string) error
}

// Options configures the HTTP surface.
type Options struct {
	// MaxUploadBytes bounds the request body of /upload-and-generate and a websocket message.
	MaxUploadBytes int64
	// GenerateTimeout bounds a single model call. Zero disables the timeout.
	GenerateTimeout time.Duration
}

// Extra room for multipart framing and the text fields on top of the file itself.
const formOverhead = 1 << 20

// multipart parts larger than this spill to temp files.
const formMemory = 8 << 20

// NewRouter registers every route and wraps them with the middleware chain.
func NewRouter(svc Orchestrator, opts Options) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /{$}", handleRoot())
	mux.HandleFunc("GET /healthz", handleHealth())
	mux.HandleFunc("POST /upload-and-generate", handleUploadAndGenerate(svc, opts))
	mux.HandleFunc("GET /ws/generate", handleStream(svc, opts))
	mux.HandleFunc("DELETE /sessions/{id}", handleResetSession(svc))

	return chain(mux, RequestID, Logging, Recover, CORS)
}

func handleRoot() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{
			"message": "Welcome to the Test Case Generator API",
		})
	}
}

func handleHealth() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

// handleUploadAndGenerate accepts a multipart or urlencoded form with optional code, file and session_id fields.
func handleUploadAndGenerate(svc Orchestrator, opts Options) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if opts.MaxUploadBytes > 0 {
			r.Body = http.MaxBytesReader(w, r.Body, opts.MaxUploadBytes+formOverhead)
		}

		if err := parseForm(r); err != nil {
			var maxErr *http.MaxBytesError
			if errors.As(err, &maxErr) {
				writeError(w, r, err)
				return
			}
			writeDetail(w, http.StatusBadRequest, detailInvalidBody)
			return
		}

		sub := domain.Submission{
			Code:      r.FormValue("code"),
			SessionID: r.FormValue("session_id"),
		}

		file, header, err := r.FormFile("file")
		switch {
		case err == nil:
			defer file.Close()
			sub.Upload = &domain.Upload{Filename: header.Filename, Content: file}
		case errors.Is(err, http.ErrMissingFile), errors.Is(err, http.ErrNotMultipart):
		default:
			writeDetail(w, http.StatusBadRequest, detailInvalidBody)
			return
		}

		ctx, cancel := withTimeout(r.Context(), opts.GenerateTimeout)
		defer cancel()

		res, err := svc.Submit(ctx, sub)
		if err != nil {
			writeError(w, r, err)
			return
		}

		writeJSON(w, http.StatusOK, res)
	}
}

// handleResetSession forgets a stored conversation.
func handleResetSession(svc Orchestrator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.PathValue("id"))
		if id == "" {
			writeDetail(w, http.StatusBadRequest, "session id is required")
			return
		}
		if err := svc.ResetSession(r.Context(), id); err != nil {
			writeError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// parseForm accepts both multipart and urlencoded bodies. A bodiless POST parses to an empty form.
func parseForm(r *http.Request) error {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "multipart/form-data" {
		return r.ParseMultipartForm(formMemory)
	}
	return r.ParseForm()
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
