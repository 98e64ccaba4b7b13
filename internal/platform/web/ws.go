package web

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/dontdude/testgen/internal/domain"
	"github.com/gorilla/websocket"
)

// streamRequest is the single message a client sends after connecting to /ws/generate.
// Code wins over Content, mirroring the form endpoint.
type streamRequest struct {
	Code      string `json:"code"`
	Filename  string `json:"filename,omitempty"`
	Content   string `json:"content,omitempty"`
	SessionID string `json:"session_id,omitempty"`
}

// Frame types sent to the client.
const (
	frameChunk  = "chunk"
	frameResult = "result"
	frameError  = "error"
)

// streamFrame is one server-to-client websocket message.
type streamFrame struct {
	Type         string `json:"type"`
	Text         string `json:"text,omitempty"`
	NumTestCases string `json:"num_test_cases,omitempty"`
	TestCases    string `json:"test_cases,omitempty"`
	SessionID    string `json:"session_id,omitempty"`
	Detail       string `json:"detail,omitempty"`
}

// WebSocket Upgrader (Gorilla)
var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// handleStream upgrades the connection, reads one request and streams the model reply back.
func handleStream(svc Orchestrator, opts Options) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			slog.Error("WebSocket upgrade failed", "error", err)
			return
		}
		defer conn.Close()

		requestID := RequestIDFrom(r.Context())
		slog.Info("Client connected via WebSocket", "requestID", requestID, "remoteAddr", conn.RemoteAddr())

		if opts.MaxUploadBytes > 0 {
			conn.SetReadLimit(opts.MaxUploadBytes + formOverhead)
		}

		var req streamRequest
		if err := conn.ReadJSON(&req); err != nil {
			slog.Info("Invalid stream request", "requestID", requestID, "error", err)
			conn.WriteJSON(streamFrame{Type: frameError, Detail: detailInvalidBody})
			return
		}

		sub := domain.Submission{Code: req.Code, SessionID: req.SessionID}
		if req.Content != "" {
			sub.Upload = &domain.Upload{Filename: req.Filename, Content: strings.NewReader(req.Content)}
		}

		ctx, cancel := withTimeout(r.Context(), opts.GenerateTimeout)
		defer cancel()

		res, err := svc.Stream(ctx, sub, func(chunk string) error {
			return conn.WriteJSON(streamFrame{Type: frameChunk, Text: chunk})
		})
		if errors.Is(err, domain.ErrStreamConsumer) {
			slog.Info("Stream client went away", "requestID", requestID, "error", err)
			return
		}
		if err != nil {
			status, detail := classify(err)
			level := slog.LevelInfo
			if status >= http.StatusInternalServerError {
				level = slog.LevelError
			}
			slog.Log(ctx, level, "Stream failed", "requestID", requestID, "status", status, "error", err)
			conn.WriteJSON(streamFrame{Type: frameError, Detail: detail})
			return
		}

		if err := conn.WriteJSON(streamFrame{
			Type:         frameResult,
			NumTestCases: res.Count,
			TestCases:    res.Cases,
			SessionID:    res.SessionID,
		}); err != nil {
			slog.Error("Failed to write to websocket", "requestID", requestID, "error", err)
			return
		}

		conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	}
}
