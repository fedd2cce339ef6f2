// Package ws provides the WebSocket turn transport. It carries the same
// event frames as the NDJSON stream endpoint, one JSON text frame per event,
// and keeps the connection open across turns.
package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"

	"github.com/odisseyhq/odissey/internal/api"
	"github.com/odisseyhq/odissey/internal/story"
	"github.com/odisseyhq/odissey/internal/stream"
)

// Handler upgrades session connections and runs story turns over them.
type Handler struct {
	engine        api.Engine
	allowedOrigin string
	isDev         bool
}

// NewHandler creates a WebSocket turn handler.
func NewHandler(engine api.Engine, allowedOrigin string, isDev bool) *Handler {
	return &Handler{engine: engine, allowedOrigin: allowedOrigin, isDev: isDev}
}

// inMessage is a client frame. Type "interact" carries a player message;
// "ping" asks for a pong.
type inMessage struct {
	Type    string `json:"type"`
	Message string `json:"message,omitempty"`
}

// ServeHTTP implements the WebSocket upgrade at /api/sessions/{sessionID}/ws.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	slog.Info("WebSocket connection request", "session_id", sessionID, "ip", r.RemoteAddr)

	if !h.checkOrigin(r) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		slog.Error("Failed to accept WebSocket", "error", err, "session_id", sessionID)
		return
	}
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "session ended"); closeErr != nil {
			slog.Debug("Failed to close websocket", "error", closeErr, "session_id", sessionID)
		}
	}()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	for {
		_, data, err := ws.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 {
				slog.Debug("WebSocket closed by client", "session_id", sessionID)
			} else {
				slog.Warn("WebSocket read error", "error", err, "session_id", sessionID)
			}
			return
		}

		var msg inMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			if writeErr := h.writeEvent(ctx, ws, stream.Event{Type: stream.EventError, Content: "invalid frame"}); writeErr != nil {
				return
			}
			continue
		}

		switch msg.Type {
		case "ping":
			if err := h.writeJSON(ctx, ws, map[string]string{"type": "pong"}); err != nil {
				slog.Debug("Failed to send pong", "error", err)
				return
			}
		case "interact":
			if err := h.runTurn(ctx, ws, sessionID, msg.Message); err != nil {
				slog.Warn("WebSocket turn aborted", "error", err, "session_id", sessionID)
				return
			}
		default:
			if err := h.writeEvent(ctx, ws, stream.Event{Type: stream.EventError, Content: "unknown frame type"}); err != nil {
				return
			}
		}
	}
}

// runTurn streams one turn over the connection. A write failure aborts the
// connection; a generation failure is reported as an error event and the
// connection stays open for the next turn.
func (h *Handler) runTurn(ctx context.Context, ws *websocket.Conn, sessionID, message string) error {
	if message == "" {
		return h.writeEvent(ctx, ws, stream.Event{Type: stream.EventError, Content: "message is required"})
	}

	var writeErr error
	response, err := h.engine.StreamTurn(ctx, sessionID, message, story.StreamCallbacks{
		OnChunk: func(content string) {
			if writeErr == nil {
				writeErr = h.writeEvent(ctx, ws, stream.Event{Type: stream.EventChunk, Content: content})
			}
		},
		OnRetry: func() {
			if writeErr == nil {
				writeErr = h.writeEvent(ctx, ws, stream.Event{Type: stream.EventRetry})
			}
		},
	})
	if writeErr != nil {
		return writeErr
	}
	if err != nil {
		return h.writeEvent(ctx, ws, stream.Event{Type: stream.EventError, Content: "story generation failed"})
	}
	return h.writeEvent(ctx, ws, stream.Event{Type: stream.EventComplete, Content: response})
}

func (h *Handler) checkOrigin(r *http.Request) bool {
	if h.isDev {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" || h.allowedOrigin == "*" || h.allowedOrigin == "" {
		return true
	}
	if origin == h.allowedOrigin {
		return true
	}
	slog.Warn("WebSocket origin rejected", "origin", origin, "allowed", h.allowedOrigin)
	return false
}

func (h *Handler) writeEvent(ctx context.Context, ws *websocket.Conn, ev stream.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return ws.Write(ctx, websocket.MessageText, data)
}

func (h *Handler) writeJSON(ctx context.Context, ws *websocket.Conn, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return ws.Write(ctx, websocket.MessageText, data)
}
