// Package api provides HTTP handlers for the Odissey storytelling API.
package api

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/odisseyhq/odissey/internal/domain"
	"github.com/odisseyhq/odissey/internal/story"
	"github.com/odisseyhq/odissey/internal/store"
)

// Engine runs story turns. Implemented by story.Orchestrator.
type Engine interface {
	Turn(ctx context.Context, sessionID, userMessage string) (string, error)
	StreamTurn(ctx context.Context, sessionID, userMessage string, cb story.StreamCallbacks) (string, error)
	Opening(ctx context.Context, world *domain.World) (string, error)
}

// Handler provides common handler utilities.
type Handler struct {
	repo   store.Repository
	engine Engine
}

// NewHandler creates a new Handler with common dependencies.
func NewHandler(repo store.Repository, engine Engine) *Handler {
	return &Handler{repo: repo, engine: engine}
}

// RegisterRoutes registers all story API routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/api", func(r chi.Router) {
		r.Get("/worlds", h.ListWorlds)
		r.Post("/worlds", h.CreateWorld)
		r.Get("/worlds/demo", h.ListDemoWorlds)
		r.Get("/worlds/{worldID}", h.GetWorld)
		r.Post("/sessions", h.CreateSession)
		r.Get("/sessions/{sessionID}/messages", h.ListMessages)
		r.Post("/sessions/{sessionID}/interact", h.Interact)
		r.Post("/sessions/{sessionID}/interact/stream", h.InteractStream)
	})
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}
