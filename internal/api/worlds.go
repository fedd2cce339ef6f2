package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/odisseyhq/odissey/internal/domain"
	"github.com/odisseyhq/odissey/internal/store"
)

const defaultWorldListLimit = 50

type createWorldRequest struct {
	Title        string `json:"title"`
	Description  string `json:"description"`
	Genre        string `json:"genre"`
	InitialState string `json:"initial_state"`
	IsDemo       bool   `json:"is_demo"`
}

// ListWorlds returns the most recently created worlds.
func (h *Handler) ListWorlds(w http.ResponseWriter, r *http.Request) {
	worlds, err := h.repo.ListWorlds(r.Context(), defaultWorldListLimit)
	if err != nil {
		slog.Error("Failed to list worlds", "error", err)
		Error(w, http.StatusInternalServerError, "failed to list worlds")
		return
	}
	if worlds == nil {
		worlds = []*domain.World{}
	}
	JSON(w, http.StatusOK, map[string]interface{}{"worlds": worlds})
}

// ListDemoWorlds returns worlds flagged for instant demo access.
func (h *Handler) ListDemoWorlds(w http.ResponseWriter, r *http.Request) {
	worlds, err := h.repo.ListDemoWorlds(r.Context(), defaultWorldListLimit)
	if err != nil {
		slog.Error("Failed to list demo worlds", "error", err)
		Error(w, http.StatusInternalServerError, "failed to list demo worlds")
		return
	}
	if worlds == nil {
		worlds = []*domain.World{}
	}
	JSON(w, http.StatusOK, map[string]interface{}{"worlds": worlds})
}

// CreateWorld inserts a new story world.
func (h *Handler) CreateWorld(w http.ResponseWriter, r *http.Request) {
	var req createWorldRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Title) == "" {
		Error(w, http.StatusBadRequest, "title is required")
		return
	}
	if strings.TrimSpace(req.Description) == "" {
		Error(w, http.StatusBadRequest, "description is required")
		return
	}

	world := &domain.World{
		ID:           uuid.NewString(),
		Title:        strings.TrimSpace(req.Title),
		Description:  strings.TrimSpace(req.Description),
		Genre:        strings.TrimSpace(req.Genre),
		InitialState: req.InitialState,
		IsDemo:       req.IsDemo,
	}
	if err := h.repo.CreateWorld(r.Context(), world); err != nil {
		slog.Error("Failed to create world", "error", err, "title", world.Title)
		Error(w, http.StatusInternalServerError, "failed to create world")
		return
	}

	slog.Info("World created", "world_id", world.ID, "title", world.Title)
	JSON(w, http.StatusCreated, world)
}

// GetWorld returns one world by id.
func (h *Handler) GetWorld(w http.ResponseWriter, r *http.Request) {
	worldID := chi.URLParam(r, "worldID")
	world, err := h.repo.GetWorld(r.Context(), worldID)
	if errors.Is(err, store.ErrNotFound) {
		Error(w, http.StatusNotFound, "world not found")
		return
	}
	if err != nil {
		slog.Error("Failed to get world", "error", err, "world_id", worldID)
		Error(w, http.StatusInternalServerError, "failed to get world")
		return
	}
	JSON(w, http.StatusOK, world)
}
