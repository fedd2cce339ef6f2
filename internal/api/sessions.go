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
	"github.com/odisseyhq/odissey/internal/story"
	"github.com/odisseyhq/odissey/internal/store"
	"github.com/odisseyhq/odissey/internal/stream"
)

type createSessionRequest struct {
	WorldID string `json:"world_id"`
}

type interactRequest struct {
	Message string `json:"message"`
}

// CreateSession starts a new story session in a world. The narrator's opening
// message is generated and persisted before the response returns, so the
// client always sees a story in progress.
func (h *Handler) CreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.WorldID == "" {
		Error(w, http.StatusBadRequest, "world_id is required")
		return
	}

	ctx := r.Context()
	world, err := h.repo.GetWorld(ctx, req.WorldID)
	if errors.Is(err, store.ErrNotFound) {
		Error(w, http.StatusNotFound, "world not found")
		return
	}
	if err != nil {
		slog.Error("Failed to get world", "error", err, "world_id", req.WorldID)
		Error(w, http.StatusInternalServerError, "failed to get world")
		return
	}

	session := &domain.StorySession{
		ID:         uuid.NewString(),
		WorldID:    world.ID,
		WorldState: world.InitialState,
	}
	if err := h.repo.CreateSession(ctx, session); err != nil {
		slog.Error("Failed to create session", "error", err, "world_id", world.ID)
		Error(w, http.StatusInternalServerError, "failed to create session")
		return
	}

	opening, err := h.engine.Opening(ctx, world)
	if err != nil {
		slog.Error("Failed to generate opening", "error", err, "session_id", session.ID)
		Error(w, http.StatusBadGateway, "failed to generate story opening")
		return
	}
	if _, err := h.repo.AppendMessage(ctx, session.ID, domain.RoleNarrator, opening); err != nil {
		slog.Error("Failed to persist opening", "error", err, "session_id", session.ID)
		Error(w, http.StatusInternalServerError, "failed to persist story opening")
		return
	}

	slog.Info("Session created", "session_id", session.ID, "world_id", world.ID)
	JSON(w, http.StatusCreated, map[string]interface{}{
		"session_id": session.ID,
		"world_id":   world.ID,
		"opening":    opening,
		"choices":    story.ParseChoices(opening),
	})
}

// ListMessages returns a session's full transcript in chronological order.
func (h *Handler) ListMessages(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	if _, err := h.repo.GetSession(r.Context(), sessionID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			Error(w, http.StatusNotFound, "session not found")
			return
		}
		slog.Error("Failed to get session", "error", err, "session_id", sessionID)
		Error(w, http.StatusInternalServerError, "failed to get session")
		return
	}

	messages, err := h.repo.ListMessages(r.Context(), sessionID)
	if err != nil {
		slog.Error("Failed to list messages", "error", err, "session_id", sessionID)
		Error(w, http.StatusInternalServerError, "failed to list messages")
		return
	}
	if messages == nil {
		messages = []*domain.Message{}
	}
	JSON(w, http.StatusOK, map[string]interface{}{"messages": messages})
}

// Interact executes one blocking story turn.
func (h *Handler) Interact(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	message, ok := h.readUserMessage(w, r)
	if !ok {
		return
	}

	response, err := h.engine.Turn(r.Context(), sessionID, message)
	if err != nil {
		h.turnError(w, sessionID, err)
		return
	}

	JSON(w, http.StatusOK, map[string]interface{}{
		"response": response,
		"choices":  story.ParseChoices(response),
	})
}

// InteractStream executes one story turn, streaming output as NDJSON events.
// Chunks are speculative: a retry event means everything streamed so far
// belongs to a discarded attempt and must be cleared by the client.
func (h *Handler) InteractStream(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	message, ok := h.readUserMessage(w, r)
	if !ok {
		return
	}

	sw, err := stream.NewWriter(w)
	if err != nil {
		Error(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}
	defer sw.Close("stream interrupted")

	response, err := h.engine.StreamTurn(r.Context(), sessionID, message, story.StreamCallbacks{
		OnChunk: func(content string) { _ = sw.Chunk(content) },
		OnRetry: func() { _ = sw.Retry() },
	})
	if err != nil {
		slog.Error("Streaming turn failed", "error", err, "session_id", sessionID)
		_ = sw.Error(turnErrorMessage(err))
		return
	}
	_ = sw.Complete(response)
}

func (h *Handler) readUserMessage(w http.ResponseWriter, r *http.Request) (string, bool) {
	var req interactRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return "", false
	}
	if strings.TrimSpace(req.Message) == "" {
		Error(w, http.StatusBadRequest, "message is required")
		return "", false
	}
	return req.Message, true
}

func (h *Handler) turnError(w http.ResponseWriter, sessionID string, err error) {
	if errors.Is(err, store.ErrNotFound) {
		Error(w, http.StatusNotFound, "session not found")
		return
	}
	slog.Error("Turn failed", "error", err, "session_id", sessionID)
	if errors.Is(err, story.ErrGenerationFailed) {
		Error(w, http.StatusBadGateway, "story generation failed")
		return
	}
	Error(w, http.StatusInternalServerError, "failed to run turn")
}

func turnErrorMessage(err error) string {
	if errors.Is(err, store.ErrNotFound) {
		return "session not found"
	}
	if errors.Is(err, story.ErrGenerationFailed) {
		return "story generation failed"
	}
	return "failed to run turn"
}
