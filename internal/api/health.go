package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/odisseyhq/odissey/internal/store"
)

const serviceVersion = "1.0.0"

// HealthHandler reports service and database health.
type HealthHandler struct {
	repo store.Repository
}

// NewHealthHandler creates a health handler.
func NewHealthHandler(repo store.Repository) *HealthHandler {
	return &HealthHandler{repo: repo}
}

// RegisterHealth registers the health endpoints. The root path doubles as a
// health probe for platforms that only check "/".
func (h *HealthHandler) RegisterHealth(r chi.Router) {
	r.Get("/", h.Health)
	r.Get("/health", h.Health)
}

// Health returns 200 when the database answers, 503 otherwise.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	status, dbStatus, code := "ok", "ok", http.StatusOK
	if err := h.repo.Ping(r.Context()); err != nil {
		status, dbStatus, code = "degraded", "unreachable", http.StatusServiceUnavailable
	}
	JSON(w, code, map[string]string{
		"status":    status,
		"service":   "odissey",
		"version":   serviceVersion,
		"database":  dbStatus,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}
