package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/ashureev/chatkit-shell/internal/config"
	"github.com/ashureev/chatkit-shell/internal/store"
	"github.com/go-chi/chi/v5"
)

const defaultHealthTimeout = 2 * time.Second

// HealthHandler reports whether the server can reach its database.
type HealthHandler struct {
	repo    store.Repository
	timeout time.Duration
}

// NewHealthHandlerWithConfig creates a health handler using the configured check timeout.
func NewHealthHandlerWithConfig(repo store.Repository, cfg *config.Config) *HealthHandler {
	timeout := cfg.Timeout.HealthCheck
	if timeout <= 0 {
		timeout = defaultHealthTimeout
	}
	return &HealthHandler{repo: repo, timeout: timeout}
}

// RegisterHealth registers GET /health.
func (h *HealthHandler) RegisterHealth(r chi.Router) {
	r.Get("/health", h.Health)
}

// Health pings the store.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	if err := h.repo.Ping(ctx); err != nil {
		slog.Warn("Health check failed", "error", err)
		JSON(w, http.StatusServiceUnavailable, map[string]string{
			"status":   "unavailable",
			"database": "unreachable",
		})
		return
	}
	JSON(w, http.StatusOK, map[string]string{
		"status":   "ok",
		"database": "ok",
	})
}
