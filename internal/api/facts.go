package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/ashureev/chatkit-shell/internal/bridge"
	"github.com/ashureev/chatkit-shell/internal/domain"
	"github.com/ashureev/chatkit-shell/internal/identity"
	"github.com/go-chi/chi/v5"
)

const (
	defaultFactLimit = 50
	maxFactLimit     = 500
)

// ThemeNotifier pushes messages to a user's open panels.
type ThemeNotifier interface {
	Broadcast(ctx context.Context, userID string, v any) int
}

// UserHandler serves per-user data: recorded facts and appearance.
type UserHandler struct {
	*Handler
	notifier ThemeNotifier
}

// NewUserHandler creates a user handler. notifier may be nil.
func NewUserHandler(base *Handler, notifier ThemeNotifier) *UserHandler {
	return &UserHandler{Handler: base, notifier: notifier}
}

// RegisterRoutes registers user routes.
func (h *UserHandler) RegisterRoutes(r chi.Router) {
	r.Get("/api/facts", h.ListFacts)
	r.Put("/api/preferences/color-scheme", h.SetColorScheme)
}

// ListFacts returns the caller's recorded facts, newest first.
func (h *UserHandler) ListFacts(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	if userID == "" {
		Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	limit := defaultFactLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			Error(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = min(n, maxFactLimit)
	}

	facts, err := h.repo.ListFacts(r.Context(), userID, limit)
	if err != nil {
		slog.Error("Failed to list facts", "error", err, "user_id", userID)
		Error(w, http.StatusInternalServerError, "failed to list facts")
		return
	}
	if facts == nil {
		facts = []*domain.Fact{}
	}

	JSON(w, http.StatusOK, map[string]interface{}{
		"facts": facts,
	})
}

type colorSchemeRequest struct {
	ColorScheme string `json:"color_scheme"`
}

// SetColorScheme stores the caller's preference and pushes concrete schemes
// to their open panels.
func (h *UserHandler) SetColorScheme(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	if userID == "" {
		Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req colorSchemeRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 4<<10)).Decode(&req); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	pref, err := domain.ParseSchemePreference(req.ColorScheme)
	if err != nil {
		Error(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.repo.UpdateColorScheme(r.Context(), userID, pref); err != nil {
		slog.Error("Failed to update color scheme", "error", err, "user_id", userID)
		Error(w, http.StatusInternalServerError, "failed to update color scheme")
		return
	}

	if h.notifier != nil && pref != domain.PreferenceSystem {
		h.notifier.Broadcast(r.Context(), userID, bridge.NewThemeMessage(pref.Resolve(false)))
	}

	JSON(w, http.StatusOK, map[string]interface{}{
		"color_scheme": pref,
	})
}
