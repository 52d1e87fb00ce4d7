package api

import (
	"net/http"
	"strings"

	"github.com/ashureev/chatkit-shell/internal/domain"
	"github.com/ashureev/chatkit-shell/internal/identity"
	"github.com/ashureev/chatkit-shell/internal/widget"
	"github.com/go-chi/chi/v5"
)

// ConfigHandler exposes what the browser needs to mount the widget.
type ConfigHandler struct {
	*Handler
	options widget.Options
}

// NewConfigHandler creates a config handler.
func NewConfigHandler(base *Handler, options widget.Options) *ConfigHandler {
	return &ConfigHandler{Handler: base, options: options}
}

// RegisterRoutes registers config routes.
func (h *ConfigHandler) RegisterRoutes(r chi.Router) {
	r.Get("/api/config", h.GetConfig)
}

// GetConfig returns widget options, the resolved theme and feature flags.
func (h *ConfigHandler) GetConfig(w http.ResponseWriter, r *http.Request) {
	scheme := h.SchemeFor(r)

	JSON(w, http.StatusOK, map[string]interface{}{
		"workflow_configured": h.cfg.WorkflowConfigured(),
		"script_url":          h.cfg.ScriptURL,
		"file_uploads":        h.cfg.FileUploads,
		"allow_retry":         h.cfg.AllowRetry,
		"script_timeout_ms":   h.cfg.Timeout.ScriptLoad.Milliseconds(),
		"color_scheme":        scheme,
		"options":             h.options,
		"theme":               h.options.ThemeFor(scheme),
	})
}

// SchemeFor resolves the color scheme for a request: the stored preference
// first, then the client's system setting from ?scheme= or the
// Sec-CH-Prefers-Color-Scheme hint.
func (h *Handler) SchemeFor(r *http.Request) domain.ColorScheme {
	systemDark := prefersDark(r)

	userID := identity.UserIDFromContext(r.Context())
	if userID == "" || h.repo == nil {
		return domain.SchemePreference("").Resolve(systemDark)
	}
	user, err := h.repo.GetUser(r.Context(), userID)
	if err != nil || user == nil {
		return domain.SchemePreference("").Resolve(systemDark)
	}
	return user.PreferredScheme(systemDark)
}

func prefersDark(r *http.Request) bool {
	if q := r.URL.Query().Get("scheme"); q != "" {
		return q == string(domain.SchemeDark)
	}
	hint := strings.Trim(r.Header.Get("Sec-CH-Prefers-Color-Scheme"), `"`)
	return hint == string(domain.SchemeDark)
}
