package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/ashureev/chatkit-shell/internal/identity"
	"github.com/ashureev/chatkit-shell/internal/middleware"
	"github.com/ashureev/chatkit-shell/internal/upstream"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/tidwall/gjson"
)

const maxSessionBody = 1 << 20

var metricSessionRequests = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "chatkit",
	Name:      "session_requests_total",
	Help:      "Session relay requests by outcome.",
}, []string{"outcome"})

// SessionCreator mints client secrets on the remote sessions API.
type SessionCreator interface {
	CreateSession(ctx context.Context, req upstream.SessionRequest) (*upstream.Session, error)
}

// SessionHandler relays session creation to the remote API so the API key
// never reaches the browser.
type SessionHandler struct {
	*Handler
	upstream SessionCreator
	limits   SessionLimits
}

// SessionLimits throttles the relay. A nil limiter disables that bucket.
type SessionLimits struct {
	// User is keyed on the session cookie, or on the client address when the
	// request carried no usable cookie.
	User *middleware.RateLimiter
	// IP is keyed on the client address for every request.
	IP *middleware.RateLimiter
}

// NewSessionHandler creates a relay handler.
func NewSessionHandler(base *Handler, up SessionCreator, limits SessionLimits) *SessionHandler {
	return &SessionHandler{Handler: base, upstream: up, limits: limits}
}

// RegisterRoutes registers the relay. Every method is routed here so that
// non-POST requests get a JSON 405.
func (h *SessionHandler) RegisterRoutes(r chi.Router) {
	if h.limits.IP != nil {
		r = r.With(middleware.RateLimit(h.limits.IP, identity.IPFromRequest))
	}
	r.HandleFunc("/api/create-session", h.CreateSession)
}

type sessionResponse struct {
	ClientSecret *string         `json:"client_secret"`
	ExpiresAfter json.RawMessage `json:"expires_after"`
}

type sessionErrorResponse struct {
	Error   string          `json:"error"`
	Details json.RawMessage `json:"details"`
}

// CreateSession handles POST /api/create-session.
func (h *SessionHandler) CreateSession(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		metricSessionRequests.WithLabelValues("method_not_allowed").Inc()
		Error(w, http.StatusMethodNotAllowed, "Method Not Allowed")
		return
	}

	if h.cfg.OpenAIAPIKey == "" {
		metricSessionRequests.WithLabelValues("missing_api_key").Inc()
		Error(w, http.StatusInternalServerError, "Missing OPENAI_API_KEY environment variable")
		return
	}

	body := readSessionBody(r)
	userID, created := identity.ResolveUserID(w, r, h.isDevelopment())

	workflowID := resolveWorkflowID(body, h.cfg.WorkflowID)
	if workflowID == "" {
		metricSessionRequests.WithLabelValues("missing_workflow").Inc()
		Error(w, http.StatusBadRequest, "Missing workflow id")
		return
	}

	limitKey := userID
	if created {
		limitKey = "ip:" + identity.IPFromRequest(r)
	}
	if h.limits.User != nil && !h.limits.User.Allow(limitKey) {
		metricSessionRequests.WithLabelValues("rate_limited").Inc()
		Error(w, http.StatusTooManyRequests, "rate limit exceeded")
		return
	}

	session, err := h.upstream.CreateSession(r.Context(), upstream.SessionRequest{
		WorkflowID:  workflowID,
		UserID:      userID,
		FileUploads: gjson.GetBytes(body, "chatkit_configuration.file_upload.enabled").Bool(),
	})
	if err != nil {
		var apiErr *upstream.APIError
		if errors.As(err, &apiErr) {
			slog.Warn("Sessions API rejected request",
				"status", apiErr.Status,
				"error", apiErr.Message,
				"user_id", userID)
			metricSessionRequests.WithLabelValues("upstream_error").Inc()
			JSON(w, apiErr.Status, sessionErrorResponse{Error: apiErr.Message, Details: apiErr.Details})
			return
		}
		slog.Error("Create session request failed", "error", err, "user_id", userID)
		metricSessionRequests.WithLabelValues("unexpected_error").Inc()
		Error(w, http.StatusInternalServerError, "Unexpected error")
		return
	}

	metricSessionRequests.WithLabelValues("ok").Inc()
	JSON(w, http.StatusOK, sessionResponse{
		ClientSecret: session.ClientSecret,
		ExpiresAfter: session.ExpiresAfter,
	})
}

// readSessionBody returns the request JSON, or {} when it is missing or
// malformed.
func readSessionBody(r *http.Request) []byte {
	data, err := io.ReadAll(io.LimitReader(r.Body, maxSessionBody))
	if err != nil || !gjson.ValidBytes(data) {
		if len(data) > 0 {
			slog.Debug("Ignoring malformed session request body", "error", err)
		}
		return []byte("{}")
	}
	return data
}

// resolveWorkflowID prefers workflow.id, then workflowId, then fallback.
// Blank values are skipped.
func resolveWorkflowID(body []byte, fallback string) string {
	for _, path := range []string{"workflow.id", "workflowId"} {
		if v := gjson.GetBytes(body, path); v.Type == gjson.String {
			if id := strings.TrimSpace(v.String()); id != "" {
				return id
			}
		}
	}
	return strings.TrimSpace(fallback)
}
