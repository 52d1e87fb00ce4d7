//nolint:revive // "api" package name is intentionally concise for this layer.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ashureev/chatkit-shell/internal/config"
	"github.com/ashureev/chatkit-shell/internal/identity"
	"github.com/ashureev/chatkit-shell/internal/middleware"
	"github.com/ashureev/chatkit-shell/internal/upstream"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeUpstream struct {
	calls   int
	last    upstream.SessionRequest
	session *upstream.Session
	err     error
}

func (f *fakeUpstream) CreateSession(_ context.Context, req upstream.SessionRequest) (*upstream.Session, error) {
	f.calls++
	f.last = req
	return f.session, f.err
}

func strPtr(s string) *string { return &s }

func newSessionHandler(cfg *config.Config, up SessionCreator, limits SessionLimits) *SessionHandler {
	return NewSessionHandler(NewHandler(newFakeRepo(), cfg), up, limits)
}

func testConfig() *config.Config {
	return &config.Config{
		AppEnv:       "development",
		OpenAIAPIKey: "sk-test",
		WorkflowID:   "wf_default",
	}
}

func postSession(h *SessionHandler, body string, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/create-session", strings.NewReader(body))
	for _, c := range cookies {
		req.AddCookie(c)
	}
	w := httptest.NewRecorder()
	h.CreateSession(w, req)
	return w
}

func TestCreateSessionMethodNotAllowed(t *testing.T) {
	up := &fakeUpstream{}
	h := newSessionHandler(testConfig(), up, SessionLimits{})

	w := httptest.NewRecorder()
	h.CreateSession(w, httptest.NewRequest(http.MethodGet, "/api/create-session", nil))

	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
	assert.JSONEq(t, `{"error":"Method Not Allowed"}`, w.Body.String())
	assert.Zero(t, up.calls)
}

func TestCreateSessionMissingAPIKey(t *testing.T) {
	cfg := testConfig()
	cfg.OpenAIAPIKey = ""
	h := newSessionHandler(cfg, &fakeUpstream{}, SessionLimits{})

	w := postSession(h, `{}`)

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.JSONEq(t, `{"error":"Missing OPENAI_API_KEY environment variable"}`, w.Body.String())
}

func TestCreateSessionMissingWorkflow(t *testing.T) {
	cfg := testConfig()
	cfg.WorkflowID = ""
	h := newSessionHandler(cfg, &fakeUpstream{}, SessionLimits{})

	w := postSession(h, `{"workflow":{"id":"  "}}`)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.JSONEq(t, `{"error":"Missing workflow id"}`, w.Body.String())
}

func TestCreateSessionWorkflowResolution(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"nested id wins", `{"workflow":{"id":"wf_nested"},"workflowId":"wf_flat"}`, "wf_nested"},
		{"flat id", `{"workflowId":"wf_flat"}`, "wf_flat"},
		{"configured fallback", `{}`, "wf_default"},
		{"malformed body", `{"workflow":`, "wf_default"},
		{"non-string id", `{"workflow":{"id":42}}`, "wf_default"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			up := &fakeUpstream{session: &upstream.Session{ClientSecret: strPtr("sk")}}
			h := newSessionHandler(testConfig(), up, SessionLimits{})

			w := postSession(h, tt.body)

			require.Equal(t, http.StatusOK, w.Code)
			assert.Equal(t, tt.want, up.last.WorkflowID)
		})
	}
}

func TestCreateSessionSuccess(t *testing.T) {
	up := &fakeUpstream{session: &upstream.Session{
		ClientSecret: strPtr("ek_123"),
		ExpiresAfter: json.RawMessage(`{"anchor":"created_at","seconds":600}`),
	}}
	h := newSessionHandler(testConfig(), up, SessionLimits{})

	w := postSession(h, `{"chatkit_configuration":{"file_upload":{"enabled":true}}}`)

	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"client_secret":"ek_123","expires_after":{"anchor":"created_at","seconds":600}}`, w.Body.String())
	assert.True(t, up.last.FileUploads)
	assert.NotEmpty(t, up.last.UserID)
}

func TestCreateSessionForwardsNullSecret(t *testing.T) {
	h := newSessionHandler(testConfig(), &fakeUpstream{session: &upstream.Session{}}, SessionLimits{})

	w := postSession(h, `{}`)

	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"client_secret":null,"expires_after":null}`, w.Body.String())
}

func TestCreateSessionSetsCookieForNewUser(t *testing.T) {
	up := &fakeUpstream{session: &upstream.Session{ClientSecret: strPtr("sk")}}
	h := newSessionHandler(testConfig(), up, SessionLimits{})

	w := postSession(h, `{}`)

	cookies := w.Result().Cookies()
	require.Len(t, cookies, 1)
	c := cookies[0]
	assert.Equal(t, identity.SessionCookieName, c.Name)
	assert.Equal(t, up.last.UserID, c.Value)
	assert.True(t, c.HttpOnly)
	assert.Equal(t, http.SameSiteLaxMode, c.SameSite)
	assert.Equal(t, 30*24*60*60, c.MaxAge)
	assert.False(t, c.Secure)
}

func TestCreateSessionReusesCookie(t *testing.T) {
	up := &fakeUpstream{session: &upstream.Session{ClientSecret: strPtr("sk")}}
	h := newSessionHandler(testConfig(), up, SessionLimits{})

	w := postSession(h, `{}`, &http.Cookie{Name: identity.SessionCookieName, Value: "existing-user"})

	assert.Empty(t, w.Result().Cookies())
	assert.Equal(t, "existing-user", up.last.UserID)
}

func TestCreateSessionSecureCookieOutsideDevelopment(t *testing.T) {
	cfg := testConfig()
	cfg.AppEnv = "production"
	h := newSessionHandler(cfg, &fakeUpstream{session: &upstream.Session{}}, SessionLimits{})

	w := postSession(h, `{}`)

	require.Len(t, w.Result().Cookies(), 1)
	assert.True(t, w.Result().Cookies()[0].Secure)
}

func TestCreateSessionUpstreamError(t *testing.T) {
	up := &fakeUpstream{err: &upstream.APIError{
		Status:  http.StatusTooManyRequests,
		Message: "quota exceeded",
		Details: json.RawMessage(`{"error":{"message":"quota exceeded"}}`),
	}}
	h := newSessionHandler(testConfig(), up, SessionLimits{})

	w := postSession(h, `{}`)

	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.JSONEq(t, `{"error":"quota exceeded","details":{"error":{"message":"quota exceeded"}}}`, w.Body.String())
}

func TestCreateSessionUnexpectedError(t *testing.T) {
	h := newSessionHandler(testConfig(), &fakeUpstream{err: errors.New("dial tcp: connection refused")}, SessionLimits{})

	w := postSession(h, `{}`)

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.JSONEq(t, `{"error":"Unexpected error"}`, w.Body.String())
}

func TestCreateSessionRateLimited(t *testing.T) {
	limiter := middleware.NewRateLimiter(1, time.Minute)
	defer limiter.Stop()
	up := &fakeUpstream{session: &upstream.Session{ClientSecret: strPtr("sk")}}
	h := newSessionHandler(testConfig(), up, SessionLimits{User: limiter})
	cookie := &http.Cookie{Name: identity.SessionCookieName, Value: "busy-user"}

	assert.Equal(t, http.StatusOK, postSession(h, `{}`, cookie).Code)

	w := postSession(h, `{}`, cookie)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.JSONEq(t, `{"error":"rate limit exceeded"}`, w.Body.String())
	assert.Equal(t, 1, up.calls)
}

func TestCreateSessionRateLimitsCookielessCallers(t *testing.T) {
	limiter := middleware.NewRateLimiter(1, time.Minute)
	defer limiter.Stop()
	up := &fakeUpstream{session: &upstream.Session{ClientSecret: strPtr("sk")}}
	h := newSessionHandler(testConfig(), up, SessionLimits{User: limiter})

	assert.Equal(t, http.StatusOK, postSession(h, `{}`).Code)
	assert.Equal(t, http.StatusTooManyRequests, postSession(h, `{}`).Code)
	assert.Equal(t, 1, up.calls)

	req := httptest.NewRequest(http.MethodPost, "/api/create-session", strings.NewReader(`{}`))
	req.RemoteAddr = "198.51.100.7:4000"
	w := httptest.NewRecorder()
	h.CreateSession(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestCreateSessionAddressLimitCapsRotatingCookies(t *testing.T) {
	userLimiter := middleware.NewRateLimiter(5, time.Minute)
	defer userLimiter.Stop()
	ipLimiter := middleware.NewRateLimiter(2, time.Minute)
	defer ipLimiter.Stop()
	up := &fakeUpstream{session: &upstream.Session{ClientSecret: strPtr("sk")}}
	h := newSessionHandler(testConfig(), up, SessionLimits{User: userLimiter, IP: ipLimiter})

	r := chi.NewRouter()
	h.RegisterRoutes(r)

	var codes []int
	for _, id := range []string{"forged-1", "forged-2", "forged-3"} {
		req := httptest.NewRequest(http.MethodPost, "/api/create-session", strings.NewReader(`{}`))
		req.AddCookie(&http.Cookie{Name: identity.SessionCookieName, Value: id})
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		codes = append(codes, w.Code)
	}

	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)
	assert.Equal(t, 2, up.calls)
}
