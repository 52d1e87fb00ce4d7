package bridge

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ashureev/chatkit-shell/internal/bootstrap"
	"github.com/ashureev/chatkit-shell/internal/domain"
	"github.com/ashureev/chatkit-shell/internal/identity"
	"github.com/ashureev/chatkit-shell/internal/panel"
	"github.com/ashureev/chatkit-shell/internal/store"
	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubFetcher struct {
	calls  atomic.Int32
	secret string
	err    error
	last   atomic.Value
}

func (f *stubFetcher) FetchClientSecret(_ context.Context, req bootstrap.Request) (string, error) {
	f.calls.Add(1)
	f.last.Store(req)
	return f.secret, f.err
}

type recordedActions struct {
	mu      sync.Mutex
	actions []domain.WidgetAction
}

func (r *recordedActions) HandleWidgetAction(_ context.Context, _ string, a domain.WidgetAction) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.actions = append(r.actions, a)
	return nil
}

func (r *recordedActions) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.actions)
}

type harness struct {
	srv     *httptest.Server
	repo    store.Repository
	fetcher *stubFetcher
	actions *recordedActions
	reg     *Registry
}

func newHarness(t *testing.T, workflowID string, fetcher *stubFetcher) *harness {
	t.Helper()
	repo, err := store.NewSQLite(filepath.Join(t.TempDir(), "bridge.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })

	now := time.Now()
	require.NoError(t, repo.UpsertUser(context.Background(), &domain.User{
		UserID: "u1", ColorScheme: domain.PreferenceSystem, LastSeenAt: now, CreatedAt: now, UpdatedAt: now,
	}))

	h := &harness{repo: repo, fetcher: fetcher, actions: &recordedActions{}, reg: NewRegistry()}
	ws := NewHandler(repo, fetcher, h.actions, h.reg, Options{
		WorkflowID:    workflowID,
		AllowRetry:    true,
		ScriptTimeout: time.Hour,
		IsDev:         true,
	})
	h.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws.ServeHTTP(w, r.WithContext(identity.WithUserID(r.Context(), "u1")))
	}))
	t.Cleanup(h.srv.Close)
	return h
}

func (h *harness) dial(t *testing.T, query string) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	url := "ws" + strings.TrimPrefix(h.srv.URL, "http") + "/ws/panel" + query
	conn, _, err := websocket.Dial(ctx, url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close(websocket.StatusNormalClosure, "") })
	return conn
}

func send(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, wsjson.Write(ctx, conn, v))
}

// readUntil skips messages until one of type msgType arrives.
func readUntil(t *testing.T, conn *websocket.Conn, msgType string) map[string]any {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for {
		var msg map[string]any
		require.NoError(t, wsjson.Read(ctx, conn, &msg))
		if msg["type"] == msgType {
			return msg
		}
	}
}

func readStateWhere(t *testing.T, conn *websocket.Conn, match func(map[string]any) bool) map[string]any {
	t.Helper()
	for {
		if state := readUntil(t, conn, MsgState); match(state) {
			return state
		}
	}
}

func TestBridgeSendsThemeAndInitialState(t *testing.T) {
	h := newHarness(t, "wf_test", &stubFetcher{secret: "sk"})
	conn := h.dial(t, "?scheme=dark")

	theme := readUntil(t, conn, MsgTheme)
	assert.Equal(t, "dark", theme["scheme"])

	state := readUntil(t, conn, MsgState)
	assert.Equal(t, true, state["initializing"])
	assert.Equal(t, panel.LoadingMessage, state["loading_message"])
	assert.Equal(t, 1, h.reg.Count())
}

func TestBridgeClientSecret(t *testing.T) {
	fetcher := &stubFetcher{secret: "sk_abc"}
	h := newHarness(t, "wf_test", fetcher)
	conn := h.dial(t, "")

	send(t, conn, map[string]any{"type": MsgGetClientSecret, "id": "req-1"})
	msg := readUntil(t, conn, MsgClientSecret)
	assert.Equal(t, "req-1", msg["id"])
	assert.Equal(t, "sk_abc", msg["secret"])

	req, ok := fetcher.last.Load().(bootstrap.Request)
	require.True(t, ok)
	assert.Equal(t, "127.0.0.1", req.ClientIP)
}

func TestBridgeClientSecretError(t *testing.T) {
	h := newHarness(t, "wf_test", &stubFetcher{err: errors.New("quota exceeded")})
	conn := h.dial(t, "")

	send(t, conn, map[string]any{"type": MsgGetClientSecret, "id": "req-1"})
	state := readStateWhere(t, conn, func(s map[string]any) bool { return s["error"] != nil })
	assert.Equal(t, "quota exceeded", state["error"])
	assert.Equal(t, true, state["retry_available"])

	msg := readUntil(t, conn, MsgClientSecretError)
	assert.Equal(t, "quota exceeded", msg["error"])
}

func TestBridgeUnconfiguredWorkflow(t *testing.T) {
	fetcher := &stubFetcher{secret: "sk"}
	h := newHarness(t, "wf_replace_me", fetcher)
	conn := h.dial(t, "")

	state := readUntil(t, conn, MsgState)
	assert.Equal(t, panel.WorkflowNotConfiguredDetail, state["error"])

	send(t, conn, map[string]any{"type": MsgGetClientSecret, "id": "req-1"})
	msg := readUntil(t, conn, MsgClientSecretError)
	assert.Equal(t, panel.WorkflowNotConfiguredDetail, msg["error"])
	assert.Equal(t, int32(0), fetcher.calls.Load())
}

func TestBridgeRecordFactDeduplicates(t *testing.T) {
	h := newHarness(t, "wf_test", &stubFetcher{})
	conn := h.dial(t, "")
	tool := map[string]any{
		"type":   MsgClientTool,
		"id":     "t1",
		"name":   panel.ToolRecordFact,
		"params": map[string]any{"fact_id": "f1", "fact_text": "likes tea"},
	}

	send(t, conn, tool)
	assert.Equal(t, true, readUntil(t, conn, MsgClientToolResult)["success"])
	send(t, conn, tool)
	assert.Equal(t, true, readUntil(t, conn, MsgClientToolResult)["success"])
	assert.Equal(t, 1, h.actions.len())

	send(t, conn, map[string]any{"type": MsgThreadChange})
	send(t, conn, tool)
	readUntil(t, conn, MsgClientToolResult)
	assert.Equal(t, 2, h.actions.len())
}

func TestBridgeSwitchThemePersistsAndBroadcasts(t *testing.T) {
	h := newHarness(t, "wf_test", &stubFetcher{})
	first := h.dial(t, "")
	second := h.dial(t, "")
	readUntil(t, first, MsgState)
	readUntil(t, second, MsgState)

	send(t, first, map[string]any{
		"type":   MsgClientTool,
		"id":     "t1",
		"name":   panel.ToolSwitchTheme,
		"params": map[string]any{"theme": "dark"},
	})

	assert.Equal(t, "dark", readUntil(t, second, MsgTheme)["scheme"])
	assert.Equal(t, true, readUntil(t, first, MsgClientToolResult)["success"])

	user, err := h.repo.GetUser(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, domain.PreferenceDark, user.ColorScheme)
}

func TestBridgeRetryBumpsInstanceKey(t *testing.T) {
	h := newHarness(t, "wf_test", &stubFetcher{})
	conn := h.dial(t, "")
	readUntil(t, conn, MsgState)

	send(t, conn, map[string]any{"type": MsgWidgetError, "detail": "boom"})
	assert.Equal(t, "boom", readUntil(t, conn, MsgState)["error"])

	send(t, conn, map[string]any{"type": MsgRetry})
	state := readUntil(t, conn, MsgState)
	assert.Equal(t, float64(1), state["instance_key"])
	assert.Nil(t, state["error"])
}

func TestBridgePingAndMalformedMessages(t *testing.T) {
	h := newHarness(t, "wf_test", &stubFetcher{})
	conn := h.dial(t, "")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, conn.Write(ctx, websocket.MessageText, []byte("not json")))

	send(t, conn, map[string]any{"type": MsgPing})
	readUntil(t, conn, MsgPong)
}

func TestBridgeRejectsMissingIdentity(t *testing.T) {
	ws := NewHandler(nil, &stubFetcher{}, nil, NewRegistry(), Options{IsDev: true})
	w := httptest.NewRecorder()
	ws.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ws/panel", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestCheckOrigin(t *testing.T) {
	ws := NewHandler(nil, nil, nil, NewRegistry(), Options{AllowedOrigin: "https://chat.example.com"})

	r := httptest.NewRequest(http.MethodGet, "/ws/panel", nil)
	assert.True(t, ws.checkOrigin(r))

	r.Header.Set("Origin", "https://chat.example.com")
	assert.True(t, ws.checkOrigin(r))

	r.Header.Set("Origin", "https://evil.example.com")
	assert.False(t, ws.checkOrigin(r))
}
