package bridge

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/ashureev/chatkit-shell/internal/domain"
	"github.com/ashureev/chatkit-shell/internal/identity"
	"github.com/ashureev/chatkit-shell/internal/panel"
	"github.com/ashureev/chatkit-shell/internal/store"
	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"
)

const (
	writeTimeout = 5 * time.Second
	readLimit    = 64 << 10
)

// ActionHandler receives deduplicated widget actions.
type ActionHandler interface {
	HandleWidgetAction(ctx context.Context, userID string, action domain.WidgetAction) error
}

// Options configures every panel the handler mounts.
type Options struct {
	WorkflowID    string
	FileUploads   bool
	AllowRetry    bool
	ScriptTimeout time.Duration
	AllowedOrigin string
	IsDev         bool
}

// Handler serves GET /ws/panel. Each connection is one widget mount.
type Handler struct {
	repo    store.Repository
	fetcher panel.SessionFetcher
	actions ActionHandler
	reg     *Registry
	opts    Options
}

// NewHandler creates a new websocket handler.
func NewHandler(repo store.Repository, fetcher panel.SessionFetcher, actions ActionHandler, reg *Registry, opts Options) *Handler {
	return &Handler{
		repo:    repo,
		fetcher: fetcher,
		actions: actions,
		reg:     reg,
		opts:    opts,
	}
}

// wsPeer adapts websocket.Conn to Peer.
type wsPeer struct {
	conn *websocket.Conn
}

func (p *wsPeer) Send(ctx context.Context, v any) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return wsjson.Write(ctx, p.conn, v)
}

func (p *wsPeer) Close(reason string) error {
	return p.conn.Close(websocket.StatusNormalClosure, reason)
}

// ServeHTTP implements http.Handler for WebSocket upgrade.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	if userID == "" {
		http.Error(w, "missing identity", http.StatusUnauthorized)
		return
	}
	slog.Info("WebSocket connection request", "user_id", userID, "ip", identity.IPFromRequest(r))

	if !h.checkOrigin(r) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		slog.Error("Failed to accept WebSocket", "error", err, "user_id", userID)
		return
	}
	ws.SetReadLimit(readLimit)

	connID := uuid.NewString()
	logger := slog.With("user_id", userID, "conn_id", connID)
	peer := &wsPeer{conn: ws}
	defer func() {
		if closeErr := peer.Close("panel closed"); closeErr != nil {
			logger.Debug("Failed to close websocket", "error", closeErr)
		}
	}()

	h.reg.Register(userID, connID, peer)
	defer h.reg.Unregister(userID, connID, peer)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	systemDark := r.URL.Query().Get("scheme") == string(domain.SchemeDark)
	if err := peer.Send(ctx, NewThemeMessage(h.initialScheme(ctx, userID, systemDark))); err != nil {
		logger.Debug("Failed to send initial theme", "error", err)
		return
	}

	p := panel.New(panel.Config{
		WorkflowID:    h.opts.WorkflowID,
		UserID:        userID,
		ClientIP:      identity.IPFromRequest(r),
		FileUploads:   h.opts.FileUploads,
		AllowRetry:    h.opts.AllowRetry,
		ScriptTimeout: h.opts.ScriptTimeout,
		Fetcher:       h.fetcher,
		Logger:        logger,
		OnThemeRequest: func(scheme domain.ColorScheme) {
			h.applyTheme(ctx, userID, scheme)
		},
		OnWidgetAction: func(actx context.Context, action domain.WidgetAction) {
			if h.actions == nil {
				return
			}
			if err := h.actions.HandleWidgetAction(actx, userID, action); err != nil {
				logger.Error("Failed to handle widget action", "error", err, "fact_id", action.FactID)
			}
		},
		OnResponseEnd: func() {
			h.touch(userID)
		},
		OnChange: func(s panel.Snapshot) {
			if err := peer.Send(ctx, stateMessage{Type: MsgState, Snapshot: s}); err != nil {
				logger.Debug("Failed to send state", "error", err)
			}
		},
	})
	defer p.Close()
	p.Mount()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := p.AwaitScript(ctx); err != nil {
			if ctx.Err() == nil {
				logger.Warn("Widget script unavailable", "error", err)
			}
			return
		}
		logger.Info("Widget script ready")
	}()

	h.readLoop(ctx, ws, peer, p, &wg, logger)
	cancel()
	wg.Wait()
	logger.Info("Panel session ended")
}

func (h *Handler) checkOrigin(r *http.Request) bool {
	if h.opts.IsDev {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" || h.opts.AllowedOrigin == "*" {
		return true
	}
	if origin == h.opts.AllowedOrigin {
		return true
	}
	slog.Warn("WebSocket origin rejected", "origin", origin, "allowed", h.opts.AllowedOrigin)
	return false
}

//nolint:gocognit // Message dispatch fans out to every panel operation.
func (h *Handler) readLoop(ctx context.Context, ws *websocket.Conn, peer Peer, p *panel.Panel, wg *sync.WaitGroup, logger *slog.Logger) {
	for {
		_, data, err := ws.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 {
				logger.Debug("WebSocket closed by client")
			} else if ctx.Err() == nil {
				logger.Warn("WebSocket read error", "error", err)
			}
			return
		}

		var msg inbound
		if err := json.Unmarshal(data, &msg); err != nil {
			logger.Warn("Dropping malformed panel message", "error", err)
			continue
		}

		switch msg.Type {
		case MsgScriptLoaded:
			p.ScriptLoaded()
		case MsgScriptError:
			p.ScriptFailed(msg.Detail)
		case MsgGetClientSecret:
			// Bootstrap runs off the read loop so script and widget events
			// keep flowing while the relay responds.
			wg.Add(1)
			go func(id, current string) {
				defer wg.Done()
				secret, err := p.ClientSecret(ctx, current)
				var out any = secretMessage{Type: MsgClientSecret, ID: id, Secret: secret}
				if err != nil {
					out = secretErrorMessage{Type: MsgClientSecretError, ID: id, Error: err.Error()}
				}
				if err := peer.Send(ctx, out); err != nil {
					logger.Debug("Failed to send client secret", "error", err)
				}
			}(msg.ID, msg.Current)
		case MsgClientTool:
			res := p.HandleClientTool(ctx, panel.ToolInvocation{Name: msg.Name, Params: msg.Params})
			if err := peer.Send(ctx, toolResultMessage{Type: MsgClientToolResult, ID: msg.ID, Success: res.Success}); err != nil {
				logger.Debug("Failed to send tool result", "error", err)
			}
		case MsgThreadChange:
			p.ThreadChanged()
		case MsgResponseStart:
			p.ResponseStarted()
		case MsgResponseEnd:
			p.ResponseEnded()
		case MsgWidgetError:
			p.IntegrationError(msg.Detail)
		case MsgRetry:
			p.Reset()
		case MsgPing:
			if err := peer.Send(ctx, typeOnly{Type: MsgPong}); err != nil {
				logger.Debug("Failed to send pong", "error", err)
			}
		default:
			logger.Debug("Unknown panel message", "type", msg.Type)
		}
	}
}

func (h *Handler) initialScheme(ctx context.Context, userID string, systemDark bool) domain.ColorScheme {
	if h.repo == nil {
		return domain.SchemePreference("").Resolve(systemDark)
	}
	user, err := h.repo.GetUser(ctx, userID)
	if err != nil || user == nil {
		return domain.SchemePreference("").Resolve(systemDark)
	}
	return user.PreferredScheme(systemDark)
}

// applyTheme persists a scheme requested by the agent and pushes it to every
// open mount of the user.
func (h *Handler) applyTheme(ctx context.Context, userID string, scheme domain.ColorScheme) {
	if h.repo != nil {
		if err := h.repo.UpdateColorScheme(ctx, userID, domain.SchemePreference(scheme)); err != nil {
			slog.Warn("Failed to persist color scheme", "error", err, "user_id", userID)
		}
	}
	h.reg.Broadcast(ctx, userID, NewThemeMessage(scheme))
}

// touch updates last seen asynchronously with timeout.
func (h *Handler) touch(userID string) {
	if h.repo == nil {
		return
	}
	go func() {
		updateCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := h.repo.UpdateLastSeen(updateCtx, userID, time.Now()); err != nil {
			slog.Warn("Failed to update last seen", "error", err)
		}
	}()
}
