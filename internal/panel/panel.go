// Package panel implements the state machine behind one mounted chat widget:
// script readiness, session bootstrap, error banners, and the client tools
// the hosted agent runtime may invoke.
//
// A Panel is owned by one browser mount. Its state is touched by the event
// loop of that mount, the readiness timer and the in-flight bootstrap call,
// so every mutation happens under a mutex. Reset bumps the instance key;
// results that arrive for an older key are dropped.
package panel

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/ashureev/chatkit-shell/internal/bootstrap"
	"github.com/ashureev/chatkit-shell/internal/config"
	"github.com/ashureev/chatkit-shell/internal/domain"
)

const (
	// DefaultScriptTimeout bounds the wait for the widget script.
	DefaultScriptTimeout = 5 * time.Second

	// ScriptUnavailableDetail is synthesized when the script never reports in.
	ScriptUnavailableDetail = "ChatKit web component is unavailable. Verify that the script URL is reachable."
	// WorkflowNotConfiguredDetail is the session error for a missing workflow id.
	WorkflowNotConfiguredDetail = "Set CHATKIT_WORKFLOW_ID in your .env file."
	// LoadingMessage is shown while a session is being initialized.
	LoadingMessage = "Loading assistant session..."

	unknownErrorDetail = "unknown error"
	sessionFailDetail  = "Unable to start ChatKit session."
)

var (
	// ErrWorkflowNotConfigured is returned by ClientSecret without a network call.
	ErrWorkflowNotConfigured = errors.New(WorkflowNotConfiguredDetail)
	// ErrUnmounted is returned once the panel has been closed.
	ErrUnmounted = errors.New("panel is not mounted")
)

// SessionFetcher exchanges a workflow id for a client secret.
type SessionFetcher interface {
	FetchClientSecret(ctx context.Context, req bootstrap.Request) (string, error)
}

// Config wires a panel to its host.
type Config struct {
	WorkflowID    string
	UserID        string
	ClientIP      string
	FileUploads   bool
	AllowRetry    bool
	ScriptTimeout time.Duration
	Fetcher       SessionFetcher

	// OnThemeRequest receives switch_theme requests with a valid scheme.
	OnThemeRequest func(domain.ColorScheme)
	// OnWidgetAction receives deduplicated record_fact requests.
	OnWidgetAction func(context.Context, domain.WidgetAction)
	// OnResponseEnd fires when the widget finishes a response.
	OnResponseEnd func()
	// OnChange receives a snapshot after every state change.
	OnChange func(Snapshot)

	Logger *slog.Logger
}

// Snapshot is what the browser renders.
type Snapshot struct {
	InstanceKey    int        `json:"instance_key"`
	ScriptReady    bool       `json:"script_ready"`
	Initializing   bool       `json:"initializing"`
	Error          string     `json:"error,omitempty"`
	LoadingMessage string     `json:"loading_message,omitempty"`
	RetryAvailable bool       `json:"retry_available"`
	Errors         ErrorState `json:"errors"`
}

// Panel is one widget mount.
type Panel struct {
	cfg    Config
	logger *slog.Logger
	facts  *FactSet

	pubMu sync.Mutex // orders OnChange deliveries

	mu           sync.Mutex
	errs         ErrorState
	initializing bool
	scriptReady  bool
	instanceKey  int
	mounted      bool
	closed       bool
	scriptTimer  *time.Timer
	scriptDone   chan struct{}
}

// New creates an unmounted panel.
func New(cfg Config) *Panel {
	if cfg.ScriptTimeout <= 0 {
		cfg.ScriptTimeout = DefaultScriptTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Panel{
		cfg:          cfg,
		logger:       cfg.Logger.With("user_id", cfg.UserID),
		facts:        NewFactSet(),
		initializing: true,
		scriptDone:   make(chan struct{}),
	}
}

// Mount arms the readiness timer and flags an unconfigured workflow.
func (p *Panel) Mount() {
	p.mu.Lock()
	if p.mounted || p.closed {
		p.mu.Unlock()
		return
	}
	p.mounted = true
	p.armScriptTimerLocked()
	if !config.IsWorkflowConfigured(p.cfg.WorkflowID) {
		p.errs.Session = WorkflowNotConfiguredDetail
		p.errs.Retryable = false
		p.initializing = false
	}
	p.mu.Unlock()

	metricActivePanels.Inc()
	p.publish()
}

// Close unmounts the panel. Pending work no longer touches its state.
func (p *Panel) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	wasMounted := p.mounted
	p.closed = true
	p.stopScriptTimerLocked()
	p.settleScriptLocked()
	p.mu.Unlock()

	if wasMounted {
		metricActivePanels.Dec()
	}
}

// Snapshot returns the current render state.
func (p *Panel) Snapshot() Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.snapshotLocked()
}

func (p *Panel) snapshotLocked() Snapshot {
	s := Snapshot{
		InstanceKey:    p.instanceKey,
		ScriptReady:    p.scriptReady,
		Initializing:   p.initializing,
		Error:          p.errs.BlockingError(),
		RetryAvailable: p.errs.RetryAvailable(),
		Errors:         p.errs,
	}
	if s.Error == "" && p.initializing {
		s.LoadingMessage = LoadingMessage
	}
	return s
}

func (p *Panel) publish() {
	if p.cfg.OnChange == nil {
		return
	}
	p.pubMu.Lock()
	defer p.pubMu.Unlock()

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	snap := p.snapshotLocked()
	p.mu.Unlock()

	p.cfg.OnChange(snap)
}

func (p *Panel) armScriptTimerLocked() {
	p.stopScriptTimerLocked()
	key := p.instanceKey
	p.scriptTimer = time.AfterFunc(p.cfg.ScriptTimeout, func() {
		p.scriptTimedOut(key)
	})
}

func (p *Panel) stopScriptTimerLocked() {
	if p.scriptTimer != nil {
		p.scriptTimer.Stop()
		p.scriptTimer = nil
	}
}

func (p *Panel) scriptTimedOut(key int) {
	p.mu.Lock()
	if p.closed || key != p.instanceKey || p.scriptReady || p.errs.Script != "" {
		p.mu.Unlock()
		return
	}
	p.failScriptLocked(ScriptUnavailableDetail)
	p.mu.Unlock()

	metricScriptFailures.Inc()
	p.logger.Warn("Widget script readiness timed out", "timeout", p.cfg.ScriptTimeout)
	p.publish()
}

func (p *Panel) failScriptLocked(detail string) {
	p.errs.Script = "Error: " + detail
	p.errs.Retryable = false
	p.initializing = false
	p.stopScriptTimerLocked()
	p.settleScriptLocked()
}

func (p *Panel) settleScriptLocked() {
	select {
	case <-p.scriptDone:
	default:
		close(p.scriptDone)
	}
}

// AwaitScript blocks until the widget script reports in, fails, or times
// out. It returns nil only when the script is ready.
func (p *Panel) AwaitScript(ctx context.Context) error {
	for {
		p.mu.Lock()
		done := p.scriptDone
		p.mu.Unlock()

		select {
		case <-done:
		case <-ctx.Done():
			return ctx.Err()
		}

		p.mu.Lock()
		ready, scriptErr, closed := p.scriptReady, p.errs.Script, p.closed
		p.mu.Unlock()
		switch {
		case ready:
			return nil
		case scriptErr != "":
			return errors.New(scriptErr)
		case closed:
			return ErrUnmounted
		}
		// reset in between; wait on the new mount
	}
}

// ScriptLoaded records that the hosted widget registered itself.
func (p *Panel) ScriptLoaded() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.scriptReady = true
	p.errs.Script = ""
	p.stopScriptTimerLocked()
	p.settleScriptLocked()
	p.mu.Unlock()

	p.publish()
}

// ScriptFailed records a script load failure. Once the script is ready the
// panel ignores late failures until Reset.
func (p *Panel) ScriptFailed(detail string) {
	if detail == "" {
		detail = unknownErrorDetail
	}

	p.mu.Lock()
	if p.closed || p.scriptReady {
		p.mu.Unlock()
		return
	}
	p.failScriptLocked(detail)
	p.mu.Unlock()

	metricScriptFailures.Inc()
	p.logger.Error("Failed to load widget script", "detail", detail)
	p.publish()
}

// ClientSecret fetches a credential for the widget. current is the secret
// the widget already holds, if any; a refresh does not toggle the loading
// indicator.
func (p *Panel) ClientSecret(ctx context.Context, current string) (string, error) {
	if !config.IsWorkflowConfigured(p.cfg.WorkflowID) {
		p.mu.Lock()
		if !p.closed {
			p.errs.Session = WorkflowNotConfiguredDetail
			p.errs.Retryable = false
			p.initializing = false
		}
		p.mu.Unlock()
		p.publish()
		return "", ErrWorkflowNotConfigured
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return "", ErrUnmounted
	}
	key := p.instanceKey
	if current == "" {
		p.initializing = true
	}
	p.errs.Session = ""
	p.errs.Integration = ""
	p.errs.Retryable = false
	p.mu.Unlock()
	p.publish()

	secret, err := p.cfg.Fetcher.FetchClientSecret(ctx, bootstrap.Request{
		WorkflowID:  p.cfg.WorkflowID,
		UserID:      p.cfg.UserID,
		FileUploads: p.cfg.FileUploads,
		ClientIP:    p.cfg.ClientIP,
	})

	p.mu.Lock()
	stale := p.closed || key != p.instanceKey
	if !stale {
		if err != nil {
			detail := err.Error()
			if detail == "" {
				detail = sessionFailDetail
			}
			p.errs.Session = detail
			p.surfaceRetryLocked(p.errs.Script == "")
		} else {
			p.errs.Session = ""
			p.errs.Integration = ""
		}
		if current == "" {
			p.initializing = false
		}
	}
	p.mu.Unlock()

	if err != nil {
		p.logger.Error("Failed to create session", "error", err, "stale", stale)
	}
	if !stale {
		p.publish()
	}
	return secret, err
}

// ThreadChanged forgets the facts relayed in the previous thread.
func (p *Panel) ThreadChanged() {
	p.facts.Clear()
}

// ResponseStarted clears any integration error from a previous response.
func (p *Panel) ResponseStarted() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.errs.Integration = ""
	p.errs.Retryable = false
	p.mu.Unlock()

	p.publish()
}

// ResponseEnded notifies the host.
func (p *Panel) ResponseEnded() {
	if p.cfg.OnResponseEnd != nil {
		p.cfg.OnResponseEnd()
	}
}

// IntegrationError records an error reported by the widget itself.
func (p *Panel) IntegrationError(detail string) {
	if detail == "" {
		detail = unknownErrorDetail
	}
	p.logger.Error("Widget reported an error", "detail", detail)

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.errs.Integration = detail
	p.surfaceRetryLocked(p.errs.Script == "" && p.errs.Session == "")
	p.mu.Unlock()

	p.publish()
}

// surfaceRetryLocked offers retry only when the error just recorded is the
// banner being shown. A hidden error leaves the flag of the visible one alone.
func (p *Panel) surfaceRetryLocked(shown bool) {
	if shown {
		p.errs.Retryable = p.cfg.AllowRetry
	}
}

// Reset is the user's retry: all local state is cleared, readiness is
// re-evaluated and the widget remounts under a new instance key.
func (p *Panel) Reset() {
	p.facts.Clear()

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.errs = ErrorState{}
	p.scriptReady = false
	p.initializing = true
	p.instanceKey++
	p.settleScriptLocked()
	p.scriptDone = make(chan struct{})
	if p.mounted {
		p.armScriptTimerLocked()
	}
	if !config.IsWorkflowConfigured(p.cfg.WorkflowID) {
		p.errs.Session = WorkflowNotConfiguredDetail
		p.initializing = false
	}
	key := p.instanceKey
	p.mu.Unlock()

	p.logger.Info("Panel reset", "instance_key", key)
	p.publish()
}
