package bridge

import (
	"github.com/ashureev/chatkit-shell/internal/domain"
	"github.com/ashureev/chatkit-shell/internal/panel"
)

// Inbound message types sent by the browser.
const (
	MsgScriptLoaded    = "script_loaded"
	MsgScriptError     = "script_error"
	MsgGetClientSecret = "get_client_secret"
	MsgClientTool      = "client_tool"
	MsgThreadChange    = "thread_change"
	MsgResponseStart   = "response_start"
	MsgResponseEnd     = "response_end"
	MsgWidgetError     = "widget_error"
	MsgRetry           = "retry"
	MsgPing            = "ping"
)

// Outbound message types sent to the browser.
const (
	MsgState             = "state"
	MsgClientSecret      = "client_secret"
	MsgClientSecretError = "client_secret_error"
	MsgClientToolResult  = "client_tool_result"
	MsgTheme             = "theme"
	MsgPong              = "pong"
)

type inbound struct {
	Type    string         `json:"type"`
	ID      string         `json:"id,omitempty"`
	Detail  string         `json:"detail,omitempty"`
	Current string         `json:"current,omitempty"`
	Name    string         `json:"name,omitempty"`
	Params  map[string]any `json:"params,omitempty"`
}

type stateMessage struct {
	Type string `json:"type"`
	panel.Snapshot
}

type secretMessage struct {
	Type   string `json:"type"`
	ID     string `json:"id"`
	Secret string `json:"secret"`
}

type secretErrorMessage struct {
	Type  string `json:"type"`
	ID    string `json:"id"`
	Error string `json:"error"`
}

type toolResultMessage struct {
	Type    string `json:"type"`
	ID      string `json:"id"`
	Success bool   `json:"success"`
}

// ThemeMessage tells every mount of a user to switch color scheme.
type ThemeMessage struct {
	Type   string             `json:"type"`
	Scheme domain.ColorScheme `json:"scheme"`
}

// NewThemeMessage builds a theme message for scheme.
func NewThemeMessage(scheme domain.ColorScheme) ThemeMessage {
	return ThemeMessage{Type: MsgTheme, Scheme: scheme}
}

type typeOnly struct {
	Type string `json:"type"`
}
