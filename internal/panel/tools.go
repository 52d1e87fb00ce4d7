package panel

import (
	"context"
	"strconv"
	"strings"

	"github.com/ashureev/chatkit-shell/internal/domain"
)

// Client tool names the hosted agent runtime may invoke.
const (
	ToolSwitchTheme = "switch_theme"
	ToolRecordFact  = "record_fact"
)

// ToolInvocation is a client tool call forwarded from the widget.
type ToolInvocation struct {
	Name   string         `json:"name"`
	Params map[string]any `json:"params"`
}

// ToolResult acknowledges a client tool call.
type ToolResult struct {
	Success bool `json:"success"`
}

// HandleClientTool dispatches a client tool invocation.
func (p *Panel) HandleClientTool(ctx context.Context, inv ToolInvocation) ToolResult {
	var res ToolResult
	switch inv.Name {
	case ToolSwitchTheme:
		res = p.switchTheme(inv.Params)
	case ToolRecordFact:
		res = p.recordFact(ctx, inv.Params)
	default:
		p.logger.Warn("Unknown client tool", "tool", inv.Name)
	}
	observeTool(inv.Name, res)
	return res
}

func (p *Panel) switchTheme(params map[string]any) ToolResult {
	raw, _ := params["theme"].(string)
	scheme, err := domain.ParseColorScheme(raw)
	if err != nil {
		p.logger.Debug("switch_theme rejected", "theme", params["theme"])
		return ToolResult{Success: false}
	}
	if p.cfg.OnThemeRequest != nil {
		p.cfg.OnThemeRequest(scheme)
	}
	return ToolResult{Success: true}
}

// recordFact relays a fact at most once per thread. Duplicates and empty ids
// are acknowledged without relaying.
func (p *Panel) recordFact(ctx context.Context, params map[string]any) ToolResult {
	id := paramString(params["fact_id"])
	text := paramString(params["fact_text"])
	if id == "" || p.facts.CheckAndMark(id) {
		return ToolResult{Success: true}
	}

	if p.cfg.OnWidgetAction != nil {
		p.cfg.OnWidgetAction(ctx, domain.WidgetAction{
			Type:     domain.WidgetActionSave,
			FactID:   id,
			FactText: collapseWhitespace(text),
		})
	}
	return ToolResult{Success: true}
}

// paramString stringifies a JSON scalar; missing and null become "".
func paramString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	default:
		return ""
	}
}

func collapseWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
