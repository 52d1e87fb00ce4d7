package panel

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricToolInvocations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "chatkit",
		Name:      "client_tool_invocations_total",
		Help:      "Client tool invocations received from the hosted widget.",
	}, []string{"tool", "success"})
	metricScriptFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "chatkit",
		Name:      "script_failures_total",
		Help:      "Widget script load failures, including readiness timeouts.",
	})
	metricActivePanels = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "chatkit",
		Name:      "panels_active",
		Help:      "Number of mounted panels.",
	})
)

func observeTool(name string, res ToolResult) {
	switch name {
	case ToolSwitchTheme, ToolRecordFact:
	default:
		name = "unknown"
	}
	metricToolInvocations.WithLabelValues(name, strconv.FormatBool(res.Success)).Inc()
}
