package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles Prometheus collectors for turns, permission checks and the transport.
// It satisfies turn.Metrics; a nil *Metrics records nothing.
type Metrics struct {
	registry         *prometheus.Registry
	Turns            *prometheus.CounterVec
	TurnDuration     *prometheus.HistogramVec
	PermissionChecks *prometheus.CounterVec
	ToolUses         *prometheus.CounterVec
	ActiveTurns      prometheus.Gauge
	TransportErrs    *prometheus.CounterVec
}

// NewMetrics constructs a metrics registry with turn collectors.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()

	turns := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "scribe_turns_total",
		Help: "Finished turns by outcome status",
	}, []string{"status"})

	durs := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "scribe_turn_duration_seconds",
		Help:    "Turn duration in seconds",
		Buckets: []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300, 600},
	}, []string{"status"})

	checks := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "scribe_permission_checks_total",
		Help: "Tool permission checks by tool and decision",
	}, []string{"tool", "decision"})

	uses := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "scribe_tool_uses_total",
		Help: "Tool calls reported by the agent",
	}, []string{"tool"})

	active := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "scribe_active_turns",
		Help: "Turns currently running",
	})

	trErrors := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "scribe_transport_errors_total",
		Help: "Agent transport errors by stage (connect, query, receive, handler)",
	}, []string{"stage"})

	reg.MustRegister(turns, durs, checks, uses, active, trErrors)

	return &Metrics{
		registry:         reg,
		Turns:            turns,
		TurnDuration:     durs,
		PermissionChecks: checks,
		ToolUses:         uses,
		ActiveTurns:      active,
		TransportErrs:    trErrors,
	}
}

// Registry returns the underlying Prometheus registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// RecordTurn records a finished turn.
func (m *Metrics) RecordTurn(status string, duration time.Duration) {
	if m == nil {
		return
	}
	status = orUnknown(status)
	m.Turns.WithLabelValues(status).Inc()
	m.TurnDuration.WithLabelValues(status).Observe(duration.Seconds())
}

// RecordPermissionCheck counts a gate decision.
func (m *Metrics) RecordPermissionCheck(tool, decision string) {
	if m == nil {
		return
	}
	m.PermissionChecks.WithLabelValues(orUnknown(tool), orUnknown(decision)).Inc()
}

// RecordToolUse counts a tool call.
func (m *Metrics) RecordToolUse(tool string) {
	if m == nil {
		return
	}
	m.ToolUses.WithLabelValues(orUnknown(tool)).Inc()
}

// IncActiveTurns increments the active turn gauge.
func (m *Metrics) IncActiveTurns() {
	if m == nil {
		return
	}
	m.ActiveTurns.Inc()
}

// DecActiveTurns decrements the active turn gauge.
func (m *Metrics) DecActiveTurns() {
	if m == nil {
		return
	}
	m.ActiveTurns.Dec()
}

// RecordTransportError records a transport-level error.
func (m *Metrics) RecordTransportError(stage string) {
	if m == nil {
		return
	}
	m.TransportErrs.WithLabelValues(orUnknown(stage)).Inc()
}

func orUnknown(s string) string {
	if s == "" {
		return "unknown"
	}
	return s
}
