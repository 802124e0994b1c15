// Package metrics provides Prometheus metrics for the showcase engine.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the engine.
type Metrics struct {
	TurnsTotal       *prometheus.CounterVec
	TurnDuration     *prometheus.HistogramVec
	SubagentCalls    *prometheus.CounterVec
	SubagentDuration *prometheus.HistogramVec
	ToolCallsTotal   *prometheus.CounterVec
	StreamEvents     *prometheus.CounterVec
	BreakerState     *prometheus.GaugeVec
	PublishTotal     *prometheus.CounterVec
	ErrorsTotal      *prometheus.CounterVec

	registry *prometheus.Registry
}

// New creates and registers all metrics.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		TurnsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "showcase_turns_total",
				Help: "Total conversation turns by dispatch mode and status.",
			},
			[]string{"mode", "status"},
		),
		TurnDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "showcase_turn_duration_seconds",
				Help:    "Turn processing duration by dispatch mode.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"mode"},
		),
		SubagentCalls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "showcase_subagent_calls_total",
				Help: "Subagent invocations by agent and outcome.",
			},
			[]string{"agent", "outcome"},
		),
		SubagentDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "showcase_subagent_duration_seconds",
				Help:    "Subagent run duration by agent.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"agent"},
		),
		ToolCallsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "showcase_tool_calls_total",
				Help: "Tool executions by tool name and outcome.",
			},
			[]string{"tool", "outcome"},
		),
		StreamEvents: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "showcase_stream_events_total",
				Help: "Wire events emitted by event type.",
			},
			[]string{"type"},
		),
		BreakerState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "showcase_breaker_state",
				Help: "Circuit breaker state per subagent (0=closed, 1=half-open, 2=open).",
			},
			[]string{"agent"},
		),
		PublishTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "showcase_publish_total",
				Help: "Publish attempts by result.",
			},
			[]string{"result"},
		),
		ErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "showcase_errors_total",
				Help: "Total errors by module and type.",
			},
			[]string{"module", "type"},
		),
		registry: reg,
	}

	reg.MustRegister(m.TurnsTotal)
	reg.MustRegister(m.TurnDuration)
	reg.MustRegister(m.SubagentCalls)
	reg.MustRegister(m.SubagentDuration)
	reg.MustRegister(m.ToolCallsTotal)
	reg.MustRegister(m.StreamEvents)
	reg.MustRegister(m.BreakerState)
	reg.MustRegister(m.PublishTotal)
	reg.MustRegister(m.ErrorsTotal)

	return m
}

// Handler returns an http.Handler for the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordTurn increments the turn counter.
func (m *Metrics) RecordTurn(mode, status string) {
	m.TurnsTotal.WithLabelValues(mode, status).Inc()
}

// ObserveTurnDuration records turn duration.
func (m *Metrics) ObserveTurnDuration(mode string, seconds float64) {
	m.TurnDuration.WithLabelValues(mode).Observe(seconds)
}

// RecordSubagent increments the subagent call counter.
func (m *Metrics) RecordSubagent(agent, outcome string) {
	m.SubagentCalls.WithLabelValues(agent, outcome).Inc()
}

// ObserveSubagentDuration records subagent run duration.
func (m *Metrics) ObserveSubagentDuration(agent string, seconds float64) {
	m.SubagentDuration.WithLabelValues(agent).Observe(seconds)
}

// RecordToolCall increments the tool execution counter.
func (m *Metrics) RecordToolCall(tool, outcome string) {
	m.ToolCallsTotal.WithLabelValues(tool, outcome).Inc()
}

// RecordStreamEvent increments the wire event counter.
func (m *Metrics) RecordStreamEvent(eventType string) {
	m.StreamEvents.WithLabelValues(eventType).Inc()
}

// SetBreakerState sets the breaker gauge for an agent.
func (m *Metrics) SetBreakerState(agent string, state float64) {
	m.BreakerState.WithLabelValues(agent).Set(state)
}

// RecordPublish increments the publish counter.
func (m *Metrics) RecordPublish(result string) {
	m.PublishTotal.WithLabelValues(result).Inc()
}

// RecordError increments the error counter.
func (m *Metrics) RecordError(module, errType string) {
	m.ErrorsTotal.WithLabelValues(module, errType).Inc()
}
