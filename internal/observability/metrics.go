package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/nickmurray47/goose/pkg/models"
)

// Metrics collects engine counters and histograms for Prometheus. It
// implements the agent event sink interface, so wiring it next to the
// UI sink keeps metrics in lockstep with the event stream.
type Metrics struct {
	// TurnCounter counts completed model turns.
	// Labels: provider, model
	TurnCounter *prometheus.CounterVec

	// SessionEndCounter counts terminal states.
	// Labels: reason (completed|turn_limit|cancelled|fatal)
	SessionEndCounter *prometheus.CounterVec

	// TokensUsed tracks token consumption.
	// Labels: provider, model, type (input|output)
	TokensUsed *prometheus.CounterVec

	// ToolExecutionCounter counts resolved tool calls.
	// Labels: extension, tool, outcome
	ToolExecutionCounter *prometheus.CounterVec

	// ToolExecutionDuration measures tool call latency in seconds.
	// Labels: extension, tool
	ToolExecutionDuration *prometheus.HistogramVec

	// PermissionCounter counts gate resolutions.
	// Labels: decision (allow_once|allow_always|deny)
	PermissionCounter *prometheus.CounterVec

	// CompactionCounter counts history compactions.
	CompactionCounter prometheus.Counter

	// SecurityFlagCounter counts scanner flags.
	SecurityFlagCounter prometheus.Counter

	// ErrorCounter counts non-fatal errors surfaced on the stream.
	ErrorCounter prometheus.Counter
}

// NewMetrics registers all metrics with the default registry. Call
// once at startup.
func NewMetrics() *Metrics {
	return newMetricsWith(prometheus.DefaultRegisterer)
}

func newMetricsWith(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		TurnCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "goose_turns_total",
				Help: "Completed model turns by provider and model",
			},
			[]string{"provider", "model"},
		),
		SessionEndCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "goose_session_ends_total",
				Help: "Session terminations by reason",
			},
			[]string{"reason"},
		),
		TokensUsed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "goose_tokens_total",
				Help: "Tokens consumed by provider, model, and direction",
			},
			[]string{"provider", "model", "type"},
		),
		ToolExecutionCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "goose_tool_executions_total",
				Help: "Resolved tool calls by extension, tool, and outcome",
			},
			[]string{"extension", "tool", "outcome"},
		),
		ToolExecutionDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "goose_tool_execution_duration_seconds",
				Help:    "Tool call latency in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60, 300},
			},
			[]string{"extension", "tool"},
		),
		PermissionCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "goose_permission_decisions_total",
				Help: "Permission gate resolutions by decision",
			},
			[]string{"decision"},
		),
		CompactionCounter: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "goose_compactions_total",
				Help: "History compactions",
			},
		),
		SecurityFlagCounter: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "goose_security_flags_total",
				Help: "Tool calls flagged by the security scanner",
			},
		),
		ErrorCounter: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "goose_errors_total",
				Help: "Non-fatal errors surfaced on the event stream",
			},
		),
	}
}

// OnEvent updates counters from one agent event. Satisfies the agent
// package's EventSink.
func (m *Metrics) OnEvent(ev *models.AgentEvent) {
	switch ev.Type {
	case models.EventTurnCompleted:
		if ev.Stream != nil {
			m.TurnCounter.WithLabelValues(ev.Stream.Provider, ev.Stream.Model).Inc()
			m.TokensUsed.WithLabelValues(ev.Stream.Provider, ev.Stream.Model, "input").
				Add(float64(ev.Stream.InputTokens))
			m.TokensUsed.WithLabelValues(ev.Stream.Provider, ev.Stream.Model, "output").
				Add(float64(ev.Stream.OutputTokens))
		}
	case models.EventToolResult:
		if ev.Tool != nil {
			m.ToolExecutionCounter.WithLabelValues(
				ev.Tool.Extension, ev.Tool.Name, string(ev.Tool.Outcome)).Inc()
			if ev.Tool.Elapsed > 0 {
				m.ToolExecutionDuration.WithLabelValues(ev.Tool.Extension, ev.Tool.Name).
					Observe(ev.Tool.Elapsed.Seconds())
			}
		}
	case models.EventPermissionResolved:
		if ev.Permission != nil {
			m.PermissionCounter.WithLabelValues(string(ev.Permission.Decision)).Inc()
		}
	case models.EventCompactionOccurred:
		m.CompactionCounter.Inc()
	case models.EventSecurityFlagged:
		m.SecurityFlagCounter.Inc()
	case models.EventError:
		m.ErrorCounter.Inc()
	case models.EventSessionEnded:
		if ev.End != nil {
			m.SessionEndCounter.WithLabelValues(string(ev.End.Reason)).Inc()
		}
	}
}
