// Package telemetry wires Prometheus metrics and OpenTelemetry tracing into
// the simulation engine, following pkg/observability's shape: a
// nil-receiver-safe Metrics struct so instrumentation call sites never need
// a feature-flag check, and a tracer provider selected by config at
// startup.
package telemetry

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsConfig configures the Prometheus registry.
type MetricsConfig struct {
	Enabled   bool   `yaml:"enabled,omitempty"`
	Endpoint  string `yaml:"endpoint,omitempty"`
	Namespace string `yaml:"namespace,omitempty"`
}

// SetDefaults fills in the conventional namespace and scrape path.
func (c *MetricsConfig) SetDefaults() {
	if c.Namespace == "" {
		c.Namespace = "emotionsim"
	}
	if c.Endpoint == "" {
		c.Endpoint = "/metrics"
	}
}

// Metrics collects per-tick and per-agent-turn counters and histograms. A
// nil *Metrics is valid and every Record/Inc/Set method is a no-op against
// it, so callers never need to check whether metrics are enabled.
type Metrics struct {
	config   *MetricsConfig
	registry *prometheus.Registry

	ticksTotal      prometheus.Counter
	tickDuration    prometheus.Histogram
	activeAgents    prometheus.Gauge
	agentTurns      *prometheus.CounterVec
	agentTurnErrors *prometheus.CounterVec
	actionsTotal    *prometheus.CounterVec
	messagesTotal   *prometheus.CounterVec
	tasksCompleted  prometheus.Counter
	votesHeld       prometheus.Counter
	runStatus       *prometheus.GaugeVec
	httpRequests    *prometheus.CounterVec
	httpDuration    *prometheus.HistogramVec
}

// NewMetrics builds a registry from cfg, returning a nil *Metrics when
// disabled.
func NewMetrics(cfg *MetricsConfig) *Metrics {
	if cfg == nil || !cfg.Enabled {
		return nil
	}
	cfg.SetDefaults()

	m := &Metrics{config: cfg, registry: prometheus.NewRegistry()}

	m.ticksTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: cfg.Namespace, Subsystem: "engine", Name: "ticks_total", Help: "Total ticks executed across all runs.",
	})
	m.tickDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: cfg.Namespace, Subsystem: "engine", Name: "tick_duration_seconds", Help: "Wall-clock duration of one tick.",
		Buckets: prometheus.ExponentialBuckets(0.001, 2, 14),
	})
	m.activeAgents = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: cfg.Namespace, Subsystem: "engine", Name: "active_agents", Help: "Active agent count as of the last tick.",
	})
	m.agentTurns = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: cfg.Namespace, Subsystem: "agent", Name: "turns_total", Help: "Total agent turns executed.",
	}, []string{"role"})
	m.agentTurnErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: cfg.Namespace, Subsystem: "agent", Name: "turn_errors_total", Help: "Oracle or validation failures per turn.",
	}, []string{"role", "error_kind"})
	m.actionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: cfg.Namespace, Subsystem: "agent", Name: "actions_total", Help: "Executed actions by type and outcome.",
	}, []string{"action_type", "success"})
	m.messagesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: cfg.Namespace, Subsystem: "bus", Name: "messages_total", Help: "Published messages by routing type.",
	}, []string{"message_type"})
	m.tasksCompleted = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: cfg.Namespace, Subsystem: "cooperation", Name: "tasks_completed_total", Help: "Cooperation tasks that reached completed.",
	})
	m.votesHeld = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: cfg.Namespace, Subsystem: "cooperation", Name: "votes_held_total", Help: "Votes closed by the cooperation coordinator.",
	})
	m.runStatus = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: cfg.Namespace, Subsystem: "engine", Name: "run_status", Help: "1 for the run's current status, 0 otherwise.",
	}, []string{"run_id", "status"})
	m.httpRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: cfg.Namespace, Subsystem: "http", Name: "requests_total", Help: "Control API requests by route and status.",
	}, []string{"method", "route", "status"})
	m.httpDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: cfg.Namespace, Subsystem: "http", Name: "request_duration_seconds", Help: "Control API request latency.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route"})

	m.registry.MustRegister(m.ticksTotal, m.tickDuration, m.activeAgents, m.agentTurns,
		m.agentTurnErrors, m.actionsTotal, m.messagesTotal, m.tasksCompleted, m.votesHeld, m.runStatus,
		m.httpRequests, m.httpDuration)
	return m
}

// RecordTick records one completed tick's duration and the active agent
// count observed at the end of it.
func (m *Metrics) RecordTick(duration time.Duration, activeAgents int) {
	if m == nil {
		return
	}
	m.ticksTotal.Inc()
	m.tickDuration.Observe(duration.Seconds())
	m.activeAgents.Set(float64(activeAgents))
}

// RecordAgentTurn records one agent's scheduled turn.
func (m *Metrics) RecordAgentTurn(role string) {
	if m == nil {
		return
	}
	m.agentTurns.WithLabelValues(role).Inc()
}

// RecordAgentTurnError records an oracle or validation failure for a turn.
func (m *Metrics) RecordAgentTurnError(role, errorKind string) {
	if m == nil {
		return
	}
	m.agentTurnErrors.WithLabelValues(role, errorKind).Inc()
}

// RecordAction records one executed action and whether it succeeded.
func (m *Metrics) RecordAction(actionType string, success bool) {
	if m == nil {
		return
	}
	m.actionsTotal.WithLabelValues(actionType, successLabel(success)).Inc()
}

// RecordMessage records one published message by routing type.
func (m *Metrics) RecordMessage(messageType string) {
	if m == nil {
		return
	}
	m.messagesTotal.WithLabelValues(messageType).Inc()
}

// RecordTaskCompleted records a cooperation task reaching completed.
func (m *Metrics) RecordTaskCompleted() {
	if m == nil {
		return
	}
	m.tasksCompleted.Inc()
}

// RecordVoteHeld records a vote closing.
func (m *Metrics) RecordVoteHeld() {
	if m == nil {
		return
	}
	m.votesHeld.Inc()
}

// SetRunStatus records the run's current status as a one-hot gauge set.
func (m *Metrics) SetRunStatus(runID, status string, statuses []string) {
	if m == nil {
		return
	}
	for _, s := range statuses {
		val := 0.0
		if s == status {
			val = 1.0
		}
		m.runStatus.WithLabelValues(runID, s).Set(val)
	}
}

// RecordHTTPRequest records one Control API request's outcome and latency.
func (m *Metrics) RecordHTTPRequest(method, route string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.httpDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

func successLabel(ok bool) string {
	if ok {
		return "true"
	}
	return "false"
}

// Handler exposes the Prometheus scrape endpoint. A nil *Metrics serves 503,
// so mounting it unconditionally in the server is always safe.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
