package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the Prometheus collectors of the companion runtime. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	// Conversation metrics
	SessionsStarted *prometheus.CounterVec
	SessionsEnded   *prometheus.CounterVec
	TurnsTotal      *prometheus.CounterVec
	TurnDuration    prometheus.Histogram
	ToolCalls       *prometheus.CounterVec

	// Perception metrics
	CameraMisses    prometheus.Counter
	EventsPublished *prometheus.CounterVec
	EventsDropped   *prometheus.CounterVec

	// Memory metrics
	Evictions         prometheus.Counter
	EvictionRollbacks prometheus.Counter
	LedgerLength      prometheus.Gauge
}

// New creates a Metrics instance with all collectors registered on a private
// registry.
func New(namespace string) *Metrics {
	if namespace == "" {
		namespace = "dotcompanion"
	}

	registry := prometheus.NewRegistry()

	sessionsStarted := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_started_total",
			Help:      "Conversation sessions started, by trigger",
		},
		[]string{"trigger"},
	)

	sessionsEnded := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_ended_total",
			Help:      "Conversation sessions ended, by reason",
		},
		[]string{"reason"},
	)

	turnsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "turns_total",
			Help:      "Dialogue turns processed, by source and status",
		},
		[]string{"source", "status"},
	)

	turnDuration := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "turn_duration_seconds",
			Help:      "Time the perception gate stayed paused for one turn",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 40, 80},
		},
	)

	toolCalls := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tool_calls_total",
			Help:      "Tool executions by tool and outcome",
		},
		[]string{"tool", "status"},
	)

	cameraMisses := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "camera_misses_total",
			Help:      "Fusion ticks skipped because no frame was available",
		},
	)

	eventsPublished := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "perception_events_total",
			Help:      "Stabilized perception events published, by topic",
		},
		[]string{"topic"},
	)

	eventsDropped := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "perception_events_dropped_total",
			Help:      "Perception events dropped, by topic and reason",
		},
		[]string{"topic", "reason"},
	)

	evictions := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stm_evictions_total",
			Help:      "Short-term memory entries evicted",
		},
	)

	evictionRollbacks := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stm_eviction_rollbacks_total",
			Help:      "Eviction batches rolled back after a rejected delete",
		},
	)

	ledgerLength := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "stm_ledger_length",
			Help:      "Entries currently tracked by the short-term memory ledger",
		},
	)

	registry.MustRegister(
		sessionsStarted,
		sessionsEnded,
		turnsTotal,
		turnDuration,
		toolCalls,
		cameraMisses,
		eventsPublished,
		eventsDropped,
		evictions,
		evictionRollbacks,
		ledgerLength,
	)

	return &Metrics{
		registry:          registry,
		SessionsStarted:   sessionsStarted,
		SessionsEnded:     sessionsEnded,
		TurnsTotal:        turnsTotal,
		TurnDuration:      turnDuration,
		ToolCalls:         toolCalls,
		CameraMisses:      cameraMisses,
		EventsPublished:   eventsPublished,
		EventsDropped:     eventsDropped,
		Evictions:         evictions,
		EvictionRollbacks: evictionRollbacks,
		LedgerLength:      ledgerLength,
	}
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) RecordSessionStart(trigger string) {
	if m == nil {
		return
	}
	m.SessionsStarted.WithLabelValues(trigger).Inc()
}

func (m *Metrics) RecordSessionEnd(reason string) {
	if m == nil {
		return
	}
	m.SessionsEnded.WithLabelValues(reason).Inc()
}

// RecordTurn records one completed turn and how long the gate was paused.
func (m *Metrics) RecordTurn(source, status string, pausedSeconds float64) {
	if m == nil {
		return
	}
	m.TurnsTotal.WithLabelValues(source, status).Inc()
	m.TurnDuration.Observe(pausedSeconds)
}

func (m *Metrics) RecordToolCall(tool, status string) {
	if m == nil {
		return
	}
	m.ToolCalls.WithLabelValues(tool, status).Inc()
}

func (m *Metrics) RecordCameraMiss() {
	if m == nil {
		return
	}
	m.CameraMisses.Inc()
}

func (m *Metrics) RecordEvent(topic string) {
	if m == nil {
		return
	}
	m.EventsPublished.WithLabelValues(topic).Inc()
}

func (m *Metrics) RecordDroppedEvent(topic, reason string) {
	if m == nil {
		return
	}
	m.EventsDropped.WithLabelValues(topic, reason).Inc()
}

// RecordEviction records a successful eviction batch and the ledger length
// after it.
func (m *Metrics) RecordEviction(count, ledgerLen int) {
	if m == nil {
		return
	}
	if count > 0 {
		m.Evictions.Add(float64(count))
	}
	m.LedgerLength.Set(float64(ledgerLen))
}

func (m *Metrics) RecordEvictionRollback() {
	if m == nil {
		return
	}
	m.EvictionRollbacks.Inc()
}

func (m *Metrics) SetLedgerLength(n int) {
	if m == nil {
		return
	}
	m.LedgerLength.Set(float64(n))
}
