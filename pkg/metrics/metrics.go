// Package metrics provides Prometheus metrics instrumentation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RequestDuration tracks HTTP request duration.
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "api_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "path", "status"},
	)

	// RequestsTotal tracks total HTTP requests.
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "api_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	// LLMStreamDuration tracks LLM streaming response duration.
	LLMStreamDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "llm_stream_duration_seconds",
			Help:    "LLM streaming response duration",
			Buckets: []float64{1, 2, 5, 10, 20, 30, 45, 60, 90, 120},
		},
		[]string{"model", "status"},
	)

	// LLMTokensTotal tracks total LLM tokens processed.
	LLMTokensTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "llm_tokens_total",
			Help: "Total LLM tokens processed",
		},
		[]string{"model", "direction"},
	)

	// SSEConnectionsActive tracks active SSE connections.
	SSEConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sse_connections_active",
			Help: "Number of active SSE connections",
		},
	)

	// EventsEmitted counts lifecycle events that passed the state machine.
	EventsEmitted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agui_events_emitted_total",
			Help: "Lifecycle events emitted, by event type",
		},
		[]string{"type"},
	)

	// EventsSuppressed counts lifecycle events rejected as duplicate or out of order.
	EventsSuppressed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agui_events_suppressed_total",
			Help: "Lifecycle events suppressed, by event type",
		},
		[]string{"type"},
	)

	// ConversationsActive tracks conversations with live lifecycle state.
	ConversationsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "agui_conversations_active",
			Help: "Conversations holding lifecycle state (started, not yet finished)",
		},
	)

	// EventLogPublishFailures counts lifecycle events that could not be appended to the event log.
	EventLogPublishFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nats_publish_failures_total",
			Help: "Failed JetStream publishes",
		},
		[]string{"kind"},
	)

	// RunsTotal tracks runs by outcome.
	RunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agui_runs_total",
			Help: "Agent runs by outcome",
		},
		[]string{"tenant_id", "outcome"},
	)

	// ThreadsTotal tracks total threads created.
	ThreadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "threads_total",
			Help: "Total threads created",
		},
		[]string{"tenant_id"},
	)

	// MessagesTotal tracks total messages recorded.
	MessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "messages_total",
			Help: "Total messages recorded",
		},
		[]string{"tenant_id", "role"},
	)
)

// RecordRequest records metrics for an HTTP request.
func RecordRequest(method, path, status string, duration float64) {
	RequestDuration.WithLabelValues(method, path, status).Observe(duration)
	RequestsTotal.WithLabelValues(method, path, status).Inc()
}

// RecordLLMStream records metrics for an LLM streaming response.
func RecordLLMStream(model, status string, duration float64, tokensIn, tokensOut int) {
	LLMStreamDuration.WithLabelValues(model, status).Observe(duration)
	LLMTokensTotal.WithLabelValues(model, "in").Add(float64(tokensIn))
	LLMTokensTotal.WithLabelValues(model, "out").Add(float64(tokensOut))
}

// RecordEvent records an emit or suppress decision for an event type.
func RecordEvent(eventType string, emitted bool) {
	if emitted {
		EventsEmitted.WithLabelValues(eventType).Inc()
		return
	}
	EventsSuppressed.WithLabelValues(eventType).Inc()
}

// IncrementSSEConnections increments the active SSE connection count.
func IncrementSSEConnections() {
	SSEConnectionsActive.Inc()
}

// DecrementSSEConnections decrements the active SSE connection count.
func DecrementSSEConnections() {
	SSEConnectionsActive.Dec()
}
