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

	// WebhooksTotal tracks inbound webhook deliveries by channel.
	WebhooksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "webhooks_received_total",
			Help: "Total inbound webhook deliveries",
		},
		[]string{"channel"},
	)

	// DuplicatesDropped tracks messages rejected by the deduplicator.
	DuplicatesDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "messages_duplicate_dropped_total",
			Help: "Inbound messages dropped as duplicates",
		},
		[]string{"channel"},
	)

	// BatchesFlushed tracks flushed message batches.
	BatchesFlushed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "message_batches_flushed_total",
			Help: "Message batches flushed to the pipeline",
		},
	)

	// BatchSize tracks the number of fragments per flushed batch.
	BatchSize = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "message_batch_size",
			Help:    "Fragments coalesced per flushed batch",
			Buckets: []float64{1, 2, 3, 5, 8, 13, 21},
		},
	)

	// ResponderDuration tracks responder call duration.
	ResponderDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "responder_run_duration_seconds",
			Help:    "Responder run duration in seconds",
			Buckets: []float64{.25, .5, 1, 2, 5, 10, 20, 30, 60},
		},
		[]string{"responder", "status"},
	)

	// ResponderTokensTotal tracks tokens consumed by responder calls.
	ResponderTokensTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "responder_tokens_total",
			Help: "Total tokens processed by responders",
		},
		[]string{"responder", "direction"},
	)

	// WindowRefreshFailures tracks service window store failures.
	WindowRefreshFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "service_window_refresh_failures_total",
			Help: "Service window refreshes that failed and degraded to closed",
		},
	)

	// ConversationTransitions tracks state machine transitions.
	ConversationTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "conversation_transitions_total",
			Help: "Conversation status transitions",
		},
		[]string{"from", "to"},
	)

	// MessagesTotal tracks appended messages by direction.
	MessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "messages_total",
			Help: "Total messages appended to conversations",
		},
		[]string{"channel", "direction"},
	)

	// HandoffsTotal tracks conversations handed to humans.
	HandoffsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "handoffs_total",
			Help: "Conversations handed off to human agents",
		},
	)

	// TransfersTotal tracks responder-to-responder transfers.
	TransfersTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "responder_transfers_total",
			Help: "Responder transfers executed by the orchestrator",
		},
	)
)

// RecordRequest records metrics for an HTTP request.
func RecordRequest(method, path, status string, duration float64) {
	RequestDuration.WithLabelValues(method, path, status).Observe(duration)
	RequestsTotal.WithLabelValues(method, path, status).Inc()
}

// RecordResponderRun records metrics for one responder invocation.
func RecordResponderRun(responder, status string, duration float64, tokensIn, tokensOut int) {
	ResponderDuration.WithLabelValues(responder, status).Observe(duration)
	ResponderTokensTotal.WithLabelValues(responder, "in").Add(float64(tokensIn))
	ResponderTokensTotal.WithLabelValues(responder, "out").Add(float64(tokensOut))
}

// RecordBatchFlush records metrics for one flushed batch.
func RecordBatchFlush(fragments int) {
	BatchesFlushed.Inc()
	BatchSize.Observe(float64(fragments))
}
