package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Polling metrics track feed source activity
var (
	// PollsTotal counts polls by source and result (success, unchanged, failure, rejected)
	PollsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "regwatch_polls_total",
			Help: "Total number of feed polls",
		},
		[]string{"source", "result"},
	)

	// PollDuration measures time to poll a feed source
	PollDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "regwatch_poll_duration_seconds",
			Help:    "Time taken to poll a feed source",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10),
		},
		[]string{"source"},
	)

	// ItemsDiscoveredTotal counts new or changed items found per source
	ItemsDiscoveredTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "regwatch_items_discovered_total",
			Help: "Total number of discovered items",
		},
		[]string{"source", "change"},
	)

	// SourceConsecutiveFailures tracks the current failure streak per source
	SourceConsecutiveFailures = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "regwatch_source_consecutive_failures",
			Help: "Current consecutive poll failures per source",
		},
		[]string{"source"},
	)

	// SourcesByHealth tracks how many sources are in each health status
	SourcesByHealth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "regwatch_sources_health",
			Help: "Number of sources per health status",
		},
		[]string{"status"},
	)

	// SourcesHealthyRatio is the healthy/total ratio of the last aggregation
	SourcesHealthyRatio = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "regwatch_sources_healthy_ratio",
			Help: "Ratio of healthy sources to active sources",
		},
	)
)

// Processing metrics track the item queue and workers
var (
	// QueueDepth is the number of items waiting for a processing worker
	QueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "regwatch_queue_depth",
			Help: "Number of discovered items waiting in the queue",
		},
	)

	// ItemsProcessedTotal counts processed items by result (completed, failed)
	ItemsProcessedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "regwatch_items_processed_total",
			Help: "Total number of processed items",
		},
		[]string{"result"},
	)

	// ProcessingDuration measures content processor latency
	ProcessingDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "regwatch_processing_duration_seconds",
			Help:    "Time taken to process a discovered item",
			Buckets: []float64{0.1, 0.2, 0.4, 0.8, 1.6, 3.2, 6.4, 12.8, 25.6},
		},
	)
)

// Resilience metrics
var (
	// CircuitBreakerState is 0 closed, 1 half-open, 2 open
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "regwatch_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	// CircuitBreakerTransitions counts state transitions
	CircuitBreakerTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "regwatch_circuit_breaker_transitions_total",
			Help: "Total number of circuit breaker state transitions",
		},
		[]string{"name", "from", "to"},
	)

	// RetryAttemptsTotal counts retries by operation and failure kind
	RetryAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "regwatch_retry_attempts_total",
			Help: "Total number of retried attempts",
		},
		[]string{"operation", "kind"},
	)

	// FailuresTotal counts classified failures
	FailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "regwatch_failures_total",
			Help: "Total number of recorded failures",
		},
		[]string{"component", "kind"},
	)

	// FailureAlertsTotal counts high failure rate alerts
	FailureAlertsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "regwatch_failure_alerts_total",
			Help: "Total number of high failure rate alerts",
		},
		[]string{"component", "kind"},
	)
)

// Event distribution metrics
var (
	// EventsPublishedTotal counts publish outcomes (success, dead_lettered, invalid, error)
	EventsPublishedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "regwatch_events_published_total",
			Help: "Total number of events published",
		},
		[]string{"topic", "result"},
	)

	// EventsConsumedTotal counts consumed deliveries by result
	EventsConsumedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "regwatch_events_consumed_total",
			Help: "Total number of consumed events",
		},
		[]string{"topic", "result"},
	)

	// DLQMessages tracks dead-lettered messages per original topic
	DLQMessages = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "regwatch_dlq_messages",
			Help: "Number of messages in the dead-letter store per topic",
		},
		[]string{"topic"},
	)

	// DLQRecoveryTotal counts recovery outcomes (recovered, failed, ineligible, skipped)
	DLQRecoveryTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "regwatch_dlq_recovery_total",
			Help: "Total number of DLQ recovery decisions",
		},
		[]string{"result"},
	)
)
