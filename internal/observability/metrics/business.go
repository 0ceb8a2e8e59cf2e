package metrics

import (
	"time"
)

// RecordPoll records the outcome and duration of a single poll.
func RecordPoll(sourceID, result string, duration time.Duration, consecutiveFailures int) {
	PollsTotal.WithLabelValues(sourceID, result).Inc()
	PollDuration.WithLabelValues(sourceID).Observe(duration.Seconds())
	SourceConsecutiveFailures.WithLabelValues(sourceID).Set(float64(consecutiveFailures))
}

// RecordItemsDiscovered records items found by a poll.
func RecordItemsDiscovered(sourceID, change string, count int) {
	if count <= 0 {
		return
	}
	ItemsDiscoveredTotal.WithLabelValues(sourceID, change).Add(float64(count))
}

// RecordItemProcessed records the result of a processing worker.
func RecordItemProcessed(success bool, duration time.Duration) {
	result := "completed"
	if !success {
		result = "failed"
	}
	ItemsProcessedTotal.WithLabelValues(result).Inc()
	ProcessingDuration.Observe(duration.Seconds())
}

// UpdateSourceHealth replaces the per-status source gauges.
func UpdateSourceHealth(byStatus map[string]int, healthyRatio float64) {
	SourcesByHealth.Reset()
	for status, n := range byStatus {
		SourcesByHealth.WithLabelValues(status).Set(float64(n))
	}
	SourcesHealthyRatio.Set(healthyRatio)
}

// RecordCircuitTransition records a breaker state change. state is the numeric
// gauge value of the new state.
func RecordCircuitTransition(name, from, to string, state float64) {
	CircuitBreakerTransitions.WithLabelValues(name, from, to).Inc()
	CircuitBreakerState.WithLabelValues(name).Set(state)
}

// RecordRetry records one retried attempt.
func RecordRetry(operation, kind string) {
	RetryAttemptsTotal.WithLabelValues(operation, kind).Inc()
}

// RecordFailure records a classified failure.
func RecordFailure(component, kind string) {
	FailuresTotal.WithLabelValues(component, kind).Inc()
}

// RecordFailureAlert records an emitted high failure rate alert.
func RecordFailureAlert(component, kind string) {
	FailureAlertsTotal.WithLabelValues(component, kind).Inc()
}

// RecordPublish records an event publish outcome.
func RecordPublish(topic, result string) {
	EventsPublishedTotal.WithLabelValues(topic, result).Inc()
}

// RecordConsume records the outcome of handling one delivery.
func RecordConsume(topic, result string) {
	EventsConsumedTotal.WithLabelValues(topic, result).Inc()
}

// UpdateDLQCounts replaces the per-topic DLQ gauges.
func UpdateDLQCounts(counts map[string]int) {
	DLQMessages.Reset()
	for topic, n := range counts {
		DLQMessages.WithLabelValues(topic).Set(float64(n))
	}
}

// RecordDLQRecovery records one recovery decision.
func RecordDLQRecovery(result string) {
	DLQRecoveryTotal.WithLabelValues(result).Inc()
}
