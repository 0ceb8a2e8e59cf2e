// Package metrics provides Prometheus metrics registry and recording utilities.
//
// This package centralizes all pipeline metrics including:
//   - Feed polling (duration, results, discovered items, source health)
//   - Resilience (circuit breaker state, retries, classified failures, alerts)
//   - Event distribution (publish results, DLQ depth and recovery, consumption)
//
// All metrics are automatically registered with the Prometheus default registry
// via promauto and exposed by the worker status server on /metrics.
package metrics
