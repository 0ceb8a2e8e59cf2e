// Package observability groups the logging, metrics and tracing infrastructure
// used by the ingestion pipeline.
//
// Subpackages:
//   - logging: slog logger construction and context propagation
//   - metrics: Prometheus collectors and recording helpers
//   - tracing: OpenTelemetry tracer access
package observability
