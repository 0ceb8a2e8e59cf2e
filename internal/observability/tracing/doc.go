// Package tracing provides the OpenTelemetry tracer shared by the pipeline.
//
// Spans are created around polls, item processing, event publishing and DLQ
// recovery. Without a configured TracerProvider the global no-op provider is used.
package tracing
