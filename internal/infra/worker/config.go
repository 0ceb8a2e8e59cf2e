package worker

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"regwatch/internal/pkg/config"
)

// WorkerConfig holds the runtime knobs of the ingestion process.
//
// Configuration sources:
//   - Environment variables (LoadConfigFromEnv)
//   - Defaults (DefaultConfig)
//
// Every field has a default, so the worker starts even when the
// environment is wrong.
type WorkerConfig struct {
	// MaxConcurrentFetches bounds in-flight feed fetches across all sources.
	// Range: 1-100, default 10
	MaxConcurrentFetches int

	// QueueSize is the capacity of the discovered-item queue.
	// Range: 1-10000, default 500
	QueueSize int

	// ProcessingWorkers is the number of item processing goroutines.
	// Range: 1-64, default 4
	ProcessingWorkers int

	// ShutdownGrace is how long in-flight items may run after shutdown starts.
	// Range: 1s-10m, default 30s
	ShutdownGrace time.Duration

	// HealthSchedule, DLQRecoverySchedule and FailureAnalysisSchedule are
	// cron specs for the background loops.
	HealthSchedule          string
	DLQRecoverySchedule     string
	FailureAnalysisSchedule string

	// NotifyMaxConcurrent bounds concurrent alert notifications.
	// Range: 1-50, default 10
	NotifyMaxConcurrent int

	// HealthPort is the port of the status server.
	// Range: 1024-65535, default 9091
	HealthPort int
}

// DefaultConfig returns the production defaults.
func DefaultConfig() WorkerConfig {
	return WorkerConfig{
		MaxConcurrentFetches:    10,
		QueueSize:               500,
		ProcessingWorkers:       4,
		ShutdownGrace:           30 * time.Second,
		HealthSchedule:          "@every 1m",
		DLQRecoverySchedule:     "@every 5m",
		FailureAnalysisSchedule: "@every 5m",
		NotifyMaxConcurrent:     10,
		HealthPort:              9091,
	}
}

// Validate checks every field and returns all problems at once.
func (c *WorkerConfig) Validate() error {
	var errs []error

	check := func(field string, err error) {
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", field, err))
		}
	}

	check("max concurrent fetches", config.ValidateIntRange(c.MaxConcurrentFetches, 1, 100))
	check("queue size", config.ValidateIntRange(c.QueueSize, 1, 10000))
	check("processing workers", config.ValidateIntRange(c.ProcessingWorkers, 1, 64))
	check("shutdown grace", config.ValidateDuration(c.ShutdownGrace, time.Second, 10*time.Minute))
	check("health schedule", config.ValidateCronSchedule(c.HealthSchedule))
	check("dlq recovery schedule", config.ValidateCronSchedule(c.DLQRecoverySchedule))
	check("failure analysis schedule", config.ValidateCronSchedule(c.FailureAnalysisSchedule))
	check("notify max concurrent", config.ValidateIntRange(c.NotifyMaxConcurrent, 1, 50))
	check("health port", config.ValidateIntRange(c.HealthPort, 1024, 65535))

	if len(errs) > 0 {
		return fmt.Errorf("validation failed: %w", errors.Join(errs...))
	}
	return nil
}

// LoadConfigFromEnv loads the worker configuration with a fail-open strategy:
// an invalid value is replaced by its default, logged and counted. It never
// returns an invalid configuration.
//
// Environment variables:
//   - INGEST_MAX_CONCURRENT_FETCHES
//   - INGEST_QUEUE_SIZE
//   - INGEST_PROCESSING_WORKERS
//   - INGEST_SHUTDOWN_GRACE
//   - INGEST_HEALTH_SCHEDULE
//   - INGEST_DLQ_RECOVERY_SCHEDULE
//   - INGEST_FAILURE_ANALYSIS_SCHEDULE
//   - NOTIFY_MAX_CONCURRENT
//   - WORKER_HEALTH_PORT
func LoadConfigFromEnv(logger *slog.Logger, metrics *WorkerMetrics) *WorkerConfig {
	cfg := DefaultConfig()
	fallbackApplied := false

	record := func(field, warning string, applied bool) {
		if !applied {
			return
		}
		fallbackApplied = true
		metrics.RecordFallback(field)
		logger.Warn("configuration fallback applied",
			slog.String("field", field),
			slog.String("warning", warning))
	}

	ints := []struct {
		field    string
		env      string
		target   *int
		min, max int
	}{
		{"max_concurrent_fetches", "INGEST_MAX_CONCURRENT_FETCHES", &cfg.MaxConcurrentFetches, 1, 100},
		{"queue_size", "INGEST_QUEUE_SIZE", &cfg.QueueSize, 1, 10000},
		{"processing_workers", "INGEST_PROCESSING_WORKERS", &cfg.ProcessingWorkers, 1, 64},
		{"notify_max_concurrent", "NOTIFY_MAX_CONCURRENT", &cfg.NotifyMaxConcurrent, 1, 50},
		{"health_port", "WORKER_HEALTH_PORT", &cfg.HealthPort, 1024, 65535},
	}
	for _, f := range ints {
		res := config.LoadEnvInt(f.env, *f.target, config.IntRange(f.min, f.max))
		*f.target = res.Value
		record(f.field, res.Warning, res.FallbackApplied)
	}

	grace := config.LoadEnvDuration("INGEST_SHUTDOWN_GRACE", cfg.ShutdownGrace, config.DurationRange(time.Second, 10*time.Minute))
	cfg.ShutdownGrace = grace.Value
	record("shutdown_grace", grace.Warning, grace.FallbackApplied)

	schedules := []struct {
		field  string
		env    string
		target *string
	}{
		{"health_schedule", "INGEST_HEALTH_SCHEDULE", &cfg.HealthSchedule},
		{"dlq_recovery_schedule", "INGEST_DLQ_RECOVERY_SCHEDULE", &cfg.DLQRecoverySchedule},
		{"failure_analysis_schedule", "INGEST_FAILURE_ANALYSIS_SCHEDULE", &cfg.FailureAnalysisSchedule},
	}
	for _, f := range schedules {
		res := config.LoadEnvWithFallback(f.env, *f.target, config.ValidateCronSchedule)
		*f.target = res.Value
		record(f.field, res.Warning, res.FallbackApplied)
	}

	metrics.SetFallbackActive(fallbackApplied)
	metrics.RecordLoadTimestamp()
	return &cfg
}
