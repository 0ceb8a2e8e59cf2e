package worker

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"regwatch/internal/pkg/config"
)

// WorkerMetrics embeds the configuration metrics and adds process-level
// gauges for the ingestion worker:
//   - worker_config_*: see config.ConfigMetrics
//   - regwatch_worker_ready: 1 once the scheduler is running
//   - regwatch_worker_started_timestamp
//   - regwatch_status_http_requests_total, regwatch_status_http_request_duration_seconds
type WorkerMetrics struct {
	*config.ConfigMetrics

	Ready            prometheus.Gauge
	StartedTimestamp prometheus.Gauge

	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
}

// NewWorkerMetrics registers the worker metrics with the default registry.
func NewWorkerMetrics() *WorkerMetrics {
	return NewWorkerMetricsWith(prometheus.DefaultRegisterer)
}

// NewWorkerMetricsWith registers the worker metrics with reg.
func NewWorkerMetricsWith(reg prometheus.Registerer) *WorkerMetrics {
	factory := promauto.With(reg)
	return &WorkerMetrics{
		ConfigMetrics: config.NewConfigMetricsWith(factory, "worker"),

		Ready: factory.NewGauge(prometheus.GaugeOpts{
			Name: "regwatch_worker_ready",
			Help: "1 when the ingestion worker is ready, 0 otherwise",
		}),

		StartedTimestamp: factory.NewGauge(prometheus.GaugeOpts{
			Name: "regwatch_worker_started_timestamp",
			Help: "Unix timestamp of the worker start",
		}),

		HTTPRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "regwatch_status_http_requests_total",
			Help: "Requests served by the status server",
		}, []string{"route", "status"}),

		HTTPRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "regwatch_status_http_request_duration_seconds",
			Help:    "Status server request latency",
			Buckets: []float64{.001, .005, .01, .05, .1, .5, 1},
		}, []string{"route"}),
	}
}

// SetReady records the readiness state.
func (m *WorkerMetrics) SetReady(ready bool) {
	if ready {
		m.Ready.Set(1)
		return
	}
	m.Ready.Set(0)
}

// RecordStart stores the current time as the start timestamp.
func (m *WorkerMetrics) RecordStart() {
	m.StartedTimestamp.SetToCurrentTime()
}

// RecordRequest counts one status server request.
func (m *WorkerMetrics) RecordRequest(route string, status int, elapsed time.Duration) {
	m.HTTPRequests.WithLabelValues(route, statusLabel(status)).Inc()
	m.HTTPRequestDuration.WithLabelValues(route).Observe(elapsed.Seconds())
}
