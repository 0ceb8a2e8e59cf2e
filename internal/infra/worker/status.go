package worker

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"regwatch/internal/domain/entity"
	"regwatch/internal/resilience/circuitbreaker"
)

// SourceLister returns the configured sources with their current health.
type SourceLister interface {
	Sources() []entity.FeedSource
}

// BreakerLister returns the state of every circuit breaker.
type BreakerLister interface {
	Snapshots() []circuitbreaker.Snapshot
}

// DLQCounter returns dead-lettered message counts per topic.
type DLQCounter interface {
	Counts(ctx context.Context) (map[string]int, error)
}

// StatusProviders are the read-only data sources of the status endpoints.
// A nil provider makes its endpoint return an empty list.
type StatusProviders struct {
	Sources  SourceLister
	Breakers BreakerLister
	DLQ      DLQCounter
}

// StatusServer serves the read-only operational surface:
//   - GET /health: liveness, always 200
//   - GET /health/ready: 200 when ready, 503 otherwise
//   - GET /status/sources: per-source health
//   - GET /status/breakers: circuit breaker snapshots
//   - GET /status/dlq: dead-letter counts per topic
//   - GET /metrics: Prometheus exposition
type StatusServer struct {
	addr      string
	logger    *slog.Logger
	providers StatusProviders
	metrics   *WorkerMetrics
	isReady   atomic.Bool
	server    *http.Server
}

type healthResponse struct {
	Status string `json:"status"`
}

// SourceStatus is the JSON view of one source.
type SourceStatus struct {
	ID                  string              `json:"id"`
	Name                string              `json:"name"`
	Jurisdiction        string              `json:"jurisdiction"`
	Active              bool                `json:"active"`
	Status              entity.HealthStatus `json:"status"`
	ConsecutiveFailures int                 `json:"consecutive_failures"`
	TotalPolls          int64               `json:"total_polls"`
	SuccessfulPolls     int64               `json:"successful_polls"`
	LastPollAt          *time.Time          `json:"last_poll_at,omitempty"`
	LastSuccessAt       *time.Time          `json:"last_success_at,omitempty"`
	LastError           string              `json:"last_error,omitempty"`
	LastLatencyMillis   int64               `json:"last_latency_ms"`
}

// NewStatusServer creates a status server listening on addr. metrics may be nil.
func NewStatusServer(addr string, providers StatusProviders, metrics *WorkerMetrics, logger *slog.Logger) *StatusServer {
	if logger == nil {
		logger = slog.Default()
	}
	return &StatusServer{
		addr:      addr,
		logger:    logger,
		providers: providers,
		metrics:   metrics,
	}
}

// Handler returns the HTTP handler with all routes.
func (h *StatusServer) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", h.handleLiveness)
	mux.HandleFunc("GET /health/ready", h.handleReadiness)
	mux.HandleFunc("GET /status/sources", h.handleSources)
	mux.HandleFunc("GET /status/breakers", h.handleBreakers)
	mux.HandleFunc("GET /status/dlq", h.handleDLQ)
	mux.Handle("GET /metrics", promhttp.Handler())
	return instrument(mux, h.metrics, h.logger)
}

// Start serves until ctx is cancelled, then shuts down with a 5 second grace.
// It returns http.ErrServerClosed after a graceful shutdown.
func (h *StatusServer) Start(ctx context.Context) error {
	h.server = &http.Server{
		Addr:         h.addr,
		Handler:      h.Handler(),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errChan := make(chan error, 1)
	go func() {
		h.logger.Info("status server starting", slog.String("addr", h.addr))
		if err := h.server.ListenAndServe(); err != nil {
			errChan <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		h.logger.Info("status server shutting down")
		if err := h.server.Shutdown(shutdownCtx); err != nil {
			h.logger.Error("status server shutdown failed", slog.Any("error", err))
			return err
		}
		return http.ErrServerClosed

	case err := <-errChan:
		if !errors.Is(err, http.ErrServerClosed) {
			h.logger.Error("status server failed", slog.Any("error", err))
		}
		return err
	}
}

// SetReady sets the readiness reported by /health/ready.
func (h *StatusServer) SetReady(ready bool) {
	h.isReady.Store(ready)
	if h.metrics != nil {
		h.metrics.SetReady(ready)
	}
	h.logger.Info("status server readiness changed", slog.Bool("ready", ready))
}

func (h *StatusServer) handleLiveness(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, healthResponse{Status: "ok"})
}

func (h *StatusServer) handleReadiness(w http.ResponseWriter, r *http.Request) {
	if h.isReady.Load() {
		h.writeJSON(w, http.StatusOK, healthResponse{Status: "ok"})
		return
	}
	h.writeJSON(w, http.StatusServiceUnavailable, healthResponse{Status: "not ready"})
}

func (h *StatusServer) handleSources(w http.ResponseWriter, r *http.Request) {
	out := []SourceStatus{}
	if h.providers.Sources != nil {
		for _, src := range h.providers.Sources.Sources() {
			out = append(out, SourceStatus{
				ID:                  src.ID,
				Name:                src.Name,
				Jurisdiction:        src.Jurisdiction,
				Active:              src.Active,
				Status:              src.Health.Status,
				ConsecutiveFailures: src.Health.ConsecutiveFailures,
				TotalPolls:          src.Health.TotalPolls,
				SuccessfulPolls:     src.Health.SuccessfulPolls,
				LastPollAt:          src.Health.LastPollAt,
				LastSuccessAt:       src.Health.LastSuccessAt,
				LastError:           src.Health.LastError,
				LastLatencyMillis:   src.Health.LastLatency.Milliseconds(),
			})
		}
	}
	h.writeJSON(w, http.StatusOK, out)
}

func (h *StatusServer) handleBreakers(w http.ResponseWriter, r *http.Request) {
	out := []circuitbreaker.Snapshot{}
	if h.providers.Breakers != nil {
		out = append(out, h.providers.Breakers.Snapshots()...)
	}
	h.writeJSON(w, http.StatusOK, out)
}

func (h *StatusServer) handleDLQ(w http.ResponseWriter, r *http.Request) {
	counts := map[string]int{}
	if h.providers.DLQ != nil {
		c, err := h.providers.DLQ.Counts(r.Context())
		if err != nil {
			h.logger.Warn("dlq status unavailable", slog.Any("error", err))
			h.writeJSON(w, http.StatusServiceUnavailable, healthResponse{Status: "unavailable"})
			return
		}
		counts = c
	}
	h.writeJSON(w, http.StatusOK, counts)
}

func (h *StatusServer) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("failed to encode status response", slog.Any("error", err))
	}
}
