package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"regwatch/internal/observability/logging"
	"regwatch/internal/resilience/circuitbreaker"
	"regwatch/internal/resilience/failure"

	"github.com/google/uuid"
)

const (
	defaultBreakerThreshold = 5
	defaultBreakerRecovery  = 5 * time.Minute
	workerPoolTimeout       = 5 * time.Second
	notificationTimeout     = 30 * time.Second
)

// Service dispatches failure alerts to every enabled channel.
// It is a failure.AlertSink, so it can be handed to failure.NewAnalyzer.
type Service interface {
	failure.AlertSink

	// GetChannelHealth returns the breaker state of every channel.
	GetChannelHealth() []ChannelHealthStatus

	// Shutdown waits for in-flight notifications or ctx, whichever is first.
	Shutdown(ctx context.Context) error
}

// ChannelHealthStatus represents the health status of a notification channel.
type ChannelHealthStatus struct {
	Name               string     `json:"name"`
	Enabled            bool       `json:"enabled"`
	CircuitBreakerOpen bool       `json:"circuit_breaker_open"`
	DisabledUntil      *time.Time `json:"disabled_until,omitempty"`
}

type service struct {
	channels       []Channel
	breakers       map[string]*circuitbreaker.CircuitBreaker
	workerPool     chan struct{}
	wg             sync.WaitGroup
	shutdownCtx    context.Context
	shutdownCancel context.CancelFunc
	logger         *slog.Logger
	poolTimeout    time.Duration
	sendTimeout    time.Duration
}

// Option configures the notification service.
type Option func(*options)

type options struct {
	logger           *slog.Logger
	breakerThreshold uint32
	breakerRecovery  time.Duration
	poolTimeout      time.Duration
	sendTimeout      time.Duration
}

// WithLogger sets the service logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithBreaker overrides the per-channel breaker threshold and open duration.
func WithBreaker(threshold uint32, recovery time.Duration) Option {
	return func(o *options) {
		o.breakerThreshold = threshold
		o.breakerRecovery = recovery
	}
}

// WithTimeouts overrides the worker slot wait and the per-send timeout.
func WithTimeouts(pool, send time.Duration) Option {
	return func(o *options) {
		o.poolTimeout = pool
		o.sendTimeout = send
	}
}

// NewService creates a notification service for channels with at most
// maxConcurrent sends in flight.
func NewService(channels []Channel, maxConcurrent int, opts ...Option) Service {
	o := options{
		logger:           slog.Default(),
		breakerThreshold: defaultBreakerThreshold,
		breakerRecovery:  defaultBreakerRecovery,
		poolTimeout:      workerPoolTimeout,
		sendTimeout:      notificationTimeout,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}

	shutdownCtx, shutdownCancel := context.WithCancel(context.Background())
	svc := &service{
		channels:       channels,
		breakers:       make(map[string]*circuitbreaker.CircuitBreaker, len(channels)),
		workerPool:     make(chan struct{}, maxConcurrent),
		shutdownCtx:    shutdownCtx,
		shutdownCancel: shutdownCancel,
		logger:         o.logger,
		poolTimeout:    o.poolTimeout,
		sendTimeout:    o.sendTimeout,
	}

	enabled := 0
	for _, ch := range channels {
		svc.breakers[ch.Name()] = circuitbreaker.New(circuitbreaker.Config{
			Name:             "notify." + ch.Name(),
			FailureThreshold: o.breakerThreshold,
			SuccessThreshold: 1,
			RecoveryTimeout:  o.breakerRecovery,
			CallTimeout:      o.sendTimeout,
		}, circuitbreaker.WithLogger(o.logger))
		if ch.IsEnabled() {
			enabled++
		}
	}
	SetChannelsEnabled(float64(enabled))

	return svc
}

// HandleAlert implements failure.AlertSink. It never blocks on delivery and
// always returns nil; delivery failures are logged and counted.
func (s *service) HandleAlert(ctx context.Context, alert failure.Alert) error {
	if err := validateAlert(alert); err != nil {
		s.logger.Warn("invalid alert ignored",
			slog.String("component", alert.Component),
			slog.String("failure_kind", string(alert.Kind)))
		return nil
	}

	correlationID := logging.CorrelationID(ctx)
	if correlationID == "" {
		correlationID = uuid.NewString()
	}

	dispatched := 0
	for _, ch := range s.channels {
		if !ch.IsEnabled() {
			continue
		}
		dispatched++
		s.wg.Add(1)
		go s.notifyChannel(correlationID, ch, alert)
	}

	if dispatched == 0 {
		s.logger.Debug("no notification channels enabled",
			slog.String("correlation_id", correlationID),
			slog.String("component", alert.Component))
		return nil
	}

	s.logger.Info("dispatching failure alert",
		slog.String("correlation_id", correlationID),
		slog.String("component", alert.Component),
		slog.String("failure_kind", string(alert.Kind)),
		slog.Int("count", alert.Count),
		slog.Int("enabled_channels", dispatched))
	return nil
}

func (s *service) notifyChannel(correlationID string, channel Channel, alert failure.Alert) {
	defer s.wg.Done()

	activeNotifications.Inc()
	defer activeNotifications.Dec()

	logger := s.logger.With(
		slog.String("correlation_id", correlationID),
		slog.String("channel", channel.Name()))

	timer := time.NewTimer(s.poolTimeout)
	defer timer.Stop()
	select {
	case s.workerPool <- struct{}{}:
		defer func() { <-s.workerPool }()
	case <-timer.C:
		logger.Warn("notification dropped: worker pool full", slog.Any("error", ErrNotificationDropped))
		RecordDropped(channel.Name(), "pool_full")
		return
	case <-s.shutdownCtx.Done():
		RecordDropped(channel.Name(), "shutdown")
		return
	}

	ctx := logging.WithCorrelationID(s.shutdownCtx, correlationID)

	start := time.Now()
	RecordDispatch(channel.Name())
	err := s.breakers[channel.Name()].Execute(ctx, func(ctx context.Context) error {
		return safeSend(ctx, channel, alert)
	})
	duration := time.Since(start)

	switch {
	case errors.Is(err, circuitbreaker.ErrCircuitOpen):
		logger.Warn("channel temporarily disabled by circuit breaker", slog.Any("error", err))
		RecordDropped(channel.Name(), "circuit_open")
	case err != nil:
		RecordFailure(channel.Name(), duration)
		logger.Warn("channel notification failed",
			slog.String("component", alert.Component),
			slog.String("failure_kind", string(failure.Classify(err))),
			slog.Duration("send_duration", duration),
			slog.Any("error", err))
	default:
		RecordSuccess(channel.Name(), duration)
		logger.Info("channel notification sent",
			slog.String("component", alert.Component),
			slog.Duration("send_duration", duration))
	}
}

// safeSend converts a panic in the channel into an error. The breaker runs
// calls on their own goroutine, so the panic must be caught here.
func safeSend(ctx context.Context, channel Channel, alert failure.Alert) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in %s channel: %v\n%s", channel.Name(), r, debug.Stack())
		}
	}()
	return channel.Send(ctx, alert)
}

// GetChannelHealth implements Service.
func (s *service) GetChannelHealth() []ChannelHealthStatus {
	statuses := make([]ChannelHealthStatus, 0, len(s.channels))
	for _, ch := range s.channels {
		snap := s.breakers[ch.Name()].Snapshot()
		statuses = append(statuses, ChannelHealthStatus{
			Name:               ch.Name(),
			Enabled:            ch.IsEnabled(),
			CircuitBreakerOpen: snap.State == circuitbreaker.StateOpen,
			DisabledUntil:      snap.NextRetryEligible,
		})
	}
	return statuses
}

// Shutdown implements Service.
func (s *service) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down notification service")
	s.shutdownCancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("notification service shutdown complete")
		return nil
	case <-ctx.Done():
		s.logger.Warn("notification service shutdown timeout")
		return ctx.Err()
	}
}
