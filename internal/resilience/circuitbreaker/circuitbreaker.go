// Package circuitbreaker provides circuit breakers for the pipeline's external
// dependencies. It uses the github.com/sony/gobreaker library for the state
// machine and adds a single-trial half-open gate, per-call timeouts and
// observable transitions.
package circuitbreaker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sony/gobreaker"

	"regwatch/internal/domain/entity"
	"regwatch/internal/observability/metrics"
)

// State mirrors the breaker states.
type State string

const (
	StateClosed   State = "closed"
	StateOpen     State = "open"
	StateHalfOpen State = "half-open"
)

func fromGobreaker(s gobreaker.State) State {
	switch s {
	case gobreaker.StateOpen:
		return StateOpen
	case gobreaker.StateHalfOpen:
		return StateHalfOpen
	default:
		return StateClosed
	}
}

func (s State) gaugeValue() float64 {
	switch s {
	case StateHalfOpen:
		return 1
	case StateOpen:
		return 2
	default:
		return 0
	}
}

// Config holds the configuration for a circuit breaker.
type Config struct {
	// Name is the circuit breaker name for logging and metrics
	Name string

	// FailureThreshold is the number of consecutive failures that opens the circuit
	FailureThreshold uint32

	// SuccessThreshold is the number of consecutive half-open successes that closes it
	SuccessThreshold uint32

	// RecoveryTimeout is how long the circuit stays open before a trial call is allowed
	RecoveryTimeout time.Duration

	// CallTimeout bounds a single call; exceeding it counts as a failure. Zero disables it.
	CallTimeout time.Duration
}

// DefaultConfig returns a default configuration for circuit breakers.
func DefaultConfig(name string) Config {
	return Config{
		Name:             name,
		FailureThreshold: 5,
		SuccessThreshold: 2,
		RecoveryTimeout:  60 * time.Second,
		CallTimeout:      30 * time.Second,
	}
}

// FeedSourceConfig returns configuration for feed source fetches.
func FeedSourceConfig(name string) Config {
	cfg := DefaultConfig(name)
	cfg.RecoveryTimeout = 5 * time.Minute
	return cfg
}

// BrokerConfig returns configuration for broker publishes.
// Fast recovery since the broker is usually local to the cluster.
func BrokerConfig() Config {
	return Config{
		Name:             "broker",
		FailureThreshold: 5,
		SuccessThreshold: 2,
		RecoveryTimeout:  30 * time.Second,
		CallTimeout:      10 * time.Second,
	}
}

// ErrCircuitOpen matches every CircuitOpenError via errors.Is.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// CircuitOpenError is returned without invoking the operation when the
// circuit rejects a call.
type CircuitOpenError struct {
	Name    string
	RetryAt time.Time
}

func (e *CircuitOpenError) Error() string {
	if e.RetryAt.IsZero() {
		return fmt.Sprintf("circuit breaker %q is open", e.Name)
	}
	return fmt.Sprintf("circuit breaker %q is open until %s", e.Name, e.RetryAt.Format(time.RFC3339))
}

func (e *CircuitOpenError) Is(target error) bool { return target == ErrCircuitOpen }

// FailureKind implements failure.Kinded.
func (e *CircuitOpenError) FailureKind() entity.FailureKind { return entity.FailureCircuitOpen }

// TimeoutError reports a call that exceeded CallTimeout.
type TimeoutError struct {
	Name    string
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("circuit breaker %q: call exceeded %s", e.Name, e.Timeout)
}

func (e *TimeoutError) FailureKind() entity.FailureKind { return entity.FailureTimeout }

// Transition is emitted on every state change.
type Transition struct {
	Name string
	From State
	To   State
	At   time.Time
}

// Snapshot is the externally visible state of a breaker.
type Snapshot struct {
	Name              string     `json:"name"`
	State             State      `json:"state"`
	FailureCount      uint32     `json:"failure_count"`
	SuccessCount      uint32     `json:"success_count"`
	LastFailureAt     *time.Time `json:"last_failure_at,omitempty"`
	NextRetryEligible *time.Time `json:"next_retry_eligible,omitempty"`
}

// CircuitBreaker wraps gobreaker.CircuitBreaker with additional functionality.
type CircuitBreaker struct {
	breaker *gobreaker.CircuitBreaker
	cfg     Config
	logger  *slog.Logger
	now     func() time.Time

	// trialInFlight is held by the single call allowed while the circuit is not closed.
	trialInFlight atomic.Bool

	mu            sync.Mutex
	lastFailureAt time.Time
	nextRetryAt   time.Time
	listeners     []func(Transition)
}

// Option configures a CircuitBreaker.
type Option func(*CircuitBreaker)

// WithLogger sets the logger used for transitions.
func WithLogger(logger *slog.Logger) Option {
	return func(cb *CircuitBreaker) { cb.logger = logger }
}

// OnTransition registers a listener called on every state change.
func OnTransition(fn func(Transition)) Option {
	return func(cb *CircuitBreaker) { cb.listeners = append(cb.listeners, fn) }
}

// New creates a new circuit breaker with the given configuration.
func New(cfg Config, opts ...Option) *CircuitBreaker {
	def := DefaultConfig(cfg.Name)
	if cfg.FailureThreshold == 0 {
		cfg.FailureThreshold = def.FailureThreshold
	}
	if cfg.SuccessThreshold == 0 {
		cfg.SuccessThreshold = def.SuccessThreshold
	}
	if cfg.RecoveryTimeout <= 0 {
		cfg.RecoveryTimeout = def.RecoveryTimeout
	}

	cb := &CircuitBreaker{
		cfg:    cfg,
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(cb)
	}

	settings := gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: cfg.SuccessThreshold,
		// Interval 0 keeps closed-state counts until a transition.
		Interval: 0,
		Timeout:  cfg.RecoveryTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.FailureThreshold
		},
		IsSuccessful: func(err error) bool {
			return err == nil
		},
		OnStateChange: cb.onStateChange,
	}
	cb.breaker = gobreaker.NewCircuitBreaker(settings)
	metrics.CircuitBreakerState.WithLabelValues(cfg.Name).Set(StateClosed.gaugeValue())
	return cb
}

func (cb *CircuitBreaker) onStateChange(name string, from, to gobreaker.State) {
	now := cb.now()
	t := Transition{Name: name, From: fromGobreaker(from), To: fromGobreaker(to), At: now}

	cb.mu.Lock()
	switch t.To {
	case StateOpen:
		cb.nextRetryAt = now.Add(cb.cfg.RecoveryTimeout)
	case StateClosed:
		cb.nextRetryAt = time.Time{}
	}
	listeners := append([]func(Transition){}, cb.listeners...)
	cb.mu.Unlock()

	cb.logger.Warn("circuit breaker state changed",
		slog.String("circuit", name),
		slog.String("from", string(t.From)),
		slog.String("to", string(t.To)))
	metrics.RecordCircuitTransition(name, string(t.From), string(t.To), t.To.gaugeValue())

	for _, fn := range listeners {
		fn(t)
	}
}

// Execute runs fn through the circuit breaker.
// If the circuit rejects the call, fn is not invoked and a *CircuitOpenError is returned.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	return cb.execute(ctx, fn, true)
}

func (cb *CircuitBreaker) execute(ctx context.Context, fn func(ctx context.Context) error, bounded bool) error {
	// A cancelled caller never reaches the breaker, so it cannot spend the
	// half-open trial call or count toward closing the circuit.
	if err := ctx.Err(); err != nil {
		return err
	}
	// State() moves an expired open circuit to half-open.
	trial := cb.breaker.State() != gobreaker.StateClosed
	if trial {
		if !cb.trialInFlight.CompareAndSwap(false, true) {
			return cb.openError()
		}
		defer cb.trialInFlight.Store(false)
	}

	var callErr error
	_, err := cb.breaker.Execute(func() (interface{}, error) {
		if bounded {
			callErr = cb.call(ctx, fn)
		} else {
			callErr = fn(ctx)
		}
		if errors.Is(callErr, context.Canceled) {
			// Cancellation says nothing about the dependency while closed,
			// but an unanswered trial call must not close the circuit.
			if trial {
				return nil, callErr
			}
			return nil, nil
		}
		if callErr != nil {
			cb.mu.Lock()
			cb.lastFailureAt = cb.now()
			cb.mu.Unlock()
		}
		return nil, callErr
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return cb.openError()
	}
	if err != nil {
		return err
	}
	return callErr
}

func (cb *CircuitBreaker) call(ctx context.Context, fn func(ctx context.Context) error) error {
	if cb.cfg.CallTimeout <= 0 {
		return fn(ctx)
	}

	callCtx, cancel := context.WithTimeout(ctx, cb.cfg.CallTimeout)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- fn(callCtx) }()

	select {
	case err := <-done:
		if err != nil && errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			return &TimeoutError{Name: cb.cfg.Name, Timeout: cb.cfg.CallTimeout}
		}
		return err
	case <-callCtx.Done():
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return &TimeoutError{Name: cb.cfg.Name, Timeout: cb.cfg.CallTimeout}
	}
}

func (cb *CircuitBreaker) openError() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return &CircuitOpenError{Name: cb.cfg.Name, RetryAt: cb.nextRetryAt}
}

// State returns the current state of the circuit breaker.
func (cb *CircuitBreaker) State() State {
	return fromGobreaker(cb.breaker.State())
}

// Name returns the name of the circuit breaker.
func (cb *CircuitBreaker) Name() string {
	return cb.cfg.Name
}

// Config returns the effective configuration.
func (cb *CircuitBreaker) Config() Config {
	return cb.cfg
}

// IsOpen returns true if the circuit breaker is in the open state.
func (cb *CircuitBreaker) IsOpen() bool {
	return cb.State() == StateOpen
}

// IsClosed returns true if the circuit breaker is in the closed state.
func (cb *CircuitBreaker) IsClosed() bool {
	return cb.State() == StateClosed
}

// Snapshot returns the current observable state.
func (cb *CircuitBreaker) Snapshot() Snapshot {
	state := cb.State()
	counts := cb.breaker.Counts()

	s := Snapshot{
		Name:         cb.cfg.Name,
		State:        state,
		FailureCount: counts.ConsecutiveFailures,
	}
	if state == StateHalfOpen {
		s.SuccessCount = counts.ConsecutiveSuccesses
	}

	cb.mu.Lock()
	defer cb.mu.Unlock()
	if !cb.lastFailureAt.IsZero() {
		t := cb.lastFailureAt
		s.LastFailureAt = &t
	}
	if state == StateOpen && !cb.nextRetryAt.IsZero() {
		t := cb.nextRetryAt
		s.NextRetryEligible = &t
	}
	return s
}
