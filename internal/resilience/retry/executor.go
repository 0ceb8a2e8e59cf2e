package retry

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"strings"
	"time"

	"regwatch/internal/domain/entity"
	"regwatch/internal/observability/metrics"
	"regwatch/internal/resilience/circuitbreaker"
	"regwatch/internal/resilience/failure"
)

// Executor runs operations under their named retry policy and, when the
// operation is bound to a dependency, through that dependency's breaker.
type Executor struct {
	policies map[string]Policy
	bindings map[string]string
	breakers *circuitbreaker.Registry
	recorder *failure.Recorder
	logger   *slog.Logger
	sleep    func(ctx context.Context, d time.Duration) error
	random   func() float64
}

// Option configures an Executor.
type Option func(*Executor)

// WithPolicy sets the policy for an operation type.
func WithPolicy(op string, p Policy) Option {
	return func(e *Executor) { e.policies[op] = p }
}

// WithPolicies replaces all policies.
func WithPolicies(policies map[string]Policy) Option {
	return func(e *Executor) {
		e.policies = make(map[string]Policy, len(policies))
		for op, p := range policies {
			e.policies[op] = p
		}
	}
}

// WithBinding binds an operation type to a dependency breaker.
func WithBinding(op, dependency string) Option {
	return func(e *Executor) { e.bindings[op] = dependency }
}

// WithRecorder records every failed attempt.
func WithRecorder(r *failure.Recorder) Option {
	return func(e *Executor) { e.recorder = r }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Executor) { e.logger = logger }
}

// WithSleep overrides the wait between attempts.
func WithSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(e *Executor) { e.sleep = fn }
}

// WithRandom overrides the jitter source. fn must return values in [0, 1).
func WithRandom(fn func() float64) Option {
	return func(e *Executor) { e.random = fn }
}

// NewExecutor creates an Executor with the default policies and bindings.
// breakers may be nil, in which case no operation is guarded.
func NewExecutor(breakers *circuitbreaker.Registry, opts ...Option) *Executor {
	e := &Executor{
		policies: DefaultPolicies(),
		bindings: DefaultBindings(),
		breakers: breakers,
		logger:   slog.Default(),
		sleep:    sleepContext,
		// #nosec G404 -- Using math/rand is acceptable for jitter calculation.
		random: rand.Float64,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Policy returns the policy configured for op.
func (e *Executor) Policy(op string) (Policy, bool) {
	p, ok := e.policies[op]
	return p, ok
}

// Execute runs fn under the policy of op, through the breaker bound to op.
func (e *Executor) Execute(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	return e.ExecuteOn(ctx, op, e.bindings[op], fn)
}

// ExecuteOn runs fn under the policy of op through the named dependency's
// breaker, e.g. "feed_sources/EBA" for a per-source breaker. An empty
// dependency runs fn unguarded. Without a policy for op, fn runs once.
func (e *Executor) ExecuteOn(ctx context.Context, op, dependency string, fn func(ctx context.Context) error) error {
	policy, ok := e.policies[op]
	if !ok || policy.MaxAttempts < 1 {
		policy = Policy{Name: op, MaxAttempts: 1}
	}

	invoke := fn
	if dependency != "" && e.breakers != nil {
		cb := e.breakers.Get(dependency)
		invoke = func(ctx context.Context) error { return cb.Execute(ctx, fn) }
	}

	component := op
	if dependency != "" {
		component = dependency
		if i := strings.Index(dependency, "/"); i > 0 {
			component = dependency[:i]
		}
	}

	var lastErr error
	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		lastErr = invoke(ctx)
		if lastErr == nil {
			if attempt > 1 {
				e.logger.Info("operation succeeded after retry",
					slog.String("operation", op),
					slog.Int("attempt", attempt))
			}
			return nil
		}
		if ctx.Err() != nil {
			return fmt.Errorf("%s aborted: %w", op, lastErr)
		}

		kind := failure.Classify(lastErr)
		if kind != entity.FailureCircuitOpen && e.recorder != nil {
			e.recorder.Record(ctx, component, op, lastErr, attempt-1)
		}

		if !policy.ShouldRetry(kind) {
			e.logger.Warn("non-retryable error, aborting",
				slog.String("operation", op),
				slog.String("kind", string(kind)),
				slog.Int("attempt", attempt),
				slog.Any("error", lastErr))
			return lastErr
		}

		// Don't wait after last attempt
		if attempt == policy.MaxAttempts {
			break
		}

		delay := policy.Delay(attempt, e.random)
		metrics.RecordRetry(op, string(kind))
		e.logger.Warn("operation failed, retrying",
			slog.String("operation", op),
			slog.String("dependency", dependency),
			slog.String("kind", string(kind)),
			slog.Int("attempt", attempt),
			slog.Int("max_attempts", policy.MaxAttempts),
			slog.Duration("delay", delay),
			slog.Any("error", lastErr))

		if err := e.sleep(ctx, delay); err != nil {
			return fmt.Errorf("%s retry aborted: %w", op, err)
		}
	}

	if policy.MaxAttempts == 1 {
		return lastErr
	}
	return fmt.Errorf("%s: max retry attempts (%d) exceeded: %w", op, policy.MaxAttempts, lastErr)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
