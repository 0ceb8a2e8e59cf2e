package dlq

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"regwatch/internal/domain/entity"
	"regwatch/internal/messaging"
	"regwatch/internal/observability/metrics"
	"regwatch/internal/observability/tracing"
	"regwatch/internal/repository"
	"regwatch/internal/resilience/circuitbreaker"
	"regwatch/internal/resilience/failure"
)

// RecoveryPolicy decides which dead-lettered messages may be replayed.
type RecoveryPolicy struct {
	// MaxFailureCount: messages that failed more often are ineligible
	MaxFailureCount int
	// MaxAge: messages older than this are ineligible
	MaxAge time.Duration
	// BatchSize bounds messages examined per pass
	BatchSize int
	// ReplayRate limits replays per second; zero means unlimited
	ReplayRate float64
}

// DefaultRecoveryPolicy returns the default thresholds.
func DefaultRecoveryPolicy() RecoveryPolicy {
	return RecoveryPolicy{
		MaxFailureCount: 5,
		MaxAge:          7 * 24 * time.Hour,
		BatchSize:       100,
		ReplayRate:      10,
	}
}

// Ineligibility reasons.
const (
	ReasonNonReplayable = "non_replayable_kind"
	ReasonTooManyFails  = "failure_count_exceeded"
	ReasonTooOld        = "age_exceeded"
	ReasonBreakerOpen   = "breaker_not_closed"
)

// RecoveryStats summarizes one recovery pass.
type RecoveryStats struct {
	Scanned    int
	Ineligible int
	Skipped    int
	Recovered  []entity.DLQMessage
	Failed     int
}

// Recoverer replays eligible dead-lettered messages to their original topic.
type Recoverer struct {
	repo      repository.DLQRepository
	publisher messaging.Publisher
	breakers  *circuitbreaker.Registry
	policy    RecoveryPolicy
	limiter   *rate.Limiter
	logger    *slog.Logger
	now       func() time.Time
}

// RecovererOption configures a Recoverer.
type RecovererOption func(*Recoverer)

func WithPolicy(p RecoveryPolicy) RecovererOption {
	return func(r *Recoverer) { r.policy = p }
}

func WithRecovererLogger(logger *slog.Logger) RecovererOption {
	return func(r *Recoverer) { r.logger = logger }
}

func WithRecovererClock(now func() time.Time) RecovererOption {
	return func(r *Recoverer) { r.now = now }
}

// NewRecoverer creates a Recoverer.
func NewRecoverer(repo repository.DLQRepository, publisher messaging.Publisher, breakers *circuitbreaker.Registry, opts ...RecovererOption) *Recoverer {
	r := &Recoverer{
		repo:      repo,
		publisher: publisher,
		breakers:  breakers,
		policy:    DefaultRecoveryPolicy(),
		logger:    slog.Default(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.policy.ReplayRate > 0 {
		r.limiter = rate.NewLimiter(rate.Limit(r.policy.ReplayRate), 1)
	}
	return r
}

// Eligible reports whether msg may be replayed now, and if not, why.
func (r *Recoverer) Eligible(msg *entity.DLQMessage) (bool, string) {
	if !msg.FailureKind.Replayable() {
		return false, ReasonNonReplayable
	}
	if r.policy.MaxFailureCount > 0 && msg.FailureCount > r.policy.MaxFailureCount {
		return false, ReasonTooManyFails
	}
	if r.policy.MaxAge > 0 && msg.Age(r.now()) > r.policy.MaxAge {
		return false, ReasonTooOld
	}
	if r.breakers != nil && msg.Dependency != "" && !r.breakers.IsClosed(msg.Dependency) {
		return false, ReasonBreakerOpen
	}
	return true, ""
}

// candidateFilter pushes the static eligibility rules into the store query so
// a batch is never filled with messages Eligible would reject anyway.
func (r *Recoverer) candidateFilter() repository.DLQFilter {
	filter := repository.DLQFilter{
		Limit:           r.policy.BatchSize,
		ExcludeKinds:    entity.NonReplayableKinds(),
		MaxFailureCount: r.policy.MaxFailureCount,
	}
	if r.policy.MaxAge > 0 {
		filter.FailedSince = r.now().Add(-r.policy.MaxAge)
	}
	if r.breakers != nil {
		for _, snap := range r.breakers.Snapshots() {
			if snap.State != circuitbreaker.StateClosed {
				filter.ExcludeDependencies = append(filter.ExcludeDependencies, snap.Name)
			}
		}
	}
	return filter
}

// RecoverOnce examines up to BatchSize messages and replays the eligible ones.
func (r *Recoverer) RecoverOnce(ctx context.Context) RecoveryStats {
	ctx, span := tracing.GetTracer().Start(ctx, "dlq.recover")
	defer span.End()

	var stats RecoveryStats
	msgs, err := r.repo.List(ctx, r.candidateFilter())
	if err != nil {
		r.logger.Error("failed to list dead letters", slog.Any("error", err))
		return stats
	}

	for _, msg := range msgs {
		if ctx.Err() != nil {
			break
		}
		stats.Scanned++

		ok, reason := r.Eligible(msg)
		if !ok {
			if reason == ReasonBreakerOpen {
				stats.Skipped++
				metrics.RecordDLQRecovery("skipped")
			} else {
				stats.Ineligible++
				metrics.RecordDLQRecovery("ineligible")
			}
			r.logger.Debug("dead letter not replayed",
				slog.String("dlq_id", msg.ID),
				slog.String("reason", reason))
			continue
		}

		if r.limiter != nil {
			if err := r.limiter.Wait(ctx); err != nil {
				break
			}
		}

		if r.replay(ctx, msg) {
			stats.Recovered = append(stats.Recovered, *msg)
		} else {
			stats.Failed++
		}
	}

	if counts, err := r.repo.CountByTopic(ctx); err == nil {
		metrics.UpdateDLQCounts(counts)
	}
	if stats.Scanned > 0 {
		r.logger.Info("dead-letter recovery pass finished",
			slog.Int("scanned", stats.Scanned),
			slog.Int("recovered", len(stats.Recovered)),
			slog.Int("failed", stats.Failed),
			slog.Int("skipped", stats.Skipped),
			slog.Int("ineligible", stats.Ineligible))
	}
	return stats
}

func (r *Recoverer) replay(ctx context.Context, msg *entity.DLQMessage) bool {
	msg.RecoveryAttempted = true

	out := messaging.Message{Topic: msg.Topic, Key: msg.Key, Payload: msg.Payload, Headers: msg.Headers}
	publish := func(ctx context.Context) error { return r.publisher.Publish(ctx, out) }

	var err error
	if r.breakers != nil && msg.Dependency != "" {
		err = r.breakers.Get(msg.Dependency).Execute(ctx, publish)
	} else {
		err = publish(ctx)
	}

	if err == nil {
		msg.RecoverySuccessful = true
		if uerr := r.repo.Update(ctx, msg); uerr != nil {
			r.logger.Warn("failed to mark dead letter recovered", slog.String("dlq_id", msg.ID), slog.Any("error", uerr))
		}
		if derr := r.repo.Delete(ctx, msg.ID); derr != nil {
			r.logger.Error("replayed dead letter could not be removed",
				slog.String("dlq_id", msg.ID), slog.Any("error", derr))
		}
		metrics.RecordDLQRecovery("recovered")
		r.logger.Info("dead letter replayed",
			slog.String("dlq_id", msg.ID),
			slog.String("topic", msg.Topic))
		return true
	}

	msg.FailureCount++
	msg.LastFailureAt = r.now()
	msg.ErrorMessage = failure.Sanitize(err)
	if kind := failure.Classify(err); kind != entity.FailureCircuitOpen {
		msg.FailureKind = kind
	}
	if uerr := r.repo.Update(ctx, msg); uerr != nil {
		r.logger.Warn("failed to update dead letter", slog.String("dlq_id", msg.ID), slog.Any("error", uerr))
	}
	metrics.RecordDLQRecovery("failed")
	r.logger.Warn("dead letter replay failed",
		slog.String("dlq_id", msg.ID),
		slog.Int("failure_count", msg.FailureCount),
		slog.Any("error", err))
	return false
}

// Replay replays one message by id regardless of the failure-count and age
// bounds. Non-replayable kinds are still refused.
func (r *Recoverer) Replay(ctx context.Context, id string) error {
	msg, err := r.repo.Get(ctx, id)
	if err != nil {
		if errors.Is(err, entity.ErrNotFound) {
			return ErrNotFound
		}
		return err
	}
	if !msg.FailureKind.Replayable() {
		return fmt.Errorf("dead letter %s has kind %s and cannot be replayed", id, msg.FailureKind)
	}
	if !r.replay(ctx, msg) {
		return fmt.Errorf("replay of %s failed: %s", id, msg.ErrorMessage)
	}
	return nil
}

// Purge removes one message.
func (r *Recoverer) Purge(ctx context.Context, id string) error {
	if err := r.repo.Delete(ctx, id); err != nil {
		if errors.Is(err, entity.ErrNotFound) {
			return ErrNotFound
		}
		return err
	}
	return nil
}

// PurgeOlderThan removes messages whose first failure is older than age.
func (r *Recoverer) PurgeOlderThan(ctx context.Context, age time.Duration) (int64, error) {
	return r.repo.DeleteOlderThan(ctx, r.now().Add(-age))
}

// Counts returns dead-lettered message counts per original topic.
func (r *Recoverer) Counts(ctx context.Context) (map[string]int, error) {
	return r.repo.CountByTopic(ctx)
}

// List returns dead-lettered messages, optionally for one topic.
func (r *Recoverer) List(ctx context.Context, topic string, limit int) ([]*entity.DLQMessage, error) {
	return r.repo.List(ctx, repository.DLQFilter{Topic: topic, Limit: limit})
}
