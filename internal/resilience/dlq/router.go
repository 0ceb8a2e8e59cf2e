// Package dlq routes undeliverable messages to per-topic dead-letter storage
// and replays them once their dependency has recovered.
package dlq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"regwatch/internal/domain/entity"
	"regwatch/internal/messaging"
	"regwatch/internal/observability/metrics"
	"regwatch/internal/repository"
	"regwatch/internal/resilience/failure"
)

// ErrNotFound is returned when a dead-lettered message does not exist.
var ErrNotFound = errors.New("dead-lettered message not found")

// Envelope is the payload published to "<topic>.dlq": the original message
// plus failure metadata.
type Envelope struct {
	ID               string             `json:"id"`
	Topic            string             `json:"topic"`
	Key              string             `json:"key"`
	Headers          map[string]string  `json:"headers,omitempty"`
	Original         json.RawMessage    `json:"original"`
	FailureKind      entity.FailureKind `json:"failure_kind"`
	ErrorMessage     string             `json:"error_message"`
	FailureCount     int                `json:"failure_count"`
	FirstFailureTime time.Time          `json:"first_failure_time"`
	LastFailureTime  time.Time          `json:"last_failure_time"`
}

// NewEnvelope wraps msg. Payloads that are not JSON are embedded as a string.
func NewEnvelope(msg *entity.DLQMessage) Envelope {
	original := json.RawMessage(msg.Payload)
	if !json.Valid(msg.Payload) {
		quoted, _ := json.Marshal(string(msg.Payload))
		original = quoted
	}
	return Envelope{
		ID:               msg.ID,
		Topic:            msg.Topic,
		Key:              msg.Key,
		Headers:          msg.Headers,
		Original:         original,
		FailureKind:      msg.FailureKind,
		ErrorMessage:     msg.ErrorMessage,
		FailureCount:     msg.FailureCount,
		FirstFailureTime: msg.FirstFailureAt,
		LastFailureTime:  msg.LastFailureAt,
	}
}

// Router persists dead-lettered messages and mirrors them to the broker.
type Router struct {
	repo      repository.DLQRepository
	publisher messaging.Publisher
	capacity  int
	logger    *slog.Logger
	now       func() time.Time
}

// DefaultCapacity bounds the stored dead letters when no capacity is configured.
const DefaultCapacity = 10000

// RouterOption configures a Router.
type RouterOption func(*Router)

// WithRouterLogger sets the logger.
func WithRouterLogger(logger *slog.Logger) RouterOption {
	return func(r *Router) { r.logger = logger }
}

// WithCapacity bounds the stored dead letters. Saving beyond n evicts the
// messages with the oldest first failure. Zero or less disables the bound.
func WithCapacity(n int) RouterOption {
	return func(r *Router) { r.capacity = n }
}

// WithRouterClock overrides time.Now.
func WithRouterClock(now func() time.Time) RouterOption {
	return func(r *Router) { r.now = now }
}

// NewRouter creates a Router. publisher may be nil to skip the broker mirror.
func NewRouter(repo repository.DLQRepository, publisher messaging.Publisher, opts ...RouterOption) *Router {
	r := &Router{
		repo:      repo,
		publisher: publisher,
		capacity:  DefaultCapacity,
		logger:    slog.Default(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Route records msg as dead-lettered after cause exhausted its retries.
// dependency names the breaker that must be closed before replay.
// Persisting is required; publishing to "<topic>.dlq" is best effort.
func (r *Router) Route(ctx context.Context, msg messaging.Message, dependency string, cause error) (*entity.DLQMessage, error) {
	now := r.now()
	dm := &entity.DLQMessage{
		ID:             uuid.NewString(),
		Topic:          msg.Topic,
		Key:            msg.Key,
		Payload:        msg.Payload,
		Headers:        msg.Headers,
		Dependency:     dependency,
		FailureKind:    failure.Classify(cause),
		FailureCount:   1,
		FirstFailureAt: now,
		LastFailureAt:  now,
	}
	if cause != nil {
		dm.ErrorMessage = failure.Sanitize(cause)
	}

	if err := r.repo.Save(ctx, dm); err != nil {
		return nil, fmt.Errorf("persist dead letter for %s: %w", msg.Topic, err)
	}
	if r.capacity > 0 {
		if n, err := r.repo.Trim(ctx, r.capacity); err != nil {
			r.logger.Warn("failed to trim dead letters", slog.Any("error", err))
		} else if n > 0 {
			r.logger.Warn("dead-letter capacity reached, evicted oldest",
				slog.Int64("evicted", n),
				slog.Int("capacity", r.capacity))
		}
	}

	r.logger.Error("message dead-lettered",
		slog.String("dlq_id", dm.ID),
		slog.String("topic", dm.Topic),
		slog.String("key", dm.Key),
		slog.String("kind", string(dm.FailureKind)),
		slog.String("error", dm.ErrorMessage))

	r.mirror(ctx, dm)
	r.refreshCounts(ctx)
	return dm, nil
}

func (r *Router) mirror(ctx context.Context, dm *entity.DLQMessage) {
	if r.publisher == nil {
		return
	}
	payload, err := json.Marshal(NewEnvelope(dm))
	if err != nil {
		r.logger.Warn("failed to encode dead-letter envelope", slog.String("dlq_id", dm.ID), slog.Any("error", err))
		return
	}
	out := messaging.Message{
		Topic:   messaging.DeadLetterTopic(dm.Topic),
		Key:     dm.Key,
		Payload: payload,
		Headers: map[string]string{
			messaging.HeaderDeadLetterID: dm.ID,
			messaging.HeaderContentType:  "application/json",
		},
	}
	if err := r.publisher.Publish(ctx, out); err != nil {
		r.logger.Warn("failed to publish dead letter, kept in storage",
			slog.String("dlq_id", dm.ID),
			slog.String("topic", out.Topic),
			slog.Any("error", err))
	}
}

func (r *Router) refreshCounts(ctx context.Context) {
	counts, err := r.repo.CountByTopic(ctx)
	if err != nil {
		r.logger.Debug("failed to count dead letters", slog.Any("error", err))
		return
	}
	metrics.UpdateDLQCounts(counts)
}
