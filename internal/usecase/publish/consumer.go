package publish

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"regwatch/internal/domain/entity"
	"regwatch/internal/messaging"
	"regwatch/internal/observability/logging"
	"regwatch/internal/observability/metrics"
	"regwatch/internal/resilience/dlq"
	"regwatch/internal/resilience/failure"
	"regwatch/internal/resilience/retry"
)

// Consumer subscribes to published events, invalidates dependent caches and
// triggers recompilation.
type Consumer struct {
	subscriber messaging.Subscriber
	topics     []string
	cache      Cache
	recompiler Recompiler
	executor   *retry.Executor
	router     *dlq.Router
	logger     *slog.Logger
}

// ConsumerOption configures a Consumer.
type ConsumerOption func(*Consumer)

// WithTopics overrides the subscribed topics (default: the documents topic).
func WithTopics(topics ...string) ConsumerOption {
	return func(c *Consumer) { c.topics = topics }
}

// WithConsumerLogger sets the logger.
func WithConsumerLogger(logger *slog.Logger) ConsumerOption {
	return func(c *Consumer) { c.logger = logger }
}

// NewConsumer creates a Consumer. cache and router may be nil.
func NewConsumer(subscriber messaging.Subscriber, cache Cache, recompiler Recompiler, executor *retry.Executor, router *dlq.Router, opts ...ConsumerOption) *Consumer {
	if executor == nil {
		executor = retry.NewExecutor(nil)
	}
	if recompiler == nil {
		recompiler = LogRecompiler{}
	}
	c := &Consumer{
		subscriber: subscriber,
		topics:     []string{TopicDocuments},
		cache:      cache,
		recompiler: recompiler,
		executor:   executor,
		router:     router,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Run consumes deliveries until ctx is cancelled.
func (c *Consumer) Run(ctx context.Context) error {
	deliveries, err := c.subscriber.Subscribe(ctx, c.topics)
	if err != nil {
		return fmt.Errorf("subscribe %v: %w", c.topics, err)
	}
	c.logger.Info("event consumer started", slog.Any("topics", c.topics))

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("event consumer stopped")
			return nil
		case d, ok := <-deliveries:
			if !ok {
				return nil
			}
			c.Handle(ctx, d)
		}
	}
}

// Handle processes one delivery. A delivery is committed once it was handled
// or dead-lettered; otherwise it is left for redelivery.
func (c *Consumer) Handle(ctx context.Context, d messaging.Delivery) {
	var ev entity.RegulatoryEvent
	if err := json.Unmarshal(d.Payload, &ev); err != nil {
		metrics.RecordConsume(d.Topic, "undecodable")
		c.deadLetterAndCommit(ctx, d, "", failure.Wrap(entity.FailureParsing, fmt.Errorf("decode event: %w", err)))
		return
	}

	logger := c.logger.With(
		slog.String("topic", d.Topic),
		slog.String("event_kind", string(ev.Kind)),
		slog.String("subject_id", ev.SubjectID))
	ctx = logging.WithCorrelationID(logging.WithLogger(ctx, logger), ev.CorrelationID)
	logger = logging.FromContext(ctx)

	switch ev.Kind {
	case entity.EventRegulationCreated, entity.EventRegulationUpdated, entity.EventRegulationDeleted:
		c.invalidate(ev.Jurisdiction)
		err := c.executor.Execute(ctx, retry.OpEventConsume, func(ctx context.Context) error {
			return c.recompiler.Recompile(ctx, ev)
		})
		if err != nil {
			metrics.RecordConsume(d.Topic, "failed")
			logger.Error("recompilation failed", slog.Any("error", err))
			c.deadLetterAndCommit(ctx, d, retry.DepRecompiler, err)
			return
		}
	case entity.EventSourceHealthChanged, entity.EventFailureAlert:
		logger.Debug("informational event ignored")
	default:
		logger.Warn("unknown event kind ignored")
	}

	if err := d.Commit(ctx); err != nil {
		logger.Warn("failed to commit delivery", slog.Any("error", err))
		return
	}
	metrics.RecordConsume(d.Topic, "success")
}

func (c *Consumer) invalidate(jurisdiction string) {
	if c.cache == nil {
		return
	}
	if jurisdiction == "" || jurisdiction == entity.GlobalJurisdiction {
		c.cache.InvalidateAll()
		return
	}
	c.cache.Invalidate(jurisdiction)
}

func (c *Consumer) deadLetterAndCommit(ctx context.Context, d messaging.Delivery, dependency string, cause error) {
	if c.router != nil {
		if _, err := c.router.Route(ctx, d.Message, dependency, cause); err != nil {
			// left uncommitted for redelivery
			c.logger.Error("failed to dead-letter delivery",
				slog.String("topic", d.Topic),
				slog.Any("error", err))
			return
		}
	} else {
		c.logger.Error("dropping unprocessable delivery without dead-letter router",
			slog.String("topic", d.Topic),
			slog.Any("error", cause))
	}
	if err := d.Commit(ctx); err != nil {
		c.logger.Warn("failed to commit delivery", slog.String("topic", d.Topic), slog.Any("error", err))
	}
}
