package publish

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/go-playground/validator/v10"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"regwatch/internal/domain/entity"
	"regwatch/internal/messaging"
	"regwatch/internal/observability/metrics"
	"regwatch/internal/observability/tracing"
	"regwatch/internal/resilience/dlq"
	"regwatch/internal/resilience/failure"
	"regwatch/internal/resilience/retry"
)

// SchemaValidator validates serialized events against per-topic schemas.
type SchemaValidator interface {
	HasSchema(topic string) bool
	Validate(topic string, payload []byte) error
}

// Publisher validates, routes and publishes events. Publishes that exhaust
// the broker policy are handed to the dead-letter router.
type Publisher struct {
	broker   messaging.Publisher
	schemas  SchemaValidator
	executor *retry.Executor
	router   *dlq.Router
	validate *validator.Validate
	logger   *slog.Logger
}

// Option configures a Publisher.
type Option func(*Publisher)

// WithSchemas enables per-topic payload validation.
func WithSchemas(s SchemaValidator) Option {
	return func(p *Publisher) { p.schemas = s }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Publisher) { p.logger = logger }
}

// NewPublisher creates a Publisher. router may be nil, in which case
// exhausted publishes are returned as errors.
func NewPublisher(broker messaging.Publisher, executor *retry.Executor, router *dlq.Router, opts ...Option) *Publisher {
	if executor == nil {
		executor = retry.NewExecutor(nil)
	}
	p := &Publisher{
		broker:   broker,
		executor: executor,
		router:   router,
		validate: validator.New(),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Publish sends ev to its topic. It returns nil once the broker acknowledged
// the message, an error wrapping ErrDeadLettered when the event went to the
// dead-letter router, and any other error when even that failed.
func (p *Publisher) Publish(ctx context.Context, ev entity.RegulatoryEvent) error {
	ctx, span := tracing.GetTracer().Start(ctx, "publish.event")
	defer span.End()
	span.SetAttributes(attribute.String("event.kind", string(ev.Kind)))

	topic, err := TopicFor(ev.Kind)
	if err != nil {
		span.SetStatus(codes.Error, "unroutable event")
		return failure.Wrap(entity.FailureValidation, err)
	}
	span.SetAttributes(attribute.String("messaging.destination", topic))

	msg, err := p.encode(topic, ev)
	if err != nil {
		span.SetStatus(codes.Error, "encode failed")
		return err
	}

	if verr := p.check(topic, ev, msg.Payload); verr != nil {
		metrics.RecordPublish(topic, "invalid")
		span.RecordError(verr)
		return p.deadLetter(ctx, msg, "", verr)
	}

	err = p.executor.Execute(ctx, retry.OpBrokerPublish, func(ctx context.Context) error {
		return p.broker.Publish(ctx, msg)
	})
	if err == nil {
		metrics.RecordPublish(topic, "success")
		p.logger.Debug("event published",
			slog.String("topic", topic),
			slog.String("key", msg.Key),
			slog.String("event_kind", string(ev.Kind)),
			slog.String("correlation_id", ev.CorrelationID))
		return nil
	}
	if ctx.Err() != nil {
		return err
	}

	span.RecordError(err)
	span.SetStatus(codes.Error, "publish failed")
	metrics.RecordPublish(topic, "failed")
	return p.deadLetter(ctx, msg, retry.DepBroker, err)
}

func (p *Publisher) encode(topic string, ev entity.RegulatoryEvent) (messaging.Message, error) {
	payload, err := json.Marshal(ev)
	if err != nil {
		return messaging.Message{}, failure.Wrap(entity.FailureValidation, fmt.Errorf("encode %s event: %w", ev.Kind, err))
	}
	headers := map[string]string{
		messaging.HeaderEventKind:     string(ev.Kind),
		messaging.HeaderCorrelationID: ev.CorrelationID,
		messaging.HeaderPriority:      string(ev.Priority),
		messaging.HeaderContentType:   "application/json",
	}
	key := PartitionKey(ev)
	headers[messaging.HeaderPartitionKey] = key
	if idem := ev.Metadata[entity.MetadataIdempotencyKey]; idem != "" {
		headers[messaging.HeaderIdempotencyKey] = idem
	}
	return messaging.Message{Topic: topic, Key: key, Payload: payload, Headers: headers}, nil
}

// check validates the envelope and, when the topic has one, its schema.
func (p *Publisher) check(topic string, ev entity.RegulatoryEvent, payload []byte) error {
	if err := p.validate.Struct(ev); err != nil {
		return failure.Wrap(entity.FailureValidation, fmt.Errorf("invalid event envelope: %w", err))
	}
	if p.schemas == nil || !p.schemas.HasSchema(topic) {
		p.logger.Warn("no schema registered for topic, skipping validation", slog.String("topic", topic))
		return nil
	}
	if err := p.schemas.Validate(topic, payload); err != nil {
		return failure.Wrap(entity.FailureValidation, err)
	}
	return nil
}

func (p *Publisher) deadLetter(ctx context.Context, msg messaging.Message, dependency string, cause error) error {
	if p.router == nil {
		return cause
	}
	dm, err := p.router.Route(ctx, msg, dependency, cause)
	if err != nil {
		p.logger.Error("event lost: publish and dead-letter both failed",
			slog.String("topic", msg.Topic),
			slog.String("key", msg.Key),
			slog.Any("publish_error", cause),
			slog.Any("dlq_error", err))
		return errors.Join(cause, err)
	}
	metrics.RecordPublish(msg.Topic, "dead_lettered")
	return fmt.Errorf("%w as %s: %w", ErrDeadLettered, dm.ID, cause)
}
