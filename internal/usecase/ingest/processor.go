package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"regwatch/internal/domain/entity"
	"regwatch/internal/observability/metrics"
	"regwatch/internal/observability/tracing"
	"regwatch/internal/repository"
	"regwatch/internal/resilience/failure"
	"regwatch/internal/resilience/retry"
	"regwatch/internal/usecase/publish"
)

// ErrProcessorRejected is returned when the content processor reports
// failure without an error.
var ErrProcessorRejected = errors.New("content processor reported failure")

// ItemProcessor drives one DiscoveredItem from pending to a terminal status.
type ItemProcessor struct {
	items     repository.ItemRepository
	processor ContentProcessor
	publisher EventPublisher
	executor  *retry.Executor
	logger    *slog.Logger
	now       func() time.Time
}

// NewItemProcessor creates an ItemProcessor.
func NewItemProcessor(items repository.ItemRepository, processor ContentProcessor, publisher EventPublisher, executor *retry.Executor, logger *slog.Logger) *ItemProcessor {
	if executor == nil {
		executor = retry.NewExecutor(nil)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ItemProcessor{
		items:     items,
		processor: processor,
		publisher: publisher,
		executor:  executor,
		logger:    logger,
		now:       time.Now,
	}
}

// Process claims item, invokes the content processor and publishes the
// resulting event. Every terminal outcome is persisted; an item is never
// silently dropped.
func (w *ItemProcessor) Process(ctx context.Context, item *entity.DiscoveredItem) error {
	ctx, span := tracing.GetTracer().Start(ctx, "ingest.process")
	defer span.End()
	span.SetAttributes(
		attribute.String("item.id", item.ID),
		attribute.String("source.id", item.SourceID),
	)

	start := w.now()
	if err := w.transition(ctx, item, entity.StatusPending, entity.StatusProcessing, ""); err != nil {
		if errors.Is(err, entity.ErrInvalidTransition) {
			w.logger.Debug("item already claimed", slog.String("item_id", item.ID))
			return nil
		}
		return err
	}

	var result ProcessResult
	err := w.executor.Execute(ctx, retry.OpDocumentProcessing, func(ctx context.Context) error {
		var perr error
		result, perr = w.processor.Process(ctx, item)
		if perr == nil && !result.Success {
			perr = ErrProcessorRejected
		}
		return perr
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "processing failed")
		return w.markFailed(ctx, item, start, err)
	}

	event := NewItemEvent(item, result, w.now())
	if err := w.publisher.Publish(ctx, event); err != nil && !errors.Is(err, publish.ErrDeadLettered) {
		span.RecordError(err)
		span.SetStatus(codes.Error, "publish failed")
		return w.markFailed(ctx, item, start, fmt.Errorf("publish %s: %w", event.Kind, err))
	} else if err != nil {
		w.logger.Warn("event dead-lettered, item completed",
			slog.String("item_id", item.ID),
			slog.Any("error", err))
	}

	if err := w.transition(ctx, item, entity.StatusProcessing, entity.StatusCompleted, ""); err != nil {
		return err
	}
	metrics.RecordItemProcessed(true, w.now().Sub(start))
	w.logger.Info("item processed",
		slog.String("item_id", item.ID),
		slog.String("source_id", item.SourceID),
		slog.String("event_kind", string(event.Kind)),
		slog.Int("extracted", result.ExtractedCount))
	return nil
}

func (w *ItemProcessor) markFailed(ctx context.Context, item *entity.DiscoveredItem, start time.Time, cause error) error {
	metrics.RecordItemProcessed(false, w.now().Sub(start))
	w.logger.Error("item processing failed",
		slog.String("item_id", item.ID),
		slog.String("source_id", item.SourceID),
		slog.Any("error", cause))
	if err := w.transition(ctx, item, entity.StatusProcessing, entity.StatusFailed, failure.Sanitize(cause)); err != nil {
		return fmt.Errorf("mark item failed: %w (cause: %v)", err, cause)
	}
	return cause
}

// transition persists a status change. Terminal writes survive cancellation
// so a shutdown cannot leave a finished item in processing.
func (w *ItemProcessor) transition(ctx context.Context, item *entity.DiscoveredItem, from, to entity.ProcessingStatus, reason string) error {
	if to != entity.StatusProcessing {
		ctx = context.WithoutCancel(ctx)
	}
	err := w.executor.Execute(ctx, retry.OpPersistence, func(ctx context.Context) error {
		return w.items.UpdateStatus(ctx, item.ID, from, to, reason)
	})
	if err != nil {
		return err
	}
	item.Status = to
	item.FailureReason = reason
	return nil
}

// NewItemEvent builds the created/updated event for a processed item.
func NewItemEvent(item *entity.DiscoveredItem, result ProcessResult, now time.Time) entity.RegulatoryEvent {
	payload := map[string]any{
		"item_id":         item.ID,
		"source_id":       item.SourceID,
		"title":           item.Title,
		"url":             item.URL,
		"fingerprint":     item.Fingerprint,
		"extracted_count": result.ExtractedCount,
	}
	if item.ContentType != "" {
		payload["content_type"] = item.ContentType
	}
	if item.PublishedAt != nil {
		payload["published_at"] = item.PublishedAt.UTC().Format(time.RFC3339)
	}
	if item.UpdatedAt != nil {
		payload["updated_at"] = item.UpdatedAt.UTC().Format(time.RFC3339)
	}
	if result.Summary != "" {
		payload["summary"] = result.Summary
	}

	priority := item.Priority
	if !priority.Valid() {
		priority = entity.PriorityNormal
	}
	return entity.RegulatoryEvent{
		Kind:          item.EventKind(),
		SubjectID:     item.SubjectID,
		Jurisdiction:  item.Jurisdiction,
		Timestamp:     now,
		CorrelationID: uuid.NewString(),
		Priority:      priority,
		Payload:       payload,
		Metadata: map[string]string{
			entity.MetadataIdempotencyKey: item.SubjectID + ":" + item.Fingerprint,
		},
	}
}
