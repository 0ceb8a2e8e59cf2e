package publish

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"regwatch/internal/domain/entity"
	"regwatch/internal/resilience/failure"
)

// AlertEvent converts a failure alert into a failure.alert event.
func AlertEvent(a failure.Alert) entity.RegulatoryEvent {
	return entity.RegulatoryEvent{
		Kind:          entity.EventFailureAlert,
		Jurisdiction:  entity.GlobalJurisdiction,
		Timestamp:     a.LastSeen,
		CorrelationID: uuid.NewString(),
		Priority:      entity.PriorityHigh,
		Payload: map[string]any{
			"component":      a.Component,
			"failure_kind":   string(a.Kind),
			"count":          a.Count,
			"window_seconds": int64(a.Window.Seconds()),
			"first_seen":     a.FirstSeen.UTC().Format(time.RFC3339),
			"last_seen":      a.LastSeen.UTC().Format(time.RFC3339),
			"sample":         a.Sample,
		},
		Metadata: map[string]string{
			entity.MetadataIdempotencyKey: fmt.Sprintf("alert:%s:%s:%d", a.Component, a.Kind, a.LastSeen.Unix()),
		},
	}
}

// AlertSink returns a failure.AlertSink that publishes alerts as events.
func (p *Publisher) AlertSink() failure.AlertSink {
	return failure.AlertSinkFunc(func(ctx context.Context, a failure.Alert) error {
		return p.Publish(ctx, AlertEvent(a))
	})
}
