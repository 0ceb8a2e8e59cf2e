package entity

import "time"

// EventKind is the closed set of events published by the pipeline.
type EventKind string

const (
	EventRegulationCreated   EventKind = "regulation.created"
	EventRegulationUpdated   EventKind = "regulation.updated"
	EventRegulationDeleted   EventKind = "regulation.deleted"
	EventSourceHealthChanged EventKind = "source.health_changed"
	EventFailureAlert        EventKind = "failure.alert"
)

// Valid reports whether k is a known event kind.
func (k EventKind) Valid() bool {
	switch k {
	case EventRegulationCreated, EventRegulationUpdated, EventRegulationDeleted,
		EventSourceHealthChanged, EventFailureAlert:
		return true
	}
	return false
}

// GlobalJurisdiction tags events that are not tied to a single regulator.
const GlobalJurisdiction = "global"

// MetadataIdempotencyKey is the metadata entry used by brokers for de-duplication.
const MetadataIdempotencyKey = "idempotency_key"

// RegulatoryEvent is the envelope published to the broker.
type RegulatoryEvent struct {
	Kind          EventKind         `json:"event_kind" validate:"required"`
	SubjectID     string            `json:"subject_id,omitempty"`
	Jurisdiction  string            `json:"jurisdiction" validate:"required"`
	Timestamp     time.Time         `json:"timestamp" validate:"required"`
	CorrelationID string            `json:"correlation_id" validate:"required"`
	Priority      Priority          `json:"priority" validate:"required,oneof=low normal high critical"`
	Payload       map[string]any    `json:"payload"`
	Metadata      map[string]string `json:"metadata,omitempty"`
}
