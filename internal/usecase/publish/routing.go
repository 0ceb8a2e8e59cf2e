// Package publish routes, validates and publishes domain events, and consumes
// them on the downstream side.
package publish

import (
	"errors"
	"fmt"

	"regwatch/internal/domain/entity"
)

// Topics of the static routing table.
const (
	TopicDocuments     = "regwatch.documents"
	TopicSourcesHealth = "regwatch.sources.health"
	TopicAlerts        = "regwatch.alerts"
)

// Sentinel errors for publishing.
var (
	// ErrUnknownEventKind is returned for an event kind missing from the routing table.
	ErrUnknownEventKind = errors.New("unknown event kind")

	// ErrDeadLettered is returned when an event could not be published and was
	// handed to the dead-letter router instead. The event is not lost.
	ErrDeadLettered = errors.New("event dead-lettered")
)

// TopicFor returns the destination topic of an event kind.
func TopicFor(kind entity.EventKind) (string, error) {
	switch kind {
	case entity.EventRegulationCreated, entity.EventRegulationUpdated, entity.EventRegulationDeleted:
		return TopicDocuments, nil
	case entity.EventSourceHealthChanged:
		return TopicSourcesHealth, nil
	case entity.EventFailureAlert:
		return TopicAlerts, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownEventKind, kind)
}

// Topics returns every routed topic.
func Topics() []string {
	return []string{TopicDocuments, TopicSourcesHealth, TopicAlerts}
}

// PartitionKey returns the most selective identity of ev: the subject id when
// present, otherwise the event kind combined with the jurisdiction.
func PartitionKey(ev entity.RegulatoryEvent) string {
	if ev.SubjectID != "" {
		return ev.SubjectID
	}
	return string(ev.Kind) + ":" + ev.Jurisdiction
}
