package schema

import (
	"encoding/json"
	"errors"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"regwatch/internal/domain/entity"
)

func encode(t *testing.T, ev entity.RegulatoryEvent) []byte {
	t.Helper()
	b, err := json.Marshal(ev)
	require.NoError(t, err)
	return b
}

func documentEvent() entity.RegulatoryEvent {
	return entity.RegulatoryEvent{
		Kind:          entity.EventRegulationCreated,
		SubjectID:     "subject-1",
		Jurisdiction:  "EU",
		Timestamp:     time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC),
		CorrelationID: "corr-1",
		Priority:      entity.PriorityHigh,
		Payload: map[string]any{
			"item_id":         "subject-1",
			"source_id":       "EBA",
			"title":           "Guidelines",
			"url":             "https://eba.europa.eu/1",
			"extracted_count": 3,
		},
	}
}

func TestNewBuiltinRegistry_Topics(t *testing.T) {
	r, err := NewBuiltinRegistry()
	require.NoError(t, err)

	topics := r.Topics()
	sort.Strings(topics)
	assert.Equal(t, []string{"regwatch.alerts", "regwatch.documents", "regwatch.sources.health"}, topics)
	assert.False(t, r.HasSchema("regwatch.other"))
}

func TestRegistry_ValidateDocument(t *testing.T) {
	r, err := NewBuiltinRegistry()
	require.NoError(t, err)

	assert.NoError(t, r.Validate("regwatch.documents", encode(t, documentEvent())))

	missing := documentEvent()
	delete(missing.Payload, "source_id")
	err = r.Validate("regwatch.documents", encode(t, missing))
	var verr *ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, "regwatch.documents", verr.Topic)
	assert.NotEmpty(t, verr.Errors)
	assert.Equal(t, entity.FailureValidation, verr.FailureKind())

	wrongKind := documentEvent()
	wrongKind.Kind = entity.EventFailureAlert
	assert.Error(t, r.Validate("regwatch.documents", encode(t, wrongKind)))

	negative := documentEvent()
	negative.Payload["extracted_count"] = -1
	assert.Error(t, r.Validate("regwatch.documents", encode(t, negative)))
}

func TestRegistry_ValidateHealthAndAlerts(t *testing.T) {
	r, err := NewBuiltinRegistry()
	require.NoError(t, err)

	health := entity.RegulatoryEvent{
		Kind:          entity.EventSourceHealthChanged,
		SubjectID:     "BAFIN",
		Jurisdiction:  "DE",
		Timestamp:     time.Now().UTC(),
		CorrelationID: "c",
		Priority:      entity.PriorityHigh,
		Payload:       map[string]any{"source_id": "BAFIN", "previous_status": "warning", "status": "error"},
	}
	assert.NoError(t, r.Validate("regwatch.sources.health", encode(t, health)))
	health.Payload["status"] = "degraded"
	assert.Error(t, r.Validate("regwatch.sources.health", encode(t, health)))

	alert := entity.RegulatoryEvent{
		Kind:          entity.EventFailureAlert,
		Jurisdiction:  entity.GlobalJurisdiction,
		Timestamp:     time.Now().UTC(),
		CorrelationID: "c",
		Priority:      entity.PriorityHigh,
		Payload:       map[string]any{"component": "feed_sources", "failure_kind": "network", "count": 7},
	}
	assert.NoError(t, r.Validate("regwatch.alerts", encode(t, alert)))
}

func TestRegistry_ValidateNonJSON(t *testing.T) {
	r, err := NewBuiltinRegistry()
	require.NoError(t, err)

	err = r.Validate("regwatch.documents", []byte("{not json"))
	var verr *ValidationError
	assert.True(t, errors.As(err, &verr))
}

func TestRegistry_RegisterAndUnknownTopic(t *testing.T) {
	r := NewRegistry()
	assert.Error(t, r.Validate("regwatch.custom", []byte(`{}`)))

	require.NoError(t, r.Register("regwatch.custom", []byte(`{"type":"object","required":["id"]}`)))
	assert.True(t, r.HasSchema("regwatch.custom"))
	assert.NoError(t, r.Validate("regwatch.custom", []byte(`{"id":1}`)))
	assert.Error(t, r.Validate("regwatch.custom", []byte(`{}`)))

	assert.Error(t, r.Register("bad", []byte(`{"type": 12}`)))
}
