package publish

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"regwatch/internal/domain/entity"
	"regwatch/internal/infra/adapter/persistence/memory"
	"regwatch/internal/messaging"
	"regwatch/internal/repository"
	"regwatch/internal/resilience/circuitbreaker"
	"regwatch/internal/resilience/dlq"
	"regwatch/internal/resilience/failure"
	"regwatch/internal/resilience/retry"
)

type failingBroker struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (b *failingBroker) Publish(context.Context, messaging.Message) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls++
	return b.err
}

type stubSchemas struct {
	topics map[string]error
}

func (s stubSchemas) HasSchema(topic string) bool {
	_, ok := s.topics[topic]
	return ok
}

func (s stubSchemas) Validate(topic string, _ []byte) error { return s.topics[topic] }

func noSleep(context.Context, time.Duration) error { return nil }

func testEvent() entity.RegulatoryEvent {
	return entity.RegulatoryEvent{
		Kind:          entity.EventRegulationCreated,
		SubjectID:     "subject-1",
		Jurisdiction:  "EU",
		Timestamp:     time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		CorrelationID: "corr-1",
		Priority:      entity.PriorityHigh,
		Payload:       map[string]any{"title": "Guidelines"},
		Metadata:      map[string]string{entity.MetadataIdempotencyKey: "subject-1:fp"},
	}
}

func TestTopicFor(t *testing.T) {
	tests := []struct {
		kind  entity.EventKind
		topic string
	}{
		{entity.EventRegulationCreated, TopicDocuments},
		{entity.EventRegulationUpdated, TopicDocuments},
		{entity.EventRegulationDeleted, TopicDocuments},
		{entity.EventSourceHealthChanged, TopicSourcesHealth},
		{entity.EventFailureAlert, TopicAlerts},
	}
	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			got, err := TopicFor(tt.kind)
			require.NoError(t, err)
			assert.Equal(t, tt.topic, got)
		})
	}

	_, err := TopicFor("regulation.archived")
	assert.ErrorIs(t, err, ErrUnknownEventKind)
}

func TestPartitionKey(t *testing.T) {
	ev := testEvent()
	assert.Equal(t, "subject-1", PartitionKey(ev))

	ev.SubjectID = ""
	assert.Equal(t, "regulation.created:EU", PartitionKey(ev))
}

func TestPublisher_Publish_Success(t *testing.T) {
	broker := messaging.NewMemoryBroker(4)
	p := NewPublisher(broker, retry.NewExecutor(nil), nil)

	require.NoError(t, p.Publish(context.Background(), testEvent()))

	msgs := broker.Published(TopicDocuments)
	require.Len(t, msgs, 1)
	msg := msgs[0]
	assert.Equal(t, "subject-1", msg.Key)
	assert.Equal(t, "regulation.created", msg.Headers[messaging.HeaderEventKind])
	assert.Equal(t, "corr-1", msg.Headers[messaging.HeaderCorrelationID])
	assert.Equal(t, "subject-1:fp", msg.Headers[messaging.HeaderIdempotencyKey])

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(msg.Payload, &decoded))
	assert.Equal(t, "regulation.created", decoded["event_kind"])
	assert.Equal(t, "EU", decoded["jurisdiction"])
	assert.Equal(t, "high", decoded["priority"])
}

func TestPublisher_Publish_DeadLettersAfterRetries(t *testing.T) {
	ctx := context.Background()
	broker := &failingBroker{err: failure.Wrap(entity.FailureBroker, errors.New("connection refused"))}
	repo := memory.NewDLQRepo()
	exec := retry.NewExecutor(circuitbreaker.NewRegistry(nil), retry.WithSleep(noSleep))
	p := NewPublisher(broker, exec, dlq.NewRouter(repo, nil))

	err := p.Publish(ctx, testEvent())
	require.ErrorIs(t, err, ErrDeadLettered)
	assert.Equal(t, retry.BrokerPublishPolicy().MaxAttempts, broker.calls)

	msgs, err := repo.List(ctx, repository.DLQFilter{})
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, 1, msgs[0].FailureCount)
	assert.Equal(t, TopicDocuments, msgs[0].Topic)
	assert.Equal(t, "subject-1", msgs[0].Key)
	assert.Equal(t, retry.DepBroker, msgs[0].Dependency)
	assert.Equal(t, entity.FailureBroker, msgs[0].FailureKind)
}

func TestPublisher_Publish_DeadLetterRecoveredAfterBrokerReturns(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewDLQRepo()
	breakers := circuitbreaker.NewRegistry(nil)
	exec := retry.NewExecutor(breakers, retry.WithSleep(noSleep))
	down := &failingBroker{err: failure.Wrap(entity.FailureBroker, errors.New("unreachable"))}

	p := NewPublisher(down, exec, dlq.NewRouter(repo, nil))
	require.ErrorIs(t, p.Publish(ctx, testEvent()), ErrDeadLettered)

	// five failed attempts trip the broker breaker, which blocks replay
	require.False(t, breakers.IsClosed(retry.DepBroker))
	up := messaging.NewMemoryBroker(4)
	skipped := dlq.NewRecoverer(repo, up, breakers).RecoverOnce(ctx)
	assert.Equal(t, 1, skipped.Skipped)
	assert.Empty(t, up.Published(TopicDocuments))

	rec := dlq.NewRecoverer(repo, up, circuitbreaker.NewRegistry(nil))
	stats := rec.RecoverOnce(ctx)
	require.Len(t, stats.Recovered, 1)
	assert.True(t, stats.Recovered[0].RecoverySuccessful)

	replayed := up.Published(TopicDocuments)
	require.Len(t, replayed, 1)
	assert.Equal(t, "subject-1", replayed[0].Key)

	counts, _ := repo.CountByTopic(ctx)
	assert.Empty(t, counts)
}

func TestPublisher_Publish_SchemaViolationIsNotReplayable(t *testing.T) {
	ctx := context.Background()
	broker := messaging.NewMemoryBroker(4)
	repo := memory.NewDLQRepo()
	schemas := stubSchemas{topics: map[string]error{TopicDocuments: errors.New("payload.title is required")}}
	p := NewPublisher(broker, retry.NewExecutor(nil), dlq.NewRouter(repo, nil), WithSchemas(schemas))

	err := p.Publish(ctx, testEvent())
	require.ErrorIs(t, err, ErrDeadLettered)
	assert.Empty(t, broker.Published(TopicDocuments))

	msgs, _ := repo.List(ctx, repository.DLQFilter{})
	require.Len(t, msgs, 1)
	assert.Equal(t, entity.FailureValidation, msgs[0].FailureKind)

	ok, reason := dlq.NewRecoverer(repo, broker, nil).Eligible(msgs[0])
	assert.False(t, ok)
	assert.Equal(t, dlq.ReasonNonReplayable, reason)
}

func TestPublisher_Publish_UnregisteredTopicSkipsValidation(t *testing.T) {
	broker := messaging.NewMemoryBroker(4)
	schemas := stubSchemas{topics: map[string]error{TopicAlerts: errors.New("never used")}}
	p := NewPublisher(broker, retry.NewExecutor(nil), nil, WithSchemas(schemas))

	require.NoError(t, p.Publish(context.Background(), testEvent()))
	assert.Len(t, broker.Published(TopicDocuments), 1)
}

func TestPublisher_Publish_InvalidEnvelope(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewDLQRepo()
	broker := messaging.NewMemoryBroker(4)
	p := NewPublisher(broker, retry.NewExecutor(nil), dlq.NewRouter(repo, nil))

	ev := testEvent()
	ev.CorrelationID = ""
	ev.Priority = "urgent"

	err := p.Publish(ctx, ev)
	require.ErrorIs(t, err, ErrDeadLettered)
	assert.Equal(t, entity.FailureValidation, failure.Classify(err))
	assert.Empty(t, broker.Published(TopicDocuments))
}

func TestPublisher_Publish_UnknownKind(t *testing.T) {
	p := NewPublisher(messaging.NewMemoryBroker(1), nil, nil)
	ev := testEvent()
	ev.Kind = "regulation.archived"

	err := p.Publish(context.Background(), ev)
	assert.ErrorIs(t, err, ErrUnknownEventKind)
}

func TestPublisher_Publish_NoRouterReturnsCause(t *testing.T) {
	broker := &failingBroker{err: failure.Wrap(entity.FailureAuth, errors.New("not authorized"))}
	p := NewPublisher(broker, retry.NewExecutor(nil, retry.WithSleep(noSleep)), nil)

	err := p.Publish(context.Background(), testEvent())
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrDeadLettered)
	assert.Equal(t, 1, broker.calls, "auth failures are not retried")
}

func TestPublisher_AlertSink(t *testing.T) {
	broker := messaging.NewMemoryBroker(4)
	p := NewPublisher(broker, nil, nil)
	now := time.Now()

	err := p.AlertSink().HandleAlert(context.Background(), failure.Alert{
		Component: "feed_sources", Kind: entity.FailureNetwork, Count: 7,
		Window: time.Hour, FirstSeen: now.Add(-time.Minute), LastSeen: now,
	})
	require.NoError(t, err)

	msgs := broker.Published(TopicAlerts)
	require.Len(t, msgs, 1)
	assert.Equal(t, "failure.alert:global", msgs[0].Key)
	assert.Equal(t, "high", msgs[0].Headers[messaging.HeaderPriority])
}
