package ingest

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"regwatch/internal/domain/entity"
	"regwatch/internal/infra/adapter/persistence/memory"
	"regwatch/internal/resilience/circuitbreaker"
	"regwatch/internal/resilience/failure"
	"regwatch/internal/resilience/retry"
)

type schedulerFixture struct {
	scheduler *Scheduler
	sources   *memory.SourceRepo
	items     *memory.ItemRepo
	snapshots *memory.SnapshotRepo
	fetcher   *stubFetcher
	publisher *recordingPublisher
}

func newSchedulerFixture(t *testing.T, fetcher *stubFetcher, srcs ...*entity.FeedSource) *schedulerFixture {
	t.Helper()
	ctx := context.Background()
	sources := memory.NewSourceRepo()
	for _, src := range srcs {
		require.NoError(t, src.Validate())
		require.NoError(t, sources.Upsert(ctx, src))
		require.NoError(t, sources.UpdateHealth(ctx, src.ID, src.Health))
	}
	items := memory.NewItemRepo()
	snapshots := memory.NewSnapshotRepo()
	publisher := &recordingPublisher{}
	exec := retry.NewExecutor(circuitbreaker.NewRegistry(nil),
		retry.WithPolicy(retry.OpFeedPoll, retry.Policy{Name: retry.OpFeedPoll, MaxAttempts: 1}),
		retry.WithSleep(noSleep))

	cfg := Config{Workers: 1, QueueSize: 10, ShutdownGrace: time.Second}
	s := NewScheduler(cfg, Deps{
		Sources:   sources,
		Items:     items,
		Snapshots: snapshots,
		Fetcher:   fetcher,
		Parsers:   map[entity.FeedFormat]FeedParser{entity.FormatRSS: &lineParser{}},
		Processor: &stubProcessor{},
		Publisher: publisher,
		Executor:  exec,
	})
	return &schedulerFixture{scheduler: s, sources: sources, items: items, snapshots: snapshots, fetcher: fetcher, publisher: publisher}
}

func sourceWithHealth(id string, status entity.HealthStatus, active bool) *entity.FeedSource {
	src := testSource(id)
	src.Active = active
	src.Health.Status = status
	return src
}

func TestScheduler_AggregateHealth(t *testing.T) {
	ctx := context.Background()
	f := newSchedulerFixture(t,
		&stubFetcher{responses: []stubResponse{{err: &failure.HTTPError{StatusCode: 502}}}},
		sourceWithHealth("EBA", entity.HealthHealthy, true),
		sourceWithHealth("BAFIN", entity.HealthError, true),
		sourceWithHealth("OLD", entity.HealthHealthy, false),
	)
	require.NoError(t, f.scheduler.Load(ctx))

	snap := f.scheduler.AggregateHealth(ctx)
	assert.Equal(t, 3, snap.Total)
	assert.Equal(t, 2, snap.Active)
	assert.Equal(t, 1, snap.Healthy)
	assert.Equal(t, 1, snap.Error)
	assert.InDelta(t, 0.5, snap.HealthyRatio, 1e-9)
	assert.Empty(t, f.publisher.Events(), "no status changed yet")

	latest, err := f.snapshots.Latest(ctx)
	require.NoError(t, err)
	assert.Equal(t, snap.Active, latest.Active)

	p, ok := f.scheduler.Poller("EBA")
	require.True(t, ok)
	_, err = p.Poll(ctx)
	require.Error(t, err)

	snap = f.scheduler.AggregateHealth(ctx)
	assert.Equal(t, 1, snap.Warning)
	assert.Equal(t, 0, snap.Healthy)
	assert.Zero(t, snap.HealthyRatio)

	events := f.publisher.Events()
	require.Len(t, events, 1)
	ev := events[0]
	assert.Equal(t, entity.EventSourceHealthChanged, ev.Kind)
	assert.Equal(t, "EBA", ev.SubjectID)
	assert.Equal(t, entity.PriorityNormal, ev.Priority)
	assert.Equal(t, "healthy", ev.Payload["previous_status"])
	assert.Equal(t, "warning", ev.Payload["status"])
	assert.Len(t, f.snapshots.All(), 2)
}

func TestScheduler_AggregateHealthNoActiveSources(t *testing.T) {
	f := newSchedulerFixture(t, &stubFetcher{}, sourceWithHealth("OLD", entity.HealthHealthy, false))
	require.NoError(t, f.scheduler.Load(context.Background()))

	snap := f.scheduler.AggregateHealth(context.Background())
	assert.Equal(t, 1, snap.Total)
	assert.Zero(t, snap.Active)
	assert.Zero(t, snap.HealthyRatio)
}

func TestScheduler_Sources(t *testing.T) {
	f := newSchedulerFixture(t, &stubFetcher{},
		sourceWithHealth("FCA", entity.HealthUnknown, true),
		sourceWithHealth("BAFIN", entity.HealthUnknown, false),
		sourceWithHealth("EBA", entity.HealthUnknown, true),
	)
	require.NoError(t, f.scheduler.Load(context.Background()))

	var ids []string
	for _, src := range f.scheduler.Sources() {
		ids = append(ids, src.ID)
	}
	assert.Equal(t, []string{"BAFIN", "EBA", "FCA"}, ids)

	_, ok := f.scheduler.Poller("BAFIN")
	assert.False(t, ok, "inactive sources get no poller")
}

func TestScheduler_Requeue(t *testing.T) {
	ctx := context.Background()
	f := newSchedulerFixture(t, &stubFetcher{})
	require.NoError(t, f.items.SaveBatch(ctx, []*entity.DiscoveredItem{
		{ID: "a", Status: entity.StatusPending},
		{ID: "b", Status: entity.StatusProcessing},
		{ID: "c", Status: entity.StatusCompleted},
	}))

	n, err := f.scheduler.Requeue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, 2, f.scheduler.Queue().Len())

	b, err := f.items.Get(ctx, "b")
	require.NoError(t, err)
	assert.Equal(t, entity.StatusPending, b.Status)
}

func TestScheduler_RunProcessesDiscoveredItems(t *testing.T) {
	f := newSchedulerFixture(t,
		&stubFetcher{responses: []stubResponse{{body: "Guidelines|https://eba.europa.eu/1\nQ&A|https://eba.europa.eu/2"}}},
		sourceWithHealth("EBA", entity.HealthUnknown, true),
	)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- f.scheduler.Run(ctx) }()

	require.Eventually(t, func() bool {
		return f.publisher.Count(entity.EventRegulationCreated) == 2
	}, 5*time.Second, 10*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("scheduler did not stop")
	}

	completed, err := f.items.ListByStatus(context.Background(), entity.StatusCompleted)
	require.NoError(t, err)
	assert.Len(t, completed, 2)

	stored, err := f.sources.Get(context.Background(), "EBA")
	require.NoError(t, err)
	assert.Equal(t, entity.HealthHealthy, stored.Health.Status)
}

func TestScheduler_RunRepollOfUnchangedFeedPublishesNothingNew(t *testing.T) {
	src := sourceWithHealth("EBA", entity.HealthUnknown, true)
	src.PollInterval = 20 * time.Millisecond
	f := newSchedulerFixture(t,
		&stubFetcher{responses: []stubResponse{{body: "Guidelines|https://eba.europa.eu/1\nQ&A|https://eba.europa.eu/2"}}},
		src,
	)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- f.scheduler.Run(ctx) }()

	require.Eventually(t, func() bool {
		return f.fetcher.Calls() >= 3 && f.publisher.Count(entity.EventRegulationCreated) == 2
	}, 5*time.Second, 10*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("scheduler did not stop")
	}

	assert.Equal(t, 2, f.publisher.Count(entity.EventRegulationCreated), "unchanged content must not be announced again")
	completed, err := f.items.ListByStatus(context.Background(), entity.StatusCompleted)
	require.NoError(t, err)
	assert.Len(t, completed, 2)
}

func TestScheduler_RunRejectsBadSchedule(t *testing.T) {
	f := newSchedulerFixture(t, &stubFetcher{})
	f.scheduler.cfg.HealthSchedule = "every minute"

	err := f.scheduler.Run(context.Background())
	assert.Error(t, err)
}
