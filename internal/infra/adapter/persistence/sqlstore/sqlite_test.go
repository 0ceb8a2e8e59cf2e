package sqlstore_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"regwatch/internal/domain/entity"
	"regwatch/internal/infra/adapter/persistence/sqlstore"
	"regwatch/internal/infra/db"
	"regwatch/internal/repository"
)

func newSQLiteStore(t *testing.T) *sqlstore.Store {
	t.Helper()
	ctx := context.Background()
	conn, err := db.Open(ctx, "sqlite", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	require.NoError(t, db.MigrateUp(ctx, conn, "sqlite"))
	return sqlstore.New(conn, sqlstore.SQLite)
}

var base = time.Date(2026, 3, 1, 9, 0, 0, 123456789, time.UTC)

func TestSQLite_SourceRoundTrip(t *testing.T) {
	ctx := context.Background()
	repo := newSQLiteStore(t).Sources()

	src := &entity.FeedSource{
		ID: "BAFIN", Name: "BaFin", URL: "https://www.bafin.de/news", Jurisdiction: "DE",
		Format: entity.FormatHTML, PollInterval: 30 * time.Minute, Active: true, Priority: entity.PriorityHigh,
		Headers: map[string]string{"User-Agent": "regwatch"},
		Scraper: &entity.ScraperConfig{ItemSelector: "article", TitleSelector: "h2", URLSelector: "a"},
	}
	src.Health.Status = entity.HealthUnknown
	require.NoError(t, repo.Upsert(ctx, src))

	got, err := repo.Get(ctx, "BAFIN")
	require.NoError(t, err)
	if diff := cmp.Diff(src, got); diff != "" {
		t.Errorf("source mismatch (-want +got):\n%s", diff)
	}
}

func TestSQLite_UpsertKeepsHealth(t *testing.T) {
	ctx := context.Background()
	repo := newSQLiteStore(t).Sources()

	src := &entity.FeedSource{ID: "EBA", Name: "EBA", URL: "https://eba.europa.eu/rss", Jurisdiction: "EU",
		Format: entity.FormatRSS, PollInterval: time.Hour, Active: true, Priority: entity.PriorityNormal}
	require.NoError(t, repo.Upsert(ctx, src))

	var h entity.SourceHealth
	h.RecordSuccess(base, 80*time.Millisecond, "fp-1")
	require.NoError(t, repo.UpdateHealth(ctx, "EBA", h))

	src.Name = "European Banking Authority"
	src.Health = entity.SourceHealth{}
	require.NoError(t, repo.Upsert(ctx, src))

	got, err := repo.Get(ctx, "EBA")
	require.NoError(t, err)
	assert.Equal(t, "European Banking Authority", got.Name)
	assert.Equal(t, entity.HealthHealthy, got.Health.Status)
	assert.Equal(t, "fp-1", got.Health.LastFingerprint)
	require.NotNil(t, got.Health.LastSuccessAt)
	assert.True(t, base.Equal(*got.Health.LastSuccessAt))

	require.NoError(t, repo.Deactivate(ctx, "EBA"))
	list, err := repo.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.False(t, list[0].Active)

	assert.ErrorIs(t, repo.UpdateHealth(ctx, "NOPE", h), entity.ErrNotFound)
}

func testItem(id, subject, fp string, at time.Time) *entity.DiscoveredItem {
	return &entity.DiscoveredItem{
		ID: id, SubjectID: subject, SourceID: "EBA", Jurisdiction: "EU",
		Title: "Guidelines " + subject, URL: "https://eba.europa.eu/" + subject,
		Fingerprint: fp, Priority: entity.PriorityNormal, Change: entity.ChangeCreated,
		Status: entity.StatusPending, DiscoveredAt: at,
	}
}

func TestSQLite_ItemLifecycle(t *testing.T) {
	ctx := context.Background()
	repo := newSQLiteStore(t).Items()

	published := base.Add(-time.Hour)
	first := testItem("a-1", "a", "fp1", base)
	first.PublishedAt = &published
	revised := testItem("a-2", "a", "fp2", base.Add(time.Minute))
	revised.Change = entity.ChangeUpdated

	require.NoError(t, repo.SaveBatch(ctx, []*entity.DiscoveredItem{first, testItem("b-1", "b", "fpb", base)}))
	require.NoError(t, repo.SaveBatch(ctx, []*entity.DiscoveredItem{revised, first}))

	known, err := repo.KnownFingerprints(ctx, []string{"a", "b", "c"})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"a": "fp2", "b": "fpb"}, known)

	got, err := repo.Get(ctx, "a-1")
	require.NoError(t, err)
	if diff := cmp.Diff(first, got); diff != "" {
		t.Errorf("item mismatch (-want +got):\n%s", diff)
	}

	require.NoError(t, repo.UpdateStatus(ctx, "a-1", entity.StatusPending, entity.StatusProcessing, ""))
	err = repo.UpdateStatus(ctx, "a-1", entity.StatusPending, entity.StatusProcessing, "")
	assert.ErrorIs(t, err, entity.ErrInvalidTransition)
	require.NoError(t, repo.UpdateStatus(ctx, "a-1", entity.StatusProcessing, entity.StatusFailed, "HTTP 500"))

	err = repo.UpdateStatus(ctx, "missing", entity.StatusPending, entity.StatusProcessing, "")
	assert.ErrorIs(t, err, entity.ErrNotFound)

	pending, err := repo.ListByStatus(ctx, entity.StatusPending)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, "b-1", pending[0].ID)
	assert.Equal(t, "a-2", pending[1].ID)

	failed, err := repo.ListByStatus(ctx, entity.StatusFailed, entity.StatusProcessing)
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, "HTTP 500", failed[0].FailureReason)
}

func TestSQLite_SaveBatchChunks(t *testing.T) {
	ctx := context.Background()
	repo := newSQLiteStore(t).Items()

	items := make([]*entity.DiscoveredItem, 450)
	for i := range items {
		id := fmt.Sprintf("s%03d", i)
		items[i] = testItem(id, id, "fp", base)
	}
	require.NoError(t, repo.SaveBatch(ctx, items))

	pending, err := repo.ListByStatus(ctx, entity.StatusPending)
	require.NoError(t, err)
	assert.Len(t, pending, 450)
}

func TestSQLite_FailureTrimAndSnapshots(t *testing.T) {
	ctx := context.Background()
	store := newSQLiteStore(t)
	failures := store.Failures()

	for i := 0; i < 5; i++ {
		require.NoError(t, failures.Save(ctx, entity.FailureRecord{
			ID: fmt.Sprintf("f%d", i), Component: "feed_sources/EBA", Operation: "feed_poll",
			Kind: entity.FailureNetwork, Message: "HTTP 503", OccurredAt: base.Add(time.Duration(i) * time.Minute),
		}))
	}

	removed, err := failures.Trim(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, int64(2), removed)

	recent, err := failures.ListSince(ctx, base)
	require.NoError(t, err)
	require.Len(t, recent, 3)
	assert.Equal(t, "f2", recent[0].ID)
	assert.Equal(t, entity.FailureNetwork, recent[0].Kind)

	snapshots := store.Snapshots()
	_, err = snapshots.Latest(ctx)
	assert.ErrorIs(t, err, entity.ErrNotFound)

	require.NoError(t, snapshots.Save(ctx, entity.HealthSnapshot{TakenAt: base, Total: 3, Active: 2, Healthy: 1, Warning: 1, HealthyRatio: 0.5}))
	require.NoError(t, snapshots.Save(ctx, entity.HealthSnapshot{TakenAt: base.Add(time.Hour), Total: 3, Active: 2, Healthy: 2, HealthyRatio: 1}))

	latest, err := snapshots.Latest(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, latest.Healthy)
	assert.InDelta(t, 1.0, latest.HealthyRatio, 1e-9)
	assert.True(t, base.Add(time.Hour).Equal(latest.TakenAt))
}

func TestSQLite_DLQ(t *testing.T) {
	ctx := context.Background()
	repo := newSQLiteStore(t).DLQ()

	msg := &entity.DLQMessage{
		ID: "m1", Topic: "regwatch.documents", Key: "a", Payload: []byte(`{"x":1}`),
		Headers: map[string]string{"idempotency-key": "a:fp1"}, Dependency: "broker",
		FailureKind: entity.FailureBroker, ErrorMessage: "nats: timeout", FailureCount: 1,
		FirstFailureAt: base, LastFailureAt: base,
	}
	old := &entity.DLQMessage{
		ID: "m0", Topic: "regwatch.alerts", Payload: []byte(`{}`), FailureKind: entity.FailureValidation,
		FailureCount: 1, FirstFailureAt: base.Add(-10 * 24 * time.Hour), LastFailureAt: base.Add(-10 * 24 * time.Hour),
	}
	require.NoError(t, repo.Save(ctx, msg))
	require.NoError(t, repo.Save(ctx, old))

	got, err := repo.Get(ctx, "m1")
	require.NoError(t, err)
	if diff := cmp.Diff(msg, got); diff != "" {
		t.Errorf("dlq mismatch (-want +got):\n%s", diff)
	}

	got.FailureCount = 2
	got.RecoveryAttempted = true
	got.LastFailureAt = base.Add(time.Minute)
	require.NoError(t, repo.Update(ctx, got))

	list, err := repo.List(ctx, repository.DLQFilter{Topic: "regwatch.documents"})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, 2, list[0].FailureCount)
	assert.True(t, list[0].RecoveryAttempted)

	all, err := repo.List(ctx, repository.DLQFilter{Limit: 1})
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "m0", all[0].ID)

	counts, err := repo.CountByTopic(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"regwatch.documents": 1, "regwatch.alerts": 1}, counts)

	n, err := repo.DeleteOlderThan(ctx, base.Add(-7*24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	require.NoError(t, repo.Delete(ctx, "m1"))
	assert.ErrorIs(t, repo.Delete(ctx, "m1"), entity.ErrNotFound)
}

func TestSQLite_DLQ_EligibilityFilterAndTrim(t *testing.T) {
	ctx := context.Background()
	base := time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC)
	repo := newSQLiteStore(t).DLQ()

	save := func(id, dep string, kind entity.FailureKind, count int, first time.Time) {
		t.Helper()
		require.NoError(t, repo.Save(ctx, &entity.DLQMessage{
			ID: id, Topic: "t", Payload: []byte(`{}`), Dependency: dep, FailureKind: kind,
			FailureCount: count, FirstFailureAt: first, LastFailureAt: first,
		}))
	}
	for i := 0; i < 100; i++ {
		save(fmt.Sprintf("invalid-%03d", i), "", entity.FailureValidation, 1, base.Add(-time.Hour))
	}
	save("exhausted", "", entity.FailureBroker, 6, base.Add(-time.Hour))
	save("stale", "", entity.FailureBroker, 1, base.Add(-48*time.Hour))
	save("blocked", "broker", entity.FailureBroker, 1, base)
	save("ok", "storage", entity.FailureStorage, 5, base)

	got, err := repo.List(ctx, repository.DLQFilter{
		Limit:               100,
		ExcludeKinds:        entity.NonReplayableKinds(),
		ExcludeDependencies: []string{"broker"},
		MaxFailureCount:     5,
		FailedSince:         base.Add(-24 * time.Hour),
	})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "ok", got[0].ID)

	n, err := repo.Trim(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(102), n)

	left, err := repo.List(ctx, repository.DLQFilter{})
	require.NoError(t, err)
	require.Len(t, left, 2)
	assert.Equal(t, []string{"blocked", "ok"}, []string{left[0].ID, left[1].ID})
}
