package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"regwatch/internal/domain/entity"
	"regwatch/internal/repository"
)

func TestSourceRepo_UpsertKeepsHealth(t *testing.T) {
	ctx := context.Background()
	repo := NewSourceRepo()

	src := &entity.FeedSource{ID: "EBA", URL: "https://eba.europa.eu/rss", Active: true}
	require.NoError(t, repo.Upsert(ctx, src))
	require.NoError(t, repo.UpdateHealth(ctx, "EBA", entity.SourceHealth{Status: entity.HealthHealthy, LastFingerprint: "H1"}))

	src.Name = "renamed"
	require.NoError(t, repo.Upsert(ctx, src))

	got, err := repo.Get(ctx, "EBA")
	require.NoError(t, err)
	assert.Equal(t, "renamed", got.Name)
	assert.Equal(t, "H1", got.Health.LastFingerprint)

	require.NoError(t, repo.Deactivate(ctx, "EBA"))
	got, _ = repo.Get(ctx, "EBA")
	assert.False(t, got.Active)

	_, err = repo.Get(ctx, "missing")
	assert.True(t, errors.Is(err, entity.ErrNotFound))
}

func TestItemRepo_StatusTransitions(t *testing.T) {
	ctx := context.Background()
	repo := NewItemRepo()
	require.NoError(t, repo.SaveBatch(ctx, []*entity.DiscoveredItem{
		{ID: "a", SubjectID: "a", Fingerprint: "f1", Status: entity.StatusPending},
	}))

	require.NoError(t, repo.UpdateStatus(ctx, "a", entity.StatusPending, entity.StatusProcessing, ""))
	require.NoError(t, repo.UpdateStatus(ctx, "a", entity.StatusProcessing, entity.StatusCompleted, ""))

	err := repo.UpdateStatus(ctx, "a", entity.StatusCompleted, entity.StatusPending, "")
	assert.ErrorIs(t, err, entity.ErrInvalidTransition)

	err = repo.UpdateStatus(ctx, "a", entity.StatusPending, entity.StatusProcessing, "")
	assert.ErrorIs(t, err, entity.ErrInvalidTransition, "stale from status is rejected")
}

func TestItemRepo_KnownFingerprintsReturnsLatestRevision(t *testing.T) {
	ctx := context.Background()
	repo := NewItemRepo()
	require.NoError(t, repo.SaveBatch(ctx, []*entity.DiscoveredItem{
		{ID: "s1", SubjectID: "s1", Fingerprint: "f1"},
		{ID: "s2", SubjectID: "s2", Fingerprint: "g1"},
	}))
	require.NoError(t, repo.SaveBatch(ctx, []*entity.DiscoveredItem{
		{ID: "s1-f2", SubjectID: "s1", Fingerprint: "f2"},
		{ID: "s1", SubjectID: "s1", Fingerprint: "ignored"},
	}))

	got, err := repo.KnownFingerprints(ctx, []string{"s1", "s3"})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"s1": "f2"}, got)
}

func TestDLQRepo_ListOrderAndFilters(t *testing.T) {
	ctx := context.Background()
	repo := NewDLQRepo()
	base := time.Now()
	require.NoError(t, repo.Save(ctx, &entity.DLQMessage{ID: "2", Topic: "a", FirstFailureAt: base.Add(time.Minute)}))
	require.NoError(t, repo.Save(ctx, &entity.DLQMessage{ID: "1", Topic: "a", FirstFailureAt: base}))
	require.NoError(t, repo.Save(ctx, &entity.DLQMessage{ID: "3", Topic: "b", FirstFailureAt: base.Add(-48 * time.Hour)}))

	all, err := repo.List(ctx, repository.DLQFilter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, []string{"3", "1", "2"}, []string{all[0].ID, all[1].ID, all[2].ID})

	onlyA, _ := repo.List(ctx, repository.DLQFilter{Topic: "a", Limit: 1})
	require.Len(t, onlyA, 1)
	assert.Equal(t, "1", onlyA[0].ID)

	counts, _ := repo.CountByTopic(ctx)
	assert.Equal(t, map[string]int{"a": 2, "b": 1}, counts)

	n, err := repo.DeleteOlderThan(ctx, base.Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	assert.ErrorIs(t, repo.Delete(ctx, "missing"), entity.ErrNotFound)
}

func TestDLQRepo_ListEligibilityFilters(t *testing.T) {
	ctx := context.Background()
	repo := NewDLQRepo()
	base := time.Now()
	require.NoError(t, repo.Save(ctx, &entity.DLQMessage{ID: "invalid", FailureKind: entity.FailureValidation, FailureCount: 1, FirstFailureAt: base}))
	require.NoError(t, repo.Save(ctx, &entity.DLQMessage{ID: "exhausted", FailureKind: entity.FailureBroker, FailureCount: 6, FirstFailureAt: base}))
	require.NoError(t, repo.Save(ctx, &entity.DLQMessage{ID: "stale", FailureKind: entity.FailureBroker, FailureCount: 1, FirstFailureAt: base.Add(-48 * time.Hour)}))
	require.NoError(t, repo.Save(ctx, &entity.DLQMessage{ID: "blocked", Dependency: "broker", FailureKind: entity.FailureBroker, FailureCount: 1, FirstFailureAt: base}))
	require.NoError(t, repo.Save(ctx, &entity.DLQMessage{ID: "ok", Dependency: "storage", FailureKind: entity.FailureStorage, FailureCount: 5, FirstFailureAt: base}))

	got, err := repo.List(ctx, repository.DLQFilter{
		ExcludeKinds:        entity.NonReplayableKinds(),
		ExcludeDependencies: []string{"broker"},
		MaxFailureCount:     5,
		FailedSince:         base.Add(-time.Hour),
	})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "ok", got[0].ID)
}

func TestDLQRepo_TrimEvictsOldestFirst(t *testing.T) {
	ctx := context.Background()
	repo := NewDLQRepo()
	base := time.Now()
	for i := 0; i < 5; i++ {
		require.NoError(t, repo.Save(ctx, &entity.DLQMessage{ID: string(rune('a' + i)), FirstFailureAt: base.Add(time.Duration(i) * time.Minute)}))
	}
	n, err := repo.Trim(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	left, _ := repo.List(ctx, repository.DLQFilter{})
	require.Len(t, left, 2)
	assert.Equal(t, []string{"d", "e"}, []string{left[0].ID, left[1].ID})

	n, err = repo.Trim(ctx, 10)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestFailureRepo_Trim(t *testing.T) {
	ctx := context.Background()
	repo := NewFailureRepo()
	for i := 0; i < 5; i++ {
		require.NoError(t, repo.Save(ctx, entity.FailureRecord{ID: string(rune('a' + i)), OccurredAt: time.Now()}))
	}
	n, err := repo.Trim(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	recs, _ := repo.ListSince(ctx, time.Time{})
	require.Len(t, recs, 2)
	assert.Equal(t, "d", recs[0].ID)
}
