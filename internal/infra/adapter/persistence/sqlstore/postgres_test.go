package sqlstore

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"regwatch/internal/domain/entity"
	"regwatch/internal/resilience/circuitbreaker"
	"regwatch/internal/resilience/failure"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return New(db, Postgres), mock
}

func TestParseDialect(t *testing.T) {
	d, err := ParseDialect("pgx")
	require.NoError(t, err)
	assert.Equal(t, Postgres, d)

	d, err = ParseDialect("sqlite3")
	require.NoError(t, err)
	assert.Equal(t, SQLite, d)

	_, err = ParseDialect("mssql")
	assert.Error(t, err)
}

func TestSourceRepo_Upsert_Postgres(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec(`INSERT INTO feed_sources \(id,name,url,.+\) VALUES \(\$1,\$2,\$3,.+\) ON CONFLICT \(id\) DO UPDATE SET`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := store.Sources().Upsert(context.Background(), &entity.FeedSource{
		ID: "EBA", Name: "EBA", URL: "https://eba.europa.eu/rss", Jurisdiction: "EU",
		Format: entity.FormatRSS, PollInterval: time.Hour, Active: true, Priority: entity.PriorityHigh,
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSourceRepo_Get_Postgres(t *testing.T) {
	store, mock := newMockStore(t)

	rows := sqlmock.NewRows(sourceColumns).AddRow(
		"EBA", "European Banking Authority", "https://eba.europa.eu/rss", "EU", "rss", int64(3600000), true, "high",
		`{"Accept":"application/rss+xml"}`, nil,
		"warning", "2026-01-02T03:04:05.000000000Z", nil, int64(2),
		int64(10), int64(8), "abc", "HTTP 503", int64(120),
	)
	mock.ExpectQuery(`SELECT (.+) FROM feed_sources WHERE id = \$1`).WithArgs("EBA").WillReturnRows(rows)

	src, err := store.Sources().Get(context.Background(), "EBA")
	require.NoError(t, err)
	assert.Equal(t, time.Hour, src.PollInterval)
	assert.Equal(t, entity.HealthWarning, src.Health.Status)
	assert.Equal(t, "application/rss+xml", src.Headers["Accept"])
	assert.Nil(t, src.Scraper)
	require.NotNil(t, src.Health.LastPollAt)
	assert.Equal(t, time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC), *src.Health.LastPollAt)
	assert.Nil(t, src.Health.LastSuccessAt)
	assert.Equal(t, 120*time.Millisecond, src.Health.LastLatency)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSourceRepo_Get_NotFound(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectQuery(`SELECT (.+) FROM feed_sources`).WillReturnRows(sqlmock.NewRows(sourceColumns))

	_, err := store.Sources().Get(context.Background(), "NOPE")
	assert.ErrorIs(t, err, entity.ErrNotFound)
}

func TestSourceRepo_Deactivate_NotFound(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectExec(regexp.QuoteMeta("UPDATE feed_sources SET active = $1 WHERE id = $2")).
		WithArgs(false, "NOPE").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := store.Sources().Deactivate(context.Background(), "NOPE")
	assert.ErrorIs(t, err, entity.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestItemRepo_UpdateStatus_RejectsIllegalTransitionWithoutSQL(t *testing.T) {
	store, mock := newMockStore(t)

	err := store.Items().UpdateStatus(context.Background(), "i1", entity.StatusCompleted, entity.StatusPending, "")
	assert.ErrorIs(t, err, entity.ErrInvalidTransition)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestItemRepo_UpdateStatus_LostRace(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec(`UPDATE discovered_items SET status = \$1, failure_reason = \$2 WHERE`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`SELECT (.+) FROM discovered_items WHERE id = \$1`).
		WillReturnRows(sqlmock.NewRows(itemColumns).AddRow(
			"i1", "s1", "EBA", "EU", "Title", "https://eba.europa.eu/1", nil, nil,
			"", "fp", "normal", "created", "processing", "", "2026-01-02T03:04:05.000000000Z",
		))

	err := store.Items().UpdateStatus(context.Background(), "i1", entity.StatusPending, entity.StatusProcessing, "")
	assert.ErrorIs(t, err, entity.ErrInvalidTransition)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestItemRepo_KnownFingerprints_Postgres(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery(regexp.QuoteMeta(
		"SELECT subject_id, fingerprint FROM discovered_items WHERE subject_id IN ($1,$2) ORDER BY discovered_at ASC, id ASC",
	)).WithArgs("a", "b").WillReturnRows(sqlmock.NewRows([]string{"subject_id", "fingerprint"}).
		AddRow("a", "old").
		AddRow("a", "new"))

	known, err := store.Items().KnownFingerprints(context.Background(), []string{"a", "b"})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"a": "new"}, known)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFailureRepo_Trim_Postgres(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectExec(regexp.QuoteMeta(
		"DELETE FROM failure_records WHERE id IN (SELECT id FROM failure_records ORDER BY occurred_at DESC, id DESC OFFSET 100)",
	)).WillReturnResult(sqlmock.NewResult(0, 7))

	n, err := store.Failures().Trim(context.Background(), 100)
	require.NoError(t, err)
	assert.Equal(t, int64(7), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_ThroughDBBreaker(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	store := New(circuitbreaker.NewDBCircuitBreaker(db, nil), Postgres)
	mock.ExpectQuery(`SELECT (.+) FROM feed_sources`).WillReturnError(errors.New("connection refused"))

	_, err = store.Sources().List(context.Background())
	require.Error(t, err)
	assert.Equal(t, entity.FailureStorage, failure.Classify(err))
}
