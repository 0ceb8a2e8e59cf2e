package worker

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"regwatch/internal/domain/entity"
	"regwatch/internal/resilience/circuitbreaker"
)

type stubSources []entity.FeedSource

func (s stubSources) Sources() []entity.FeedSource { return s }

type stubBreakers []circuitbreaker.Snapshot

func (s stubBreakers) Snapshots() []circuitbreaker.Snapshot { return s }

type stubDLQ struct {
	counts map[string]int
	err    error
}

func (s stubDLQ) Counts(context.Context) (map[string]int, error) { return s.counts, s.err }

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestStatusServer_HealthAndReadiness(t *testing.T) {
	metrics := NewWorkerMetricsWith(prometheus.NewRegistry())
	server := NewStatusServer(":0", StatusProviders{}, metrics, nil)
	h := server.Handler()

	rec := get(t, h, "/health")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())

	rec = get(t, h, "/health/ready")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.JSONEq(t, `{"status":"not ready"}`, rec.Body.String())

	server.SetReady(true)
	rec = get(t, h, "/health/ready")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.Ready))
}

func TestStatusServer_Sources(t *testing.T) {
	polled := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	sources := stubSources{{
		ID:           "BAFIN",
		Name:         "BaFin",
		Jurisdiction: "DE",
		Active:       true,
		Headers:      map[string]string{"Authorization": "Bearer secret"},
		Health: entity.SourceHealth{
			Status:              entity.HealthError,
			ConsecutiveFailures: 5,
			TotalPolls:          5,
			LastPollAt:          &polled,
			LastError:           "HTTP 500",
			LastLatency:         1500 * time.Millisecond,
		},
	}}

	h := NewStatusServer(":0", StatusProviders{Sources: sources}, nil, nil).Handler()
	rec := get(t, h, "/status/sources")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, rec.Body.String(), "secret")

	var got []SourceStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Len(t, got, 1)
	assert.Equal(t, "BAFIN", got[0].ID)
	assert.Equal(t, entity.HealthError, got[0].Status)
	assert.Equal(t, 5, got[0].ConsecutiveFailures)
	assert.Equal(t, int64(1500), got[0].LastLatencyMillis)
}

func TestStatusServer_BreakersAndDLQ(t *testing.T) {
	retry := time.Now().Add(time.Minute)
	providers := StatusProviders{
		Breakers: stubBreakers{{Name: "feed_sources/BAFIN", State: circuitbreaker.StateOpen, FailureCount: 5, NextRetryEligible: &retry}},
		DLQ:      stubDLQ{counts: map[string]int{"regwatch.documents": 3}},
	}
	h := NewStatusServer(":0", providers, nil, nil).Handler()

	rec := get(t, h, "/status/breakers")
	require.Equal(t, http.StatusOK, rec.Code)
	var snaps []circuitbreaker.Snapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snaps))
	require.Len(t, snaps, 1)
	assert.Equal(t, circuitbreaker.StateOpen, snaps[0].State)

	rec = get(t, h, "/status/dlq")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"regwatch.documents":3}`, rec.Body.String())
}

func TestStatusServer_EmptyProviders(t *testing.T) {
	h := NewStatusServer(":0", StatusProviders{}, nil, nil).Handler()

	assert.JSONEq(t, `[]`, get(t, h, "/status/sources").Body.String())
	assert.JSONEq(t, `[]`, get(t, h, "/status/breakers").Body.String())
	assert.JSONEq(t, `{}`, get(t, h, "/status/dlq").Body.String())
}

func TestStatusServer_DLQUnavailable(t *testing.T) {
	h := NewStatusServer(":0", StatusProviders{DLQ: stubDLQ{err: errors.New("storage down")}}, nil, nil).Handler()
	assert.Equal(t, http.StatusServiceUnavailable, get(t, h, "/status/dlq").Code)
}

func TestStatusServer_MetricsAndMethods(t *testing.T) {
	h := NewStatusServer(":0", StatusProviders{}, nil, nil).Handler()
	assert.Equal(t, http.StatusOK, get(t, h, "/metrics").Code)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/status/sources", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestStatusServer_StartAndShutdown(t *testing.T) {
	server := NewStatusServer("127.0.0.1:0", StatusProviders{}, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- server.Start(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, http.ErrServerClosed)
	case <-time.After(6 * time.Second):
		t.Fatal("status server did not stop")
	}
}
