package failure

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"regwatch/internal/domain/entity"
	"regwatch/internal/observability/metrics"
	"regwatch/internal/repository"
)

// DefaultCapacity bounds the in-memory failure history.
const DefaultCapacity = 10000

// Recorder keeps a bounded, append-only history of classified failures and
// persists each record when a repository is configured.
type Recorder struct {
	mu       sync.Mutex
	records  []entity.FailureRecord
	capacity int

	repo   repository.FailureRepository
	logger *slog.Logger
	now    func() time.Time
}

// RecorderOption configures a Recorder.
type RecorderOption func(*Recorder)

// WithCapacity overrides the in-memory bound.
func WithCapacity(n int) RecorderOption {
	return func(r *Recorder) {
		if n > 0 {
			r.capacity = n
		}
	}
}

// WithRepository persists records as they are appended.
func WithRepository(repo repository.FailureRepository) RecorderOption {
	return func(r *Recorder) { r.repo = repo }
}

// WithRecorderLogger sets the logger.
func WithRecorderLogger(logger *slog.Logger) RecorderOption {
	return func(r *Recorder) { r.logger = logger }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) RecorderOption {
	return func(r *Recorder) { r.now = now }
}

// NewRecorder creates a Recorder.
func NewRecorder(opts ...RecorderOption) *Recorder {
	r := &Recorder{
		capacity: DefaultCapacity,
		logger:   slog.Default(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Record classifies err and appends a FailureRecord. Persistence errors are
// logged and do not fail the caller.
func (r *Recorder) Record(ctx context.Context, component, operation string, err error, retryCount int) entity.FailureRecord {
	rec := entity.FailureRecord{
		ID:         uuid.NewString(),
		Component:  component,
		Operation:  operation,
		Kind:       Classify(err),
		OccurredAt: r.now(),
		RetryCount: retryCount,
	}
	if err != nil {
		rec.Message = Sanitize(err)
	}

	r.mu.Lock()
	r.records = append(r.records, rec)
	trimmed := false
	if over := len(r.records) - r.capacity; over > 0 {
		// oldest first
		r.records = append(r.records[:0:0], r.records[over:]...)
		trimmed = true
	}
	r.mu.Unlock()

	metrics.RecordFailure(component, string(rec.Kind))

	if r.repo != nil {
		if perr := r.repo.Save(ctx, rec); perr != nil {
			r.logger.Warn("failed to persist failure record",
				slog.String("component", component),
				slog.Any("error", perr))
		} else if trimmed {
			if _, terr := r.repo.Trim(ctx, r.capacity); terr != nil {
				r.logger.Warn("failed to trim failure records", slog.Any("error", terr))
			}
		}
	}
	return rec
}

// Since returns a copy of the records that occurred at or after t.
func (r *Recorder) Since(t time.Time) []entity.FailureRecord {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]entity.FailureRecord, 0)
	for _, rec := range r.records {
		if !rec.OccurredAt.Before(t) {
			out = append(out, rec)
		}
	}
	return out
}

// Len returns the number of records held in memory.
func (r *Recorder) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.records)
}

// Load seeds the in-memory history from the repository, e.g. at startup.
func (r *Recorder) Load(ctx context.Context, since time.Time) error {
	if r.repo == nil {
		return nil
	}
	recs, err := r.repo.ListSince(ctx, since)
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(recs, r.records...)
	if over := len(r.records) - r.capacity; over > 0 {
		r.records = append(r.records[:0:0], r.records[over:]...)
	}
	return nil
}
