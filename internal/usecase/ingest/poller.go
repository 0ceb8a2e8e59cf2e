package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/semaphore"

	"regwatch/internal/domain/entity"
	"regwatch/internal/observability/metrics"
	"regwatch/internal/observability/tracing"
	"regwatch/internal/repository"
	"regwatch/internal/resilience/failure"
	"regwatch/internal/resilience/retry"
)

// pollJitter is the fraction by which poll intervals are randomized.
const pollJitter = 0.10

// PollResult summarizes one poll of a source.
type PollResult struct {
	SourceID    string
	Unchanged   bool
	NewItems    int
	Updated     int
	Fingerprint string
	Latency     time.Duration
	Items       []*entity.DiscoveredItem
}

// Poller owns one feed source. It is the only writer of the source's health,
// and its polls never overlap.
type Poller struct {
	pollMu sync.Mutex

	// mu guards source for readers outside the poll loop.
	mu     sync.RWMutex
	source *entity.FeedSource

	fetcher        FeedFetcher
	parsers        map[entity.FeedFormat]FeedParser
	detector       *ChangeDetector
	executor       *retry.Executor
	limiter        *semaphore.Weighted
	queue          *Queue
	sources        repository.SourceRepository
	items          repository.ItemRepository
	recorder       *failure.Recorder
	errorThreshold int
	logger         *slog.Logger
	now            func() time.Time
	random         func() float64
}

// PollerDeps carries the collaborators shared by all pollers.
type PollerDeps struct {
	Fetcher        FeedFetcher
	Parsers        map[entity.FeedFormat]FeedParser
	Executor       *retry.Executor
	Limiter        *semaphore.Weighted
	Queue          *Queue
	Sources        repository.SourceRepository
	Items          repository.ItemRepository
	Recorder       *failure.Recorder
	ErrorThreshold int
	Logger         *slog.Logger
	Now            func() time.Time
	Random         func() float64
}

// NewPoller creates the poller for src. src is copied; later changes to it
// are not observed.
func NewPoller(src *entity.FeedSource, deps PollerDeps) *Poller {
	p := &Poller{
		source:         src.Clone(),
		fetcher:        deps.Fetcher,
		parsers:        deps.Parsers,
		detector:       NewChangeDetector(deps.Items),
		executor:       deps.Executor,
		limiter:        deps.Limiter,
		queue:          deps.Queue,
		sources:        deps.Sources,
		items:          deps.Items,
		recorder:       deps.Recorder,
		errorThreshold: deps.ErrorThreshold,
		logger:         deps.Logger,
		now:            deps.Now,
		random:         deps.Random,
	}
	if p.executor == nil {
		p.executor = retry.NewExecutor(nil)
	}
	if p.errorThreshold <= 0 {
		p.errorThreshold = entity.DefaultErrorThreshold
	}
	if p.logger == nil {
		p.logger = slog.Default()
	}
	if p.now == nil {
		p.now = time.Now
	}
	if p.random == nil {
		// #nosec G404 -- jitter does not need a cryptographic source.
		p.random = rand.Float64
	}
	return p
}

// Source returns a snapshot of the source including its health.
func (p *Poller) Source() *entity.FeedSource {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.source.Clone()
}

// BreakerName is the circuit breaker guarding this source's fetches.
func (p *Poller) BreakerName() string {
	return retry.DepFeedSources + "/" + p.source.ID
}

// Run polls until ctx is cancelled, sleeping the interval with ±10% jitter
// between polls regardless of the outcome.
func (p *Poller) Run(ctx context.Context) {
	logger := p.logger.With(slog.String("source_id", p.source.ID))
	logger.Info("poller started", slog.Duration("interval", p.source.PollInterval))
	defer logger.Info("poller stopped")

	for {
		if _, err := p.Poll(ctx); err != nil && ctx.Err() == nil {
			logger.Warn("poll failed", slog.Any("error", err))
		}

		timer := time.NewTimer(NextPollDelay(p.source.PollInterval, p.random))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

// NextPollDelay returns interval scaled by a random factor in [0.9, 1.1).
func NextPollDelay(interval time.Duration, random func() float64) time.Duration {
	factor := 1 - pollJitter + 2*pollJitter*random()
	return time.Duration(float64(interval) * factor)
}

// Poll performs one guarded fetch, detects changes and enqueues new items.
func (p *Poller) Poll(ctx context.Context) (PollResult, error) {
	p.pollMu.Lock()
	defer p.pollMu.Unlock()

	src := p.Source()
	result := PollResult{SourceID: src.ID}
	if !src.Active {
		return result, ErrSourceInactive
	}

	ctx, span := tracing.GetTracer().Start(ctx, "ingest.poll")
	defer span.End()
	span.SetAttributes(
		attribute.String("source.id", src.ID),
		attribute.String("source.jurisdiction", src.Jurisdiction),
	)

	start := p.now()
	fetched, err := p.fetch(ctx, src)
	result.Latency = p.now().Sub(start)
	if err != nil {
		if ctx.Err() != nil {
			return result, err
		}
		p.fail(ctx, src, result.Latency, err)
		span.RecordError(err)
		span.SetStatus(codes.Error, "fetch failed")
		return result, fmt.Errorf("poll %s: %w", src.ID, err)
	}

	fp := Fingerprint(fetched.Body)
	result.Fingerprint = fp
	if p.detector.Unchanged(src, fp) {
		result.Unchanged = true
		p.succeed(ctx, src, result.Latency, fp)
		span.SetAttributes(attribute.Bool("poll.unchanged", true))
		p.logger.Debug("feed unchanged", slog.String("source_id", src.ID))
		return result, nil
	}

	items, err := p.discover(ctx, src, fetched.Body)
	if err != nil {
		if ctx.Err() != nil {
			return result, err
		}
		p.fail(ctx, src, result.Latency, err)
		span.RecordError(err)
		span.SetStatus(codes.Error, "discovery failed")
		return result, fmt.Errorf("poll %s: %w", src.ID, err)
	}

	// The fingerprint is stored only once items are persisted as pending,
	// so a crash before this point re-detects them on the next poll.
	p.succeed(ctx, src, result.Latency, fp)

	for _, item := range items {
		if item.Change == entity.ChangeUpdated {
			result.Updated++
		} else {
			result.NewItems++
		}
	}
	result.Items = items
	metrics.RecordItemsDiscovered(src.ID, string(entity.ChangeCreated), result.NewItems)
	metrics.RecordItemsDiscovered(src.ID, string(entity.ChangeUpdated), result.Updated)
	span.SetAttributes(attribute.Int("poll.new_items", result.NewItems), attribute.Int("poll.updated_items", result.Updated))

	if len(items) > 0 {
		p.logger.Info("new feed items discovered",
			slog.String("source_id", src.ID),
			slog.Int("created", result.NewItems),
			slog.Int("updated", result.Updated))
	}

	for _, item := range items {
		if err := p.queue.Push(ctx, item); err != nil {
			// Unqueued items remain pending in storage and are re-queued on restart.
			return result, fmt.Errorf("enqueue items for %s: %w", src.ID, err)
		}
	}
	return result, nil
}

// fetch takes a global fetch slot and then fetches through the source's
// breaker. Waiting for the slot is outside the breaker call timeout and is
// never recorded as a source failure.
func (p *Poller) fetch(ctx context.Context, src *entity.FeedSource) (*FetchResult, error) {
	if p.limiter != nil {
		if err := p.limiter.Acquire(ctx, 1); err != nil {
			return nil, err
		}
		defer p.limiter.Release(1)
	}

	var fetched *FetchResult
	err := p.executor.ExecuteOn(ctx, retry.OpFeedPoll, p.BreakerName(), func(ctx context.Context) error {
		var ferr error
		fetched, ferr = p.fetcher.Fetch(ctx, src)
		return ferr
	})
	if err != nil {
		return nil, err
	}
	return fetched, nil
}

func (p *Poller) discover(ctx context.Context, src *entity.FeedSource, body []byte) ([]*entity.DiscoveredItem, error) {
	parser, ok := p.parsers[src.Format]
	if !ok {
		return nil, failure.Wrap(entity.FailureValidation, fmt.Errorf("%w: %s", ErrNoParser, src.Format))
	}

	entries, err := parser.Parse(ctx, src, body)
	if err != nil {
		err = failure.Wrap(entity.FailureParsing, err)
		if p.recorder != nil {
			p.recorder.Record(ctx, retry.DepFeedSources, "parse", err, 0)
		}
		return nil, err
	}

	var items []*entity.DiscoveredItem
	err = p.executor.Execute(ctx, retry.OpPersistence, func(ctx context.Context) error {
		var derr error
		items, derr = p.detector.Detect(ctx, src, entries, p.now())
		if derr != nil {
			return derr
		}
		if len(items) == 0 {
			return nil
		}
		return p.items.SaveBatch(ctx, items)
	})
	if err != nil {
		return nil, fmt.Errorf("store discovered items: %w", err)
	}
	return items, nil
}

func (p *Poller) succeed(ctx context.Context, src *entity.FeedSource, latency time.Duration, fingerprint string) {
	p.mu.Lock()
	p.source.Health.RecordSuccess(p.now(), latency, fingerprint)
	health := p.source.Health
	p.mu.Unlock()

	metrics.RecordPoll(src.ID, "success", latency, 0)
	p.persistHealth(ctx, src.ID, health)
}

func (p *Poller) fail(ctx context.Context, src *entity.FeedSource, latency time.Duration, err error) {
	p.mu.Lock()
	p.source.Health.RecordFailure(p.now(), latency, err, p.errorThreshold)
	if err != nil {
		p.source.Health.LastError = failure.Sanitize(err)
	}
	health := p.source.Health
	p.mu.Unlock()

	result := "failure"
	if failure.Classify(err) == entity.FailureCircuitOpen {
		result = "rejected"
	}
	metrics.RecordPoll(src.ID, result, latency, health.ConsecutiveFailures)

	level := slog.LevelWarn
	if health.Status == entity.HealthError {
		level = slog.LevelError
	}
	p.logger.Log(ctx, level, "feed poll failed",
		slog.String("source_id", src.ID),
		slog.String("health", string(health.Status)),
		slog.Int("consecutive_failures", health.ConsecutiveFailures),
		slog.String("kind", string(failure.Classify(err))),
		slog.Any("error", err))
	p.persistHealth(ctx, src.ID, health)
}

func (p *Poller) persistHealth(ctx context.Context, id string, health entity.SourceHealth) {
	if p.sources == nil {
		return
	}
	// Health must be stored even when the poll was cancelled mid-way.
	ctx = context.WithoutCancel(ctx)
	err := p.executor.Execute(ctx, retry.OpPersistence, func(ctx context.Context) error {
		return p.sources.UpdateHealth(ctx, id, health)
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		p.logger.Warn("failed to persist source health",
			slog.String("source_id", id),
			slog.Any("error", err))
	}
}
