package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"regwatch/internal/domain/entity"
	"regwatch/internal/observability/metrics"
	"regwatch/internal/repository"
	"regwatch/internal/resilience/dlq"
	"regwatch/internal/resilience/failure"
	"regwatch/internal/resilience/retry"
)

// Config holds the scheduler's concurrency and background-loop settings.
type Config struct {
	MaxConcurrentFetches int
	QueueSize            int
	Workers              int
	ShutdownGrace        time.Duration
	ErrorThreshold       int

	// Cron specs for the background loops; empty disables a loop.
	HealthSchedule          string
	DLQRecoverySchedule     string
	FailureAnalysisSchedule string
}

// DefaultConfig returns the default scheduler configuration.
func DefaultConfig() Config {
	return Config{
		MaxConcurrentFetches:    10,
		QueueSize:               500,
		Workers:                 4,
		ShutdownGrace:           30 * time.Second,
		ErrorThreshold:          entity.DefaultErrorThreshold,
		HealthSchedule:          "@every 1m",
		DLQRecoverySchedule:     "@every 5m",
		FailureAnalysisSchedule: "@every 5m",
	}
}

// Deps are the collaborators of a Scheduler. Analyzer, Recoverer, Snapshots
// and Publisher are optional.
type Deps struct {
	Sources   repository.SourceRepository
	Items     repository.ItemRepository
	Snapshots repository.SnapshotRepository
	Fetcher   FeedFetcher
	Parsers   map[entity.FeedFormat]FeedParser
	Processor ContentProcessor
	Publisher EventPublisher
	Executor  *retry.Executor
	Recorder  *failure.Recorder
	Analyzer  *failure.Analyzer
	Recoverer *dlq.Recoverer
	Logger    *slog.Logger
}

// Scheduler owns the pollers, the item queue, the processing workers and the
// periodic health, failure-analysis and dead-letter recovery loops.
type Scheduler struct {
	cfg     Config
	deps    Deps
	queue   *Queue
	limiter *semaphore.Weighted
	worker  *ItemProcessor
	logger  *slog.Logger
	now     func() time.Time

	mu         sync.RWMutex
	pollers    map[string]*Poller
	inactive   map[string]*entity.FeedSource
	lastStatus map[string]entity.HealthStatus
}

// NewScheduler creates a Scheduler. Sources are loaded by Load or Run.
func NewScheduler(cfg Config, deps Deps) *Scheduler {
	def := DefaultConfig()
	if cfg.MaxConcurrentFetches <= 0 {
		cfg.MaxConcurrentFetches = def.MaxConcurrentFetches
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = def.QueueSize
	}
	if cfg.Workers <= 0 {
		cfg.Workers = def.Workers
	}
	if cfg.ShutdownGrace <= 0 {
		cfg.ShutdownGrace = def.ShutdownGrace
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Executor == nil {
		deps.Executor = retry.NewExecutor(nil)
	}

	s := &Scheduler{
		cfg:        cfg,
		deps:       deps,
		queue:      NewQueue(cfg.QueueSize),
		limiter:    semaphore.NewWeighted(int64(cfg.MaxConcurrentFetches)),
		logger:     deps.Logger,
		now:        time.Now,
		pollers:    make(map[string]*Poller),
		inactive:   make(map[string]*entity.FeedSource),
		lastStatus: make(map[string]entity.HealthStatus),
	}
	s.worker = NewItemProcessor(deps.Items, deps.Processor, deps.Publisher, deps.Executor, deps.Logger)
	return s
}

// Load reads the sources from storage and builds one poller per active source.
func (s *Scheduler) Load(ctx context.Context) error {
	sources, err := s.deps.Sources.List(ctx)
	if err != nil {
		return fmt.Errorf("load sources: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.pollers = make(map[string]*Poller)
	s.inactive = make(map[string]*entity.FeedSource)
	for _, src := range sources {
		s.lastStatus[src.ID] = src.Health.Status
		if !src.Active {
			s.inactive[src.ID] = src.Clone()
			continue
		}
		s.pollers[src.ID] = NewPoller(src, PollerDeps{
			Fetcher:        s.deps.Fetcher,
			Parsers:        s.deps.Parsers,
			Executor:       s.deps.Executor,
			Limiter:        s.limiter,
			Queue:          s.queue,
			Sources:        s.deps.Sources,
			Items:          s.deps.Items,
			Recorder:       s.deps.Recorder,
			ErrorThreshold: s.cfg.ErrorThreshold,
			Logger:         s.logger,
		})
	}
	s.logger.Info("feed sources loaded",
		slog.Int("active", len(s.pollers)),
		slog.Int("inactive", len(s.inactive)))
	return nil
}

// Poller returns the poller of an active source.
func (s *Scheduler) Poller(id string) (*Poller, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.pollers[id]
	return p, ok
}

// Sources returns snapshots of every known source, sorted by id.
func (s *Scheduler) Sources() []entity.FeedSource {
	s.mu.RLock()
	out := make([]entity.FeedSource, 0, len(s.pollers)+len(s.inactive))
	for _, p := range s.pollers {
		out = append(out, *p.Source())
	}
	for _, src := range s.inactive {
		out = append(out, *src.Clone())
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Queue returns the shared item queue.
func (s *Scheduler) Queue() *Queue { return s.queue }

// Run starts all loops and blocks until ctx is cancelled. In-flight items get
// ShutdownGrace to finish before their context is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	if err := s.Load(ctx); err != nil {
		return err
	}

	c, err := s.startBackground(ctx)
	if err != nil {
		return err
	}

	workCtx, cancelWork := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelWork()

	var g errgroup.Group

	s.mu.RLock()
	for _, p := range s.pollers {
		p := p
		g.Go(func() error {
			p.Run(ctx)
			return nil
		})
	}
	s.mu.RUnlock()

	for i := 0; i < s.cfg.Workers; i++ {
		g.Go(func() error {
			s.work(ctx, workCtx)
			return nil
		})
	}

	g.Go(func() error {
		n, err := s.Requeue(ctx)
		if err != nil && ctx.Err() == nil {
			s.logger.Error("failed to re-queue unfinished items", slog.Any("error", err))
		} else if n > 0 {
			s.logger.Info("unfinished items re-queued", slog.Int("count", n))
		}
		return nil
	})

	s.logger.Info("ingestion scheduler started",
		slog.Int("workers", s.cfg.Workers),
		slog.Int("queue_size", s.cfg.QueueSize),
		slog.Int("max_concurrent_fetches", s.cfg.MaxConcurrentFetches))

	<-ctx.Done()
	s.logger.Info("ingestion scheduler stopping", slog.Duration("grace", s.cfg.ShutdownGrace))

	grace := time.AfterFunc(s.cfg.ShutdownGrace, cancelWork)
	defer grace.Stop()

	<-c.Stop().Done()
	_ = g.Wait()
	s.queue.Close()

	s.logger.Info("ingestion scheduler stopped")
	return nil
}

func (s *Scheduler) work(ctx, workCtx context.Context) {
	for {
		item, err := s.queue.Pop(ctx)
		if err != nil {
			return
		}
		if err := s.worker.Process(workCtx, item); err != nil {
			s.logger.Debug("item ended in failure", slog.String("item_id", item.ID), slog.Any("error", err))
		}
	}
}

func (s *Scheduler) startBackground(ctx context.Context) (*cron.Cron, error) {
	c := cron.New()
	jobs := []struct {
		name string
		spec string
		fn   func()
	}{
		{"health_aggregation", s.cfg.HealthSchedule, func() { s.AggregateHealth(ctx) }},
		{"failure_analysis", s.cfg.FailureAnalysisSchedule, func() {
			if s.deps.Analyzer != nil {
				s.deps.Analyzer.Analyze(ctx)
			}
		}},
		{"dlq_recovery", s.cfg.DLQRecoverySchedule, func() {
			if s.deps.Recoverer != nil {
				s.deps.Recoverer.RecoverOnce(ctx)
			}
		}},
	}
	for _, job := range jobs {
		if job.spec == "" {
			continue
		}
		if _, err := c.AddFunc(job.spec, job.fn); err != nil {
			return nil, fmt.Errorf("schedule %s (%q): %w", job.name, job.spec, err)
		}
	}
	c.Start()
	return c, nil
}

// Requeue pushes items left pending or processing by a previous run back
// onto the queue. Processing items are reset to pending first.
func (s *Scheduler) Requeue(ctx context.Context) (int, error) {
	items, err := s.deps.Items.ListByStatus(ctx, entity.StatusPending, entity.StatusProcessing)
	if err != nil {
		return 0, fmt.Errorf("list unfinished items: %w", err)
	}

	n := 0
	for _, item := range items {
		if item.Status == entity.StatusProcessing {
			if err := s.deps.Items.UpdateStatus(ctx, item.ID, entity.StatusProcessing, entity.StatusPending, ""); err != nil {
				s.logger.Warn("failed to reset abandoned item", slog.String("item_id", item.ID), slog.Any("error", err))
				continue
			}
			item.Status = entity.StatusPending
		}
		if err := s.queue.Push(ctx, item); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

// AggregateHealth computes the health snapshot, persists it, updates gauges and
// publishes source.health_changed events for sources whose status changed.
func (s *Scheduler) AggregateHealth(ctx context.Context) entity.HealthSnapshot {
	sources := s.Sources()
	snap := entity.HealthSnapshot{TakenAt: s.now()}
	byStatus := make(map[string]int)

	var changed []entity.RegulatoryEvent
	s.mu.Lock()
	for i := range sources {
		src := &sources[i]
		snap.Total++
		if !src.Active {
			continue
		}
		snap.Active++
		status := src.Health.Status
		if status == "" {
			status = entity.HealthUnknown
		}
		byStatus[string(status)]++
		switch status {
		case entity.HealthHealthy:
			snap.Healthy++
		case entity.HealthWarning:
			snap.Warning++
		case entity.HealthError:
			snap.Error++
		case entity.HealthUnknown:
			snap.Unknown++
		}

		if prev, ok := s.lastStatus[src.ID]; ok && prev != status && prev != "" {
			changed = append(changed, s.healthChangedEvent(src, prev, status, snap.TakenAt))
		}
		s.lastStatus[src.ID] = status
	}
	s.mu.Unlock()

	if snap.Active > 0 {
		snap.HealthyRatio = float64(snap.Healthy) / float64(snap.Active)
	}
	metrics.UpdateSourceHealth(byStatus, snap.HealthyRatio)

	if s.deps.Snapshots != nil {
		err := s.deps.Executor.Execute(ctx, retry.OpPersistence, func(ctx context.Context) error {
			return s.deps.Snapshots.Save(ctx, snap)
		})
		if err != nil && !errors.Is(err, context.Canceled) {
			s.logger.Warn("failed to persist health snapshot", slog.Any("error", err))
		}
	}

	for _, ev := range changed {
		if s.deps.Publisher == nil {
			break
		}
		if err := s.deps.Publisher.Publish(ctx, ev); err != nil {
			s.logger.Warn("failed to publish health change",
				slog.String("source_id", ev.SubjectID),
				slog.Any("error", err))
		}
	}

	s.logger.Info("source health aggregated",
		slog.Int("active", snap.Active),
		slog.Int("healthy", snap.Healthy),
		slog.Int("warning", snap.Warning),
		slog.Int("error", snap.Error),
		slog.Float64("healthy_ratio", snap.HealthyRatio))
	return snap
}

func (s *Scheduler) healthChangedEvent(src *entity.FeedSource, prev, status entity.HealthStatus, at time.Time) entity.RegulatoryEvent {
	priority := entity.PriorityNormal
	if status == entity.HealthError {
		priority = entity.PriorityHigh
	}
	payload := map[string]any{
		"source_id":            src.ID,
		"previous_status":      string(prev),
		"status":               string(status),
		"consecutive_failures": src.Health.ConsecutiveFailures,
	}
	if src.Health.LastError != "" {
		payload["last_error"] = src.Health.LastError
	}
	return entity.RegulatoryEvent{
		Kind:          entity.EventSourceHealthChanged,
		SubjectID:     src.ID,
		Jurisdiction:  src.Jurisdiction,
		Timestamp:     at,
		CorrelationID: uuid.NewString(),
		Priority:      priority,
		Payload:       payload,
		Metadata: map[string]string{
			entity.MetadataIdempotencyKey: fmt.Sprintf("%s:%s:%d", src.ID, status, at.UnixNano()),
		},
	}
}
