package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"regwatch/internal/domain/entity"
	"regwatch/internal/infra/fetcher"
	"regwatch/internal/infra/parser"
	"regwatch/internal/infra/schema"
	workerPkg "regwatch/internal/infra/worker"
	"regwatch/internal/resilience/circuitbreaker"
	"regwatch/internal/resilience/dlq"
	"regwatch/internal/resilience/failure"
	"regwatch/internal/resilience/retry"
	"regwatch/internal/usecase/ingest"
	"regwatch/internal/usecase/notify"
	"regwatch/internal/usecase/publish"
)

const (
	failureHistory  = 24 * time.Hour
	shutdownTimeout = 10 * time.Second
)

func newRunCommand(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the ingestion scheduler, event consumer and status server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return run(ctx, root.logger())
		},
	}
}

func run(ctx context.Context, logger *slog.Logger) error {
	cfg, err := loadConfig(logger)
	if err != nil {
		return err
	}

	workerMetrics := workerPkg.NewWorkerMetrics()
	workerMetrics.RecordStart()
	workerConfig := workerPkg.LoadConfigFromEnv(logger, workerMetrics)

	breakers := circuitbreaker.NewRegistry(cfg.BreakerConfigs(), circuitbreaker.WithLogger(logger))

	store, err := openStorage(ctx, cfg.Database, breakers, logger)
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	defer func() {
		if err := store.close(); err != nil {
			logger.Error("failed to close storage", slog.Any("error", err))
		}
	}()

	msgBroker, err := openBroker(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := msgBroker.Close(); err != nil {
			logger.Error("failed to close broker", slog.Any("error", err))
		}
	}()

	recorder := failure.NewRecorder(failure.WithRepository(store.failures), failure.WithRecorderLogger(logger))
	if err := recorder.Load(ctx, time.Now().Add(-failureHistory)); err != nil {
		logger.Warn("failed to load failure history", slog.Any("error", err))
	}

	executor := retry.NewExecutor(breakers,
		retry.WithPolicies(cfg.Policies()),
		retry.WithRecorder(recorder),
		retry.WithLogger(logger))

	schemas, err := schema.NewBuiltinRegistry()
	if err != nil {
		return fmt.Errorf("load event schemas: %w", err)
	}

	router := dlq.NewRouter(store.dlq, msgBroker,
		dlq.WithCapacity(cfg.DLQCapacity()),
		dlq.WithRouterLogger(logger))
	recoverer := dlq.NewRecoverer(store.dlq, msgBroker, breakers,
		dlq.WithPolicy(cfg.RecoveryPolicy()),
		dlq.WithRecovererLogger(logger))

	publisher := publish.NewPublisher(msgBroker, executor, router,
		publish.WithSchemas(schemas),
		publish.WithLogger(logger))

	notifyService := notify.NewService([]notify.Channel{
		notify.NewSlackChannel(cfg.Slack(), logger),
		notify.NewDiscordChannel(cfg.Discord(), logger),
	}, workerConfig.NotifyMaxConcurrent, notify.WithLogger(logger))

	analyzer := failure.NewAnalyzer(recorder,
		failure.WithSinks(publisher.AlertSink(), notifyService),
		failure.WithAnalyzerLogger(logger))

	fetchConfig, err := fetcher.LoadConfigFromEnv()
	if err != nil {
		logger.Warn("invalid fetch configuration, using defaults", slog.Any("error", err))
		fetchConfig = fetcher.DefaultConfig()
	}

	configured, err := cfg.FeedSources()
	if err != nil {
		return err
	}
	stats, err := ingest.SyncSources(ctx, store.sources, configured, logger)
	if err != nil {
		return fmt.Errorf("sync sources: %w", err)
	}
	logger.Info("sources synchronised",
		slog.Int("upserted", stats.Upserted),
		slog.Int("deactivated", stats.Deactivated))

	scheduler := ingest.NewScheduler(ingest.Config{
		MaxConcurrentFetches:    workerConfig.MaxConcurrentFetches,
		QueueSize:               workerConfig.QueueSize,
		Workers:                 workerConfig.ProcessingWorkers,
		ShutdownGrace:           workerConfig.ShutdownGrace,
		ErrorThreshold:          entity.DefaultErrorThreshold,
		HealthSchedule:          workerConfig.HealthSchedule,
		DLQRecoverySchedule:     workerConfig.DLQRecoverySchedule,
		FailureAnalysisSchedule: workerConfig.FailureAnalysisSchedule,
	}, ingest.Deps{
		Sources:   store.sources,
		Items:     store.items,
		Snapshots: store.snapshots,
		Fetcher:   fetcher.NewFeedFetcher(fetchConfig, logger),
		Parsers:   parser.Parsers(logger),
		Processor: fetcher.NewReadabilityProcessor(fetchConfig, logger),
		Publisher: publisher,
		Executor:  executor,
		Recorder:  recorder,
		Analyzer:  analyzer,
		Recoverer: recoverer,
		Logger:    logger,
	})

	consumer := publish.NewConsumer(msgBroker, publish.NewMemoryCache(), publish.LogRecompiler{Logger: logger},
		executor, router, publish.WithConsumerLogger(logger))

	statusServer := workerPkg.NewStatusServer(
		fmt.Sprintf(":%d", workerConfig.HealthPort),
		workerPkg.StatusProviders{Sources: scheduler, Breakers: breakers, DLQ: recoverer},
		workerMetrics, logger)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := statusServer.Start(gctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("status server: %w", err)
		}
		return nil
	})
	g.Go(func() error { return scheduler.Run(gctx) })
	g.Go(func() error { return consumer.Run(gctx) })

	statusServer.SetReady(true)
	logger.Info("regwatch started",
		slog.Int("sources", len(configured)),
		slog.Int("health_port", workerConfig.HealthPort))

	runErr := g.Wait()
	statusServer.SetReady(false)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := notifyService.Shutdown(shutdownCtx); err != nil {
		logger.Warn("notification shutdown incomplete", slog.Any("error", err))
	}

	logger.Info("regwatch stopped")
	return runErr
}
