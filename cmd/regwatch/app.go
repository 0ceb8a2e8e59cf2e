package main

import (
	"context"
	"fmt"
	"log/slog"

	"regwatch/internal/config"
	"regwatch/internal/infra/adapter/persistence/memory"
	"regwatch/internal/infra/adapter/persistence/sqlstore"
	"regwatch/internal/infra/broker"
	"regwatch/internal/infra/db"
	"regwatch/internal/messaging"
	"regwatch/internal/repository"
	"regwatch/internal/resilience/circuitbreaker"
	"regwatch/internal/resilience/retry"
)

const memoryBrokerBuffer = 256

// storage bundles the repositories of one backend.
type storage struct {
	sources   repository.SourceRepository
	items     repository.ItemRepository
	failures  repository.FailureRepository
	snapshots repository.SnapshotRepository
	dlq       repository.DLQRepository
	close     func() error
}

// openStorage opens the configured backend and applies the schema. SQL
// backends go through a circuit breaker named "storage/db".
func openStorage(ctx context.Context, cfg config.DatabaseConfig, breakers *circuitbreaker.Registry, logger *slog.Logger) (*storage, error) {
	if cfg.Dialect == "memory" {
		logger.Warn("using in-memory storage, state is lost on exit")
		return &storage{
			sources:   memory.NewSourceRepo(),
			items:     memory.NewItemRepo(),
			failures:  memory.NewFailureRepo(),
			snapshots: memory.NewSnapshotRepo(),
			dlq:       memory.NewDLQRepo(),
			close:     func() error { return nil },
		}, nil
	}

	dialect, err := sqlstore.ParseDialect(cfg.Dialect)
	if err != nil {
		return nil, err
	}
	database, err := db.Open(ctx, cfg.Dialect, cfg.DSN)
	if err != nil {
		return nil, err
	}
	if err := db.MigrateUp(ctx, database, cfg.Dialect); err != nil {
		_ = database.Close()
		return nil, err
	}

	guarded := circuitbreaker.NewDBCircuitBreaker(database, breakers.Get(retry.DepStorage+"/db"))
	store := sqlstore.New(guarded, dialect)
	return &storage{
		sources:   store.Sources(),
		items:     store.Items(),
		failures:  store.Failures(),
		snapshots: store.Snapshots(),
		dlq:       store.DLQ(),
		close:     database.Close,
	}, nil
}

// openBroker connects to NATS or falls back to the in-process broker.
func openBroker(ctx context.Context, cfg *config.Config, logger *slog.Logger) (messaging.Broker, error) {
	if cfg.Broker.Driver != "nats" {
		logger.Warn("using in-process broker, events are not visible to other processes")
		return messaging.NewMemoryBroker(memoryBrokerBuffer), nil
	}
	b, err := broker.Connect(ctx, cfg.NATS(), logger)
	if err != nil {
		return nil, fmt.Errorf("connect broker: %w", err)
	}
	return b, nil
}

func loadConfig(logger *slog.Logger) (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	logger.Info("configuration loaded",
		slog.Int("sources", len(cfg.Sources)),
		slog.String("database", cfg.Database.Dialect),
		slog.String("broker", cfg.Broker.Driver))
	return cfg, nil
}
