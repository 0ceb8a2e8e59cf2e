package db

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"

	"regwatch/internal/pkg/config"
)

// PoolConfig sizes the connection pool.
type PoolConfig struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// DefaultPoolConfig is used for any variable that is unset or invalid.
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		MaxOpenConns:    25,
		MaxIdleConns:    10,
		ConnMaxLifetime: time.Hour,
		ConnMaxIdleTime: 30 * time.Minute,
	}
}

// LoadPoolConfig reads DB_MAX_OPEN_CONNS, DB_MAX_IDLE_CONNS,
// DB_CONN_MAX_LIFETIME and DB_CONN_MAX_IDLE_TIME. Invalid values fall back to
// the defaults and are returned as warnings.
func LoadPoolConfig() (PoolConfig, []string) {
	def := DefaultPoolConfig()
	var warnings []string
	note := func(w string) {
		if w != "" {
			warnings = append(warnings, w)
		}
	}

	maxOpen := config.LoadEnvInt("DB_MAX_OPEN_CONNS", def.MaxOpenConns, config.IntRange(1, 1000))
	note(maxOpen.Warning)
	maxIdle := config.LoadEnvInt("DB_MAX_IDLE_CONNS", def.MaxIdleConns, config.IntRange(1, 1000))
	note(maxIdle.Warning)
	lifetime := config.LoadEnvDuration("DB_CONN_MAX_LIFETIME", def.ConnMaxLifetime, config.ValidatePositiveDuration)
	note(lifetime.Warning)
	idle := config.LoadEnvDuration("DB_CONN_MAX_IDLE_TIME", def.ConnMaxIdleTime, config.ValidatePositiveDuration)
	note(idle.Warning)

	return PoolConfig{
		MaxOpenConns:    maxOpen.Value,
		MaxIdleConns:    maxIdle.Value,
		ConnMaxLifetime: lifetime.Value,
		ConnMaxIdleTime: idle.Value,
	}, warnings
}

// DriverName maps a dialect ("postgres" or "sqlite") onto the registered
// database/sql driver.
func DriverName(dialect string) (string, error) {
	switch dialect {
	case "postgres", "postgresql", "pgx":
		return "pgx", nil
	case "sqlite", "sqlite3":
		return "sqlite", nil
	}
	return "", fmt.Errorf("unsupported database dialect %q", dialect)
}

// Open creates and configures a connection pool and verifies it with a ping.
// SQLite files are opened in WAL mode with a busy timeout and a single
// connection, which also keeps ":memory:" databases shared.
func Open(ctx context.Context, dialect, dsn string) (*sql.DB, error) {
	if dsn == "" {
		return nil, fmt.Errorf("database dsn not set")
	}
	driver, err := DriverName(dialect)
	if err != nil {
		return nil, err
	}

	cfg, warnings := LoadPoolConfig()
	for _, w := range warnings {
		slog.Warn("database pool configuration", slog.String("warning", w))
	}
	if driver == "sqlite" {
		if dsn != ":memory:" && !strings.Contains(dsn, "_pragma") {
			dsn += "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
		}
		cfg.MaxOpenConns = 1
		cfg.MaxIdleConns = 1
		cfg.ConnMaxLifetime = 0
		cfg.ConnMaxIdleTime = 0
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", dialect, err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	slog.Info("database pool configured",
		slog.String("dialect", dialect),
		slog.Int("max_open_conns", cfg.MaxOpenConns),
		slog.Int("max_idle_conns", cfg.MaxIdleConns),
		slog.Duration("conn_max_lifetime", cfg.ConnMaxLifetime),
		slog.Duration("conn_max_idle_time", cfg.ConnMaxIdleTime))

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping %s: %w", dialect, err)
	}

	slog.Info("database connected", slog.String("dialect", dialect))
	return db, nil
}
