package db

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// tables is the DDL shared by both dialects. Times are stored as fixed-width
// UTC text so ordering is identical on PostgreSQL and SQLite. {{BLOB}} is
// replaced with the dialect's binary type.
var tables = []string{
	`CREATE TABLE IF NOT EXISTS feed_sources (
    id                   TEXT PRIMARY KEY,
    name                 TEXT NOT NULL,
    url                  TEXT NOT NULL,
    jurisdiction         TEXT NOT NULL,
    format               TEXT NOT NULL DEFAULT 'rss',
    poll_interval_ms     BIGINT NOT NULL,
    active               BOOLEAN NOT NULL DEFAULT TRUE,
    priority             TEXT NOT NULL DEFAULT 'normal',
    headers              TEXT,
    scraper_config       TEXT,
    health_status        TEXT NOT NULL DEFAULT 'unknown',
    last_poll_at         TEXT,
    last_success_at      TEXT,
    consecutive_failures INTEGER NOT NULL DEFAULT 0,
    total_polls          BIGINT NOT NULL DEFAULT 0,
    successful_polls     BIGINT NOT NULL DEFAULT 0,
    last_fingerprint     TEXT NOT NULL DEFAULT '',
    last_error           TEXT NOT NULL DEFAULT '',
    last_latency_ms      BIGINT NOT NULL DEFAULT 0
)`,
	`CREATE TABLE IF NOT EXISTS discovered_items (
    id             TEXT PRIMARY KEY,
    subject_id     TEXT NOT NULL,
    source_id      TEXT NOT NULL,
    jurisdiction   TEXT NOT NULL,
    title          TEXT NOT NULL,
    url            TEXT NOT NULL,
    published_at   TEXT,
    updated_at     TEXT,
    content_type   TEXT NOT NULL DEFAULT '',
    fingerprint    TEXT NOT NULL,
    priority       TEXT NOT NULL DEFAULT 'normal',
    change_kind    TEXT NOT NULL DEFAULT 'created',
    status         TEXT NOT NULL DEFAULT 'pending',
    failure_reason TEXT NOT NULL DEFAULT '',
    discovered_at  TEXT NOT NULL
)`,
	`CREATE TABLE IF NOT EXISTS failure_records (
    id          TEXT PRIMARY KEY,
    component   TEXT NOT NULL,
    operation   TEXT NOT NULL,
    kind        TEXT NOT NULL,
    message     TEXT NOT NULL,
    occurred_at TEXT NOT NULL,
    retry_count INTEGER NOT NULL DEFAULT 0,
    resolved    BOOLEAN NOT NULL DEFAULT FALSE
)`,
	`CREATE TABLE IF NOT EXISTS health_snapshots (
    taken_at      TEXT NOT NULL,
    total         INTEGER NOT NULL,
    active        INTEGER NOT NULL,
    healthy       INTEGER NOT NULL,
    warning       INTEGER NOT NULL,
    error_count   INTEGER NOT NULL,
    unknown       INTEGER NOT NULL,
    healthy_ratio DOUBLE PRECISION NOT NULL
)`,
	`CREATE TABLE IF NOT EXISTS dlq_messages (
    id                  TEXT PRIMARY KEY,
    topic               TEXT NOT NULL,
    msg_key             TEXT NOT NULL DEFAULT '',
    payload             {{BLOB}} NOT NULL,
    headers             TEXT,
    dependency          TEXT NOT NULL DEFAULT '',
    failure_kind        TEXT NOT NULL,
    error_message       TEXT NOT NULL DEFAULT '',
    failure_count       INTEGER NOT NULL DEFAULT 1,
    first_failure_at    TEXT NOT NULL,
    last_failure_at     TEXT NOT NULL,
    recovery_attempted  BOOLEAN NOT NULL DEFAULT FALSE,
    recovery_successful BOOLEAN NOT NULL DEFAULT FALSE
)`,
}

var indexes = []string{
	`CREATE INDEX IF NOT EXISTS idx_items_subject ON discovered_items(subject_id, discovered_at)`,
	`CREATE INDEX IF NOT EXISTS idx_items_status ON discovered_items(status)`,
	`CREATE INDEX IF NOT EXISTS idx_failures_occurred_at ON failure_records(occurred_at)`,
	`CREATE INDEX IF NOT EXISTS idx_snapshots_taken_at ON health_snapshots(taken_at)`,
	`CREATE INDEX IF NOT EXISTS idx_dlq_topic_first_failure ON dlq_messages(topic, first_failure_at)`,
}

// dropOrder lists tables for MigrateDown.
var dropOrder = []string{"dlq_messages", "health_snapshots", "failure_records", "discovered_items", "feed_sources"}

// MigrateUp creates the schema for dialect. It is idempotent.
func MigrateUp(ctx context.Context, db *sql.DB, dialect string) error {
	driver, err := DriverName(dialect)
	if err != nil {
		return err
	}
	blob := "BYTEA"
	if driver == "sqlite" {
		blob = "BLOB"
	}

	for _, ddl := range tables {
		if _, err := db.ExecContext(ctx, strings.ReplaceAll(ddl, "{{BLOB}}", blob)); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	for _, idx := range indexes {
		if _, err := db.ExecContext(ctx, idx); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

// MigrateDown drops every table. Use with caution: all data is deleted.
func MigrateDown(ctx context.Context, db *sql.DB) error {
	for _, table := range dropOrder {
		if _, err := db.ExecContext(ctx, "DROP TABLE IF EXISTS "+table); err != nil {
			return fmt.Errorf("migrate down: %w", err)
		}
	}
	return nil
}
