// Package sqlstore implements the repositories on database/sql for
// PostgreSQL (pgx) and SQLite (modernc). Statements are built with squirrel
// so one code path serves both placeholder styles.
package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
)

// Dialect selects placeholder style and the few statements that differ.
type Dialect string

const (
	Postgres Dialect = "postgres"
	SQLite   Dialect = "sqlite"
)

// ParseDialect maps a driver name onto a Dialect.
func ParseDialect(driver string) (Dialect, error) {
	switch driver {
	case "postgres", "postgresql", "pgx":
		return Postgres, nil
	case "sqlite", "sqlite3":
		return SQLite, nil
	}
	return "", fmt.Errorf("unsupported database driver %q", driver)
}

// Querier is satisfied by *sql.DB and *circuitbreaker.DBCircuitBreaker.
type Querier interface {
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// Store hands out repositories sharing one connection.
type Store struct {
	db      Querier
	dialect Dialect
	sb      sq.StatementBuilderType
}

// New creates a Store.
func New(db Querier, dialect Dialect) *Store {
	format := sq.Question
	if dialect == Postgres {
		format = sq.Dollar
	}
	return &Store{db: db, dialect: dialect, sb: sq.StatementBuilder.PlaceholderFormat(format)}
}

func (s *Store) Sources() *SourceRepo { return &SourceRepo{s} }
func (s *Store) Items() *ItemRepo { return &ItemRepo{s} }
func (s *Store) Failures() *FailureRepo { return &FailureRepo{s} }
func (s *Store) Snapshots() *SnapshotRepo { return &SnapshotRepo{s} }
func (s *Store) DLQ() *DLQRepo { return &DLQRepo{s} }

func (s *Store) query(ctx context.Context, b sq.Sqlizer) (*sql.Rows, error) {
	query, args, err := b.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}
	return s.db.QueryContext(ctx, query, args...)
}

func (s *Store) exec(ctx context.Context, b sq.Sqlizer) (sql.Result, error) {
	query, args, err := b.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build statement: %w", err)
	}
	return s.db.ExecContext(ctx, query, args...)
}

// timeLayout is fixed-width so that text comparison orders chronologically.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func formatTimePtr(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse stored time %q: %w", s, err)
	}
	return t, nil
}

func parseTimePtr(ns sql.NullString) (*time.Time, error) {
	if !ns.Valid || ns.String == "" {
		return nil, nil
	}
	t, err := parseTime(ns.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func marshalJSON(v any) (sql.NullString, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}, err
	}
	if string(b) == "null" {
		return sql.NullString{}, nil
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}
