package circuitbreaker

import (
	"context"
	"database/sql"
	"time"

	"regwatch/internal/domain/entity"
	"regwatch/internal/resilience/failure"
)

// DBCircuitBreaker wraps a database connection with circuit breaker protection.
// Errors coming back from the driver are tagged as storage failures.
type DBCircuitBreaker struct {
	cb *CircuitBreaker
	db *sql.DB
}

// DBConfig returns configuration optimized for database circuit breakers.
// Opens after 5 consecutive failures, 30 second recovery.
func DBConfig() Config {
	return Config{
		Name:             "database",
		FailureThreshold: 5,
		SuccessThreshold: 1,
		RecoveryTimeout:  30 * time.Second,
		CallTimeout:      10 * time.Second,
	}
}

// NewDBCircuitBreaker creates a new database circuit breaker.
func NewDBCircuitBreaker(db *sql.DB, cb *CircuitBreaker) *DBCircuitBreaker {
	if cb == nil {
		cb = New(DBConfig())
	}
	return &DBCircuitBreaker{cb: cb, db: db}
}

// QueryContext executes a query with circuit breaker protection.
// If the circuit is open, it returns a *CircuitOpenError without hitting the database.
// CallTimeout is not applied: cancelling the query context would close the rows.
func (dcb *DBCircuitBreaker) QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error) {
	var rows *sql.Rows
	err := dcb.cb.execute(ctx, func(ctx context.Context) error {
		var qerr error
		rows, qerr = dcb.db.QueryContext(ctx, query, args...)
		return failure.Wrap(entity.FailureStorage, qerr)
	}, false)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// ExecContext executes a statement with circuit breaker protection.
func (dcb *DBCircuitBreaker) ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	var res sql.Result
	err := dcb.cb.Execute(ctx, func(ctx context.Context) error {
		var eerr error
		res, eerr = dcb.db.ExecContext(ctx, query, args...)
		return failure.Wrap(entity.FailureStorage, eerr)
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// QueryRowContext is not guarded: sql.Row defers its error until Scan.
func (dcb *DBCircuitBreaker) QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row {
	return dcb.db.QueryRowContext(ctx, query, args...)
}

// Breaker returns the breaker guarding the connection.
func (dcb *DBCircuitBreaker) Breaker() *CircuitBreaker {
	return dcb.cb
}

// DB returns the underlying database connection.
func (dcb *DBCircuitBreaker) DB() *sql.DB {
	return dcb.db
}
