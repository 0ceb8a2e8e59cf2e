// Package logging provides structured logging utilities with context propagation.
//
// This package wraps the standard library's log/slog package with helper functions
// for common logging patterns used throughout the application.
//
// Example usage:
//
//	logger := logging.NewLogger()
//	logger.Info("scheduler started", slog.Int("sources", 12))
//
//	ctx = logging.WithCorrelationID(ctx, uuid.NewString())
//	logging.FromContext(ctx).Info("processing item")
package logging
