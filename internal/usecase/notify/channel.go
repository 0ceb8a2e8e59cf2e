// Package notify dispatches failure alerts to operator notification channels
// (Slack, Discord) with a worker pool and a circuit breaker per channel.
package notify

import (
	"context"

	"regwatch/internal/resilience/failure"
)

// Channel represents an alert delivery channel.
// Each channel implementation handles its own rate limiting and retries.
//
// Retry Policy Contract:
//   - Transient failures (5xx, network errors): retried inside the channel
//   - Rate limits (429): sleep for retry_after, then retry
//   - Client errors (4xx except 429): no retry
//
// All methods must be safe for concurrent use.
type Channel interface {
	// Name returns the lowercase channel identifier used in logs and metrics.
	Name() string

	// IsEnabled reports whether the channel is enabled via configuration.
	IsEnabled() bool

	// Send delivers one alert. It returns ErrChannelDisabled on a disabled
	// channel and ErrInvalidAlert when the alert has no component.
	Send(ctx context.Context, alert failure.Alert) error
}
