// Package notifier delivers failure alerts to chat webhooks (Slack, Discord).
// Each notifier applies its own rate limit and a short retry loop; circuit
// breaking per channel is done by the caller.
package notifier

import (
	"context"

	"regwatch/internal/resilience/failure"
)

// Notifier sends one alert notification.
type Notifier interface {
	NotifyAlert(ctx context.Context, alert failure.Alert) error
}
