package notifier

import (
	"context"

	"regwatch/internal/resilience/failure"
)

// NoOpNotifier is used when a channel is disabled.
type NoOpNotifier struct{}

// NewNoOpNotifier creates a new NoOpNotifier instance.
func NewNoOpNotifier() *NoOpNotifier {
	return &NoOpNotifier{}
}

// NotifyAlert does nothing and returns nil.
func (n *NoOpNotifier) NotifyAlert(ctx context.Context, alert failure.Alert) error {
	return nil
}
