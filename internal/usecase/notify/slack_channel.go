package notify

import (
	"context"
	"log/slog"

	"regwatch/internal/infra/notifier"
	"regwatch/internal/resilience/failure"
)

// SlackChannel implements Channel on top of the Slack webhook notifier.
type SlackChannel struct {
	notifier notifier.Notifier
	enabled  bool
}

// NewSlackChannel creates a Slack channel. A disabled configuration gets a
// NoOpNotifier so the channel is always usable.
func NewSlackChannel(config notifier.SlackConfig, logger *slog.Logger) *SlackChannel {
	var n notifier.Notifier
	if config.Enabled {
		n = notifier.NewSlackNotifier(config, logger)
	} else {
		n = notifier.NewNoOpNotifier()
	}

	return &SlackChannel{
		notifier: n,
		enabled:  config.Enabled,
	}
}

// Name returns "slack".
func (c *SlackChannel) Name() string {
	return "slack"
}

// IsEnabled returns whether Slack notifications are enabled.
func (c *SlackChannel) IsEnabled() bool {
	return c.enabled
}

// Send implements Channel.
func (c *SlackChannel) Send(ctx context.Context, alert failure.Alert) error {
	if !c.enabled {
		return ErrChannelDisabled
	}
	if err := validateAlert(alert); err != nil {
		return err
	}
	return c.notifier.NotifyAlert(ctx, alert)
}

func validateAlert(alert failure.Alert) error {
	if alert.Component == "" || alert.Kind == "" {
		return ErrInvalidAlert
	}
	return nil
}
