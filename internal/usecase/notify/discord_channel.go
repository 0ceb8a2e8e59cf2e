package notify

import (
	"context"
	"log/slog"

	"regwatch/internal/infra/notifier"
	"regwatch/internal/resilience/failure"
)

// DiscordChannel implements Channel on top of the Discord webhook notifier.
type DiscordChannel struct {
	notifier notifier.Notifier
	enabled  bool
}

// NewDiscordChannel creates a Discord channel. A disabled configuration gets
// a NoOpNotifier.
func NewDiscordChannel(config notifier.DiscordConfig, logger *slog.Logger) *DiscordChannel {
	var n notifier.Notifier
	if config.Enabled {
		n = notifier.NewDiscordNotifier(config, logger)
	} else {
		n = notifier.NewNoOpNotifier()
	}

	return &DiscordChannel{
		notifier: n,
		enabled:  config.Enabled,
	}
}

// Name returns "discord".
func (c *DiscordChannel) Name() string {
	return "discord"
}

// IsEnabled returns whether Discord notifications are enabled.
func (c *DiscordChannel) IsEnabled() bool {
	return c.enabled
}

// Send implements Channel.
func (c *DiscordChannel) Send(ctx context.Context, alert failure.Alert) error {
	if !c.enabled {
		return ErrChannelDisabled
	}
	if err := validateAlert(alert); err != nil {
		return err
	}
	return c.notifier.NotifyAlert(ctx, alert)
}
