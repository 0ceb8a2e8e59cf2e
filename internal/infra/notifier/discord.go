package notifier

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"regwatch/internal/domain/entity"
	"regwatch/internal/resilience/failure"
)

// DiscordConfig contains configuration for Discord webhook notifications.
type DiscordConfig struct {
	// Enabled indicates whether Discord notifications are enabled
	Enabled bool

	// WebhookURL is the Discord webhook URL (includes authentication token)
	WebhookURL string

	// Timeout is the HTTP request timeout for Discord API calls
	Timeout time.Duration

	// RetryDelay is the base backoff between attempts. Default: 5s
	RetryDelay time.Duration
}

// DiscordNotifier sends alert notifications to Discord via webhook.
type DiscordNotifier struct {
	hook *webhook
}

// DiscordWebhookPayload represents the JSON payload sent to Discord webhook.
type DiscordWebhookPayload struct {
	Embeds []DiscordEmbed `json:"embeds"`
}

// DiscordEmbed represents a Discord embed message.
type DiscordEmbed struct {
	Title       string             `json:"title"`
	Description string             `json:"description"`
	Color       int                `json:"color"`
	Footer      DiscordEmbedFooter `json:"footer"`
	Timestamp   string             `json:"timestamp"`
}

// DiscordEmbedFooter represents the footer of a Discord embed.
type DiscordEmbedFooter struct {
	Text string `json:"text"`
}

const (
	// Discord limits
	maxTitleLength       = 256
	maxDescriptionLength = 4096
	truncationSuffix     = "..."

	discordRedColor    = 15548997 // #ED4245
	discordYellowColor = 16705372 // #FEE75C
)

// NewDiscordNotifier creates a DiscordNotifier limited to 0.5 requests/second
// with a burst of 3 (30 requests per minute).
func NewDiscordNotifier(config DiscordConfig, logger *slog.Logger) *DiscordNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	if config.RetryDelay <= 0 {
		config.RetryDelay = 5 * time.Second
	}
	return &DiscordNotifier{hook: &webhook{
		service:     "Discord",
		url:         config.WebhookURL,
		client:      &http.Client{Timeout: config.Timeout},
		limiter:     NewRateLimiter(0.5, 3),
		maxAttempts: 2,
		baseDelay:   config.RetryDelay,
		logger:      logger,
	}}
}

// buildEmbedPayload renders an alert as one embed. Non-transient kinds are red.
func buildEmbedPayload(alert failure.Alert) DiscordWebhookPayload {
	title := truncate(alertTitle(alert), maxTitleLength, truncationSuffix)
	color := discordYellowColor
	if !alert.Kind.Transient() || alert.Kind == entity.FailureCircuitOpen {
		color = discordRedColor
	}

	return DiscordWebhookPayload{Embeds: []DiscordEmbed{{
		Title:       title,
		Description: truncate(alertDetail(alert), maxDescriptionLength, truncationSuffix),
		Color:       color,
		Footer:      DiscordEmbedFooter{Text: "regwatch failure analyzer"},
		Timestamp:   alert.LastSeen.UTC().Format(time.RFC3339),
	}}}
}

// NotifyAlert implements Notifier.
func (d *DiscordNotifier) NotifyAlert(ctx context.Context, alert failure.Alert) error {
	return d.hook.send(ctx, alert, buildEmbedPayload(alert))
}
