package notifier

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"regwatch/internal/resilience/failure"
)

// SlackConfig contains configuration for Slack webhook notifications.
type SlackConfig struct {
	// Enabled indicates whether Slack notifications are enabled
	Enabled bool

	// WebhookURL is the Slack Incoming Webhook URL (includes authentication token)
	WebhookURL string

	// Timeout is the HTTP request timeout for Slack API calls
	Timeout time.Duration

	// RetryDelay is the base backoff between attempts. Default: 5s
	RetryDelay time.Duration
}

// SlackNotifier sends alert notifications to Slack via Incoming Webhook.
type SlackNotifier struct {
	hook *webhook
}

// SlackWebhookPayload represents the JSON payload sent to Slack webhook using Block Kit.
type SlackWebhookPayload struct {
	Text   string       `json:"text"`   // Fallback text (required)
	Blocks []SlackBlock `json:"blocks"` // Rich formatting blocks
}

// SlackBlock represents a Slack Block Kit block.
type SlackBlock struct {
	Type     string            `json:"type"`               // "section", "context", "divider"
	Text     *SlackTextObject  `json:"text,omitempty"`     // Text content (for section)
	Elements []SlackTextObject `json:"elements,omitempty"` // Elements (for context)
}

// SlackTextObject represents a text object in Slack Block Kit.
type SlackTextObject struct {
	Type string `json:"type"` // "mrkdwn" or "plain_text"
	Text string `json:"text"` // Actual text content
}

const (
	// Slack Block Kit limits
	maxSectionTextLength = 3000
	maxFallbackLength    = 150

	slackTruncationSuffix = "..."
)

// NewSlackNotifier creates a SlackNotifier limited to 1 request/second with
// a burst of 1 (the Slack webhook limit).
func NewSlackNotifier(config SlackConfig, logger *slog.Logger) *SlackNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	if config.RetryDelay <= 0 {
		config.RetryDelay = 5 * time.Second
	}
	return &SlackNotifier{hook: &webhook{
		service:     "Slack",
		url:         config.WebhookURL,
		client:      &http.Client{Timeout: config.Timeout},
		limiter:     NewRateLimiter(1.0, 1),
		maxAttempts: 2,
		baseDelay:   config.RetryDelay,
		logger:      logger,
	}}
}

// buildBlockKitPayload renders an alert as a section block plus a context
// block carrying the observation window.
func buildBlockKitPayload(alert failure.Alert) SlackWebhookPayload {
	title := alertTitle(alert)
	fallback := truncate(title, maxFallbackLength, slackTruncationSuffix)

	sectionText := truncate(fmt.Sprintf(":rotating_light: *%s*\n\n%s", title, alertDetail(alert)),
		maxSectionTextLength, slackTruncationSuffix)

	contextText := fmt.Sprintf("first seen %s • last seen %s",
		alert.FirstSeen.UTC().Format(time.RFC3339), alert.LastSeen.UTC().Format(time.RFC3339))

	return SlackWebhookPayload{
		Text: fallback,
		Blocks: []SlackBlock{
			{Type: "section", Text: &SlackTextObject{Type: "mrkdwn", Text: sectionText}},
			{Type: "context", Elements: []SlackTextObject{{Type: "mrkdwn", Text: contextText}}},
		},
	}
}

// NotifyAlert implements Notifier.
func (s *SlackNotifier) NotifyAlert(ctx context.Context, alert failure.Alert) error {
	return s.hook.send(ctx, alert, buildBlockKitPayload(alert))
}
