package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"regwatch/internal/domain/entity"
	"regwatch/internal/resilience/failure"
)

// Common webhook error types used by Discord and Slack notifiers

// RateLimitError represents a 429 rate limit error from a webhook service.
type RateLimitError struct {
	RetryAfter time.Duration
	Message    string // Optional custom message
}

func (e *RateLimitError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s (retry after %v)", e.Message, e.RetryAfter)
	}
	return fmt.Sprintf("rate limit exceeded (retry after %v)", e.RetryAfter)
}

func (e *RateLimitError) FailureKind() entity.FailureKind { return entity.FailureRateLimit }

// ClientError represents a 4xx client error from a webhook service.
type ClientError struct {
	StatusCode int
	Message    string
}

func (e *ClientError) Error() string {
	return e.Message
}

func (e *ClientError) FailureKind() entity.FailureKind {
	if e.StatusCode == http.StatusUnauthorized || e.StatusCode == http.StatusForbidden {
		return entity.FailureAuth
	}
	return entity.FailureValidation
}

// ServerError represents a 5xx server error from a webhook service.
type ServerError struct {
	StatusCode int
	Message    string
}

func (e *ServerError) Error() string {
	return e.Message
}

func (e *ServerError) FailureKind() entity.FailureKind { return entity.FailureNetwork }

// is429Error checks if the error is a rate limit error and extracts retry_after.
func is429Error(err error) (*RateLimitError, bool) {
	var rateLimitErr *RateLimitError
	if errors.As(err, &rateLimitErr) {
		return rateLimitErr, true
	}
	return nil, false
}

// isRetryableError checks if the error is worth retrying (5xx server errors, network errors).
// Client errors (4xx) are not retryable except for rate limits (429).
func isRetryableError(err error) bool {
	var serverErr *ServerError
	if errors.As(err, &serverErr) {
		return true
	}

	var clientErr *ClientError
	if errors.As(err, &clientErr) {
		return false
	}

	var rateLimitErr *RateLimitError
	if errors.As(err, &rateLimitErr) {
		return false // Handled by is429Error
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	return true
}

// truncate shortens text to maxLength bytes, appending suffix when cut.
func truncate(text string, maxLength int, suffix string) string {
	if len(text) <= maxLength {
		return text
	}

	truncateAt := maxLength - len(suffix)
	if truncateAt < 0 {
		truncateAt = 0
	}

	return text[:truncateAt] + suffix
}

// extractRetryAfter reads retry_after from a JSON error body, then the
// Retry-After header, defaulting to 5 seconds.
func extractRetryAfter(resp *http.Response, body []byte) time.Duration {
	var payload struct {
		RetryAfter float64 `json:"retry_after"`
	}
	if err := json.Unmarshal(body, &payload); err == nil && payload.RetryAfter > 0 {
		return time.Duration(payload.RetryAfter * float64(time.Second))
	}

	if header := resp.Header.Get("Retry-After"); header != "" {
		if seconds, err := strconv.Atoi(header); err == nil && seconds > 0 {
			return time.Duration(seconds) * time.Second
		}
	}

	return 5 * time.Second
}

// alertTitle is the one-line headline used by every channel.
func alertTitle(a failure.Alert) string {
	return fmt.Sprintf("High failure rate: %s (%s)", a.Component, a.Kind)
}

// alertDetail describes the count, window and sample message.
func alertDetail(a failure.Alert) string {
	detail := fmt.Sprintf("%d failures in the last %s", a.Count, a.Window)
	if a.Sample != "" {
		detail += "\nLast error: " + a.Sample
	}
	return detail
}

// webhook posts JSON payloads and retries transient failures.
type webhook struct {
	service     string
	url         string
	client      *http.Client
	limiter     *RateLimiter
	maxAttempts int
	baseDelay   time.Duration
	logger      *slog.Logger
}

// post sends one request and maps the response onto the error types above.
func (w *webhook) post(ctx context.Context, payload any) error {
	jsonData, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(jsonData))
	if err != nil {
		return fmt.Errorf("create http request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("execute http request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusTooManyRequests:
		return &RateLimitError{
			Message:    w.service + " rate limit exceeded",
			RetryAfter: extractRetryAfter(resp, body),
		}
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return &ClientError{
			StatusCode: resp.StatusCode,
			Message:    fmt.Sprintf("%s API client error: %s", w.service, string(body)),
		}
	case resp.StatusCode >= 500:
		return &ServerError{
			StatusCode: resp.StatusCode,
			Message:    fmt.Sprintf("%s API server error: %s", w.service, string(body)),
		}
	}
	return fmt.Errorf("unexpected status code %d: %s", resp.StatusCode, string(body))
}

// send waits for the rate limiter, then posts with retries.
//
// Retry strategy:
//   - 429 errors: sleep retry_after, then retry
//   - Server errors (5xx) and network errors: linear backoff (baseDelay * attempt)
//   - Client errors (4xx): no retry
func (w *webhook) send(ctx context.Context, alert failure.Alert, payload any) error {
	logger := w.logger.With(
		slog.String("channel", w.service),
		slog.String("component", alert.Component),
		slog.String("failure_kind", string(alert.Kind)))

	if err := w.limiter.Allow(ctx); err != nil {
		return fmt.Errorf("rate limiter error: %w", err)
	}

	var lastErr error
	for attempt := 1; attempt <= w.maxAttempts; attempt++ {
		err := w.post(ctx, payload)
		if err == nil {
			logger.Info("alert notification sent", slog.Int("attempt", attempt))
			return nil
		}
		lastErr = err

		var wait time.Duration
		if rateLimitErr, ok := is429Error(err); ok {
			wait = rateLimitErr.RetryAfter
			logger.Warn("webhook rate limit hit, backing off",
				slog.Duration("retry_after", wait),
				slog.Int("attempt", attempt))
		} else if !isRetryableError(err) {
			logger.Error("alert notification failed with non-retryable error",
				slog.Any("error", err),
				slog.Int("attempt", attempt))
			return err
		} else {
			wait = w.baseDelay * time.Duration(attempt)
			logger.Warn("webhook request failed, retrying",
				slog.Any("error", err),
				slog.Int("attempt", attempt),
				slog.Duration("delay", wait))
		}

		if attempt == w.maxAttempts {
			break
		}
		timer := time.NewTimer(wait)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("context canceled during retry backoff: %w", ctx.Err())
		}
	}

	logger.Error("alert notification failed after all retries",
		slog.Any("error", lastErr),
		slog.Int("max_attempts", w.maxAttempts))
	return fmt.Errorf("%s notification failed after %d attempts: %w", w.service, w.maxAttempts, lastErr)
}
