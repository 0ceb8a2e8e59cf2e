package fetcher

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"regwatch/internal/domain/entity"
	"regwatch/internal/resilience/failure"
)

// newHTTPClient builds a client whose redirect hops are bounded and re-validated.
func newHTTPClient(cfg Config) *http.Client {
	return &http.Client{
		Timeout: cfg.Timeout,
		Transport: &http.Transport{
			Proxy:               http.ProxyFromEnvironment,
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
			TLSClientConfig: &tls.Config{
				MinVersion: tls.VersionTLS12,
			},
		},
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= cfg.MaxRedirects {
				return fmt.Errorf("%w: %d redirects", ErrTooManyRedirects, len(via))
			}
			if err := validateURL(req.URL.String(), cfg.DenyPrivateIPs); err != nil {
				return fmt.Errorf("redirect target validation failed: %w", err)
			}
			return nil
		},
	}
}

// get performs a GET with headers and returns the size-limited body.
// Errors carry a failure kind: non-2xx statuses become *failure.HTTPError.
func get(ctx context.Context, client *http.Client, cfg Config, rawURL string, headers map[string]string) (*http.Response, []byte, error) {
	if err := validateURL(rawURL, cfg.DenyPrivateIPs); err != nil {
		return nil, nil, failure.Wrap(entity.FailureValidation, err)
	}

	reqCtx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, nil, failure.Wrap(entity.FailureValidation, fmt.Errorf("%w: %v", ErrInvalidURL, err))
	}
	req.Header.Set("User-Agent", cfg.UserAgent)
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		if errors.Is(reqCtx.Err(), context.DeadlineExceeded) {
			return nil, nil, failure.Wrapf(entity.FailureTimeout, "request exceeded %v: %w", cfg.Timeout, err)
		}
		var urlErr *url.Error
		if errors.As(err, &urlErr) && (errors.Is(urlErr.Err, ErrTooManyRedirects) ||
			errors.Is(urlErr.Err, ErrPrivateIP) || errors.Is(urlErr.Err, ErrInvalidURL)) {
			return nil, nil, failure.Wrap(entity.FailureValidation, urlErr.Err)
		}
		return nil, nil, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return resp, nil, &failure.HTTPError{StatusCode: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, cfg.MaxBodySize+1))
	if err != nil {
		return resp, nil, fmt.Errorf("failed to read response body: %w", err)
	}
	if int64(len(body)) > cfg.MaxBodySize {
		return resp, nil, failure.Wrapf(entity.FailureValidation, "%w: response size exceeds limit %d bytes", ErrBodyTooLarge, cfg.MaxBodySize)
	}
	return resp, body, nil
}
