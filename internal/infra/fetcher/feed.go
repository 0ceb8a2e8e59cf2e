package fetcher

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"regwatch/internal/domain/entity"
	"regwatch/internal/usecase/ingest"
)

// FeedFetcher retrieves raw feed payloads. Retries and circuit breaking are
// applied by the caller.
type FeedFetcher struct {
	client *http.Client
	config Config
	logger *slog.Logger
}

var _ ingest.FeedFetcher = (*FeedFetcher)(nil)

// NewFeedFetcher creates a FeedFetcher. A nil logger uses slog.Default().
func NewFeedFetcher(cfg Config, logger *slog.Logger) *FeedFetcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &FeedFetcher{client: newHTTPClient(cfg), config: cfg, logger: logger}
}

// Fetch downloads src.URL with the source's headers. Header values are never logged.
func (f *FeedFetcher) Fetch(ctx context.Context, src *entity.FeedSource) (*ingest.FetchResult, error) {
	headers := make(map[string]string, len(src.Headers)+1)
	switch src.Format {
	case entity.FormatHTML:
		headers["Accept"] = "text/html,application/xhtml+xml"
	default:
		headers["Accept"] = "application/rss+xml, application/atom+xml, application/feed+json, application/xml;q=0.9, */*;q=0.8"
	}
	for k, v := range src.Headers {
		headers[k] = v
	}

	start := time.Now()
	resp, body, err := get(ctx, f.client, f.config, src.URL, headers)
	if err != nil {
		f.logger.Debug("feed fetch failed",
			slog.String("source_id", src.ID),
			slog.Duration("duration", time.Since(start)),
			slog.Any("error", err))
		return nil, err
	}

	f.logger.Debug("feed fetched",
		slog.String("source_id", src.ID),
		slog.Int("status", resp.StatusCode),
		slog.Int("bytes", len(body)),
		slog.Duration("duration", time.Since(start)))

	return &ingest.FetchResult{
		Body:        body,
		ContentType: resp.Header.Get("Content-Type"),
		StatusCode:  resp.StatusCode,
	}, nil
}
