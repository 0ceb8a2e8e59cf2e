package ingest

import (
	"context"
	"time"

	"regwatch/internal/domain/entity"
)

// FetchResult is the raw payload retrieved from a feed source.
type FetchResult struct {
	Body        []byte
	ContentType string
	StatusCode  int
}

// FeedFetcher retrieves the raw payload of a source. Implementations send the
// source's configured headers and return a classified error for non-2xx responses.
type FeedFetcher interface {
	Fetch(ctx context.Context, src *entity.FeedSource) (*FetchResult, error)
}

// FeedEntry is a single entry parsed from a feed payload.
type FeedEntry struct {
	Title       string
	URL         string
	Summary     string
	ContentType string
	PublishedAt *time.Time
	UpdatedAt   *time.Time
}

// FeedParser turns a payload into entries. One parser exists per feed format.
type FeedParser interface {
	Parse(ctx context.Context, src *entity.FeedSource, body []byte) ([]FeedEntry, error)
}

// ProcessResult is the outcome reported by the content processor.
type ProcessResult struct {
	Success        bool
	ExtractedCount int
	Summary        string
}

// ContentProcessor is the external collaborator invoked once per discovered item.
type ContentProcessor interface {
	Process(ctx context.Context, item *entity.DiscoveredItem) (ProcessResult, error)
}

// EventPublisher publishes domain events produced by ingestion.
type EventPublisher interface {
	Publish(ctx context.Context, event entity.RegulatoryEvent) error
}
