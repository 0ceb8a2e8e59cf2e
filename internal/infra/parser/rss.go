// Package parser turns fetched feed payloads into entries. RSS 2.0, Atom and
// JSON Feed are handled by gofeed; HTML listing pages by goquery selectors.
package parser

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/mmcdole/gofeed"

	"regwatch/internal/domain/entity"
	"regwatch/internal/resilience/failure"
	"regwatch/internal/usecase/ingest"
)

// RSSParser parses RSS, Atom and JSON Feed payloads.
type RSSParser struct{}

var _ ingest.FeedParser = RSSParser{}

// Parse detects the feed type and maps its items. Items without a title and
// a link are skipped.
func (RSSParser) Parse(ctx context.Context, src *entity.FeedSource, body []byte) ([]ingest.FeedEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	feed, err := gofeed.NewParser().Parse(bytes.NewReader(body))
	if err != nil {
		return nil, failure.Wrap(entity.FailureParsing, fmt.Errorf("parse feed %s: %w", src.ID, err))
	}

	entries := make([]ingest.FeedEntry, 0, len(feed.Items))
	for _, it := range feed.Items {
		title := strings.TrimSpace(it.Title)
		link := strings.TrimSpace(it.Link)
		if link == "" && len(it.Links) > 0 {
			link = strings.TrimSpace(it.Links[0])
		}
		if title == "" && link == "" {
			continue
		}

		// Description first; Content carries the full body in most feeds.
		summary := it.Description
		if summary == "" {
			summary = it.Content
		}

		entry := ingest.FeedEntry{
			Title:       title,
			URL:         link,
			Summary:     strings.TrimSpace(summary),
			PublishedAt: it.PublishedParsed,
			UpdatedAt:   it.UpdatedParsed,
		}
		if len(it.Enclosures) > 0 && it.Enclosures[0] != nil {
			entry.ContentType = it.Enclosures[0].Type
		}
		entries = append(entries, entry)
	}
	return entries, nil
}
