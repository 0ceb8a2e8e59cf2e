package parser

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"regwatch/internal/domain/entity"
	"regwatch/internal/resilience/failure"
	"regwatch/internal/usecase/ingest"
)

// fallbackDateFormats are tried when the configured date format does not match.
var fallbackDateFormats = []string{
	"2006-01-02",
	"2006-01-02T15:04:05Z",
	time.RFC3339,
	"02/01/2006",
	"02.01.2006",
	"2 January 2006",
	"Jan 2, 2006",
	"January 2, 2006",
}

// HTMLParser extracts entries from listing pages using the source's
// ScraperConfig selectors.
type HTMLParser struct {
	logger *slog.Logger
}

var _ ingest.FeedParser = (*HTMLParser)(nil)

// NewHTMLParser creates an HTMLParser.
func NewHTMLParser(logger *slog.Logger) *HTMLParser {
	if logger == nil {
		logger = slog.Default()
	}
	return &HTMLParser{logger: logger}
}

// Parse selects one entry per ScraperConfig.ItemSelector match. Elements
// without a title or link are skipped. A date that cannot be parsed leaves
// PublishedAt nil so the entry fingerprint stays stable.
func (p *HTMLParser) Parse(ctx context.Context, src *entity.FeedSource, body []byte) ([]ingest.FeedEntry, error) {
	cfg := src.Scraper
	if cfg == nil || cfg.ItemSelector == "" || cfg.TitleSelector == "" {
		return nil, failure.Wrapf(entity.FailureValidation, "source %s: html format requires item and title selectors", src.ID)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, failure.Wrap(entity.FailureParsing, fmt.Errorf("parse html %s: %w", src.ID, err))
	}

	base, _ := url.Parse(src.URL)
	var entries []ingest.FeedEntry

	doc.Find(cfg.ItemSelector).Each(func(i int, el *goquery.Selection) {
		title := strings.Join(strings.Fields(el.Find(cfg.TitleSelector).First().Text()), " ")
		if title == "" {
			p.logger.Debug("skipping item with empty title", slog.String("source_id", src.ID), slog.Int("index", i))
			return
		}

		link := itemLink(el, cfg.URLSelector)
		if link == "" {
			p.logger.Debug("skipping item with empty URL", slog.String("source_id", src.ID), slog.String("title", title))
			return
		}

		entry := ingest.FeedEntry{
			Title: title,
			URL:   makeAbsoluteURL(link, cfg.URLPrefix, base),
		}
		if cfg.DateSelector != "" {
			dateStr := strings.TrimSpace(el.Find(cfg.DateSelector).First().Text())
			entry.PublishedAt = p.parseDate(src.ID, dateStr, cfg.DateFormat)
		}
		entries = append(entries, entry)
	})

	return entries, nil
}

// itemLink reads href from the URL selector match, the element itself when it
// is an anchor, or the first anchor inside it.
func itemLink(el *goquery.Selection, selector string) string {
	if selector != "" {
		if href, ok := el.Find(selector).First().Attr("href"); ok {
			return strings.TrimSpace(href)
		}
		return ""
	}
	if href, ok := el.Attr("href"); ok {
		return strings.TrimSpace(href)
	}
	if href, ok := el.Find("a[href]").First().Attr("href"); ok {
		return strings.TrimSpace(href)
	}
	return ""
}

func (p *HTMLParser) parseDate(sourceID, dateStr, format string) *time.Time {
	if dateStr == "" {
		return nil
	}
	if format != "" {
		if t, err := time.Parse(format, dateStr); err == nil {
			return &t
		}
	}
	for _, f := range fallbackDateFormats {
		if t, err := time.Parse(f, dateStr); err == nil {
			return &t
		}
	}
	p.logger.Warn("failed to parse date",
		slog.String("source_id", sourceID),
		slog.String("date_str", dateStr),
		slog.String("format", format))
	return nil
}

// makeAbsoluteURL resolves relative links against prefix, or against the
// listing page URL when no prefix is configured.
func makeAbsoluteURL(link, prefix string, base *url.URL) string {
	if strings.HasPrefix(link, "http://") || strings.HasPrefix(link, "https://") {
		return link
	}
	if prefix != "" {
		return strings.TrimRight(prefix, "/") + "/" + strings.TrimLeft(link, "/")
	}
	if base != nil {
		if ref, err := url.Parse(link); err == nil {
			return base.ResolveReference(ref).String()
		}
	}
	return link
}
