package fetcher

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"unicode/utf8"

	"github.com/go-shiori/go-readability"

	"regwatch/internal/domain/entity"
	"regwatch/internal/resilience/failure"
	"regwatch/internal/usecase/ingest"
)

// maxSummaryRunes bounds ProcessResult.Summary.
const maxSummaryRunes = 500

// ReadabilityProcessor is the default content processor. It downloads the
// document page of a discovered item and extracts its main text with the
// Mozilla Readability algorithm. Thread safety: safe for concurrent use.
type ReadabilityProcessor struct {
	client *http.Client
	config Config
	logger *slog.Logger
}

var _ ingest.ContentProcessor = (*ReadabilityProcessor)(nil)

// NewReadabilityProcessor creates a ReadabilityProcessor.
func NewReadabilityProcessor(cfg Config, logger *slog.Logger) *ReadabilityProcessor {
	if logger == nil {
		logger = slog.Default()
	}
	return &ReadabilityProcessor{client: newHTTPClient(cfg), config: cfg, logger: logger}
}

// Process fetches item.URL and extracts readable text. ExtractedCount is the
// number of non-empty paragraphs; a page without readable text is reported as
// an unsuccessful result rather than an error.
func (p *ReadabilityProcessor) Process(ctx context.Context, item *entity.DiscoveredItem) (ingest.ProcessResult, error) {
	resp, body, err := get(ctx, p.client, p.config, item.URL, nil)
	if err != nil {
		return ingest.ProcessResult{}, err
	}

	// Relative links resolve against the final URL after redirects.
	pageURL, _ := url.Parse(item.URL)
	if resp.Request != nil && resp.Request.URL != nil {
		pageURL = resp.Request.URL
	}

	article, err := readability.FromReader(bytes.NewReader(body), pageURL)
	if err != nil {
		return ingest.ProcessResult{}, failure.Wrap(entity.FailureParsing, fmt.Errorf("readability: %w", err))
	}

	text := strings.TrimSpace(article.TextContent)
	if text == "" {
		p.logger.Debug("no readable content",
			slog.String("item_id", item.ID),
			slog.String("url", item.URL))
		return ingest.ProcessResult{Success: false, Summary: ErrNoContent.Error()}, nil
	}

	summary := strings.TrimSpace(article.Excerpt)
	if summary == "" {
		summary = text
	}

	return ingest.ProcessResult{
		Success:        true,
		ExtractedCount: countParagraphs(text),
		Summary:        truncate(summary, maxSummaryRunes),
	}, nil
}

func countParagraphs(text string) int {
	n := 0
	for _, line := range strings.Split(text, "\n") {
		if strings.TrimSpace(line) != "" {
			n++
		}
	}
	return n
}

func truncate(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	r := []rune(s)
	return string(r[:max]) + "…"
}
