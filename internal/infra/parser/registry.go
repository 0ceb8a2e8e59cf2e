package parser

import (
	"log/slog"

	"regwatch/internal/domain/entity"
	"regwatch/internal/usecase/ingest"
)

// Parsers returns the parser for every supported feed format.
func Parsers(logger *slog.Logger) map[entity.FeedFormat]ingest.FeedParser {
	return map[entity.FeedFormat]ingest.FeedParser{
		entity.FormatRSS:  RSSParser{},
		entity.FormatHTML: NewHTMLParser(logger),
	}
}
