package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"regwatch/internal/domain/entity"
	"regwatch/internal/infra/fetcher"
	"regwatch/internal/infra/parser"
	"regwatch/internal/resilience/failure"
	"regwatch/internal/usecase/ingest"
)

// Diagnostic statuses.
const (
	diagOK         = "OK"
	diagHTTPError  = "HTTP_ERROR"
	diagTimeout    = "TIMEOUT"
	diagParseError = "PARSE_ERROR"
	diagEmpty      = "EMPTY"
	diagBlocked    = "BLOCKED"
)

// FeedDiagnostic is the result of one diagnostic fetch.
type FeedDiagnostic struct {
	ID           string             `json:"id"`
	URL          string             `json:"url"`
	Status       string             `json:"status"`
	FailureKind  entity.FailureKind `json:"failure_kind,omitempty"`
	HTTPCode     int                `json:"http_code,omitempty"`
	ItemCount    int                `json:"item_count"`
	Fingerprint  string             `json:"fingerprint,omitempty"`
	Latest       *time.Time         `json:"latest,omitempty"`
	ErrorMessage string             `json:"error_message,omitempty"`
	ResponseTime int64              `json:"response_time_ms"`
}

func newDiagnoseCommand(root *rootOptions) *cobra.Command {
	var (
		adhoc        adhocTarget
		output       string
		allowPrivate bool
		pause        time.Duration
	)

	cmd := &cobra.Command{
		Use:   "diagnose [source-id...]",
		Short: "Fetch and parse sources once without storing anything",
		Long: "Fetches each configured source (or the ones named) and reports whether it\n" +
			"responds, parses and has entries. --url checks an unconfigured feed.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if output != "text" && output != "json" {
				return fmt.Errorf("unknown output %q", output)
			}
			logger := root.logger()

			sources, err := diagnoseTargets(logger, adhoc, args)
			if err != nil {
				return err
			}

			fetchConfig, err := fetcher.LoadConfigFromEnv()
			if err != nil {
				return err
			}
			if allowPrivate {
				fetchConfig.DenyPrivateIPs = false
			}
			f := fetcher.NewFeedFetcher(fetchConfig, logger)
			parsers := parser.Parsers(logger)

			results := make([]FeedDiagnostic, 0, len(sources))
			for i, src := range sources {
				if i > 0 && pause > 0 {
					time.Sleep(pause)
				}
				logger.Info("diagnosing source", slog.String("source_id", src.ID), slog.Int("n", i+1), slog.Int("of", len(sources)))
				results = append(results, diagnose(cmd.Context(), f, parsers, src))
			}

			if output == "json" {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(results)
			}
			return printDiagnostics(cmd.OutOrStdout(), results)
		},
	}
	cmd.Flags().StringVar(&adhoc.url, "url", "", "diagnose this URL instead of configured sources")
	cmd.Flags().StringVar(&adhoc.format, "format", "rss", "format of --url: rss or html")
	cmd.Flags().StringVar(&adhoc.itemSelector, "item-selector", "", "CSS selector of one listing entry (--format html)")
	cmd.Flags().StringVar(&adhoc.titleSelector, "title-selector", "", "CSS selector of the entry title (--format html)")
	cmd.Flags().StringVarP(&output, "output", "o", "text", "output format: text or json")
	cmd.Flags().BoolVar(&allowPrivate, "allow-private", false, "allow URLs resolving to private addresses")
	cmd.Flags().DurationVar(&pause, "pause", 500*time.Millisecond, "pause between sources")
	return cmd
}

// adhocTarget is an unconfigured source given on the command line.
type adhocTarget struct {
	url           string
	format        string
	itemSelector  string
	titleSelector string
}

func diagnoseTargets(logger *slog.Logger, adhoc adhocTarget, ids []string) ([]*entity.FeedSource, error) {
	if adhoc.url != "" {
		src := &entity.FeedSource{
			ID:           "adhoc",
			Name:         adhoc.url,
			URL:          adhoc.url,
			Jurisdiction: "-",
			Format:       entity.FeedFormat(adhoc.format),
			PollInterval: time.Hour,
		}
		if src.Format == entity.FormatHTML {
			src.Scraper = &entity.ScraperConfig{ItemSelector: adhoc.itemSelector, TitleSelector: adhoc.titleSelector}
		}
		if err := src.Validate(); err != nil {
			return nil, err
		}
		return []*entity.FeedSource{src}, nil
	}

	cfg, err := loadConfig(logger)
	if err != nil {
		return nil, err
	}
	configured, err := cfg.FeedSources()
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return configured, nil
	}

	byID := make(map[string]*entity.FeedSource, len(configured))
	for _, src := range configured {
		byID[src.ID] = src
	}
	out := make([]*entity.FeedSource, 0, len(ids))
	for _, id := range ids {
		src, ok := byID[id]
		if !ok {
			return nil, fmt.Errorf("source %q is not configured", id)
		}
		out = append(out, src)
	}
	return out, nil
}

// diagnose fetches and parses src once and classifies the outcome.
func diagnose(ctx context.Context, f ingest.FeedFetcher, parsers map[entity.FeedFormat]ingest.FeedParser, src *entity.FeedSource) FeedDiagnostic {
	d := FeedDiagnostic{ID: src.ID, URL: src.URL}

	start := time.Now()
	res, err := f.Fetch(ctx, src)
	d.ResponseTime = time.Since(start).Milliseconds()
	if err != nil {
		d.FailureKind = failure.Classify(err)
		d.ErrorMessage = err.Error()
		var httpErr *failure.HTTPError
		switch {
		case errors.As(err, &httpErr):
			d.Status = diagHTTPError
			d.HTTPCode = httpErr.StatusCode
		case d.FailureKind == entity.FailureTimeout:
			d.Status = diagTimeout
		case d.FailureKind == entity.FailureValidation:
			d.Status = diagBlocked
		default:
			d.Status = diagHTTPError
		}
		return d
	}
	d.HTTPCode = res.StatusCode
	d.Fingerprint = ingest.Fingerprint(res.Body)

	p, ok := parsers[src.Format]
	if !ok {
		d.Status = diagParseError
		d.ErrorMessage = fmt.Sprintf("no parser for format %q", src.Format)
		return d
	}
	entries, err := p.Parse(ctx, src, res.Body)
	if err != nil {
		d.Status = diagParseError
		d.FailureKind = failure.Classify(err)
		d.ErrorMessage = err.Error()
		return d
	}

	d.ItemCount = len(entries)
	for _, e := range entries {
		if e.PublishedAt != nil && (d.Latest == nil || e.PublishedAt.After(*d.Latest)) {
			t := *e.PublishedAt
			d.Latest = &t
		}
	}
	if d.ItemCount == 0 {
		d.Status = diagEmpty
		return d
	}
	d.Status = diagOK
	return d
}

func printDiagnostics(w io.Writer, results []FeedDiagnostic) error {
	ok := 0
	for _, d := range results {
		if d.Status == diagOK {
			ok++
		}
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSTATUS\tHTTP\tITEMS\tLATEST\tTIME\tFINGERPRINT\tERROR")
	for _, d := range results {
		latest := "-"
		if d.Latest != nil {
			latest = d.Latest.UTC().Format(time.RFC3339)
		}
		fingerprint := d.Fingerprint
		if len(fingerprint) > 12 {
			fingerprint = fingerprint[:12]
		}
		fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%s\t%dms\t%s\t%s\n",
			d.ID, d.Status, d.HTTPCode, d.ItemCount, latest, d.ResponseTime, fingerprint, d.ErrorMessage)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	_, err := fmt.Fprintf(w, "\n%d/%d sources working\n", ok, len(results))
	return err
}
