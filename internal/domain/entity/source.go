package entity

import (
	"fmt"
	"time"
)

// FeedFormat identifies how a source's payload is parsed into entries.
type FeedFormat string

const (
	// FormatRSS covers RSS 2.0, Atom and JSON Feed payloads.
	FormatRSS FeedFormat = "rss"
	// FormatHTML is a listing page scraped with CSS selectors.
	FormatHTML FeedFormat = "html"
)

// Priority is carried from a source to the items and events it produces.
type Priority string

const (
	PriorityLow      Priority = "low"
	PriorityNormal   Priority = "normal"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

// Valid reports whether p is one of the known priorities.
func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityNormal, PriorityHigh, PriorityCritical:
		return true
	}
	return false
}

// HealthStatus is the coarse health of a single feed source.
type HealthStatus string

const (
	HealthUnknown HealthStatus = "unknown"
	HealthHealthy HealthStatus = "healthy"
	HealthWarning HealthStatus = "warning"
	HealthError   HealthStatus = "error"
)

// DefaultErrorThreshold is the failure streak at which a source turns from warning to error.
const DefaultErrorThreshold = 5

// FeedSource represents a publication feed polled by the ingestion scheduler.
// Configuration fields are set at startup; Health is mutated only by the
// source's own poller.
type FeedSource struct {
	ID           string
	Name         string
	URL          string
	Jurisdiction string
	Format       FeedFormat
	PollInterval time.Duration
	Active       bool
	Priority     Priority

	// Headers are sent with every fetch (e.g. Authorization). Never logged.
	Headers map[string]string

	// Scraper is required for FormatHTML sources.
	Scraper *ScraperConfig

	Health SourceHealth
}

// ScraperConfig holds CSS selectors for HTML listing sources.
type ScraperConfig struct {
	ItemSelector  string `json:"item_selector,omitempty" yaml:"item_selector"`
	TitleSelector string `json:"title_selector,omitempty" yaml:"title_selector"`
	DateSelector  string `json:"date_selector,omitempty" yaml:"date_selector"`
	URLSelector   string `json:"url_selector,omitempty" yaml:"url_selector"`
	DateFormat    string `json:"date_format,omitempty" yaml:"date_format"`

	// URLPrefix is prepended to relative links.
	URLPrefix string `json:"url_prefix,omitempty" yaml:"url_prefix"`
}

// SourceHealth is the mutable polling state of a FeedSource.
type SourceHealth struct {
	Status              HealthStatus
	LastPollAt          *time.Time
	LastSuccessAt       *time.Time
	ConsecutiveFailures int
	TotalPolls          int64
	SuccessfulPolls     int64
	LastFingerprint     string
	LastError           string
	LastLatency         time.Duration
}

// RecordSuccess marks a successful poll. The failure streak is cleared and the
// status set to healthy in the same step.
func (h *SourceHealth) RecordSuccess(at time.Time, latency time.Duration, fingerprint string) {
	h.LastPollAt = &at
	h.LastSuccessAt = &at
	h.TotalPolls++
	h.SuccessfulPolls++
	h.LastLatency = latency
	h.LastFingerprint = fingerprint
	h.LastError = ""
	h.ConsecutiveFailures = 0
	h.Status = HealthHealthy
}

// RecordFailure marks a failed poll. The status becomes warning while the
// streak is below errorThreshold and error at or above it.
func (h *SourceHealth) RecordFailure(at time.Time, latency time.Duration, err error, errorThreshold int) {
	if errorThreshold <= 0 {
		errorThreshold = DefaultErrorThreshold
	}
	h.LastPollAt = &at
	h.TotalPolls++
	h.LastLatency = latency
	if err != nil {
		h.LastError = err.Error()
	}
	h.ConsecutiveFailures++
	if h.ConsecutiveFailures >= errorThreshold {
		h.Status = HealthError
	} else {
		h.Status = HealthWarning
	}
}

// Clone returns a deep copy so snapshots can be shared with readers.
func (s *FeedSource) Clone() *FeedSource {
	c := *s
	if s.Headers != nil {
		c.Headers = make(map[string]string, len(s.Headers))
		for k, v := range s.Headers {
			c.Headers[k] = v
		}
	}
	if s.Scraper != nil {
		sc := *s.Scraper
		c.Scraper = &sc
	}
	return &c
}

// Validate checks the static configuration of the source and fills defaults.
func (s *FeedSource) Validate() error {
	if s.ID == "" {
		return &ValidationError{Field: "id", Message: "id is required"}
	}
	if err := ValidateURL(s.URL); err != nil {
		return err
	}
	if s.Jurisdiction == "" {
		return &ValidationError{Field: "jurisdiction", Message: "jurisdiction is required"}
	}
	if s.PollInterval <= 0 {
		return &ValidationError{Field: "poll_interval", Message: "poll interval must be positive"}
	}

	if s.Format == "" {
		s.Format = FormatRSS
	}
	switch s.Format {
	case FormatRSS:
	case FormatHTML:
		if s.Scraper == nil || s.Scraper.ItemSelector == "" {
			return &ValidationError{Field: "scraper.item_selector", Message: "required for html sources"}
		}
	default:
		return &ValidationError{Field: "format", Message: fmt.Sprintf("%q is not rss or html", s.Format)}
	}

	if s.Priority == "" {
		s.Priority = PriorityNormal
	}
	if !s.Priority.Valid() {
		return &ValidationError{Field: "priority", Message: fmt.Sprintf("unknown priority %q", s.Priority)}
	}
	if s.Health.Status == "" {
		s.Health.Status = HealthUnknown
	}
	return nil
}
