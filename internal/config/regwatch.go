package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"regwatch/internal/domain/entity"
	"regwatch/internal/infra/broker"
	"regwatch/internal/infra/notifier"
	"regwatch/internal/resilience/circuitbreaker"
	"regwatch/internal/resilience/dlq"
	"regwatch/internal/resilience/retry"
)

const (
	configPathEnv     = "REGWATCH_CONFIG"
	defaultConfigPath = "config/regwatch.yaml"

	databaseURLEnv       = "DATABASE_URL"
	databaseDialectEnv   = "DATABASE_DIALECT"
	natsURLEnv           = "NATS_URL"
	slackWebhookEnv      = "SLACK_WEBHOOK_URL"
	discordWebhookEnv    = "DISCORD_WEBHOOK_URL"
	defaultDatabaseURL   = "regwatch.db"
	defaultDialect       = "sqlite"
	defaultNotifyTimeout = 10 * time.Second
)

// Config is the file-based configuration of a regwatch process.
type Config struct {
	Sources         []SourceConfig                  `yaml:"sources" validate:"dive"`
	RetryPolicies   map[string]RetryPolicyConfig    `yaml:"retry_policies" validate:"dive,keys,oneof=feed_poll document_processing persistence broker_publish event_consume,endkeys"`
	CircuitBreakers map[string]CircuitBreakerConfig `yaml:"circuit_breakers" validate:"dive"`
	DLQ             DLQConfig                       `yaml:"dlq"`
	Broker          BrokerConfig                    `yaml:"broker"`
	Database        DatabaseConfig                  `yaml:"database"`
	Notifications   NotificationsConfig             `yaml:"notifications"`
}

// SourceConfig describes one feed source.
type SourceConfig struct {
	ID           string                `yaml:"id" validate:"required,max=64"`
	Name         string                `yaml:"name" validate:"required"`
	URL          string                `yaml:"url" validate:"required,url"`
	Jurisdiction string                `yaml:"jurisdiction" validate:"required"`
	Format       string                `yaml:"format" validate:"omitempty,oneof=rss html"`
	PollInterval time.Duration         `yaml:"poll_interval" validate:"gt=0"`
	Active       *bool                 `yaml:"active"`
	Priority     string                `yaml:"priority" validate:"omitempty,oneof=low normal high critical"`
	Headers      map[string]string     `yaml:"headers"`
	Scraper      *entity.ScraperConfig `yaml:"scraper" validate:"required_if=Format html"`
}

// RetryPolicyConfig overrides fields of a named retry policy. Zero values keep the default.
type RetryPolicyConfig struct {
	MaxAttempts int           `yaml:"max_attempts" validate:"gte=0,lte=20"`
	BaseDelay   time.Duration `yaml:"base_delay" validate:"gte=0"`
	MaxDelay    time.Duration `yaml:"max_delay" validate:"gte=0"`
	Multiplier  float64       `yaml:"multiplier" validate:"omitempty,gte=1"`
	Jitter      *bool         `yaml:"jitter"`
}

// CircuitBreakerConfig overrides the breaker of one dependency name.
type CircuitBreakerConfig struct {
	FailureThreshold uint32        `yaml:"failure_threshold"`
	SuccessThreshold uint32        `yaml:"success_threshold"`
	RecoveryTimeout  time.Duration `yaml:"recovery_timeout" validate:"gte=0"`
	CallTimeout      time.Duration `yaml:"call_timeout" validate:"gte=0"`
}

// DLQConfig holds the dead-letter recovery thresholds.
type DLQConfig struct {
	MaxFailureCount int           `yaml:"max_failure_count" validate:"gte=0"`
	MaxAge          time.Duration `yaml:"max_age" validate:"gte=0"`
	BatchSize       int           `yaml:"batch_size" validate:"gte=0"`
	ReplayRate      float64       `yaml:"replay_rate" validate:"gte=0"`
	MaxMessages     int           `yaml:"max_messages" validate:"gte=0"`
}

// BrokerConfig selects and configures the message broker.
type BrokerConfig struct {
	Driver          string        `yaml:"driver" validate:"omitempty,oneof=nats memory"`
	URL             string        `yaml:"url"`
	JetStream       *bool         `yaml:"jetstream"`
	Stream          string        `yaml:"stream"`
	Durable         string        `yaml:"durable"`
	DuplicateWindow time.Duration `yaml:"duplicate_window" validate:"gte=0"`
}

// DatabaseConfig selects the storage backend.
type DatabaseConfig struct {
	Dialect string `yaml:"dialect" validate:"omitempty,oneof=postgres postgresql pgx sqlite sqlite3 memory"`
	DSN     string `yaml:"dsn"`
}

// NotificationsConfig configures the alert channels.
type NotificationsConfig struct {
	Slack   WebhookConfig `yaml:"slack"`
	Discord WebhookConfig `yaml:"discord"`
}

// WebhookConfig is one webhook channel. Enabled requires a URL.
type WebhookConfig struct {
	Enabled    bool          `yaml:"enabled"`
	WebhookURL string        `yaml:"webhook_url" validate:"required_if=Enabled true,omitempty,url"`
	Timeout    time.Duration `yaml:"timeout" validate:"gte=0"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Load reads the file named by REGWATCH_CONFIG (default config/regwatch.yaml),
// applies environment overrides and validates the result. A missing file at
// the default path yields an empty configuration; a missing explicit path is
// an error.
func Load() (*Config, error) {
	path := os.Getenv(configPathEnv)
	explicit := path != ""
	if !explicit {
		path = defaultConfigPath
	}

	raw, err := os.ReadFile(path)
	switch {
	case err == nil:
	case errors.Is(err, os.ErrNotExist) && !explicit:
		raw = nil
	default:
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	return Parse(raw)
}

// Parse decodes YAML, applies environment overrides and validates.
func Parse(raw []byte) (*Config, error) {
	var cfg Config
	if len(raw) > 0 {
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return nil, fmt.Errorf("config: parse yaml: %w", err)
		}
	}

	cfg.applyEnvOverrides()
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyEnvOverrides() {
	if v := os.Getenv(databaseURLEnv); v != "" {
		c.Database.DSN = v
		if c.Database.Dialect == "" {
			c.Database.Dialect = "postgres"
		}
	}
	if v := os.Getenv(databaseDialectEnv); v != "" {
		c.Database.Dialect = v
	}
	if v := os.Getenv(natsURLEnv); v != "" {
		c.Broker.URL = v
		if c.Broker.Driver == "" {
			c.Broker.Driver = "nats"
		}
	}
	if v := os.Getenv(slackWebhookEnv); v != "" {
		c.Notifications.Slack.WebhookURL = v
		c.Notifications.Slack.Enabled = true
	}
	if v := os.Getenv(discordWebhookEnv); v != "" {
		c.Notifications.Discord.WebhookURL = v
		c.Notifications.Discord.Enabled = true
	}
}

func (c *Config) applyDefaults() {
	if c.Database.Dialect == "" {
		c.Database.Dialect = defaultDialect
	}
	if c.Database.DSN == "" && c.Database.Dialect != "memory" {
		c.Database.DSN = defaultDatabaseURL
	}
	if c.Broker.Driver == "" {
		c.Broker.Driver = "memory"
	}
	for _, wh := range []*WebhookConfig{&c.Notifications.Slack, &c.Notifications.Discord} {
		if wh.Timeout == 0 {
			wh.Timeout = defaultNotifyTimeout
		}
	}
}

// Validate checks struct tags, then the per-source rules of the domain model
// and duplicate source ids.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("config: %w", err)
	}

	seen := make(map[string]bool, len(c.Sources))
	for i := range c.Sources {
		sc := &c.Sources[i]
		if seen[sc.ID] {
			return fmt.Errorf("config: duplicate source id %q", sc.ID)
		}
		seen[sc.ID] = true

		src := sc.toEntity()
		if err := src.Validate(); err != nil {
			return fmt.Errorf("config: source %q: %w", sc.ID, err)
		}
	}
	return nil
}

// FeedSources converts the configured sources into validated domain sources.
func (c *Config) FeedSources() ([]*entity.FeedSource, error) {
	out := make([]*entity.FeedSource, 0, len(c.Sources))
	for i := range c.Sources {
		src := c.Sources[i].toEntity()
		if err := src.Validate(); err != nil {
			return nil, fmt.Errorf("source %q: %w", src.ID, err)
		}
		out = append(out, src)
	}
	return out, nil
}

func (sc *SourceConfig) toEntity() *entity.FeedSource {
	active := true
	if sc.Active != nil {
		active = *sc.Active
	}
	var scraper *entity.ScraperConfig
	if sc.Scraper != nil {
		s := *sc.Scraper
		scraper = &s
	}
	headers := make(map[string]string, len(sc.Headers))
	for k, v := range sc.Headers {
		headers[k] = v
	}
	return &entity.FeedSource{
		ID:           sc.ID,
		Name:         sc.Name,
		URL:          sc.URL,
		Jurisdiction: sc.Jurisdiction,
		Format:       entity.FeedFormat(sc.Format),
		PollInterval: sc.PollInterval,
		Active:       active,
		Priority:     entity.Priority(sc.Priority),
		Headers:      headers,
		Scraper:      scraper,
	}
}

// Policies returns the default retry policies with the configured overrides applied.
func (c *Config) Policies() map[string]retry.Policy {
	policies := retry.DefaultPolicies()
	for name, o := range c.RetryPolicies {
		p, ok := policies[name]
		if !ok {
			continue
		}
		if o.MaxAttempts > 0 {
			p.MaxAttempts = o.MaxAttempts
		}
		if o.BaseDelay > 0 {
			p.BaseDelay = o.BaseDelay
		}
		if o.MaxDelay > 0 {
			p.MaxDelay = o.MaxDelay
		}
		if o.Multiplier > 0 {
			p.Multiplier = o.Multiplier
		}
		if o.Jitter != nil {
			p.Jitter = *o.Jitter
		}
		policies[name] = p
	}
	return policies
}

// BreakerConfigs returns the per-dependency breaker configuration for
// circuitbreaker.NewRegistry. Unset fields keep the dependency's default.
func (c *Config) BreakerConfigs() map[string]circuitbreaker.Config {
	out := map[string]circuitbreaker.Config{
		retry.DepFeedSources: circuitbreaker.FeedSourceConfig(retry.DepFeedSources),
		retry.DepBroker:      circuitbreaker.BrokerConfig(),
		retry.DepStorage:     circuitbreaker.DBConfig(),
	}
	for name, o := range c.CircuitBreakers {
		base, ok := out[name]
		if !ok {
			base = circuitbreaker.DefaultConfig(name)
		}
		if o.FailureThreshold > 0 {
			base.FailureThreshold = o.FailureThreshold
		}
		if o.SuccessThreshold > 0 {
			base.SuccessThreshold = o.SuccessThreshold
		}
		if o.RecoveryTimeout > 0 {
			base.RecoveryTimeout = o.RecoveryTimeout
		}
		if o.CallTimeout > 0 {
			base.CallTimeout = o.CallTimeout
		}
		out[name] = base
	}
	for name, cfg := range out {
		cfg.Name = name
		out[name] = cfg
	}
	return out
}

// RecoveryPolicy returns the dead-letter recovery thresholds.
func (c *Config) RecoveryPolicy() dlq.RecoveryPolicy {
	p := dlq.DefaultRecoveryPolicy()
	if c.DLQ.MaxFailureCount > 0 {
		p.MaxFailureCount = c.DLQ.MaxFailureCount
	}
	if c.DLQ.MaxAge > 0 {
		p.MaxAge = c.DLQ.MaxAge
	}
	if c.DLQ.BatchSize > 0 {
		p.BatchSize = c.DLQ.BatchSize
	}
	if c.DLQ.ReplayRate > 0 {
		p.ReplayRate = c.DLQ.ReplayRate
	}
	return p
}

// DLQCapacity returns how many dead letters are kept before the oldest are evicted.
func (c *Config) DLQCapacity() int {
	if c.DLQ.MaxMessages > 0 {
		return c.DLQ.MaxMessages
	}
	return dlq.DefaultCapacity
}

// NATS returns the NATS connection settings.
func (c *Config) NATS() broker.Config {
	cfg := broker.DefaultConfig()
	if c.Broker.URL != "" {
		cfg.URL = c.Broker.URL
	}
	if c.Broker.JetStream != nil {
		cfg.JetStream = *c.Broker.JetStream
	}
	if c.Broker.Stream != "" {
		cfg.Stream = c.Broker.Stream
	}
	if c.Broker.Durable != "" {
		cfg.Durable = c.Broker.Durable
	}
	if c.Broker.DuplicateWindow > 0 {
		cfg.DuplicateWindow = c.Broker.DuplicateWindow
	}
	return cfg
}

// Slack returns the Slack notifier configuration.
func (c *Config) Slack() notifier.SlackConfig {
	s := c.Notifications.Slack
	return notifier.SlackConfig{Enabled: s.Enabled, WebhookURL: s.WebhookURL, Timeout: s.Timeout}
}

// Discord returns the Discord notifier configuration.
func (c *Config) Discord() notifier.DiscordConfig {
	d := c.Notifications.Discord
	return notifier.DiscordConfig{Enabled: d.Enabled, WebhookURL: d.WebhookURL, Timeout: d.Timeout}
}
