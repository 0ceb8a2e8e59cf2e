package fetcher

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, 30*time.Second, cfg.Timeout)
	assert.Equal(t, int64(10*1024*1024), cfg.MaxBodySize)
	assert.Equal(t, 5, cfg.MaxRedirects)
	assert.True(t, cfg.DenyPrivateIPs)
	assert.Equal(t, "RegwatchBot/1.0", cfg.UserAgent)
	assert.NoError(t, cfg.Validate())
}

func TestConfigValidate_Invalid(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"zero timeout", func(c *Config) { c.Timeout = 0 }},
		{"negative timeout", func(c *Config) { c.Timeout = -time.Second }},
		{"body too small", func(c *Config) { c.MaxBodySize = 512 }},
		{"body too large", func(c *Config) { c.MaxBodySize = 200 * 1024 * 1024 }},
		{"negative redirects", func(c *Config) { c.MaxRedirects = -1 }},
		{"too many redirects", func(c *Config) { c.MaxRedirects = 11 }},
		{"empty user agent", func(c *Config) { c.UserAgent = "" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestLoadConfigFromEnv_Defaults(t *testing.T) {
	for _, k := range []string{"FETCH_TIMEOUT", "FETCH_MAX_BODY_SIZE", "FETCH_MAX_REDIRECTS", "FETCH_DENY_PRIVATE_IPS", "FETCH_USER_AGENT"} {
		t.Setenv(k, "")
	}

	cfg, err := LoadConfigFromEnv()
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestLoadConfigFromEnv_CustomValues(t *testing.T) {
	t.Setenv("FETCH_TIMEOUT", "5s")
	t.Setenv("FETCH_MAX_BODY_SIZE", "2048")
	t.Setenv("FETCH_MAX_REDIRECTS", "2")
	t.Setenv("FETCH_DENY_PRIVATE_IPS", "false")
	t.Setenv("FETCH_USER_AGENT", "test-agent")

	cfg, err := LoadConfigFromEnv()
	require.NoError(t, err)
	assert.Equal(t, 5*time.Second, cfg.Timeout)
	assert.Equal(t, int64(2048), cfg.MaxBodySize)
	assert.Equal(t, 2, cfg.MaxRedirects)
	assert.False(t, cfg.DenyPrivateIPs)
	assert.Equal(t, "test-agent", cfg.UserAgent)
}

func TestLoadConfigFromEnv_InvalidValues(t *testing.T) {
	tests := []struct {
		key, value string
	}{
		{"FETCH_TIMEOUT", "soon"},
		{"FETCH_MAX_BODY_SIZE", "big"},
		{"FETCH_MAX_REDIRECTS", "many"},
		{"FETCH_MAX_REDIRECTS", "50"},
	}

	for _, tt := range tests {
		t.Run(tt.key+"="+tt.value, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			_, err := LoadConfigFromEnv()
			assert.Error(t, err)
		})
	}
}
