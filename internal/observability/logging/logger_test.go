package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"", slog.LevelInfo},
		{"debug", slog.LevelDebug},
		{"warn", slog.LevelWarn},
		{"error", slog.LevelError},
		{"invalid", slog.LevelInfo},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseLevel(tt.in))
		})
	}
}

func TestNewLogger_RespectsLevel(t *testing.T) {
	t.Setenv("LOG_LEVEL", "debug")
	logger := NewLogger()
	require.NotNil(t, logger)
	assert.True(t, logger.Enabled(context.Background(), slog.LevelDebug))

	t.Setenv("LOG_LEVEL", "")
	assert.False(t, NewTextLogger().Enabled(context.Background(), slog.LevelDebug))
}

func TestWithCorrelationID(t *testing.T) {
	var buf bytes.Buffer
	base := slog.New(slog.NewJSONHandler(&buf, nil))
	ctx := WithLogger(context.Background(), base)

	ctx = WithCorrelationID(ctx, "corr-123")
	FromContext(ctx).Info("processing item")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "corr-123", entry["correlation_id"])
	assert.Equal(t, "corr-123", CorrelationID(ctx))
}

func TestWithCorrelationID_Empty(t *testing.T) {
	ctx := context.Background()
	assert.Equal(t, ctx, WithCorrelationID(ctx, ""))
	assert.Empty(t, CorrelationID(ctx))
}

func TestFromContext_DefaultLogger(t *testing.T) {
	assert.Equal(t, slog.Default(), FromContext(context.Background()))
}

func TestWithFields(t *testing.T) {
	var buf bytes.Buffer
	logger := WithFields(slog.New(slog.NewJSONHandler(&buf, nil)), map[string]interface{}{
		"source_id": "EBA",
		"attempt":   2,
	})
	logger.Info("retrying")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "EBA", entry["source_id"])
	assert.Equal(t, float64(2), entry["attempt"])
}
