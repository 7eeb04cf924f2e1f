package config

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "./canon.db", cfg.DBPath)
	assert.Equal(t, "memory://", cfg.QueueDSN)
	assert.Equal(t, 1, cfg.StageWorkers)
	assert.Equal(t, 30*time.Second, cfg.ScheduleInterval)
	assert.Equal(t, 500*time.Millisecond, cfg.RetryBaseDelay)
	assert.Equal(t, 5*time.Minute, cfg.RetryMaxDelay)
	assert.Equal(t, 5, cfg.MaxRetryAttempts)
	assert.Equal(t, FormatText, cfg.LogFormat)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("CANON_DB_PATH", "/var/lib/canon/canon.db")
	t.Setenv("CANON_QUEUE_DSN", "sqlite:///var/lib/canon/queue.db")
	t.Setenv("CANON_STAGE_WORKERS", "4")
	t.Setenv("CANON_SCHEDULE_INTERVAL", "5s")
	t.Setenv("CANON_LOG_FORMAT", "json")
	t.Setenv("CANON_LOG_LEVEL", "debug")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "/var/lib/canon/canon.db", cfg.DBPath)
	assert.Equal(t, "sqlite:///var/lib/canon/queue.db", cfg.QueueDSN)
	assert.Equal(t, 4, cfg.StageWorkers)
	assert.Equal(t, 5*time.Second, cfg.ScheduleInterval)
	assert.Equal(t, FormatJSON, cfg.LogFormat)
	assert.Equal(t, "debug", cfg.LogLevel)
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name, key, value, want string
	}{
		{"bad int", "CANON_STAGE_WORKERS", "many", "parse env:"},
		{"zero workers", "CANON_STAGE_WORKERS", "0", "CANON_STAGE_WORKERS"},
		{"bad duration", "CANON_RETRY_BASE_DELAY", "soon", "parse env:"},
		{"max below base", "CANON_RETRY_MAX_DELAY", "1ms", "retry delays"},
		{"bad level", "CANON_LOG_LEVEL", "loud", "unknown log level"},
		{"bad format", "CANON_LOG_FORMAT", "xml", "CANON_LOG_FORMAT"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			_, err := Load()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewLogger(&buf, FormatJSON, "warn")
	require.NoError(t, err)

	logger.Info("dropped")
	logger.Warn("kept", "event", "test")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "kept", line["msg"])
	assert.Equal(t, "test", line["event"])

	_, err = NewLogger(&buf, "xml", "info")
	assert.Error(t, err)
}

func TestParseLevel(t *testing.T) {
	lvl, err := ParseLevel("WARNING")
	require.NoError(t, err)
	assert.Equal(t, slog.LevelWarn, lvl)

	lvl, err = ParseLevel("")
	require.NoError(t, err)
	assert.Equal(t, slog.LevelInfo, lvl)
}
