package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := LoadWithPath(t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, 10, cfg.MaxParallelSteps)
	assert.Equal(t, 3, cfg.MaxRetries)
	assert.Equal(t, 250*time.Millisecond, cfg.RetryBase())
	assert.Equal(t, 60*time.Second, cfg.StepTimeoutDefault())

	assert.Equal(t, 10, cfg.RateLimit.MaxPerInterval)
	assert.Equal(t, time.Second, cfg.RateLimit.Interval())
	assert.Equal(t, 250*time.Millisecond, cfg.RateLimit.BaseDelay())

	assert.Equal(t, 8080, cfg.Stream.Port)
	assert.Equal(t, 512*1024, cfg.Stream.MaxBufferedBytes)
	assert.Equal(t, time.Second, cfg.Stream.BroadcastPeriod())
	assert.Empty(t, cfg.Stream.Token)
	assert.Empty(t, cfg.ApprovalToken)

	assert.Equal(t, 9090, cfg.Metrics.Port)
	assert.Equal(t, 100, cfg.History.Size)
	assert.Empty(t, cfg.NATS.URL)
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("A2A_MAX_PARALLEL_STEPS", "4")
	t.Setenv("A2A_RATE_LIMIT_MAX_PER_INTERVAL", "2")
	t.Setenv("A2A_STREAM_TOKEN", "s3cret")
	t.Setenv("A2A_APPROVAL_TOKEN", "approve-me")
	t.Setenv("A2A_LOG_LEVEL", "debug")

	cfg, err := LoadWithPath(t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, 4, cfg.MaxParallelSteps)
	assert.Equal(t, 2, cfg.RateLimit.MaxPerInterval)
	assert.Equal(t, "s3cret", cfg.Stream.Token)
	assert.Equal(t, "approve-me", cfg.ApprovalToken)
	// The top-level logLevel switch flows into the logging section.
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestLoad_ConfigFile(t *testing.T) {
	dir := t.TempDir()
	yaml := []byte(`
maxParallelSteps: 2
stream:
  port: 7070
  broadcastMs: 100
history:
  size: 5
`)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), yaml, 0o644))

	cfg, err := LoadWithPath(dir)
	require.NoError(t, err)
	assert.Equal(t, 2, cfg.MaxParallelSteps)
	assert.Equal(t, 7070, cfg.Stream.Port)
	assert.Equal(t, 5, cfg.History.Size)
	// Broadcast cadence is clamped to its floor.
	assert.Equal(t, 250*time.Millisecond, cfg.Stream.BroadcastPeriod())
}

func TestLoad_Validation(t *testing.T) {
	cases := []struct {
		name string
		env  map[string]string
	}{
		{"zero parallel steps", map[string]string{"A2A_MAX_PARALLEL_STEPS": "0"}},
		{"zero rate budget", map[string]string{"A2A_RATE_LIMIT_MAX_PER_INTERVAL": "0"}},
		{"zero interval", map[string]string{"A2A_RATE_LIMIT_INTERVAL_MS": "0"}},
		{"zero history", map[string]string{"A2A_HISTORY_SIZE": "0"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			for k, v := range tc.env {
				t.Setenv(k, v)
			}
			_, err := LoadWithPath(t.TempDir())
			require.Error(t, err)
			assert.Contains(t, err.Error(), "config validation failed")
		})
	}
}

func TestLoad_PortCollisionRejected(t *testing.T) {
	dir := t.TempDir()
	yaml := []byte(`
stream:
  port: 9090
`)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), yaml, 0o644))

	_, err := LoadWithPath(dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "must differ")
}
