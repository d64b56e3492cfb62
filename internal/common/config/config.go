// Package config provides configuration management for the A2A server.
// It supports loading configuration from environment variables, config files, and defaults.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration sections for the server.
type Config struct {
	MaxParallelSteps     int             `mapstructure:"maxParallelSteps"`
	MaxRetries           int             `mapstructure:"maxRetries"`
	RetryBaseMs          int             `mapstructure:"retryBaseMs"`
	StepTimeoutMsDefault int             `mapstructure:"stepTimeoutMsDefault"`
	LogLevel             string          `mapstructure:"logLevel"`
	ApprovalToken        string          `mapstructure:"approvalToken"` // pre-shared token accepted for require_approval submissions
	RateLimit            RateLimitConfig `mapstructure:"rateLimit"`
	Stream               StreamConfig    `mapstructure:"stream"`
	Metrics              MetricsConfig   `mapstructure:"metrics"`
	History              HistoryConfig   `mapstructure:"history"`
	NATS                 NATSConfig      `mapstructure:"nats"`
	Logging              LoggingConfig   `mapstructure:"logging"`
	Tracing              TracingConfig   `mapstructure:"tracing"`
}

// RateLimitConfig holds the outbound invocation token-bucket parameters.
type RateLimitConfig struct {
	MaxPerInterval int `mapstructure:"maxPerInterval"`
	IntervalMs     int `mapstructure:"intervalMs"`
	MaxRetries     int `mapstructure:"maxRetries"`
	BaseDelayMs    int `mapstructure:"baseDelayMs"`
}

// Interval returns the token bucket window as a time.Duration.
func (r *RateLimitConfig) Interval() time.Duration {
	return time.Duration(r.IntervalMs) * time.Millisecond
}

// BaseDelay returns the retry base delay as a time.Duration.
func (r *RateLimitConfig) BaseDelay() time.Duration {
	return time.Duration(r.BaseDelayMs) * time.Millisecond
}

// StreamConfig holds the push-channel bind address and backpressure limits.
type StreamConfig struct {
	Host             string `mapstructure:"host"`
	Port             int    `mapstructure:"port"`
	Token            string `mapstructure:"token"` // shared bearer required by /stream when set
	BroadcastMs      int    `mapstructure:"broadcastMs"`
	MaxBufferedBytes int    `mapstructure:"maxBufferedBytes"`
}

// BroadcastPeriod returns the stats broadcast cadence, clamped to the 250ms floor.
func (s *StreamConfig) BroadcastPeriod() time.Duration {
	ms := s.BroadcastMs
	if ms < 250 {
		ms = 250
	}
	return time.Duration(ms) * time.Millisecond
}

// MetricsConfig holds the HTTP health/metrics bind address.
type MetricsConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

// HistoryConfig holds the in-memory task history ring parameters.
type HistoryConfig struct {
	Size int `mapstructure:"size"`
}

// NATSConfig holds optional NATS event-bus configuration.
// An empty URL selects the in-memory bus.
type NATSConfig struct {
	URL           string `mapstructure:"url"`
	ClientID      string `mapstructure:"clientId"`
	MaxReconnects int    `mapstructure:"maxReconnects"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"outputPath"`
}

// TracingConfig holds OpenTelemetry exporter configuration.
type TracingConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Endpoint string `mapstructure:"endpoint"`
}

// StepTimeoutDefault returns the fallback per-step deadline as a time.Duration.
func (c *Config) StepTimeoutDefault() time.Duration {
	return time.Duration(c.StepTimeoutMsDefault) * time.Millisecond
}

// RetryBase returns the default backoff base as a time.Duration.
func (c *Config) RetryBase() time.Duration {
	return time.Duration(c.RetryBaseMs) * time.Millisecond
}

// detectDefaultLogFormat returns json in production environments and a
// human-readable console format for terminal use.
func detectDefaultLogFormat() string {
	if os.Getenv("KUBERNETES_SERVICE_HOST") != "" {
		return "json"
	}
	if env := os.Getenv("A2A_ENV"); env == "production" || env == "prod" {
		return "json"
	}
	return "text"
}

// setDefaults configures default values for all configuration options.
func setDefaults(v *viper.Viper) {
	// Engine defaults
	v.SetDefault("maxParallelSteps", 10)
	v.SetDefault("maxRetries", 3)
	v.SetDefault("retryBaseMs", 250)
	v.SetDefault("stepTimeoutMsDefault", 60000)
	v.SetDefault("logLevel", "info")
	v.SetDefault("approvalToken", "")

	// Rate limiter defaults
	v.SetDefault("rateLimit.maxPerInterval", 10)
	v.SetDefault("rateLimit.intervalMs", 1000)
	v.SetDefault("rateLimit.maxRetries", 3)
	v.SetDefault("rateLimit.baseDelayMs", 250)

	// Stream channel defaults
	v.SetDefault("stream.host", "0.0.0.0")
	v.SetDefault("stream.port", 8080)
	v.SetDefault("stream.token", "")
	v.SetDefault("stream.broadcastMs", 1000)
	v.SetDefault("stream.maxBufferedBytes", 512*1024)

	// Metrics defaults
	v.SetDefault("metrics.host", "0.0.0.0")
	v.SetDefault("metrics.port", 9090)

	// History ring defaults
	v.SetDefault("history.size", 100)

	// NATS defaults - empty URL means use in-memory event bus
	v.SetDefault("nats.url", "")
	v.SetDefault("nats.clientId", "a2a-server")
	v.SetDefault("nats.maxReconnects", 10)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", detectDefaultLogFormat())
	v.SetDefault("logging.outputPath", "stdout")

	// Tracing defaults
	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.endpoint", "localhost:4318")
}

// Load reads configuration from environment variables, config file, and defaults.
// Environment variables use the prefix A2A_ with snake_case naming.
// Config file should be named config.yaml and placed in the current directory or /etc/a2a/.
func Load() (*Config, error) {
	return LoadWithPath("")
}

// LoadWithPath reads configuration from the specified path or default locations.
func LoadWithPath(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetEnvPrefix("A2A")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// AutomaticEnv does not handle camelCase to SNAKE_CASE conversion,
	// so explicitly bind keys where env var naming differs from config key naming.
	_ = v.BindEnv("maxParallelSteps", "A2A_MAX_PARALLEL_STEPS")
	_ = v.BindEnv("maxRetries", "A2A_MAX_RETRIES")
	_ = v.BindEnv("retryBaseMs", "A2A_RETRY_BASE_MS")
	_ = v.BindEnv("stepTimeoutMsDefault", "A2A_STEP_TIMEOUT_MS_DEFAULT")
	_ = v.BindEnv("logLevel", "A2A_LOG_LEVEL")
	_ = v.BindEnv("approvalToken", "A2A_APPROVAL_TOKEN")
	_ = v.BindEnv("rateLimit.maxPerInterval", "A2A_RATE_LIMIT_MAX_PER_INTERVAL")
	_ = v.BindEnv("rateLimit.intervalMs", "A2A_RATE_LIMIT_INTERVAL_MS")
	_ = v.BindEnv("stream.broadcastMs", "A2A_STREAM_BROADCAST_MS")
	_ = v.BindEnv("stream.maxBufferedBytes", "A2A_STREAM_MAX_BUFFERED_BYTES")
	_ = v.BindEnv("stream.token", "A2A_STREAM_TOKEN")
	_ = v.BindEnv("history.size", "A2A_HISTORY_SIZE")

	v.SetConfigName("config")
	v.SetConfigType("yaml")

	if configPath != "" {
		v.AddConfigPath(configPath)
	}
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/a2a/")

	// Read config file (ignore if not found)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	// logLevel is the documented top-level switch; it wins over logging.level
	// unless the operator set the latter explicitly.
	if cfg.LogLevel != "" && !v.InConfig("logging.level") && os.Getenv("A2A_LOGGING_LEVEL") == "" {
		cfg.Logging.Level = cfg.LogLevel
	}

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// validate checks configuration invariants that would otherwise surface as
// confusing runtime behavior.
func validate(cfg *Config) error {
	if cfg.MaxParallelSteps < 1 {
		return fmt.Errorf("maxParallelSteps must be >= 1, got %d", cfg.MaxParallelSteps)
	}
	if cfg.RateLimit.MaxPerInterval < 1 {
		return fmt.Errorf("rateLimit.maxPerInterval must be >= 1, got %d", cfg.RateLimit.MaxPerInterval)
	}
	if cfg.RateLimit.IntervalMs < 1 {
		return fmt.Errorf("rateLimit.intervalMs must be >= 1, got %d", cfg.RateLimit.IntervalMs)
	}
	if cfg.History.Size < 1 {
		return fmt.Errorf("history.size must be >= 1, got %d", cfg.History.Size)
	}
	if cfg.Stream.Port == cfg.Metrics.Port {
		return fmt.Errorf("stream.port and metrics.port must differ, both are %d", cfg.Stream.Port)
	}
	return nil
}
