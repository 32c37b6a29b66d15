// Package config provides configuration loading for recall.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Config is the root configuration for both the CLI and the daemon.
type Config struct {
	Store      StoreConfig      `koanf:"store"`
	Logs       LogsConfig       `koanf:"logs"`
	Indexer    IndexerConfig    `koanf:"indexer"`
	Summarizer SummarizerConfig `koanf:"summarizer"`
	Watcher    WatcherConfig    `koanf:"watcher"`
	Logging    LoggingConfig    `koanf:"logging"`
	Telemetry  TelemetryConfig  `koanf:"telemetry"`
}

// StoreConfig locates the SQLite store. Path is overridable via the
// RECALL_DB_PATH environment variable; default is ~/.recall/index.db.
type StoreConfig struct {
	Path string `koanf:"path"`
}

// LogsConfig locates the conversation log tree to index.
type LogsConfig struct {
	Root string `koanf:"root"`
}

// IndexerConfig controls incremental indexing policy.
type IndexerConfig struct {
	// LookbackDays limits discovery to sources modified within N days.
	// 0 means no window.
	LookbackDays int `koanf:"lookback_days"`
}

// SummarizerConfig configures the external summarization service client.
type SummarizerConfig struct {
	Enabled     bool     `koanf:"enabled"`
	Provider    string   `koanf:"provider"` // "anthropic" or "disabled"
	Model       string   `koanf:"model"`
	APIKey      Secret   `koanf:"api_key"`
	BaseURL     string   `koanf:"base_url"`
	BatchSize   int      `koanf:"batch_size"`
	Timeout     Duration `koanf:"timeout"`
	MaxRetries  int      `koanf:"max_retries"`
	MaxAttempts int      `koanf:"max_attempts"` // pending_work attempts before fallback
	RateLimit   float64  `koanf:"rate_limit"`   // requests per minute
	Burst       int      `koanf:"burst"`
}

// WatcherConfig controls the filesystem watcher daemon.
type WatcherConfig struct {
	IdleThreshold Duration `koanf:"idle_threshold"`
	TickInterval  Duration `koanf:"tick_interval"`
	MaxBatch      int      `koanf:"max_batch"`
	Catchup       bool     `koanf:"catchup"`
}

// LoggingConfig carries the log surface knobs; the logging package owns
// the full encoder configuration.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// TelemetryConfig configures OTLP export. Disabled by default; only the
// daemon paths wire it up.
type TelemetryConfig struct {
	Enabled        bool     `koanf:"enabled"`
	Endpoint       string   `koanf:"endpoint"`
	Protocol       string   `koanf:"protocol"` // "grpc" or "http/protobuf"
	Insecure       bool     `koanf:"insecure"`
	TLSSkipVerify  bool     `koanf:"tls_skip_verify"`
	SampleRate     float64  `koanf:"sample_rate"`
	MetricsEnabled bool     `koanf:"metrics_enabled"`
	ExportInterval Duration `koanf:"export_interval"`
	ShutdownGrace  Duration `koanf:"shutdown_grace"`
}

// DefaultStorePath returns ~/.recall/index.db.
func DefaultStorePath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, ".recall", "index.db"), nil
}

// DefaultLogsRoot returns ~/.claude/projects, the conversation log tree.
func DefaultLogsRoot() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, ".claude", "projects"), nil
}

// applyDefaults sets default values for missing configuration fields.
func applyDefaults(cfg *Config) error {
	if cfg.Store.Path == "" {
		p, err := DefaultStorePath()
		if err != nil {
			return err
		}
		cfg.Store.Path = p
	}
	if cfg.Logs.Root == "" {
		r, err := DefaultLogsRoot()
		if err != nil {
			return err
		}
		cfg.Logs.Root = r
	}

	if cfg.Indexer.LookbackDays == 0 {
		cfg.Indexer.LookbackDays = 7
	}

	if cfg.Summarizer.Provider == "" {
		cfg.Summarizer.Provider = "disabled"
	}
	if cfg.Summarizer.Model == "" {
		cfg.Summarizer.Model = "claude-3-5-haiku-20241022"
	}
	if cfg.Summarizer.BaseURL == "" {
		cfg.Summarizer.BaseURL = "https://api.anthropic.com"
	}
	if cfg.Summarizer.BatchSize == 0 {
		cfg.Summarizer.BatchSize = 20
	}
	if cfg.Summarizer.Timeout == 0 {
		cfg.Summarizer.Timeout = Duration(60 * time.Second)
	}
	if cfg.Summarizer.MaxRetries == 0 {
		cfg.Summarizer.MaxRetries = 3
	}
	if cfg.Summarizer.MaxAttempts == 0 {
		cfg.Summarizer.MaxAttempts = 3
	}
	if cfg.Summarizer.RateLimit == 0 {
		cfg.Summarizer.RateLimit = 50.0
	}
	if cfg.Summarizer.Burst == 0 {
		cfg.Summarizer.Burst = 5
	}

	if cfg.Watcher.IdleThreshold == 0 {
		cfg.Watcher.IdleThreshold = Duration(30 * time.Second)
	}
	if cfg.Watcher.TickInterval == 0 {
		cfg.Watcher.TickInterval = Duration(time.Second)
	}
	if cfg.Watcher.MaxBatch == 0 {
		cfg.Watcher.MaxBatch = 8
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "console"
	}

	if cfg.Telemetry.Endpoint == "" {
		cfg.Telemetry.Endpoint = "localhost:4317"
	}
	if cfg.Telemetry.Protocol == "" {
		cfg.Telemetry.Protocol = "grpc"
	}
	if cfg.Telemetry.SampleRate == 0 {
		cfg.Telemetry.SampleRate = 1.0
	}
	if cfg.Telemetry.ExportInterval == 0 {
		cfg.Telemetry.ExportInterval = Duration(15 * time.Second)
	}
	if cfg.Telemetry.ShutdownGrace == 0 {
		cfg.Telemetry.ShutdownGrace = Duration(5 * time.Second)
	}

	return nil
}

// Validate checks the assembled configuration.
func (c *Config) Validate() error {
	if c.Store.Path == "" {
		return fmt.Errorf("store.path cannot be empty")
	}
	if c.Logs.Root == "" {
		return fmt.Errorf("logs.root cannot be empty")
	}
	if c.Indexer.LookbackDays < 0 {
		return fmt.Errorf("indexer.lookback_days must be >= 0, got %d", c.Indexer.LookbackDays)
	}

	switch c.Summarizer.Provider {
	case "disabled", "anthropic":
	default:
		return fmt.Errorf("summarizer.provider must be 'anthropic' or 'disabled', got %q", c.Summarizer.Provider)
	}
	if c.Summarizer.Enabled && c.Summarizer.Provider == "anthropic" && c.Summarizer.APIKey.Value() == "" {
		return fmt.Errorf("summarizer.api_key is required when the anthropic provider is enabled")
	}
	if c.Summarizer.BatchSize < 1 {
		return fmt.Errorf("summarizer.batch_size must be >= 1, got %d", c.Summarizer.BatchSize)
	}
	if c.Summarizer.MaxAttempts < 1 {
		return fmt.Errorf("summarizer.max_attempts must be >= 1, got %d", c.Summarizer.MaxAttempts)
	}

	if c.Watcher.IdleThreshold.Duration() <= 0 {
		return fmt.Errorf("watcher.idle_threshold must be positive")
	}
	if c.Watcher.TickInterval.Duration() <= 0 {
		return fmt.Errorf("watcher.tick_interval must be positive")
	}
	if c.Watcher.MaxBatch < 1 {
		return fmt.Errorf("watcher.max_batch must be >= 1, got %d", c.Watcher.MaxBatch)
	}

	if _, err := parseLevelName(c.Logging.Level); err != nil {
		return fmt.Errorf("logging.level: %w", err)
	}
	if c.Logging.Format != "json" && c.Logging.Format != "console" {
		return fmt.Errorf("logging.format must be 'json' or 'console', got %q", c.Logging.Format)
	}

	if c.Telemetry.Enabled {
		if c.Telemetry.Endpoint == "" {
			return fmt.Errorf("telemetry.endpoint is required when telemetry is enabled")
		}
		if c.Telemetry.SampleRate < 0 || c.Telemetry.SampleRate > 1 {
			return fmt.Errorf("telemetry.sample_rate must be between 0 and 1, got %f", c.Telemetry.SampleRate)
		}
	}

	return nil
}

// parseLevelName accepts the zap level names plus "trace". Kept local so
// config does not depend on the logging package.
func parseLevelName(level string) (string, error) {
	switch level {
	case "trace", "debug", "info", "warn", "error", "dpanic", "panic", "fatal":
		return level, nil
	default:
		return "", fmt.Errorf("unknown level %q", level)
	}
}
