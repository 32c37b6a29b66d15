// Package main implements the recall CLI for indexing and searching
// tree-structured conversation logs.
package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/recall/internal/config"
	"github.com/fyrsmithlabs/recall/internal/logging"
	"github.com/fyrsmithlabs/recall/internal/store"
	"github.com/fyrsmithlabs/recall/internal/summarize"
)

var (
	// Global flags shared by every subcommand.
	flagConfig   string
	flagDB       string
	flagLogsRoot string
	flagLogLevel string
	outputAsJSON bool

	// version information (set via ldflags during build)
	version = "dev"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "recall",
	Short: "Index and search local conversation logs",
	Long: `recall maintains a local SQLite index over tree-structured
conversation logs and answers full-text queries against it.

Logs are discovered under the configured logs root (one directory per
project, one JSONL file per session), indexed incrementally by byte
offset, and optionally summarized through an external service before
being searched.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: false,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "", "Config file path (default ~/.config/recall/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&flagDB, "db", "", "Index database path (default ~/.recall/index.db)")
	rootCmd.PersistentFlags().StringVar(&flagLogsRoot, "logs-root", "", "Conversation log tree to index (default ~/.claude/projects)")
	rootCmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", "", "Log level: trace, debug, info, warn, error")
	rootCmd.PersistentFlags().BoolVar(&outputAsJSON, "json", false, "Output results as JSON")
}

// loadConfig loads file and environment configuration, then applies the
// command-line overrides.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(flagConfig)
	if err != nil {
		return nil, err
	}

	if flagDB != "" {
		cfg.Store.Path = flagDB
	}
	if flagLogsRoot != "" {
		cfg.Logs.Root = flagLogsRoot
	}
	if flagLogLevel != "" {
		cfg.Logging.Level = flagLogLevel
	}

	return cfg, nil
}

// newLogger builds the CLI logger: console on stderr so stdout stays
// machine-readable.
func newLogger(cfg *config.Config) (*logging.Logger, error) {
	level, err := logging.LevelFromString(cfg.Logging.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level: %w", err)
	}

	logCfg := logging.NewDefaultConfig()
	logCfg.Level = level
	logCfg.Format = cfg.Logging.Format
	return logging.NewLogger(logCfg)
}

func openStore(cfg *config.Config, logger *logging.Logger) (*store.Store, error) {
	st, err := store.Open(cfg.Store.Path, logger)
	if errors.Is(err, store.ErrStoreUnavailable) {
		return nil, fmt.Errorf("failed to open store at %s (check the path, or run \"recall init\"): %w", cfg.Store.Path, err)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open store at %s: %w", cfg.Store.Path, err)
	}
	return st, nil
}

// buildPipeline assembles the summarization pipeline from config. With
// the summarizer disabled the pipeline still runs: pending work resolves
// through the truncation fallback.
func buildPipeline(cfg *config.Config, st *store.Store, logger *logging.Logger) (*summarize.Service, error) {
	client, err := summarize.NewSummarizer(summarize.Config{
		Enabled:    cfg.Summarizer.Enabled,
		Provider:   cfg.Summarizer.Provider,
		Model:      cfg.Summarizer.Model,
		APIKey:     cfg.Summarizer.APIKey.Value(),
		BaseURL:    cfg.Summarizer.BaseURL,
		Timeout:    cfg.Summarizer.Timeout.Duration(),
		MaxRetries: cfg.Summarizer.MaxRetries,
		RateLimit:  cfg.Summarizer.RateLimit,
		Burst:      cfg.Summarizer.Burst,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create summarizer: %w", err)
	}

	return summarize.NewService(st, client, cfg.Summarizer.MaxAttempts, logger)
}

// Helper functions

func outputJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}

// oneLine collapses whitespace runs so multi-line content fits a table
// cell.
func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
