// Recalld is the standalone indexing daemon for Claude Code session logs.
//
// It watches the logs root for session log changes, indexes each file once
// it has been quiet for the idle threshold, and drains the summarization
// queue after cycles that enqueue new work.
//
// Configuration is loaded from the config file and RECALL_* environment
// variables; flags override both. See internal/config for details.
//
// Usage:
//
//	# Start the daemon with defaults
//	recalld
//
//	# Watch a different logs root with a longer idle window
//	recalld --logs-root /srv/claude/projects --idle 1m
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/recall/internal/config"
	"github.com/fyrsmithlabs/recall/internal/indexer"
	"github.com/fyrsmithlabs/recall/internal/logging"
	"github.com/fyrsmithlabs/recall/internal/store"
	"github.com/fyrsmithlabs/recall/internal/summarize"
	"github.com/fyrsmithlabs/recall/internal/telemetry"
	"github.com/fyrsmithlabs/recall/internal/watcher"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

var (
	flagConfig   = flag.String("config", "", "Path to config file")
	flagLogsRoot = flag.String("logs-root", "", "Logs root to watch (overrides config)")
	flagDB       = flag.String("db", "", "Store path (overrides config)")
	flagIdle     = flag.Duration("idle", 0, "Quiet period before a changed log is indexed")
	flagVerbose  = flag.Bool("verbose", false, "Debug logging")
)

func main() {
	flag.Parse()
	args := flag.Args()

	if len(args) > 0 {
		switch args[0] {
		case "version":
			printVersion()
			os.Exit(0)
		default:
			fmt.Fprintf(os.Stderr, "Unknown command: %s\n", args[0])
			fmt.Fprintf(os.Stderr, "\nUsage:\n")
			fmt.Fprintf(os.Stderr, "  recalld           Start the indexing daemon\n")
			fmt.Fprintf(os.Stderr, "  recalld version   Show version information\n")
			os.Exit(1)
		}
	}

	// Setup signal handling for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		log.Printf("Received signal %v, shutting down gracefully...", sig)
		cancel()
	}()

	if err := run(ctx); err != nil {
		log.Fatalf("Daemon error: %v", err)
	}

	log.Println("Daemon shutdown complete")
}

// printVersion prints version information
func printVersion() {
	fmt.Printf("recalld by Fyrsmith Labs\n")
	fmt.Printf("Version:    %s\n", version)
	fmt.Printf("Commit:     %s\n", gitCommit)
	fmt.Printf("Build Date: %s\n", buildDate)
}

// run starts the watcher daemon and blocks until context cancellation.
//
// This function initializes all dependencies in order:
//  1. Loads configuration and applies flag overrides
//  2. Initializes logger and telemetry
//  3. Opens the store and acquires service handles
//  4. Starts the filesystem watcher
//  5. Performs graceful shutdown on context cancellation
func run(ctx context.Context) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logger, err := initLogger(cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer func() {
		_ = logger.Sync() // Best-effort sync on shutdown
	}()

	logger.Info(ctx, "Starting recalld",
		zap.String("version", version),
		zap.String("logs_root", cfg.Logs.Root),
		zap.String("store", cfg.Store.Path))

	deps, err := initDependencies(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize dependencies: %w", err)
	}
	defer deps.Close()

	logger.Info(ctx, "Dependencies initialized",
		zap.String("store", deps.store.Path()),
		zap.Bool("telemetry", cfg.Telemetry.Enabled))

	w, err := watcher.New(watcher.Config{
		LogsRoot:       cfg.Logs.Root,
		IdleThreshold:  cfg.Watcher.IdleThreshold.Duration(),
		TickInterval:   cfg.Watcher.TickInterval.Duration(),
		MaxBatch:       cfg.Watcher.MaxBatch,
		Catchup:        cfg.Watcher.Catchup,
		CatchupDays:    cfg.Indexer.LookbackDays,
		SummarizeBatch: cfg.Summarizer.BatchSize,
	}, deps.indexer, deps.pipeline, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize watcher: %w", err)
	}

	if err := w.Start(ctx); err != nil {
		return fmt.Errorf("failed to start watcher: %w", err)
	}

	logger.Info(ctx, "Daemon ready",
		zap.Duration("idle_threshold", cfg.Watcher.IdleThreshold.Duration()),
		zap.Bool("catchup", cfg.Watcher.Catchup))

	// Block until signal
	<-ctx.Done()

	w.Stop()
	<-w.Done()

	return nil
}

// loadConfig loads configuration and applies flag overrides.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(*flagConfig)
	if err != nil {
		return nil, err
	}
	if *flagDB != "" {
		cfg.Store.Path = *flagDB
	}
	if *flagLogsRoot != "" {
		cfg.Logs.Root = *flagLogsRoot
	}
	if *flagIdle > 0 {
		cfg.Watcher.IdleThreshold = config.Duration(*flagIdle)
	}
	if *flagVerbose {
		cfg.Logging.Level = "debug"
	}
	return cfg, nil
}

// initLogger initializes the structured logger. The daemon defaults to
// JSON output so journals stay machine-readable.
func initLogger(cfg *config.Config) (*logging.Logger, error) {
	level, err := logging.LevelFromString(cfg.Logging.Level)
	if err != nil {
		return nil, err
	}

	logCfg := logging.NewDefaultConfig()
	logCfg.Level = level
	logCfg.Format = "json"
	if cfg.Logging.Format != "" {
		logCfg.Format = cfg.Logging.Format
	}

	return logging.NewLogger(logCfg)
}

// dependencies holds all infrastructure dependencies.
type dependencies struct {
	telemetry *telemetry.Telemetry
	store     *store.Store
	indexer   *indexer.Service
	pipeline  *summarize.Service
	logger    *logging.Logger
}

// Close releases all infrastructure resources.
func (d *dependencies) Close() {
	if d.store != nil {
		_ = d.store.Close()
	}
	if d.telemetry != nil {
		_ = d.telemetry.Shutdown(context.Background())
	}
	if d.logger != nil {
		_ = d.logger.Sync() // Best-effort sync
	}
}

// initDependencies initializes telemetry, the store, and the indexing
// and summarization services the watcher drives.
func initDependencies(ctx context.Context, cfg *config.Config, logger *logging.Logger) (*dependencies, error) {
	tel, err := telemetry.New(ctx, cfg.Telemetry, "recalld", version)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}

	st, err := store.Open(cfg.Store.Path, logger)
	if err != nil {
		_ = tel.Shutdown(context.Background())
		return nil, fmt.Errorf("failed to open store at %s: %w", cfg.Store.Path, err)
	}

	idx, err := indexer.NewService(st, cfg.Logs.Root, logger)
	if err != nil {
		_ = st.Close()
		_ = tel.Shutdown(context.Background())
		return nil, fmt.Errorf("failed to create indexer: %w", err)
	}

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
		_ = st.Close()
		_ = tel.Shutdown(context.Background())
		return nil, fmt.Errorf("failed to create summarizer: %w", err)
	}

	pipeline, err := summarize.NewService(st, client, cfg.Summarizer.MaxAttempts, logger)
	if err != nil {
		_ = st.Close()
		_ = tel.Shutdown(context.Background())
		return nil, fmt.Errorf("failed to create summarization pipeline: %w", err)
	}

	return &dependencies{
		telemetry: tel,
		store:     st,
		indexer:   idx,
		pipeline:  pipeline,
		logger:    logger,
	}, nil
}
