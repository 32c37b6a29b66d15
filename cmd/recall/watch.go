package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/recall/internal/config"
	"github.com/fyrsmithlabs/recall/internal/indexer"
	"github.com/fyrsmithlabs/recall/internal/telemetry"
	"github.com/fyrsmithlabs/recall/internal/watcher"
)

var (
	watchIdle    time.Duration
	watchVerbose bool
)

func init() {
	rootCmd.AddCommand(watchCmd)

	watchCmd.Flags().DurationVar(&watchIdle, "idle", 0, "Quiet period before a changed log is indexed")
	watchCmd.Flags().BoolVar(&watchVerbose, "verbose", false, "Log every file event")
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Watch the logs root and index sessions as they go idle",
	Long: `Watch the logs root for session log changes and index each file
once it has been quiet for the idle threshold. Runs in the
foreground until interrupted.

New project directories are picked up automatically. If another
indexing run holds the lock, changed files are retried on the
next sweep.

Examples:
  recall watch
  recall watch --idle 10s
  recall watch --verbose`,
	RunE: runWatch,
}

func runWatch(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if watchVerbose {
		cfg.Logging.Level = "debug"
	}
	if cmd.Flags().Changed("idle") {
		cfg.Watcher.IdleThreshold = config.Duration(watchIdle)
	}

	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	tel, err := telemetry.New(ctx, cfg.Telemetry, "recall", version)
	if err != nil {
		return fmt.Errorf("initializing telemetry: %w", err)
	}
	defer func() { _ = tel.Shutdown(context.Background()) }()

	st, err := openStore(cfg, logger)
	if err != nil {
		return err
	}
	defer st.Close()

	idx, err := indexer.NewService(st, cfg.Logs.Root, logger)
	if err != nil {
		return fmt.Errorf("initializing indexer: %w", err)
	}

	pipeline, err := buildPipeline(cfg, st, logger)
	if err != nil {
		return fmt.Errorf("initializing summarizer: %w", err)
	}

	w, err := watcher.New(watcher.Config{
		LogsRoot:       cfg.Logs.Root,
		IdleThreshold:  cfg.Watcher.IdleThreshold.Duration(),
		TickInterval:   cfg.Watcher.TickInterval.Duration(),
		MaxBatch:       cfg.Watcher.MaxBatch,
		Catchup:        cfg.Watcher.Catchup,
		CatchupDays:    cfg.Indexer.LookbackDays,
		SummarizeBatch: cfg.Summarizer.BatchSize,
	}, idx, pipeline, logger)
	if err != nil {
		return fmt.Errorf("initializing watcher: %w", err)
	}

	if err := w.Start(ctx); err != nil {
		return fmt.Errorf("starting watcher: %w", err)
	}

	cmd.Printf("Watching %s (Ctrl-C to stop)\n", cfg.Logs.Root)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	cmd.Println("Shutting down")
	w.Stop()
	<-w.Done()

	return nil
}
