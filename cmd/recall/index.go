package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/recall/internal/config"
	"github.com/fyrsmithlabs/recall/internal/indexer"
	"github.com/fyrsmithlabs/recall/internal/store"
	"github.com/fyrsmithlabs/recall/internal/summarize"
)

var (
	// index command flags
	idxDays        int
	idxAll         bool
	idxFull        bool
	idxNoSummarize bool

	// resummarize command flags
	rsForce bool
	rsBatch int
)

func init() {
	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(indexCmd)
	rootCmd.AddCommand(resummarizeCmd)
	rootCmd.AddCommand(rebuildIndexCmd)
	rootCmd.AddCommand(hookCmd)

	indexCmd.Flags().IntVar(&idxDays, "days", 0, "Only index sources modified in the last N days (default from config)")
	indexCmd.Flags().BoolVar(&idxAll, "all", false, "Index every source regardless of age")
	indexCmd.Flags().BoolVar(&idxFull, "full", false, "Reparse sources from byte zero instead of resuming at stored offsets")
	indexCmd.Flags().BoolVar(&idxNoSummarize, "no-summarize", false, "Skip enqueueing new messages for summarization")

	resummarizeCmd.Flags().BoolVar(&rsForce, "force", false, "Clear existing summaries and re-enqueue every message first")
	resummarizeCmd.Flags().IntVar(&rsBatch, "batch", 0, "Messages per summarization request (default from config)")
}

// initCmd creates the store and prints where things live.
var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create or migrate the index store",
	Long: `Create the index database (applying any pending schema migrations)
and the config directory.

Examples:
  # Initialize with defaults
  recall init

  # Initialize a store somewhere else
  recall init --db /tmp/scratch.db`,
	RunE: runInit,
}

var indexCmd = &cobra.Command{
	Use:   "index",
	Short: "Incrementally index conversation logs",
	Long: `Index conversation logs under the logs root.

Each session log is resumed from its stored byte offset, so repeated
runs only parse what was appended. New messages are queued for
summarization unless --no-summarize is given.

Examples:
  # Index sources touched in the configured lookback window
  recall index

  # Index the last 30 days
  recall index --days 30

  # Index everything ever written
  recall index --all

  # Reparse from scratch without re-summarizing
  recall index --all --full --no-summarize`,
	RunE: runIndex,
}

var resummarizeCmd = &cobra.Command{
	Use:   "resummarize",
	Short: "Run the summarization pipeline over pending work",
	Long: `Drain the summarization queue now.

With --force, every message has its summary cleared and re-enqueued
first, which re-processes the whole store.

Examples:
  # Summarize whatever is pending
  recall resummarize

  # Redo everything with a bigger batch
  recall resummarize --force --batch 50`,
	RunE: runResummarize,
}

var rebuildIndexCmd = &cobra.Command{
	Use:   "rebuild-index",
	Short: "Rebuild the full-text index from the messages table",
	Long: `Drop and repopulate the full-text index in one transaction, then
verify the primary and index row sets agree. This is the repair path
for index inconsistency.

Examples:
  recall rebuild-index`,
	RunE: runRebuildIndex,
}

var hookCmd = &cobra.Command{
	Use:   "hook <file>",
	Short: "Ingest one session log (for editor and agent hooks)",
	Long: `Index a single session log file immediately. Intended to be wired
into tooling that fires per conversation event.

The run takes the same advisory lock as every other indexing path. When
another indexer already holds it, the hook exits 0 without output; the
running indexer or daemon will pick the change up.

Examples:
  recall hook ~/.claude/projects/-home-dev-proj/sess-1234.jsonl`,
	Args: cobra.ExactArgs(1),
	RunE: runHook,
}

func runInit(cmd *cobra.Command, args []string) error {
	if err := config.EnsureConfigDir(); err != nil {
		return err
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	st, err := openStore(cfg, logger)
	if err != nil {
		return err
	}
	defer st.Close()

	cmd.Printf("Store ready at %s\n", st.Path())
	cmd.Printf("Logs root: %s\n", cfg.Logs.Root)
	if _, err := os.Stat(cfg.Logs.Root); os.IsNotExist(err) {
		cmd.Println("Note: the logs root does not exist yet; indexing will find it once it does.")
	}

	return nil
}

func runIndex(cmd *cobra.Command, args []string) error {
	if idxAll && cmd.Flags().Changed("days") {
		return fmt.Errorf("--all and --days are mutually exclusive")
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	st, err := openStore(cfg, logger)
	if err != nil {
		return err
	}
	defer st.Close()

	svc, err := indexer.NewService(st, cfg.Logs.Root, logger)
	if err != nil {
		return err
	}

	days := cfg.Indexer.LookbackDays
	if idxAll {
		days = 0
	} else if cmd.Flags().Changed("days") {
		days = idxDays
	}

	stats, err := svc.Reindex(cmd.Context(), indexer.Options{
		Days:              days,
		FullRescan:        idxFull,
		SkipSummarization: idxNoSummarize,
	})
	if errors.Is(err, store.ErrLockHeld) {
		cmd.Println("Another indexing run is already in progress; nothing to do.")
		return nil
	}
	if err != nil {
		return fmt.Errorf("indexing failed: %w", err)
	}

	var sums *summarize.Stats
	if !idxNoSummarize && stats.Enqueued > 0 {
		pipeline, err := buildPipeline(cfg, st, logger)
		if err != nil {
			return err
		}
		sums, err = pipeline.Drain(cmd.Context(), cfg.Summarizer.BatchSize)
		if err != nil {
			return fmt.Errorf("summarization failed: %w", err)
		}
	}

	if outputAsJSON {
		out := struct {
			Index     *indexer.Stats   `json:"index"`
			Summarize *summarize.Stats `json:"summarize,omitempty"`
		}{stats, sums}
		return outputJSON(out)
	}

	cmd.Printf("Files scanned: %d\n", stats.FilesScanned)
	cmd.Printf("Files indexed: %d\n", stats.FilesIndexed)
	cmd.Printf("New messages:  %d\n", stats.NewMessages)
	if stats.ParseErrors > 0 {
		cmd.Printf("Parse errors:  %d\n", stats.ParseErrors)
	}
	if sums != nil {
		cmd.Printf("Summarized:    %d\n", sums.Summarized+sums.KeptRaw)
		if sums.Fallbacks > 0 {
			cmd.Printf("Fallbacks:     %d\n", sums.Fallbacks)
		}
		if sums.Deferred > 0 {
			cmd.Printf("Deferred:      %d\n", sums.Deferred)
		}
	}

	return nil
}

func runResummarize(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	st, err := openStore(cfg, logger)
	if err != nil {
		return err
	}
	defer st.Close()

	if rsForce {
		n, err := st.ResetSummaries(cmd.Context())
		if err != nil {
			return fmt.Errorf("failed to reset summaries: %w", err)
		}
		cmd.Printf("Cleared %d summaries for re-processing\n", n)
	}

	pipeline, err := buildPipeline(cfg, st, logger)
	if err != nil {
		return err
	}

	batch := cfg.Summarizer.BatchSize
	if rsBatch > 0 {
		batch = rsBatch
	}

	sums, err := pipeline.Drain(cmd.Context(), batch)
	if err != nil {
		return fmt.Errorf("summarization failed: %w", err)
	}

	if outputAsJSON {
		return outputJSON(sums)
	}

	cmd.Printf("Selected:   %d\n", sums.Selected)
	cmd.Printf("Summarized: %d\n", sums.Summarized)
	cmd.Printf("Kept raw:   %d\n", sums.KeptRaw)
	cmd.Printf("Fallbacks:  %d\n", sums.Fallbacks)
	cmd.Printf("Deferred:   %d\n", sums.Deferred)

	return nil
}

func runRebuildIndex(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	st, err := openStore(cfg, logger)
	if err != nil {
		return err
	}
	defer st.Close()

	if err := st.RebuildIndex(cmd.Context()); err != nil {
		return fmt.Errorf("rebuild failed: %w", err)
	}
	if err := st.CheckConsistency(cmd.Context()); err != nil {
		return fmt.Errorf("index still inconsistent after rebuild: %w", err)
	}

	cmd.Println("Full-text index rebuilt")
	return nil
}

func runHook(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	st, err := openStore(cfg, logger)
	if err != nil {
		return err
	}
	defer st.Close()

	svc, err := indexer.NewService(st, cfg.Logs.Root, logger)
	if err != nil {
		return err
	}

	stats, err := svc.Reindex(cmd.Context(), indexer.Options{Sources: args[:1]})
	if errors.Is(err, store.ErrLockHeld) {
		// Another indexer owns the window and will see this change.
		return nil
	}
	if err != nil {
		return fmt.Errorf("indexing %s failed: %w", args[0], err)
	}

	if stats.Enqueued > 0 {
		pipeline, err := buildPipeline(cfg, st, logger)
		if err != nil {
			return err
		}
		if _, err := pipeline.Drain(cmd.Context(), cfg.Summarizer.BatchSize); err != nil {
			return fmt.Errorf("summarization failed: %w", err)
		}
	}

	return nil
}
