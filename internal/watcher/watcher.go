package watcher

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/recall/internal/conversation"
	"github.com/fyrsmithlabs/recall/internal/indexer"
	"github.com/fyrsmithlabs/recall/internal/logging"
	"github.com/fyrsmithlabs/recall/internal/store"
	"github.com/fyrsmithlabs/recall/internal/summarize"
)

const instrumentationName = "github.com/fyrsmithlabs/recall/internal/watcher"

const (
	defaultIdleThreshold = 30 * time.Second
	defaultTickInterval  = time.Second
	defaultMaxBatch      = 8
)

// ErrWatcherFailed wraps fsnotify initialization failures.
var ErrWatcherFailed = errors.New("failed to initialize filesystem watcher")

// sourcePhase tracks where a changed file sits in its lifecycle.
type sourcePhase int

const (
	phaseIdle sourcePhase = iota
	phaseDebouncing
	phaseReindexing
)

func (p sourcePhase) String() string {
	switch p {
	case phaseDebouncing:
		return "debouncing"
	case phaseReindexing:
		return "reindexing"
	default:
		return "idle"
	}
}

type sourceState struct {
	phase    sourcePhase
	deadline time.Time
}

// Indexer runs one indexing pass over explicit sources.
type Indexer interface {
	Reindex(ctx context.Context, opts indexer.Options) (*indexer.Stats, error)
}

// Pipeline drains the summarization backlog after a cycle.
type Pipeline interface {
	Drain(ctx context.Context, batchSize int) (*summarize.Stats, error)
}

// Config tunes the daemon loop.
type Config struct {
	LogsRoot string

	// IdleThreshold is how long a file must stay quiet before it is
	// indexed. Every event pushes the deadline out again.
	IdleThreshold time.Duration

	// TickInterval is how often expired deadlines are swept.
	TickInterval time.Duration

	// MaxBatch bounds how many sources one cycle processes; the rest
	// stay queued for the next sweep.
	MaxBatch int

	// Catchup indexes everything once at startup to absorb changes
	// made while no daemon was running. CatchupDays bounds the pass
	// to recently modified files; zero scans the whole tree.
	Catchup     bool
	CatchupDays int

	// SummarizeBatch is the pipeline batch size for post-cycle drains.
	SummarizeBatch int
}

// Watcher owns the filesystem watch set and the per-source debounce
// state. All state is confined to the run goroutine.
type Watcher struct {
	cfg      Config
	indexer  Indexer
	pipeline Pipeline
	logger   *logging.Logger

	fsw     *fsnotify.Watcher
	sources map[string]*sourceState

	stop chan struct{}
	done chan struct{}

	tracer        trace.Tracer
	meter         metric.Meter
	eventsCounter metric.Int64Counter
	cyclesCounter metric.Int64Counter
}

// New builds a watcher over the configured logs root. The pipeline may
// be nil when summarization is disabled.
func New(cfg Config, idx Indexer, pipeline Pipeline, logger *logging.Logger) (*Watcher, error) {
	if idx == nil {
		return nil, errors.New("indexer is required")
	}
	if cfg.LogsRoot == "" {
		return nil, errors.New("logs root is required")
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	if cfg.IdleThreshold <= 0 {
		cfg.IdleThreshold = defaultIdleThreshold
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = defaultTickInterval
	}
	if cfg.MaxBatch <= 0 {
		cfg.MaxBatch = defaultMaxBatch
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrWatcherFailed, err)
	}

	w := &Watcher{
		cfg:      cfg,
		indexer:  idx,
		pipeline: pipeline,
		logger:   logger,
		fsw:      fsw,
		sources:  make(map[string]*sourceState),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
		tracer:   otel.Tracer(instrumentationName),
		meter:    otel.Meter(instrumentationName),
	}
	w.initMetrics()
	return w, nil
}

func (w *Watcher) initMetrics() {
	var err error

	w.eventsCounter, err = w.meter.Int64Counter(
		"recall.watcher.events_total",
		metric.WithDescription("Filesystem events observed on session logs"),
		metric.WithUnit("{event}"),
	)
	if err != nil {
		w.logger.Warn(context.Background(), "failed to create events counter", zap.Error(err))
	}

	w.cyclesCounter, err = w.meter.Int64Counter(
		"recall.watcher.cycles_total",
		metric.WithDescription("Indexing cycles triggered by the sweep"),
		metric.WithUnit("{cycle}"),
	)
	if err != nil {
		w.logger.Warn(context.Background(), "failed to create cycles counter", zap.Error(err))
	}
}

// Start registers the watch set and launches the run loop. It returns
// once watching is in place; processing happens in the background until
// Stop is called or ctx ends.
func (w *Watcher) Start(ctx context.Context) error {
	if err := w.fsw.Add(w.cfg.LogsRoot); err != nil {
		return fmt.Errorf("watching logs root: %w", err)
	}

	// Project directories already on disk.
	entries, err := os.ReadDir(w.cfg.LogsRoot)
	if err != nil {
		return fmt.Errorf("reading logs root: %w", err)
	}
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		dir := filepath.Join(w.cfg.LogsRoot, e.Name())
		if err := w.fsw.Add(dir); err != nil {
			w.logger.Warn(ctx, "cannot watch project directory",
				zap.String("dir", dir), zap.Error(err))
		}
	}

	go w.run(ctx)
	return nil
}

// Stop ends the run loop. The in-flight cycle, if any, completes
// first; wait on Done for that. Safe to call more than once.
func (w *Watcher) Stop() {
	select {
	case <-w.stop:
		return
	default:
		close(w.stop)
		_ = w.fsw.Close()
	}
}

// Done is closed once the run loop has fully drained.
func (w *Watcher) Done() <-chan struct{} {
	return w.done
}

func (w *Watcher) run(ctx context.Context) {
	defer close(w.done)

	if w.cfg.Catchup {
		w.logger.Info(ctx, "running catchup pass")
		w.runCycle(ctx, indexer.Options{Days: w.cfg.CatchupDays})
	}

	ticker := time.NewTicker(w.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-w.stop:
			return
		case <-ctx.Done():
			return

		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handleEvent(ctx, event)

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn(ctx, "watch error", zap.Error(err))

		case now := <-ticker.C:
			w.sweep(ctx, now)
		}
	}
}

func (w *Watcher) handleEvent(ctx context.Context, event fsnotify.Event) {
	if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
		return
	}

	if event.Op&fsnotify.Create != 0 {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			w.addProjectDir(ctx, event.Name)
			return
		}
	}

	if !conversation.IsSessionLog(event.Name) {
		return
	}
	if w.eventsCounter != nil {
		w.eventsCounter.Add(ctx, 1)
	}
	w.markChanged(ctx, event.Name)
}

// addProjectDir starts watching a directory that appeared after
// startup, and queues any session logs already inside it.
func (w *Watcher) addProjectDir(ctx context.Context, dir string) {
	if err := w.fsw.Add(dir); err != nil {
		w.logger.Warn(ctx, "cannot watch new directory",
			zap.String("dir", dir), zap.Error(err))
		return
	}
	w.logger.Debug(ctx, "watching new project directory", zap.String("dir", dir))

	entries, err := os.ReadDir(dir)
	if err != nil {
		return
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		path := filepath.Join(dir, e.Name())
		if conversation.IsSessionLog(path) {
			w.markChanged(ctx, path)
		}
	}
}

func (w *Watcher) markChanged(ctx context.Context, path string) {
	st, ok := w.sources[path]
	if !ok {
		st = &sourceState{}
		w.sources[path] = st
	}
	st.phase = phaseDebouncing
	st.deadline = time.Now().Add(w.cfg.IdleThreshold)
	w.logger.Debug(ctx, "source changed",
		zap.String("path", path),
		zap.Time("deadline", st.deadline))
}

// sweep collects every source whose debounce deadline has passed and
// runs one cycle over them, bounded by MaxBatch. Leftovers keep their
// expired deadlines and go out with the next sweep.
func (w *Watcher) sweep(ctx context.Context, now time.Time) {
	var due []string
	for path, st := range w.sources {
		if st.phase == phaseDebouncing && !st.deadline.After(now) {
			due = append(due, path)
		}
	}
	if len(due) == 0 {
		return
	}

	sort.Strings(due)
	if len(due) > w.cfg.MaxBatch {
		due = due[:w.cfg.MaxBatch]
	}
	for _, path := range due {
		w.sources[path].phase = phaseReindexing
	}

	w.runCycle(ctx, indexer.Options{Sources: due})
}

// runCycle indexes per the options (explicit sources for sweep cycles,
// discovery for catchup) and drains the summarization backlog.
// Failures are logged, the loop keeps going.
func (w *Watcher) runCycle(ctx context.Context, opts indexer.Options) {
	ctx, span := w.tracer.Start(ctx, "watcher.cycle")
	defer span.End()
	span.SetAttributes(attribute.Int("sources", len(opts.Sources)))

	if w.cyclesCounter != nil {
		w.cyclesCounter.Add(ctx, 1)
	}

	stats, err := w.indexer.Reindex(ctx, opts)
	switch {
	case errors.Is(err, store.ErrLockHeld):
		// Another indexer is mid-run; try this batch again after a
		// fresh debounce window.
		w.logger.Info(ctx, "index locked by another process, deferring cycle")
		for _, path := range opts.Sources {
			w.markChanged(ctx, path)
		}
		return
	case err != nil:
		span.RecordError(err)
		w.logger.Error(ctx, "indexing cycle failed", zap.Error(err))
		w.clearSources(opts.Sources)
		return
	}

	w.clearSources(opts.Sources)
	w.logger.Info(ctx, "indexing cycle complete",
		zap.Int("sources", len(opts.Sources)),
		zap.Int("files_indexed", stats.FilesIndexed),
		zap.Int("new_messages", stats.NewMessages),
		zap.Int("enqueued", stats.Enqueued))

	if w.pipeline == nil || stats.Enqueued == 0 {
		return
	}
	sums, err := w.pipeline.Drain(ctx, w.cfg.SummarizeBatch)
	if err != nil {
		span.RecordError(err)
		w.logger.Error(ctx, "summarization drain failed", zap.Error(err))
		return
	}
	w.logger.Info(ctx, "summarization drain complete",
		zap.Int("summarized", sums.Summarized),
		zap.Int("fallbacks", sums.Fallbacks),
		zap.Int("kept_raw", sums.KeptRaw))
}

func (w *Watcher) clearSources(sources []string) {
	for _, path := range sources {
		delete(w.sources, path)
	}
}
