package indexer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/recall/internal/conversation"
	"github.com/fyrsmithlabs/recall/internal/logging"
	"github.com/fyrsmithlabs/recall/internal/store"
)

const instrumentationName = "github.com/fyrsmithlabs/recall/internal/indexer"

// Options controls one indexing run.
type Options struct {
	// Days limits discovery to files modified within the window.
	// Zero disables the window.
	Days int

	// FullRescan ignores stored offsets and reparses every file from
	// the beginning. Existing rows are upserted, not duplicated.
	FullRescan bool

	// SkipSummarization indexes without enqueueing summarization work.
	SkipSummarization bool

	// Sources names specific log files to index, bypassing discovery.
	// The modification window does not apply to explicit sources.
	Sources []string
}

// Stats reports what one run did.
type Stats struct {
	// FilesScanned counts candidate files examined.
	FilesScanned int `json:"files_scanned"`

	// FilesIndexed counts files that produced a batch write.
	FilesIndexed int `json:"files_indexed"`

	// NewMessages counts messages not previously in the store.
	NewMessages int `json:"new_messages"`

	// Enqueued counts messages added to the summarization queue.
	Enqueued int `json:"enqueued"`

	// ParseErrors counts malformed log lines across all files.
	ParseErrors int `json:"parse_errors"`
}

// Service runs incremental indexing over a conversation log tree.
type Service struct {
	store    *store.Store
	parser   *conversation.Parser
	logsRoot string
	logger   *logging.Logger

	tracer          trace.Tracer
	meter           metric.Meter
	filesCounter    metric.Int64Counter
	messagesCounter metric.Int64Counter
	errorsCounter   metric.Int64Counter
}

// NewService wires an indexer over the store and the logs root.
func NewService(st *store.Store, logsRoot string, logger *logging.Logger) (*Service, error) {
	if st == nil {
		return nil, errors.New("store is required")
	}
	if logsRoot == "" {
		return nil, errors.New("logs root is required")
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	s := &Service{
		store:    st,
		parser:   conversation.NewParser(),
		logsRoot: logsRoot,
		logger:   logger,
		tracer:   otel.Tracer(instrumentationName),
		meter:    otel.Meter(instrumentationName),
	}
	s.initMetrics()
	return s, nil
}

func (s *Service) initMetrics() {
	var err error

	s.filesCounter, err = s.meter.Int64Counter(
		"recall.indexer.files_indexed_total",
		metric.WithDescription("Log files that produced a batch write"),
		metric.WithUnit("{file}"),
	)
	if err != nil {
		s.logger.Warn(context.Background(), "failed to create files counter", zap.Error(err))
	}

	s.messagesCounter, err = s.meter.Int64Counter(
		"recall.indexer.messages_indexed_total",
		metric.WithDescription("New messages written to the store"),
		metric.WithUnit("{message}"),
	)
	if err != nil {
		s.logger.Warn(context.Background(), "failed to create messages counter", zap.Error(err))
	}

	s.errorsCounter, err = s.meter.Int64Counter(
		"recall.indexer.parse_errors_total",
		metric.WithDescription("Malformed log lines skipped during parsing"),
		metric.WithUnit("{line}"),
	)
	if err != nil {
		s.logger.Warn(context.Background(), "failed to create errors counter", zap.Error(err))
	}
}

// Reindex runs one indexing pass. It holds the store's advisory lock
// for the whole run; a concurrent run surfaces store.ErrLockHeld.
// Unreadable files are logged and skipped; store failures abort.
func (s *Service) Reindex(ctx context.Context, opts Options) (*Stats, error) {
	ctx, span := s.tracer.Start(ctx, "indexer.reindex")
	defer span.End()
	span.SetAttributes(
		attribute.Bool("full_rescan", opts.FullRescan),
		attribute.Int("days", opts.Days),
	)

	lock, err := s.store.AcquireLock()
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	defer lock.Release()

	sources := opts.Sources
	if len(sources) == 0 {
		sources, err = s.discover(ctx, opts.Days)
		if err != nil {
			span.RecordError(err)
			return nil, err
		}
	} else {
		sources = filterSessionLogs(sources)
	}

	stats := &Stats{}
	for _, path := range sources {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		stats.FilesScanned++
		if err := s.indexFile(ctx, path, opts, stats); err != nil {
			span.RecordError(err)
			return stats, err
		}
	}

	span.SetAttributes(
		attribute.Int("files_scanned", stats.FilesScanned),
		attribute.Int("files_indexed", stats.FilesIndexed),
		attribute.Int("new_messages", stats.NewMessages),
	)
	s.logger.Info(ctx, "indexing run complete",
		zap.Int("files_scanned", stats.FilesScanned),
		zap.Int("files_indexed", stats.FilesIndexed),
		zap.Int("new_messages", stats.NewMessages),
		zap.Int("enqueued", stats.Enqueued),
		zap.Int("parse_errors", stats.ParseErrors))
	return stats, nil
}

// indexFile parses one file's unread tail and applies it as a batch.
// Files that vanished or cannot be opened are skipped; only store
// errors come back.
func (s *Service) indexFile(ctx context.Context, path string, opts Options, stats *Stats) error {
	sessionID := conversation.SessionIDFromPath(path)
	projectPath := conversation.ProjectPathFromDir(filepath.Dir(path))

	var offset int64
	if !opts.FullRescan {
		conv, err := s.store.GetConversation(ctx, sessionID)
		switch {
		case err == nil:
			offset = conv.LastIndexedOffset
		case errors.Is(err, store.ErrNotFound):
			// first sighting
		default:
			return err
		}
	}

	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			s.logger.Debug(ctx, "log file vanished before indexing", zap.String("path", path))
			return nil
		}
		s.logger.Warn(ctx, "cannot open log file", zap.String("path", path), zap.Error(err))
		return nil
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		s.logger.Warn(ctx, "cannot stat log file", zap.String("path", path), zap.Error(err))
		return nil
	}
	if info.Size() < offset {
		// Rotated or truncated underneath us. Reparse from the start;
		// message upserts keep this idempotent.
		s.logger.Warn(ctx, "log file shrank since last index, reparsing",
			zap.String("path", path),
			zap.Int64("stored_offset", offset),
			zap.Int64("size", info.Size()))
		offset = 0
	}
	if info.Size() == offset {
		return nil
	}

	if offset > 0 {
		if _, err := f.Seek(offset, io.SeekStart); err != nil {
			s.logger.Warn(ctx, "cannot seek log file", zap.String("path", path), zap.Error(err))
			return nil
		}
	}

	res, err := s.parser.Parse(f, sessionID)
	if err != nil {
		s.logger.Warn(ctx, "cannot read log file", zap.String("path", path), zap.Error(err))
		return nil
	}

	stats.ParseErrors += res.ErrorCount
	if res.ErrorCount > 0 {
		if s.errorsCounter != nil {
			s.errorsCounter.Add(ctx, int64(res.ErrorCount))
		}
		for _, pe := range res.Errors {
			s.logger.Debug(ctx, "skipped malformed log line",
				zap.String("path", path), zap.Int("line", pe.Line), zap.String("reason", pe.Error))
		}
	}

	newOffset := offset + res.Consumed
	if newOffset == offset && len(res.Messages) == 0 && res.TitleSummary == "" {
		// Only an unfinished trailing line so far.
		return nil
	}

	known, err := s.store.SessionDepths(ctx, sessionID)
	if err != nil {
		return err
	}

	newIDs := make([]string, 0, len(res.Messages))
	for i := range res.Messages {
		m := &res.Messages[i]
		if _, exists := known[m.MessageID]; !exists {
			newIDs = append(newIDs, m.MessageID)
		}
		depth := 0
		if m.ParentID != "" {
			if d, ok := known[m.ParentID]; ok {
				depth = d + 1
			}
			// an unknown parent makes the message a root of its own
		}
		m.Depth = depth
		known[m.MessageID] = depth
	}

	batch := &store.Batch{
		SessionID:    sessionID,
		ProjectPath:  projectPath,
		TitleSummary: res.TitleSummary,
		NewOffset:    newOffset,
		Messages:     res.Messages,
	}
	if !opts.SkipSummarization {
		batch.Enqueue = newIDs
	}

	if err := s.store.ApplyBatch(ctx, batch); err != nil {
		return fmt.Errorf("indexing %s: %w", path, err)
	}

	stats.FilesIndexed++
	stats.NewMessages += len(newIDs)
	stats.Enqueued += len(batch.Enqueue)
	if s.filesCounter != nil {
		s.filesCounter.Add(ctx, 1)
	}
	if s.messagesCounter != nil {
		s.messagesCounter.Add(ctx, int64(len(newIDs)))
	}

	s.logger.Debug(ctx, "indexed log file",
		zap.String("session_id", sessionID),
		zap.String("path", path),
		zap.Int("messages", len(res.Messages)),
		zap.Int("new_messages", len(newIDs)),
		zap.Int64("offset", newOffset))
	return nil
}
