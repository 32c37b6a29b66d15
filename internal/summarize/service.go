package summarize

import (
	"context"
	"errors"
	"strings"
	"unicode/utf8"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/recall/internal/logging"
	"github.com/fyrsmithlabs/recall/internal/store"
)

const instrumentationName = "github.com/fyrsmithlabs/recall/internal/summarize"

const (
	defaultBatchSize   = 20
	defaultMaxAttempts = 3
)

// Store is the slice of the persistent store the pipeline needs.
type Store interface {
	PendingBatch(ctx context.Context, limit int) ([]store.PendingMessage, error)
	MarkSummarized(ctx context.Context, messageID, summary string) error
	ApplyFallback(ctx context.Context, messageID, summary string) error
	IncrementAttempts(ctx context.Context, messageIDs []string) error
}

// Stats describes one pipeline pass.
type Stats struct {
	// Selected is how many work items the pass pulled.
	Selected int `json:"selected"`

	// Summarized counts model-produced summaries written back.
	Summarized int `json:"summarized"`

	// KeptRaw counts short messages whose raw content became the
	// summary without a service call.
	KeptRaw int `json:"kept_raw"`

	// Fallbacks counts truncation fallbacks applied.
	Fallbacks int `json:"fallbacks"`

	// Deferred counts items left pending with attempts bumped.
	Deferred int `json:"deferred"`
}

func (s *Stats) add(o *Stats) {
	s.Selected += o.Selected
	s.Summarized += o.Summarized
	s.KeptRaw += o.KeptRaw
	s.Fallbacks += o.Fallbacks
	s.Deferred += o.Deferred
}

// Service runs the summarization pipeline against the store.
type Service struct {
	store       Store
	summarizer  Summarizer
	logger      *logging.Logger
	maxAttempts int

	tracer            trace.Tracer
	meter             metric.Meter
	summarizedCounter metric.Int64Counter
	fallbackCounter   metric.Int64Counter
}

// NewService wires the pipeline. maxAttempts bounds how many passes an
// item survives before the truncation fallback; zero means the
// default.
func NewService(st Store, summarizer Summarizer, maxAttempts int, logger *logging.Logger) (*Service, error) {
	if st == nil {
		return nil, errors.New("store is required")
	}
	if summarizer == nil {
		summarizer = NewNoOp()
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	if maxAttempts <= 0 {
		maxAttempts = defaultMaxAttempts
	}

	s := &Service{
		store:       st,
		summarizer:  summarizer,
		logger:      logger,
		maxAttempts: maxAttempts,
		tracer:      otel.Tracer(instrumentationName),
		meter:       otel.Meter(instrumentationName),
	}
	s.initMetrics()
	return s, nil
}

func (s *Service) initMetrics() {
	var err error

	s.summarizedCounter, err = s.meter.Int64Counter(
		"recall.summarize.summarized_total",
		metric.WithDescription("Messages summarized by the external service"),
		metric.WithUnit("{message}"),
	)
	if err != nil {
		s.logger.Warn(context.Background(), "failed to create summarized counter", zap.Error(err))
	}

	s.fallbackCounter, err = s.meter.Int64Counter(
		"recall.summarize.fallbacks_total",
		metric.WithDescription("Messages that received a truncation fallback summary"),
		metric.WithUnit("{message}"),
	)
	if err != nil {
		s.logger.Warn(context.Background(), "failed to create fallback counter", zap.Error(err))
	}
}

// SummarizePending processes one batch of pending work. A failed
// service call defers the batch rather than failing the pass; only
// store errors propagate.
func (s *Service) SummarizePending(ctx context.Context, batchSize int) (*Stats, error) {
	ctx, span := s.tracer.Start(ctx, "summarize.pending")
	defer span.End()

	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}

	pending, err := s.store.PendingBatch(ctx, batchSize)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	stats := &Stats{Selected: len(pending)}
	span.SetAttributes(attribute.Int("selected", len(pending)))
	if len(pending) == 0 {
		return stats, nil
	}

	var toRequest []store.PendingMessage
	for _, p := range pending {
		switch {
		case utf8.RuneCountInString(p.RawContent) < shortContentRunes:
			// Too short to be worth a model call; the content is its
			// own summary.
			if err := s.store.MarkSummarized(ctx, p.MessageID, p.RawContent); err != nil {
				span.RecordError(err)
				return stats, err
			}
			stats.KeptRaw++
		case p.Attempts >= s.maxAttempts:
			if err := s.applyFallback(ctx, p); err != nil {
				span.RecordError(err)
				return stats, err
			}
			stats.Fallbacks++
		default:
			toRequest = append(toRequest, p)
		}
	}
	if len(toRequest) == 0 {
		return stats, nil
	}

	if !s.summarizer.Available() {
		for _, p := range toRequest {
			if err := s.applyFallback(ctx, p); err != nil {
				span.RecordError(err)
				return stats, err
			}
			stats.Fallbacks++
		}
		return stats, nil
	}

	reqs := make([]Request, len(toRequest))
	for i, p := range toRequest {
		reqs[i] = Request{
			UUID:        p.MessageID,
			MessageType: string(p.Role),
			Content:     p.RawContent,
		}
	}

	results, err := s.summarizer.SummarizeBatch(ctx, reqs)
	if err != nil {
		// Transient exhaustion. Defer the batch; items at the attempt
		// bound fall back on a later pass.
		ids := make([]string, len(toRequest))
		for i, p := range toRequest {
			ids[i] = p.MessageID
		}
		if ierr := s.store.IncrementAttempts(ctx, ids); ierr != nil {
			span.RecordError(ierr)
			return stats, errors.Join(err, ierr)
		}
		stats.Deferred = len(ids)
		s.logger.Warn(ctx, "summarization batch failed, deferred",
			zap.Int("messages", len(ids)), zap.Error(err))
		return stats, nil
	}

	byUUID := make(map[string]string, len(results))
	for _, r := range results {
		byUUID[r.UUID] = strings.TrimSpace(r.Summary)
	}

	for _, p := range toRequest {
		summary, ok := byUUID[p.MessageID]
		if !ok || summary == "" {
			if err := s.store.IncrementAttempts(ctx, []string{p.MessageID}); err != nil {
				span.RecordError(err)
				return stats, err
			}
			stats.Deferred++
			continue
		}
		if err := s.store.MarkSummarized(ctx, p.MessageID, clampSummary(summary)); err != nil {
			span.RecordError(err)
			return stats, err
		}
		stats.Summarized++
		if s.summarizedCounter != nil {
			s.summarizedCounter.Add(ctx, 1)
		}
	}
	return stats, nil
}

// Drain runs SummarizePending until the backlog empties. Attempt
// counters increase on every deferral, so the loop terminates even
// when the service is down.
func (s *Service) Drain(ctx context.Context, batchSize int) (*Stats, error) {
	total := &Stats{}
	for {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		pass, err := s.SummarizePending(ctx, batchSize)
		if pass != nil {
			total.add(pass)
		}
		if err != nil {
			return total, err
		}
		if pass.Selected == 0 {
			return total, nil
		}
	}
}

func (s *Service) applyFallback(ctx context.Context, p store.PendingMessage) error {
	if err := s.store.ApplyFallback(ctx, p.MessageID, clampSummary(p.RawContent)); err != nil {
		return err
	}
	if s.fallbackCounter != nil {
		s.fallbackCounter.Add(ctx, 1)
	}
	return nil
}
