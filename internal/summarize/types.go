package summarize

import (
	"context"
	"time"
	"unicode/utf8"
)

const (
	// maxSummaryRunes bounds every stored summary.
	maxSummaryRunes = 150

	// shortContentRunes is the length under which a message keeps its
	// raw content as the summary without calling the service.
	shortContentRunes = 50

	// maxRequestContentRunes bounds per-message content in a request.
	maxRequestContentRunes = 2000
)

// Request is one message inside a batch summarization call.
type Request struct {
	UUID        string `json:"uuid"`
	MessageType string `json:"message_type"`
	Content     string `json:"content"`
}

// Result is one summary extracted from the service response.
type Result struct {
	UUID        string `json:"uuid"`
	MessageType string `json:"message_type"`
	Summary     string `json:"summary"`
}

// Summarizer talks to the external summarization service.
type Summarizer interface {
	// SummarizeBatch condenses all requests in one round trip.
	// Results may cover only a subset of the requested uuids.
	SummarizeBatch(ctx context.Context, reqs []Request) ([]Result, error)

	// Available reports whether the service can be called at all.
	Available() bool
}

// Config configures the external client.
type Config struct {
	Enabled  bool
	Provider string
	Model    string
	APIKey   string
	BaseURL  string

	// Timeout bounds one HTTP attempt.
	Timeout time.Duration

	// MaxRetries is the per-call retry budget on transient failures.
	MaxRetries int

	// RateLimit is requests per minute; Burst allows short spikes.
	RateLimit float64
	Burst     int
}

// NoOpSummarizer is used when summarization is disabled or unkeyed.
// The pipeline falls back to truncation for everything.
type NoOpSummarizer struct{}

func NewNoOp() *NoOpSummarizer { return &NoOpSummarizer{} }

func (*NoOpSummarizer) SummarizeBatch(context.Context, []Request) ([]Result, error) {
	return nil, nil
}

func (*NoOpSummarizer) Available() bool { return false }

var _ Summarizer = (*NoOpSummarizer)(nil)

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}

// clampSummary enforces the summary length bound. It doubles as the
// truncation fallback when applied to raw content.
func clampSummary(s string) string {
	if utf8.RuneCountInString(s) <= maxSummaryRunes {
		return s
	}
	return truncateRunes(s, maxSummaryRunes-3) + "..."
}
