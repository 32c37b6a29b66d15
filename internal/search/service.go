package search

import (
	"context"
	"errors"
	"time"
	"unicode/utf8"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/recall/internal/conversation"
	"github.com/fyrsmithlabs/recall/internal/logging"
	"github.com/fyrsmithlabs/recall/internal/store"
)

const instrumentationName = "github.com/fyrsmithlabs/recall/internal/search"

const (
	defaultLimit = 10

	// snippetRunes bounds the preview text of a hit without a summary.
	snippetRunes = 150
)

// Options shapes one search.
type Options struct {
	Query string

	// Days limits hits to the window; zero means no window.
	Days int

	// Project filters hits to one project path.
	Project string

	Limit int

	// IncludeContent copies full raw content into each hit.
	IncludeContent bool
}

// Hit is one search result.
type Hit struct {
	MessageID   string            `json:"message_id"`
	SessionID   string            `json:"session_id"`
	ProjectPath string            `json:"project_path"`
	Role        conversation.Role `json:"role"`
	Timestamp   time.Time         `json:"timestamp"`
	IsSidechain bool              `json:"is_sidechain,omitempty"`

	// Snippet is the stored summary when one exists, otherwise the
	// head of the raw content.
	Snippet    string `json:"snippet"`
	Summarized bool   `json:"summarized"`

	// Content carries the full text only when asked for.
	Content string `json:"content,omitempty"`

	// Rank is the bm25 score; lower ranks are better matches.
	Rank float64 `json:"rank"`
}

// Descendant is a context message below the target, tagged with how
// many levels down it sits (1 = direct reply).
type Descendant struct {
	conversation.Message
	Level int `json:"level"`
}

// Context is a message with its surrounding thread.
type Context struct {
	Target conversation.Message `json:"target"`

	// Ancestors runs nearest-first: parent, grandparent, and so on.
	Ancestors []conversation.Message `json:"ancestors"`

	Descendants []Descendant `json:"descendants"`
}

// TreeNode is one message in a reconstructed conversation tree.
type TreeNode struct {
	Message  conversation.Message `json:"message"`
	Children []*TreeNode          `json:"children,omitempty"`

	// BranchPoint marks nodes where the conversation forked.
	BranchPoint bool `json:"branch_point,omitempty"`
}

// Tree is a whole conversation in parent-linked form.
type Tree struct {
	SessionID    string `json:"session_id"`
	ProjectPath  string `json:"project_path"`
	TitleSummary string `json:"title_summary,omitempty"`
	MessageCount int    `json:"message_count"`

	// Roots holds parentless messages; orphaned subtrees surface here
	// as well.
	Roots []*TreeNode `json:"roots"`
}

// Service answers read queries over the store.
type Service struct {
	store  *store.Store
	logger *logging.Logger

	tracer         trace.Tracer
	meter          metric.Meter
	searchCounter  metric.Int64Counter
	contextCounter metric.Int64Counter
}

func NewService(st *store.Store, logger *logging.Logger) (*Service, error) {
	if st == nil {
		return nil, errors.New("store is required")
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	s := &Service{
		store:  st,
		logger: logger,
		tracer: otel.Tracer(instrumentationName),
		meter:  otel.Meter(instrumentationName),
	}
	s.initMetrics()
	return s, nil
}

func (s *Service) initMetrics() {
	var err error

	s.searchCounter, err = s.meter.Int64Counter(
		"recall.search.queries_total",
		metric.WithDescription("Full-text searches served"),
		metric.WithUnit("{query}"),
	)
	if err != nil {
		s.logger.Warn(context.Background(), "failed to create search counter", zap.Error(err))
	}

	s.contextCounter, err = s.meter.Int64Counter(
		"recall.search.context_lookups_total",
		metric.WithDescription("Context expansions served"),
		metric.WithUnit("{lookup}"),
	)
	if err != nil {
		s.logger.Warn(context.Background(), "failed to create context counter", zap.Error(err))
	}
}

// Search runs a full-text query. Zero matches return an empty slice
// and nil error.
func (s *Service) Search(ctx context.Context, opts Options) ([]Hit, error) {
	ctx, span := s.tracer.Start(ctx, "search.query")
	defer span.End()

	match := buildMatch(opts.Query)
	if match == "" {
		return nil, errors.New("search query is empty")
	}
	span.SetAttributes(attribute.Int("days", opts.Days))

	filter := store.SearchFilter{
		ProjectPath: opts.Project,
		Limit:       opts.Limit,
	}
	if opts.Days > 0 {
		filter.Since = time.Now().AddDate(0, 0, -opts.Days)
	}
	if filter.Limit <= 0 {
		filter.Limit = defaultLimit
	}

	rows, err := s.store.SearchMessages(ctx, match, filter)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	if s.searchCounter != nil {
		s.searchCounter.Add(ctx, 1)
	}
	span.SetAttributes(attribute.Int("hits", len(rows)))

	hits := make([]Hit, 0, len(rows))
	for _, r := range rows {
		h := Hit{
			MessageID:   r.Message.MessageID,
			SessionID:   r.Message.SessionID,
			ProjectPath: r.ProjectPath,
			Role:        r.Message.Role,
			Timestamp:   r.Message.Timestamp,
			IsSidechain: r.Message.IsSidechain,
			Snippet:     snippet(&r.Message),
			Summarized:  r.Message.IsSummarized,
			Rank:        r.Rank,
		}
		if opts.IncludeContent {
			h.Content = r.Message.RawContent
		}
		hits = append(hits, h)
	}

	s.logger.Debug(ctx, "search served",
		zap.String("match", match), zap.Int("hits", len(hits)))
	return hits, nil
}

// GetContext returns the message with up to depth ancestors and depth
// levels of descendants. An unknown id is store.ErrNotFound; a root
// simply has no ancestors.
func (s *Service) GetContext(ctx context.Context, messageID string, depth int) (*Context, error) {
	ctx, span := s.tracer.Start(ctx, "search.context")
	defer span.End()
	span.SetAttributes(attribute.Int("depth", depth))

	if depth <= 0 {
		depth = 2
	}

	target, err := s.store.GetMessage(ctx, messageID)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	res := &Context{Target: *target}

	parentID := target.ParentID
	for level := 0; level < depth && parentID != ""; level++ {
		parent, err := s.store.GetMessage(ctx, parentID)
		if errors.Is(err, store.ErrNotFound) {
			// The chain left the indexed window.
			break
		}
		if err != nil {
			span.RecordError(err)
			return nil, err
		}
		res.Ancestors = append(res.Ancestors, *parent)
		parentID = parent.ParentID
	}

	frontier := []string{target.MessageID}
	for level := 1; level <= depth && len(frontier) > 0; level++ {
		children, err := s.store.ChildrenOf(ctx, frontier)
		if err != nil {
			span.RecordError(err)
			return nil, err
		}
		frontier = frontier[:0]
		for _, c := range children {
			res.Descendants = append(res.Descendants, Descendant{Message: c, Level: level})
			frontier = append(frontier, c.MessageID)
		}
	}

	if s.contextCounter != nil {
		s.contextCounter.Add(ctx, 1)
	}
	return res, nil
}

// GetTree rebuilds a conversation's message tree. Children hang off
// their parents in timestamp order; messages whose parent is missing
// become extra roots rather than disappearing.
func (s *Service) GetTree(ctx context.Context, sessionID string) (*Tree, error) {
	ctx, span := s.tracer.Start(ctx, "search.tree")
	defer span.End()

	conv, err := s.store.GetConversation(ctx, sessionID)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	msgs, err := s.store.SessionMessages(ctx, sessionID)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	tree := &Tree{
		SessionID:    conv.SessionID,
		ProjectPath:  conv.ProjectPath,
		TitleSummary: conv.TitleSummary,
		MessageCount: conv.MessageCount,
	}

	nodes := make(map[string]*TreeNode, len(msgs))
	for i := range msgs {
		nodes[msgs[i].MessageID] = &TreeNode{Message: msgs[i]}
	}
	for i := range msgs {
		node := nodes[msgs[i].MessageID]
		parent, ok := nodes[msgs[i].ParentID]
		if msgs[i].ParentID == "" || !ok || parent == node {
			tree.Roots = append(tree.Roots, node)
			continue
		}
		parent.Children = append(parent.Children, node)
	}
	for _, n := range nodes {
		if len(n.Children) > 1 {
			n.BranchPoint = true
		}
	}

	return tree, nil
}

// GetMessage returns one message with full content.
func (s *Service) GetMessage(ctx context.Context, messageID string) (*conversation.Message, error) {
	return s.store.GetMessage(ctx, messageID)
}

// ListConversations returns recent conversations, newest update first.
func (s *Service) ListConversations(ctx context.Context, limit int) ([]conversation.Conversation, error) {
	return s.store.ListConversations(ctx, limit)
}

// snippet prefers the summary and falls back to the head of the raw
// content.
func snippet(m *conversation.Message) string {
	if m.Summary != "" {
		return m.Summary
	}
	if utf8.RuneCountInString(m.RawContent) <= snippetRunes {
		return m.RawContent
	}
	return string([]rune(m.RawContent)[:snippetRunes-3]) + "..."
}
