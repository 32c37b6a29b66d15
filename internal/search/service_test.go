package search

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/recall/internal/conversation"
	"github.com/fyrsmithlabs/recall/internal/store"
)

func newTestService(t *testing.T) (*Service, *store.Store) {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "index.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	svc, err := NewService(st, nil)
	require.NoError(t, err)
	return svc, st
}

func msg(id, session, parent string, role conversation.Role, content string, depth int, at time.Time) conversation.Message {
	return conversation.Message{
		MessageID:  id,
		SessionID:  session,
		ParentID:   parent,
		Role:       role,
		Timestamp:  at,
		RawContent: content,
		Depth:      depth,
	}
}

// seedThread stores a linear a->b->c->d->e conversation.
func seedThread(t *testing.T, st *store.Store) {
	t.Helper()
	at := time.Date(2026, 8, 20, 9, 0, 0, 0, time.UTC)
	b := &store.Batch{
		SessionID:    "sess-thread",
		ProjectPath:  "/home/dev/recall",
		TitleSummary: "Chasing the eviction bug",
		NewOffset:    1024,
		Messages: []conversation.Message{
			msg("a", "sess-thread", "", conversation.RoleUser, "the cache drops entries under load", 0, at),
			msg("b", "sess-thread", "a", conversation.RoleAssistant, "looks like the eviction clock wraps", 1, at.Add(time.Minute)),
			msg("c", "sess-thread", "b", conversation.RoleUser, "how do we prove the wrap happens?", 2, at.Add(2*time.Minute)),
			msg("d", "sess-thread", "c", conversation.RoleAssistant, "add a counter and watch it overflow", 3, at.Add(3*time.Minute)),
			msg("e", "sess-thread", "d", conversation.RoleUser, "counter overflowed, theory confirmed", 4, at.Add(4*time.Minute)),
		},
	}
	require.NoError(t, st.ApplyBatch(context.Background(), b))
}

func TestSearch(t *testing.T) {
	svc, st := newTestService(t)
	seedThread(t, st)
	ctx := context.Background()

	hits, err := svc.Search(ctx, Options{Query: "eviction"})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "b", hits[0].MessageID)
	assert.Equal(t, "sess-thread", hits[0].SessionID)
	assert.Equal(t, "/home/dev/recall", hits[0].ProjectPath)
	assert.Equal(t, conversation.RoleAssistant, hits[0].Role)
	assert.Equal(t, "looks like the eviction clock wraps", hits[0].Snippet)
	assert.Empty(t, hits[0].Content, "content withheld unless asked for")
}

func TestSearchNoMatches(t *testing.T) {
	svc, st := newTestService(t)
	seedThread(t, st)

	hits, err := svc.Search(context.Background(), Options{Query: "kubernetes"})
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestSearchEmptyQuery(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.Search(context.Background(), Options{Query: "  "})
	assert.Error(t, err)
}

func TestSearchIncludeContent(t *testing.T) {
	svc, st := newTestService(t)
	seedThread(t, st)

	hits, err := svc.Search(context.Background(), Options{Query: "eviction", IncludeContent: true})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "looks like the eviction clock wraps", hits[0].Content)
}

func TestSearchPrefersSummarySnippet(t *testing.T) {
	svc, st := newTestService(t)
	seedThread(t, st)
	ctx := context.Background()

	require.NoError(t, st.MarkSummarized(ctx, "b", "Diagnosed eviction clock wraparound"))

	hits, err := svc.Search(ctx, Options{Query: "eviction"})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "Diagnosed eviction clock wraparound", hits[0].Snippet)
	assert.True(t, hits[0].Summarized)
}

func TestSearchRanksRepeatedTermsFirst(t *testing.T) {
	svc, st := newTestService(t)
	ctx := context.Background()
	at := time.Date(2026, 8, 20, 9, 0, 0, 0, time.UTC)

	b := &store.Batch{
		SessionID:   "sess-rank",
		ProjectPath: "/home/dev/recall",
		NewOffset:   256,
		Messages: []conversation.Message{
			msg("weak", "sess-rank", "", conversation.RoleUser, "one mention of sqlite somewhere here", 0, at),
			msg("strong", "sess-rank", "weak", conversation.RoleAssistant, "sqlite locking and sqlite pragmas explained", 1, at.Add(time.Minute)),
		},
	}
	require.NoError(t, st.ApplyBatch(ctx, b))

	hits, err := svc.Search(ctx, Options{Query: "sqlite"})
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, "strong", hits[0].MessageID)
}

func TestSearchDaysWindow(t *testing.T) {
	svc, st := newTestService(t)
	ctx := context.Background()

	b := &store.Batch{
		SessionID:   "sess-window",
		ProjectPath: "/home/dev/recall",
		NewOffset:   256,
		Messages: []conversation.Message{
			msg("old", "sess-window", "", conversation.RoleUser, "ancient debugging session", 0, time.Now().UTC().AddDate(0, 0, -30)),
			msg("new", "sess-window", "old", conversation.RoleUser, "recent debugging session", 1, time.Now().UTC()),
		},
	}
	require.NoError(t, st.ApplyBatch(ctx, b))

	hits, err := svc.Search(ctx, Options{Query: "debugging", Days: 7})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "new", hits[0].MessageID)

	hits, err = svc.Search(ctx, Options{Query: "debugging"})
	require.NoError(t, err)
	assert.Len(t, hits, 2)
}

func TestSearchProjectFilter(t *testing.T) {
	svc, st := newTestService(t)
	ctx := context.Background()
	at := time.Date(2026, 8, 20, 9, 0, 0, 0, time.UTC)

	require.NoError(t, st.ApplyBatch(ctx, &store.Batch{
		SessionID:   "sess-p1",
		ProjectPath: "/home/dev/alpha",
		NewOffset:   128,
		Messages: []conversation.Message{
			msg("p1", "sess-p1", "", conversation.RoleUser, "migration plan for the database", 0, at),
		},
	}))
	require.NoError(t, st.ApplyBatch(ctx, &store.Batch{
		SessionID:   "sess-p2",
		ProjectPath: "/home/dev/beta",
		NewOffset:   128,
		Messages: []conversation.Message{
			msg("p2", "sess-p2", "", conversation.RoleUser, "migration plan for the queue", 0, at),
		},
	}))

	hits, err := svc.Search(ctx, Options{Query: "migration", Project: "/home/dev/alpha"})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "p1", hits[0].MessageID)
}

func TestSearchLimit(t *testing.T) {
	svc, st := newTestService(t)
	seedThread(t, st)

	hits, err := svc.Search(context.Background(), Options{Query: "the", Limit: 2})
	require.NoError(t, err)
	assert.LessOrEqual(t, len(hits), 2)
}

func TestGetContext(t *testing.T) {
	svc, st := newTestService(t)
	seedThread(t, st)

	res, err := svc.GetContext(context.Background(), "c", 2)
	require.NoError(t, err)

	assert.Equal(t, "c", res.Target.MessageID)

	require.Len(t, res.Ancestors, 2)
	assert.Equal(t, "b", res.Ancestors[0].MessageID, "nearest ancestor first")
	assert.Equal(t, "a", res.Ancestors[1].MessageID)

	require.Len(t, res.Descendants, 2)
	assert.Equal(t, "d", res.Descendants[0].MessageID)
	assert.Equal(t, 1, res.Descendants[0].Level)
	assert.Equal(t, "e", res.Descendants[1].MessageID)
	assert.Equal(t, 2, res.Descendants[1].Level)
}

func TestGetContextDepthOne(t *testing.T) {
	svc, st := newTestService(t)
	seedThread(t, st)

	res, err := svc.GetContext(context.Background(), "c", 1)
	require.NoError(t, err)
	require.Len(t, res.Ancestors, 1)
	assert.Equal(t, "b", res.Ancestors[0].MessageID)
	require.Len(t, res.Descendants, 1)
	assert.Equal(t, "d", res.Descendants[0].MessageID)
}

func TestGetContextRootHasNoAncestors(t *testing.T) {
	svc, st := newTestService(t)
	seedThread(t, st)

	res, err := svc.GetContext(context.Background(), "a", 3)
	require.NoError(t, err)
	assert.Empty(t, res.Ancestors)
	assert.NotEmpty(t, res.Descendants)
}

func TestGetContextLeafHasNoDescendants(t *testing.T) {
	svc, st := newTestService(t)
	seedThread(t, st)

	res, err := svc.GetContext(context.Background(), "e", 2)
	require.NoError(t, err)
	assert.Empty(t, res.Descendants)
	require.Len(t, res.Ancestors, 2)
	assert.Equal(t, "d", res.Ancestors[0].MessageID)
}

func TestGetContextUnknownID(t *testing.T) {
	svc, st := newTestService(t)
	seedThread(t, st)

	_, err := svc.GetContext(context.Background(), "nope", 2)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestGetContextBranches(t *testing.T) {
	svc, st := newTestService(t)
	ctx := context.Background()
	at := time.Date(2026, 8, 20, 9, 0, 0, 0, time.UTC)

	b := &store.Batch{
		SessionID:   "sess-branch",
		ProjectPath: "/home/dev/recall",
		NewOffset:   512,
		Messages: []conversation.Message{
			msg("root", "sess-branch", "", conversation.RoleUser, "which approach should we take?", 0, at),
			msg("left", "sess-branch", "root", conversation.RoleAssistant, "approach one: rewrite the parser", 1, at.Add(time.Minute)),
			msg("right", "sess-branch", "root", conversation.RoleAssistant, "approach two: patch the tokenizer", 1, at.Add(2*time.Minute)),
		},
	}
	require.NoError(t, st.ApplyBatch(ctx, b))

	res, err := svc.GetContext(ctx, "root", 1)
	require.NoError(t, err)
	require.Len(t, res.Descendants, 2)
	assert.Equal(t, "left", res.Descendants[0].MessageID)
	assert.Equal(t, "right", res.Descendants[1].MessageID)
	assert.Equal(t, 1, res.Descendants[0].Level)
	assert.Equal(t, 1, res.Descendants[1].Level)
}

func TestGetTree(t *testing.T) {
	svc, st := newTestService(t)
	ctx := context.Background()
	at := time.Date(2026, 8, 20, 9, 0, 0, 0, time.UTC)

	b := &store.Batch{
		SessionID:    "sess-tree",
		ProjectPath:  "/home/dev/recall",
		TitleSummary: "Forked exploration",
		NewOffset:    512,
		Messages: []conversation.Message{
			msg("root", "sess-tree", "", conversation.RoleUser, "two ways forward", 0, at),
			msg("left", "sess-tree", "root", conversation.RoleAssistant, "first fork", 1, at.Add(time.Minute)),
			msg("right", "sess-tree", "root", conversation.RoleAssistant, "second fork", 1, at.Add(2*time.Minute)),
			msg("leaf", "sess-tree", "left", conversation.RoleUser, "continuing the first fork", 2, at.Add(3*time.Minute)),
		},
	}
	side := msg("side", "sess-tree", "root", conversation.RoleAssistant, "sidechain exploration", 1, at.Add(4*time.Minute))
	side.IsSidechain = true
	b.Messages = append(b.Messages, side)
	require.NoError(t, st.ApplyBatch(ctx, b))

	tree, err := svc.GetTree(ctx, "sess-tree")
	require.NoError(t, err)

	assert.Equal(t, "Forked exploration", tree.TitleSummary)
	assert.Equal(t, "/home/dev/recall", tree.ProjectPath)
	assert.Equal(t, 5, tree.MessageCount)

	require.Len(t, tree.Roots, 1)
	root := tree.Roots[0]
	assert.Equal(t, "root", root.Message.MessageID)
	assert.True(t, root.BranchPoint)
	require.Len(t, root.Children, 3)
	assert.Equal(t, "left", root.Children[0].Message.MessageID)
	assert.Equal(t, "right", root.Children[1].Message.MessageID)
	assert.Equal(t, "side", root.Children[2].Message.MessageID)
	assert.True(t, root.Children[2].Message.IsSidechain)

	left := root.Children[0]
	assert.False(t, left.BranchPoint)
	require.Len(t, left.Children, 1)
	assert.Equal(t, "leaf", left.Children[0].Message.MessageID)
}

func TestGetTreeOrphanBecomesRoot(t *testing.T) {
	svc, st := newTestService(t)
	ctx := context.Background()
	at := time.Date(2026, 8, 20, 9, 0, 0, 0, time.UTC)

	b := &store.Batch{
		SessionID:   "sess-orphan",
		ProjectPath: "/home/dev/recall",
		NewOffset:   256,
		Messages: []conversation.Message{
			msg("known", "sess-orphan", "", conversation.RoleUser, "the surviving root", 0, at),
			msg("lost", "sess-orphan", "gone-parent", conversation.RoleUser, "my parent was never indexed", 0, at.Add(time.Minute)),
		},
	}
	require.NoError(t, st.ApplyBatch(ctx, b))

	tree, err := svc.GetTree(ctx, "sess-orphan")
	require.NoError(t, err)
	require.Len(t, tree.Roots, 2)
	assert.Equal(t, "known", tree.Roots[0].Message.MessageID)
	assert.Equal(t, "lost", tree.Roots[1].Message.MessageID)
}

func TestGetTreeUnknownSession(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.GetTree(context.Background(), "sess-missing")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestListConversations(t *testing.T) {
	svc, st := newTestService(t)
	ctx := context.Background()
	at := time.Date(2026, 8, 20, 9, 0, 0, 0, time.UTC)

	for _, session := range []string{"sess-1", "sess-2"} {
		require.NoError(t, st.ApplyBatch(ctx, &store.Batch{
			SessionID:   session,
			ProjectPath: "/home/dev/recall",
			NewOffset:   128,
			Messages: []conversation.Message{
				msg(session+"-m", session, "", conversation.RoleUser, "hello from "+session, 0, at),
			},
		}))
	}

	convs, err := svc.ListConversations(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, convs, 2)
}

func TestGetMessage(t *testing.T) {
	svc, st := newTestService(t)
	seedThread(t, st)

	m, err := svc.GetMessage(context.Background(), "d")
	require.NoError(t, err)
	assert.Equal(t, "add a counter and watch it overflow", m.RawContent)

	_, err = svc.GetMessage(context.Background(), "absent")
	assert.ErrorIs(t, err, store.ErrNotFound)
}
