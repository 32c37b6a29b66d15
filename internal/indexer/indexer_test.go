package indexer

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/recall/internal/store"
)

func newTestService(t *testing.T) (*Service, *store.Store, string) {
	t.Helper()
	dir := t.TempDir()
	st, err := store.Open(filepath.Join(dir, "index.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	logsRoot := filepath.Join(dir, "projects")
	require.NoError(t, os.MkdirAll(logsRoot, 0o755))

	svc, err := NewService(st, logsRoot, nil)
	require.NoError(t, err)
	return svc, st, logsRoot
}

func jsonLine(t *testing.T, record map[string]any) string {
	t.Helper()
	data, err := json.Marshal(record)
	require.NoError(t, err)
	return string(data) + "\n"
}

func messageLine(t *testing.T, typ, uuid, parent, content string, at time.Time) string {
	t.Helper()
	rec := map[string]any{
		"type":      typ,
		"uuid":      uuid,
		"timestamp": at.Format(time.RFC3339Nano),
		"sessionId": "",
		"message":   map[string]any{"role": typ, "content": content},
	}
	if parent != "" {
		rec["parentUuid"] = parent
	}
	return jsonLine(t, rec)
}

func summaryLine(t *testing.T, summary, leaf string) string {
	t.Helper()
	return jsonLine(t, map[string]any{"type": "summary", "summary": summary, "leafUuid": leaf})
}

// writeSessionLog creates <root>/<project dir>/<session>.jsonl.
func writeSessionLog(t *testing.T, root, projectDir, session, content string) string {
	t.Helper()
	dir := filepath.Join(root, projectDir)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	path := filepath.Join(dir, session+".jsonl")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestReindexSessionWithNoise(t *testing.T) {
	svc, st, root := newTestService(t)
	ctx := context.Background()
	at := time.Date(2026, 8, 20, 9, 0, 0, 0, time.UTC)

	log := summaryLine(t, "Debugging flaky watcher tests", "c") +
		messageLine(t, "user", "a", "", "the watcher tests are flaky on CI", at) +
		jsonLine(t, map[string]any{"type": "file-history-snapshot", "snapshot": "stuff"}) +
		messageLine(t, "assistant", "b", "a", "the debounce window is too short for slow runners", at.Add(time.Minute)) +
		"not json at all\n" +
		messageLine(t, "user", "c", "b", "bumping it fixed the flakes", at.Add(2*time.Minute))
	writeSessionLog(t, root, "-home-dev-recall", "sess-noise", log)

	stats, err := svc.Reindex(ctx, Options{})
	require.NoError(t, err)

	assert.Equal(t, 1, stats.FilesScanned)
	assert.Equal(t, 1, stats.FilesIndexed)
	assert.Equal(t, 3, stats.NewMessages)
	assert.Equal(t, 3, stats.Enqueued)
	assert.Equal(t, 1, stats.ParseErrors)

	conv, err := st.GetConversation(ctx, "sess-noise")
	require.NoError(t, err)
	assert.Equal(t, 3, conv.MessageCount)
	assert.Equal(t, "Debugging flaky watcher tests", conv.TitleSummary)
	assert.Equal(t, "/home/dev/recall", conv.ProjectPath)
	assert.Equal(t, int64(len(log)), conv.LastIndexedOffset)

	depths, err := st.SessionDepths(ctx, "sess-noise")
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"a": 0, "b": 1, "c": 2}, depths)
}

func TestReindexIdempotent(t *testing.T) {
	svc, _, root := newTestService(t)
	ctx := context.Background()
	at := time.Now().UTC()

	log := messageLine(t, "user", "a", "", "does the second run rewrite anything?", at)
	writeSessionLog(t, root, "-home-dev-proj", "sess-idem", log)

	first, err := svc.Reindex(ctx, Options{})
	require.NoError(t, err)
	require.Equal(t, 1, first.NewMessages)

	second, err := svc.Reindex(ctx, Options{})
	require.NoError(t, err)
	assert.Equal(t, 1, second.FilesScanned)
	assert.Equal(t, 0, second.FilesIndexed)
	assert.Equal(t, 0, second.NewMessages)
	assert.Equal(t, 0, second.Enqueued)
}

func TestReindexResumesFromOffset(t *testing.T) {
	svc, st, root := newTestService(t)
	ctx := context.Background()
	at := time.Date(2026, 8, 20, 9, 0, 0, 0, time.UTC)

	log := messageLine(t, "user", "a", "", "start of a long conversation", at)
	path := writeSessionLog(t, root, "-home-dev-proj", "sess-resume", log)

	_, err := svc.Reindex(ctx, Options{})
	require.NoError(t, err)

	// Append a reply whose parent committed in the earlier pass.
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, err = f.WriteString(messageLine(t, "assistant", "b", "a", "picking up where we left off", at.Add(time.Minute)))
	require.NoError(t, err)
	require.NoError(t, f.Close())

	stats, err := svc.Reindex(ctx, Options{})
	require.NoError(t, err)
	assert.Equal(t, 1, stats.FilesIndexed)
	assert.Equal(t, 1, stats.NewMessages)

	depths, err := st.SessionDepths(ctx, "sess-resume")
	require.NoError(t, err)
	assert.Equal(t, 1, depths["b"], "depth should chain through the stored parent")

	info, err := os.Stat(path)
	require.NoError(t, err)
	conv, err := st.GetConversation(ctx, "sess-resume")
	require.NoError(t, err)
	assert.Equal(t, info.Size(), conv.LastIndexedOffset)
}

func TestReindexLeavesPartialTrailingLine(t *testing.T) {
	svc, st, root := newTestService(t)
	ctx := context.Background()
	at := time.Date(2026, 8, 20, 9, 0, 0, 0, time.UTC)

	complete := messageLine(t, "user", "a", "", "finished line", at)
	partial := `{"type":"assistant","uuid":"b","parentUuid":"a","message":{"role":"assistant","content":"still being writ`
	path := writeSessionLog(t, root, "-home-dev-proj", "sess-partial", complete+partial)

	stats, err := svc.Reindex(ctx, Options{})
	require.NoError(t, err)
	assert.Equal(t, 1, stats.NewMessages)

	conv, err := st.GetConversation(ctx, "sess-partial")
	require.NoError(t, err)
	assert.Equal(t, int64(len(complete)), conv.LastIndexedOffset)

	// Writer finishes the line; the next pass picks it up.
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, err = f.WriteString(`ten"},"timestamp":"2026-08-20T09:01:00Z"}` + "\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	stats, err = svc.Reindex(ctx, Options{})
	require.NoError(t, err)
	assert.Equal(t, 1, stats.NewMessages)

	msg, err := st.GetMessage(ctx, "b")
	require.NoError(t, err)
	assert.Equal(t, "still being written", msg.RawContent)
	assert.Equal(t, 1, msg.Depth)
}

func TestReindexFullRescanDoesNotReenqueue(t *testing.T) {
	svc, st, root := newTestService(t)
	ctx := context.Background()
	at := time.Date(2026, 8, 20, 9, 0, 0, 0, time.UTC)

	log := messageLine(t, "user", "a", "", "summarize me once, not twice", at)
	writeSessionLog(t, root, "-home-dev-proj", "sess-rescan", log)

	_, err := svc.Reindex(ctx, Options{})
	require.NoError(t, err)

	// Simulate the pipeline finishing its work.
	require.NoError(t, st.MarkSummarized(ctx, "a", "summarized"))
	n, err := st.PendingCount(ctx)
	require.NoError(t, err)
	require.Equal(t, 0, n)

	stats, err := svc.Reindex(ctx, Options{FullRescan: true})
	require.NoError(t, err)
	assert.Equal(t, 1, stats.FilesIndexed, "full rescan rewrites the file")
	assert.Equal(t, 0, stats.NewMessages)
	assert.Equal(t, 0, stats.Enqueued)

	n, err = st.PendingCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n, "existing messages must not re-enter the queue")

	msg, err := st.GetMessage(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "summarized", msg.Summary, "rescan must not clobber summaries")
}

func TestReindexSkipSummarization(t *testing.T) {
	svc, st, root := newTestService(t)
	ctx := context.Background()

	log := messageLine(t, "user", "a", "", "indexed but never queued", time.Now().UTC())
	writeSessionLog(t, root, "-home-dev-proj", "sess-skip", log)

	stats, err := svc.Reindex(ctx, Options{SkipSummarization: true})
	require.NoError(t, err)
	assert.Equal(t, 1, stats.NewMessages)
	assert.Equal(t, 0, stats.Enqueued)

	n, err := st.PendingCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestReindexSkipsAgentLogs(t *testing.T) {
	svc, _, root := newTestService(t)
	ctx := context.Background()

	writeSessionLog(t, root, "-home-dev-proj", "agent-abc123", messageLine(t, "user", "x", "", "subagent chatter", time.Now().UTC()))

	stats, err := svc.Reindex(ctx, Options{})
	require.NoError(t, err)
	assert.Equal(t, 0, stats.FilesScanned)
}

func TestReindexLookbackWindow(t *testing.T) {
	svc, _, root := newTestService(t)
	ctx := context.Background()

	writeSessionLog(t, root, "-home-dev-proj", "sess-fresh", messageLine(t, "user", "f", "", "recent work", time.Now().UTC()))
	stale := writeSessionLog(t, root, "-home-dev-proj", "sess-stale", messageLine(t, "user", "s", "", "ancient work", time.Now().UTC()))

	old := time.Now().AddDate(0, 0, -30)
	require.NoError(t, os.Chtimes(stale, old, old))

	stats, err := svc.Reindex(ctx, Options{Days: 7})
	require.NoError(t, err)
	assert.Equal(t, 1, stats.FilesScanned)
	assert.Equal(t, 1, stats.NewMessages)
}

func TestReindexExplicitSources(t *testing.T) {
	svc, st, root := newTestService(t)
	ctx := context.Background()

	wanted := writeSessionLog(t, root, "-home-dev-proj", "sess-wanted", messageLine(t, "user", "w", "", "index exactly this file", time.Now().UTC()))
	writeSessionLog(t, root, "-home-dev-proj", "sess-other", messageLine(t, "user", "o", "", "leave this one alone", time.Now().UTC()))

	stats, err := svc.Reindex(ctx, Options{Sources: []string{wanted, wanted, filepath.Join(root, "notes.txt")}})
	require.NoError(t, err)
	assert.Equal(t, 1, stats.FilesScanned, "duplicates and non-logs are dropped")
	assert.Equal(t, 1, stats.NewMessages)

	_, err = st.GetConversation(ctx, "sess-other")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestReindexOrphanParentIsRoot(t *testing.T) {
	svc, st, root := newTestService(t)
	ctx := context.Background()

	log := messageLine(t, "user", "child", "missing-parent", "my parent never made it into the log", time.Now().UTC())
	writeSessionLog(t, root, "-home-dev-proj", "sess-orphan", log)

	_, err := svc.Reindex(ctx, Options{})
	require.NoError(t, err)

	msg, err := st.GetMessage(ctx, "child")
	require.NoError(t, err)
	assert.Equal(t, 0, msg.Depth)
	assert.Equal(t, "missing-parent", msg.ParentID)
}

func TestReindexLockContention(t *testing.T) {
	svc, st, root := newTestService(t)
	ctx := context.Background()

	writeSessionLog(t, root, "-home-dev-proj", "sess-lock", messageLine(t, "user", "a", "", "content", time.Now().UTC()))

	lock, err := st.AcquireLock()
	require.NoError(t, err)
	defer lock.Release()

	_, err = svc.Reindex(ctx, Options{})
	assert.ErrorIs(t, err, store.ErrLockHeld)
}

func TestReindexMissingLogsRoot(t *testing.T) {
	dir := t.TempDir()
	st, err := store.Open(filepath.Join(dir, "index.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	svc, err := NewService(st, filepath.Join(dir, "does-not-exist"), nil)
	require.NoError(t, err)

	stats, err := svc.Reindex(context.Background(), Options{})
	require.NoError(t, err)
	assert.Equal(t, 0, stats.FilesScanned)
}

func TestReindexManyFiles(t *testing.T) {
	svc, _, root := newTestService(t)
	ctx := context.Background()
	at := time.Date(2026, 8, 20, 9, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		session := fmt.Sprintf("sess-%d", i)
		writeSessionLog(t, root, "-home-dev-proj", session,
			messageLine(t, "user", fmt.Sprintf("m%d", i), "", fmt.Sprintf("conversation number %d", i), at))
	}

	stats, err := svc.Reindex(ctx, Options{})
	require.NoError(t, err)
	assert.Equal(t, 5, stats.FilesScanned)
	assert.Equal(t, 5, stats.FilesIndexed)
	assert.Equal(t, 5, stats.NewMessages)
}

func TestNewServiceValidation(t *testing.T) {
	dir := t.TempDir()
	st, err := store.Open(filepath.Join(dir, "index.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	_, err = NewService(nil, dir, nil)
	assert.Error(t, err)

	_, err = NewService(st, "", nil)
	assert.Error(t, err)
}
