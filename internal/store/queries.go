package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/fyrsmithlabs/recall/internal/conversation"
)

const messageColumns = `message_id, session_id, parent_id, role, is_sidechain, timestamp, raw_content, summary, is_summarized, depth`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMessage(row rowScanner) (conversation.Message, error) {
	var (
		m            conversation.Message
		parent       sql.NullString
		summary      sql.NullString
		role         string
		ts           string
		sidechain    int
		isSummarized int
	)
	err := row.Scan(&m.MessageID, &m.SessionID, &parent, &role, &sidechain,
		&ts, &m.RawContent, &summary, &isSummarized, &m.Depth)
	if err != nil {
		return conversation.Message{}, err
	}
	m.ParentID = parent.String
	m.Summary = summary.String
	m.Role = conversation.Role(role)
	m.Timestamp = parseStoredTime(ts)
	m.IsSidechain = sidechain != 0
	m.IsSummarized = isSummarized != 0
	return m, nil
}

func scanMessages(rows *sql.Rows) ([]conversation.Message, error) {
	var out []conversation.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// GetMessage returns one message by id.
func (s *Store) GetMessage(ctx context.Context, id string) (*conversation.Message, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+messageColumns+` FROM messages WHERE message_id = ?`, id)
	m, err := scanMessage(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("message %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("reading message %s: %w", id, err)
	}
	return &m, nil
}

// GetConversation returns the aggregate row for a session.
func (s *Store) GetConversation(ctx context.Context, sessionID string) (*conversation.Conversation, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT session_id, project_path, title_summary, message_count, last_indexed_offset, updated_at
		 FROM conversations WHERE session_id = ?`, sessionID)

	var (
		c       conversation.Conversation
		title   sql.NullString
		updated string
	)
	err := row.Scan(&c.SessionID, &c.ProjectPath, &title, &c.MessageCount, &c.LastIndexedOffset, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("conversation %s: %w", sessionID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("reading conversation %s: %w", sessionID, err)
	}
	c.TitleSummary = title.String
	c.UpdatedAt = parseStoredTime(updated)
	return &c, nil
}

// SessionDepths returns message id to depth for every message of a
// session. Indexing uses it to place resumed children under parents
// committed by earlier passes.
func (s *Store) SessionDepths(ctx context.Context, sessionID string) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT message_id, depth FROM messages WHERE session_id = ?`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("reading depths for %s: %w", sessionID, err)
	}
	defer rows.Close()

	depths := make(map[string]int)
	for rows.Next() {
		var id string
		var depth int
		if err := rows.Scan(&id, &depth); err != nil {
			return nil, err
		}
		depths[id] = depth
	}
	return depths, rows.Err()
}

// SessionMessages returns every message of a session in timestamp
// order. Tree assembly happens in the search layer.
func (s *Store) SessionMessages(ctx context.Context, sessionID string) ([]conversation.Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+messageColumns+` FROM messages
		 WHERE session_id = ?
		 ORDER BY timestamp ASC, message_id ASC`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("reading messages for %s: %w", sessionID, err)
	}
	defer rows.Close()
	return scanMessages(rows)
}

// ChildrenOf returns the direct children of the given messages in
// timestamp order.
func (s *Store) ChildrenOf(ctx context.Context, parentIDs []string) ([]conversation.Message, error) {
	if len(parentIDs) == 0 {
		return nil, nil
	}
	placeholders := strings.Repeat("?,", len(parentIDs))
	placeholders = placeholders[:len(placeholders)-1]

	args := make([]any, len(parentIDs))
	for i, id := range parentIDs {
		args[i] = id
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+messageColumns+` FROM messages
		 WHERE parent_id IN (`+placeholders+`)
		 ORDER BY timestamp ASC, message_id ASC`, args...)
	if err != nil {
		return nil, fmt.Errorf("reading children: %w", err)
	}
	defer rows.Close()
	return scanMessages(rows)
}

// ListConversations returns recent conversations by update time.
func (s *Store) ListConversations(ctx context.Context, limit int) ([]conversation.Conversation, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT session_id, project_path, title_summary, message_count, last_indexed_offset, updated_at
		 FROM conversations
		 ORDER BY updated_at DESC, session_id ASC
		 LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("listing conversations: %w", err)
	}
	defer rows.Close()

	var out []conversation.Conversation
	for rows.Next() {
		var (
			c       conversation.Conversation
			title   sql.NullString
			updated string
		)
		if err := rows.Scan(&c.SessionID, &c.ProjectPath, &title, &c.MessageCount,
			&c.LastIndexedOffset, &updated); err != nil {
			return nil, err
		}
		c.TitleSummary = title.String
		c.UpdatedAt = parseStoredTime(updated)
		out = append(out, c)
	}
	return out, rows.Err()
}

// SearchFilter narrows an FTS query.
type SearchFilter struct {
	// Since drops messages older than this when non-zero.
	Since time.Time

	// ProjectPath restricts hits to one project when non-empty.
	ProjectPath string

	Limit int
}

// SearchHit is one FTS match joined with its conversation.
type SearchHit struct {
	Message     conversation.Message
	ProjectPath string

	// Rank is the bm25 score; lower is a better match.
	Rank float64
}

// SearchMessages runs an FTS5 MATCH expression and returns hits ordered
// by rank, then recency. The match expression is built by the search
// layer; zero matches yield an empty slice and nil error.
func (s *Store) SearchMessages(ctx context.Context, match string, f SearchFilter) ([]SearchHit, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = 10
	}

	query := `
		SELECT m.message_id, m.session_id, m.parent_id, m.role, m.is_sidechain,
		       m.timestamp, m.raw_content, m.summary, m.is_summarized, m.depth,
		       c.project_path, fts.rank
		FROM messages_fts fts
		JOIN messages m ON m.message_id = fts.message_id
		JOIN conversations c ON c.session_id = m.session_id
		WHERE messages_fts MATCH ?`
	args := []any{match}

	if !f.Since.IsZero() {
		query += " AND m.timestamp >= ?"
		args = append(args, formatTime(f.Since))
	}
	if f.ProjectPath != "" {
		query += " AND c.project_path = ?"
		args = append(args, f.ProjectPath)
	}

	query += " ORDER BY fts.rank, m.timestamp DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("searching index: %w", err)
	}
	defer rows.Close()

	var hits []SearchHit
	for rows.Next() {
		var (
			h            SearchHit
			parent       sql.NullString
			summary      sql.NullString
			role         string
			ts           string
			sidechain    int
			isSummarized int
		)
		if err := rows.Scan(&h.Message.MessageID, &h.Message.SessionID, &parent, &role,
			&sidechain, &ts, &h.Message.RawContent, &summary, &isSummarized,
			&h.Message.Depth, &h.ProjectPath, &h.Rank); err != nil {
			return nil, err
		}
		h.Message.ParentID = parent.String
		h.Message.Summary = summary.String
		h.Message.Role = conversation.Role(role)
		h.Message.Timestamp = parseStoredTime(ts)
		h.Message.IsSidechain = sidechain != 0
		h.Message.IsSummarized = isSummarized != 0
		hits = append(hits, h)
	}
	return hits, rows.Err()
}

// PendingMessage is one summarization work item joined with the
// message content it summarizes.
type PendingMessage struct {
	MessageID  string
	Role       conversation.Role
	RawContent string
	Attempts   int
}

// PendingBatch returns up to limit work items, oldest first.
func (s *Store) PendingBatch(ctx context.Context, limit int) ([]PendingMessage, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT m.message_id, m.role, m.raw_content, p.attempts
		 FROM pending_work p
		 JOIN messages m ON m.message_id = p.message_id
		 ORDER BY p.enqueued_at ASC, m.message_id ASC
		 LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("reading pending work: %w", err)
	}
	defer rows.Close()

	var out []PendingMessage
	for rows.Next() {
		var p PendingMessage
		var role string
		if err := rows.Scan(&p.MessageID, &role, &p.RawContent, &p.Attempts); err != nil {
			return nil, err
		}
		p.Role = conversation.Role(role)
		out = append(out, p)
	}
	return out, rows.Err()
}

// PendingCount returns the size of the summarization backlog.
func (s *Store) PendingCount(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM pending_work`).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting pending work: %w", err)
	}
	return n, nil
}

// IncrementAttempts bumps the attempt counter on the given work items.
func (s *Store) IncrementAttempts(ctx context.Context, messageIDs []string) error {
	if len(messageIDs) == 0 {
		return nil
	}
	placeholders := strings.Repeat("?,", len(messageIDs))
	placeholders = placeholders[:len(placeholders)-1]
	args := make([]any, len(messageIDs))
	for i, id := range messageIDs {
		args[i] = id
	}
	if _, err := s.db.ExecContext(ctx,
		`UPDATE pending_work SET attempts = attempts + 1 WHERE message_id IN (`+placeholders+`)`,
		args...); err != nil {
		return fmt.Errorf("incrementing attempts: %w", err)
	}
	return nil
}

// MarkSummarized records a model-produced summary: message row and FTS
// row updated, pending work cleared, all in one short transaction.
func (s *Store) MarkSummarized(ctx context.Context, messageID, summary string) error {
	return s.writeSummary(ctx, messageID, summary, true)
}

// ApplyFallback records a truncation fallback summary. The message
// stays findable but is_summarized remains false, so a later forced
// pass can distinguish it from model output.
func (s *Store) ApplyFallback(ctx context.Context, messageID, summary string) error {
	return s.writeSummary(ctx, messageID, summary, false)
}

func (s *Store) writeSummary(ctx context.Context, messageID, summary string, summarized bool) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning summary transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`UPDATE messages SET summary = ?, is_summarized = ? WHERE message_id = ?`,
		summary, boolToInt(summarized), messageID)
	if err != nil {
		return fmt.Errorf("writing summary for %s: %w", messageID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("message %s: %w", messageID, ErrNotFound)
	}

	if err := refreshFTSRow(ctx, tx, messageID); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM pending_work WHERE message_id = ?`, messageID); err != nil {
		return fmt.Errorf("clearing pending work for %s: %w", messageID, err)
	}
	return tx.Commit()
}

// ResetSummaries clears every summary, re-enqueues all messages with
// attempts reset, and reindexes over raw content. Used by forced
// re-summarization.
func (s *Store) ResetSummaries(ctx context.Context) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("beginning reset transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`UPDATE messages SET summary = NULL, is_summarized = 0`)
	if err != nil {
		return 0, fmt.Errorf("clearing summaries: %w", err)
	}
	n, _ := res.RowsAffected()

	now := formatTime(time.Now())
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO pending_work (message_id, enqueued_at, attempts)
		 SELECT message_id, ?, 0 FROM messages WHERE true
		 ON CONFLICT(message_id) DO UPDATE SET attempts = 0, enqueued_at = excluded.enqueued_at`,
		now); err != nil {
		return 0, fmt.Errorf("re-enqueueing messages: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM messages_fts`); err != nil {
		return 0, fmt.Errorf("clearing index: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO messages_fts (message_id, content)
		 SELECT message_id, raw_content FROM messages`); err != nil {
		return 0, fmt.Errorf("reindexing raw content: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("committing reset: %w", err)
	}
	return n, nil
}
