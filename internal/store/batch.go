package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/fyrsmithlabs/recall/internal/conversation"
)

// Batch is one source file's worth of newly parsed state. ApplyBatch
// writes it atomically: either every message, the conversation row,
// the FTS rows, and the pending_work enqueues land, or none do.
type Batch struct {
	SessionID   string
	ProjectPath string

	// TitleSummary replaces the conversation title when non-empty;
	// empty keeps whatever is stored.
	TitleSummary string

	// NewOffset is the byte offset after the last fully parsed line.
	// The stored offset never decreases.
	NewOffset int64

	Messages []conversation.Message

	// Enqueue lists message ids to add to pending_work.
	Enqueue []string
}

const upsertConversationSQL = `
INSERT INTO conversations (session_id, project_path, title_summary, message_count, last_indexed_offset, updated_at)
VALUES (?, ?, ?, 0, ?, ?)
ON CONFLICT(session_id) DO UPDATE SET
    project_path        = excluded.project_path,
    title_summary       = COALESCE(excluded.title_summary, conversations.title_summary),
    last_indexed_offset = MAX(conversations.last_indexed_offset, excluded.last_indexed_offset),
    updated_at          = excluded.updated_at`

const upsertMessageSQL = `
INSERT INTO messages (message_id, session_id, parent_id, role, is_sidechain, timestamp, raw_content, depth)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(message_id) DO UPDATE SET
    parent_id    = excluded.parent_id,
    is_sidechain = excluded.is_sidechain,
    timestamp    = excluded.timestamp,
    raw_content  = CASE
        WHEN length(excluded.raw_content) > length(messages.raw_content) THEN excluded.raw_content
        ELSE messages.raw_content
    END,
    depth        = excluded.depth`

// ApplyBatch writes the batch in one transaction. Message upserts never
// shorten raw_content and never touch summary fields; each write
// refreshes the message's FTS row in the same transaction.
func (s *Store) ApplyBatch(ctx context.Context, b *Batch) error {
	ctx, span := s.tracer.Start(ctx, "store.apply_batch")
	defer span.End()
	span.SetAttributes(
		attribute.String("session_id", b.SessionID),
		attribute.Int("messages", len(b.Messages)),
		attribute.Int("enqueued", len(b.Enqueue)),
	)

	if b.SessionID == "" {
		return errors.New("batch session id is required")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("beginning batch transaction: %w", err)
	}
	defer tx.Rollback()

	now := formatTime(time.Now())
	if _, err := tx.ExecContext(ctx, upsertConversationSQL,
		b.SessionID, b.ProjectPath, nullIfEmpty(b.TitleSummary), b.NewOffset, now); err != nil {
		span.RecordError(err)
		return fmt.Errorf("upserting conversation %s: %w", b.SessionID, err)
	}

	for i := range b.Messages {
		m := &b.Messages[i]
		if _, err := tx.ExecContext(ctx, upsertMessageSQL,
			m.MessageID, m.SessionID, nullIfEmpty(m.ParentID), string(m.Role),
			boolToInt(m.IsSidechain), formatTime(m.Timestamp), m.RawContent, m.Depth); err != nil {
			span.RecordError(err)
			return fmt.Errorf("upserting message %s: %w", m.MessageID, err)
		}
		if err := refreshFTSRow(ctx, tx, m.MessageID); err != nil {
			span.RecordError(err)
			return err
		}
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE conversations
		 SET message_count = (SELECT COUNT(*) FROM messages WHERE session_id = ?)
		 WHERE session_id = ?`,
		b.SessionID, b.SessionID); err != nil {
		span.RecordError(err)
		return fmt.Errorf("recounting conversation %s: %w", b.SessionID, err)
	}

	for _, id := range b.Enqueue {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO pending_work (message_id, enqueued_at, attempts)
			 VALUES (?, ?, 0)
			 ON CONFLICT(message_id) DO NOTHING`,
			id, now); err != nil {
			span.RecordError(err)
			return fmt.Errorf("enqueueing message %s: %w", id, err)
		}
	}

	if err := tx.Commit(); err != nil {
		span.RecordError(err)
		return fmt.Errorf("committing batch: %w", err)
	}
	return nil
}

// refreshFTSRow replaces the message's index row with one over its
// current summary, falling back to raw content when no summary exists.
func refreshFTSRow(ctx context.Context, tx *sql.Tx, messageID string) error {
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM messages_fts WHERE message_id = ?`, messageID); err != nil {
		return fmt.Errorf("clearing index row for %s: %w", messageID, err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO messages_fts (message_id, content)
		 SELECT message_id, COALESCE(NULLIF(summary, ''), raw_content)
		 FROM messages WHERE message_id = ?`, messageID); err != nil {
		return fmt.Errorf("writing index row for %s: %w", messageID, err)
	}
	return nil
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
