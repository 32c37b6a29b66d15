package store

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
)

// RebuildIndex drops and repopulates the FTS index from the messages
// table in one transaction. This is the repair path for any
// inconsistency; the index is never patched row by row after damage.
func (s *Store) RebuildIndex(ctx context.Context) error {
	ctx, span := s.tracer.Start(ctx, "store.rebuild_index")
	defer span.End()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("beginning rebuild transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM messages_fts`); err != nil {
		span.RecordError(err)
		return fmt.Errorf("clearing index: %w", err)
	}
	res, err := tx.ExecContext(ctx,
		`INSERT INTO messages_fts (message_id, content)
		 SELECT message_id, COALESCE(NULLIF(summary, ''), raw_content)
		 FROM messages`)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("repopulating index: %w", err)
	}
	if err := tx.Commit(); err != nil {
		span.RecordError(err)
		return fmt.Errorf("committing rebuild: %w", err)
	}

	n, _ := res.RowsAffected()
	span.SetAttributes(attribute.Int64("rows", n))
	return nil
}

// CheckConsistency compares the primary and index row sets. A diverged
// index yields ErrIndexInconsistency with counts; callers repair via
// RebuildIndex rather than ignoring it.
func (s *Store) CheckConsistency(ctx context.Context) error {
	ctx, span := s.tracer.Start(ctx, "store.check_consistency")
	defer span.End()

	var missing int
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM messages m
		 LEFT JOIN messages_fts f ON f.message_id = m.message_id
		 WHERE f.message_id IS NULL`).Scan(&missing); err != nil {
		span.RecordError(err)
		return fmt.Errorf("counting unindexed messages: %w", err)
	}

	var orphaned int
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM messages_fts f
		 LEFT JOIN messages m ON m.message_id = f.message_id
		 WHERE m.message_id IS NULL`).Scan(&orphaned); err != nil {
		span.RecordError(err)
		return fmt.Errorf("counting orphaned index rows: %w", err)
	}

	if missing > 0 || orphaned > 0 {
		err := fmt.Errorf("%w: %d messages unindexed, %d index rows orphaned",
			ErrIndexInconsistency, missing, orphaned)
		span.RecordError(err)
		return err
	}
	return nil
}
