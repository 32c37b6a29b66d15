package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/fyrsmithlabs/recall/internal/logging"
)

const instrumentationName = "github.com/fyrsmithlabs/recall/internal/store"

// timeLayout is fixed-width UTC so lexicographic order in SQL matches
// chronological order.
const timeLayout = "2006-01-02T15:04:05.000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseStoredTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t.UTC()
}

// migrations are applied in order; PRAGMA user_version tracks how many
// have run.
var migrations = []string{schemaV1}

const schemaV1 = `
CREATE TABLE IF NOT EXISTS conversations (
    session_id          TEXT PRIMARY KEY,
    project_path        TEXT NOT NULL,
    title_summary       TEXT,
    message_count       INTEGER NOT NULL DEFAULT 0,
    last_indexed_offset INTEGER NOT NULL DEFAULT 0,
    updated_at          TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS messages (
    message_id    TEXT PRIMARY KEY,
    session_id    TEXT NOT NULL REFERENCES conversations(session_id),
    parent_id     TEXT,
    role          TEXT NOT NULL,
    is_sidechain  INTEGER NOT NULL DEFAULT 0,
    timestamp     TEXT NOT NULL,
    raw_content   TEXT NOT NULL,
    summary       TEXT,
    is_summarized INTEGER NOT NULL DEFAULT 0,
    depth         INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_messages_session ON messages(session_id);
CREATE INDEX IF NOT EXISTS idx_messages_parent  ON messages(parent_id);
CREATE INDEX IF NOT EXISTS idx_messages_time    ON messages(timestamp DESC);

CREATE TABLE IF NOT EXISTS pending_work (
    message_id  TEXT PRIMARY KEY REFERENCES messages(message_id),
    enqueued_at TEXT NOT NULL,
    attempts    INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_pending_enqueued ON pending_work(enqueued_at);

CREATE VIRTUAL TABLE IF NOT EXISTS messages_fts USING fts5(
    message_id UNINDEXED,
    content
);
`

// Store wraps the SQLite database holding the conversation index.
type Store struct {
	db     *sql.DB
	path   string
	logger *logging.Logger
	tracer trace.Tracer
}

// Open opens or creates the database at path and applies pending
// migrations. Failures wrap ErrStoreUnavailable.
func Open(path string, logger *logging.Logger) (*Store, error) {
	if logger == nil {
		logger = logging.NewNop()
	}

	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("%w: creating store directory: %v", ErrStoreUnavailable, err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	// Pragmas other than journal_mode are per connection; a single
	// pooled connection keeps them in effect for every statement.
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA foreign_keys = ON",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("%w: %s: %v", ErrStoreUnavailable, p, err)
		}
	}

	s := &Store{
		db:     db,
		path:   path,
		logger: logger,
		tracer: otel.Tracer(instrumentationName),
	}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: migration: %v", ErrStoreUnavailable, err)
	}
	return s, nil
}

func (s *Store) migrate() error {
	var version int
	if err := s.db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("reading schema version: %w", err)
	}
	if version >= len(migrations) {
		return nil
	}

	for i := version; i < len(migrations); i++ {
		tx, err := s.db.Begin()
		if err != nil {
			return err
		}
		if _, err := tx.Exec(migrations[i]); err != nil {
			tx.Rollback()
			return fmt.Errorf("applying migration %d: %w", i+1, err)
		}
		if _, err := tx.Exec(fmt.Sprintf("PRAGMA user_version = %d", i+1)); err != nil {
			tx.Rollback()
			return fmt.Errorf("bumping schema version to %d: %w", i+1, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("committing migration %d: %w", i+1, err)
		}
		s.logger.Debug(context.Background(), "applied store migration",
			zap.Int("version", i+1))
	}
	return nil
}

// Path returns the database file location.
func (s *Store) Path() string { return s.path }

func (s *Store) Close() error {
	return s.db.Close()
}
