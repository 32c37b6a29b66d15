package store

import "errors"

var (
	// ErrNotFound is returned when a query target does not exist.
	// Distinct from an empty result set.
	ErrNotFound = errors.New("not found")

	// ErrStoreUnavailable is returned when the database cannot be
	// opened or migrated. Callers surface a remediation hint.
	ErrStoreUnavailable = errors.New("store unavailable")

	// ErrIndexInconsistency is returned by CheckConsistency when the
	// FTS index diverges from the messages table.
	ErrIndexInconsistency = errors.New("search index inconsistent with messages")

	// ErrLockHeld is returned when another process holds the store
	// lock. Indexing entry points treat it as "already running".
	ErrLockHeld = errors.New("store lock held by another process")
)
