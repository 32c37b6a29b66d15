// Package store persists conversations, messages, and summarization
// work items in SQLite, and keeps an FTS5 index over message text in
// the same transactions that modify primary rows. The index is a
// rebuildable projection of the messages table, never a source of
// truth. A file-based advisory lock serializes writers across
// processes.
package store
