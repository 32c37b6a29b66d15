// Package indexer turns conversation log files into store batches.
//
// Runs are incremental: each indexed file remembers the byte offset of
// its last fully parsed line, and later passes seek there and parse
// only the tail. A run holds the store's advisory lock end to end, so
// hook-triggered and daemon-triggered runs never interleave.
package indexer
