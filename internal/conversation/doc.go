// Package conversation defines the core entities of the index and the
// parser that turns Claude Code JSONL session logs into them.
//
// A session log is one file per conversation under a per-project
// directory. Each line is a standalone JSON record: an optional summary
// record naming the conversation, message records carrying user or
// assistant turns, and assorted bookkeeping records the index treats as
// noise. The parser is byte-offset aware so callers can resume a file
// from where the previous pass stopped.
package conversation
