package conversation

import (
	"path/filepath"
	"strings"
	"time"
)

// Role identifies who authored a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one conversational turn as stored in the index.
type Message struct {
	// MessageID is the record's uuid and the primary key.
	MessageID string `json:"message_id"`

	// SessionID ties the message to its conversation.
	SessionID string `json:"session_id"`

	// ParentID is the uuid of the parent message, empty for roots.
	ParentID string `json:"parent_id,omitempty"`

	Role        Role      `json:"role"`
	IsSidechain bool      `json:"is_sidechain,omitempty"`
	Timestamp   time.Time `json:"timestamp"`

	// RawContent is the flattened text of the message.
	RawContent string `json:"raw_content"`

	// Summary is the condensed form, empty until summarization ran.
	Summary string `json:"summary,omitempty"`

	// IsSummarized reports whether Summary came from a model rather
	// than a truncation fallback.
	IsSummarized bool `json:"is_summarized"`

	// Depth is the distance from the conversation root. Roots are 0.
	Depth int `json:"depth"`
}

// HasParent reports whether the message claims a parent record.
func (m *Message) HasParent() bool { return m.ParentID != "" }

// Conversation is the per-session aggregate row.
type Conversation struct {
	SessionID    string `json:"session_id"`
	ProjectPath  string `json:"project_path"`
	TitleSummary string `json:"title_summary,omitempty"`

	// MessageCount counts indexed messages, noise excluded.
	MessageCount int `json:"message_count"`

	// LastIndexedOffset is the byte offset just past the last fully
	// parsed line of the backing log file.
	LastIndexedOffset int64 `json:"last_indexed_offset"`

	UpdatedAt time.Time `json:"updated_at"`
}

// PendingWork marks a message awaiting summarization.
type PendingWork struct {
	MessageID  string
	EnqueuedAt time.Time
	Attempts   int
}

// logFileExt is the extension of session log files.
const logFileExt = ".jsonl"

// agentLogPrefix marks sub-agent logs, which are excluded from indexing.
const agentLogPrefix = "agent-"

// IsSessionLog reports whether path names an indexable session log.
// Sub-agent logs and non-JSONL files are excluded.
func IsSessionLog(path string) bool {
	base := filepath.Base(path)
	if !strings.HasSuffix(base, logFileExt) {
		return false
	}
	return !strings.HasPrefix(base, agentLogPrefix)
}

// SessionIDFromPath derives the session id from a log file name.
func SessionIDFromPath(path string) string {
	return strings.TrimSuffix(filepath.Base(path), logFileExt)
}

// ProjectPathFromDir restores a project path from its log directory
// name, which encodes the absolute path with '/' flattened to '-'.
func ProjectPathFromDir(dir string) string {
	return strings.ReplaceAll(filepath.Base(dir), "-", "/")
}
