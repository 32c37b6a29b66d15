package conversation

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"
)

const (
	// maxRecordBytes bounds a single log record. Lines past this are
	// counted as parse errors and skipped.
	maxRecordBytes = 10 * 1024 * 1024

	// maxRetainedErrors caps how many parse errors a result keeps.
	// ErrorCount still counts every failure.
	maxRetainedErrors = 10
)

// Record types the index understands. Everything else is noise.
const (
	recordTypeSummary   = "summary"
	recordTypeUser      = "user"
	recordTypeAssistant = "assistant"
)

// jsonlRecord is the envelope shared by all log record types. Summary
// records populate Summary and LeafUUID, message records the rest.
type jsonlRecord struct {
	Type        string          `json:"type"`
	UUID        string          `json:"uuid"`
	ParentUUID  string          `json:"parentUuid"`
	IsSidechain bool            `json:"isSidechain"`
	Timestamp   string          `json:"timestamp"`
	SessionID   string          `json:"sessionId"`
	Message     json.RawMessage `json:"message"`

	Summary  string `json:"summary"`
	LeafUUID string `json:"leafUuid"`
}

// claudeMessage is the payload of a message record. Content is either a
// plain string or a list of typed blocks.
type claudeMessage struct {
	Role    string          `json:"role"`
	Content json.RawMessage `json:"content"`
}

type contentBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
	Name string `json:"name"`
}

// ParseError describes one rejected log line.
type ParseError struct {
	Line  int
	Error string
}

// ParseResult is the outcome of one pass over a session log.
type ParseResult struct {
	Messages []Message

	// TitleSummary is the conversation title from a summary record,
	// empty when the log carries none.
	TitleSummary string

	// TitleLeafID is the leaf message the summary record points at.
	TitleLeafID string

	// Consumed is how many input bytes fully parsed lines covered.
	// A trailing partial record is excluded so the caller reparses it
	// once the writer finishes the line.
	Consumed int64

	// NoiseCount counts records skipped as non-conversational.
	NoiseCount int

	// ErrorCount counts malformed lines. At most maxRetainedErrors
	// entries are kept in Errors.
	ErrorCount int
	Errors     []ParseError
}

func (r *ParseResult) recordError(line int, msg string) {
	r.ErrorCount++
	if len(r.Errors) < maxRetainedErrors {
		r.Errors = append(r.Errors, ParseError{Line: line, Error: msg})
	}
}

// Parser turns session log lines into index entities. The zero value is
// ready to use.
type Parser struct{}

func NewParser() *Parser { return &Parser{} }

// ParseFile parses the log at path from the beginning. The session id
// falls back to the file name when records omit one.
func (p *Parser) ParseFile(path string) (*ParseResult, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening session log: %w", err)
	}
	defer f.Close()

	return p.Parse(f, SessionIDFromPath(path))
}

// Parse reads JSONL records from r until EOF. Malformed lines are
// tolerated and reported through the result. Callers resuming a file
// mid-way seek first; Consumed counts only bytes read here.
func (p *Parser) Parse(r io.Reader, sessionID string) (*ParseResult, error) {
	br := bufio.NewReaderSize(r, 64*1024)
	res := &ParseResult{}

	var (
		buf      strings.Builder
		pending  int64
		oversize bool
		lineNum  int
	)
	for {
		chunk, err := br.ReadSlice('\n')
		pending += int64(len(chunk))
		if !oversize {
			if buf.Len()+len(chunk) > maxRecordBytes {
				oversize = true
				buf.Reset()
			} else {
				buf.Write(chunk)
			}
		}

		switch err {
		case nil:
			lineNum++
			res.Consumed += pending
			if oversize {
				res.recordError(lineNum, fmt.Sprintf("record exceeds %d bytes", maxRecordBytes))
			} else {
				p.consumeLine(res, lineNum, strings.TrimSpace(buf.String()), sessionID)
			}
			buf.Reset()
			pending = 0
			oversize = false

		case bufio.ErrBufferFull:
			// long line, keep accumulating

		case io.EOF:
			// Bytes past the last newline usually belong to a record
			// still being written. Take them only if they already form
			// a complete JSON object; otherwise leave the offset short
			// so the next pass rereads the finished line.
			if !oversize {
				tail := strings.TrimSpace(buf.String())
				if strings.HasPrefix(tail, "{") && json.Valid([]byte(tail)) {
					lineNum++
					res.Consumed += pending
					p.consumeLine(res, lineNum, tail, sessionID)
				}
			}
			return res, nil

		default:
			return nil, fmt.Errorf("reading session log: %w", err)
		}
	}
}

func (p *Parser) consumeLine(res *ParseResult, lineNum int, line, sessionID string) {
	if line == "" {
		return
	}

	var rec jsonlRecord
	if err := json.Unmarshal([]byte(line), &rec); err != nil {
		res.recordError(lineNum, err.Error())
		return
	}

	switch rec.Type {
	case recordTypeSummary:
		// The first summary record names the conversation.
		if res.TitleSummary == "" && rec.Summary != "" {
			res.TitleSummary = rec.Summary
			res.TitleLeafID = rec.LeafUUID
		}
	case recordTypeUser, recordTypeAssistant:
		msg, ok := buildMessage(&rec, sessionID)
		if !ok {
			res.NoiseCount++
			return
		}
		res.Messages = append(res.Messages, msg)
	default:
		res.NoiseCount++
	}
}

// buildMessage converts a message record. Records without a uuid or
// without any extractable text are noise, not errors.
func buildMessage(rec *jsonlRecord, sessionID string) (Message, bool) {
	if rec.UUID == "" {
		return Message{}, false
	}
	content := extractText(rec.Message)
	if content == "" {
		return Message{}, false
	}

	sid := rec.SessionID
	if sid == "" {
		sid = sessionID
	}
	role := RoleUser
	if rec.Type == recordTypeAssistant {
		role = RoleAssistant
	}

	return Message{
		MessageID:   rec.UUID,
		SessionID:   sid,
		ParentID:    rec.ParentUUID,
		Role:        role,
		IsSidechain: rec.IsSidechain,
		Timestamp:   parseTimestamp(rec.Timestamp),
		RawContent:  content,
	}, true
}

// extractText flattens a message payload to searchable text. Tool
// invocations and results are reduced to short markers so surrounding
// prose stays findable without indexing tool payloads.
func extractText(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var msg claudeMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return ""
	}
	return flattenContent(msg.Content)
}

func flattenContent(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}

	var text string
	if err := json.Unmarshal(raw, &text); err == nil {
		return strings.TrimSpace(text)
	}

	var blocks []contentBlock
	if err := json.Unmarshal(raw, &blocks); err != nil {
		return ""
	}
	parts := make([]string, 0, len(blocks))
	for _, b := range blocks {
		switch b.Type {
		case "text":
			if t := strings.TrimSpace(b.Text); t != "" {
				parts = append(parts, t)
			}
		case "tool_use":
			parts = append(parts, "[Tool: "+b.Name+"]")
		case "tool_result":
			parts = append(parts, "[Tool result]")
		}
		// thinking and unknown block types carry no indexable text
	}
	return strings.Join(parts, "\n")
}

func parseTimestamp(s string) time.Time {
	if s == "" {
		return time.Now().UTC()
	}
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC()
		}
	}
	return time.Now().UTC()
}
