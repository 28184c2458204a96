// Package stream decodes the line-delimited event stream returned by the
// generation service.
package stream

import (
	"bytes"
	"encoding/json"
)

// Kind discriminates decoded events.
type Kind string

const (
	KindToolCallStarted  Kind = "tool_call_started"
	KindToolCallFinished Kind = "tool_call_finished"
	KindGenerationDone   Kind = "generation_done"
	KindGenerationFailed Kind = "generation_failed"
)

// Event is one decoded stream record. Only the fields relevant to Kind are
// set.
type Event struct {
	Kind Kind

	// ToolCallStarted and ToolCallFinished.
	ToolCallID string
	ToolName   string
	Args       json.RawMessage

	// ToolCallFinished.
	Success bool
	Output  string
	Error   string

	// GenerationDone.
	Files []string

	// GenerationFailed.
	Message string
}

// record is used for initial type dispatch.
type record struct {
	Type string `json:"type"`
}

type toolCallRecord struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

type toolResultRecord struct {
	ToolCallID string `json:"toolCallId"`
	Success    bool   `json:"success"`
	Output     string `json:"output"`
	Error      string `json:"error"`
}

type doneRecord struct {
	Summary struct {
		Files []string `json:"files"`
	} `json:"resultingArtifactSummary"`
}

type errorRecord struct {
	Message string `json:"message"`
}

// ParseRecord decodes a single line. It reports false for blank lines,
// heartbeat comments, non-JSON noise, unknown record types and records
// missing the fields their type requires. An optional SSE "data:" prefix is
// accepted.
func ParseRecord(line []byte) (Event, bool) {
	line = bytes.TrimSpace(line)
	if rest, ok := bytes.CutPrefix(line, []byte("data:")); ok {
		line = bytes.TrimSpace(rest)
	}
	if len(line) == 0 || line[0] != '{' {
		return Event{}, false
	}

	var rec record
	if err := json.Unmarshal(line, &rec); err != nil {
		return Event{}, false
	}

	switch rec.Type {
	case "tool_call":
		var r toolCallRecord
		if err := json.Unmarshal(line, &r); err != nil || r.ID == "" {
			return Event{}, false
		}
		return Event{Kind: KindToolCallStarted, ToolCallID: r.ID, ToolName: r.Name, Args: r.Arguments}, true
	case "tool_result":
		var r toolResultRecord
		if err := json.Unmarshal(line, &r); err != nil || r.ToolCallID == "" {
			return Event{}, false
		}
		return Event{Kind: KindToolCallFinished, ToolCallID: r.ToolCallID, Success: r.Success, Output: r.Output, Error: r.Error}, true
	case "done":
		var r doneRecord
		if err := json.Unmarshal(line, &r); err != nil {
			return Event{}, false
		}
		return Event{Kind: KindGenerationDone, Files: r.Summary.Files}, true
	case "error":
		var r errorRecord
		if err := json.Unmarshal(line, &r); err != nil {
			return Event{}, false
		}
		if r.Message == "" {
			r.Message = "generation failed"
		}
		return Event{Kind: KindGenerationFailed, Message: r.Message}, true
	}
	return Event{}, false
}

// Consume appends chunk to carry, decodes every complete line and returns
// the events in arrival order together with the incomplete trailing bytes.
// It also returns how many complete lines were dropped as noise. The
// returned carry never aliases chunk. Callers decoding a whole stream
// should keep a Decoder instead, which does not rescan the carry.
func Consume(chunk, carry []byte) (events []Event, rest []byte, dropped int) {
	var d Decoder
	events = append(d.Feed(carry), d.Feed(chunk)...)
	if len(d.buf) > 0 {
		rest = d.buf
	}
	return events, rest, d.dropped
}

// isBlank reports lines that carry no record by design: empty lines, SSE
// comments and the terminal [DONE] marker.
func isBlank(line []byte) bool {
	line = bytes.TrimSpace(line)
	if rest, ok := bytes.CutPrefix(line, []byte("data:")); ok {
		line = bytes.TrimSpace(rest)
	}
	return len(line) == 0 || line[0] == ':' || bytes.Equal(line, []byte("[DONE]"))
}
