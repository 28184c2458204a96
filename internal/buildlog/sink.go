// Package buildlog is the append-only record of orchestrator decisions.
// Entries are sequenced, mirrored to slog, fanned out to subscribers and
// optionally flushed to the run-history store.
package buildlog

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"
)

// Level classifies a log entry for display.
type Level string

// Entry levels.
const (
	LevelInfo    Level = "info"
	LevelSuccess Level = "success"
	LevelError   Level = "error"
	LevelTool    Level = "tool"
)

// DefaultRetention is the number of entries kept in memory.
const DefaultRetention = 10000

// Entry is one immutable log line.
type Entry struct {
	Seq        uint64    `json:"seq"`
	RunID      string    `json:"runId,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
	Level      Level     `json:"level"`
	Message    string    `json:"message"`
	WorkItemID string    `json:"workItemId,omitempty"`
}

// Sink collects entries. It is safe for concurrent use.
type Sink struct {
	logger    *slog.Logger
	retention int
	now       func() time.Time

	mu      sync.Mutex
	runID   string
	seq     uint64
	entries []Entry
	subs    map[int]chan Entry
	nextSub int
}

// NewSink creates a sink that mirrors entries to logger. A nil logger
// discards the mirror.
func NewSink(logger *slog.Logger) *Sink {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Sink{
		logger:    logger,
		retention: DefaultRetention,
		now:       time.Now,
		subs:      make(map[int]chan Entry),
	}
}

// BeginRun tags subsequent entries with runID. Sequence numbers keep
// increasing across runs.
func (s *Sink) BeginRun(runID string) {
	s.mu.Lock()
	s.runID = runID
	s.mu.Unlock()
}

// Append records a new entry and returns it.
func (s *Sink) Append(level Level, message, itemID string) Entry {
	s.mu.Lock()
	s.seq++
	e := Entry{
		Seq:        s.seq,
		RunID:      s.runID,
		Timestamp:  s.now(),
		Level:      level,
		Message:    message,
		WorkItemID: itemID,
	}
	s.entries = append(s.entries, e)
	// Trim in batches so appends past the limit stay amortised O(1).
	if len(s.entries) >= s.retention+s.retention/8+1 {
		s.entries = append(s.entries[:0:0], s.entries[len(s.entries)-s.retention:]...)
	}
	for _, ch := range s.subs {
		select {
		case ch <- e:
		default:
		}
	}
	s.mu.Unlock()

	s.logger.Log(context.Background(), slogLevel(level), message,
		slog.String("run", e.RunID),
		slog.String("item", itemID),
		slog.String("level", string(level)),
	)
	return e
}

// Info appends an info entry.
func (s *Sink) Info(message, itemID string) Entry { return s.Append(LevelInfo, message, itemID) }

// Success appends a success entry.
func (s *Sink) Success(message, itemID string) Entry { return s.Append(LevelSuccess, message, itemID) }

// Error appends an error entry.
func (s *Sink) Error(message, itemID string) Entry { return s.Append(LevelError, message, itemID) }

// Tool appends a tool-activity entry.
func (s *Sink) Tool(message, itemID string) Entry { return s.Append(LevelTool, message, itemID) }

// Entries returns a copy of the retained entries in sequence order.
func (s *Sink) Entries() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Entry, len(s.entries))
	copy(out, s.entries)
	return out
}

// Since returns retained entries with a sequence number greater than seq.
func (s *Sink) Since(seq uint64) []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	// Sequence numbers are dense, so the first match is found by offset.
	if len(s.entries) == 0 || seq >= s.seq {
		return nil
	}
	first := s.entries[0].Seq
	start := 0
	if seq >= first {
		start = int(seq - first + 1)
	}
	out := make([]Entry, len(s.entries)-start)
	copy(out, s.entries[start:])
	return out
}

// LastSeq returns the sequence number of the newest entry, or 0.
func (s *Sink) LastSeq() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.seq
}

// Subscribe returns a channel receiving every entry appended after the
// call. A subscriber that falls more than buffer entries behind misses
// entries rather than blocking Append. The returned cancel closes the
// channel and may be called more than once.
func (s *Sink) Subscribe(buffer int) (<-chan Entry, func()) {
	if buffer < 1 {
		buffer = 1
	}
	ch := make(chan Entry, buffer)

	s.mu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = ch
	s.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subs, id)
			s.mu.Unlock()
			close(ch)
		})
	}
}

func slogLevel(l Level) slog.Level {
	switch l {
	case LevelError:
		return slog.LevelWarn
	case LevelTool:
		return slog.LevelDebug
	}
	return slog.LevelInfo
}
