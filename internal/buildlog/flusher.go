package buildlog

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/zulandar/storyforge/internal/models"
)

// DefaultFlushInterval is the interval between periodic log flushes.
const DefaultFlushInterval = 2 * time.Second

// LogWriter persists a batch of log lines.
type LogWriter interface {
	AppendLogs(entries []models.BuildLogEntry) error
}

// Flusher copies sink entries to a LogWriter in batches. Entries appended
// before any run began are not persisted.
type Flusher struct {
	sink *Sink
	w    LogWriter

	mu     sync.Mutex
	last   uint64
	cancel context.CancelFunc
	done   chan struct{}
}

// NewFlusher creates a flusher that persists entries appended after it was
// created.
func NewFlusher(sink *Sink, w LogWriter) *Flusher {
	return &Flusher{sink: sink, w: w, last: sink.LastSeq()}
}

// Flush writes entries appended since the last successful flush. On error
// the same entries are retried by the next flush.
func (f *Flusher) Flush() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	entries := f.sink.Since(f.last)
	if len(entries) == 0 {
		return nil
	}
	batch := make([]models.BuildLogEntry, 0, len(entries))
	for _, e := range entries {
		if e.RunID == "" {
			continue
		}
		batch = append(batch, ToModel(e))
	}
	if err := f.w.AppendLogs(batch); err != nil {
		return err
	}
	f.last = entries[len(entries)-1].Seq
	return nil
}

// Start launches a goroutine that flushes every interval until Close.
func (f *Flusher) Start(interval time.Duration) {
	ctx, cancel := context.WithCancel(context.Background())
	f.cancel = cancel
	f.done = make(chan struct{})
	go func() {
		defer close(f.done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := f.Flush(); err != nil {
					log.Printf("buildlog: flush: %v", err)
				}
			}
		}
	}()
}

// Close stops the periodic flush and performs a final flush.
func (f *Flusher) Close() error {
	if f.cancel != nil {
		f.cancel()
		<-f.done
		f.cancel = nil
	}
	return f.Flush()
}

// ToModel converts an entry to its persisted form.
func ToModel(e Entry) models.BuildLogEntry {
	return models.BuildLogEntry{
		RunID:      e.RunID,
		Seq:        e.Seq,
		Level:      string(e.Level),
		Message:    e.Message,
		WorkItemID: e.WorkItemID,
		CreatedAt:  e.Timestamp,
	}
}

// FromModel converts a persisted entry back to its display form.
func FromModel(m models.BuildLogEntry) Entry {
	return Entry{
		Seq:        m.Seq,
		RunID:      m.RunID,
		Timestamp:  m.CreatedAt,
		Level:      Level(m.Level),
		Message:    m.Message,
		WorkItemID: m.WorkItemID,
	}
}
