// Package orchestrator drives a backlog of stories through the generation
// service one at a time, verifies each result against the live preview and
// repairs preview errors with a bounded number of fix attempts.
package orchestrator

import (
	"context"
	"fmt"
	"io"
	"log"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/zulandar/storyforge/internal/backlog"
	"github.com/zulandar/storyforge/internal/buildlog"
	"github.com/zulandar/storyforge/internal/genclient"
	"github.com/zulandar/storyforge/internal/models"
	"github.com/zulandar/storyforge/internal/preview"
)

// DefaultMaxFixAttempts bounds repair requests per story.
const DefaultMaxFixAttempts = 3

// Generator issues generation requests and returns the raw event stream.
type Generator interface {
	Generate(ctx context.Context, req genclient.Request) (io.ReadCloser, error)
}

// ArtifactSource returns the current generated files.
type ArtifactSource interface {
	FetchArtifact(ctx context.Context, contextID string) (*genclient.Artifact, error)
}

// ErrorSource is the preview error mailbox polled after each settle.
type ErrorSource interface {
	Current() *preview.Error
	Clear()
}

// RunRecorder persists run progress.
type RunRecorder interface {
	SaveRun(run models.BuildRun) error
}

// Options configures an Orchestrator.
type Options struct {
	ContextID      string
	SettleInterval time.Duration
	FailureDelay   time.Duration
	MaxFixAttempts int
	// FileTools names the tools whose successful completion changes files.
	FileTools []string
	// OnArtifact receives the refreshed files after each file change. It is
	// called from its own goroutine.
	OnArtifact func(itemID string, art *genclient.Artifact)
	Recorder   RunRecorder
	Logger     *slog.Logger
}

// Orchestrator owns at most one build run at a time. All exported methods
// are safe for concurrent use.
type Orchestrator struct {
	gen       Generator
	artifacts ArtifactSource
	errors    ErrorSource
	sink      *buildlog.Sink
	opts      Options
	logger    *slog.Logger

	recMu sync.Mutex // serialises Recorder writes; taken before mu

	mu       sync.Mutex
	run      *run
	watchers map[int]chan Snapshot
	nextID   int
}

// New creates an Orchestrator. artifacts may be nil when nothing consumes
// refreshed files.
func New(gen Generator, artifacts ArtifactSource, errs ErrorSource, sink *buildlog.Sink, opts Options) *Orchestrator {
	if opts.MaxFixAttempts <= 0 {
		opts.MaxFixAttempts = DefaultMaxFixAttempts
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Orchestrator{
		gen:       gen,
		artifacts: artifacts,
		errors:    errs,
		sink:      sink,
		opts:      opts,
		logger:    logger,
		watchers:  make(map[int]chan Snapshot),
	}
}

// Start begins a new run over groups. It fails with ErrAlreadyRunning while
// a run is running or paused.
func (o *Orchestrator) Start(groups []backlog.WorkGroup) (Snapshot, error) {
	items := backlog.Flatten(groups)

	o.mu.Lock()
	if o.run != nil && !o.run.status.Terminal() {
		o.mu.Unlock()
		return Snapshot{}, ErrAlreadyRunning
	}
	var prev <-chan struct{}
	if o.run != nil {
		prev = o.run.done
	}
	r := &run{
		id:        uuid.NewString(),
		status:    StatusRunning,
		items:     items,
		fixes:     make([]int, len(items)),
		startedAt: time.Now(),
		wake:      make(chan struct{}, 1),
		done:      make(chan struct{}),
	}
	o.run = r
	o.sink.BeginRun(r.id)
	snap := o.publish()
	o.mu.Unlock()

	o.sink.Info(fmt.Sprintf("Build started: %d stories in %d epics", len(items), len(groups)), "")
	o.record(r)

	go o.loop(r, prev)
	r.kick()
	return snap, nil
}

// Pause aborts the in-flight request and returns its story to Pending.
func (o *Orchestrator) Pause() error {
	o.mu.Lock()
	r := o.run
	if r == nil {
		o.mu.Unlock()
		return ErrNoRun
	}
	if r.status != StatusRunning {
		o.mu.Unlock()
		return ErrNotRunning
	}
	r.invalidate()
	r.status = StatusPaused
	o.publish()
	o.mu.Unlock()

	o.sink.Info("Build paused", "")
	o.record(r)
	return nil
}

// Resume continues a paused run from the live index and item statuses.
func (o *Orchestrator) Resume() error {
	o.mu.Lock()
	r := o.run
	if r == nil {
		o.mu.Unlock()
		return ErrNoRun
	}
	if r.status != StatusPaused {
		o.mu.Unlock()
		return ErrNotPaused
	}
	r.status = StatusRunning
	o.publish()
	o.mu.Unlock()

	o.sink.Info("Build resumed", "")
	o.record(r)
	r.kick()
	return nil
}

// Cancel stops the run for good. The in-flight story returns to Pending and
// the run ends Failed.
func (o *Orchestrator) Cancel() error {
	o.mu.Lock()
	r := o.run
	if r == nil {
		o.mu.Unlock()
		return ErrNoRun
	}
	if r.status.Terminal() {
		o.mu.Unlock()
		return ErrNotRunning
	}
	r.invalidate()
	r.status = StatusFailed
	r.finishedAt = time.Now()
	o.publish()
	o.mu.Unlock()

	o.sink.Error("Build cancelled", "")
	o.record(r)
	r.kick()
	return nil
}

// Snapshot returns the current run state. Before the first Start the
// status is Idle.
func (o *Orchestrator) Snapshot() Snapshot {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.snapshotLocked()
}

// Done returns a channel closed when the current run has ended, or nil
// when no run was started.
func (o *Orchestrator) Done() <-chan struct{} {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.run == nil {
		return nil
	}
	return o.run.done
}

// Wait blocks until the current run ends or ctx is done.
func (o *Orchestrator) Wait(ctx context.Context) (Snapshot, error) {
	done := o.Done()
	if done == nil {
		return Snapshot{}, ErrNoRun
	}
	select {
	case <-done:
		return o.Snapshot(), nil
	case <-ctx.Done():
		return o.Snapshot(), ctx.Err()
	}
}

// Watch returns a channel receiving a snapshot on every state change. A
// watcher more than buffer snapshots behind misses updates. cancel closes
// the channel and may be called more than once.
func (o *Orchestrator) Watch(buffer int) (<-chan Snapshot, func()) {
	if buffer < 1 {
		buffer = 1
	}
	ch := make(chan Snapshot, buffer)

	o.mu.Lock()
	id := o.nextID
	o.nextID++
	o.watchers[id] = ch
	o.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			o.mu.Lock()
			delete(o.watchers, id)
			o.mu.Unlock()
			close(ch)
		})
	}
}

func (o *Orchestrator) snapshotLocked() Snapshot {
	if o.run == nil {
		return Snapshot{ContextID: o.opts.ContextID, Status: StatusIdle}
	}
	return o.run.snapshot(o.opts.ContextID)
}

// publish fans the current state out to watchers. Must be called with
// o.mu held.
func (o *Orchestrator) publish() Snapshot {
	snap := o.snapshotLocked()
	for _, ch := range o.watchers {
		select {
		case ch <- snap:
		default:
		}
	}
	return snap
}

// record writes the run's latest state to the Recorder. The state is read
// inside recMu so concurrent writers cannot store an older state last.
func (o *Orchestrator) record(r *run) {
	if o.opts.Recorder == nil {
		return
	}
	o.recMu.Lock()
	defer o.recMu.Unlock()

	o.mu.Lock()
	m := models.BuildRun{
		ID:           r.id,
		ContextID:    o.opts.ContextID,
		Status:       string(r.status),
		CurrentIndex: r.index,
		Total:        len(r.items),
		StartedAt:    r.startedAt,
	}
	counts := backlog.CountByStatus(r.items)
	m.Done, m.Errored = counts.Done, counts.Error
	if !r.finishedAt.IsZero() {
		finished := r.finishedAt
		m.FinishedAt = &finished
	}
	o.mu.Unlock()

	if err := o.opts.Recorder.SaveRun(m); err != nil {
		log.Printf("orchestrator: record run %s: %v", r.id, err)
	}
}

func (o *Orchestrator) isFileTool(name string) bool {
	return slices.Contains(o.opts.FileTools, name)
}

// kick wakes the worker. Wake-ups coalesce; the worker re-reads live state
// each time it wakes.
func (r *run) kick() {
	select {
	case r.wake <- struct{}{}:
	default:
	}
}
