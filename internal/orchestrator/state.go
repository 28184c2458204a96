package orchestrator

import (
	"errors"
	"time"

	"github.com/zulandar/storyforge/internal/backlog"
)

// RunStatus is the lifecycle state of a build run.
type RunStatus string

// Run status constants.
const (
	StatusIdle      RunStatus = "idle"
	StatusRunning   RunStatus = "running"
	StatusPaused    RunStatus = "paused"
	StatusCompleted RunStatus = "completed"
	StatusFailed    RunStatus = "failed"
)

// Terminal reports whether the run has ended.
func (s RunStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Control errors.
var (
	ErrAlreadyRunning = errors.New("orchestrator: a build is already running")
	ErrNotRunning     = errors.New("orchestrator: build is not running")
	ErrNotPaused      = errors.New("orchestrator: build is not paused")
	ErrNoRun          = errors.New("orchestrator: no build has been started")
)

// ItemState is a story with its fix-attempt count for the current run.
type ItemState struct {
	backlog.WorkItem
	FixAttempts int `json:"fixAttempts"`
}

// Snapshot is a read-only copy of the run state.
type Snapshot struct {
	RunID        string         `json:"runId"`
	ContextID    string         `json:"contextId"`
	Status       RunStatus      `json:"status"`
	CurrentIndex int            `json:"currentIndex"`
	FixAttempts  int            `json:"fixAttempts"`
	Items        []ItemState    `json:"items"`
	Counts       backlog.Counts `json:"counts"`
	StartedAt    time.Time      `json:"startedAt,omitzero"`
	FinishedAt   time.Time      `json:"finishedAt,omitzero"`
}

// Current returns the item at CurrentIndex, if any.
func (s Snapshot) Current() (ItemState, bool) {
	if s.CurrentIndex < 0 || s.CurrentIndex >= len(s.Items) {
		return ItemState{}, false
	}
	return s.Items[s.CurrentIndex], true
}

// run is the mutable state of one build. All fields are guarded by the
// orchestrator's mutex.
type run struct {
	id          string
	status      RunStatus
	items       []backlog.WorkItem
	fixes       []int
	index       int
	fixAttempts int
	anyDone     bool
	startedAt   time.Time
	finishedAt  time.Time

	// epoch changes whenever the in-flight work is invalidated by pause or
	// cancel. A step whose epoch no longer matches must not mutate state.
	epoch  uint64
	cancel func()

	wake chan struct{}
	done chan struct{}
}

// step is the worker's handle on the item it is building.
type step struct {
	index     int
	item      backlog.WorkItem
	epoch     uint64
	bootstrap bool
}

// owns reports whether s may still mutate r.
func (r *run) owns(s step) bool {
	return r.status == StatusRunning && r.epoch == s.epoch
}

// invalidate cancels in-flight work and returns the building item, if any,
// to Pending.
func (r *run) invalidate() {
	r.epoch++
	if r.cancel != nil {
		r.cancel()
		r.cancel = nil
	}
	for i := range r.items {
		if r.items[i].Status == backlog.StatusBuilding {
			r.items[i].Status = backlog.StatusPending
		}
	}
	r.fixAttempts = 0
}

func (r *run) snapshot(contextID string) Snapshot {
	items := make([]ItemState, len(r.items))
	for i, it := range r.items {
		items[i] = ItemState{WorkItem: it, FixAttempts: r.fixes[i]}
	}
	return Snapshot{
		RunID:        r.id,
		ContextID:    contextID,
		Status:       r.status,
		CurrentIndex: r.index,
		FixAttempts:  r.fixAttempts,
		Items:        items,
		Counts:       backlog.CountByStatus(r.items),
		StartedAt:    r.startedAt,
		FinishedAt:   r.finishedAt,
	}
}
