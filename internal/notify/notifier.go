package notify

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/zulandar/storyforge/internal/buildlog"
	"github.com/zulandar/storyforge/internal/orchestrator"
)

// Progress is the read side of the orchestrator the notifier follows.
type Progress interface {
	Snapshot() orchestrator.Snapshot
	Watch(buffer int) (<-chan orchestrator.Snapshot, func())
}

// Target pairs an adapter with the channel it posts to.
type Target struct {
	Name      string
	Adapter   Adapter
	ChannelID string
}

// Opts configures a Notifier.
type Opts struct {
	Targets   []Target
	Sink      *buildlog.Sink
	Progress  Progress
	PulseCron string // 5-field cron; empty disables pulses
	Out       *log.Logger
}

// Notifier posts story outcomes, run transitions and periodic pulses to
// every configured chat target.
type Notifier struct {
	targets   []Target
	sink      *buildlog.Sink
	progress  Progress
	pulseCron string
	out       *log.Logger
	now       func() time.Time

	mu        sync.Mutex
	started   map[string]bool
	announced map[string]bool
}

// New validates opts and creates a Notifier.
func New(opts Opts) (*Notifier, error) {
	if len(opts.Targets) == 0 {
		return nil, errors.New("notify: at least one target is required")
	}
	if opts.Sink == nil {
		return nil, errors.New("notify: log sink is required")
	}
	if opts.Progress == nil {
		return nil, errors.New("notify: progress source is required")
	}
	out := opts.Out
	if out == nil {
		out = log.Default()
	}
	return &Notifier{
		targets:   opts.Targets,
		sink:      opts.Sink,
		progress:  opts.Progress,
		pulseCron: opts.PulseCron,
		out:       out,
		now:       time.Now,
		started:   make(map[string]bool),
		announced: make(map[string]bool),
	}, nil
}

// Connect connects every target. The first failure aborts.
func (n *Notifier) Connect(ctx context.Context) error {
	for _, t := range n.targets {
		if err := t.Adapter.Connect(ctx); err != nil {
			return fmt.Errorf("notify: connect %s: %w", t.Name, err)
		}
	}
	return nil
}

// Close closes every target and returns the joined errors.
func (n *Notifier) Close() error {
	var errs []error
	for _, t := range n.targets {
		if err := t.Adapter.Close(); err != nil {
			errs = append(errs, fmt.Errorf("notify: close %s: %w", t.Name, err))
		}
	}
	return errors.Join(errs...)
}

// Run follows the log and run state until ctx is cancelled.
func (n *Notifier) Run(ctx context.Context) {
	entries, stopEntries := n.sink.Subscribe(256)
	defer stopEntries()
	snaps, stopSnaps := n.progress.Watch(64)
	defer stopSnaps()

	var pulse *time.Timer
	if n.pulseCron != "" {
		if d := nextCronDuration(n.pulseCron, n.now()); d > 0 {
			pulse = time.NewTimer(d)
			defer pulse.Stop()
		} else {
			n.out.Printf("notify: invalid pulse cron %q, pulses disabled", n.pulseCron)
		}
	}

	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-entries:
			if !ok {
				return
			}
			if ev, ok := FormatEntry(e); ok {
				n.broadcast(ctx, ev)
			}
		case s, ok := <-snaps:
			if !ok {
				return
			}
			n.observe(ctx, s)
		case <-timerChan(pulse):
			n.Pulse(ctx)
			if d := nextCronDuration(n.pulseCron, n.now()); d > 0 {
				pulse.Reset(d)
			}
		}
	}
}

// Pulse posts a progress digest when a run is in progress.
func (n *Notifier) Pulse(ctx context.Context) bool {
	s := n.progress.Snapshot()
	if s.Status != orchestrator.StatusRunning && s.Status != orchestrator.StatusPaused {
		return false
	}
	n.broadcast(ctx, FormatPulse(s))
	return true
}

// RunFinished posts the terminal summary for s once per run. It returns
// false when s is not terminal or was already announced.
func (n *Notifier) RunFinished(ctx context.Context, s orchestrator.Snapshot) bool {
	if s.RunID == "" || !s.Status.Terminal() {
		return false
	}
	n.mu.Lock()
	if n.announced[s.RunID] {
		n.mu.Unlock()
		return false
	}
	n.announced[s.RunID] = true
	n.mu.Unlock()

	n.broadcast(ctx, FormatRunFinished(s))
	return true
}

func (n *Notifier) observe(ctx context.Context, s orchestrator.Snapshot) {
	if s.RunID == "" {
		return
	}
	if s.Status.Terminal() {
		n.RunFinished(ctx, s)
		return
	}
	n.mu.Lock()
	first := !n.started[s.RunID]
	n.started[s.RunID] = true
	n.mu.Unlock()
	if first {
		n.broadcast(ctx, FormatRunStarted(s))
	}
}

// broadcast sends ev to every target. Delivery failures are logged, not
// returned, so one unreachable platform does not silence the others.
func (n *Notifier) broadcast(ctx context.Context, ev FormattedEvent) {
	for _, t := range n.targets {
		msg := OutboundMessage{ChannelID: t.ChannelID, Events: []FormattedEvent{ev}}
		if err := t.Adapter.Send(ctx, msg); err != nil {
			n.out.Printf("notify: send to %s: %v", t.Name, err)
		}
	}
}
