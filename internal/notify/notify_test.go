package notify

import (
	"bytes"
	"context"
	"errors"
	"log"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/zulandar/storyforge/internal/backlog"
	"github.com/zulandar/storyforge/internal/buildlog"
	"github.com/zulandar/storyforge/internal/orchestrator"
)

type fakeProgress struct {
	mu    sync.Mutex
	snap  orchestrator.Snapshot
	ch    chan orchestrator.Snapshot
	calls int
}

func newFakeProgress() *fakeProgress {
	return &fakeProgress{ch: make(chan orchestrator.Snapshot, 16)}
}

func (f *fakeProgress) Snapshot() orchestrator.Snapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.snap
}

func (f *fakeProgress) Watch(buffer int) (<-chan orchestrator.Snapshot, func()) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	return f.ch, func() {}
}

func (f *fakeProgress) set(s orchestrator.Snapshot) {
	f.mu.Lock()
	f.snap = s
	f.mu.Unlock()
}

func runningSnapshot() orchestrator.Snapshot {
	items := []orchestrator.ItemState{
		{WorkItem: backlog.WorkItem{ID: "s1", Title: "Login", Status: backlog.StatusDone}},
		{WorkItem: backlog.WorkItem{ID: "s2", Title: "Cart", Status: backlog.StatusBuilding}, FixAttempts: 1},
		{WorkItem: backlog.WorkItem{ID: "s3", Title: "Checkout", Status: backlog.StatusPending}},
	}
	return orchestrator.Snapshot{
		RunID:        "run-1",
		ContextID:    "shop",
		Status:       orchestrator.StatusRunning,
		CurrentIndex: 1,
		FixAttempts:  1,
		Items:        items,
		Counts:       backlog.Counts{Pending: 1, Building: 1, Done: 1, Total: 3},
	}
}

func newTestNotifier(t *testing.T, p Progress, sink *buildlog.Sink, adapters ...*MockAdapter) (*Notifier, *bytes.Buffer) {
	t.Helper()
	var targets []Target
	for i, a := range adapters {
		targets = append(targets, Target{Name: []string{"slack", "discord"}[i%2], Adapter: a, ChannelID: "C1"})
	}
	var buf bytes.Buffer
	n, err := New(Opts{Targets: targets, Sink: sink, Progress: p, Out: log.New(&buf, "", 0)})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := n.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	return n, &buf
}

func waitForSent(t *testing.T, a *MockAdapter, n int) []OutboundMessage {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if sent := a.Sent(); len(sent) >= n {
			return sent
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d messages, got %d", n, len(a.Sent()))
	return nil
}

func TestNew_Validation(t *testing.T) {
	sink := buildlog.NewSink(nil)
	p := newFakeProgress()
	target := Target{Name: "slack", Adapter: NewMockAdapter()}

	tests := []struct {
		name string
		opts Opts
		want string
	}{
		{"no targets", Opts{Sink: sink, Progress: p}, "at least one target"},
		{"no sink", Opts{Targets: []Target{target}, Progress: p}, "log sink is required"},
		{"no progress", Opts{Targets: []Target{target}, Sink: sink}, "progress source is required"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.opts)
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("err = %v, want %q", err, tt.want)
			}
		})
	}
}

func TestRun_PostsStoryOutcomes(t *testing.T) {
	sink := buildlog.NewSink(nil)
	p := newFakeProgress()
	a := NewMockAdapter()
	n, _ := newTestNotifier(t, p, sink, a)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() { n.Run(ctx); close(done) }()
	defer func() { cancel(); <-done }()

	// Give Run a moment to subscribe before appending.
	time.Sleep(20 * time.Millisecond)
	sink.Info("Build started: 2 stories in 1 epics", "")
	sink.Tool("write_file src/App.tsx", "s1")
	sink.Success("Story s1 built", "s1")
	sink.Error("Story s2 failed: boom", "s2")

	sent := waitForSent(t, a, 2)
	if len(sent) != 2 {
		t.Fatalf("sent %d messages, want 2 (info and tool entries are skipped)", len(sent))
	}
	if ev := sent[0].Events[0]; ev.Severity != "success" || ev.Color != ColorSuccess || ev.Body != "Story s1 built" {
		t.Errorf("first event = %+v", ev)
	}
	if ev := sent[1].Events[0]; ev.Severity != "error" || !strings.Contains(ev.Title, "s2") {
		t.Errorf("second event = %+v", ev)
	}
	if sent[0].ChannelID != "C1" {
		t.Errorf("ChannelID = %q", sent[0].ChannelID)
	}
}

func TestRun_AnnouncesStartAndFinishOnce(t *testing.T) {
	sink := buildlog.NewSink(nil)
	p := newFakeProgress()
	a := NewMockAdapter()
	n, _ := newTestNotifier(t, p, sink, a)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() { n.Run(ctx); close(done) }()
	defer func() { cancel(); <-done }()

	s := runningSnapshot()
	p.ch <- s
	p.ch <- s
	fin := s
	fin.Status = orchestrator.StatusCompleted
	fin.StartedAt = time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)
	fin.FinishedAt = fin.StartedAt.Add(90 * time.Second)
	p.ch <- fin
	p.ch <- fin

	waitForSent(t, a, 2)
	time.Sleep(20 * time.Millisecond)
	sent := a.Sent()
	if len(sent) != 2 {
		t.Fatalf("sent %d messages, want start + finish", len(sent))
	}
	if !strings.Contains(sent[0].Events[0].Title, "Build started for shop") {
		t.Errorf("start title = %q", sent[0].Events[0].Title)
	}
	end := sent[1].Events[0]
	if !strings.Contains(end.Title, "Build completed") || end.Body != "Took 1m30s" {
		t.Errorf("finish event = %+v", end)
	}

	if n.RunFinished(context.Background(), fin) {
		t.Error("RunFinished should not announce the same run twice")
	}
}

func TestRunFinished_NonTerminal(t *testing.T) {
	a := NewMockAdapter()
	n, _ := newTestNotifier(t, newFakeProgress(), buildlog.NewSink(nil), a)
	if n.RunFinished(context.Background(), runningSnapshot()) {
		t.Error("running snapshot should not be announced")
	}
	if len(a.Sent()) != 0 {
		t.Error("nothing should be sent")
	}
}

func TestPulse_OnlyWhileActive(t *testing.T) {
	p := newFakeProgress()
	a := NewMockAdapter()
	n, _ := newTestNotifier(t, p, buildlog.NewSink(nil), a)

	if n.Pulse(context.Background()) {
		t.Error("idle orchestrator should not pulse")
	}
	p.set(runningSnapshot())
	if !n.Pulse(context.Background()) {
		t.Fatal("running orchestrator should pulse")
	}
	ev := a.Sent()[0].Events[0]
	if ev.Title != "Storyforge Pulse" {
		t.Errorf("Title = %q", ev.Title)
	}
	if ev.Body != "Building story s2: Cart (fix attempt 1)" {
		t.Errorf("Body = %q", ev.Body)
	}
}

func TestBroadcast_FailureDoesNotStopOtherTargets(t *testing.T) {
	broken := NewMockAdapter()
	ok := NewMockAdapter()
	n, buf := newTestNotifier(t, newFakeProgress(), buildlog.NewSink(nil), broken, ok)
	broken.SetSendError(errors.New("rate limited"))

	n.broadcast(context.Background(), FormattedEvent{Title: "x"})

	if len(ok.Sent()) != 1 {
		t.Errorf("healthy target got %d messages, want 1", len(ok.Sent()))
	}
	if !strings.Contains(buf.String(), "notify: send to slack: rate limited") {
		t.Errorf("log = %q", buf.String())
	}
}

func TestClose_ClosesAllTargets(t *testing.T) {
	a, b := NewMockAdapter(), NewMockAdapter()
	n, _ := newTestNotifier(t, newFakeProgress(), buildlog.NewSink(nil), a, b)
	if err := n.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if !a.Closed() || !b.Closed() {
		t.Error("all adapters should be closed")
	}
}

func TestConnect_Failure(t *testing.T) {
	a := NewMockAdapter()
	a.Close()
	n, err := New(Opts{Targets: []Target{{Name: "discord", Adapter: a}}, Sink: buildlog.NewSink(nil), Progress: newFakeProgress()})
	if err != nil {
		t.Fatal(err)
	}
	if err := n.Connect(context.Background()); err == nil || !strings.Contains(err.Error(), "notify: connect discord") {
		t.Errorf("err = %v", err)
	}
}

func TestNextCronDuration(t *testing.T) {
	now := time.Date(2026, 3, 1, 8, 30, 0, 0, time.UTC)
	if d := nextCronDuration("0 9 * * *", now); d != 30*time.Minute {
		t.Errorf("daily 09:00 = %v, want 30m", d)
	}
	if d := nextCronDuration("* * * * *", now); d != time.Minute {
		t.Errorf("every minute = %v, want 1m", d)
	}
	if d := nextCronDuration("not a cron expr", now); d != 0 {
		t.Errorf("invalid = %v, want 0", d)
	}
}

func TestTimerChan_Nil(t *testing.T) {
	if timerChan(nil) != nil {
		t.Error("nil timer should yield nil channel")
	}
}
