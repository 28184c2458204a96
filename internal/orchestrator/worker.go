package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/zulandar/storyforge/internal/backlog"
	"github.com/zulandar/storyforge/internal/genclient"
	"github.com/zulandar/storyforge/internal/prompt"
	"github.com/zulandar/storyforge/internal/stream"
)

// outcome is the result of one generation request.
type outcome int

const (
	outcomeDone outcome = iota
	outcomeFailed
	outcomeAborted
)

// loop is the run's single worker. It drains wake-ups until the run ends.
// A previous run's worker is waited for first so requests never overlap.
func (o *Orchestrator) loop(r *run, prev <-chan struct{}) {
	defer close(r.done)
	if prev != nil {
		<-prev
	}
	for range r.wake {
		o.mu.Lock()
		status := r.status
		o.mu.Unlock()

		switch status {
		case StatusRunning:
			o.drive(r)
		case StatusCompleted, StatusFailed:
			return
		}

		o.mu.Lock()
		status = r.status
		o.mu.Unlock()
		if status.Terminal() {
			return
		}
	}
}

// drive builds stories until the run stops running.
func (o *Orchestrator) drive(r *run) {
	for {
		s, ctx, ok := o.next(r)
		if !ok {
			return
		}
		o.build(r, ctx, s)
	}
}

// next selects the first Pending story at or after the current index and
// marks it Building. When none remains the run completes.
func (o *Orchestrator) next(r *run) (step, context.Context, bool) {
	o.mu.Lock()
	if r.status != StatusRunning {
		o.mu.Unlock()
		return step{}, nil, false
	}
	idx := -1
	for i := r.index; i < len(r.items); i++ {
		if r.items[i].Status == backlog.StatusPending {
			idx = i
			break
		}
	}
	if idx < 0 {
		r.index = len(r.items)
		r.status = StatusCompleted
		r.finishedAt = time.Now()
		counts := backlog.CountByStatus(r.items)
		o.publish()
		o.mu.Unlock()

		o.sink.Success(fmt.Sprintf("Build complete: %d done, %d failed", counts.Done, counts.Error), "")
		o.record(r)
		return step{}, nil, false
	}

	ctx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel
	r.index = idx
	r.fixAttempts = r.fixes[idx]
	r.items[idx].Status = backlog.StatusBuilding
	s := step{index: idx, item: r.items[idx], epoch: r.epoch, bootstrap: !r.anyDone}
	o.publish()
	o.mu.Unlock()

	o.sink.Info(fmt.Sprintf("Building story %s: %s", s.item.ID, s.item.Title), s.item.ID)
	o.record(r)
	return s, ctx, true
}

// build runs one story through generate, settle-and-verify and the fix loop.
func (o *Orchestrator) build(r *run, ctx context.Context, s step) {
	o.errors.Clear()
	instruction := prompt.Story(s.item, s.bootstrap)

	for {
		res, msg := o.generate(ctx, s, instruction)
		switch res {
		case outcomeAborted:
			return
		case outcomeFailed:
			o.fail(r, ctx, s, msg)
			return
		}

		if !sleepWithContext(ctx, o.opts.SettleInterval) {
			return
		}

		cur := o.errors.Current()
		if cur == nil {
			o.finish(r, s, fmt.Sprintf("Story %s built", s.item.ID))
			return
		}

		attempt, ok := o.bumpFix(r, s)
		if !ok {
			return
		}
		if attempt > o.opts.MaxFixAttempts {
			o.sink.Error(fmt.Sprintf("Story %s still has a preview error after %d fix attempts, moving on: %s",
				s.item.ID, o.opts.MaxFixAttempts, cur.Message), s.item.ID)
			o.finish(r, s, fmt.Sprintf("Story %s marked done with an unresolved preview error", s.item.ID))
			return
		}
		o.sink.Info(fmt.Sprintf("Fix attempt %d/%d for story %s: %s",
			attempt, o.opts.MaxFixAttempts, s.item.ID, cur.Message), s.item.ID)
		o.errors.Clear()
		instruction = prompt.Fix(*cur)
	}
}

// generate issues one request and drains its stream in arrival order.
func (o *Orchestrator) generate(ctx context.Context, s step, instruction string) (outcome, string) {
	body, err := o.gen.Generate(ctx, genclient.Request{
		ContextID:       o.opts.ContextID,
		InstructionText: instruction,
		ToolsEnabled:    true,
	})
	if err != nil {
		if ctx.Err() != nil {
			return outcomeAborted, ""
		}
		return outcomeFailed, err.Error()
	}
	defer body.Close()

	var (
		dec     stream.Decoder
		calls   = make(map[string]string)
		failure string
		failed  bool
	)
	err = stream.Drain(ctx, body, &dec, func(ev stream.Event) bool {
		switch ev.Kind {
		case stream.KindToolCallStarted:
			calls[ev.ToolCallID] = ev.ToolName
			o.sink.Tool(describeToolCall(ev), s.item.ID)
		case stream.KindToolCallFinished:
			name, ok := calls[ev.ToolCallID]
			if !ok {
				name = ev.ToolName
			}
			delete(calls, ev.ToolCallID)
			if !ev.Success {
				o.sink.Tool(fmt.Sprintf("%s failed: %s", name, ev.Error), s.item.ID)
				return true
			}
			if o.isFileTool(name) {
				o.refreshArtifact(ctx, s.item.ID)
			}
		case stream.KindGenerationDone:
			o.sink.Info(fmt.Sprintf("Generation finished for story %s (%d files changed)", s.item.ID, len(ev.Files)), s.item.ID)
		case stream.KindGenerationFailed:
			failure, failed = ev.Message, true
			return false
		}
		return true
	})
	if n := dec.Dropped(); n > 0 {
		o.logger.Debug("dropped malformed stream records", "count", n, "item", s.item.ID)
	}

	switch {
	case ctx.Err() != nil:
		return outcomeAborted, ""
	case failed:
		return outcomeFailed, failure
	case err != nil:
		return outcomeFailed, err.Error()
	}
	return outcomeDone, ""
}

// artifactTimeout bounds a single artifact refresh.
const artifactTimeout = 30 * time.Second

// refreshArtifact re-fetches the files and hands them to OnArtifact without
// blocking the stream. The fetch outlives the story's request.
func (o *Orchestrator) refreshArtifact(ctx context.Context, itemID string) {
	if o.artifacts == nil || o.opts.OnArtifact == nil {
		return
	}
	fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), artifactTimeout)
	go func() {
		defer cancel()
		art, err := o.artifacts.FetchArtifact(fetchCtx, o.opts.ContextID)
		if err != nil {
			o.logger.Warn("artifact refresh failed", "item", itemID, "error", err)
			return
		}
		o.opts.OnArtifact(itemID, art)
	}()
}

// fail marks the story Error, waits the failure delay and moves past it.
func (o *Orchestrator) fail(r *run, ctx context.Context, s step, msg string) {
	o.mu.Lock()
	if !r.owns(s) {
		o.mu.Unlock()
		return
	}
	r.items[s.index].Status = backlog.StatusError
	r.fixAttempts = 0
	o.publish()
	o.mu.Unlock()

	o.sink.Error(fmt.Sprintf("Story %s failed: %s", s.item.ID, msg), s.item.ID)
	o.record(r)

	if !sleepWithContext(ctx, o.opts.FailureDelay) {
		return
	}
	o.mu.Lock()
	if r.owns(s) {
		r.index = s.index + 1
		r.cancelToken()
		o.publish()
	}
	o.mu.Unlock()
}

// finish marks the story Done and advances.
func (o *Orchestrator) finish(r *run, s step, msg string) {
	o.mu.Lock()
	if !r.owns(s) {
		o.mu.Unlock()
		return
	}
	r.items[s.index].Status = backlog.StatusDone
	r.anyDone = true
	r.fixAttempts = 0
	r.index = s.index + 1
	r.cancelToken()
	o.publish()
	o.mu.Unlock()

	o.sink.Success(msg, s.item.ID)
	o.record(r)
}

// bumpFix counts one more preview error for the story. The count carries
// over when a paused story is re-selected.
func (o *Orchestrator) bumpFix(r *run, s step) (int, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if !r.owns(s) {
		return 0, false
	}
	r.fixAttempts = r.fixes[s.index] + 1
	if r.fixAttempts <= o.opts.MaxFixAttempts {
		r.fixes[s.index] = r.fixAttempts
	}
	o.publish()
	return r.fixAttempts, true
}

// cancelToken releases the current step's context.
func (r *run) cancelToken() {
	if r.cancel != nil {
		r.cancel()
		r.cancel = nil
	}
}

// sleepWithContext waits for d and reports whether ctx is still live.
func sleepWithContext(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func describeToolCall(ev stream.Event) string {
	var args struct {
		Path string `json:"path"`
	}
	if len(ev.Args) > 0 && json.Unmarshal(ev.Args, &args) == nil && args.Path != "" {
		return fmt.Sprintf("%s %s", ev.ToolName, args.Path)
	}
	return ev.ToolName
}
