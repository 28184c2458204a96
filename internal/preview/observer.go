// Package preview tracks errors reported by the live preview renderer.
package preview

import (
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"
)

// Category classifies a preview error.
type Category string

const (
	CategoryCompile Category = "compile"
	CategoryRuntime Category = "runtime"
	CategoryConsole Category = "console"
)

// ParseCategory maps a renderer-supplied category name to a Category.
func ParseCategory(s string) (Category, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "compile", "build", "syntax":
		return CategoryCompile, nil
	case "runtime", "exception":
		return CategoryRuntime, nil
	case "console", "console_log", "consolelog", "log":
		return CategoryConsole, nil
	}
	return "", fmt.Errorf("preview: unknown error category %q", s)
}

// Error is one error observed in the rendered artifact. Line and Column are
// zero when unknown.
type Error struct {
	Category   Category  `json:"category"`
	Message    string    `json:"message"`
	SourceFile string    `json:"sourceFile,omitempty"`
	Line       int       `json:"line,omitempty"`
	Column     int       `json:"column,omitempty"`
	ObservedAt time.Time `json:"observedAt"`
}

// Location renders "file:line:col" with the parts that are known.
func (e Error) Location() string {
	if e.SourceFile == "" {
		return ""
	}
	switch {
	case e.Line > 0 && e.Column > 0:
		return fmt.Sprintf("%s:%d:%d", e.SourceFile, e.Line, e.Column)
	case e.Line > 0:
		return fmt.Sprintf("%s:%d", e.SourceFile, e.Line)
	}
	return e.SourceFile
}

// Default observer limits.
const (
	DefaultHistoryLimit = 100
	dedupWindow         = 10
)

// DefaultIgnorePatterns are known non-actionable diagnostics emitted by
// preview sandboxes and third-party scripts. Matching is case-insensitive
// substring matching against the message.
var DefaultIgnorePatterns = []string{
	"cdn.tailwindcss.com should not be used in production",
	"download the react devtools",
	"react devtools",
	"[vite] connecting",
	"[vite] connected",
	"[hmr]",
	"favicon.ico",
	"was preloaded using link preload but not used",
	"third-party cookie",
	"resizeobserver loop completed with undelivered notifications",
	"resizeobserver loop limit exceeded",
	"you are running a development build",
}

// ObserverConfig holds the observer's filtering and retention settings.
type ObserverConfig struct {
	IgnorePatterns []string // appended to DefaultIgnorePatterns
	HistoryLimit   int
}

// Observer is the single-slot mailbox between the preview renderer, which
// reports asynchronously, and the orchestrator, which polls Current. It is
// safe for concurrent use.
type Observer struct {
	ignore       []string
	historyLimit int
	now          func() time.Time

	mu       sync.Mutex
	current  *Error
	history  []Error
	filtered int
}

// NewObserver creates an Observer with the default denylist plus any
// configured patterns.
func NewObserver(cfg ObserverConfig) *Observer {
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = DefaultHistoryLimit
	}
	ignore := make([]string, 0, len(DefaultIgnorePatterns)+len(cfg.IgnorePatterns))
	for _, p := range slices.Concat(DefaultIgnorePatterns, cfg.IgnorePatterns) {
		if p = strings.ToLower(strings.TrimSpace(p)); p != "" {
			ignore = append(ignore, p)
		}
	}
	return &Observer{
		ignore:       ignore,
		historyLimit: cfg.HistoryLimit,
		now:          time.Now,
	}
}

// Benign reports whether msg matches the denylist.
func (o *Observer) Benign(msg string) bool {
	lower := strings.ToLower(msg)
	for _, p := range o.ignore {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return false
}

// Report records e as the current error unless it is benign or empty.
// It returns true when e became current. History only grows when the
// message differs from every one of the last ten retained entries.
func (o *Observer) Report(e Error) bool {
	if strings.TrimSpace(e.Message) == "" {
		return false
	}
	if o.Benign(e.Message) {
		o.mu.Lock()
		o.filtered++
		o.mu.Unlock()
		return false
	}
	if e.ObservedAt.IsZero() {
		e.ObservedAt = o.now()
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	cur := e
	o.current = &cur

	if !o.seenRecently(e.Message) {
		o.history = append(o.history, e)
		if len(o.history) > o.historyLimit {
			o.history = o.history[len(o.history)-o.historyLimit:]
		}
	}
	return true
}

// seenRecently checks the dedup window. Must be called with o.mu held.
func (o *Observer) seenRecently(msg string) bool {
	start := max(len(o.history)-dedupWindow, 0)
	for _, h := range o.history[start:] {
		if h.Message == msg {
			return true
		}
	}
	return false
}

// Clear drops the current error. History is kept.
func (o *Observer) Clear() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.current = nil
}

// Current returns a copy of the outstanding error, or nil.
func (o *Observer) Current() *Error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.current == nil {
		return nil
	}
	e := *o.current
	return &e
}

// History returns a copy of the retained, deduplicated errors, oldest first.
func (o *Observer) History() []Error {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]Error, len(o.history))
	copy(out, o.history)
	return out
}

// Filtered returns how many reports were discarded by the denylist.
func (o *Observer) Filtered() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.filtered
}
