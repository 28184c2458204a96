package main

import (
	"fmt"
	"io"
	"os"

	"github.com/zulandar/storyforge/internal/buildlog"
	"golang.org/x/term"
)

const (
	ansiReset = "\033[0m"
	ansiGreen = "\033[32m"
	ansiRed   = "\033[31m"
	ansiDim   = "\033[2m"
)

// useColor reports whether w is an interactive terminal that accepts ANSI
// colour. NO_COLOR disables it.
func useColor(w io.Writer) bool {
	if os.Getenv("NO_COLOR") != "" {
		return false
	}
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return term.IsTerminal(int(f.Fd()))
}

// levelLabel returns a fixed-width tag for a log level.
func levelLabel(l buildlog.Level) string {
	switch l {
	case buildlog.LevelSuccess:
		return "done"
	case buildlog.LevelError:
		return "FAIL"
	case buildlog.LevelTool:
		return "tool"
	}
	return "info"
}

// formatEntry renders one log line: time, level tag, optional story and message.
func formatEntry(e buildlog.Entry, color bool) string {
	line := fmt.Sprintf("%s  %s  ", e.Timestamp.Format("15:04:05"), levelLabel(e.Level))
	if e.WorkItemID != "" {
		line += "[" + e.WorkItemID + "] "
	}
	line += e.Message
	if !color {
		return line
	}
	switch e.Level {
	case buildlog.LevelSuccess:
		return ansiGreen + line + ansiReset
	case buildlog.LevelError:
		return ansiRed + line + ansiReset
	case buildlog.LevelTool:
		return ansiDim + line + ansiReset
	}
	return line
}

// printEntries writes entries until the channel closes, then signals done.
func printEntries(out io.Writer, entries <-chan buildlog.Entry, color bool, done chan<- struct{}) {
	defer close(done)
	for e := range entries {
		fmt.Fprintln(out, formatEntry(e, color))
	}
}
