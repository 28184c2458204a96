package notify

import (
	"fmt"
	"strconv"
	"time"

	"github.com/zulandar/storyforge/internal/backlog"
	"github.com/zulandar/storyforge/internal/buildlog"
	"github.com/zulandar/storyforge/internal/orchestrator"
)

// Color constants for event severity.
const (
	ColorSuccess = "#36a64f"
	ColorInfo    = "#2196f3"
	ColorWarning = "#ff9800"
	ColorError   = "#e53935"
)

// severityColor maps a severity string to a sidebar color.
func severityColor(severity string) string {
	switch severity {
	case "success":
		return ColorSuccess
	case "info":
		return ColorInfo
	case "warning":
		return ColorWarning
	case "error":
		return ColorError
	default:
		return ColorInfo
	}
}

// FormatEntry formats a story-level success or error log entry. Other
// entries are not worth a chat message and report false.
func FormatEntry(e buildlog.Entry) (FormattedEvent, bool) {
	if e.WorkItemID == "" {
		return FormattedEvent{}, false
	}
	var severity, title string
	switch e.Level {
	case buildlog.LevelSuccess:
		severity, title = "success", fmt.Sprintf("Story %s done", e.WorkItemID)
	case buildlog.LevelError:
		severity, title = "error", fmt.Sprintf("Story %s needs attention", e.WorkItemID)
	default:
		return FormattedEvent{}, false
	}
	return FormattedEvent{
		Title:    title,
		Body:     e.Message,
		Severity: severity,
		Color:    severityColor(severity),
	}, true
}

// FormatRunStarted formats the start of a run.
func FormatRunStarted(s orchestrator.Snapshot) FormattedEvent {
	return FormattedEvent{
		Title:    fmt.Sprintf("Build started for %s", s.ContextID),
		Body:     fmt.Sprintf("%d stories queued", s.Counts.Total),
		Severity: "info",
		Color:    ColorInfo,
		Fields:   []Field{{Name: "Run", Value: s.RunID, Short: true}},
	}
}

// FormatRunFinished formats a run's terminal transition.
func FormatRunFinished(s orchestrator.Snapshot) FormattedEvent {
	severity := "success"
	title := fmt.Sprintf("Build completed for %s", s.ContextID)
	switch {
	case s.Status == orchestrator.StatusFailed:
		severity = "error"
		title = fmt.Sprintf("Build stopped for %s", s.ContextID)
	case s.Counts.Error > 0:
		severity = "warning"
	}
	ev := FormattedEvent{
		Title:    title,
		Severity: severity,
		Color:    severityColor(severity),
		Fields:   countFields(s),
	}
	if !s.StartedAt.IsZero() && !s.FinishedAt.IsZero() {
		ev.Body = fmt.Sprintf("Took %s", s.FinishedAt.Sub(s.StartedAt).Round(time.Second))
	}
	return ev
}

// FormatPulse formats a periodic progress digest.
func FormatPulse(s orchestrator.Snapshot) FormattedEvent {
	body := fmt.Sprintf("Run is %s", s.Status)
	if cur, ok := s.Current(); ok && cur.Status == backlog.StatusBuilding {
		body = fmt.Sprintf("Building story %s: %s", cur.ID, cur.Title)
		if s.FixAttempts > 0 {
			body += fmt.Sprintf(" (fix attempt %d)", s.FixAttempts)
		}
	}
	return FormattedEvent{
		Title:    "Storyforge Pulse",
		Body:     body,
		Severity: "info",
		Color:    ColorInfo,
		Fields:   countFields(s),
	}
}

func countFields(s orchestrator.Snapshot) []Field {
	return []Field{
		{Name: "Done", Value: strconv.Itoa(s.Counts.Done), Short: true},
		{Name: "Failed", Value: strconv.Itoa(s.Counts.Error), Short: true},
		{Name: "Pending", Value: strconv.Itoa(s.Counts.Pending + s.Counts.Building), Short: true},
		{Name: "Total", Value: strconv.Itoa(s.Counts.Total), Short: true},
	}
}
