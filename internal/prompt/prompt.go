// Package prompt renders the instructions sent to the generation service.
package prompt

import (
	"fmt"
	"strings"

	"github.com/zulandar/storyforge/internal/backlog"
	"github.com/zulandar/storyforge/internal/preview"
)

// Story renders the build instruction for a story. A bootstrap prompt asks
// for a new application; otherwise the existing artifact is extended.
func Story(item backlog.WorkItem, bootstrap bool) string {
	var w strings.Builder
	if bootstrap {
		w.WriteString("Create a new application from scratch that implements the following story.\n")
		w.WriteString("Set up the project structure, entry point and any configuration it needs to render in the preview.\n\n")
	} else {
		w.WriteString("Continue building the existing application. Implement the following story on top of the current files.\n")
		w.WriteString("Keep everything that already works; change only what this story requires.\n\n")
	}
	writeStory(&w, item)
	w.WriteString("\nUse the file tools to write your changes. Do not describe the code instead of writing it.\n")
	return w.String()
}

func writeStory(w *strings.Builder, item backlog.WorkItem) {
	fmt.Fprintf(w, "## Story %s: %s\n", item.ID, item.Title)
	if item.GroupID != "" {
		fmt.Fprintf(w, "Epic: %s\n", item.GroupID)
	}
	if body := strings.TrimSpace(item.Body); body != "" {
		w.WriteString("\n### Details and acceptance criteria\n")
		w.WriteString(body)
		w.WriteString("\n")
	}
}

// Fix renders a corrective instruction for an error seen in the preview.
// It names the file and position when known and forbids unrelated changes.
func Fix(e preview.Error) string {
	var w strings.Builder
	w.WriteString("The application preview is failing. Diagnose and fix the following error.\n\n")
	fmt.Fprintf(&w, "Error type: %s\n", describeCategory(e.Category))
	if loc := e.Location(); loc != "" {
		fmt.Fprintf(&w, "Location: %s\n", loc)
	}
	w.WriteString("Message:\n")
	w.WriteString(strings.TrimSpace(e.Message))
	w.WriteString("\n\n")

	if e.SourceFile != "" {
		fmt.Fprintf(&w, "Start by reading %s", e.SourceFile)
		if e.Line > 0 {
			fmt.Fprintf(&w, " around line %d", e.Line)
		}
		w.WriteString(" and find the root cause.\n")
	} else {
		w.WriteString("Find the file responsible for this error and the root cause.\n")
	}
	w.WriteString("Make the smallest change that fixes it. Do not refactor, restyle or add features unrelated to this error.\n")
	return w.String()
}

func describeCategory(c preview.Category) string {
	switch c {
	case preview.CategoryCompile:
		return "compile error"
	case preview.CategoryRuntime:
		return "runtime error"
	case preview.CategoryConsole:
		return "console error"
	}
	return "error"
}
