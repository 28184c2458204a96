package dashboard

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/zulandar/storyforge/internal/models"
)

// RunRow is a stored run formatted for display.
type RunRow struct {
	models.BuildRun
	Duration string `json:"duration"`
}

// NewRunRow formats a stored run. Unfinished runs are measured to now.
func NewRunRow(run models.BuildRun, now time.Time) RunRow {
	end := now
	if run.FinishedAt != nil {
		end = *run.FinishedAt
	}
	return RunRow{BuildRun: run, Duration: formatDuration(end.Sub(run.StartedAt))}
}

func handleRunList(h History) gin.HandlerFunc {
	return func(c *gin.Context) {
		limit, _ := strconv.Atoi(c.Query("limit"))
		runs, err := h.ListRuns(limit)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		now := time.Now()
		rows := make([]RunRow, len(runs))
		for i, r := range runs {
			rows[i] = NewRunRow(r, now)
		}
		c.JSON(http.StatusOK, gin.H{"runs": rows})
	}
}

func handleRunLogs(h History) gin.HandlerFunc {
	return func(c *gin.Context) {
		logs, err := h.RunLogs(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"entries": logs})
	}
}

// formatDuration formats a duration as a human-readable string like "2h 15m".
func formatDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm", int(d.Minutes()))
	}
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	if h >= 24 {
		days := h / 24
		h = h % 24
		return fmt.Sprintf("%dd %dh", days, h)
	}
	return fmt.Sprintf("%dh %dm", h, m)
}
