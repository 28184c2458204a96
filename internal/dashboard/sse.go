package dashboard

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/zulandar/storyforge/internal/buildlog"
)

// heartbeatInterval is how often an idle SSE stream sends a keep-alive.
var heartbeatInterval = 15 * time.Second

// handleSSE streams a snapshot on connect and on every state change, each
// new log entry, and periodic heartbeats.
func handleSSE(ctl Controller, sink *buildlog.Sink) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Content-Type", "text/event-stream")
		c.Header("Cache-Control", "no-cache")
		c.Header("Connection", "keep-alive")
		c.Header("X-Accel-Buffering", "no")

		snaps, stopSnaps := ctl.Watch(16)
		defer stopSnaps()
		logs, stopLogs := sink.Subscribe(256)
		defer stopLogs()

		writeSSE(c.Writer, "snapshot", ctl.Snapshot())
		c.Writer.Flush()

		ctx := c.Request.Context()
		heartbeat := time.NewTicker(heartbeatInterval)
		defer heartbeat.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-heartbeat.C:
				writeSSE(c.Writer, "heartbeat", map[string]string{
					"timestamp": time.Now().UTC().Format(time.RFC3339),
				})
			case snap, ok := <-snaps:
				if !ok {
					return
				}
				writeSSE(c.Writer, "snapshot", snap)
			case entry, ok := <-logs:
				if !ok {
					return
				}
				writeSSE(c.Writer, "log", entry)
			}
			c.Writer.Flush()
		}
	}
}

// writeSSE writes a single SSE event to the writer.
func writeSSE(w io.Writer, event string, data any) {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, string(jsonData))
}
