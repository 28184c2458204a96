package dashboard

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/zulandar/storyforge/internal/backlog"
	"github.com/zulandar/storyforge/internal/orchestrator"
)

// registerRoutes sets up all API routes on the Gin router.
func registerRoutes(router *gin.Engine, opts StartOpts) {
	api := router.Group("/api")

	api.GET("/build", handleSnapshot(opts.Controller))
	api.POST("/build", handleStart(opts.Controller))
	api.POST("/build/pause", handleControl(opts.Controller.Pause))
	api.POST("/build/resume", handleControl(opts.Controller.Resume))
	api.POST("/build/cancel", handleControl(opts.Controller.Cancel))

	api.GET("/logs", handleLogs(opts))
	api.GET("/events", handleSSE(opts.Controller, opts.Sink))

	api.POST("/preview/errors", handlePreviewError(opts.Errors))
	api.GET("/preview/ws", handlePreviewSocket(opts.Hub, opts.Errors))
	if log, ok := opts.Errors.(ErrorLog); ok {
		api.GET("/preview/errors", handlePreviewErrors(log, opts.Hub))
	}

	if opts.History != nil {
		api.GET("/runs", handleRunList(opts.History))
		api.GET("/runs/:id/logs", handleRunLogs(opts.History))
	}
}

type startRequest struct {
	Epics []backlog.WorkGroup `json:"epics"`
}

func handleSnapshot(ctl Controller) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, ctl.Snapshot())
	}
}

func handleStart(ctl Controller) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req startRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if err := backlog.Validate(req.Epics); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		snap, err := ctl.Start(req.Epics)
		if err != nil {
			c.JSON(statusFor(err), gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusAccepted, snap)
	}
}

func handleControl(fn func() error) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := fn(); err != nil {
			c.JSON(statusFor(err), gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"ok": true})
	}
}

func handleLogs(opts StartOpts) gin.HandlerFunc {
	return func(c *gin.Context) {
		var since uint64
		if s := c.Query("since"); s != "" {
			n, err := strconv.ParseUint(s, 10, 64)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "since must be a non-negative integer"})
				return
			}
			since = n
		}
		c.JSON(http.StatusOK, gin.H{
			"entries": opts.Sink.Since(since),
			"lastSeq": opts.Sink.LastSeq(),
		})
	}
}

// statusFor maps control errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, orchestrator.ErrAlreadyRunning),
		errors.Is(err, orchestrator.ErrNotRunning),
		errors.Is(err, orchestrator.ErrNotPaused),
		errors.Is(err, orchestrator.ErrNoRun):
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}
