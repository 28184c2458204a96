// Package dashboard serves the build control API: run control, progress
// over SSE, preview error intake over HTTP and websocket, and run history.
package dashboard

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/zulandar/storyforge/internal/backlog"
	"github.com/zulandar/storyforge/internal/buildlog"
	"github.com/zulandar/storyforge/internal/models"
	"github.com/zulandar/storyforge/internal/orchestrator"
	"github.com/zulandar/storyforge/internal/preview"
)

// Controller is the orchestrator surface exposed over HTTP.
type Controller interface {
	Start(groups []backlog.WorkGroup) (orchestrator.Snapshot, error)
	Pause() error
	Resume() error
	Cancel() error
	Snapshot() orchestrator.Snapshot
	Watch(buffer int) (<-chan orchestrator.Snapshot, func())
}

// ErrorReporter accepts preview renderer errors.
type ErrorReporter interface {
	Report(e preview.Error) bool
}

// ErrorLog is implemented by reporters that keep what they were sent. When
// Errors satisfies it, GET /api/preview/errors is served.
type ErrorLog interface {
	Current() *preview.Error
	History() []preview.Error
	Filtered() int
}

// History reads stored runs.
type History interface {
	ListRuns(limit int) ([]models.BuildRun, error)
	RunLogs(runID string) ([]models.BuildLogEntry, error)
}

// StartOpts holds configuration for the dashboard server.
type StartOpts struct {
	Controller Controller
	Sink       *buildlog.Sink
	Errors     ErrorReporter
	Hub        *Hub    // optional; created when nil
	History    History // optional; history routes return 404 when nil
	Port       int
	Out        io.Writer
}

func (o StartOpts) validate() error {
	if o.Controller == nil {
		return fmt.Errorf("dashboard: controller is required")
	}
	if o.Sink == nil {
		return fmt.Errorf("dashboard: log sink is required")
	}
	if o.Errors == nil {
		return fmt.Errorf("dashboard: error reporter is required")
	}
	return nil
}

// NewRouter builds the gin engine with every route registered.
func NewRouter(opts StartOpts) (*gin.Engine, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	if opts.Hub == nil {
		opts.Hub = NewHub()
	}
	router := gin.New()
	router.Use(gin.Recovery())
	registerRoutes(router, opts)
	return router, nil
}

// Start launches the dashboard HTTP server. It blocks until ctx is cancelled,
// then shuts down gracefully.
func Start(ctx context.Context, opts StartOpts) error {
	if opts.Port <= 0 {
		opts.Port = 8080
	}

	gin.SetMode(gin.ReleaseMode)
	router, err := NewRouter(opts)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", opts.Port),
		Handler: router,
	}

	// Graceful shutdown on context cancellation.
	go func() {
		<-ctx.Done()
		srv.Shutdown(context.Background())
	}()

	if opts.Out != nil {
		fmt.Fprintf(opts.Out, "Control API listening on http://localhost:%d\n", opts.Port)
	}

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("dashboard: %w", err)
	}
	return nil
}
