package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/zulandar/storyforge/internal/backlog"
	"github.com/zulandar/storyforge/internal/buildlog"
	"github.com/zulandar/storyforge/internal/config"
	"github.com/zulandar/storyforge/internal/dashboard"
	"github.com/zulandar/storyforge/internal/db"
	"github.com/zulandar/storyforge/internal/genclient"
	"github.com/zulandar/storyforge/internal/notify"
	discordadapter "github.com/zulandar/storyforge/internal/notify/discord"
	slackadapter "github.com/zulandar/storyforge/internal/notify/slack"
	"github.com/zulandar/storyforge/internal/orchestrator"
	"github.com/zulandar/storyforge/internal/preview"
	"github.com/zulandar/storyforge/internal/store"
)

func newBuildCmd() *cobra.Command {
	var (
		configPath  string
		backlogPath string
		verbose     bool
	)

	cmd := &cobra.Command{
		Use:   "build",
		Short: "Build every story of a backlog",
		Long: `Runs a build: each story is sent to the generation service in backlog
order, the preview is checked for errors after it settles, and fix requests
are issued until the story is clean or its fix attempts run out.

The control API is served when dashboard.port is set. SIGINT or SIGTERM
cancels the build.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBuild(cmd, configPath, backlogPath, verbose)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "storyforge.yaml", "path to Storyforge config file")
	cmd.Flags().StringVarP(&backlogPath, "backlog", "b", "backlog.yaml", "path to backlog file")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "mirror build log and diagnostics to stderr")
	return cmd
}

// newLogger returns the diagnostics logger. Verbose mode lowers the level to
// debug; otherwise only warnings reach stderr.
func newLogger(w io.Writer, verbose bool) *slog.Logger {
	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

func runBuild(cmd *cobra.Command, configPath, backlogPath string, verbose bool) error {
	out := cmd.OutOrStdout()

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	groups, err := backlog.Load(backlogPath)
	if err != nil {
		return fmt.Errorf("load backlog: %w", err)
	}

	gormDB, err := db.Prepare(cfg.Database)
	if err != nil {
		return err
	}
	defer db.Close(gormDB)
	st := store.New(gormDB)

	logger := newLogger(cmd.ErrOrStderr(), verbose)
	var sinkLogger *slog.Logger
	if verbose {
		sinkLogger = logger
	}
	sink := buildlog.NewSink(sinkLogger)

	flusher := buildlog.NewFlusher(sink, st)
	flusher.Start(buildlog.DefaultFlushInterval)
	defer func() {
		if err := flusher.Close(); err != nil {
			logger.Warn("final log flush failed", "error", err)
		}
	}()

	observer := preview.NewObserver(preview.ObserverConfig{
		IgnorePatterns: cfg.Preview.IgnorePatterns,
		HistoryLimit:   cfg.Preview.HistoryLimit,
	})
	client := genclient.New(genclient.Options{
		BaseURL:          cfg.Generation.BaseURL,
		ArtifactsBaseURL: cfg.Artifacts.BaseURL,
		APIKey:           cfg.Generation.APIKey(),
		Timeout:          cfg.Generation.Timeout(),
	})
	hub := dashboard.NewHub()

	orch := orchestrator.New(client, client, observer, sink, orchestrator.Options{
		ContextID:      cfg.ContextID,
		SettleInterval: cfg.Orchestrator.SettleInterval(),
		FailureDelay:   cfg.Orchestrator.FailureDelay(),
		MaxFixAttempts: cfg.Orchestrator.MaxFixAttempts,
		FileTools:      cfg.Orchestrator.FileTools,
		OnArtifact:     hub.BroadcastArtifact,
		Recorder:       st,
		Logger:         logger,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	entries, stopEntries := sink.Subscribe(1024)
	printed := make(chan struct{})
	go printEntries(out, entries, useColor(out), printed)

	if cfg.Dashboard.Port > 0 {
		go func() {
			err := dashboard.Start(ctx, dashboard.StartOpts{
				Controller: orch,
				Sink:       sink,
				Errors:     observer,
				Hub:        hub,
				History:    st,
				Port:       cfg.Dashboard.Port,
				Out:        out,
			})
			if err != nil {
				logger.Warn("dashboard stopped", "error", err)
			}
		}()
	}

	notifier := startNotifier(ctx, cfg.Notify, sink, orch, logger)
	if notifier != nil {
		defer notifier.Close()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case sig := <-sigCh:
			fmt.Fprintf(cmd.ErrOrStderr(), "\nReceived %s, cancelling build...\n", sig)
			orch.Cancel()
		case <-ctx.Done():
		}
	}()

	if _, err := orch.Start(groups); err != nil {
		stopEntries()
		<-printed
		return fmt.Errorf("start build: %w", err)
	}
	final, err := orch.Wait(ctx)
	if err != nil {
		return err
	}
	if notifier != nil {
		notifier.RunFinished(ctx, final)
	}

	stopEntries()
	<-printed

	fmt.Fprintf(out, "\nBuild %s: %d done, %d failed, %d of %d stories not built\n",
		final.Status, final.Counts.Done, final.Counts.Error,
		final.Counts.Pending+final.Counts.Building, final.Counts.Total)
	if final.Status == orchestrator.StatusFailed {
		return fmt.Errorf("build %s was cancelled", final.RunID)
	}
	return nil
}

// startNotifier connects the configured chat platforms and starts following
// the build. It returns nil when no platform is enabled or none connects;
// notification problems never stop a build.
func startNotifier(ctx context.Context, cfg config.NotifyConfig, sink *buildlog.Sink, progress notify.Progress, logger *slog.Logger) *notify.Notifier {
	var targets []notify.Target
	if cfg.Slack.Enabled() {
		a, err := slackadapter.New(slackadapter.AdapterOpts{BotToken: cfg.Slack.BotToken(), ChannelID: cfg.Slack.Channel})
		if err != nil {
			logger.Warn("slack notifications disabled", "error", err)
		} else {
			targets = append(targets, notify.Target{Name: "slack", Adapter: a, ChannelID: cfg.Slack.Channel})
		}
	}
	if cfg.Discord.Enabled() {
		a, err := discordadapter.New(discordadapter.AdapterOpts{BotToken: cfg.Discord.BotToken(), ChannelID: cfg.Discord.Channel})
		if err != nil {
			logger.Warn("discord notifications disabled", "error", err)
		} else {
			targets = append(targets, notify.Target{Name: "discord", Adapter: a, ChannelID: cfg.Discord.Channel})
		}
	}
	if len(targets) == 0 {
		return nil
	}

	n, err := notify.New(notify.Opts{
		Targets:   targets,
		Sink:      sink,
		Progress:  progress,
		PulseCron: cfg.PulseCron,
		Out:       log.New(os.Stderr, "", log.LstdFlags),
	})
	if err != nil {
		logger.Warn("notifications disabled", "error", err)
		return nil
	}
	if err := n.Connect(ctx); err != nil {
		logger.Warn("notifications disabled", "error", err)
		n.Close()
		return nil
	}
	go n.Run(ctx)
	return n
}
