package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/zulandar/storyforge/internal/buildlog"
	"github.com/zulandar/storyforge/internal/config"
	"github.com/zulandar/storyforge/internal/dashboard"
	"github.com/zulandar/storyforge/internal/db"
	"github.com/zulandar/storyforge/internal/store"
)

func newRunsCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "runs",
		Short: "Inspect build history",
	}
	cmd.PersistentFlags().StringVarP(&configPath, "config", "c", "storyforge.yaml", "path to Storyforge config file")

	cmd.AddCommand(newRunsListCmd(&configPath))
	cmd.AddCommand(newRunsLogsCmd(&configPath))
	return cmd
}

func newRunsListCmd(configPath *string) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recent builds",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRunsList(cmd, *configPath, limit)
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", store.DefaultListLimit, "maximum number of runs to show")
	return cmd
}

func newRunsLogsCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "logs <run-id>",
		Short: "Print the log of a stored build",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRunsLogs(cmd, *configPath, args[0])
		},
	}
}

// openStore loads config and opens the history database.
func openStore(configPath string) (*store.Store, func(), error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	gormDB, err := db.Prepare(cfg.Database)
	if err != nil {
		return nil, nil, err
	}
	return store.New(gormDB), func() { db.Close(gormDB) }, nil
}

func runRunsList(cmd *cobra.Command, configPath string, limit int) error {
	out := cmd.OutOrStdout()

	st, closeDB, err := openStore(configPath)
	if err != nil {
		return err
	}
	defer closeDB()

	runs, err := st.ListRuns(limit)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Fprintln(out, "No builds recorded.")
		return nil
	}

	now := time.Now()
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tCONTEXT\tSTATUS\tDONE\tFAILED\tTOTAL\tSTARTED\tDURATION")
	for _, r := range runs {
		row := dashboard.NewRunRow(r, now)
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%d\t%s\t%s\n",
			r.ID, r.ContextID, r.Status, r.Done, r.Errored, r.Total,
			r.StartedAt.Local().Format("2006-01-02 15:04"), row.Duration)
	}
	w.Flush()
	return nil
}

func runRunsLogs(cmd *cobra.Command, configPath, runID string) error {
	out := cmd.OutOrStdout()

	st, closeDB, err := openStore(configPath)
	if err != nil {
		return err
	}
	defer closeDB()

	run, err := st.GetRun(runID)
	if err != nil {
		return err
	}
	logs, err := st.RunLogs(runID)
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "Run %s (%s): %s, %d/%d done, %d failed\n",
		run.ID, run.ContextID, run.Status, run.Done, run.Total, run.Errored)
	color := useColor(out)
	for _, m := range logs {
		fmt.Fprintln(out, formatEntry(buildlog.FromModel(m), color))
	}
	return nil
}
