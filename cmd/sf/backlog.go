package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/zulandar/storyforge/internal/backlog"
)

func newBacklogCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "backlog",
		Short: "Inspect a backlog file",
	}
	cmd.AddCommand(newBacklogShowCmd())
	return cmd
}

func newBacklogShowCmd() *cobra.Command {
	var backlogPath string

	cmd := &cobra.Command{
		Use:   "show",
		Short: "List the stories of a backlog in build order",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBacklogShow(cmd, backlogPath)
		},
	}

	cmd.Flags().StringVarP(&backlogPath, "backlog", "b", "backlog.yaml", "path to backlog file")
	return cmd
}

func runBacklogShow(cmd *cobra.Command, backlogPath string) error {
	out := cmd.OutOrStdout()

	groups, err := backlog.Load(backlogPath)
	if err != nil {
		return fmt.Errorf("load backlog: %w", err)
	}
	items := backlog.Flatten(groups)
	if len(items) == 0 {
		fmt.Fprintln(out, "Backlog has no stories.")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "#\tEPIC\tID\tTITLE\tSTATUS")
	for i, it := range items {
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\n", i+1, it.GroupID, it.ID, truncate(it.Title, 50), it.Status)
	}
	w.Flush()

	c := backlog.CountByStatus(items)
	fmt.Fprintf(out, "\n%d stories in %d epics (pending: %d, done: %d, error: %d)\n",
		c.Total, len(groups), c.Pending, c.Done, c.Error)
	return nil
}

// truncate shortens s to at most n runes, marking the cut with "...".
func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	if n <= 3 {
		return string(r[:n])
	}
	return string(r[:n-3]) + "..."
}
