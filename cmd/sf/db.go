package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/zulandar/storyforge/internal/config"
	"github.com/zulandar/storyforge/internal/db"
)

func newDBCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "db",
		Short: "Database management commands",
	}
	cmd.AddCommand(newDBMigrateCmd())
	return cmd
}

func newDBMigrateCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the run-history tables",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDBMigrate(cmd, configPath)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "storyforge.yaml", "path to Storyforge config file")
	return cmd
}

func runDBMigrate(cmd *cobra.Command, configPath string) error {
	out := cmd.OutOrStdout()

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	gormDB, err := db.Prepare(cfg.Database)
	if err != nil {
		return err
	}
	defer db.Close(gormDB)

	fmt.Fprintf(out, "Migrated %d tables in %s database\n", len(db.AllModels()), cfg.Database.Driver)
	return nil
}
