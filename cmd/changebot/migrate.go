package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"github.com/uhcops/changebot/internal/config"
	"github.com/uhcops/changebot/internal/db"
)

func newMigrateCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema",
		Long:  "Connects to the configured database and auto-migrates all ChangeBot tables. Safe to run multiple times (idempotent).",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMigrate(cmd.OutOrStdout(), configPath)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "changebot.yaml", "path to ChangeBot config file")
	return cmd
}

func runMigrate(out io.Writer, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	gormDB, err := db.Connect(dbOptions(cfg))
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}

	fmt.Fprintf(out, "Migrating %d tables...\n", len(db.AllModels()))
	if err := db.AutoMigrate(gormDB); err != nil {
		return fmt.Errorf("migrate database: %w", err)
	}
	fmt.Fprintln(out, "Migration complete")
	return nil
}
