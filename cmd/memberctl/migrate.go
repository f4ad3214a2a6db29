package main

import (
	"fmt"

	"github.com/memberhub/backend/internal/config"
	"github.com/memberhub/backend/internal/repository"
	"github.com/spf13/cobra"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Manage the database schema",
}

var migrateUpCmd = &cobra.Command{
	Use:   "up",
	Short: "Apply all pending migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withMigrator(func(mg *repository.Migrator) error {
			changed, err := mg.Up()
			if err != nil {
				return err
			}
			if !changed {
				fmt.Fprintln(cmd.OutOrStdout(), "Schema is up to date")
				return nil
			}
			return printVersion(cmd, mg)
		})
	},
}

var migrateDownCmd = &cobra.Command{
	Use:   "down",
	Short: "Roll back the most recent migration",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withMigrator(func(mg *repository.Migrator) error {
			if err := mg.Down(); err != nil {
				return err
			}
			return printVersion(cmd, mg)
		})
	},
}

var migrateStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the current schema version",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withMigrator(func(mg *repository.Migrator) error {
			return printVersion(cmd, mg)
		})
	},
}

func init() {
	migrateCmd.AddCommand(migrateUpCmd, migrateDownCmd, migrateStatusCmd)
}

func withMigrator(fn func(*repository.Migrator) error) error {
	dbURL, err := config.LoadDatabaseURL()
	if err != nil {
		return err
	}
	mg, err := repository.NewMigrator(dbURL)
	if err != nil {
		return err
	}
	defer mg.Close()
	return fn(mg)
}

func printVersion(cmd *cobra.Command, mg *repository.Migrator) error {
	version, dirty, ok, err := mg.Version()
	if err != nil {
		return err
	}
	if !ok {
		fmt.Fprintln(cmd.OutOrStdout(), "No migrations applied")
		return nil
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Schema version: %d", version)
	if dirty {
		fmt.Fprint(cmd.OutOrStdout(), " (dirty)")
	}
	fmt.Fprintln(cmd.OutOrStdout())
	return nil
}
