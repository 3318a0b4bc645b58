// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"fmt"
	"strings"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/holomush/gamesession/internal/config"
	"github.com/holomush/gamesession/internal/store"
)

// migrator wraps the methods used from store.Migrator.
type migrator interface {
	Up() error
	Down() error
	Version() (uint, bool, error)
	Force(version int) error
	Pending() ([]uint, error)
	Applied() ([]uint, error)
	Close() error
}

// newMigrator opens a migrator. Tests replace it.
var newMigrator = func(databaseURL string) (migrator, error) {
	return store.NewMigrator(databaseURL)
}

// NewMigrateCmd creates the migrate command group. Without a subcommand
// it applies all pending migrations.
func NewMigrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the account database schema",
		Long:  `Apply, roll back or inspect the account schema migrations.`,
		RunE:  runMigrateUp,
	}
	cmd.PersistentFlags().String("database-url", "", "PostgreSQL URL (default: $"+config.EnvDatabaseURL+")")

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		Args:  cobra.NoArgs,
		RunE:  runMigrateUp,
	})

	down := &cobra.Command{
		Use:   "down",
		Short: "Roll back every migration (drops all accounts)",
		Args:  cobra.NoArgs,
		RunE:  runMigrateDown,
	}
	down.Flags().Bool("yes", false, "confirm the rollback")
	cmd.AddCommand(down)

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "List applied and pending migrations",
		Args:  cobra.NoArgs,
		RunE:  runMigrateStatus,
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "force VERSION",
		Short: "Mark VERSION as applied without running it",
		Long: `Record VERSION as the current schema version and clear the dirty flag.
Use it to recover after a migration failed partway.`,
		Args: cobra.ExactArgs(1),
		RunE: runMigrateForce,
	})

	return cmd
}

// getDatabaseURL resolves the database URL from --database-url, the config
// file or the environment.
func getDatabaseURL(cmd *cobra.Command) (string, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return "", err
	}
	if cfg.Database.URL == "" {
		return "", oops.Code("CONFIG_INVALID").
			Errorf("a database URL is required (--database-url or %s)", config.EnvDatabaseURL)
	}
	return cfg.Database.URL, nil
}

// withMigrator opens a migrator for the configured database and closes it
// after fn returns.
func withMigrator(cmd *cobra.Command, fn func(m migrator) error) (err error) {
	databaseURL, err := getDatabaseURL(cmd)
	if err != nil {
		return err
	}
	m, err := newMigrator(databaseURL)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := m.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
	}()
	return fn(m)
}

func runMigrateUp(cmd *cobra.Command, _ []string) error {
	return withMigrator(cmd, func(m migrator) error {
		cmd.Println("Running migrations...")
		if err := m.Up(); err != nil {
			return err
		}
		version, _, err := m.Version()
		if err != nil {
			return err
		}
		cmd.Printf("Migrations completed successfully (version %d)\n", version)
		return nil
	})
}

func runMigrateDown(cmd *cobra.Command, _ []string) error {
	confirmed, err := cmd.Flags().GetBool("yes")
	if err != nil {
		return oops.Wrap(err)
	}
	if !confirmed {
		return oops.Code("CONFIRMATION_REQUIRED").Errorf("rolling back drops every account; rerun with --yes")
	}
	return withMigrator(cmd, func(m migrator) error {
		cmd.Println("Rolling back migrations...")
		if err := m.Down(); err != nil {
			return err
		}
		cmd.Println("Rollback completed")
		return nil
	})
}

func runMigrateStatus(cmd *cobra.Command, _ []string) error {
	return withMigrator(cmd, func(m migrator) error {
		version, dirty, err := m.Version()
		if err != nil {
			return err
		}
		applied, err := m.Applied()
		if err != nil {
			return err
		}
		pending, err := m.Pending()
		if err != nil {
			return err
		}

		state := "clean"
		if dirty {
			state = "dirty"
		}
		cmd.Printf("Current version: %d (%s)\n", version, state)
		printMigrations(cmd, "Applied", applied)
		printMigrations(cmd, "Pending", pending)
		return nil
	})
}

func printMigrations(cmd *cobra.Command, title string, versions []uint) {
	if len(versions) == 0 {
		cmd.Printf("%s: none\n", title)
		return
	}
	cmd.Printf("%s:\n", title)
	for _, v := range versions {
		name, err := store.MigrationName(v)
		if err != nil {
			name = "?"
		}
		cmd.Printf("  %06d %s\n", v, name)
	}
}

func runMigrateForce(cmd *cobra.Command, args []string) error {
	version, err := parseForceVersion(args[0])
	if err != nil {
		return err
	}
	return withMigrator(cmd, func(m migrator) error {
		if err := m.Force(version); err != nil {
			return err
		}
		cmd.Printf("Forced schema version to %d\n", version)
		return nil
	})
}

// parseForceVersion reads the leading integer of s. Range checks are left
// to the migrator.
func parseForceVersion(s string) (int, error) {
	var version int
	if _, err := fmt.Sscanf(strings.TrimSpace(s), "%d", &version); err != nil {
		return 0, oops.Code("INVALID_VERSION").With("input", s).Wrap(err)
	}
	return version, nil
}
