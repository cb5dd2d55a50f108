package main

import (
	"errors"
	"fmt"
	"os"
	"strconv"

	"bookstore-service/config"
	"bookstore-service/internal/store"

	"github.com/golang-migrate/migrate/v4"
	"github.com/spf13/cobra"
)

func main() {
	var databaseURL string

	rootCmd := &cobra.Command{
		Use:   "migrate",
		Short: "manage the bookstore database schema",
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if databaseURL == "" {
				databaseURL = config.Load().Database.URL
			}
		},
	}
	rootCmd.PersistentFlags().StringVar(&databaseURL, "database-url", "", "postgres URL (defaults to DATABASE_URL)")

	rootCmd.AddCommand(
		upCommand(&databaseURL),
		downCommand(&databaseURL),
		versionCommand(&databaseURL),
	)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func upCommand(databaseURL *string) *cobra.Command {
	return &cobra.Command{
		Use:   "up",
		Short: "migrate all the way up",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMigrator(*databaseURL, func(m *migrate.Migrate) error {
				err := m.Up()
				if errors.Is(err, migrate.ErrNoChange) {
					fmt.Println("No change in migration")
					return nil
				}
				if err != nil {
					return err
				}
				fmt.Println("Migrated up")
				return nil
			})
		},
	}
}

func downCommand(databaseURL *string) *cobra.Command {
	return &cobra.Command{
		Use:   "down [steps]",
		Short: "roll back the given number of migrations (default 1)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			steps := 1
			if len(args) == 1 {
				n, err := strconv.Atoi(args[0])
				if err != nil || n < 1 {
					return fmt.Errorf("invalid step count %q", args[0])
				}
				steps = n
			}

			return withMigrator(*databaseURL, func(m *migrate.Migrate) error {
				if err := m.Steps(-steps); err != nil {
					return err
				}
				fmt.Printf("Rolled back %d migration(s)\n", steps)
				return nil
			})
		},
	}
}

func versionCommand(databaseURL *string) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "print the current schema version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMigrator(*databaseURL, func(m *migrate.Migrate) error {
				version, dirty, err := m.Version()
				if errors.Is(err, migrate.ErrNilVersion) {
					fmt.Println("No migrations applied")
					return nil
				}
				if err != nil {
					return err
				}
				fmt.Printf("Version %d (dirty: %t)\n", version, dirty)
				return nil
			})
		},
	}
}

func withMigrator(databaseURL string, fn func(m *migrate.Migrate) error) error {
	m, err := store.NewMigrator(databaseURL)
	if err != nil {
		return err
	}
	defer m.Close()
	return fn(m)
}
