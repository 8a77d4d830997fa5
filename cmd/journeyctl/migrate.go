package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/tap-lms/journey-hub/config"
	"github.com/tap-lms/journey-hub/internal/infrastructure/persistence"
	"github.com/tap-lms/journey-hub/internal/infrastructure/persistence/postgres"
)

func newMigrateCmd() *cobra.Command {
	migrateCmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the PostgreSQL schema",
	}

	migrateCmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMigrator(cmd, func(m *postgres.Migrator) error {
				n, err := m.Migrate(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "applied %d migration(s)\n", n)
				return nil
			})
		},
	})

	migrateCmd.AddCommand(&cobra.Command{
		Use:   "down",
		Short: "Roll back the most recent migration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMigrator(cmd, func(m *postgres.Migrator) error {
				version, err := m.Rollback(cmd.Context())
				if err != nil {
					return err
				}
				if version == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "nothing to roll back")
					return nil
				}
				fmt.Fprintf(cmd.OutOrStdout(), "rolled back migration %d\n", version)
				return nil
			})
		},
	})

	migrateCmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show applied and pending migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMigrator(cmd, func(m *postgres.Migrator) error {
				migrations, err := m.Status(cmd.Context())
				if err != nil {
					return err
				}
				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "VERSION\tNAME\tAPPLIED")
				for _, mg := range migrations {
					applied := "pending"
					if mg.IsApplied {
						applied = mg.AppliedAt.Format("2006-01-02 15:04:05")
					}
					fmt.Fprintf(tw, "%d\t%s\t%s\n", mg.Version, mg.Name, applied)
				}
				return tw.Flush()
			})
		},
	})

	return migrateCmd
}

func withMigrator(cmd *cobra.Command, fn func(*postgres.Migrator) error) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if cfg.Store.Driver != config.StorePostgres {
		return fmt.Errorf("migrations need STORE_DRIVER=postgres, got %q", cfg.Store.Driver)
	}

	conn, err := postgres.NewConnection(cmd.Context(), persistence.PostgresConfig(cfg.Database))
	if err != nil {
		return err
	}
	defer conn.Close()

	return fn(postgres.NewMigrator(conn))
}
