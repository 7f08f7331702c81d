package commands

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/inferloop/dart/internal/storage/migrations"
)

type MigrateOptions struct {
	DSN       string
	TableName string
	Steps     int
}

func NewMigrateCmd(g *GlobalOptions) *cobra.Command {
	opts := &MigrateOptions{}

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the audit database schema",
		Long: `Apply or roll back the schema of the PostgreSQL audit store. The connection
defaults to storage.postgres from the config file.`,
		Example: `  # Apply every pending migration
  dart migrate up

  # Show the applied and latest versions
  dart migrate status --dsn "host=db user=dart dbname=dart sslmode=disable"

  # Roll back the last migration
  dart migrate down --steps 1`,
	}

	cmd.PersistentFlags().StringVar(&opts.DSN, "dsn", "", "PostgreSQL connection string (default from storage.postgres)")
	cmd.PersistentFlags().StringVar(&opts.TableName, "table", "", "Migration version table (default schema_migrations)")

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := opts.manager(g)
			if err != nil {
				return err
			}
			if err := m.Up(); err != nil {
				return err
			}
			return printMigrationStatus(cmd, m)
		},
	})

	down := &cobra.Command{
		Use:   "down",
		Short: "Roll back migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := opts.manager(g)
			if err != nil {
				return err
			}
			if err := m.Down(opts.Steps); err != nil {
				return err
			}
			return printMigrationStatus(cmd, m)
		},
	}
	down.Flags().IntVar(&opts.Steps, "steps", 1, "Number of migrations to roll back")
	cmd.AddCommand(down)

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show the schema version",
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := opts.manager(g)
			if err != nil {
				return err
			}
			return printMigrationStatus(cmd, m)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "force VERSION",
		Short: "Set the schema version without running migrations, clearing the dirty flag",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			version, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("invalid version %q", args[0])
			}
			m, err := opts.manager(g)
			if err != nil {
				return err
			}
			if err := m.Force(version); err != nil {
				return err
			}
			return printMigrationStatus(cmd, m)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List the embedded migration versions",
		RunE: func(cmd *cobra.Command, args []string) error {
			versions, err := migrations.Versions()
			if err != nil {
				return err
			}
			for _, v := range versions {
				fmt.Fprintln(cmd.OutOrStdout(), v)
			}
			return nil
		},
	})

	return cmd
}

func (o *MigrateOptions) manager(g *GlobalOptions) (*migrations.MigrationManager, error) {
	cfg, err := g.Load()
	if err != nil {
		return nil, err
	}
	dsn := o.DSN
	if dsn == "" {
		dsn = cfg.Storage.Postgres.DSN()
	}
	return migrations.NewMigrationManager(dsn, &migrations.MigrationConfig{TableName: o.TableName}, g.Logger(cfg)), nil
}

func printMigrationStatus(cmd *cobra.Command, m *migrations.MigrationManager) error {
	status, err := m.Status()
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Schema version %d of %d", status.CurrentVersion, status.LatestVersion)
	if status.PendingCount > 0 {
		fmt.Fprintf(cmd.OutOrStdout(), ", %d pending", status.PendingCount)
	}
	if status.Dirty {
		fmt.Fprint(cmd.OutOrStdout(), " (dirty, fix the failed migration then run force)")
	}
	fmt.Fprintln(cmd.OutOrStdout())
	return nil
}
