package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/docutag/profiler/db"
)

func newMigrateCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the profile database schema",
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Apply pending migrations",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				conn, err := db.Open(cmd.Context(), a.cfg.Database)
				if err != nil {
					return err
				}
				defer conn.Close()
				return db.Migrate(conn)
			},
		},
		&cobra.Command{
			Use:   "down",
			Short: "Roll back the latest migration",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				conn, err := db.Open(cmd.Context(), a.cfg.Database)
				if err != nil {
					return err
				}
				defer conn.Close()
				return db.Rollback(conn)
			},
		},
		&cobra.Command{
			Use:   "status",
			Short: "Show applied and pending migrations",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				conn, err := db.Open(cmd.Context(), a.cfg.Database)
				if err != nil {
					return err
				}
				defer conn.Close()

				status, err := db.GetMigrationStatus(conn)
				if err != nil {
					return err
				}

				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(w, "VERSION\tNAME\tAPPLIED")
				for _, s := range status {
					fmt.Fprintf(w, "%d\t%s\t%t\n", s.Version, s.Name, s.Applied)
				}
				return w.Flush()
			},
		},
	)

	return cmd
}
