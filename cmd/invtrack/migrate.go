package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/vbonduro/invtrack/internal/db"
)

func newMigrateCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending schema migrations and print the schema version",
		RunE: func(cmd *cobra.Command, args []string) error {
			database, err := db.Open(a.cfg.DBPath)
			if err != nil {
				return err
			}
			defer closeWithLog(database, "database", a.logger)

			version, dirty, err := db.Version(database)
			if err != nil {
				return err
			}
			a.logger.Info("schema migrated", "version", version, "dirty", dirty)
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "schema version %d\n", version)
			return err
		},
	}
}
