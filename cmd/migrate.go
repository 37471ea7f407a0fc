package cmd

import (
	"github.com/spf13/cobra"

	"github.com/quarrylabs/quarry/db"
)

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
		Long: `Migrate applies pending schema migrations. The other commands run
migrations on startup too; this exists for provisioning a database without
touching any data.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := setup()
			if err != nil {
				return err
			}
			return db.Migrate(cfg.DatabaseURL(), logger)
		},
	}
}
