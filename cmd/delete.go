package cmd

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/quarrylabs/quarry/internal/app"
)

func newDeleteCmd() *cobra.Command {
	var (
		hard   bool
		dryRun bool
	)
	cmd := &cobra.Command{
		Use:   "delete <version-id>",
		Short: "Delete a document version",
		Long: `Delete removes a version from retrieval. The default soft delete keeps
all data and can be undone by re-ingesting; --hard removes the version from
every store and garbage collects assets nothing references anymore.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext()
			defer cancel()
			return withRuntime(ctx, "delete", func(ctx context.Context, rt *app.Runtime) error {
				versionID := args[0]
				var err error
				var res any
				if hard {
					res, err = rt.Admin.HardDelete(ctx, versionID, dryRun)
				} else {
					res, err = rt.Admin.SoftDelete(ctx, versionID, dryRun)
				}
				if err != nil {
					return err
				}
				return printJSON(res)
			})
		},
	}
	cmd.Flags().BoolVar(&hard, "hard", false, "remove data instead of marking it deleted")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "report what would be deleted without deleting")
	return cmd
}
