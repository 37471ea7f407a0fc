package cmd

import (
	"context"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/quarrylabs/quarry/internal/app"
)

func newVersionsCmd() *cobra.Command {
	var (
		limit          int
		offset         int
		includeDeleted bool
		asJSON         bool
	)
	cmd := &cobra.Command{
		Use:   "versions",
		Short: "List indexed document versions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext()
			defer cancel()
			return withRuntime(ctx, "versions", func(ctx context.Context, rt *app.Runtime) error {
				listings, err := rt.Metadata.ListVersions(ctx, limit, offset, includeDeleted)
				if err != nil {
					return err
				}
				if asJSON {
					return printJSON(listings)
				}
				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(w, "VERSION\tSTATUS\tCHUNKS\tCREATED\tTITLE\tSOURCE")
				for _, l := range listings {
					fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\t%s\n",
						l.VersionID, l.Status, l.ChunkCount,
						l.CreatedAt.Format("2006-01-02 15:04"), l.Title, l.SourceURI)
				}
				return w.Flush()
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum rows to return")
	cmd.Flags().IntVar(&offset, "offset", 0, "rows to skip")
	cmd.Flags().BoolVar(&includeDeleted, "include-deleted", false, "include soft-deleted versions")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print as JSON")
	return cmd
}
