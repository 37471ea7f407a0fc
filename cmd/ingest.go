package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/quarrylabs/quarry/internal/app"
	"github.com/quarrylabs/quarry/internal/ingest"
)

func newIngestCmd() *cobra.Command {
	var (
		policy string
		view   string
	)
	cmd := &cobra.Command{
		Use:   "ingest <path>...",
		Short: "Index documents into the knowledge base",
		Long: `Ingest reads each file, canonicalizes and chunks its text, embeds the
chunks, and indexes them for retrieval. Re-ingesting identical bytes is
governed by --policy:

  skip         leave the existing version alone (default)
  new_version  mint a new version sharing the stored raw bytes
  continue     finish a version whose previous ingest was interrupted`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext()
			defer cancel()
			return withRuntime(ctx, "ingest", func(ctx context.Context, rt *app.Runtime) error {
				pipe := rt.IngestPipeline(policy, view)
				for _, path := range args {
					res, err := pipe.Run(ctx, path)
					if err != nil {
						return fmt.Errorf("ingesting %s: %w", path, err)
					}
					if err := printJSON(res); err != nil {
						return err
					}
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&policy, "policy", ingest.PolicySkip, "duplicate handling: skip, new_version, or continue")
	cmd.Flags().StringVar(&view, "view", ingest.ViewFactsOnly, "retrieval view: facts_only or facts_plus_enrich")
	return cmd
}
