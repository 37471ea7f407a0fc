package cmd

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/spf13/cobra"

	"github.com/quarrylabs/quarry/internal/app"
	"github.com/quarrylabs/quarry/internal/query"
)

func newQueryCmd() *cobra.Command {
	var (
		topK           int
		includeDeleted bool
		asJSON         bool
	)
	cmd := &cobra.Command{
		Use:   "query <question>...",
		Short: "Ask a question against the indexed content",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext()
			defer cancel()
			return withRuntime(ctx, "query", func(ctx context.Context, rt *app.Runtime) error {
				resp, err := rt.Query.Run(ctx, query.Request{
					Text:           strings.Join(args, " "),
					TopK:           topK,
					IncludeDeleted: includeDeleted,
				})
				if err != nil {
					return err
				}
				if asJSON {
					return printJSON(resp)
				}
				return renderAnswer(cmd, resp)
			})
		},
	}
	cmd.Flags().IntVar(&topK, "top-k", 0, "number of sources to cite (0 = configured default)")
	cmd.Flags().BoolVar(&includeDeleted, "include-deleted", false, "allow soft-deleted versions in the context")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the raw response as JSON")
	return cmd
}

// renderAnswer pretty-prints the markdown answer, falling back to the raw
// text when the terminal renderer cannot be built.
func renderAnswer(cmd *cobra.Command, resp *query.Response) error {
	out := cmd.OutOrStdout()
	renderer, err := glamour.NewTermRenderer(glamour.WithAutoStyle(), glamour.WithWordWrap(100))
	if err == nil {
		if rendered, rerr := renderer.Render(resp.Answer); rerr == nil {
			fmt.Fprint(out, rendered)
			printWarnings(cmd, resp.Warnings)
			return nil
		}
	}
	fmt.Fprintln(out, resp.Answer)
	printWarnings(cmd, resp.Warnings)
	return nil
}

func printWarnings(cmd *cobra.Command, warnings []string) {
	for _, w := range warnings {
		fmt.Fprintln(cmd.ErrOrStderr(), "warning:", w)
	}
}
