// Package cmd provides the quarry CLI commands.
//
// Commands:
//   - ingest: index a document into the knowledge base
//   - query: ask a question against the indexed content
//   - delete: soft or hard delete a document version
//   - versions: list indexed versions
//   - migrate: run database migrations
//   - version: show build information
//
// Every database-backed command builds the full runtime through app.NewRuntime
// and tears it down on exit.
package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/quarrylabs/quarry/internal/app"
	"github.com/quarrylabs/quarry/internal/config"
	"github.com/quarrylabs/quarry/internal/log"
	"github.com/quarrylabs/quarry/internal/observability"
)

// Execute runs the root command.
func Execute() error {
	root := &cobra.Command{
		Use:           "quarry",
		Short:         "Quarry - content-addressed document retrieval",
		Long:          "Quarry ingests documents into a content-addressed knowledge base\nand answers questions over them with fused dense and lexical retrieval.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(
		newIngestCmd(),
		newQueryCmd(),
		newDeleteCmd(),
		newVersionsCmd(),
		newMigrateCmd(),
		newVersionCmd(),
	)
	return root.Execute()
}

// signalContext cancels on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

// setup loads config and builds the logger shared by all commands.
func setup() (*config.Config, log.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("loading configuration: %w", err)
	}
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		return nil, nil, fmt.Errorf("invalid log level %q: %w", cfg.LogLevel, err)
	}
	logger := log.New(log.Config{Level: level, JSON: cfg.LogJSON})
	return cfg, logger, nil
}

// withRuntime runs fn inside a fully initialized runtime, under a root span
// named after the command so pipeline events land on a recording span.
func withRuntime(ctx context.Context, op string, fn func(ctx context.Context, rt *app.Runtime) error) error {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}
	rt, err := app.NewRuntime(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := rt.Close(); closeErr != nil {
			logger.Warn("runtime close", "error", closeErr)
		}
	}()

	ctx, span := observability.StartSpan(ctx, "quarry."+op)
	defer span.End()
	return fn(ctx, rt)
}

// printJSON writes v as indented JSON to stdout.
func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
