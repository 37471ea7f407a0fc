// Package app wires configuration into a ready-to-use runtime: database
// pool, stores, providers, and the ingest, query, and delete services. Every
// entry point (CLI commands, tests) goes through NewRuntime so the wiring
// lives in exactly one place.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/quarrylabs/quarry/db"
	"github.com/quarrylabs/quarry/internal/admin"
	"github.com/quarrylabs/quarry/internal/blob"
	"github.com/quarrylabs/quarry/internal/config"
	"github.com/quarrylabs/quarry/internal/database"
	"github.com/quarrylabs/quarry/internal/dense"
	"github.com/quarrylabs/quarry/internal/embedding"
	"github.com/quarrylabs/quarry/internal/ingest"
	"github.com/quarrylabs/quarry/internal/log"
	"github.com/quarrylabs/quarry/internal/metadata"
	"github.com/quarrylabs/quarry/internal/observability"
	"github.com/quarrylabs/quarry/internal/provider"
	"github.com/quarrylabs/quarry/internal/query"
	"github.com/quarrylabs/quarry/internal/sparse"
	"github.com/quarrylabs/quarry/internal/trace"
)

// Runtime holds every initialized component. Close releases them in reverse
// order of construction.
type Runtime struct {
	Config   *config.Config
	Logger   log.Logger
	Pool     *pgxpool.Pool
	Blobs    *blob.Store
	Metadata *metadata.Store
	Dense    *dense.Index
	Sparse   *sparse.Index
	Embedder *embedding.CachedEmbedder
	Emitter  trace.Emitter

	Query *query.Pipeline
	Admin *admin.Service

	otelShutdown func(context.Context) error
}

// IngestPipeline builds an ingestion pipeline for one run. Policy and view
// template vary per invocation; the rest of the wiring comes from config.
func (r *Runtime) IngestPipeline(policy, viewTemplate string) *ingest.Pipeline {
	cfg := r.Config
	return ingest.NewPipeline(ingest.TextLoader{}, r.Metadata, r.Blobs, r.Dense, r.Sparse, r.Embedder, r.Emitter, r.Logger, ingest.Options{
		Policy:       policy,
		ProfileID:    cfg.TextNormProfile,
		ViewTemplate: viewTemplate,
		Sectioner: ingest.SectionerOptions{
			PreamblePolicy: cfg.PreamblePolicy,
			IncludeHeading: cfg.IncludeHeading,
			MaxLevel:       cfg.MaxSectionLevel,
		},
		Chunker: ingest.ChunkerOptions{
			TargetChars:  cfg.ChunkTargetChars,
			OverlapChars: cfg.ChunkOverlapChars,
		},
	})
}

// NewRuntime initializes the full application. Migrations run on startup so a
// fresh database is usable immediately.
func NewRuntime(ctx context.Context, cfg *config.Config, logger log.Logger) (*Runtime, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var emitter trace.Emitter = trace.NewLogEmitter(logger)
	otelShutdown := func(context.Context) error { return nil }
	if cfg.TraceEnabled {
		shutdown, err := observability.Setup(ctx, observability.Config{
			Endpoint:    cfg.OTLPEndpoint,
			Environment: cfg.Environment,
			ServiceName: cfg.ServiceName,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("setting up tracing: %w", err)
		}
		otelShutdown = shutdown
		emitter = observability.SpanEmitter{}
	}

	if err := db.Migrate(cfg.DatabaseURL(), logger); err != nil {
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	pool, err := database.Connect(ctx, cfg.DatabaseURL())
	if err != nil {
		return nil, err
	}

	blobs, err := blob.NewStore(cfg.DataDir, logger)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("opening blob store: %w", err)
	}

	meta := metadata.NewStore(pool, logger)
	denseIx := dense.NewIndex(pool, logger)
	sparseIx := sparse.NewIndex(pool, logger)

	inner, err := provider.Embedder(cfg)
	if err != nil {
		pool.Close()
		return nil, err
	}
	embedder := embedding.NewCachedEmbedder(inner, embedding.NewPGCache(pool), cfg.TextNormProfile, emitter, logger)

	gen, err := provider.Generator(cfg)
	if err != nil {
		pool.Close()
		return nil, err
	}
	reranker, err := provider.Reranker(cfg)
	if err != nil {
		pool.Close()
		return nil, err
	}

	queryPipe, err := query.NewPipeline(query.Runtime{
		Embedder: embedder,
		Dense:    denseIx,
		Sparse:   sparseIx,
		Fetcher:  meta,
		Fuser:    provider.Fuser(cfg),
		Reranker: reranker,
		Gen:      gen,
		Emitter:  emitter,
		Logger:   logger,
		Params: query.Params{
			TopK:            cfg.TopK,
			Candidates:      cfg.CandidatesPerQuery,
			ExcerptMaxChars: cfg.ExcerptMaxChars,
			ProfileID:       cfg.TextNormProfile,
		},
	})
	if err != nil {
		pool.Close()
		return nil, err
	}

	return &Runtime{
		Config:       cfg,
		Logger:       logger,
		Pool:         pool,
		Blobs:        blobs,
		Metadata:     meta,
		Dense:        denseIx,
		Sparse:       sparseIx,
		Embedder:     embedder,
		Emitter:      emitter,
		Query:        queryPipe,
		Admin:        admin.NewService(meta, blobs, denseIx, sparseIx, logger),
		otelShutdown: otelShutdown,
	}, nil
}

// Close releases the pool and flushes pending spans.
func (r *Runtime) Close() error {
	r.Pool.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := r.otelShutdown(ctx); err != nil {
		return fmt.Errorf("shutting down tracing: %w", err)
	}
	return nil
}
