// Package provider builds concrete embedders, generators, rerankers, and
// fusers from configuration. Provider names are validated here, at startup,
// so a typo in config fails fast instead of mid-pipeline.
package provider

import (
	"fmt"

	"github.com/quarrylabs/quarry/internal/config"
	"github.com/quarrylabs/quarry/internal/embedding"
	"github.com/quarrylabs/quarry/internal/pipeline"
	"github.com/quarrylabs/quarry/internal/query"
)

// Embedder returns the configured embedder without caching. Wrap it with
// embedding.NewCachedEmbedder to add the cache layer.
func Embedder(cfg *config.Config) (embedding.Embedder, error) {
	switch cfg.EmbedderProvider {
	case config.EmbedderHash:
		return embedding.NewHashEmbedder(cfg.EmbedderDimension), nil
	case config.EmbedderOllama:
		return embedding.NewOllamaEmbedder(cfg.OllamaHost, cfg.EmbedderModel, cfg.EmbedderDimension, cfg.OllamaRateLimit), nil
	default:
		return nil, fmt.Errorf("%w: unknown embedder provider %q", pipeline.ErrValidation, cfg.EmbedderProvider)
	}
}

// Generator returns the configured answer generator, or nil when generation
// is disabled. The query pipeline treats a nil generator as extractive mode.
func Generator(cfg *config.Config) (query.Generator, error) {
	switch cfg.GeneratorProvider {
	case config.GeneratorNone, "":
		return nil, nil
	case config.GeneratorOllama:
		return query.NewOllamaGenerator(cfg.OllamaHost, cfg.GeneratorModel), nil
	default:
		return nil, fmt.Errorf("%w: unknown generator provider %q", pipeline.ErrValidation, cfg.GeneratorProvider)
	}
}

// Reranker returns the configured reranker, or nil when reranking is off.
// Only the order-preserving noop exists for now; the indirection keeps the
// wiring point for a real model.
func Reranker(cfg *config.Config) (query.Reranker, error) {
	switch cfg.RerankerProvider {
	case config.RerankerNone, "":
		return nil, nil
	case config.RerankerNoop:
		return query.NoopReranker{}, nil
	default:
		return nil, fmt.Errorf("%w: unknown reranker provider %q", pipeline.ErrValidation, cfg.RerankerProvider)
	}
}

// Fuser returns the rank fuser with the configured constant.
func Fuser(cfg *config.Config) *query.RRF {
	return query.NewRRF(cfg.FusionK)
}
