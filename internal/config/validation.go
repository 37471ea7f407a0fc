package config

import (
	"errors"
	"fmt"
)

var (
	// ErrConfigNil indicates the configuration is nil.
	ErrConfigNil = errors.New("configuration is nil")

	// ErrInvalidDataDir indicates the content store directory is unset.
	ErrInvalidDataDir = errors.New("invalid data directory")

	// ErrInvalidPostgresHost indicates the PostgreSQL host is invalid.
	ErrInvalidPostgresHost = errors.New("invalid PostgreSQL host")

	// ErrInvalidPostgresPort indicates the PostgreSQL port is out of range.
	ErrInvalidPostgresPort = errors.New("invalid PostgreSQL port")

	// ErrInvalidPostgresDBName indicates the PostgreSQL database name is invalid.
	ErrInvalidPostgresDBName = errors.New("invalid PostgreSQL database name")

	// ErrInvalidPostgresSSLMode indicates the PostgreSQL SSL mode is invalid.
	ErrInvalidPostgresSSLMode = errors.New("invalid PostgreSQL SSL mode")

	// ErrInvalidEmbedderProvider indicates the embedder provider is not supported.
	ErrInvalidEmbedderProvider = errors.New("invalid embedder provider")

	// ErrInvalidEmbedderDimension indicates the embedder dimension is out of range.
	ErrInvalidEmbedderDimension = errors.New("invalid embedder dimension")

	// ErrInvalidGeneratorProvider indicates the generator provider is not supported.
	ErrInvalidGeneratorProvider = errors.New("invalid generator provider")

	// ErrInvalidRerankerProvider indicates the reranker provider is not supported.
	ErrInvalidRerankerProvider = errors.New("invalid reranker provider")

	// ErrInvalidOllamaHost indicates the Ollama host is invalid.
	ErrInvalidOllamaHost = errors.New("invalid Ollama host")

	// ErrInvalidPreamblePolicy indicates an unknown preamble sectioning policy.
	ErrInvalidPreamblePolicy = errors.New("invalid preamble policy")

	// ErrInvalidChunkSize indicates the chunk size parameters are inconsistent.
	ErrInvalidChunkSize = errors.New("invalid chunk size")

	// ErrInvalidQueryParams indicates the retrieval parameters are out of range.
	ErrInvalidQueryParams = errors.New("invalid query parameters")
)

var validSSLModes = map[string]bool{
	"disable": true, "allow": true, "prefer": true,
	"require": true, "verify-ca": true, "verify-full": true,
}

// Validate checks the configuration for consistency. It is called by Load
// before the config is handed to any component, so components can assume a
// validated config.
func (c *Config) Validate() error {
	if c == nil {
		return ErrConfigNil
	}

	if c.DataDir == "" {
		return fmt.Errorf("%w: data_dir must not be empty", ErrInvalidDataDir)
	}

	if c.PostgresHost == "" {
		return fmt.Errorf("%w: host must not be empty", ErrInvalidPostgresHost)
	}
	if c.PostgresPort < 1 || c.PostgresPort > 65535 {
		return fmt.Errorf("%w: %d", ErrInvalidPostgresPort, c.PostgresPort)
	}
	if c.PostgresDBName == "" {
		return fmt.Errorf("%w: database name must not be empty", ErrInvalidPostgresDBName)
	}
	if !validSSLModes[c.PostgresSSLMode] {
		return fmt.Errorf("%w: %q", ErrInvalidPostgresSSLMode, c.PostgresSSLMode)
	}

	switch c.EmbedderProvider {
	case EmbedderHash, EmbedderOllama:
	default:
		return fmt.Errorf("%w: %q", ErrInvalidEmbedderProvider, c.EmbedderProvider)
	}
	if c.EmbedderDimension < 1 || c.EmbedderDimension > 4096 {
		return fmt.Errorf("%w: %d", ErrInvalidEmbedderDimension, c.EmbedderDimension)
	}
	if c.EmbedderProvider == EmbedderOllama && c.OllamaHost == "" {
		return fmt.Errorf("%w: ollama_host must be set for the ollama embedder", ErrInvalidOllamaHost)
	}

	switch c.GeneratorProvider {
	case GeneratorNone, GeneratorOllama:
	default:
		return fmt.Errorf("%w: %q", ErrInvalidGeneratorProvider, c.GeneratorProvider)
	}
	if c.GeneratorProvider == GeneratorOllama && c.OllamaHost == "" {
		return fmt.Errorf("%w: ollama_host must be set for the ollama generator", ErrInvalidOllamaHost)
	}

	switch c.RerankerProvider {
	case "", RerankerNone, RerankerNoop:
	default:
		return fmt.Errorf("%w: %q", ErrInvalidRerankerProvider, c.RerankerProvider)
	}

	switch c.PreamblePolicy {
	case PreambleSeparate, PreambleMergeIntoFirst, PreambleDrop:
	default:
		return fmt.Errorf("%w: %q", ErrInvalidPreamblePolicy, c.PreamblePolicy)
	}
	if c.MaxSectionLevel < 1 || c.MaxSectionLevel > 6 {
		return fmt.Errorf("%w: max_section_level %d", ErrInvalidPreamblePolicy, c.MaxSectionLevel)
	}

	if c.ChunkTargetChars < 1 {
		return fmt.Errorf("%w: chunk_target_chars %d", ErrInvalidChunkSize, c.ChunkTargetChars)
	}
	if c.ChunkOverlapChars < 0 || c.ChunkOverlapChars >= c.ChunkTargetChars {
		return fmt.Errorf("%w: overlap %d must be below target %d",
			ErrInvalidChunkSize, c.ChunkOverlapChars, c.ChunkTargetChars)
	}

	if c.TopK < 1 {
		return fmt.Errorf("%w: top_k %d", ErrInvalidQueryParams, c.TopK)
	}
	if c.CandidatesPerQuery < c.TopK {
		return fmt.Errorf("%w: candidates_per_query %d below top_k %d",
			ErrInvalidQueryParams, c.CandidatesPerQuery, c.TopK)
	}
	if c.FusionK < 1 {
		return fmt.Errorf("%w: fusion_k %d", ErrInvalidQueryParams, c.FusionK)
	}
	if c.ExcerptMaxChars < 1 {
		return fmt.Errorf("%w: excerpt_max_chars %d", ErrInvalidQueryParams, c.ExcerptMaxChars)
	}

	return nil
}
