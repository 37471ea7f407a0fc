// Package query implements the retrieval fusion pipeline: normalize, dense
// and sparse retrieval, rank fusion, optional rerank, context build, optional
// generation, and formatting.
//
// Mandatory stages abort the pipeline with the stage name attached. Optional
// stages (sparse retrieval, rerank, generate) never abort: each degrades to a
// defined fallback and records a warning in the response.
package query

import (
	"context"

	"github.com/quarrylabs/quarry/internal/embedding"
	"github.com/quarrylabs/quarry/internal/log"
	"github.com/quarrylabs/quarry/internal/model"
	"github.com/quarrylabs/quarry/internal/trace"
)

// DenseRetriever searches the vector index.
type DenseRetriever interface {
	Search(ctx context.Context, queryVec []float32, topK int) ([]model.Candidate, error)
}

// SparseRetriever searches the lexical index.
type SparseRetriever interface {
	Search(ctx context.Context, query string, topK int) ([]model.Candidate, error)
}

// ChunkFetcher resolves candidate IDs to chunk details for context building.
type ChunkFetcher interface {
	GetChunkDetails(ctx context.Context, chunkIDs []string) ([]model.ChunkDetail, error)
}

// Fuser merges per-source candidate lists into one ranking.
type Fuser interface {
	Fuse(perSource [][]model.Candidate) []model.Candidate
}

// Reranker reorders fused candidates given the query. Implementations return
// the same chunk IDs, reordered and rescored.
type Reranker interface {
	Rerank(ctx context.Context, query string, candidates []model.Candidate) ([]model.Candidate, error)
}

// Generator synthesizes an answer from the query and assembled context.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// Params are the tunable retrieval knobs, validated by config.
type Params struct {
	TopK            int
	Candidates      int // per-source retrieval depth
	ExcerptMaxChars int
	ProfileID       string // canonicalization profile for the query text
}

// Runtime bundles the pipeline's collaborators. Dense retrieval, embedding
// and chunk fetching are mandatory; Sparse, Reranker and Generator may be nil
// and their stages are skipped.
type Runtime struct {
	Embedder embedding.Embedder
	Dense    DenseRetriever
	Sparse   SparseRetriever
	Fetcher  ChunkFetcher
	Fuser    Fuser
	Reranker Reranker
	Gen      Generator
	Emitter  trace.Emitter
	Logger   log.Logger
	Params   Params
}

// Request is one retrieval question.
type Request struct {
	Text           string
	TopK           int  // 0 means Params.TopK
	IncludeDeleted bool // include chunks of soft-deleted versions
}

// SourceRef is one cited source in the response, in citation order.
type SourceRef struct {
	Citation    int     `json:"citation"`
	ChunkID     string  `json:"chunk_id"`
	DocID       string  `json:"doc_id"`
	VersionID   string  `json:"version_id"`
	SectionPath string  `json:"section_path"`
	SourceURI   string  `json:"source_uri"`
	Title       string  `json:"title"`
	Excerpt     string  `json:"excerpt"`
	Score       float64 `json:"score"`
}

// Response is the pipeline outcome. Answer is always non-empty: generation
// falls back to an extractive answer, and an empty context yields an explicit
// no-results message.
type Response struct {
	Answer    string      `json:"answer"` // markdown
	Sources   []SourceRef `json:"sources"`
	Warnings  []string    `json:"warnings,omitempty"`
	QueryHash string      `json:"query_hash"`
	Reranked  bool        `json:"reranked"`
	Generated bool        `json:"generated"`
}
