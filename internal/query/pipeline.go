package query

import (
	"context"
	"fmt"

	"github.com/quarrylabs/quarry/internal/log"
	"github.com/quarrylabs/quarry/internal/model"
	"github.com/quarrylabs/quarry/internal/pipeline"
	"github.com/quarrylabs/quarry/internal/textnorm"
	"github.com/quarrylabs/quarry/internal/trace"
)

// Pipeline answers retrieval requests. Safe for concurrent use.
type Pipeline struct {
	rt Runtime
}

// NewPipeline validates the runtime wiring and returns a pipeline.
func NewPipeline(rt Runtime) (*Pipeline, error) {
	if rt.Embedder == nil || rt.Dense == nil || rt.Fetcher == nil {
		return nil, fmt.Errorf("%w: embedder, dense retriever and chunk fetcher are required",
			pipeline.ErrValidation)
	}
	if rt.Fuser == nil {
		rt.Fuser = NewRRF(DefaultFusionK)
	}
	if rt.Emitter == nil {
		rt.Emitter = trace.NopEmitter{}
	}
	if rt.Logger == nil {
		rt.Logger = log.NewNop()
	}
	rt.Logger = rt.Logger.With("component", "query")
	if rt.Params.TopK < 1 {
		rt.Params.TopK = 8
	}
	if rt.Params.Candidates < rt.Params.TopK {
		rt.Params.Candidates = rt.Params.TopK * 3
	}
	if rt.Params.ExcerptMaxChars < 1 {
		rt.Params.ExcerptMaxChars = 320
	}
	if rt.Params.ProfileID == "" {
		rt.Params.ProfileID = textnorm.DefaultProfileID
	}
	return &Pipeline{rt: rt}, nil
}

// Run executes the full retrieval pipeline for one request.
func (p *Pipeline) Run(ctx context.Context, req Request) (*Response, error) {
	rt := p.rt
	emitter := rt.Emitter

	normalized := NormalizeQuery(req.Text)
	if normalized == "" {
		return nil, &pipeline.StageError{Stage: "normalize",
			Err: fmt.Errorf("%w: empty query", pipeline.ErrValidation)}
	}
	topK := req.TopK
	if topK < 1 {
		topK = rt.Params.TopK
	}

	resp := &Response{QueryHash: QueryHash(normalized)}

	// Dense retrieval is mandatory: the query is canonicalized under the
	// same profile as indexed content so vectors are comparable.
	var denseHits []model.Candidate
	err := pipeline.Run(ctx, emitter, "retrieve.dense", func(ctx context.Context) error {
		canonical, err := textnorm.Canonical(normalized, rt.Params.ProfileID)
		if err != nil {
			return fmt.Errorf("%w: %w", pipeline.ErrValidation, err)
		}
		vecs, err := rt.Embedder.Embed(ctx, []string{canonical})
		if err != nil {
			return fmt.Errorf("%w: %w", pipeline.ErrProvider, err)
		}
		denseHits, err = rt.Dense.Search(ctx, vecs[0], rt.Params.Candidates)
		if err != nil {
			return fmt.Errorf("%w: %w", pipeline.ErrStorage, err)
		}
		emitter.Emit(ctx, trace.EventCandidates, map[string]any{
			"source": "dense", "count": len(denseHits), "query_hash": resp.QueryHash,
		})
		return nil
	})
	if err != nil {
		return nil, err
	}

	// Sparse retrieval is optional and degradable: absence or failure means
	// fusion sees one source.
	var sparseHits []model.Candidate
	if rt.Sparse != nil {
		hits, err := rt.Sparse.Search(ctx, normalized, rt.Params.Candidates)
		if err != nil {
			rt.Logger.Warn("sparse retrieval failed, continuing dense-only", "error", err)
			resp.Warnings = append(resp.Warnings, "sparse retrieval unavailable: "+err.Error())
		} else {
			sparseHits = hits
			emitter.Emit(ctx, trace.EventCandidates, map[string]any{
				"source": "sparse", "count": len(sparseHits), "query_hash": resp.QueryHash,
			})
		}
	}

	fused := rt.Fuser.Fuse([][]model.Candidate{denseHits, sparseHits})
	emitter.Emit(ctx, trace.EventFused, map[string]any{
		"count": len(fused), "query_hash": resp.QueryHash,
	})

	// Rerank is optional and never fatal: failure or a malformed result
	// keeps the fused order.
	if rt.Reranker != nil && len(fused) > 0 {
		reranked, err := rt.Reranker.Rerank(ctx, normalized, fused)
		if err == nil && !sameCandidates(fused, reranked) {
			err = fmt.Errorf("%w: reranker returned a different candidate set", pipeline.ErrProvider)
		}
		if err != nil {
			rt.Logger.Warn("rerank failed, keeping fused order", "error", err)
			resp.Warnings = append(resp.Warnings, "rerank unavailable: "+err.Error())
			emitter.Emit(ctx, trace.EventRerankFallback, map[string]any{"error": err.Error()})
		} else {
			fused = reranked
			resp.Reranked = true
			emitter.Emit(ctx, trace.EventRerankUsed, map[string]any{"count": len(fused)})
		}
	} else {
		emitter.Emit(ctx, trace.EventRerankSkipped, nil)
	}

	var sources []SourceRef
	err = pipeline.Run(ctx, emitter, "context", func(ctx context.Context) error {
		var err error
		sources, err = p.buildContext(ctx, fused, topK, req.IncludeDeleted)
		if err != nil {
			return fmt.Errorf("%w: %w", pipeline.ErrStorage, err)
		}
		emitter.Emit(ctx, trace.EventContextBuilt, map[string]any{
			"sources": len(sources), "query_hash": resp.QueryHash,
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	resp.Sources = sources

	if len(sources) == 0 {
		resp.Answer = NoResultsAnswer
		emitter.Emit(ctx, trace.EventGenerateSkipped, map[string]any{"reason": "no context"})
		return resp, nil
	}

	// Generation is optional and never fatal: failure degrades to the
	// extractive answer.
	answer := ""
	if rt.Gen != nil {
		generated, err := rt.Gen.Generate(ctx, buildPrompt(normalized, sources))
		if err != nil {
			rt.Logger.Warn("generation failed, using extractive answer", "error", err)
			resp.Warnings = append(resp.Warnings, "generation unavailable: "+err.Error())
			emitter.Emit(ctx, trace.EventGenerateFallback, map[string]any{"error": err.Error()})
		} else {
			answer = generated
			resp.Generated = true
			emitter.Emit(ctx, trace.EventGenerateUsed, nil)
		}
	} else {
		emitter.Emit(ctx, trace.EventGenerateSkipped, map[string]any{"reason": "no generator"})
	}
	if answer == "" {
		answer = extractiveAnswer(sources)
	}

	resp.Answer = formatMarkdown(answer, sources)
	return resp, nil
}

// sameCandidates reports whether b is a permutation of a by chunk id. A
// reranker may only reorder; anything else falls back to the fused order.
func sameCandidates(a, b []model.Candidate) bool {
	if len(a) != len(b) {
		return false
	}
	counts := make(map[string]int, len(a))
	for _, c := range a {
		counts[c.ChunkID]++
	}
	for _, c := range b {
		counts[c.ChunkID]--
		if counts[c.ChunkID] < 0 {
			return false
		}
	}
	return true
}

// buildContext resolves fused candidates to chunk details, drops chunks of
// soft-deleted versions unless asked otherwise, and keeps the fused order.
func (p *Pipeline) buildContext(ctx context.Context, fused []model.Candidate, topK int, includeDeleted bool) ([]SourceRef, error) {
	if len(fused) == 0 {
		return nil, nil
	}

	ids := make([]string, len(fused))
	scores := make(map[string]float64, len(fused))
	for i, c := range fused {
		ids[i] = c.ChunkID
		scores[c.ChunkID] = c.Score
	}

	details, err := p.rt.Fetcher.GetChunkDetails(ctx, ids)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]model.ChunkDetail, len(details))
	for _, d := range details {
		byID[d.ChunkID] = d
	}

	var out []SourceRef
	for _, c := range fused {
		d, ok := byID[c.ChunkID]
		if !ok {
			// A candidate with no metadata row is an index/metadata skew;
			// drop it rather than cite a chunk that cannot be shown.
			p.rt.Logger.Warn("candidate missing from metadata store", "chunk_id", c.ChunkID)
			continue
		}
		if d.VersionStatus == model.StatusDeleted && !includeDeleted {
			continue
		}
		out = append(out, SourceRef{
			Citation:    len(out) + 1,
			ChunkID:     d.ChunkID,
			DocID:       d.DocID,
			VersionID:   d.VersionID,
			SectionPath: d.SectionPath,
			SourceURI:   d.SourceURI,
			Title:       d.Title,
			Excerpt:     excerpt(d.Body, p.rt.Params.ExcerptMaxChars),
			Score:       scores[c.ChunkID],
		})
		if len(out) == topK {
			break
		}
	}
	return out, nil
}
