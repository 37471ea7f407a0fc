package query

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/quarrylabs/quarry/internal/embedding"
	"github.com/quarrylabs/quarry/internal/log"
	"github.com/quarrylabs/quarry/internal/model"
	"github.com/quarrylabs/quarry/internal/pipeline"
	"github.com/quarrylabs/quarry/internal/trace"
)

type stubDense struct {
	hits []model.Candidate
	err  error
}

func (s stubDense) Search(context.Context, []float32, int) ([]model.Candidate, error) {
	return s.hits, s.err
}

type stubSparse struct {
	hits []model.Candidate
	err  error
}

func (s stubSparse) Search(context.Context, string, int) ([]model.Candidate, error) {
	return s.hits, s.err
}

type stubFetcher struct {
	details map[string]model.ChunkDetail
}

func (s stubFetcher) GetChunkDetails(_ context.Context, ids []string) ([]model.ChunkDetail, error) {
	var out []model.ChunkDetail
	for _, id := range ids {
		if d, ok := s.details[id]; ok {
			out = append(out, d)
		}
	}
	return out, nil
}

// stubReranker reverses the candidate order, or fails.
type stubReranker struct {
	err error
}

func (s stubReranker) Rerank(_ context.Context, _ string, cands []model.Candidate) ([]model.Candidate, error) {
	if s.err != nil {
		return nil, s.err
	}
	out := make([]model.Candidate, len(cands))
	for i, c := range cands {
		out[len(cands)-1-i] = c
	}
	return out, nil
}

// brokenReranker reports success but hands back whatever it was given,
// ignoring the candidate set it received.
type brokenReranker struct {
	out []model.Candidate
}

func (b brokenReranker) Rerank(context.Context, string, []model.Candidate) ([]model.Candidate, error) {
	return b.out, nil
}

type stubGenerator struct {
	answer string
	err    error
}

func (s stubGenerator) Generate(context.Context, string) (string, error) {
	return s.answer, s.err
}

func detail(chunkID, body, status string) model.ChunkDetail {
	return model.ChunkDetail{
		Chunk: model.Chunk{
			ChunkID:     chunkID,
			DocID:       "doc_1",
			VersionID:   "ver_1",
			SectionPath: "Guide",
			Body:        body,
		},
		VersionStatus: status,
		SourceURI:     "guide.md",
		Title:         "guide",
	}
}

func baseRuntime() Runtime {
	return Runtime{
		Embedder: embedding.NewHashEmbedder(16),
		Dense: stubDense{hits: []model.Candidate{
			{ChunkID: "chk_a", Score: 0.9},
			{ChunkID: "chk_b", Score: 0.8},
		}},
		Fetcher: stubFetcher{details: map[string]model.ChunkDetail{
			"chk_a": detail("chk_a", "alpha body text", model.StatusIndexed),
			"chk_b": detail("chk_b", "beta body text", model.StatusIndexed),
		}},
		Logger: log.NewNop(),
		Params: Params{TopK: 5, Candidates: 20, ExcerptMaxChars: 320},
	}
}

func TestPipelineDenseOnly(t *testing.T) {
	t.Parallel()
	p, err := NewPipeline(baseRuntime())
	if err != nil {
		t.Fatal(err)
	}

	resp, err := p.Run(context.Background(), Request{Text: "alpha?"})
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if len(resp.Sources) != 2 {
		t.Fatalf("sources = %d", len(resp.Sources))
	}
	if resp.Sources[0].ChunkID != "chk_a" || resp.Sources[0].Citation != 1 {
		t.Errorf("first source = %+v", resp.Sources[0])
	}
	if resp.Answer == "" || !strings.Contains(resp.Answer, "## Sources") {
		t.Errorf("answer = %q", resp.Answer)
	}
	if !strings.Contains(resp.Answer, "alpha body text") {
		t.Error("extractive answer missing excerpt")
	}
	if resp.Generated || resp.Reranked {
		t.Error("no optional providers were configured")
	}
	if len(resp.QueryHash) != 64 {
		t.Errorf("query hash = %q", resp.QueryHash)
	}
}

func TestPipelineFusesBothSources(t *testing.T) {
	t.Parallel()
	rt := baseRuntime()
	rt.Sparse = stubSparse{hits: []model.Candidate{
		{ChunkID: "chk_b", Score: 2},
		{ChunkID: "chk_a", Score: 1},
	}}
	rec := &trace.Recorder{}
	rt.Emitter = rec

	p, err := NewPipeline(rt)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := p.Run(context.Background(), Request{Text: "alpha"})
	if err != nil {
		t.Fatal(err)
	}
	if len(resp.Sources) != 2 {
		t.Fatalf("sources = %d", len(resp.Sources))
	}

	// Both per-source candidate events plus the fused event fired.
	counts := 0
	for _, e := range rec.Events {
		if e.Name == trace.EventCandidates {
			counts++
		}
	}
	if counts != 2 {
		t.Errorf("candidate events = %d, want 2", counts)
	}
	if !rec.Has(trace.EventFused) {
		t.Error("missing fused event")
	}
}

func TestPipelineSparseFailureDegrades(t *testing.T) {
	t.Parallel()
	rt := baseRuntime()
	rt.Sparse = stubSparse{err: errors.New("index offline")}

	p, err := NewPipeline(rt)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := p.Run(context.Background(), Request{Text: "alpha"})
	if err != nil {
		t.Fatalf("sparse failure must not abort: %v", err)
	}
	if len(resp.Sources) != 2 {
		t.Errorf("sources = %d", len(resp.Sources))
	}
	if len(resp.Warnings) == 0 || !strings.Contains(resp.Warnings[0], "sparse") {
		t.Errorf("warnings = %v", resp.Warnings)
	}
}

func TestPipelineRerankApplied(t *testing.T) {
	t.Parallel()
	rt := baseRuntime()
	rt.Reranker = stubReranker{}

	p, err := NewPipeline(rt)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := p.Run(context.Background(), Request{Text: "alpha"})
	if err != nil {
		t.Fatal(err)
	}
	if !resp.Reranked {
		t.Error("Reranked flag not set")
	}
	if resp.Sources[0].ChunkID != "chk_b" {
		t.Errorf("rerank not applied, first source = %s", resp.Sources[0].ChunkID)
	}
}

func TestPipelineRerankFailureFallsBack(t *testing.T) {
	t.Parallel()
	rt := baseRuntime()
	rt.Reranker = stubReranker{err: errors.New("reranker down")}
	rec := &trace.Recorder{}
	rt.Emitter = rec

	p, err := NewPipeline(rt)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := p.Run(context.Background(), Request{Text: "alpha"})
	if err != nil {
		t.Fatalf("rerank failure must not abort: %v", err)
	}
	if resp.Reranked {
		t.Error("Reranked flag set after failure")
	}
	// Fused order preserved.
	if resp.Sources[0].ChunkID != "chk_a" {
		t.Errorf("first source = %s", resp.Sources[0].ChunkID)
	}
	if !rec.Has(trace.EventRerankFallback) {
		t.Error("missing rerank fallback event")
	}
	if len(resp.Warnings) == 0 {
		t.Error("missing rerank warning")
	}
}

func TestPipelineRerankInvalidResultFallsBack(t *testing.T) {
	t.Parallel()

	// A reranker may only reorder its input; anything else is discarded.
	cases := map[string][]model.Candidate{
		"nil result":    nil,
		"dropped chunk": {{ChunkID: "chk_a", Score: 1}},
		"foreign chunk": {{ChunkID: "chk_x", Score: 1}, {ChunkID: "chk_a", Score: 0.5}},
	}
	for name, out := range cases {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			rt := baseRuntime()
			rt.Reranker = brokenReranker{out: out}
			rec := &trace.Recorder{}
			rt.Emitter = rec

			p, err := NewPipeline(rt)
			if err != nil {
				t.Fatal(err)
			}
			resp, err := p.Run(context.Background(), Request{Text: "alpha"})
			if err != nil {
				t.Fatalf("invalid rerank result must not abort: %v", err)
			}
			if resp.Reranked {
				t.Error("Reranked flag set for invalid result")
			}
			if resp.Sources[0].ChunkID != "chk_a" {
				t.Errorf("fused order lost, first source = %s", resp.Sources[0].ChunkID)
			}
			if !rec.Has(trace.EventRerankFallback) {
				t.Error("missing rerank fallback event")
			}
			if len(resp.Warnings) == 0 {
				t.Error("missing rerank warning")
			}
		})
	}
}

func TestPipelineGenerate(t *testing.T) {
	t.Parallel()
	rt := baseRuntime()
	rt.Gen = stubGenerator{answer: "Synthesized answer citing [1]."}

	p, err := NewPipeline(rt)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := p.Run(context.Background(), Request{Text: "alpha"})
	if err != nil {
		t.Fatal(err)
	}
	if !resp.Generated {
		t.Error("Generated flag not set")
	}
	if !strings.Contains(resp.Answer, "Synthesized answer") {
		t.Errorf("answer = %q", resp.Answer)
	}
}

func TestPipelineGenerateFailureExtractiveFallback(t *testing.T) {
	t.Parallel()
	rt := baseRuntime()
	rt.Gen = stubGenerator{err: errors.New("model offline")}
	rec := &trace.Recorder{}
	rt.Emitter = rec

	p, err := NewPipeline(rt)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := p.Run(context.Background(), Request{Text: "alpha"})
	if err != nil {
		t.Fatalf("generation failure must not abort: %v", err)
	}
	if resp.Generated {
		t.Error("Generated flag set after failure")
	}
	if !strings.Contains(resp.Answer, "alpha body text") {
		t.Error("extractive fallback missing excerpts")
	}
	if !rec.Has(trace.EventGenerateFallback) {
		t.Error("missing generate fallback event")
	}
}

func TestPipelineDeletedVersionsFiltered(t *testing.T) {
	t.Parallel()
	rt := baseRuntime()
	rt.Fetcher = stubFetcher{details: map[string]model.ChunkDetail{
		"chk_a": detail("chk_a", "alpha body text", model.StatusDeleted),
		"chk_b": detail("chk_b", "beta body text", model.StatusIndexed),
	}}

	p, err := NewPipeline(rt)
	if err != nil {
		t.Fatal(err)
	}

	resp, err := p.Run(context.Background(), Request{Text: "alpha"})
	if err != nil {
		t.Fatal(err)
	}
	if len(resp.Sources) != 1 || resp.Sources[0].ChunkID != "chk_b" {
		t.Errorf("sources = %+v", resp.Sources)
	}
	if resp.Sources[0].Citation != 1 {
		t.Error("citations must be renumbered after filtering")
	}

	// include_deleted restores the chunk.
	resp, err = p.Run(context.Background(), Request{Text: "alpha", IncludeDeleted: true})
	if err != nil {
		t.Fatal(err)
	}
	if len(resp.Sources) != 2 {
		t.Errorf("sources with include_deleted = %d", len(resp.Sources))
	}
}

func TestPipelineNoResults(t *testing.T) {
	t.Parallel()
	rt := baseRuntime()
	rt.Dense = stubDense{}
	rt.Gen = stubGenerator{answer: "should not run"}

	p, err := NewPipeline(rt)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := p.Run(context.Background(), Request{Text: "anything"})
	if err != nil {
		t.Fatal(err)
	}
	if resp.Answer != NoResultsAnswer {
		t.Errorf("answer = %q", resp.Answer)
	}
	if resp.Generated {
		t.Error("generator must not run on empty context")
	}
}

func TestPipelineEmptyQuery(t *testing.T) {
	t.Parallel()
	p, err := NewPipeline(baseRuntime())
	if err != nil {
		t.Fatal(err)
	}

	_, err = p.Run(context.Background(), Request{Text: "   \n "})
	if !errors.Is(err, pipeline.ErrValidation) {
		t.Errorf("error = %v, want validation error", err)
	}
}

func TestPipelineDenseFailureAborts(t *testing.T) {
	t.Parallel()
	rt := baseRuntime()
	rt.Dense = stubDense{err: errors.New("vector store down")}

	p, err := NewPipeline(rt)
	if err != nil {
		t.Fatal(err)
	}
	_, err = p.Run(context.Background(), Request{Text: "alpha"})
	if err == nil {
		t.Fatal("dense failure must abort")
	}
	var stageErr *pipeline.StageError
	if !errors.As(err, &stageErr) || stageErr.Stage != "retrieve.dense" {
		t.Errorf("error = %v", err)
	}
}

func TestPipelineTopKBounds(t *testing.T) {
	t.Parallel()
	rt := baseRuntime()
	hits := make([]model.Candidate, 10)
	details := map[string]model.ChunkDetail{}
	for i := range hits {
		id := fmt.Sprintf("chk_%02d", i)
		hits[i] = model.Candidate{ChunkID: id, Score: float64(10 - i)}
		details[id] = detail(id, "body "+id, model.StatusIndexed)
	}
	rt.Dense = stubDense{hits: hits}
	rt.Fetcher = stubFetcher{details: details}

	p, err := NewPipeline(rt)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := p.Run(context.Background(), Request{Text: "q", TopK: 3})
	if err != nil {
		t.Fatal(err)
	}
	if len(resp.Sources) != 3 {
		t.Errorf("sources = %d, want 3", len(resp.Sources))
	}
}

func TestNewPipelineRequiresMandatoryDeps(t *testing.T) {
	t.Parallel()
	rt := baseRuntime()
	rt.Dense = nil
	if _, err := NewPipeline(rt); !errors.Is(err, pipeline.ErrValidation) {
		t.Errorf("error = %v", err)
	}
}

func TestFormatMarkdownSourceList(t *testing.T) {
	t.Parallel()

	got := formatMarkdown("Answer [1].", []SourceRef{{
		Citation: 1, Title: "guide", SectionPath: "Install / Linux", SourceURI: "guide.md",
	}})
	if !strings.Contains(got, "## Sources") {
		t.Errorf("sources section missing: %q", got)
	}
	if !strings.Contains(got, "1. **guide** - Install / Linux (`guide.md`)") {
		t.Errorf("source line = %q", got)
	}
	// Plain terminals get plain ASCII.
	for _, r := range got {
		if r > 127 {
			t.Fatalf("non-ASCII rune %q in output: %q", r, got)
		}
	}
}

func TestExcerptBounds(t *testing.T) {
	t.Parallel()

	long := strings.Repeat("слово ", 100)
	got := excerpt(long, 50)
	if len([]rune(got)) > 53 { // 50 plus "..."
		t.Errorf("excerpt too long: %d runes", len([]rune(got)))
	}
	if !strings.HasSuffix(got, "...") {
		t.Error("truncation marker missing")
	}
	if excerpt("short", 50) != "short" {
		t.Error("short text must pass through")
	}
}
