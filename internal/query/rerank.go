package query

import (
	"context"

	"github.com/quarrylabs/quarry/internal/model"
)

// NoopReranker returns candidates unchanged. It exists so a configuration can
// pin "no reranking" explicitly instead of leaving the stage absent.
type NoopReranker struct{}

// Rerank returns the candidates as-is.
func (NoopReranker) Rerank(_ context.Context, _ string, candidates []model.Candidate) ([]model.Candidate, error) {
	return candidates, nil
}
