// Package dense implements the pgvector-backed dense index.
//
// One row per chunk; upserts replace the stored embedding, so re-ingesting a
// chunk with a new embedder simply overwrites the vector. Similarity search
// uses cosine distance and returns larger-is-better scores.
package dense

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/quarrylabs/quarry/internal/log"
	"github.com/quarrylabs/quarry/internal/model"
)

// Index stores and searches chunk embeddings.
type Index struct {
	pool   *pgxpool.Pool
	logger log.Logger
}

// NewIndex returns a dense index over the shared pool.
func NewIndex(pool *pgxpool.Pool, logger log.Logger) *Index {
	return &Index{pool: pool, logger: logger.With("component", "dense")}
}

// Entry is one chunk embedding to upsert.
type Entry struct {
	ChunkID   string
	Embedding []float32
}

// Upsert writes embeddings, replacing any existing vector per chunk.
func (ix *Index) Upsert(ctx context.Context, embedderID string, entries []Entry) error {
	if len(entries) == 0 {
		return nil
	}
	for _, e := range entries {
		_, err := ix.pool.Exec(ctx, `
			INSERT INTO chunk_vectors (chunk_id, embedding, embedder_id, updated_at)
			VALUES ($1, $2, $3, now())
			ON CONFLICT (chunk_id) DO UPDATE SET
				embedding = $2, embedder_id = $3, updated_at = now()`,
			e.ChunkID, pgvector.NewVector(e.Embedding), embedderID)
		if err != nil {
			return fmt.Errorf("upserting vector for chunk %s: %w", e.ChunkID, err)
		}
	}
	return nil
}

// Search returns the topK nearest chunks by cosine similarity. The score is
// 1 - cosine distance, so higher means closer.
func (ix *Index) Search(ctx context.Context, queryVec []float32, topK int) ([]model.Candidate, error) {
	rows, err := ix.pool.Query(ctx, `
		SELECT chunk_id, 1 - (embedding <=> $1) AS score
		FROM chunk_vectors
		ORDER BY embedding <=> $1
		LIMIT $2`,
		pgvector.NewVector(queryVec), topK)
	if err != nil {
		return nil, fmt.Errorf("dense search: %w", err)
	}
	defer rows.Close()

	var out []model.Candidate
	for rows.Next() {
		var c model.Candidate
		if err := rows.Scan(&c.ChunkID, &c.Score); err != nil {
			return nil, fmt.Errorf("scanning dense candidate: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("dense search: %w", err)
	}
	return out, nil
}

// Delete removes the vectors for the given chunks. Missing rows are fine.
func (ix *Index) Delete(ctx context.Context, chunkIDs []string) error {
	if len(chunkIDs) == 0 {
		return nil
	}
	_, err := ix.pool.Exec(ctx,
		`DELETE FROM chunk_vectors WHERE chunk_id = ANY($1)`, chunkIDs)
	if err != nil {
		return fmt.Errorf("deleting %d vectors: %w", len(chunkIDs), err)
	}
	return nil
}

// Count returns the number of stored vectors.
func (ix *Index) Count(ctx context.Context) (int, error) {
	var n int
	if err := ix.pool.QueryRow(ctx, `SELECT count(*) FROM chunk_vectors`).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting vectors: %w", err)
	}
	return n, nil
}
