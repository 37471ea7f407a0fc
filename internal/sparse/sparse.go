// Package sparse implements the Postgres full-text sparse index.
//
// Tokenization happens in the application with a deliberately conservative
// tokenizer: ASCII word runs and CJK ideograph runs, lowercased, everything
// else a separator. The resulting term stream is stored and indexed under the
// 'simple' text search configuration so Postgres adds no stemming of its own.
// That keeps match behavior identical across Postgres versions and locales.
package sparse

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/quarrylabs/quarry/internal/log"
	"github.com/quarrylabs/quarry/internal/model"
)

// Index stores and searches the lexical term streams of chunks.
type Index struct {
	pool   *pgxpool.Pool
	logger log.Logger
}

// NewIndex returns a sparse index over the shared pool.
func NewIndex(pool *pgxpool.Pool, logger log.Logger) *Index {
	return &Index{pool: pool, logger: logger.With("component", "sparse")}
}

// Entry is one chunk's text to index.
type Entry struct {
	ChunkID string
	Text    string
}

// Upsert replaces the indexed terms for each chunk. Delete-then-insert keeps
// the row consistent with the latest text even when the tokenizer changes.
func (ix *Index) Upsert(ctx context.Context, entries []Entry) error {
	if len(entries) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, e := range entries {
		terms := strings.Join(Tokenize(e.Text), " ")
		batch.Queue(`DELETE FROM chunk_terms WHERE chunk_id = $1`, e.ChunkID)
		batch.Queue(`INSERT INTO chunk_terms (chunk_id, terms) VALUES ($1, $2)`, e.ChunkID, terms)
	}
	if err := ix.pool.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("upserting %d term rows: %w", len(entries), err)
	}
	return nil
}

// Search matches the query's terms against the index and returns up to topK
// candidates ranked by ts_rank. ts_rank is larger-is-better, so scores are
// used as-is. An empty tokenized query returns no candidates.
func (ix *Index) Search(ctx context.Context, query string, topK int) ([]model.Candidate, error) {
	terms := Tokenize(query)
	if len(terms) == 0 {
		return nil, nil
	}
	tsquery := strings.Join(terms, " | ")

	rows, err := ix.pool.Query(ctx, `
		SELECT chunk_id, ts_rank(tsv, to_tsquery('simple', $1)) AS score
		FROM chunk_terms
		WHERE tsv @@ to_tsquery('simple', $1)
		ORDER BY score DESC, chunk_id ASC
		LIMIT $2`,
		tsquery, topK)
	if err != nil {
		return nil, fmt.Errorf("sparse search: %w", err)
	}
	defer rows.Close()

	var out []model.Candidate
	for rows.Next() {
		var c model.Candidate
		if err := rows.Scan(&c.ChunkID, &c.Score); err != nil {
			return nil, fmt.Errorf("scanning sparse candidate: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sparse search: %w", err)
	}
	return out, nil
}

// Delete removes the term rows for the given chunks. Missing rows are fine.
func (ix *Index) Delete(ctx context.Context, chunkIDs []string) error {
	if len(chunkIDs) == 0 {
		return nil
	}
	_, err := ix.pool.Exec(ctx,
		`DELETE FROM chunk_terms WHERE chunk_id = ANY($1)`, chunkIDs)
	if err != nil {
		return fmt.Errorf("deleting %d term rows: %w", len(chunkIDs), err)
	}
	return nil
}

// Tokenize splits text into lowercase ASCII word runs ([0-9A-Za-z_]+) and
// CJK ideograph runs. Everything else separates tokens. Intentionally
// conservative: no stemming, no stopwords, no unicode word segmentation.
func Tokenize(text string) []string {
	var tokens []string
	var run []rune
	var runKind int // 0 none, 1 ascii word, 2 cjk

	flush := func() {
		if len(run) > 0 {
			tokens = append(tokens, string(run))
			run = run[:0]
		}
		runKind = 0
	}

	for _, r := range text {
		switch {
		case isASCIIWord(r):
			if runKind != 1 {
				flush()
				runKind = 1
			}
			run = append(run, lowerASCII(r))
		case isCJK(r):
			if runKind != 2 {
				flush()
				runKind = 2
			}
			run = append(run, r)
		default:
			flush()
		}
	}
	flush()
	return tokens
}

func isASCIIWord(r rune) bool {
	return r == '_' ||
		(r >= '0' && r <= '9') ||
		(r >= 'a' && r <= 'z') ||
		(r >= 'A' && r <= 'Z')
}

func isCJK(r rune) bool {
	return r >= 0x4e00 && r <= 0x9fff
}

func lowerASCII(r rune) rune {
	if r >= 'A' && r <= 'Z' {
		return r + ('a' - 'A')
	}
	return r
}
