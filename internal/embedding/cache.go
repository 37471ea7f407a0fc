package embedding

import (
	"context"
	"fmt"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
)

// MemoryCache is an in-process Cache. Safe for concurrent use.
type MemoryCache struct {
	mu   sync.RWMutex
	vecs map[string][]float32
}

// NewMemoryCache returns an empty in-memory cache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{vecs: make(map[string][]float32)}
}

// Get returns the cached vectors for the keys that are present.
func (m *MemoryCache) Get(_ context.Context, keys []string) (map[string][]float32, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string][]float32)
	for _, k := range keys {
		if v, ok := m.vecs[k]; ok {
			out[k] = v
		}
	}
	return out, nil
}

// Put stores the vectors.
func (m *MemoryCache) Put(_ context.Context, vectors map[string][]float32) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for k, v := range vectors {
		m.vecs[k] = v
	}
	return nil
}

// Len returns the number of cached vectors.
func (m *MemoryCache) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.vecs)
}

// PGCache persists vectors in the embedding_cache table, so cache hits
// survive process restarts and are shared across hosts.
type PGCache struct {
	pool *pgxpool.Pool
}

// NewPGCache returns a cache backed by the shared pool.
func NewPGCache(pool *pgxpool.Pool) *PGCache {
	return &PGCache{pool: pool}
}

// Get returns the cached vectors for the keys that are present.
func (p *PGCache) Get(ctx context.Context, keys []string) (map[string][]float32, error) {
	if len(keys) == 0 {
		return map[string][]float32{}, nil
	}
	rows, err := p.pool.Query(ctx,
		`SELECT cache_key, embedding FROM embedding_cache WHERE cache_key = ANY($1)`, keys)
	if err != nil {
		return nil, fmt.Errorf("querying embedding cache: %w", err)
	}
	defer rows.Close()

	out := make(map[string][]float32)
	for rows.Next() {
		var key string
		var vec pgvector.Vector
		if err := rows.Scan(&key, &vec); err != nil {
			return nil, fmt.Errorf("scanning cached embedding: %w", err)
		}
		out[key] = vec.Slice()
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("querying embedding cache: %w", err)
	}
	return out, nil
}

// Put stores the vectors, keeping the existing row on key collision since
// identical keys imply identical vectors.
func (p *PGCache) Put(ctx context.Context, vectors map[string][]float32) error {
	if len(vectors) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for key, vec := range vectors {
		batch.Queue(`
			INSERT INTO embedding_cache (cache_key, embedding)
			VALUES ($1, $2)
			ON CONFLICT (cache_key) DO NOTHING`,
			key, pgvector.NewVector(vec))
	}
	if err := p.pool.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("writing embedding cache: %w", err)
	}
	return nil
}
