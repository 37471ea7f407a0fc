package embedding

import (
	"context"
	"hash/fnv"
	"math"

	"github.com/quarrylabs/quarry/internal/sparse"
)

// HashEmbedder is a deterministic feature-hashing bag-of-words embedder.
// It needs no model or network, which makes it the development and test
// default: identical text always yields the identical unit vector.
type HashEmbedder struct {
	dim int
}

// NewHashEmbedder returns a hash embedder with the given output dimension.
func NewHashEmbedder(dim int) *HashEmbedder {
	if dim < 1 {
		dim = 64
	}
	return &HashEmbedder{dim: dim}
}

// ID identifies the provider in cache keys and vector rows.
func (h *HashEmbedder) ID() string { return "hash-bow" }

// Version changes whenever the hashing scheme changes.
func (h *HashEmbedder) Version() string { return "1" }

// Dimension returns the output vector length.
func (h *HashEmbedder) Dimension() int { return h.dim }

// Embed maps each text to an L2-normalized term-frequency vector. Tokens
// share the sparse index tokenizer so lexical and dense views agree on what
// a term is.
func (h *HashEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		out[i] = h.embedOne(text)
	}
	return out, nil
}

func (h *HashEmbedder) embedOne(text string) []float32 {
	vec := make([]float32, h.dim)
	for _, token := range sparse.Tokenize(text) {
		hasher := fnv.New64a()
		_, _ = hasher.Write([]byte(token))
		sum := hasher.Sum64()
		bucket := int(sum % uint64(h.dim))
		// The bit above the bucket decides the sign, spreading collisions.
		sign := float32(1)
		if (sum>>63)&1 == 1 {
			sign = -1
		}
		vec[bucket] += sign
	}

	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm > 0 {
		inv := float32(1 / math.Sqrt(norm))
		for i := range vec {
			vec[i] *= inv
		}
	}
	return vec
}
