package query

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"

	"github.com/quarrylabs/quarry/internal/model"
)

// DefaultFusionK is the standard reciprocal-rank-fusion constant.
const DefaultFusionK = 60

// NormalizeQuery collapses runs of whitespace to single spaces and trims the
// ends. Retrieval and the query hash both work on this form, so logs and
// caches agree on what was asked.
func NormalizeQuery(text string) string {
	return strings.Join(strings.Fields(text), " ")
}

// QueryHash is the hex sha256 of the normalized query, carried through
// events and responses for correlation.
func QueryHash(normalized string) string {
	sum := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:])
}

// RRF fuses rankings with reciprocal rank fusion: each source contributes
// 1/(k+rank) per candidate, rank 1-based. Ties break by score descending,
// then chunk ID ascending, so the fused order is total and deterministic.
type RRF struct {
	K int
}

// NewRRF returns an RRF fuser; k < 1 falls back to DefaultFusionK.
func NewRRF(k int) *RRF {
	if k < 1 {
		k = DefaultFusionK
	}
	return &RRF{K: k}
}

// Fuse merges the per-source rankings. With fewer than two non-empty sources
// it degrades to a stable passthrough: first-source order kept, later
// sources appended for chunks not yet present.
func (r *RRF) Fuse(perSource [][]model.Candidate) []model.Candidate {
	nonEmpty := 0
	for _, src := range perSource {
		if len(src) > 0 {
			nonEmpty++
		}
	}
	if nonEmpty < 2 {
		return passthrough(perSource)
	}

	scores := make(map[string]float64)
	order := make([]string, 0)
	for _, src := range perSource {
		for rank, c := range src {
			if _, seen := scores[c.ChunkID]; !seen {
				order = append(order, c.ChunkID)
			}
			scores[c.ChunkID] += 1.0 / float64(r.K+rank+1)
		}
	}

	out := make([]model.Candidate, 0, len(order))
	for _, id := range order {
		out = append(out, model.Candidate{ChunkID: id, Score: scores[id]})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].ChunkID < out[j].ChunkID
	})
	return out
}

// passthrough keeps the first non-empty source's order and appends unseen
// candidates from the remaining sources in their own order.
func passthrough(perSource [][]model.Candidate) []model.Candidate {
	seen := make(map[string]bool)
	var out []model.Candidate
	for _, src := range perSource {
		for _, c := range src {
			if seen[c.ChunkID] {
				continue
			}
			seen[c.ChunkID] = true
			out = append(out, c)
		}
	}
	return out
}
