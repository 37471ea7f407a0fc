package ingest

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/quarrylabs/quarry/internal/model"
)

// Digest returns a fingerprint over an entire decomposition: the ordered
// chunk IDs hashed together. Two ingestions of equivalent content produce
// the same digest, which is what determinism checks compare.
func Digest(chunks []model.Chunk) string {
	h := sha256.New()
	for _, c := range chunks {
		h.Write([]byte(c.ChunkID))
		h.Write([]byte{'\n'})
	}
	return hex.EncodeToString(h.Sum(nil))
}
