package ingest

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// NewDocID mints an opaque document identifier.
func NewDocID() string {
	return "doc_" + strings.ReplaceAll(uuid.NewString(), "-", "")
}

// NewVersionID mints an opaque version identifier.
func NewVersionID() string {
	return "ver_" + strings.ReplaceAll(uuid.NewString(), "-", "")
}

// SectionID derives the deterministic section identifier from the document,
// the breadcrumb path and the section's document-order ordinal. The ordinal
// keeps repeated headings distinct.
func SectionID(docID, sectionPath string, ordinal int) string {
	sum := sha256.Sum256(fmt.Appendf(nil, "%s|%s|%d", docID, sectionPath, ordinal))
	return "sec_" + hex.EncodeToString(sum[:])
}

// RefID derives a stable per-occurrence asset reference id for loaders that
// do not supply one. The occurrence index keeps repeated identical references
// in one version distinct.
func RefID(versionID, originRef string, index int) string {
	sum := sha256.Sum256(fmt.Appendf(nil, "%s|%s|%d", versionID, originRef, index))
	return "ref_" + hex.EncodeToString(sum[:])
}

// ChunkID derives the deterministic chunk identifier from its section and the
// fingerprint of its canonical text. Identical content in the same structural
// position always maps to the same chunk ID.
func ChunkID(sectionID, fingerprint string) string {
	sum := sha256.Sum256([]byte(sectionID + "|" + fingerprint))
	return "chk_" + hex.EncodeToString(sum[:])
}
