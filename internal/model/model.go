// Package model defines the domain types shared by the stores and pipelines.
//
// The stores (metadata, dense, sparse, blob) exchange these types; pipeline
// packages define their own request/result types and consumer interfaces on
// top of them.
package model

import "time"

// Version lifecycle states.
const (
	StatusPending = "pending"
	StatusIndexed = "indexed"
	StatusDeleted = "deleted"
)

// Document is the logical document identity. Versions hang off it.
type Document struct {
	DocID     string
	SourceURI string
	Title     string
	CreatedAt time.Time
}

// DocVersion is one ingested revision of a document. FileSHA256 addresses the
// raw bytes; the dedup gate keys on it.
type DocVersion struct {
	VersionID         string
	DocID             string
	FileSHA256        string
	TextNormProfileID string
	Status            string
	RawPath           string
	NormalizedPath    string
	CreatedAt         time.Time
	DeletedAt         *time.Time
}

// Chunk is one indexed unit of text. ChunkID is derived from the section
// identity and the canonical-text fingerprint, so identical content in the
// same structural position always gets the same ID.
type Chunk struct {
	ChunkID     string
	VersionID   string
	DocID       string
	SectionID   string
	SectionPath string
	Ordinal     int // 1-based within the section
	Body        string
	AssetIDs    []string // assets mentioned as asset:// URIs in Body
	Fingerprint string
	CharStart   int
	CharEnd     int
}

// ChunkDetail is a chunk joined with the document context needed to build
// citations and to filter by version status.
type ChunkDetail struct {
	Chunk
	VersionStatus string
	SourceURI     string
	Title         string
}

// Asset is a stored binary referenced by one or more versions. AssetID is the
// hex sha256 of the bytes.
type Asset struct {
	AssetID   string
	Ext       string
	MediaType string
	SizeBytes int64
	Path      string
	CreatedAt time.Time
}

// AssetRef is one occurrence of an asset in a version's source: an image
// link, a PDF object. Many refs may resolve to the same asset; assets are
// garbage collected when their last ref disappears.
type AssetRef struct {
	RefID      string // stable per-occurrence id
	AssetID    string
	DocID      string
	VersionID  string
	SourceType string // e.g. "markdown_image"
	OriginRef  string // the reference as written in the source
	Anchor     string // position hint within the source
}

// ChunkAsset links a chunk to an asset mentioned in its text.
type ChunkAsset struct {
	ChunkID string
	AssetID string
}

// Candidate is a scored retrieval hit from one source. Scores are
// larger-is-better for every source by convention; sources with
// smaller-is-better native scores negate before returning.
type Candidate struct {
	ChunkID string
	Score   float64
}
