package ingest

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"unicode/utf8"
)

// LoadedAsset is one asset occurrence extracted from a source document. The
// same bytes appearing twice produce two occurrences that resolve to one
// stored asset.
type LoadedAsset struct {
	Bytes     []byte
	Ext       string
	MediaType string

	// RefID is a stable per-occurrence reference id. Loaders that cannot
	// name their references leave it empty and the pipeline derives one.
	RefID string

	// SourceType names the kind of reference, e.g. "markdown_image".
	SourceType string

	// OriginRef is the reference as written in the source (a link URL, a
	// PDF object number).
	OriginRef string

	// Anchor locates the occurrence within the source (line, page).
	Anchor string

	// Enrichment is searchable text describing the asset (a caption, OCR
	// output). It flows into the facts_plus_enrich retrieval view.
	Enrichment string
}

// LoadedDoc is a source document converted to plain text plus its assets.
// Raw holds the original file bytes; the dedup gate and the raw blob are
// keyed on their hash, not on the extracted text.
type LoadedDoc struct {
	Raw    []byte
	Text   string
	Title  string
	Ext    string
	Assets []LoadedAsset
}

// Loader converts a source location into text and assets. Format-specific
// parsers (markdown with images, PDF) plug in here; the pipeline itself never
// inspects source bytes.
type Loader interface {
	Load(ctx context.Context, sourceURI string) (*LoadedDoc, error)
}

// TextLoader reads a local UTF-8 text file verbatim with no asset extraction.
type TextLoader struct{}

// Load reads the file at sourceURI.
func (TextLoader) Load(_ context.Context, sourceURI string) (*LoadedDoc, error) {
	data, err := os.ReadFile(sourceURI)
	if err != nil {
		return nil, fmt.Errorf("reading source file: %w", err)
	}
	if !utf8.Valid(data) {
		return nil, fmt.Errorf("source file %s is not valid UTF-8", sourceURI)
	}

	ext := filepath.Ext(sourceURI)
	title := filepath.Base(sourceURI)
	if ext != "" {
		title = title[:len(title)-len(ext)]
	}
	return &LoadedDoc{
		Raw:   data,
		Text:  string(data),
		Title: title,
		Ext:   ext,
	}, nil
}
