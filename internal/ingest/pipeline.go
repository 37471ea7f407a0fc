// Package ingest implements the document ingestion pipeline: dedup gate,
// structural decomposition, embedding, and the fan-out upsert across the
// content, metadata, dense and sparse stores.
package ingest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/quarrylabs/quarry/internal/dense"
	"github.com/quarrylabs/quarry/internal/embedding"
	"github.com/quarrylabs/quarry/internal/log"
	"github.com/quarrylabs/quarry/internal/model"
	"github.com/quarrylabs/quarry/internal/pipeline"
	"github.com/quarrylabs/quarry/internal/sparse"
	"github.com/quarrylabs/quarry/internal/textnorm"
	"github.com/quarrylabs/quarry/internal/trace"
)

// MetadataStore is the slice of the metadata store the pipeline writes.
type MetadataStore interface {
	versionFinder
	UpsertDocument(ctx context.Context, doc model.Document) error
	InsertVersion(ctx context.Context, v model.DocVersion) error
	SetVersionStatus(ctx context.Context, versionID, status string) error
	UpsertChunks(ctx context.Context, chunks []model.Chunk) error
	UpsertAsset(ctx context.Context, a model.Asset) error
	UpsertAssetRef(ctx context.Context, r model.AssetRef) error
	UpsertChunkAssets(ctx context.Context, links []model.ChunkAsset) error
}

// BlobStore is the slice of the content store the pipeline writes.
type BlobStore interface {
	WriteRaw(data []byte, ext string) (sha, path string, err error)
	WriteNormalized(docID, versionID string, data []byte) (string, error)
	WriteAsset(data []byte, ext string) (assetID, path string, err error)
}

// DenseIndex receives chunk embeddings.
type DenseIndex interface {
	Upsert(ctx context.Context, embedderID string, entries []dense.Entry) error
}

// SparseIndex receives chunk text for lexical indexing.
type SparseIndex interface {
	Upsert(ctx context.Context, entries []sparse.Entry) error
}

// Options configure a Pipeline.
type Options struct {
	Policy       string // dedup policy, default PolicySkip
	ProfileID    string // canonicalization profile, default textnorm.DefaultProfileID
	ViewTemplate string // retrieval view, default ViewFactsOnly
	Sectioner    SectionerOptions
	Chunker      ChunkerOptions
}

// Pipeline ingests one document per Run call. Safe for concurrent use; all
// state lives in the stores.
type Pipeline struct {
	loader   Loader
	meta     MetadataStore
	blobs    BlobStore
	dense    DenseIndex
	sparse   SparseIndex
	embedder embedding.Embedder
	emitter  trace.Emitter
	logger   log.Logger
	opts     Options
}

// NewPipeline wires an ingestion pipeline. A nil emitter disables events.
func NewPipeline(loader Loader, meta MetadataStore, blobs BlobStore, denseIx DenseIndex,
	sparseIx SparseIndex, embedder embedding.Embedder, emitter trace.Emitter,
	logger log.Logger, opts Options) *Pipeline {

	if emitter == nil {
		emitter = trace.NopEmitter{}
	}
	if opts.Policy == "" {
		opts.Policy = PolicySkip
	}
	if opts.ProfileID == "" {
		opts.ProfileID = textnorm.DefaultProfileID
	}
	if opts.ViewTemplate == "" {
		opts.ViewTemplate = ViewFactsOnly
	}
	if opts.Sectioner.PreamblePolicy == "" {
		opts.Sectioner = DefaultSectionerOptions()
	}
	return &Pipeline{
		loader:   loader,
		meta:     meta,
		blobs:    blobs,
		dense:    denseIx,
		sparse:   sparseIx,
		embedder: embedder,
		emitter:  emitter,
		logger:   logger.With("component", "ingest"),
		opts:     opts,
	}
}

// Result is the machine-readable outcome of one ingestion.
type Result struct {
	Status     string `json:"status"` // "indexed" or "skipped"
	Decision   string `json:"decision"`
	DocID      string `json:"doc_id"`
	VersionID  string `json:"version_id"`
	FileSHA256 string `json:"file_sha256"`
	ChunkCount int    `json:"chunk_count"`
	AssetCount int    `json:"asset_count"`
	CacheHits  int    `json:"cache_hits"`
	CacheMiss  int    `json:"cache_misses"`
}

// Run ingests the document at sourceURI. The fan-out writes in fixed order
// (content blob, metadata, dense, sparse) and the version status flips to
// indexed only after every store has been written; a partial failure leaves
// the version pending and a continue-policy re-run repairs it.
func (p *Pipeline) Run(ctx context.Context, sourceURI string) (*Result, error) {
	if sourceURI == "" {
		return nil, &pipeline.StageError{Stage: "load",
			Err: fmt.Errorf("%w: empty source URI", pipeline.ErrValidation)}
	}
	if !textnorm.Known(p.opts.ProfileID) {
		return nil, &pipeline.StageError{Stage: "load",
			Err: fmt.Errorf("%w: unknown profile %q", pipeline.ErrValidation, p.opts.ProfileID)}
	}

	var doc *LoadedDoc
	err := pipeline.Run(ctx, p.emitter, "load", func(ctx context.Context) error {
		var err error
		doc, err = p.loader.Load(ctx, sourceURI)
		if err != nil {
			return fmt.Errorf("%w: %w", pipeline.ErrNotFound, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	fileSHA := hashBytes(doc.Raw)
	res := &Result{FileSHA256: fileSHA}

	var dec Decision
	err = pipeline.Run(ctx, p.emitter, "dedup", func(ctx context.Context) error {
		var err error
		dec, err = Decide(ctx, p.meta, fileSHA, p.opts.Policy)
		if err != nil {
			return fmt.Errorf("%w: %w", pipeline.ErrStorage, err)
		}
		p.emitter.Emit(ctx, trace.EventDedupDecision, map[string]any{
			"decision":    dec.Action,
			"file_sha256": fileSHA,
			"policy":      p.opts.Policy,
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	res.Decision = dec.Action

	if dec.Action == DecisionSkip {
		res.Status = "skipped"
		res.DocID = dec.Existing.DocID
		res.VersionID = dec.Existing.VersionID
		p.logger.Info("ingestion skipped, content already indexed",
			"doc_id", res.DocID, "version_id", res.VersionID)
		return res, nil
	}

	switch dec.Action {
	case DecisionNew:
		res.DocID = NewDocID()
		res.VersionID = NewVersionID()
	case DecisionNewVersion:
		res.DocID = dec.Existing.DocID
		res.VersionID = NewVersionID()
	case DecisionContinue:
		res.DocID = dec.Existing.DocID
		res.VersionID = dec.Existing.VersionID
	}

	normalized := textnorm.NormalizeDocument(doc.Text)

	// Stage store: content blobs first, then the metadata rows that point at
	// them.
	err = pipeline.Run(ctx, p.emitter, "store", func(ctx context.Context) error {
		_, rawPath, err := p.blobs.WriteRaw(doc.Raw, doc.Ext)
		if err != nil {
			return fmt.Errorf("%w: %w", pipeline.ErrStorage, err)
		}
		normPath, err := p.blobs.WriteNormalized(res.DocID, res.VersionID, []byte(normalized))
		if err != nil {
			return fmt.Errorf("%w: %w", pipeline.ErrStorage, err)
		}

		if err := p.meta.UpsertDocument(ctx, model.Document{
			DocID:     res.DocID,
			SourceURI: sourceURI,
			Title:     doc.Title,
		}); err != nil {
			return fmt.Errorf("%w: %w", pipeline.ErrStorage, err)
		}
		if err := p.meta.InsertVersion(ctx, model.DocVersion{
			VersionID:         res.VersionID,
			DocID:             res.DocID,
			FileSHA256:        fileSHA,
			TextNormProfileID: p.opts.ProfileID,
			Status:            model.StatusPending,
			RawPath:           rawPath,
			NormalizedPath:    normPath,
		}); err != nil {
			return fmt.Errorf("%w: %w", pipeline.ErrStorage, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	var assetIDs []string
	var enrichment []string
	err = pipeline.Run(ctx, p.emitter, "assets", func(ctx context.Context) error {
		seen := make(map[string]bool, len(doc.Assets))
		for i, a := range doc.Assets {
			assetID, path, err := p.blobs.WriteAsset(a.Bytes, a.Ext)
			if err != nil {
				return fmt.Errorf("%w: %w", pipeline.ErrStorage, err)
			}
			if err := p.meta.UpsertAsset(ctx, model.Asset{
				AssetID:   assetID,
				Ext:       a.Ext,
				MediaType: a.MediaType,
				SizeBytes: int64(len(a.Bytes)),
				Path:      path,
			}); err != nil {
				return fmt.Errorf("%w: %w", pipeline.ErrStorage, err)
			}
			refID := a.RefID
			if refID == "" {
				refID = RefID(res.VersionID, a.OriginRef, i)
			}
			if err := p.meta.UpsertAssetRef(ctx, model.AssetRef{
				RefID:      refID,
				AssetID:    assetID,
				DocID:      res.DocID,
				VersionID:  res.VersionID,
				SourceType: a.SourceType,
				OriginRef:  a.OriginRef,
				Anchor:     a.Anchor,
			}); err != nil {
				return fmt.Errorf("%w: %w", pipeline.ErrStorage, err)
			}
			// Content addressing dedupes repeated references to one asset.
			if !seen[assetID] {
				seen[assetID] = true
				assetIDs = append(assetIDs, assetID)
			}
			if a.Enrichment != "" {
				enrichment = append(enrichment, a.Enrichment)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	res.AssetCount = len(assetIDs)

	var chunks []model.Chunk
	var views []string
	err = pipeline.Run(ctx, p.emitter, "split", func(ctx context.Context) error {
		sections := SplitSections(normalized, p.opts.Sectioner)
		for _, sec := range sections {
			sectionID := SectionID(res.DocID, sec.Path, sec.Ordinal)
			for i, piece := range SplitChunks(sec.Text, p.opts.Chunker) {
				fingerprint, err := textnorm.ContentHash(piece.Text, p.opts.ProfileID)
				if err != nil {
					return fmt.Errorf("%w: %w", pipeline.ErrValidation, err)
				}
				chunks = append(chunks, model.Chunk{
					ChunkID:     ChunkID(sectionID, fingerprint),
					VersionID:   res.VersionID,
					DocID:       res.DocID,
					SectionID:   sectionID,
					SectionPath: sec.Path,
					Ordinal:     i + 1,
					Body:        piece.Text,
					AssetIDs:    ExtractAssetIDs(piece.Text),
					Fingerprint: fingerprint,
					CharStart:   piece.Start,
					CharEnd:     piece.End,
				})
				views = append(views, RenderView(p.opts.ViewTemplate, ViewInput{
					Heading:    sec.Heading,
					Body:       piece.Text,
					Enrichment: enrichment,
				}))
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	res.ChunkCount = len(chunks)

	var vectors [][]float32
	err = pipeline.Run(ctx, p.emitter, "embed", func(ctx context.Context) error {
		if len(views) == 0 {
			return nil
		}
		if ce, ok := p.embedder.(*embedding.CachedEmbedder); ok {
			vecs, stats, err := ce.EmbedWithStats(ctx, views)
			if err != nil {
				return fmt.Errorf("%w: %w", pipeline.ErrProvider, err)
			}
			vectors = vecs
			res.CacheHits, res.CacheMiss = stats.Hits, stats.Misses
			return nil
		}
		vecs, err := p.embedder.Embed(ctx, views)
		if err != nil {
			return fmt.Errorf("%w: %w", pipeline.ErrProvider, err)
		}
		vectors = vecs
		return nil
	})
	if err != nil {
		return nil, err
	}

	// Fan-out: metadata rows, then dense, then sparse, then the status flip.
	err = pipeline.Run(ctx, p.emitter, "index", func(ctx context.Context) error {
		if err := p.meta.UpsertChunks(ctx, chunks); err != nil {
			return fmt.Errorf("%w: %w", pipeline.ErrStorage, err)
		}

		// Chunk-asset links come from asset:// mentions in each chunk's
		// text, resolved against the assets registered for this version.
		registered := make(map[string]bool, len(assetIDs))
		for _, id := range assetIDs {
			registered[id] = true
		}
		var links []model.ChunkAsset
		for _, c := range chunks {
			for _, assetID := range c.AssetIDs {
				if registered[assetID] {
					links = append(links, model.ChunkAsset{ChunkID: c.ChunkID, AssetID: assetID})
				}
			}
		}
		if len(links) > 0 {
			if err := p.meta.UpsertChunkAssets(ctx, links); err != nil {
				return fmt.Errorf("%w: %w", pipeline.ErrStorage, err)
			}
		}

		denseEntries := make([]dense.Entry, len(chunks))
		for i, c := range chunks {
			denseEntries[i] = dense.Entry{ChunkID: c.ChunkID, Embedding: vectors[i]}
		}
		if err := p.dense.Upsert(ctx, p.embedder.ID(), denseEntries); err != nil {
			return fmt.Errorf("%w: %w", pipeline.ErrStorage, err)
		}

		sparseEntries := make([]sparse.Entry, len(chunks))
		for i, c := range chunks {
			sparseEntries[i] = sparse.Entry{ChunkID: c.ChunkID, Text: views[i]}
		}
		if err := p.sparse.Upsert(ctx, sparseEntries); err != nil {
			return fmt.Errorf("%w: %w", pipeline.ErrStorage, err)
		}

		if err := p.meta.SetVersionStatus(ctx, res.VersionID, model.StatusIndexed); err != nil {
			return fmt.Errorf("%w: %w", pipeline.ErrStorage, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	res.Status = model.StatusIndexed
	p.logger.Info("document indexed",
		"doc_id", res.DocID,
		"version_id", res.VersionID,
		"chunks", res.ChunkCount,
		"assets", res.AssetCount,
		"decision", res.Decision)
	return res, nil
}

func hashBytes(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
