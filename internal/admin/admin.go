// Package admin implements version deletion: the reversible soft delete and
// the destructive hard delete with asset garbage collection.
//
// Hard delete runs a fixed sequence (dense, sparse, chunk-asset links,
// chunks, asset refs, version row, orphaned document, asset GC, blobs).
// Every step tolerates rows and files that are already gone, so an
// interrupted delete can simply be run again.
package admin

import (
	"context"
	"errors"
	"fmt"

	"github.com/quarrylabs/quarry/internal/log"
	"github.com/quarrylabs/quarry/internal/metadata"
	"github.com/quarrylabs/quarry/internal/model"
	"github.com/quarrylabs/quarry/internal/pipeline"
)

// MetadataStore is the slice of the metadata store deletion needs.
type MetadataStore interface {
	GetVersion(ctx context.Context, versionID string) (*model.DocVersion, error)
	MarkVersionDeleted(ctx context.Context, versionID string) error
	ListChunkIDs(ctx context.Context, versionID string) ([]string, error)
	ListAssetIDs(ctx context.Context, versionID string) ([]string, error)
	DeleteChunkAssetsByVersion(ctx context.Context, versionID string) error
	DeleteChunksByVersion(ctx context.Context, versionID string) (int, error)
	DeleteAssetRefsByVersion(ctx context.Context, versionID string) error
	CountAssetRefs(ctx context.Context, assetID string) (int, error)
	GetAsset(ctx context.Context, assetID string) (*model.Asset, error)
	DeleteAsset(ctx context.Context, assetID string) error
	DeleteVersion(ctx context.Context, versionID string) error
	CountVersions(ctx context.Context, docID string) (int, error)
	CountVersionsByFileHash(ctx context.Context, fileSHA256 string) (int, error)
	DeleteDocument(ctx context.Context, docID string) error
}

// BlobStore is the slice of the content store deletion needs.
type BlobStore interface {
	Remove(path string) error
	RemoveNormalized(docID, versionID string) error
	LockGC() (func(), error)
}

// DenseIndex deletes chunk vectors.
type DenseIndex interface {
	Delete(ctx context.Context, chunkIDs []string) error
}

// SparseIndex deletes chunk term rows.
type SparseIndex interface {
	Delete(ctx context.Context, chunkIDs []string) error
}

// Service executes deletions.
type Service struct {
	meta   MetadataStore
	blobs  BlobStore
	dense  DenseIndex
	sparse SparseIndex
	logger log.Logger
}

// NewService wires a deletion service.
func NewService(meta MetadataStore, blobs BlobStore, dense DenseIndex, sparse SparseIndex, logger log.Logger) *Service {
	return &Service{
		meta:   meta,
		blobs:  blobs,
		dense:  dense,
		sparse: sparse,
		logger: logger.With("component", "admin"),
	}
}

// Result statuses.
const (
	StatusDeleted        = "deleted"
	StatusAlreadyDeleted = "already_deleted"
	StatusDryRun         = "dry_run"
)

// Result is the machine-readable outcome of a delete call.
type Result struct {
	Status          string   `json:"status"`
	DocID           string   `json:"doc_id"`
	VersionID       string   `json:"version_id"`
	ChunkCount      int      `json:"chunk_count"`
	AssetCount      int      `json:"asset_count"`
	AssetsCollected int      `json:"assets_collected"`
	DocumentRemoved bool     `json:"document_removed"`
	Warnings        []string `json:"warnings,omitempty"`
}

// SoftDelete marks a version deleted so retrieval stops citing it. The data
// stays in every store and the call is idempotent. With dryRun it only
// reports what would be affected.
func (s *Service) SoftDelete(ctx context.Context, versionID string, dryRun bool) (*Result, error) {
	v, err := s.meta.GetVersion(ctx, versionID)
	if errors.Is(err, metadata.ErrNotFound) {
		return nil, fmt.Errorf("%w: version %s", pipeline.ErrNotFound, versionID)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %w", pipeline.ErrStorage, err)
	}

	res, err := s.preview(ctx, v)
	if err != nil {
		return nil, err
	}
	if dryRun {
		res.Status = StatusDryRun
		return res, nil
	}
	if v.Status == model.StatusDeleted {
		res.Status = StatusAlreadyDeleted
		return res, nil
	}

	if err := s.meta.MarkVersionDeleted(ctx, versionID); err != nil {
		return nil, fmt.Errorf("%w: %w", pipeline.ErrStorage, err)
	}
	res.Status = StatusDeleted
	s.logger.Info("version soft-deleted", "version_id", versionID, "doc_id", v.DocID)
	return res, nil
}

// HardDelete removes a version from every store and garbage collects assets
// that lost their last reference. Re-runnable: each step tolerates state a
// previous attempt already removed.
func (s *Service) HardDelete(ctx context.Context, versionID string, dryRun bool) (*Result, error) {
	v, err := s.meta.GetVersion(ctx, versionID)
	if errors.Is(err, metadata.ErrNotFound) {
		return nil, fmt.Errorf("%w: version %s", pipeline.ErrNotFound, versionID)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %w", pipeline.ErrStorage, err)
	}

	res, err := s.preview(ctx, v)
	if err != nil {
		return nil, err
	}
	if dryRun {
		res.Status = StatusDryRun
		return res, nil
	}

	chunkIDs, err := s.meta.ListChunkIDs(ctx, versionID)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", pipeline.ErrStorage, err)
	}
	assetIDs, err := s.meta.ListAssetIDs(ctx, versionID)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", pipeline.ErrStorage, err)
	}

	// Indexes first: once vectors and terms are gone the chunks cannot be
	// retrieved, whatever happens to the rest of the sequence.
	if err := s.dense.Delete(ctx, chunkIDs); err != nil {
		return nil, fmt.Errorf("%w: deleting vectors: %w", pipeline.ErrStorage, err)
	}
	if err := s.sparse.Delete(ctx, chunkIDs); err != nil {
		return nil, fmt.Errorf("%w: deleting terms: %w", pipeline.ErrStorage, err)
	}

	if err := s.meta.DeleteChunkAssetsByVersion(ctx, versionID); err != nil {
		return nil, fmt.Errorf("%w: %w", pipeline.ErrStorage, err)
	}
	if _, err := s.meta.DeleteChunksByVersion(ctx, versionID); err != nil {
		return nil, fmt.Errorf("%w: %w", pipeline.ErrStorage, err)
	}
	if err := s.meta.DeleteAssetRefsByVersion(ctx, versionID); err != nil {
		return nil, fmt.Errorf("%w: %w", pipeline.ErrStorage, err)
	}
	if err := s.meta.DeleteVersion(ctx, versionID); err != nil {
		return nil, fmt.Errorf("%w: %w", pipeline.ErrStorage, err)
	}

	// Asset GC under the lock so concurrent deletes agree on refcounts.
	collected, err := s.collectAssets(ctx, assetIDs, res)
	if err != nil {
		return nil, err
	}
	res.AssetsCollected = collected

	remaining, err := s.meta.CountVersions(ctx, v.DocID)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", pipeline.ErrStorage, err)
	}
	if remaining == 0 {
		if err := s.meta.DeleteDocument(ctx, v.DocID); err != nil {
			return nil, fmt.Errorf("%w: %w", pipeline.ErrStorage, err)
		}
		res.DocumentRemoved = true
	}

	if err := s.blobs.RemoveNormalized(v.DocID, versionID); err != nil {
		res.Warnings = append(res.Warnings, "normalized blob removal: "+err.Error())
	}
	// The raw blob is shared by every version of the same bytes.
	sharing, err := s.meta.CountVersionsByFileHash(ctx, v.FileSHA256)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", pipeline.ErrStorage, err)
	}
	if sharing == 0 {
		if err := s.blobs.Remove(v.RawPath); err != nil {
			res.Warnings = append(res.Warnings, "raw blob removal: "+err.Error())
		}
	}

	res.Status = StatusDeleted
	s.logger.Info("version hard-deleted",
		"version_id", versionID,
		"doc_id", v.DocID,
		"chunks", res.ChunkCount,
		"assets_collected", res.AssetsCollected,
		"document_removed", res.DocumentRemoved)
	return res, nil
}

// collectAssets removes asset rows and blob files for assets whose refcount
// dropped to zero.
func (s *Service) collectAssets(ctx context.Context, assetIDs []string, res *Result) (int, error) {
	if len(assetIDs) == 0 {
		return 0, nil
	}
	release, err := s.blobs.LockGC()
	if err != nil {
		return 0, fmt.Errorf("%w: %w", pipeline.ErrStorage, err)
	}
	defer release()

	collected := 0
	for _, assetID := range assetIDs {
		refs, err := s.meta.CountAssetRefs(ctx, assetID)
		if err != nil {
			return collected, fmt.Errorf("%w: %w", pipeline.ErrStorage, err)
		}
		if refs > 0 {
			continue
		}
		asset, err := s.meta.GetAsset(ctx, assetID)
		if errors.Is(err, metadata.ErrNotFound) {
			continue // a previous attempt already collected it
		}
		if err != nil {
			return collected, fmt.Errorf("%w: %w", pipeline.ErrStorage, err)
		}
		if err := s.meta.DeleteAsset(ctx, assetID); err != nil {
			return collected, fmt.Errorf("%w: %w", pipeline.ErrStorage, err)
		}
		if err := s.blobs.Remove(asset.Path); err != nil {
			res.Warnings = append(res.Warnings, "asset blob removal: "+err.Error())
		}
		collected++
	}
	return collected, nil
}

// preview fills the counts a dry run reports and a real run echoes.
func (s *Service) preview(ctx context.Context, v *model.DocVersion) (*Result, error) {
	chunkIDs, err := s.meta.ListChunkIDs(ctx, v.VersionID)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", pipeline.ErrStorage, err)
	}
	assetIDs, err := s.meta.ListAssetIDs(ctx, v.VersionID)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", pipeline.ErrStorage, err)
	}
	return &Result{
		DocID:      v.DocID,
		VersionID:  v.VersionID,
		ChunkCount: len(chunkIDs),
		AssetCount: len(assetIDs),
	}, nil
}
