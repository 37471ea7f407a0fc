package admin

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/quarrylabs/quarry/internal/log"
	"github.com/quarrylabs/quarry/internal/metadata"
	"github.com/quarrylabs/quarry/internal/model"
	"github.com/quarrylabs/quarry/internal/pipeline"
)

type fakeMeta struct {
	versions    map[string]*model.DocVersion
	docs        map[string]bool
	chunks      map[string][]string // versionID -> chunk IDs
	assets      map[string]*model.Asset
	assetRefs   []model.AssetRef
	chunkAssets map[string][]string // versionID -> asset IDs linked to chunks
	writes      int
}

func newFakeMeta() *fakeMeta {
	return &fakeMeta{
		versions:    map[string]*model.DocVersion{},
		docs:        map[string]bool{},
		chunks:      map[string][]string{},
		assets:      map[string]*model.Asset{},
		chunkAssets: map[string][]string{},
	}
}

func (m *fakeMeta) GetVersion(_ context.Context, versionID string) (*model.DocVersion, error) {
	v, ok := m.versions[versionID]
	if !ok {
		return nil, metadata.ErrNotFound
	}
	cp := *v
	return &cp, nil
}

func (m *fakeMeta) MarkVersionDeleted(_ context.Context, versionID string) error {
	m.writes++
	v, ok := m.versions[versionID]
	if !ok {
		return metadata.ErrNotFound
	}
	v.Status = model.StatusDeleted
	if v.DeletedAt == nil {
		now := time.Now()
		v.DeletedAt = &now
	}
	return nil
}

func (m *fakeMeta) ListChunkIDs(_ context.Context, versionID string) ([]string, error) {
	return m.chunks[versionID], nil
}

func (m *fakeMeta) ListAssetIDs(_ context.Context, versionID string) ([]string, error) {
	var out []string
	for _, ref := range m.assetRefs {
		if ref.VersionID == versionID {
			out = append(out, ref.AssetID)
		}
	}
	return out, nil
}

func (m *fakeMeta) DeleteChunkAssetsByVersion(_ context.Context, versionID string) error {
	m.writes++
	delete(m.chunkAssets, versionID)
	return nil
}

func (m *fakeMeta) DeleteChunksByVersion(_ context.Context, versionID string) (int, error) {
	m.writes++
	n := len(m.chunks[versionID])
	delete(m.chunks, versionID)
	return n, nil
}

func (m *fakeMeta) DeleteAssetRefsByVersion(_ context.Context, versionID string) error {
	m.writes++
	kept := m.assetRefs[:0]
	for _, ref := range m.assetRefs {
		if ref.VersionID != versionID {
			kept = append(kept, ref)
		}
	}
	m.assetRefs = kept
	return nil
}

func (m *fakeMeta) CountAssetRefs(_ context.Context, assetID string) (int, error) {
	n := 0
	for _, ref := range m.assetRefs {
		if ref.AssetID == assetID {
			n++
		}
	}
	return n, nil
}

func (m *fakeMeta) GetAsset(_ context.Context, assetID string) (*model.Asset, error) {
	a, ok := m.assets[assetID]
	if !ok {
		return nil, metadata.ErrNotFound
	}
	return a, nil
}

func (m *fakeMeta) DeleteAsset(_ context.Context, assetID string) error {
	m.writes++
	delete(m.assets, assetID)
	return nil
}

func (m *fakeMeta) DeleteVersion(_ context.Context, versionID string) error {
	m.writes++
	delete(m.versions, versionID)
	return nil
}

func (m *fakeMeta) CountVersions(_ context.Context, docID string) (int, error) {
	n := 0
	for _, v := range m.versions {
		if v.DocID == docID {
			n++
		}
	}
	return n, nil
}

func (m *fakeMeta) CountVersionsByFileHash(_ context.Context, fileSHA256 string) (int, error) {
	n := 0
	for _, v := range m.versions {
		if v.FileSHA256 == fileSHA256 {
			n++
		}
	}
	return n, nil
}

func (m *fakeMeta) DeleteDocument(_ context.Context, docID string) error {
	m.writes++
	delete(m.docs, docID)
	return nil
}

type fakeBlobs struct {
	removed           []string
	removedNormalized []string
	locked            int
}

func (b *fakeBlobs) Remove(path string) error {
	b.removed = append(b.removed, path)
	return nil
}

func (b *fakeBlobs) RemoveNormalized(docID, versionID string) error {
	b.removedNormalized = append(b.removedNormalized, docID+"/"+versionID)
	return nil
}

func (b *fakeBlobs) LockGC() (func(), error) {
	b.locked++
	return func() {}, nil
}

type fakeIndex struct {
	deleted []string
	fail    error
}

func (f *fakeIndex) Delete(_ context.Context, chunkIDs []string) error {
	if f.fail != nil {
		return f.fail
	}
	f.deleted = append(f.deleted, chunkIDs...)
	return nil
}

type adminRig struct {
	meta   *fakeMeta
	blobs  *fakeBlobs
	dense  *fakeIndex
	sparse *fakeIndex
	svc    *Service
}

func newAdminRig() *adminRig {
	r := &adminRig{
		meta:   newFakeMeta(),
		blobs:  &fakeBlobs{},
		dense:  &fakeIndex{},
		sparse: &fakeIndex{},
	}
	r.svc = NewService(r.meta, r.blobs, r.dense, r.sparse, log.NewNop())
	return r
}

// seedVersion registers an indexed version with two chunks and no assets.
func (r *adminRig) seedVersion(docID, versionID, fileHash string) {
	r.meta.docs[docID] = true
	r.meta.versions[versionID] = &model.DocVersion{
		VersionID:  versionID,
		DocID:      docID,
		FileSHA256: fileHash,
		Status:     model.StatusIndexed,
		RawPath:    "/raw/" + fileHash + ".md",
	}
	r.meta.chunks[versionID] = []string{"chk_" + versionID + "_1", "chk_" + versionID + "_2"}
}

func (r *adminRig) seedAsset(assetID string, refs ...model.AssetRef) {
	r.meta.assets[assetID] = &model.Asset{AssetID: assetID, Path: "/assets/" + assetID + ".png"}
	r.meta.assetRefs = append(r.meta.assetRefs, refs...)
}

func TestSoftDelete(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	r := newAdminRig()
	r.seedVersion("doc_1", "ver_1", "hash1")

	res, err := r.svc.SoftDelete(ctx, "ver_1", false)
	if err != nil {
		t.Fatalf("SoftDelete() error: %v", err)
	}
	if res.Status != StatusDeleted || res.ChunkCount != 2 {
		t.Errorf("result = %+v", res)
	}
	if r.meta.versions["ver_1"].Status != model.StatusDeleted {
		t.Error("version status not updated")
	}
	firstDeletedAt := r.meta.versions["ver_1"].DeletedAt

	// Second call reports already deleted and does not touch the timestamp.
	res, err = r.svc.SoftDelete(ctx, "ver_1", false)
	if err != nil {
		t.Fatalf("second SoftDelete() error: %v", err)
	}
	if res.Status != StatusAlreadyDeleted {
		t.Errorf("status = %q", res.Status)
	}
	if r.meta.versions["ver_1"].DeletedAt != firstDeletedAt {
		t.Error("deleted_at changed on repeat")
	}
}

func TestSoftDeleteDryRun(t *testing.T) {
	t.Parallel()

	r := newAdminRig()
	r.seedVersion("doc_1", "ver_1", "hash1")

	res, err := r.svc.SoftDelete(context.Background(), "ver_1", true)
	if err != nil {
		t.Fatalf("SoftDelete() error: %v", err)
	}
	if res.Status != StatusDryRun || res.ChunkCount != 2 {
		t.Errorf("result = %+v", res)
	}
	if r.meta.writes != 0 {
		t.Errorf("dry run performed %d writes", r.meta.writes)
	}
	if r.meta.versions["ver_1"].Status != model.StatusIndexed {
		t.Error("dry run changed status")
	}
}

func TestDeleteUnknownVersion(t *testing.T) {
	t.Parallel()

	r := newAdminRig()
	if _, err := r.svc.SoftDelete(context.Background(), "ver_missing", false); !errors.Is(err, pipeline.ErrNotFound) {
		t.Errorf("SoftDelete error = %v, want not-found", err)
	}
	if _, err := r.svc.HardDelete(context.Background(), "ver_missing", false); !errors.Is(err, pipeline.ErrNotFound) {
		t.Errorf("HardDelete error = %v, want not-found", err)
	}
}

func TestHardDeleteRemovesEverything(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	r := newAdminRig()
	r.seedVersion("doc_1", "ver_1", "hash1")
	r.seedAsset("asset_a", model.AssetRef{RefID: "ref_1", AssetID: "asset_a", DocID: "doc_1", VersionID: "ver_1"})

	res, err := r.svc.HardDelete(ctx, "ver_1", false)
	if err != nil {
		t.Fatalf("HardDelete() error: %v", err)
	}
	if res.Status != StatusDeleted {
		t.Errorf("status = %q", res.Status)
	}
	if !res.DocumentRemoved {
		t.Error("orphaned document should be removed")
	}
	if res.AssetsCollected != 1 {
		t.Errorf("assets collected = %d", res.AssetsCollected)
	}
	if len(r.dense.deleted) != 2 || len(r.sparse.deleted) != 2 {
		t.Errorf("index deletions: dense=%d sparse=%d", len(r.dense.deleted), len(r.sparse.deleted))
	}
	if _, ok := r.meta.versions["ver_1"]; ok {
		t.Error("version row survived")
	}
	if r.meta.docs["doc_1"] {
		t.Error("document row survived")
	}
	if len(r.meta.assets) != 0 {
		t.Error("asset row survived")
	}
	if r.blobs.locked == 0 {
		t.Error("asset GC ran without the lock")
	}

	wantRemoved := map[string]bool{"/assets/asset_a.png": true, "/raw/hash1.md": true}
	for _, p := range r.blobs.removed {
		if !wantRemoved[p] {
			t.Errorf("unexpected blob removal %q", p)
		}
		delete(wantRemoved, p)
	}
	if len(wantRemoved) != 0 {
		t.Errorf("blobs not removed: %v", wantRemoved)
	}
	if len(r.blobs.removedNormalized) != 1 || r.blobs.removedNormalized[0] != "doc_1/ver_1" {
		t.Errorf("normalized removals = %v", r.blobs.removedNormalized)
	}
}

func TestHardDeleteDryRun(t *testing.T) {
	t.Parallel()

	r := newAdminRig()
	r.seedVersion("doc_1", "ver_1", "hash1")

	res, err := r.svc.HardDelete(context.Background(), "ver_1", true)
	if err != nil {
		t.Fatalf("HardDelete() error: %v", err)
	}
	if res.Status != StatusDryRun || res.ChunkCount != 2 {
		t.Errorf("result = %+v", res)
	}
	if r.meta.writes != 0 || len(r.blobs.removed) != 0 || len(r.dense.deleted) != 0 {
		t.Error("dry run performed writes")
	}
}

func TestHardDeleteKeepsSharedAsset(t *testing.T) {
	t.Parallel()

	r := newAdminRig()
	r.seedVersion("doc_1", "ver_1", "hash1")
	r.seedVersion("doc_2", "ver_2", "hash2")
	r.seedAsset("asset_a",
		model.AssetRef{RefID: "ref_1", AssetID: "asset_a", DocID: "doc_1", VersionID: "ver_1"},
		model.AssetRef{RefID: "ref_2", AssetID: "asset_a", DocID: "doc_2", VersionID: "ver_2"},
	)

	res, err := r.svc.HardDelete(context.Background(), "ver_1", false)
	if err != nil {
		t.Fatalf("HardDelete() error: %v", err)
	}
	if res.AssetsCollected != 0 {
		t.Errorf("assets collected = %d, want 0 while another ref exists", res.AssetsCollected)
	}
	if _, ok := r.meta.assets["asset_a"]; !ok {
		t.Error("shared asset row removed")
	}
	for _, p := range r.blobs.removed {
		if p == "/assets/asset_a.png" {
			t.Error("shared asset blob removed")
		}
	}
}

func TestHardDeleteKeepsSharedRawBlob(t *testing.T) {
	t.Parallel()

	// Two versions of the same bytes share one raw blob path.
	r := newAdminRig()
	r.seedVersion("doc_1", "ver_1", "samehash")
	r.seedVersion("doc_1", "ver_2", "samehash")

	res, err := r.svc.HardDelete(context.Background(), "ver_1", false)
	if err != nil {
		t.Fatalf("HardDelete() error: %v", err)
	}
	if res.DocumentRemoved {
		t.Error("document removed while a version remains")
	}
	for _, p := range r.blobs.removed {
		if p == "/raw/samehash.md" {
			t.Error("shared raw blob removed")
		}
	}

	// Deleting the last version takes the blob and the document with it.
	if _, err := r.svc.HardDelete(context.Background(), "ver_2", false); err != nil {
		t.Fatalf("second HardDelete() error: %v", err)
	}
	found := false
	for _, p := range r.blobs.removed {
		if p == "/raw/samehash.md" {
			found = true
		}
	}
	if !found {
		t.Error("raw blob kept after last version deleted")
	}
	if r.meta.docs["doc_1"] {
		t.Error("document row kept after last version deleted")
	}
}

func TestHardDeleteAbortsOnIndexFailure(t *testing.T) {
	t.Parallel()

	r := newAdminRig()
	r.seedVersion("doc_1", "ver_1", "hash1")
	r.dense.fail = errors.New("connection reset")

	_, err := r.svc.HardDelete(context.Background(), "ver_1", false)
	if !errors.Is(err, pipeline.ErrStorage) {
		t.Fatalf("HardDelete error = %v, want storage class", err)
	}
	if _, ok := r.meta.versions["ver_1"]; !ok {
		t.Error("version row removed despite index failure")
	}

	// A retry after the failure clears finishes the job.
	r.dense.fail = nil
	if _, err := r.svc.HardDelete(context.Background(), "ver_1", false); err != nil {
		t.Fatalf("retry error: %v", err)
	}
	if _, ok := r.meta.versions["ver_1"]; ok {
		t.Error("retry did not remove the version")
	}
}
