// Package metadata implements the PostgreSQL-backed metadata store.
//
// It owns the relational half of the system: documents, versions, chunks,
// assets and their link tables. Vector and full-text state live in their own
// stores; this package never touches them.
//
// All writes are idempotent upserts or tolerant deletes so the ingestion
// fan-out and the hard-delete sequence can be re-run after partial failures.
package metadata

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/quarrylabs/quarry/internal/log"
	"github.com/quarrylabs/quarry/internal/model"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("metadata: not found")

// Store executes metadata operations against a shared pgx pool.
type Store struct {
	pool   *pgxpool.Pool
	logger log.Logger
}

// NewStore returns a metadata store using the given pool.
func NewStore(pool *pgxpool.Pool, logger log.Logger) *Store {
	return &Store{pool: pool, logger: logger.With("component", "metadata")}
}

// UpsertDocument inserts the document row or refreshes its mutable fields.
func (s *Store) UpsertDocument(ctx context.Context, doc model.Document) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO documents (doc_id, source_uri, title)
		VALUES ($1, $2, $3)
		ON CONFLICT (doc_id) DO UPDATE SET source_uri = $2, title = $3`,
		doc.DocID, doc.SourceURI, doc.Title)
	if err != nil {
		return fmt.Errorf("upserting document %s: %w", doc.DocID, err)
	}
	return nil
}

// InsertVersion inserts a version row. Version IDs are minted fresh per
// ingestion, so a conflict means a re-run of the same ingestion and the row
// is refreshed instead.
func (s *Store) InsertVersion(ctx context.Context, v model.DocVersion) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO doc_versions
			(version_id, doc_id, file_sha256, text_norm_profile_id, status, raw_path, normalized_path)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (version_id) DO UPDATE SET
			status = $5, raw_path = $6, normalized_path = $7`,
		v.VersionID, v.DocID, v.FileSHA256, v.TextNormProfileID, v.Status, v.RawPath, v.NormalizedPath)
	if err != nil {
		return fmt.Errorf("inserting version %s: %w", v.VersionID, err)
	}
	return nil
}

// FindVersionByFileHash returns the newest non-deleted version whose raw
// bytes hash to fileSHA256, or ErrNotFound. This is the dedup gate lookup;
// the lookup-then-insert window is accepted, not locked.
func (s *Store) FindVersionByFileHash(ctx context.Context, fileSHA256 string) (*model.DocVersion, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT version_id, doc_id, file_sha256, text_norm_profile_id, status,
		       raw_path, normalized_path, created_at, deleted_at
		FROM doc_versions
		WHERE file_sha256 = $1 AND status <> $2
		ORDER BY created_at DESC
		LIMIT 1`,
		fileSHA256, model.StatusDeleted)
	return scanVersion(row)
}

// GetVersion returns the version row or ErrNotFound.
func (s *Store) GetVersion(ctx context.Context, versionID string) (*model.DocVersion, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT version_id, doc_id, file_sha256, text_norm_profile_id, status,
		       raw_path, normalized_path, created_at, deleted_at
		FROM doc_versions
		WHERE version_id = $1`,
		versionID)
	return scanVersion(row)
}

func scanVersion(row pgx.Row) (*model.DocVersion, error) {
	var v model.DocVersion
	err := row.Scan(&v.VersionID, &v.DocID, &v.FileSHA256, &v.TextNormProfileID,
		&v.Status, &v.RawPath, &v.NormalizedPath, &v.CreatedAt, &v.DeletedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning version: %w", err)
	}
	return &v, nil
}

// VersionListing is one row of the versions listing, joined with its document.
type VersionListing struct {
	model.DocVersion
	SourceURI  string
	Title      string
	ChunkCount int
}

// ListVersions returns versions newest first with their document identity and
// chunk counts. Deleted versions are excluded unless includeDeleted is set.
func (s *Store) ListVersions(ctx context.Context, limit, offset int, includeDeleted bool) ([]VersionListing, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT v.version_id, v.doc_id, v.file_sha256, v.text_norm_profile_id, v.status,
		       v.raw_path, v.normalized_path, v.created_at, v.deleted_at,
		       d.source_uri, d.title,
		       (SELECT count(*) FROM chunks c WHERE c.version_id = v.version_id)
		FROM doc_versions v
		JOIN documents d ON d.doc_id = v.doc_id
		WHERE $3 OR v.status <> $4
		ORDER BY v.created_at DESC
		LIMIT $1 OFFSET $2`,
		limit, offset, includeDeleted, model.StatusDeleted)
	if err != nil {
		return nil, fmt.Errorf("listing versions: %w", err)
	}
	defer rows.Close()

	var out []VersionListing
	for rows.Next() {
		var l VersionListing
		if err := rows.Scan(&l.VersionID, &l.DocID, &l.FileSHA256, &l.TextNormProfileID,
			&l.Status, &l.RawPath, &l.NormalizedPath, &l.CreatedAt, &l.DeletedAt,
			&l.SourceURI, &l.Title, &l.ChunkCount); err != nil {
			return nil, fmt.Errorf("scanning version listing: %w", err)
		}
		out = append(out, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing versions: %w", err)
	}
	return out, nil
}

// SetVersionStatus updates the lifecycle status of a version.
func (s *Store) SetVersionStatus(ctx context.Context, versionID, status string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE doc_versions SET status = $2 WHERE version_id = $1`, versionID, status)
	if err != nil {
		return fmt.Errorf("setting version %s status: %w", versionID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("setting version %s status: %w", versionID, ErrNotFound)
	}
	return nil
}

// MarkVersionDeleted soft-deletes a version. Already-deleted versions keep
// their original deleted_at, so the call is idempotent.
func (s *Store) MarkVersionDeleted(ctx context.Context, versionID string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE doc_versions
		SET status = $2, deleted_at = COALESCE(deleted_at, now())
		WHERE version_id = $1`,
		versionID, model.StatusDeleted)
	if err != nil {
		return fmt.Errorf("soft-deleting version %s: %w", versionID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("soft-deleting version %s: %w", versionID, ErrNotFound)
	}
	return nil
}

// UpsertChunks writes chunk rows, replacing existing rows with the same ID.
func (s *Store) UpsertChunks(ctx context.Context, chunks []model.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, c := range chunks {
		batch.Queue(`
			INSERT INTO chunks
				(chunk_id, version_id, doc_id, section_id, section_path, ordinal,
				 body, fingerprint, char_start, char_end)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
			ON CONFLICT (chunk_id) DO UPDATE SET
				version_id = $2, doc_id = $3, section_id = $4, section_path = $5,
				ordinal = $6, body = $7, fingerprint = $8, char_start = $9, char_end = $10`,
			c.ChunkID, c.VersionID, c.DocID, c.SectionID, c.SectionPath, c.Ordinal,
			c.Body, c.Fingerprint, c.CharStart, c.CharEnd)
	}
	if err := s.pool.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("upserting %d chunks: %w", len(chunks), err)
	}
	return nil
}

// GetChunkDetails returns chunks by ID joined with version status and
// document identity. Missing IDs are silently absent from the result.
func (s *Store) GetChunkDetails(ctx context.Context, chunkIDs []string) ([]model.ChunkDetail, error) {
	if len(chunkIDs) == 0 {
		return nil, nil
	}
	rows, err := s.pool.Query(ctx, `
		SELECT c.chunk_id, c.version_id, c.doc_id, c.section_id, c.section_path,
		       c.ordinal, c.body, c.fingerprint, c.char_start, c.char_end,
		       v.status, d.source_uri, d.title
		FROM chunks c
		JOIN doc_versions v ON v.version_id = c.version_id
		JOIN documents d ON d.doc_id = c.doc_id
		WHERE c.chunk_id = ANY($1)`,
		chunkIDs)
	if err != nil {
		return nil, fmt.Errorf("fetching chunk details: %w", err)
	}
	defer rows.Close()

	var out []model.ChunkDetail
	for rows.Next() {
		var d model.ChunkDetail
		if err := rows.Scan(&d.ChunkID, &d.VersionID, &d.DocID, &d.SectionID, &d.SectionPath,
			&d.Ordinal, &d.Body, &d.Fingerprint, &d.CharStart, &d.CharEnd,
			&d.VersionStatus, &d.SourceURI, &d.Title); err != nil {
			return nil, fmt.Errorf("scanning chunk detail: %w", err)
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("fetching chunk details: %w", err)
	}
	return out, nil
}

// ListChunkIDs returns the IDs of all chunks belonging to a version.
func (s *Store) ListChunkIDs(ctx context.Context, versionID string) ([]string, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT chunk_id FROM chunks WHERE version_id = $1 ORDER BY section_id, ordinal`, versionID)
	if err != nil {
		return nil, fmt.Errorf("listing chunk ids: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning chunk id: %w", err)
		}
		out = append(out, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing chunk ids: %w", err)
	}
	return out, nil
}

// UpsertAsset writes the asset row; content addressing makes replays no-ops.
func (s *Store) UpsertAsset(ctx context.Context, a model.Asset) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO assets (asset_id, ext, media_type, size_bytes, path)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (asset_id) DO NOTHING`,
		a.AssetID, a.Ext, a.MediaType, a.SizeBytes, a.Path)
	if err != nil {
		return fmt.Errorf("upserting asset %s: %w", a.AssetID, err)
	}
	return nil
}

// UpsertAssetRef records one reference occurrence pointing at an asset.
func (s *Store) UpsertAssetRef(ctx context.Context, r model.AssetRef) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO asset_refs (ref_id, asset_id, doc_id, version_id, source_type, origin_ref, anchor)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (ref_id) DO NOTHING`,
		r.RefID, r.AssetID, r.DocID, r.VersionID, r.SourceType, r.OriginRef, r.Anchor)
	if err != nil {
		return fmt.Errorf("upserting asset ref %s: %w", r.RefID, err)
	}
	return nil
}

// UpsertChunkAssets links chunks to the assets they mention.
func (s *Store) UpsertChunkAssets(ctx context.Context, links []model.ChunkAsset) error {
	if len(links) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, l := range links {
		batch.Queue(`
			INSERT INTO chunk_assets (chunk_id, asset_id)
			VALUES ($1, $2)
			ON CONFLICT (chunk_id, asset_id) DO NOTHING`,
			l.ChunkID, l.AssetID)
	}
	if err := s.pool.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("upserting %d chunk-asset links: %w", len(links), err)
	}
	return nil
}

// GetAsset returns the asset row or ErrNotFound.
func (s *Store) GetAsset(ctx context.Context, assetID string) (*model.Asset, error) {
	var a model.Asset
	err := s.pool.QueryRow(ctx, `
		SELECT asset_id, ext, media_type, size_bytes, path, created_at
		FROM assets WHERE asset_id = $1`, assetID).
		Scan(&a.AssetID, &a.Ext, &a.MediaType, &a.SizeBytes, &a.Path, &a.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("fetching asset %s: %w", assetID, err)
	}
	return &a, nil
}

// ListAssetIDs returns the distinct asset IDs referenced by a version.
func (s *Store) ListAssetIDs(ctx context.Context, versionID string) ([]string, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT DISTINCT asset_id FROM asset_refs WHERE version_id = $1`, versionID)
	if err != nil {
		return nil, fmt.Errorf("listing asset refs: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning asset id: %w", err)
		}
		out = append(out, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing asset refs: %w", err)
	}
	return out, nil
}

// CountAssetRefs returns the number of references still pointing at an asset.
func (s *Store) CountAssetRefs(ctx context.Context, assetID string) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx,
		`SELECT count(*) FROM asset_refs WHERE asset_id = $1`, assetID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting asset refs for %s: %w", assetID, err)
	}
	return n, nil
}

// Hard-delete helpers. Each tolerates already-missing rows so the delete
// sequence can resume after a partial failure.

// DeleteChunkAssetsByVersion removes chunk-asset links for a version's chunks.
func (s *Store) DeleteChunkAssetsByVersion(ctx context.Context, versionID string) error {
	_, err := s.pool.Exec(ctx, `
		DELETE FROM chunk_assets
		WHERE chunk_id IN (SELECT chunk_id FROM chunks WHERE version_id = $1)`, versionID)
	if err != nil {
		return fmt.Errorf("deleting chunk-asset links for %s: %w", versionID, err)
	}
	return nil
}

// DeleteChunksByVersion removes a version's chunk rows and returns how many.
func (s *Store) DeleteChunksByVersion(ctx context.Context, versionID string) (int, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM chunks WHERE version_id = $1`, versionID)
	if err != nil {
		return 0, fmt.Errorf("deleting chunks for %s: %w", versionID, err)
	}
	return int(tag.RowsAffected()), nil
}

// DeleteAssetRefsByVersion removes a version's asset refs.
func (s *Store) DeleteAssetRefsByVersion(ctx context.Context, versionID string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM asset_refs WHERE version_id = $1`, versionID)
	if err != nil {
		return fmt.Errorf("deleting asset refs for %s: %w", versionID, err)
	}
	return nil
}

// DeleteAsset removes the asset row.
func (s *Store) DeleteAsset(ctx context.Context, assetID string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM assets WHERE asset_id = $1`, assetID)
	if err != nil {
		return fmt.Errorf("deleting asset %s: %w", assetID, err)
	}
	return nil
}

// DeleteVersion removes the version row.
func (s *Store) DeleteVersion(ctx context.Context, versionID string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM doc_versions WHERE version_id = $1`, versionID)
	if err != nil {
		return fmt.Errorf("deleting version %s: %w", versionID, err)
	}
	return nil
}

// CountVersionsByFileHash returns how many versions still reference the raw
// blob with this hash. The raw blob is shared across versions of identical
// bytes, so hard delete only removes it when this reaches zero.
func (s *Store) CountVersionsByFileHash(ctx context.Context, fileSHA256 string) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx,
		`SELECT count(*) FROM doc_versions WHERE file_sha256 = $1`, fileSHA256).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting versions for hash %s: %w", fileSHA256, err)
	}
	return n, nil
}

// CountVersions returns how many versions a document still has.
func (s *Store) CountVersions(ctx context.Context, docID string) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx,
		`SELECT count(*) FROM doc_versions WHERE doc_id = $1`, docID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting versions for %s: %w", docID, err)
	}
	return n, nil
}

// DeleteDocument removes the document row. Callers check CountVersions first;
// a foreign key violation here means another version appeared concurrently.
func (s *Store) DeleteDocument(ctx context.Context, docID string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM documents WHERE doc_id = $1`, docID)
	if err != nil {
		return fmt.Errorf("deleting document %s: %w", docID, err)
	}
	return nil
}
