// Package blob implements the filesystem content store.
//
// Three families of blobs live under one data directory:
//
//	raw/<sha256><ext>                           original ingested bytes
//	normalized/<doc_id>/<version_id>/normalized.md
//	assets/<asset_id><ext>                      extracted binary assets
//
// Raw and asset blobs are content-addressed and write-once: rewriting the
// same bytes is a no-op, so ingestion retries never corrupt the store. All
// writes go to a temp file in the destination directory followed by an atomic
// rename, so readers never observe a partial blob.
package blob

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"

	"github.com/quarrylabs/quarry/internal/log"
)

// NormalizedFileName is the file name of the normalized blob inside its
// per-version directory.
const NormalizedFileName = "normalized.md"

// Store is a filesystem content store rooted at a data directory.
type Store struct {
	rawDir        string
	normalizedDir string
	assetsDir     string
	gcLockPath    string
	logger        log.Logger
}

// NewStore creates the store directories if needed and returns a Store.
func NewStore(dataDir string, logger log.Logger) (*Store, error) {
	s := &Store{
		rawDir:        filepath.Join(dataDir, "raw"),
		normalizedDir: filepath.Join(dataDir, "normalized"),
		assetsDir:     filepath.Join(dataDir, "assets"),
		gcLockPath:    filepath.Join(dataDir, "gc.lock"),
		logger:        logger,
	}
	for _, dir := range []string{s.rawDir, s.normalizedDir, s.assetsDir} {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("creating blob directory %s: %w", dir, err)
		}
	}
	return s, nil
}

// HashBytes returns the hex sha256 of data. It is the addressing function for
// raw and asset blobs.
func HashBytes(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// WriteRaw stores the original file bytes under their content hash and
// returns the hash and the blob path. Writing the same bytes twice is a
// no-op.
func (s *Store) WriteRaw(data []byte, ext string) (sha string, path string, err error) {
	sha = HashBytes(data)
	path = filepath.Join(s.rawDir, sha+ext)
	if err := s.writeOnce(path, data); err != nil {
		return "", "", fmt.Errorf("writing raw blob: %w", err)
	}
	return sha, path, nil
}

// WriteNormalized stores the normalized document text for a version and
// returns the blob path. Unlike raw blobs it is addressed by identity, not
// content, so a re-run simply overwrites the same path atomically.
func (s *Store) WriteNormalized(docID, versionID string, data []byte) (string, error) {
	dir := filepath.Join(s.normalizedDir, docID, versionID)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", fmt.Errorf("creating normalized directory: %w", err)
	}
	path := filepath.Join(dir, NormalizedFileName)
	if err := atomicWrite(path, data); err != nil {
		return "", fmt.Errorf("writing normalized blob: %w", err)
	}
	return path, nil
}

// WriteAsset stores an extracted asset under its content hash and returns the
// asset ID (the hash) and the blob path. Write-once like WriteRaw.
func (s *Store) WriteAsset(data []byte, ext string) (assetID string, path string, err error) {
	assetID = HashBytes(data)
	path = filepath.Join(s.assetsDir, assetID+ext)
	if err := s.writeOnce(path, data); err != nil {
		return "", "", fmt.Errorf("writing asset blob: %w", err)
	}
	return assetID, path, nil
}

// Read returns the contents of a previously written blob.
func (s *Store) Read(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading blob: %w", err)
	}
	return data, nil
}

// Remove deletes a blob file. A missing file is not an error, so deletion is
// re-runnable after a partial failure.
func (s *Store) Remove(path string) error {
	if path == "" {
		return nil
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("removing blob: %w", err)
	}
	return nil
}

// RemoveNormalized deletes the normalized blob directory for a version and
// prunes the parent document directory if it became empty. Missing paths are
// not errors.
func (s *Store) RemoveNormalized(docID, versionID string) error {
	if docID == "" || versionID == "" {
		return nil
	}
	dir := filepath.Join(s.normalizedDir, docID, versionID)
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("removing normalized blobs: %w", err)
	}
	// Best effort: the document directory may still hold other versions.
	_ = os.Remove(filepath.Join(s.normalizedDir, docID))
	return nil
}

// LockGC takes an exclusive advisory lock for asset garbage collection, so
// concurrent hard deletes do not race on refcount checks. The returned
// function releases the lock.
func (s *Store) LockGC() (func(), error) {
	fl := flock.New(s.gcLockPath)
	if err := fl.Lock(); err != nil {
		return nil, fmt.Errorf("acquiring gc lock: %w", err)
	}
	return func() {
		if err := fl.Unlock(); err != nil {
			s.logger.Warn("failed to release gc lock", "error", err)
		}
	}, nil
}

// writeOnce writes data to path unless an identically addressed blob already
// exists. Content addressing makes the existing file equivalent by
// construction.
func (s *Store) writeOnce(path string, data []byte) error {
	if _, err := os.Stat(path); err == nil {
		s.logger.Debug("blob already present", "path", path)
		return nil
	} else if !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return atomicWrite(path, data)
}

// atomicWrite writes data to a temp file in the target directory and renames
// it into place.
func atomicWrite(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer func() {
		// No-ops once the rename has happened.
		_ = tmp.Close()
		_ = os.Remove(tmpName)
	}()

	if _, err := tmp.Write(data); err != nil {
		return err
	}
	if err := tmp.Sync(); err != nil {
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}
