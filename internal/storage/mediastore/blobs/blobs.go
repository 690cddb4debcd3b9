// Package blobs provides a BlobStorage implementation backed by the local
// filesystem. It stores media payloads as immutable blob files.
package blobs

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/haukened/stash/internal/storage/mediastore"
)

// Ensure BlobStore implements mediastore.BlobStorage
var _ mediastore.BlobStorage = (*BlobStore)(nil)

const suffix = ".blob"

// BlobStore implements mediastore.BlobStorage using the local filesystem.
// Files are named by the blob ID (with a fixed suffix) to simplify lookup.
type BlobStore struct {
	root string
	// freshness hides blobs younger than this from List so Reconcile does
	// not race a Save that has written its blob but not yet indexed it.
	freshness time.Duration
}

// New returns a filesystem-backed blob store rooted at dir, creating it with
// 0700 permissions when missing.
func New(root string) (*BlobStore, error) {
	if err := os.MkdirAll(root, 0o700); err != nil {
		return nil, err
	}
	fi, err := os.Stat(root)
	if err != nil {
		return nil, err
	}
	if !fi.IsDir() {
		return nil, errors.New("blob root is not a directory")
	}
	return &BlobStore{root: root, freshness: time.Minute}, nil
}

// path constructs the full path to the blob file for a given blob ID.
func (b *BlobStore) path(id string) string { return filepath.Join(b.root, id+suffix) }

// Write stores everything read from r into a new file for id and returns the
// number of bytes written.
func (b *BlobStore) Write(id string, r io.Reader) (int64, error) {
	if err := validateID(id); err != nil {
		return 0, err
	}
	p := b.path(id)
	// #nosec G304: path is constructed from a fixed root plus a validated ID with a fixed suffix; no traversal possible.
	f, err := os.OpenFile(p, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		return 0, err
	}
	n, err := io.Copy(f, r)
	if err == nil {
		err = f.Sync()
	}
	if cErr := f.Close(); err == nil {
		err = cErr
	}
	if err != nil {
		// delete partial file on error
		_ = os.Remove(p)
		return 0, err
	}
	return n, nil
}

// Open opens a blob for reading.
func (b *BlobStore) Open(id string) (io.ReadCloser, error) {
	if err := validateID(id); err != nil {
		return nil, err
	}
	return os.Open(b.path(id)) // #nosec G304 path constructed internally
}

// Delete removes the blob file for a given id.
func (b *BlobStore) Delete(id string) error {
	if id == "" {
		return nil
	}
	if err := validateID(id); err != nil {
		return err
	}
	return os.Remove(b.path(id))
}

// List returns all blob IDs currently present. Higher layers derive orphans
// by diffing against index-referenced IDs.
func (b *BlobStore) List() ([]string, error) {
	entries, err := os.ReadDir(b.root)
	if err != nil {
		return nil, err
	}
	var ids []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if filepath.Ext(name) != suffix {
			continue
		}
		if info, err := e.Info(); err == nil && time.Since(info.ModTime()) < b.freshness {
			continue
		}
		id := name[:len(name)-len(suffix)]
		if validateID(id) != nil {
			continue
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// validateID enforces that the blob ID is a canonical lowercase UUID. This
// both prevents path traversal (no separators, fixed length) and guarantees
// uniform filenames.
func validateID(id string) error {
	u, err := uuid.Parse(id)
	if err != nil || u.String() != id {
		return errors.New("invalid blob id: must be a canonical uuid")
	}
	return nil
}
