package mediastore

import (
	"context"
	"io"
	"time"
)

// Entry is one indexed media file.
type Entry struct {
	ID           int64
	Collection   string
	DisplayName  string
	RelativePath string
	MimeType     string
	Blob         string
	Size         int64
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Index abstracts the media index (typically backed by SQLite). Entries are
// unique by (collection, relative path, display name). Lookups of a missing
// entry return domain.ErrNotFound.
type Index interface {
	Lookup(ctx context.Context, collection, relPath, name string) (Entry, error)
	// Put inserts e or points an existing entry at e.Blob. It returns the
	// entry id and the blob previously referenced, if any.
	Put(ctx context.Context, e Entry) (id int64, replaced string, err error)
	// Remove deletes the entry and returns it.
	Remove(ctx context.Context, collection, relPath, name string) (Entry, error)
	// ListBlobs returns every blob id referenced by the index.
	ListBlobs(ctx context.Context) ([]string, error)
}

// BlobStorage abstracts payload persistence on the filesystem. Blobs are
// immutable once written.
type BlobStorage interface {
	Write(id string, r io.Reader) (int64, error)
	Open(id string) (io.ReadCloser, error)
	Delete(id string) error
	// List returns all blob IDs present in storage (filenames sans extension).
	List() ([]string, error)
}
