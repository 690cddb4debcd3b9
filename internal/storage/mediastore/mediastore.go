// Package mediastore provides the indexed public storage strategy. Each public
// file is an entry in a media index, keyed by collection, relative path and
// display name, whose payload lives in an immutable blob. Successful writes
// return content:// locators carrying the entry id.
package mediastore

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"mime"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"

	"github.com/haukened/stash/internal/app"
	"github.com/haukened/stash/internal/domain"
	"github.com/haukened/stash/internal/iopool"
)

var _ app.Strategy = (*Strategy)(nil)

// Collections.
const (
	CollectionDownloads = "downloads"
	CollectionFiles     = "files"
	CollectionImages    = "images"
	CollectionVideo     = "video"
	CollectionAudio     = "audio"
)

const (
	fallbackMIME = "application/octet-stream"
	sniffLen     = 3072
)

// Strategy composes an Index and BlobStorage to satisfy app.Strategy.
type Strategy struct {
	index Index
	blobs BlobStorage
	clock app.Clock
}

// New returns a Strategy over index and blobs.
func New(index Index, blobs BlobStorage, clock app.Clock) *Strategy {
	if clock == nil {
		clock = app.SystemClock{}
	}
	return &Strategy{index: index, blobs: blobs, clock: clock}
}

// Name identifies the strategy in logs.
func (s *Strategy) Name() string { return "mediastore" }

// Collection returns the collection a public location is indexed under.
func Collection(loc domain.StorageLocation) (string, error) {
	switch loc.Kind() {
	case domain.PublicDownloads:
		return CollectionDownloads, nil
	case domain.PublicDocuments:
		return CollectionFiles, nil
	case domain.PublicPictures, domain.PublicScreenshots, domain.PublicDcim:
		return CollectionImages, nil
	case domain.PublicMovies:
		return CollectionVideo, nil
	case domain.PublicMusic, domain.PublicNotifications, domain.PublicRingtones,
		domain.PublicAlarms, domain.PublicPodcasts, domain.PublicAudiobooks, domain.PublicRecordings:
		return CollectionAudio, nil
	}
	return "", fmt.Errorf("%w: %s is not a public directory", domain.ErrUnsupportedLocation, loc)
}

// RelativePath returns the public folder name joined with the sub-directory.
func RelativePath(loc domain.StorageLocation) (string, error) {
	dir, err := loc.PublicDirectoryName()
	if err != nil {
		return "", err
	}
	if loc.SubDirectory() == "" {
		return dir, nil
	}
	return dir + "/" + loc.SubDirectory(), nil
}

func place(loc domain.StorageLocation, name string) (coll, rel string, err error) {
	if _, err := domain.ChildPath(loc, name); err != nil {
		return "", "", err
	}
	if coll, err = Collection(loc); err != nil {
		return "", "", err
	}
	rel, err = RelativePath(loc)
	return coll, rel, err
}

// Save writes r as a new blob and points the entry at it, replacing any
// earlier payload.
func (s *Strategy) Save(ctx context.Context, name string, loc domain.StorageLocation, r io.Reader) (domain.Locator, error) {
	coll, rel, err := place(loc, name)
	if err != nil {
		return "", err
	}
	mimeType, body := detectMIME(name, r)
	return s.put(ctx, coll, rel, name, mimeType, body)
}

func (s *Strategy) put(ctx context.Context, coll, rel, name, mimeType string, r io.Reader) (domain.Locator, error) {
	blob := uuid.NewString()
	size, err := s.blobs.Write(blob, iopool.ContextReader(ctx, r))
	if err != nil {
		return "", err
	}
	now := s.clock.Now()
	id, replaced, err := s.index.Put(ctx, Entry{
		Collection:   coll,
		DisplayName:  name,
		RelativePath: rel,
		MimeType:     mimeType,
		Blob:         blob,
		Size:         size,
		CreatedAt:    now,
		UpdatedAt:    now,
	})
	if err != nil {
		_ = s.blobs.Delete(blob)
		return "", err
	}
	if replaced != "" {
		_ = s.blobs.Delete(replaced) // best-effort; Reconcile catches leftovers
	}
	return domain.ContentLocator(coll, id), nil
}

// Read opens the entry's payload.
func (s *Strategy) Read(ctx context.Context, name string, loc domain.StorageLocation) (io.ReadCloser, error) {
	coll, rel, err := place(loc, name)
	if err != nil {
		return nil, err
	}
	e, err := s.index.Lookup(ctx, coll, rel, name)
	if err != nil {
		return nil, err
	}
	rc, err := s.blobs.Open(e.Blob)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s in %s (payload missing)", domain.ErrNotFound, name, loc)
	}
	return rc, err
}

// Delete removes the entry and its payload.
func (s *Strategy) Delete(ctx context.Context, name string, loc domain.StorageLocation) error {
	coll, rel, err := place(loc, name)
	if err != nil {
		return err
	}
	e, err := s.index.Remove(ctx, coll, rel, name)
	if err != nil {
		return err
	}
	if err := s.blobs.Delete(e.Blob); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

// AppendText rewrites the payload as existing content followed by text. A
// missing entry is created.
func (s *Strategy) AppendText(ctx context.Context, name string, loc domain.StorageLocation, text string) (domain.Locator, error) {
	coll, rel, err := place(loc, name)
	if err != nil {
		return "", err
	}
	var prefix io.Reader = strings.NewReader("")
	mimeType := mimeByExtension(name)
	e, err := s.index.Lookup(ctx, coll, rel, name)
	switch {
	case err == nil:
		rc, err := s.blobs.Open(e.Blob)
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return "", err
		}
		if rc != nil {
			defer rc.Close()
			prefix = rc
		}
		mimeType = e.MimeType
	case errors.Is(err, domain.ErrNotFound):
	default:
		return "", err
	}
	if mimeType == "" {
		mimeType = "text/plain; charset=utf-8"
	}
	return s.put(ctx, coll, rel, name, mimeType, io.MultiReader(prefix, strings.NewReader(text)))
}

// Reconcile deletes blobs no index entry references and returns how many were
// removed.
func (s *Strategy) Reconcile(ctx context.Context) (int, error) {
	if s.index == nil || s.blobs == nil {
		return 0, errors.New("media store not properly initialized")
	}
	blobIDs, err := s.blobs.List()
	if err != nil {
		return 0, err
	}
	referenced, err := s.index.ListBlobs(ctx)
	if err != nil {
		return 0, err
	}
	indexSet := make(map[string]struct{}, len(referenced))
	for _, id := range referenced {
		indexSet[id] = struct{}{}
	}
	n := 0
	for _, bid := range blobIDs {
		if _, ok := indexSet[bid]; !ok {
			if err := s.blobs.Delete(bid); err == nil {
				n++
			}
		}
	}
	return n, nil
}

func mimeByExtension(name string) string {
	ext := domain.Extension(name)
	if ext == "" {
		return ""
	}
	return mime.TypeByExtension("." + ext)
}

// detectMIME resolves the MIME type from the extension, falling back to
// sniffing the head of r. The returned reader yields all of r.
func detectMIME(name string, r io.Reader) (string, io.Reader) {
	if t := mimeByExtension(name); t != "" {
		return t, r
	}
	br := bufio.NewReaderSize(r, sniffLen)
	head, _ := br.Peek(sniffLen)
	if len(head) == 0 {
		return fallbackMIME, br
	}
	return mimetype.Detect(head).String(), br
}
