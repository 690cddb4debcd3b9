package blobs

import (
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestBlobStoreWriteOpenDelete(t *testing.T) {
	b, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	id := uuid.NewString()
	n, err := b.Write(id, strings.NewReader("payload"))
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	if n != 7 {
		t.Fatalf("expected 7 bytes, got %d", n)
	}
	rc, err := b.Open(id)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	data, _ := io.ReadAll(rc)
	_ = rc.Close()
	if string(data) != "payload" {
		t.Fatalf("content mismatch: %q", data)
	}
	// blobs are immutable
	if _, err := b.Write(id, strings.NewReader("again")); err == nil {
		t.Fatalf("expected error rewriting existing blob")
	}
	if err := b.Delete(id); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := b.Open(id); !errors.Is(err, fs.ErrNotExist) {
		t.Fatalf("expected not exist, got %v", err)
	}
}

type errReader struct{}

func (errReader) Read([]byte) (int, error) { return 0, errors.New("read failed") }

func TestBlobStoreWriteErrorRemovesPartial(t *testing.T) {
	dir := t.TempDir()
	b, err := New(dir)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	id := uuid.NewString()
	if _, err := b.Write(id, io.MultiReader(strings.NewReader("part"), errReader{})); err == nil {
		t.Fatalf("expected write error")
	}
	if _, err := os.Stat(filepath.Join(dir, id+suffix)); !os.IsNotExist(err) {
		t.Fatalf("partial blob left behind: %v", err)
	}
}

func TestBlobStoreListSkipsRecent(t *testing.T) {
	dir := t.TempDir()
	b, err := New(dir)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	oldID, newID := uuid.NewString(), uuid.NewString()
	for _, id := range []string{oldID, newID} {
		if _, err := b.Write(id, strings.NewReader("x")); err != nil {
			t.Fatalf("Write: %v", err)
		}
	}
	past := time.Now().Add(-time.Hour)
	if err := os.Chtimes(filepath.Join(dir, oldID+suffix), past, past); err != nil {
		t.Fatalf("chtimes: %v", err)
	}
	// unrelated files are ignored
	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	ids, err := b.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(ids) != 1 || ids[0] != oldID {
		t.Fatalf("expected only %s, got %v", oldID, ids)
	}
}

func TestBlobStoreInvalidIDs(t *testing.T) {
	b, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	for _, id := range []string{"../etc/passwd", "abc", strings.ToUpper(uuid.NewString())} {
		if _, err := b.Write(id, strings.NewReader("x")); err == nil {
			t.Fatalf("expected invalid id error for %q", id)
		}
		if _, err := b.Open(id); err == nil {
			t.Fatalf("expected open error for %q", id)
		}
		if err := b.Delete(id); err == nil {
			t.Fatalf("expected delete error for %q", id)
		}
	}
	if err := b.Delete(""); err != nil {
		t.Fatalf("empty id delete should be a no-op: %v", err)
	}
}

func TestNewBlobRootIsFile(t *testing.T) {
	f := filepath.Join(t.TempDir(), "file")
	if err := os.WriteFile(f, []byte("x"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := New(f); err == nil {
		t.Fatalf("expected error for file root")
	}
}
