package storage

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/haukened/stash/internal/domain"
	"github.com/haukened/stash/internal/iopool"
)

// fakeStrategy records which operations reached it.
type fakeStrategy struct {
	name  string
	ops   []string
	panic bool
}

func (f *fakeStrategy) Name() string { return f.name }

func (f *fakeStrategy) Save(_ context.Context, name string, _ domain.StorageLocation, r io.Reader) (domain.Locator, error) {
	if f.panic {
		panic("strategy exploded")
	}
	_, _ = io.Copy(io.Discard, r)
	f.ops = append(f.ops, "save:"+name)
	return domain.Locator(f.name + "://" + name), nil
}

func (f *fakeStrategy) Read(_ context.Context, name string, _ domain.StorageLocation) (io.ReadCloser, error) {
	f.ops = append(f.ops, "read:"+name)
	return io.NopCloser(strings.NewReader(f.name)), nil
}

func (f *fakeStrategy) Delete(_ context.Context, name string, _ domain.StorageLocation) error {
	f.ops = append(f.ops, "delete:"+name)
	return nil
}

func (f *fakeStrategy) AppendText(_ context.Context, name string, _ domain.StorageLocation, _ string) (domain.Locator, error) {
	f.ops = append(f.ops, "append:"+name)
	return domain.Locator(f.name + "://" + name), nil
}

type fixture struct {
	src                    *LocalSource
	private, media, legacy *fakeStrategy
}

func newFixture(t *testing.T, backend string) fixture {
	t.Helper()
	f := fixture{
		private: &fakeStrategy{name: "private"},
		media:   &fakeStrategy{name: "media"},
		legacy:  &fakeStrategy{name: "legacy"},
	}
	src, err := NewLocalSource(Config{
		AppSpecific:   f.private,
		MediaStore:    f.media,
		Legacy:        f.legacy,
		PublicBackend: backend,
		Pool:          iopool.New(2),
	})
	require.NoError(t, err)
	f.src = src
	return f
}

func TestStrategySelection(t *testing.T) {
	ctx := context.Background()

	f := newFixture(t, BackendMediaStore)
	l, err := f.src.Save(ctx, "a.jpg", domain.NewLocation(domain.PublicPictures, ""), strings.NewReader("x"))
	require.NoError(t, err)
	assert.Equal(t, domain.Locator("media://a.jpg"), l)
	l, err = f.src.Save(ctx, "b.bin", domain.NewLocation(domain.InternalAppCache, ""), strings.NewReader("x"))
	require.NoError(t, err)
	assert.Equal(t, domain.Locator("private://b.bin"), l)
	assert.Empty(t, f.legacy.ops)

	f = newFixture(t, BackendLegacy)
	l, err = f.src.Save(ctx, "a.jpg", domain.NewLocation(domain.PublicPictures, ""), strings.NewReader("x"))
	require.NoError(t, err)
	assert.Equal(t, domain.Locator("legacy://a.jpg"), l)
	assert.Empty(t, f.media.ops)
}

func TestAllOperationsRoute(t *testing.T) {
	f := newFixture(t, BackendMediaStore)
	ctx := context.Background()
	loc := domain.NewLocation(domain.ExternalAppStorage, "sub")

	rc, err := f.src.Read(ctx, "f.txt", loc)
	require.NoError(t, err)
	b, _ := io.ReadAll(rc)
	assert.Equal(t, "private", string(b))
	require.NoError(t, f.src.Delete(ctx, "f.txt", loc))
	_, err = f.src.AppendText(ctx, "f.txt", loc, "line")
	require.NoError(t, err)
	assert.Equal(t, []string{"read:f.txt", "delete:f.txt", "append:f.txt"}, f.private.ops)
}

func TestAppendTextPlainTextGate(t *testing.T) {
	f := newFixture(t, BackendMediaStore)
	ctx := context.Background()
	loc := domain.NewLocation(domain.InternalAppStorage, "")
	for _, name := range []string{"a.txt", "b.TEXT", "c.log", "d.conf", "e.cfg", "f.ini", "g.md", "h.csv"} {
		_, err := f.src.AppendText(ctx, name, loc, "x")
		assert.NoError(t, err, name)
	}
	for _, name := range []string{"image.png", "noext", "archive.txt.gz"} {
		_, err := f.src.AppendText(ctx, name, loc, "x")
		assert.ErrorIs(t, err, domain.ErrNotPlainText, name)
	}
}

func TestPanicBecomesError(t *testing.T) {
	f := newFixture(t, BackendMediaStore)
	f.private.panic = true
	_, err := f.src.Save(context.Background(), "x", domain.NewLocation(domain.InternalAppStorage, ""), strings.NewReader("x"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "strategy exploded")
}

func TestInvalidLocation(t *testing.T) {
	f := newFixture(t, BackendMediaStore)
	_, err := f.src.Save(context.Background(), "x", domain.StorageLocation{}, strings.NewReader("x"))
	assert.ErrorIs(t, err, domain.ErrUnsupportedLocation)
}

func TestNewLocalSourceValidation(t *testing.T) {
	_, err := NewLocalSource(Config{})
	assert.Error(t, err)
	_, err = NewLocalSource(Config{AppSpecific: &fakeStrategy{}, PublicBackend: "ftp"})
	assert.Error(t, err)
	_, err = NewLocalSource(Config{AppSpecific: &fakeStrategy{}, PublicBackend: BackendLegacy})
	assert.Error(t, err)
}

type fakePurger struct{ cutoff time.Time }

func (f *fakePurger) PurgeBefore(_ context.Context, t time.Time) (int, error) {
	f.cutoff = t
	return 3, nil
}

type fakeReconciler struct{ err error }

func (f fakeReconciler) Reconcile(context.Context) (int, error) { return 2, f.err }

func TestHousekeeper(t *testing.T) {
	p := &fakePurger{}
	now := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	h := &Housekeeper{Cache: p, Index: fakeReconciler{}, MaxAge: 24 * time.Hour}
	n, err := h.PurgeExpired(context.Background(), now)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, now.Add(-24*time.Hour), p.cutoff)
	n, err = h.Reconcile(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	empty := &Housekeeper{}
	n, err = empty.PurgeExpired(context.Background(), now)
	assert.NoError(t, err)
	assert.Zero(t, n)
	n, err = empty.Reconcile(context.Background())
	assert.NoError(t, err)
	assert.Zero(t, n)

	boom := errors.New("boom")
	_, err = (&Housekeeper{Index: fakeReconciler{err: boom}}).Reconcile(context.Background())
	assert.ErrorIs(t, err, boom)
}
