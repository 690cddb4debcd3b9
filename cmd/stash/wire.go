package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"

	"github.com/haukened/stash/internal/app"
	"github.com/haukened/stash/internal/config"
	"github.com/haukened/stash/internal/crypto"
	"github.com/haukened/stash/internal/domain"
	"github.com/haukened/stash/internal/iopool"
	"github.com/haukened/stash/internal/janitor"
	"github.com/haukened/stash/internal/keys"
	badgerkeys "github.com/haukened/stash/internal/keys/badger"
	boltkeys "github.com/haukened/stash/internal/keys/bolt"
	sqlitekeys "github.com/haukened/stash/internal/keys/sqlite"
	"github.com/haukened/stash/internal/metrics"
	"github.com/haukened/stash/internal/storage"
	"github.com/haukened/stash/internal/storage/encrypted"
	"github.com/haukened/stash/internal/storage/filesystem"
	"github.com/haukened/stash/internal/storage/mediastore"
	"github.com/haukened/stash/internal/storage/mediastore/blobs"
	mediasqlite "github.com/haukened/stash/internal/storage/mediastore/sqlite"
)

// stack is the fully wired storage container. One is built per process and
// handed to the commands; nothing below it is global.
type stack struct {
	cfg       *config.Config
	log       *slog.Logger
	db        *sql.DB
	keys      *keys.Manager
	text      *crypto.TextCipher
	plain     *app.Repository
	encrypted *app.Repository
	metrics   *metrics.Manager
	janitor   *janitor.Janitor
	closers   []func() error
}

func ensureDataDir(dir string) (string, string, error) {
	if st, err := os.Stat(dir); err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return "", "", fmt.Errorf("stat data directory: %w", err)
		}
		if mkErr := os.MkdirAll(dir, 0o700); mkErr != nil {
			return "", "", fmt.Errorf("create data directory: %w", mkErr)
		}
	} else if !st.IsDir() {
		return "", "", fmt.Errorf("data path %s is not a directory", dir)
	}
	blobDir := filepath.Join(dir, "media")
	if err := os.MkdirAll(blobDir, 0o700); err != nil {
		return "", "", fmt.Errorf("create media dir: %w", err)
	}
	return dir, blobDir, nil
}

func openDatabase(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite driver: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	return db, nil
}

// openKeyStore returns the configured key store and its closer.
func openKeyStore(cfg *config.Config, db *sql.DB) (keys.Store, func() error, error) {
	nop := func() error { return nil }
	switch cfg.KeyStore {
	case "bolt":
		s, err := boltkeys.Open(cfg.KeyStorePath())
		if err != nil {
			return nil, nil, err
		}
		return s, s.Close, nil
	case "badger":
		s, err := badgerkeys.Open(cfg.KeyStorePath())
		if err != nil {
			return nil, nil, err
		}
		return s, s.Close, nil
	default:
		s, err := sqlitekeys.New(db)
		if err != nil {
			return nil, nil, err
		}
		return s, nop, nil
	}
}

func openStack(ctx context.Context, cfg *config.Config, log *slog.Logger) (*stack, error) {
	dataDir, blobDir, err := ensureDataDir(cfg.DataDir)
	if err != nil {
		return nil, err
	}
	st := &stack{cfg: cfg, log: log}
	ok := false
	defer func() {
		if !ok {
			_ = st.close(context.Background())
		}
	}()

	if st.db, err = openDatabase(ctx, cfg.SQLiteDSN()); err != nil {
		return nil, err
	}
	st.closers = append(st.closers, st.db.Close)

	ks, closeKeys, err := openKeyStore(cfg, st.db)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrKeyStore, err)
	}
	st.closers = append(st.closers, closeKeys)
	if st.keys, err = keys.NewManager(ks, keys.Config{MasterKey: cfg.MasterKeyBytes(), Logger: log}); err != nil {
		return nil, err
	}

	st.metrics = metrics.New(st.db, metrics.Config{FlushInterval: cfg.MetricsFlush, Logger: log})
	if err = st.metrics.InitSchema(ctx); err != nil {
		return nil, fmt.Errorf("init metrics schema: %w", err)
	}

	private, err := filesystem.NewAppSpecific(dataDir)
	if err != nil {
		return nil, err
	}
	idx, err := mediasqlite.New(st.db)
	if err != nil {
		return nil, fmt.Errorf("init media index: %w", err)
	}
	blobStore, err := blobs.New(blobDir)
	if err != nil {
		return nil, fmt.Errorf("init media blobs: %w", err)
	}
	media := mediastore.New(idx, blobStore, app.SystemClock{})
	legacy, err := filesystem.NewLegacy(cfg.PublicDir)
	if err != nil {
		return nil, err
	}

	// one pool bounds both layers; the decorator's inner calls run inline
	pool := iopool.New(cfg.IOWorkers)
	local, err := storage.NewLocalSource(storage.Config{
		AppSpecific:   private,
		MediaStore:    media,
		Legacy:        legacy,
		PublicBackend: cfg.PublicBackend,
		Pool:          pool,
		Logger:        log,
	})
	if err != nil {
		return nil, err
	}
	streams := crypto.NewStreamCipher(st.keys, crypto.StreamConfig{PipeBuffer: int(cfg.PipeBuffer), Logger: log})
	sealed := encrypted.New(local, streams, encrypted.Config{
		AllowPublic: cfg.AllowPublicEncryption,
		Pool:        pool,
		Logger:      log,
	})

	st.text = crypto.NewTextCipher(st.keys)
	st.plain = app.NewRepository(local, app.RepositoryConfig{Name: "plain", Metrics: st.metrics, Logger: log})
	st.encrypted = app.NewRepository(sealed, app.RepositoryConfig{Name: "encrypted", Metrics: st.metrics, Logger: log})

	hk := &storage.Housekeeper{Cache: private, MaxAge: cfg.CacheMaxAge}
	if cfg.PublicBackend == storage.BackendMediaStore {
		hk.Index = media
	}
	st.janitor = janitor.New(hk, st.metrics, janitor.Config{Interval: cfg.JanitorInterval, Logger: log})
	ok = true
	return st, nil
}

// repository picks the plain or encrypting repository.
func (s *stack) repository(encrypt bool) *app.Repository {
	if encrypt {
		return s.encrypted
	}
	return s.plain
}

// close flushes metrics and releases resources in reverse order.
func (s *stack) close(ctx context.Context) error {
	if s.metrics != nil {
		s.metrics.Stop(ctx)
	}
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	s.closers = nil
	return errors.Join(errs...)
}
