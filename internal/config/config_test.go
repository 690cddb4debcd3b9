package config

import (
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/haukened/stash/internal/domain"
	"github.com/knadh/koanf/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	assert.EqualValues(t, DefaultAppConfig, *cfg)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("STASH_KEYSTORE", "badger")
	t.Setenv("STASH_PUBLIC_BACKEND", "legacy")
	t.Setenv("STASH_ALLOW_PUBLIC_ENCRYPTION", "true")
	t.Setenv("STASH_IO_WORKERS", "8")
	t.Setenv("STASH_PIPE_BUFFER", "1MiB")
	t.Setenv("STASH_CACHE_MAX_AGE", "90m")
	t.Setenv("STASH_LOG_LEVEL", "debug")
	t.Setenv("STASH_DEFAULT_LOCATION", "downloads:reports/2024")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "badger", cfg.KeyStore)
	assert.Equal(t, "legacy", cfg.PublicBackend)
	assert.True(t, cfg.AllowPublicEncryption)
	assert.Equal(t, 8, cfg.IOWorkers)
	assert.Equal(t, ByteSize(1<<20), cfg.PipeBuffer)
	assert.Equal(t, 90*time.Minute, cfg.CacheMaxAge)
	assert.Equal(t, slog.LevelDebug, cfg.SlogLevel())

	loc := cfg.Location()
	assert.Equal(t, domain.PublicDownloads, loc.Kind())
	assert.Equal(t, "reports/2024", loc.SubDirectory())
}

func TestValidPaths(t *testing.T) {
	valid := []string{
		"data",
		"/var/lib/stash",
		"./data",
		"relative/path/to/data",
		"nested/dir/structure",
	}
	for _, p := range valid {
		t.Setenv("STASH_DATA_DIR", p)
		cfg, err := Load()
		if err != nil {
			t.Errorf("expected valid path %q, got error: %v", p, err)
			continue
		}
		if cfg.DataDir != p {
			t.Errorf("expected DataDir %q, got %q", p, cfg.DataDir)
		}
	}
}

func TestInvalidPaths(t *testing.T) {
	invalid := []string{
		"",
		".",
		"/",
		"//",
		"../data",
		"data/..",
		"data/../../../etc",
	}
	for _, p := range invalid {
		t.Setenv("STASH_DATA_DIR", p)
		_, err := Load()
		if err == nil {
			t.Errorf("expected error for invalid path %q, got nil", p)
			continue
		}
	}
}

func TestInvalidEnumValues(t *testing.T) {
	tests := []struct {
		name string
		env  string
		val  string
	}{
		{name: "keystore", env: "STASH_KEYSTORE", val: "keychain"},
		{name: "backend", env: "STASH_PUBLIC_BACKEND", val: "s3"},
		{name: "log_level", env: "STASH_LOG_LEVEL", val: "trace"},
		{name: "location", env: "STASH_DEFAULT_LOCATION", val: "nowhere"},
		{name: "location_escape", env: "STASH_DEFAULT_LOCATION", val: "documents:../x"},
		{name: "workers_zero", env: "STASH_IO_WORKERS", val: "0"},
		{name: "workers_huge", env: "STASH_IO_WORKERS", val: "4096"},
		{name: "bad_duration", env: "STASH_JANITOR_INTERVAL", val: "2d"},
		{name: "bad_size", env: "STASH_PIPE_BUFFER", val: "12XB"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Setenv(tc.env, tc.val)
			_, err := Load()
			if err == nil {
				t.Fatalf("expected error for %s=%q", tc.env, tc.val)
			}
		})
	}
}

func TestPipeBufferBounds(t *testing.T) {
	for _, v := range []string{"1K", "32MiB"} {
		t.Setenv("STASH_PIPE_BUFFER", v)
		_, err := Load()
		if err == nil {
			t.Fatalf("expected error for pipe_buffer %q", v)
		}
		if err.Error() != "pipe_buffer must be between 4KiB and 16MiB" {
			t.Fatalf("unexpected error: %v", err)
		}
	}
}

func TestMasterKey(t *testing.T) {
	t.Run("short", func(t *testing.T) {
		t.Setenv("STASH_MASTER_KEY", "c2hvcnQ=")
		_, err := Load()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "master_key")
	})
	t.Run("not_base64", func(t *testing.T) {
		t.Setenv("STASH_MASTER_KEY", "%%%")
		_, err := Load()
		require.Error(t, err)
	})
	t.Run("valid", func(t *testing.T) {
		// 32 zero bytes.
		t.Setenv("STASH_MASTER_KEY", "AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA=")
		cfg, err := Load()
		require.NoError(t, err)
		assert.Len(t, cfg.MasterKeyBytes(), 32)
	})
	t.Run("unset", func(t *testing.T) {
		cfg, err := Load()
		require.NoError(t, err)
		assert.Nil(t, cfg.MasterKeyBytes())
	})
}

func TestSQLiteDSN(t *testing.T) {
	params := "?_journal_mode=WAL&_foreign_keys=on&_busy_timeout=5000&_synchronous=FULL"
	tests := []struct {
		name    string
		dataDir string
		want    string
	}{
		{name: "default_config", dataDir: DefaultAppConfig.DataDir, want: "data/stash.db"},
		{name: "relative_no_slash", dataDir: "data", want: "data/stash.db"},
		{name: "relative_trailing_slash", dataDir: "data/", want: "data/stash.db"},
		{name: "absolute_no_slash", dataDir: "/var/lib/stash", want: "/var/lib/stash/stash.db"},
		{name: "absolute_trailing_slash", dataDir: "/var/lib/stash/", want: "/var/lib/stash/stash.db"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := DefaultAppConfig
			c.DataDir = tt.dataDir
			assert.Equal(t, "file:"+tt.want+params, c.SQLiteDSN())
		})
	}
}

func TestKeyStorePath(t *testing.T) {
	c := DefaultAppConfig
	c.DataDir = "/srv"
	assert.Equal(t, "", c.KeyStorePath())
	c.KeyStore = "bolt"
	assert.Equal(t, "/srv/keys.bolt", c.KeyStorePath())
	c.KeyStore = "badger"
	assert.Equal(t, "/srv/keys.badger", c.KeyStorePath())
}

func TestLoadDefaultError(t *testing.T) {
	// swap out the defaultLoader to return an error
	orig := defaultLoader
	t.Cleanup(func() { defaultLoader = orig })
	defaultLoader = func(k *koanf.Koanf) error {
		assert.NotNil(t, k)
		return assert.AnError
	}
	_, err := Load()
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	if !errors.Is(err, assert.AnError) {
		t.Fatalf("expected assert.AnError, got: %v", err)
	}
}

func TestLoadEnvError(t *testing.T) {
	orig := envLoader
	t.Cleanup(func() { envLoader = orig })
	envLoader = func(k *koanf.Koanf) error {
		assert.NotNil(t, k)
		return assert.AnError
	}
	_, err := Load()
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	if !errors.Is(err, assert.AnError) {
		t.Fatalf("expected assert.AnError, got: %v", err)
	}
}

func TestRegisterValidationFails(t *testing.T) {
	orig := registerValidators
	t.Cleanup(func() { registerValidators = orig })
	registerValidators = func(v *validator.Validate) error {
		assert.NotNil(t, v)
		return assert.AnError
	}
	_, err := Load()
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	if !errors.Is(err, assert.AnError) {
		t.Fatalf("expected assert.AnError, got: %v", err)
	}
}
