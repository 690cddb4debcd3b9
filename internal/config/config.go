// Package config provides layered configuration loading for the stash tool.
// It merges struct defaults -> STASH_* environment variables, then validates.
package config

import (
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/go-viper/mapstructure/v2"
	"github.com/haukened/stash/internal/domain"
	"github.com/knadh/koanf/providers/env/v2"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

const envPrefix = "STASH_"

// Pipe buffer bounds.
const (
	MinPipeBuffer ByteSize = 4 << 10
	MaxPipeBuffer ByteSize = 16 << 20
)

// minMasterKey mirrors keys.MinMasterKeySize; config does not import keys.
const minMasterKey = 32

// Config holds the merged runtime configuration.
type Config struct {
	DataDir               string        `koanf:"data_dir" validate:"required,safe_path"`
	PublicDir             string        `koanf:"public_dir" validate:"required,safe_path"`
	KeyStore              string        `koanf:"keystore" validate:"required,oneof=sqlite bolt badger"`
	MasterKey             string        `koanf:"master_key" validate:"omitempty,base64"`
	PublicBackend         string        `koanf:"public_backend" validate:"required,oneof=mediastore legacy"`
	AllowPublicEncryption bool          `koanf:"allow_public_encryption"`
	IOWorkers             int           `koanf:"io_workers" validate:"min=1,max=1024"`
	PipeBuffer            ByteSize      `koanf:"pipe_buffer"`
	CacheMaxAge           time.Duration `koanf:"cache_max_age" validate:"gt=0"`
	JanitorInterval       time.Duration `koanf:"janitor_interval" validate:"gt=0"`
	MetricsFlush          time.Duration `koanf:"metrics_flush" validate:"gt=0"`
	LogLevel              string        `koanf:"log_level" validate:"required,loglevel"`
	DefaultLocation       string        `koanf:"default_location" validate:"required,location"`
}

// DefaultAppConfig is the lowest-precedence layer.
var DefaultAppConfig = Config{
	DataDir:               "./data",
	PublicDir:             "./data/public",
	KeyStore:              "sqlite",
	PublicBackend:         "mediastore",
	AllowPublicEncryption: false,
	IOWorkers:             16,
	PipeBuffer:            64 << 10,
	CacheMaxAge:           24 * time.Hour,
	JanitorInterval:       10 * time.Minute,
	MetricsFlush:          5 * time.Second,
	LogLevel:              "info",
	DefaultLocation:       "internal",
}

var defaultLoader = func(k *koanf.Koanf) error {
	return k.Load(structs.Provider(DefaultAppConfig, "koanf"), nil)
}

var envLoader = func(k *koanf.Koanf) error {
	return k.Load(env.Provider(".", env.Opt{
		Prefix: envPrefix,
		TransformFunc: func(key, value string) (string, any) {
			return strings.ToLower(strings.TrimPrefix(key, envPrefix)), value
		},
	}), nil)
}

var registerValidators = func(v *validator.Validate) error {
	rules := map[string]validator.Func{
		"safe_path": validSafePath,
		"loglevel":  validLogLevel,
		"location":  validLocation,
	}
	for tag, fn := range rules {
		if err := v.RegisterValidation(tag, fn); err != nil {
			return fmt.Errorf("register %s: %w", tag, err)
		}
	}
	return nil
}

// Load builds the configuration from defaults and the environment and
// validates the result.
func Load() (*Config, error) {
	k := koanf.New(".")
	if err := defaultLoader(k); err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}
	if err := envLoader(k); err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}

	var cfg Config
	err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{
		Tag: "koanf",
		DecoderConfig: &mapstructure.DecoderConfig{
			DecodeHook: mapstructure.ComposeDecodeHookFunc(
				StringToByteSize(),
				mapstructure.StringToTimeDurationHookFunc(),
			),
			WeaklyTypedInput: true,
			Result:           &cfg,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	v := validator.New(validator.WithRequiredStructEnabled())
	if err := registerValidators(v); err != nil {
		return nil, err
	}
	if err := v.Struct(&cfg); err != nil {
		return nil, err
	}
	if err := cfg.check(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// check enforces rules the struct tags cannot express.
func (c *Config) check() error {
	if c.PipeBuffer < MinPipeBuffer || c.PipeBuffer > MaxPipeBuffer {
		return errors.New("pipe_buffer must be between 4KiB and 16MiB")
	}
	if c.MasterKey != "" {
		mk, _ := base64.StdEncoding.DecodeString(c.MasterKey)
		if len(mk) < minMasterKey {
			return fmt.Errorf("master_key must decode to at least %d bytes", minMasterKey)
		}
	}
	return nil
}

// MasterKeyBytes returns the decoded master key, or nil when unset.
func (c *Config) MasterKeyBytes() []byte {
	if c.MasterKey == "" {
		return nil
	}
	mk, err := base64.StdEncoding.DecodeString(c.MasterKey)
	if err != nil {
		return nil
	}
	return mk
}

// Location parses DefaultLocation. Load has already validated it.
func (c *Config) Location() domain.StorageLocation {
	loc, err := domain.ParseLocation(c.DefaultLocation)
	if err != nil {
		return domain.NewLocation(domain.InternalAppStorage, "")
	}
	return loc
}

// SlogLevel maps LogLevel to a slog level.
func (c *Config) SlogLevel() slog.Level {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo
	}
	return lvl
}

// SQLiteDSN returns the DSN of the shared database under DataDir.
func (c *Config) SQLiteDSN() string {
	params := "?_journal_mode=WAL&_foreign_keys=on&_busy_timeout=5000&_synchronous=FULL"
	return "file:" + filepath.Join(c.DataDir, "stash.db") + params
}

// KeyStorePath returns the on-disk path of the bolt or badger key store.
func (c *Config) KeyStorePath() string {
	switch c.KeyStore {
	case "bolt":
		return filepath.Join(c.DataDir, "keys.bolt")
	case "badger":
		return filepath.Join(c.DataDir, "keys.badger")
	}
	return ""
}

func validSafePath(fl validator.FieldLevel) bool {
	p := fl.Field().String()
	if p == "" {
		return false
	}
	for _, part := range strings.Split(filepath.ToSlash(p), "/") {
		if part == ".." {
			return false
		}
	}
	clean := filepath.Clean(p)
	return clean != "." && clean != string(filepath.Separator)
}

func validLogLevel(fl validator.FieldLevel) bool {
	switch strings.ToLower(fl.Field().String()) {
	case "debug", "info", "warn", "error":
		return true
	}
	return false
}

func validLocation(fl validator.FieldLevel) bool {
	_, err := domain.ParseLocation(fl.Field().String())
	return err == nil
}
