// Package config loads runtime settings from defaults, a YAML file, the
// environment and command-line flags, in that order of precedence.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/pflag"
)

// EnvPrefix is stripped from environment variables; a double underscore
// separates nesting levels (RECALL_STORE__REDIS__URL is store.redis.url).
const EnvPrefix = "RECALL_"

type Config struct {
	Server     ServerConfig     `koanf:"server"`
	Log        LogConfig        `koanf:"log"`
	Store      StoreConfig      `koanf:"store"`
	Assessment AssessmentConfig `koanf:"assessment"`
	Telemetry  TelemetryConfig  `koanf:"telemetry"`
	Deck       DeckConfig       `koanf:"deck"`
}

type ServerConfig struct {
	Addr            string        `koanf:"addr" validate:"required"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout" validate:"gt=0"`
	RequestTimeout  time.Duration `koanf:"request_timeout" validate:"gt=0"`
}

type LogConfig struct {
	Level  string `koanf:"level" validate:"oneof=debug info warn error"`
	Format string `koanf:"format" validate:"oneof=json text tint"`
}

// SlogLevel returns Level as a slog.Level.
func (c LogConfig) SlogLevel() slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(c.Level)); err != nil {
		return slog.LevelInfo
	}
	return l
}

type StoreConfig struct {
	Driver     string         `koanf:"driver" validate:"oneof=memory sqlite redis postgres"`
	LockShards int            `koanf:"lock_shards" validate:"min=1"`
	SQLite     SQLiteConfig   `koanf:"sqlite"`
	Redis      RedisConfig    `koanf:"redis"`
	Postgres   PostgresConfig `koanf:"postgres"`
}

type SQLiteConfig struct {
	Path string `koanf:"path"`
}

type RedisConfig struct {
	URL     string        `koanf:"url"`
	LockTTL time.Duration `koanf:"lock_ttl" validate:"gt=0"`
}

type PostgresConfig struct {
	DSN string `koanf:"dsn"`
}

// AssessmentConfig holds the latency thresholds used to grade submit events.
type AssessmentConfig struct {
	FastLatency time.Duration `koanf:"fast_latency" validate:"gt=0"`
	SlowLatency time.Duration `koanf:"slow_latency" validate:"gtfield=FastLatency"`
}

type TelemetryConfig struct {
	Enabled     bool   `koanf:"enabled"`
	Stdout      bool   `koanf:"stdout"`
	ServiceName string `koanf:"service_name" validate:"required"`
}

type DeckConfig struct {
	ReposDir string `koanf:"repos_dir" validate:"required"`
}

// Default returns the built-in settings.
func Default() Config {
	return Config{
		Server: ServerConfig{Addr: ":8080", ShutdownTimeout: 10 * time.Second, RequestTimeout: 30 * time.Second},
		Log:    LogConfig{Level: "info", Format: "json"},
		Store: StoreConfig{
			Driver:     "memory",
			LockShards: 64,
			SQLite:     SQLiteConfig{Path: "recall.db"},
			Redis:      RedisConfig{URL: "redis://localhost:6379/0", LockTTL: 5 * time.Second},
		},
		Assessment: AssessmentConfig{FastLatency: 10 * time.Second, SlowLatency: 30 * time.Second},
		Telemetry:  TelemetryConfig{Stdout: true, ServiceName: "recall"},
		Deck:       DeckConfig{ReposDir: ".recall/repos"},
	}
}

// flagKeys maps command-line flag names onto configuration keys.
var flagKeys = map[string]string{
	"addr":       "server.addr",
	"log-level":  "log.level",
	"log-format": "log.format",
	"store":      "store.driver",
	"sqlite":     "store.sqlite.path",
	"redis":      "store.redis.url",
	"postgres":   "store.postgres.dsn",
	"trace":      "telemetry.enabled",
	"repos-dir":  "deck.repos_dir",
}

// RegisterFlags adds the flags understood by Load to fs.
func RegisterFlags(fs *pflag.FlagSet) {
	d := Default()
	fs.String("config", "", "Path to a YAML configuration file")
	fs.String("addr", d.Server.Addr, "HTTP listen address")
	fs.String("log-level", d.Log.Level, "Log level (debug, info, warn, error)")
	fs.String("log-format", d.Log.Format, "Log format (json, text, tint)")
	fs.String("store", d.Store.Driver, "Progress store (memory, sqlite, redis, postgres)")
	fs.String("sqlite", d.Store.SQLite.Path, "SQLite database file")
	fs.String("redis", d.Store.Redis.URL, "Redis URL")
	fs.String("postgres", d.Store.Postgres.DSN, "Postgres DSN")
	fs.Bool("trace", d.Telemetry.Enabled, "Export traces to stdout")
	fs.String("repos-dir", d.Deck.ReposDir, "Directory for cloned deck repositories")
}

// Load builds the configuration. fs may be nil; when it carries a "config"
// flag that file is read, otherwise configPath is used if non-empty.
func Load(configPath string, fs *pflag.FlagSet) (*Config, error) {
	k := koanf.New(".")

	if fs != nil {
		if f := fs.Lookup("config"); f != nil && f.Changed {
			configPath = f.Value.String()
		}
	}
	if configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	}

	err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		return strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, EnvPrefix)), "__", ".")
	}), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to load environment: %w", err)
	}

	if fs != nil {
		err := k.Load(posflag.ProviderWithFlag(fs, ".", k, func(f *pflag.Flag) (string, interface{}) {
			key, ok := flagKeys[f.Name]
			if !ok {
				return "", nil
			}
			return key, posflag.FlagVal(fs, f)
		}), nil)
		if err != nil {
			return nil, fmt.Errorf("failed to load flags: %w", err)
		}
	}

	cfg := Default()
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks field ranges and the settings each store driver needs.
func (c *Config) Validate() error {
	if err := validator.New(validator.WithRequiredStructEnabled()).Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	switch c.Store.Driver {
	case "sqlite":
		if c.Store.SQLite.Path == "" {
			return errors.New("invalid config: store.sqlite.path is required for the sqlite driver")
		}
	case "redis":
		if c.Store.Redis.URL == "" {
			return errors.New("invalid config: store.redis.url is required for the redis driver")
		}
	case "postgres":
		if c.Store.Postgres.DSN == "" {
			return errors.New("invalid config: store.postgres.dsn is required for the postgres driver")
		}
	}
	return nil
}
