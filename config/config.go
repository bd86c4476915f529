// Package config loads the relay configuration from a YAML file and the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/klejdi94/relay/provider"
	"gopkg.in/yaml.v3"
)

// Store backends.
const (
	StoreMemory   = "memory"
	StoreFile     = "file"
	StoreRedis    = "redis"
	StorePostgres = "postgres"
	StoreSQLite   = "sqlite"
	StoreS3       = "s3"
)

// Secret backends.
const (
	SecretsEnv    = "env"
	SecretsDotenv = "dotenv"
)

// Config is the full relay configuration.
type Config struct {
	Log         LogConfig             `yaml:"log"`
	Transport   TransportConfig       `yaml:"transport"`
	HealthCheck bool                  `yaml:"health_check"`
	RateLimit   RateLimitConfig       `yaml:"rate_limit"`
	Breaker     BreakerConfig         `yaml:"circuit_breaker"`
	Cache       CacheConfig           `yaml:"cache"`
	Redis       RedisConfig           `yaml:"redis"`
	Store       StoreConfig           `yaml:"store"`
	Secrets     SecretsConfig         `yaml:"secrets"`
	Analytics   AnalyticsConfig       `yaml:"analytics"`
	Defaults    DefaultsConfig        `yaml:"defaults"`
	Providers   []provider.Descriptor `yaml:"providers"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Pretty bool   `yaml:"pretty"`
	// File, when set, receives logs instead of stderr.
	File string `yaml:"file"`
}

type TransportConfig struct {
	Timeout     time.Duration `yaml:"timeout"`
	MaxRetries  int           `yaml:"max_retries"`
	BackoffStep time.Duration `yaml:"backoff_step"`
}

// RateLimitConfig allows Limit streams per Window for each provider. Limit 0 disables it.
type RateLimitConfig struct {
	Limit  int           `yaml:"limit"`
	Window time.Duration `yaml:"window"`
}

// BreakerConfig opens a provider's circuit when its failure ratio reaches Threshold.
// Threshold 0 disables it.
type BreakerConfig struct {
	Threshold float64       `yaml:"threshold"`
	Timeout   time.Duration `yaml:"timeout"`
}

// CacheConfig caches final completions keyed by request. Backend "" disables it.
type CacheConfig struct {
	Backend string        `yaml:"backend"`
	TTL     time.Duration `yaml:"ttl"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type StoreConfig struct {
	Backend string `yaml:"backend"`
	// Path is the file or sqlite database path.
	Path string `yaml:"path"`
	// DSN is the postgres connection string.
	DSN   string `yaml:"dsn"`
	Table string `yaml:"table"`
	Key   string `yaml:"key"`

	Bucket   string `yaml:"bucket"`
	Prefix   string `yaml:"prefix"`
	Endpoint string `yaml:"endpoint"`
}

type SecretsConfig struct {
	Backend string `yaml:"backend"`
	Path    string `yaml:"path"`
}

type AnalyticsConfig struct {
	Enabled    bool   `yaml:"enabled"`
	Backend    string `yaml:"backend"`
	Addr       string `yaml:"addr"`
	MaxRecords int    `yaml:"max_records"`
	DSN        string `yaml:"dsn"`
}

// DefaultsConfig picks the provider and model used when a command names none.
type DefaultsConfig struct {
	Provider string `yaml:"provider"`
	Model    string `yaml:"model"`
}

// Dir returns the relay home directory (~/.relay).
func Dir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".relay"
	}
	return filepath.Join(home, ".relay")
}

// DefaultPath is the config file read when no path is given.
func DefaultPath() string {
	return filepath.Join(Dir(), "config.yaml")
}

// Default returns the configuration used when no file is present.
func Default() Config {
	dir := Dir()
	return Config{
		Log: LogConfig{Level: "info"},
		Transport: TransportConfig{
			Timeout:     30 * time.Second,
			MaxRetries:  3,
			BackoffStep: time.Second,
		},
		RateLimit: RateLimitConfig{Window: time.Minute},
		Breaker:   BreakerConfig{Timeout: 30 * time.Second},
		Cache:     CacheConfig{TTL: 10 * time.Minute},
		Redis:     RedisConfig{Addr: "localhost:6379"},
		Store: StoreConfig{
			Backend: StoreFile,
			Path:    filepath.Join(dir, "conversations.json"),
		},
		Secrets:   SecretsConfig{Backend: SecretsDotenv, Path: filepath.Join(dir, ".env")},
		Analytics: AnalyticsConfig{Backend: StoreMemory, Addr: ":8080", MaxRecords: 10000},
		Defaults:  DefaultsConfig{Provider: "ollama", Model: "llama3"},
	}
}

// Load reads path over the defaults and applies environment overrides. An
// empty path reads DefaultPath; a missing default file is not an error.
func Load(path string) (Config, error) {
	return load(path, os.LookupEnv)
}

func load(path string, lookup func(string) (string, bool)) (Config, error) {
	cfg := Default()
	explicit := path != ""
	if !explicit {
		path = DefaultPath()
	}
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config file %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist) && !explicit:
	default:
		return Config{}, fmt.Errorf("read config file: %w", err)
	}
	cfg.applyEnv(lookup)
	if err := cfg.resolvePaths(); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) {
	set := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	set("RELAY_LOG_LEVEL", &c.Log.Level)
	set("RELAY_STORE_BACKEND", &c.Store.Backend)
	set("RELAY_STORE_DSN", &c.Store.DSN)
	set("RELAY_STORE_PATH", &c.Store.Path)
	set("RELAY_REDIS_ADDR", &c.Redis.Addr)
}

func (c *Config) resolvePaths() error {
	for _, p := range []*string{&c.Store.Path, &c.Secrets.Path, &c.Log.File} {
		expanded, err := expandHome(*p)
		if err != nil {
			return err
		}
		*p = expanded
	}
	return nil
}

func expandHome(path string) (string, error) {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("expand %s: %w", path, err)
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~")), nil
}

// Validate reports the first invalid setting.
func (c Config) Validate() error {
	switch c.Store.Backend {
	case StoreMemory, StoreFile, StoreSQLite:
	case StoreRedis:
		if c.Redis.Addr == "" {
			return errors.New("store: redis backend needs redis.addr")
		}
	case StorePostgres:
		if c.Store.DSN == "" {
			return errors.New("store: postgres backend needs store.dsn")
		}
	case StoreS3:
		if c.Store.Bucket == "" {
			return errors.New("store: s3 backend needs store.bucket")
		}
	default:
		return fmt.Errorf("store: unknown backend %q", c.Store.Backend)
	}
	if (c.Store.Backend == StoreFile || c.Store.Backend == StoreSQLite) && c.Store.Path == "" {
		return fmt.Errorf("store: %s backend needs store.path", c.Store.Backend)
	}
	switch c.Secrets.Backend {
	case SecretsEnv, SecretsDotenv:
	default:
		return fmt.Errorf("secrets: unknown backend %q", c.Secrets.Backend)
	}
	switch c.Cache.Backend {
	case "", StoreMemory, StoreRedis:
	default:
		return fmt.Errorf("cache: unknown backend %q", c.Cache.Backend)
	}
	switch c.Analytics.Backend {
	case StoreMemory, StoreRedis, StorePostgres:
	default:
		return fmt.Errorf("analytics: unknown backend %q", c.Analytics.Backend)
	}
	if c.Transport.Timeout <= 0 {
		return errors.New("transport: timeout must be positive")
	}
	if c.Transport.MaxRetries < 0 {
		return errors.New("transport: max_retries must not be negative")
	}
	if c.RateLimit.Limit > 0 && c.RateLimit.Window <= 0 {
		return errors.New("rate_limit: window must be positive")
	}
	if c.Breaker.Threshold < 0 || c.Breaker.Threshold > 1 {
		return errors.New("circuit_breaker: threshold must be within [0, 1]")
	}
	for i, d := range c.Providers {
		if d.ID == "" || d.BaseURL == "" {
			return fmt.Errorf("providers[%d]: id and base_url are required", i)
		}
		if d.Timeout < 0 || (d.MaxRetries != nil && *d.MaxRetries < 0) {
			return fmt.Errorf("providers[%d]: timeout and max_retries must not be negative", i)
		}
	}
	return nil
}
