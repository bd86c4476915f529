package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/klejdi94/relay/provider"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func noEnv(string) (string, bool) { return "", false }

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestDefault_IsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 30*time.Second, cfg.Transport.Timeout)
	assert.Equal(t, 3, cfg.Transport.MaxRetries)
	assert.Equal(t, StoreFile, cfg.Store.Backend)
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	path := writeFile(t, `
log:
  level: debug
transport:
  timeout: 5s
  max_retries: 0
store:
  backend: sqlite
  path: /tmp/relay.db
rate_limit:
  limit: 10
  window: 1s
providers:
  - id: local-vllm
    base_url: http://gpu:8000
    enabled: true
    kind: sse-chat
    dialect: openai
`)
	cfg, err := load(path, noEnv)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, 5*time.Second, cfg.Transport.Timeout)
	assert.Equal(t, 0, cfg.Transport.MaxRetries)
	assert.Equal(t, time.Second, cfg.Transport.BackoffStep)
	assert.Equal(t, StoreSQLite, cfg.Store.Backend)
	assert.Equal(t, "/tmp/relay.db", cfg.Store.Path)
	assert.Equal(t, 10, cfg.RateLimit.Limit)
	require.Len(t, cfg.Providers, 1)
	assert.Equal(t, provider.Descriptor{
		ID: "local-vllm", BaseURL: "http://gpu:8000", Enabled: true,
		Kind: provider.KindSSEChat, Dialect: "openai",
	}, cfg.Providers[0])
}

func TestLoad_ProviderLimits(t *testing.T) {
	path := writeFile(t, `
providers:
  - id: slow
    base_url: http://gpu:8000
    enabled: true
    kind: local
    timeout: 2m
    max_retries: 0
  - id: plain
    base_url: http://other:8000
    kind: local
`)
	cfg, err := load(path, noEnv)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())
	require.Len(t, cfg.Providers, 2)

	slow := cfg.Providers[0]
	assert.Equal(t, 2*time.Minute, slow.Timeout)
	require.NotNil(t, slow.MaxRetries)
	assert.Equal(t, 0, *slow.MaxRetries)

	plain := cfg.Providers[1]
	assert.Zero(t, plain.Timeout)
	assert.Nil(t, plain.MaxRetries)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := writeFile(t, "store:\n  backend: file\n")
	env := map[string]string{
		"RELAY_LOG_LEVEL":     "warn",
		"RELAY_STORE_BACKEND": "postgres",
		"RELAY_STORE_DSN":     "postgres://localhost/relay",
		"RELAY_REDIS_ADDR":    "redis:6380",
	}
	cfg, err := load(path, func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	})
	require.NoError(t, err)
	assert.Equal(t, "warn", cfg.Log.Level)
	assert.Equal(t, StorePostgres, cfg.Store.Backend)
	assert.Equal(t, "postgres://localhost/relay", cfg.Store.DSN)
	assert.Equal(t, "redis:6380", cfg.Redis.Addr)
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	_, err := load(filepath.Join(t.TempDir(), "nope.yaml"), noEnv)
	assert.Error(t, err)
}

func TestLoad_MissingDefaultFile(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	cfg, err := load("", noEnv)
	require.NoError(t, err)
	assert.Equal(t, Default().Transport, cfg.Transport)
}

func TestLoad_InvalidYAML(t *testing.T) {
	_, err := load(writeFile(t, "log: [unclosed"), noEnv)
	assert.Error(t, err)
}

func TestLoad_ExpandsHome(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	cfg, err := load(writeFile(t, "store:\n  path: ~/convs.json\n"), noEnv)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, "convs.json"), cfg.Store.Path)
}

func TestConfig_Validate(t *testing.T) {
	cases := map[string]func(*Config){
		"unknown store":     func(c *Config) { c.Store.Backend = "mongo" },
		"postgres no dsn":   func(c *Config) { c.Store.Backend = StorePostgres },
		"s3 no bucket":      func(c *Config) { c.Store.Backend = StoreS3 },
		"file no path":      func(c *Config) { c.Store.Path = "" },
		"unknown secrets":   func(c *Config) { c.Secrets.Backend = "vault" },
		"unknown cache":     func(c *Config) { c.Cache.Backend = "memcached" },
		"unknown analytics": func(c *Config) { c.Analytics.Backend = "sqlite" },
		"zero timeout":      func(c *Config) { c.Transport.Timeout = 0 },
		"negative retries":  func(c *Config) { c.Transport.MaxRetries = -1 },
		"rate no window":    func(c *Config) { c.RateLimit = RateLimitConfig{Limit: 1} },
		"breaker over one":  func(c *Config) { c.Breaker.Threshold = 1.5 },
		"provider no url":   func(c *Config) { c.Providers = []provider.Descriptor{{ID: "x"}} },
		"provider negative timeout": func(c *Config) {
			c.Providers = []provider.Descriptor{{ID: "x", BaseURL: "http://x", Timeout: -time.Second}}
		},
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := Default()
			mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
