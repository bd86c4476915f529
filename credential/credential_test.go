package credential

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnvKey(t *testing.T) {
	assert.Equal(t, "ANTHROPIC_API_KEY", EnvKey("anthropic"))
	assert.Equal(t, "OPEN_ROUTER_API_KEY", EnvKey("open-router"))
}

func TestMemoryResolver(t *testing.T) {
	ctx := context.Background()
	r := NewMemoryResolver(map[string]string{"deepseek": "ds"})
	v, err := r.GetSecret(ctx, "deepseek")
	require.NoError(t, err)
	assert.Equal(t, "ds", v)

	require.NoError(t, r.SetSecret(ctx, "anthropic", "ak"))
	v, _ = r.GetSecret(ctx, "anthropic")
	assert.Equal(t, "ak", v)

	require.NoError(t, r.DeleteSecret(ctx, "anthropic"))
	v, err = r.GetSecret(ctx, "anthropic")
	require.NoError(t, err)
	assert.Empty(t, v)
}

func TestDotenvResolver_FileRoundTrip(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "secrets.env")
	r := NewDotenvResolver(path)
	r.lookup = func(string) (string, bool) { return "", false }

	v, err := r.GetSecret(ctx, "openrouter")
	require.NoError(t, err)
	assert.Empty(t, v)

	require.NoError(t, r.SetSecret(ctx, "openrouter", "or-key"))
	require.NoError(t, r.SetSecret(ctx, "deepseek", "ds-key"))
	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	fresh := NewDotenvResolver(path)
	fresh.lookup = r.lookup
	v, err = fresh.GetSecret(ctx, "openrouter")
	require.NoError(t, err)
	assert.Equal(t, "or-key", v)

	require.NoError(t, fresh.DeleteSecret(ctx, "openrouter"))
	v, _ = fresh.GetSecret(ctx, "openrouter")
	assert.Empty(t, v)
	v, _ = fresh.GetSecret(ctx, "deepseek")
	assert.Equal(t, "ds-key", v)
}

func TestDotenvResolver_EnvironmentWins(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "secrets.env")
	r := NewDotenvResolver(path)
	require.NoError(t, r.SetSecret(ctx, "anthropic", "from-file"))

	r.lookup = func(k string) (string, bool) {
		if k == "ANTHROPIC_API_KEY" {
			return "from-env", true
		}
		return "", false
	}
	v, err := r.GetSecret(ctx, "anthropic")
	require.NoError(t, err)
	assert.Equal(t, "from-env", v)
}

func TestEnvResolver(t *testing.T) {
	ctx := context.Background()
	r := NewEnvResolver()
	t.Setenv("DEEPSEEK_API_KEY", "")

	v, err := r.GetSecret(ctx, "deepseek")
	require.NoError(t, err)
	assert.Empty(t, v)

	require.NoError(t, r.SetSecret(ctx, "deepseek", "sk-1"))
	v, _ = r.GetSecret(ctx, "deepseek")
	assert.Equal(t, "sk-1", v)

	require.NoError(t, r.DeleteSecret(ctx, "deepseek"))
	_, ok := os.LookupEnv("DEEPSEEK_API_KEY")
	assert.False(t, ok)
}
