package commands

import (
	"bytes"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, baseURL string) string {
	t.Helper()
	dir := t.TempDir()
	body := fmt.Sprintf(`log:
  level: disabled
store:
  backend: file
  path: %s
secrets:
  backend: dotenv
  path: %s
defaults:
  provider: fake
  model: llama3
providers:
  - id: fake
    base_url: %s
    enabled: true
    kind: local
`, filepath.Join(dir, "convs.json"), filepath.Join(dir, ".env"), baseURL)
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func run(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	configPath, logLevel, providerArg, modelArg = "", "", "", ""
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetIn(strings.NewReader(stdin))
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

func fakeOllama(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/generate":
			fmt.Fprintln(w, `{"response":"Hel","done":false}`)
			fmt.Fprintln(w, `{"response":"lo","done":false}`)
			fmt.Fprintln(w, `{"response":"","done":true}`)
		case "/api/tags":
			fmt.Fprint(w, `{"models":[{"name":"llama3"},{"name":"mistral"}]}`)
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestAsk_PrintsReplyAndStoresConversation(t *testing.T) {
	cfg := writeConfig(t, fakeOllama(t).URL)

	out, err := run(t, "", "--config", cfg, "ask", "Say", "hello")
	require.NoError(t, err)
	assert.Equal(t, "Hello\n", out)

	out, err = run(t, "", "--config", cfg, "conversations", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "* ")
	assert.Contains(t, out, "Say hello")
}

func TestChat_SlashCommands(t *testing.T) {
	cfg := writeConfig(t, fakeOllama(t).URL)

	out, err := run(t, "hi\n/new\n/title Renamed\n/list\n/quit\n", "--config", cfg, "chat")
	require.NoError(t, err)
	assert.Contains(t, out, "Hello")
	assert.Contains(t, out, "new conversation")
	assert.Contains(t, out, "Renamed")
	assert.Contains(t, out, "hi")
}

func TestModels(t *testing.T) {
	cfg := writeConfig(t, fakeOllama(t).URL)

	out, err := run(t, "", "--config", cfg, "models")
	require.NoError(t, err)
	assert.Contains(t, out, "llama3")
	assert.Contains(t, out, "mistral")
}

func TestProviders_ShowsKeyState(t *testing.T) {
	cfg := writeConfig(t, "http://127.0.0.1:1")
	t.Setenv("ANTHROPIC_API_KEY", "")

	out, err := run(t, "", "--config", cfg, "providers")
	require.NoError(t, err)
	assert.Contains(t, out, "fake")
	assert.Regexp(t, `anthropic\s.*missing`, out)

	_, err = run(t, "sk-test\n", "--config", cfg, "secrets", "set", "anthropic")
	require.NoError(t, err)
	out, err = run(t, "", "--config", cfg, "providers")
	require.NoError(t, err)
	assert.Regexp(t, `anthropic\s.*set`, out)

	_, err = run(t, "", "--config", cfg, "secrets", "delete", "anthropic")
	require.NoError(t, err)
}

func TestConversations_SwitchUnknown(t *testing.T) {
	cfg := writeConfig(t, "http://127.0.0.1:1")
	_, err := run(t, "", "--config", cfg, "conversations", "switch", "missing")
	assert.Error(t, err)
}
