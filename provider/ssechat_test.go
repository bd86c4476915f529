package provider

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/klejdi94/relay/core"
	"github.com/klejdi94/relay/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newChat(t *testing.T, dialect string, key string, h http.HandlerFunc) *SSEChatAdapter {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	d, ok := LookupDialect(dialect)
	require.True(t, ok)
	desc := Descriptor{ID: "chat", BaseURL: srv.URL, RequiresKey: true, Enabled: true, Kind: KindSSEChat, Dialect: dialect}
	return NewSSEChatAdapter(desc, d, key, transport.New(srv.Client()), testSettings())
}

func writeEvents(w http.ResponseWriter, lines ...string) {
	w.Header().Set("Content-Type", "text/event-stream")
	_, _ = io.WriteString(w, strings.Join(lines, "\n")+"\n")
}

func collectDeltas(t *testing.T, s *Stream) []core.Delta {
	t.Helper()
	var got []core.Delta
	for s.Next() {
		got = append(got, s.Current())
	}
	require.NoError(t, s.Err())
	return got
}

func TestSSEChat_OpenAIDialect(t *testing.T) {
	a := newChat(t, DialectOpenAI, "sk-test", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "gpt-x", body["model"])
		assert.Equal(t, true, body["stream"])
		msgs := body["messages"].([]any)
		require.Len(t, msgs, 1)
		assert.Equal(t, "user", msgs[0].(map[string]any)["role"])
		assert.Equal(t, "hello", msgs[0].(map[string]any)["content"])
		_, hasMax := body["max_tokens"]
		assert.False(t, hasMax)

		writeEvents(w,
			`: keep-alive`,
			`data: {"choices":[{"delta":{"role":"assistant"}}]}`,
			`data: {"choices":[{"delta":{"content":"Hi"},"finish_reason":null}]}`,
			`data: {broken`,
			`data: {"choices":[{"delta":{"content":" there"},"finish_reason":null}]}`,
			`data: [DONE]`,
		)
	})
	s, err := a.Stream(context.Background(), core.NewRequest("chat", "gpt-x", "hello"))
	require.NoError(t, err)
	assert.Equal(t, []core.Delta{{Text: "Hi"}, {Text: "Hi there"}, {Text: "Hi there", Final: true}}, collectDeltas(t, s))
}

func TestSSEChat_OpenAIFinishReasonEnds(t *testing.T) {
	a := newChat(t, DialectOpenAI, "k", func(w http.ResponseWriter, r *http.Request) {
		writeEvents(w,
			`data: {"choices":[{"delta":{"content":"ok"},"finish_reason":"stop"}]}`,
			`data: {"choices":[{"delta":{"content":"ignored"}}]}`,
		)
	})
	text, err := a.Complete(context.Background(), core.NewRequest("chat", "m", "p"))
	require.NoError(t, err)
	assert.Equal(t, "ok", text)
}

func TestSSEChat_AnthropicDialect(t *testing.T) {
	a := newChat(t, DialectAnthropic, "ak", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/messages", r.URL.Path)
		assert.Equal(t, "ak", r.Header.Get("x-api-key"))
		assert.Equal(t, "2023-06-01", r.Header.Get("anthropic-version"))
		assert.Empty(t, r.Header.Get("Authorization"))
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, 1024.0, body["max_tokens"])

		writeEvents(w,
			`event: message_start`,
			`data: {"type":"message_start","message":{"id":"m1"}}`,
			`event: content_block_delta`,
			`data: {"type":"content_block_delta","delta":{"type":"text_delta","text":"Hey"}}`,
			`data: {"type":"content_block_delta","delta":{"type":"text_delta","text":"!"}}`,
			`data: {"type":"message_delta","delta":{"stop_reason":"end_turn"}}`,
			`event: message_stop`,
			`data: {"type":"message_stop"}`,
		)
	})
	s, err := a.Stream(context.Background(), core.NewRequest("chat", "claude", "p"))
	require.NoError(t, err)
	assert.Equal(t, []core.Delta{{Text: "Hey"}, {Text: "Hey!"}, {Text: "Hey!", Final: true}}, collectDeltas(t, s))
}

func TestSSEChat_MissingKey(t *testing.T) {
	called := false
	a := newChat(t, DialectOpenAI, "", func(http.ResponseWriter, *http.Request) { called = true })
	_, err := a.Stream(context.Background(), core.NewRequest("chat", "m", "p"))
	var missing *core.AuthenticationMissingError
	require.True(t, errors.As(err, &missing))
	_, err = a.ListModels(context.Background())
	require.True(t, errors.As(err, &missing))
	assert.False(t, called)
}

func TestSSEChat_ListModels(t *testing.T) {
	a := newChat(t, DialectOpenAI, "k", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/models", r.URL.Path)
		_, _ = io.WriteString(w, `{"data":[{"id":"a/one","name":"One","context_length":8192},{"id":"b"},{"name":"no id"}]}`)
	})
	models, err := a.ListModels(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []ModelInfo{
		{ID: "a/one", Name: "One", ProviderID: "chat", ContextLength: 8192},
		{ID: "b", Name: "b", ProviderID: "chat"},
	}, models)
}

func TestDialect_Decode(t *testing.T) {
	d, _ := LookupDialect(DialectOpenAI)
	f, ok, err := d.decode([]byte("data:[DONE]"))
	require.NoError(t, err)
	assert.True(t, ok)
	assert.True(t, f.done)

	_, ok, err = d.decode([]byte("id: 7"))
	assert.NoError(t, err)
	assert.False(t, ok)

	_, _, err = d.decode([]byte("data: nope"))
	assert.Error(t, err)
}
