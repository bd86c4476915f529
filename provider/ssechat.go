package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/klejdi94/relay/core"
	"github.com/klejdi94/relay/transport"
	"github.com/tidwall/gjson"
)

var errMalformedEvent = errors.New("event data is not valid JSON")

// SSEChatAdapter speaks chat-completion APIs that stream server-sent events.
type SSEChatAdapter struct {
	desc     Descriptor
	dialect  Dialect
	apiKey   string
	sender   Sender
	settings Settings
}

// NewSSEChatAdapter creates an adapter for an sse-chat descriptor using the given dialect.
func NewSSEChatAdapter(desc Descriptor, dialect Dialect, apiKey string, sender Sender, settings Settings) *SSEChatAdapter {
	return &SSEChatAdapter{desc: desc, dialect: dialect, apiKey: apiKey, sender: sender, settings: settings}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

func (a *SSEChatAdapter) header() (http.Header, error) {
	if a.desc.RequiresKey && a.apiKey == "" {
		return nil, &core.AuthenticationMissingError{ProviderID: a.desc.ID}
	}
	h := jsonHeader()
	if a.apiKey != "" {
		h.Set(a.dialect.AuthHeader, a.dialect.AuthPrefix+a.apiKey)
	}
	for k, v := range a.dialect.Headers {
		h.Set(k, v)
	}
	return h, nil
}

func (a *SSEChatAdapter) requestBody(req core.CompletionRequest) ([]byte, error) {
	body := map[string]any{
		"model":    req.Model,
		"messages": []chatMessage{{Role: string(core.RoleUser), Content: req.Prompt}},
		"stream":   true,
	}
	if req.Options.Temperature != 0 {
		body["temperature"] = req.Options.Temperature
	}
	if req.Options.TopP != 0 {
		body["top_p"] = req.Options.TopP
	}
	maxTokens := req.Options.MaxTokens
	if maxTokens == 0 {
		maxTokens = a.dialect.DefaultMaxTokens
	}
	if maxTokens != 0 && a.dialect.MaxTokensKey != "" {
		body[a.dialect.MaxTokensKey] = maxTokens
	}
	return json.Marshal(body)
}

// Stream implements Adapter.
func (a *SSEChatAdapter) Stream(ctx context.Context, req core.CompletionRequest) (*Stream, error) {
	h, err := a.header()
	if err != nil {
		return nil, err
	}
	h.Set("Accept", "text/event-stream")
	payload, err := a.requestBody(req)
	if err != nil {
		return nil, fmt.Errorf("%s: marshal request: %w", a.desc.ID, err)
	}
	resp, err := a.sender.Send(ctx, a.desc.BaseURL+a.dialect.ChatPath,
		transport.RequestSpec{Method: http.MethodPost, Header: h, Body: payload},
		a.settings.Timeout, a.settings.MaxRetries)
	if err != nil {
		return nil, err
	}
	return newLineStream(ctx, resp.Body, a.desc.ID, a.dialect.decode, a.settings.Logger), nil
}

// Complete implements Adapter.
func (a *SSEChatAdapter) Complete(ctx context.Context, req core.CompletionRequest) (string, error) {
	s, err := a.Stream(ctx, req)
	if err != nil {
		return "", err
	}
	return Collect(s)
}

// ListModels implements Adapter.
func (a *SSEChatAdapter) ListModels(ctx context.Context) ([]ModelInfo, error) {
	if a.dialect.ModelsPath == "" {
		return nil, nil
	}
	h, err := a.header()
	if err != nil {
		return nil, err
	}
	h.Del("Content-Type")
	resp, err := a.sender.Send(ctx, a.desc.BaseURL+a.dialect.ModelsPath,
		transport.RequestSpec{Method: http.MethodGet, Header: h},
		a.settings.Timeout, a.settings.MaxRetries)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%s: read models: %w", a.desc.ID, err)
	}
	if !gjson.ValidBytes(raw) {
		return nil, fmt.Errorf("%s: decode models: %w", a.desc.ID, errMalformedEvent)
	}
	var out []ModelInfo
	gjson.GetBytes(raw, "data").ForEach(func(_, m gjson.Result) bool {
		id := m.Get("id").String()
		if id == "" {
			return true
		}
		name := m.Get("display_name").String()
		if name == "" {
			name = m.Get("name").String()
		}
		if name == "" {
			name = id
		}
		ctxLen := m.Get("context_length").Int()
		if ctxLen == 0 {
			ctxLen = m.Get("context_window").Int()
		}
		out = append(out, ModelInfo{ID: id, Name: name, ProviderID: a.desc.ID, ContextLength: int(ctxLen)})
		return true
	})
	return out, nil
}

// NewAdapter builds the adapter for desc according to its kind and dialect.
func NewAdapter(desc Descriptor, apiKey string, sender Sender, settings Settings) (Adapter, error) {
	switch desc.Kind {
	case KindLocal:
		return NewLocalAdapter(desc, apiKey, sender, settings), nil
	case KindSSEChat, "":
		name := desc.Dialect
		if name == "" {
			name = DialectOpenAI
		}
		d, ok := LookupDialect(name)
		if !ok {
			return nil, fmt.Errorf("provider %s: unknown dialect %q", desc.ID, desc.Dialect)
		}
		return NewSSEChatAdapter(desc, d, apiKey, sender, settings), nil
	default:
		return nil, fmt.Errorf("provider %s: unknown kind %q", desc.ID, desc.Kind)
	}
}
