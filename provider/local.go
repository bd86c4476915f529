package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/klejdi94/relay/core"
	"github.com/klejdi94/relay/transport"
)

// LocalAdapter speaks the newline-delimited JSON protocol of a local model server.
type LocalAdapter struct {
	desc     Descriptor
	apiKey   string
	sender   Sender
	settings Settings
}

// NewLocalAdapter creates an adapter for a local-kind descriptor.
func NewLocalAdapter(desc Descriptor, apiKey string, sender Sender, settings Settings) *LocalAdapter {
	return &LocalAdapter{desc: desc, apiKey: apiKey, sender: sender, settings: settings}
}

type localGenerateRequest struct {
	Model   string        `json:"model"`
	Prompt  string        `json:"prompt"`
	Stream  bool          `json:"stream"`
	Options *localOptions `json:"options,omitempty"`
}

type localOptions struct {
	Temperature float64 `json:"temperature,omitempty"`
	TopP        float64 `json:"top_p,omitempty"`
	NumPredict  int     `json:"num_predict,omitempty"`
}

type localChunk struct {
	Model    string `json:"model"`
	Response string `json:"response"`
	Done     bool   `json:"done"`
}

type localTags struct {
	Models []struct {
		Name  string `json:"name"`
		Model string `json:"model"`
	} `json:"models"`
}

func (a *LocalAdapter) header() (http.Header, error) {
	if a.desc.RequiresKey && a.apiKey == "" {
		return nil, &core.AuthenticationMissingError{ProviderID: a.desc.ID}
	}
	h := jsonHeader()
	if a.apiKey != "" {
		h.Set("Authorization", "Bearer "+a.apiKey)
	}
	return h, nil
}

// Stream implements Adapter.
func (a *LocalAdapter) Stream(ctx context.Context, req core.CompletionRequest) (*Stream, error) {
	h, err := a.header()
	if err != nil {
		return nil, err
	}
	body := localGenerateRequest{Model: req.Model, Prompt: req.Prompt, Stream: true}
	if o := req.Options; o.Temperature != 0 || o.TopP != 0 || o.MaxTokens != 0 {
		body.Options = &localOptions{Temperature: o.Temperature, TopP: o.TopP, NumPredict: o.MaxTokens}
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("local: marshal request: %w", err)
	}
	resp, err := a.sender.Send(ctx, a.desc.BaseURL+"/api/generate",
		transport.RequestSpec{Method: http.MethodPost, Header: h, Body: payload},
		a.settings.Timeout, a.settings.MaxRetries)
	if err != nil {
		return nil, err
	}
	return newLineStream(ctx, resp.Body, a.desc.ID, decodeLocalLine, a.settings.Logger), nil
}

func decodeLocalLine(line []byte) (frame, bool, error) {
	var c localChunk
	if err := json.Unmarshal(line, &c); err != nil {
		return frame{}, false, err
	}
	return frame{text: c.Response, done: c.Done}, true, nil
}

// Complete implements Adapter.
func (a *LocalAdapter) Complete(ctx context.Context, req core.CompletionRequest) (string, error) {
	s, err := a.Stream(ctx, req)
	if err != nil {
		return "", err
	}
	return Collect(s)
}

// ListModels implements Adapter using the tags endpoint.
func (a *LocalAdapter) ListModels(ctx context.Context) ([]ModelInfo, error) {
	tags, err := a.tags(ctx, a.settings.Timeout, a.settings.MaxRetries)
	if err != nil {
		return nil, err
	}
	out := make([]ModelInfo, 0, len(tags.Models))
	for _, m := range tags.Models {
		id := m.Name
		if id == "" {
			id = m.Model
		}
		out = append(out, ModelInfo{ID: id, Name: id, ProviderID: a.desc.ID})
	}
	return out, nil
}

// Ping implements Pinger.
func (a *LocalAdapter) Ping(ctx context.Context) error {
	_, err := a.tags(ctx, pingTimeout, 0)
	return err
}

func (a *LocalAdapter) tags(ctx context.Context, timeout time.Duration, retries int) (*localTags, error) {
	h, err := a.header()
	if err != nil {
		return nil, err
	}
	h.Del("Content-Type")
	resp, err := a.sender.Send(ctx, a.desc.BaseURL+"/api/tags",
		transport.RequestSpec{Method: http.MethodGet, Header: h}, timeout, retries)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("local: read tags: %w", err)
	}
	var tags localTags
	if err := json.Unmarshal(raw, &tags); err != nil {
		return nil, fmt.Errorf("local: decode tags: %w", err)
	}
	return &tags, nil
}
