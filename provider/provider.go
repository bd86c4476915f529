// Package provider defines backend descriptors, the wire adapter interface and its implementations.
package provider

import (
	"context"
	"net/http"
	"time"

	"github.com/klejdi94/relay/core"
	"github.com/klejdi94/relay/transport"
	"github.com/rs/zerolog"
)

// Kind selects the adapter family used for a provider.
type Kind string

const (
	KindLocal   Kind = "local"
	KindSSEChat Kind = "sse-chat"
)

// Descriptor describes a registered backend. Descriptors are immutable after registration.
type Descriptor struct {
	ID          string `yaml:"id"`
	DisplayName string `yaml:"display_name"`
	BaseURL     string `yaml:"base_url"`
	RequiresKey bool   `yaml:"requires_key"`
	Enabled     bool   `yaml:"enabled"`
	Kind        Kind   `yaml:"kind"`
	Dialect     string `yaml:"dialect,omitempty"`
	// Timeout and MaxRetries override the gateway-wide limits for this provider when set.
	Timeout    time.Duration `yaml:"timeout,omitempty"`
	MaxRetries *int          `yaml:"max_retries,omitempty"`
}

// Settings returns base with this provider's overrides applied.
func (d Descriptor) Settings(base Settings) Settings {
	if d.Timeout > 0 {
		base.Timeout = d.Timeout
	}
	if d.MaxRetries != nil {
		base.MaxRetries = *d.MaxRetries
	}
	return base
}

// ModelInfo describes a model offered by a provider.
type ModelInfo struct {
	ID            string
	Name          string
	ProviderID    string
	ContextLength int
}

// Adapter translates the generic completion contract into one backend's wire format.
type Adapter interface {
	ListModels(ctx context.Context) ([]ModelInfo, error)
	Complete(ctx context.Context, req core.CompletionRequest) (string, error)
	Stream(ctx context.Context, req core.CompletionRequest) (*Stream, error)
}

// Pinger is implemented by adapters that support a lightweight availability probe.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Sender issues HTTP requests with retry (satisfied by *transport.Transport).
type Sender interface {
	Send(ctx context.Context, url string, spec transport.RequestSpec, timeout time.Duration, maxRetries int) (*http.Response, error)
}

// Settings holds per-request transport limits and the adapter logger.
type Settings struct {
	Timeout    time.Duration
	MaxRetries int
	Logger     zerolog.Logger
}

// DefaultSettings returns the limits used when none are configured.
func DefaultSettings() Settings {
	return Settings{
		Timeout:    transport.DefaultTimeout,
		MaxRetries: transport.DefaultMaxRetries,
		Logger:     zerolog.Nop(),
	}
}

const pingTimeout = 2 * time.Second

func jsonHeader() http.Header {
	h := make(http.Header)
	h.Set("Content-Type", "application/json")
	return h
}
