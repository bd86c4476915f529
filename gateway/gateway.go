// Package gateway routes completion requests to provider adapters behind one streaming interface.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/klejdi94/relay/core"
	"github.com/klejdi94/relay/credential"
	"github.com/klejdi94/relay/middleware"
	"github.com/klejdi94/relay/provider"
	"github.com/klejdi94/relay/transport"
	"github.com/rs/zerolog"
)

// AdapterFactory builds the adapter for a descriptor.
type AdapterFactory func(desc provider.Descriptor, apiKey string, sender provider.Sender, settings provider.Settings) (provider.Adapter, error)

// Gateway resolves a provider, its credential and adapter for each request and
// guards the resulting stream.
type Gateway struct {
	registry    *provider.Registry
	creds       credential.Resolver
	sender      provider.Sender
	settings    provider.Settings
	middleware  []middleware.Middleware
	healthCheck bool
	newAdapter  AdapterFactory
	log         zerolog.Logger
}

// Option configures a Gateway.
type Option func(*Gateway)

// WithSender sets the HTTP sender shared by all adapters.
func WithSender(s provider.Sender) Option {
	return func(g *Gateway) { g.sender = s }
}

// WithSettings sets per-request timeout and retry limits.
func WithSettings(s provider.Settings) Option {
	return func(g *Gateway) { g.settings = s }
}

// WithMiddleware appends adapter middleware (first is outermost).
func WithMiddleware(mws ...middleware.Middleware) Option {
	return func(g *Gateway) { g.middleware = append(g.middleware, mws...) }
}

// WithHealthCheck probes adapters that implement provider.Pinger before streaming.
func WithHealthCheck(enabled bool) Option {
	return func(g *Gateway) { g.healthCheck = enabled }
}

// WithAdapterFactory replaces provider.NewAdapter.
func WithAdapterFactory(f AdapterFactory) Option {
	return func(g *Gateway) { g.newAdapter = f }
}

// WithLogger sets the gateway logger; adapters inherit it unless settings carry their own.
func WithLogger(l zerolog.Logger) Option {
	return func(g *Gateway) { g.log = l }
}

// New creates a gateway over registry using creds for API keys. A nil creds resolves no keys.
func New(registry *provider.Registry, creds credential.Resolver, opts ...Option) *Gateway {
	g := &Gateway{
		registry:   registry,
		creds:      creds,
		settings:   provider.DefaultSettings(),
		newAdapter: provider.NewAdapter,
		log:        zerolog.Nop(),
	}
	for _, o := range opts {
		o(g)
	}
	if g.sender == nil {
		g.sender = transport.New(&http.Client{}, transport.WithLogger(g.log))
	}
	if g.settings.Logger.GetLevel() == zerolog.Disabled {
		g.settings.Logger = g.log
	}
	return g
}

// Providers lists the registered descriptors in registration order.
func (g *Gateway) Providers() []provider.Descriptor {
	return g.registry.List()
}

// Stream opens a completion stream for req. The returned stream yields
// cumulative deltas in order, ends with exactly one final delta, and reports
// every failure as *core.CompletionError.
func (g *Gateway) Stream(ctx context.Context, req core.CompletionRequest) (*provider.Stream, error) {
	a, err := g.adapter(ctx, req.ProviderID)
	if err != nil {
		return nil, g.fail(ctx, req.ProviderID, err)
	}
	s, err := a.Stream(ctx, req)
	if err != nil {
		return nil, g.fail(ctx, req.ProviderID, err)
	}
	g.log.Debug().Str("provider", req.ProviderID).Str("model", req.Model).Msg("completion stream opened")
	return g.guard(ctx, req.ProviderID, s), nil
}

// Complete drains a stream for req and returns the final text.
func (g *Gateway) Complete(ctx context.Context, req core.CompletionRequest) (string, error) {
	s, err := g.Stream(ctx, req)
	if err != nil {
		return "", err
	}
	return provider.Collect(s)
}

// ListModels returns the models offered by providerID.
func (g *Gateway) ListModels(ctx context.Context, providerID string) ([]provider.ModelInfo, error) {
	a, err := g.adapter(ctx, providerID)
	if err != nil {
		return nil, g.fail(ctx, providerID, err)
	}
	models, err := a.ListModels(ctx)
	if err != nil {
		return nil, g.fail(ctx, providerID, err)
	}
	return models, nil
}

func (g *Gateway) adapter(ctx context.Context, providerID string) (provider.Adapter, error) {
	desc, ok := g.registry.Get(providerID)
	if !ok {
		return nil, &core.UnknownProviderError{ProviderID: providerID}
	}
	if !desc.Enabled {
		return nil, fmt.Errorf("%s: %w", providerID, core.ErrProviderDisabled)
	}
	var key string
	if g.creds != nil {
		k, err := g.creds.GetSecret(ctx, providerID)
		if err != nil {
			return nil, fmt.Errorf("resolve credential: %w", err)
		}
		key = k
	}
	if desc.RequiresKey && key == "" {
		return nil, &core.AuthenticationMissingError{ProviderID: providerID}
	}
	a, err := g.newAdapter(desc, key, g.sender, desc.Settings(g.settings))
	if err != nil {
		return nil, err
	}
	if g.healthCheck {
		if p, ok := a.(provider.Pinger); ok {
			if err := p.Ping(ctx); err != nil {
				return nil, fmt.Errorf("health check: %w", err)
			}
		}
	}
	return middleware.Chain(a, g.middleware...), nil
}

// guard wraps every stream failure as a CompletionError. provider.Stream
// already stops after the first final delta and reports a premature end as
// core.ErrIncompleteStream.
func (g *Gateway) guard(ctx context.Context, providerID string, s *provider.Stream) *provider.Stream {
	return provider.NewStream(func() (core.Delta, error) {
		if s.Next() {
			return s.Current(), nil
		}
		err := s.Err()
		if err == nil {
			err = core.ErrIncompleteStream
		}
		return core.Delta{}, g.fail(ctx, providerID, err)
	}, s.Close)
}

func (g *Gateway) fail(ctx context.Context, providerID string, err error) error {
	var ce *core.CompletionError
	if errors.As(err, &ce) {
		return err
	}
	if !core.IsCancelled(err) {
		if cerr := ctx.Err(); cerr != nil {
			err = &core.CancelledError{Cause: cerr}
		} else if errors.Is(err, context.Canceled) {
			err = &core.CancelledError{Cause: err}
		}
	}
	return &core.CompletionError{ProviderID: providerID, Cause: err}
}
