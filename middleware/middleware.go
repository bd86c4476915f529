// Package middleware provides observability and cross-cutting wrappers for provider adapters.
//
// The gateway builds a fresh adapter per request, so every middleware keeps its
// state (counters, limiters, breaker windows) in the Middleware closure and not
// in the wrapper it returns.
package middleware

import (
	"context"
	"errors"
	"time"

	"github.com/klejdi94/relay/core"
	"github.com/klejdi94/relay/provider"
	"github.com/rs/zerolog"
)

// Middleware wraps an adapter with additional behavior.
type Middleware func(provider.Adapter) provider.Adapter

// Chain wraps a with all middlewares in order (first middleware is outermost).
func Chain(a provider.Adapter, mws ...Middleware) provider.Adapter {
	for i := len(mws) - 1; i >= 0; i-- {
		a = mws[i](a)
	}
	return a
}

// collect drains the stream returned by a Stream call.
func collect(s *provider.Stream, err error) (string, error) {
	if err != nil {
		return "", err
	}
	return provider.Collect(s)
}

// failure reports whether err counts against a backend: cancellations and
// early closes by the consumer do not.
func failure(err error) bool {
	if err == nil {
		return false
	}
	return !core.IsCancelled(err) &&
		!errors.Is(err, provider.ErrStreamClosed) &&
		!errors.Is(err, context.Canceled)
}

type loggingAdapter struct {
	provider.Adapter
	log zerolog.Logger
}

// Logging returns a middleware that logs every stream start and outcome.
func Logging(logger zerolog.Logger) Middleware {
	return func(a provider.Adapter) provider.Adapter {
		return &loggingAdapter{Adapter: a, log: logger}
	}
}

func (l *loggingAdapter) Stream(ctx context.Context, req core.CompletionRequest) (*provider.Stream, error) {
	start := time.Now()
	l.log.Debug().Str("provider", req.ProviderID).Str("model", req.Model).Int("prompt_len", len(req.Prompt)).Msg("stream start")
	s, err := l.Adapter.Stream(ctx, req)
	if err != nil {
		l.log.Warn().Err(err).Str("provider", req.ProviderID).Str("model", req.Model).Msg("stream open failed")
		return nil, err
	}
	deltas := 0
	return provider.Tap(s, func(core.Delta) { deltas++ }, func(final bool, err error) {
		ev := l.log.Debug()
		if failure(err) {
			ev = l.log.Warn().Err(err)
		}
		ev.Str("provider", req.ProviderID).
			Str("model", req.Model).
			Bool("final", final).
			Int("deltas", deltas).
			Dur("elapsed", time.Since(start)).
			Msg("stream end")
	}), nil
}

func (l *loggingAdapter) Complete(ctx context.Context, req core.CompletionRequest) (string, error) {
	return collect(l.Stream(ctx, req))
}
