package middleware

import (
	"context"
	"time"

	"github.com/klejdi94/relay/core"
	"github.com/klejdi94/relay/provider"
	"golang.org/x/time/rate"
)

// RateLimit returns a middleware that allows at most limit stream opens per
// window (e.g. 60 per time.Minute), shared by every adapter it wraps. Waiting
// callers give up when their context ends.
func RateLimit(limit int, window time.Duration) Middleware {
	if limit <= 0 {
		return func(a provider.Adapter) provider.Adapter { return a }
	}
	lim := rate.NewLimiter(rate.Every(window/time.Duration(limit)), limit)
	return func(a provider.Adapter) provider.Adapter {
		return &rateLimitAdapter{Adapter: a, lim: lim}
	}
}

type rateLimitAdapter struct {
	provider.Adapter
	lim *rate.Limiter
}

func (r *rateLimitAdapter) Stream(ctx context.Context, req core.CompletionRequest) (*provider.Stream, error) {
	if err := r.lim.Wait(ctx); err != nil {
		if ctx.Err() != nil {
			return nil, &core.CancelledError{Cause: ctx.Err()}
		}
		return nil, err
	}
	return r.Adapter.Stream(ctx, req)
}

func (r *rateLimitAdapter) Complete(ctx context.Context, req core.CompletionRequest) (string, error) {
	return collect(r.Stream(ctx, req))
}
