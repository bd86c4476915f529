package middleware

import (
	"context"
	"time"

	"github.com/klejdi94/relay/analytics"
	"github.com/klejdi94/relay/core"
	"github.com/klejdi94/relay/provider"
	"github.com/rs/zerolog"
)

// Recorder returns a middleware that writes one analytics.RunRecord per stream.
// Store failures are logged and never reach the caller.
func Recorder(store analytics.Store, logger zerolog.Logger) Middleware {
	return func(a provider.Adapter) provider.Adapter {
		return &recordingAdapter{Adapter: a, store: store, log: logger, now: time.Now}
	}
}

type recordingAdapter struct {
	provider.Adapter
	store analytics.Store
	log   zerolog.Logger
	now   func() time.Time
}

func (r *recordingAdapter) Stream(ctx context.Context, req core.CompletionRequest) (*provider.Stream, error) {
	start := r.now()
	s, err := r.Adapter.Stream(ctx, req)
	if err != nil {
		r.record(ctx, req, start, 0, "", err)
		return nil, err
	}
	deltas := 0
	var last string
	return provider.Tap(s, func(d core.Delta) {
		deltas++
		last = d.Text
	}, func(_ bool, err error) {
		r.record(ctx, req, start, deltas, last, err)
	}), nil
}

func (r *recordingAdapter) record(ctx context.Context, req core.CompletionRequest, start time.Time, deltas int, text string, err error) {
	rec := analytics.RunRecord{
		ProviderID:  req.ProviderID,
		Model:       req.Model,
		LatencyMs:   r.now().Sub(start).Milliseconds(),
		OutputChars: len([]rune(text)),
		Deltas:      deltas,
		Success:     err == nil,
		Cancelled:   err != nil && !failure(err),
		At:          start,
	}
	if serr := r.store.Record(context.WithoutCancel(ctx), rec); serr != nil {
		r.log.Error().Err(serr).Str("provider", req.ProviderID).Msg("record completion run")
	}
}

func (r *recordingAdapter) Complete(ctx context.Context, req core.CompletionRequest) (string, error) {
	return collect(r.Stream(ctx, req))
}
