package middleware

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/klejdi94/relay/analytics"
	"github.com/klejdi94/relay/core"
	"github.com/klejdi94/relay/provider"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeAdapter yields deltas then ends with endErr (or cleanly if the last delta is final).
type fakeAdapter struct {
	deltas  []core.Delta
	endErr  error
	openErr error
	calls   int
}

func (f *fakeAdapter) ListModels(context.Context) ([]provider.ModelInfo, error) {
	return []provider.ModelInfo{{ID: "m"}}, nil
}

func (f *fakeAdapter) Stream(ctx context.Context, req core.CompletionRequest) (*provider.Stream, error) {
	f.calls++
	if f.openErr != nil {
		return nil, f.openErr
	}
	i := 0
	return provider.NewStream(func() (core.Delta, error) {
		if i < len(f.deltas) {
			d := f.deltas[i]
			i++
			return d, nil
		}
		if f.endErr != nil {
			return core.Delta{}, f.endErr
		}
		return core.Delta{}, core.ErrIncompleteStream
	}, nil), nil
}

func (f *fakeAdapter) Complete(ctx context.Context, req core.CompletionRequest) (string, error) {
	return collect(f.Stream(ctx, req))
}

func okAdapter() *fakeAdapter {
	return &fakeAdapter{deltas: []core.Delta{{Text: "he"}, {Text: "hello", Final: true}}}
}

func req() core.CompletionRequest {
	return core.NewRequest("ollama", "llama3", "hi")
}

func TestChain_Order(t *testing.T) {
	var order []string
	mk := func(name string) Middleware {
		return func(a provider.Adapter) provider.Adapter {
			order = append(order, name)
			return a
		}
	}
	Chain(okAdapter(), mk("outer"), mk("inner"))
	assert.Equal(t, []string{"inner", "outer"}, order)
}

func TestLogging_PassesThrough(t *testing.T) {
	var buf bytes.Buffer
	a := Chain(okAdapter(), Logging(zerolog.New(&buf).Level(zerolog.DebugLevel)))
	text, err := a.Complete(context.Background(), req())
	require.NoError(t, err)
	assert.Equal(t, "hello", text)
	assert.Contains(t, buf.String(), `"message":"stream end"`)
	assert.Contains(t, buf.String(), `"deltas":2`)

	models, err := a.ListModels(context.Background())
	require.NoError(t, err)
	assert.Len(t, models, 1)
}

func TestMetrics_CountsOutcomes(t *testing.T) {
	reg := prometheus.NewRegistry()
	mw, counters := Metrics(reg)

	_, err := mw(okAdapter()).Complete(context.Background(), req())
	require.NoError(t, err)
	_, err = mw(&fakeAdapter{openErr: errors.New("down")}).Complete(context.Background(), req())
	require.Error(t, err)
	_, err = mw(&fakeAdapter{endErr: &core.CancelledError{Cause: context.Canceled}}).Complete(context.Background(), req())
	require.Error(t, err)

	assert.Equal(t, uint64(3), counters.Requests())
	assert.Equal(t, uint64(1), counters.Errors())
	assert.Equal(t, uint64(1), counters.Cancelled())
	assert.Equal(t, uint64(2), counters.Deltas())

	families, err := reg.Gather()
	require.NoError(t, err)
	names := map[string]bool{}
	for _, f := range families {
		names[f.GetName()] = true
	}
	assert.True(t, names["relay_completion_outcomes_total"])
	assert.True(t, names["relay_stream_deltas_total"])
}

func TestCacheMiddleware_ReplaysFinal(t *testing.T) {
	cache := NewInMemoryCache()
	inner := okAdapter()
	a := CacheMiddleware(cache, time.Minute)(inner)

	text, err := a.Complete(context.Background(), req())
	require.NoError(t, err)
	assert.Equal(t, "hello", text)

	s, err := a.Stream(context.Background(), req())
	require.NoError(t, err)
	require.True(t, s.Next())
	assert.Equal(t, core.Delta{Text: "hello", Final: true}, s.Current())
	assert.False(t, s.Next())
	assert.Equal(t, 1, inner.calls)
}

func TestCacheMiddleware_SkipsIncomplete(t *testing.T) {
	cache := NewInMemoryCache()
	inner := &fakeAdapter{deltas: []core.Delta{{Text: "part"}}}
	a := CacheMiddleware(cache, time.Minute)(inner)
	_, err := a.Complete(context.Background(), req())
	assert.ErrorIs(t, err, core.ErrIncompleteStream)
	_, ok := cache.Get(context.Background(), cacheKey(req()))
	assert.False(t, ok)
}

func TestInMemoryCache_Expiry(t *testing.T) {
	c := NewInMemoryCache()
	now := time.Unix(1000, 0)
	c.now = func() time.Time { return now }
	require.NoError(t, c.Set(context.Background(), "k", []byte("v"), time.Second))
	v, ok := c.Get(context.Background(), "k")
	require.True(t, ok)
	assert.Equal(t, "v", string(v))
	now = now.Add(2 * time.Second)
	_, ok = c.Get(context.Background(), "k")
	assert.False(t, ok)
}

func TestRateLimit_WaitHonoursContext(t *testing.T) {
	a := RateLimit(1, time.Hour)(okAdapter())
	_, err := a.Complete(context.Background(), req())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = a.Stream(ctx, req())
	require.Error(t, err)
}

func TestRateLimit_DisabledIsIdentity(t *testing.T) {
	inner := okAdapter()
	assert.Same(t, provider.Adapter(inner), RateLimit(0, time.Minute)(inner))
}

func TestCircuitBreaker_OpensAndRecovers(t *testing.T) {
	mw, b := CircuitBreaker(0.5, time.Minute)
	now := time.Unix(0, 0)
	b.now = func() time.Time { return now }

	bad := mw(&fakeAdapter{openErr: errors.New("503")})
	for i := 0; i < minBreakerSamples; i++ {
		_, err := bad.Stream(context.Background(), req())
		require.Error(t, err)
	}
	assert.True(t, b.Open("ollama"))
	_, err := mw(okAdapter()).Stream(context.Background(), req())
	assert.ErrorIs(t, err, ErrCircuitOpen)

	other := core.NewRequest("deepseek", "chat", "hi")
	_, err = mw(okAdapter()).Complete(context.Background(), other)
	assert.NoError(t, err)

	now = now.Add(2 * time.Minute)
	text, err := mw(okAdapter()).Complete(context.Background(), req())
	require.NoError(t, err)
	assert.Equal(t, "hello", text)
	assert.False(t, b.Open("ollama"))
}

func TestCircuitBreaker_CancellationsDoNotCount(t *testing.T) {
	mw, b := CircuitBreaker(0.5, time.Minute)
	cancelled := &fakeAdapter{endErr: &core.CancelledError{Cause: context.Canceled}}
	for i := 0; i < 2*minBreakerSamples; i++ {
		_, _ = mw(cancelled).Complete(context.Background(), req())
	}
	assert.False(t, b.Open("ollama"))
}

func TestRecorder_WritesRuns(t *testing.T) {
	store := analytics.NewMemoryStore(0)
	mw := Recorder(store, zerolog.Nop())

	_, err := mw(okAdapter()).Complete(context.Background(), req())
	require.NoError(t, err)
	_, err = mw(&fakeAdapter{endErr: &core.CancelledError{Cause: context.Canceled}}).Complete(context.Background(), req())
	require.Error(t, err)
	_, err = mw(&fakeAdapter{openErr: errors.New("boom")}).Complete(context.Background(), req())
	require.Error(t, err)

	agg, err := store.Query(context.Background(), analytics.Query{GroupBy: analytics.GroupProvider})
	require.NoError(t, err)
	require.Len(t, agg, 1)
	assert.Equal(t, int64(3), agg[0].Runs)
	assert.Equal(t, int64(1), agg[0].SuccessCount)
	assert.Equal(t, int64(1), agg[0].CancelledCount)
	assert.Equal(t, int64(5), agg[0].TotalOutputChars)
}
