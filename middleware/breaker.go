package middleware

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/klejdi94/relay/core"
	"github.com/klejdi94/relay/provider"
)

// ErrCircuitOpen is returned while a provider's circuit is open.
var ErrCircuitOpen = errors.New("circuit open")

const (
	cbClosed = iota
	cbOpen
	cbHalfOpen
)

// minBreakerSamples is the number of outcomes needed before the failure rate is evaluated.
const minBreakerSamples = 10

type breakerState struct {
	state     int
	requests  int
	failures  int
	openUntil time.Time
	probing   bool
}

// Breaker tracks per-provider failure rates. It is shared by every adapter its middleware wraps.
type Breaker struct {
	mu        sync.Mutex
	threshold float64
	timeout   time.Duration
	now       func() time.Time
	states    map[string]*breakerState
}

// CircuitBreaker returns a middleware that fails fast for a provider whose
// failure rate reaches threshold (e.g. 0.5). After timeout one probe stream is
// let through; if it reaches its final delta the circuit closes.
func CircuitBreaker(threshold float64, timeout time.Duration) (Middleware, *Breaker) {
	b := &Breaker{threshold: threshold, timeout: timeout, now: time.Now, states: make(map[string]*breakerState)}
	return func(a provider.Adapter) provider.Adapter {
		return &breakerAdapter{Adapter: a, b: b}
	}, b
}

// Open reports whether the circuit for providerID currently rejects requests.
func (b *Breaker) Open(providerID string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	st, ok := b.states[providerID]
	return ok && st.state == cbOpen && b.now().Before(st.openUntil)
}

func (b *Breaker) allow(id string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	st := b.states[id]
	if st == nil {
		st = &breakerState{}
		b.states[id] = st
	}
	switch st.state {
	case cbOpen:
		if b.now().Before(st.openUntil) {
			return false
		}
		st.state = cbHalfOpen
		st.probing = true
		return true
	case cbHalfOpen:
		if st.probing {
			return false
		}
		st.probing = true
	}
	return true
}

func (b *Breaker) record(id string, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	st := b.states[id]
	if st == nil {
		return
	}
	failed := failure(err)
	if st.state == cbHalfOpen {
		st.probing = false
		if failed {
			st.state = cbOpen
			st.openUntil = b.now().Add(b.timeout)
			return
		}
		if err == nil {
			*st = breakerState{}
		}
		return
	}
	if err != nil && !failed {
		return
	}
	st.requests++
	if failed {
		st.failures++
	}
	if st.requests >= minBreakerSamples && float64(st.failures)/float64(st.requests) >= b.threshold {
		st.state = cbOpen
		st.openUntil = b.now().Add(b.timeout)
		st.requests, st.failures = 0, 0
	}
}

type breakerAdapter struct {
	provider.Adapter
	b *Breaker
}

func (c *breakerAdapter) Stream(ctx context.Context, req core.CompletionRequest) (*provider.Stream, error) {
	id := req.ProviderID
	if !c.b.allow(id) {
		return nil, ErrCircuitOpen
	}
	s, err := c.Adapter.Stream(ctx, req)
	if err != nil {
		c.b.record(id, err)
		return nil, err
	}
	return provider.Tap(s, nil, func(_ bool, err error) { c.b.record(id, err) }), nil
}

func (c *breakerAdapter) Complete(ctx context.Context, req core.CompletionRequest) (string, error) {
	return collect(c.Stream(ctx, req))
}
