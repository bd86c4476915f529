// Package transport sends HTTP requests to completion backends with a per-attempt timeout and linear retry.
package transport

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/klejdi94/relay/core"
	"github.com/rs/zerolog"
)

const (
	// DefaultStep is the delay unit between attempts: attempt n waits n*DefaultStep.
	DefaultStep = time.Second
	// DefaultTimeout is the per-attempt timeout used when callers pass zero.
	DefaultTimeout = 30 * time.Second
	// DefaultMaxRetries is the retry budget used by providers unless configured.
	DefaultMaxRetries = 3

	maxErrorBody = 64 << 10
)

// Doer executes a single HTTP request (satisfied by *http.Client).
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// RequestSpec describes the request to send on every attempt.
type RequestSpec struct {
	Method string
	Header http.Header
	Body   []byte
}

// Transport sends requests with retry. It is safe for concurrent use.
type Transport struct {
	client   Doer
	step     time.Duration
	newTimer func() backoff.Timer
	logger   zerolog.Logger
}

// Option configures a Transport.
type Option func(*Transport)

// WithStep sets the linear backoff unit.
func WithStep(d time.Duration) Option {
	return func(t *Transport) {
		if d > 0 {
			t.step = d
		}
	}
}

// WithTimerFactory sets how backoff waits are timed. Each Send gets its own timer.
func WithTimerFactory(f func() backoff.Timer) Option {
	return func(t *Transport) {
		t.newTimer = f
	}
}

// WithLogger sets the logger used to report retries.
func WithLogger(l zerolog.Logger) Option {
	return func(t *Transport) {
		t.logger = l
	}
}

// New creates a Transport over client. A nil client uses http.DefaultClient.
func New(client Doer, opts ...Option) *Transport {
	if client == nil {
		client = http.DefaultClient
	}
	t := &Transport{
		client: client,
		step:   DefaultStep,
		logger: zerolog.Nop(),
	}
	for _, o := range opts {
		o(t)
	}
	return t
}

// Send issues the request, retrying up to maxRetries times on timeout, network
// error or non-2xx status. The timeout bounds each attempt until response
// headers arrive. On success the caller owns the response body.
func (t *Transport) Send(ctx context.Context, url string, spec RequestSpec, timeout time.Duration, maxRetries int) (*http.Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, &core.CancelledError{Cause: err}
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if maxRetries < 0 {
		maxRetries = 0
	}
	b := backoff.WithContext(backoff.WithMaxRetries(NewLinearBackOff(t.step), uint64(maxRetries)), ctx)

	var (
		resp     *http.Response
		attempts int
	)
	op := func() error {
		if err := ctx.Err(); err != nil {
			return backoff.Permanent(&core.CancelledError{Cause: err})
		}
		attempts++
		r, err := t.attempt(ctx, url, spec, timeout)
		if err != nil {
			if cerr := ctx.Err(); cerr != nil {
				return backoff.Permanent(&core.CancelledError{Cause: cerr})
			}
			return err
		}
		resp = r
		return nil
	}
	notify := func(err error, next time.Duration) {
		t.logger.Info().Err(err).Str("url", url).Int("attempt", attempts).Dur("delay", next).Msg("retrying request")
	}
	var timer backoff.Timer
	if t.newTimer != nil {
		timer = t.newTimer()
	}
	err := backoff.RetryNotifyWithTimer(op, b, notify, timer)
	if err == nil {
		return resp, nil
	}
	var cancelled *core.CancelledError
	if errors.As(err, &cancelled) {
		return nil, cancelled
	}
	if cerr := ctx.Err(); cerr != nil {
		return nil, &core.CancelledError{Cause: cerr}
	}
	var permanent *backoff.PermanentError
	if errors.As(err, &permanent) {
		err = permanent.Err
	}
	return nil, &core.TransportExhaustedError{Attempts: attempts, Err: err}
}

func (t *Transport) attempt(ctx context.Context, url string, spec RequestSpec, timeout time.Duration) (*http.Response, error) {
	actx, cancel := context.WithCancel(ctx)
	var timedOut atomic.Bool
	timer := time.AfterFunc(timeout, func() {
		timedOut.Store(true)
		cancel()
	})

	method := spec.Method
	if method == "" {
		method = http.MethodPost
	}
	var body io.Reader
	if spec.Body != nil {
		body = bytes.NewReader(spec.Body)
	}
	req, err := http.NewRequestWithContext(actx, method, url, body)
	if err != nil {
		timer.Stop()
		cancel()
		return nil, backoff.Permanent(fmt.Errorf("build request: %w", err))
	}
	if spec.Header != nil {
		req.Header = spec.Header.Clone()
	}

	resp, err := t.client.Do(req)
	fired := !timer.Stop()
	if err != nil {
		cancel()
		if timedOut.Load() {
			return nil, fmt.Errorf("attempt timed out after %s: %w", timeout, context.DeadlineExceeded)
		}
		return nil, err
	}
	if fired && timedOut.Load() {
		resp.Body.Close()
		cancel()
		return nil, fmt.Errorf("attempt timed out after %s: %w", timeout, context.DeadlineExceeded)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		resp.Body.Close()
		cancel()
		return nil, &core.UpstreamHTTPError{Status: resp.StatusCode, Body: string(raw)}
	}
	resp.Body = &cancelOnClose{ReadCloser: resp.Body, cancel: cancel}
	return resp, nil
}

// cancelOnClose releases the attempt context once the body is closed.
type cancelOnClose struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (c *cancelOnClose) Close() error {
	err := c.ReadCloser.Close()
	c.cancel()
	return err
}
