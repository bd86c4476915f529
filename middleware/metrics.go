package middleware

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/klejdi94/relay/core"
	"github.com/klejdi94/relay/provider"
	"github.com/prometheus/client_golang/prometheus"
)

// Outcome label values.
const (
	OutcomeFinal     = "final"
	OutcomeError     = "error"
	OutcomeCancelled = "cancelled"
)

// MetricsCounters provides read access to collected metrics.
type MetricsCounters struct {
	requests  atomic.Uint64
	errors    atomic.Uint64
	cancelled atomic.Uint64
	deltas    atomic.Uint64

	requestsVec *prometheus.CounterVec
	outcomesVec *prometheus.CounterVec
	deltasVec   *prometheus.CounterVec
	duration    *prometheus.HistogramVec
}

func (c *MetricsCounters) Requests() uint64  { return c.requests.Load() }
func (c *MetricsCounters) Errors() uint64    { return c.errors.Load() }
func (c *MetricsCounters) Cancelled() uint64 { return c.cancelled.Load() }
func (c *MetricsCounters) Deltas() uint64    { return c.deltas.Load() }

// Collectors returns the Prometheus collectors backing the counters.
func (c *MetricsCounters) Collectors() []prometheus.Collector {
	return []prometheus.Collector{c.requestsVec, c.outcomesVec, c.deltasVec, c.duration}
}

// Metrics returns a middleware that counts streams, deltas and outcomes per
// provider. When reg is non-nil the collectors are registered with it.
func Metrics(reg prometheus.Registerer) (Middleware, *MetricsCounters) {
	c := &MetricsCounters{
		requestsVec: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "relay",
			Name:      "completion_requests_total",
			Help:      "Completion streams opened, by provider.",
		}, []string{"provider"}),
		outcomesVec: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "relay",
			Name:      "completion_outcomes_total",
			Help:      "Completion stream outcomes, by provider and outcome.",
		}, []string{"provider", "outcome"}),
		deltasVec: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "relay",
			Name:      "stream_deltas_total",
			Help:      "Deltas delivered to consumers, by provider.",
		}, []string{"provider"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "relay",
			Name:      "completion_duration_seconds",
			Help:      "Time from stream open to its end, by provider.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
		}, []string{"provider"}),
	}
	if reg != nil {
		reg.MustRegister(c.Collectors()...)
	}
	return func(a provider.Adapter) provider.Adapter {
		return &metricsAdapter{Adapter: a, c: c}
	}, c
}

type metricsAdapter struct {
	provider.Adapter
	c *MetricsCounters
}

func (m *metricsAdapter) Stream(ctx context.Context, req core.CompletionRequest) (*provider.Stream, error) {
	id := req.ProviderID
	start := time.Now()
	m.c.requests.Add(1)
	m.c.requestsVec.WithLabelValues(id).Inc()
	s, err := m.Adapter.Stream(ctx, req)
	if err != nil {
		m.observe(id, start, err)
		return nil, err
	}
	return provider.Tap(s, func(core.Delta) {
		m.c.deltas.Add(1)
		m.c.deltasVec.WithLabelValues(id).Inc()
	}, func(_ bool, err error) {
		m.observe(id, start, err)
	}), nil
}

func (m *metricsAdapter) observe(id string, start time.Time, err error) {
	outcome := OutcomeFinal
	switch {
	case failure(err):
		outcome = OutcomeError
		m.c.errors.Add(1)
	case err != nil:
		outcome = OutcomeCancelled
		m.c.cancelled.Add(1)
	}
	m.c.outcomesVec.WithLabelValues(id, outcome).Inc()
	m.c.duration.WithLabelValues(id).Observe(time.Since(start).Seconds())
}

func (m *metricsAdapter) Complete(ctx context.Context, req core.CompletionRequest) (string, error) {
	return collect(m.Stream(ctx, req))
}
