// Package analytics records completion runs and answers aggregate queries about them.
package analytics

import (
	"context"
	"sort"
	"sync"
	"time"
)

// RunRecord is a single completion stream outcome.
type RunRecord struct {
	ProviderID  string    `json:"provider_id"`
	Model       string    `json:"model"`
	LatencyMs   int64     `json:"latency_ms"`
	OutputChars int       `json:"output_chars"`
	Deltas      int       `json:"deltas"`
	Success     bool      `json:"success"`
	Cancelled   bool      `json:"cancelled"`
	At          time.Time `json:"at"`
}

// Store records runs and aggregates them.
type Store interface {
	Record(ctx context.Context, r RunRecord) error
	Query(ctx context.Context, q Query) ([]Aggregate, error)
}

// Grouping keys accepted by Query.GroupBy. Anything else aggregates into a single "all" bucket.
const (
	GroupProvider = "provider"
	GroupModel    = "model"
	GroupDay      = "day"
	GroupHour     = "hour"
)

const defaultLimit = 100

// Query filters and groups runs for aggregation.
type Query struct {
	ProviderID string
	Model      string
	From       time.Time
	To         time.Time
	GroupBy    string
	Limit      int
}

// Aggregate is one bucket of runs.
type Aggregate struct {
	Key              string  `json:"key"`
	Runs             int64   `json:"runs"`
	SuccessCount     int64   `json:"success_count"`
	CancelledCount   int64   `json:"cancelled_count"`
	AvgLatencyMs     float64 `json:"avg_latency_ms"`
	TotalOutputChars int64   `json:"total_output_chars"`
}

func (q Query) matches(r RunRecord) bool {
	if q.ProviderID != "" && r.ProviderID != q.ProviderID {
		return false
	}
	if q.Model != "" && r.Model != q.Model {
		return false
	}
	if !q.From.IsZero() && r.At.Before(q.From) {
		return false
	}
	if !q.To.IsZero() && r.At.After(q.To) {
		return false
	}
	return true
}

func (q Query) key(r RunRecord) string {
	switch q.GroupBy {
	case GroupProvider:
		return r.ProviderID
	case GroupModel:
		return r.ProviderID + "/" + r.Model
	case GroupDay:
		return r.At.UTC().Format("2006-01-02")
	case GroupHour:
		return r.At.UTC().Format("2006-01-02-15")
	default:
		return "all"
	}
}

func (q Query) limit() int {
	if q.Limit <= 0 {
		return defaultLimit
	}
	return q.Limit
}

// aggregate buckets the matching records, busiest bucket first.
func aggregate(records []RunRecord, q Query) []Aggregate {
	agg := make(map[string]*Aggregate)
	for _, r := range records {
		if !q.matches(r) {
			continue
		}
		k := q.key(r)
		a := agg[k]
		if a == nil {
			a = &Aggregate{Key: k}
			agg[k] = a
		}
		a.Runs++
		if r.Success {
			a.SuccessCount++
		}
		if r.Cancelled {
			a.CancelledCount++
		}
		a.AvgLatencyMs = (a.AvgLatencyMs*float64(a.Runs-1) + float64(r.LatencyMs)) / float64(a.Runs)
		a.TotalOutputChars += int64(r.OutputChars)
	}
	out := make([]Aggregate, 0, len(agg))
	for _, a := range agg {
		out = append(out, *a)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Runs != out[j].Runs {
			return out[i].Runs > out[j].Runs
		}
		return out[i].Key < out[j].Key
	})
	if len(out) > q.limit() {
		out = out[:q.limit()]
	}
	return out
}

// MemoryStore keeps records in a bounded slice.
type MemoryStore struct {
	mu      sync.RWMutex
	max     int
	records []RunRecord
}

// NewMemoryStore creates an in-memory store that keeps at most max records (0 = unbounded).
func NewMemoryStore(max int) *MemoryStore {
	return &MemoryStore{max: max, records: make([]RunRecord, 0, 256)}
}

// Record implements Store.
func (m *MemoryStore) Record(ctx context.Context, r RunRecord) error {
	if r.At.IsZero() {
		r.At = time.Now()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, r)
	if m.max > 0 && len(m.records) > m.max {
		m.records = m.records[len(m.records)-m.max:]
	}
	return nil
}

// Query implements Store.
func (m *MemoryStore) Query(ctx context.Context, q Query) ([]Aggregate, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return aggregate(m.records, q), nil
}
