package analytics

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultRedisKey = "relay:analytics:runs"

// RedisStore keeps runs in a sorted set scored by timestamp, one JSON member per run.
type RedisStore struct {
	client redis.UniversalClient
	key    string
}

// NewRedisStore creates a store that uses the given Redis client.
func NewRedisStore(client redis.UniversalClient, key string) *RedisStore {
	if key == "" {
		key = defaultRedisKey
	}
	return &RedisStore{client: client, key: key}
}

func score(t time.Time) float64 {
	return float64(t.UnixNano()) / 1e9
}

// Record implements Store.
func (r *RedisStore) Record(ctx context.Context, rec RunRecord) error {
	if rec.At.IsZero() {
		rec.At = time.Now()
	}
	raw, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return r.client.ZAdd(ctx, r.key, redis.Z{Score: score(rec.At), Member: string(raw)}).Err()
}

// Query implements Store. The time window is applied by Redis; the rest is aggregated in memory.
func (r *RedisStore) Query(ctx context.Context, q Query) ([]Aggregate, error) {
	min, max := "-inf", "+inf"
	if !q.From.IsZero() {
		min = strconv.FormatFloat(score(q.From), 'f', -1, 64)
	}
	if !q.To.IsZero() {
		max = strconv.FormatFloat(score(q.To), 'f', -1, 64)
	}
	const batch = 10000
	var records []RunRecord
	for offset := int64(0); ; offset += batch {
		vals, err := r.client.ZRangeByScore(ctx, r.key, &redis.ZRangeBy{
			Min: min, Max: max, Offset: offset, Count: batch,
		}).Result()
		if err != nil {
			return nil, err
		}
		for _, mem := range vals {
			var rec RunRecord
			if err := json.Unmarshal([]byte(mem), &rec); err != nil {
				continue
			}
			records = append(records, rec)
		}
		if len(vals) < batch {
			break
		}
	}
	return aggregate(records, q), nil
}
