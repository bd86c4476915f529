package conversation

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/klejdi94/relay/core"
	"github.com/redis/go-redis/v9"
)

const defaultRedisKey = "relay:conversations"

// RedisSink stores conversations in one Redis hash: field = id, value = JSON conversation.
type RedisSink struct {
	client redis.UniversalClient
	key    string
}

// NewRedisSink creates a sink using client. An empty key uses "relay:conversations".
func NewRedisSink(client redis.UniversalClient, key string) *RedisSink {
	if key == "" {
		key = defaultRedisKey
	}
	return &RedisSink{client: client, key: key}
}

// LoadSnapshot implements Sink.
func (r *RedisSink) LoadSnapshot(ctx context.Context) (map[string]core.Conversation, error) {
	fields, err := r.client.HGetAll(ctx, r.key).Result()
	if err != nil {
		return nil, fmt.Errorf("redis sink load: %w", err)
	}
	snap := make(map[string]core.Conversation, len(fields))
	for id, raw := range fields {
		var c core.Conversation
		if err := json.Unmarshal([]byte(raw), &c); err != nil {
			return nil, fmt.Errorf("redis sink decode %s: %w", id, err)
		}
		snap[id] = c
	}
	return snap, nil
}

// SaveSnapshot implements Sink. The hash is replaced in a single MULTI/EXEC.
func (r *RedisSink) SaveSnapshot(ctx context.Context, snap map[string]core.Conversation) error {
	values := make([]interface{}, 0, 2*len(snap))
	for id, c := range snap {
		raw, err := json.Marshal(c)
		if err != nil {
			return fmt.Errorf("redis sink encode %s: %w", id, err)
		}
		values = append(values, id, string(raw))
	}
	_, err := r.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Del(ctx, r.key)
		if len(values) > 0 {
			p.HSet(ctx, r.key, values...)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis sink save: %w", err)
	}
	return nil
}
