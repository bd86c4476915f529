package analytics

import (
	"context"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedisStore_RoundTrip(t *testing.T) {
	addr := os.Getenv("RELAY_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("RELAY_TEST_REDIS_ADDR not set")
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	defer client.Close()
	key := "relay:test:" + uuid.NewString()
	defer client.Del(context.Background(), key)

	s := NewRedisStore(client, key)
	seed(t, s)
	agg, err := s.Query(context.Background(), Query{GroupBy: GroupProvider})
	require.NoError(t, err)
	require.Len(t, agg, 2)
	assert.Equal(t, "ollama", agg[0].Key)
	assert.Equal(t, int64(2), agg[0].Runs)
}
