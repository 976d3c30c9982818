//go:build integration

package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"
)

func setupRedis(t *testing.T) *RedisCache {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	container, err := tcredis.Run(ctx, "redis:7-alpine")
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	connStr, err := container.ConnectionString(ctx)
	require.NoError(t, err)

	c, err := NewRedisCache(Config{Type: "redis", URL: connStr, DefaultTTL: time.Minute, Prefix: "test"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	require.NoError(t, c.Ping(ctx))
	return c
}

func TestRedisCache_Integration(t *testing.T) {
	c := setupRedis(t)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "email:scheduled:a", []byte("payload"), 0))
	require.NoError(t, c.Set(ctx, "email:sent:b", []byte("1"), time.Minute))
	require.NoError(t, c.Set(ctx, "email:sent:c", []byte("2"), time.Minute))

	got, err := c.Get(ctx, "email:scheduled:a")
	require.NoError(t, err)
	assert.Equal(t, "payload", string(got))

	keys, err := c.Keys(ctx, "email:sent:*")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"email:sent:b", "email:sent:c"}, keys)

	n, err := c.Del(ctx, "email:scheduled:a", "email:scheduled:missing")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	_, err = c.Get(ctx, "email:scheduled:a")
	assert.ErrorIs(t, err, ErrCacheMiss)
}

func TestRedisCache_IntegrationExpiry(t *testing.T) {
	c := setupRedis(t)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "short", []byte("x"), time.Second))
	time.Sleep(1500 * time.Millisecond)

	_, err := c.Get(ctx, "short")
	assert.ErrorIs(t, err, ErrCacheMiss)
}
