package memory

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTTLCacheExpiresLazily(t *testing.T) {
	ctx := context.Background()
	c := NewTTLCache(time.Minute)
	now := time.Now()
	c.now = func() time.Time { return now }

	require.NoError(t, c.Set(ctx, NewState("c1")))
	_, ok, err := c.Get(ctx, "c1")
	require.NoError(t, err)
	assert.True(t, ok)

	now = now.Add(2 * time.Minute)
	assert.Equal(t, 1, c.Len())
	_, ok, err = c.Get(ctx, "c1")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Zero(t, c.Len())
}

func TestTTLCacheCleanup(t *testing.T) {
	ctx := context.Background()
	c := NewTTLCache(time.Minute)
	now := time.Now()
	c.now = func() time.Time { return now }

	require.NoError(t, c.Set(ctx, NewState("a")))
	now = now.Add(30 * time.Second)
	require.NoError(t, c.Set(ctx, NewState("b")))
	now = now.Add(45 * time.Second)

	n, err := c.Cleanup(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	_, ok, _ := c.Get(ctx, "b")
	assert.True(t, ok)
}

func TestTTLCacheDelete(t *testing.T) {
	ctx := context.Background()
	c := NewTTLCache(0)
	require.NoError(t, c.Set(ctx, NewState("a")))
	require.NoError(t, c.Delete(ctx, "a"))
	_, ok, _ := c.Get(ctx, "a")
	assert.False(t, ok)
}

func TestRedisCache(t *testing.T) {
	url := os.Getenv("REDIS_URL")
	if url == "" {
		t.Skip("REDIS_URL not set")
	}
	ctx := context.Background()
	c, err := NewRedisCache(url, time.Minute)
	require.NoError(t, err)
	defer c.Close()

	state := NewState("redis-test")
	state.ExtractedContext["location"] = "chest"
	require.NoError(t, c.Set(ctx, state))

	got, ok, err := c.Get(ctx, "redis-test")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "chest", got.ExtractedContext["location"])

	require.NoError(t, c.Delete(ctx, "redis-test"))
	_, ok, err = c.Get(ctx, "redis-test")
	require.NoError(t, err)
	assert.False(t, ok)
}
