package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kmulambia/qgen-engine/internal/config"
)

func newTestCache(t *testing.T, requests, windowSeconds int) (*RateLimitCache, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	cache := NewRateLimitCache(client, config.RateLimitConfig{
		Requests:      requests,
		WindowSeconds: windowSeconds,
	})
	return cache, mr
}

func TestRateLimitCacheAllowsWithinLimit(t *testing.T) {
	cache, _ := newTestCache(t, 5, 60)

	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	current := base
	cache.WithClock(func() time.Time { return current })

	for i := 0; i < 5; i++ {
		limited, count, err := cache.Check(context.Background(), "203.0.113.7")
		require.NoError(t, err)
		assert.False(t, limited, "request %d should be allowed", i+1)
		assert.Equal(t, int64(i+1), count)
		current = current.Add(time.Second)
	}
}

func TestRateLimitCacheBlocksOverLimit(t *testing.T) {
	cache, _ := newTestCache(t, 5, 60)

	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	current := base
	cache.WithClock(func() time.Time { return current })

	for i := 0; i < 5; i++ {
		_, _, err := cache.Check(context.Background(), "203.0.113.7")
		require.NoError(t, err)
		current = current.Add(time.Second)
	}

	limited, count, err := cache.Check(context.Background(), "203.0.113.7")
	require.NoError(t, err)
	assert.True(t, limited)
	assert.Equal(t, int64(6), count)
}

func TestRateLimitCacheReadmitsAfterWindow(t *testing.T) {
	cache, _ := newTestCache(t, 5, 60)

	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	current := base
	cache.WithClock(func() time.Time { return current })

	for i := 0; i < 6; i++ {
		_, _, err := cache.Check(context.Background(), "203.0.113.7")
		require.NoError(t, err)
		current = current.Add(time.Second)
	}

	current = base.Add(90 * time.Second)
	limited, count, err := cache.Check(context.Background(), "203.0.113.7")
	require.NoError(t, err)
	assert.False(t, limited)
	assert.Equal(t, int64(1), count)
}

func TestRateLimitCacheCollapsesSameSecond(t *testing.T) {
	cache, _ := newTestCache(t, 5, 60)

	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	cache.WithClock(func() time.Time { return base })

	for i := 0; i < 3; i++ {
		limited, count, err := cache.Check(context.Background(), "203.0.113.7")
		require.NoError(t, err)
		assert.False(t, limited)
		assert.Equal(t, int64(1), count)
	}
}

func TestRateLimitCacheTracksClientsIndependently(t *testing.T) {
	cache, _ := newTestCache(t, 2, 60)

	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	current := base
	cache.WithClock(func() time.Time { return current })

	for i := 0; i < 3; i++ {
		_, _, err := cache.Check(context.Background(), "203.0.113.7")
		require.NoError(t, err)
		current = current.Add(time.Second)
	}

	limited, count, err := cache.Check(context.Background(), "198.51.100.9")
	require.NoError(t, err)
	assert.False(t, limited)
	assert.Equal(t, int64(1), count)
}

func TestRateLimitCacheSurfacesBackendErrors(t *testing.T) {
	cache, mr := newTestCache(t, 5, 60)
	mr.Close()

	_, _, err := cache.Check(context.Background(), "203.0.113.7")
	assert.Error(t, err)
}
