// Package redis holds the Redis-backed sliding window rate limiter.
package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/kmulambia/qgen-engine/internal/config"
)

const keyPrefix = "rate_limit:"

// slidingWindow trims expired entries, records the current request, counts the
// window and refreshes the key TTL in one atomic round trip. Entries are keyed
// by whole seconds, so multiple requests within the same second collapse into
// a single sorted set member.
var slidingWindow = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window_start = tonumber(ARGV[2])
local window = tonumber(ARGV[3])
redis.call('ZREMRANGEBYSCORE', key, 0, window_start)
redis.call('ZADD', key, now, ARGV[1])
local count = redis.call('ZCOUNT', key, window_start, now)
redis.call('EXPIRE', key, window)
return count
`)

type RateLimitCache struct {
	client *redis.Client
	limit  int64
	window time.Duration
	now    func() time.Time
}

func NewRateLimitCache(client *redis.Client, cfg config.RateLimitConfig) *RateLimitCache {
	return &RateLimitCache{
		client: client,
		limit:  int64(cfg.Requests),
		window: time.Duration(cfg.WindowSeconds) * time.Second,
		now:    time.Now,
	}
}

// WithClock overrides the time source. Tests only.
func (c *RateLimitCache) WithClock(now func() time.Time) *RateLimitCache {
	c.now = now
	return c
}

func (c *RateLimitCache) Limit() int64 { return c.limit }

func (c *RateLimitCache) Window() time.Duration { return c.window }

// Check records a request for clientKey and reports whether the client has
// exceeded the window limit, along with the observed request count. Errors
// surface to the caller; the caller decides whether to fail open or closed.
func (c *RateLimitCache) Check(ctx context.Context, clientKey string) (bool, int64, error) {
	now := c.now().Unix()
	windowStart := now - int64(c.window/time.Second)

	result, err := slidingWindow.Run(ctx, c.client,
		[]string{keyPrefix + clientKey},
		strconv.FormatInt(now, 10),
		strconv.FormatInt(windowStart, 10),
		strconv.FormatInt(int64(c.window/time.Second), 10),
	).Result()
	if err != nil {
		return false, 0, fmt.Errorf("rate limit check failed: %w", err)
	}

	count, ok := result.(int64)
	if !ok {
		return false, 0, fmt.Errorf("rate limit check returned unexpected type %T", result)
	}

	return count > c.limit, count, nil
}
