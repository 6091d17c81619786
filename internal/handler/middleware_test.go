package handler

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kmulambia/qgen-engine/internal/config"
	redisrepo "github.com/kmulambia/qgen-engine/internal/repository/redis"
)

func newLimitedHandler(t *testing.T, requests, windowSeconds int) (http.Handler, *redisrepo.RateLimitCache, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	cache := redisrepo.NewRateLimitCache(client, config.RateLimitConfig{
		Requests:      requests,
		WindowSeconds: windowSeconds,
	})

	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	return RateLimitMiddleware(cache)(next), cache, mr
}

func TestRateLimitMiddlewareAttachesHeaders(t *testing.T) {
	h, cache, _ := newLimitedHandler(t, 5, 60)
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	cache.WithClock(func() time.Time { return base })

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "5", rec.Header().Get("X-RateLimit-Limit"))
	assert.Equal(t, "4", rec.Header().Get("X-RateLimit-Remaining"))
	assert.Equal(t, "60", rec.Header().Get("X-RateLimit-Window"))
}

func TestRateLimitMiddlewareBlocksOverLimit(t *testing.T) {
	h, cache, _ := newLimitedHandler(t, 3, 60)

	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	current := base
	cache.WithClock(func() time.Time { return current })

	for i := 0; i < 3; i++ {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
		require.Equal(t, http.StatusOK, rec.Code)
		current = current.Add(time.Second)
	}

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "Too many requests", rec.Body.String())
	assert.Equal(t, "0", rec.Header().Get("X-RateLimit-Remaining"))

	// Past the window the client is admitted again.
	current = base.Add(90 * time.Second)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRateLimitMiddlewareFailsClosed(t *testing.T) {
	h, _, mr := newLimitedHandler(t, 3, 60)
	mr.Close()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestRateLimitMiddlewareSeparatesClients(t *testing.T) {
	h, cache, _ := newLimitedHandler(t, 1, 60)

	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	current := base
	cache.WithClock(func() time.Time { return current })

	first := httptest.NewRequest(http.MethodGet, "/", nil)
	first.RemoteAddr = "203.0.113.7:1234"
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, first)
	require.Equal(t, http.StatusOK, rec.Code)

	current = current.Add(time.Second)
	again := httptest.NewRequest(http.MethodGet, "/", nil)
	again.RemoteAddr = "203.0.113.7:9999"
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, again)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code, "same IP, different port shares the bucket")

	current = current.Add(time.Second)
	other := httptest.NewRequest(http.MethodGet, "/", nil)
	other.RemoteAddr = "198.51.100.9:1234"
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, other)
	assert.Equal(t, http.StatusOK, rec.Code)
}
