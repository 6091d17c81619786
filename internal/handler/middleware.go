package handler

import (
	"context"
	"net"
	"net/http"
	"strconv"
	"strings"

	"go.uber.org/zap"

	redisrepo "github.com/kmulambia/qgen-engine/internal/repository/redis"
	"github.com/kmulambia/qgen-engine/internal/service"
	"github.com/kmulambia/qgen-engine/internal/util"
)

type contextKey string

const claimsContextKey contextKey = "session_claims"

// ClaimsFromContext returns the verified session claims placed by
// AuthMiddleware.
func ClaimsFromContext(ctx context.Context) (*service.SessionClaims, bool) {
	claims, ok := ctx.Value(claimsContextKey).(*service.SessionClaims)
	return claims, ok
}

// RateLimitMiddleware applies the sliding window limiter per client IP. A
// limited client gets 429 with a plain text body; every other response
// carries the X-RateLimit-* headers. A limiter backend failure rejects the
// request: failing open would disable the limit exactly when Redis is down.
func RateLimitMiddleware(cache *redisrepo.RateLimitCache) func(http.Handler) http.Handler {
	limit := cache.Limit()
	window := int64(cache.Window().Seconds())

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			limited, count, err := cache.Check(r.Context(), clientIP(r))
			if err != nil {
				util.Error("rate limiter unavailable", zap.Error(err))
				respondWithError(w, http.StatusInternalServerError, service.ErrStoreUnavailable, "Service unavailable")
				return
			}

			remaining := limit - count
			if remaining < 0 {
				remaining = 0
			}
			w.Header().Set("X-RateLimit-Limit", strconv.FormatInt(limit, 10))
			w.Header().Set("X-RateLimit-Remaining", strconv.FormatInt(remaining, 10))
			w.Header().Set("X-RateLimit-Window", strconv.FormatInt(window, 10))

			if limited {
				w.Header().Set("Content-Type", "text/plain; charset=utf-8")
				w.WriteHeader(http.StatusTooManyRequests)
				w.Write([]byte("Too many requests"))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// AuthMiddleware verifies the bearer token and stores the session claims in
// the request context. All failures collapse to 401 with a generic message.
func AuthMiddleware(auth *service.AuthService) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			token, ok := strings.CutPrefix(header, "Bearer ")
			if !ok || token == "" {
				respondWithError(w, http.StatusUnauthorized, service.ErrInvalidToken, "Authentication required")
				return
			}

			claims, err := auth.VerifyToken(r.Context(), token)
			if err != nil {
				if service.IsDomainError(err) {
					respondWithError(w, http.StatusUnauthorized, err, "Authentication required")
					return
				}
				respondWithError(w, http.StatusInternalServerError, err, "Authentication failed")
				return
			}

			ctx := context.WithValue(r.Context(), claimsContextKey, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// clientIP trusts middleware.RealIP to have rewritten RemoteAddr.
func clientIP(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
