// Package ratelimit provides fixed-window rate limiting for the token
// and upload endpoints. When no store is configured (nil Limiter
// store), all limits are disabled and requests pass; the service
// degrades gracefully in dev environments without Redis.
package ratelimit

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/reelworks/kino/internal/respond"
)

// Store is the minimal counter interface the limiter needs. In
// production this is backed by go-redis; in tests by an in-memory map.
type Store interface {
	// Incr atomically increments a counter key and returns the new value.
	Incr(ctx context.Context, key string) (int64, error)
	// Expire sets the TTL on a key.
	Expire(ctx context.Context, key string, ttl time.Duration) error
	// TTL returns the remaining time-to-live on a key. Zero or negative
	// means expired or missing.
	TTL(ctx context.Context, key string) (time.Duration, error)
	// Del removes one or more keys.
	Del(ctx context.Context, keys ...string) error
}

// Limiter performs rate limit checks against a Store.
type Limiter struct {
	store Store
}

// New creates a Limiter backed by the given Store. A nil store yields
// a no-op limiter that always allows.
func New(store Store) *Limiter {
	return &Limiter{store: store}
}

// Allow runs one increment-and-check for key. Returns
// (allowed, retryAfterSecs). Store errors fail open.
func (l *Limiter) Allow(ctx context.Context, key string, max int, window time.Duration) (bool, int) {
	if l.store == nil {
		return true, 0
	}

	count, err := l.store.Incr(ctx, key)
	if err != nil {
		return true, 0
	}
	if count == 1 {
		l.store.Expire(ctx, key, window)
	}
	if count > int64(max) {
		ttl, _ := l.store.TTL(ctx, key)
		retry := int(ttl.Seconds())
		if retry < 1 {
			retry = int(window.Seconds())
		}
		return false, retry
	}
	return true, 0
}

// Reset clears the counter for key.
func (l *Limiter) Reset(ctx context.Context, key string) {
	if l.store == nil {
		return
	}
	l.store.Del(ctx, key)
}

// Middleware limits each client IP to max requests per window under the
// given key prefix. Over-limit requests get 429 with Retry-After.
func (l *Limiter) Middleware(prefix string, max int, window time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := fmt.Sprintf("rate:%s:%s", prefix, ClientIP(r))
			allowed, retry := l.Allow(r.Context(), key, max, window)
			if !allowed {
				w.Header().Set("Retry-After", fmt.Sprintf("%d", retry))
				respond.Error(w, http.StatusTooManyRequests, "Too many requests")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// ClientIP extracts the real client IP, handling reverse proxy headers.
func ClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		parts := strings.Split(xff, ",")
		return strings.TrimSpace(parts[0])
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return strings.TrimSpace(xri)
	}
	addr := r.RemoteAddr
	if i := strings.LastIndex(addr, ":"); i > 0 {
		return addr[:i]
	}
	return addr
}
