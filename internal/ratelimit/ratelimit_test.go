package ratelimit

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
)

func redisLimiter(t *testing.T) *Limiter {
	t.Helper()
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return New(NewRedisStore(client))
}

func TestAllow_RedisBacked(t *testing.T) {
	ctx := context.Background()
	l := redisLimiter(t)

	for i := 0; i < 3; i++ {
		allowed, _ := l.Allow(ctx, "k", 3, time.Minute)
		if !allowed {
			t.Fatalf("request %d blocked below the limit", i+1)
		}
	}
	allowed, retry := l.Allow(ctx, "k", 3, time.Minute)
	if allowed {
		t.Fatal("request above the limit was allowed")
	}
	if retry < 1 {
		t.Errorf("retry = %d; want at least 1s", retry)
	}
}

func TestAllow_MemStore(t *testing.T) {
	ctx := context.Background()
	l := New(NewMemStore())

	for i := 0; i < 2; i++ {
		if allowed, _ := l.Allow(ctx, "k", 2, time.Minute); !allowed {
			t.Fatalf("request %d blocked below the limit", i+1)
		}
	}
	if allowed, _ := l.Allow(ctx, "k", 2, time.Minute); allowed {
		t.Fatal("request above the limit was allowed")
	}

	l.Reset(ctx, "k")
	if allowed, _ := l.Allow(ctx, "k", 2, time.Minute); !allowed {
		t.Fatal("request blocked after Reset")
	}
}

func TestAllow_NilStorePasses(t *testing.T) {
	l := New(nil)
	for i := 0; i < 100; i++ {
		if allowed, _ := l.Allow(context.Background(), "k", 1, time.Minute); !allowed {
			t.Fatal("nil-store limiter blocked a request")
		}
	}
}

func TestMiddleware_LimitsPerIP(t *testing.T) {
	l := redisLimiter(t)
	handler := l.Middleware("token", 2, time.Minute)(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		}))

	request := func(ip string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/token", nil)
		req.RemoteAddr = ip + ":12345"
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)
		return rr
	}

	for i := 0; i < 2; i++ {
		if rr := request("10.0.0.1"); rr.Code != http.StatusOK {
			t.Fatalf("request %d: status = %d", i+1, rr.Code)
		}
	}
	rr := request("10.0.0.1")
	if rr.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d; want 429", rr.Code)
	}
	if rr.Header().Get("Retry-After") == "" {
		t.Error("429 without Retry-After header")
	}

	// A different client is unaffected.
	if rr := request("10.0.0.2"); rr.Code != http.StatusOK {
		t.Errorf("other IP blocked: status = %d", rr.Code)
	}
}

func TestClientIP(t *testing.T) {
	tests := []struct {
		name   string
		setup  func(*http.Request)
		remote string
		want   string
	}{
		{"x-forwarded-for", func(r *http.Request) {
			r.Header.Set("X-Forwarded-For", "1.2.3.4, 5.6.7.8")
		}, "9.9.9.9:1", "1.2.3.4"},
		{"x-real-ip", func(r *http.Request) {
			r.Header.Set("X-Real-IP", "4.3.2.1")
		}, "9.9.9.9:1", "4.3.2.1"},
		{"remote addr", func(r *http.Request) {}, "9.9.9.9:1234", "9.9.9.9"},
	}
	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = tt.remote
		tt.setup(req)
		if got := ClientIP(req); got != tt.want {
			t.Errorf("%s: ClientIP = %q; want %q", tt.name, got, tt.want)
		}
	}
}
