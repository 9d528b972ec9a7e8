package ratelimit

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestLimiter(t *testing.T) {
	// The limiter starts with 2 tokens in the bucket
	limiter := NewLimiter(10, 2)

	if !limiter.Allow("test-key") {
		t.Error("First request should be allowed")
	}
	if !limiter.Allow("test-key") {
		t.Error("Second request should be allowed")
	}
	if limiter.Allow("test-key") {
		t.Error("Third request should be rate limited")
	}

	// Keys are independent
	if !limiter.Allow("other-key") {
		t.Error("Other key should have its own bucket")
	}

	// 10 req/s = 100ms per token
	time.Sleep(150 * time.Millisecond)
	if !limiter.Allow("test-key") {
		t.Error("Request after waiting should be allowed")
	}
}

func TestLimiterWait(t *testing.T) {
	limiter := NewLimiter(1, 1)
	ctx := context.Background()

	if err := limiter.Wait(ctx, "endpoint"); err != nil {
		t.Fatalf("first Wait() error = %v", err)
	}

	// The next token is a second away; a short deadline must fail
	short, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	if err := limiter.Wait(short, "endpoint"); err == nil {
		t.Error("expected Wait to fail before a token is available")
	}
}

func TestLimiterDisabled(t *testing.T) {
	limiter := NewLimiter(0, 0)
	for i := 0; i < 100; i++ {
		if !limiter.Allow("k") {
			t.Fatalf("request %d limited with limiting disabled", i)
		}
	}
}

func TestMiddleware(t *testing.T) {
	limiter := NewLimiter(10, 1)

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	wrapped := limiter.Middleware(IPKeyFunc)(handler)

	req1 := httptest.NewRequest("POST", "/run", nil)
	rr1 := httptest.NewRecorder()
	wrapped.ServeHTTP(rr1, req1)
	if rr1.Code != http.StatusOK {
		t.Errorf("First request should succeed, got status %d", rr1.Code)
	}

	req2 := httptest.NewRequest("POST", "/run", nil)
	rr2 := httptest.NewRecorder()
	wrapped.ServeHTTP(rr2, req2)
	if rr2.Code != http.StatusTooManyRequests {
		t.Errorf("Second request should be rate limited, got status %d", rr2.Code)
	}
}

func TestMiddlewareRetryAfter(t *testing.T) {
	limiter := NewLimiter(0.5, 1)
	wrapped := limiter.Middleware(IPKeyFunc)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	wrapped.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("POST", "/run", nil))
	rr := httptest.NewRecorder()
	wrapped.ServeHTTP(rr, httptest.NewRequest("POST", "/run", nil))

	if rr.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rr.Code)
	}
	if got := rr.Header().Get("Retry-After"); got != "2" {
		t.Errorf("Retry-After = %q, want 2", got)
	}
}

func TestIPKeyFunc(t *testing.T) {
	tests := []struct {
		name       string
		remoteAddr string
		xff        string
		want       string
	}{
		{"remote addr", "10.1.2.3:5555", "", "10.1.2.3"},
		{"ipv6 remote addr", "[::1]:5555", "", "::1"},
		{"forwarded chain", "10.1.2.3:5555", "203.0.113.7, 10.0.0.1", "203.0.113.7"},
		{"no port", "pipe", "", "pipe"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest("GET", "/", nil)
			r.RemoteAddr = tt.remoteAddr
			if tt.xff != "" {
				r.Header.Set("X-Forwarded-For", tt.xff)
			}
			if got := IPKeyFunc(r); got != tt.want {
				t.Errorf("IPKeyFunc() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestIdleKeysEvicted(t *testing.T) {
	limiter := NewLimiter(10, 1)
	now := time.Now()
	limiter.now = func() time.Time { return now }

	limiter.Allow("a")
	limiter.Allow("b")
	if limiter.Len() != 2 {
		t.Fatalf("expected 2 keys, got %d", limiter.Len())
	}

	now = now.Add(idleTTL + time.Second)
	limiter.Allow("c")
	if limiter.Len() != 1 {
		t.Errorf("expected idle keys evicted, %d left", limiter.Len())
	}
}
