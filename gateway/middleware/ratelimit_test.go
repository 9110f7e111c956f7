package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"nhbcdp/crypto"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestRateLimiterBlocksAfterBurst(t *testing.T) {
	limiter := NewRateLimiter(map[string]RateLimit{
		"cdp": {RatePerSecond: 1, Burst: 1},
	}, nil)
	handler := limiter.Middleware("cdp")(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/v1/cdp/collaterals", nil)
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)
	if res.Code != http.StatusOK {
		t.Fatalf("expected first request to succeed, got %d", res.Code)
	}

	res = httptest.NewRecorder()
	handler.ServeHTTP(res, req)
	if res.Code != http.StatusTooManyRequests {
		t.Fatalf("expected second request to be rate limited, got %d", res.Code)
	}
	if res.Header().Get("Retry-After") != "1" {
		t.Fatalf("unexpected Retry-After %q", res.Header().Get("Retry-After"))
	}
}

func TestRateLimiterSeparatesRoutes(t *testing.T) {
	limiter := NewRateLimiter(map[string]RateLimit{
		"cdp":    {RatePerSecond: 1, Burst: 1},
		"events": {RatePerSecond: 1, Burst: 1},
	}, nil)
	cdpHandler := limiter.Middleware("cdp")(okHandler())
	eventsHandler := limiter.Middleware("events")(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/v1/cdp/collaterals", nil)
	res := httptest.NewRecorder()
	cdpHandler.ServeHTTP(res, req)
	if res.Code != http.StatusOK {
		t.Fatalf("expected cdp request to succeed, got %d", res.Code)
	}

	res = httptest.NewRecorder()
	eventsHandler.ServeHTTP(res, req)
	if res.Code != http.StatusOK {
		t.Fatalf("expected events request to use its own bucket, got %d", res.Code)
	}
}

func TestRateLimiterKeysByCaller(t *testing.T) {
	limiter := NewRateLimiter(map[string]RateLimit{
		"cdp": {RatePerSecond: 1, Burst: 1},
	}, nil)
	handler := limiter.Middleware("cdp")(okHandler())

	for i := byte(1); i <= 2; i++ {
		raw := make([]byte, 20)
		raw[19] = i
		ctx := context.WithValue(context.Background(), ContextKeyCaller, crypto.NewAddress(crypto.NHBPrefix, raw))
		req := httptest.NewRequest(http.MethodGet, "/v1/cdp/collaterals", nil).WithContext(ctx)
		res := httptest.NewRecorder()
		handler.ServeHTTP(res, req)
		if res.Code != http.StatusOK {
			t.Fatalf("caller %d shares a bucket from the same IP, got %d", i, res.Code)
		}
	}
}

func TestRateLimiterForgetsIdleClients(t *testing.T) {
	limiter := NewRateLimiter(map[string]RateLimit{
		"cdp": {RatePerSecond: 1, Burst: 1},
	}, nil)
	now := time.Unix(1_700_000_000, 0)
	limiter.clockNow = func() time.Time { return now }
	limiter.obtainLimiter("cdp|a", RateLimit{RatePerSecond: 1, Burst: 1})

	now = now.Add(10 * time.Minute)
	limiter.obtainLimiter("cdp|b", RateLimit{RatePerSecond: 1, Burst: 1})
	if _, ok := limiter.visitors["cdp|a"]; ok {
		t.Fatalf("idle visitor not collected")
	}
}
