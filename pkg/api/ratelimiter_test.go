package api

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestGlobalRateLimiterAllowsWithinBurst(t *testing.T) {
	rl := NewGlobalRateLimiter(100, 5)
	handler := rl.Middleware(okHandler())

	for i := 0; i < 5; i++ {
		req := httptest.NewRequest(http.MethodGet, "/v1/deposits", nil)
		req.RemoteAddr = "10.0.0.1:5000"
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)
		if w.Code != http.StatusOK {
			t.Fatalf("request %d: expected 200, got %d", i, w.Code)
		}
	}
}

func TestGlobalRateLimiterBlocksExcess(t *testing.T) {
	rl := NewGlobalRateLimiter(1, 1)
	handler := rl.Middleware(okHandler())

	req1 := httptest.NewRequest(http.MethodGet, "/v1/deposits", nil)
	req1.RemoteAddr = "10.0.0.1:5000"
	w1 := httptest.NewRecorder()
	handler.ServeHTTP(w1, req1)
	if w1.Code != http.StatusOK {
		t.Fatalf("first request: expected 200, got %d", w1.Code)
	}

	req2 := httptest.NewRequest(http.MethodGet, "/v1/deposits", nil)
	req2.RemoteAddr = "10.0.0.1:5001" // same IP, different port
	w2 := httptest.NewRecorder()
	handler.ServeHTTP(w2, req2)
	if w2.Code != http.StatusTooManyRequests {
		t.Fatalf("second request: expected 429, got %d", w2.Code)
	}
	if w2.Header().Get("Retry-After") == "" {
		t.Error("expected Retry-After header on 429")
	}
}

func TestGlobalRateLimiterSeparatesIPs(t *testing.T) {
	rl := NewGlobalRateLimiter(1, 1)
	handler := rl.Middleware(okHandler())

	req1 := httptest.NewRequest(http.MethodGet, "/v1/deposits", nil)
	req1.RemoteAddr = "10.0.0.1:5000"
	handler.ServeHTTP(httptest.NewRecorder(), req1)

	req2 := httptest.NewRequest(http.MethodGet, "/v1/deposits", nil)
	req2.RemoteAddr = "10.0.0.2:5000"
	w2 := httptest.NewRecorder()
	handler.ServeHTTP(w2, req2)
	if w2.Code != http.StatusOK {
		t.Fatalf("different IP must have its own budget, got %d", w2.Code)
	}
}
