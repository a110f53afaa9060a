package auth_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/Custodia-Systems/timevault/pkg/auth"
	"github.com/Custodia-Systems/timevault/pkg/ratelimit"
)

func createTestToken(t *testing.T, ks auth.KeySet, sub string, roles []string, expiry time.Time) string {
	t.Helper()
	claims := auth.VaultClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   sub,
			ExpiresAt: jwt.NewNumericDate(expiry),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			Issuer:    "timevault-test",
		},
		Roles: roles,
	}
	token, err := ks.Sign(context.Background(), claims)
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}
	return token
}

func setupValidator(t *testing.T) (auth.KeySet, *auth.JWTValidator) {
	t.Helper()
	ks, err := auth.NewInMemoryKeySet()
	if err != nil {
		t.Fatalf("failed to create keyset: %v", err)
	}
	return ks, auth.NewJWTValidator(ks)
}

func TestMiddlewareValidJWT(t *testing.T) {
	ks, validator := setupValidator(t)
	middleware := auth.NewMiddleware(validator)

	var captured auth.Principal
	handler := middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, err := auth.GetPrincipal(r.Context())
		if err != nil {
			t.Errorf("expected principal in context: %v", err)
		}
		captured = p
		w.WriteHeader(http.StatusOK)
	}))

	token := createTestToken(t, ks, "acct:alice", []string{"operator"}, time.Now().Add(time.Hour))

	req := httptest.NewRequest("GET", "/instances", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", w.Code)
	}
	if captured == nil {
		t.Fatal("principal was not set in context")
	}
	if captured.Identity() != "acct:alice" {
		t.Errorf("identity = %q, want acct:alice", captured.Identity())
	}
	if !captured.HasRole("operator") {
		t.Error("expected operator role")
	}
	if captured.HasRole("admin") {
		t.Error("unexpected admin role")
	}
}

func TestMiddlewareExpiredJWT(t *testing.T) {
	ks, validator := setupValidator(t)
	middleware := auth.NewMiddleware(validator)

	handler := middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("handler should not run for an expired token")
	}))

	token := createTestToken(t, ks, "acct:alice", nil, time.Now().Add(-time.Hour))

	req := httptest.NewRequest("GET", "/instances", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", w.Code)
	}
}

func TestMiddlewareMissingHeader(t *testing.T) {
	_, validator := setupValidator(t)
	middleware := auth.NewMiddleware(validator)

	handler := middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("handler should not run without an auth header")
	}))

	req := httptest.NewRequest("GET", "/instances", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/problem+json" {
		t.Errorf("Content-Type = %q", ct)
	}
}

func TestMiddlewareInvalidSignature(t *testing.T) {
	ks1, _ := setupValidator(t)
	_, validator2 := setupValidator(t)

	middleware := auth.NewMiddleware(validator2)
	handler := middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("handler should not run for a foreign signature")
	}))

	token := createTestToken(t, ks1, "acct:alice", nil, time.Now().Add(time.Hour))

	req := httptest.NewRequest("GET", "/instances", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", w.Code)
	}
}

func TestMiddlewarePublicPathsBypass(t *testing.T) {
	_, validator := setupValidator(t)
	middleware := auth.NewMiddleware(validator)

	called := false
	handler := middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest("GET", "/health", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if !called {
		t.Error("handler should run for public paths without auth")
	}
}

func TestMiddlewareNilValidatorFailsClosed(t *testing.T) {
	middleware := auth.NewMiddleware(nil)

	handler := middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("handler should not run when the validator is nil")
	}))

	req := httptest.NewRequest("GET", "/instances", nil)
	req.Header.Set("Authorization", "Bearer some-token")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", w.Code)
	}
}

func TestMiddlewareMissingSubjectClaim(t *testing.T) {
	ks, validator := setupValidator(t)
	middleware := auth.NewMiddleware(validator)

	handler := middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("handler should not run without a subject claim")
	}))

	token := createTestToken(t, ks, "", nil, time.Now().Add(time.Hour))
	req := httptest.NewRequest("GET", "/instances", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", w.Code)
	}
}

func TestKeySetRotationKeepsOldTokensValid(t *testing.T) {
	ks, validator := setupValidator(t)

	token := createTestToken(t, ks, "acct:alice", nil, time.Now().Add(time.Hour))

	inMem, ok := ks.(*auth.InMemoryKeySet)
	if !ok {
		t.Fatalf("unexpected keyset type %T", ks)
	}
	if err := inMem.Rotate(); err != nil {
		t.Fatalf("Rotate failed: %v", err)
	}

	claims, err := validator.Validate(token)
	if err != nil {
		t.Fatalf("token signed before rotation should verify: %v", err)
	}
	if claims.Subject != "acct:alice" {
		t.Errorf("subject = %q", claims.Subject)
	}
}

func TestGetRequestIDExtractsFromContext(t *testing.T) {
	var got string
	handler := auth.RequestIDMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = auth.GetRequestID(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest("GET", "/instances", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if got == "" {
		t.Fatal("expected non-empty request id from context")
	}
	if w.Header().Get("X-Request-ID") == "" {
		t.Fatal("expected X-Request-ID header to be set")
	}
}

func TestRequestIDReusesClientValue(t *testing.T) {
	handler := auth.RequestIDMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest("GET", "/instances", nil)
	req.Header.Set("X-Request-ID", "client-supplied")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if got := w.Header().Get("X-Request-ID"); got != "client-supplied" {
		t.Errorf("X-Request-ID = %q, want client-supplied", got)
	}
}

func TestRequestIDReplacesHostileClientValue(t *testing.T) {
	handler := auth.RequestIDMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	for name, bad := range map[string]string{
		"control chars": "abc\x00def",
		"oversized":     strings.Repeat("x", 4096),
	} {
		req := httptest.NewRequest("GET", "/instances", nil)
		req.Header.Set("X-Request-ID", bad)
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)

		got := w.Header().Get("X-Request-ID")
		if got == bad {
			t.Errorf("%s: hostile id passed through to response", name)
		}
		if got == "" {
			t.Errorf("%s: expected a replacement id", name)
		}
	}
}

func TestRateLimitMiddlewareUnderLimit(t *testing.T) {
	store := ratelimit.NewInMemoryStore()
	policy := ratelimit.Policy{RPM: 60, Burst: 10}
	middleware := auth.RateLimitMiddleware(store, policy)

	called := false
	handler := middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest("GET", "/instances", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if !called {
		t.Error("handler should run under the limit")
	}
}

func TestRateLimitMiddlewareOverLimit(t *testing.T) {
	store := ratelimit.NewInMemoryStore()
	policy := ratelimit.Policy{RPM: 1, Burst: 1}
	middleware := auth.RateLimitMiddleware(store, policy)

	handler := middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req1 := httptest.NewRequest("GET", "/instances", nil)
	w1 := httptest.NewRecorder()
	handler.ServeHTTP(w1, req1)
	if w1.Code != http.StatusOK {
		t.Errorf("first request: expected 200, got %d", w1.Code)
	}

	req2 := httptest.NewRequest("GET", "/instances", nil)
	w2 := httptest.NewRecorder()
	handler.ServeHTTP(w2, req2)
	if w2.Code != http.StatusTooManyRequests {
		t.Errorf("second request: expected 429, got %d", w2.Code)
	}
	if w2.Header().Get("Retry-After") == "" {
		t.Error("expected Retry-After header on 429")
	}
}

func TestRateLimitMiddlewareNilStoreDisables(t *testing.T) {
	middleware := auth.RateLimitMiddleware(nil, ratelimit.Policy{RPM: 1, Burst: 1})
	handler := middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	for i := 0; i < 5; i++ {
		req := httptest.NewRequest("GET", "/instances", nil)
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)
		if w.Code != http.StatusOK {
			t.Fatalf("request %d: expected 200, got %d", i, w.Code)
		}
	}
}

func TestCORSPreflight(t *testing.T) {
	middleware := auth.CORSMiddleware([]string{"https://console.example.com"})
	handler := middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("handler should not run for preflight")
	}))

	req := httptest.NewRequest(http.MethodOptions, "/instances", nil)
	req.Header.Set("Origin", "https://console.example.com")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusNoContent {
		t.Errorf("expected 204, got %d", w.Code)
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "https://console.example.com" {
		t.Errorf("Allow-Origin = %q", got)
	}
}

func TestCORSUnlistedOrigin(t *testing.T) {
	middleware := auth.CORSMiddleware([]string{"https://console.example.com"})
	handler := middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest("GET", "/instances", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Errorf("unlisted origin echoed: %q", got)
	}
}
