package api_test

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/Custodia-Systems/timevault/pkg/api"
	"github.com/Custodia-Systems/timevault/pkg/contracts"
	"github.com/Custodia-Systems/timevault/pkg/directory"
)

func TestWriteError_ContentType(t *testing.T) {
	w := httptest.NewRecorder()
	api.WriteError(w, http.StatusBadRequest, "Bad Request", "field is missing")

	if ct := w.Header().Get("Content-Type"); ct != "application/problem+json" {
		t.Errorf("expected Content-Type 'application/problem+json', got %q", ct)
	}
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected status 400, got %d", w.Code)
	}

	var problem api.ProblemDetail
	if err := json.NewDecoder(w.Body).Decode(&problem); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if problem.Status != 400 {
		t.Errorf("expected problem.status=400, got %d", problem.Status)
	}
	if problem.Title != "Bad Request" {
		t.Errorf("expected title 'Bad Request', got %q", problem.Title)
	}
	if problem.Detail != "field is missing" {
		t.Errorf("expected detail 'field is missing', got %q", problem.Detail)
	}
}

func TestWriteInternal_SanitizesError(t *testing.T) {
	w := httptest.NewRecorder()
	api.WriteInternal(w, errors.New("pq: connection refused to host=10.0.0.1"))

	var problem api.ProblemDetail
	if err := json.NewDecoder(w.Body).Decode(&problem); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}

	// Must NOT contain internal error details
	if problem.Detail == "pq: connection refused to host=10.0.0.1" {
		t.Error("internal error details leaked to client")
	}
	if w.Code != http.StatusInternalServerError {
		t.Errorf("expected status 500, got %d", w.Code)
	}
}

func TestWriteTooManyRequests_RetryAfterHeader(t *testing.T) {
	w := httptest.NewRecorder()
	api.WriteTooManyRequests(w, 30)

	if ra := w.Header().Get("Retry-After"); ra != "30" {
		t.Errorf("expected Retry-After '30', got %q", ra)
	}
	if w.Code != http.StatusTooManyRequests {
		t.Errorf("expected status 429, got %d", w.Code)
	}
}

func TestWriteMethodNotAllowed(t *testing.T) {
	w := httptest.NewRecorder()
	api.WriteMethodNotAllowed(w)

	if w.Code != http.StatusMethodNotAllowed {
		t.Errorf("expected status 405, got %d", w.Code)
	}
}

func TestWriteUnauthorized_DefaultDetail(t *testing.T) {
	w := httptest.NewRecorder()
	api.WriteUnauthorized(w, "")

	var problem api.ProblemDetail
	if err := json.NewDecoder(w.Body).Decode(&problem); err != nil {
		t.Fatalf("failed to decode: %v", err)
	}
	if problem.Detail != "Authentication required" {
		t.Errorf("expected default detail, got %q", problem.Detail)
	}
}

func TestWriteErrorR_EnrichesWithRequestContext(t *testing.T) {
	req := httptest.NewRequest("GET", "/v1/deposits", nil)
	w := httptest.NewRecorder()
	w.Header().Set("X-Request-ID", "req-123")

	api.WriteErrorR(w, req, http.StatusBadRequest, "Bad Request", "bad input")

	var problem api.ProblemDetail
	if err := json.NewDecoder(w.Body).Decode(&problem); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if problem.Instance != "/v1/deposits" {
		t.Fatalf("expected instance %q, got %q", "/v1/deposits", problem.Instance)
	}
	if problem.TraceID != "req-123" {
		t.Fatalf("expected trace_id %q, got %q", "req-123", problem.TraceID)
	}
}

func TestWriteDomainError_Taxonomy(t *testing.T) {
	cases := []struct {
		err    error
		status int
	}{
		{contracts.ErrInvalidTimestamp, http.StatusUnprocessableEntity},
		{contracts.ErrTimestampOutOfRange, http.StatusUnprocessableEntity},
		{contracts.ErrTimestampNotReached, http.StatusUnprocessableEntity},
		{contracts.ErrGracePeriodExpired, http.StatusUnprocessableEntity},
		{contracts.ErrInsufficientFunds, http.StatusPaymentRequired},
		{contracts.ErrTransferFailed, http.StatusPaymentRequired},
		{contracts.ErrDepositNotFound, http.StatusNotFound},
		{contracts.ErrNotQueued, http.StatusNotFound},
		{directory.ErrInstanceNotFound, http.StatusNotFound},
		{contracts.ErrAlreadyQueued, http.StatusConflict},
		{contracts.ErrAlreadyClaimed, http.StatusConflict},
		{contracts.ErrNotOwner, http.StatusForbidden},
		{contracts.ErrGuardDenied, http.StatusForbidden},
		{errors.New("something unexpected"), http.StatusInternalServerError},
	}

	for _, tc := range cases {
		w := httptest.NewRecorder()
		api.WriteDomainError(w, tc.err)
		if w.Code != tc.status {
			t.Errorf("WriteDomainError(%v) = %d, want %d", tc.err, w.Code, tc.status)
		}
	}
}

func TestWriteDomainError_UnwrapsWrappedErrors(t *testing.T) {
	w := httptest.NewRecorder()
	wrapped := fmt.Errorf("%w: release 42 not in (10, 100)", contracts.ErrTimestampOutOfRange)
	api.WriteDomainError(w, wrapped)

	if w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 for wrapped taxonomy error, got %d", w.Code)
	}

	var problem api.ProblemDetail
	if err := json.NewDecoder(w.Body).Decode(&problem); err != nil {
		t.Fatalf("failed to decode: %v", err)
	}
	if problem.Detail == "" {
		t.Error("expected wrapped context in detail")
	}
}
