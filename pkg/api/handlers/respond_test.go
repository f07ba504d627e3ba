package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/marmos91/shuttle/pkg/limits"
	"github.com/marmos91/shuttle/pkg/models"
	"github.com/marmos91/shuttle/pkg/transfer"
)

func TestMapServiceError(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantDetail string
	}{
		// Not found -> 404
		{"upload not found", models.ErrUploadNotFound, http.StatusNotFound, "upload not found"},

		// Ownership -> 403
		{"not owner", transfer.ErrNotOwner, http.StatusForbidden, "forbidden for this upload owner"},

		// Client mistakes -> 400
		{"invalid init", fmt.Errorf("file_size must not be negative: %w", transfer.ErrInvalidRequest), http.StatusBadRequest, "file_size must not be negative: invalid request"},
		{"index out of range", models.ErrChunkIndexRange, http.StatusBadRequest, "chunk index out of range"},
		{"empty chunk", transfer.ErrEmptyChunk, http.StatusBadRequest, "chunk payload is empty"},
		{"wrong chunk size", models.ErrChunkSizeInvalid, http.StatusBadRequest, "chunk size does not match expected size"},

		// Payload too large -> 413
		{"oversized chunk", transfer.ErrChunkTooLarge, http.StatusRequestEntityTooLarge, "chunk payload exceeds the chunk size"},

		// Integrity -> 422
		{"checksum mismatch", models.ErrChecksumMismatch, http.StatusUnprocessableEntity, "checksum mismatch"},

		// Conflicts -> 409
		{"chunks missing", models.ErrChunksMissing, http.StatusConflict, "not all chunks are uploaded"},
		{"chunk in flight", models.ErrChunkInFlight, http.StatusConflict, "chunk transfer already in progress"},
		{"chunk conflict", models.ErrChunkConflict, http.StatusConflict, "chunk already uploaded with different content"},
		{"idempotency conflict", models.ErrIdempotencyConflict, http.StatusConflict, "idempotency key reused with different parameters"},
		{"not completed", models.ErrUploadNotDone, http.StatusConflict, "upload is not completed"},

		// Terminal state -> 423
		{"terminal upload", models.ErrUploadTerminal, http.StatusLocked, "upload is in a terminal state"},

		// Range -> 416
		{"bad range", transfer.ErrRangeNotSatisfiable, http.StatusRequestedRangeNotSatisfiable, "requested range not satisfiable"},

		// Pipeline timeout -> 504
		{"wait timeout", transfer.ErrWaitTimeout, http.StatusGatewayTimeout, "timed out waiting for the chunk outcome"},

		// Internal -> 500
		{"inconsistent upload", transfer.ErrInconsistentUpload, http.StatusInternalServerError, "upload metadata is inconsistent"},
		{"unknown error", errors.New("something unexpected"), http.StatusInternalServerError, "internal server error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, detail := MapServiceError(tt.err)
			if status != tt.wantStatus {
				t.Errorf("MapServiceError(%v) status = %d, want %d", tt.err, status, tt.wantStatus)
			}
			if detail != tt.wantDetail {
				t.Errorf("MapServiceError(%v) detail = %q, want %q", tt.err, detail, tt.wantDetail)
			}
		})
	}
}

func TestMapServiceError_WrappedErrors(t *testing.T) {
	wrapped := fmt.Errorf("loading upload: %w", models.ErrUploadNotFound)
	status, detail := MapServiceError(wrapped)
	if status != http.StatusNotFound {
		t.Errorf("MapServiceError(wrapped) status = %d, want %d", status, http.StatusNotFound)
	}
	if detail != "upload not found" {
		t.Errorf("MapServiceError(wrapped) detail = %q, want %q", detail, "upload not found")
	}
}

func TestErrorCode(t *testing.T) {
	tests := []struct {
		status int
		want   string
	}{
		{http.StatusBadRequest, "bad_request"},
		{http.StatusUnauthorized, "missing_api_key"},
		{http.StatusForbidden, "forbidden"},
		{http.StatusNotFound, "not_found"},
		{http.StatusConflict, "conflict"},
		{http.StatusRequestEntityTooLarge, "payload_too_large"},
		{http.StatusRequestedRangeNotSatisfiable, "range_not_satisfiable"},
		{http.StatusUnprocessableEntity, "checksum_mismatch"},
		{http.StatusLocked, "already_terminal"},
		{http.StatusTooManyRequests, "throttled"},
		{http.StatusInternalServerError, "internal_error"},
		{http.StatusGatewayTimeout, "timeout"},
		{http.StatusTeapot, "http_418"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := errorCode(tt.status); got != tt.want {
				t.Errorf("errorCode(%d) = %q, want %q", tt.status, got, tt.want)
			}
		})
	}
}

// requestWithUploadID builds a request whose chi route context carries
// the {id} parameter, the way the router hands it to handlers.
func requestWithUploadID(method, target, uploadID string) *http.Request {
	r := httptest.NewRequest(method, target, nil)
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add("id", uploadID)
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

func TestError_Body(t *testing.T) {
	w := httptest.NewRecorder()
	r := requestWithUploadID(http.MethodPost, "/v1/uploads/up-1/complete", "up-1")

	Error(w, r, http.StatusConflict, "not all chunks are uploaded")

	if w.Code != http.StatusConflict {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusConflict)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q, want %q", ct, "application/json")
	}

	var body ErrorResponse
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode error response: %v", err)
	}
	if body.Detail != "not all chunks are uploaded" {
		t.Errorf("detail = %q, want %q", body.Detail, "not all chunks are uploaded")
	}
	if body.ErrorCode != "conflict" {
		t.Errorf("error_code = %q, want %q", body.ErrorCode, "conflict")
	}
	if body.UploadID != "up-1" {
		t.Errorf("upload_id = %q, want %q", body.UploadID, "up-1")
	}
}

func TestError_OmitsEmptyCorrelation(t *testing.T) {
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/v1/uploads", nil)

	Error(w, r, http.StatusBadRequest, "invalid request body")

	raw := w.Body.String()
	if strings.Contains(raw, "upload_id") {
		t.Errorf("body contains upload_id for request without one: %s", raw)
	}
	if strings.Contains(raw, "trace_id") {
		t.Errorf("body contains trace_id without an active span: %s", raw)
	}
}

func TestThrottled_Headers(t *testing.T) {
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPut, "/v1/uploads/up-1/chunks/0", nil)

	Throttled(w, r, &limits.Refusal{Reason: limits.ReasonQueueFull})

	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusTooManyRequests)
	}
	if got := w.Header().Get("Retry-After"); got != "1" {
		t.Errorf("Retry-After = %q, want %q", got, "1")
	}
	if got := w.Header().Get("X-RateLimit-Reason"); got != "queue_full" {
		t.Errorf("X-RateLimit-Reason = %q, want %q", got, "queue_full")
	}

	var body ErrorResponse
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode error response: %v", err)
	}
	if body.ErrorCode != "throttled" {
		t.Errorf("error_code = %q, want %q", body.ErrorCode, "throttled")
	}
}

func TestHandleServiceError_Refusal(t *testing.T) {
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPut, "/v1/uploads/up-1/chunks/0", nil)

	err := fmt.Errorf("admission: %w", &limits.Refusal{Reason: limits.ReasonGlobalFull})
	HandleServiceError(w, r, err)

	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusTooManyRequests)
	}
	if got := w.Header().Get("X-RateLimit-Reason"); got != "global_full" {
		t.Errorf("X-RateLimit-Reason = %q, want %q", got, "global_full")
	}
}

func TestHandleServiceError_MapsDomainErrors(t *testing.T) {
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPost, "/v1/uploads/up-1/complete", nil)

	HandleServiceError(w, r, fmt.Errorf("complete: %w", models.ErrChecksumMismatch))

	if w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusUnprocessableEntity)
	}
}

func TestDecodeOptionalJSONBody(t *testing.T) {
	t.Run("empty body", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodPost, "/v1/uploads/up-1/complete", nil)
		var req transfer.CompleteRequest
		if err := decodeOptionalJSONBody(r, &req); err != nil {
			t.Fatalf("decodeOptionalJSONBody(empty) = %v, want nil", err)
		}
		if req.IdempotencyKey != "" {
			t.Errorf("IdempotencyKey = %q, want empty", req.IdempotencyKey)
		}
	})

	t.Run("valid body", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodPost, "/v1/uploads/up-1/complete",
			strings.NewReader(`{"idempotency_key":"key-1"}`))
		var req transfer.CompleteRequest
		if err := decodeOptionalJSONBody(r, &req); err != nil {
			t.Fatalf("decodeOptionalJSONBody(valid) = %v, want nil", err)
		}
		if req.IdempotencyKey != "key-1" {
			t.Errorf("IdempotencyKey = %q, want %q", req.IdempotencyKey, "key-1")
		}
	})

	t.Run("malformed body", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodPost, "/v1/uploads/up-1/complete",
			strings.NewReader(`{"idempotency_key":`))
		var req transfer.CompleteRequest
		if err := decodeOptionalJSONBody(r, &req); err == nil {
			t.Fatal("decodeOptionalJSONBody(malformed) = nil, want error")
		}
	})
}
