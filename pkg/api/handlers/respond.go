package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/marmos91/shuttle/internal/logger"
	"github.com/marmos91/shuttle/internal/telemetry"
	"github.com/marmos91/shuttle/pkg/limits"
	"github.com/marmos91/shuttle/pkg/models"
	"github.com/marmos91/shuttle/pkg/transfer"
)

// ErrorResponse is the body of every non-2xx answer. Clients branch on
// ErrorCode; Detail is for humans. UploadID and TraceID appear when the
// request carries them.
type ErrorResponse struct {
	Detail    string `json:"detail"`
	ErrorCode string `json:"error_code"`
	RequestID string `json:"request_id,omitempty"`
	UploadID  string `json:"upload_id,omitempty"`
	TraceID   string `json:"trace_id,omitempty"`
}

// WriteJSON writes v as a JSON response with the given status code.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error("failed to encode response", "error", err)
	}
}

// WriteJSONOK writes v as a 200 JSON response.
func WriteJSONOK(w http.ResponseWriter, v any) {
	WriteJSON(w, http.StatusOK, v)
}

// Error writes a structured error body for the given status. The
// request id, upload id path parameter, and active trace id are pulled
// from the request so every error answer is correlatable.
func Error(w http.ResponseWriter, r *http.Request, status int, detail string) {
	resp := ErrorResponse{
		Detail:    detail,
		ErrorCode: errorCode(status),
		RequestID: middleware.GetReqID(r.Context()),
		UploadID:  chi.URLParam(r, "id"),
		TraceID:   telemetry.TraceID(r.Context()),
	}

	class := "client_error"
	logFn := logger.WarnCtx
	if status >= 500 {
		class = "server_error"
		logFn = logger.ErrorCtx
	}
	logFn(r.Context(), "request error",
		"request_id", resp.RequestID,
		"status_code", status,
		"error_class", class,
		"error_code", resp.ErrorCode,
		"detail", detail,
	)

	WriteJSON(w, status, resp)
}

// errorCode names each status for machine consumption. Unlisted codes
// fall back to http_<code>.
func errorCode(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusUnauthorized:
		return "missing_api_key"
	case http.StatusForbidden:
		return "forbidden"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusRequestEntityTooLarge:
		return "payload_too_large"
	case http.StatusRequestedRangeNotSatisfiable:
		return "range_not_satisfiable"
	case http.StatusUnprocessableEntity:
		return "checksum_mismatch"
	case http.StatusLocked:
		return "already_terminal"
	case http.StatusTooManyRequests:
		return "throttled"
	case http.StatusInternalServerError:
		return "internal_error"
	case http.StatusGatewayTimeout:
		return "timeout"
	default:
		return fmt.Sprintf("http_%d", status)
	}
}

// BadRequest writes a 400 error response.
func BadRequest(w http.ResponseWriter, r *http.Request, detail string) {
	Error(w, r, http.StatusBadRequest, detail)
}

// Unauthorized writes a 401 error response.
func Unauthorized(w http.ResponseWriter, r *http.Request, detail string) {
	Error(w, r, http.StatusUnauthorized, detail)
}

// Forbidden writes a 403 error response.
func Forbidden(w http.ResponseWriter, r *http.Request, detail string) {
	Error(w, r, http.StatusForbidden, detail)
}

// NotFound writes a 404 error response.
func NotFound(w http.ResponseWriter, r *http.Request, detail string) {
	Error(w, r, http.StatusNotFound, detail)
}

// Conflict writes a 409 error response.
func Conflict(w http.ResponseWriter, r *http.Request, detail string) {
	Error(w, r, http.StatusConflict, detail)
}

// InternalServerError writes a 500 error response.
func InternalServerError(w http.ResponseWriter, r *http.Request, detail string) {
	Error(w, r, http.StatusInternalServerError, detail)
}

// Throttled writes the 429 answer for an admission refusal: Retry-After
// so clients back off, X-RateLimit-Reason so they can tell which layer
// refused.
func Throttled(w http.ResponseWriter, r *http.Request, refusal *limits.Refusal) {
	w.Header().Set("Retry-After", "1")
	w.Header().Set("X-RateLimit-Reason", string(refusal.Reason))
	Error(w, r, http.StatusTooManyRequests, refusal.Error())
}

// MapServiceError translates a transfer service error into a status
// code and client-safe detail. Unknown errors become 500 without
// leaking their message.
func MapServiceError(err error) (int, string) {
	switch {
	case errors.Is(err, models.ErrUploadNotFound):
		return http.StatusNotFound, models.ErrUploadNotFound.Error()
	case errors.Is(err, transfer.ErrNotOwner):
		return http.StatusForbidden, transfer.ErrNotOwner.Error()
	case errors.Is(err, transfer.ErrInvalidRequest):
		// Validation failures carry the offending field in the message.
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, models.ErrChunkIndexRange):
		return http.StatusBadRequest, models.ErrChunkIndexRange.Error()
	case errors.Is(err, transfer.ErrEmptyChunk):
		return http.StatusBadRequest, transfer.ErrEmptyChunk.Error()
	case errors.Is(err, transfer.ErrChunkTooLarge):
		return http.StatusRequestEntityTooLarge, transfer.ErrChunkTooLarge.Error()
	case errors.Is(err, models.ErrChunkSizeInvalid):
		return http.StatusBadRequest, models.ErrChunkSizeInvalid.Error()
	case errors.Is(err, models.ErrChecksumMismatch):
		return http.StatusUnprocessableEntity, models.ErrChecksumMismatch.Error()
	case errors.Is(err, models.ErrChunksMissing):
		return http.StatusConflict, models.ErrChunksMissing.Error()
	case errors.Is(err, models.ErrChunkInFlight):
		return http.StatusConflict, models.ErrChunkInFlight.Error()
	case errors.Is(err, models.ErrChunkConflict):
		return http.StatusConflict, models.ErrChunkConflict.Error()
	case errors.Is(err, models.ErrIdempotencyConflict):
		return http.StatusConflict, models.ErrIdempotencyConflict.Error()
	case errors.Is(err, models.ErrUploadTerminal):
		return http.StatusLocked, models.ErrUploadTerminal.Error()
	case errors.Is(err, models.ErrUploadNotDone):
		return http.StatusConflict, "upload is not completed"
	case errors.Is(err, transfer.ErrRangeNotSatisfiable):
		return http.StatusRequestedRangeNotSatisfiable, transfer.ErrRangeNotSatisfiable.Error()
	case errors.Is(err, transfer.ErrWaitTimeout):
		return http.StatusGatewayTimeout, transfer.ErrWaitTimeout.Error()
	case errors.Is(err, transfer.ErrInconsistentUpload):
		return http.StatusInternalServerError, transfer.ErrInconsistentUpload.Error()
	default:
		return http.StatusInternalServerError, "internal server error"
	}
}

// HandleServiceError maps err and writes the error response. Admission
// refusals get the throttle headers; everything else goes through
// MapServiceError.
func HandleServiceError(w http.ResponseWriter, r *http.Request, err error) {
	if refusal, ok := limits.AsRefusal(err); ok {
		Throttled(w, r, refusal)
		return
	}

	status, detail := MapServiceError(err)
	if status == http.StatusInternalServerError {
		logger.ErrorCtx(r.Context(), "request failed",
			"request_id", middleware.GetReqID(r.Context()),
			"error", err,
		)
	}
	Error(w, r, status, detail)
}

// decodeJSONBody decodes a JSON request body into the provided pointer.
// Returns true if successful, false if decoding fails (error response
// is written automatically).
func decodeJSONBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		BadRequest(w, r, "invalid request body")
		return false
	}
	return true
}

// decodeOptionalJSONBody decodes a JSON request body into v, treating
// an empty body as valid. Endpoints whose body only carries optional
// fields use this instead of decodeJSONBody.
func decodeOptionalJSONBody(r *http.Request, v any) error {
	err := json.NewDecoder(r.Body).Decode(v)
	if err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// chunkIndexParam parses the {index} path parameter. A non-integer
// index is a 400, not a 404: the route matched, the value is bad.
func chunkIndexParam(w http.ResponseWriter, r *http.Request) (int, bool) {
	raw := chi.URLParam(r, "index")
	index, err := strconv.Atoi(raw)
	if err != nil {
		BadRequest(w, r, "chunk index must be an integer")
		return 0, false
	}
	return index, true
}
