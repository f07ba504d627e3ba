package handlers

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/marmos91/shuttle/internal/logger"
	"github.com/marmos91/shuttle/pkg/auth"
	"github.com/marmos91/shuttle/pkg/models"
	"github.com/marmos91/shuttle/pkg/transfer"
)

// maxChunkBody caps a single chunk read. The upload's own chunk size is
// enforced by the transfer service; this bound only protects the server
// from unbounded request bodies.
const maxChunkBody = 1 << 30 // 1 GiB

// UploadHandler serves the upload lifecycle endpoints.
type UploadHandler struct {
	service *transfer.Service
}

// NewUploadHandler creates a new UploadHandler. The service is
// required.
func NewUploadHandler(service *transfer.Service) (*UploadHandler, error) {
	if service == nil {
		return nil, errors.New("NewUploadHandler: service is required and must not be nil")
	}
	return &UploadHandler{service: service}, nil
}

// principalFrom extracts the authenticated principal set by the auth
// middleware. Writes a 401 and returns false when it is absent.
func principalFrom(w http.ResponseWriter, r *http.Request) (*auth.Principal, bool) {
	principal, ok := auth.PrincipalFrom(r.Context())
	if !ok {
		Unauthorized(w, r, "missing API key")
		return nil, false
	}
	return principal, true
}

// Init handles POST /v1/uploads/init.
// Registers an upload session and answers 201, or replays the recorded
// answer when the idempotency key has been seen before.
func (h *UploadHandler) Init(w http.ResponseWriter, r *http.Request) {
	principal, ok := principalFrom(w, r)
	if !ok {
		return
	}

	var req transfer.InitRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}

	res, err := h.service.Init(r.Context(), principal, req)
	if err != nil {
		HandleServiceError(w, r, err)
		return
	}

	WriteJSON(w, res.Status, res.Response)
}

// PutChunk handles PUT /v1/uploads/{id}/chunks/{index}.
// The raw chunk bytes travel in the body; X-Chunk-SHA256 carries an
// optional integrity digest and X-Idempotency-Key a replay key. Accepted
// chunks answer 202 once the pipeline confirms the durable write.
func (h *UploadHandler) PutChunk(w http.ResponseWriter, r *http.Request) {
	principal, ok := principalFrom(w, r)
	if !ok {
		return
	}

	index, ok := chunkIndexParam(w, r)
	if !ok {
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxChunkBody))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			Error(w, r, http.StatusRequestEntityTooLarge, "chunk body exceeds the maximum allowed size")
			return
		}
		BadRequest(w, r, "failed to read chunk body")
		return
	}

	res, err := h.service.AcceptChunk(r.Context(), principal, chi.URLParam(r, "id"), transfer.ChunkUpload{
		Index:          index,
		Body:           body,
		DeclaredSHA256: r.Header.Get("X-Chunk-SHA256"),
		IdempotencyKey: r.Header.Get("X-Idempotency-Key"),
	})
	if err != nil {
		if errors.Is(err, models.ErrUploadTerminal) {
			Conflict(w, r, "upload is not accepting chunks")
			return
		}
		HandleServiceError(w, r, err)
		return
	}

	WriteJSON(w, res.Status, res.Response)
}

// Complete handles POST /v1/uploads/{id}/complete.
// The body is optional; when present it may carry an idempotency key
// and a whole-file checksum to verify against.
func (h *UploadHandler) Complete(w http.ResponseWriter, r *http.Request) {
	principal, ok := principalFrom(w, r)
	if !ok {
		return
	}

	var req transfer.CompleteRequest
	if err := decodeOptionalJSONBody(r, &req); err != nil {
		BadRequest(w, r, "invalid request body")
		return
	}

	res, err := h.service.Complete(r.Context(), principal, chi.URLParam(r, "id"), req)
	if err != nil {
		HandleServiceError(w, r, err)
		return
	}

	WriteJSON(w, res.Status, res.Response)
}

// MissingChunks handles GET /v1/uploads/{id}/missing-chunks.
// Lists the chunk indexes still owed so a client can resume.
func (h *UploadHandler) MissingChunks(w http.ResponseWriter, r *http.Request) {
	principal, ok := principalFrom(w, r)
	if !ok {
		return
	}

	resp, err := h.service.MissingChunks(r.Context(), principal, chi.URLParam(r, "id"))
	if err != nil {
		HandleServiceError(w, r, err)
		return
	}

	WriteJSONOK(w, resp)
}

// Abort handles POST /v1/uploads/{id}/abort.
func (h *UploadHandler) Abort(w http.ResponseWriter, r *http.Request) {
	principal, ok := principalFrom(w, r)
	if !ok {
		return
	}

	resp, err := h.service.Abort(r.Context(), principal, chi.URLParam(r, "id"))
	if err != nil {
		HandleServiceError(w, r, err)
		return
	}

	WriteJSONOK(w, resp)
}

// Download handles GET /v1/uploads/{id}/download.
// Streams the assembled file, or the window a Range header selects.
func (h *UploadHandler) Download(w http.ResponseWriter, r *http.Request) {
	principal, ok := principalFrom(w, r)
	if !ok {
		return
	}

	d, err := h.service.Download(r.Context(), principal, chi.URLParam(r, "id"), r.Header.Get("Range"))
	if err != nil {
		HandleServiceError(w, r, err)
		return
	}
	defer d.Body.Close()

	w.Header().Set("Accept-Ranges", "bytes")
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Length", strconv.FormatInt(d.Length, 10))

	if d.Ranged {
		w.Header().Set("Content-Range",
			"bytes "+strconv.FormatInt(d.Start, 10)+"-"+strconv.FormatInt(d.End, 10)+"/"+strconv.FormatInt(d.Upload.FileSize, 10))
		w.WriteHeader(http.StatusPartialContent)
	}

	if _, err := io.Copy(w, d.Body); err != nil {
		// Headers are gone; all we can do is cut the connection short.
		logger.WarnCtx(r.Context(), "download stream aborted",
			"upload_id", d.Upload.ID,
			"error", err,
		)
	}
}
