// Package transfer implements the upload lifecycle: session creation,
// chunk acceptance through the admission-controlled pipeline,
// completion, abort, and download assembly.
//
// The service sits between the HTTP handlers and the stores. Handlers
// own status codes and wire formats; the service owns the state
// machine, ownership checks, idempotency, and the submit-and-wait
// choreography around the worker pipeline.
package transfer

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/marmos91/shuttle/internal/logger"
	"github.com/marmos91/shuttle/internal/telemetry"
	"github.com/marmos91/shuttle/pkg/auth"
	"github.com/marmos91/shuttle/pkg/idempotency"
	"github.com/marmos91/shuttle/pkg/limits"
	"github.com/marmos91/shuttle/pkg/metrics"
	"github.com/marmos91/shuttle/pkg/models"
	"github.com/marmos91/shuttle/pkg/queue"
	"github.com/marmos91/shuttle/pkg/store/blob"
	"github.com/marmos91/shuttle/pkg/store/metadata"
)

// minMultipartChunkSize is the S3 minimum part size. Uploads with
// smaller chunks never open a multipart session.
const minMultipartChunkSize = 5 * 1024 * 1024

// Service errors the handlers map onto status codes. Store-level
// sentinels (models.Err*) pass through unwrapped.
var (
	// ErrNotOwner means the upload belongs to another principal.
	ErrNotOwner = errors.New("forbidden for this upload owner")

	// ErrInvalidRequest flags init parameters that fail validation.
	ErrInvalidRequest = errors.New("invalid request")

	// ErrEmptyChunk rejects zero-length chunk payloads.
	ErrEmptyChunk = errors.New("chunk payload is empty")

	// ErrChunkTooLarge rejects payloads above the upload's chunk size.
	ErrChunkTooLarge = errors.New("chunk payload exceeds the chunk size")

	// ErrWaitTimeout means the chunk outcome did not arrive in time.
	// The task keeps running; a retry will observe its result through
	// the duplicate short-circuit.
	ErrWaitTimeout = errors.New("timed out waiting for the chunk outcome")

	// ErrInconsistentUpload means chunk rows disagree with the upload
	// row. Surfaced as an internal error; the metadata needs repair.
	ErrInconsistentUpload = errors.New("upload metadata is inconsistent")
)

// Submitter admits one task into the execution pipeline. worker.Pool
// implements it for direct mode and worker.QueueSubmitter for durable
// mode.
type Submitter interface {
	Submit(ctx context.Context, task *queue.Task, lease *limits.Lease) error
}

// ServiceConfig wires the service's collaborators and tunables.
// Metrics may be nil.
type ServiceConfig struct {
	Store     metadata.Store
	Blobs     blob.Store
	Registry  *idempotency.Registry
	Admission *limits.Admission
	Submitter Submitter
	Results   *queue.ResultStore
	Metrics   *metrics.TransferMetrics

	// DefaultChunkSize is used when an init request omits chunk_size.
	DefaultChunkSize int64

	// TaskTimeout bounds the wait for a chunk's terminal outcome.
	TaskTimeout time.Duration

	// Multipart reports whether the blob backend supports multipart
	// sessions. The engagement rule additionally requires more than one
	// chunk and at least the S3 minimum part size.
	Multipart bool
}

// Service coordinates uploads across the metadata store, the blob
// store, the idempotency registry, and the execution pipeline.
type Service struct {
	meta     metadata.Store
	blobs    blob.Store
	registry *idempotency.Registry
	adm      *limits.Admission
	submit   Submitter
	results  *queue.ResultStore
	metrics  *metrics.TransferMetrics

	defaultChunkSize int64
	taskTimeout      time.Duration
	multipart        bool
}

// NewService creates the service.
func NewService(cfg ServiceConfig) *Service {
	if cfg.DefaultChunkSize <= 0 {
		cfg.DefaultChunkSize = minMultipartChunkSize
	}
	if cfg.TaskTimeout <= 0 {
		cfg.TaskTimeout = 45 * time.Second
	}
	return &Service{
		meta:             cfg.Store,
		blobs:            cfg.Blobs,
		registry:         cfg.Registry,
		adm:              cfg.Admission,
		submit:           cfg.Submitter,
		results:          cfg.Results,
		metrics:          cfg.Metrics,
		defaultChunkSize: cfg.DefaultChunkSize,
		taskTimeout:      cfg.TaskTimeout,
		multipart:        cfg.Multipart,
	}
}

// InitRequest carries the parameters of a new upload session.
type InitRequest struct {
	FileName           string `json:"file_name"`
	FileSize           int64  `json:"file_size"`
	ChunkSize          int64  `json:"chunk_size,omitempty"`
	FileChecksumSHA256 string `json:"file_checksum_sha256,omitempty"`
	IdempotencyKey     string `json:"idempotency_key,omitempty"`
}

// InitResponse is the wire shape of a successful init and the payload
// replayed for idempotent retries.
type InitResponse struct {
	UploadID    string `json:"upload_id"`
	ChunkSize   int64  `json:"chunk_size"`
	TotalChunks int    `json:"total_chunks"`
	Status      string `json:"status"`
}

// InitResult pairs the response with the status code to emit.
type InitResult struct {
	Response InitResponse
	Status   int
	Replayed bool
}

// Init creates an upload session.
//
// With an idempotency key the reservation is persisted in the same
// transaction as the upload row, already carrying the replayable
// result, so a raced duplicate init converges on one session. A replay
// for an upload owned by someone else is refused.
func (s *Service) Init(ctx context.Context, principal *auth.Principal, req InitRequest) (res InitResult, err error) {
	ctx, span := telemetry.StartTransferSpan(ctx, telemetry.SpanUploadInit, "",
		telemetry.FileName(req.FileName), telemetry.FileSize(req.FileSize))
	defer func() {
		if err != nil {
			telemetry.RecordError(ctx, err)
		} else {
			telemetry.SetAttributes(ctx,
				telemetry.UploadID(res.Response.UploadID),
				telemetry.Replay(res.Replayed))
		}
		span.End()
	}()

	if err := validateInit(req); err != nil {
		return InitResult{}, err
	}

	chunkSize := req.ChunkSize
	if chunkSize == 0 {
		chunkSize = s.defaultChunkSize
	}
	fingerprint := idempotency.InitFingerprint(req.FileName, req.FileSize, chunkSize, req.FileChecksumSHA256)

	if req.IdempotencyKey != "" {
		res, done, err := s.replayInit(ctx, principal, req.IdempotencyKey, fingerprint)
		if done || err != nil {
			return res, err
		}
	}

	upload := &models.Upload{
		ID:          uuid.New().String(),
		OwnerID:     principal.ID,
		FileName:    req.FileName,
		FileSize:    req.FileSize,
		ChunkSize:   chunkSize,
		TotalChunks: models.ComputeTotalChunks(req.FileSize, chunkSize),
		Status:      models.StatusInitiated,
	}
	if req.FileChecksumSHA256 != "" {
		checksum := strings.ToLower(req.FileChecksumSHA256)
		upload.ChecksumSHA256 = &checksum
	}

	if mp, ok := s.blobs.(blob.MultipartStore); ok && s.multipartEngaged(upload) {
		handle, err := mp.BeginMultipart(ctx, models.AssembledObjectKey(upload.ID))
		if err != nil {
			return InitResult{}, fmt.Errorf("failed to initialize multipart session: %w", err)
		}
		upload.MultipartUploadID = &handle
	}

	resp := InitResponse{
		UploadID:    upload.ID,
		ChunkSize:   upload.ChunkSize,
		TotalChunks: upload.TotalChunks,
		Status:      string(models.StatusInitiated),
	}

	if err := s.createUpload(ctx, upload, req.IdempotencyKey, fingerprint, resp); err != nil {
		s.abortMultipartSession(ctx, upload)
		if errors.Is(err, models.ErrIdempotencyConflict) {
			// Lost the insert race: the winner's row decides.
			res, done, rerr := s.replayInit(ctx, principal, req.IdempotencyKey, fingerprint)
			if done || rerr != nil {
				return res, rerr
			}
			return InitResult{}, models.ErrIdempotencyConflict
		}
		return InitResult{}, fmt.Errorf("failed to persist upload: %w", err)
	}

	s.auditUploadInit(ctx, principal, upload)
	return InitResult{Response: resp, Status: 201}, nil
}

// createUpload persists the upload, bundling the idempotency
// reservation into the same transaction when a key was provided. The
// reservation is stored complete, result included, so replays observe
// it atomically with the upload row.
func (s *Service) createUpload(ctx context.Context, upload *models.Upload, key, fingerprint string, resp InitResponse) error {
	if key == "" {
		return s.meta.CreateUpload(ctx, upload)
	}

	rec := s.registry.NewRecord(models.KindUploadInit, key, fingerprint)
	body, err := json.Marshal(resp)
	if err != nil {
		return fmt.Errorf("failed to encode init result: %w", err)
	}
	rec.Result = string(body)
	rec.StatusCode = 201

	return s.meta.CreateUploadWithIdempotency(ctx, upload, rec)
}

// replayInit resolves an init idempotency key. done is true when the
// outcome (replay) is final; false with a nil error means the key is
// free and the caller should execute.
func (s *Service) replayInit(ctx context.Context, principal *auth.Principal, key, fingerprint string) (InitResult, bool, error) {
	rec, err := s.registry.Lookup(ctx, models.KindUploadInit, key)
	if errors.Is(err, models.ErrIdempotencyNotFound) {
		return InitResult{}, false, nil
	}
	if err != nil {
		return InitResult{}, false, err
	}
	if rec.Fingerprint != fingerprint || !rec.Completed() {
		return InitResult{}, false, models.ErrIdempotencyConflict
	}

	var resp InitResponse
	if err := json.Unmarshal([]byte(rec.Result), &resp); err != nil {
		return InitResult{}, false, fmt.Errorf("failed to decode stored init result: %w", err)
	}

	upload, err := s.meta.GetUpload(ctx, resp.UploadID)
	if err != nil {
		// The reservation outlived its upload (maintenance purge).
		return InitResult{}, false, err
	}
	if upload.OwnerID != principal.ID {
		return InitResult{}, false, fmt.Errorf("idempotency key belongs to a different owner: %w", ErrNotOwner)
	}

	s.metrics.RecordReplay(string(models.KindUploadInit))
	return InitResult{Response: resp, Status: rec.StatusCode, Replayed: true}, true, nil
}

func (s *Service) multipartEngaged(upload *models.Upload) bool {
	return s.multipart &&
		upload.TotalChunks > 1 &&
		upload.ChunkSize >= minMultipartChunkSize
}

// abortMultipartSession tears down the session opened at init when the
// upload row never landed. Best effort; an orphaned session is swept by
// maintenance.
func (s *Service) abortMultipartSession(ctx context.Context, upload *models.Upload) {
	if upload.MultipartUploadID == nil {
		return
	}
	mp, ok := s.blobs.(blob.MultipartStore)
	if !ok {
		return
	}
	if err := mp.AbortMultipart(ctx, models.AssembledObjectKey(upload.ID), *upload.MultipartUploadID); err != nil {
		logger.WarnCtx(ctx, "failed to abort multipart session",
			logger.KeyUploadID, upload.ID, logger.KeyError, err)
	}
}

func validateInit(req InitRequest) error {
	if req.FileName == "" {
		return fmt.Errorf("file_name must not be empty: %w", ErrInvalidRequest)
	}
	if req.FileSize < 0 {
		return fmt.Errorf("file_size must not be negative: %w", ErrInvalidRequest)
	}
	if req.ChunkSize < 0 {
		return fmt.Errorf("chunk_size must be positive: %w", ErrInvalidRequest)
	}
	if req.FileChecksumSHA256 != "" && !isHexDigest(req.FileChecksumSHA256) {
		return fmt.Errorf("file_checksum_sha256 must be a hex sha-256 digest: %w", ErrInvalidRequest)
	}
	return nil
}

func isHexDigest(s string) bool {
	if len(s) != 64 {
		return false
	}
	_, err := hex.DecodeString(s)
	return err == nil
}

// ChunkUpload carries one chunk PUT.
type ChunkUpload struct {
	Index int
	Body  []byte

	// DeclaredSHA256 is the client's X-Chunk-SHA256 header, verified by
	// the executor before the storage write.
	DeclaredSHA256 string

	// IdempotencyKey is the client's X-Idempotency-Key header. Scoped
	// to (upload, index) internally, so the same key on two chunks
	// never collides.
	IdempotencyKey string
}

// AcceptResponse is the wire shape of an accepted chunk.
type AcceptResponse struct {
	UploadID   string `json:"upload_id"`
	ChunkIndex int    `json:"chunk_index"`
	Status     string `json:"status"`
}

// AcceptResult pairs the response with the status code to emit.
type AcceptResult struct {
	Response AcceptResponse
	Status   int
	Replayed bool
}

// AcceptChunk validates, admits, and executes one chunk write, then
// waits for its terminal outcome.
//
// Admission refusals surface as *limits.Refusal; the pipeline holds the
// lease from submission to the task's terminal outcome, so a wait
// timeout abandons the response but never the task.
func (s *Service) AcceptChunk(ctx context.Context, principal *auth.Principal, uploadID string, req ChunkUpload) (res AcceptResult, err error) {
	ctx, span := telemetry.StartTransferSpan(ctx, telemetry.SpanUploadChunk, uploadID,
		telemetry.ChunkIndex(req.Index), telemetry.ChunkSize(int64(len(req.Body))))
	defer func() {
		if err != nil {
			telemetry.RecordError(ctx, err)
		} else {
			telemetry.SetAttributes(ctx, telemetry.Replay(res.Replayed))
		}
		span.End()
	}()

	upload, err := s.getOwned(ctx, principal, uploadID)
	if err != nil {
		return AcceptResult{}, err
	}
	if !upload.Status.AcceptsChunks() {
		return AcceptResult{}, fmt.Errorf("upload is not accepting chunks in state %s: %w",
			upload.Status, models.ErrUploadTerminal)
	}
	if !upload.ValidChunkIndex(req.Index) {
		return AcceptResult{}, models.ErrChunkIndexRange
	}
	if len(req.Body) == 0 {
		return AcceptResult{}, ErrEmptyChunk
	}
	if int64(len(req.Body)) > upload.ChunkSize {
		return AcceptResult{}, ErrChunkTooLarge
	}
	if int64(len(req.Body)) != upload.ExpectedChunkSize(req.Index) {
		return AcceptResult{}, fmt.Errorf("chunk %d must be %d bytes, got %d: %w",
			req.Index, upload.ExpectedChunkSize(req.Index), len(req.Body), models.ErrChunkSizeInvalid)
	}

	bodySHA := idempotency.ChunkFingerprint(req.Body)

	// Chunk keys are scoped so the same client key on a different chunk
	// or upload reserves independently.
	var scopedKey string
	if req.IdempotencyKey != "" {
		scopedKey = fmt.Sprintf("%s:%d:%s", uploadID, req.Index, req.IdempotencyKey)
		out, err := s.registry.Reserve(ctx, models.KindChunkUpload, scopedKey, bodySHA)
		if err != nil {
			return AcceptResult{}, err
		}
		switch out.Decision {
		case idempotency.DecisionReplay:
			var resp AcceptResponse
			code, err := out.Replayed(&resp)
			if err != nil {
				return AcceptResult{}, err
			}
			s.metrics.RecordReplay(string(models.KindChunkUpload))
			return AcceptResult{Response: resp, Status: code, Replayed: true}, nil
		case idempotency.DecisionConflict:
			return AcceptResult{}, models.ErrIdempotencyConflict
		}
	}

	lease, err := s.adm.Acquire(uploadID)
	if err != nil {
		s.releaseReservation(ctx, models.KindChunkUpload, scopedKey)
		return AcceptResult{}, err
	}

	if _, err := s.meta.TransitionUpload(ctx, uploadID,
		[]models.UploadStatus{models.StatusInitiated}, models.StatusInProgress); err != nil {
		lease.Release()
		s.releaseReservation(ctx, models.KindChunkUpload, scopedKey)
		return AcceptResult{}, fmt.Errorf("failed to mark upload in progress: %w", err)
	}

	task := queue.NewTask(uploadID, req.Index)
	task.Body = req.Body
	task.BodySHA256 = bodySHA
	task.ExpectedChecksum = strings.ToLower(req.DeclaredSHA256)
	if upload.MultipartUploadID != nil {
		task.MultipartID = *upload.MultipartUploadID
	}

	ch := s.results.Register(task.ID)
	if err := s.submit.Submit(ctx, task, lease); err != nil {
		s.results.Forget(task.ID)
		lease.Release()
		s.releaseReservation(ctx, models.KindChunkUpload, scopedKey)
		return AcceptResult{}, fmt.Errorf("failed to submit chunk task: %w", err)
	}

	outcome, ok := s.results.Wait(ctx, ch, s.taskTimeout)
	if !ok {
		s.results.Forget(task.ID)
		s.releaseReservation(ctx, models.KindChunkUpload, scopedKey)
		return AcceptResult{}, ErrWaitTimeout
	}
	if outcome.Err != nil {
		s.releaseReservation(ctx, models.KindChunkUpload, scopedKey)
		return AcceptResult{}, outcome.Err
	}

	resp := AcceptResponse{
		UploadID:   uploadID,
		ChunkIndex: req.Index,
		Status:     string(models.ChunkUploaded),
	}
	if scopedKey != "" {
		if err := s.registry.StoreResult(ctx, models.KindChunkUpload, scopedKey, 202, resp); err != nil {
			logger.WarnCtx(ctx, "failed to store chunk idempotency result",
				logger.KeyUploadID, uploadID, logger.KeyChunkIndex, req.Index, logger.KeyError, err)
		}
	}
	return AcceptResult{Response: resp, Status: 202}, nil
}

// releaseReservation abandons a fresh reservation after its request
// failed, so retries with the same key execute instead of conflicting.
func (s *Service) releaseReservation(ctx context.Context, kind models.IdempotencyKind, key string) {
	if key == "" {
		return
	}
	if err := s.registry.Release(ctx, kind, key); err != nil {
		logger.WarnCtx(ctx, "failed to release idempotency reservation",
			"kind", string(kind), logger.KeyError, err)
	}
}

// CompleteRequest is the optional body of a completion request.
type CompleteRequest struct {
	// FileChecksumSHA256 re-declares (or declares for the first time)
	// the whole-file checksum to verify before completion.
	FileChecksumSHA256 string `json:"file_checksum_sha256,omitempty"`
	IdempotencyKey     string `json:"idempotency_key,omitempty"`
}

// CompleteResponse is the wire shape of a completed upload.
type CompleteResponse struct {
	UploadID string `json:"upload_id"`
	Status   string `json:"status"`
}

// CompleteResult pairs the response with the status code to emit.
type CompleteResult struct {
	Response CompleteResponse
	Status   int
	Replayed bool
}

// Complete finalizes an upload: inside one transaction it re-counts
// UPLOADED chunks, recomputes the whole-file checksum when one was
// declared (at init or in the completion body), commits the multipart
// session, and flips the status.
//
// Completing a COMPLETED upload replays 200. A FAILED or ABORTED upload
// refuses with models.ErrUploadTerminal. A checksum mismatch fails the
// upload permanently.
func (s *Service) Complete(ctx context.Context, principal *auth.Principal, uploadID string, req CompleteRequest) (res CompleteResult, err error) {
	ctx, span := telemetry.StartTransferSpan(ctx, telemetry.SpanUploadComplete, uploadID)
	defer func() {
		if err != nil {
			telemetry.RecordError(ctx, err)
		} else {
			telemetry.SetAttributes(ctx, telemetry.Replay(res.Replayed))
		}
		span.End()
	}()

	if req.FileChecksumSHA256 != "" && !isHexDigest(req.FileChecksumSHA256) {
		return CompleteResult{}, fmt.Errorf("file_checksum_sha256 must be a hex sha-256 digest: %w", ErrInvalidRequest)
	}
	declared := strings.ToLower(req.FileChecksumSHA256)
	idempotencyKey := req.IdempotencyKey

	upload, err := s.getOwned(ctx, principal, uploadID)
	if err != nil {
		return CompleteResult{}, err
	}

	fingerprint := idempotency.CompleteFingerprint(uploadID, declared)
	reserved := false
	if idempotencyKey != "" {
		out, err := s.registry.Reserve(ctx, models.KindUploadComplete, idempotencyKey, fingerprint)
		if err != nil {
			return CompleteResult{}, err
		}
		switch out.Decision {
		case idempotency.DecisionReplay:
			var resp CompleteResponse
			code, err := out.Replayed(&resp)
			if err != nil {
				return CompleteResult{}, err
			}
			s.metrics.RecordReplay(string(models.KindUploadComplete))
			s.auditUploadComplete(ctx, principal, uploadID, resp.Status, true)
			return CompleteResult{Response: resp, Status: code, Replayed: true}, nil
		case idempotency.DecisionConflict:
			return CompleteResult{}, models.ErrIdempotencyConflict
		}
		reserved = true
	}

	if upload.Status == models.StatusCompleted {
		return s.completeReplayed(ctx, principal, uploadID, idempotencyKey, reserved), nil
	}
	if upload.Status.IsTerminal() {
		if reserved {
			s.releaseReservation(ctx, models.KindUploadComplete, idempotencyKey)
		}
		return CompleteResult{}, fmt.Errorf("cannot complete upload in state %s: %w",
			upload.Status, models.ErrUploadTerminal)
	}

	err = s.meta.CompleteUpload(ctx, uploadID, func(u *models.Upload, chunks []models.Chunk) error {
		expected := declared
		if u.ChecksumSHA256 != nil {
			if expected != "" && expected != *u.ChecksumSHA256 {
				return fmt.Errorf("completion checksum disagrees with the one declared at init: %w",
					models.ErrChecksumMismatch)
			}
			expected = *u.ChecksumSHA256
		}
		if expected != "" {
			if err := s.verifyFileChecksum(ctx, u, chunks, expected); err != nil {
				return err
			}
		}
		if u.MultipartUploadID != nil {
			return s.commitMultipart(ctx, u, chunks)
		}
		return nil
	})
	if err != nil {
		return s.completeFailed(ctx, principal, uploadID, idempotencyKey, reserved, err)
	}

	resp := CompleteResponse{UploadID: uploadID, Status: string(models.StatusCompleted)}
	if reserved {
		if err := s.registry.StoreResult(ctx, models.KindUploadComplete, idempotencyKey, 200, resp); err != nil {
			logger.WarnCtx(ctx, "failed to store complete idempotency result",
				logger.KeyUploadID, uploadID, logger.KeyError, err)
		}
	}

	s.metrics.RecordUploadCompleted()
	s.auditUploadComplete(ctx, principal, uploadID, resp.Status, false)
	return CompleteResult{Response: resp, Status: 200}, nil
}

// completeReplayed answers a complete on an already-COMPLETED upload.
func (s *Service) completeReplayed(ctx context.Context, principal *auth.Principal, uploadID, key string, reserved bool) CompleteResult {
	resp := CompleteResponse{UploadID: uploadID, Status: string(models.StatusCompleted)}
	if reserved {
		if err := s.registry.StoreResult(ctx, models.KindUploadComplete, key, 200, resp); err != nil {
			logger.WarnCtx(ctx, "failed to store complete idempotency result",
				logger.KeyUploadID, uploadID, logger.KeyError, err)
		}
	}
	s.auditUploadComplete(ctx, principal, uploadID, resp.Status, true)
	return CompleteResult{Response: resp, Status: 200, Replayed: true}
}

// completeFailed maps a failed completing transaction. A terminal CAS
// loss re-reads the row: a concurrent completer means replay, anything
// else stays terminal. A checksum mismatch fails the upload for good.
func (s *Service) completeFailed(ctx context.Context, principal *auth.Principal, uploadID, key string, reserved bool, err error) (CompleteResult, error) {
	switch {
	case errors.Is(err, models.ErrUploadTerminal):
		current, gerr := s.meta.GetUpload(ctx, uploadID)
		if gerr == nil && current.Status == models.StatusCompleted {
			return s.completeReplayed(ctx, principal, uploadID, key, reserved), nil
		}

	case errors.Is(err, models.ErrChecksumMismatch):
		if _, terr := s.meta.TransitionUpload(ctx, uploadID,
			[]models.UploadStatus{models.StatusInitiated, models.StatusInProgress},
			models.StatusFailed); terr != nil {
			logger.ErrorCtx(ctx, "failed to mark upload FAILED after checksum mismatch",
				logger.KeyUploadID, uploadID, logger.KeyError, terr)
		}
		s.auditUploadComplete(ctx, principal, uploadID, string(models.StatusFailed), false)
	}

	if reserved {
		s.releaseReservation(ctx, models.KindUploadComplete, key)
	}
	return CompleteResult{}, err
}

// verifyFileChecksum recomputes the whole-file digest by streaming the
// per-chunk objects in index order.
func (s *Service) verifyFileChecksum(ctx context.Context, upload *models.Upload, chunks []models.Chunk, expected string) error {
	hasher := sha256.New()
	for i := range chunks {
		rc, err := s.blobs.Get(ctx, chunks[i].ObjectKey())
		if err != nil {
			return fmt.Errorf("failed to read chunk %d for verification: %w", chunks[i].ChunkIndex, err)
		}
		_, err = io.Copy(hasher, rc)
		rc.Close()
		if err != nil {
			return fmt.Errorf("failed to hash chunk %d: %w", chunks[i].ChunkIndex, err)
		}
	}

	if hex.EncodeToString(hasher.Sum(nil)) != expected {
		return models.ErrChecksumMismatch
	}
	return nil
}

// commitMultipart materializes the part list from the chunk rows and
// completes the session. A chunk without a part etag means at least one
// part write was short-circuited or lost: the session is aborted and
// the per-chunk objects remain the durable representation.
func (s *Service) commitMultipart(ctx context.Context, upload *models.Upload, chunks []models.Chunk) error {
	mp, ok := s.blobs.(blob.MultipartStore)
	if !ok {
		return fmt.Errorf("multipart session on a backend without multipart support")
	}

	key := models.AssembledObjectKey(upload.ID)
	parts := make([]blob.CompletedPart, 0, len(chunks))
	for i := range chunks {
		if chunks[i].ETag == "" {
			logger.WarnCtx(ctx, "multipart part etag missing, falling back to chunk objects",
				logger.KeyUploadID, upload.ID, logger.KeyChunkIndex, chunks[i].ChunkIndex)
			if err := mp.AbortMultipart(ctx, key, *upload.MultipartUploadID); err != nil {
				logger.WarnCtx(ctx, "failed to abort multipart session",
					logger.KeyUploadID, upload.ID, logger.KeyError, err)
			}
			return nil
		}
		parts = append(parts, blob.CompletedPart{
			PartNumber: int32(chunks[i].ChunkIndex + 1),
			ETag:       chunks[i].ETag,
		})
	}

	if _, err := mp.CompleteMultipart(ctx, key, *upload.MultipartUploadID, parts); err != nil {
		return fmt.Errorf("failed to complete multipart upload: %w", err)
	}
	return nil
}

// MissingChunksResponse lists the chunk indexes still awaited.
type MissingChunksResponse struct {
	UploadID string `json:"upload_id"`
	Missing  []int  `json:"missing"`
	Status   string `json:"status"`
}

// MissingChunks reports which indexes have no UPLOADED chunk yet.
func (s *Service) MissingChunks(ctx context.Context, principal *auth.Principal, uploadID string) (res MissingChunksResponse, err error) {
	ctx, span := telemetry.StartTransferSpan(ctx, telemetry.SpanUploadStatus, uploadID)
	defer func() {
		if err != nil {
			telemetry.RecordError(ctx, err)
		}
		span.End()
	}()

	upload, err := s.getOwned(ctx, principal, uploadID)
	if err != nil {
		return MissingChunksResponse{}, err
	}

	missing, err := s.meta.MissingChunkIndexes(ctx, uploadID, upload.TotalChunks)
	if err != nil {
		return MissingChunksResponse{}, err
	}
	if missing == nil {
		missing = []int{}
	}
	return MissingChunksResponse{
		UploadID: uploadID,
		Missing:  missing,
		Status:   string(upload.Status),
	}, nil
}

// AbortResponse is the wire shape of an aborted upload.
type AbortResponse struct {
	UploadID string `json:"upload_id"`
	Status   string `json:"status"`
}

// Abort cancels a live upload and cleans its storage best-effort.
// Aborting a terminal upload refuses with models.ErrUploadTerminal.
func (s *Service) Abort(ctx context.Context, principal *auth.Principal, uploadID string) (res AbortResponse, err error) {
	ctx, span := telemetry.StartTransferSpan(ctx, telemetry.SpanUploadAbort, uploadID)
	defer func() {
		if err != nil {
			telemetry.RecordError(ctx, err)
		}
		span.End()
	}()

	upload, err := s.getOwned(ctx, principal, uploadID)
	if err != nil {
		return AbortResponse{}, err
	}

	ok, err := s.meta.TransitionUpload(ctx, uploadID,
		[]models.UploadStatus{models.StatusInitiated, models.StatusInProgress},
		models.StatusAborted)
	if err != nil {
		return AbortResponse{}, fmt.Errorf("failed to abort upload: %w", err)
	}
	if !ok {
		return AbortResponse{}, fmt.Errorf("cannot abort upload in state %s: %w",
			upload.Status, models.ErrUploadTerminal)
	}

	s.abortMultipartSession(ctx, upload)
	s.deleteUploadObjects(ctx, uploadID)

	s.auditUploadAbort(ctx, principal, uploadID)
	return AbortResponse{UploadID: uploadID, Status: string(models.StatusAborted)}, nil
}

// deleteUploadObjects sweeps every storage key under the upload's
// prefix. Best effort; leftovers are reclaimed by the orphan scan.
func (s *Service) deleteUploadObjects(ctx context.Context, uploadID string) {
	keys, err := s.blobs.List(ctx, models.UploadKeyPrefix(uploadID))
	if err != nil {
		logger.WarnCtx(ctx, "failed to list upload objects for cleanup",
			logger.KeyUploadID, uploadID, logger.KeyError, err)
		return
	}
	for _, key := range keys {
		if err := s.blobs.Delete(ctx, key); err != nil {
			logger.WarnCtx(ctx, "failed to delete upload object",
				logger.KeyUploadID, uploadID, logger.KeyKey, key, logger.KeyError, err)
		}
	}
}

// getOwned loads the upload and enforces ownership.
func (s *Service) getOwned(ctx context.Context, principal *auth.Principal, uploadID string) (*models.Upload, error) {
	upload, err := s.meta.GetUpload(ctx, uploadID)
	if err != nil {
		return nil, err
	}
	if upload.OwnerID != principal.ID {
		return nil, ErrNotOwner
	}
	return upload, nil
}
