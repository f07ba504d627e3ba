// Package metadata persists upload sessions, chunk states, and
// idempotency reservations.
//
// The store is the source of truth for the upload lifecycle: every
// transition goes through a compare-and-swap on the status column, and
// chunk claims serialize on the (upload_id, chunk_index) unique index.
// Blob storage is treated as eventually consistent next to it.
package metadata

import (
	"context"
	"time"

	"github.com/marmos91/shuttle/pkg/models"
)

// CompleteFunc runs inside the completing transaction, after the store
// verified that every chunk is UPLOADED and before the status flips to
// COMPLETED. Returning an error rolls the completion back.
type CompleteFunc func(upload *models.Upload, chunks []models.Chunk) error

// Metrics observes store mutation latency. A nil Metrics disables
// collection with zero overhead.
type Metrics interface {
	ObserveUpdate(operation string, duration time.Duration)
}

// Store is the metadata persistence interface consumed by the transfer
// service, the worker executor, and maintenance.
type Store interface {
	// Upload lifecycle

	// CreateUpload persists a new upload session.
	CreateUpload(ctx context.Context, upload *models.Upload) error

	// CreateUploadWithIdempotency persists the upload and its init
	// idempotency reservation in one transaction. A unique violation on
	// the reservation aborts the whole transaction and returns
	// models.ErrIdempotencyConflict so the caller can re-read the row
	// that won the race.
	CreateUploadWithIdempotency(ctx context.Context, upload *models.Upload, rec *models.IdempotencyRecord) error

	// GetUpload loads one upload by id, with the uploaded chunk count
	// populated. Returns models.ErrUploadNotFound when absent.
	GetUpload(ctx context.Context, id string) (*models.Upload, error)

	// TransitionUpload CASes the status from any of the given states to
	// the target state. Returns false when no row matched, which means
	// the upload is absent or in a different state.
	TransitionUpload(ctx context.Context, id string, from []models.UploadStatus, to models.UploadStatus) (bool, error)

	// CompleteUpload re-checks chunk completeness and flips the upload
	// to COMPLETED inside one transaction, so at most one caller ever
	// completes a given upload. fn may reject the completion.
	// Returns models.ErrChunksMissing when chunk rows are missing and
	// models.ErrUploadTerminal when the status CAS finds a terminal row.
	CompleteUpload(ctx context.Context, id string, fn CompleteFunc) error

	// ListStaleUploads returns uploads in the given states whose last
	// update precedes olderThan.
	ListStaleUploads(ctx context.Context, olderThan time.Time, statuses []models.UploadStatus) ([]*models.Upload, error)

	// ListUploadIDs returns the ids of every upload row.
	ListUploadIDs(ctx context.Context) ([]string, error)

	// DeleteUpload removes the upload and its chunk rows.
	DeleteUpload(ctx context.Context, id string) error

	// Chunk state

	// ClaimChunk moves a chunk to UPLOADING on behalf of one worker.
	// When no row exists it inserts one directly in UPLOADING. When a
	// claimable row exists (PENDING or FAILED) it CASes it over and
	// bumps the attempt counter. Rows already UPLOADING or UPLOADED are
	// returned unclaimed so the caller can short-circuit duplicates.
	ClaimChunk(ctx context.Context, uploadID string, index int) (claimed bool, chunk *models.Chunk, err error)

	// MarkChunkUploaded records a durable chunk write: state UPLOADED,
	// payload size, payload digest, and the backend etag when present.
	MarkChunkUploaded(ctx context.Context, uploadID string, index int, sizeBytes int64, checksum, etag string) error

	// MarkChunkFailed CASes UPLOADING back to FAILED after an attempt.
	// Losing the CAS is not an error; a duplicate writer may have
	// finished the chunk meanwhile.
	MarkChunkFailed(ctx context.Context, uploadID string, index int) error

	// ListChunks returns all chunk rows of an upload ordered by index.
	ListChunks(ctx context.Context, uploadID string) ([]models.Chunk, error)

	// ListChunkKeys returns the blob object key of every chunk row.
	ListChunkKeys(ctx context.Context) ([]string, error)

	// UploadedChunkCount counts rows in UPLOADED for one upload.
	UploadedChunkCount(ctx context.Context, uploadID string) (int, error)

	// MissingChunkIndexes returns the indexes in [0, totalChunks) that
	// have no UPLOADED row, ascending.
	MissingChunkIndexes(ctx context.Context, uploadID string, totalChunks int) ([]int, error)

	// Idempotency reservations

	// GetIdempotency loads a reservation by (kind, key). Returns
	// models.ErrIdempotencyNotFound when absent.
	GetIdempotency(ctx context.Context, kind models.IdempotencyKind, key string) (*models.IdempotencyRecord, error)

	// PutIdempotency inserts a reservation. A unique violation returns
	// models.ErrIdempotencyConflict.
	PutIdempotency(ctx context.Context, rec *models.IdempotencyRecord) error

	// UpdateIdempotencyResult stores the replayable outcome on an
	// existing reservation.
	UpdateIdempotencyResult(ctx context.Context, kind models.IdempotencyKind, key string, statusCode int, result string) error

	// DeleteIdempotency removes one reservation. Deleting an absent row
	// is not an error; the caller is abandoning a reservation whose
	// request failed.
	DeleteIdempotency(ctx context.Context, kind models.IdempotencyKind, key string) error

	// DeleteExpiredIdempotency removes reservations whose ExpiresAt
	// precedes now and returns how many rows went away.
	DeleteExpiredIdempotency(ctx context.Context, now time.Time) (int64, error)

	// Close releases the underlying database handle.
	Close() error
}
