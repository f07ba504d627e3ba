package models

import "errors"

// Common errors shared across the metadata store, transfer service, and
// HTTP handlers. Handlers map these onto status codes; everything else
// just wraps them.
var (
	// Upload lifecycle errors
	ErrUploadNotFound   = errors.New("upload not found")
	ErrUploadTerminal   = errors.New("upload is in a terminal state")
	ErrUploadNotDone    = errors.New("upload is not completed")
	ErrChunksMissing    = errors.New("not all chunks are uploaded")
	ErrChecksumMismatch = errors.New("checksum mismatch")

	// Chunk errors
	ErrChunkNotFound    = errors.New("chunk not found")
	ErrChunkIndexRange  = errors.New("chunk index out of range")
	ErrChunkSizeInvalid = errors.New("chunk size does not match expected size")
	ErrChunkInFlight    = errors.New("chunk transfer already in progress")
	ErrChunkConflict    = errors.New("chunk already uploaded with different content")

	// Idempotency errors
	ErrIdempotencyConflict = errors.New("idempotency key reused with different parameters")
	ErrIdempotencyNotFound = errors.New("idempotency record not found")
)
