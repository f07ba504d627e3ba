package models

import (
	"fmt"
	"time"
)

// ChunkState represents the transfer state of one chunk.
//
// A chunk row is created in PENDING (or directly in UPLOADING when the
// first claim creates it), moves to UPLOADING while a worker holds it,
// and ends in UPLOADED or FAILED. FAILED chunks may be re-claimed, so
// unlike upload states FAILED is not terminal here.
type ChunkState string

const (
	// ChunkPending means the chunk is known but no transfer is running.
	ChunkPending ChunkState = "PENDING"

	// ChunkUploading means a worker currently owns the transfer.
	ChunkUploading ChunkState = "UPLOADING"

	// ChunkUploaded means the bytes are durably stored and verified.
	ChunkUploaded ChunkState = "UPLOADED"

	// ChunkFailed means the last transfer attempt exhausted its retries.
	ChunkFailed ChunkState = "FAILED"
)

// IsValid returns true if this is a known chunk state.
func (s ChunkState) IsValid() bool {
	switch s {
	case ChunkPending, ChunkUploading, ChunkUploaded, ChunkFailed:
		return true
	default:
		return false
	}
}

// Claimable returns true for states a new transfer may take over.
// UPLOADING is excluded so two workers never move the same chunk, and
// UPLOADED is excluded because finished bytes are never rewritten.
func (s ChunkState) Claimable() bool {
	return s == ChunkPending || s == ChunkFailed
}

// String returns the string representation of the state.
func (s ChunkState) String() string {
	return string(s)
}

// Chunk is one fixed-offset piece of an upload.
// The (UploadID, ChunkIndex) pair is unique; re-sending a chunk reuses
// the row instead of inserting a second one.
type Chunk struct {
	ID         string     `gorm:"primaryKey;size:36" json:"id"`
	UploadID   string     `gorm:"not null;size:36;uniqueIndex:idx_upload_chunk,priority:1;index" json:"upload_id"`
	ChunkIndex int        `gorm:"not null;uniqueIndex:idx_upload_chunk,priority:2" json:"chunk_index"`
	State      ChunkState `gorm:"not null;size:20;index" json:"state"`

	// SizeBytes is the received payload size. Zero until bytes arrive.
	SizeBytes int64 `gorm:"not null;default:0" json:"size_bytes"`

	// ChecksumSHA256 is the hex digest of the received payload, recorded
	// when the chunk reaches UPLOADED. Duplicate sends are matched
	// against it.
	ChecksumSHA256 string `gorm:"column:checksum_sha256;size:64" json:"checksum_sha256,omitempty"`

	// ETag is the part tag returned by multipart backends. Empty for
	// per-chunk object storage.
	ETag string `gorm:"column:etag;size:256" json:"-"`

	// Attempts counts transfer attempts, including retries.
	Attempts int `gorm:"not null;default:0" json:"attempts"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// TableName returns the table name for Chunk.
func (Chunk) TableName() string {
	return "chunks"
}

// ObjectKey returns the blob store key holding this chunk's bytes.
func (c *Chunk) ObjectKey() string {
	return ChunkObjectKey(c.UploadID, c.ChunkIndex)
}

// ChunkObjectKey returns the blob store key for one chunk of an upload.
func ChunkObjectKey(uploadID string, index int) string {
	return fmt.Sprintf("%s/%d", uploadID, index)
}

// AssembledObjectKey returns the blob store key of the single assembled
// object written by multipart completion.
func AssembledObjectKey(uploadID string) string {
	return uploadID + "/assembled"
}

// UploadKeyPrefix returns the blob key prefix holding every object that
// belongs to one upload. The cleanup orphan scan compares a full listing
// against these prefixes, so every key the service writes must start with
// its upload ID.
func UploadKeyPrefix(uploadID string) string {
	return uploadID + "/"
}
