package models

import (
	"time"
)

// IdempotencyKind scopes an idempotency key to one operation class, so
// the same client key may be reused across init, chunk, and complete
// without colliding.
type IdempotencyKind string

const (
	// KindUploadInit scopes keys of POST /v1/uploads.
	KindUploadInit IdempotencyKind = "upload_init"

	// KindChunkUpload scopes keys of chunk PUTs.
	KindChunkUpload IdempotencyKind = "chunk_upload"

	// KindUploadComplete scopes keys of completion requests.
	KindUploadComplete IdempotencyKind = "upload_complete"
)

// IsValid returns true if this is a known idempotency kind.
func (k IdempotencyKind) IsValid() bool {
	switch k {
	case KindUploadInit, KindChunkUpload, KindUploadComplete:
		return true
	default:
		return false
	}
}

// String returns the string representation of the kind.
func (k IdempotencyKind) String() string {
	return string(k)
}

// IdempotencyRecord stores the outcome of one idempotent request.
//
// The (Kind, Key) pair is unique. Fingerprint is a digest of the request
// parameters: a replay with the same key and fingerprint returns the
// stored Result, a replay with a different fingerprint is a conflict.
// Expired rows are removed by the maintenance sweep; lookups do not
// check ExpiresAt, matching the write-wins semantics of the reservation.
type IdempotencyRecord struct {
	ID          string          `gorm:"primaryKey;size:36" json:"id"`
	Kind        IdempotencyKind `gorm:"not null;size:32;uniqueIndex:idx_idem_kind_key,priority:1" json:"kind"`
	Key         string          `gorm:"not null;size:255;uniqueIndex:idx_idem_kind_key,priority:2" json:"key"`
	Fingerprint string          `gorm:"not null;size:64" json:"fingerprint"`

	// Result is the stored response body, JSON. Empty while the first
	// request is still executing.
	Result string `gorm:"type:text" json:"-"`

	// StatusCode is the HTTP status to replay alongside Result.
	StatusCode int `gorm:"not null;default:0" json:"status_code"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	ExpiresAt time.Time `gorm:"not null;index" json:"expires_at"`
}

// TableName returns the table name for IdempotencyRecord.
func (IdempotencyRecord) TableName() string {
	return "idempotency_records"
}

// Completed returns true once a result has been stored for replay.
func (r *IdempotencyRecord) Completed() bool {
	return r.StatusCode != 0
}
