package models

import (
	"time"
)

// UploadStatus represents the lifecycle state of an upload session.
//
// The lifecycle is:
//
//	INITIATED -> IN_PROGRESS -> COMPLETED
//	INITIATED/IN_PROGRESS   -> FAILED
//	INITIATED/IN_PROGRESS   -> ABORTED
//
// COMPLETED, FAILED, and ABORTED are terminal; no transition leaves them.
// An upload declared with zero chunks moves from INITIATED straight to
// COMPLETED at creation time.
type UploadStatus string

const (
	// StatusInitiated means the session exists but no chunk has been
	// accepted yet.
	StatusInitiated UploadStatus = "INITIATED"

	// StatusInProgress means at least one chunk has been accepted.
	StatusInProgress UploadStatus = "IN_PROGRESS"

	// StatusCompleted means all chunks are stored and the upload was
	// finalized. Terminal.
	StatusCompleted UploadStatus = "COMPLETED"

	// StatusFailed means finalization failed permanently, for example on
	// a whole-file checksum mismatch. Terminal.
	StatusFailed UploadStatus = "FAILED"

	// StatusAborted means the client or the stale-upload reaper cancelled
	// the session. Terminal.
	StatusAborted UploadStatus = "ABORTED"
)

// IsValid returns true if this is a known upload status.
func (s UploadStatus) IsValid() bool {
	switch s {
	case StatusInitiated, StatusInProgress, StatusCompleted, StatusFailed, StatusAborted:
		return true
	default:
		return false
	}
}

// IsTerminal returns true for states that no transition can leave.
func (s UploadStatus) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusAborted:
		return true
	default:
		return false
	}
}

// AcceptsChunks returns true while chunk uploads are still admissible.
func (s UploadStatus) AcceptsChunks() bool {
	return s == StatusInitiated || s == StatusInProgress
}

// CanTransitionTo reports whether the lifecycle permits moving from s
// to next. Self-transitions are not permitted.
func (s UploadStatus) CanTransitionTo(next UploadStatus) bool {
	if s.IsTerminal() || s == next {
		return false
	}
	switch next {
	case StatusInProgress:
		return s == StatusInitiated
	case StatusCompleted, StatusFailed, StatusAborted:
		return s == StatusInitiated || s == StatusInProgress
	default:
		return false
	}
}

// String returns the string representation of the status.
func (s UploadStatus) String() string {
	return string(s)
}

// ParseUploadStatus converts a string to an UploadStatus.
// Returns StatusInitiated if the string is not a valid status.
func ParseUploadStatus(s string) UploadStatus {
	st := UploadStatus(s)
	if st.IsValid() {
		return st
	}
	return StatusInitiated
}

// Upload is one resumable upload session. Every upload belongs to the
// principal that initiated it; other principals cannot observe it.
type Upload struct {
	ID          string       `gorm:"primaryKey;size:36" json:"upload_id"`
	OwnerID     string       `gorm:"not null;size:255;index" json:"owner_id"`
	FileName    string       `gorm:"not null;size:512" json:"file_name"`
	FileSize    int64        `gorm:"not null" json:"file_size"`
	ChunkSize   int64        `gorm:"not null" json:"chunk_size"`
	TotalChunks int          `gorm:"not null" json:"total_chunks"`
	Status      UploadStatus `gorm:"not null;size:20;index" json:"status"`

	// ChecksumSHA256 is the optional whole-file digest declared at init,
	// hex encoded. Verified at completion when present.
	ChecksumSHA256 *string `gorm:"column:checksum_sha256;size:64" json:"checksum_sha256,omitempty"`

	// MultipartUploadID is set when the blob backend assembles the file
	// through a native multipart upload instead of per-chunk objects.
	MultipartUploadID *string `gorm:"size:256" json:"-"`

	CreatedAt   time.Time  `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt   time.Time  `gorm:"autoUpdateTime;index" json:"updated_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	// UploadedChunks is derived from the chunk table when the upload is
	// loaded for a status response. Never persisted.
	UploadedChunks int `gorm:"-" json:"uploaded_chunks"`
}

// TableName returns the table name for Upload.
func (Upload) TableName() string {
	return "uploads"
}

// IsTerminal returns true when the upload reached a terminal state.
func (u *Upload) IsTerminal() bool {
	return u.Status.IsTerminal()
}

// IsMultipart returns true when the backend assembles this upload
// through a native multipart upload.
func (u *Upload) IsMultipart() bool {
	return u.MultipartUploadID != nil && *u.MultipartUploadID != ""
}

// ExpectedChunkSize returns the byte size chunk index must have.
// Every chunk is exactly ChunkSize except the last, which carries the
// remainder. Returns 0 for an out-of-range index.
func (u *Upload) ExpectedChunkSize(index int) int64 {
	if index < 0 || index >= u.TotalChunks {
		return 0
	}
	if index == u.TotalChunks-1 {
		if rem := u.FileSize - int64(index)*u.ChunkSize; rem < u.ChunkSize {
			return rem
		}
	}
	return u.ChunkSize
}

// ValidChunkIndex reports whether index addresses a chunk of this upload.
func (u *Upload) ValidChunkIndex(index int) bool {
	return index >= 0 && index < u.TotalChunks
}

// ComputeTotalChunks returns ceil(fileSize/chunkSize).
// A zero-byte file has zero chunks. chunkSize must be positive;
// a non-positive value yields 0 so callers fail validation, not divide.
func ComputeTotalChunks(fileSize, chunkSize int64) int {
	if chunkSize <= 0 || fileSize <= 0 {
		return 0
	}
	return int((fileSize + chunkSize - 1) / chunkSize)
}
