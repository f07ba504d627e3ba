// Package queue carries chunk write tasks from the accepting request to
// the executor that performs the storage write.
//
// In direct mode the worker pool's own channel is the queue and this
// package only contributes the task type and the result store. In
// durable mode (redis, sqs) tasks are encoded to JSON and survive a
// process restart; chunk bytes are parked in the badger staging store
// and referenced by key, so queue messages stay small.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Task is one chunk write. Exactly one of Body and StagingKey is set:
// Body carries the bytes inline (memory queue, direct mode), StagingKey
// points into the staging store (redis, sqs).
type Task struct {
	ID         string `json:"task_id"`
	UploadID   string `json:"upload_id"`
	ChunkIndex int    `json:"chunk_index"`

	Body       []byte `json:"body,omitempty"`
	StagingKey string `json:"staging_key,omitempty"`

	// BodySHA256 is the digest of the chunk bytes, computed by the
	// accepting request. The executor verifies it after loading staged
	// bytes so a corrupt staging read never reaches storage.
	BodySHA256 string `json:"body_sha256"`

	// ExpectedChecksum is the client-declared digest, when one was sent.
	ExpectedChecksum string `json:"expected_checksum,omitempty"`

	// MultipartID is the storage multipart handle of the upload, when
	// multipart assembly is engaged.
	MultipartID string `json:"multipart_id,omitempty"`

	RetryCount int       `json:"retry_count"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

// NewTask builds a task with a fresh id and enqueue timestamp. The
// caller fills the payload fields.
func NewTask(uploadID string, chunkIndex int) *Task {
	return &Task{
		ID:         uuid.New().String(),
		UploadID:   uploadID,
		ChunkIndex: chunkIndex,
		EnqueuedAt: time.Now().UTC(),
	}
}

// EncodeTask renders the task as JSON for the durable backends.
func EncodeTask(t *Task) ([]byte, error) {
	data, err := json.Marshal(t)
	if err != nil {
		return nil, fmt.Errorf("failed to encode task %s: %w", t.ID, err)
	}
	return data, nil
}

// DecodeTask parses a task from its JSON encoding.
func DecodeTask(data []byte) (*Task, error) {
	var t Task
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("failed to decode task: %w", err)
	}
	return &t, nil
}

// Delivery is one dequeued task plus the backend receipt needed to ack
// or nack it.
type Delivery struct {
	Task    *Task
	Receipt string
}

// DurableQueue is the at-least-once task transport behind durable mode.
//
// Dequeue blocks up to timeout and returns (nil, nil) when nothing
// arrived. Ack disposes a delivery after the task reached a terminal
// outcome. Nack returns it: with retry the task is re-delivered
// (the caller bumps RetryCount first), without retry it is dropped.
type DurableQueue interface {
	Enqueue(ctx context.Context, task *Task) error
	Dequeue(ctx context.Context, timeout time.Duration) (*Delivery, error)
	Ack(ctx context.Context, d *Delivery) error
	Nack(ctx context.Context, d *Delivery, retry bool) error
	Close() error
}
