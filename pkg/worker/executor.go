// Package worker executes chunk write tasks.
//
// The Executor carries a task through claim, verification, storage
// write, and metadata commit. In direct mode a resizable Pool of
// workers drains an in-process channel and retries transient failures
// in place. In durable mode a ConsumerGroup dequeues from the external
// queue and drives retries through nack/redelivery, so a process crash
// mid-task surfaces as redelivery instead of a lost chunk.
package worker

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/marmos91/shuttle/internal/logger"
	"github.com/marmos91/shuttle/internal/telemetry"
	"github.com/marmos91/shuttle/pkg/metrics"
	"github.com/marmos91/shuttle/pkg/models"
	"github.com/marmos91/shuttle/pkg/queue"
	"github.com/marmos91/shuttle/pkg/store/blob"
	"github.com/marmos91/shuttle/pkg/store/metadata"
)

// Executor runs one chunk write task against the metadata and blob
// stores. Safe for concurrent use; every worker and consumer shares a
// single instance.
type Executor struct {
	meta    metadata.Store
	blobs   blob.Store
	staging *queue.Staging
	results *queue.ResultStore

	maxRetries int

	pipeline *metrics.PipelineMetrics
	transfer *metrics.TransferMetrics
}

// ExecutorConfig wires the executor's collaborators. Staging may be nil
// when no durable queue is configured; the metric groups may be nil.
type ExecutorConfig struct {
	Store      metadata.Store
	Blobs      blob.Store
	Staging    *queue.Staging
	Results    *queue.ResultStore
	MaxRetries int
	Pipeline   *metrics.PipelineMetrics
	Transfer   *metrics.TransferMetrics
}

// NewExecutor creates an executor.
func NewExecutor(cfg ExecutorConfig) *Executor {
	return &Executor{
		meta:       cfg.Store,
		blobs:      cfg.Blobs,
		staging:    cfg.Staging,
		results:    cfg.Results,
		maxRetries: cfg.MaxRetries,
		pipeline:   cfg.Pipeline,
		transfer:   cfg.Transfer,
	}
}

// Process runs the task to its terminal outcome, retrying transient
// failures immediately and in place. Terminal bookkeeping (failure
// metric, staging cleanup, result publication) is included; the caller
// only releases the admission lease afterwards. Used by the pool in
// direct mode.
func (e *Executor) Process(ctx context.Context, task *queue.Task) queue.Result {
	ctx, span := telemetry.StartWorkerSpan(ctx, task.UploadID, task.ChunkIndex, telemetry.TaskID(task.ID))
	defer span.End()

	body, err := e.loadBody(task)
	if err != nil {
		res := queue.Result{Err: err}
		telemetry.RecordError(ctx, err)
		e.Finish(ctx, task, res)
		return res
	}

	var res queue.Result
	claimed := false

	for {
		var retryable bool
		res, claimed, retryable = e.attempt(ctx, task, body, claimed)
		if res.Err == nil || !retryable || task.RetryCount >= e.maxRetries {
			break
		}

		task.RetryCount++
		e.pipeline.RecordRetry()
		logger.Debug("chunk task: retrying after transient failure",
			"task_id", task.ID,
			"upload_id", task.UploadID,
			"chunk_index", task.ChunkIndex,
			"retry_count", task.RetryCount,
			"error", res.Err)
	}

	if res.Err != nil && claimed {
		e.abandonClaim(ctx, task)
	}

	telemetry.SetAttributes(ctx, telemetry.Attempt(task.RetryCount+1))
	if res.Err != nil {
		telemetry.RecordError(ctx, res.Err)
	}

	e.Finish(ctx, task, res)
	return res
}

// ExecuteOnce runs a single attempt, for durable-queue consumers that
// drive retries through redelivery. On failure the claim is returned to
// FAILED so the next delivery can claim the chunk again. The caller
// decides between nack-with-requeue and Finish.
func (e *Executor) ExecuteOnce(ctx context.Context, task *queue.Task) (queue.Result, bool) {
	ctx, span := telemetry.StartWorkerSpan(ctx, task.UploadID, task.ChunkIndex,
		telemetry.TaskID(task.ID), telemetry.Attempt(task.RetryCount+1))
	defer span.End()

	body, err := e.loadBody(task)
	if err != nil {
		telemetry.RecordError(ctx, err)
		return queue.Result{Err: err}, false
	}

	res, claimed, retryable := e.attempt(ctx, task, body, false)
	if res.Err != nil && claimed {
		e.abandonClaim(ctx, task)
	}
	if res.Err != nil {
		telemetry.RecordError(ctx, res.Err)
	}
	return res, retryable
}

// Finish performs terminal bookkeeping: the failure metric on an
// unsuccessful outcome, staged byte cleanup, and result publication to
// the waiting request. Call exactly once per task, after Process or
// after the last ExecuteOnce.
func (e *Executor) Finish(ctx context.Context, task *queue.Task, res queue.Result) {
	if res.Err != nil {
		e.transfer.RecordChunkFailure()
		logger.Warn("chunk task failed",
			"task_id", task.ID,
			"upload_id", task.UploadID,
			"chunk_index", task.ChunkIndex,
			"retry_count", task.RetryCount,
			"error", res.Err)
	}

	if task.StagingKey != "" && e.staging != nil {
		if err := e.staging.Delete(task.StagingKey); err != nil {
			logger.Warn("failed to delete staged chunk bytes",
				"staging_key", task.StagingKey, "error", err)
		}
	}

	e.results.Publish(task.ID, res)
}

// attempt performs one pass over the executor steps. claimed carries
// the claim across in-process retries: once this task owns the
// UPLOADING row, later attempts must not re-claim it.
//
// Returns the attempt result, whether the claim is held, and whether a
// failure is worth retrying.
func (e *Executor) attempt(ctx context.Context, task *queue.Task, body []byte, claimed bool) (queue.Result, bool, bool) {
	if !claimed {
		ok, row, err := e.meta.ClaimChunk(ctx, task.UploadID, task.ChunkIndex)
		if err != nil {
			return queue.Result{Err: fmt.Errorf("failed to claim chunk: %w", err)}, false, true
		}
		if !ok {
			return e.resolveUnclaimed(task, row), false, false
		}
		claimed = true
	}

	if task.ExpectedChecksum != "" && !strings.EqualFold(task.ExpectedChecksum, task.BodySHA256) {
		return queue.Result{Err: models.ErrChecksumMismatch}, claimed, false
	}

	key, etag, err := e.write(ctx, task, body)
	if err != nil {
		return queue.Result{Err: err}, claimed, blob.IsTransient(err)
	}

	if err := e.meta.MarkChunkUploaded(ctx, task.UploadID, task.ChunkIndex,
		int64(len(body)), task.BodySHA256, etag); err != nil {
		return queue.Result{Err: fmt.Errorf("failed to record chunk: %w", err)}, claimed, true
	}

	e.transfer.RecordChunkUploaded(int64(len(body)))
	return queue.Result{Key: key, ETag: etag}, claimed, false
}

// resolveUnclaimed decides the outcome when the chunk row exists but
// could not be claimed. An UPLOADED row whose recorded checksum matches
// the task body is a duplicate send: report success without touching
// storage. Anything else conflicts.
func (e *Executor) resolveUnclaimed(task *queue.Task, row *models.Chunk) queue.Result {
	if row != nil && row.State == models.ChunkUploaded {
		if strings.EqualFold(row.ChecksumSHA256, task.BodySHA256) {
			logger.Debug("duplicate chunk send short-circuited",
				"upload_id", task.UploadID, "chunk_index", task.ChunkIndex)
			return queue.Result{Key: row.ObjectKey(), ETag: row.ETag}
		}
		return queue.Result{Err: models.ErrChunkConflict}
	}
	return queue.Result{Err: models.ErrChunkInFlight}
}

// write persists the chunk bytes. With an active multipart session the
// bytes land twice: as the numbered part of the assembled object and as
// the per-chunk object that downloads and whole-file verification read.
func (e *Executor) write(ctx context.Context, task *queue.Task, body []byte) (string, string, error) {
	key := models.ChunkObjectKey(task.UploadID, task.ChunkIndex)
	start := time.Now()

	if task.MultipartID != "" {
		mp, ok := e.blobs.(blob.MultipartStore)
		if !ok {
			return "", "", fmt.Errorf("multipart session on a backend without multipart support")
		}

		// Part numbers are 1-based.
		etag, err := mp.PutPart(ctx, models.AssembledObjectKey(task.UploadID),
			task.MultipartID, int32(task.ChunkIndex+1), body)
		if err != nil {
			return "", "", fmt.Errorf("failed to write part %d: %w", task.ChunkIndex+1, err)
		}
		if _, err := e.blobs.Put(ctx, key, body); err != nil {
			return "", "", fmt.Errorf("failed to write chunk object %s: %w", key, err)
		}

		logger.Debug("chunk part written", "key", key, "part", task.ChunkIndex+1,
			"bytes", len(body), "duration", time.Since(start))
		return key, etag, nil
	}

	etag, err := e.blobs.Put(ctx, key, body)
	if err != nil {
		return "", "", fmt.Errorf("failed to write chunk object %s: %w", key, err)
	}

	logger.Debug("chunk written", "key", key, "bytes", len(body),
		"duration", time.Since(start))
	return key, etag, nil
}

// loadBody resolves the chunk bytes: inline from the task, or from the
// staging store with an integrity check, because staged bytes crossed a
// process boundary.
func (e *Executor) loadBody(task *queue.Task) ([]byte, error) {
	if task.StagingKey == "" {
		return task.Body, nil
	}
	if e.staging == nil {
		return nil, fmt.Errorf("task %s references staging but no staging store is configured", task.ID)
	}

	body, err := e.staging.Get(task.StagingKey)
	if err != nil {
		return nil, err
	}

	sum := sha256.Sum256(body)
	if hex.EncodeToString(sum[:]) != task.BodySHA256 {
		return nil, fmt.Errorf("staged chunk %s: %w", task.StagingKey, models.ErrChecksumMismatch)
	}
	return body, nil
}

// abandonClaim returns a failed claim to FAILED so a later send (or a
// redelivery) can claim the chunk again.
func (e *Executor) abandonClaim(ctx context.Context, task *queue.Task) {
	if err := e.meta.MarkChunkFailed(ctx, task.UploadID, task.ChunkIndex); err != nil {
		logger.Warn("failed to mark chunk FAILED",
			"upload_id", task.UploadID, "chunk_index", task.ChunkIndex, "error", err)
	}
}
