package telemetry

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Attribute keys used on shuttle spans. Grouped by the subsystem that
// emits them so dashboards can filter on a stable vocabulary.
const (
	// Request attributes
	AttrRequestID = "request.id"
	AttrClientIP  = "client.ip"
	AttrUserID    = "user.id"
	AttrAuthMode  = "auth.mode"

	// Upload attributes
	AttrUploadID     = "upload.id"
	AttrUploadStatus = "upload.status"
	AttrFileName     = "upload.file_name"
	AttrFileSize     = "upload.file_size"
	AttrTotalChunks  = "upload.total_chunks"

	// Chunk attributes
	AttrChunkIndex = "chunk.index"
	AttrChunkSize  = "chunk.size"
	AttrChecksum   = "chunk.checksum"

	// Idempotency attributes
	AttrIdempotencyKey = "idempotency.key"
	AttrReplay         = "idempotency.replay"

	// Storage attributes
	AttrBackend = "storage.backend"
	AttrBucket  = "storage.bucket"
	AttrKey     = "storage.key"
	AttrRegion  = "storage.region"
	AttrBytes   = "storage.bytes"

	// Queue and worker attributes
	AttrQueueName  = "queue.name"
	AttrQueueDepth = "queue.depth"
	AttrTaskID     = "task.id"
	AttrAttempt    = "task.attempt"
	AttrWorkers    = "pool.workers"

	// Admission attributes
	AttrRefusalReason = "admission.refusal"

	// Range attributes for partial downloads
	AttrRangeStart = "range.start"
	AttrRangeEnd   = "range.end"
)

// Span names for top-level operations. Sub-operations derive their
// names through the Start*Span helpers below.
const (
	SpanUploadInit     = "transfer.init"
	SpanUploadChunk    = "transfer.chunk"
	SpanUploadComplete = "transfer.complete"
	SpanUploadAbort    = "transfer.abort"
	SpanUploadStatus   = "transfer.status"
	SpanDownload       = "transfer.download"
	SpanWorkerExecute  = "worker.execute"
	SpanMaintenance    = "maintenance.cleanup"
)

// RequestID returns an attribute for the HTTP request ID.
func RequestID(id string) attribute.KeyValue {
	return attribute.String(AttrRequestID, id)
}

// ClientIP returns an attribute for the caller's IP address.
func ClientIP(ip string) attribute.KeyValue {
	return attribute.String(AttrClientIP, ip)
}

// UserID returns an attribute for the authenticated principal.
func UserID(id string) attribute.KeyValue {
	return attribute.String(AttrUserID, id)
}

// AuthMode returns an attribute for the authentication mode that
// admitted the request (api_key or bearer).
func AuthMode(mode string) attribute.KeyValue {
	return attribute.String(AttrAuthMode, mode)
}

// UploadID returns an attribute for the upload identifier.
func UploadID(id string) attribute.KeyValue {
	return attribute.String(AttrUploadID, id)
}

// UploadStatus returns an attribute for the upload lifecycle state.
func UploadStatus(status string) attribute.KeyValue {
	return attribute.String(AttrUploadStatus, status)
}

// FileName returns an attribute for the logical file name.
func FileName(name string) attribute.KeyValue {
	return attribute.String(AttrFileName, name)
}

// FileSize returns an attribute for the declared file size in bytes.
func FileSize(size int64) attribute.KeyValue {
	return attribute.Int64(AttrFileSize, size)
}

// TotalChunks returns an attribute for the expected chunk count.
func TotalChunks(n int) attribute.KeyValue {
	return attribute.Int(AttrTotalChunks, n)
}

// ChunkIndex returns an attribute for a zero-based chunk index.
func ChunkIndex(idx int) attribute.KeyValue {
	return attribute.Int(AttrChunkIndex, idx)
}

// ChunkSize returns an attribute for a chunk payload size in bytes.
func ChunkSize(size int64) attribute.KeyValue {
	return attribute.Int64(AttrChunkSize, size)
}

// Checksum returns an attribute for a hex-encoded SHA-256 digest.
func Checksum(sum string) attribute.KeyValue {
	return attribute.String(AttrChecksum, sum)
}

// IdempotencyKey returns an attribute for the client-supplied key.
func IdempotencyKey(key string) attribute.KeyValue {
	return attribute.String(AttrIdempotencyKey, key)
}

// Replay returns an attribute marking an idempotent replay response.
func Replay(replay bool) attribute.KeyValue {
	return attribute.Bool(AttrReplay, replay)
}

// Backend returns an attribute for the blob backend kind
// (local, s3, r2, minio).
func Backend(backend string) attribute.KeyValue {
	return attribute.String(AttrBackend, backend)
}

// Bucket returns an attribute for the object storage bucket.
func Bucket(bucket string) attribute.KeyValue {
	return attribute.String(AttrBucket, bucket)
}

// StorageKey returns an attribute for the object key.
func StorageKey(key string) attribute.KeyValue {
	return attribute.String(AttrKey, key)
}

// Region returns an attribute for the cloud region.
func Region(region string) attribute.KeyValue {
	return attribute.String(AttrRegion, region)
}

// Bytes returns an attribute for a byte count moved to or from storage.
func Bytes(n int64) attribute.KeyValue {
	return attribute.Int64(AttrBytes, n)
}

// QueueName returns an attribute for the durable queue backend name.
func QueueName(name string) attribute.KeyValue {
	return attribute.String(AttrQueueName, name)
}

// QueueDepth returns an attribute for the queue depth at sample time.
func QueueDepth(depth int) attribute.KeyValue {
	return attribute.Int(AttrQueueDepth, depth)
}

// TaskID returns an attribute for a queued task identifier.
func TaskID(id string) attribute.KeyValue {
	return attribute.String(AttrTaskID, id)
}

// Attempt returns an attribute for the retry attempt number, 1-based.
func Attempt(n int) attribute.KeyValue {
	return attribute.Int(AttrAttempt, n)
}

// Workers returns an attribute for the current worker pool size.
func Workers(n int) attribute.KeyValue {
	return attribute.Int(AttrWorkers, n)
}

// RefusalReason returns an attribute for an admission refusal
// (queue_full, global_full, per_upload_full, fair_share_full).
func RefusalReason(reason string) attribute.KeyValue {
	return attribute.String(AttrRefusalReason, reason)
}

// RangeStart returns an attribute for the first byte of a range request.
func RangeStart(off int64) attribute.KeyValue {
	return attribute.Int64(AttrRangeStart, off)
}

// RangeEnd returns an attribute for the last byte of a range request.
func RangeEnd(off int64) attribute.KeyValue {
	return attribute.Int64(AttrRangeEnd, off)
}

// StartTransferSpan starts a span for an upload lifecycle operation.
// The name should be one of the Span* constants; uploadID may be empty
// for init, where the ID does not exist yet.
func StartTransferSpan(ctx context.Context, name, uploadID string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	all := make([]attribute.KeyValue, 0, len(attrs)+1)
	if uploadID != "" {
		all = append(all, UploadID(uploadID))
	}
	all = append(all, attrs...)

	return StartSpan(ctx, name, trace.WithAttributes(all...))
}

// StartStorageSpan starts a span for a blob store operation
// ("put", "get", "delete", "put_part", ...).
func StartStorageSpan(ctx context.Context, operation, key string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	all := append([]attribute.KeyValue{StorageKey(key)}, attrs...)
	return StartSpan(ctx, "storage."+operation, trace.WithAttributes(all...))
}

// StartMetadataSpan starts a span for a metadata store operation.
func StartMetadataSpan(ctx context.Context, operation string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return StartSpan(ctx, "metadata."+operation, trace.WithAttributes(attrs...))
}

// StartQueueSpan starts a span for a durable queue operation
// ("enqueue", "dequeue", "ack", "nack").
func StartQueueSpan(ctx context.Context, operation, queue string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	all := append([]attribute.KeyValue{QueueName(queue)}, attrs...)
	return StartSpan(ctx, "queue."+operation, trace.WithAttributes(all...))
}

// StartWorkerSpan starts a span covering one task execution on a pool
// worker, linking it to the upload and chunk being moved.
func StartWorkerSpan(ctx context.Context, uploadID string, chunkIndex int, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	all := append([]attribute.KeyValue{UploadID(uploadID), ChunkIndex(chunkIndex)}, attrs...)
	return StartSpan(ctx, SpanWorkerExecute, trace.WithAttributes(all...))
}
