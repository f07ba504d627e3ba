package logger

// Standard field keys for structured logging. Use these consistently so
// log aggregation can query across subsystems.
const (
	// Correlation
	KeyRequestID = "request_id" // per-request id (X-Request-ID)
	KeyTraceID   = "trace_id"   // OpenTelemetry trace ID
	KeySpanID    = "span_id"    // OpenTelemetry span ID

	// Transfer domain
	KeyUploadID   = "upload_id"
	KeyChunkIndex = "chunk_index"
	KeyTaskID     = "task_id"
	KeyFileName   = "file_name"
	KeyFileSize   = "file_size"
	KeyChunkSize  = "chunk_size"
	KeyStatus     = "status"
	KeySizeBytes  = "size_bytes"

	// Client
	KeyClientIP = "client_ip"
	KeyUserID   = "user_id"

	// Storage backend
	KeyBackend = "backend" // local, s3, r2
	KeyBucket  = "bucket"
	KeyKey     = "key" // object key
	KeyRegion  = "region"

	// Execution pipeline
	KeyQueue      = "queue"
	KeyWorkers    = "workers"
	KeyQueueDepth = "queue_depth"
	KeyAttempt    = "attempt"
	KeyMaxRetries = "max_retries"
	KeyReason     = "reason" // admission refusal reason

	// Operation metadata
	KeyDurationMs = "duration_ms"
	KeyError      = "error"
	KeyOperation  = "operation"
)
