package telemetry

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.False(t, cfg.Enabled)
	assert.Equal(t, "shuttle", cfg.ServiceName)
	assert.Equal(t, "dev", cfg.ServiceVersion)
	assert.Equal(t, "localhost:4317", cfg.Endpoint)
	assert.True(t, cfg.Insecure)
	assert.Equal(t, 1.0, cfg.SampleRate)
}

func TestInitDisabled(t *testing.T) {
	ctx := context.Background()
	cfg := DefaultConfig()
	cfg.Enabled = false

	shutdown, err := Init(ctx, cfg)
	require.NoError(t, err)
	require.NotNil(t, shutdown)

	assert.NoError(t, shutdown(ctx))
	assert.False(t, IsEnabled())
}

func TestTracerReturnsNoOp(t *testing.T) {
	tracer = nil
	enabled = false

	tr := Tracer()
	require.NotNil(t, tr)
}

func TestStartSpanWithoutInit(t *testing.T) {
	ctx := context.Background()

	newCtx, span := StartSpan(ctx, "test.operation")
	require.NotNil(t, newCtx)
	require.NotNil(t, span)
	span.End()
}

func TestSpanFromContext(t *testing.T) {
	span := SpanFromContext(context.Background())
	require.NotNil(t, span)
}

func TestSpanHelpersDoNotPanic(t *testing.T) {
	ctx := context.Background()

	require.NotPanics(t, func() {
		AddEvent(ctx, "chunk.claimed", ChunkIndex(3))
	})
	require.NotPanics(t, func() {
		RecordError(ctx, nil)
	})
	require.NotPanics(t, func() {
		RecordError(ctx, errors.New("checksum mismatch"))
	})
	require.NotPanics(t, func() {
		SetStatus(ctx, codes.Ok, "completed")
	})
	require.NotPanics(t, func() {
		SetStatus(ctx, codes.Error, "failed")
	})
	require.NotPanics(t, func() {
		SetAttributes(ctx, UploadStatus("IN_PROGRESS"))
	})
}

func TestTraceAndSpanIDsEmptyWithoutSpan(t *testing.T) {
	ctx := context.Background()

	assert.Equal(t, "", TraceID(ctx))
	assert.Equal(t, "", SpanID(ctx))
}

func TestSamplerFor(t *testing.T) {
	tests := []struct {
		name string
		rate float64
		desc string
	}{
		{"always", 1.0, "AlwaysOnSampler"},
		{"over one", 2.5, "AlwaysOnSampler"},
		{"never", 0.0, "AlwaysOffSampler"},
		{"negative", -1.0, "AlwaysOffSampler"},
		{"ratio", 0.25, "TraceIDRatioBased{0.25}"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.desc, samplerFor(tt.rate).Description())
		})
	}
}

func TestAttributeHelpers(t *testing.T) {
	t.Run("RequestID", func(t *testing.T) {
		attr := RequestID("req-1234")
		assert.Equal(t, AttrRequestID, string(attr.Key))
		assert.Equal(t, "req-1234", attr.Value.AsString())
	})

	t.Run("ClientIP", func(t *testing.T) {
		attr := ClientIP("192.168.1.100")
		assert.Equal(t, AttrClientIP, string(attr.Key))
		assert.Equal(t, "192.168.1.100", attr.Value.AsString())
	})

	t.Run("UserID", func(t *testing.T) {
		attr := UserID("alice")
		assert.Equal(t, AttrUserID, string(attr.Key))
		assert.Equal(t, "alice", attr.Value.AsString())
	})

	t.Run("AuthMode", func(t *testing.T) {
		attr := AuthMode("bearer")
		assert.Equal(t, AttrAuthMode, string(attr.Key))
		assert.Equal(t, "bearer", attr.Value.AsString())
	})

	t.Run("UploadID", func(t *testing.T) {
		attr := UploadID("a1b2c3")
		assert.Equal(t, AttrUploadID, string(attr.Key))
		assert.Equal(t, "a1b2c3", attr.Value.AsString())
	})

	t.Run("UploadStatus", func(t *testing.T) {
		attr := UploadStatus("COMPLETED")
		assert.Equal(t, AttrUploadStatus, string(attr.Key))
		assert.Equal(t, "COMPLETED", attr.Value.AsString())
	})

	t.Run("FileSize", func(t *testing.T) {
		attr := FileSize(1048576)
		assert.Equal(t, AttrFileSize, string(attr.Key))
		assert.Equal(t, int64(1048576), attr.Value.AsInt64())
	})

	t.Run("TotalChunks", func(t *testing.T) {
		attr := TotalChunks(16)
		assert.Equal(t, AttrTotalChunks, string(attr.Key))
		assert.Equal(t, int64(16), attr.Value.AsInt64())
	})

	t.Run("ChunkIndex", func(t *testing.T) {
		attr := ChunkIndex(4)
		assert.Equal(t, AttrChunkIndex, string(attr.Key))
		assert.Equal(t, int64(4), attr.Value.AsInt64())
	})

	t.Run("ChunkSize", func(t *testing.T) {
		attr := ChunkSize(5 << 20)
		assert.Equal(t, AttrChunkSize, string(attr.Key))
		assert.Equal(t, int64(5<<20), attr.Value.AsInt64())
	})

	t.Run("Replay", func(t *testing.T) {
		attr := Replay(true)
		assert.Equal(t, AttrReplay, string(attr.Key))
		assert.True(t, attr.Value.AsBool())
	})

	t.Run("Backend", func(t *testing.T) {
		attr := Backend("s3")
		assert.Equal(t, AttrBackend, string(attr.Key))
		assert.Equal(t, "s3", attr.Value.AsString())
	})

	t.Run("Bucket", func(t *testing.T) {
		attr := Bucket("shuttle-uploads")
		assert.Equal(t, AttrBucket, string(attr.Key))
		assert.Equal(t, "shuttle-uploads", attr.Value.AsString())
	})

	t.Run("StorageKey", func(t *testing.T) {
		attr := StorageKey("a1b2c3/4")
		assert.Equal(t, AttrKey, string(attr.Key))
		assert.Equal(t, "a1b2c3/4", attr.Value.AsString())
	})

	t.Run("QueueName", func(t *testing.T) {
		attr := QueueName("redis")
		assert.Equal(t, AttrQueueName, string(attr.Key))
		assert.Equal(t, "redis", attr.Value.AsString())
	})

	t.Run("QueueDepth", func(t *testing.T) {
		attr := QueueDepth(42)
		assert.Equal(t, AttrQueueDepth, string(attr.Key))
		assert.Equal(t, int64(42), attr.Value.AsInt64())
	})

	t.Run("Attempt", func(t *testing.T) {
		attr := Attempt(2)
		assert.Equal(t, AttrAttempt, string(attr.Key))
		assert.Equal(t, int64(2), attr.Value.AsInt64())
	})

	t.Run("RefusalReason", func(t *testing.T) {
		attr := RefusalReason("global_full")
		assert.Equal(t, AttrRefusalReason, string(attr.Key))
		assert.Equal(t, "global_full", attr.Value.AsString())
	})

	t.Run("RangeStart", func(t *testing.T) {
		attr := RangeStart(1024)
		assert.Equal(t, AttrRangeStart, string(attr.Key))
		assert.Equal(t, int64(1024), attr.Value.AsInt64())
	})
}

func TestStartTransferSpan(t *testing.T) {
	ctx := context.Background()

	newCtx, span := StartTransferSpan(ctx, SpanUploadChunk, "a1b2c3", ChunkIndex(0))
	require.NotNil(t, newCtx)
	require.NotNil(t, span)
	span.End()

	// Init has no upload ID yet
	newCtx2, span2 := StartTransferSpan(ctx, SpanUploadInit, "", FileSize(1024))
	require.NotNil(t, newCtx2)
	require.NotNil(t, span2)
	span2.End()
}

func TestStartStorageSpan(t *testing.T) {
	ctx := context.Background()

	newCtx, span := StartStorageSpan(ctx, "put", "a1b2c3/0", Backend("local"), Bytes(4096))
	require.NotNil(t, newCtx)
	require.NotNil(t, span)
	span.End()
}

func TestStartQueueSpan(t *testing.T) {
	ctx := context.Background()

	newCtx, span := StartQueueSpan(ctx, "enqueue", "memory", TaskID("task-1"))
	require.NotNil(t, newCtx)
	require.NotNil(t, span)
	span.End()
}

func TestStartWorkerSpan(t *testing.T) {
	ctx := context.Background()

	newCtx, span := StartWorkerSpan(ctx, "a1b2c3", 7, Attempt(1))
	require.NotNil(t, newCtx)
	require.NotNil(t, span)
	span.End()
}
