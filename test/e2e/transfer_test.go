//go:build e2e

package e2e

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/shuttle/pkg/models"
	"github.com/marmos91/shuttle/pkg/transfer"
)

func randomBytes(t *testing.T, n int) []byte {
	t.Helper()
	buf := make([]byte, n)
	_, err := rand.Read(buf)
	require.NoError(t, err)
	return buf
}

func TestUploadDownloadLifecycle(t *testing.T) {
	srv := newE2EServer(t)

	const chunkSize = 1024
	payload := randomBytes(t, chunkSize*2+512) // 3 chunks, short tail

	init := srv.initUpload(userKey, transfer.InitRequest{
		FileName:  "report.bin",
		FileSize:  int64(len(payload)),
		ChunkSize: chunkSize,
	})
	require.NotEmpty(t, init.UploadID)
	require.Equal(t, 3, init.TotalChunks)
	require.Equal(t, string(models.StatusInitiated), init.Status)

	// Upload out of order: tail first, then head
	srv.putChunkOK(userKey, init.UploadID, 2, payload[2*chunkSize:])
	srv.putChunkOK(userKey, init.UploadID, 0, payload[:chunkSize])

	missing := srv.missingChunks(userKey, init.UploadID)
	assert.Equal(t, []int{1}, missing.Missing)
	assert.Equal(t, string(models.StatusInProgress), missing.Status)

	srv.putChunkOK(userKey, init.UploadID, 1, payload[chunkSize:2*chunkSize])

	missing = srv.missingChunks(userKey, init.UploadID)
	assert.Empty(t, missing.Missing)

	done := srv.completeOK(userKey, init.UploadID)
	assert.Equal(t, string(models.StatusCompleted), done.Status)

	// Full download round-trips the payload
	resp := srv.download(userKey, init.UploadID, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "bytes", resp.Header.Get("Accept-Ranges"))

	got, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	assert.Equal(t, payload, got)

	// Ranged download spanning a chunk boundary
	resp = srv.download(userKey, init.UploadID, "bytes=1000-1100")
	require.Equal(t, http.StatusPartialContent, resp.StatusCode)
	assert.Equal(t, fmt.Sprintf("bytes 1000-1100/%d", len(payload)), resp.Header.Get("Content-Range"))

	got, err = io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	assert.Equal(t, payload[1000:1101], got)

	// Open-ended suffix range
	resp = srv.download(userKey, init.UploadID, "bytes=2048-")
	require.Equal(t, http.StatusPartialContent, resp.StatusCode)

	got, err = io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	assert.Equal(t, payload[2048:], got)
}

func TestChunkChecksumValidation(t *testing.T) {
	srv := newE2EServer(t)

	payload := []byte("checksummed chunk payload")
	init := srv.initUpload(userKey, transfer.InitRequest{
		FileName:  "sums.bin",
		FileSize:  int64(len(payload)),
		ChunkSize: int64(len(payload)),
	})

	// Wrong digest is rejected before anything is stored
	resp := srv.putChunk(userKey, init.UploadID, 0, payload, map[string]string{
		"X-Chunk-SHA256": "deadbeefdeadbeefdeadbeefdeadbeefdeadbeefdeadbeefdeadbeefdeadbeef",
	})
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	resp.Body.Close()

	missing := srv.missingChunks(userKey, init.UploadID)
	assert.Equal(t, []int{0}, missing.Missing)

	// Correct digest goes through
	sum := sha256.Sum256(payload)
	resp = srv.putChunk(userKey, init.UploadID, 0, payload, map[string]string{
		"X-Chunk-SHA256": hex.EncodeToString(sum[:]),
	})
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	resp.Body.Close()

	srv.completeOK(userKey, init.UploadID)
}

func TestCompleteChecksumDeclaredLate(t *testing.T) {
	srv := newE2EServer(t)

	payload := []byte("verified at completion time")
	upload := func() string {
		init := srv.initUpload(userKey, transfer.InitRequest{
			FileName:  "late.bin",
			FileSize:  int64(len(payload)),
			ChunkSize: int64(len(payload)),
		})
		srv.putChunkOK(userKey, init.UploadID, 0, payload)
		return init.UploadID
	}

	// A wrong digest in the completion body fails the upload for good.
	id := upload()
	resp := srv.doJSON(http.MethodPost, "/v1/uploads/"+id+"/complete", userKey, map[string]string{
		"file_checksum_sha256": "deadbeefdeadbeefdeadbeefdeadbeefdeadbeefdeadbeefdeadbeefdeadbeef",
	})
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	resp.Body.Close()

	resp = srv.complete(userKey, id, "")
	assert.Equal(t, http.StatusLocked, resp.StatusCode)
	resp.Body.Close()

	// The right digest completes a fresh upload.
	id = upload()
	sum := sha256.Sum256(payload)
	resp = srv.doJSON(http.MethodPost, "/v1/uploads/"+id+"/complete", userKey, map[string]string{
		"file_checksum_sha256": hex.EncodeToString(sum[:]),
	})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	dl := srv.download(userKey, id, "")
	require.Equal(t, http.StatusOK, dl.StatusCode)
	got, err := io.ReadAll(dl.Body)
	dl.Body.Close()
	require.NoError(t, err)
	assert.Equal(t, payload, got)
}

func TestChunkReplayAndConflict(t *testing.T) {
	srv := newE2EServer(t)

	const chunkSize = 256
	payload := randomBytes(t, chunkSize*2)

	init := srv.initUpload(userKey, transfer.InitRequest{
		FileName:  "replay.bin",
		FileSize:  int64(len(payload)),
		ChunkSize: chunkSize,
	})

	srv.putChunkOK(userKey, init.UploadID, 0, payload[:chunkSize])

	// Same bytes again: accepted as a no-op
	replay := srv.putChunkOK(userKey, init.UploadID, 0, payload[:chunkSize])
	assert.Equal(t, string(models.ChunkUploaded), replay.Status)

	// Different bytes for a stored chunk: conflict
	resp := srv.putChunk(userKey, init.UploadID, 0, randomBytes(t, chunkSize), nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	resp.Body.Close()

	// The stored chunk survives the conflicting attempt
	srv.putChunkOK(userKey, init.UploadID, 1, payload[chunkSize:])
	srv.completeOK(userKey, init.UploadID)

	dl := srv.download(userKey, init.UploadID, "")
	require.Equal(t, http.StatusOK, dl.StatusCode)
	got, err := io.ReadAll(dl.Body)
	dl.Body.Close()
	require.NoError(t, err)
	assert.Equal(t, payload, got)
}

func TestCompleteRequiresAllChunks(t *testing.T) {
	srv := newE2EServer(t)

	const chunkSize = 128
	payload := randomBytes(t, chunkSize*2)

	init := srv.initUpload(userKey, transfer.InitRequest{
		FileName:  "partial.bin",
		FileSize:  int64(len(payload)),
		ChunkSize: chunkSize,
	})

	srv.putChunkOK(userKey, init.UploadID, 0, payload[:chunkSize])

	resp := srv.complete(userKey, init.UploadID, "")
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	resp.Body.Close()

	srv.putChunkOK(userKey, init.UploadID, 1, payload[chunkSize:])
	srv.completeOK(userKey, init.UploadID)

	// Completing again replays the recorded answer
	resp = srv.complete(userKey, init.UploadID, "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()
}

func TestInitIdempotency(t *testing.T) {
	srv := newE2EServer(t)

	req := transfer.InitRequest{
		FileName:       "idem.bin",
		FileSize:       4096,
		ChunkSize:      1024,
		IdempotencyKey: "init-key-1",
	}

	first := srv.initUpload(userKey, req)
	second := srv.initUpload(userKey, req)
	assert.Equal(t, first.UploadID, second.UploadID)

	// Same key with a different body is a conflict, not a replay
	req.FileSize = 8192
	resp := srv.doJSON(http.MethodPost, "/v1/uploads/init", userKey, req)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	resp.Body.Close()
}

func TestAbortLifecycle(t *testing.T) {
	srv := newE2EServer(t)

	const chunkSize = 128
	payload := randomBytes(t, chunkSize*2)

	init := srv.initUpload(userKey, transfer.InitRequest{
		FileName:  "aborted.bin",
		FileSize:  int64(len(payload)),
		ChunkSize: chunkSize,
	})

	srv.putChunkOK(userKey, init.UploadID, 0, payload[:chunkSize])

	resp := srv.do(http.MethodPost, "/v1/uploads/"+init.UploadID+"/abort", userKey, nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var abort transfer.AbortResponse
	srv.decode(resp, &abort)
	assert.Equal(t, string(models.StatusAborted), abort.Status)

	// A second abort refuses: the upload is already terminal
	resp = srv.do(http.MethodPost, "/v1/uploads/"+init.UploadID+"/abort", userKey, nil, nil)
	assert.Equal(t, http.StatusLocked, resp.StatusCode)
	resp.Body.Close()

	// Terminal upload refuses further chunks and completion
	resp = srv.putChunk(userKey, init.UploadID, 1, payload[chunkSize:], nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	resp.Body.Close()

	resp = srv.complete(userKey, init.UploadID, "")
	assert.Equal(t, http.StatusLocked, resp.StatusCode)
	resp.Body.Close()

	// A never-completed upload has nothing to download
	resp = srv.download(userKey, init.UploadID, "")
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	resp.Body.Close()
}

func TestDownloadRangeNotSatisfiable(t *testing.T) {
	srv := newE2EServer(t)

	payload := randomBytes(t, 512)
	init := srv.initUpload(userKey, transfer.InitRequest{
		FileName:  "small.bin",
		FileSize:  int64(len(payload)),
		ChunkSize: int64(len(payload)),
	})
	srv.putChunkOK(userKey, init.UploadID, 0, payload)
	srv.completeOK(userKey, init.UploadID)

	resp := srv.download(userKey, init.UploadID, "bytes=100000-")
	assert.Equal(t, http.StatusRequestedRangeNotSatisfiable, resp.StatusCode)
	resp.Body.Close()
}

func TestUploadNotFound(t *testing.T) {
	srv := newE2EServer(t)

	resp := srv.do(http.MethodGet, "/v1/uploads/00000000-0000-0000-0000-000000000000/missing-chunks", userKey, nil, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp.Body.Close()
}
