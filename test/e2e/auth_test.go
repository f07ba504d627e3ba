//go:build e2e

package e2e

import (
	"io"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/shuttle/pkg/maintenance"
	"github.com/marmos91/shuttle/pkg/transfer"
)

func TestAuthRequired(t *testing.T) {
	srv := newE2EServer(t)

	// No credential
	resp := srv.do(http.MethodGet, "/v1/uploads/some-id/missing-chunks", "", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	resp.Body.Close()

	// Unknown key
	resp = srv.do(http.MethodGet, "/v1/uploads/some-id/missing-chunks", "not-a-real-key", nil, nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	resp.Body.Close()

	// Operational endpoints stay open
	resp = srv.do(http.MethodGet, "/health", "", nil, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	resp = srv.do(http.MethodGet, "/version", "", nil, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	resp = srv.do(http.MethodGet, "/metrics", "", nil, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()
}

func TestUploadOwnership(t *testing.T) {
	srv := newE2EServer(t)

	payload := randomBytes(t, 64)
	init := srv.initUpload(userKey, transfer.InitRequest{
		FileName:  "private.bin",
		FileSize:  int64(len(payload)),
		ChunkSize: int64(len(payload)),
	})

	// A different authenticated user cannot touch alice's upload
	resp := srv.do(http.MethodGet, "/v1/uploads/"+init.UploadID+"/missing-chunks", otherKey, nil, nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	resp.Body.Close()

	resp = srv.putChunk(otherKey, init.UploadID, 0, payload, nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	resp.Body.Close()

	resp = srv.do(http.MethodPost, "/v1/uploads/"+init.UploadID+"/abort", otherKey, nil, nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	resp.Body.Close()

	// The owner still can
	srv.putChunkOK(userKey, init.UploadID, 0, payload)
	srv.completeOK(userKey, init.UploadID)
}

func TestAdminCleanup(t *testing.T) {
	srv := newE2EServer(t)

	// Regular users are refused
	resp := srv.do(http.MethodPost, "/v1/admin/cleanup", userKey, nil, nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	resp.Body.Close()

	// Admin triggers a pass and gets the stats back
	resp = srv.do(http.MethodPost, "/v1/admin/cleanup", adminKey, nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var stats maintenance.Stats
	srv.decode(resp, &stats)
	assert.GreaterOrEqual(t, stats.StaleUploadsDeleted, int64(0))
}

func TestVersionEndpoint(t *testing.T) {
	srv := newE2EServer(t)

	resp := srv.do(http.MethodGet, "/version", "", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	assert.Contains(t, string(body), `"version":"e2e"`)
}
