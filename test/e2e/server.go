//go:build e2e

package e2e

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/marmos91/shuttle/pkg/api"
	"github.com/marmos91/shuttle/pkg/api/handlers"
	"github.com/marmos91/shuttle/pkg/auth"
	"github.com/marmos91/shuttle/pkg/idempotency"
	"github.com/marmos91/shuttle/pkg/limits"
	"github.com/marmos91/shuttle/pkg/maintenance"
	"github.com/marmos91/shuttle/pkg/queue"
	"github.com/marmos91/shuttle/pkg/store/blob"
	"github.com/marmos91/shuttle/pkg/store/blob/local"
	"github.com/marmos91/shuttle/pkg/store/metadata"
	"github.com/marmos91/shuttle/pkg/transfer"
	"github.com/marmos91/shuttle/pkg/worker"
)

// API keys the E2E authenticator accepts. root is the only admin.
const (
	userKey  = "e2e-user-key"
	otherKey = "e2e-other-key"
	adminKey = "e2e-admin-key"
)

// e2eServer is a complete shuttle stack on a real listener: postgres
// metadata, local blob storage, direct worker pool, API-key auth.
type e2eServer struct {
	t       *testing.T
	URL     string
	client  *http.Client
	cleaner *maintenance.Cleaner
}

func newE2EServer(t *testing.T) *e2eServer {
	t.Helper()

	pg := NewPostgresHelper(t)
	require.NoError(t, pg.TruncateTables())

	meta, err := metadata.New(&metadata.Config{
		Driver: metadata.DriverPostgres,
		DSN:    pg.ConnectionString(),
	}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = meta.Close() })

	blobs, err := local.New(blob.Config{Backend: blob.BackendLocal, Root: t.TempDir()}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = blobs.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	registry := idempotency.NewRegistry(meta, time.Hour)
	results := queue.NewResultStore()
	admission := limits.NewAdmission(limits.Config{
		QueueSize:      64,
		GlobalLimit:    32,
		PerUploadLimit: 16,
		WorkerCount:    4,
	}, nil)

	executor := worker.NewExecutor(worker.ExecutorConfig{
		Store:      meta,
		Blobs:      blobs,
		Results:    results,
		MaxRetries: 3,
	})
	pool := worker.NewPool(executor, 4, 64, nil)
	pool.Start(ctx)
	t.Cleanup(func() { pool.Stop(5 * time.Second) })

	service := transfer.NewService(transfer.ServiceConfig{
		Store:            meta,
		Blobs:            blobs,
		Registry:         registry,
		Admission:        admission,
		Submitter:        pool,
		Results:          results,
		DefaultChunkSize: 1 << 20,
		TaskTimeout:      15 * time.Second,
	})

	cleaner := maintenance.NewCleaner(meta, blobs, registry, time.Hour)

	authenticator, err := auth.NewAuthenticator(auth.Config{
		Mode:       auth.ModeAPIKey,
		APIKeys:    userKey + ":alice," + otherKey + ":bob," + adminKey + ":root",
		AdminUsers: "root",
	})
	require.NoError(t, err)

	router, err := api.NewRouter(api.RouterConfig{
		Service:       service,
		Cleaner:       cleaner,
		Authenticator: authenticator,
		Version:       handlers.VersionInfo{Version: "e2e"},
	})
	require.NoError(t, err)

	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)

	return &e2eServer{t: t, URL: srv.URL, client: srv.Client(), cleaner: cleaner}
}

// do sends a request with the given API key and optional headers. The
// caller owns the response body.
func (s *e2eServer) do(method, path, key string, body []byte, headers map[string]string) *http.Response {
	s.t.Helper()

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequest(method, s.URL+path, reader)
	require.NoError(s.t, err)

	if key != "" {
		req.Header.Set("X-API-Key", key)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := s.client.Do(req)
	require.NoError(s.t, err)
	return resp
}

// doJSON sends a JSON body with the given API key.
func (s *e2eServer) doJSON(method, path, key string, payload any) *http.Response {
	s.t.Helper()

	body, err := json.Marshal(payload)
	require.NoError(s.t, err)
	return s.do(method, path, key, body, map[string]string{"Content-Type": "application/json"})
}

// decode reads and closes the response body into v.
func (s *e2eServer) decode(resp *http.Response, v any) {
	s.t.Helper()
	defer resp.Body.Close()
	require.NoError(s.t, json.NewDecoder(resp.Body).Decode(v))
}

// initUpload registers an upload and requires a 201.
func (s *e2eServer) initUpload(key string, req transfer.InitRequest) transfer.InitResponse {
	s.t.Helper()

	resp := s.doJSON(http.MethodPost, "/v1/uploads/init", key, req)
	require.Equal(s.t, http.StatusCreated, resp.StatusCode)

	var out transfer.InitResponse
	s.decode(resp, &out)
	return out
}

// putChunk uploads one chunk and returns the raw response.
func (s *e2eServer) putChunk(key, uploadID string, index int, body []byte, headers map[string]string) *http.Response {
	s.t.Helper()
	path := "/v1/uploads/" + uploadID + "/chunks/" + strconv.Itoa(index)
	return s.do(http.MethodPut, path, key, body, headers)
}

// putChunkOK uploads one chunk and requires a 202.
func (s *e2eServer) putChunkOK(key, uploadID string, index int, body []byte) transfer.AcceptResponse {
	s.t.Helper()

	resp := s.putChunk(key, uploadID, index, body, nil)
	require.Equal(s.t, http.StatusAccepted, resp.StatusCode)

	var out transfer.AcceptResponse
	s.decode(resp, &out)
	return out
}

// complete finalizes an upload and returns the raw response.
func (s *e2eServer) complete(key, uploadID, idempotencyKey string) *http.Response {
	s.t.Helper()

	payload := map[string]string{}
	if idempotencyKey != "" {
		payload["idempotency_key"] = idempotencyKey
	}
	return s.doJSON(http.MethodPost, "/v1/uploads/"+uploadID+"/complete", key, payload)
}

// completeOK finalizes an upload and requires a 200.
func (s *e2eServer) completeOK(key, uploadID string) transfer.CompleteResponse {
	s.t.Helper()

	resp := s.complete(key, uploadID, "")
	require.Equal(s.t, http.StatusOK, resp.StatusCode)

	var out transfer.CompleteResponse
	s.decode(resp, &out)
	return out
}

// missingChunks fetches the resume listing and requires a 200.
func (s *e2eServer) missingChunks(key, uploadID string) transfer.MissingChunksResponse {
	s.t.Helper()

	resp := s.do(http.MethodGet, "/v1/uploads/"+uploadID+"/missing-chunks", key, nil, nil)
	require.Equal(s.t, http.StatusOK, resp.StatusCode)

	var out transfer.MissingChunksResponse
	s.decode(resp, &out)
	return out
}

// download fetches the assembled file, with an optional Range header.
func (s *e2eServer) download(key, uploadID, rangeHeader string) *http.Response {
	s.t.Helper()

	var headers map[string]string
	if rangeHeader != "" {
		headers = map[string]string{"Range": rangeHeader}
	}
	return s.do(http.MethodGet, "/v1/uploads/"+uploadID+"/download", key, nil, headers)
}
