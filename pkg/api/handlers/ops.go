package handlers

import "net/http"

// VersionInfo identifies the running build. main populates it from
// ldflags; zero values mean a non-release build.
type VersionInfo struct {
	Version string `json:"version"`
	Commit  string `json:"commit"`
	Date    string `json:"date"`
}

// OpsHandler serves the unauthenticated operational endpoints.
type OpsHandler struct {
	version VersionInfo
}

// NewOpsHandler creates a new OpsHandler.
func NewOpsHandler(version VersionInfo) *OpsHandler {
	return &OpsHandler{version: version}
}

// Health handles GET /health. A 200 means the process is up and
// serving; it does not probe the stores.
func (h *OpsHandler) Health(w http.ResponseWriter, r *http.Request) {
	WriteJSONOK(w, map[string]string{"status": "ok"})
}

// Version handles GET /version.
func (h *OpsHandler) Version(w http.ResponseWriter, r *http.Request) {
	WriteJSONOK(w, h.version)
}
