package handlers

import (
	"errors"
	"net/http"

	"github.com/marmos91/shuttle/internal/logger"
	"github.com/marmos91/shuttle/pkg/maintenance"
)

// AdminHandler serves the operator-only maintenance endpoints. The
// router guards every route with the admin middleware.
type AdminHandler struct {
	cleaner *maintenance.Cleaner
}

// NewAdminHandler creates a new AdminHandler. The cleaner is required.
func NewAdminHandler(cleaner *maintenance.Cleaner) (*AdminHandler, error) {
	if cleaner == nil {
		return nil, errors.New("NewAdminHandler: cleaner is required and must not be nil")
	}
	return &AdminHandler{cleaner: cleaner}, nil
}

// Cleanup handles POST /v1/admin/cleanup.
// Runs one garbage collection pass and reports what it removed. The
// same pass runs on a timer when periodic cleanup is enabled; this
// endpoint exists so operators can force it.
func (h *AdminHandler) Cleanup(w http.ResponseWriter, r *http.Request) {
	stats, err := h.cleaner.CleanupOnce(r.Context())
	if err != nil {
		logger.ErrorCtx(r.Context(), "manual cleanup failed", "error", err)
		InternalServerError(w, r, "cleanup failed")
		return
	}

	WriteJSONOK(w, stats)
}
