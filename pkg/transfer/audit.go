package transfer

import (
	"context"

	"github.com/marmos91/shuttle/internal/logger"
	"github.com/marmos91/shuttle/pkg/auth"
	"github.com/marmos91/shuttle/pkg/models"
)

// Audit events are ordinary structured log records with msg "audit".
// Aggregation filters on the action field; every event carries the
// acting principal and the upload it touched.

func (s *Service) auditUploadInit(ctx context.Context, principal *auth.Principal, upload *models.Upload) {
	logger.InfoCtx(ctx, "audit",
		"action", "upload_init",
		logger.KeyUploadID, upload.ID,
		logger.KeyUserID, principal.ID,
		logger.KeyStatus, string(upload.Status),
		logger.KeyFileSize, upload.FileSize,
		logger.KeyChunkSize, upload.ChunkSize,
		"total_chunks", upload.TotalChunks,
	)
}

func (s *Service) auditUploadComplete(ctx context.Context, principal *auth.Principal, uploadID, status string, replay bool) {
	logger.InfoCtx(ctx, "audit",
		"action", "upload_complete",
		logger.KeyUploadID, uploadID,
		logger.KeyUserID, principal.ID,
		logger.KeyStatus, status,
		"idempotent_replay", replay,
	)
}

func (s *Service) auditUploadAbort(ctx context.Context, principal *auth.Principal, uploadID string) {
	logger.InfoCtx(ctx, "audit",
		"action", "upload_abort",
		logger.KeyUploadID, uploadID,
		logger.KeyUserID, principal.ID,
		logger.KeyStatus, string(models.StatusAborted),
	)
}

func (s *Service) auditDownload(ctx context.Context, principal *auth.Principal, uploadID string, ranged bool) {
	logger.InfoCtx(ctx, "audit",
		"action", "download",
		logger.KeyUploadID, uploadID,
		logger.KeyUserID, principal.ID,
		logger.KeyStatus, "ok",
		"range_requested", ranged,
	)
}
