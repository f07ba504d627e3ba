package metadata

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/marmos91/shuttle/pkg/models"
)

func (s *GORMStore) CreateUpload(ctx context.Context, upload *models.Upload) error {
	defer s.observe("create_upload", time.Now())

	return s.db.WithContext(ctx).Create(upload).Error
}

func (s *GORMStore) CreateUploadWithIdempotency(ctx context.Context, upload *models.Upload, rec *models.IdempotencyRecord) error {
	defer s.observe("create_upload", time.Now())

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(upload).Error; err != nil {
			return err
		}
		if err := tx.Create(rec).Error; err != nil {
			if isUniqueConstraintError(err) {
				return models.ErrIdempotencyConflict
			}
			return err
		}
		return nil
	})
}

func (s *GORMStore) GetUpload(ctx context.Context, id string) (*models.Upload, error) {
	var upload models.Upload
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&upload).Error; err != nil {
		return nil, convertNotFoundError(err, models.ErrUploadNotFound)
	}

	count, err := s.UploadedChunkCount(ctx, id)
	if err != nil {
		return nil, err
	}
	upload.UploadedChunks = count

	return &upload, nil
}

func (s *GORMStore) TransitionUpload(ctx context.Context, id string, from []models.UploadStatus, to models.UploadStatus) (bool, error) {
	defer s.observe("transition_upload", time.Now())

	result := s.db.WithContext(ctx).
		Model(&models.Upload{}).
		Where("id = ? AND status IN ?", id, from).
		Update("status", to)

	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (s *GORMStore) CompleteUpload(ctx context.Context, id string, fn CompleteFunc) error {
	defer s.observe("complete_upload", time.Now())

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var upload models.Upload
		if err := tx.Where("id = ?", id).First(&upload).Error; err != nil {
			return convertNotFoundError(err, models.ErrUploadNotFound)
		}
		if upload.Status.IsTerminal() {
			return models.ErrUploadTerminal
		}

		var chunks []models.Chunk
		if err := tx.
			Where("upload_id = ? AND state = ?", id, models.ChunkUploaded).
			Order("chunk_index ASC").
			Find(&chunks).Error; err != nil {
			return err
		}
		if len(chunks) != upload.TotalChunks {
			return models.ErrChunksMissing
		}

		if fn != nil {
			if err := fn(&upload, chunks); err != nil {
				return err
			}
		}

		now := time.Now().UTC()
		result := tx.Model(&models.Upload{}).
			Where("id = ? AND status IN ?", id,
				[]models.UploadStatus{models.StatusInitiated, models.StatusInProgress}).
			Updates(map[string]any{
				"status":       models.StatusCompleted,
				"completed_at": now,
			})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			// A concurrent completer or abort won the race.
			return models.ErrUploadTerminal
		}
		return nil
	})
}

func (s *GORMStore) ListStaleUploads(ctx context.Context, olderThan time.Time, statuses []models.UploadStatus) ([]*models.Upload, error) {
	var uploads []*models.Upload
	err := s.db.WithContext(ctx).
		Where("status IN ? AND updated_at < ?", statuses, olderThan).
		Order("created_at ASC").
		Find(&uploads).Error
	if err != nil {
		return nil, err
	}
	return uploads, nil
}

func (s *GORMStore) ListUploadIDs(ctx context.Context) ([]string, error) {
	var ids []string
	err := s.db.WithContext(ctx).
		Model(&models.Upload{}).
		Pluck("id", &ids).Error
	if err != nil {
		return nil, err
	}
	return ids, nil
}

func (s *GORMStore) DeleteUpload(ctx context.Context, id string) error {
	defer s.observe("delete_upload", time.Now())

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("upload_id = ?", id).Delete(&models.Chunk{}).Error; err != nil {
			return err
		}

		result := tx.Where("id = ?", id).Delete(&models.Upload{})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return models.ErrUploadNotFound
		}
		return nil
	})
}
