package metadata

import (
	"context"
	"time"

	"github.com/marmos91/shuttle/pkg/models"
)

func (s *GORMStore) GetIdempotency(ctx context.Context, kind models.IdempotencyKind, key string) (*models.IdempotencyRecord, error) {
	var rec models.IdempotencyRecord
	err := s.db.WithContext(ctx).
		Where("kind = ? AND key = ?", kind, key).
		First(&rec).Error
	if err != nil {
		return nil, convertNotFoundError(err, models.ErrIdempotencyNotFound)
	}
	return &rec, nil
}

func (s *GORMStore) PutIdempotency(ctx context.Context, rec *models.IdempotencyRecord) error {
	defer s.observe("put_idempotency", time.Now())

	if err := s.db.WithContext(ctx).Create(rec).Error; err != nil {
		if isUniqueConstraintError(err) {
			return models.ErrIdempotencyConflict
		}
		return err
	}
	return nil
}

func (s *GORMStore) UpdateIdempotencyResult(ctx context.Context, kind models.IdempotencyKind, key string, statusCode int, result string) error {
	defer s.observe("update_idempotency", time.Now())

	res := s.db.WithContext(ctx).
		Model(&models.IdempotencyRecord{}).
		Where("kind = ? AND key = ?", kind, key).
		Updates(map[string]any{
			"status_code": statusCode,
			"result":      result,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return models.ErrIdempotencyNotFound
	}
	return nil
}

func (s *GORMStore) DeleteIdempotency(ctx context.Context, kind models.IdempotencyKind, key string) error {
	defer s.observe("delete_idempotency", time.Now())

	return s.db.WithContext(ctx).
		Where("kind = ? AND key = ?", kind, key).
		Delete(&models.IdempotencyRecord{}).Error
}

func (s *GORMStore) DeleteExpiredIdempotency(ctx context.Context, now time.Time) (int64, error) {
	defer s.observe("delete_expired_idempotency", time.Now())

	result := s.db.WithContext(ctx).
		Where("expires_at < ?", now).
		Delete(&models.IdempotencyRecord{})
	if result.Error != nil {
		return 0, result.Error
	}
	return result.RowsAffected, nil
}
