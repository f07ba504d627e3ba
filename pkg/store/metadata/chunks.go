package metadata

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/marmos91/shuttle/pkg/models"
)

func (s *GORMStore) ClaimChunk(ctx context.Context, uploadID string, index int) (bool, *models.Chunk, error) {
	defer s.observe("claim_chunk", time.Now())

	fresh := &models.Chunk{
		ID:         uuid.New().String(),
		UploadID:   uploadID,
		ChunkIndex: index,
		State:      models.ChunkUploading,
		Attempts:   1,
	}
	err := s.db.WithContext(ctx).Create(fresh).Error
	if err == nil {
		return true, fresh, nil
	}
	if !isUniqueConstraintError(err) {
		return false, nil, err
	}

	// The row already exists. Take over PENDING and FAILED rows; leave
	// UPLOADING and UPLOADED rows with their current owner so the caller
	// can short-circuit the duplicate.
	result := s.db.WithContext(ctx).
		Model(&models.Chunk{}).
		Where("upload_id = ? AND chunk_index = ? AND state IN ?",
			uploadID, index,
			[]models.ChunkState{models.ChunkPending, models.ChunkFailed}).
		Updates(map[string]any{
			"state":    models.ChunkUploading,
			"attempts": gorm.Expr("attempts + 1"),
		})
	if result.Error != nil {
		return false, nil, result.Error
	}

	var row models.Chunk
	if err := s.db.WithContext(ctx).
		Where("upload_id = ? AND chunk_index = ?", uploadID, index).
		First(&row).Error; err != nil {
		return false, nil, convertNotFoundError(err, models.ErrChunkNotFound)
	}

	return result.RowsAffected > 0, &row, nil
}

func (s *GORMStore) MarkChunkUploaded(ctx context.Context, uploadID string, index int, sizeBytes int64, checksum, etag string) error {
	defer s.observe("mark_chunk_uploaded", time.Now())

	result := s.db.WithContext(ctx).
		Model(&models.Chunk{}).
		Where("upload_id = ? AND chunk_index = ?", uploadID, index).
		Updates(map[string]any{
			"state":           models.ChunkUploaded,
			"size_bytes":      sizeBytes,
			"checksum_sha256": checksum,
			"etag":            etag,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return models.ErrChunkNotFound
	}
	return nil
}

func (s *GORMStore) MarkChunkFailed(ctx context.Context, uploadID string, index int) error {
	defer s.observe("mark_chunk_failed", time.Now())

	// CAS from UPLOADING only: when a duplicate writer finished the chunk
	// in the meantime the UPLOADED row must stay untouched.
	return s.db.WithContext(ctx).
		Model(&models.Chunk{}).
		Where("upload_id = ? AND chunk_index = ? AND state = ?",
			uploadID, index, models.ChunkUploading).
		Update("state", models.ChunkFailed).Error
}

func (s *GORMStore) ListChunks(ctx context.Context, uploadID string) ([]models.Chunk, error) {
	var chunks []models.Chunk
	err := s.db.WithContext(ctx).
		Where("upload_id = ?", uploadID).
		Order("chunk_index ASC").
		Find(&chunks).Error
	if err != nil {
		return nil, err
	}
	return chunks, nil
}

func (s *GORMStore) ListChunkKeys(ctx context.Context) ([]string, error) {
	var chunks []models.Chunk
	err := s.db.WithContext(ctx).
		Select("upload_id", "chunk_index").
		Find(&chunks).Error
	if err != nil {
		return nil, err
	}

	keys := make([]string, 0, len(chunks))
	for i := range chunks {
		keys = append(keys, chunks[i].ObjectKey())
	}
	return keys, nil
}

func (s *GORMStore) UploadedChunkCount(ctx context.Context, uploadID string) (int, error) {
	var count int64
	err := s.db.WithContext(ctx).
		Model(&models.Chunk{}).
		Where("upload_id = ? AND state = ?", uploadID, models.ChunkUploaded).
		Count(&count).Error
	if err != nil {
		return 0, err
	}
	return int(count), nil
}

func (s *GORMStore) MissingChunkIndexes(ctx context.Context, uploadID string, totalChunks int) ([]int, error) {
	var uploaded []int
	err := s.db.WithContext(ctx).
		Model(&models.Chunk{}).
		Where("upload_id = ? AND state = ?", uploadID, models.ChunkUploaded).
		Pluck("chunk_index", &uploaded).Error
	if err != nil {
		return nil, err
	}

	present := make(map[int]struct{}, len(uploaded))
	for _, idx := range uploaded {
		present[idx] = struct{}{}
	}

	missing := make([]int, 0)
	for i := 0; i < totalChunks; i++ {
		if _, ok := present[i]; !ok {
			missing = append(missing, i)
		}
	}
	return missing, nil
}
