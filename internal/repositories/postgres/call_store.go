package postgres

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/claimwise/voicepipe/internal/cache"
	"github.com/claimwise/voicepipe/internal/models"
	"github.com/claimwise/voicepipe/internal/utils"
)

// CallStore is the non-transactional view used by the webhook worker and the
// read-only API surface. Every write invalidates the record's cache entry so
// polling monitor sessions observe it after their next ExpireAll.
type CallStore struct {
	db    *gorm.DB
	cache cache.Cache
}

func NewCallStore(db *gorm.DB, c cache.Cache) *CallStore {
	return &CallStore{db: db, cache: c}
}

func (s *CallStore) SetRecordingURL(ctx context.Context, callID, recordingURL string) error {
	res := s.db.WithContext(ctx).Model(&models.CallRecord{}).
		Where("call_id = ?", callID).
		Update("recording_url", recordingURL)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return utils.ErrNotFound
	}
	return s.cache.Del(ctx, callCacheKey(callID))
}

func (s *CallStore) GetCallByCallID(ctx context.Context, callID string) (*models.CallRecord, error) {
	var rec models.CallRecord
	err := s.db.WithContext(ctx).Where("call_id = ?", callID).Take(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, utils.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}
