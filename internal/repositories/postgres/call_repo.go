package postgres

import (
	"context"
	"errors"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/claimwise/voicepipe/internal/cache"
	"github.com/claimwise/voicepipe/internal/models"
	"github.com/claimwise/voicepipe/internal/utils"
)

// CallRepository is a session-scoped view of call persistence. Each owner —
// the request handler, each background monitor — holds its own session;
// sessions are never shared across the request/background boundary.
type CallRepository interface {
	CreateCall(ctx context.Context, rec *models.CallRecord) error
	UpdateCallStatus(ctx context.Context, callID string, status models.CallStatus, providerData datatypes.JSON) error
	EndCall(ctx context.Context, callID string, final models.CallStatus, endedAt time.Time, providerData, analysisData datatypes.JSON, transcript string) error
	GetCallByCallID(ctx context.Context, callID string) (*models.CallRecord, error)

	// Commit ends the open transaction, if any. Rollback discards it.
	// ExpireAll drops this session's cached reads so writes committed by
	// other sessions become visible on the next read.
	Commit() error
	Rollback() error
	ExpireAll(ctx context.Context) error
}

type SessionFactory interface {
	NewSession() CallRepository
}

type sessionFactory struct {
	db    *gorm.DB
	cache cache.Cache
}

func NewSessionFactory(db *gorm.DB, c cache.Cache) SessionFactory {
	return &sessionFactory{db: db, cache: c}
}

func (f *sessionFactory) NewSession() CallRepository {
	return &callSession{db: f.db, cache: f.cache, touched: map[string]struct{}{}}
}

const cacheTTL = 5 * time.Minute

func callCacheKey(callID string) string { return "call:" + callID }

// callSession lazily begins a transaction on first use and releases it on
// Commit/Rollback, so an idle monitor between polls holds no connection.
type callSession struct {
	db      *gorm.DB
	tx      *gorm.DB
	cache   cache.Cache
	touched map[string]struct{}
}

func (s *callSession) conn() *gorm.DB {
	if s.tx == nil {
		s.tx = s.db.Begin()
	}
	return s.tx
}

func (s *callSession) Commit() error {
	if s.tx == nil {
		return nil
	}
	err := s.tx.Commit().Error
	s.tx = nil
	return err
}

func (s *callSession) Rollback() error {
	if s.tx == nil {
		return nil
	}
	err := s.tx.Rollback().Error
	s.tx = nil
	return err
}

func (s *callSession) ExpireAll(ctx context.Context) error {
	if len(s.touched) == 0 {
		return nil
	}
	keys := make([]string, 0, len(s.touched))
	for k := range s.touched {
		keys = append(keys, k)
	}
	s.touched = map[string]struct{}{}
	return s.cache.Del(ctx, keys...)
}

func (s *callSession) CreateCall(ctx context.Context, rec *models.CallRecord) error {
	if rec.StartedAt.IsZero() {
		rec.StartedAt = time.Now().UTC()
	}
	if err := s.conn().WithContext(ctx).Create(rec).Error; err != nil {
		return err
	}
	key := callCacheKey(rec.CallID)
	s.touched[key] = struct{}{}
	_ = s.cache.Del(ctx, key)
	return nil
}

func (s *callSession) UpdateCallStatus(ctx context.Context, callID string, status models.CallStatus, providerData datatypes.JSON) error {
	updates := map[string]any{"status": status}
	if len(providerData) > 0 {
		updates["provider_data"] = providerData
	}
	if err := s.conn().WithContext(ctx).Model(&models.CallRecord{}).
		Where("call_id = ?", callID).
		Updates(updates).Error; err != nil {
		return err
	}
	key := callCacheKey(callID)
	s.touched[key] = struct{}{}
	_ = s.cache.Del(ctx, key)
	return nil
}

func (s *callSession) EndCall(ctx context.Context, callID string, final models.CallStatus, endedAt time.Time, providerData, analysisData datatypes.JSON, transcript string) error {
	updates := map[string]any{
		"status":   final,
		"ended_at": endedAt.UTC(),
	}
	if len(providerData) > 0 {
		updates["provider_data"] = providerData
	}
	if len(analysisData) > 0 {
		updates["analysis_data"] = analysisData
	}
	if transcript != "" {
		updates["transcript"] = transcript
	}
	if err := s.conn().WithContext(ctx).Model(&models.CallRecord{}).
		Where("call_id = ?", callID).
		Updates(updates).Error; err != nil {
		return err
	}
	key := callCacheKey(callID)
	s.touched[key] = struct{}{}
	_ = s.cache.Del(ctx, key)
	return nil
}

func (s *callSession) GetCallByCallID(ctx context.Context, callID string) (*models.CallRecord, error) {
	key := callCacheKey(callID)
	s.touched[key] = struct{}{}

	var rec models.CallRecord
	if hit, err := s.cache.GetJSON(ctx, key, &rec); err == nil && hit {
		return &rec, nil
	}

	err := s.conn().WithContext(ctx).Where("call_id = ?", callID).Take(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, utils.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	_ = s.cache.SetJSON(ctx, key, &rec, cacheTTL)
	return &rec, nil
}
