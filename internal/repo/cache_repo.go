package repo

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tbourn/go-docchat-rag/internal/cache"
	"github.com/tbourn/go-docchat-rag/internal/domain"
)

// CacheRepository persists cached responses in the response_cache table.
// It implements cache.Repository.
type CacheRepository struct {
	DB *gorm.DB
}

var _ cache.Repository = CacheRepository{}

// Upsert inserts e or overwrites the row under the same key, resetting its
// access count.
func (r CacheRepository) Upsert(ctx context.Context, e domain.CacheEntry) error {
	e.AccessCount = 0
	return r.DB.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "key"}},
			DoUpdates: clause.AssignmentColumns([]string{"value", "created_at", "expires_at", "access_count"}),
		}).
		Create(&e).Error
}

// Get loads the entry under key, or cache.ErrNotFound.
func (r CacheRepository) Get(ctx context.Context, key string) (*domain.CacheEntry, error) {
	var e domain.CacheEntry
	err := r.DB.WithContext(ctx).Where("key = ?", key).First(&e).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, cache.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// Touch increments access_count in a single UPDATE and reads it back.
func (r CacheRepository) Touch(ctx context.Context, key string) (int64, error) {
	var count int64
	err := r.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&domain.CacheEntry{}).
			Where("key = ?", key).
			UpdateColumn("access_count", gorm.Expr("access_count + 1"))
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return cache.ErrNotFound
		}
		return tx.Model(&domain.CacheEntry{}).
			Where("key = ?", key).
			Select("access_count").
			Scan(&count).Error
	})
	return count, err
}

// Delete removes key. Deleting a missing key is not an error.
func (r CacheRepository) Delete(ctx context.Context, key string) error {
	return r.DB.WithContext(ctx).Where("key = ?", key).Delete(&domain.CacheEntry{}).Error
}

// Clear removes every entry and reports how many were removed.
func (r CacheRepository) Clear(ctx context.Context) (int64, error) {
	res := r.DB.WithContext(ctx).Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(&domain.CacheEntry{})
	return res.RowsAffected, res.Error
}

// DeleteExpired removes entries whose expiry is at or before now.
func (r CacheRepository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	res := r.DB.WithContext(ctx).Where("expires_at <= ?", now).Delete(&domain.CacheEntry{})
	return res.RowsAffected, res.Error
}

// Count returns the number of stored entries, expired ones included.
func (r CacheRepository) Count(ctx context.Context) (int64, error) {
	var n int64
	err := r.DB.WithContext(ctx).Model(&domain.CacheEntry{}).Count(&n).Error
	return n, err
}
