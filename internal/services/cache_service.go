package services

import (
	"context"

	"github.com/tbourn/go-docchat-rag/internal/cache"
)

// CacheService is the administrative surface of the answer cache.
type CacheService struct {
	Store *cache.Store
}

// Clear drops every cached answer.
func (s *CacheService) Clear(ctx context.Context) (int64, error) { return s.Store.ClearCache(ctx) }

// Remove drops one cached answer. Unknown keys are not an error.
func (s *CacheService) Remove(ctx context.Context, key string) error {
	return s.Store.RemoveFromCache(ctx, key)
}

// Purge drops expired answers.
func (s *CacheService) Purge(ctx context.Context) (int64, error) { return s.Store.PurgeExpired(ctx) }

// Stats reports the number of stored entries.
func (s *CacheService) Stats(ctx context.Context) (cache.Stats, error) { return s.Store.Stats(ctx) }
