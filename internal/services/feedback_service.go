// Package services – FeedbackService
//
// This file implements the FeedbackService, which governs how users leave
// feedback (-1 or +1) on assistant messages. Negative feedback also evicts
// the cached answer the message was served from, so the next identical
// question reaches the provider again instead of replaying a bad answer.
package services

import (
	"context"
	"errors"
	"strings"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/tbourn/go-docchat-rag/internal/cache"
	"github.com/tbourn/go-docchat-rag/internal/domain"
	"github.com/tbourn/go-docchat-rag/internal/repo"
)

// FeedbackService implements the use-cases around message feedback.
type FeedbackService struct {
	DB *gorm.DB
	// Cache, when set, loses the cached answer behind negatively rated
	// messages.
	Cache *cache.Store
	Log   zerolog.Logger
}

// Leave records a feedback value for messageID on behalf of userID.
//
// Semantics and validation:
//   - value must be exactly -1 or 1; otherwise ErrInvalidFeedback.
//   - messageID must exist; otherwise ErrMessageNotFound.
//   - The message must belong to a conversation owned by userID and be an
//     assistant message; otherwise ErrForbiddenFeedback.
//   - A user may leave at most one feedback per message; otherwise
//     ErrDuplicateFeedback.
//
// Cache eviction failures are logged and recorded as not evicted; they never
// fail the request.
func (s *FeedbackService) Leave(ctx context.Context, userID, messageID string, value int) (*domain.Feedback, error) {
	if value != -1 && value != 1 {
		return nil, ErrInvalidFeedback
	}

	db := s.DB.WithContext(ctx)
	msg, err := repo.GetMessage(db, messageID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, ErrMessageNotFound
		}
		return nil, err
	}
	if _, err := repo.GetConversation(ctx, db, msg.ConversationID, userID); err != nil {
		return nil, ErrForbiddenFeedback
	}
	if msg.Role != domain.RoleAssistant {
		return nil, ErrForbiddenFeedback
	}

	// Evict before recording so the row reflects what actually happened. The
	// cache may live in this same database, so this runs outside any
	// transaction.
	evicted := false
	if value < 0 {
		evicted = s.evict(ctx, msg.CacheKey)
	}

	fb, err := repo.CreateFeedback(ctx, db, messageID, userID, value, evicted)
	if err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) || isDuplicate(err) {
			return nil, ErrDuplicateFeedback
		}
		return nil, err
	}
	return fb, nil
}

func (s *FeedbackService) evict(ctx context.Context, key string) bool {
	if s.Cache == nil || key == "" {
		return false
	}
	if err := s.Cache.RemoveFromCache(ctx, key); err != nil {
		s.Log.Warn().Err(err).Str("cache_key", key).Msg("cached answer not evicted")
		return false
	}
	return true
}

// isDuplicate detects unique-constraint violations across drivers that may
// not map to gorm.ErrDuplicatedKey.
func isDuplicate(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique constraint") ||
		strings.Contains(msg, "duplicate key")
}
