// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the Feedback model.
//
// The repository follows a "thin" approach: it performs persistence and simple
// query composition, leaving business rules to the services package.
//
// Error semantics:
//   - Duplicate feedback (same message_id,user_id) relies on the database
//     unique constraint and is returned as a raw DB error. The service layer
//     translates it into services.ErrDuplicateFeedback.
//   - On other DB errors (connectivity, constraints, etc.), the raw gorm
//     error is propagated.
package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/go-docchat-rag/internal/domain"
)

// CreateFeedback inserts a feedback row for the given message and user.
// Evicted records whether the cached answer behind the message was removed.
// The (message_id, user_id) pair must be unique.
func CreateFeedback(ctx context.Context, db *gorm.DB, messageID, userID string, value int, evicted bool) (*domain.Feedback, error) {
	fb := &domain.Feedback{
		ID:        uuid.NewString(),
		MessageID: messageID,
		UserID:    userID,
		Value:     value,
		Evicted:   evicted,
		CreatedAt: time.Now().UTC(),
	}
	if err := db.WithContext(ctx).Create(fb).Error; err != nil {
		return nil, err
	}
	return fb, nil
}
