package repo

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/go-docchat-rag/internal/domain"
)

// ConversationsStats returns the number of a user's conversations and the
// greatest UpdatedAt among them (nil when there are none).
func ConversationsStats(ctx context.Context, db *gorm.DB, userID string) (count int64, maxUpdatedAt *time.Time, err error) {
	return latest(db.WithContext(ctx).Model(&domain.Conversation{}).Where("user_id = ?", userID))
}

// MessagesStats returns the number of messages in a conversation and the
// greatest UpdatedAt among them (nil when there are none).
func MessagesStats(ctx context.Context, db *gorm.DB, conversationID string) (count int64, maxUpdatedAt *time.Time, err error) {
	return latest(db.WithContext(ctx).Model(&domain.Message{}).Where("conversation_id = ?", conversationID))
}

// DocumentsStats returns the number of a user's documents and the greatest
// UpdatedAt among them (nil when there are none).
func DocumentsStats(ctx context.Context, db *gorm.DB, userID string) (count int64, maxUpdatedAt *time.Time, err error) {
	return latest(db.WithContext(ctx).Model(&domain.Document{}).Where("user_id = ?", userID))
}

func latest(q *gorm.DB) (int64, *time.Time, error) {
	var count int64
	if err := q.Session(&gorm.Session{}).Count(&count).Error; err != nil {
		return 0, nil, err
	}
	if count == 0 {
		return 0, nil, nil
	}

	// Get latest updated_at (avoid MAX() -> TEXT in SQLite)
	var row struct {
		UpdatedAt time.Time
	}
	if err := q.Session(&gorm.Session{}).Select("updated_at").Order("updated_at DESC").Limit(1).Scan(&row).Error; err != nil {
		return 0, nil, err
	}
	return count, &row.UpdatedAt, nil
}
