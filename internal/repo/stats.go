// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides small aggregate/statistics queries used
// primarily for conditional responses (e.g., ETag generation) in the HTTP
// layer.
package repo

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/campustrade/marketplace-chat/internal/domain"
)

// ConversationStats returns aggregate metadata for a user's conversations:
// the number of threads they participate in and the greatest last_message_at
// among them. Used to build a weak ETag for the conversation list so idle
// clients polling the inbox can be answered with 304.
//
// When the user has no conversations, or none has received a message yet,
// maxLastMessageAt is nil.
func ConversationStats(ctx context.Context, db *gorm.DB, userID string) (count int64, maxLastMessageAt *time.Time, err error) {
	q := db.WithContext(ctx).
		Model(&domain.Conversation{}).
		Joins("JOIN conversation_participants cp ON cp.conversation_id = conversations.id").
		Where("cp.user_id = ?", userID)

	if err = q.Count(&count).Error; err != nil {
		return 0, nil, err
	}
	if count == 0 {
		return 0, nil, nil
	}

	// Latest activity (avoid MAX() -> TEXT in SQLite).
	var row struct {
		LastMessageAt *time.Time
	}
	if err = q.Select("conversations.last_message_at").
		Order("conversations.last_message_at DESC").
		Limit(1).
		Scan(&row).Error; err != nil {
		return 0, nil, err
	}
	return count, row.LastMessageAt, nil
}

// NotificationStats returns the total and unread notification counts for a
// recipient in one pass over the index.
func NotificationStats(ctx context.Context, db *gorm.DB, recipientID string) (total, unread int64, err error) {
	q := db.WithContext(ctx).
		Model(&domain.Notification{}).
		Where("recipient_id = ?", recipientID)
	if err = q.Count(&total).Error; err != nil {
		return 0, 0, err
	}
	err = q.Where("is_read = ?", false).Count(&unread).Error
	return total, unread, err
}
