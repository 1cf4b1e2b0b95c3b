// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the Message
// model and the per-participant read pointer.
//
// Ordering: every message query orders by (created_at, id) so pagination is
// deterministic even when two messages share a timestamp.
package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/campustrade/marketplace-chat/internal/domain"
)

// CreateMessage inserts a message and bumps the conversation's
// last_message_at to the new message's creation time in the same transaction.
// Returns ErrNotFound when the conversation does not exist. The caller is
// responsible for rejecting empty text before reaching this function.
func CreateMessage(ctx context.Context, db *gorm.DB, conversationID string, senderID *string, text string, meta domain.Metadata) (*domain.Message, error) {
	m := &domain.Message{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		SenderID:       senderID,
		Text:           text,
		Metadata:       meta,
		CreatedAt:      time.Now().UTC(),
	}
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var conv domain.Conversation
		if err := tx.Where("id = ?", conversationID).First(&conv).Error; err != nil {
			return err
		}
		if err := tx.Create(m).Error; err != nil {
			return err
		}
		return tx.Model(&domain.Conversation{}).
			Where("id = ?", conversationID).
			Update("last_message_at", m.CreatedAt).Error
	})
	if err != nil {
		return nil, err
	}
	return m, nil
}

// GetMessage fetches a message by ID scoped to its conversation. A message
// that exists but belongs to a different conversation is ErrNotFound.
func GetMessage(ctx context.Context, db *gorm.DB, conversationID, messageID string) (*domain.Message, error) {
	var m domain.Message
	err := db.WithContext(ctx).
		Where("id = ? AND conversation_id = ?", messageID, conversationID).
		First(&m).Error
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// ListMessagesBefore returns up to limit messages strictly older than the
// optional bound, newest first. A nil bound returns the most recent page.
func ListMessagesBefore(ctx context.Context, db *gorm.DB, conversationID string, before *time.Time, limit int) ([]domain.Message, error) {
	q := db.WithContext(ctx).
		Where("conversation_id = ?", conversationID).
		Order("created_at DESC, id DESC").
		Limit(limit)
	if before != nil {
		q = q.Where("created_at < ?", *before)
	}
	var out []domain.Message
	err := q.Find(&out).Error
	return out, err
}

// ListMessagesAfter returns up to limit messages strictly newer than the
// bound, oldest first. Used by the real-time polling fallback.
func ListMessagesAfter(ctx context.Context, db *gorm.DB, conversationID string, after time.Time, limit int) ([]domain.Message, error) {
	var out []domain.Message
	err := db.WithContext(ctx).
		Where("conversation_id = ? AND created_at > ?", conversationID, after).
		Order("created_at ASC, id ASC").
		Limit(limit).
		Find(&out).Error
	return out, err
}

// CountMessages returns the total number of messages in a conversation.
func CountMessages(ctx context.Context, db *gorm.DB, conversationID string) (int64, error) {
	var total int64
	err := db.WithContext(ctx).
		Model(&domain.Message{}).
		Where("conversation_id = ?", conversationID).
		Count(&total).Error
	return total, err
}

// UnreadCount returns the number of messages strictly newer than the
// participant's read pointer, or the full count when no pointer is set.
// Returns ErrNotFound when the user is not a member of the conversation.
func UnreadCount(ctx context.Context, db *gorm.DB, conversationID, userID string) (int64, error) {
	p, err := GetParticipant(ctx, db, conversationID, userID)
	if err != nil {
		return 0, err
	}
	if p.LastReadMessageID == nil {
		return CountMessages(ctx, db, conversationID)
	}
	var n int64
	err = db.WithContext(ctx).
		Model(&domain.Message{}).
		Where("conversation_id = ?", conversationID).
		Where("created_at > (SELECT created_at FROM messages WHERE id = ?)", *p.LastReadMessageID).
		Count(&n).Error
	return n, err
}

// AdvanceReadPointer moves the participant's read pointer to msg, but only
// when msg is strictly newer than the current pointer (or no pointer is set).
// The guard runs as a single conditional UPDATE, so concurrent calls from
// multiple devices of the same user commute: whichever order they land in,
// the pointer ends at the newest message and stale calls report false.
//
// Returns ErrNotFound when userID is not a member of the conversation.
func AdvanceReadPointer(ctx context.Context, db *gorm.DB, conversationID, userID string, msg *domain.Message) (bool, error) {
	if _, err := GetParticipant(ctx, db, conversationID, userID); err != nil {
		return false, err
	}
	now := time.Now().UTC()
	res := db.WithContext(ctx).
		Model(&domain.ConversationParticipant{}).
		Where("conversation_id = ? AND user_id = ?", conversationID, userID).
		Where("last_read_message_id IS NULL OR ? > (SELECT created_at FROM messages WHERE id = conversation_participants.last_read_message_id)", msg.CreatedAt).
		Updates(map[string]any{
			"last_read_message_id": msg.ID,
			"last_read_at":         now,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}
