// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the
// Notification model.
//
// Access control note: every read or mutation here is scoped to a recipient.
// A notification that exists but belongs to someone else behaves exactly like
// one that does not exist (ErrNotFound), so callers never learn about other
// users' rows.
package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/campustrade/marketplace-chat/internal/domain"
)

// CreateNotification inserts a notification row, filling ID and CreatedAt.
func CreateNotification(ctx context.Context, db *gorm.DB, n *domain.Notification) error {
	n.ID = uuid.NewString()
	n.CreatedAt = time.Now().UTC()
	return db.WithContext(ctx).Create(n).Error
}

// ListNotifications returns all notifications for a recipient, newest first.
func ListNotifications(ctx context.Context, db *gorm.DB, recipientID string) ([]domain.Notification, error) {
	var out []domain.Notification
	err := db.WithContext(ctx).
		Where("recipient_id = ?", recipientID).
		Order("created_at DESC").
		Find(&out).Error
	return out, err
}

// CountUnreadNotifications returns the recipient's unread notification count.
func CountUnreadNotifications(ctx context.Context, db *gorm.DB, recipientID string) (int64, error) {
	var n int64
	err := db.WithContext(ctx).
		Model(&domain.Notification{}).
		Where("recipient_id = ? AND is_read = ?", recipientID, false).
		Count(&n).Error
	return n, err
}

// MarkNotificationRead marks a single notification as read. The lookup is
// recipient-scoped: marking another user's notification yields ErrNotFound.
// Re-marking an already-read notification is an idempotent no-op.
func MarkNotificationRead(ctx context.Context, db *gorm.DB, id, recipientID string) error {
	var n domain.Notification
	err := db.WithContext(ctx).
		Where("id = ? AND recipient_id = ?", id, recipientID).
		First(&n).Error
	if err != nil {
		return err
	}
	if n.IsRead {
		return nil
	}
	return db.WithContext(ctx).
		Model(&domain.Notification{}).
		Where("id = ?", n.ID).
		Update("is_read", true).Error
}

// MarkAllNotificationsRead marks every unread notification of the recipient
// as read. Idempotent.
func MarkAllNotificationsRead(ctx context.Context, db *gorm.DB, recipientID string) error {
	return db.WithContext(ctx).
		Model(&domain.Notification{}).
		Where("recipient_id = ? AND is_read = ?", recipientID, false).
		Update("is_read", true).Error
}

// MarkMessageNotificationsReadUpTo marks as read the recipient's MESSAGE-type
// notifications whose underlying message belongs to the given conversation
// and was created at or before bound. Other types, other recipients, and
// later messages are untouched. Returns the number of rows flipped.
func MarkMessageNotificationsReadUpTo(ctx context.Context, db *gorm.DB, recipientID, conversationID string, bound time.Time) (int64, error) {
	res := db.WithContext(ctx).
		Model(&domain.Notification{}).
		Where("notification_type = ? AND recipient_id = ? AND is_read = ?", domain.NotificationMessage, recipientID, false).
		Where("message_id IN (SELECT id FROM messages WHERE conversation_id = ? AND created_at <= ?)", conversationID, bound).
		Update("is_read", true)
	return res.RowsAffected, res.Error
}
