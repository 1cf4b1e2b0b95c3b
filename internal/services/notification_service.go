// Package services – NotificationService
//
// Read surface over the notification store. Everything here is scoped to the
// caller as recipient; cross-user access resolves to ErrNotificationNotFound
// rather than a forbidden so existence never leaks.
package services

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/campustrade/marketplace-chat/internal/repo"
)

// NotificationView is a notification row joined with its derived
// presentation fields.
type NotificationView struct {
	ID        string    `json:"id"`
	Type      string    `json:"notification_type"`
	ActorID   string    `json:"actor"`
	Title     string    `json:"title"`
	Body      string    `json:"body"`
	Redirect  string    `json:"redirect,omitempty"`
	IsRead    bool      `json:"is_read"`
	CreatedAt time.Time `json:"created_at"`
}

// NotificationService provides recipient-scoped notification operations.
type NotificationService struct {
	DB *gorm.DB
}

// NewNotificationService constructs a NotificationService.
func NewNotificationService(db *gorm.DB) *NotificationService {
	return &NotificationService{DB: db}
}

// List returns the recipient's notifications, newest first, with
// presentation fields derived per type.
func (s *NotificationService) List(ctx context.Context, recipientID string) ([]NotificationView, error) {
	tr := otel.Tracer("services/NotificationService")
	ctx, span := tr.Start(ctx, "List",
		trace.WithAttributes(attribute.String("user.id", recipientID)),
	)
	defer span.End()

	rows, err := repo.ListNotifications(ctx, s.DB, recipientID)
	if err != nil {
		return nil, err
	}
	out := make([]NotificationView, 0, len(rows))
	for _, n := range rows {
		title, body, redirect := n.Describe()
		out = append(out, NotificationView{
			ID:        n.ID,
			Type:      n.NotificationType,
			ActorID:   n.ActorID,
			Title:     title,
			Body:      body,
			Redirect:  redirect,
			IsRead:    n.IsRead,
			CreatedAt: n.CreatedAt,
		})
	}
	return out, nil
}

// UnreadCount returns the recipient's unread notification count.
func (s *NotificationService) UnreadCount(ctx context.Context, recipientID string) (int64, error) {
	return repo.CountUnreadNotifications(ctx, s.DB, recipientID)
}

// MarkRead marks one notification read. A notification owned by another
// recipient, or an unknown ID, is ErrNotificationNotFound.
func (s *NotificationService) MarkRead(ctx context.Context, id, recipientID string) error {
	tr := otel.Tracer("services/NotificationService")
	ctx, span := tr.Start(ctx, "MarkRead",
		trace.WithAttributes(
			attribute.String("notification.id", id),
			attribute.String("user.id", recipientID),
		),
	)
	defer span.End()

	err := repo.MarkNotificationRead(ctx, s.DB, id, recipientID)
	if errors.Is(err, repo.ErrNotFound) {
		return ErrNotificationNotFound
	}
	return err
}

// MarkAllRead marks every unread notification of the recipient as read.
func (s *NotificationService) MarkAllRead(ctx context.Context, recipientID string) error {
	return repo.MarkAllNotificationsRead(ctx, s.DB, recipientID)
}

// Stats returns (total, unread) counts for cache validation headers.
func (s *NotificationService) Stats(ctx context.Context, recipientID string) (total, unread int64, err error) {
	return repo.NotificationStats(ctx, s.DB, recipientID)
}
