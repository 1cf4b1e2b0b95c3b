// Notification HTTP handlers.
//
// This file exposes the read/mark-read surface over stored notifications:
//   - GET  /notifications                  (list, newest first)
//   - GET  /notifications/unread-count     (badge count)
//   - POST /notifications/{id}/read        (mark one read)
//   - POST /notifications/mark-all-read    (mark everything read)
//
// Every endpoint is scoped to the caller as recipient. Marking another user's
// notification yields a 404, never a 403, so existence is not leaked.
package handlers

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/campustrade/marketplace-chat/internal/http/middleware"
	"github.com/campustrade/marketplace-chat/internal/services"
)

// ListNotificationsResponse wraps the caller's notifications.
type ListNotificationsResponse struct {
	Notifications []services.NotificationView `json:"notifications"`
}

// UnreadCountResponse carries the unread badge count.
type UnreadCountResponse struct {
	Count int64 `json:"count"`
}

// ListNotifications returns the caller's notifications, newest first, with
// presentation fields derived from each notification's type and subject.
// Supports weak ETag via If-None-Match and may return 304.
func (h *Handlers) ListNotifications(c *gin.Context) {
	ctx := c.Request.Context()
	uid := middleware.UserID(c)

	// ETag pre-check (best effort).
	if total, unread, err := h.notif.Stats(ctx, uid); err == nil {
		etag := fmt.Sprintf(`W/"notifications:%s:%d:%d"`, uid, total, unread)
		c.Header("ETag", etag)
		if inm := c.GetHeader("If-None-Match"); inm != "" && inm == etag {
			c.Status(http.StatusNotModified)
			return
		}
	}

	items, err := h.notif.List(ctx, uid)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeListFailed, err.Error())
		return
	}
	ok(c, http.StatusOK, ListNotificationsResponse{Notifications: items})
}

// UnreadNotificationCount returns the number of unread notifications.
func (h *Handlers) UnreadNotificationCount(c *gin.Context) {
	count, err := h.notif.UnreadCount(c.Request.Context(), middleware.UserID(c))
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		return
	}
	ok(c, http.StatusOK, UnreadCountResponse{Count: count})
}

// MarkNotificationRead marks a single notification read. Unknown IDs and
// notifications addressed to someone else both answer 404.
func (h *Handlers) MarkNotificationRead(c *gin.Context) {
	err := h.notif.MarkRead(c.Request.Context(), c.Param("id"), middleware.UserID(c))
	if err != nil {
		if errors.Is(err, services.ErrNotificationNotFound) {
			fail(c, http.StatusNotFound, ErrCodeNotFound, "notification not found")
			return
		}
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		return
	}
	noContent(c)
}

// MarkAllNotificationsRead marks every unread notification read. Idempotent.
func (h *Handlers) MarkAllNotificationsRead(c *gin.Context) {
	if err := h.notif.MarkAllRead(c.Request.Context(), middleware.UserID(c)); err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		return
	}
	noContent(c)
}
