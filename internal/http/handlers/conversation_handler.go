// Conversation HTTP handlers.
//
// This file exposes REST endpoints for direct conversations:
//   - POST /conversations/direct          (create-or-fetch the 1:1 conversation)
//   - GET  /conversations                 (list with preview and unread count, ETag support)
//   - GET  /conversations/{id}/messages   (cursor-paged history)
//   - POST /conversations/{id}/send       (create a message and broadcast it)
//   - POST /conversations/{id}/read       (advance the caller's read pointer)
//
// Handlers are transport-thin: they validate input, call application services,
// and translate results into HTTP responses (including conditional responses).
//
// Idempotency:
// If the client supplies an Idempotency-Key header on send and a previous
// successful result exists for (user, conversation, key), the handler returns
// that recorded message and sets `Idempotency-Replayed: true`.
package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/campustrade/marketplace-chat/internal/domain"
	"github.com/campustrade/marketplace-chat/internal/http/middleware"
	"github.com/campustrade/marketplace-chat/internal/repo"
	"github.com/campustrade/marketplace-chat/internal/services"
	"github.com/campustrade/marketplace-chat/internal/utils"
)

// Handlers groups HTTP endpoints for conversations, messages, and
// notifications. It is bound to concrete services; transport concerns stay
// here and business rules stay in the service layer.
type Handlers struct {
	chat  *services.ChatService
	notif *services.NotificationService
}

// New constructs a Handlers instance bound to the given services.
func New(chat *services.ChatService, notif *services.NotificationService) *Handlers {
	return &Handlers{chat: chat, notif: notif}
}

//
// DTOs
//

// StartDirectRequest is the JSON payload for opening a direct conversation.
type StartDirectRequest struct {
	// PeerID identifies the other party.
	PeerID string `json:"peer_id" binding:"required,min=1"`
}

// SendMessageRequest is the JSON payload for sending a chat message.
type SendMessageRequest struct {
	// Text is the message body. It must be non-empty after trimming.
	Text string `json:"text" binding:"required,min=1"`
}

// SendMessageResponse is the JSON envelope for a newly created message.
type SendMessageResponse struct {
	Message *domain.Message `json:"message"`
}

// MarkReadRequest is the JSON payload for advancing a read pointer.
type MarkReadRequest struct {
	// MessageID must resolve to a message within the conversation.
	MessageID string `json:"message_id" binding:"required,min=1"`
}

// MarkReadResponse reports the reconciliation outcome. Moved is false when
// the pointer already sat at or past the target message.
type MarkReadResponse struct {
	Moved           bool            `json:"moved"`
	LastReadMessage *domain.Message `json:"last_read_message"`
}

// ListConversationsResponse wraps the caller's annotated conversations.
type ListConversationsResponse struct {
	Conversations []services.ConversationSummary `json:"conversations"`
}

//
// Handlers
//

// StartDirect creates or fetches the single direct conversation between the
// caller and the peer. 201 when a new conversation was created, 200 when the
// existing one was returned.
func (h *Handlers) StartDirect(c *gin.Context) {
	var req StartDirectRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.PeerID) == "" {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "peer_id required")
		return
	}
	peer := strings.TrimSpace(req.PeerID)
	uid := middleware.UserID(c)
	if peer == uid {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "cannot open a conversation with yourself")
		return
	}

	conv, created, err := h.chat.StartDirect(c.Request.Context(), uid, peer)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	ok(c, status, conv)
}

// ListConversations returns the caller's conversations, each annotated with
// the last message preview and unread count. Supports weak ETag via
// If-None-Match and may return 304.
func (h *Handlers) ListConversations(c *gin.Context) {
	ctx := c.Request.Context()
	uid := middleware.UserID(c)

	// ETag pre-check (best effort).
	if count, maxTS, err := repo.ConversationStats(ctx, h.chat.DB, uid); err == nil {
		var ts int64
		if maxTS != nil {
			ts = maxTS.Unix()
		}
		etag := fmt.Sprintf(`W/"conversations:%s:%d:%d"`, uid, count, ts)
		c.Header("ETag", etag)
		if inm := c.GetHeader("If-None-Match"); inm != "" && inm == etag {
			c.Status(http.StatusNotModified)
			return
		}
	}

	items, err := h.chat.List(ctx, uid)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeListFailed, err.Error())
		return
	}
	ok(c, http.StatusOK, ListConversationsResponse{Conversations: items})
}

// GetMessages returns a page of message history, newest first. `before` and
// `after` accept a message ID or an RFC 3339 timestamp; `limit` is clamped
// by the service.
func (h *Handlers) GetMessages(c *gin.Context) {
	conversationID := c.Param("id")
	uid := middleware.UserID(c)
	before := c.Query("before")
	after := c.Query("after")
	limit := utils.AtoiDefault(c.Query("limit"), 0)

	page, err := h.chat.History(c.Request.Context(), uid, conversationID, before, after, limit)
	if err != nil {
		switch {
		case errors.Is(err, services.ErrConversationNotFound):
			fail(c, http.StatusNotFound, ErrCodeNotFound, "conversation not found")
		case errors.Is(err, services.ErrNotParticipant):
			fail(c, http.StatusForbidden, ErrCodeForbidden, "not a participant in this conversation")
		case errors.Is(err, services.ErrInvalidCursor):
			fail(c, http.StatusBadRequest, ErrCodeInvalidCursor, "cursor must be a message id or RFC 3339 timestamp")
		default:
			fail(c, http.StatusInternalServerError, ErrCodeListFailed, err.Error())
		}
		return
	}
	ok(c, http.StatusOK, page)
}

// SendMessage creates a message in the conversation and broadcasts it to
// live subscribers. Returns 201 with the serialized message.
func (h *Handlers) SendMessage(c *gin.Context) {
	ctx := c.Request.Context()
	conversationID := c.Param("id")
	uid := middleware.UserID(c)

	var req SendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "text required")
		return
	}

	// Idempotency (replay path) – read validated key if present.
	idemKey, _ := middleware.GetIdempotencyKey(c)
	if idemKey != "" {
		if rec, err := repo.GetIdempotency(ctx, h.chat.DB, uid, conversationID, idemKey, time.Now().UTC()); err == nil && rec != nil {
			if prev, err2 := repo.GetMessage(ctx, h.chat.DB, conversationID, rec.MessageID); err2 == nil {
				c.Header("Idempotency-Replayed", "true")
				ok(c, http.StatusCreated, SendMessageResponse{Message: prev})
				return
			}
		}
	}

	m, err := h.chat.Send(ctx, uid, conversationID, req.Text)
	if err != nil {
		switch {
		case errors.Is(err, services.ErrEmptyText):
			fail(c, http.StatusBadRequest, ErrCodeBadRequest, "text required")
		case errors.Is(err, services.ErrTextTooLong):
			fail(c, http.StatusBadRequest, ErrCodeBadRequest, "text too long")
		case errors.Is(err, services.ErrConversationNotFound):
			fail(c, http.StatusNotFound, ErrCodeNotFound, "conversation not found")
		case errors.Is(err, services.ErrNotParticipant):
			fail(c, http.StatusForbidden, ErrCodeForbidden, "not a participant in this conversation")
		default:
			fail(c, http.StatusInternalServerError, ErrCodeSendFailed, err.Error())
		}
		return
	}

	// Idempotency (store path) – best effort.
	if idemKey != "" {
		ttl := 24 * time.Hour
		_, _ = repo.CreateIdempotency(ctx, h.chat.DB, uid, conversationID, idemKey, m.ID, http.StatusCreated, ttl)
	}

	ok(c, http.StatusCreated, SendMessageResponse{Message: m})
}

// MarkRead advances the caller's read pointer to the given message and marks
// the matching message notifications read. 400 when the message identifier
// does not resolve within the conversation.
func (h *Handlers) MarkRead(c *gin.Context) {
	conversationID := c.Param("id")
	uid := middleware.UserID(c)

	var req MarkReadRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.MessageID) == "" {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "message_id required")
		return
	}

	msg, moved, err := h.chat.MarkRead(c.Request.Context(), uid, conversationID, req.MessageID)
	if err != nil {
		switch {
		case errors.Is(err, services.ErrMessageNotFound):
			fail(c, http.StatusBadRequest, ErrCodeBadRequest, "message not found in this conversation")
		case errors.Is(err, services.ErrConversationNotFound):
			fail(c, http.StatusNotFound, ErrCodeNotFound, "conversation not found")
		case errors.Is(err, services.ErrNotParticipant):
			fail(c, http.StatusForbidden, ErrCodeForbidden, "not a participant in this conversation")
		default:
			fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		}
		return
	}
	ok(c, http.StatusOK, MarkReadResponse{Moved: moved, LastReadMessage: msg})
}
