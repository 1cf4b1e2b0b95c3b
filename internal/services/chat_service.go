// Package services – ChatService
//
// This file implements ChatService, the application-level component that owns
// conversation and message lifecycle: direct-conversation get-or-create,
// conversation listing with previews and unread counts, cursor-paged history,
// message send with notification derivation and fan-out, the read-state
// reconciler, and the system-message injector used by transaction-flow code.
//
// Observability: public methods are OpenTelemetry-instrumented; spans include
// conversation/user identifiers where applicable.
package services

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/campustrade/marketplace-chat/internal/bus"
	"github.com/campustrade/marketplace-chat/internal/domain"
	"github.com/campustrade/marketplace-chat/internal/repo"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 200
)

// ConversationSummary is one conversation-list entry: the conversation row
// annotated with the caller's unread count and the newest message, if any.
type ConversationSummary struct {
	domain.Conversation
	LastMessage *domain.Message `json:"last_message"`
	UnreadCount int64           `json:"unread_count"`
}

// HistoryPage is one page of message history, newest first for backward
// scroll. NextBefore is the creation time of the oldest item returned,
// formatted for reuse as the next "before" cursor; empty when the page is.
type HistoryPage struct {
	Results    []domain.Message `json:"results"`
	NextBefore string           `json:"next_before,omitempty"`
}

// ChatService coordinates conversation and message operations. Writes flow
// through the repo layer; qualifying creations are handed to the Deriver and
// committed messages are published on the Bus for live fan-out.
type ChatService struct {
	DB      *gorm.DB
	Bus     bus.Bus
	Deriver *Deriver

	// MaxTextRunes caps message bodies by rune length; 0 disables the cap.
	MaxTextRunes int
}

// NewChatService constructs a ChatService with sane defaults.
func NewChatService(db *gorm.DB, b bus.Bus) *ChatService {
	return &ChatService{
		DB:           db,
		Bus:          b,
		Deriver:      NewDeriver(db),
		MaxTextRunes: 4000,
	}
}

// StartDirect returns the 1:1 conversation between userID and peerID,
// creating it (and both participant rows) when absent. The second result is
// true when this call created the conversation.
func (s *ChatService) StartDirect(ctx context.Context, userID, peerID string) (*domain.Conversation, bool, error) {
	tr := otel.Tracer("services/ChatService")
	ctx, span := tr.Start(ctx, "StartDirect",
		trace.WithAttributes(
			attribute.String("user.id", userID),
			attribute.String("peer.id", peerID),
		),
	)
	defer span.End()

	return repo.GetOrCreateDirect(ctx, s.DB, userID, peerID)
}

// List returns the caller's conversations, most recently active first, each
// annotated with its last message and the caller's unread count.
func (s *ChatService) List(ctx context.Context, userID string) ([]ConversationSummary, error) {
	tr := otel.Tracer("services/ChatService")
	ctx, span := tr.Start(ctx, "List",
		trace.WithAttributes(attribute.String("user.id", userID)),
	)
	defer span.End()

	convs, err := repo.ListConversationsForUser(ctx, s.DB, userID)
	if err != nil {
		return nil, err
	}
	out := make([]ConversationSummary, 0, len(convs))
	for _, c := range convs {
		last, err := repo.LastMessage(ctx, s.DB, c.ID)
		if err != nil {
			return nil, err
		}
		unread, err := repo.UnreadCount(ctx, s.DB, c.ID, userID)
		if err != nil {
			return nil, err
		}
		out = append(out, ConversationSummary{Conversation: c, LastMessage: last, UnreadCount: unread})
	}
	return out, nil
}

// History returns a page of the conversation's messages for the caller.
// Exactly one of before/after may be set; both empty returns the newest page.
// The "after" form returns oldest-first and ignores a nonexistent message-ID
// cursor by yielding an empty page, matching the polling fallback contract.
// Non-empty pages carry NextBefore, the creation time of the last item
// returned, as the continuation cursor.
func (s *ChatService) History(ctx context.Context, userID, conversationID, before, after string, limit int) (*HistoryPage, error) {
	tr := otel.Tracer("services/ChatService")
	ctx, span := tr.Start(ctx, "History",
		trace.WithAttributes(
			attribute.String("conversation.id", conversationID),
			attribute.String("user.id", userID),
			attribute.Int("limit", limit),
		),
	)
	defer span.End()

	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}
	if err := s.requireParticipant(ctx, conversationID, userID); err != nil {
		return nil, err
	}

	if after != "" {
		bound, missing, err := s.resolveCursor(ctx, conversationID, after)
		if err != nil {
			return nil, err
		}
		if missing {
			return &HistoryPage{Results: []domain.Message{}}, nil
		}
		msgs, err := repo.ListMessagesAfter(ctx, s.DB, conversationID, *bound, limit)
		if err != nil {
			return nil, err
		}
		page := &HistoryPage{Results: msgs}
		if len(msgs) > 0 {
			page.NextBefore = msgs[len(msgs)-1].CreatedAt.Format(time.RFC3339Nano)
		}
		return page, nil
	}

	var bound *time.Time
	if before != "" {
		b, missing, err := s.resolveCursor(ctx, conversationID, before)
		if err != nil {
			return nil, err
		}
		if missing {
			return nil, ErrInvalidCursor
		}
		bound = b
	}
	msgs, err := repo.ListMessagesBefore(ctx, s.DB, conversationID, bound, limit)
	if err != nil {
		return nil, err
	}
	page := &HistoryPage{Results: msgs}
	if len(msgs) > 0 {
		page.NextBefore = msgs[len(msgs)-1].CreatedAt.Format(time.RFC3339Nano)
	}
	return page, nil
}

// resolveCursor turns a raw cursor into a timestamp bound. Message-ID
// precedence: a cursor that parses as a UUID is looked up in the conversation
// first; only then is it tried as a timestamp. missing reports a well-formed
// message ID that does not resolve within the conversation.
func (s *ChatService) resolveCursor(ctx context.Context, conversationID, raw string) (bound *time.Time, missing bool, err error) {
	if _, uerr := uuid.Parse(raw); uerr == nil {
		m, err := repo.GetMessage(ctx, s.DB, conversationID, raw)
		if err == nil {
			return &m.CreatedAt, false, nil
		}
		if !errors.Is(err, repo.ErrNotFound) {
			return nil, false, err
		}
		missing = true
	}
	// A "+" in a timestamp offset arrives as a space after query decoding;
	// restore it before parsing.
	ts := strings.ReplaceAll(raw, " ", "+")
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339} {
		if t, terr := time.Parse(layout, ts); terr == nil {
			return &t, false, nil
		}
	}
	if missing {
		return nil, true, nil
	}
	return nil, false, ErrInvalidCursor
}

// Send validates and persists a message from userID, derives the MESSAGE
// notification for the other participant, and publishes a message.new event
// for live delivery. Publish failures are logged, not surfaced: the message
// is already durable and reconnecting clients recover via history.
func (s *ChatService) Send(ctx context.Context, userID, conversationID, text string) (*domain.Message, error) {
	tr := otel.Tracer("services/ChatService")
	ctx, span := tr.Start(ctx, "Send",
		trace.WithAttributes(
			attribute.String("conversation.id", conversationID),
			attribute.String("user.id", userID),
		),
	)
	defer span.End()

	text = strings.TrimSpace(text)
	if text == "" {
		return nil, ErrEmptyText
	}
	if s.MaxTextRunes > 0 && utf8.RuneCountInString(text) > s.MaxTextRunes {
		return nil, ErrTextTooLong
	}
	if err := s.requireParticipant(ctx, conversationID, userID); err != nil {
		return nil, err
	}

	msg, err := repo.CreateMessage(ctx, s.DB, conversationID, &userID, text, nil)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, ErrConversationNotFound
		}
		return nil, err
	}
	if err := s.Deriver.MessageCreated(ctx, msg); err != nil {
		return nil, err
	}
	if err := s.Bus.Publish(ctx, conversationID, bus.NewMessageEvent(msg)); err != nil {
		log.Warn().Err(err).Str("conversation_id", conversationID).Msg("chat: publish message.new failed")
	}
	return msg, nil
}

// SendSystem posts a machine-authored message into the buyer/seller direct
// conversation of a transaction, creating the conversation if needed. The
// message carries is_system metadata and no sender, derives notifications for
// both participants, and is intentionally not published on the bus: system
// narration surfaces on the next history read.
func (s *ChatService) SendSystem(ctx context.Context, txn *domain.Transaction, text string) (*domain.Message, error) {
	tr := otel.Tracer("services/ChatService")
	ctx, span := tr.Start(ctx, "SendSystem",
		trace.WithAttributes(attribute.String("transaction.id", txn.ID)),
	)
	defer span.End()

	text = strings.TrimSpace(text)
	if text == "" {
		return nil, ErrEmptyText
	}

	conv, _, err := repo.GetOrCreateDirect(ctx, s.DB, txn.BuyerID, txn.SellerID)
	if err != nil {
		return nil, err
	}
	meta := domain.Metadata{
		domain.MetadataKeySystem: true,
		"transaction_id":         txn.ID,
	}
	msg, err := repo.CreateMessage(ctx, s.DB, conv.ID, nil, text, meta)
	if err != nil {
		return nil, err
	}
	if err := s.Deriver.MessageCreated(ctx, msg); err != nil {
		return nil, err
	}
	return msg, nil
}

// MarkRead is the read-state reconciler. It resolves messageID within the
// conversation, advances the caller's read pointer when the message is
// strictly newer than the current pointer, and marks the caller's MESSAGE
// notifications up to that message's timestamp as read. The notification
// sweep runs even when the pointer does not move, so a replayed read still
// converges notification state. On an actual pointer move a read.broadcast
// event is published.
//
// Returns the resolved message and whether the pointer moved.
func (s *ChatService) MarkRead(ctx context.Context, userID, conversationID, messageID string) (*domain.Message, bool, error) {
	tr := otel.Tracer("services/ChatService")
	ctx, span := tr.Start(ctx, "MarkRead",
		trace.WithAttributes(
			attribute.String("conversation.id", conversationID),
			attribute.String("user.id", userID),
			attribute.String("message.id", messageID),
		),
	)
	defer span.End()

	msg, err := repo.GetMessage(ctx, s.DB, conversationID, messageID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, false, ErrMessageNotFound
		}
		return nil, false, err
	}

	var moved bool
	err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		moved, err = repo.AdvanceReadPointer(ctx, tx, conversationID, userID, msg)
		if err != nil {
			return err
		}
		_, err = repo.MarkMessageNotificationsReadUpTo(ctx, tx, userID, conversationID, msg.CreatedAt)
		return err
	})
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, false, ErrNotParticipant
		}
		return nil, false, err
	}

	if moved {
		if err := s.Bus.Publish(ctx, conversationID, bus.ReadEvent(msg.ID, userID)); err != nil {
			log.Warn().Err(err).Str("conversation_id", conversationID).Msg("chat: publish read.broadcast failed")
		}
	}
	return msg, moved, nil
}

// IsParticipant reports whether userID is a member of the conversation. Used
// by the live gateway to authorize connections.
func (s *ChatService) IsParticipant(ctx context.Context, conversationID, userID string) (bool, error) {
	return repo.IsParticipant(ctx, s.DB, conversationID, userID)
}

// requireParticipant distinguishes a missing conversation from a
// non-membership so handlers can map them to 404 vs 403.
func (s *ChatService) requireParticipant(ctx context.Context, conversationID, userID string) error {
	if _, err := repo.GetConversation(ctx, s.DB, conversationID); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return ErrConversationNotFound
		}
		return err
	}
	ok, err := repo.IsParticipant(ctx, s.DB, conversationID, userID)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotParticipant
	}
	return nil
}
