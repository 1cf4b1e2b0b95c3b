// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for conversations
// and their participant rows.
//
// All functions are context-aware and accept a *gorm.DB handle, making them
// safe for use within transactions or connection-scoped operations. They
// follow the "thin repository" approach: no business logic, only CRUD
// persistence and query composition.
//
// Error semantics:
//   - When a conversation or participant is not found, functions return
//     gorm.ErrRecordNotFound (also exported here as ErrNotFound).
//   - A direct-key uniqueness violation during GetOrCreateDirect is absorbed:
//     the loser of the race re-fetches and returns the winner's row.
package repo

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/campustrade/marketplace-chat/internal/domain"
)

// ErrNotFound is returned when a requested record does not exist.
// It aliases gorm.ErrRecordNotFound for convenience and consistency
// across the service layer and handlers.
var ErrNotFound = gorm.ErrRecordNotFound

// isUniqueViolation reports whether err is a unique-constraint failure.
// glebarez/sqlite often returns plain-text errors for UNIQUE violations.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	low := strings.ToLower(err.Error())
	return strings.Contains(low, "unique constraint failed") ||
		strings.Contains(low, "constraint failed: unique")
}

// GetOrCreateDirect resolves the 1:1 conversation between userID and peerID,
// creating it (with both participant rows) when absent. The second return
// value reports whether a new conversation row was created.
//
// Two concurrent calls for the same pair converge on a single row: the unique
// index on direct_key makes the second insert fail, and the loser re-fetches
// the winner's conversation instead of surfacing a conflict.
func GetOrCreateDirect(ctx context.Context, db *gorm.DB, userID, peerID string) (*domain.Conversation, bool, error) {
	key := domain.MakeDirectKey(userID, peerID)

	var conv domain.Conversation
	created := false
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Where("direct_key = ?", key).First(&conv).Error
		switch {
		case err == nil:
			// existing row; fall through to participant backfill
		case errors.Is(err, gorm.ErrRecordNotFound):
			conv = domain.Conversation{
				ID:        uuid.NewString(),
				DirectKey: &key,
				CreatedBy: &userID,
				CreatedAt: time.Now().UTC(),
			}
			if cerr := tx.Create(&conv).Error; cerr != nil {
				if !isUniqueViolation(cerr) {
					return cerr
				}
				// Lost the race: reuse the winner's row.
				if ferr := tx.Where("direct_key = ?", key).First(&conv).Error; ferr != nil {
					return ferr
				}
			} else {
				created = true
			}
		default:
			return err
		}
		return ensureParticipants(tx, conv.ID, userID, peerID)
	})
	if err != nil {
		return nil, false, err
	}
	return &conv, created, nil
}

// ensureParticipants creates any missing participant rows for the given users.
// Existing rows (and their read pointers) are left untouched.
func ensureParticipants(tx *gorm.DB, convID string, userIDs ...string) error {
	var have []string
	if err := tx.Model(&domain.ConversationParticipant{}).
		Where("conversation_id = ?", convID).
		Pluck("user_id", &have).Error; err != nil {
		return err
	}
	haveSet := make(map[string]struct{}, len(have))
	for _, id := range have {
		haveSet[id] = struct{}{}
	}
	seen := make(map[string]struct{}, len(userIDs))
	for _, uid := range userIDs {
		if _, dup := seen[uid]; dup {
			continue
		}
		seen[uid] = struct{}{}
		if _, ok := haveSet[uid]; ok {
			continue
		}
		p := &domain.ConversationParticipant{
			ID:             uuid.NewString(),
			ConversationID: convID,
			UserID:         uid,
			CreatedAt:      time.Now().UTC(),
		}
		if err := tx.Create(p).Error; err != nil {
			// Concurrent backfill of the same membership is fine.
			if isUniqueViolation(err) {
				continue
			}
			return err
		}
	}
	return nil
}

// GetConversation fetches a conversation by ID or returns ErrNotFound.
func GetConversation(ctx context.Context, db *gorm.DB, id string) (*domain.Conversation, error) {
	var c domain.Conversation
	if err := db.WithContext(ctx).Where("id = ?", id).First(&c).Error; err != nil {
		return nil, err
	}
	return &c, nil
}

// GetParticipant fetches the participant row for (conversationID, userID)
// or returns ErrNotFound when the user is not a member.
func GetParticipant(ctx context.Context, db *gorm.DB, conversationID, userID string) (*domain.ConversationParticipant, error) {
	var p domain.ConversationParticipant
	err := db.WithContext(ctx).
		Where("conversation_id = ? AND user_id = ?", conversationID, userID).
		First(&p).Error
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// IsParticipant reports whether userID is a member of the conversation.
func IsParticipant(ctx context.Context, db *gorm.DB, conversationID, userID string) (bool, error) {
	var n int64
	err := db.WithContext(ctx).
		Model(&domain.ConversationParticipant{}).
		Where("conversation_id = ? AND user_id = ?", conversationID, userID).
		Count(&n).Error
	return n > 0, err
}

// ListConversationsForUser returns all conversations the user participates
// in, most recently active first. Threads that never received a message sort
// last (SQLite treats NULL as smallest, so DESC puts them at the end).
func ListConversationsForUser(ctx context.Context, db *gorm.DB, userID string) ([]domain.Conversation, error) {
	var out []domain.Conversation
	err := db.WithContext(ctx).
		Joins("JOIN conversation_participants cp ON cp.conversation_id = conversations.id").
		Where("cp.user_id = ?", userID).
		Order("conversations.last_message_at DESC").
		Find(&out).Error
	return out, err
}

// LastMessage returns the most recent message of a conversation, or nil when
// the thread is empty.
func LastMessage(ctx context.Context, db *gorm.DB, conversationID string) (*domain.Message, error) {
	var m domain.Message
	err := db.WithContext(ctx).
		Where("conversation_id = ?", conversationID).
		Order("created_at DESC, id DESC").
		First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}
