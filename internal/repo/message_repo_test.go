package repo

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/campustrade/marketplace-chat/internal/domain"
)

// seedMessage inserts a message with an explicit timestamp so ordering tests
// do not depend on clock resolution.
func seedMessage(t *testing.T, db *gorm.DB, conversationID, senderID, text string, at time.Time) *domain.Message {
	t.Helper()
	m := &domain.Message{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		SenderID:       &senderID,
		Text:           text,
		CreatedAt:      at,
	}
	if err := db.Create(m).Error; err != nil {
		t.Fatalf("seed message: %v", err)
	}
	if err := db.Model(&domain.Conversation{}).
		Where("id = ?", conversationID).
		Update("last_message_at", at).Error; err != nil {
		t.Fatalf("touch conversation: %v", err)
	}
	return m
}

func TestCreateMessage_BumpsConversationActivity(t *testing.T) {
	db := chatSchema(t)
	ctx := context.Background()

	conv, _, _ := GetOrCreateDirect(ctx, db, "alice", "bob")
	if conv.LastMessageAt != nil {
		t.Fatal("fresh conversation must have no activity timestamp")
	}

	sender := "alice"
	m, err := CreateMessage(ctx, db, conv.ID, &sender, "hi there", nil)
	if err != nil {
		t.Fatalf("CreateMessage: %v", err)
	}
	if m.ID == "" || m.CreatedAt.IsZero() {
		t.Fatalf("message not fully populated: %+v", m)
	}

	got, err := GetConversation(ctx, db, conv.ID)
	if err != nil {
		t.Fatalf("GetConversation: %v", err)
	}
	if got.LastMessageAt == nil || !got.LastMessageAt.Equal(m.CreatedAt) {
		t.Fatalf("last_message_at = %v, want %v", got.LastMessageAt, m.CreatedAt)
	}
}

func TestCreateMessage_MissingConversation(t *testing.T) {
	db := chatSchema(t)
	sender := "alice"
	_, err := CreateMessage(context.Background(), db, uuid.NewString(), &sender, "hi", nil)
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestGetMessage_ScopedToConversation(t *testing.T) {
	db := chatSchema(t)
	ctx := context.Background()

	c1, _, _ := GetOrCreateDirect(ctx, db, "alice", "bob")
	c2, _, _ := GetOrCreateDirect(ctx, db, "alice", "carol")

	now := time.Now().UTC()
	m := seedMessage(t, db, c1.ID, "alice", "hello", now)

	if _, err := GetMessage(ctx, db, c1.ID, m.ID); err != nil {
		t.Fatalf("GetMessage in own conversation: %v", err)
	}
	// Same message ID looked up under the wrong conversation is not found.
	if _, err := GetMessage(ctx, db, c2.ID, m.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound across conversations, got %v", err)
	}
}

func TestListMessagesBefore_Paging(t *testing.T) {
	db := chatSchema(t)
	ctx := context.Background()

	conv, _, _ := GetOrCreateDirect(ctx, db, "alice", "bob")
	base := time.Now().UTC().Add(-time.Hour)
	m1 := seedMessage(t, db, conv.ID, "alice", "one", base)
	m2 := seedMessage(t, db, conv.ID, "bob", "two", base.Add(time.Minute))
	m3 := seedMessage(t, db, conv.ID, "alice", "three", base.Add(2*time.Minute))

	// First page: newest two, newest first.
	page, err := ListMessagesBefore(ctx, db, conv.ID, nil, 2)
	if err != nil {
		t.Fatalf("ListMessagesBefore: %v", err)
	}
	if len(page) != 2 || page[0].ID != m3.ID || page[1].ID != m2.ID {
		t.Fatalf("unexpected first page: %+v", page)
	}

	// Second page: strictly older than the oldest of the first page.
	oldest := page[len(page)-1].CreatedAt
	page, err = ListMessagesBefore(ctx, db, conv.ID, &oldest, 2)
	if err != nil {
		t.Fatalf("ListMessagesBefore page 2: %v", err)
	}
	if len(page) != 1 || page[0].ID != m1.ID {
		t.Fatalf("unexpected second page: %+v", page)
	}

	// Third page is empty.
	oldest = page[0].CreatedAt
	page, err = ListMessagesBefore(ctx, db, conv.ID, &oldest, 2)
	if err != nil {
		t.Fatalf("ListMessagesBefore page 3: %v", err)
	}
	if len(page) != 0 {
		t.Fatalf("expected exhausted page, got %+v", page)
	}
}

func TestListMessagesAfter_OldestFirst(t *testing.T) {
	db := chatSchema(t)
	ctx := context.Background()

	conv, _, _ := GetOrCreateDirect(ctx, db, "alice", "bob")
	base := time.Now().UTC().Add(-time.Hour)
	m1 := seedMessage(t, db, conv.ID, "alice", "one", base)
	m2 := seedMessage(t, db, conv.ID, "bob", "two", base.Add(time.Minute))
	m3 := seedMessage(t, db, conv.ID, "alice", "three", base.Add(2*time.Minute))

	got, err := ListMessagesAfter(ctx, db, conv.ID, m1.CreatedAt, 10)
	if err != nil {
		t.Fatalf("ListMessagesAfter: %v", err)
	}
	if len(got) != 2 || got[0].ID != m2.ID || got[1].ID != m3.ID {
		t.Fatalf("unexpected tail: %+v", got)
	}
}

func TestUnreadCount(t *testing.T) {
	db := chatSchema(t)
	ctx := context.Background()

	conv, _, _ := GetOrCreateDirect(ctx, db, "alice", "bob")
	base := time.Now().UTC().Add(-time.Hour)
	seedMessage(t, db, conv.ID, "alice", "one", base)
	m2 := seedMessage(t, db, conv.ID, "alice", "two", base.Add(time.Minute))
	seedMessage(t, db, conv.ID, "alice", "three", base.Add(2*time.Minute))

	// No pointer yet: everything counts.
	n, err := UnreadCount(ctx, db, conv.ID, "bob")
	if err != nil || n != 3 {
		t.Fatalf("unread before read = %d, err=%v", n, err)
	}

	moved, err := AdvanceReadPointer(ctx, db, conv.ID, "bob", m2)
	if err != nil || !moved {
		t.Fatalf("AdvanceReadPointer: moved=%v err=%v", moved, err)
	}
	n, err = UnreadCount(ctx, db, conv.ID, "bob")
	if err != nil || n != 1 {
		t.Fatalf("unread after read = %d, err=%v", n, err)
	}

	// Non-members have no unread count, they have an error.
	if _, err := UnreadCount(ctx, db, conv.ID, "mallory"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for non-member, got %v", err)
	}
}

func TestCountMessages(t *testing.T) {
	db := chatSchema(t)
	ctx := context.Background()

	conv, _, _ := GetOrCreateDirect(ctx, db, "alice", "bob")
	other, _, _ := GetOrCreateDirect(ctx, db, "alice", "carol")
	base := time.Now().UTC().Add(-time.Hour)
	seedMessage(t, db, conv.ID, "alice", "one", base)
	seedMessage(t, db, conv.ID, "bob", "two", base.Add(time.Minute))
	seedMessage(t, db, other.ID, "carol", "elsewhere", base)

	n, err := CountMessages(ctx, db, conv.ID)
	if err != nil || n != 2 {
		t.Fatalf("CountMessages = %d, err=%v", n, err)
	}
	n, err = CountMessages(ctx, db, uuid.NewString())
	if err != nil || n != 0 {
		t.Fatalf("CountMessages for unknown conversation = %d, err=%v", n, err)
	}
}

func TestAdvanceReadPointer_Monotonic(t *testing.T) {
	db := chatSchema(t)
	ctx := context.Background()

	conv, _, _ := GetOrCreateDirect(ctx, db, "alice", "bob")
	base := time.Now().UTC().Add(-time.Hour)
	m1 := seedMessage(t, db, conv.ID, "alice", "one", base)
	m2 := seedMessage(t, db, conv.ID, "alice", "two", base.Add(time.Minute))

	moved, err := AdvanceReadPointer(ctx, db, conv.ID, "bob", m2)
	if err != nil || !moved {
		t.Fatalf("advance to m2: moved=%v err=%v", moved, err)
	}

	// A stale report for an older message must not regress the pointer.
	moved, err = AdvanceReadPointer(ctx, db, conv.ID, "bob", m1)
	if err != nil {
		t.Fatalf("advance to m1: %v", err)
	}
	if moved {
		t.Fatal("pointer must not move backwards")
	}

	p, err := GetParticipant(ctx, db, conv.ID, "bob")
	if err != nil {
		t.Fatalf("GetParticipant: %v", err)
	}
	if p.LastReadMessageID == nil || *p.LastReadMessageID != m2.ID {
		t.Fatalf("pointer = %v, want %s", p.LastReadMessageID, m2.ID)
	}

	// Re-reading the same message is a no-op, not an error.
	moved, err = AdvanceReadPointer(ctx, db, conv.ID, "bob", m2)
	if err != nil || moved {
		t.Fatalf("re-read same message: moved=%v err=%v", moved, err)
	}

	// Non-member.
	if _, err := AdvanceReadPointer(ctx, db, conv.ID, "mallory", m2); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for non-member, got %v", err)
	}
}

func TestLastMessage(t *testing.T) {
	db := chatSchema(t)
	ctx := context.Background()

	conv, _, _ := GetOrCreateDirect(ctx, db, "alice", "bob")

	m, err := LastMessage(ctx, db, conv.ID)
	if err != nil {
		t.Fatalf("LastMessage on empty conversation: %v", err)
	}
	if m != nil {
		t.Fatalf("expected nil last message, got %+v", m)
	}

	base := time.Now().UTC().Add(-time.Hour)
	seedMessage(t, db, conv.ID, "alice", "one", base)
	m2 := seedMessage(t, db, conv.ID, "bob", "two", base.Add(time.Minute))

	m, err = LastMessage(ctx, db, conv.ID)
	if err != nil {
		t.Fatalf("LastMessage: %v", err)
	}
	if m == nil || m.ID != m2.ID {
		t.Fatalf("last message = %+v, want %s", m, m2.ID)
	}
}
