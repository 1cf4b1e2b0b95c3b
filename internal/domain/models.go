// Package domain defines the persistence models for conversations, messages,
// and notifications. These types are mapped with GORM and form the core data
// layer of the marketplace chat backend.
package domain

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Conversation represents a chat thread between marketplace users. Direct
// (1:1) conversations carry a canonical DirectKey used to deduplicate them.
//
// Fields:
//   - ID: stable UUID primary key (char(36)).
//   - DirectKey: canonical, order-independent key for 1:1 conversations;
//     unique when set. Nil for non-direct threads.
//   - CreatedBy: identifier of the creating user. Nullable on purpose: the
//     thread survives deletion of the creator account.
//   - LastMessageAt: timestamp of the most recent message; updated in the
//     same transaction as every message insert and used to order listings.
//   - CreatedAt / UpdatedAt: timestamps managed by GORM.
type Conversation struct {
	ID            string     `json:"id"              gorm:"type:char(36);primaryKey"`
	DirectKey     *string    `json:"direct_key,omitempty" gorm:"type:varchar(160);uniqueIndex:ux_conversations_direct_key"`
	CreatedBy     *string    `json:"created_by"      gorm:"type:varchar(64)"`
	LastMessageAt *time.Time `json:"last_message_at" gorm:"index"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// TableName returns the database table name for Conversation.
func (Conversation) TableName() string { return "conversations" }

// MakeDirectKey derives the canonical key for a 1:1 conversation between two
// users. The result is symmetric: MakeDirectKey(a, b) == MakeDirectKey(b, a).
func MakeDirectKey(a, b string) string {
	if strings.Compare(a, b) > 0 {
		a, b = b, a
	}
	return fmt.Sprintf("direct:%s:%s", a, b)
}

// ConversationParticipant pairs a conversation with a member user and holds
// that member's read pointer. At most one row exists per (conversation, user),
// enforced by a unique index.
//
// The read pointer only ever advances: LastReadMessageID may be replaced only
// by a message with a strictly later creation time. Rows are cascade-deleted
// with their conversation.
type ConversationParticipant struct {
	ID                string     `json:"id"                gorm:"type:char(36);primaryKey"`
	ConversationID    string     `json:"conversation"      gorm:"type:char(36);not null;uniqueIndex:ux_participant_conv_user,priority:1"`
	UserID            string     `json:"user"              gorm:"type:varchar(64);not null;uniqueIndex:ux_participant_conv_user,priority:2;index"`
	LastReadMessageID *string    `json:"last_read_message" gorm:"type:char(36)"`
	LastReadAt        *time.Time `json:"last_read_at"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`

	// Conversation is the parent thread. Participant rows do not survive it.
	Conversation Conversation `json:"-" gorm:"foreignKey:ConversationID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for ConversationParticipant.
func (ConversationParticipant) TableName() string { return "conversation_participants" }

// Message is a single immutable utterance within a conversation. CreatedAt is
// the sole ordering key for all message queries, with ID as tie-break.
//
// SenderID is nullable: when the sending account is deleted the
// message history survives with the sender reference cleared.
type Message struct {
	ID             string    `json:"id"           gorm:"type:char(36);primaryKey"`
	ConversationID string    `json:"conversation" gorm:"type:char(36);not null;index:idx_conv_messages,priority:1"`
	SenderID       *string   `json:"sender"       gorm:"type:varchar(64)"`
	Text           string    `json:"text"         gorm:"type:text;not null"`
	Metadata       Metadata  `json:"metadata,omitempty" gorm:"type:text"`
	CreatedAt      time.Time `json:"created_at"   gorm:"index:idx_conv_messages,priority:2"`

	// Conversation is the owning thread. Messages are cascade-deleted with it.
	Conversation Conversation `json:"-" gorm:"foreignKey:ConversationID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for Message.
func (Message) TableName() string { return "messages" }

// Metadata is a small structured map attached to machine-authored messages,
// e.g. {"is_system": true, "transaction_id": "..."}. It is stored as JSON
// text and is nil for ordinary user messages.
type Metadata map[string]any

// MetadataKeySystem marks a message as system-generated.
const MetadataKeySystem = "is_system"

// Value implements driver.Valuer, serializing the map as JSON. Nil and empty
// maps are stored as NULL.
func (m Metadata) Value() (driver.Value, error) {
	if len(m) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements sql.Scanner for JSON-encoded metadata columns.
func (m *Metadata) Scan(src any) error {
	if src == nil {
		*m = nil
		return nil
	}
	switch v := src.(type) {
	case []byte:
		return json.Unmarshal(v, m)
	case string:
		return json.Unmarshal([]byte(v), m)
	default:
		return fmt.Errorf("metadata: unsupported scan type %T", src)
	}
}

// IsSystem reports whether the message was authored by backend logic rather
// than typed by a user.
func (m Message) IsSystem() bool {
	v, ok := m.Metadata[MetadataKeySystem]
	if !ok {
		return false
	}
	b, _ := v.(bool)
	return b
}
