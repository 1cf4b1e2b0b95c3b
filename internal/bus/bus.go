// Package bus provides conversation-scoped event fan-out. Producers publish
// once per committed write; the bus delivers to every live subscriber of the
// same conversation, including subscribers attached to other process
// instances when the Redis backend is configured.
//
// Delivery is best effort: a publish that nobody is listening to succeeds,
// and a slow consumer can miss events. Durable state always lives in the
// database, so a reconnecting client recovers by re-reading history.
package bus

import (
	"context"

	"github.com/campustrade/marketplace-chat/internal/domain"
)

// Event types carried on the bus. They match the frame types pushed to
// WebSocket clients, so gateway sessions can forward events verbatim.
const (
	EventMessageNew    = "message.new"
	EventReadBroadcast = "read.broadcast"
)

// Event is one fan-out unit. Type selects which of the remaining fields are
// populated: message.new carries Message, read.broadcast carries MessageID
// and ReaderID.
type Event struct {
	Type      string          `json:"type"`
	Message   *domain.Message `json:"message,omitempty"`
	MessageID string          `json:"message_id,omitempty"`
	ReaderID  string          `json:"reader_id,omitempty"`
}

// NewMessageEvent builds a message.new event.
func NewMessageEvent(m *domain.Message) Event {
	return Event{Type: EventMessageNew, Message: m}
}

// ReadEvent builds a read.broadcast event.
func ReadEvent(messageID, readerID string) Event {
	return Event{Type: EventReadBroadcast, MessageID: messageID, ReaderID: readerID}
}

// Subscription is a live feed of one conversation's events. Events arrive on
// C until Cancel is called or the bus shuts down, after which C is closed.
type Subscription struct {
	C      <-chan Event
	cancel func()
}

// Cancel detaches the subscription. Safe to call more than once.
func (s *Subscription) Cancel() {
	if s.cancel != nil {
		s.cancel()
	}
}

// Bus fans events out to conversation subscribers.
type Bus interface {
	// Publish delivers ev to every current subscriber of the conversation.
	Publish(ctx context.Context, conversationID string, ev Event) error
	// Subscribe attaches a new subscriber to the conversation's event feed.
	Subscribe(ctx context.Context, conversationID string) (*Subscription, error)
	// Close releases the bus. Open subscriptions have their channels closed.
	Close() error
}
