// Package services defines the business logic for conversations, messages,
// read state, and notifications. This file centralizes common service-level
// error values so that they can be consistently returned by service methods
// and checked by callers.
//
// These errors are intended for internal use by the service layer; translation
// into user-facing messages or HTTP status codes is performed at the
// handler layer.
package services

import "errors"

var (
	// ErrConversationNotFound indicates that the requested conversation does
	// not exist.
	ErrConversationNotFound = errors.New("conversation not found")

	// ErrMessageNotFound indicates that the referenced message does not exist
	// in the conversation it was addressed to.
	ErrMessageNotFound = errors.New("message not found")

	// ErrNotParticipant is returned when a user operates on a conversation
	// they are not a member of.
	ErrNotParticipant = errors.New("not a conversation participant")

	// ErrEmptyText is returned when a message body is empty after trimming.
	ErrEmptyText = errors.New("message text is empty")

	// ErrTextTooLong is returned when a message body exceeds the configured
	// rune limit.
	ErrTextTooLong = errors.New("message text too long")

	// ErrInvalidCursor is returned when a history cursor is neither a message
	// ID in the conversation nor a parseable timestamp.
	ErrInvalidCursor = errors.New("invalid history cursor")

	// ErrNotificationNotFound indicates that the notification does not exist
	// or belongs to another recipient.
	ErrNotificationNotFound = errors.New("notification not found")
)
