// Package domain – Notification model.
//
// Notification is a polymorphic record: a type tag plus exactly one populated
// causing-object reference (a Message or a Listing, never both). Per-tag
// presentation (title/body/redirect) is derived by Describe, a pure function
// over the tag, rather than by subtyping.
package domain

import (
	"fmt"
	"time"
)

// Notification type tags. The set is closed; the Deriver only ever materializes
// rows with one of these values.
const (
	NotificationMessage        = "MESSAGE"
	NotificationNewOffer       = "NEW_OFFER"
	NotificationOfferAccepted  = "OFFER_ACCEPTED"
	NotificationOfferDeclined  = "OFFER_DECLINED"
	NotificationListingSold    = "LISTING_SOLD"
	NotificationListingExpired = "LISTING_EXPIRED"
)

// Notification records a single derived event for a recipient user. Rows are
// created exclusively by the event deriver (one per qualifying domain event,
// never on updates) and mutated only by read-state operations.
//
// Exactly one of MessageID/ListingID is set, depending on NotificationType.
// Both references are weak with an ON DELETE CASCADE: a notification is
// meaningless once its causing object is gone. Rows are owned by the
// recipient and cascade-removed with that account.
type Notification struct {
	ID               string    `json:"id"                gorm:"type:char(36);primaryKey"`
	NotificationType string    `json:"notification_type" gorm:"type:varchar(20);not null"`
	RecipientID      string    `json:"recipient"         gorm:"type:varchar(64);not null;index"`
	ActorID          string    `json:"actor"             gorm:"type:varchar(64);not null;index"`
	MessageID        *string   `json:"message,omitempty" gorm:"type:char(36)"`
	ListingID        *string   `json:"listing,omitempty" gorm:"type:char(36)"`
	IsRead           bool      `json:"is_read"           gorm:"not null;default:false"`
	CreatedAt        time.Time `json:"created_at"        gorm:"index"`

	Message *Message `json:"-" gorm:"foreignKey:MessageID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
	Listing *Listing `json:"-" gorm:"foreignKey:ListingID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for Notification.
func (Notification) TableName() string { return "notifications" }

// Describe derives presentation fields from the type tag. It is pure: the
// result depends only on the notification row itself.
//
// Redirect is a client-side route fragment; for message notifications it
// points at the conversation via the causing message, for listing-scoped
// notifications at the listing.
func (n Notification) Describe() (title, body, redirect string) {
	switch n.NotificationType {
	case NotificationMessage:
		title = "New message"
		body = fmt.Sprintf("%s sent you a message", n.ActorID)
		if n.MessageID != nil {
			redirect = "/messages/" + *n.MessageID
		}
	case NotificationNewOffer:
		title = "New offer"
		body = fmt.Sprintf("%s made an offer on your listing", n.ActorID)
		if n.ListingID != nil {
			redirect = "/listings/" + *n.ListingID
		}
	case NotificationOfferAccepted:
		title = "Offer accepted"
		body = fmt.Sprintf("%s accepted your offer", n.ActorID)
		if n.ListingID != nil {
			redirect = "/listings/" + *n.ListingID
		}
	case NotificationOfferDeclined:
		title = "Offer declined"
		body = fmt.Sprintf("%s declined your offer", n.ActorID)
		if n.ListingID != nil {
			redirect = "/listings/" + *n.ListingID
		}
	case NotificationListingSold:
		title = "Listing sold"
		body = "An item you made an offer on has been sold"
		if n.ListingID != nil {
			redirect = "/listings/" + *n.ListingID
		}
	case NotificationListingExpired:
		title = "Listing expired"
		body = "One of your listings has expired"
		if n.ListingID != nil {
			redirect = "/listings/" + *n.ListingID
		}
	default:
		title = "Notification"
	}
	return title, body, redirect
}
