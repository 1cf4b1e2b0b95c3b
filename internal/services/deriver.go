// Package services – Deriver
//
// The Deriver turns domain events into Notification rows. It is invoked
// explicitly from the code paths that perform the causing mutation (message
// send, offer creation, listing status transition), never from ORM hooks, so
// the "one notification per creation event, never on update" rule holds by
// construction: the creation path is the only emitter.
//
// Every rule is a documented no-op for its self-referential or degenerate
// case (no other participant, buyer == seller) rather than an error.
package services

import (
	"context"

	"gorm.io/gorm"

	"github.com/campustrade/marketplace-chat/internal/domain"
	"github.com/campustrade/marketplace-chat/internal/repo"
)

// systemActor is the actor recorded on notifications derived from
// machine-authored messages, which carry no sender.
const systemActor = "system"

// Deriver materializes notifications from domain events.
type Deriver struct {
	DB *gorm.DB
}

// NewDeriver constructs a Deriver over the given database handle.
func NewDeriver(db *gorm.DB) *Deriver {
	return &Deriver{DB: db}
}

// MessageCreated creates one MESSAGE notification per conversation
// participant other than the sender. A conversation with no other participant
// yields no notifications.
func (d *Deriver) MessageCreated(ctx context.Context, msg *domain.Message) error {
	actor := systemActor
	if msg.SenderID != nil {
		actor = *msg.SenderID
	}

	var participants []domain.ConversationParticipant
	err := d.DB.WithContext(ctx).
		Where("conversation_id = ?", msg.ConversationID).
		Find(&participants).Error
	if err != nil {
		return err
	}
	for _, p := range participants {
		if msg.SenderID != nil && p.UserID == *msg.SenderID {
			continue
		}
		n := domain.Notification{
			NotificationType: domain.NotificationMessage,
			RecipientID:      p.UserID,
			ActorID:          actor,
			MessageID:        &msg.ID,
		}
		if err := repo.CreateNotification(ctx, d.DB, &n); err != nil {
			return err
		}
	}
	return nil
}

// OfferCreated notifies the seller that a buyer made an offer. Called once
// when the transaction row is created; later status edits must not re-invoke
// it. Self-offers (buyer == seller) are a no-op.
func (d *Deriver) OfferCreated(ctx context.Context, tx *domain.Transaction) error {
	if tx.BuyerID == tx.SellerID {
		return nil
	}
	n := domain.Notification{
		NotificationType: domain.NotificationNewOffer,
		RecipientID:      tx.SellerID,
		ActorID:          tx.BuyerID,
		ListingID:        &tx.ListingID,
	}
	return repo.CreateNotification(ctx, d.DB, &n)
}

// OfferDecided notifies the buyer that the seller accepted or declined their
// offer. Self-offers are a no-op.
func (d *Deriver) OfferDecided(ctx context.Context, tx *domain.Transaction, accepted bool) error {
	if tx.BuyerID == tx.SellerID {
		return nil
	}
	typ := domain.NotificationOfferDeclined
	if accepted {
		typ = domain.NotificationOfferAccepted
	}
	n := domain.Notification{
		NotificationType: typ,
		RecipientID:      tx.BuyerID,
		ActorID:          tx.SellerID,
		ListingID:        &tx.ListingID,
	}
	return repo.CreateNotification(ctx, d.DB, &n)
}

// ListingSold fans out LISTING_SOLD to every buyer with a non-cancelled offer
// on the listing, excluding the owner. Called only on the status transition
// to "sold"; any other transition produces nothing.
func (d *Deriver) ListingSold(ctx context.Context, listing *domain.Listing) error {
	if listing.Status != domain.ListingStatusSold {
		return nil
	}
	var buyers []string
	err := d.DB.WithContext(ctx).
		Model(&domain.Transaction{}).
		Distinct("buyer_id").
		Where("listing_id = ? AND status <> ?", listing.ID, domain.TransactionCancelled).
		Pluck("buyer_id", &buyers).Error
	if err != nil {
		return err
	}
	for _, buyer := range buyers {
		if buyer == listing.UserID {
			continue
		}
		n := domain.Notification{
			NotificationType: domain.NotificationListingSold,
			RecipientID:      buyer,
			ActorID:          listing.UserID,
			ListingID:        &listing.ID,
		}
		if err := repo.CreateNotification(ctx, d.DB, &n); err != nil {
			return err
		}
	}
	return nil
}

// ListingExpired notifies the owner that their listing expired.
func (d *Deriver) ListingExpired(ctx context.Context, listing *domain.Listing) error {
	n := domain.Notification{
		NotificationType: domain.NotificationListingExpired,
		RecipientID:      listing.UserID,
		ActorID:          systemActor,
		ListingID:        &listing.ID,
	}
	return repo.CreateNotification(ctx, d.DB, &n)
}
