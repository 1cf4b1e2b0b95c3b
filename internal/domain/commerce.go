// Package domain – marketplace event-source models.
//
// Listing and Transaction are the commerce-side collaborators the chat core
// observes. The full search/negotiation surface lives elsewhere; the chat
// backend needs only enough shape for the notification deriver (owner and
// status transitions on listings, buyer/seller/status on transactions) and
// for the system-message injector.
package domain

import "time"

// Listing statuses relevant to notification derivation.
const (
	ListingStatusActive  = "active"
	ListingStatusSold    = "sold"
	ListingStatusExpired = "expired"
)

// Transaction statuses. CANCELLED transactions are excluded from sold-listing
// fan-out.
const (
	TransactionPending     = "PENDING"
	TransactionNegotiating = "NEGOTIATING"
	TransactionScheduled   = "SCHEDULED"
	TransactionCompleted   = "COMPLETED"
	TransactionCancelled   = "CANCELLED"
)

// Listing is an item offered for sale. UserID is the owner.
type Listing struct {
	ID        string    `json:"id"     gorm:"type:char(36);primaryKey"`
	UserID    string    `json:"user"   gorm:"type:varchar(64);not null;index"`
	Title     string    `json:"title"  gorm:"type:varchar(255);not null"`
	Status    string    `json:"status" gorm:"type:varchar(20);not null;default:'active';index"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName returns the database table name for Listing.
func (Listing) TableName() string { return "listings" }

// Transaction is an offer made by a buyer on a listing. It is the event
// source for NEW_OFFER derivation and, via its buyer set, for LISTING_SOLD
// fan-out when the listing transitions to sold.
type Transaction struct {
	ID        string    `json:"id"      gorm:"type:char(36);primaryKey"`
	ListingID string    `json:"listing" gorm:"type:char(36);not null;index"`
	BuyerID   string    `json:"buyer"   gorm:"type:varchar(64);not null;index"`
	SellerID  string    `json:"seller"  gorm:"type:varchar(64);not null;index"`
	Status    string    `json:"status"  gorm:"type:varchar(20);not null;default:'PENDING';index"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// Listing is the offered item. Offers are cascade-deleted with it.
	Listing Listing `json:"-" gorm:"foreignKey:ListingID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for Transaction.
func (Transaction) TableName() string { return "transactions" }
