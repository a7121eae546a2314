package payloads

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/dualcart-backend/pkg/enums"
)

// CartLine identifies a quantity of one (product, variant) pair.
type CartLine struct {
	ProductID uuid.UUID `json:"product_id"`
	VariantID string    `json:"variant_id,omitempty"`
	Quantity  int       `json:"quantity"`
}

// ItemAddedToActiveCartEvent is emitted after an add or quantity overwrite is saved.
type ItemAddedToActiveCartEvent struct {
	CartID    uuid.UUID           `json:"cart_id"`
	OwnerKey  string              `json:"owner_key"`
	ProductID uuid.UUID           `json:"product_id"`
	VariantID string              `json:"variant_id,omitempty"`
	Quantity  int                 `json:"quantity"`
	UnitPrice decimal.NullDecimal `json:"unit_price"`
	ItemCount int                 `json:"item_count"`
}

// ItemSavedForLaterEvent records a move from the active cart into the next purchase cart.
type ItemSavedForLaterEvent struct {
	CartID             uuid.UUID `json:"cart_id"`
	NextPurchaseCartID uuid.UUID `json:"next_purchase_cart_id"`
	UserID             uuid.UUID `json:"user_id"`
	ProductID          uuid.UUID `json:"product_id"`
	VariantID          string    `json:"variant_id,omitempty"`
	Quantity           int       `json:"quantity"`
}

// ItemMovedToActiveCartEvent records a single line leaving the next purchase cart.
type ItemMovedToActiveCartEvent struct {
	CartID             uuid.UUID `json:"cart_id"`
	NextPurchaseCartID uuid.UUID `json:"next_purchase_cart_id"`
	UserID             uuid.UUID `json:"user_id"`
	ProductID          uuid.UUID `json:"product_id"`
	VariantID          string    `json:"variant_id,omitempty"`
	Quantity           int       `json:"quantity"`
	Forced             bool      `json:"forced,omitempty"`
}

// GuestCartMergedEvent summarises a guest-to-user merge.
type GuestCartMergedEvent struct {
	CartID      uuid.UUID `json:"cart_id"`
	UserID      uuid.UUID `json:"user_id"`
	GuestCartID uuid.UUID `json:"guest_cart_id"`
	Merged      int       `json:"merged_items"`
	Skipped     int       `json:"skipped_items"`
}

// ActiveCartClosedEvent backs both active_cart_cleared and active_cart_checked_out.
type ActiveCartClosedEvent struct {
	CartID    uuid.UUID `json:"cart_id"`
	OwnerKey  string    `json:"owner_key"`
	ItemCount int       `json:"item_count"`
}

// CartExpiredEvent is written by the reconciliation worker in the same transaction
// as the next purchase migration.
type CartExpiredEvent struct {
	CartID              uuid.UUID  `json:"cart_id"`
	OwnerKey            string     `json:"owner_key"`
	UserID              *uuid.UUID `json:"user_id,omitempty"`
	LastActivityAt      time.Time  `json:"last_activity_at"`
	MigratedItems       int        `json:"migrated_items"`
	DroppedItems        int        `json:"dropped_items"`
	ReservationReleased bool       `json:"reservation_released"`
}

// CartAbandonedEvent asks the notification dispatcher to remind the user.
type CartAbandonedEvent struct {
	NextPurchaseCartID uuid.UUID `json:"next_purchase_cart_id"`
	UserID             uuid.UUID `json:"user_id"`
	NotificationNumber int       `json:"notification_number"`
	ItemCount          int       `json:"item_count"`
	LastActivityAt     time.Time `json:"last_activity_at"`
}

// ReservationRequestedEvent replaces the whole hold for CartID with Lines.
type ReservationRequestedEvent struct {
	CartID   uuid.UUID  `json:"cart_id"`
	OwnerKey string     `json:"owner_key"`
	Lines    []CartLine `json:"lines"`
}

// ReservationReleasedEvent returns stock to inventory. Empty Lines releases the
// whole hold for CartID.
type ReservationReleasedEvent struct {
	CartID   uuid.UUID                      `json:"cart_id"`
	OwnerKey string                         `json:"owner_key"`
	Reason   enums.ReservationReleaseReason `json:"reason"`
	Lines    []CartLine                     `json:"lines,omitempty"`
}

// ReservationOutcomeEvent is published by the inventory service once a request settles.
type ReservationOutcomeEvent struct {
	CartID   uuid.UUID `json:"cart_id"`
	OwnerKey string    `json:"owner_key"`
	Reason   string    `json:"reason,omitempty"`
}
