package enums

import "fmt"

// OutboxAggregateType maps to the aggregate_type enum in Postgres.
type OutboxAggregateType string

const (
	AggregateActiveCart       OutboxAggregateType = "active_cart"
	AggregateNextPurchaseCart OutboxAggregateType = "next_purchase_cart"
	AggregateReservation      OutboxAggregateType = "inventory_reservation"
)

var validAggregateTypes = []OutboxAggregateType{
	AggregateActiveCart,
	AggregateNextPurchaseCart,
	AggregateReservation,
}

// IsValid reports whether the value matches the canonical aggregate_type enum.
func (a OutboxAggregateType) IsValid() bool {
	for _, candidate := range validAggregateTypes {
		if candidate == a {
			return true
		}
	}
	return false
}

// ParseOutboxAggregateType converts raw input into OutboxAggregateType.
func ParseOutboxAggregateType(value string) (OutboxAggregateType, error) {
	for _, candidate := range validAggregateTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid aggregate type %q", value)
}

// OutboxEventType maps to the event_type enum in Postgres.
type OutboxEventType string

const (
	EventItemAddedToActiveCart OutboxEventType = "item_added_to_active_cart"
	EventItemSavedForLater     OutboxEventType = "item_saved_for_later"
	EventItemMovedToActiveCart OutboxEventType = "item_moved_to_active_cart"
	EventGuestCartMerged       OutboxEventType = "guest_cart_merged"
	EventActiveCartCleared     OutboxEventType = "active_cart_cleared"
	EventActiveCartCheckedOut  OutboxEventType = "active_cart_checked_out"
	EventCartExpired           OutboxEventType = "cart_expired"
	EventCartAbandoned         OutboxEventType = "cart_abandoned"
	EventReservationRequested  OutboxEventType = "inventory_reservation_requested"
	EventReservationReleased   OutboxEventType = "inventory_reservation_released"

	// Published by the inventory service; consumed, never emitted, by this service.
	EventReservationConfirmed OutboxEventType = "inventory_reservation_confirmed"
	EventReservationFailed    OutboxEventType = "inventory_reservation_failed"
)

var validOutboxEventTypes = []OutboxEventType{
	EventItemAddedToActiveCart,
	EventItemSavedForLater,
	EventItemMovedToActiveCart,
	EventGuestCartMerged,
	EventActiveCartCleared,
	EventActiveCartCheckedOut,
	EventCartExpired,
	EventCartAbandoned,
	EventReservationRequested,
	EventReservationReleased,
	EventReservationConfirmed,
	EventReservationFailed,
}

// IsValid reports whether the value matches the canonical event_type enum.
func (e OutboxEventType) IsValid() bool {
	for _, candidate := range validOutboxEventTypes {
		if candidate == e {
			return true
		}
	}
	return false
}

// ParseOutboxEventType converts raw input into OutboxEventType.
func ParseOutboxEventType(value string) (OutboxEventType, error) {
	for _, candidate := range validOutboxEventTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid event type %q", value)
}
