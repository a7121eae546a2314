package cart

import (
	"time"

	"github.com/angelmondragon/dualcart-backend/pkg/db/models"
	"github.com/angelmondragon/dualcart-backend/pkg/enums"
	"github.com/angelmondragon/dualcart-backend/pkg/outbox/payloads"
)

func activeCartEvent(kind enums.OutboxEventType, cart *ActiveCart, at time.Time, data any) Event {
	return Event{
		Type:          kind,
		AggregateType: enums.AggregateActiveCart,
		AggregateID:   cart.ID(),
		Owner:         cart.Owner,
		Data:          data,
		OccurredAt:    at,
	}
}

func itemAddedEvent(cart *ActiveCart, item ActiveCartItem, at time.Time) Event {
	return activeCartEvent(enums.EventItemAddedToActiveCart, cart, at, payloads.ItemAddedToActiveCartEvent{
		CartID:    cart.ID(),
		OwnerKey:  cart.Owner.Key(),
		ProductID: item.ProductID,
		VariantID: item.VariantID,
		Quantity:  item.Quantity,
		UnitPrice: item.UnitPrice,
		ItemCount: cart.DistinctCount(),
	})
}

func cartClosedEvent(kind enums.OutboxEventType, cart *ActiveCart, at time.Time) Event {
	return activeCartEvent(kind, cart, at, payloads.ActiveCartClosedEvent{
		CartID:    cart.ID(),
		OwnerKey:  cart.Owner.Key(),
		ItemCount: cart.DistinctCount(),
	})
}

func itemSavedForLaterEvent(cart *ActiveCart, np *models.NextPurchaseCart, id ItemIdentity, quantity int, at time.Time) Event {
	return Event{
		Type:          enums.EventItemSavedForLater,
		AggregateType: enums.AggregateNextPurchaseCart,
		AggregateID:   np.ID,
		Owner:         cart.Owner,
		OccurredAt:    at,
		Data: payloads.ItemSavedForLaterEvent{
			CartID:             cart.ID(),
			NextPurchaseCartID: np.ID,
			UserID:             np.UserID,
			ProductID:          id.ProductID,
			VariantID:          id.VariantID,
			Quantity:           quantity,
		},
	}
}

func itemMovedToActiveEvent(cart *ActiveCart, np *models.NextPurchaseCart, id ItemIdentity, quantity int, forced bool, at time.Time) Event {
	return activeCartEvent(enums.EventItemMovedToActiveCart, cart, at, payloads.ItemMovedToActiveCartEvent{
		CartID:             cart.ID(),
		NextPurchaseCartID: np.ID,
		UserID:             np.UserID,
		ProductID:          id.ProductID,
		VariantID:          id.VariantID,
		Quantity:           quantity,
		Forced:             forced,
	})
}

func guestCartMergedEvent(userCart *ActiveCart, guest Owner, merged, skipped int, at time.Time) Event {
	return activeCartEvent(enums.EventGuestCartMerged, userCart, at, payloads.GuestCartMergedEvent{
		CartID:      userCart.ID(),
		UserID:      userCart.Owner.UserID,
		GuestCartID: guest.CartID(),
		Merged:      merged,
		Skipped:     skipped,
	})
}

// ReservationRequested replaces the inventory hold for the cart with its current lines.
func ReservationRequested(cart *ActiveCart, at time.Time) Event {
	return Event{
		Type:          enums.EventReservationRequested,
		AggregateType: enums.AggregateReservation,
		AggregateID:   cart.ID(),
		Owner:         cart.Owner,
		OccurredAt:    at,
		Data: payloads.ReservationRequestedEvent{
			CartID:   cart.ID(),
			OwnerKey: cart.Owner.Key(),
			Lines:    cart.Lines(),
		},
	}
}

// ReservationReleased returns held stock. No lines releases the whole hold.
func ReservationReleased(owner Owner, reason enums.ReservationReleaseReason, lines []payloads.CartLine, at time.Time) Event {
	return Event{
		Type:          enums.EventReservationReleased,
		AggregateType: enums.AggregateReservation,
		AggregateID:   owner.CartID(),
		Owner:         owner,
		OccurredAt:    at,
		Data: payloads.ReservationReleasedEvent{
			CartID:   owner.CartID(),
			OwnerKey: owner.Key(),
			Reason:   reason,
			Lines:    lines,
		},
	}
}

// CartExpired is written by the reconciliation worker alongside the migration.
func CartExpired(cart *ActiveCart, migrated, dropped int, released bool, at time.Time) Event {
	data := payloads.CartExpiredEvent{
		CartID:              cart.ID(),
		OwnerKey:            cart.Owner.Key(),
		LastActivityAt:      cart.LastActivityAt,
		MigratedItems:       migrated,
		DroppedItems:        dropped,
		ReservationReleased: released,
	}
	if cart.Owner.IsRegistered() {
		id := cart.Owner.UserID
		data.UserID = &id
	}
	return activeCartEvent(enums.EventCartExpired, cart, at, data)
}

// CartAbandoned asks the notification dispatcher for reminder number n.
func CartAbandoned(np *models.NextPurchaseCart, n int, at time.Time) Event {
	return Event{
		Type:          enums.EventCartAbandoned,
		AggregateType: enums.AggregateNextPurchaseCart,
		AggregateID:   np.ID,
		Owner:         RegisteredOwner(np.UserID),
		OccurredAt:    at,
		Data: payloads.CartAbandonedEvent{
			NextPurchaseCartID: np.ID,
			UserID:             np.UserID,
			NotificationNumber: n,
			ItemCount:          len(np.Items),
			LastActivityAt:     np.LastActivityAt,
		},
	}
}
