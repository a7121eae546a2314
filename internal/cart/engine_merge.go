package cart

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/dualcart-backend/pkg/config"
	"github.com/angelmondragon/dualcart-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/dualcart-backend/pkg/errors"
)

// MergeGuestCartIntoUser folds the guest's active cart into the user's. It is a
// best-effort batch: lines that fail validation are reported per item and the
// rest still merge. The guest cart is deleted afterwards. Prices are looked up
// before the owner locks; the stock checks run under them, concurrently.
func (e *Engine) MergeGuestCartIntoUser(ctx context.Context, userID uuid.UUID, guestID string) (res *OperationResult, err error) {
	defer func() { e.observe("merge_guest_cart", res, err) }()
	settings := e.settings.Current()
	res = newResult()
	res.Items = []ItemResult{}

	if !settings.GuestCartMergeEnabled {
		return res.fail(pkgerrors.CodeValidation, "guest cart merge disabled"), nil
	}
	user := RegisteredOwner(userID)
	guest := GuestOwner(guestID)
	if verr := user.Validate(); verr != nil {
		return res.fail(pkgerrors.CodeValidation, validationMessage(verr)), nil
	}
	if verr := guest.Validate(); verr != nil {
		return res.fail(pkgerrors.CodeValidation, validationMessage(verr)), nil
	}

	var prices map[ItemIdentity]decimal.NullDecimal
	priced := map[ItemIdentity]bool{}
	if settings.RealTimePriceValidationEnabled {
		snapshot, err := e.loadActive(ctx, guest)
		if err != nil {
			return nil, err
		}
		var ids []ItemIdentity
		if snapshot != nil {
			for _, item := range snapshot.Items {
				ids = append(ids, item.Identity())
				priced[item.Identity()] = true
			}
		}
		prices = e.lookupPrices(ctx, ids)
	}

	err = e.withOwners(ctx, func(ctx context.Context) error {
		guestCart, err := e.loadActive(ctx, guest)
		if err != nil {
			return err
		}
		userCart, err := e.loadActive(ctx, user)
		if err != nil {
			return err
		}
		if guestCart == nil {
			res.Cart = userCart
			return nil
		}

		now := e.now()
		if userCart == nil {
			userCart = NewActiveCart(user, now)
		}

		var inStock []bool
		if settings.RealTimeStockValidationEnabled {
			checks := make([]stockCheck, 0, len(guestCart.Items))
			for _, item := range guestCart.Items {
				total := item.Quantity
				if existing := userCart.Item(item.Identity()); existing != nil {
					total += existing.Quantity
				}
				checks = append(checks, stockCheck{id: item.Identity(), quantity: total})
			}
			inStock = e.stockAll(ctx, checks)
		}
		if settings.RealTimePriceValidationEnabled {
			var late []ItemIdentity
			for _, item := range guestCart.Items {
				if !priced[item.Identity()] {
					late = append(late, item.Identity())
				}
			}
			for id, price := range e.lookupPrices(ctx, late) {
				prices[id] = price
			}
		}

		merged, skipped := 0, 0
		for i, item := range guestCart.Items {
			check := lineCheck{inStock: inStock == nil || inStock[i]}
			check.price, check.priced = prices[item.Identity()]
			if e.mergeLine(settings, res, userCart, item, check, now) {
				merged++
			} else {
				skipped++
			}
		}

		var events []Event
		var saved *ActiveCart
		if merged > 0 {
			userCart.Touch(now)
			events = append(events, e.syncReservation(userCart, enums.ReleaseReasonMerged, now)...)
			saved, err = e.saveActive(ctx, userCart)
			if err != nil {
				return err
			}
		} else {
			saved = userCart
		}

		if err := e.deleteActive(ctx, guest); err != nil {
			e.logg.Warn(e.logg.WithOwner(ctx, guest.Key()), "guest cart merged but delete failed")
			return err
		}
		if guestCart.ReservationState.Holding() {
			events = append([]Event{ReservationReleased(guest, enums.ReleaseReasonMerged, nil, now)}, events...)
		}
		events = append(events, guestCartMergedEvent(saved, guest, merged, skipped, now))
		e.publish(ctx, events...)

		res.Cart = snapshotOrNil(saved)
		return nil
	}, user, guest)
	if err != nil {
		return nil, err
	}
	return res, nil
}

// lineCheck is what the catalog said about one guest line.
type lineCheck struct {
	inStock bool
	price   decimal.NullDecimal
	priced  bool
}

// mergeLine applies one guest line to the user cart and records its outcome.
func (e *Engine) mergeLine(settings config.CartSettings, res *OperationResult, userCart *ActiveCart, item ActiveCartItem, check lineCheck, now time.Time) bool {
	id := item.Identity()
	existing := userCart.Item(id)

	if existing == nil && userCart.DistinctCount() >= settings.MaxDistinctItemsInActiveCart {
		res.item(id, item.Quantity, enums.ItemOutcomeFailed, "item limit exceeded")
		res.warn(enums.CartWarningMergeConflict, &id, "item limit exceeded")
		return false
	}
	total := item.Quantity
	if existing != nil {
		total += existing.Quantity
	}
	if settings.RealTimeStockValidationEnabled && !check.inStock {
		res.item(id, item.Quantity, enums.ItemOutcomeSkippedOutOfStock, "out of stock")
		res.warn(enums.CartWarningMergeConflict, &id, "out of stock")
		return false
	}

	price := item.UnitPrice
	if settings.RealTimePriceValidationEnabled {
		if !check.priced {
			res.item(id, item.Quantity, enums.ItemOutcomeFailed, "price unavailable")
			res.warn(enums.CartWarningMergeConflict, &id, "price unavailable")
			return false
		}
		previous := item.UnitPrice
		if existing != nil && existing.UnitPrice.Valid {
			previous = existing.UnitPrice
		}
		if priceDiffers(previous, check.price) {
			res.warn(enums.CartWarningPriceChanged, &id, "price changed from "+previous.Decimal.StringFixed(2)+" to "+check.price.Decimal.StringFixed(2))
		}
		price = check.price
	}

	if existing != nil {
		existing.Quantity = total
		existing.UnitPrice = keepValid(existing.UnitPrice, price)
		existing.UpdatedAt = now
	} else {
		copied := item
		copied.Attributes = cloneAttributes(item.Attributes)
		copied.UnitPrice = price
		copied.UpdatedAt = now
		userCart.Items = append(userCart.Items, copied)
	}
	res.item(id, total, enums.ItemOutcomeSucceeded, "")
	return true
}

func keepValid(previous, next decimal.NullDecimal) decimal.NullDecimal {
	if next.Valid {
		return next
	}
	return previous
}
