package cart

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/dualcart-backend/internal/catalog"
	"github.com/angelmondragon/dualcart-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/dualcart-backend/pkg/errors"
)

// staleFraction is the share of the expiry window left when reads start warning.
const staleFraction = 10

type AddItemInput struct {
	ProductID  uuid.UUID
	VariantID  string
	Quantity   int
	Attributes map[string]string
}

func trimVariant(variantID string) string {
	return strings.TrimSpace(variantID)
}

// AddItemToActiveCart upserts a line with overwrite semantics. Catalog lookups
// run before the owner lock; only the final stock confirmation runs under it.
func (e *Engine) AddItemToActiveCart(ctx context.Context, owner Owner, in AddItemInput) (res *OperationResult, err error) {
	defer func() { e.observe("add_item", res, err) }()
	settings := e.settings.Current()
	res = newResult()

	if verr := owner.Validate(); verr != nil {
		return res.fail(pkgerrors.CodeValidation, validationMessage(verr)), nil
	}
	id, verr := normaliseIdentity(in.ProductID, in.VariantID)
	if verr != nil {
		return res.fail(pkgerrors.CodeValidation, validationMessage(verr)), nil
	}
	if in.Quantity <= 0 {
		return res.fail(pkgerrors.CodeValidation, "quantity must be a positive integer"), nil
	}

	info, infoErr := e.catalog.ProductInfo(ctx, id.ProductID)
	switch {
	case infoErr == nil && !info.Active:
		return res.fail(pkgerrors.CodeValidation, "product is not available"), nil
	case errors.Is(infoErr, catalog.ErrProductNotFound):
		return res.fail(pkgerrors.CodeNotFound, "product not found"), nil
	case infoErr != nil && settings.RealTimeStockValidationEnabled:
		return res.fail(pkgerrors.CodeOutOfStock, "product availability could not be confirmed"), nil
	case infoErr != nil:
		info = nil
		res.warn(enums.CartWarningProductUnavailable, &id, "product details could not be loaded")
	}

	if settings.RealTimeStockValidationEnabled {
		if !e.stockAvailable(ctx, id, in.Quantity) {
			return res.fail(pkgerrors.CodeOutOfStock, "requested quantity is not in stock"), nil
		}
	} else {
		res.warn(enums.CartWarningStockUnverified, &id, "stock was not confirmed")
	}

	var price decimal.NullDecimal
	if settings.RealTimePriceValidationEnabled {
		var ok bool
		if price, ok = e.currentPrice(ctx, id); !ok {
			return res.fail(pkgerrors.CodePriceUnavailable, "current price is unavailable"), nil
		}
	} else {
		res.warn(enums.CartWarningPriceUnverified, &id, "price was not refreshed")
	}

	err = e.withOwners(ctx, func(ctx context.Context) error {
		cart, err := e.loadActive(ctx, owner)
		if err != nil {
			return err
		}
		now := e.now()
		if cart == nil {
			cart = NewActiveCart(owner, now)
		}

		existing := cart.Item(id)
		if existing == nil && cart.DistinctCount() >= settings.MaxDistinctItemsInActiveCart {
			res.fail(pkgerrors.CodeItemLimitExceeded, "active cart already holds the maximum number of distinct items")
			res.Cart = snapshotOrNil(cart)
			return nil
		}
		if settings.RealTimeStockValidationEnabled && !e.stockAvailable(ctx, id, in.Quantity) {
			res.fail(pkgerrors.CodeOutOfStock, "requested quantity is not in stock")
			res.Cart = snapshotOrNil(cart)
			return nil
		}

		if existing == nil {
			cart.Items = append(cart.Items, ActiveCartItem{
				ProductID:  id.ProductID,
				VariantID:  id.VariantID,
				Quantity:   in.Quantity,
				UnitPrice:  price,
				Attributes: cloneAttributes(in.Attributes),
				AddedAt:    now,
				UpdatedAt:  now,
			})
			existing = &cart.Items[len(cart.Items)-1]
		} else {
			if settings.RealTimePriceValidationEnabled {
				if priceDiffers(existing.UnitPrice, price) {
					res.warn(enums.CartWarningPriceChanged, &id, "price changed from "+existing.UnitPrice.Decimal.StringFixed(2)+" to "+price.Decimal.StringFixed(2))
				}
				existing.UnitPrice = price
			}
			existing.Quantity = in.Quantity
			if in.Attributes != nil {
				existing.Attributes = cloneAttributes(in.Attributes)
			}
			existing.UpdatedAt = now
		}
		if info != nil {
			existing.ProductName = info.Name
			existing.ImageURL = info.ImageURL
		}
		added := *existing

		cart.Touch(now)
		reservation := e.syncReservation(cart, enums.ReleaseReasonCleared, now)
		saved, err := e.saveActive(ctx, cart)
		if err != nil {
			return err
		}
		e.publish(ctx, append([]Event{itemAddedEvent(saved, added, now)}, reservation...)...)
		res.Cart = saved.Clone()
		return nil
	}, owner)
	if err != nil {
		return nil, err
	}
	return res, nil
}

// UpdateItemQuantity overwrites the quantity of an existing line.
func (e *Engine) UpdateItemQuantity(ctx context.Context, owner Owner, productID uuid.UUID, variantID string, quantity int) (res *OperationResult, err error) {
	defer func() { e.observe("update_quantity", res, err) }()
	settings := e.settings.Current()
	res = newResult()

	if verr := owner.Validate(); verr != nil {
		return res.fail(pkgerrors.CodeValidation, validationMessage(verr)), nil
	}
	id, verr := normaliseIdentity(productID, variantID)
	if verr != nil {
		return res.fail(pkgerrors.CodeValidation, validationMessage(verr)), nil
	}
	if quantity <= 0 {
		return res.fail(pkgerrors.CodeValidation, "quantity must be a positive integer"), nil
	}

	err = e.withOwners(ctx, func(ctx context.Context) error {
		cart, err := e.loadActive(ctx, owner)
		if err != nil {
			return err
		}
		if cart == nil {
			res.fail(pkgerrors.CodeNotFound, "item not found in active cart")
			return nil
		}
		line := cart.Item(id)
		if line == nil {
			res.fail(pkgerrors.CodeNotFound, "item not found in active cart")
			res.Cart = cart.Clone()
			return nil
		}
		if settings.RealTimeStockValidationEnabled && !e.stockAvailable(ctx, id, quantity) {
			res.fail(pkgerrors.CodeOutOfStock, "requested quantity is not in stock")
			res.Cart = cart.Clone()
			return nil
		}

		now := e.now()
		line.Quantity = quantity
		line.UpdatedAt = now
		cart.Touch(now)
		reservation := e.syncReservation(cart, enums.ReleaseReasonCleared, now)
		saved, err := e.saveActive(ctx, cart)
		if err != nil {
			return err
		}
		e.publish(ctx, reservation...)
		res.Cart = saved.Clone()
		return nil
	}, owner)
	if err != nil {
		return nil, err
	}
	return res, nil
}

// RemoveItem is idempotent: removing an absent line succeeds without a write.
func (e *Engine) RemoveItem(ctx context.Context, owner Owner, productID uuid.UUID, variantID string) (res *OperationResult, err error) {
	defer func() { e.observe("remove_item", res, err) }()
	res = newResult()

	if verr := owner.Validate(); verr != nil {
		return res.fail(pkgerrors.CodeValidation, validationMessage(verr)), nil
	}
	id, verr := normaliseIdentity(productID, variantID)
	if verr != nil {
		return res.fail(pkgerrors.CodeValidation, validationMessage(verr)), nil
	}

	err = e.withOwners(ctx, func(ctx context.Context) error {
		cart, err := e.loadActive(ctx, owner)
		if err != nil || cart == nil {
			return err
		}
		if _, removed := cart.Remove(id); !removed {
			res.Cart = cart.Clone()
			return nil
		}

		now := e.now()
		cart.Touch(now)
		reservation := e.syncReservation(cart, enums.ReleaseReasonCleared, now)
		saved, err := e.saveActive(ctx, cart)
		if err != nil {
			return err
		}
		e.publish(ctx, reservation...)
		res.Cart = saved.Clone()
		return nil
	}, owner)
	if err != nil {
		return nil, err
	}
	return res, nil
}

// ClearCart deletes the active cart and gives back any held stock.
func (e *Engine) ClearCart(ctx context.Context, owner Owner) (res *OperationResult, err error) {
	defer func() { e.observe("clear_cart", res, err) }()
	res = newResult()
	if verr := owner.Validate(); verr != nil {
		return res.fail(pkgerrors.CodeValidation, validationMessage(verr)), nil
	}

	err = e.withOwners(ctx, func(ctx context.Context) error {
		cart, err := e.loadActive(ctx, owner)
		if err != nil || cart == nil {
			return err
		}
		if err := e.deleteActive(ctx, owner); err != nil {
			return err
		}
		now := e.now()
		events := []Event{cartClosedEvent(enums.EventActiveCartCleared, cart, now)}
		if cart.ReservationState.Holding() {
			events = append(events, ReservationReleased(owner, enums.ReleaseReasonCleared, nil, now))
		}
		e.publish(ctx, events...)
		return nil
	}, owner)
	if err != nil {
		return nil, err
	}
	return res, nil
}

// CompleteCheckout drops the active cart once an order has been placed. The
// reservation is left alone because the order consumes it.
func (e *Engine) CompleteCheckout(ctx context.Context, owner Owner) (res *OperationResult, err error) {
	defer func() { e.observe("complete_checkout", res, err) }()
	res = newResult()
	if verr := owner.Validate(); verr != nil {
		return res.fail(pkgerrors.CodeValidation, validationMessage(verr)), nil
	}

	err = e.withOwners(ctx, func(ctx context.Context) error {
		cart, err := e.loadActive(ctx, owner)
		if err != nil {
			return err
		}
		if cart == nil {
			res.fail(pkgerrors.CodeNotFound, "active cart not found")
			return nil
		}
		if err := e.deleteActive(ctx, owner); err != nil {
			return err
		}
		e.publish(ctx, cartClosedEvent(enums.EventActiveCartCheckedOut, cart, e.now()))
		return nil
	}, owner)
	if err != nil {
		return nil, err
	}
	return res, nil
}

// GetActiveCart is read only. Prices are never refreshed on read.
func (e *Engine) GetActiveCart(ctx context.Context, owner Owner) (res *OperationResult, err error) {
	defer func() { e.observe("get_active_cart", res, err) }()
	settings := e.settings.Current()
	res = newResult()
	if verr := owner.Validate(); verr != nil {
		return res.fail(pkgerrors.CodeValidation, validationMessage(verr)), nil
	}

	cart, err := e.loadActive(ctx, owner)
	if err != nil {
		return nil, err
	}
	if cart == nil {
		return res, nil
	}
	window := settings.ActiveCartExpiry() / staleFraction
	if !cart.ExpiresAt.IsZero() && cart.ExpiresAt.Sub(e.now()) <= window {
		res.warn(enums.CartWarningStaleCart, nil, "cart expires soon")
	}
	res.Cart = cart
	return res, nil
}

// ApplyReservationOutcome settles a pending reservation. It only moves carts out
// of the requested state and never counts as owner activity.
func (e *Engine) ApplyReservationOutcome(ctx context.Context, owner Owner, reserved bool) (applied bool, err error) {
	if verr := owner.Validate(); verr != nil {
		return false, verr
	}
	err = e.withOwners(ctx, func(ctx context.Context) error {
		cart, err := e.loadActive(ctx, owner)
		if err != nil || cart == nil {
			return err
		}
		if cart.ReservationState != enums.ReservationRequested {
			return nil
		}
		if reserved {
			cart.ReservationState = enums.ReservationReserved
		} else {
			cart.ReservationState = enums.ReservationNone
		}
		if _, err := e.saveActive(ctx, cart); err != nil {
			return err
		}
		applied = true
		return nil
	}, owner)
	if err != nil {
		return false, err
	}
	return applied, nil
}

func snapshotOrNil(cart *ActiveCart) *ActiveCart {
	if cart == nil || len(cart.Items) == 0 {
		return nil
	}
	return cart.Clone()
}
