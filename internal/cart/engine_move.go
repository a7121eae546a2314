package cart

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/dualcart-backend/pkg/db/models"
	"github.com/angelmondragon/dualcart-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/dualcart-backend/pkg/errors"
	"github.com/angelmondragon/dualcart-backend/pkg/outbox/payloads"
)

func (e *Engine) loadNextPurchase(ctx context.Context, userID uuid.UUID) (*models.NextPurchaseCart, error) {
	np, err := e.nextPurchase.GetByUserID(ctx, userID)
	if err != nil {
		return nil, dependencyError(err, "load next purchase cart")
	}
	return np, nil
}

func (e *Engine) saveNextPurchase(ctx context.Context, np *models.NextPurchaseCart) (*models.NextPurchaseCart, error) {
	if ctx.Err() != nil {
		return nil, dependencyError(context.Cause(ctx), "save next purchase cart")
	}
	saved, err := e.nextPurchase.Save(ctx, np)
	if err != nil {
		return nil, dependencyError(err, "save next purchase cart")
	}
	return saved, nil
}

// settleInterrupted finishes moves an earlier operation left pending, writing
// np before cart. It is a no-op for a cart with nothing pending.
func (e *Engine) settleInterrupted(ctx context.Context, cart *ActiveCart, np *models.NextPurchaseCart) (*ActiveCart, *models.NextPurchaseCart, error) {
	if cart == nil || len(cart.PendingMoves) == 0 {
		return cart, np, nil
	}
	activeChanged, npChanged := SettlePendingMoves(cart, np, e.now())
	if npChanged {
		saved, err := e.saveNextPurchase(ctx, np)
		if err != nil {
			return nil, nil, err
		}
		np = saved
	}
	if activeChanged {
		saved, err := e.saveActive(ctx, cart)
		if err != nil {
			return nil, nil, err
		}
		cart = saved
	}
	e.logg.Info(e.logg.WithOwner(ctx, cart.Owner.Key()), "settled interrupted cart move")
	return cart, np, nil
}

// finishMove clears the pending marker once both halves of a move are saved.
// A failed clear is left for the settle sweep: the move itself is complete.
func (e *Engine) finishMove(ctx context.Context, cart *ActiveCart, moveID uuid.UUID) *ActiveCart {
	marked := cart.Clone()
	cart.finishMove(moveID)
	saved, err := e.saveActive(ctx, cart)
	if err != nil {
		e.logg.Warn(e.logg.WithOwner(ctx, cart.Owner.Key()), "cart move finished but its marker was not cleared: "+err.Error())
		return marked
	}
	return saved
}

// MoveItemToNextPurchase parks quantity units of a line (all of it when nil) in
// the owner's next purchase cart. A pending marker is saved on the active cart
// first and the durable copy is written before the active line is reduced, so
// an interrupted move is finished or undone by the settle sweep and nothing is
// lost or doubled.
func (e *Engine) MoveItemToNextPurchase(ctx context.Context, owner Owner, productID uuid.UUID, variantID string, quantity *int) (res *OperationResult, err error) {
	defer func() { e.observe("move_to_next_purchase", res, err) }()
	res = newResult()
	if !requireRegistered(res, owner) {
		return res, nil
	}
	id, verr := normaliseIdentity(productID, variantID)
	if verr != nil {
		return res.fail(pkgerrors.CodeValidation, validationMessage(verr)), nil
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
		np, err := e.loadNextPurchase(ctx, owner.UserID)
		if err != nil {
			return err
		}
		if cart, np, err = e.settleInterrupted(ctx, cart, np); err != nil {
			return err
		}
		line := cart.Item(id)
		if line == nil {
			res.fail(pkgerrors.CodeNotFound, "item not found in active cart")
			res.Cart = cart.Clone()
			return nil
		}
		moved, qerr := moveQuantity(quantity, line.Quantity)
		if qerr != nil {
			res.fail(pkgerrors.CodeValidation, validationMessage(qerr))
			res.Cart = cart.Clone()
			return nil
		}
		parked := *line

		now := e.now()
		moveID := cart.beginMove(enums.MoveToNextPurchase, []MoveLine{{ProductID: id.ProductID, VariantID: id.VariantID, Quantity: moved}}, now)
		if _, err := e.saveActive(ctx, cart); err != nil {
			return err
		}

		if np == nil {
			np = NewNextPurchaseCart(owner.UserID, now)
		}
		AddToNextPurchase(np, parked, moved, now)
		np.LastActivityAt = now
		recordAppliedMove(np, cart, moveID)
		savedNP, err := e.saveNextPurchase(ctx, np)
		if err != nil {
			e.logg.Warn(e.logg.WithOwner(ctx, owner.Key()), "next purchase write failed; move left pending for settle")
			return err
		}

		cart.decrement(id, moved, now)
		cart.finishMove(moveID)
		cart.Touch(now)

		var events []Event
		if cart.ReservationState.Holding() {
			events = append(events, ReservationReleased(owner, enums.ReleaseReasonMovedToNextPurchase,
				[]payloads.CartLine{{ProductID: id.ProductID, VariantID: id.VariantID, Quantity: moved}}, now))
			if len(cart.Items) == 0 {
				cart.ReservationState = enums.ReservationReleased
			}
		}
		saved, err := e.saveActive(ctx, cart)
		if err != nil {
			e.logg.Warn(e.logg.WithOwner(ctx, owner.Key()), "line saved for later but active cart write failed; move left pending for settle")
			return err
		}
		events = append(events, itemSavedForLaterEvent(saved, savedNP, id, moved, now))
		e.publish(ctx, events...)

		res.Cart = saved.Clone()
		res.NextPurchase = cloneNextPurchase(savedNP)
		return nil
	}, owner)
	if err != nil {
		return nil, err
	}
	return res, nil
}

// MoveItemToActiveCart brings one parked line back, revalidating stock and
// price. The price lookup runs before the owner lock; only the final stock
// confirmation runs under it.
func (e *Engine) MoveItemToActiveCart(ctx context.Context, userID uuid.UUID, productID uuid.UUID, variantID string, quantity *int) (res *OperationResult, err error) {
	defer func() { e.observe("move_to_active", res, err) }()
	settings := e.settings.Current()
	res = newResult()
	owner := RegisteredOwner(userID)
	if !requireRegistered(res, owner) {
		return res, nil
	}
	id, verr := normaliseIdentity(productID, variantID)
	if verr != nil {
		return res.fail(pkgerrors.CodeValidation, validationMessage(verr)), nil
	}

	snapshot, err := e.loadNextPurchase(ctx, userID)
	if err != nil {
		return nil, err
	}
	if findNextPurchaseItem(snapshot, id) < 0 {
		res.fail(pkgerrors.CodeNotFound, "item not found in next purchase cart")
		res.NextPurchase = snapshot
		return res, nil
	}
	var current decimal.NullDecimal
	if settings.RealTimePriceValidationEnabled {
		var ok bool
		if current, ok = e.currentPrice(ctx, id); !ok {
			return res.fail(pkgerrors.CodePriceUnavailable, "current price is unavailable"), nil
		}
	}

	err = e.withOwners(ctx, func(ctx context.Context) error {
		np, err := e.loadNextPurchase(ctx, userID)
		if err != nil {
			return err
		}
		cart, err := e.loadActive(ctx, owner)
		if err != nil {
			return err
		}
		if cart, np, err = e.settleInterrupted(ctx, cart, np); err != nil {
			return err
		}
		idx := findNextPurchaseItem(np, id)
		if idx < 0 {
			res.fail(pkgerrors.CodeNotFound, "item not found in next purchase cart")
			res.NextPurchase = cloneNextPurchase(np)
			return nil
		}
		parked := np.Items[idx]
		moved, qerr := moveQuantity(quantity, parked.Quantity)
		if qerr != nil {
			res.fail(pkgerrors.CodeValidation, validationMessage(qerr))
			res.NextPurchase = cloneNextPurchase(np)
			return nil
		}

		now := e.now()
		if cart == nil {
			cart = NewActiveCart(owner, now)
		}
		existing := cart.Item(id)
		if existing == nil && cart.DistinctCount() >= settings.MaxDistinctItemsInActiveCart {
			res.fail(pkgerrors.CodeItemLimitExceeded, "active cart already holds the maximum number of distinct items")
			res.Cart = snapshotOrNil(cart)
			res.NextPurchase = cloneNextPurchase(np)
			return nil
		}
		total := moved
		if existing != nil {
			total += existing.Quantity
		}
		if settings.RealTimeStockValidationEnabled && !e.stockAvailable(ctx, id, total) {
			res.fail(pkgerrors.CodeOutOfStock, "requested quantity is not in stock")
			res.Cart = snapshotOrNil(cart)
			res.NextPurchase = cloneNextPurchase(np)
			return nil
		}
		price := parked.LastKnownPrice
		if settings.RealTimePriceValidationEnabled {
			if priceDiffers(parked.LastKnownPrice, current) {
				res.warn(enums.CartWarningPriceChanged, &id, "price changed from "+parked.LastKnownPrice.Decimal.StringFixed(2)+" to "+current.Decimal.StringFixed(2))
			}
			price = current
		}

		applyToActive(cart, existing, parked, moved, price, now)
		cart.Touch(now)
		moveID := cart.beginMove(enums.MoveToActive, []MoveLine{{ProductID: id.ProductID, VariantID: id.VariantID, Quantity: moved}}, now)
		reservation := e.syncReservation(cart, enums.ReleaseReasonCleared, now)
		if _, err := e.saveActive(ctx, cart); err != nil {
			return err
		}

		takeFromNextPurchase(np, id, moved)
		np.LastActivityAt = now
		recordAppliedMove(np, cart, moveID)
		savedNP, err := e.saveNextPurchase(ctx, np)
		if err != nil {
			e.logg.Warn(e.logg.WithOwner(ctx, owner.Key()), "line moved to active cart but next purchase write failed; move left pending for settle")
			return err
		}
		saved := e.finishMove(ctx, cart, moveID)

		e.publish(ctx, append(reservation, itemMovedToActiveEvent(saved, savedNP, id, moved, false, now))...)
		res.item(id, moved, enums.ItemOutcomeSucceeded, "")
		res.Cart = saved.Clone()
		res.NextPurchase = cloneNextPurchase(savedNP)
		return nil
	}, owner)
	if err != nil {
		return nil, err
	}
	return res, nil
}

// applyToActive sums a parked line into the active cart.
func applyToActive(cart *ActiveCart, existing *ActiveCartItem, parked models.NextPurchaseCartItem, quantity int, price decimal.NullDecimal, now time.Time) {
	if existing != nil {
		existing.Quantity += quantity
		if price.Valid {
			existing.UnitPrice = price
		}
		existing.UpdatedAt = now
		return
	}
	cart.Items = append(cart.Items, ActiveCartItem{
		ProductID:   parked.ProductID,
		VariantID:   parked.VariantID,
		Quantity:    quantity,
		UnitPrice:   price,
		Attributes:  cloneAttributes(parked.Attributes),
		ProductName: parked.ProductName,
		ImageURL:    parked.ImageURL,
		AddedAt:     now,
		UpdatedAt:   now,
	})
}

type activation struct {
	line     models.NextPurchaseCartItem
	price    decimal.NullDecimal
	drifted  bool
	quantity int
}

// ActivateNextPurchaseItems moves parked lines (all of them when selection is
// empty) back into the active cart. Without force, any stock failure aborts the
// whole call and price drift leaves the line parked for individual confirmation.
// With force, out-of-stock lines are skipped and drift only warns. Prices are
// looked up before the owner lock; the stock checks run under it, concurrently.
func (e *Engine) ActivateNextPurchaseItems(ctx context.Context, owner Owner, force bool, selection []ItemIdentity) (res *OperationResult, err error) {
	defer func() { e.observe("activate_next_purchase", res, err) }()
	settings := e.settings.Current()
	res = newResult()
	res.Items = []ItemResult{}
	if !requireRegistered(res, owner) {
		return res, nil
	}

	snapshot, err := e.loadNextPurchase(ctx, owner.UserID)
	if err != nil {
		return nil, err
	}
	if snapshot == nil || len(snapshot.Items) == 0 {
		res.NextPurchase = snapshot
		return res, nil
	}
	priced := map[ItemIdentity]bool{}
	var prices map[ItemIdentity]decimal.NullDecimal
	if settings.RealTimePriceValidationEnabled {
		ids := make([]ItemIdentity, 0, len(snapshot.Items))
		for _, line := range selectLines(newResult(), snapshot, selection) {
			id := nextPurchaseIdentity(line)
			ids = append(ids, id)
			priced[id] = true
		}
		prices = e.lookupPrices(ctx, ids)
	}

	err = e.withOwners(ctx, func(ctx context.Context) error {
		np, err := e.loadNextPurchase(ctx, owner.UserID)
		if err != nil {
			return err
		}
		cart, err := e.loadActive(ctx, owner)
		if err != nil {
			return err
		}
		if cart, np, err = e.settleInterrupted(ctx, cart, np); err != nil {
			return err
		}
		if np == nil || len(np.Items) == 0 {
			res.NextPurchase = cloneNextPurchase(np)
			return nil
		}

		lines := selectLines(res, np, selection)
		now := e.now()
		if cart == nil {
			cart = NewActiveCart(owner, now)
		}

		var inStock []bool
		if settings.RealTimeStockValidationEnabled {
			checks := make([]stockCheck, 0, len(lines))
			for _, line := range lines {
				id := nextPurchaseIdentity(line)
				total := line.Quantity
				if existing := cart.Item(id); existing != nil {
					total += existing.Quantity
				}
				checks = append(checks, stockCheck{id: id, quantity: total})
			}
			inStock = e.stockAll(ctx, checks)
		}
		if settings.RealTimePriceValidationEnabled {
			var late []ItemIdentity
			for _, line := range lines {
				if id := nextPurchaseIdentity(line); !priced[id] {
					late = append(late, id)
				}
			}
			for id, price := range e.lookupPrices(ctx, late) {
				prices[id] = price
			}
		}

		accepted := make([]activation, 0, len(lines))
		for i, line := range lines {
			id := nextPurchaseIdentity(line)
			if inStock != nil && !inStock[i] {
				if !force {
					res.Items = nil
					res.fail(pkgerrors.CodeOutOfStock, "item "+id.String()+" is out of stock")
					res.Cart = snapshotOrNil(cart)
					res.NextPurchase = cloneNextPurchase(np)
					return nil
				}
				res.item(id, line.Quantity, enums.ItemOutcomeSkippedOutOfStock, "out of stock")
				continue
			}
			act := activation{line: line, price: line.LastKnownPrice, quantity: line.Quantity}
			if settings.RealTimePriceValidationEnabled {
				current, ok := prices[id]
				if !ok {
					res.item(id, line.Quantity, enums.ItemOutcomeFailed, "price unavailable")
					continue
				}
				act.drifted = priceDiffers(line.LastKnownPrice, current)
				act.price = current
			}
			accepted = append(accepted, act)
		}

		var activated []activation
		for _, act := range accepted {
			id := nextPurchaseIdentity(act.line)
			if act.drifted && !force {
				res.item(id, act.quantity, enums.ItemOutcomeSkippedPriceChanged, "price changed from "+act.line.LastKnownPrice.Decimal.StringFixed(2)+" to "+act.price.Decimal.StringFixed(2))
				continue
			}
			existing := cart.Item(id)
			if existing == nil && cart.DistinctCount() >= settings.MaxDistinctItemsInActiveCart {
				res.item(id, act.quantity, enums.ItemOutcomeFailed, "item limit exceeded")
				continue
			}
			if act.drifted {
				res.warn(enums.CartWarningPriceChanged, &id, "price changed from "+act.line.LastKnownPrice.Decimal.StringFixed(2)+" to "+act.price.Decimal.StringFixed(2))
			}
			applyToActive(cart, existing, act.line, act.quantity, act.price, now)
			res.item(id, act.quantity, enums.ItemOutcomeSucceeded, "")
			activated = append(activated, act)
		}

		if len(activated) == 0 {
			res.Cart = snapshotOrNil(cart)
			res.NextPurchase = cloneNextPurchase(np)
			return nil
		}

		moveLines := make([]MoveLine, 0, len(activated))
		for _, act := range activated {
			moveLines = append(moveLines, MoveLine{ProductID: act.line.ProductID, VariantID: act.line.VariantID, Quantity: act.quantity})
		}
		cart.Touch(now)
		moveID := cart.beginMove(enums.MoveToActive, moveLines, now)
		reservation := e.syncReservation(cart, enums.ReleaseReasonCleared, now)
		if _, err := e.saveActive(ctx, cart); err != nil {
			return err
		}

		for _, act := range activated {
			takeFromNextPurchase(np, nextPurchaseIdentity(act.line), act.quantity)
		}
		np.LastActivityAt = now
		recordAppliedMove(np, cart, moveID)
		savedNP, err := e.saveNextPurchase(ctx, np)
		if err != nil {
			e.logg.Warn(e.logg.WithOwner(ctx, owner.Key()), "lines activated but next purchase write failed; move left pending for settle")
			return err
		}
		saved := e.finishMove(ctx, cart, moveID)

		events := reservation
		for _, act := range activated {
			events = append(events, itemMovedToActiveEvent(saved, savedNP, nextPurchaseIdentity(act.line), act.quantity, force, now))
		}
		e.publish(ctx, events...)
		res.Cart = saved.Clone()
		res.NextPurchase = cloneNextPurchase(savedNP)
		return nil
	}, owner)
	if err != nil {
		return nil, err
	}
	return res, nil
}

// selectLines resolves the requested identities, reporting the ones not parked.
func selectLines(res *OperationResult, np *models.NextPurchaseCart, selection []ItemIdentity) []models.NextPurchaseCartItem {
	if len(selection) == 0 {
		lines := make([]models.NextPurchaseCartItem, len(np.Items))
		copy(lines, np.Items)
		return lines
	}
	seen := make(map[ItemIdentity]struct{}, len(selection))
	lines := make([]models.NextPurchaseCartItem, 0, len(selection))
	for _, id := range selection {
		id.VariantID = trimVariant(id.VariantID)
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		idx := findNextPurchaseItem(np, id)
		if idx < 0 {
			res.item(id, 0, enums.ItemOutcomeFailed, "not in next purchase cart")
			continue
		}
		lines = append(lines, np.Items[idx])
	}
	return lines
}

// GetNextPurchaseCart is read only.
func (e *Engine) GetNextPurchaseCart(ctx context.Context, owner Owner) (res *OperationResult, err error) {
	defer func() { e.observe("get_next_purchase", res, err) }()
	res = newResult()
	if !requireRegistered(res, owner) {
		return res, nil
	}
	np, err := e.loadNextPurchase(ctx, owner.UserID)
	if err != nil {
		return nil, err
	}
	res.NextPurchase = np
	return res, nil
}

// DeleteNextPurchaseCart removes the durable cart on explicit user request.
func (e *Engine) DeleteNextPurchaseCart(ctx context.Context, owner Owner) (res *OperationResult, err error) {
	defer func() { e.observe("delete_next_purchase", res, err) }()
	res = newResult()
	if !requireRegistered(res, owner) {
		return res, nil
	}
	err = e.withOwners(ctx, func(ctx context.Context) error {
		if ctx.Err() != nil {
			return dependencyError(context.Cause(ctx), "delete next purchase cart")
		}
		if err := e.nextPurchase.Delete(ctx, owner.UserID); err != nil {
			return dependencyError(err, "delete next purchase cart")
		}
		return nil
	}, owner)
	if err != nil {
		return nil, err
	}
	return res, nil
}
