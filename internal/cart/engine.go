package cart

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/angelmondragon/dualcart-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/dualcart-backend/pkg/errors"
	"github.com/angelmondragon/dualcart-backend/pkg/logger"
	"github.com/angelmondragon/dualcart-backend/pkg/metrics"
)

// catalogConcurrency bounds the catalog calls one operation has in flight.
const catalogConcurrency = 8

// EngineParams wires the engine collaborators.
type EngineParams struct {
	Active       ActiveStore
	NextPurchase NextPurchaseStore
	Catalog      Catalog
	Settings     SettingsSource
	Locks        Locker
	Events       EventPublisher
	Metrics      *metrics.CartMetrics
	Logger       *logger.Logger
	Clock        func() time.Time
}

// Engine enforces the dual-cart rules: one owner's operations are serialised by
// the owner lock, every move writes the destination before touching the source,
// and business rejections are reported in the OperationResult instead of as errors.
type Engine struct {
	active       ActiveStore
	nextPurchase NextPurchaseStore
	catalog      Catalog
	settings     SettingsSource
	locks        Locker
	events       EventPublisher
	metrics      *metrics.CartMetrics
	logg         *logger.Logger
	clock        func() time.Time
}

func NewEngine(params EngineParams) (*Engine, error) {
	if params.Active == nil {
		return nil, fmt.Errorf("active cart store required")
	}
	if params.NextPurchase == nil {
		return nil, fmt.Errorf("next purchase store required")
	}
	if params.Catalog == nil {
		return nil, fmt.Errorf("catalog client required")
	}
	if params.Settings == nil {
		return nil, fmt.Errorf("settings source required")
	}
	if params.Locks == nil {
		return nil, fmt.Errorf("owner locks required")
	}
	if params.Events == nil {
		return nil, fmt.Errorf("event publisher required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	clock := params.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Engine{
		active:       params.Active,
		nextPurchase: params.NextPurchase,
		catalog:      params.Catalog,
		settings:     params.Settings,
		locks:        params.Locks,
		events:       params.Events,
		metrics:      params.Metrics,
		logg:         params.Logger,
		clock:        clock,
	}, nil
}

func (e *Engine) now() time.Time {
	return e.clock().UTC()
}

// withOwners runs fn while holding the locks of every owner. Locks are taken in
// key order so two merges touching the same pair cannot deadlock. fn gets a
// context tied to every lease; a lease lost mid-operation fails it as a
// dependency error.
func (e *Engine) withOwners(ctx context.Context, fn func(ctx context.Context) error, owners ...Owner) error {
	keys := make([]string, 0, len(owners))
	for _, owner := range owners {
		keys = append(keys, owner.Key())
	}
	sort.Strings(keys)

	releases := make([]func(), 0, len(keys))
	defer func() {
		for i := len(releases) - 1; i >= 0; i-- {
			releases[i]()
		}
	}()
	lockCtx := ctx
	for _, key := range keys {
		held, release, err := e.locks.Acquire(lockCtx, key)
		if err != nil {
			return dependencyError(err, "acquire owner lock")
		}
		lockCtx = held
		releases = append(releases, release)
	}
	err := fn(lockCtx)
	if errors.Is(context.Cause(lockCtx), ErrLeaseLost) {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, ErrLeaseLost, "owner lease lost")
	}
	return err
}

func (e *Engine) loadActive(ctx context.Context, owner Owner) (*ActiveCart, error) {
	cart, err := e.active.Get(ctx, owner)
	if err != nil {
		return nil, dependencyError(err, "load active cart")
	}
	return cart, nil
}

// saveActive refuses to write once ctx is done so a cancelled request, or one
// whose owner lease lapsed, persists nothing.
func (e *Engine) saveActive(ctx context.Context, cart *ActiveCart) (*ActiveCart, error) {
	if ctx.Err() != nil {
		return nil, dependencyError(context.Cause(ctx), "save active cart")
	}
	saved, err := e.active.Save(ctx, cart)
	if err != nil {
		return nil, dependencyError(err, "save active cart")
	}
	return saved, nil
}

func (e *Engine) deleteActive(ctx context.Context, owner Owner) error {
	if ctx.Err() != nil {
		return dependencyError(context.Cause(ctx), "delete active cart")
	}
	if err := e.active.Delete(ctx, owner); err != nil {
		return dependencyError(err, "delete active cart")
	}
	return nil
}

// publish is best effort: the state change is already saved, so a failed
// outbox write is logged rather than surfaced.
func (e *Engine) publish(ctx context.Context, events ...Event) {
	if len(events) == 0 {
		return
	}
	if err := e.events.Publish(ctx, events...); err != nil {
		types := make([]string, 0, len(events))
		for _, ev := range events {
			types = append(types, string(ev.Type))
		}
		logCtx := e.logg.WithFields(ctx, map[string]any{"owner": events[0].Owner.Key(), "event_types": types})
		e.logg.Error(logCtx, "failed to record cart events", err)
	}
}

// syncReservation sets the reservation state for the cart about to be saved and
// returns the inventory event to publish once it is.
func (e *Engine) syncReservation(cart *ActiveCart, emptyReason enums.ReservationReleaseReason, at time.Time) []Event {
	if len(cart.Items) > 0 {
		cart.ReservationState = enums.ReservationRequested
		return []Event{ReservationRequested(cart, at)}
	}
	if cart.ReservationState.Holding() {
		cart.ReservationState = enums.ReservationReleased
		return []Event{ReservationReleased(cart.Owner, emptyReason, nil, at)}
	}
	return nil
}

// stockAvailable fails closed: lookup errors and timeouts count as no stock.
func (e *Engine) stockAvailable(ctx context.Context, id ItemIdentity, quantity int) bool {
	ok, err := e.catalog.CheckStock(ctx, id.ProductID, id.VariantID, quantity)
	if err != nil {
		logCtx := e.logg.WithField(ctx, "product_id", id.ProductID.String())
		e.logg.Warn(logCtx, "stock check failed: "+err.Error())
		return false
	}
	return ok
}

// currentPrice fails closed: lookup errors and missing prices are unavailable.
func (e *Engine) currentPrice(ctx context.Context, id ItemIdentity) (decimal.NullDecimal, bool) {
	price, err := e.catalog.CurrentPrice(ctx, id.ProductID, id.VariantID)
	if err != nil {
		logCtx := e.logg.WithField(ctx, "product_id", id.ProductID.String())
		e.logg.Warn(logCtx, "price lookup failed: "+err.Error())
		return decimal.NullDecimal{}, false
	}
	if !price.Valid {
		return decimal.NullDecimal{}, false
	}
	return price, true
}

type stockCheck struct {
	id       ItemIdentity
	quantity int
}

// stockAll runs the checks concurrently so a batch holds the owner lock for
// about one catalog round trip. Results line up with checks.
func (e *Engine) stockAll(ctx context.Context, checks []stockCheck) []bool {
	results := make([]bool, len(checks))
	var g errgroup.Group
	g.SetLimit(catalogConcurrency)
	for i, check := range checks {
		g.Go(func() error {
			results[i] = e.stockAvailable(ctx, check.id, check.quantity)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// lookupPrices fetches current prices concurrently. Identities whose lookup
// failed, or that have no price, are absent from the result.
func (e *Engine) lookupPrices(ctx context.Context, ids []ItemIdentity) map[ItemIdentity]decimal.NullDecimal {
	var mu sync.Mutex
	prices := make(map[ItemIdentity]decimal.NullDecimal, len(ids))
	var g errgroup.Group
	g.SetLimit(catalogConcurrency)
	for _, id := range ids {
		g.Go(func() error {
			if price, ok := e.currentPrice(ctx, id); ok {
				mu.Lock()
				prices[id] = price
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	return prices
}

func (e *Engine) observe(operation string, res *OperationResult, err error) {
	if e.metrics == nil {
		return
	}
	outcome := "success"
	switch {
	case err != nil:
		outcome = "error"
	case res != nil && !res.Success:
		outcome = string(res.FailureCode())
	}
	e.metrics.ObserveOperation(operation, outcome)
}

func priceDiffers(previous, current decimal.NullDecimal) bool {
	return previous.Valid && current.Valid && !previous.Decimal.Equal(current.Decimal)
}

func validationMessage(err error) string {
	if typed := pkgerrors.As(err); typed != nil {
		return typed.Message()
	}
	return err.Error()
}

func dependencyError(err error, message string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	if pkgerrors.As(err) != nil {
		return err
	}
	return pkgerrors.Wrap(pkgerrors.CodeDependency, err, message)
}

func requireRegistered(res *OperationResult, owner Owner) bool {
	if err := owner.Validate(); err != nil {
		res.fail(pkgerrors.CodeValidation, validationMessage(err))
		return false
	}
	if !owner.IsRegistered() {
		res.fail(pkgerrors.CodeRequiresAuthentication, "sign in to keep items for a future purchase")
		return false
	}
	return true
}

func normaliseIdentity(productID uuid.UUID, variantID string) (ItemIdentity, error) {
	if productID == uuid.Nil {
		return ItemIdentity{}, pkgerrors.New(pkgerrors.CodeValidation, "product id is required")
	}
	return ItemIdentity{ProductID: productID, VariantID: trimVariant(variantID)}, nil
}

func moveQuantity(requested *int, available int) (int, error) {
	if requested == nil {
		return available, nil
	}
	if *requested < 1 || *requested > available {
		return 0, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("quantity must be between 1 and %d", available))
	}
	return *requested, nil
}
