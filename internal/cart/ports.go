package cart

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/dualcart-backend/internal/catalog"
	"github.com/angelmondragon/dualcart-backend/pkg/config"
	"github.com/angelmondragon/dualcart-backend/pkg/db/models"
	"github.com/angelmondragon/dualcart-backend/pkg/enums"
)

// ActiveStore persists active carts. Get returns nil, nil when the cart is absent
// or logically expired.
type ActiveStore interface {
	Get(ctx context.Context, owner Owner) (*ActiveCart, error)
	Save(ctx context.Context, cart *ActiveCart) (*ActiveCart, error)
	Delete(ctx context.Context, owner Owner) error
}

// ExpiredCartSource is the worker view of the active store. Peek ignores
// logical expiry so expired carts can still be migrated.
type ExpiredCartSource interface {
	ActiveStore
	Peek(ctx context.Context, owner Owner) (*ActiveCart, error)
	ListInactiveSince(ctx context.Context, cutoff time.Time, limit int) ([]Owner, error)
	ListActive(ctx context.Context, limit int) ([]Owner, error)
	Forget(ctx context.Context, owner Owner) error
}

// NextPurchaseStore persists next purchase carts. GetByUserID returns nil, nil
// when the user has none.
type NextPurchaseStore interface {
	GetByUserID(ctx context.Context, userID uuid.UUID) (*models.NextPurchaseCart, error)
	Save(ctx context.Context, cart *models.NextPurchaseCart) (*models.NextPurchaseCart, error)
	Delete(ctx context.Context, userID uuid.UUID) error
}

// Catalog is the read-only product, stock and price surface.
type Catalog interface {
	ProductInfo(ctx context.Context, productID uuid.UUID) (*catalog.ProductInfo, error)
	CheckStock(ctx context.Context, productID uuid.UUID, variantID string, quantity int) (bool, error)
	CurrentPrice(ctx context.Context, productID uuid.UUID, variantID string) (decimal.NullDecimal, error)
}

// SettingsSource yields the cart settings snapshot for one operation.
type SettingsSource interface {
	Current() config.CartSettings
}

// Locker serialises work per owner key. Writes made under the lock use the
// returned context, which is cancelled once the lock can no longer be vouched for.
type Locker interface {
	Acquire(ctx context.Context, key string) (lockCtx context.Context, release func(), err error)
}

// Event is a cart domain event headed for the outbox.
type Event struct {
	Type          enums.OutboxEventType
	AggregateType enums.OutboxAggregateType
	AggregateID   uuid.UUID
	Owner         Owner
	Data          any
	OccurredAt    time.Time
}

// EventPublisher records events after the state change they describe is saved.
type EventPublisher interface {
	Publish(ctx context.Context, events ...Event) error
}
