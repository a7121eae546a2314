package cart

import (
	"context"
	"errors"
	"io"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/dualcart-backend/internal/catalog"
	"github.com/angelmondragon/dualcart-backend/pkg/config"
	"github.com/angelmondragon/dualcart-backend/pkg/db/models"
	"github.com/angelmondragon/dualcart-backend/pkg/enums"
	"github.com/angelmondragon/dualcart-backend/pkg/logger"
)

var errStoreDown = errors.New("store unreachable")

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type staticSettings struct {
	mu       sync.Mutex
	settings config.CartSettings
}

func (s *staticSettings) Current() config.CartSettings {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.settings
}

func (s *staticSettings) update(fn func(*config.CartSettings)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(&s.settings)
}

// memoryActiveStore mimics RedisActiveStore semantics, including logical expiry.
type memoryActiveStore struct {
	mu       sync.Mutex
	carts    map[string]*ActiveCart
	settings SettingsSource
	clock    *fakeClock
	saves    int
	failSave bool
	// allowSaves, when set, is how many more saves succeed before failSave kicks in.
	allowSaves *int
}

func newMemoryActiveStore(settings SettingsSource, clock *fakeClock) *memoryActiveStore {
	return &memoryActiveStore{carts: map[string]*ActiveCart{}, settings: settings, clock: clock}
}

func (s *memoryActiveStore) Get(ctx context.Context, owner Owner) (*ActiveCart, error) {
	cart, err := s.Peek(ctx, owner)
	if err != nil || cart == nil {
		return nil, err
	}
	if s.clock.Now().After(cart.LastActivityAt.Add(s.settings.Current().ActiveCartExpiry())) {
		return nil, nil
	}
	return cart, nil
}

func (s *memoryActiveStore) Peek(_ context.Context, owner Owner) (*ActiveCart, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.carts[owner.Key()].Clone(), nil
}

func (s *memoryActiveStore) Save(_ context.Context, cart *ActiveCart) (*ActiveCart, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.allowSaves != nil {
		if *s.allowSaves == 0 {
			return nil, errStoreDown
		}
		*s.allowSaves--
	}
	if s.failSave {
		return nil, errStoreDown
	}
	cart.ExpiresAt = cart.LastActivityAt.Add(s.settings.Current().ActiveCartExpiry())
	s.carts[cart.Owner.Key()] = cart.Clone()
	s.saves++
	return cart.Clone(), nil
}

func (s *memoryActiveStore) Delete(_ context.Context, owner Owner) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.carts, owner.Key())
	return nil
}

func (s *memoryActiveStore) Forget(context.Context, Owner) error { return nil }

func (s *memoryActiveStore) ListInactiveSince(_ context.Context, cutoff time.Time, limit int) ([]Owner, error) {
	return s.list(func(c *ActiveCart) bool { return !c.LastActivityAt.After(cutoff) }, limit), nil
}

func (s *memoryActiveStore) ListActive(_ context.Context, limit int) ([]Owner, error) {
	return s.list(func(*ActiveCart) bool { return true }, limit), nil
}

func (s *memoryActiveStore) list(keep func(*ActiveCart) bool, limit int) []Owner {
	s.mu.Lock()
	defer s.mu.Unlock()
	var carts []*ActiveCart
	for _, c := range s.carts {
		if keep(c) {
			carts = append(carts, c)
		}
	}
	sort.Slice(carts, func(i, j int) bool { return carts[i].LastActivityAt.Before(carts[j].LastActivityAt) })
	owners := make([]Owner, 0, len(carts))
	for _, c := range carts {
		if limit > 0 && len(owners) == limit {
			break
		}
		owners = append(owners, c.Owner)
	}
	return owners
}

func (s *memoryActiveStore) failAfter(saves int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.allowSaves = &saves
}

func (s *memoryActiveStore) restore() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.allowSaves = nil
	s.failSave = false
}

func (s *memoryActiveStore) put(cart *ActiveCart) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cart.ExpiresAt = cart.LastActivityAt.Add(s.settings.Current().ActiveCartExpiry())
	s.carts[cart.Owner.Key()] = cart.Clone()
}

func (s *memoryActiveStore) raw(owner Owner) *ActiveCart {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.carts[owner.Key()].Clone()
}

type memoryNextPurchase struct {
	mu       sync.Mutex
	carts    map[uuid.UUID]*models.NextPurchaseCart
	failSave bool
}

func newMemoryNextPurchase() *memoryNextPurchase {
	return &memoryNextPurchase{carts: map[uuid.UUID]*models.NextPurchaseCart{}}
}

func (s *memoryNextPurchase) GetByUserID(_ context.Context, userID uuid.UUID) (*models.NextPurchaseCart, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneNextPurchase(s.carts[userID]), nil
}

func (s *memoryNextPurchase) Save(_ context.Context, cart *models.NextPurchaseCart) (*models.NextPurchaseCart, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failSave {
		return nil, errStoreDown
	}
	s.carts[cart.UserID] = cloneNextPurchase(cart)
	return cloneNextPurchase(cart), nil
}

func (s *memoryNextPurchase) Delete(_ context.Context, userID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.carts, userID)
	return nil
}

func (s *memoryNextPurchase) raw(userID uuid.UUID) *models.NextPurchaseCart {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneNextPurchase(s.carts[userID])
}

// fakeCatalog has unlimited stock at 10.00 unless told otherwise.
type fakeCatalog struct {
	mu         sync.Mutex
	stock      map[uuid.UUID]int
	prices     map[uuid.UUID]decimal.NullDecimal
	inactive   map[uuid.UUID]bool
	stockErr   error
	priceErr   error
	infoErr    error
	stockCalls int
	// beforeStock runs at the start of every stock check, outside the lock.
	beforeStock func()
}

func newFakeCatalog() *fakeCatalog {
	return &fakeCatalog{
		stock:    map[uuid.UUID]int{},
		prices:   map[uuid.UUID]decimal.NullDecimal{},
		inactive: map[uuid.UUID]bool{},
	}
}

func (c *fakeCatalog) ProductInfo(_ context.Context, productID uuid.UUID) (*catalog.ProductInfo, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.infoErr != nil {
		return nil, c.infoErr
	}
	return &catalog.ProductInfo{ProductID: productID, Name: "product " + productID.String()[:8], Active: !c.inactive[productID]}, nil
}

func (c *fakeCatalog) CheckStock(_ context.Context, productID uuid.UUID, _ string, quantity int) (bool, error) {
	if c.beforeStock != nil {
		c.beforeStock()
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stockCalls++
	if c.stockErr != nil {
		return false, c.stockErr
	}
	available, ok := c.stock[productID]
	if !ok {
		return true, nil
	}
	return quantity <= available, nil
}

func (c *fakeCatalog) CurrentPrice(_ context.Context, productID uuid.UUID, _ string) (decimal.NullDecimal, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.priceErr != nil {
		return decimal.NullDecimal{}, c.priceErr
	}
	if price, ok := c.prices[productID]; ok {
		return price, nil
	}
	return price("10.00"), nil
}

func (c *fakeCatalog) setStock(productID uuid.UUID, available int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stock[productID] = available
}

func (c *fakeCatalog) setPrice(productID uuid.UUID, value string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if value == "" {
		c.prices[productID] = decimal.NullDecimal{}
		return
	}
	c.prices[productID] = price(value)
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []Event
	err    error
}

func (p *recordingPublisher) Publish(_ context.Context, events ...Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.events = append(p.events, events...)
	return nil
}

func (p *recordingPublisher) ofType(kind enums.OutboxEventType) []Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []Event
	for _, ev := range p.events {
		if ev.Type == kind {
			out = append(out, ev)
		}
	}
	return out
}

type engineFixture struct {
	engine   *Engine
	active   *memoryActiveStore
	next     *memoryNextPurchase
	catalog  *fakeCatalog
	settings *staticSettings
	events   *recordingPublisher
	clock    *fakeClock
}

func newEngineFixture(t *testing.T) *engineFixture {
	t.Helper()
	return newEngineFixtureWithLocks(t, NewOwnerLocks(OwnerLocksParams{}))
}

func newEngineFixtureWithLocks(t *testing.T, locks Locker) *engineFixture {
	t.Helper()
	clock := newFakeClock()
	settings := &staticSettings{settings: config.DefaultCartSettings()}
	f := &engineFixture{
		active:   newMemoryActiveStore(settings, clock),
		next:     newMemoryNextPurchase(),
		catalog:  newFakeCatalog(),
		settings: settings,
		events:   &recordingPublisher{},
		clock:    clock,
	}
	engine, err := NewEngine(EngineParams{
		Active:       f.active,
		NextPurchase: f.next,
		Catalog:      f.catalog,
		Settings:     settings,
		Locks:        locks,
		Events:       f.events,
		Logger:       testLogger(),
		Clock:        clock.Now,
	})
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	f.engine = engine
	return f
}

// replica builds a second engine over f's stores, as another process would.
func (f *engineFixture) replica(t *testing.T, locks Locker, catalog *fakeCatalog) *Engine {
	t.Helper()
	engine, err := NewEngine(EngineParams{
		Active:       f.active,
		NextPurchase: f.next,
		Catalog:      catalog,
		Settings:     f.settings,
		Locks:        locks,
		Events:       f.events,
		Logger:       testLogger(),
		Clock:        f.clock.Now,
	})
	if err != nil {
		t.Fatalf("new replica engine: %v", err)
	}
	return engine
}

func testLogger() *logger.Logger {
	return logger.New(logger.Options{ServiceName: "cart-test", Output: io.Discard})
}

func price(value string) decimal.NullDecimal {
	return decimal.NewNullDecimal(decimal.RequireFromString(value))
}

func intPtr(v int) *int { return &v }

func (f *engineFixture) add(t *testing.T, owner Owner, productID uuid.UUID, quantity int) *OperationResult {
	t.Helper()
	res, err := f.engine.AddItemToActiveCart(context.Background(), owner, AddItemInput{ProductID: productID, Quantity: quantity})
	if err != nil {
		t.Fatalf("add item: %v", err)
	}
	if !res.Success {
		t.Fatalf("add item failed: %+v", res.Failure)
	}
	return res
}

func lineQuantity(cart *ActiveCart, productID uuid.UUID) int {
	if cart == nil {
		return 0
	}
	if item := cart.Item(ItemIdentity{ProductID: productID}); item != nil {
		return item.Quantity
	}
	return 0
}

func parkedQuantity(np *models.NextPurchaseCart, productID uuid.UUID) int {
	if idx := findNextPurchaseItem(np, ItemIdentity{ProductID: productID}); idx >= 0 {
		return np.Items[idx].Quantity
	}
	return 0
}
