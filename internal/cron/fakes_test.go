package cron

import (
	"context"
	"errors"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/dualcart-backend/internal/cart"
	"github.com/angelmondragon/dualcart-backend/pkg/config"
	"github.com/angelmondragon/dualcart-backend/pkg/db/models"
	"github.com/angelmondragon/dualcart-backend/pkg/enums"
	"github.com/angelmondragon/dualcart-backend/pkg/logger"
)

var jobNow = time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)

func testLogger() *logger.Logger {
	return logger.New(logger.Options{ServiceName: "cron-test", Output: io.Discard})
}

type inlineTx struct{ calls int }

func (r *inlineTx) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	r.calls++
	return fn(nil)
}

type staticSettings struct{ settings config.CartSettings }

func (s staticSettings) Current() config.CartSettings { return s.settings }

type passLocks struct {
	mu   sync.Mutex
	keys []string
}

func (l *passLocks) Acquire(ctx context.Context, key string) (context.Context, func(), error) {
	l.mu.Lock()
	l.keys = append(l.keys, key)
	l.mu.Unlock()
	return ctx, func() {}, nil
}

// memoryCarts keeps documents and the activity index apart so tests can seed
// dangling index entries.
type memoryCarts struct {
	docs      map[string]*cart.ActiveCart
	index     map[string]time.Time
	deleteErr error
	saves     int
}

func newMemoryCarts() *memoryCarts {
	return &memoryCarts{docs: map[string]*cart.ActiveCart{}, index: map[string]time.Time{}}
}

func (m *memoryCarts) put(c *cart.ActiveCart) {
	m.docs[c.Owner.Key()] = c.Clone()
	m.index[c.Owner.Key()] = c.LastActivityAt
}

func (m *memoryCarts) Get(ctx context.Context, owner cart.Owner) (*cart.ActiveCart, error) {
	return m.Peek(ctx, owner)
}

func (m *memoryCarts) Peek(_ context.Context, owner cart.Owner) (*cart.ActiveCart, error) {
	c, ok := m.docs[owner.Key()]
	if !ok {
		return nil, nil
	}
	return c.Clone(), nil
}

func (m *memoryCarts) Save(_ context.Context, c *cart.ActiveCart) (*cart.ActiveCart, error) {
	m.saves++
	m.put(c)
	return c.Clone(), nil
}

func (m *memoryCarts) Delete(_ context.Context, owner cart.Owner) error {
	if m.deleteErr != nil {
		return m.deleteErr
	}
	delete(m.docs, owner.Key())
	delete(m.index, owner.Key())
	return nil
}

func (m *memoryCarts) Forget(_ context.Context, owner cart.Owner) error {
	delete(m.index, owner.Key())
	return nil
}

func (m *memoryCarts) ListInactiveSince(_ context.Context, cutoff time.Time, limit int) ([]cart.Owner, error) {
	return m.list(func(at time.Time) bool { return !at.After(cutoff) }, limit)
}

func (m *memoryCarts) ListActive(_ context.Context, limit int) ([]cart.Owner, error) {
	return m.list(func(time.Time) bool { return true }, limit)
}

func (m *memoryCarts) list(keep func(time.Time) bool, limit int) ([]cart.Owner, error) {
	keys := make([]string, 0, len(m.index))
	for key, at := range m.index {
		if keep(at) {
			keys = append(keys, key)
		}
	}
	sort.Slice(keys, func(i, j int) bool {
		if m.index[keys[i]].Equal(m.index[keys[j]]) {
			return keys[i] < keys[j]
		}
		return m.index[keys[i]].Before(m.index[keys[j]])
	})
	if limit > 0 && len(keys) > limit {
		keys = keys[:limit]
	}
	owners := make([]cart.Owner, 0, len(keys))
	for _, key := range keys {
		owner, err := cart.ParseOwnerKey(key)
		if err != nil {
			return nil, err
		}
		owners = append(owners, owner)
	}
	return owners, nil
}

type memoryNextPurchase struct {
	carts   map[uuid.UUID]*models.NextPurchaseCart
	saveErr error
	saves   int
}

func newMemoryNextPurchase() *memoryNextPurchase {
	return &memoryNextPurchase{carts: map[uuid.UUID]*models.NextPurchaseCart{}}
}

func (m *memoryNextPurchase) GetByUserID(_ context.Context, userID uuid.UUID) (*models.NextPurchaseCart, error) {
	np, ok := m.carts[userID]
	if !ok {
		return nil, nil
	}
	return copyNextPurchase(np), nil
}

func (m *memoryNextPurchase) Save(_ context.Context, np *models.NextPurchaseCart) (*models.NextPurchaseCart, error) {
	if m.saveErr != nil {
		return nil, m.saveErr
	}
	m.saves++
	m.carts[np.UserID] = copyNextPurchase(np)
	return copyNextPurchase(np), nil
}

func (m *memoryNextPurchase) factory(*gorm.DB) nextPurchaseStore { return m }

func copyNextPurchase(np *models.NextPurchaseCart) *models.NextPurchaseCart {
	out := *np
	out.Items = append([]models.NextPurchaseCartItem(nil), np.Items...)
	out.AppliedMoves = append([]uuid.UUID(nil), np.AppliedMoves...)
	return &out
}

type recordingEvents struct {
	events []cart.Event
	err    error
}

func (r *recordingEvents) PublishTx(_ context.Context, _ *gorm.DB, events ...cart.Event) error {
	if r.err != nil {
		return r.err
	}
	r.events = append(r.events, events...)
	return nil
}

func (r *recordingEvents) ofType(kind enums.OutboxEventType) []cart.Event {
	var out []cart.Event
	for _, ev := range r.events {
		if ev.Type == kind {
			out = append(out, ev)
		}
	}
	return out
}

func activeCartWith(owner cart.Owner, lastActivity time.Time, lines map[uuid.UUID]int) *cart.ActiveCart {
	c := cart.NewActiveCart(owner, lastActivity)
	ids := make([]uuid.UUID, 0, len(lines))
	for id := range lines {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].String() < ids[j].String() })
	for _, id := range ids {
		c.Items = append(c.Items, cart.ActiveCartItem{
			ProductID: id,
			Quantity:  lines[id],
			AddedAt:   lastActivity,
			UpdatedAt: lastActivity,
		})
	}
	return c
}

var errBoom = errors.New("boom")
