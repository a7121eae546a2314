package cron

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/dualcart-backend/internal/cart"
	"github.com/angelmondragon/dualcart-backend/pkg/config"
	"github.com/angelmondragon/dualcart-backend/pkg/enums"
	"github.com/angelmondragon/dualcart-backend/pkg/outbox/payloads"
)

type expiryFixture struct {
	job    *cartExpiryJob
	carts  *memoryCarts
	next   *memoryNextPurchase
	events *recordingEvents
	locks  *passLocks
	tx     *inlineTx
}

func newExpiryFixture(t *testing.T) *expiryFixture {
	t.Helper()
	f := &expiryFixture{
		carts:  newMemoryCarts(),
		next:   newMemoryNextPurchase(),
		events: &recordingEvents{},
		locks:  &passLocks{},
		tx:     &inlineTx{},
	}
	jobIface, err := NewCartExpiryJob(CartExpiryJobParams{
		Logger:              testLogger(),
		DB:                  f.tx,
		Carts:               f.carts,
		Events:              f.events,
		Locks:               f.locks,
		Settings:            staticSettings{settings: config.DefaultCartSettings()},
		NextPurchaseFactory: f.next.factory,
	})
	if err != nil {
		t.Fatalf("NewCartExpiryJob: %v", err)
	}
	f.job = jobIface.(*cartExpiryJob)
	f.job.now = func() time.Time { return jobNow }
	return f
}

func TestCartExpiryJobMigratesRegisteredCart(t *testing.T) {
	f := newExpiryFixture(t)
	owner := cart.RegisteredOwner(uuid.New())
	shared, fresh := uuid.New(), uuid.New()
	lastActivity := jobNow.Add(-70 * time.Minute)

	active := activeCartWith(owner, lastActivity, map[uuid.UUID]int{shared: 2, fresh: 1})
	active.ReservationState = enums.ReservationReserved
	f.carts.put(active)

	np := cart.NewNextPurchaseCart(owner.UserID, jobNow.Add(-48*time.Hour))
	cart.AddToNextPurchase(np, cart.ActiveCartItem{ProductID: shared}, 3, jobNow.Add(-48*time.Hour))
	f.next.carts[owner.UserID] = np

	if err := f.job.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if _, ok := f.carts.docs[owner.Key()]; ok {
		t.Fatalf("expired cart should be deleted")
	}
	got := f.next.carts[owner.UserID]
	quantities := map[uuid.UUID]int{}
	for _, item := range got.Items {
		quantities[item.ProductID] = item.Quantity
	}
	if quantities[shared] != 5 || quantities[fresh] != 1 {
		t.Fatalf("unexpected migrated quantities %v", quantities)
	}
	if !got.LastActivityAt.Equal(lastActivity) {
		t.Fatalf("expected last activity %s, got %s", lastActivity, got.LastActivityAt)
	}
	if got.LastMigratedActivityAt == nil || !got.LastMigratedActivityAt.Equal(lastActivity) {
		t.Fatalf("migration marker not recorded: %v", got.LastMigratedActivityAt)
	}

	released := f.events.ofType(enums.EventReservationReleased)
	if len(released) != 1 {
		t.Fatalf("expected one release, got %d", len(released))
	}
	if reason := released[0].Data.(payloads.ReservationReleasedEvent).Reason; reason != enums.ReleaseReasonExpired {
		t.Fatalf("unexpected release reason %s", reason)
	}
	expired := f.events.ofType(enums.EventCartExpired)
	if len(expired) != 1 {
		t.Fatalf("expected one cart_expired, got %d", len(expired))
	}
	data := expired[0].Data.(payloads.CartExpiredEvent)
	if data.MigratedItems != 2 || data.DroppedItems != 0 || !data.ReservationReleased {
		t.Fatalf("unexpected cart_expired payload %+v", data)
	}
	if f.tx.calls != 1 {
		t.Fatalf("expected one transaction, got %d", f.tx.calls)
	}
}

func TestCartExpiryJobSkipsCartsWithinGrace(t *testing.T) {
	f := newExpiryFixture(t)
	owner := cart.RegisteredOwner(uuid.New())
	f.carts.put(activeCartWith(owner, jobNow.Add(-62*time.Minute), map[uuid.UUID]int{uuid.New(): 1}))

	if err := f.job.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if _, ok := f.carts.docs[owner.Key()]; !ok {
		t.Fatalf("cart inside the grace window must be kept")
	}
	if len(f.events.events) != 0 || f.next.saves != 0 {
		t.Fatalf("grace cart should not be touched")
	}
}

func TestCartExpiryJobDropsGuestCart(t *testing.T) {
	f := newExpiryFixture(t)
	owner := cart.GuestOwner("guest-abc")
	f.carts.put(activeCartWith(owner, jobNow.Add(-3*time.Hour), map[uuid.UUID]int{uuid.New(): 4}))

	if err := f.job.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if _, ok := f.carts.docs[owner.Key()]; ok {
		t.Fatalf("guest cart should be deleted")
	}
	if f.next.saves != 0 {
		t.Fatalf("guest carts are never migrated")
	}
	expired := f.events.ofType(enums.EventCartExpired)
	if len(expired) != 1 {
		t.Fatalf("expected cart_expired for guest, got %d", len(expired))
	}
	data := expired[0].Data.(payloads.CartExpiredEvent)
	if data.DroppedItems != 1 || data.MigratedItems != 0 || data.UserID != nil {
		t.Fatalf("unexpected guest payload %+v", data)
	}
	if len(f.events.ofType(enums.EventReservationReleased)) != 0 {
		t.Fatalf("cart without a hold should not release")
	}
}

func TestCartExpiryJobForgetsDanglingIndexEntries(t *testing.T) {
	f := newExpiryFixture(t)
	owner := cart.RegisteredOwner(uuid.New())
	f.carts.index[owner.Key()] = jobNow.Add(-5 * time.Hour)

	if err := f.job.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if _, ok := f.carts.index[owner.Key()]; ok {
		t.Fatalf("dangling index entry should be removed")
	}
	if len(f.events.events) != 0 {
		t.Fatalf("no events expected for a missing document")
	}
}

func TestCartExpiryJobDoesNotMigrateTwice(t *testing.T) {
	f := newExpiryFixture(t)
	owner := cart.RegisteredOwner(uuid.New())
	product := uuid.New()
	lastActivity := jobNow.Add(-2 * time.Hour)
	f.carts.put(activeCartWith(owner, lastActivity, map[uuid.UUID]int{product: 2}))

	f.carts.deleteErr = errBoom
	if err := f.job.Run(context.Background()); !errors.Is(err, errBoom) {
		t.Fatalf("expected delete failure to surface, got %v", err)
	}
	if qty := f.next.carts[owner.UserID].Items[0].Quantity; qty != 2 {
		t.Fatalf("first run should migrate 2, got %d", qty)
	}

	f.carts.deleteErr = nil
	if err := f.job.Run(context.Background()); err != nil {
		t.Fatalf("second Run: %v", err)
	}
	if qty := f.next.carts[owner.UserID].Items[0].Quantity; qty != 2 {
		t.Fatalf("retry must not sum again, got %d", qty)
	}
	if f.next.saves != 1 {
		t.Fatalf("expected a single next purchase save, got %d", f.next.saves)
	}
	if _, ok := f.carts.docs[owner.Key()]; ok {
		t.Fatalf("retry should delete the cart")
	}
}

func TestCartExpiryJobSettlesInterruptedMoveBeforeMigrating(t *testing.T) {
	f := newExpiryFixture(t)
	owner := cart.RegisteredOwner(uuid.New())
	product := uuid.New()
	lastActivity := jobNow.Add(-2 * time.Hour)
	moveID := uuid.New()

	// 1 of 3 units reached next purchase before the process died.
	active := activeCartWith(owner, lastActivity, map[uuid.UUID]int{product: 3})
	active.PendingMoves = []cart.PendingMove{{ID: moveID, Direction: enums.MoveToNextPurchase, Lines: []cart.MoveLine{{ProductID: product, Quantity: 1}}}}
	f.carts.put(active)
	np := cart.NewNextPurchaseCart(owner.UserID, lastActivity)
	cart.AddToNextPurchase(np, cart.ActiveCartItem{ProductID: product}, 1, lastActivity)
	np.AppliedMoves = []uuid.UUID{moveID}
	f.next.carts[owner.UserID] = np

	if err := f.job.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if qty := f.next.carts[owner.UserID].Items[0].Quantity; qty != 3 {
		t.Fatalf("expected the 3 units the owner had, got %d", qty)
	}
}

func TestCartExpiryJobContinuesAfterOwnerFailure(t *testing.T) {
	f := newExpiryFixture(t)
	registered := cart.RegisteredOwner(uuid.New())
	guest := cart.GuestOwner("guest-xyz")
	f.carts.put(activeCartWith(registered, jobNow.Add(-4*time.Hour), map[uuid.UUID]int{uuid.New(): 1}))
	f.carts.put(activeCartWith(guest, jobNow.Add(-3*time.Hour), map[uuid.UUID]int{uuid.New(): 1}))
	f.next.saveErr = errBoom

	err := f.job.Run(context.Background())
	if !errors.Is(err, errBoom) {
		t.Fatalf("expected aggregated error, got %v", err)
	}
	if _, ok := f.carts.docs[registered.Key()]; !ok {
		t.Fatalf("failed migration must keep the active cart")
	}
	if _, ok := f.carts.docs[guest.Key()]; ok {
		t.Fatalf("other owners should still be expired")
	}
}

func TestNewCartExpiryJobRequiresDeps(t *testing.T) {
	if _, err := NewCartExpiryJob(CartExpiryJobParams{Logger: testLogger()}); err == nil {
		t.Fatal("expected missing dependencies to be rejected")
	}
}
