package cart

import (
	"time"

	"github.com/angelmondragon/dualcart-backend/pkg/db/models"
	"github.com/angelmondragon/dualcart-backend/pkg/enums"
)

// MigrateExpired folds an expired active cart into np. It returns the number of
// lines migrated, or 0 when this activity was already migrated by an earlier run.
func MigrateExpired(np *models.NextPurchaseCart, expired *ActiveCart, now time.Time) int {
	if np.LastMigratedActivityAt != nil && !np.LastMigratedActivityAt.Before(expired.LastActivityAt) {
		return 0
	}
	for _, item := range expired.Items {
		AddToNextPurchase(np, item, item.Quantity, now)
	}
	if expired.LastActivityAt.After(np.LastActivityAt) {
		np.LastActivityAt = expired.LastActivityAt
	}
	migratedAt := expired.LastActivityAt
	np.LastMigratedActivityAt = &migratedAt
	return len(expired.Items)
}

// SettlePendingMoves finishes the moves an interrupted operation left on
// active. Once a move's destination half is written it is rolled forward,
// otherwise it is dropped; only the quantity the move carried is touched, so
// lines legitimately held in both carts are left alone. np may be nil.
//
// Both carts are changed in memory. Callers write np before active: a crash
// between the two writes leaves the move recorded in np.AppliedMoves and the
// next settle finishes it without applying it twice.
func SettlePendingMoves(active *ActiveCart, np *models.NextPurchaseCart, now time.Time) (activeChanged, npChanged bool) {
	if active == nil {
		return false, false
	}
	npChanged = pruneAppliedMoves(np, active)
	for _, move := range active.PendingMoves {
		applied := hasAppliedMove(np, move.ID)
		switch move.Direction {
		case enums.MoveToNextPurchase:
			// The parked copy landed; take the moved units off the active line.
			if applied {
				for _, line := range move.Lines {
					active.decrement(line.Identity(), line.Quantity, now)
				}
			}
		case enums.MoveToActive:
			// The active copy is in this document; finish taking it off np.
			if !applied && np != nil {
				for _, line := range move.Lines {
					takeFromNextPurchase(np, line.Identity(), line.Quantity)
				}
				np.AppliedMoves = append(np.AppliedMoves, move.ID)
				npChanged = true
			}
		}
		activeChanged = true
	}
	active.PendingMoves = nil
	return activeChanged, npChanged
}
