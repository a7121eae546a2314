package cron

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/multierr"

	"github.com/angelmondragon/dualcart-backend/internal/cart"
	"github.com/angelmondragon/dualcart-backend/pkg/logger"
	"github.com/angelmondragon/dualcart-backend/pkg/metrics"
)

// CartDuplicateCollapseJobParams configure the duplicate sweep.
type CartDuplicateCollapseJobParams struct {
	Logger       *logger.Logger
	Carts        cart.ExpiredCartSource
	NextPurchase nextPurchaseStore
	Locks        cart.Locker
	Metrics      *metrics.CartMetrics
	BatchSize    int
}

// NewCartDuplicateCollapseJob builds the job that settles moves between the two
// carts that an interrupted operation left pending. Lines legitimately held in
// both carts are never touched.
func NewCartDuplicateCollapseJob(params CartDuplicateCollapseJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Carts == nil {
		return nil, fmt.Errorf("active cart store required")
	}
	if params.NextPurchase == nil {
		return nil, fmt.Errorf("next purchase store required")
	}
	if params.Locks == nil {
		return nil, fmt.Errorf("owner locks required")
	}
	batch := params.BatchSize
	if batch <= 0 {
		batch = defaultBatchSize
	}
	return &cartDuplicateCollapseJob{
		logg:    params.Logger,
		carts:   params.Carts,
		next:    params.NextPurchase,
		locks:   params.Locks,
		metrics: params.Metrics,
		batch:   batch,
		now:     time.Now,
	}, nil
}

type cartDuplicateCollapseJob struct {
	logg    *logger.Logger
	carts   cart.ExpiredCartSource
	next    nextPurchaseStore
	locks   cart.Locker
	metrics *metrics.CartMetrics
	batch   int
	now     func() time.Time
}

func (j *cartDuplicateCollapseJob) Name() string { return "cart-duplicate-collapse" }

func (j *cartDuplicateCollapseJob) Run(ctx context.Context) error {
	owners, err := j.carts.ListActive(ctx, j.batch)
	if err != nil {
		return fmt.Errorf("list active carts: %w", err)
	}

	var errs error
	collapsed := 0
	for _, owner := range owners {
		if !owner.IsRegistered() {
			continue
		}
		if err := ctx.Err(); err != nil {
			return multierr.Append(errs, err)
		}
		changed, err := j.collapseOwner(ctx, owner)
		if err != nil {
			j.logg.Error(j.logg.WithOwner(ctx, owner.Key()), "settling pending moves failed", err)
			errs = multierr.Append(errs, fmt.Errorf("collapse %s: %w", owner.Key(), err))
			continue
		}
		if changed {
			collapsed++
		}
	}
	if j.metrics != nil {
		j.metrics.AddReconciled("moves_settled", collapsed)
	}
	logCtx := j.logg.WithFields(ctx, map[string]any{"owners": len(owners), "settled": collapsed})
	j.logg.Info(logCtx, "cart duplicate collapse complete")
	return errs
}

// collapseOwner does not count as owner activity: LastActivityAt is kept. The
// next purchase cart is written before the active one so a rerun after a crash
// between the two finishes the same moves without applying them twice.
func (j *cartDuplicateCollapseJob) collapseOwner(ctx context.Context, owner cart.Owner) (bool, error) {
	ctx, release, err := j.locks.Acquire(ctx, owner.Key())
	if err != nil {
		return false, err
	}
	defer release()

	active, err := j.carts.Get(ctx, owner)
	if err != nil || active == nil {
		return false, err
	}
	np, err := j.next.GetByUserID(ctx, owner.UserID)
	if err != nil {
		return false, err
	}
	if len(active.PendingMoves) == 0 && (np == nil || len(np.AppliedMoves) == 0) {
		return false, nil
	}

	activeChanged, npChanged := cart.SettlePendingMoves(active, np, j.now())
	if npChanged {
		if _, err := j.next.Save(ctx, np); err != nil {
			return false, err
		}
	}
	if activeChanged {
		if _, err := j.carts.Save(ctx, active); err != nil {
			return false, err
		}
	}
	return activeChanged || npChanged, nil
}
