package cron

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/multierr"
	"gorm.io/gorm"

	"github.com/angelmondragon/dualcart-backend/internal/cart"
	"github.com/angelmondragon/dualcart-backend/pkg/enums"
	"github.com/angelmondragon/dualcart-backend/pkg/logger"
	"github.com/angelmondragon/dualcart-backend/pkg/metrics"
)

// CartExpiryJobParams configure the expired active cart sweep.
type CartExpiryJobParams struct {
	Logger              *logger.Logger
	DB                  txRunner
	Carts               cart.ExpiredCartSource
	Events              cartEventWriter
	Locks               cart.Locker
	Settings            cart.SettingsSource
	Metrics             *metrics.CartMetrics
	BatchSize           int
	NextPurchaseFactory nextPurchaseFactory
}

// NewCartExpiryJob builds the job that migrates expired active carts into next
// purchase carts and releases their stock.
func NewCartExpiryJob(params CartExpiryJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.DB == nil {
		return nil, fmt.Errorf("db runner required")
	}
	if params.Carts == nil {
		return nil, fmt.Errorf("active cart store required")
	}
	if params.Events == nil {
		return nil, fmt.Errorf("event writer required")
	}
	if params.Locks == nil {
		return nil, fmt.Errorf("owner locks required")
	}
	if params.Settings == nil {
		return nil, fmt.Errorf("settings source required")
	}
	factory := params.NextPurchaseFactory
	if factory == nil {
		factory = defaultNextPurchaseFactory
	}
	batch := params.BatchSize
	if batch <= 0 {
		batch = defaultBatchSize
	}
	return &cartExpiryJob{
		logg:     params.Logger,
		db:       params.DB,
		carts:    params.Carts,
		events:   params.Events,
		locks:    params.Locks,
		settings: params.Settings,
		metrics:  params.Metrics,
		batch:    batch,
		factory:  factory,
		now:      time.Now,
	}, nil
}

type cartExpiryJob struct {
	logg     *logger.Logger
	db       txRunner
	carts    cart.ExpiredCartSource
	events   cartEventWriter
	locks    cart.Locker
	settings cart.SettingsSource
	metrics  *metrics.CartMetrics
	batch    int
	factory  nextPurchaseFactory
	now      func() time.Time
}

func (j *cartExpiryJob) Name() string { return "cart-expiry" }

// Run selects carts idle past expiry plus grace. Carts still inside the grace
// window are left for a later tick.
func (j *cartExpiryJob) Run(ctx context.Context) error {
	settings := j.settings.Current()
	now := j.now().UTC()
	cutoff := now.Add(-(settings.ActiveCartExpiry() + settings.GracePeriod()))

	owners, err := j.carts.ListInactiveSince(ctx, cutoff, j.batch)
	if err != nil {
		return fmt.Errorf("list inactive carts: %w", err)
	}

	var errs error
	expired := 0
	for _, owner := range owners {
		if err := ctx.Err(); err != nil {
			return multierr.Append(errs, err)
		}
		done, err := j.expireOwner(ctx, owner, cutoff, now)
		if err != nil {
			j.logg.Error(j.logg.WithOwner(ctx, owner.Key()), "cart expiry failed", err)
			errs = multierr.Append(errs, fmt.Errorf("expire %s: %w", owner.Key(), err))
			continue
		}
		if done {
			expired++
		}
	}
	if j.metrics != nil {
		j.metrics.AddReconciled("expired", expired)
	}
	logCtx := j.logg.WithFields(ctx, map[string]any{
		"cutoff":     cutoff,
		"candidates": len(owners),
		"expired":    expired,
	})
	j.logg.Info(logCtx, "cart expiry sweep complete")
	return errs
}

func (j *cartExpiryJob) expireOwner(ctx context.Context, owner cart.Owner, cutoff, now time.Time) (bool, error) {
	ctx, release, err := j.locks.Acquire(ctx, owner.Key())
	if err != nil {
		return false, err
	}
	defer release()

	active, err := j.carts.Peek(ctx, owner)
	if err != nil {
		return false, fmt.Errorf("peek active cart: %w", err)
	}
	if active == nil {
		return false, j.carts.Forget(ctx, owner)
	}
	if active.LastActivityAt.After(cutoff) {
		return false, nil
	}

	released := active.ReservationState.Holding()
	err = j.db.WithTx(ctx, func(tx *gorm.DB) error {
		migrated, dropped := 0, len(active.Items)
		if owner.IsRegistered() && len(active.Items) > 0 {
			store := j.factory(tx)
			np, err := store.GetByUserID(ctx, owner.UserID)
			if err != nil {
				return err
			}
			if np == nil {
				np = cart.NewNextPurchaseCart(owner.UserID, active.LastActivityAt)
			}
			// Finish interrupted moves first so parked units are not migrated twice.
			_, settled := cart.SettlePendingMoves(active, np, now)
			migrated = cart.MigrateExpired(np, active, now)
			if migrated > 0 || settled {
				if _, err := store.Save(ctx, np); err != nil {
					return err
				}
			}
			dropped = 0
		}

		var events []cart.Event
		if released {
			events = append(events, cart.ReservationReleased(owner, enums.ReleaseReasonExpired, nil, now))
		}
		events = append(events, cart.CartExpired(active, migrated, dropped, released, now))
		return j.events.PublishTx(ctx, tx, events...)
	})
	if err != nil {
		return false, err
	}

	if err := j.carts.Delete(ctx, owner); err != nil {
		return false, fmt.Errorf("delete expired cart: %w", err)
	}
	return true, nil
}
