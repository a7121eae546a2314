package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"gorm.io/gorm"

	"github.com/angelmondragon/dualcart-backend/internal/cart"
	"github.com/angelmondragon/dualcart-backend/pkg/db/models"
	"github.com/angelmondragon/dualcart-backend/pkg/logger"
	"github.com/angelmondragon/dualcart-backend/pkg/metrics"
)

type abandonmentReader interface {
	ListAbandonmentCandidates(ctx context.Context, q cart.AbandonmentQuery, limit int) ([]models.NextPurchaseCart, error)
}

type abandonmentRecorder interface {
	RecordAbandonmentNotice(ctx context.Context, cartID uuid.UUID, expectedSent int, at time.Time) (bool, error)
}

type abandonmentRecorderFactory func(tx *gorm.DB) abandonmentRecorder

func defaultAbandonmentRecorder(tx *gorm.DB) abandonmentRecorder {
	return cart.NewNextPurchaseRepository(tx)
}

// CartAbandonmentJobParams configure the reminder sweep.
type CartAbandonmentJobParams struct {
	Logger          *logger.Logger
	DB              txRunner
	Candidates      abandonmentReader
	Events          cartEventWriter
	Settings        cart.SettingsSource
	Metrics         *metrics.CartMetrics
	BatchSize       int
	RecorderFactory abandonmentRecorderFactory
}

// NewCartAbandonmentJob builds the job that queues cart_abandoned reminders for
// idle next purchase carts. Next purchase carts are never deleted here.
func NewCartAbandonmentJob(params CartAbandonmentJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.DB == nil {
		return nil, fmt.Errorf("db runner required")
	}
	if params.Candidates == nil {
		return nil, fmt.Errorf("candidate reader required")
	}
	if params.Events == nil {
		return nil, fmt.Errorf("event writer required")
	}
	if params.Settings == nil {
		return nil, fmt.Errorf("settings source required")
	}
	factory := params.RecorderFactory
	if factory == nil {
		factory = defaultAbandonmentRecorder
	}
	batch := params.BatchSize
	if batch <= 0 {
		batch = defaultBatchSize
	}
	return &cartAbandonmentJob{
		logg:       params.Logger,
		db:         params.DB,
		candidates: params.Candidates,
		events:     params.Events,
		settings:   params.Settings,
		metrics:    params.Metrics,
		batch:      batch,
		factory:    factory,
		now:        time.Now,
	}, nil
}

type cartAbandonmentJob struct {
	logg       *logger.Logger
	db         txRunner
	candidates abandonmentReader
	events     cartEventWriter
	settings   cart.SettingsSource
	metrics    *metrics.CartMetrics
	batch      int
	factory    abandonmentRecorderFactory
	now        func() time.Time
}

func (j *cartAbandonmentJob) Name() string { return "cart-abandonment" }

func (j *cartAbandonmentJob) Run(ctx context.Context) error {
	settings := j.settings.Current()
	if !settings.AbandonedCartNotificationsEnabled || settings.MaxAbandonmentNotifications == 0 {
		j.logg.Info(ctx, "abandoned cart notifications disabled")
		return nil
	}

	now := j.now().UTC()
	query := cart.AbandonmentQuery{
		InactiveSince:    now.Add(-settings.AbandonmentThreshold()),
		NotifiedBefore:   now.Add(-settings.NotificationInterval()),
		MaxNotifications: settings.MaxAbandonmentNotifications,
	}
	carts, err := j.candidates.ListAbandonmentCandidates(ctx, query, j.batch)
	if err != nil {
		return fmt.Errorf("list abandonment candidates: %w", err)
	}

	var errs error
	sent := 0
	for i := range carts {
		np := &carts[i]
		ok, err := j.notify(ctx, np, now)
		if err != nil {
			logCtx := j.logg.WithField(ctx, "next_purchase_cart_id", np.ID.String())
			j.logg.Error(logCtx, "abandonment notice failed", err)
			errs = multierr.Append(errs, fmt.Errorf("notify %s: %w", np.ID, err))
			continue
		}
		if ok {
			sent++
		}
	}
	if j.metrics != nil {
		j.metrics.AddReconciled("abandonment_notified", sent)
	}
	logCtx := j.logg.WithFields(ctx, map[string]any{"candidates": len(carts), "sent": sent})
	j.logg.Info(logCtx, "cart abandonment sweep complete")
	return errs
}

// notify bumps the counter and writes the event in one transaction. A counter
// that moved underneath us means another worker already sent this reminder.
func (j *cartAbandonmentJob) notify(ctx context.Context, np *models.NextPurchaseCart, now time.Time) (bool, error) {
	recorded := false
	err := j.db.WithTx(ctx, func(tx *gorm.DB) error {
		ok, err := j.factory(tx).RecordAbandonmentNotice(ctx, np.ID, np.NotificationsSent, now)
		if err != nil || !ok {
			return err
		}
		recorded = true
		return j.events.PublishTx(ctx, tx, cart.CartAbandoned(np, np.NotificationsSent+1, now))
	})
	if err != nil {
		return false, err
	}
	return recorded, nil
}
