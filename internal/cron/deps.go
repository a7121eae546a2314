package cron

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/dualcart-backend/internal/cart"
	"github.com/angelmondragon/dualcart-backend/pkg/db/models"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type cartEventWriter interface {
	PublishTx(ctx context.Context, tx *gorm.DB, events ...cart.Event) error
}

type nextPurchaseStore interface {
	GetByUserID(ctx context.Context, userID uuid.UUID) (*models.NextPurchaseCart, error)
	Save(ctx context.Context, np *models.NextPurchaseCart) (*models.NextPurchaseCart, error)
}

// nextPurchaseFactory binds the next purchase store to the job's transaction.
type nextPurchaseFactory func(tx *gorm.DB) nextPurchaseStore

func defaultNextPurchaseFactory(tx *gorm.DB) nextPurchaseStore {
	return cart.NewNextPurchaseRepository(tx)
}

const defaultBatchSize = 200
