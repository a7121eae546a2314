package cart

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/dualcart-backend/pkg/db/models"
)

// NextPurchaseRepository persists next purchase carts and their lines.
type NextPurchaseRepository struct {
	db *gorm.DB
}

func NewNextPurchaseRepository(db *gorm.DB) *NextPurchaseRepository {
	return &NextPurchaseRepository{db: db}
}

// WithTx binds the repository to a transaction.
func (r *NextPurchaseRepository) WithTx(tx *gorm.DB) *NextPurchaseRepository {
	if tx == nil {
		return r
	}
	return &NextPurchaseRepository{db: tx}
}

func preloadItems(db *gorm.DB) *gorm.DB {
	return db.Preload("Items", func(db *gorm.DB) *gorm.DB {
		return db.Order("saved_at ASC, id ASC")
	})
}

// GetByUserID returns nil, nil when the user has no next purchase cart.
func (r *NextPurchaseRepository) GetByUserID(ctx context.Context, userID uuid.UUID) (*models.NextPurchaseCart, error) {
	var cart models.NextPurchaseCart
	err := preloadItems(r.db.WithContext(ctx)).
		Where("user_id = ?", userID).
		First(&cart).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &cart, nil
}

// Save upserts the parent row and replaces every line in one transaction.
func (r *NextPurchaseRepository) Save(ctx context.Context, cart *models.NextPurchaseCart) (*models.NextPurchaseCart, error) {
	if cart == nil {
		return nil, errors.New("next purchase cart is required")
	}
	if cart.UserID == uuid.Nil {
		return nil, errors.New("next purchase cart requires a user id")
	}
	if cart.ID == uuid.Nil {
		cart.ID = uuid.New()
	}
	cart.UpdatedAt = time.Now().UTC()

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		upsert := tx.Omit(clause.Associations).Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"notifications_sent",
				"last_notification_at",
				"last_activity_at",
				"last_migrated_activity_at",
				"applied_moves",
				"updated_at",
			}),
		})
		if err := upsert.Create(cart).Error; err != nil {
			return err
		}
		if err := tx.Where("cart_id = ?", cart.ID).Delete(&models.NextPurchaseCartItem{}).Error; err != nil {
			return err
		}
		if len(cart.Items) == 0 {
			return nil
		}
		for i := range cart.Items {
			cart.Items[i].CartID = cart.ID
			if cart.Items[i].ID == uuid.Nil {
				cart.Items[i].ID = uuid.New()
			}
		}
		return tx.Create(&cart.Items).Error
	})
	if err != nil {
		return nil, err
	}
	return cart, nil
}

// Delete removes the user's cart and its lines. Deleting an absent cart is a no-op.
func (r *NextPurchaseRepository) Delete(ctx context.Context, userID uuid.UUID) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		ids := tx.Model(&models.NextPurchaseCart{}).Select("id").Where("user_id = ?", userID)
		if err := tx.Where("cart_id IN (?)", ids).Delete(&models.NextPurchaseCartItem{}).Error; err != nil {
			return err
		}
		return tx.Where("user_id = ?", userID).Delete(&models.NextPurchaseCart{}).Error
	})
}

// AbandonmentQuery bounds the carts eligible for a reminder.
type AbandonmentQuery struct {
	InactiveSince    time.Time
	NotifiedBefore   time.Time
	MaxNotifications int
}

// ListAbandonmentCandidates loads non-empty carts idle since InactiveSince that
// have reminders left and whose last reminder is old enough.
func (r *NextPurchaseRepository) ListAbandonmentCandidates(ctx context.Context, q AbandonmentQuery, limit int) ([]models.NextPurchaseCart, error) {
	var carts []models.NextPurchaseCart
	query := preloadItems(r.db.WithContext(ctx)).
		Where("last_activity_at <= ?", q.InactiveSince.UTC()).
		Where("notifications_sent < ?", q.MaxNotifications).
		Where("last_notification_at IS NULL OR last_notification_at <= ?", q.NotifiedBefore.UTC()).
		Where("EXISTS (SELECT 1 FROM next_purchase_cart_items i WHERE i.cart_id = next_purchase_carts.id)").
		Order("last_activity_at ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&carts).Error; err != nil {
		return nil, err
	}
	return carts, nil
}

// RecordAbandonmentNotice bumps the reminder counter only if it still equals
// expectedSent, so two workers cannot send the same reminder twice.
func (r *NextPurchaseRepository) RecordAbandonmentNotice(ctx context.Context, cartID uuid.UUID, expectedSent int, at time.Time) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.NextPurchaseCart{}).
		Where("id = ? AND notifications_sent = ?", cartID, expectedSent).
		Updates(map[string]any{
			"notifications_sent":   expectedSent + 1,
			"last_notification_at": at.UTC(),
			"updated_at":           at.UTC(),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}
