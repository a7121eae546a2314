package models

import (
	"time"

	"github.com/google/uuid"
)

// NextPurchaseCart is the durable save-for-later list owned by a registered user.
// AppliedMoves holds the ids of in-flight cart moves whose change to this row
// has already been written.
type NextPurchaseCart struct {
	ID                     uuid.UUID              `gorm:"column:id;type:uuid;primaryKey"`
	UserID                 uuid.UUID              `gorm:"column:user_id;type:uuid;not null;uniqueIndex"`
	NotificationsSent      int                    `gorm:"column:notifications_sent;not null;default:0"`
	LastNotificationAt     *time.Time             `gorm:"column:last_notification_at"`
	LastActivityAt         time.Time              `gorm:"column:last_activity_at;not null"`
	LastMigratedActivityAt *time.Time             `gorm:"column:last_migrated_activity_at"`
	AppliedMoves           []uuid.UUID            `gorm:"column:applied_moves;type:jsonb;serializer:json"`
	Items                  []NextPurchaseCartItem `gorm:"foreignKey:CartID;constraint:OnDelete:CASCADE"`
	CreatedAt              time.Time              `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt              time.Time              `gorm:"column:updated_at;autoUpdateTime"`
}

func (NextPurchaseCart) TableName() string {
	return "next_purchase_carts"
}
