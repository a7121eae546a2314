package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// NextPurchaseCartItem is one (product, variant) line of a next purchase cart.
// VariantID is stored as an empty string when the product has no variant so the
// identity unique index holds.
type NextPurchaseCartItem struct {
	ID             uuid.UUID           `gorm:"column:id;type:uuid;primaryKey"`
	CartID         uuid.UUID           `gorm:"column:cart_id;type:uuid;not null"`
	ProductID      uuid.UUID           `gorm:"column:product_id;type:uuid;not null"`
	VariantID      string              `gorm:"column:variant_id;not null;default:''"`
	Quantity       int                 `gorm:"column:quantity;not null"`
	LastKnownPrice decimal.NullDecimal `gorm:"column:last_known_price;type:numeric(12,2)"`
	Attributes     map[string]string   `gorm:"column:attributes;type:jsonb;serializer:json"`
	ProductName    string              `gorm:"column:product_name;not null;default:''"`
	ImageURL       string              `gorm:"column:image_url;not null;default:''"`
	SavedAt        time.Time           `gorm:"column:saved_at;not null"`
	UpdatedAt      time.Time           `gorm:"column:updated_at;autoUpdateTime"`
}

func (NextPurchaseCartItem) TableName() string {
	return "next_purchase_cart_items"
}
