package cartdto

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/dualcart-backend/internal/cart"
	"github.com/angelmondragon/dualcart-backend/pkg/db/models"
)

// OperationResult is the API view of a cart operation. It adds the next
// purchase cart to the engine result when the operation touched it.
type OperationResult struct {
	*cart.OperationResult
	NextPurchase *NextPurchaseCart `json:"next_purchase,omitempty"`
}

type NextPurchaseCart struct {
	ID             uuid.UUID              `json:"id"`
	UserID         uuid.UUID              `json:"user_id"`
	Items          []NextPurchaseCartItem `json:"items"`
	LastActivityAt time.Time              `json:"last_activity_at"`
}

type NextPurchaseCartItem struct {
	ProductID      uuid.UUID           `json:"product_id"`
	VariantID      string              `json:"variant_id,omitempty"`
	Quantity       int                 `json:"quantity"`
	LastKnownPrice decimal.NullDecimal `json:"last_known_price"`
	Attributes     map[string]string   `json:"attributes,omitempty"`
	ProductName    string              `json:"product_name,omitempty"`
	ImageURL       string              `json:"image_url,omitempty"`
	SavedAt        time.Time           `json:"saved_at"`
}

func NewOperationResult(res *cart.OperationResult) OperationResult {
	out := OperationResult{OperationResult: res}
	if res != nil {
		out.NextPurchase = NewNextPurchaseCart(res.NextPurchase)
	}
	return out
}

func NewNextPurchaseCart(np *models.NextPurchaseCart) *NextPurchaseCart {
	if np == nil {
		return nil
	}
	items := make([]NextPurchaseCartItem, 0, len(np.Items))
	for _, item := range np.Items {
		items = append(items, NextPurchaseCartItem{
			ProductID:      item.ProductID,
			VariantID:      item.VariantID,
			Quantity:       item.Quantity,
			LastKnownPrice: item.LastKnownPrice,
			Attributes:     item.Attributes,
			ProductName:    item.ProductName,
			ImageURL:       item.ImageURL,
			SavedAt:        item.SavedAt,
		})
	}
	return &NextPurchaseCart{
		ID:             np.ID,
		UserID:         np.UserID,
		Items:          items,
		LastActivityAt: np.LastActivityAt,
	}
}
