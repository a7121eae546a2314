package cartdto

import "github.com/google/uuid"

// AddItemRequest is the body of POST /cart/items.
type AddItemRequest struct {
	ProductID  uuid.UUID         `json:"product_id" validate:"required"`
	VariantID  string            `json:"variant_id" validate:"max=128"`
	Quantity   int               `json:"quantity" validate:"required,min=1"`
	Attributes map[string]string `json:"attributes"`
}

type UpdateQuantityRequest struct {
	VariantID string `json:"variant_id" validate:"max=128"`
	Quantity  int    `json:"quantity" validate:"required,min=1"`
}

// MoveItemRequest moves a line between carts. A nil quantity moves the whole line.
type MoveItemRequest struct {
	VariantID string `json:"variant_id" validate:"max=128"`
	Quantity  *int   `json:"quantity" validate:"omitempty,min=1"`
}

type ItemRef struct {
	ProductID uuid.UUID `json:"product_id" validate:"required"`
	VariantID string    `json:"variant_id" validate:"max=128"`
}

// ActivateRequest selects parked lines to move back. No items means all of them.
type ActivateRequest struct {
	Force bool      `json:"force"`
	Items []ItemRef `json:"items" validate:"omitempty,dive"`
}

type MergeRequest struct {
	GuestID string `json:"guest_id" validate:"required,max=128"`
}
