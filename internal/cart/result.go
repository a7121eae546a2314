package cart

import (
	"github.com/google/uuid"

	"github.com/angelmondragon/dualcart-backend/pkg/db/models"
	"github.com/angelmondragon/dualcart-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/dualcart-backend/pkg/errors"
)

type Warning struct {
	Type      enums.CartWarningType `json:"type"`
	ProductID *uuid.UUID            `json:"product_id,omitempty"`
	VariantID string                `json:"variant_id,omitempty"`
	Message   string                `json:"message"`
}

// ItemResult reports what happened to one line of a batch operation.
type ItemResult struct {
	ProductID uuid.UUID         `json:"product_id"`
	VariantID string            `json:"variant_id,omitempty"`
	Quantity  int               `json:"quantity"`
	Outcome   enums.ItemOutcome `json:"outcome"`
	Reason    string            `json:"reason,omitempty"`
}

type Failure struct {
	Code    pkgerrors.Code `json:"code"`
	Message string         `json:"message"`
}

// OperationResult carries business outcomes. A rejected operation has Success
// false and a Failure, but still returns the current cart snapshot when one exists.
type OperationResult struct {
	Success      bool                     `json:"success"`
	Cart         *ActiveCart              `json:"cart,omitempty"`
	NextPurchase *models.NextPurchaseCart `json:"-"`
	Warnings     []Warning                `json:"warnings"`
	Items        []ItemResult             `json:"items,omitempty"`
	Failure      *Failure                 `json:"failure,omitempty"`
}

func newResult() *OperationResult {
	return &OperationResult{Success: true, Warnings: []Warning{}}
}

func (r *OperationResult) fail(code pkgerrors.Code, message string) *OperationResult {
	r.Success = false
	r.Failure = &Failure{Code: code, Message: message}
	return r
}

func (r *OperationResult) warn(kind enums.CartWarningType, id *ItemIdentity, message string) {
	w := Warning{Type: kind, Message: message}
	if id != nil {
		pid := id.ProductID
		w.ProductID = &pid
		w.VariantID = id.VariantID
	}
	r.Warnings = append(r.Warnings, w)
}

func (r *OperationResult) item(id ItemIdentity, quantity int, outcome enums.ItemOutcome, reason string) {
	r.Items = append(r.Items, ItemResult{
		ProductID: id.ProductID,
		VariantID: id.VariantID,
		Quantity:  quantity,
		Outcome:   outcome,
		Reason:    reason,
	})
}

// FailureCode returns the failure code or "" for successful results.
func (r *OperationResult) FailureCode() pkgerrors.Code {
	if r == nil || r.Failure == nil {
		return ""
	}
	return r.Failure.Code
}
