package cart

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	cartdto "github.com/angelmondragon/dualcart-backend/api/controllers/cart/dto"
	"github.com/angelmondragon/dualcart-backend/api/middleware"
	"github.com/angelmondragon/dualcart-backend/api/responses"
	"github.com/angelmondragon/dualcart-backend/api/validators"
	cartsvc "github.com/angelmondragon/dualcart-backend/internal/cart"
	pkgerrors "github.com/angelmondragon/dualcart-backend/pkg/errors"
	"github.com/angelmondragon/dualcart-backend/pkg/logger"
)

// Engine is the part of the cart engine the HTTP layer drives.
type Engine interface {
	AddItemToActiveCart(ctx context.Context, owner cartsvc.Owner, in cartsvc.AddItemInput) (*cartsvc.OperationResult, error)
	UpdateItemQuantity(ctx context.Context, owner cartsvc.Owner, productID uuid.UUID, variantID string, quantity int) (*cartsvc.OperationResult, error)
	RemoveItem(ctx context.Context, owner cartsvc.Owner, productID uuid.UUID, variantID string) (*cartsvc.OperationResult, error)
	ClearCart(ctx context.Context, owner cartsvc.Owner) (*cartsvc.OperationResult, error)
	CompleteCheckout(ctx context.Context, owner cartsvc.Owner) (*cartsvc.OperationResult, error)
	GetActiveCart(ctx context.Context, owner cartsvc.Owner) (*cartsvc.OperationResult, error)
	MoveItemToNextPurchase(ctx context.Context, owner cartsvc.Owner, productID uuid.UUID, variantID string, quantity *int) (*cartsvc.OperationResult, error)
	MoveItemToActiveCart(ctx context.Context, userID uuid.UUID, productID uuid.UUID, variantID string, quantity *int) (*cartsvc.OperationResult, error)
	ActivateNextPurchaseItems(ctx context.Context, owner cartsvc.Owner, force bool, selection []cartsvc.ItemIdentity) (*cartsvc.OperationResult, error)
	GetNextPurchaseCart(ctx context.Context, owner cartsvc.Owner) (*cartsvc.OperationResult, error)
	DeleteNextPurchaseCart(ctx context.Context, owner cartsvc.Owner) (*cartsvc.OperationResult, error)
	MergeGuestCartIntoUser(ctx context.Context, userID uuid.UUID, guestID string) (*cartsvc.OperationResult, error)
}

// operation is the common shape of every cart handler once the owner is known.
type operation func(r *http.Request, owner cartsvc.Owner) (*cartsvc.OperationResult, error)

func handle(engine Engine, logg *logger.Logger, op operation) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if engine == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "cart engine unavailable"))
			return
		}
		owner, ok := middleware.OwnerFromContext(r.Context())
		if !ok {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "cart owner missing"))
			return
		}

		res, err := op(r, owner)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteResultView(r.Context(), logg, w, res, cartdto.NewOperationResult(res))
	}
}

// GetActiveCart returns the caller's active cart.
func GetActiveCart(engine Engine, logg *logger.Logger) http.HandlerFunc {
	return handle(engine, logg, func(r *http.Request, owner cartsvc.Owner) (*cartsvc.OperationResult, error) {
		return engine.GetActiveCart(r.Context(), owner)
	})
}

func ClearCart(engine Engine, logg *logger.Logger) http.HandlerFunc {
	return handle(engine, logg, func(r *http.Request, owner cartsvc.Owner) (*cartsvc.OperationResult, error) {
		return engine.ClearCart(r.Context(), owner)
	})
}

func AddItem(engine Engine, logg *logger.Logger) http.HandlerFunc {
	return handle(engine, logg, func(r *http.Request, owner cartsvc.Owner) (*cartsvc.OperationResult, error) {
		var payload cartdto.AddItemRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			return nil, err
		}
		return engine.AddItemToActiveCart(r.Context(), owner, cartsvc.AddItemInput{
			ProductID:  payload.ProductID,
			VariantID:  payload.VariantID,
			Quantity:   payload.Quantity,
			Attributes: payload.Attributes,
		})
	})
}

func UpdateQuantity(engine Engine, logg *logger.Logger) http.HandlerFunc {
	return handle(engine, logg, func(r *http.Request, owner cartsvc.Owner) (*cartsvc.OperationResult, error) {
		productID, err := productIDParam(r)
		if err != nil {
			return nil, err
		}
		var payload cartdto.UpdateQuantityRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			return nil, err
		}
		return engine.UpdateItemQuantity(r.Context(), owner, productID, payload.VariantID, payload.Quantity)
	})
}

// RemoveItem reads the variant from the query string since DELETE carries no body.
func RemoveItem(engine Engine, logg *logger.Logger) http.HandlerFunc {
	return handle(engine, logg, func(r *http.Request, owner cartsvc.Owner) (*cartsvc.OperationResult, error) {
		productID, err := productIDParam(r)
		if err != nil {
			return nil, err
		}
		return engine.RemoveItem(r.Context(), owner, productID, r.URL.Query().Get("variant_id"))
	})
}

func SaveForLater(engine Engine, logg *logger.Logger) http.HandlerFunc {
	return handle(engine, logg, func(r *http.Request, owner cartsvc.Owner) (*cartsvc.OperationResult, error) {
		productID, err := productIDParam(r)
		if err != nil {
			return nil, err
		}
		payload, err := decodeOptionalMove(r)
		if err != nil {
			return nil, err
		}
		return engine.MoveItemToNextPurchase(r.Context(), owner, productID, payload.VariantID, payload.Quantity)
	})
}

func CompleteCheckout(engine Engine, logg *logger.Logger) http.HandlerFunc {
	return handle(engine, logg, func(r *http.Request, owner cartsvc.Owner) (*cartsvc.OperationResult, error) {
		return engine.CompleteCheckout(r.Context(), owner)
	})
}

func GetNextPurchase(engine Engine, logg *logger.Logger) http.HandlerFunc {
	return handle(engine, logg, func(r *http.Request, owner cartsvc.Owner) (*cartsvc.OperationResult, error) {
		return engine.GetNextPurchaseCart(r.Context(), owner)
	})
}

func DeleteNextPurchase(engine Engine, logg *logger.Logger) http.HandlerFunc {
	return handle(engine, logg, func(r *http.Request, owner cartsvc.Owner) (*cartsvc.OperationResult, error) {
		return engine.DeleteNextPurchaseCart(r.Context(), owner)
	})
}

// MoveToCart moves one parked line into the active cart. Guests have no next
// purchase cart, so the engine is only reached for registered owners.
func MoveToCart(engine Engine, logg *logger.Logger) http.HandlerFunc {
	return handle(engine, logg, func(r *http.Request, owner cartsvc.Owner) (*cartsvc.OperationResult, error) {
		if !owner.IsRegistered() {
			return nil, pkgerrors.New(pkgerrors.CodeRequiresAuthentication, "sign in to use the next purchase cart")
		}
		productID, err := productIDParam(r)
		if err != nil {
			return nil, err
		}
		payload, err := decodeOptionalMove(r)
		if err != nil {
			return nil, err
		}
		return engine.MoveItemToActiveCart(r.Context(), owner.UserID, productID, payload.VariantID, payload.Quantity)
	})
}

func ActivateNextPurchase(engine Engine, logg *logger.Logger) http.HandlerFunc {
	return handle(engine, logg, func(r *http.Request, owner cartsvc.Owner) (*cartsvc.OperationResult, error) {
		var payload cartdto.ActivateRequest
		if r.ContentLength != 0 {
			if err := validators.DecodeJSONBody(r, &payload); err != nil {
				return nil, err
			}
		}
		selection := make([]cartsvc.ItemIdentity, 0, len(payload.Items))
		for _, item := range payload.Items {
			selection = append(selection, cartsvc.ItemIdentity{ProductID: item.ProductID, VariantID: item.VariantID})
		}
		return engine.ActivateNextPurchaseItems(r.Context(), owner, payload.Force, selection)
	})
}

// MergeGuestCart folds the named guest cart into the signed-in user's cart.
func MergeGuestCart(engine Engine, logg *logger.Logger) http.HandlerFunc {
	return handle(engine, logg, func(r *http.Request, owner cartsvc.Owner) (*cartsvc.OperationResult, error) {
		if !owner.IsRegistered() {
			return nil, pkgerrors.New(pkgerrors.CodeRequiresAuthentication, "sign in to merge a guest cart")
		}
		var payload cartdto.MergeRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			return nil, err
		}
		return engine.MergeGuestCartIntoUser(r.Context(), owner.UserID, strings.TrimSpace(payload.GuestID))
	})
}

func productIDParam(r *http.Request) (uuid.UUID, error) {
	raw := strings.TrimSpace(chi.URLParam(r, "productId"))
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid product id")
	}
	return id, nil
}

func decodeOptionalMove(r *http.Request) (cartdto.MoveItemRequest, error) {
	var payload cartdto.MoveItemRequest
	if r.ContentLength == 0 {
		payload.VariantID = r.URL.Query().Get("variant_id")
		return payload, nil
	}
	if err := validators.DecodeJSONBody(r, &payload); err != nil {
		return cartdto.MoveItemRequest{}, err
	}
	return payload, nil
}
