package middleware

import (
	"context"

	"github.com/angelmondragon/dualcart-backend/internal/cart"
)

type contextKey string

const (
	ctxOwner contextKey = "cart_owner"
)

// OwnerFromContext returns the cart owner resolved for the request.
func OwnerFromContext(ctx context.Context) (cart.Owner, bool) {
	if ctx == nil {
		return cart.Owner{}, false
	}
	owner, ok := ctx.Value(ctxOwner).(cart.Owner)
	return owner, ok
}

// WithOwner injects the cart owner into the context.
func WithOwner(ctx context.Context, owner cart.Owner) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, ctxOwner, owner)
}

func ownerKeyFromContext(ctx context.Context) string {
	owner, ok := OwnerFromContext(ctx)
	if !ok {
		return ""
	}
	return owner.Key()
}
