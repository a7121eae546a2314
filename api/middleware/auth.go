package middleware

import (
	"net/http"
	"strings"

	"github.com/angelmondragon/dualcart-backend/api/responses"
	"github.com/angelmondragon/dualcart-backend/internal/cart"
	pkgAuth "github.com/angelmondragon/dualcart-backend/pkg/auth"
	"github.com/angelmondragon/dualcart-backend/pkg/config"
	pkgerrors "github.com/angelmondragon/dualcart-backend/pkg/errors"
	"github.com/angelmondragon/dualcart-backend/pkg/logger"
)

const guestIDHeader = "X-Guest-Id"

// Owner resolves whose cart a request addresses. A bearer token wins; without
// one the X-Guest-Id header names a guest cart. A bearer that fails to verify
// is rejected rather than downgraded to the guest.
func Owner(cfg config.JWTConfig, logg *logger.Logger) func(http.Handler) http.Handler {
	verifier, verifierErr := pkgAuth.NewVerifier(cfg)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			if verifierErr != nil {
				responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeInternal, verifierErr, "token verification unavailable"))
				return
			}

			owner, err := resolveOwner(r, verifier)
			if err != nil {
				responses.WriteError(ctx, logg, w, err)
				return
			}
			if err := owner.Validate(); err != nil {
				responses.WriteError(ctx, logg, w, err)
				return
			}

			ctx = WithOwner(ctx, owner)
			if logg != nil {
				ctx = logg.WithOwner(ctx, owner.Key())
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func resolveOwner(r *http.Request, verifier *pkgAuth.Verifier) (cart.Owner, error) {
	if header := r.Header.Get("Authorization"); strings.TrimSpace(header) != "" {
		token, err := pkgAuth.BearerToken(header)
		if err != nil {
			return cart.Owner{}, pkgerrors.Wrap(pkgerrors.CodeUnauthorized, err, "missing credentials")
		}
		userID, err := verifier.Verify(token)
		if err != nil {
			return cart.Owner{}, pkgerrors.Wrap(pkgerrors.CodeUnauthorized, err, "invalid token")
		}
		return cart.RegisteredOwner(userID), nil
	}
	guestID := strings.TrimSpace(r.Header.Get(guestIDHeader))
	if guestID == "" {
		return cart.Owner{}, pkgerrors.New(pkgerrors.CodeValidation, "sign in or send an X-Guest-Id header")
	}
	return cart.GuestOwner(guestID), nil
}

// RequireRegistered rejects guest owners.
func RequireRegistered(logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			owner, ok := OwnerFromContext(r.Context())
			if !ok || !owner.IsRegistered() {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeRequiresAuthentication, "sign in to continue"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
