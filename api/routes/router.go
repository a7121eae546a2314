package routes

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/angelmondragon/dualcart-backend/api/controllers"
	cartcontrollers "github.com/angelmondragon/dualcart-backend/api/controllers/cart"
	"github.com/angelmondragon/dualcart-backend/api/middleware"
	"github.com/angelmondragon/dualcart-backend/pkg/config"
	"github.com/angelmondragon/dualcart-backend/pkg/db"
	"github.com/angelmondragon/dualcart-backend/pkg/logger"
	pkgredis "github.com/angelmondragon/dualcart-backend/pkg/redis"
)

// CartStore is the redis surface the HTTP layer needs beyond the engine.
type CartStore interface {
	pkgredis.IdempotencyStore
	pkgredis.Pinger
	FixedWindowAllow(ctx context.Context, scope string, limit int64, window time.Duration) (bool, int64, error)
}

func NewRouter(
	cfg *config.Config,
	logg *logger.Logger,
	dbP db.Pinger,
	store CartStore,
	engine cartcontrollers.Engine,
	metricsHandler http.Handler,
) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.Recoverer(logg),
		middleware.CORS(cfg.App.CORSAllowedOrigins),
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, map[string]controllers.Pinger{
			"postgres": dbP,
			"redis":    store,
		}))
	})

	if metricsHandler == nil {
		metricsHandler = promhttp.Handler()
	}
	r.Handle("/metrics", metricsHandler)

	limit := middleware.NewRateLimitPolicy("cart", time.Minute, cfg.CartRuntime.RateLimitPerMinute)

	r.Route("/api/v1/cart", func(r chi.Router) {
		r.Use(middleware.Owner(cfg.JWT, logg))
		r.Use(middleware.OwnerRateLimit(limit, store, logg))

		r.Get("/", cartcontrollers.GetActiveCart(engine, logg))
		r.Delete("/", cartcontrollers.ClearCart(engine, logg))
		r.Post("/checkout-complete", cartcontrollers.CompleteCheckout(engine, logg))

		r.Route("/items", func(r chi.Router) {
			r.With(middleware.Idempotent(store, middleware.DefaultIdempotencyTTL, logg)).Post("/", cartcontrollers.AddItem(engine, logg))
			r.Patch("/{productId}", cartcontrollers.UpdateQuantity(engine, logg))
			r.Delete("/{productId}", cartcontrollers.RemoveItem(engine, logg))
			r.Post("/{productId}/save-for-later", cartcontrollers.SaveForLater(engine, logg))
		})

		r.Route("/next-purchase", func(r chi.Router) {
			r.Get("/", cartcontrollers.GetNextPurchase(engine, logg))
			r.Delete("/", cartcontrollers.DeleteNextPurchase(engine, logg))
			r.Post("/activate", cartcontrollers.ActivateNextPurchase(engine, logg))
			r.Post("/items/{productId}/move-to-cart", cartcontrollers.MoveToCart(engine, logg))
		})

		r.With(
			middleware.RequireRegistered(logg),
			middleware.Idempotent(store, middleware.MergeIdempotencyTTL, logg),
		).Post("/merge", cartcontrollers.MergeGuestCart(engine, logg))
	})

	return r
}
