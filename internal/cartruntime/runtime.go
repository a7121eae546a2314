package cartruntime

import (
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/angelmondragon/dualcart-backend/internal/cart"
	"github.com/angelmondragon/dualcart-backend/internal/cartconfig"
	"github.com/angelmondragon/dualcart-backend/internal/cartevents"
	"github.com/angelmondragon/dualcart-backend/internal/catalog"
	"github.com/angelmondragon/dualcart-backend/pkg/config"
	"github.com/angelmondragon/dualcart-backend/pkg/db"
	"github.com/angelmondragon/dualcart-backend/pkg/logger"
	"github.com/angelmondragon/dualcart-backend/pkg/metrics"
	"github.com/angelmondragon/dualcart-backend/pkg/outbox"
	"github.com/angelmondragon/dualcart-backend/pkg/redis"
)

// Params are the process-wide clients every cart binary already owns.
type Params struct {
	Config     *config.Config
	Logger     *logger.Logger
	DB         *db.Client
	Redis      *redis.Client
	Registerer prometheus.Registerer
}

// Runtime groups the cart stores, locks and engine shared by the API and the
// workers so they all see the same keys, leases and settings.
type Runtime struct {
	Settings     *cartconfig.Provider
	Active       *cart.RedisActiveStore
	NextPurchase *cart.NextPurchaseRepository
	Locks        *cart.OwnerLocks
	Events       *cartevents.Publisher
	Outbox       *outbox.Repository
	Metrics      *metrics.CartMetrics
	Engine       *cart.Engine
}

func New(params Params) (*Runtime, error) {
	if params.Config == nil {
		return nil, errors.New("config is required")
	}
	if params.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if params.DB == nil {
		return nil, errors.New("database client is required")
	}
	if params.Redis == nil {
		return nil, errors.New("redis client is required")
	}
	cfg := params.Config
	reg := params.Registerer
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	settings, err := cartconfig.NewProvider(cartconfig.Params{
		Initial:      cfg.Cart,
		SettingsFile: cfg.CartRuntime.SettingsFile,
		Logger:       params.Logger,
	})
	if err != nil {
		return nil, fmt.Errorf("cart settings: %w", err)
	}
	if cfg.CartRuntime.SettingsFile != "" {
		if err := settings.Reload(); err != nil {
			return nil, fmt.Errorf("cart settings file: %w", err)
		}
	}

	catalogClient, err := catalog.NewClient(cfg.Catalog)
	if err != nil {
		return nil, fmt.Errorf("catalog client: %w", err)
	}

	cartMetrics := metrics.NewCartMetrics(reg)
	outboxRepo := outbox.NewRepository(params.DB.DB())
	events, err := cartevents.NewPublisher(params.DB.DB(), outbox.NewService(outboxRepo, params.Logger))
	if err != nil {
		return nil, fmt.Errorf("cart events: %w", err)
	}

	rt := &Runtime{
		Settings:     settings,
		Active:       cart.NewRedisActiveStore(params.Redis, settings, cfg.CartRuntime.ExpiredRetention),
		NextPurchase: cart.NewNextPurchaseRepository(params.DB.DB()),
		Locks: cart.NewOwnerLocks(cart.OwnerLocksParams{
			Leases:         params.Redis,
			Lease:          cfg.CartRuntime.LockLease,
			AcquireTimeout: cfg.CartRuntime.LockAcquireTimeout,
			Metrics:        cartMetrics,
			Logger:         params.Logger,
		}),
		Events:  events,
		Outbox:  outboxRepo,
		Metrics: cartMetrics,
	}

	rt.Engine, err = cart.NewEngine(cart.EngineParams{
		Active:       rt.Active,
		NextPurchase: rt.NextPurchase,
		Catalog:      catalogClient,
		Settings:     settings,
		Locks:        rt.Locks,
		Events:       events,
		Metrics:      cartMetrics,
		Logger:       params.Logger,
	})
	if err != nil {
		return nil, fmt.Errorf("cart engine: %w", err)
	}
	return rt, nil
}

