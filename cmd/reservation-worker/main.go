package main

import (
	"context"
	"errors"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/angelmondragon/dualcart-backend/internal/cartruntime"
	"github.com/angelmondragon/dualcart-backend/internal/reservations"
	"github.com/angelmondragon/dualcart-backend/pkg/bootstrap"
	"github.com/angelmondragon/dualcart-backend/pkg/metrics"
	"github.com/angelmondragon/dualcart-backend/pkg/outbox/idempotency"
)

func main() {
	proc, err := bootstrap.Start("reservation-worker")
	if err != nil {
		proc.Fail(context.Background(), "failed to start", err)
	}
	ctx, stop := proc.Context()
	defer stop()

	service, err := build(ctx, proc)
	if err != nil {
		proc.Fail(ctx, "failed to build reservation worker", err)
	}

	proc.ServeMetrics(ctx)
	proc.Logger.Info(ctx, "reservation worker ready")
	if err := service.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		proc.Fail(ctx, "reservation worker failed", err)
	}
	proc.Close()
}

func build(ctx context.Context, proc *bootstrap.Process) (*Service, error) {
	cfg, logg := proc.Config, proc.Logger

	dbClient, err := proc.Database(ctx)
	if err != nil {
		return nil, err
	}
	redisClient, err := proc.Redis(ctx)
	if err != nil {
		return nil, err
	}
	pubsubClient, err := proc.PubSub(ctx, cfg.PubSub.ReservationResultsSubscription)
	if err != nil {
		return nil, err
	}
	subscription := pubsubClient.ReservationResultsSubscription()
	if subscription == nil {
		return nil, errors.New("reservation results subscription not configured")
	}

	runtime, err := cartruntime.New(cartruntime.Params{
		Config:     cfg,
		Logger:     logg,
		DB:         dbClient,
		Redis:      redisClient,
		Registerer: prometheus.DefaultRegisterer,
	})
	if err != nil {
		return nil, err
	}
	manager, err := idempotency.NewManager(redisClient, cfg.Eventing.OutboxIdempotencyTTL)
	if err != nil {
		return nil, err
	}
	consumer, err := reservations.NewConsumer(runtime.Engine, subscription, manager, metrics.NewConsumerMetrics(prometheus.DefaultRegisterer), logg)
	if err != nil {
		return nil, err
	}

	return NewService(ServiceParams{
		Logger:         logg,
		Consumer:       consumer,
		Settings:       runtime.Settings,
		ReloadInterval: cfg.CartRuntime.SettingsReloadInterval,
		Dependencies: map[string]func(context.Context) error{
			"database": dbClient.Ping,
			"redis":    redisClient.Ping,
			"pubsub":   pubsubClient.Ping,
		},
	})
}
