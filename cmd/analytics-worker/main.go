package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/angelmondragon/dualcart-backend/internal/analytics/router"
	"github.com/angelmondragon/dualcart-backend/internal/analytics/types"
	"github.com/angelmondragon/dualcart-backend/internal/analytics/worker"
	"github.com/angelmondragon/dualcart-backend/internal/analytics/writer"
	"github.com/angelmondragon/dualcart-backend/pkg/bigquery"
	"github.com/angelmondragon/dualcart-backend/pkg/bootstrap"
	"github.com/angelmondragon/dualcart-backend/pkg/metrics"
	"github.com/angelmondragon/dualcart-backend/pkg/outbox/idempotency"
)

func main() {
	proc, err := bootstrap.Start("analytics-worker")
	if err != nil {
		proc.Fail(context.Background(), "failed to start", err)
	}
	ctx, stop := proc.Context()
	defer stop()

	service, analyticsWriter, err := build(ctx, proc)
	if err != nil {
		proc.Fail(ctx, "failed to build analytics worker", err)
	}

	proc.ServeMetrics(ctx)
	proc.Logger.Info(ctx, "analytics worker ready")

	// The writer flushes its last batch once the consumer stops feeding it.
	g, groupCtx := errgroup.WithContext(ctx)
	g.Go(func() error { return analyticsWriter.Run(groupCtx) })
	g.Go(func() error { return service.Run(groupCtx) })
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		proc.Fail(ctx, "analytics worker failed", err)
	}
	proc.Close()
}

func build(ctx context.Context, proc *bootstrap.Process) (*worker.Service, *writer.BigQueryWriter, error) {
	cfg, logg := proc.Config, proc.Logger

	redisClient, err := proc.Redis(ctx)
	if err != nil {
		return nil, nil, err
	}
	pubsubClient, err := proc.PubSub(ctx, cfg.PubSub.AnalyticsSubscription)
	if err != nil {
		return nil, nil, err
	}
	subscription := pubsubClient.AnalyticsSubscription()
	if subscription == nil {
		return nil, nil, errors.New("analytics subscription not configured")
	}
	bqClient, err := bigquery.NewClient(ctx, cfg.GCP, cfg.BigQuery, logg, types.CartEventsTable(cfg.BigQuery.CartEventsTable))
	if err != nil {
		return nil, nil, fmt.Errorf("bigquery: %w", err)
	}
	proc.Defer("bigquery", bqClient.Close)

	manager, err := idempotency.NewManager(redisClient, cfg.Eventing.OutboxIdempotencyTTL)
	if err != nil {
		return nil, nil, err
	}
	analyticsWriter, err := writer.New(bqClient, writer.Config{
		CartEventsTable: cfg.BigQuery.CartEventsTable,
		BatchSize:       cfg.BigQuery.BatchSize,
		FlushInterval:   cfg.BigQuery.FlushInterval,
	})
	if err != nil {
		return nil, nil, err
	}
	routingHandler, err := router.NewRouter(analyticsWriter, logg, nil)
	if err != nil {
		return nil, nil, err
	}
	service, err := worker.NewService(worker.ServiceParams{
		Subscription: subscription,
		Handler:      routingHandler,
		Idempotency:  manager,
		Metrics:      metrics.NewConsumerMetrics(prometheus.DefaultRegisterer),
		Logger:       logg,
	})
	if err != nil {
		return nil, nil, err
	}
	return service, analyticsWriter, nil
}
