package main

import (
	"context"
	"errors"
	"flag"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/angelmondragon/dualcart-backend/pkg/bootstrap"
	"github.com/angelmondragon/dualcart-backend/pkg/db"
	"github.com/angelmondragon/dualcart-backend/pkg/enums"
	"github.com/angelmondragon/dualcart-backend/pkg/logger"
	"github.com/angelmondragon/dualcart-backend/pkg/metrics"
	"github.com/angelmondragon/dualcart-backend/pkg/outbox"
	"github.com/angelmondragon/dualcart-backend/pkg/outbox/registry"
)

func main() {
	dlqLimit := flag.Int("dlq", 0, "print the newest N dead letters and exit")
	dlqType := flag.String("dlq-type", "", "restrict -dlq to one event type")
	flag.Parse()

	proc, err := bootstrap.Start("outbox-publisher")
	if err != nil {
		proc.Fail(context.Background(), "failed to start", err)
	}
	ctx, stop := proc.Context()
	defer stop()

	dbClient, err := proc.Database(ctx)
	if err != nil {
		proc.Fail(ctx, "failed to connect database", err)
	}
	dlqRepo := outbox.NewDLQRepository(dbClient.DB())
	if *dlqLimit > 0 {
		if err := printDeadLetters(ctx, proc.Logger, dlqRepo, enums.OutboxEventType(*dlqType), *dlqLimit); err != nil {
			proc.Fail(ctx, "failed to list dead letters", err)
		}
		proc.Close()
		return
	}

	service, err := build(ctx, proc, dbClient, dlqRepo)
	if err != nil {
		proc.Fail(ctx, "failed to build outbox publisher", err)
	}

	proc.ServeMetrics(ctx)
	proc.Logger.Info(ctx, "starting outbox publisher")
	if err := service.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		proc.Fail(ctx, "outbox publisher stopped unexpectedly", err)
	}
	proc.Close()
	proc.Logger.Info(ctx, "outbox publisher shutting down gracefully")
}

func build(ctx context.Context, proc *bootstrap.Process, dbClient *db.Client, dlqRepo *outbox.DLQRepository) (*Service, error) {
	pubsubClient, err := proc.PubSub(ctx)
	if err != nil {
		return nil, err
	}
	eventRegistry, err := registry.NewEventRegistry(proc.Config.PubSub)
	if err != nil {
		return nil, err
	}
	return NewService(ServiceParams{
		Config:        proc.Config,
		Logger:        proc.Logger,
		DB:            dbClient,
		PubSub:        pubsubClient,
		Repository:    outbox.NewRepository(dbClient.DB()),
		Registry:      eventRegistry,
		DLQRepository: dlqRepo,
		Metrics:       metrics.NewOutboxMetrics(prometheus.DefaultRegisterer),
	})
}

func printDeadLetters(ctx context.Context, logg *logger.Logger, repo *outbox.DLQRepository, eventType enums.OutboxEventType, limit int) error {
	rows, err := repo.List(ctx, eventType, limit)
	if err != nil {
		return err
	}
	for _, row := range rows {
		fields := map[string]any{
			"event_id":      row.EventID.String(),
			"event_type":    row.EventType,
			"ordering_key":  row.OrderingKey,
			"error_reason":  row.ErrorReason,
			"attempt_count": row.AttemptCount,
			"failed_at":     row.FailedAt,
		}
		if row.ErrorMessage != nil {
			fields["error_message"] = *row.ErrorMessage
		}
		logg.Info(logg.WithFields(ctx, fields), "dead letter")
	}
	logg.Info(logg.WithField(ctx, "count", len(rows)), "dead letter listing complete")
	return nil
}
