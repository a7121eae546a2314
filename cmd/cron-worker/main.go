package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"strings"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/angelmondragon/dualcart-backend/internal/cartruntime"
	"github.com/angelmondragon/dualcart-backend/internal/cron"
	"github.com/angelmondragon/dualcart-backend/pkg/bootstrap"
	"github.com/angelmondragon/dualcart-backend/pkg/config"
	"github.com/angelmondragon/dualcart-backend/pkg/db"
	"github.com/angelmondragon/dualcart-backend/pkg/logger"
	"github.com/angelmondragon/dualcart-backend/pkg/metrics"
	"github.com/angelmondragon/dualcart-backend/pkg/outbox"
)

func main() {
	once := flag.Bool("once", false, "run a single locked pass and exit")
	jobs := flag.String("jobs", "", "comma-separated job names for -once (empty runs all)")
	flag.Parse()

	proc, err := bootstrap.Start("cron-worker")
	if err != nil {
		proc.Fail(context.Background(), "failed to start", err)
	}
	ctx, stop := proc.Context()
	defer stop()

	service, runtime, err := build(ctx, proc)
	if err != nil {
		proc.Fail(ctx, "failed to build cron worker", err)
	}
	logg := proc.Logger

	if *once {
		report, err := service.RunOnce(ctx, splitJobs(*jobs)...)
		if err != nil {
			proc.Fail(ctx, "cron pass failed", err)
		}
		logg.Info(logg.WithFields(ctx, map[string]any{"ran": report.Ran, "skipped": report.Skipped}), "cron pass complete")
		proc.Close()
		return
	}

	go runtime.Settings.Watch(ctx, proc.Config.CartRuntime.SettingsReloadInterval)
	proc.ServeMetrics(ctx)
	logg.Info(ctx, "starting cron worker")

	if err := service.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		proc.Fail(ctx, "cron worker stopped unexpectedly", err)
	}
	proc.Close()
	logg.Info(ctx, "cron worker shutting down gracefully")
}

func build(ctx context.Context, proc *bootstrap.Process) (*cron.Service, *cartruntime.Runtime, error) {
	cfg, logg := proc.Config, proc.Logger

	dbClient, err := proc.Database(ctx)
	if err != nil {
		return nil, nil, err
	}
	redisClient, err := proc.Redis(ctx)
	if err != nil {
		return nil, nil, err
	}
	runtime, err := cartruntime.New(cartruntime.Params{
		Config:     cfg,
		Logger:     logg,
		DB:         dbClient,
		Redis:      redisClient,
		Registerer: prometheus.DefaultRegisterer,
	})
	if err != nil {
		return nil, nil, err
	}

	registry, err := buildRegistry(cfg, logg, dbClient, runtime)
	if err != nil {
		return nil, nil, fmt.Errorf("register cron jobs: %w", err)
	}
	lock, err := cron.NewRedisLock(redisClient, cfg.Cron.LockKey, cfg.Cron.LockTTL)
	if err != nil {
		return nil, nil, err
	}
	service, err := cron.NewService(cron.ServiceParams{
		Logger:     logg,
		Registry:   registry,
		Lock:       lock,
		Metrics:    metrics.NewCronJobMetrics(prometheus.DefaultRegisterer),
		Interval:   cfg.Cron.Interval,
		JobTimeout: cfg.Cron.JobTimeout,
	})
	if err != nil {
		return nil, nil, err
	}
	return service, runtime, nil
}

func splitJobs(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	return strings.Split(raw, ",")
}

func buildRegistry(cfg *config.Config, logg *logger.Logger, dbClient *db.Client, rt *cartruntime.Runtime) (*cron.Registry, error) {
	batch := cfg.CartRuntime.ReconcileBatchSize

	expiry, err := cron.NewCartExpiryJob(cron.CartExpiryJobParams{
		Logger:    logg,
		DB:        dbClient,
		Carts:     rt.Active,
		Events:    rt.Events,
		Locks:     rt.Locks,
		Settings:  rt.Settings,
		Metrics:   rt.Metrics,
		BatchSize: batch,
	})
	if err != nil {
		return nil, err
	}

	collapse, err := cron.NewCartDuplicateCollapseJob(cron.CartDuplicateCollapseJobParams{
		Logger:       logg,
		Carts:        rt.Active,
		NextPurchase: rt.NextPurchase,
		Locks:        rt.Locks,
		Metrics:      rt.Metrics,
		BatchSize:    batch,
	})
	if err != nil {
		return nil, err
	}

	abandonment, err := cron.NewCartAbandonmentJob(cron.CartAbandonmentJobParams{
		Logger:     logg,
		DB:         dbClient,
		Candidates: rt.NextPurchase,
		Events:     rt.Events,
		Settings:   rt.Settings,
		Metrics:    rt.Metrics,
		BatchSize:  batch,
	})
	if err != nil {
		return nil, err
	}

	retention, err := cron.NewOutboxRetentionJob(cron.OutboxRetentionJobParams{
		Logger:           logg,
		DB:               dbClient,
		Outbox:           rt.Outbox,
		DLQ:              outbox.NewDLQRepository(dbClient.DB()),
		Metrics:          rt.Metrics,
		Retention:        cfg.Outbox.Retention,
		DLQRetention:     cfg.Outbox.DLQRetention,
		TerminalAttempts: cfg.Outbox.MaxAttempts,
	})
	if err != nil {
		return nil, err
	}

	return cron.NewCartRegistry(cron.CartJobs{
		Expiry:      expiry,
		Abandonment: abandonment,
		Collapse:    collapse,
		Retention:   retention,
	})
}
