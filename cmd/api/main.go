package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/angelmondragon/dualcart-backend/api/routes"
	"github.com/angelmondragon/dualcart-backend/internal/cartruntime"
	"github.com/angelmondragon/dualcart-backend/pkg/bootstrap"
)

const shutdownTimeout = 15 * time.Second

func main() {
	proc, err := bootstrap.Start("api")
	if err != nil {
		proc.Fail(context.Background(), "failed to start", err)
	}
	ctx, stop := proc.Context()
	defer stop()

	if err := run(ctx, proc); err != nil {
		stop()
		proc.Fail(ctx, "api server stopped unexpectedly", err)
	}
	proc.Close()
	proc.Logger.Info(ctx, "api server stopped")
}

func run(ctx context.Context, proc *bootstrap.Process) error {
	cfg, logg := proc.Config, proc.Logger

	dbClient, err := proc.Database(ctx)
	if err != nil {
		return err
	}
	redisClient, err := proc.Redis(ctx)
	if err != nil {
		return err
	}
	runtime, err := cartruntime.New(cartruntime.Params{
		Config:     cfg,
		Logger:     logg,
		DB:         dbClient,
		Redis:      redisClient,
		Registerer: prometheus.DefaultRegisterer,
	})
	if err != nil {
		return err
	}

	// PORT wins so the platform's port assignment works without extra config.
	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	server := &http.Server{
		Addr:              ":" + port,
		Handler:           routes.NewRouter(cfg, logg, dbClient, redisClient, runtime.Engine, nil),
		ReadHeaderTimeout: 10 * time.Second,
	}
	ctx = logg.WithField(ctx, "addr", server.Addr)

	g, groupCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		runtime.Settings.Watch(groupCtx, cfg.CartRuntime.SettingsReloadInterval)
		return nil
	})
	g.Go(func() error {
		<-groupCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	g.Go(func() error {
		logg.Info(groupCtx, "starting api server")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	return g.Wait()
}
