package bootstrap

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/angelmondragon/dualcart-backend/pkg/config"
	"github.com/angelmondragon/dualcart-backend/pkg/db"
	"github.com/angelmondragon/dualcart-backend/pkg/instance"
	"github.com/angelmondragon/dualcart-backend/pkg/logger"
	"github.com/angelmondragon/dualcart-backend/pkg/metrics"
	"github.com/angelmondragon/dualcart-backend/pkg/migrate"
	"github.com/angelmondragon/dualcart-backend/pkg/pubsub"
	"github.com/angelmondragon/dualcart-backend/pkg/redis"
)

// Process is the start-up state every binary shares: its config, its logger
// and the resources it has opened, which Close releases newest first.
type Process struct {
	Name   string
	Config *config.Config
	Logger *logger.Logger

	closers []closer
	exit    func(int)
}

type closer struct {
	name string
	fn   func() error
}

// Start reads .env and the environment, then rebuilds the logger from config.
// It always returns a usable Process so a config failure can still be logged
// through Fail.
func Start(name string) (*Process, error) {
	p := &Process{
		Name:   name,
		Logger: logger.New(logger.Options{ServiceName: name}),
		exit:   os.Exit,
	}
	if err := godotenv.Load(); err != nil {
		p.Logger.Debug(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		return p, fmt.Errorf("load config: %w", err)
	}
	cfg.Service.Kind = name
	p.Config = cfg
	p.Logger = logger.New(logger.Options{
		ServiceName: name,
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
		Format:      cfg.App.LogFormat,
	})
	return p, nil
}

// Defer registers fn to run on Close.
func (p *Process) Defer(name string, fn func() error) {
	p.closers = append(p.closers, closer{name: name, fn: fn})
}

// Database connects and, in dev, applies the embedded migrations.
func (p *Process) Database(ctx context.Context) (*db.Client, error) {
	client, err := db.New(ctx, p.Config.DB, p.Logger)
	if err != nil {
		return nil, fmt.Errorf("database: %w", err)
	}
	p.Defer("database", client.Close)
	if err := migrate.MaybeRunDev(ctx, p.Config, p.Logger, client); err != nil {
		return nil, fmt.Errorf("dev migrations: %w", err)
	}
	return client, nil
}

func (p *Process) Redis(ctx context.Context) (*redis.Client, error) {
	client, err := redis.New(ctx, p.Config.Redis, p.Logger)
	if err != nil {
		return nil, fmt.Errorf("redis: %w", err)
	}
	p.Defer("redis", client.Close)
	return client, nil
}

// PubSub opens the Pub/Sub client and checks the named subscriptions exist.
func (p *Process) PubSub(ctx context.Context, subscriptions ...string) (*pubsub.Client, error) {
	client, err := pubsub.NewClient(ctx, p.Config.GCP, p.Config.PubSub, p.Logger, subscriptions...)
	if err != nil {
		return nil, fmt.Errorf("pubsub: %w", err)
	}
	p.Defer("pubsub", client.Close)
	return client, nil
}

// Context is cancelled on SIGINT or SIGTERM and carries the process's log
// fields.
func (p *Process) Context() (context.Context, context.CancelFunc) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	return p.annotate(ctx), stop
}

func (p *Process) annotate(ctx context.Context) context.Context {
	fields := map[string]any{
		"serviceKind": p.Name,
		"instance":    instance.GetID(),
	}
	if p.Config != nil {
		fields["env"] = p.Config.App.Env
	}
	return p.Logger.WithFields(ctx, fields)
}

// ServeMetrics exposes the default registry on the configured metrics
// address until ctx ends.
func (p *Process) ServeMetrics(ctx context.Context) {
	go metrics.Serve(ctx, p.Config.App.MetricsAddr, prometheus.DefaultGatherer, p.Logger)
}

// Close releases every registered resource in reverse order.
func (p *Process) Close() {
	ctx := context.Background()
	for i := len(p.closers) - 1; i >= 0; i-- {
		c := p.closers[i]
		if err := c.fn(); err != nil {
			p.Logger.Error(p.Logger.WithField(ctx, "resource", c.name), "error closing resource", err)
		}
	}
	p.closers = nil
}

// Fail logs err, releases resources and exits non-zero.
func (p *Process) Fail(ctx context.Context, msg string, err error) {
	p.Logger.Error(ctx, msg, err)
	p.Close()
	p.exit(1)
}
