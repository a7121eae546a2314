package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sethvargo/go-retry"
	"golang.org/x/sync/errgroup"

	"github.com/angelmondragon/dualcart-backend/pkg/logger"
)

const (
	readinessAttempts = 5
	readinessBackoff  = 500 * time.Millisecond
)

type runner interface {
	Run(ctx context.Context) error
}

type settingsWatcher interface {
	Watch(ctx context.Context, interval time.Duration)
}

// dependency is a backing service the worker refuses to consume without.
type dependency struct {
	name string
	ping func(context.Context) error
}

type ServiceParams struct {
	Logger         *logger.Logger
	Consumer       runner
	Settings       settingsWatcher
	ReloadInterval time.Duration
	Dependencies   map[string]func(context.Context) error
}

// Service waits for its dependencies, then consumes reservation outcomes while
// keeping cart settings fresh.
type Service struct {
	logg     *logger.Logger
	consumer runner
	settings settingsWatcher
	reload   time.Duration
	deps     []dependency
	backoff  func() retry.Backoff
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if params.Consumer == nil {
		return nil, errors.New("reservation consumer is required")
	}
	deps := make([]dependency, 0, len(params.Dependencies))
	for _, name := range []string{"database", "redis", "pubsub"} {
		ping, ok := params.Dependencies[name]
		if !ok || ping == nil {
			return nil, fmt.Errorf("%s dependency is required", name)
		}
		deps = append(deps, dependency{name: name, ping: ping})
	}
	return &Service{
		logg:     params.Logger,
		consumer: params.Consumer,
		settings: params.Settings,
		reload:   params.ReloadInterval,
		deps:     deps,
		backoff: func() retry.Backoff {
			return retry.WithMaxRetries(readinessAttempts-1, retry.NewExponential(readinessBackoff))
		},
	}, nil
}

// awaitReady pings every dependency, retrying each a few times so a worker
// started alongside its redis or emulator does not crash-loop.
func (s *Service) awaitReady(ctx context.Context) error {
	for _, dep := range s.deps {
		depCtx := s.logg.WithField(ctx, "dependency", dep.name)
		err := retry.Do(ctx, s.backoff(), func(ctx context.Context) error {
			if err := dep.ping(ctx); err != nil {
				s.logg.Warn(s.logg.WithField(depCtx, "error", err.Error()), "dependency not ready")
				return retry.RetryableError(err)
			}
			return nil
		})
		if err != nil {
			return fmt.Errorf("%s not ready: %w", dep.name, err)
		}
	}
	s.logg.Info(ctx, "all worker dependencies are ready")
	return nil
}

func (s *Service) Run(ctx context.Context) error {
	if err := s.awaitReady(ctx); err != nil {
		return err
	}

	g, groupCtx := errgroup.WithContext(ctx)
	if s.settings != nil && s.reload > 0 {
		g.Go(func() error {
			s.settings.Watch(groupCtx, s.reload)
			return nil
		})
	}
	g.Go(func() error { return s.consumer.Run(groupCtx) })

	err := g.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	s.logg.Info(ctx, "worker context canceled")
	return err
}
