package main

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/angelmondragon/dualcart-backend/pkg/logger"
)

type stubConsumer struct {
	runs atomic.Int32
	err  error
}

func (c *stubConsumer) Run(ctx context.Context) error {
	c.runs.Add(1)
	if c.err != nil {
		return c.err
	}
	<-ctx.Done()
	return ctx.Err()
}

func healthy(context.Context) error { return nil }

func newTestService(t *testing.T, consumer runner, deps map[string]func(context.Context) error) (*Service, *bytes.Buffer) {
	t.Helper()
	var buf bytes.Buffer
	svc, err := NewService(ServiceParams{
		Logger:       logger.New(logger.Options{ServiceName: "test", Output: &buf}),
		Consumer:     consumer,
		Dependencies: deps,
	})
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	svc.backoff = func() retry.Backoff {
		return retry.WithMaxRetries(2, retry.NewConstant(time.Millisecond))
	}
	return svc, &buf
}

func TestNewServiceRequiresEveryDependency(t *testing.T) {
	_, err := NewService(ServiceParams{
		Logger:   logger.New(logger.Options{ServiceName: "test"}),
		Consumer: &stubConsumer{},
		Dependencies: map[string]func(context.Context) error{
			"database": healthy,
			"redis":    healthy,
		},
	})
	if err == nil || !strings.Contains(err.Error(), "pubsub") {
		t.Fatalf("expected missing pubsub dependency, got %v", err)
	}
}

func TestRunRetriesDependenciesUntilReady(t *testing.T) {
	var redisCalls atomic.Int32
	consumer := &stubConsumer{}
	svc, buf := newTestService(t, consumer, map[string]func(context.Context) error{
		"database": healthy,
		"redis": func(context.Context) error {
			if redisCalls.Add(1) < 3 {
				return errors.New("connection refused")
			}
			return nil
		},
		"pubsub": healthy,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := svc.Run(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected run to end with the context, got %v", err)
	}
	if redisCalls.Load() != 3 {
		t.Fatalf("expected 3 redis pings, got %d", redisCalls.Load())
	}
	if consumer.runs.Load() != 1 {
		t.Fatalf("expected consumer to start once, got %d", consumer.runs.Load())
	}
	if !strings.Contains(buf.String(), "dependency not ready") {
		t.Fatalf("expected retry warnings, got %s", buf.String())
	}
}

func TestRunGivesUpOnUnreachableDependency(t *testing.T) {
	consumer := &stubConsumer{}
	svc, _ := newTestService(t, consumer, map[string]func(context.Context) error{
		"database": func(context.Context) error { return errors.New("no route to host") },
		"redis":    healthy,
		"pubsub":   healthy,
	})

	err := svc.Run(context.Background())
	if err == nil || !strings.Contains(err.Error(), "database not ready") {
		t.Fatalf("expected database readiness error, got %v", err)
	}
	if consumer.runs.Load() != 0 {
		t.Fatal("consumer must not start before dependencies are ready")
	}
}

func TestRunSurfacesConsumerFailure(t *testing.T) {
	consumer := &stubConsumer{err: errors.New("subscription deleted")}
	svc, _ := newTestService(t, consumer, map[string]func(context.Context) error{
		"database": healthy,
		"redis":    healthy,
		"pubsub":   healthy,
	})

	if err := svc.Run(context.Background()); err == nil || err.Error() != "subscription deleted" {
		t.Fatalf("expected consumer error, got %v", err)
	}
}
