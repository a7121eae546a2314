package idempotency

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/dualcart-backend/pkg/redis"
)

const (
	markProcessing = "processing"
	markDone       = "done"

	defaultLease = 2 * time.Minute
)

// ErrInFlight means another delivery of the same event is being handled right
// now. Callers should nack and let the broker redeliver later.
var ErrInFlight = errors.New("event is already being processed")

type markStore interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error)
	Del(ctx context.Context, keys ...string) error
	IdempotencyKey(scope, id string) string
}

// Manager dedupes event deliveries per consumer. A delivery first takes a
// short processing lease on pf:idempotency:evt:<consumer>:<event_id>; once the
// handler succeeds the lease becomes a done mark kept for the retention ttl.
type Manager struct {
	store markStore
	ttl   time.Duration
	lease time.Duration
}

type Option func(*Manager)

// WithLease bounds how long a crashed handler blocks redelivery of its event.
func WithLease(lease time.Duration) Option {
	return func(m *Manager) {
		if lease > 0 {
			m.lease = lease
		}
	}
}

func NewManager(store markStore, ttl time.Duration, opts ...Option) (*Manager, error) {
	if store == nil {
		return nil, errors.New("idempotency store is required")
	}
	if ttl <= 0 {
		return nil, errors.New("ttl must be positive")
	}
	m := &Manager{store: store, ttl: ttl, lease: defaultLease}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// Run calls fn at most once per (consumer, eventID) and reports whether it was
// skipped as a duplicate. When fn fails the lease is released so a redelivery
// can try again.
func (m *Manager) Run(ctx context.Context, consumer string, eventID uuid.UUID, fn func(context.Context) error) (bool, error) {
	key, err := m.key(consumer, eventID)
	if err != nil {
		return false, err
	}

	claimed, err := m.store.SetNX(ctx, key, markProcessing, m.lease)
	if err != nil {
		return false, fmt.Errorf("claim %s: %w", key, err)
	}
	if !claimed {
		return m.settled(ctx, key)
	}

	if err := fn(ctx); err != nil {
		if delErr := m.store.Del(context.WithoutCancel(ctx), key); delErr != nil {
			return false, errors.Join(err, fmt.Errorf("release %s: %w", key, delErr))
		}
		return false, err
	}
	if err := m.store.Set(context.WithoutCancel(ctx), key, markDone, m.ttl); err != nil {
		// fn already ran; the lease still guards against redelivery until it lapses.
		return false, fmt.Errorf("mark %s done: %w", key, err)
	}
	return false, nil
}

// Processed reports whether a done mark exists for the event.
func (m *Manager) Processed(ctx context.Context, consumer string, eventID uuid.UUID) (bool, error) {
	key, err := m.key(consumer, eventID)
	if err != nil {
		return false, err
	}
	value, err := m.store.Get(ctx, key)
	if errors.Is(err, redis.ErrNil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return value == markDone, nil
}

func (m *Manager) settled(ctx context.Context, key string) (bool, error) {
	value, err := m.store.Get(ctx, key)
	switch {
	case errors.Is(err, redis.ErrNil):
		// Lease released or expired between the claim and the read.
		return false, ErrInFlight
	case err != nil:
		return false, fmt.Errorf("read %s: %w", key, err)
	case value == markDone:
		return true, nil
	default:
		return false, ErrInFlight
	}
}

func (m *Manager) key(consumer string, eventID uuid.UUID) (string, error) {
	if consumer == "" {
		return "", errors.New("consumer name is required")
	}
	if eventID == uuid.Nil {
		return "", errors.New("event id is required")
	}
	return m.store.IdempotencyKey("evt:"+consumer, eventID.String()), nil
}
