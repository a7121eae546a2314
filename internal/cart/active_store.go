package cart

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	pkgredis "github.com/angelmondragon/dualcart-backend/pkg/redis"
)

type activeKV interface {
	Get(ctx context.Context, key string) (string, error)
	PutIndexed(ctx context.Context, key, value string, ttl time.Duration, index, member string, score float64) error
	DeleteIndexed(ctx context.Context, key, index, member string) (bool, error)
	Unindex(ctx context.Context, index string, members ...string) error
	RangeByScore(ctx context.Context, index string, max float64, limit int64) ([]string, error)
	ActiveCartKey(ownerKey string) string
	ActivityIndexKey() string
}

// RedisActiveStore keeps one JSON document per owner plus a sorted-set index of
// last activity. Expiry is logical: Get hides carts past their expiry while the
// physical key outlives it by the grace period plus retention, so the worker can
// still migrate them.
type RedisActiveStore struct {
	kv        activeKV
	settings  SettingsSource
	retention time.Duration
	clock     func() time.Time
}

func NewRedisActiveStore(kv activeKV, settings SettingsSource, retention time.Duration) *RedisActiveStore {
	return &RedisActiveStore{kv: kv, settings: settings, retention: retention, clock: time.Now}
}

func (s *RedisActiveStore) Get(ctx context.Context, owner Owner) (*ActiveCart, error) {
	cart, err := s.Peek(ctx, owner)
	if err != nil || cart == nil {
		return nil, err
	}
	expiry := s.settings.Current().ActiveCartExpiry()
	if s.clock().After(cart.LastActivityAt.Add(expiry)) {
		return nil, nil
	}
	return cart, nil
}

func (s *RedisActiveStore) Peek(ctx context.Context, owner Owner) (*ActiveCart, error) {
	raw, err := s.kv.Get(ctx, s.kv.ActiveCartKey(owner.Key()))
	if errors.Is(err, pkgredis.ErrNil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read active cart: %w", err)
	}
	var cart ActiveCart
	if err := json.Unmarshal([]byte(raw), &cart); err != nil {
		return nil, fmt.Errorf("decode active cart %s: %w", owner.Key(), err)
	}
	if cart.Items == nil {
		cart.Items = []ActiveCartItem{}
	}
	return &cart, nil
}

// Save stamps ExpiresAt from LastActivityAt and overwrites the document.
func (s *RedisActiveStore) Save(ctx context.Context, cart *ActiveCart) (*ActiveCart, error) {
	if cart == nil {
		return nil, errors.New("cart is required")
	}
	settings := s.settings.Current()
	now := s.clock().UTC()
	if cart.LastActivityAt.IsZero() {
		cart.LastActivityAt = now
	}
	cart.ExpiresAt = cart.LastActivityAt.Add(settings.ActiveCartExpiry())

	ttl := cart.ExpiresAt.Sub(now) + settings.GracePeriod() + s.retention
	if ttl < time.Second {
		ttl = time.Second
	}
	data, err := json.Marshal(cart)
	if err != nil {
		return nil, fmt.Errorf("encode active cart: %w", err)
	}
	ownerKey := cart.Owner.Key()
	if err := s.kv.PutIndexed(ctx, s.kv.ActiveCartKey(ownerKey), string(data), ttl, s.kv.ActivityIndexKey(), ownerKey, activityScore(cart.LastActivityAt)); err != nil {
		return nil, fmt.Errorf("write active cart: %w", err)
	}
	return cart.Clone(), nil
}

func (s *RedisActiveStore) Delete(ctx context.Context, owner Owner) error {
	ownerKey := owner.Key()
	if _, err := s.kv.DeleteIndexed(ctx, s.kv.ActiveCartKey(ownerKey), s.kv.ActivityIndexKey(), ownerKey); err != nil {
		return fmt.Errorf("delete active cart: %w", err)
	}
	return nil
}

// Forget drops the owner from the activity index without touching the document.
func (s *RedisActiveStore) Forget(ctx context.Context, owner Owner) error {
	return s.kv.Unindex(ctx, s.kv.ActivityIndexKey(), owner.Key())
}

// ListInactiveSince returns up to limit owners whose last activity is at or
// before cutoff, oldest first.
func (s *RedisActiveStore) ListInactiveSince(ctx context.Context, cutoff time.Time, limit int) ([]Owner, error) {
	return s.listUpTo(ctx, activityScore(cutoff), limit)
}

// ListActive returns up to limit indexed owners, oldest activity first.
func (s *RedisActiveStore) ListActive(ctx context.Context, limit int) ([]Owner, error) {
	return s.listUpTo(ctx, math.Inf(1), limit)
}

func (s *RedisActiveStore) listUpTo(ctx context.Context, max float64, limit int) ([]Owner, error) {
	members, err := s.kv.RangeByScore(ctx, s.kv.ActivityIndexKey(), max, int64(limit))
	if err != nil {
		return nil, fmt.Errorf("range activity index: %w", err)
	}
	owners := make([]Owner, 0, len(members))
	var invalid []string
	for _, member := range members {
		owner, err := ParseOwnerKey(member)
		if err != nil {
			invalid = append(invalid, member)
			continue
		}
		owners = append(owners, owner)
	}
	if len(invalid) > 0 {
		if err := s.kv.Unindex(ctx, s.kv.ActivityIndexKey(), invalid...); err != nil {
			return nil, fmt.Errorf("drop invalid index members: %w", err)
		}
	}
	return owners, nil
}

func activityScore(t time.Time) float64 {
	return float64(t.UnixMilli())
}
