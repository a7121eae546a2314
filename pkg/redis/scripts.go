package redis

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// KEYS[1]=doc KEYS[2]=index ARGV[1]=value ARGV[2]=ttl ms ARGV[3]=score ARGV[4]=member
const putIndexedScript = `
redis.call("SET", KEYS[1], ARGV[1], "PX", ARGV[2])
redis.call("ZADD", KEYS[2], ARGV[3], ARGV[4])
return 1`

// KEYS[1]=doc KEYS[2]=index ARGV[1]=member
const deleteIndexedScript = `
local removed = redis.call("DEL", KEYS[1])
redis.call("ZREM", KEYS[2], ARGV[1])
return removed`

// KEYS[1]=lock ARGV[1]=token
const compareAndDeleteScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`

// KEYS[1]=lock ARGV[1]=token ARGV[2]=ttl ms
const compareAndExpireScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0`

// KEYS[1]=key ARGV[1]=expected ARGV[2]=value ARGV[3]=ttl ms
const compareAndSwapScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
	redis.call("SET", KEYS[1], ARGV[2], "PX", ARGV[3])
	return 1
end
return 0`

// KEYS[1]=counter ARGV[1]=window ms. The expiry is set with the first hit so
// a counter can never outlive its window.
const fixedWindowScript = `
local count = redis.call("INCR", KEYS[1])
if count == 1 then
	redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return count`

// FixedWindowAllow counts one hit against scope and reports whether it stays
// within limit for the current window.
func (c *Client) FixedWindowAllow(ctx context.Context, scope string, limit int64, window time.Duration) (bool, int64, error) {
	if c.store == nil {
		return false, 0, errNotInitialized
	}
	if window <= 0 {
		return false, 0, fmt.Errorf("rate limit window must be positive")
	}
	count, err := c.store.Eval(ctx, fixedWindowScript, []string{c.RateLimitKey(scope)}, window.Milliseconds()).Int64()
	if err != nil {
		return false, 0, err
	}
	return count <= limit, count, nil
}

// PutIndexed stores value at key with ttl and scores member in index, in one
// round trip.
func (c *Client) PutIndexed(ctx context.Context, key, value string, ttl time.Duration, index, member string, score float64) error {
	if c.store == nil {
		return errNotInitialized
	}
	if ttl <= 0 {
		return fmt.Errorf("ttl must be positive for %s", key)
	}
	return c.store.Eval(ctx, putIndexedScript, []string{key, index}, value, ttl.Milliseconds(), score, member).Err()
}

// DeleteIndexed removes key and its index member and reports whether the key
// existed.
func (c *Client) DeleteIndexed(ctx context.Context, key, index, member string) (bool, error) {
	if c.store == nil {
		return false, errNotInitialized
	}
	removed, err := c.store.Eval(ctx, deleteIndexedScript, []string{key, index}, member).Int64()
	return removed > 0, err
}

// Unindex drops members from an index without touching their documents.
func (c *Client) Unindex(ctx context.Context, index string, members ...string) error {
	if c.store == nil {
		return errNotInitialized
	}
	if len(members) == 0 {
		return nil
	}
	args := make([]any, 0, len(members))
	for _, m := range members {
		args = append(args, m)
	}
	return c.store.ZRem(ctx, index, args...).Err()
}

// RangeByScore lists index members scored at or below max, lowest first. A
// limit of zero or less returns every match.
func (c *Client) RangeByScore(ctx context.Context, index string, max float64, limit int64) ([]string, error) {
	if c.store == nil {
		return nil, errNotInitialized
	}
	opt := &redis.ZRangeBy{Min: "-inf", Max: formatScore(max)}
	if limit > 0 {
		opt.Count = limit
	}
	return c.store.ZRangeByScore(ctx, index, opt).Result()
}

// CompareAndDelete deletes key only while it still holds token.
func (c *Client) CompareAndDelete(ctx context.Context, key, token string) (bool, error) {
	if c.store == nil {
		return false, errNotInitialized
	}
	removed, err := c.store.Eval(ctx, compareAndDeleteScript, []string{key}, token).Int64()
	return removed > 0, err
}

// CompareAndExpire extends key's ttl only while it still holds token. A false
// result means the lease was lost to expiry or another holder.
func (c *Client) CompareAndExpire(ctx context.Context, key, token string, ttl time.Duration) (bool, error) {
	if c.store == nil {
		return false, errNotInitialized
	}
	if ttl <= 0 {
		return false, fmt.Errorf("ttl must be positive for %s", key)
	}
	extended, err := c.store.Eval(ctx, compareAndExpireScript, []string{key}, token, ttl.Milliseconds()).Int64()
	return extended > 0, err
}

// CompareAndSwap replaces key's value and ttl in one step, only while it still
// holds expected.
func (c *Client) CompareAndSwap(ctx context.Context, key, expected, value string, ttl time.Duration) (bool, error) {
	if c.store == nil {
		return false, errNotInitialized
	}
	if ttl <= 0 {
		return false, fmt.Errorf("ttl must be positive for %s", key)
	}
	swapped, err := c.store.Eval(ctx, compareAndSwapScript, []string{key}, expected, value, ttl.Milliseconds()).Int64()
	return swapped > 0, err
}

func formatScore(score float64) string {
	switch {
	case math.IsInf(score, 1):
		return "+inf"
	case math.IsInf(score, -1):
		return "-inf"
	}
	return strconv.FormatFloat(score, 'f', -1, 64)
}
