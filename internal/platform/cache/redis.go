package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Connect creates a Redis client and verifies it answers.
func Connect(ctx context.Context, addr string) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("pinging redis: %w", err)
	}
	return client, nil
}

// RedisTier is a shared cache tier between a process-local ReadThrough and
// the authoritative loader. Values are stored as JSON under prefix+key.
// Redis failures fall through to the inner loader so the tier can only add
// staleness up to ttl, never unavailability.
type RedisTier[V any] struct {
	client redis.Cmdable
	prefix string
	ttl    time.Duration
	inner  LoaderFunc[V]
}

// NewRedisTier wraps inner with a Redis lookup.
func NewRedisTier[V any](client redis.Cmdable, prefix string, ttl time.Duration, inner LoaderFunc[V]) *RedisTier[V] {
	return &RedisTier[V]{client: client, prefix: prefix, ttl: ttl, inner: inner}
}

// Load satisfies LoaderFunc.
func (t *RedisTier[V]) Load(ctx context.Context, key string) (V, error) {
	raw, err := t.client.Get(ctx, t.prefix+key).Bytes()
	if err == nil {
		var v V
		if jsonErr := json.Unmarshal(raw, &v); jsonErr == nil {
			return v, nil
		}
	} else if !errors.Is(err, redis.Nil) {
		return t.inner(ctx, key)
	}

	v, err := t.inner(ctx, key)
	if err != nil {
		return v, err
	}
	if encoded, jsonErr := json.Marshal(v); jsonErr == nil {
		_ = t.client.Set(ctx, t.prefix+key, encoded, t.ttl).Err()
	}
	return v, nil
}

// Invalidate removes key from the shared tier.
func (t *RedisTier[V]) Invalidate(ctx context.Context, key string) error {
	if err := t.client.Del(ctx, t.prefix+key).Err(); err != nil {
		return fmt.Errorf("invalidating %s: %w", key, err)
	}
	return nil
}
