// Package cache provides a read-through cache with bounded staleness.
package cache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// Clock returns the current time. Tests pass a fake.
type Clock func() time.Time

// LoaderFunc fetches the authoritative value for key.
type LoaderFunc[V any] func(ctx context.Context, key string) (V, error)

type entry[V any] struct {
	value    V
	storedAt time.Time
}

// ReadThrough caches loader results for at most ttl. Concurrent misses for
// the same key share one loader call. Loader errors are never cached.
type ReadThrough[V any] struct {
	loader LoaderFunc[V]
	ttl    time.Duration
	now    Clock

	mu      sync.RWMutex
	entries map[string]entry[V]
	gens    map[string]uint64
	epoch   uint64
	group   singleflight.Group
}

// New builds a cache. A nil clock uses time.Now; ttl <= 0 disables caching.
func New[V any](loader LoaderFunc[V], ttl time.Duration, clock Clock) *ReadThrough[V] {
	if clock == nil {
		clock = time.Now
	}
	return &ReadThrough[V]{
		loader:  loader,
		ttl:     ttl,
		now:     clock,
		entries: make(map[string]entry[V]),
		gens:    make(map[string]uint64),
	}
}

// Get returns a cached value younger than ttl or loads a fresh one.
func (c *ReadThrough[V]) Get(ctx context.Context, key string) (V, error) {
	if v, ok := c.lookup(key); ok {
		return v, nil
	}

	res, err, _ := c.group.Do(key, func() (any, error) {
		if v, ok := c.lookup(key); ok {
			return v, nil
		}
		gen := c.generation(key)
		v, err := c.loader(ctx, key)
		if err != nil {
			return v, err
		}
		c.store(key, v, gen)
		return v, nil
	})
	if err != nil {
		var zero V
		return zero, err
	}
	v, ok := res.(V)
	if !ok {
		var zero V
		return zero, fmt.Errorf("cache: unexpected value type %T", res)
	}
	return v, nil
}

// Invalidate drops one key. A load already in flight for key still
// returns to its callers but is not stored.
func (c *ReadThrough[V]) Invalidate(key string) {
	c.mu.Lock()
	delete(c.entries, key)
	c.gens[key]++
	c.mu.Unlock()
	c.group.Forget(key)
}

// Purge drops every key and discards every in-flight load.
func (c *ReadThrough[V]) Purge() {
	c.mu.Lock()
	c.entries = make(map[string]entry[V])
	c.gens = make(map[string]uint64)
	c.epoch++
	c.mu.Unlock()
}

// Len returns the number of stored entries, fresh or stale.
func (c *ReadThrough[V]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

func (c *ReadThrough[V]) lookup(key string) (V, bool) {
	var zero V
	if c.ttl <= 0 {
		return zero, false
	}
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok || c.now().Sub(e.storedAt) >= c.ttl {
		return zero, false
	}
	return e.value, true
}

type generation struct{ epoch, key uint64 }

func (c *ReadThrough[V]) generation(key string) generation {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return generation{epoch: c.epoch, key: c.gens[key]}
}

// store keeps v only if key was not invalidated since gen was taken.
func (c *ReadThrough[V]) store(key string, v V, gen generation) {
	if c.ttl <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.epoch != gen.epoch || c.gens[key] != gen.key {
		return
	}
	c.entries[key] = entry[V]{value: v, storedAt: c.now()}
}
