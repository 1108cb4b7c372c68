package rbac

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/valinor-ai/kycgate/internal/platform/cache"
)

const (
	listActiveKey = "\x00list:active"
	listAllKey    = "\x00list:all"
)

// CachedCatalog fronts a catalog with a read-through cache. Reads are at
// most ttl stale; RoleAdministration invalidates after every mutation so
// the writer's own process sees its change immediately.
type CachedCatalog struct {
	inner Catalog
	roles *cache.ReadThrough[Role]
	lists *cache.ReadThrough[[]Role]
	redis *cache.RedisTier[Role]
}

// CachedCatalogOption configures a CachedCatalog.
type CachedCatalogOption func(*cachedCatalogConfig)

type cachedCatalogConfig struct {
	redis    redis.Cmdable
	redisTTL time.Duration
}

// WithRedisTier shares role lookups across processes through Redis.
func WithRedisTier(client redis.Cmdable, ttl time.Duration) CachedCatalogOption {
	return func(c *cachedCatalogConfig) {
		c.redis = client
		c.redisTTL = ttl
	}
}

func NewCachedCatalog(inner Catalog, ttl time.Duration, clock cache.Clock, opts ...CachedCatalogOption) *CachedCatalog {
	var cfg cachedCatalogConfig
	for _, opt := range opts {
		opt(&cfg)
	}

	c := &CachedCatalog{inner: inner}

	load := cache.LoaderFunc[Role](inner.Get)
	if cfg.redis != nil {
		c.redis = cache.NewRedisTier(cfg.redis, "kycgate:role:", cfg.redisTTL, load)
		load = c.redis.Load
	}
	c.roles = cache.New(load, ttl, clock)
	c.lists = cache.New(func(ctx context.Context, key string) ([]Role, error) {
		return inner.List(ctx, key == listAllKey)
	}, ttl, clock)
	return c
}

func (c *CachedCatalog) Get(ctx context.Context, name string) (Role, error) {
	r, err := c.roles.Get(ctx, name)
	if err != nil {
		return Role{}, err
	}
	return r.Clone(), nil
}

func (c *CachedCatalog) List(ctx context.Context, includeInactive bool) ([]Role, error) {
	key := listActiveKey
	if includeInactive {
		key = listAllKey
	}
	roles, err := c.lists.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	out := make([]Role, len(roles))
	for i, r := range roles {
		out[i] = r.Clone()
	}
	return out, nil
}

func (c *CachedCatalog) HierarchyOf(ctx context.Context, name string) (int, error) {
	r, err := c.Get(ctx, name)
	if err != nil {
		return 0, err
	}
	return r.Hierarchy, nil
}

// Invalidate drops name and both list views from every tier.
func (c *CachedCatalog) Invalidate(ctx context.Context, name string) error {
	c.roles.Invalidate(name)
	c.lists.Invalidate(listActiveKey)
	c.lists.Invalidate(listAllKey)
	if c.redis != nil {
		return c.redis.Invalidate(ctx, name)
	}
	return nil
}
