package rbac

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/mscandco/gatekeeper/pkg/observability"
)

// CachedGrantStore caches found and not-found point lookups for a fixed TTL.
// Failed lookups and list queries always go to the wrapped store.
type CachedGrantStore struct {
	next    GrantStore
	cache   *expirable.LRU[string, LookupStatus]
	metrics *observability.Metrics
}

// NewCachedGrantStore wraps next with an LRU of the given size and TTL
func NewCachedGrantStore(next GrantStore, size int, ttl time.Duration, metrics *observability.Metrics) *CachedGrantStore {
	if size <= 0 {
		size = 10000
	}
	return &CachedGrantStore{
		next:    next,
		cache:   expirable.NewLRU[string, LookupStatus](size, nil, ttl),
		metrics: metrics,
	}
}

// RoleHasPermission implements GrantStore
func (c *CachedGrantStore) RoleHasPermission(ctx context.Context, roleID string, perm Permission) Lookup {
	return c.cached("r|"+roleID+"|"+string(perm), func() Lookup {
		return c.next.RoleHasPermission(ctx, roleID, perm)
	})
}

// UserHasPermission implements GrantStore
func (c *CachedGrantStore) UserHasPermission(ctx context.Context, userID string, perm Permission) Lookup {
	return c.cached("u|"+userID+"|"+string(perm), func() Lookup {
		return c.next.UserHasPermission(ctx, userID, perm)
	})
}

// RolePermissions implements GrantStore
func (c *CachedGrantStore) RolePermissions(ctx context.Context, roleID string) ([]Permission, error) {
	return c.next.RolePermissions(ctx, roleID)
}

// UserPermissions implements GrantStore
func (c *CachedGrantStore) UserPermissions(ctx context.Context, userID string) ([]Permission, error) {
	return c.next.UserPermissions(ctx, userID)
}

// Purge drops every cached lookup
func (c *CachedGrantStore) Purge() {
	c.cache.Purge()
}

func (c *CachedGrantStore) cached(key string, load func() Lookup) Lookup {
	if status, ok := c.cache.Get(key); ok {
		c.metrics.RecordGrantCache(true)
		return Lookup{Status: status}
	}
	c.metrics.RecordGrantCache(false)

	res := load()
	if res.Status != Failed {
		c.cache.Add(key, res.Status)
	}
	return res
}
