package rbac

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/mscandco/gatekeeper/pkg/observability"
)

// RoleIDCache memoizes role name → role id. Entries are never evicted:
// role names are deploy-time configuration.
type RoleIDCache interface {
	Get(ctx context.Context, name string) (string, bool)
	Set(ctx context.Context, name, id string)
}

// MemoryRoleIDCache is a process-local RoleIDCache
type MemoryRoleIDCache struct {
	entries sync.Map
}

// NewMemoryRoleIDCache creates an empty in-process cache
func NewMemoryRoleIDCache() *MemoryRoleIDCache {
	return &MemoryRoleIDCache{}
}

// Get implements RoleIDCache
func (c *MemoryRoleIDCache) Get(_ context.Context, name string) (string, bool) {
	v, ok := c.entries.Load(name)
	if !ok {
		return "", false
	}
	return v.(string), true
}

// Set implements RoleIDCache
func (c *MemoryRoleIDCache) Set(_ context.Context, name, id string) {
	c.entries.Store(name, id)
}

// RoleDirectory resolves role names to ids through a cache. Concurrent misses
// for the same name share a single store query.
type RoleDirectory struct {
	lookup  RoleLookup
	cache   RoleIDCache
	group   singleflight.Group
	metrics *observability.Metrics
}

// NewRoleDirectory creates a directory over lookup. A nil cache gets a fresh
// MemoryRoleIDCache.
func NewRoleDirectory(lookup RoleLookup, cache RoleIDCache, metrics *observability.Metrics) *RoleDirectory {
	if cache == nil {
		cache = NewMemoryRoleIDCache()
	}
	return &RoleDirectory{
		lookup:  lookup,
		cache:   cache,
		metrics: metrics,
	}
}

// ResolveRoleID returns the id for roleName. It fails with ErrRoleNotFound when
// the store has no such role and ErrStoreUnavailable when the query fails or
// ctx ends first. Failures are not cached.
//
// The shared query runs detached from any single caller's cancellation; each
// caller waits on its own ctx.
func (d *RoleDirectory) ResolveRoleID(ctx context.Context, roleName string) (string, error) {
	if id, ok := d.cache.Get(ctx, roleName); ok {
		d.metrics.RecordRoleCache(true)
		return id, nil
	}
	d.metrics.RecordRoleCache(false)

	flightCtx := context.WithoutCancel(ctx)
	ch := d.group.DoChan(roleName, func() (interface{}, error) {
		// a concurrent flight may have filled the cache since our miss
		if id, ok := d.cache.Get(flightCtx, roleName); ok {
			return id, nil
		}

		id, res := d.lookup.LookupRoleID(flightCtx, roleName)
		switch res.Status {
		case Found:
			d.cache.Set(flightCtx, roleName, id)
			return id, nil
		case Failed:
			return "", fmt.Errorf("%w: %w", ErrStoreUnavailable, res.Err)
		default:
			return "", fmt.Errorf("%w: %s", ErrRoleNotFound, roleName)
		}
	})

	select {
	case <-ctx.Done():
		return "", fmt.Errorf("%w: %w", ErrStoreUnavailable, ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	}
}
