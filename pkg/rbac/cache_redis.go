package rbac

import (
	"context"
	"errors"

	"github.com/go-redis/redis/v8"

	"github.com/mscandco/gatekeeper/pkg/observability"
)

// DefaultRoleIDKeyPrefix namespaces role id entries in Redis
const DefaultRoleIDKeyPrefix = "gatekeeper:role_id:"

// RedisRoleIDCache shares role ids across replicas. Keys carry no expiry.
// Redis errors degrade to a cache miss so resolution falls back to the store.
type RedisRoleIDCache struct {
	client *redis.Client
	prefix string
	logger *observability.Logger
}

// NewRedisRoleIDCache creates a cache over client. An empty prefix uses
// DefaultRoleIDKeyPrefix.
func NewRedisRoleIDCache(client *redis.Client, prefix string, logger *observability.Logger) *RedisRoleIDCache {
	if prefix == "" {
		prefix = DefaultRoleIDKeyPrefix
	}
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &RedisRoleIDCache{
		client: client,
		prefix: prefix,
		logger: logger,
	}
}

// Get implements RoleIDCache
func (c *RedisRoleIDCache) Get(ctx context.Context, name string) (string, bool) {
	id, err := c.client.Get(ctx, c.prefix+name).Result()
	if errors.Is(err, redis.Nil) {
		return "", false
	}
	if err != nil {
		c.logger.WithError(err).WithField("role", name).Warn("role id cache read failed")
		return "", false
	}
	return id, true
}

// Set implements RoleIDCache
func (c *RedisRoleIDCache) Set(ctx context.Context, name, id string) {
	if err := c.client.Set(ctx, c.prefix+name, id, 0).Err(); err != nil {
		c.logger.WithError(err).WithField("role", name).Warn("role id cache write failed")
	}
}
