package rbac

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/gorilla/mux"
	"go.opentelemetry.io/otel/trace"

	"github.com/mscandco/gatekeeper/pkg/audit"
	"github.com/mscandco/gatekeeper/pkg/auth"
	"github.com/mscandco/gatekeeper/pkg/observability"
)

// Role-id cache backends
const (
	RoleIDCacheMemory = "memory"
	RoleIDCacheRedis  = "redis"
)

// Config holds RBAC configuration
type Config struct {
	// GrantCacheTTL is how long point grant lookups are cached; 0 disables the cache
	GrantCacheTTL time.Duration

	// GrantCacheSize bounds the grant cache
	GrantCacheSize int

	// RoleIDCache selects the role-id cache backend, "memory" or "redis"
	RoleIDCache string

	// RoleIDKeyPrefix namespaces role ids in Redis
	RoleIDKeyPrefix string

	// RunMigrations creates the grant tables on Initialize
	RunMigrations bool
}

// DefaultConfig returns default RBAC configuration
func DefaultConfig() Config {
	return Config{
		GrantCacheTTL:   0,
		GrantCacheSize:  10000,
		RoleIDCache:     RoleIDCacheMemory,
		RoleIDKeyPrefix: DefaultRoleIDKeyPrefix,
	}
}

// Dependencies are the collaborators a Manager wires together. DB and
// Redis may be nil; without DB the resolver answers from the catalog alone.
type Dependencies struct {
	DB          *sql.DB
	Redis       *redis.Client
	Identity    auth.IdentityExtractor
	Audit       audit.Logger
	Logger      *observability.Logger
	Metrics     *observability.Metrics
	OTelMetrics *observability.OTelMetrics
	Tracer      trace.Tracer
}

// Manager manages all RBAC components
type Manager struct {
	db       *sql.DB
	resolver *Resolver
	gate     *Gate
	handlers *Handlers
	logger   *observability.Logger
	config   Config
}

// NewManager creates a new RBAC manager
func NewManager(deps Dependencies, config Config) (*Manager, error) {
	if deps.Identity == nil {
		return nil, fmt.Errorf("identity extractor is required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = observability.NopLogger()
	}

	opts := []ResolverOption{
		WithLogger(logger),
		WithMetrics(deps.Metrics),
		WithOTelMetrics(deps.OTelMetrics),
	}
	if deps.Tracer != nil {
		opts = append(opts, WithTracer(deps.Tracer))
	}

	var resolver *Resolver
	if deps.DB == nil {
		logger.Warn("no database configured, permissions resolve from the static catalog only")
		resolver = NewResolver(DefaultCatalog(), nil, nil, opts...)
	} else {
		store := NewSQLStore(deps.DB).WithMetrics(deps.OTelMetrics)

		cache, err := newRoleIDCache(deps.Redis, config, logger)
		if err != nil {
			return nil, err
		}
		directory := NewRoleDirectory(store, cache, deps.Metrics)

		var grants GrantStore = store
		if config.GrantCacheTTL > 0 {
			grants = NewCachedGrantStore(store, config.GrantCacheSize, config.GrantCacheTTL, deps.Metrics)
		}

		resolver = NewResolver(DefaultCatalog(), directory, grants, opts...)
	}

	gate := NewGate(deps.Identity, resolver, deps.Audit,
		WithGateLogger(logger),
		WithGateMetrics(deps.Metrics),
	)

	return &Manager{
		db:       deps.DB,
		resolver: resolver,
		gate:     gate,
		handlers: NewHandlers(resolver, gate),
		logger:   logger,
		config:   config,
	}, nil
}

func newRoleIDCache(client *redis.Client, config Config, logger *observability.Logger) (RoleIDCache, error) {
	switch config.RoleIDCache {
	case "", RoleIDCacheMemory:
		return NewMemoryRoleIDCache(), nil
	case RoleIDCacheRedis:
		if client == nil {
			return nil, fmt.Errorf("role id cache %q requires a redis client", RoleIDCacheRedis)
		}
		return NewRedisRoleIDCache(client, config.RoleIDKeyPrefix, logger), nil
	default:
		return nil, fmt.Errorf("unknown role id cache %q", config.RoleIDCache)
	}
}

// Initialize sets up RBAC system
func (m *Manager) Initialize(ctx context.Context) error {
	if m.db == nil || !m.config.RunMigrations {
		return nil
	}
	if err := RunMigrations(ctx, m.db, m.logger); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

// RegisterRoutes registers RBAC routes with a router
func (m *Manager) RegisterRoutes(router *mux.Router) {
	m.handlers.RegisterRoutes(router)
}

// Resolver returns the permission resolver
func (m *Manager) Resolver() *Resolver {
	return m.resolver
}

// Gate returns the enforcement gate
func (m *Manager) Gate() *Gate {
	return m.gate
}
