package rbac

import (
	"context"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/mscandco/gatekeeper/pkg/observability"
)

func TestResolver_WildcardRequest(t *testing.T) {
	store := seededStore()
	grants := &scriptedGrants{role: func(string, Permission) Lookup { return LookupFound() }}
	r := NewResolver(nil, NewRoleDirectory(store, nil, nil), grants)
	ctx := context.Background()

	assert.True(t, r.HasPermission(ctx, RoleSuperAdmin, Wildcard, ""))
	for _, role := range []string{RoleArtist, RoleLabelAdmin, RoleCompanyAdmin, RoleDistributionPartner, "unknown", ""} {
		assert.False(t, r.HasPermission(ctx, role, Wildcard, "user-1"), role)
	}

	assert.Zero(t, grants.Calls(), "wildcard requests never reach the grant store")
	for _, role := range everyRole {
		assert.Zero(t, store.RoleQueries(role), "wildcard requests never resolve role ids")
	}
}

func TestResolver_CatalogSurvivesStoreOutage(t *testing.T) {
	store := seededStore()
	store.SetError(errors.New("connection refused"))
	r := newStoreResolver(store)
	ctx := context.Background()

	catalog := DefaultCatalog()
	for perm, roles := range catalog.Table() {
		for _, role := range roles {
			assert.True(t, r.HasPermission(ctx, role, perm, "user-1"), "%s %s", role, perm)
		}
	}
}

func TestResolver_DeniesWithoutAnySource(t *testing.T) {
	store := seededStore()
	r := newStoreResolver(store)

	assert.False(t, r.HasPermission(context.Background(), RoleLabelAdmin, "wallet:topup:any", ""))

	store.SetError(errors.New("timeout"))
	assert.False(t, r.HasPermission(context.Background(), RoleLabelAdmin, "wallet:topup:any", ""))
	assert.False(t, r.HasPermission(context.Background(), RoleArtist, "not:a:permission", "user-1"))
}

func TestResolver_ResolutionOrder(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name   string
		setup  func(s *MemoryStore)
		role   string
		perm   Permission
		userID string
		want   Decision
	}{
		{
			name:  "wildcard grant",
			setup: func(s *MemoryStore) { s.GrantRole("id-artist", Wildcard) },
			role:  RoleArtist,
			perm:  "system:logs",
			want:  Decision{Allowed: true, Source: SourceWildcardGrant},
		},
		{
			name:   "user override",
			setup:  func(s *MemoryStore) { s.GrantUser("user-1", "system:settings") },
			role:   RoleArtist,
			perm:   "system:settings",
			userID: "user-1",
			want:   Decision{Allowed: true, Source: SourceUserOverride},
		},
		{
			name:  "override ignored without user id",
			setup: func(s *MemoryStore) { s.GrantUser("user-1", "system:settings") },
			role:  RoleArtist,
			perm:  "system:settings",
			want:  Decision{Allowed: false, Source: SourceNone},
		},
		{
			name: "override precedes role grant",
			setup: func(s *MemoryStore) {
				s.GrantUser("user-1", "release:publish")
				s.GrantRole("id-artist", "release:publish")
			},
			role:   RoleArtist,
			perm:   "release:publish",
			userID: "user-1",
			want:   Decision{Allowed: true, Source: SourceUserOverride},
		},
		{
			name:  "role grant",
			setup: func(s *MemoryStore) { s.GrantRole("id-label_admin", "wallet:topup:any") },
			role:  RoleLabelAdmin,
			perm:  "wallet:topup:any",
			want:  Decision{Allowed: true, Source: SourceRoleGrant},
		},
		{
			name:  "catalog",
			setup: func(s *MemoryStore) {},
			role:  RoleArtist,
			perm:  "release:edit:own",
			want:  Decision{Allowed: true, Source: SourceCatalog},
		},
		{
			name:  "deny",
			setup: func(s *MemoryStore) {},
			role:  RoleLabelAdmin,
			perm:  "wallet:topup:any",
			want:  Decision{Allowed: false, Source: SourceNone},
		},
		{
			name:  "unknown role falls to catalog",
			setup: func(s *MemoryStore) {},
			role:  "ghost",
			perm:  "release:edit:own",
			want:  Decision{Allowed: false, Source: SourceNone},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := seededStore()
			tt.setup(store)
			r := newStoreResolver(store)
			assert.Equal(t, tt.want, r.Check(ctx, tt.role, tt.perm, tt.userID))
		})
	}
}

func TestResolver_OverrideScenario(t *testing.T) {
	store := seededStore()
	store.GrantUser("user-42", "system:settings")
	r := newStoreResolver(store)

	require.False(t, DefaultCatalog().Allows(RoleArtist, "system:settings"))
	assert.True(t, r.HasPermission(context.Background(), RoleArtist, "system:settings", "user-42"))
	assert.False(t, r.HasPermission(context.Background(), RoleArtist, "system:settings", "user-43"))
}

func TestResolver_FailureSkipsRemainingDynamicStages(t *testing.T) {
	store := seededStore()
	failed := LookupFailed(errors.New("query canceled"))

	tests := []struct {
		name   string
		grants *scriptedGrants
	}{
		{
			name: "wildcard lookup fails",
			grants: &scriptedGrants{
				role: func(_ string, perm Permission) Lookup {
					if perm == Wildcard {
						return failed
					}
					return LookupFound()
				},
				user: func(string, Permission) Lookup { return LookupFound() },
			},
		},
		{
			name: "override lookup fails",
			grants: &scriptedGrants{
				user: func(string, Permission) Lookup { return failed },
				role: func(_ string, perm Permission) Lookup {
					if perm == Wildcard {
						return LookupNotFound()
					}
					return LookupFound()
				},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewResolver(nil, NewRoleDirectory(store, nil, nil), tt.grants)
			// system:logs is super_admin only, so only the skipped dynamic stages could grant it
			assert.Equal(t, Decision{Allowed: false, Source: SourceNone},
				r.Check(context.Background(), RoleArtist, "system:logs", "user-1"))
		})
	}
}

func TestResolver_RoleLookupFailureSkipsOverride(t *testing.T) {
	store := seededStore()
	store.GrantUser("user-1", "system:settings")
	r := newStoreResolver(store)

	// ghost is not a store role, so the override stage is never reached
	assert.False(t, r.HasPermission(context.Background(), "ghost", "system:settings", "user-1"))
}

func TestResolver_AnyAndAll(t *testing.T) {
	store := seededStore()
	store.GrantUser("user-1", "user:impersonate")
	r := newStoreResolver(store)
	ctx := context.Background()

	perms := []Permission{"release:edit:own", "wallet:topup:any", "user:impersonate", "system:logs"}
	subsets := [][]Permission{{}}
	for _, p := range perms {
		for _, q := range perms {
			subsets = append(subsets, []Permission{p}, []Permission{p, q})
		}
	}

	for _, role := range everyRole {
		for _, userID := range []string{"", "user-1"} {
			for _, set := range subsets {
				wantAny, wantAll := false, true
				for _, p := range set {
					has := r.HasPermission(ctx, role, p, userID)
					wantAny = wantAny || has
					wantAll = wantAll && has
				}
				assert.Equal(t, wantAny, r.HasAnyPermission(ctx, role, set, userID), "any %s %v", role, set)
				assert.Equal(t, wantAll, r.HasAllPermissions(ctx, role, set, userID), "all %s %v", role, set)
			}
		}
	}
}

func TestResolver_EmptyLists(t *testing.T) {
	r := NewResolver(nil, nil, nil)
	assert.False(t, r.HasAnyPermission(context.Background(), RoleSuperAdmin, nil, ""))
	assert.True(t, r.HasAllPermissions(context.Background(), RoleArtist, nil, ""))
}

func TestResolver_Idempotent(t *testing.T) {
	store := seededStore()
	store.GrantRole("id-artist", "release:publish")
	r := newStoreResolver(store)
	ctx := context.Background()

	first := r.Check(ctx, RoleArtist, "release:publish", "user-1")
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, r.Check(ctx, RoleArtist, "release:publish", "user-1"))
	}
	assert.Equal(t, 1, store.RoleQueries(RoleArtist), "role id resolved once and cached")
}

func TestResolver_CatalogOnly(t *testing.T) {
	r := NewResolver(nil, nil, nil)
	ctx := context.Background()

	assert.Equal(t, Decision{Allowed: true, Source: SourceCatalog}, r.Check(ctx, RoleCompanyAdmin, "release:approve", ""))
	assert.Equal(t, Decision{Allowed: false, Source: SourceNone}, r.Check(ctx, RoleArtist, "release:approve", ""))
}

func TestResolver_GetRolePermissions(t *testing.T) {
	store := seededStore()
	store.GrantRole("id-artist", "release:view:own", "release:create")
	store.GrantUser("user-1", "system:settings", "release:create")
	r := newStoreResolver(store)
	ctx := context.Background()

	assert.Equal(t, []Permission{"release:create", "release:view:own", "system:settings"},
		r.GetRolePermissions(ctx, RoleArtist, "user-1"))
	assert.Equal(t, []Permission{"release:create", "release:view:own"},
		r.GetRolePermissions(ctx, RoleArtist, ""))

	// unknown role and store outage both answer from the catalog
	assert.Empty(t, r.GetRolePermissions(ctx, "ghost", ""))
	store.SetError(errors.New("down"))
	assert.Equal(t, DefaultCatalog().PermissionsFor(RoleArtist), r.GetRolePermissions(ctx, RoleArtist, "user-1"))
}

func TestResolver_GetRolePermissionsOverrideFailure(t *testing.T) {
	store := seededStore()
	grants := &scriptedGrants{
		rolePerms: func(string) ([]Permission, error) { return []Permission{"release:create"}, nil },
		userPerms: func(string) ([]Permission, error) { return nil, errors.New("down") },
	}
	r := NewResolver(nil, NewRoleDirectory(store, nil, nil), grants)

	assert.Equal(t, DefaultCatalog().PermissionsFor(RoleLabelAdmin),
		r.GetRolePermissions(context.Background(), RoleLabelAdmin, "user-1"))
}

func TestResolver_IsRoleHigher(t *testing.T) {
	r := NewResolver(nil, nil, nil)
	assert.True(t, r.IsRoleHigher(RoleSuperAdmin, RoleCompanyAdmin))
	assert.True(t, r.IsRoleHigher(RoleLabelAdmin, RoleArtist))
	assert.False(t, r.IsRoleHigher(RoleLabelAdmin, RoleDistributionPartner))
	assert.False(t, r.IsRoleHigher("ghost", RoleArtist))
}

func TestResolver_MetricsAndTracing(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	metrics := observability.NewMetrics(prometheus.NewRegistry())

	store := seededStore()
	r := newStoreResolver(store,
		WithMetrics(metrics),
		WithTracer(provider.Tracer("test")),
	)
	ctx := context.Background()

	r.HasPermission(ctx, RoleArtist, "release:edit:own", "")
	store.SetError(errors.New("down"))
	r.HasPermission(ctx, RoleLabelAdmin, "wallet:topup:any", "")

	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.PermissionChecksTotal.WithLabelValues("catalog", "allow")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.PermissionChecksTotal.WithLabelValues("none", "deny")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.StoreFallthroughTotal.WithLabelValues(stageRoleLookup)))

	spans := recorder.Ended()
	require.Len(t, spans, 2)
	assert.Equal(t, "rbac.Check", spans[0].Name())

	attrs := map[string]string{}
	for _, kv := range spans[1].Attributes() {
		attrs[string(kv.Key)] = kv.Value.Emit()
	}
	assert.Equal(t, RoleLabelAdmin, attrs["rbac.role"])
	assert.Equal(t, "false", attrs["rbac.allowed"])
	assert.Equal(t, "none", attrs["rbac.source"])
}
