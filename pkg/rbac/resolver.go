package rbac

import (
	"context"
	"errors"
	"sort"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/mscandco/gatekeeper/pkg/observability"
)

// Fallthrough stages reported in logs and metrics
const (
	stageRoleLookup    = "role_lookup"
	stageWildcardGrant = "wildcard_grant"
	stageUserOverride  = "user_override"
	stageRoleGrant     = "role_grant"
	stageListGrants    = "list_grants"
)

// Resolver decides whether a role (and optionally a user) holds a permission.
// Resolution order:
//
//  1. a request for Wildcard is granted only to super_admin, without store calls
//  2. the role holds Wildcard in the grant store
//  3. the user holds an override for the permission
//  4. the role holds the permission in the grant store
//  5. the static catalog lists the role under the permission
//  6. deny
//
// Any failure in steps 2-4 ends the dynamic phase and continues at step 5.
// Resolver never returns errors to its caller.
type Resolver struct {
	catalog     *Catalog
	hierarchy   *Hierarchy
	directory   *RoleDirectory
	grants      GrantStore
	logger      *observability.Logger
	metrics     *observability.Metrics
	otelMetrics *observability.OTelMetrics
	tracer      trace.Tracer
}

// ResolverOption configures a Resolver
type ResolverOption func(*Resolver)

// WithLogger sets the logger used for fallthrough warnings
func WithLogger(logger *observability.Logger) ResolverOption {
	return func(r *Resolver) { r.logger = logger }
}

// WithMetrics sets the Prometheus metrics
func WithMetrics(metrics *observability.Metrics) ResolverOption {
	return func(r *Resolver) { r.metrics = metrics }
}

// WithOTelMetrics sets the OTLP decision instruments
func WithOTelMetrics(metrics *observability.OTelMetrics) ResolverOption {
	return func(r *Resolver) { r.otelMetrics = metrics }
}

// WithTracer overrides the tracer used for check spans
func WithTracer(tracer trace.Tracer) ResolverOption {
	return func(r *Resolver) { r.tracer = tracer }
}

// WithHierarchy overrides the role hierarchy
func WithHierarchy(h *Hierarchy) ResolverOption {
	return func(r *Resolver) { r.hierarchy = h }
}

// NewResolver creates a resolver. When directory or grants is nil the
// resolver answers from the catalog alone.
func NewResolver(catalog *Catalog, directory *RoleDirectory, grants GrantStore, opts ...ResolverOption) *Resolver {
	if catalog == nil {
		catalog = DefaultCatalog()
	}
	r := &Resolver{
		catalog:   catalog,
		hierarchy: DefaultHierarchy(),
		directory: directory,
		grants:    grants,
		logger:    observability.NopLogger(),
		tracer:    observability.Tracer(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Catalog returns the static catalog
func (r *Resolver) Catalog() *Catalog {
	return r.catalog
}

// Hierarchy returns the role hierarchy
func (r *Resolver) Hierarchy() *Hierarchy {
	return r.hierarchy
}

// HasPermission reports whether role (or userID's overrides) grants perm.
// An empty userID skips the override check.
func (r *Resolver) HasPermission(ctx context.Context, role string, perm Permission, userID string) bool {
	return r.Check(ctx, role, perm, userID).Allowed
}

// HasAnyPermission reports whether at least one of perms is granted,
// checking left to right and stopping at the first grant.
func (r *Resolver) HasAnyPermission(ctx context.Context, role string, perms []Permission, userID string) bool {
	for _, perm := range perms {
		if r.HasPermission(ctx, role, perm, userID) {
			return true
		}
	}
	return false
}

// HasAllPermissions reports whether every one of perms is granted, stopping
// at the first denial. An empty list is trivially satisfied.
func (r *Resolver) HasAllPermissions(ctx context.Context, role string, perms []Permission, userID string) bool {
	for _, perm := range perms {
		if !r.HasPermission(ctx, role, perm, userID) {
			return false
		}
	}
	return true
}

// IsRoleHigher reports whether role a outranks role b
func (r *Resolver) IsRoleHigher(a, b string) bool {
	return r.hierarchy.IsHigherPrivilege(a, b)
}

// Check resolves a single permission and reports which stage decided it
func (r *Resolver) Check(ctx context.Context, role string, perm Permission, userID string) Decision {
	start := time.Now()
	ctx, span := r.tracer.Start(ctx, "rbac.Check", trace.WithAttributes(
		attribute.String("rbac.role", role),
		attribute.String("rbac.permission", string(perm)),
		attribute.Bool("rbac.has_user", userID != ""),
	))
	defer span.End()

	decision := r.resolve(ctx, role, perm, userID)

	span.SetAttributes(
		attribute.Bool("rbac.allowed", decision.Allowed),
		attribute.String("rbac.source", string(decision.Source)),
	)
	r.metrics.RecordPermissionCheck(string(decision.Source), decision.Allowed)
	r.otelMetrics.RecordDecision(ctx, string(decision.Source), decision.Allowed, time.Since(start))
	return decision
}

func (r *Resolver) resolve(ctx context.Context, role string, perm Permission, userID string) Decision {
	if perm == Wildcard {
		return Decision{Allowed: role == RoleSuperAdmin, Source: SourceWildcardRequest}
	}

	if decision, ok := r.resolveDynamic(ctx, role, perm, userID); ok {
		return decision
	}

	if r.catalog.Allows(role, perm) {
		return Decision{Allowed: true, Source: SourceCatalog}
	}
	return Decision{Allowed: false, Source: SourceNone}
}

// resolveDynamic runs steps 2-4. ok is false when the dynamic store did not
// grant, either because nothing matched or because a query failed.
func (r *Resolver) resolveDynamic(ctx context.Context, role string, perm Permission, userID string) (Decision, bool) {
	if r.directory == nil || r.grants == nil {
		return Decision{}, false
	}

	roleID, err := r.directory.ResolveRoleID(ctx, role)
	if err != nil {
		r.fallthroughTo(ctx, stageRoleLookup, role, perm, err)
		return Decision{}, false
	}

	res := r.grants.RoleHasPermission(ctx, roleID, Wildcard)
	switch res.Status {
	case Found:
		return Decision{Allowed: true, Source: SourceWildcardGrant}, true
	case Failed:
		r.fallthroughTo(ctx, stageWildcardGrant, role, perm, res.Err)
		return Decision{}, false
	}

	if userID != "" {
		res = r.grants.UserHasPermission(ctx, userID, perm)
		switch res.Status {
		case Found:
			return Decision{Allowed: true, Source: SourceUserOverride}, true
		case Failed:
			r.fallthroughTo(ctx, stageUserOverride, role, perm, res.Err)
			return Decision{}, false
		}
	}

	res = r.grants.RoleHasPermission(ctx, roleID, perm)
	switch res.Status {
	case Found:
		return Decision{Allowed: true, Source: SourceRoleGrant}, true
	case Failed:
		r.fallthroughTo(ctx, stageRoleGrant, role, perm, res.Err)
	}
	return Decision{}, false
}

// GetRolePermissions returns the dynamic grants of role merged with userID's
// overrides, deduplicated and sorted. Any store failure returns the catalog's
// permissions for role instead.
func (r *Resolver) GetRolePermissions(ctx context.Context, role string, userID string) []Permission {
	if r.directory == nil || r.grants == nil {
		return r.catalog.PermissionsFor(role)
	}

	roleID, err := r.directory.ResolveRoleID(ctx, role)
	if err != nil {
		r.fallthroughTo(ctx, stageRoleLookup, role, "", err)
		return r.catalog.PermissionsFor(role)
	}

	perms, err := r.grants.RolePermissions(ctx, roleID)
	if err != nil {
		r.fallthroughTo(ctx, stageListGrants, role, "", err)
		return r.catalog.PermissionsFor(role)
	}

	if userID != "" {
		overrides, err := r.grants.UserPermissions(ctx, userID)
		if err != nil {
			r.fallthroughTo(ctx, stageListGrants, role, "", err)
			return r.catalog.PermissionsFor(role)
		}
		perms = append(perms, overrides...)
	}

	return dedupePermissions(perms)
}

func (r *Resolver) fallthroughTo(ctx context.Context, stage, role string, perm Permission, err error) {
	r.metrics.RecordFallthrough(stage)
	trace.SpanFromContext(ctx).AddEvent("fallthrough", trace.WithAttributes(
		attribute.String("rbac.stage", stage),
	))

	logger := observability.WithTraceContext(ctx, r.logger).WithFields(map[string]interface{}{
		"stage": stage,
		"role":  role,
	})
	if perm != "" {
		logger = logger.WithField("permission", string(perm))
	}

	if errors.Is(err, ErrRoleNotFound) {
		logger.Debug("role not in grant store, using static catalog")
		return
	}
	trace.SpanFromContext(ctx).SetStatus(codes.Error, err.Error())
	logger.WithError(err).Warn("grant store unavailable, using static catalog")
}

func dedupePermissions(perms []Permission) []Permission {
	seen := make(map[Permission]struct{}, len(perms))
	out := make([]Permission, 0, len(perms))
	for _, perm := range perms {
		if _, ok := seen[perm]; ok {
			continue
		}
		seen[perm] = struct{}{}
		out = append(out, perm)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
