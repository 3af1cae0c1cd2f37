package rbac

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/mscandco/gatekeeper/pkg/audit"
	"github.com/mscandco/gatekeeper/pkg/auth"
	"github.com/mscandco/gatekeeper/pkg/contextkeys"
	"github.com/mscandco/gatekeeper/pkg/httputil"
	"github.com/mscandco/gatekeeper/pkg/observability"
)

// Requirement describes what a caller must hold to pass the gate.
// AuthOnly admits any authenticated principal, with or without a role.
// A non-empty Roles list is a role check; otherwise Permissions are
// evaluated with OR semantics, or AND when RequireAll is set.
type Requirement struct {
	Permissions []Permission
	RequireAll  bool
	Roles       []string
	AuthOnly    bool
}

// Expression renders the requirement the way it is recorded in audit entries
func (req Requirement) Expression() string {
	if len(req.Roles) > 0 {
		return "role:" + strings.Join(req.Roles, "|")
	}
	sep := " OR "
	if req.RequireAll {
		sep = " AND "
	}
	return strings.Join(PermissionStrings(req.Permissions), sep)
}

// RequestMeta is the request context copied into audit entries
type RequestMeta struct {
	Path      string
	Method    string
	IPAddress string
	UserAgent string
	RequestID string
}

// MetaFromRequest collects RequestMeta from an HTTP request
func MetaFromRequest(r *http.Request) RequestMeta {
	requestID := contextkeys.GetRequestID(r.Context())
	if requestID == "" {
		requestID = r.Header.Get(httputil.RequestIDHeader)
	}
	return RequestMeta{
		Path:      r.URL.Path,
		Method:    r.Method,
		IPAddress: audit.ClientIP(r),
		UserAgent: r.UserAgent(),
		RequestID: requestID,
	}
}

// RequireOption modifies a permission requirement
type RequireOption func(*Requirement)

// RequireAll switches a permission requirement to AND semantics
func RequireAll() RequireOption {
	return func(req *Requirement) {
		req.RequireAll = true
	}
}

// Gate enforces requirements on HTTP handlers and records denials
type Gate struct {
	identity auth.IdentityExtractor
	resolver *Resolver
	audit    audit.Logger
	logger   *observability.Logger
	metrics  *observability.Metrics
}

// GateOption configures a Gate
type GateOption func(*Gate)

// WithGateLogger sets the gate's logger
func WithGateLogger(logger *observability.Logger) GateOption {
	return func(g *Gate) {
		g.logger = logger
	}
}

// WithGateMetrics sets the gate's prometheus metrics
func WithGateMetrics(metrics *observability.Metrics) GateOption {
	return func(g *Gate) {
		g.metrics = metrics
	}
}

// NewGate creates an enforcement gate. A nil audit logger discards entries.
func NewGate(identity auth.IdentityExtractor, resolver *Resolver, auditLogger audit.Logger, opts ...GateOption) *Gate {
	if auditLogger == nil {
		auditLogger = audit.NoOpLogger()
	}
	g := &Gate{
		identity: identity,
		resolver: resolver,
		audit:    auditLogger,
		logger:   observability.NopLogger(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// RequirePermission admits callers whose role holds any of perms, or all
// of them with RequireAll().
func (g *Gate) RequirePermission(perms []Permission, opts ...RequireOption) func(http.Handler) http.Handler {
	req := Requirement{Permissions: append([]Permission(nil), perms...)}
	for _, opt := range opts {
		opt(&req)
	}
	return g.enforce(req)
}

// RequireRole admits callers whose role is one of roles
func (g *Gate) RequireRole(roles ...string) func(http.Handler) http.Handler {
	return g.enforce(Requirement{Roles: append([]string(nil), roles...)})
}

// RequireAuth admits any authenticated caller
func (g *Gate) RequireAuth(next http.Handler) http.Handler {
	return g.enforce(Requirement{AuthOnly: true})(next)
}

func (g *Gate) enforce(req Requirement) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal, err := g.identity.Extract(r)
			if err != nil {
				g.logger.WithError(err).WithField("path", r.URL.Path).Debug("identity extraction failed")
				g.writeDeny(w, g.deny(&DenyError{Reason: ReasonUnauthenticated, Cause: err, Err: ErrUnauthenticated}))
				return
			}

			if err := g.Authorize(r.Context(), principal, req, MetaFromRequest(r)); err != nil {
				var denyErr *DenyError
				if errors.As(err, &denyErr) {
					g.writeDeny(w, denyErr)
					return
				}
				httputil.WriteInternalError(w)
				return
			}

			next.ServeHTTP(w, r.WithContext(auth.WithPrincipal(r.Context(), principal)))
		})
	}
}

// Authorize evaluates req for principal. It returns nil on allow and a
// *DenyError otherwise; permission and role denials are written to the
// audit sink before returning.
func (g *Gate) Authorize(ctx context.Context, principal *auth.Principal, req Requirement, meta RequestMeta) error {
	if principal == nil || principal.ID == "" {
		return g.deny(&DenyError{Reason: ReasonUnauthenticated, Err: ErrUnauthenticated})
	}
	if req.AuthOnly {
		return nil
	}
	if !principal.HasRole() {
		return g.deny(&DenyError{Reason: ReasonRoleNotAssigned, Err: ErrRoleNotAssigned})
	}

	var denyErr *DenyError
	if len(req.Roles) > 0 {
		if containsRole(req.Roles, principal.Role) {
			return nil
		}
		denyErr = &DenyError{
			Reason:        ReasonInsufficientRole,
			Role:          principal.Role,
			RequiredRoles: req.Roles,
			Err:           ErrForbidden,
		}
	} else {
		var allowed bool
		if req.RequireAll {
			allowed = g.resolver.HasAllPermissions(ctx, principal.Role, req.Permissions, principal.ID)
		} else {
			allowed = g.resolver.HasAnyPermission(ctx, principal.Role, req.Permissions, principal.ID)
		}
		if allowed {
			return nil
		}
		denyErr = &DenyError{
			Reason:              ReasonInsufficientPermissions,
			Role:                principal.Role,
			RequiredPermissions: req.Permissions,
			Err:                 ErrForbidden,
		}
	}

	g.recordDenial(ctx, principal, req, meta)
	return g.deny(denyErr)
}

func (g *Gate) deny(err *DenyError) *DenyError {
	g.metrics.RecordDenial(err.Reason)
	return err
}

// recordDenial writes the audit entry. The write outlives the request and
// its failure never changes the verdict.
func (g *Gate) recordDenial(ctx context.Context, principal *auth.Principal, req Requirement, meta RequestMeta) {
	entry := &audit.Entry{
		Timestamp:   time.Now().UTC(),
		EventType:   audit.EventPermissionDenied,
		UserID:      principal.ID,
		UserEmail:   principal.Email,
		UserRole:    principal.Role,
		Permissions: PermissionStrings(req.Permissions),
		Roles:       req.Roles,
		Expression:  req.Expression(),
		Path:        meta.Path,
		Method:      meta.Method,
		IPAddress:   meta.IPAddress,
		UserAgent:   meta.UserAgent,
		RequestID:   meta.RequestID,
	}

	logger := g.logger.WithFields(map[string]interface{}{
		"user_id":    principal.ID,
		"role":       principal.Role,
		"required":   entry.Expression,
		"path":       meta.Path,
		"request_id": meta.RequestID,
	})
	logger.Info("access denied")

	if err := g.audit.Log(context.WithoutCancel(ctx), entry); err != nil {
		logger.WithError(err).Error("failed to write audit entry")
		g.metrics.RecordAuditFailure()
	}
}

// denyResponse is the JSON body of 401 and 403 responses
type denyResponse struct {
	httputil.ErrorResponse
	RequiredPermissions []string `json:"required_permissions,omitempty"`
	RequiredRoles       []string `json:"required_roles,omitempty"`
	UserRole            string   `json:"user_role,omitempty"`
}

func (g *Gate) writeDeny(w http.ResponseWriter, err *DenyError) {
	status := http.StatusForbidden
	resp := denyResponse{
		ErrorResponse: httputil.ErrorResponse{
			Error:  http.StatusText(http.StatusForbidden),
			Reason: err.Reason,
		},
	}

	switch err.Reason {
	case ReasonUnauthenticated:
		status = http.StatusUnauthorized
		resp.Error = http.StatusText(http.StatusUnauthorized)
		resp.Message = "Authentication required"
	case ReasonRoleNotAssigned:
		resp.Message = "User role not assigned"
	case ReasonInsufficientRole:
		resp.Message = "Insufficient role to access this resource"
		resp.RequiredRoles = err.RequiredRoles
		resp.UserRole = err.Role
	default:
		resp.Message = "Insufficient permissions to access this resource"
		resp.RequiredPermissions = PermissionStrings(err.RequiredPermissions)
		resp.UserRole = err.Role
	}

	httputil.WriteJSON(w, status, resp)
}

// IsOwner reports whether userID owns a resource owned by ownerID. Empty
// ids never match.
func IsOwner(userID, ownerID string) bool {
	return userID != "" && userID == ownerID
}

func containsRole(roles []string, role string) bool {
	for _, r := range roles {
		if r == role {
			return true
		}
	}
	return false
}
