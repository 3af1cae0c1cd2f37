package rbac

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/mscandco/gatekeeper/pkg/auth"
	"github.com/mscandco/gatekeeper/pkg/httputil"
)

// PermissionSettings guards the catalog endpoint
const PermissionSettings Permission = "system:settings"

// Handlers provides the read-only HTTP API over the resolver
type Handlers struct {
	resolver *Resolver
	gate     *Gate
}

// NewHandlers creates new RBAC handlers
func NewHandlers(resolver *Resolver, gate *Gate) *Handlers {
	return &Handlers{
		resolver: resolver,
		gate:     gate,
	}
}

// RegisterRoutes registers all RBAC routes
func (h *Handlers) RegisterRoutes(router *mux.Router) {
	v1 := router.PathPrefix("/v1").Subrouter()

	// Caller introspection
	v1.Handle("/me", h.gate.RequireAuth(http.HandlerFunc(h.GetMe))).Methods("GET")
	v1.Handle("/me/permissions", h.gate.RequireAuth(http.HandlerFunc(h.GetMyPermissions))).Methods("GET")
	v1.Handle("/permissions/check", h.gate.RequireAuth(http.HandlerFunc(h.CheckPermissions))).Methods("POST")

	// Catalog and roles
	v1.Handle("/catalog", h.gate.RequirePermission([]Permission{PermissionSettings})(http.HandlerFunc(h.GetCatalog))).Methods("GET")
	v1.Handle("/roles/compare", h.gate.RequireAuth(http.HandlerFunc(h.CompareRoles))).Methods("GET")
	v1.Handle("/roles/{role}/permissions",
		h.gate.RequireRole(RoleCompanyAdmin, RoleSuperAdmin)(http.HandlerFunc(h.GetRolePermissions))).Methods("GET")
}

// MeResponse describes the calling principal
type MeResponse struct {
	ID              string `json:"id"`
	Email           string `json:"email,omitempty"`
	Role            string `json:"role,omitempty"`
	RoleDisplayName string `json:"role_display_name,omitempty"`
	RoleRank        int    `json:"role_rank"`
}

// GetMe returns the calling principal
func (h *Handlers) GetMe(w http.ResponseWriter, r *http.Request) {
	principal, _ := auth.PrincipalFromContext(r.Context())

	resp := MeResponse{
		ID:    principal.ID,
		Email: principal.Email,
		Role:  principal.Role,
	}
	if principal.HasRole() {
		role := h.resolver.Hierarchy().Describe(principal.Role)
		resp.RoleDisplayName = role.DisplayName
		resp.RoleRank = role.Rank
	}

	httputil.WriteSuccess(w, resp)
}

// PermissionsResponse lists the permissions held by a role
type PermissionsResponse struct {
	Role        string   `json:"role"`
	DisplayName string   `json:"display_name,omitempty"`
	Permissions []string `json:"permissions"`
}

// GetMyPermissions returns the caller's effective permissions
func (h *Handlers) GetMyPermissions(w http.ResponseWriter, r *http.Request) {
	principal, _ := auth.PrincipalFromContext(r.Context())

	resp := PermissionsResponse{Role: principal.Role, Permissions: []string{}}
	if principal.HasRole() {
		resp.DisplayName = h.resolver.Hierarchy().DisplayName(principal.Role)
		resp.Permissions = PermissionStrings(h.resolver.GetRolePermissions(r.Context(), principal.Role, principal.ID))
	}

	httputil.WriteSuccess(w, resp)
}

// CheckRequest asks whether the caller holds a set of permissions
type CheckRequest struct {
	Permissions []string `json:"permissions"`
	RequireAll  bool     `json:"require_all"`
}

// CheckResult is the outcome for one permission
type CheckResult struct {
	Permission string `json:"permission"`
	Allowed    bool   `json:"allowed"`
	Source     Source `json:"source"`
}

// CheckResponse is the outcome of a CheckRequest
type CheckResponse struct {
	Allowed    bool          `json:"allowed"`
	RequireAll bool          `json:"require_all"`
	Results    []CheckResult `json:"results"`
}

// CheckPermissions evaluates permissions for the caller. Every permission
// is resolved so the response can report each source.
func (h *Handlers) CheckPermissions(w http.ResponseWriter, r *http.Request) {
	principal, _ := auth.PrincipalFromContext(r.Context())

	var req CheckRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	perms := ParsePermissions(req.Permissions)
	if len(perms) == 0 {
		httputil.WriteBadRequest(w, "permissions is required")
		return
	}

	resp := CheckResponse{
		RequireAll: req.RequireAll,
		Results:    make([]CheckResult, 0, len(perms)),
	}
	anyAllowed, allAllowed := false, true
	for _, perm := range perms {
		decision := Decision{Source: SourceNone}
		if principal.HasRole() {
			decision = h.resolver.Check(r.Context(), principal.Role, perm, principal.ID)
		}
		resp.Results = append(resp.Results, CheckResult{
			Permission: string(perm),
			Allowed:    decision.Allowed,
			Source:     decision.Source,
		})
		anyAllowed = anyAllowed || decision.Allowed
		allAllowed = allAllowed && decision.Allowed
	}

	if req.RequireAll {
		resp.Allowed = allAllowed
	} else {
		resp.Allowed = anyAllowed
	}

	httputil.WriteSuccess(w, resp)
}

// CatalogResponse is the static permission catalog
type CatalogResponse struct {
	Permissions map[Permission][]string `json:"permissions"`
}

// GetCatalog returns the static catalog
func (h *Handlers) GetCatalog(w http.ResponseWriter, r *http.Request) {
	httputil.WriteSuccess(w, CatalogResponse{Permissions: h.resolver.Catalog().Table()})
}

// GetRolePermissions returns the effective permissions of any role
func (h *Handlers) GetRolePermissions(w http.ResponseWriter, r *http.Request) {
	role, ok := httputil.ParsePathStringOrError(w, r, "role")
	if !ok {
		return
	}

	httputil.WriteSuccess(w, PermissionsResponse{
		Role:        role,
		DisplayName: h.resolver.Hierarchy().DisplayName(role),
		Permissions: PermissionStrings(h.resolver.GetRolePermissions(r.Context(), role, "")),
	})
}

// CompareResponse reports the relative seniority of two roles
type CompareResponse struct {
	A       Role `json:"a"`
	B       Role `json:"b"`
	AHigher bool `json:"a_higher"`
}

// CompareRoles compares the roles named by the a and b query parameters
func (h *Handlers) CompareRoles(w http.ResponseWriter, r *http.Request) {
	a := httputil.ParseQueryString(r, "a", "")
	b := httputil.ParseQueryString(r, "b", "")
	if !httputil.RequireNonEmpty(w, a, "a") || !httputil.RequireNonEmpty(w, b, "b") {
		return
	}

	hierarchy := h.resolver.Hierarchy()
	httputil.WriteSuccess(w, CompareResponse{
		A:       hierarchy.Describe(a),
		B:       hierarchy.Describe(b),
		AHigher: h.resolver.IsRoleHigher(a, b),
	})
}
