package rbac

import (
	"sort"
)

var (
	everyRole    = []string{RoleArtist, RoleLabelAdmin, RoleCompanyAdmin, RoleSuperAdmin, RoleDistributionPartner}
	members      = []string{RoleArtist, RoleLabelAdmin, RoleCompanyAdmin, RoleSuperAdmin}
	labelAndUp   = []string{RoleLabelAdmin, RoleCompanyAdmin, RoleSuperAdmin}
	companyAndUp = []string{RoleCompanyAdmin, RoleSuperAdmin}
	superOnly    = []string{RoleSuperAdmin}
)

// defaultCatalog is the compiled legacy permission table
var defaultCatalog = map[Permission][]string{
	// Profile
	"profile:view:own":   everyRole,
	"profile:edit:own":   everyRole,
	"profile:view:any":   labelAndUp,
	"profile:edit:any":   companyAndUp,
	"profile:delete:any": superOnly,

	// Release
	"release:view:own":     members,
	"release:create":       members,
	"release:edit:own":     members,
	"release:delete:own":   members,
	"release:view:label":   labelAndUp,
	"release:edit:label":   labelAndUp,
	"release:delete:label": labelAndUp,
	"release:view:any":     {RoleCompanyAdmin, RoleSuperAdmin, RoleDistributionPartner},
	"release:edit:any":     companyAndUp,
	"release:delete:any":   superOnly,
	"release:approve":      companyAndUp,
	"release:publish":      companyAndUp,

	// Analytics
	"analytics:view:own":   members,
	"analytics:view:label": labelAndUp,
	"analytics:view:any":   {RoleCompanyAdmin, RoleSuperAdmin, RoleDistributionPartner},
	"analytics:edit:any":   companyAndUp,
	"analytics:export":     members,

	// Artist management
	"artist:view:own":     members,
	"artist:view:label":   labelAndUp,
	"artist:view:any":     companyAndUp,
	"artist:invite":       labelAndUp,
	"artist:remove:label": labelAndUp,
	"artist:manage:any":   companyAndUp,

	// Earnings
	"earnings:view:own":   members,
	"earnings:view:label": labelAndUp,
	"earnings:view:any":   companyAndUp,
	"earnings:edit:any":   companyAndUp,
	"earnings:approve":    companyAndUp,

	// Wallet
	"wallet:view:own":     members,
	"wallet:topup:own":    members,
	"wallet:withdraw:own": members,
	"wallet:view:any":     companyAndUp,
	"wallet:topup:any":    superOnly,
	"wallet:manage:any":   superOnly,

	// Subscription
	"subscription:view:own":   members,
	"subscription:manage:own": members,
	"subscription:view:any":   companyAndUp,
	"subscription:manage:any": superOnly,

	// User management
	"user:view:any":    companyAndUp,
	"user:create":      superOnly,
	"user:edit:any":    superOnly,
	"user:delete:any":  superOnly,
	"user:impersonate": superOnly,

	// Notifications
	"notification:view:own":   members,
	"notification:manage:own": members,
	"notification:send:label": labelAndUp,
	"notification:send:any":   companyAndUp,

	// Label management
	"label:view:own": labelAndUp,
	"label:edit:own": labelAndUp,
	"label:view:any": companyAndUp,
	"label:edit:any": companyAndUp,
	"label:create":   companyAndUp,
	"label:delete":   superOnly,

	// Company management
	"company:view":     companyAndUp,
	"company:edit":     companyAndUp,
	"company:settings": companyAndUp,
	"company:delete":   superOnly,

	// System administration
	"system:settings":  superOnly,
	"system:logs":      superOnly,
	"system:reports":   companyAndUp,
	"system:analytics": companyAndUp,

	// Content
	"content:view:own":   everyRole,
	"content:edit:own":   members,
	"content:view:any":   {RoleCompanyAdmin, RoleSuperAdmin, RoleDistributionPartner},
	"content:manage:any": {RoleCompanyAdmin, RoleSuperAdmin, RoleDistributionPartner},

	// Uploads
	"upload:audio":           members,
	"upload:artwork":         members,
	"upload:profile_picture": everyRole,

	// Change requests
	"change_request:create:own": {RoleArtist, RoleLabelAdmin},
	"change_request:view:label": labelAndUp,
	"change_request:view:any":   companyAndUp,
	"change_request:approve":    companyAndUp,
	"change_request:reject":     companyAndUp,
}

// Catalog is the static, compiled-in permission table. It is immutable after
// construction and safe for concurrent use.
type Catalog struct {
	grants map[Permission]map[string]struct{}
}

// NewCatalog builds a catalog from a permission → allowed roles table.
// The input is copied.
func NewCatalog(table map[Permission][]string) *Catalog {
	c := &Catalog{grants: make(map[Permission]map[string]struct{}, len(table))}
	for perm, roles := range table {
		set := make(map[string]struct{}, len(roles))
		for _, role := range roles {
			set[role] = struct{}{}
		}
		c.grants[perm] = set
	}
	return c
}

// DefaultCatalog returns the built-in legacy permission table
func DefaultCatalog() *Catalog {
	return NewCatalog(defaultCatalog)
}

// Allows reports whether the catalog lists role under perm.
// Unknown permissions allow nobody.
func (c *Catalog) Allows(role string, perm Permission) bool {
	roles, ok := c.grants[perm]
	if !ok {
		return false
	}
	_, ok = roles[role]
	return ok
}

// PermissionsFor returns the sorted permissions the catalog grants to role
func (c *Catalog) PermissionsFor(role string) []Permission {
	var out []Permission
	for perm, roles := range c.grants {
		if _, ok := roles[role]; ok {
			out = append(out, perm)
		}
	}
	sortPermissions(out)
	return out
}

// RolesFor returns the sorted roles allowed perm
func (c *Catalog) RolesFor(perm Permission) []string {
	roles := c.grants[perm]
	out := make([]string, 0, len(roles))
	for role := range roles {
		out = append(out, role)
	}
	sort.Strings(out)
	return out
}

// Permissions returns every permission in the catalog, sorted
func (c *Catalog) Permissions() []Permission {
	out := make([]Permission, 0, len(c.grants))
	for perm := range c.grants {
		out = append(out, perm)
	}
	sortPermissions(out)
	return out
}

// Table returns a copy of the catalog as permission → sorted roles
func (c *Catalog) Table() map[Permission][]string {
	out := make(map[Permission][]string, len(c.grants))
	for perm := range c.grants {
		out[perm] = c.RolesFor(perm)
	}
	return out
}

func sortPermissions(perms []Permission) {
	sort.Slice(perms, func(i, j int) bool { return perms[i] < perms[j] })
}
