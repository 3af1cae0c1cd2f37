package rbac

import (
	"strings"
)

// Permission is an opaque capability identifier of the form resource:action:scope.
// Permissions compare by exact string equality; Wildcard is the only value with
// special meaning.
type Permission string

// Wildcard grants every permission when held by a role in the grant store.
const Wildcard Permission = "*:*:*"

// String returns the permission identifier
func (p Permission) String() string {
	return string(p)
}

// Segments splits the identifier into its resource, action and scope parts.
// Missing parts are returned as empty strings. Used for display only.
func (p Permission) Segments() (resource, action, scope string) {
	parts := strings.SplitN(string(p), ":", 3)
	switch len(parts) {
	case 3:
		return parts[0], parts[1], parts[2]
	case 2:
		return parts[0], parts[1], ""
	default:
		return parts[0], "", ""
	}
}

// Built-in role names
const (
	RoleArtist              = "artist"
	RoleLabelAdmin          = "label_admin"
	RoleCompanyAdmin        = "company_admin"
	RoleSuperAdmin          = "super_admin"
	RoleDistributionPartner = "distribution_partner"
)

// Role describes a role as known to the engine
type Role struct {
	ID          string `json:"id,omitempty"`
	Name        string `json:"name"`
	DisplayName string `json:"display_name"`
	Rank        int    `json:"rank"`
}

// Source identifies which resolution stage produced a decision
type Source string

const (
	SourceWildcardRequest Source = "wildcard_request"
	SourceWildcardGrant   Source = "wildcard_grant"
	SourceUserOverride    Source = "user_override"
	SourceRoleGrant       Source = "role_grant"
	SourceCatalog         Source = "catalog"
	SourceNone            Source = "none"
)

// Decision is the outcome of a single permission check
type Decision struct {
	Allowed bool   `json:"allowed"`
	Source  Source `json:"source"`
}

// PermissionStrings converts permissions to plain strings
func PermissionStrings(perms []Permission) []string {
	out := make([]string, len(perms))
	for i, p := range perms {
		out[i] = string(p)
	}
	return out
}

// ParsePermissions converts plain strings to permissions, dropping blanks
func ParsePermissions(values []string) []Permission {
	out := make([]Permission, 0, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		out = append(out, Permission(v))
	}
	return out
}
