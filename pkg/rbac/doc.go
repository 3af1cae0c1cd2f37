// Package rbac resolves and enforces permissions for the label-administration
// platform.
//
// # Overview
//
// A permission is an opaque "resource:action[:scope]" string such as
// "release:edit:label". A principal's role, optionally combined with
// per-user overrides, decides whether it holds a permission. Two sources of
// truth exist:
//
//  1. The dynamic grant store: roles, permissions, role_permissions and
//     user_permissions tables (SQLStore).
//  2. The static Catalog compiled into the binary.
//
// The store is authoritative when reachable. When it is not, the catalog
// answers, so a database outage degrades to the legacy table instead of
// locking everyone out or letting everyone in.
//
// # Resolution Order
//
// Resolver.Check evaluates, first match wins:
//
//	"*:*:*" requested        → allowed only for super_admin, no store access
//	role holds "*:*:*"       → allow (wildcard_grant)
//	user override for perm   → allow (user_override), only when a user id is given
//	role holds perm          → allow (role_grant)
//	catalog lists role       → allow (catalog)
//	otherwise                → deny
//
// Any failure in the three store stages, including a role the store does
// not know, skips the remaining store stages and goes to the catalog.
//
// # Role Directory
//
// Role names map to store ids through RoleDirectory. Resolved ids are cached
// for the life of the process (MemoryRoleIDCache) or shared across replicas
// (RedisRoleIDCache). Concurrent misses for one name issue one query.
//
// # Enforcement
//
// Gate wraps handlers:
//
//	gate := rbac.NewGate(extractor, resolver, auditLogger)
//	router.Handle("/releases/{id}", gate.RequirePermission(
//		[]rbac.Permission{"release:edit:own", "release:edit:label"},
//	)(editHandler))
//	router.Handle("/admin", gate.RequireRole(rbac.RoleSuperAdmin)(adminHandler))
//
// Missing or invalid credentials produce 401. An authenticated principal
// without a role, or one whose role fails the check, produces 403 with a
// machine-readable reason. Failed permission and role checks are recorded
// in the audit sink; a failing sink never changes the verdict.
//
// Hosts that are not HTTP servers call Gate.Authorize directly and inspect
// the returned *DenyError with errors.Is.
//
// # Hierarchy
//
// Hierarchy ranks roles (artist 1, label_admin and distribution_partner 2,
// company_admin 3, super_admin 4) for seniority comparisons. It never grants
// permissions.
package rbac
