package rbac

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrUnauthenticated means no valid principal could be resolved
	ErrUnauthenticated = errors.New("unauthenticated")
	// ErrRoleNotAssigned means the principal is authenticated but has no role
	ErrRoleNotAssigned = errors.New("role not assigned")
	// ErrForbidden means the principal's role failed the permission or role check
	ErrForbidden = errors.New("forbidden")

	// ErrRoleNotFound is returned by the role directory when the store has no such role
	ErrRoleNotFound = errors.New("role not found")
	// ErrStoreUnavailable wraps grant store transport failures
	ErrStoreUnavailable = errors.New("grant store unavailable")
)

// Deny reason codes reported to clients
const (
	ReasonUnauthenticated         = "unauthenticated"
	ReasonRoleNotAssigned         = "role_not_assigned"
	ReasonInsufficientPermissions = "insufficient_permissions"
	ReasonInsufficientRole        = "insufficient_role"
)

// DenyError is the verdict returned by the gate when access is refused.
// Err is one of ErrUnauthenticated, ErrRoleNotAssigned or ErrForbidden;
// Cause carries the identity failure behind an unauthenticated verdict.
type DenyError struct {
	Reason              string
	Role                string
	RequiredPermissions []Permission
	RequiredRoles       []string
	Cause               error
	Err                 error
}

func (e *DenyError) Error() string {
	switch {
	case len(e.RequiredPermissions) > 0:
		return fmt.Sprintf("%s: role %q lacks %s", e.Err, e.Role, strings.Join(PermissionStrings(e.RequiredPermissions), ", "))
	case len(e.RequiredRoles) > 0:
		return fmt.Sprintf("%s: role %q not in %s", e.Err, e.Role, strings.Join(e.RequiredRoles, ", "))
	case e.Cause != nil:
		return fmt.Sprintf("%s: %v", e.Err, e.Cause)
	default:
		return e.Err.Error()
	}
}

func (e *DenyError) Unwrap() error {
	return e.Err
}
