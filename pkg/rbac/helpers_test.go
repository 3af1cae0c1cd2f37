package rbac

import (
	"context"
	"sync"
)

// scriptedGrants is a GrantStore whose answers are supplied per test. Nil
// funcs answer NotFound or an empty list.
type scriptedGrants struct {
	mu        sync.Mutex
	role      func(roleID string, perm Permission) Lookup
	user      func(userID string, perm Permission) Lookup
	rolePerms func(roleID string) ([]Permission, error)
	userPerms func(userID string) ([]Permission, error)
	calls     int
}

func (s *scriptedGrants) count() {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
}

func (s *scriptedGrants) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func (s *scriptedGrants) RoleHasPermission(ctx context.Context, roleID string, perm Permission) Lookup {
	s.count()
	if s.role == nil {
		return LookupNotFound()
	}
	return s.role(roleID, perm)
}

func (s *scriptedGrants) UserHasPermission(ctx context.Context, userID string, perm Permission) Lookup {
	s.count()
	if s.user == nil {
		return LookupNotFound()
	}
	return s.user(userID, perm)
}

func (s *scriptedGrants) RolePermissions(ctx context.Context, roleID string) ([]Permission, error) {
	s.count()
	if s.rolePerms == nil {
		return nil, nil
	}
	return s.rolePerms(roleID)
}

func (s *scriptedGrants) UserPermissions(ctx context.Context, userID string) ([]Permission, error) {
	s.count()
	if s.userPerms == nil {
		return nil, nil
	}
	return s.userPerms(userID)
}

// seededStore returns a memory store that knows every built-in role
func seededStore() *MemoryStore {
	store := NewMemoryStore()
	for _, role := range everyRole {
		store.AddRole(role, "id-"+role)
	}
	return store
}

func newStoreResolver(store *MemoryStore, opts ...ResolverOption) *Resolver {
	return NewResolver(DefaultCatalog(), NewRoleDirectory(store, nil, nil), store, opts...)
}
