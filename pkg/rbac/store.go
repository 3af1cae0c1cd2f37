package rbac

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/mscandco/gatekeeper/pkg/observability"
)

// LookupStatus discriminates the outcome of a point query against the grant store
type LookupStatus int

const (
	NotFound LookupStatus = iota
	Found
	Failed
)

func (s LookupStatus) String() string {
	switch s {
	case Found:
		return "found"
	case Failed:
		return "failed"
	default:
		return "not_found"
	}
}

// Lookup is the result of a point query. Err is set only when Status is Failed.
type Lookup struct {
	Status LookupStatus
	Err    error
}

// LookupFound reports a matching record
func LookupFound() Lookup { return Lookup{Status: Found} }

// LookupNotFound reports the absence of a record
func LookupNotFound() Lookup { return Lookup{Status: NotFound} }

// LookupFailed reports a transport or query failure
func LookupFailed(err error) Lookup { return Lookup{Status: Failed, Err: err} }

// RoleLookup resolves role names to stable identifiers
type RoleLookup interface {
	LookupRoleID(ctx context.Context, name string) (string, Lookup)
}

// GrantStore answers grant queries against the dynamic role/permission graph
type GrantStore interface {
	RoleHasPermission(ctx context.Context, roleID string, perm Permission) Lookup
	UserHasPermission(ctx context.Context, userID string, perm Permission) Lookup
	RolePermissions(ctx context.Context, roleID string) ([]Permission, error)
	UserPermissions(ctx context.Context, userID string) ([]Permission, error)
}

// SQLStore implements RoleLookup and GrantStore over the roles, permissions,
// role_permissions and user_permissions tables.
type SQLStore struct {
	db      *sql.DB
	metrics *observability.OTelMetrics
}

// NewSQLStore creates a new grant store backed by db
func NewSQLStore(db *sql.DB) *SQLStore {
	return &SQLStore{db: db}
}

// WithMetrics records query counts and latency on m
func (s *SQLStore) WithMetrics(m *observability.OTelMetrics) *SQLStore {
	s.metrics = m
	return s
}

// LookupRoleID returns the id of the role called name
func (s *SQLStore) LookupRoleID(ctx context.Context, name string) (string, Lookup) {
	start := time.Now()
	var id string
	err := s.db.QueryRowContext(ctx, `SELECT id FROM roles WHERE name = $1`, name).Scan(&id)
	s.record(ctx, "role_id", start, err)

	if errors.Is(err, sql.ErrNoRows) {
		return "", LookupNotFound()
	}
	if err != nil {
		return "", LookupFailed(fmt.Errorf("failed to look up role %q: %w", name, err))
	}
	return id, LookupFound()
}

// RoleHasPermission reports whether roleID holds perm
func (s *SQLStore) RoleHasPermission(ctx context.Context, roleID string, perm Permission) Lookup {
	query := `
		SELECT 1
		FROM role_permissions rp
		JOIN permissions p ON p.id = rp.permission_id
		WHERE rp.role_id = $1 AND p.name = $2
		LIMIT 1
	`
	return s.exists(ctx, "role_grant", query, roleID, string(perm))
}

// UserHasPermission reports whether userID holds an override for perm.
// Rows flagged denied are not overrides.
func (s *SQLStore) UserHasPermission(ctx context.Context, userID string, perm Permission) Lookup {
	query := `
		SELECT 1
		FROM user_permissions up
		JOIN permissions p ON p.id = up.permission_id
		WHERE up.user_id = $1 AND p.name = $2 AND up.denied = FALSE
		LIMIT 1
	`
	return s.exists(ctx, "user_grant", query, userID, string(perm))
}

// RolePermissions lists every permission granted to roleID
func (s *SQLStore) RolePermissions(ctx context.Context, roleID string) ([]Permission, error) {
	query := `
		SELECT p.name
		FROM role_permissions rp
		JOIN permissions p ON p.id = rp.permission_id
		WHERE rp.role_id = $1
	`
	return s.list(ctx, "role_permissions", query, roleID)
}

// UserPermissions lists every override granted to userID
func (s *SQLStore) UserPermissions(ctx context.Context, userID string) ([]Permission, error) {
	query := `
		SELECT p.name
		FROM user_permissions up
		JOIN permissions p ON p.id = up.permission_id
		WHERE up.user_id = $1 AND up.denied = FALSE
	`
	return s.list(ctx, "user_permissions", query, userID)
}

func (s *SQLStore) exists(ctx context.Context, op, query string, args ...interface{}) Lookup {
	start := time.Now()
	var one int
	err := s.db.QueryRowContext(ctx, query, args...).Scan(&one)
	s.record(ctx, op, start, err)

	if errors.Is(err, sql.ErrNoRows) {
		return LookupNotFound()
	}
	if err != nil {
		return LookupFailed(fmt.Errorf("failed to query %s: %w", op, err))
	}
	return LookupFound()
}

func (s *SQLStore) list(ctx context.Context, op, query string, arg string) ([]Permission, error) {
	start := time.Now()
	rows, err := s.db.QueryContext(ctx, query, arg)
	if err != nil {
		s.record(ctx, op, start, err)
		return nil, fmt.Errorf("failed to query %s: %w", op, err)
	}
	defer rows.Close()

	var perms []Permission
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			s.record(ctx, op, start, err)
			return nil, fmt.Errorf("failed to scan %s: %w", op, err)
		}
		perms = append(perms, Permission(name))
	}
	err = rows.Err()
	s.record(ctx, op, start, err)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", op, err)
	}
	return perms, nil
}

func (s *SQLStore) record(ctx context.Context, op string, start time.Time, err error) {
	if errors.Is(err, sql.ErrNoRows) {
		err = nil
	}
	s.metrics.RecordStoreQuery(ctx, op, time.Since(start), err)
}

// MemoryStore is an in-process RoleLookup and GrantStore for development and tests.
type MemoryStore struct {
	mu          sync.RWMutex
	roles       map[string]string
	roleGrants  map[string]map[Permission]struct{}
	userGrants  map[string]map[Permission]struct{}
	err         error
	roleQueries map[string]int
}

// NewMemoryStore creates an empty memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		roles:       make(map[string]string),
		roleGrants:  make(map[string]map[Permission]struct{}),
		userGrants:  make(map[string]map[Permission]struct{}),
		roleQueries: make(map[string]int),
	}
}

// AddRole registers a role name with its id
func (m *MemoryStore) AddRole(name, id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.roles[name] = id
}

// GrantRole grants perms to roleID
func (m *MemoryStore) GrantRole(roleID string, perms ...Permission) {
	m.mu.Lock()
	defer m.mu.Unlock()
	addGrants(m.roleGrants, roleID, perms)
}

// GrantUser grants override perms to userID
func (m *MemoryStore) GrantUser(userID string, perms ...Permission) {
	m.mu.Lock()
	defer m.mu.Unlock()
	addGrants(m.userGrants, userID, perms)
}

// SetError makes every subsequent query fail with err; nil restores service
func (m *MemoryStore) SetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// RoleQueries returns how many times name was looked up
func (m *MemoryStore) RoleQueries(name string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.roleQueries[name]
}

// LookupRoleID implements RoleLookup
func (m *MemoryStore) LookupRoleID(ctx context.Context, name string) (string, Lookup) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.roleQueries[name]++
	if m.err != nil {
		return "", LookupFailed(m.err)
	}
	id, ok := m.roles[name]
	if !ok {
		return "", LookupNotFound()
	}
	return id, LookupFound()
}

// RoleHasPermission implements GrantStore
func (m *MemoryStore) RoleHasPermission(ctx context.Context, roleID string, perm Permission) Lookup {
	return m.has(m.roleGrants, roleID, perm)
}

// UserHasPermission implements GrantStore
func (m *MemoryStore) UserHasPermission(ctx context.Context, userID string, perm Permission) Lookup {
	return m.has(m.userGrants, userID, perm)
}

// RolePermissions implements GrantStore
func (m *MemoryStore) RolePermissions(ctx context.Context, roleID string) ([]Permission, error) {
	return m.list(m.roleGrants, roleID)
}

// UserPermissions implements GrantStore
func (m *MemoryStore) UserPermissions(ctx context.Context, userID string) ([]Permission, error) {
	return m.list(m.userGrants, userID)
}

func (m *MemoryStore) has(grants map[string]map[Permission]struct{}, key string, perm Permission) Lookup {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.err != nil {
		return LookupFailed(m.err)
	}
	if _, ok := grants[key][perm]; ok {
		return LookupFound()
	}
	return LookupNotFound()
}

func (m *MemoryStore) list(grants map[string]map[Permission]struct{}, key string) ([]Permission, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.err != nil {
		return nil, m.err
	}
	perms := make([]Permission, 0, len(grants[key]))
	for perm := range grants[key] {
		perms = append(perms, perm)
	}
	sort.Slice(perms, func(i, j int) bool { return perms[i] < perms[j] })
	return perms, nil
}

func addGrants(grants map[string]map[Permission]struct{}, key string, perms []Permission) {
	set, ok := grants[key]
	if !ok {
		set = make(map[Permission]struct{})
		grants[key] = set
	}
	for _, perm := range perms {
		set[perm] = struct{}{}
	}
}
