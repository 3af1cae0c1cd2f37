package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// SQLProfileRoles reads the role column of user_profiles
type SQLProfileRoles struct {
	db *sql.DB
}

// NewSQLProfileRoles creates a role source backed by db
func NewSQLProfileRoles(db *sql.DB) *SQLProfileRoles {
	return &SQLProfileRoles{db: db}
}

// RoleFor returns the profile role of userID, or "" when the user has no
// profile or no role.
func (s *SQLProfileRoles) RoleFor(ctx context.Context, userID string) (string, error) {
	var role sql.NullString
	err := s.db.QueryRowContext(ctx, `SELECT role FROM user_profiles WHERE id = $1`, userID).Scan(&role)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to get profile role: %w", err)
	}
	return role.String, nil
}
