package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/mscandco/gatekeeper/pkg/contextkeys"
)

var (
	// ErrNoCredentials means the request carried no bearer token
	ErrNoCredentials = errors.New("no authorization token provided")
	// ErrInvalidCredentials means the token was present but could not be verified
	ErrInvalidCredentials = errors.New("invalid token")
)

// Principal is an authenticated caller. Role is empty when the identity
// provider and profile store assign none; that is a valid state.
type Principal struct {
	ID    string `json:"id"`
	Email string `json:"email,omitempty"`
	Role  string `json:"role,omitempty"`
}

// HasRole reports whether the principal carries a role
func (p *Principal) HasRole() bool {
	return p != nil && p.Role != ""
}

// IdentityExtractor resolves the principal behind a request
type IdentityExtractor interface {
	Extract(r *http.Request) (*Principal, error)
}

// IdentityExtractorFunc adapts a function to IdentityExtractor
type IdentityExtractorFunc func(r *http.Request) (*Principal, error)

// Extract implements IdentityExtractor
func (f IdentityExtractorFunc) Extract(r *http.Request) (*Principal, error) {
	return f(r)
}

// RoleSource supplies a role for principals whose token carries none
type RoleSource interface {
	RoleFor(ctx context.Context, userID string) (string, error)
}

// BearerToken returns the token from an "Authorization: Bearer <token>" header
func BearerToken(r *http.Request) (string, error) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", ErrNoCredentials
	}

	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || strings.TrimSpace(parts[1]) == "" {
		return "", ErrInvalidCredentials
	}
	return strings.TrimSpace(parts[1]), nil
}

// WithPrincipal attaches the principal to ctx
func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	ctx = contextkeys.WithPrincipal(ctx, p)
	if p != nil {
		ctx = contextkeys.WithUserID(ctx, p.ID)
	}
	return ctx
}

// PrincipalFromContext returns the principal attached by the enforcement gate
func PrincipalFromContext(ctx context.Context) (*Principal, bool) {
	p, ok := ctx.Value(contextkeys.PrincipalKey).(*Principal)
	return p, ok && p != nil
}
