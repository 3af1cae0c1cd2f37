package auth

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/coreos/go-oidc/v3/oidc"

	"github.com/mscandco/gatekeeper/pkg/observability"
)

// OIDCConfig configures bearer token verification
type OIDCConfig struct {
	IssuerURL         string
	JWKSURL           string // defaults to <issuer>/.well-known/jwks.json
	ClientID          string // expected audience
	SkipClientIDCheck bool
}

// OIDCExtractor verifies bearer JWTs and builds principals from their claims.
// The role comes from user_metadata.role, then app_metadata.role, then the
// optional RoleSource.
type OIDCExtractor struct {
	verifier *oidc.IDTokenVerifier
	roles    RoleSource
	logger   *observability.Logger
}

// tokenClaims is the subset of identity-provider claims gatekeeper reads
type tokenClaims struct {
	Email        string                 `json:"email"`
	UserMetadata map[string]interface{} `json:"user_metadata"`
	AppMetadata  map[string]interface{} `json:"app_metadata"`
}

// NewOIDCExtractor creates an extractor that fetches signing keys from the
// provider's JWKS endpoint.
func NewOIDCExtractor(ctx context.Context, config OIDCConfig, roles RoleSource, logger *observability.Logger) (*OIDCExtractor, error) {
	if config.IssuerURL == "" {
		return nil, fmt.Errorf("OIDC issuer URL is required")
	}
	if config.ClientID == "" && !config.SkipClientIDCheck {
		return nil, fmt.Errorf("OIDC client ID is required unless the audience check is skipped")
	}

	jwksURL := config.JWKSURL
	if jwksURL == "" {
		jwksURL = strings.TrimSuffix(config.IssuerURL, "/") + "/.well-known/jwks.json"
	}

	keySet := oidc.NewRemoteKeySet(ctx, jwksURL)
	verifier := oidc.NewVerifier(config.IssuerURL, keySet, &oidc.Config{
		ClientID:          config.ClientID,
		SkipClientIDCheck: config.SkipClientIDCheck,
	})

	return NewOIDCExtractorWithVerifier(verifier, roles, logger), nil
}

// NewOIDCExtractorWithVerifier creates an extractor around an existing verifier
func NewOIDCExtractorWithVerifier(verifier *oidc.IDTokenVerifier, roles RoleSource, logger *observability.Logger) *OIDCExtractor {
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &OIDCExtractor{
		verifier: verifier,
		roles:    roles,
		logger:   logger,
	}
}

// Extract implements IdentityExtractor
func (e *OIDCExtractor) Extract(r *http.Request) (*Principal, error) {
	raw, err := BearerToken(r)
	if err != nil {
		return nil, err
	}

	ctx := r.Context()
	idToken, err := e.verifier.Verify(ctx, raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidCredentials, err)
	}

	var claims tokenClaims
	if err := idToken.Claims(&claims); err != nil {
		return nil, fmt.Errorf("%w: failed to parse claims: %w", ErrInvalidCredentials, err)
	}

	principal := &Principal{
		ID:    idToken.Subject,
		Email: strings.ToLower(claims.Email),
		Role:  metadataRole(claims.UserMetadata),
	}
	if principal.Role == "" {
		principal.Role = metadataRole(claims.AppMetadata)
	}

	if principal.Role == "" && e.roles != nil {
		role, err := e.roles.RoleFor(ctx, principal.ID)
		if err != nil {
			// the principal stays authenticated without a role
			e.logger.WithError(err).WithField("user_id", principal.ID).Warn("profile role lookup failed")
		}
		principal.Role = role
	}

	return principal, nil
}

func metadataRole(metadata map[string]interface{}) string {
	if role, ok := metadata["role"].(string); ok {
		return strings.TrimSpace(role)
	}
	return ""
}
