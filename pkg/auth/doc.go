// Package auth resolves the caller behind an HTTP request.
//
// The enforcement gate in pkg/rbac consumes an IdentityExtractor. The
// production extractor verifies bearer JWTs issued by the identity provider:
//
//	extractor, err := auth.NewOIDCExtractor(ctx, auth.OIDCConfig{
//		IssuerURL: "https://project.supabase.co/auth/v1",
//		ClientID:  "authenticated",
//	}, auth.NewSQLProfileRoles(db), logger)
//
// A principal's role is taken from the token's user_metadata.role claim,
// then app_metadata.role, then the user_profiles table. A principal with no
// role is still authenticated; whether that is enough is up to the gate.
package auth
