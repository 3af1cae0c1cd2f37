// Package config loads gatekeeper's configuration.
//
// Values are layered: DefaultConfig, then the YAML file named by
// GATEKEEPER_CONFIG_FILE when set, then GATEKEEPER_* environment variables.
// Environment names follow the section and field, for example:
//
//	GATEKEEPER_SERVER_ADDR=":8080"
//	GATEKEEPER_SERVER_CORS_ORIGINS="https://app.example.com,https://admin.example.com"
//	GATEKEEPER_DATABASE_URL="postgres://gatekeeper@db/gatekeeper?sslmode=disable"
//	GATEKEEPER_REDIS_ADDR="redis:6379"
//	GATEKEEPER_IDENTITY_ISSUER_URL="https://project.supabase.co/auth/v1"
//	GATEKEEPER_IDENTITY_CLIENT_ID="authenticated"
//	GATEKEEPER_AUDIT_SINK="both"  # db, file, both, none
//	GATEKEEPER_RBAC_GRANT_CACHE_TTL="30s"
//	GATEKEEPER_RBAC_ROLE_ID_CACHE="redis"  # memory, redis
//	GATEKEEPER_OBSERVABILITY_LOG_LEVEL="info"
//	GATEKEEPER_OBSERVABILITY_OTEL_ENABLED="true"
//
// The same settings in YAML:
//
//	server:
//	  addr: ":8080"
//	identity:
//	  issuer_url: https://project.supabase.co/auth/v1
//	rbac:
//	  grant_cache_ttl: 30s
//
// Load validates the result; an empty database URL is valid and runs the
// resolver on the static catalog alone.
package config
