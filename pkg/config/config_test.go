package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mscandco/gatekeeper/pkg/observability"
	"github.com/mscandco/gatekeeper/pkg/rbac"
)

const testIssuer = "https://auth.example.test/auth/v1"

func validConfig() *Config {
	cfg := DefaultConfig()
	cfg.Identity.IssuerURL = testIssuer
	return cfg
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, 15*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, 30*time.Second, cfg.Server.ShutdownTimeout)
	assert.Equal(t, "authenticated", cfg.Identity.ClientID)
	assert.True(t, cfg.Identity.ProfileRoles)
	assert.Equal(t, AuditSinkFile, cfg.Audit.Sink)
	assert.Equal(t, rbac.RoleIDCacheMemory, cfg.RBAC.RoleIDCache)
	assert.Zero(t, cfg.RBAC.GrantCacheTTL)
	assert.Equal(t, "info", cfg.Observability.LogLevel)

	// the issuer has no sensible default
	assert.ErrorContains(t, cfg.Validate(), "issuer URL is required")
	assert.NoError(t, validConfig().Validate())
}

func TestLoad_Environment(t *testing.T) {
	t.Setenv("GATEKEEPER_IDENTITY_ISSUER_URL", testIssuer)
	t.Setenv("GATEKEEPER_SERVER_ADDR", ":9000")
	t.Setenv("GATEKEEPER_SERVER_CORS_ORIGINS", "https://app.example.com,https://admin.example.com")
	t.Setenv("GATEKEEPER_SERVER_READ_TIMEOUT", "5s")
	t.Setenv("GATEKEEPER_DATABASE_URL", "postgres://gatekeeper@localhost/gatekeeper?sslmode=disable")
	t.Setenv("GATEKEEPER_AUDIT_SINK", "both")
	t.Setenv("GATEKEEPER_RBAC_GRANT_CACHE_TTL", "30s")
	t.Setenv("GATEKEEPER_RBAC_RUN_MIGRATIONS", "true")
	t.Setenv("GATEKEEPER_OBSERVABILITY_LOG_LEVEL", "debug")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":9000", cfg.Server.Addr)
	assert.Equal(t, []string{"https://app.example.com", "https://admin.example.com"}, cfg.Server.CORSOrigins)
	assert.Equal(t, 5*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, 15*time.Second, cfg.Server.WriteTimeout, "unset variables keep their defaults")
	assert.Equal(t, AuditSinkBoth, cfg.Audit.Sink)
	assert.Equal(t, 30*time.Second, cfg.RBAC.GrantCacheTTL)
	assert.True(t, cfg.RBAC.RunMigrations)
	assert.Equal(t, observability.DebugLevel, cfg.LogLevel())
}

func TestLoad_FileThenEnvironment(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gatekeeper.yaml")
	doc := `
server:
  addr: ":7000"
  idle_timeout: 2m
identity:
  issuer_url: https://file.example.test/auth/v1
  client_id: gatekeeper
redis:
  addr: localhost:6379
rbac:
  role_id_cache: redis
  grant_cache_ttl: 10s
  grant_cache_size: 500
observability:
  log_level: warn
`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0600))
	t.Setenv(FileEnvVar, path)
	t.Setenv("GATEKEEPER_OBSERVABILITY_LOG_LEVEL", "error")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":7000", cfg.Server.Addr)
	assert.Equal(t, 2*time.Minute, cfg.Server.IdleTimeout)
	assert.Equal(t, 15*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, "https://file.example.test/auth/v1", cfg.Identity.IssuerURL)
	assert.Equal(t, "gatekeeper", cfg.Identity.ClientID)
	assert.Equal(t, rbac.RoleIDCacheRedis, cfg.RBAC.RoleIDCache)
	assert.Equal(t, 500, cfg.RBAC.GrantCacheSize)
	assert.Equal(t, "error", cfg.Observability.LogLevel, "environment overrides the file")
}

func TestLoad_Errors(t *testing.T) {
	t.Run("missing file", func(t *testing.T) {
		t.Setenv(FileEnvVar, filepath.Join(t.TempDir(), "missing.yaml"))
		_, err := Load()
		assert.ErrorContains(t, err, "failed to read config file")
	})

	t.Run("malformed file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "bad.yaml")
		require.NoError(t, os.WriteFile(path, []byte("server: [not, a, map"), 0600))
		t.Setenv(FileEnvVar, path)
		_, err := Load()
		assert.ErrorContains(t, err, "failed to parse config file")
	})

	t.Run("malformed duration", func(t *testing.T) {
		t.Setenv("GATEKEEPER_IDENTITY_ISSUER_URL", testIssuer)
		t.Setenv("GATEKEEPER_SERVER_READ_TIMEOUT", "soon")
		_, err := Load()
		assert.ErrorContains(t, err, "failed to read environment")
	})

	t.Run("invalid result", func(t *testing.T) {
		_, err := Load()
		assert.ErrorContains(t, err, "configuration validation failed")
	})
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "empty address",
			mutate:  func(c *Config) { c.Server.Addr = "" },
			wantErr: "server address is required",
		},
		{
			name:    "empty client id",
			mutate:  func(c *Config) { c.Identity.ClientID = "" },
			wantErr: "client ID is required",
		},
		{
			name: "empty client id with skipped audience check",
			mutate: func(c *Config) {
				c.Identity.ClientID = ""
				c.Identity.SkipClientIDCheck = true
			},
		},
		{
			name:    "db audit without database",
			mutate:  func(c *Config) { c.Audit.Sink = AuditSinkDB },
			wantErr: "requires a database URL",
		},
		{
			name: "file audit without directory",
			mutate: func(c *Config) {
				c.Audit.FileDir = ""
			},
			wantErr: "requires a file directory",
		},
		{
			name:   "audit disabled",
			mutate: func(c *Config) { c.Audit.Sink = AuditSinkNone },
		},
		{
			name:    "unknown audit sink",
			mutate:  func(c *Config) { c.Audit.Sink = "kafka" },
			wantErr: "invalid audit sink",
		},
		{
			name:    "redis cache without redis",
			mutate:  func(c *Config) { c.RBAC.RoleIDCache = rbac.RoleIDCacheRedis },
			wantErr: "requires a redis address",
		},
		{
			name:    "unknown role id cache",
			mutate:  func(c *Config) { c.RBAC.RoleIDCache = "memcached" },
			wantErr: "invalid role id cache",
		},
		{
			name:    "negative grant cache ttl",
			mutate:  func(c *Config) { c.RBAC.GrantCacheTTL = -time.Second },
			wantErr: "must not be negative",
		},
		{
			name: "grant cache without size",
			mutate: func(c *Config) {
				c.RBAC.GrantCacheTTL = time.Minute
				c.RBAC.GrantCacheSize = 0
			},
			wantErr: "grant cache size must be positive",
		},
		{
			name:    "unknown log level",
			mutate:  func(c *Config) { c.Observability.LogLevel = "verbose" },
			wantErr: "invalid log level",
		},
		{
			name: "otel without endpoint",
			mutate: func(c *Config) {
				c.Observability.OTelEnabled = true
				c.Observability.OTelEndpoint = ""
			},
			wantErr: "endpoint is required",
		},
		{
			name:    "sample ratio out of range",
			mutate:  func(c *Config) { c.Observability.OTelSampleRatio = 1.5 },
			wantErr: "sample ratio",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}

func TestConversions(t *testing.T) {
	cfg := validConfig()
	cfg.Identity.JWKSURL = testIssuer + "/keys"
	cfg.RBAC.GrantCacheTTL = time.Minute
	cfg.RBAC.RunMigrations = true
	cfg.Observability.OTelEnabled = true
	cfg.Observability.OTelSampleRatio = 0.25
	cfg.Audit.FileDir = "/tmp/audit"

	oidc := cfg.OIDC()
	assert.Equal(t, testIssuer, oidc.IssuerURL)
	assert.Equal(t, testIssuer+"/keys", oidc.JWKSURL)
	assert.Equal(t, "authenticated", oidc.ClientID)

	manager := cfg.RBACManager()
	assert.Equal(t, time.Minute, manager.GrantCacheTTL)
	assert.Equal(t, rbac.DefaultRoleIDKeyPrefix, manager.RoleIDKeyPrefix)
	assert.True(t, manager.RunMigrations)

	otelCfg := cfg.OTel()
	assert.True(t, otelCfg.Enabled)
	assert.Equal(t, "gatekeeper", otelCfg.ServiceName)
	assert.Equal(t, 0.25, otelCfg.SampleRatio)

	file := cfg.AuditFile()
	assert.Equal(t, "/tmp/audit", file.BasePath)
	assert.True(t, file.Rotate)

	assert.Equal(t, observability.InfoLevel, cfg.LogLevel())
}
