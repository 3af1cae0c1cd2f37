package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"

	"github.com/mscandco/gatekeeper/pkg/audit"
	"github.com/mscandco/gatekeeper/pkg/auth"
	"github.com/mscandco/gatekeeper/pkg/observability"
	"github.com/mscandco/gatekeeper/pkg/rbac"
)

// EnvPrefix prefixes every environment variable read by Load
const EnvPrefix = "GATEKEEPER"

// FileEnvVar names the optional YAML config file
const FileEnvVar = EnvPrefix + "_CONFIG_FILE"

// Audit sinks
const (
	AuditSinkDB   = "db"
	AuditSinkFile = "file"
	AuditSinkBoth = "both"
	AuditSinkNone = "none"
)

// Config holds all application configuration
type Config struct {
	Server        ServerConfig        `yaml:"server" envconfig:"SERVER"`
	Database      DatabaseConfig      `yaml:"database" envconfig:"DATABASE"`
	Redis         RedisConfig         `yaml:"redis" envconfig:"REDIS"`
	Identity      IdentityConfig      `yaml:"identity" envconfig:"IDENTITY"`
	Audit         AuditConfig         `yaml:"audit" envconfig:"AUDIT"`
	RBAC          RBACConfig          `yaml:"rbac" envconfig:"RBAC"`
	Observability ObservabilityConfig `yaml:"observability" envconfig:"OBSERVABILITY"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Addr            string        `yaml:"addr" envconfig:"ADDR"`
	CORSOrigins     []string      `yaml:"cors_origins" envconfig:"CORS_ORIGINS"`
	MaxBodyBytes    int64         `yaml:"max_body_bytes" envconfig:"MAX_BODY_BYTES"`
	ReadTimeout     time.Duration `yaml:"read_timeout" envconfig:"READ_TIMEOUT"`
	WriteTimeout    time.Duration `yaml:"write_timeout" envconfig:"WRITE_TIMEOUT"`
	IdleTimeout     time.Duration `yaml:"idle_timeout" envconfig:"IDLE_TIMEOUT"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" envconfig:"SHUTDOWN_TIMEOUT"`
}

// DatabaseConfig configures the Postgres connection. An empty URL runs
// gatekeeper on the static catalog alone.
type DatabaseConfig struct {
	URL             string        `yaml:"url" envconfig:"URL"`
	MaxOpenConns    int           `yaml:"max_open_conns" envconfig:"MAX_OPEN_CONNS"`
	MaxIdleConns    int           `yaml:"max_idle_conns" envconfig:"MAX_IDLE_CONNS"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" envconfig:"CONN_MAX_LIFETIME"`
}

// RedisConfig configures the optional Redis client
type RedisConfig struct {
	Addr     string `yaml:"addr" envconfig:"ADDR"`
	Password string `yaml:"password" envconfig:"PASSWORD"`
	DB       int    `yaml:"db" envconfig:"DB"`
}

// IdentityConfig configures bearer token verification
type IdentityConfig struct {
	IssuerURL         string `yaml:"issuer_url" envconfig:"ISSUER_URL"`
	JWKSURL           string `yaml:"jwks_url" envconfig:"JWKS_URL"`
	ClientID          string `yaml:"client_id" envconfig:"CLIENT_ID"`
	SkipClientIDCheck bool   `yaml:"skip_client_id_check" envconfig:"SKIP_CLIENT_ID_CHECK"`

	// ProfileRoles falls back to user_profiles.role when a token carries no role
	ProfileRoles bool `yaml:"profile_roles" envconfig:"PROFILE_ROLES"`
}

// AuditConfig selects where denial entries are written
type AuditConfig struct {
	Sink        string `yaml:"sink" envconfig:"SINK"`
	FileDir     string `yaml:"file_dir" envconfig:"FILE_DIR"`
	FileMaxSize int64  `yaml:"file_max_size" envconfig:"FILE_MAX_SIZE"`
	FileMaxKeep int    `yaml:"file_max_keep" envconfig:"FILE_MAX_KEEP"`
	Async       bool   `yaml:"async" envconfig:"ASYNC"`
}

// RBACConfig tunes the resolver's caches
type RBACConfig struct {
	GrantCacheTTL   time.Duration `yaml:"grant_cache_ttl" envconfig:"GRANT_CACHE_TTL"`
	GrantCacheSize  int           `yaml:"grant_cache_size" envconfig:"GRANT_CACHE_SIZE"`
	RoleIDCache     string        `yaml:"role_id_cache" envconfig:"ROLE_ID_CACHE"`
	RoleIDKeyPrefix string        `yaml:"role_id_key_prefix" envconfig:"ROLE_ID_KEY_PREFIX"`
	RunMigrations   bool          `yaml:"run_migrations" envconfig:"RUN_MIGRATIONS"`
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	LogLevel       string `yaml:"log_level" envconfig:"LOG_LEVEL"`
	MetricsEnabled bool   `yaml:"metrics_enabled" envconfig:"METRICS_ENABLED"`

	OTelEnabled        bool    `yaml:"otel_enabled" envconfig:"OTEL_ENABLED"`
	OTelEndpoint       string  `yaml:"otel_endpoint" envconfig:"OTEL_ENDPOINT"`
	OTelServiceName    string  `yaml:"otel_service_name" envconfig:"OTEL_SERVICE_NAME"`
	OTelServiceVersion string  `yaml:"otel_service_version" envconfig:"OTEL_SERVICE_VERSION"`
	OTelInsecure       bool    `yaml:"otel_insecure" envconfig:"OTEL_INSECURE"`
	OTelSampleRatio    float64 `yaml:"otel_sample_ratio" envconfig:"OTEL_SAMPLE_RATIO"`
}

// DefaultConfig returns the configuration used when nothing overrides it
func DefaultConfig() *Config {
	fileDefaults := audit.DefaultFileLoggerConfig()
	rbacDefaults := rbac.DefaultConfig()

	return &Config{
		Server: ServerConfig{
			Addr:            ":8080",
			MaxBodyBytes:    1 << 20,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 30 * time.Second,
		},
		Database: DatabaseConfig{
			MaxOpenConns:    20,
			MaxIdleConns:    5,
			ConnMaxLifetime: 30 * time.Minute,
		},
		Identity: IdentityConfig{
			ClientID:     "authenticated",
			ProfileRoles: true,
		},
		Audit: AuditConfig{
			Sink:        AuditSinkFile,
			FileDir:     fileDefaults.BasePath,
			FileMaxSize: fileDefaults.MaxSize,
			FileMaxKeep: fileDefaults.MaxFiles,
		},
		RBAC: RBACConfig{
			GrantCacheTTL:   rbacDefaults.GrantCacheTTL,
			GrantCacheSize:  rbacDefaults.GrantCacheSize,
			RoleIDCache:     rbacDefaults.RoleIDCache,
			RoleIDKeyPrefix: rbacDefaults.RoleIDKeyPrefix,
		},
		Observability: ObservabilityConfig{
			LogLevel:           "info",
			MetricsEnabled:     true,
			OTelEndpoint:       "localhost:4317",
			OTelServiceName:    "gatekeeper",
			OTelServiceVersion: "1.0.0",
			OTelInsecure:       true,
			OTelSampleRatio:    1,
		},
	}
}

// Load builds the configuration from defaults, the YAML file named by
// GATEKEEPER_CONFIG_FILE if set, and GATEKEEPER_* environment variables,
// in that order of precedence.
func Load() (*Config, error) {
	cfg := DefaultConfig()

	if path := os.Getenv(FileEnvVar); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	if err := envconfig.Process(EnvPrefix, cfg); err != nil {
		return nil, fmt.Errorf("failed to read environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// loadFile overlays the YAML document at path onto cfg
func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Addr == "" {
		return fmt.Errorf("server address is required")
	}

	if c.Identity.IssuerURL == "" {
		return fmt.Errorf("identity issuer URL is required")
	}
	if c.Identity.ClientID == "" && !c.Identity.SkipClientIDCheck {
		return fmt.Errorf("identity client ID is required unless the audience check is skipped")
	}

	switch c.Audit.Sink {
	case AuditSinkNone:
	case AuditSinkDB, AuditSinkFile, AuditSinkBoth:
		if c.Audit.Sink != AuditSinkFile && c.Database.URL == "" {
			return fmt.Errorf("audit sink %q requires a database URL", c.Audit.Sink)
		}
		if c.Audit.Sink != AuditSinkDB && c.Audit.FileDir == "" {
			return fmt.Errorf("audit sink %q requires a file directory", c.Audit.Sink)
		}
	default:
		return fmt.Errorf("invalid audit sink: %s (must be db, file, both, or none)", c.Audit.Sink)
	}

	switch c.RBAC.RoleIDCache {
	case rbac.RoleIDCacheMemory:
	case rbac.RoleIDCacheRedis:
		if c.Redis.Addr == "" {
			return fmt.Errorf("role id cache %q requires a redis address", rbac.RoleIDCacheRedis)
		}
	default:
		return fmt.Errorf("invalid role id cache: %s (must be memory or redis)", c.RBAC.RoleIDCache)
	}
	if c.RBAC.GrantCacheTTL < 0 {
		return fmt.Errorf("grant cache TTL must not be negative")
	}
	if c.RBAC.GrantCacheTTL > 0 && c.RBAC.GrantCacheSize <= 0 {
		return fmt.Errorf("grant cache size must be positive when the grant cache is enabled")
	}

	switch strings.ToLower(c.Observability.LogLevel) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("invalid log level: %s", c.Observability.LogLevel)
	}

	if c.Observability.OTelEnabled {
		if c.Observability.OTelEndpoint == "" {
			return fmt.Errorf("OpenTelemetry endpoint is required when OTel is enabled")
		}
		if c.Observability.OTelServiceName == "" {
			return fmt.Errorf("OpenTelemetry service name is required when OTel is enabled")
		}
	}
	if c.Observability.OTelSampleRatio < 0 || c.Observability.OTelSampleRatio > 1 {
		return fmt.Errorf("OpenTelemetry sample ratio must be between 0 and 1")
	}

	return nil
}

// LogLevel returns the configured observability log level
func (c *Config) LogLevel() observability.LogLevel {
	return observability.ParseLogLevel(c.Observability.LogLevel)
}

// OTel returns the OpenTelemetry settings
func (c *Config) OTel() observability.OTelConfig {
	return observability.OTelConfig{
		Enabled:        c.Observability.OTelEnabled,
		Endpoint:       c.Observability.OTelEndpoint,
		ServiceName:    c.Observability.OTelServiceName,
		ServiceVersion: c.Observability.OTelServiceVersion,
		Insecure:       c.Observability.OTelInsecure,
		SampleRatio:    c.Observability.OTelSampleRatio,
	}
}

// OIDC returns the token verification settings
func (c *Config) OIDC() auth.OIDCConfig {
	return auth.OIDCConfig{
		IssuerURL:         c.Identity.IssuerURL,
		JWKSURL:           c.Identity.JWKSURL,
		ClientID:          c.Identity.ClientID,
		SkipClientIDCheck: c.Identity.SkipClientIDCheck,
	}
}

// RBACManager returns the rbac.Manager settings
func (c *Config) RBACManager() rbac.Config {
	return rbac.Config{
		GrantCacheTTL:   c.RBAC.GrantCacheTTL,
		GrantCacheSize:  c.RBAC.GrantCacheSize,
		RoleIDCache:     c.RBAC.RoleIDCache,
		RoleIDKeyPrefix: c.RBAC.RoleIDKeyPrefix,
		RunMigrations:   c.RBAC.RunMigrations,
	}
}

// AuditFile returns the file sink settings
func (c *Config) AuditFile() audit.FileLoggerConfig {
	return audit.FileLoggerConfig{
		BasePath: c.Audit.FileDir,
		Rotate:   true,
		MaxSize:  c.Audit.FileMaxSize,
		MaxFiles: c.Audit.FileMaxKeep,
	}
}
