package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"

	"github.com/platinummonkey/taskguard/pkg/observability"
	"github.com/platinummonkey/taskguard/pkg/rbac"
)

// Config holds all application configuration
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Database      DatabaseConfig      `yaml:"database"`
	Redis         RedisConfig         `yaml:"redis"`
	Cache         CacheConfig         `yaml:"cache"`
	RateLimit     RateLimitConfig     `yaml:"rateLimit"`
	Auth          AuthConfig          `yaml:"auth"`
	Policy        PolicyConfig        `yaml:"policy"`
	Audit         AuditConfig         `yaml:"audit"`
	Archive       ArchiveConfig       `yaml:"archive"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            string        `yaml:"port"`
	HealthPort      string        `yaml:"healthPort"`
	ReadTimeout     time.Duration `yaml:"readTimeout"`
	WriteTimeout    time.Duration `yaml:"writeTimeout"`
	IdleTimeout     time.Duration `yaml:"idleTimeout"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`
	CORSOrigins     []string      `yaml:"corsOrigins"`
}

// DatabaseConfig holds PostgreSQL settings
type DatabaseConfig struct {
	URL             string        `yaml:"url"`
	ReplicaURLs     []string      `yaml:"replicaURLs"`
	MaxOpenConns    int           `yaml:"maxOpenConns"`
	MaxIdleConns    int           `yaml:"maxIdleConns"`
	ConnMaxLifetime time.Duration `yaml:"connMaxLifetime"`
	ConnMaxIdleTime time.Duration `yaml:"connMaxIdleTime"`
	ConnectTimeout  time.Duration `yaml:"connectTimeout"`
	AutoMigrate     bool          `yaml:"autoMigrate"`
}

// RedisConfig holds Redis settings for the organization cache
type RedisConfig struct {
	Enabled    bool   `yaml:"enabled"`
	URL        string `yaml:"url"`
	Password   string `yaml:"password"`
	DB         int    `yaml:"db"`
	PoolSize   int    `yaml:"poolSize"`
	MaxRetries int    `yaml:"maxRetries"`
}

// CacheConfig sizes the organization cache
type CacheConfig struct {
	MaxEntries int           `yaml:"maxEntries"`
	LocalTTL   time.Duration `yaml:"localTTL"`
	RedisTTL   time.Duration `yaml:"redisTTL"`
	KeyPrefix  string        `yaml:"keyPrefix"`
}

// RateLimitConfig configures per-caller request limits. The limiter is
// shared through Redis when Redis is enabled.
type RateLimitConfig struct {
	Enabled           bool          `yaml:"enabled"`
	RequestsPerWindow int           `yaml:"requestsPerWindow"`
	Window            time.Duration `yaml:"window"`
	Burst             int           `yaml:"burst"`
}

// AuthConfig configures bearer token verification
type AuthConfig struct {
	JWTSecret     string        `yaml:"jwtSecret"`
	JWTIssuer     string        `yaml:"jwtIssuer"`
	TokenTTL      time.Duration `yaml:"tokenTTL"`
	OIDCEnabled   bool          `yaml:"oidcEnabled"`
	OIDCIssuerURL string        `yaml:"oidcIssuerURL"`
	OIDCClientID  string        `yaml:"oidcClientID"`
	OIDCRoleClaim string        `yaml:"oidcRoleClaim"`
	OIDCOrgClaim  string        `yaml:"oidcOrgClaim"`
}

// PolicyConfig configures the access policy engine and task listing
type PolicyConfig struct {
	StrictOrgScope       bool     `yaml:"strictOrgScope"`
	ViewerEditableFields []string `yaml:"viewerEditableFields"`
	DefaultPageSize      int      `yaml:"defaultPageSize"`
	MaxPageSize          int      `yaml:"maxPageSize"`
}

// AuditConfig configures audit retrieval
type AuditConfig struct {
	DefaultLimit       int           `yaml:"defaultLimit"`
	MaxLimit           int           `yaml:"maxLimit"`
	SummaryWindow      time.Duration `yaml:"summaryWindow"`
	SummaryRecentLimit int           `yaml:"summaryRecentLimit"`
	RecordAccessDenied bool          `yaml:"recordAccessDenied"`
}

// ArchiveConfig configures the scheduled S3 export of audit entries
type ArchiveConfig struct {
	Enabled      bool   `yaml:"enabled"`
	Schedule     string `yaml:"schedule"`
	Bucket       string `yaml:"bucket"`
	Prefix       string `yaml:"prefix"`
	Region       string `yaml:"region"`
	Endpoint     string `yaml:"endpoint"`
	AccessKey    string `yaml:"accessKey"`
	SecretKey    string `yaml:"secretKey"`
	UsePathStyle bool   `yaml:"usePathStyle"`
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	LogLevel           string  `yaml:"logLevel"`
	MetricsEnabled     bool    `yaml:"metricsEnabled"`
	OTelEnabled        bool    `yaml:"otelEnabled"`
	OTelEndpoint       string  `yaml:"otelEndpoint"`
	OTelServiceName    string  `yaml:"otelServiceName"`
	OTelServiceVersion string  `yaml:"otelServiceVersion"`
	OTelInsecure       bool    `yaml:"otelInsecure"`
	OTelSampleRatio    float64 `yaml:"otelSampleRatio"`
}

// Level returns the parsed log level
func (o ObservabilityConfig) Level() observability.LogLevel {
	return observability.ParseLogLevel(o.LogLevel)
}

// ViewerFields parses PolicyConfig.ViewerEditableFields
func (p PolicyConfig) ViewerFields() (rbac.FieldSet, error) {
	return rbac.ParseFields(p.ViewerEditableFields)
}

// Default returns the built-in configuration
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            "3000",
			HealthPort:      "9090",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    30 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 30 * time.Second,
		},
		Database: DatabaseConfig{
			MaxOpenConns:    20,
			MaxIdleConns:    5,
			ConnMaxLifetime: 30 * time.Minute,
			ConnMaxIdleTime: 5 * time.Minute,
			ConnectTimeout:  5 * time.Second,
			AutoMigrate:     true,
		},
		Redis: RedisConfig{
			URL:        "redis://localhost:6379/0",
			PoolSize:   10,
			MaxRetries: 3,
		},
		Cache: CacheConfig{
			MaxEntries: 1000,
			LocalTTL:   time.Minute,
			RedisTTL:   10 * time.Minute,
			KeyPrefix:  "taskguard",
		},
		RateLimit: RateLimitConfig{
			Enabled:           true,
			RequestsPerWindow: 300,
			Window:            time.Minute,
			Burst:             30,
		},
		Auth: AuthConfig{
			JWTIssuer:     "taskguard",
			TokenTTL:      24 * time.Hour,
			OIDCRoleClaim: "role",
			OIDCOrgClaim:  "organizationId",
		},
		Policy: PolicyConfig{
			DefaultPageSize: 10,
			MaxPageSize:     100,
		},
		Audit: AuditConfig{
			DefaultLimit:       1000,
			MaxLimit:           100,
			SummaryWindow:      24 * time.Hour,
			SummaryRecentLimit: 10,
			RecordAccessDenied: true,
		},
		Archive: ArchiveConfig{
			Schedule: "15 0 * * *",
			Prefix:   "audit",
			Region:   "us-east-1",
		},
		Observability: ObservabilityConfig{
			LogLevel:           "info",
			MetricsEnabled:     true,
			OTelEndpoint:       "localhost:4317",
			OTelServiceName:    "taskguard",
			OTelServiceVersion: "1.0.0",
			OTelInsecure:       true,
			OTelSampleRatio:    1,
		},
	}
}

// LoadConfig builds the configuration from defaults, the optional YAML
// file named by TASKGUARD_CONFIG_FILE and TASKGUARD_* environment
// variables, in increasing precedence
func LoadConfig() (*Config, error) {
	cfg := Default()

	if path := os.Getenv("TASKGUARD_CONFIG_FILE"); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() {
	s := &c.Server
	s.Host = getEnv("TASKGUARD_HOST", s.Host)
	s.Port = getEnv("TASKGUARD_PORT", s.Port)
	s.HealthPort = getEnv("TASKGUARD_HEALTH_PORT", s.HealthPort)
	s.ReadTimeout = getEnvDuration("TASKGUARD_READ_TIMEOUT", s.ReadTimeout)
	s.WriteTimeout = getEnvDuration("TASKGUARD_WRITE_TIMEOUT", s.WriteTimeout)
	s.IdleTimeout = getEnvDuration("TASKGUARD_IDLE_TIMEOUT", s.IdleTimeout)
	s.ShutdownTimeout = getEnvDuration("TASKGUARD_SHUTDOWN_TIMEOUT", s.ShutdownTimeout)
	s.CORSOrigins = getEnvList("TASKGUARD_CORS_ORIGINS", s.CORSOrigins)

	d := &c.Database
	d.URL = getEnv("TASKGUARD_DATABASE_URL", d.URL)
	d.ReplicaURLs = getEnvList("TASKGUARD_DATABASE_REPLICA_URLS", d.ReplicaURLs)
	d.MaxOpenConns = getEnvInt("TASKGUARD_DATABASE_MAX_OPEN_CONNS", d.MaxOpenConns)
	d.MaxIdleConns = getEnvInt("TASKGUARD_DATABASE_MAX_IDLE_CONNS", d.MaxIdleConns)
	d.ConnMaxLifetime = getEnvDuration("TASKGUARD_DATABASE_CONN_MAX_LIFETIME", d.ConnMaxLifetime)
	d.ConnMaxIdleTime = getEnvDuration("TASKGUARD_DATABASE_CONN_MAX_IDLE_TIME", d.ConnMaxIdleTime)
	d.ConnectTimeout = getEnvDuration("TASKGUARD_DATABASE_CONNECT_TIMEOUT", d.ConnectTimeout)
	d.AutoMigrate = getEnvBool("TASKGUARD_DATABASE_AUTO_MIGRATE", d.AutoMigrate)

	r := &c.Redis
	r.Enabled = getEnvBool("TASKGUARD_REDIS_ENABLED", r.Enabled)
	r.URL = getEnv("TASKGUARD_REDIS_URL", r.URL)
	r.Password = getEnv("TASKGUARD_REDIS_PASSWORD", r.Password)
	r.DB = getEnvInt("TASKGUARD_REDIS_DB", r.DB)
	r.PoolSize = getEnvInt("TASKGUARD_REDIS_POOL_SIZE", r.PoolSize)
	r.MaxRetries = getEnvInt("TASKGUARD_REDIS_MAX_RETRIES", r.MaxRetries)

	ca := &c.Cache
	ca.MaxEntries = getEnvInt("TASKGUARD_CACHE_MAX_ENTRIES", ca.MaxEntries)
	ca.LocalTTL = getEnvDuration("TASKGUARD_CACHE_LOCAL_TTL", ca.LocalTTL)
	ca.RedisTTL = getEnvDuration("TASKGUARD_CACHE_REDIS_TTL", ca.RedisTTL)
	ca.KeyPrefix = getEnv("TASKGUARD_CACHE_KEY_PREFIX", ca.KeyPrefix)

	rl := &c.RateLimit
	rl.Enabled = getEnvBool("TASKGUARD_RATE_LIMIT_ENABLED", rl.Enabled)
	rl.RequestsPerWindow = getEnvInt("TASKGUARD_RATE_LIMIT_REQUESTS", rl.RequestsPerWindow)
	rl.Window = getEnvDuration("TASKGUARD_RATE_LIMIT_WINDOW", rl.Window)
	rl.Burst = getEnvInt("TASKGUARD_RATE_LIMIT_BURST", rl.Burst)

	a := &c.Auth
	a.JWTSecret = getEnv("TASKGUARD_JWT_SECRET", a.JWTSecret)
	a.JWTIssuer = getEnv("TASKGUARD_JWT_ISSUER", a.JWTIssuer)
	a.TokenTTL = getEnvDuration("TASKGUARD_TOKEN_TTL", a.TokenTTL)
	a.OIDCEnabled = getEnvBool("TASKGUARD_OIDC_ENABLED", a.OIDCEnabled)
	a.OIDCIssuerURL = getEnv("TASKGUARD_OIDC_ISSUER_URL", a.OIDCIssuerURL)
	a.OIDCClientID = getEnv("TASKGUARD_OIDC_CLIENT_ID", a.OIDCClientID)
	a.OIDCRoleClaim = getEnv("TASKGUARD_OIDC_ROLE_CLAIM", a.OIDCRoleClaim)
	a.OIDCOrgClaim = getEnv("TASKGUARD_OIDC_ORG_CLAIM", a.OIDCOrgClaim)

	p := &c.Policy
	p.StrictOrgScope = getEnvBool("TASKGUARD_POLICY_STRICT_ORG_SCOPE", p.StrictOrgScope)
	p.ViewerEditableFields = getEnvList("TASKGUARD_POLICY_VIEWER_FIELDS", p.ViewerEditableFields)
	p.DefaultPageSize = getEnvInt("TASKGUARD_POLICY_DEFAULT_PAGE_SIZE", p.DefaultPageSize)
	p.MaxPageSize = getEnvInt("TASKGUARD_POLICY_MAX_PAGE_SIZE", p.MaxPageSize)

	au := &c.Audit
	au.DefaultLimit = getEnvInt("TASKGUARD_AUDIT_DEFAULT_LIMIT", au.DefaultLimit)
	au.MaxLimit = getEnvInt("TASKGUARD_AUDIT_MAX_LIMIT", au.MaxLimit)
	au.SummaryWindow = getEnvDuration("TASKGUARD_AUDIT_SUMMARY_WINDOW", au.SummaryWindow)
	au.SummaryRecentLimit = getEnvInt("TASKGUARD_AUDIT_SUMMARY_RECENT_LIMIT", au.SummaryRecentLimit)
	au.RecordAccessDenied = getEnvBool("TASKGUARD_AUDIT_RECORD_ACCESS_DENIED", au.RecordAccessDenied)

	ar := &c.Archive
	ar.Enabled = getEnvBool("TASKGUARD_ARCHIVE_ENABLED", ar.Enabled)
	ar.Schedule = getEnv("TASKGUARD_ARCHIVE_SCHEDULE", ar.Schedule)
	ar.Bucket = getEnv("TASKGUARD_ARCHIVE_BUCKET", ar.Bucket)
	ar.Prefix = getEnv("TASKGUARD_ARCHIVE_PREFIX", ar.Prefix)
	ar.Region = getEnv("TASKGUARD_ARCHIVE_REGION", ar.Region)
	ar.Endpoint = getEnv("TASKGUARD_ARCHIVE_ENDPOINT", ar.Endpoint)
	ar.AccessKey = getEnv("TASKGUARD_ARCHIVE_ACCESS_KEY", ar.AccessKey)
	ar.SecretKey = getEnv("TASKGUARD_ARCHIVE_SECRET_KEY", ar.SecretKey)
	ar.UsePathStyle = getEnvBool("TASKGUARD_ARCHIVE_USE_PATH_STYLE", ar.UsePathStyle)

	o := &c.Observability
	o.LogLevel = getEnv("TASKGUARD_LOG_LEVEL", o.LogLevel)
	o.MetricsEnabled = getEnvBool("TASKGUARD_METRICS_ENABLED", o.MetricsEnabled)
	o.OTelEnabled = getEnvBool("TASKGUARD_OTEL_ENABLED", o.OTelEnabled)
	o.OTelEndpoint = getEnv("TASKGUARD_OTEL_ENDPOINT", o.OTelEndpoint)
	o.OTelServiceName = getEnv("TASKGUARD_OTEL_SERVICE_NAME", o.OTelServiceName)
	o.OTelServiceVersion = getEnv("TASKGUARD_OTEL_SERVICE_VERSION", o.OTelServiceVersion)
	o.OTelInsecure = getEnvBool("TASKGUARD_OTEL_INSECURE", o.OTelInsecure)
	o.OTelSampleRatio = getEnvFloat("TASKGUARD_OTEL_SAMPLE_RATIO", o.OTelSampleRatio)
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if c.Server.HealthPort == "" {
		return fmt.Errorf("health port is required")
	}
	if c.Server.Port == c.Server.HealthPort {
		return fmt.Errorf("server port and health port must be different")
	}

	if c.Database.URL == "" {
		return fmt.Errorf("database URL is required")
	}

	if c.Redis.Enabled && c.Redis.URL == "" {
		return fmt.Errorf("redis URL is required when redis is enabled")
	}

	if c.RateLimit.Enabled {
		if c.RateLimit.RequestsPerWindow <= 0 || c.RateLimit.Window <= 0 {
			return fmt.Errorf("rate limit requests and window must be positive")
		}
		if c.RateLimit.Burst < 0 {
			return fmt.Errorf("rate limit burst cannot be negative")
		}
	}

	if !c.Auth.OIDCEnabled && c.Auth.JWTSecret == "" {
		return fmt.Errorf("JWT secret is required unless OIDC is enabled")
	}
	if c.Auth.OIDCEnabled && (c.Auth.OIDCIssuerURL == "" || c.Auth.OIDCClientID == "") {
		return fmt.Errorf("OIDC issuer URL and client ID are required when OIDC is enabled")
	}

	if c.Policy.DefaultPageSize <= 0 || c.Policy.MaxPageSize <= 0 {
		return fmt.Errorf("page sizes must be positive")
	}
	if c.Policy.DefaultPageSize > c.Policy.MaxPageSize {
		return fmt.Errorf("default page size %d exceeds max page size %d", c.Policy.DefaultPageSize, c.Policy.MaxPageSize)
	}
	if _, err := c.Policy.ViewerFields(); err != nil {
		return fmt.Errorf("invalid viewer editable fields: %w", err)
	}

	if c.Audit.DefaultLimit <= 0 || c.Audit.MaxLimit <= 0 {
		return fmt.Errorf("audit limits must be positive")
	}
	if c.Audit.SummaryWindow <= 0 || c.Audit.SummaryRecentLimit <= 0 {
		return fmt.Errorf("audit summary window and recent limit must be positive")
	}

	if c.Archive.Enabled {
		if c.Archive.Bucket == "" {
			return fmt.Errorf("archive bucket is required when archiving is enabled")
		}
		if _, err := cron.ParseStandard(c.Archive.Schedule); err != nil {
			return fmt.Errorf("invalid archive schedule %q: %w", c.Archive.Schedule, err)
		}
	}

	if c.Observability.OTelEnabled {
		if c.Observability.OTelEndpoint == "" {
			return fmt.Errorf("OpenTelemetry endpoint is required when OTel is enabled")
		}
		if c.Observability.OTelServiceName == "" {
			return fmt.Errorf("OpenTelemetry service name is required when OTel is enabled")
		}
	}

	return nil
}

// getEnv returns an environment variable value or a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool returns a boolean environment variable or a default
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

// getEnvInt returns an integer environment variable or a default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvFloat returns a float environment variable or a default
func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

// getEnvList returns a comma separated environment variable or a default
func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
