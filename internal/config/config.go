package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
)

// Config holds the environment driven configuration for the attachments service.
type Config struct {
	// Service Configuration
	ServiceName     string        `env:"SERVICE_NAME" envDefault:"attachments-api"`
	Environment     string        `env:"ENVIRONMENT" envDefault:"development"`
	HTTPPort        int           `env:"ROWFILES_API_PORT" envDefault:"8290"`
	LogLevel        string        `env:"ROWFILES_LOG_LEVEL" envDefault:"info"`
	EnableTracing   bool          `env:"ENABLE_TRACING" envDefault:"false"`
	OTLPEndpoint    string        `env:"OTEL_EXPORTER_OTLP_ENDPOINT" envDefault:""`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`

	// Database (file metadata)
	DBPostgresqlWriteDSN string        `env:"DB_POSTGRESQL_WRITE_DSN,notEmpty"`
	DBMaxIdleConns       int           `env:"DB_MAX_IDLE_CONNS" envDefault:"5"`
	DBMaxOpenConns       int           `env:"DB_MAX_OPEN_CONNS" envDefault:"15"`
	DBConnLifetime       time.Duration `env:"DB_CONN_MAX_LIFETIME" envDefault:"30m"`

	// Public base URL used to build downloadUrl values in manifests.
	APIURL string `env:"ROWFILES_API_URL"`

	// Storage Backend Selection
	StorageBackend string `env:"ROWFILES_STORAGE_BACKEND" envDefault:"s3"` // Options: "s3" or "local"

	// Local Storage Configuration
	LocalStoragePath string `env:"ROWFILES_LOCAL_STORAGE_PATH"`

	// S3 Storage Configuration
	S3Endpoint     string `env:"ROWFILES_S3_ENDPOINT"`
	S3Region       string `env:"ROWFILES_S3_REGION" envDefault:"us-west-2"`
	S3Bucket       string `env:"ROWFILES_S3_BUCKET"`
	S3AccessKeyID  string `env:"ROWFILES_S3_ACCESS_KEY_ID"`
	S3SecretKey    string `env:"ROWFILES_S3_SECRET_ACCESS_KEY"`
	S3UsePathStyle bool   `env:"ROWFILES_S3_USE_PATH_STYLE" envDefault:"true"`

	// Row locks
	LockBackend     string        `env:"ROWFILES_LOCK_BACKEND" envDefault:"local"` // Options: "local" or "redis"
	LockGranularity string        `env:"ROWFILES_LOCK_GRANULARITY" envDefault:"row"`
	LockTimeout     time.Duration `env:"ROWFILES_LOCK_TIMEOUT" envDefault:"10s"`
	LockTTL         time.Duration `env:"ROWFILES_LOCK_TTL" envDefault:"60s"`
	LockRetryDelay  time.Duration `env:"ROWFILES_LOCK_RETRY_DELAY" envDefault:"100ms"`
	RedisURL        string        `env:"REDIS_URL"`

	// Transfer limits
	MaxFileBytes    int64 `env:"ROWFILES_MAX_FILE_BYTES" envDefault:"52428800"`
	MaxUploadParts  int   `env:"ROWFILES_MAX_UPLOAD_PARTS" envDefault:"256"`
	MaxRequestBytes int64 `env:"ROWFILES_MAX_REQUEST_BYTES" envDefault:"536870912"`

	// Replaced blobs stay readable this long for downloads already in flight.
	BlobRetention time.Duration `env:"ROWFILES_BLOB_RETENTION" envDefault:"5m"`

	// Authentication
	AuthEnabled bool   `env:"AUTH_ENABLED" envDefault:"false"`
	AuthIssuer  string `env:"AUTH_ISSUER"`
	Account     string `env:"ACCOUNT"`
	AuthJWKSURL string `env:"AUTH_JWKS_URL"`
}

// Load parses environment variables into Config.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env config: %w", err)
	}
	if err := cfg.normalize(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) normalize() error {
	c.S3Bucket = strings.TrimSpace(c.S3Bucket)
	c.S3AccessKeyID = strings.TrimSpace(c.S3AccessKeyID)
	c.S3SecretKey = strings.TrimSpace(c.S3SecretKey)
	c.S3Endpoint = strings.TrimSpace(c.S3Endpoint)
	c.APIURL = strings.TrimRight(strings.TrimSpace(c.APIURL), "/")

	if c.MaxFileBytes <= 0 {
		c.MaxFileBytes = 50 * 1024 * 1024
	}
	if c.MaxUploadParts <= 0 {
		c.MaxUploadParts = 256
	}
	if c.BlobRetention < 0 {
		return fmt.Errorf("ROWFILES_BLOB_RETENTION must not be negative")
	}
	if c.LockTimeout <= 0 {
		return fmt.Errorf("ROWFILES_LOCK_TIMEOUT must be positive")
	}
	if c.LockTTL < c.LockTimeout {
		c.LockTTL = c.LockTimeout * 2
	}

	switch strings.ToLower(strings.TrimSpace(c.LockGranularity)) {
	case "", "row":
		c.LockGranularity = "row"
	case "table":
		c.LockGranularity = "table"
	default:
		return fmt.Errorf("ROWFILES_LOCK_GRANULARITY must be row or table, got %q", c.LockGranularity)
	}

	if c.IsRedisLock() && strings.TrimSpace(c.RedisURL) == "" {
		return fmt.Errorf("REDIS_URL is required when ROWFILES_LOCK_BACKEND is redis")
	}
	if c.IsLocalStorage() && strings.TrimSpace(c.LocalStoragePath) == "" {
		return fmt.Errorf("ROWFILES_LOCAL_STORAGE_PATH is required when ROWFILES_STORAGE_BACKEND is local")
	}
	if c.AuthEnabled {
		if strings.TrimSpace(c.AuthIssuer) == "" {
			return fmt.Errorf("AUTH_ISSUER is required when AUTH_ENABLED is true")
		}
		if strings.TrimSpace(c.AuthJWKSURL) == "" {
			return fmt.Errorf("AUTH_JWKS_URL is required when AUTH_ENABLED is true")
		}
	}
	return nil
}

// Addr returns the HTTP listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.HTTPPort)
}

// IsLocalStorage returns true if local storage backend is configured.
func (c *Config) IsLocalStorage() bool {
	return strings.ToLower(strings.TrimSpace(c.StorageBackend)) == "local"
}

// IsS3Storage returns true if S3 storage backend is configured.
func (c *Config) IsS3Storage() bool {
	backend := strings.ToLower(strings.TrimSpace(c.StorageBackend))
	return backend == "" || backend == "s3"
}

// IsRedisLock returns true if row locks are coordinated through redis.
func (c *Config) IsRedisLock() bool {
	return strings.ToLower(strings.TrimSpace(c.LockBackend)) == "redis"
}
