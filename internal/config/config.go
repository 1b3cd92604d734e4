package config

import (
	"fmt"
	"time"

	"github.com/PaulSamPS/e-commerce-server/internal/auth"
	pkgconfig "github.com/PaulSamPS/e-commerce-server/pkg/config"
	"github.com/PaulSamPS/e-commerce-server/pkg/database"
)

// Session store backends.
const (
	StorePostgres = "postgres"
	StoreRedis    = "redis"
	StoreMemory   = "memory"
)

const minProductionSecretLen = 32

// Config holds all configuration for the server.
type Config struct {
	ServiceName string `env:"SERVICE_NAME" envDefault:"auth-service"`
	Version     string `env:"SERVICE_VERSION" envDefault:"dev"`
	Environment string `env:"ENVIRONMENT" envDefault:"development"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`

	// HTTP server
	HTTPPort            int           `env:"HTTP_PORT" envDefault:"8000"`
	HTTPReadTimeout     time.Duration `env:"HTTP_READ_TIMEOUT" envDefault:"15s"`
	HTTPWriteTimeout    time.Duration `env:"HTTP_WRITE_TIMEOUT" envDefault:"15s"`
	HTTPIdleTimeout     time.Duration `env:"HTTP_IDLE_TIMEOUT" envDefault:"60s"`
	HTTPShutdownTimeout time.Duration `env:"HTTP_SHUTDOWN_TIMEOUT" envDefault:"15s"`

	// Token signing. No defaults: a missing value stops the process.
	JWTAccessSecret  string        `env:"JWT_SECRET_ACCESS"`
	JWTRefreshSecret string        `env:"JWT_SECRET_REFRESH"`
	JWTAccessTTL     time.Duration `env:"JWT_ACCESS_TOKEN_EXPIRES_IN"`
	JWTRefreshTTL    time.Duration `env:"JWT_REFRESH_TOKEN_EXPIRES_IN"`
	JWTIssuer        string        `env:"JWT_ISSUER" envDefault:"e-commerce-server"`

	// Credential cookies
	CookieSecure bool          `env:"COOKIE_SECURE" envDefault:"false"`
	CookieMaxAge time.Duration `env:"COOKIE_MAX_AGE" envDefault:"30d"`
	CookieDomain string        `env:"COOKIE_DOMAIN"`

	// Sessions
	SessionStore         string        `env:"SESSION_STORE" envDefault:"postgres"`
	SessionRevokeOnReuse bool          `env:"SESSION_REVOKE_ON_REUSE" envDefault:"false"`
	RotationTimeout      time.Duration `env:"SESSION_ROTATION_TIMEOUT" envDefault:"5s"`
	VerificationCodeTTL  time.Duration `env:"VERIFICATION_CODE_TTL" envDefault:"1h"`

	// PostgreSQL
	PostgresHost            string        `env:"POSTGRES_HOST" envDefault:"localhost"`
	PostgresPort            int           `env:"POSTGRES_PORT" envDefault:"5432"`
	PostgresUser            string        `env:"POSTGRES_USER" envDefault:"ecommerce"`
	PostgresPass            string        `env:"POSTGRES_PASSWORD" envDefault:"ecommerce_secret"`
	PostgresDB              string        `env:"POSTGRES_DB" envDefault:"ecommerce"`
	PostgresSSL             string        `env:"POSTGRES_SSL_MODE" envDefault:"disable"`
	PostgresMaxConns        int32         `env:"POSTGRES_MAX_CONNS" envDefault:"20"`
	PostgresMinConns        int32         `env:"POSTGRES_MIN_CONNS" envDefault:"2"`
	PostgresMaxConnLifetime time.Duration `env:"POSTGRES_MAX_CONN_LIFETIME" envDefault:"1h"`
	PostgresMaxConnIdleTime time.Duration `env:"POSTGRES_MAX_CONN_IDLE_TIME" envDefault:"30m"`
	SlowQueryThreshold      time.Duration `env:"SLOW_QUERY_THRESHOLD" envDefault:"200ms"`

	// Redis
	RedisHost     string `env:"REDIS_HOST" envDefault:"localhost"`
	RedisPort     int    `env:"REDIS_PORT" envDefault:"6379"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	RedisDB       int    `env:"REDIS_DB" envDefault:"0"`
	RedisPoolSize int    `env:"REDIS_POOL_SIZE" envDefault:"10"`

	// Kafka
	KafkaEnabled bool     `env:"KAFKA_ENABLED" envDefault:"true"`
	KafkaBrokers []string `env:"KAFKA_BROKERS" envDefault:"localhost:9092" envSeparator:","`

	// Tracing
	OTELEnabled    bool    `env:"OTEL_ENABLED" envDefault:"false"`
	OTELEndpoint   string  `env:"OTEL_EXPORTER_OTLP_ENDPOINT" envDefault:"localhost:4318"`
	OTELSampleRate float64 `env:"OTEL_SAMPLE_RATE" envDefault:"1.0"`

	// Rate limiting for public auth endpoints
	AuthRateLimitRPS   float64 `env:"AUTH_RATE_LIMIT_RPS" envDefault:"5"`
	AuthRateLimitBurst int     `env:"AUTH_RATE_LIMIT_BURST" envDefault:"10"`
	TrustProxyHeaders  bool    `env:"TRUST_PROXY_HEADERS" envDefault:"false"`

	// CORS
	CORSAllowedOrigins []string `env:"CORS_ALLOWED_ORIGINS" envDefault:"http://localhost:3000" envSeparator:","`

	// pprof
	PprofAllowedCIDRs []string `env:"PPROF_ALLOWED_CIDRS" envDefault:"127.0.0.0/8,::1/128" envSeparator:","`
}

// Load reads configuration from environment variables and validates it.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := pkgconfig.Load(cfg); err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks values that env tags cannot express.
func (c *Config) Validate() error {
	if c.HTTPPort < 1 || c.HTTPPort > 65535 {
		return fmt.Errorf("invalid HTTP port: %d", c.HTTPPort)
	}

	if err := c.validateSecrets(); err != nil {
		return err
	}

	switch c.SessionStore {
	case StorePostgres, StoreRedis, StoreMemory:
	default:
		return fmt.Errorf("invalid SESSION_STORE %q: want postgres, redis or memory", c.SessionStore)
	}

	if c.CookieMaxAge <= 0 {
		return fmt.Errorf("COOKIE_MAX_AGE must be positive")
	}
	if c.VerificationCodeTTL <= 0 {
		return fmt.Errorf("VERIFICATION_CODE_TTL must be positive")
	}
	if c.RotationTimeout <= 0 {
		return fmt.Errorf("SESSION_ROTATION_TIMEOUT must be positive")
	}
	return nil
}

func (c *Config) validateSecrets() error {
	required := []struct {
		name    string
		missing bool
	}{
		{"JWT_SECRET_ACCESS", c.JWTAccessSecret == ""},
		{"JWT_SECRET_REFRESH", c.JWTRefreshSecret == ""},
		{"JWT_ACCESS_TOKEN_EXPIRES_IN", c.JWTAccessTTL <= 0},
		{"JWT_REFRESH_TOKEN_EXPIRES_IN", c.JWTRefreshTTL <= 0},
	}
	for _, r := range required {
		if r.missing {
			return fmt.Errorf("%w: %s must be set", auth.ErrMissingSecretConfig, r.name)
		}
	}

	if c.JWTAccessSecret == c.JWTRefreshSecret {
		return fmt.Errorf("JWT_SECRET_ACCESS and JWT_SECRET_REFRESH must differ")
	}
	if c.JWTAccessTTL >= c.JWTRefreshTTL {
		return fmt.Errorf("JWT_ACCESS_TOKEN_EXPIRES_IN (%s) must be shorter than JWT_REFRESH_TOKEN_EXPIRES_IN (%s)",
			c.JWTAccessTTL, c.JWTRefreshTTL)
	}

	// Outside development, require secrets long enough for HS256.
	if c.Environment != "development" {
		if len(c.JWTAccessSecret) < minProductionSecretLen {
			return fmt.Errorf("JWT_SECRET_ACCESS must be at least %d characters long, got %d", minProductionSecretLen, len(c.JWTAccessSecret))
		}
		if len(c.JWTRefreshSecret) < minProductionSecretLen {
			return fmt.Errorf("JWT_SECRET_REFRESH must be at least %d characters long, got %d", minProductionSecretLen, len(c.JWTRefreshSecret))
		}
	}
	return nil
}

// Secrets returns the token signing configuration.
func (c *Config) Secrets() auth.Secrets {
	return auth.Secrets{
		AccessSecret:  c.JWTAccessSecret,
		RefreshSecret: c.JWTRefreshSecret,
		AccessTTL:     c.JWTAccessTTL,
		RefreshTTL:    c.JWTRefreshTTL,
		Issuer:        c.JWTIssuer,
	}
}

// Postgres returns the connection pool configuration.
func (c *Config) Postgres() *database.PostgresConfig {
	return &database.PostgresConfig{
		Host:            c.PostgresHost,
		Port:            c.PostgresPort,
		User:            c.PostgresUser,
		Password:        c.PostgresPass,
		DBName:          c.PostgresDB,
		SSLMode:         c.PostgresSSL,
		MaxConns:        c.PostgresMaxConns,
		MinConns:        c.PostgresMinConns,
		MaxConnLifetime: c.PostgresMaxConnLifetime,
		MaxConnIdleTime: c.PostgresMaxConnIdleTime,
	}
}

// Redis returns the client configuration.
func (c *Config) Redis() database.RedisConfig {
	return database.RedisConfig{
		Host:     c.RedisHost,
		Port:     c.RedisPort,
		Password: c.RedisPassword,
		DB:       c.RedisDB,
		PoolSize: c.RedisPoolSize,
	}
}

// NeedsPostgres reports whether any configured component uses PostgreSQL.
// Users always live in PostgreSQL unless everything runs in memory.
func (c *Config) NeedsPostgres() bool {
	return c.SessionStore != StoreMemory
}

// NeedsRedis reports whether Redis backs sessions or verification codes.
func (c *Config) NeedsRedis() bool {
	return c.SessionStore != StoreMemory
}
