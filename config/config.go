package config

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Storage and metering backends
const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
)

// Config represents the complete application configuration
type Config struct {
	Server        ServerConfig
	Storage       StorageConfig
	Database      DatabaseConfig
	AuditDatabase *DatabaseConfig // Optional: separate DB for audit logs. When nil, audit uses main DB.
	Redis         RedisConfig
	Auth          AuthConfig
	Audit         AuditConfig
	Metering      MeteringConfig
	Policy        PolicyConfig
	RateLimit     RateLimitConfig
	Providers     ProvidersConfig
	Observability ObservabilityConfig
	Environment   string
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host               string
	Port               int
	ReadTimeout        time.Duration
	WriteTimeout       time.Duration
	ShutdownTimeout    time.Duration
	CORSAllowedOrigins []string
	TLS                struct {
		Enabled  bool
		CertFile string
		KeyFile  string
	}
}

// StorageConfig selects where policies and the audit log live
type StorageConfig struct {
	Backend string // memory or postgres
}

// DatabaseConfig holds PostgreSQL database configuration.
// When ConnectionString (from DATABASE_URL) is set, it takes precedence over individual fields.
type DatabaseConfig struct {
	ConnectionString string // From DATABASE_URL when set
	Host             string
	Port             int
	User             string
	Password         string
	Database         string
	SSLMode          string
	MaxOpenConns     int
	MaxIdleConns     int
	ConnMaxLifetime  time.Duration
}

// RedisConfig holds the Redis connection used by the redis ledger
type RedisConfig struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
}

// AuthConfig holds JWT settings
type AuthConfig struct {
	JWTSecret string
	Issuer    string
	TokenTTL  time.Duration
}

// AuditConfig controls signing and the async worker pool
type AuditConfig struct {
	Salt       string
	HashChain  bool
	Async      bool
	BufferSize int
	Workers    int
}

// MeteringConfig controls the ledger backend and cost defaults
type MeteringConfig struct {
	Backend                   string // memory, redis or postgres
	DefaultCostPer1k          float64
	ProjectedCompletionTokens int
	DefaultBudget             float64
	RolloverCron              string
}

// PolicyConfig controls the policy cache and the seed file
type PolicyConfig struct {
	SeedFile  string
	Watch     bool
	CacheSize int
	CacheTTL  time.Duration
}

// RateLimitConfig caps requests per tenant. Zero disables a window.
type RateLimitConfig struct {
	Backend           string // memory or redis
	KeyPrefix         string
	RequestsPerMinute int
	RequestsPerHour   int
	RequestsPerDay    int
}

// Enabled reports whether any window is limited
func (c RateLimitConfig) Enabled() bool {
	return c.RequestsPerMinute > 0 || c.RequestsPerHour > 0 || c.RequestsPerDay > 0
}

// ProvidersConfig holds LLM provider settings
type ProvidersConfig struct {
	CatalogFile string
	Timeout     time.Duration
	OpenAI      OpenAIConfig
}

// OpenAIConfig holds OpenAI provider configuration used when no catalog file is set
type OpenAIConfig struct {
	APIKey  string
	BaseURL string
	Model   string
}

// ObservabilityConfig holds monitoring and logging configuration
type ObservabilityConfig struct {
	LogLevel       string
	LogFormat      string // json or text
	MetricsEnabled bool
}

// New creates a new Config instance by loading environment variables
func New(ctx context.Context) (*Config, error) {
	_ = godotenv.Load(".env")

	cfg := &Config{
		Environment: getEnv("ENVIRONMENT", "development"),
		Server: ServerConfig{
			Host:               getEnv("SERVER_HOST", "0.0.0.0"),
			Port:               getPort(),
			ReadTimeout:        getEnvAsDuration("SERVER_READ_TIMEOUT", 30*time.Second),
			WriteTimeout:       getEnvAsDuration("SERVER_WRITE_TIMEOUT", 30*time.Second),
			ShutdownTimeout:    getEnvAsDuration("SERVER_SHUTDOWN_TIMEOUT", 10*time.Second),
			CORSAllowedOrigins: getEnvAsList("CORS_ALLOWED_ORIGINS", []string{"http://localhost:5173"}),
			TLS: struct {
				Enabled  bool
				CertFile string
				KeyFile  string
			}{
				Enabled:  getEnvAsBool("TLS_ENABLED", false),
				CertFile: getEnv("TLS_CERT_FILE", "certs/cert.pem"),
				KeyFile:  getEnv("TLS_KEY_FILE", "certs/key.pem"),
			},
		},
		Storage: StorageConfig{
			Backend: getEnv("STORAGE_BACKEND", BackendMemory),
		},
		Database:      loadDatabaseConfig(),
		AuditDatabase: loadAuditDatabaseConfig(),
		Redis: RedisConfig{
			Addr:      getEnv("REDIS_ADDR", ""),
			Password:  getEnv("REDIS_PASSWORD", ""),
			DB:        getEnvAsInt("REDIS_DB", 0),
			KeyPrefix: getEnv("REDIS_KEY_PREFIX", "asg:ledger:"),
		},
		Auth: AuthConfig{
			JWTSecret: getEnv("JWT_SECRET", ""),
			Issuer:    getEnv("JWT_ISSUER", "agent-safe-grid"),
			TokenTTL:  getEnvAsDuration("JWT_TTL", 24*time.Hour),
		},
		Audit: AuditConfig{
			Salt:       getEnv("AUDIT_SALT", "SECRET_KEY_SALT"),
			HashChain:  getEnvAsBool("AUDIT_HASH_CHAIN", false),
			Async:      getEnvAsBool("AUDIT_ASYNC", true),
			BufferSize: getEnvAsInt("AUDIT_BUFFER_SIZE", 10000),
			Workers:    getEnvAsInt("AUDIT_WORKERS", 5),
		},
		Metering: MeteringConfig{
			Backend:                   getEnv("METERING_BACKEND", BackendMemory),
			DefaultCostPer1k:          getEnvAsFloat("METERING_DEFAULT_COST_PER_1K", 0.0001),
			ProjectedCompletionTokens: getEnvAsInt("METERING_PROJECTED_COMPLETION_TOKENS", 2048),
			DefaultBudget:             getEnvAsFloat("METERING_DEFAULT_BUDGET", 100),
			RolloverCron:              getEnv("METERING_ROLLOVER_CRON", ""),
		},
		Policy: PolicyConfig{
			SeedFile:  getEnv("POLICY_SEED_FILE", ""),
			Watch:     getEnvAsBool("POLICY_WATCH", false),
			CacheSize: getEnvAsInt("POLICY_CACHE_SIZE", 1000),
			CacheTTL:  getEnvAsDuration("POLICY_CACHE_TTL", 5*time.Minute),
		},
		RateLimit: RateLimitConfig{
			Backend:           getEnv("RATE_LIMIT_BACKEND", BackendMemory),
			KeyPrefix:         getEnv("RATE_LIMIT_KEY_PREFIX", "asg:ratelimit:"),
			RequestsPerMinute: getEnvAsInt("RATE_LIMIT_PER_MINUTE", 1000),
			RequestsPerHour:   getEnvAsInt("RATE_LIMIT_PER_HOUR", 0),
			RequestsPerDay:    getEnvAsInt("RATE_LIMIT_PER_DAY", 0),
		},
		Providers: ProvidersConfig{
			CatalogFile: getEnv("PROVIDER_CATALOG_FILE", ""),
			Timeout:     getEnvAsDuration("PROVIDER_TIMEOUT", 10*time.Second),
			OpenAI: OpenAIConfig{
				APIKey:  getEnv("OPENAI_API_KEY", ""),
				BaseURL: getEnv("OPENAI_BASE_URL", "https://api.openai.com/v1"),
				Model:   getEnv("OPENAI_MODEL", "gpt-3.5-turbo"),
			},
		},
		Observability: ObservabilityConfig{
			LogLevel:       getEnv("LOG_LEVEL", "info"),
			LogFormat:      getEnv("LOG_FORMAT", "json"),
			MetricsEnabled: getEnvAsBool("METRICS_ENABLED", true),
		},
	}

	// Validate the configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks that the configuration is internally consistent
func (c *Config) Validate() error {
	switch c.Storage.Backend {
	case BackendMemory:
	case BackendPostgres:
		if err := c.Database.validate(); err != nil {
			return err
		}
	default:
		return fmt.Errorf("unknown storage backend %q", c.Storage.Backend)
	}

	switch c.Metering.Backend {
	case BackendMemory:
	case BackendRedis:
		if c.Redis.Addr == "" {
			return fmt.Errorf("redis ledger requires REDIS_ADDR")
		}
	case BackendPostgres:
		if c.Storage.Backend != BackendPostgres {
			return fmt.Errorf("postgres ledger requires STORAGE_BACKEND=postgres")
		}
	default:
		return fmt.Errorf("unknown metering backend %q", c.Metering.Backend)
	}

	if c.RateLimit.Enabled() {
		switch c.RateLimit.Backend {
		case BackendMemory:
		case BackendRedis:
			if c.Redis.Addr == "" {
				return fmt.Errorf("redis rate limiter requires REDIS_ADDR")
			}
		default:
			return fmt.Errorf("unknown rate limit backend %q", c.RateLimit.Backend)
		}
	}
	if c.RateLimit.RequestsPerMinute < 0 || c.RateLimit.RequestsPerHour < 0 || c.RateLimit.RequestsPerDay < 0 {
		return fmt.Errorf("rate limits must not be negative")
	}

	if c.Audit.Salt == "" {
		return fmt.Errorf("audit salt is required")
	}
	if c.Audit.Async && (c.Audit.Workers <= 0 || c.Audit.BufferSize <= 0) {
		return fmt.Errorf("async audit requires positive AUDIT_WORKERS and AUDIT_BUFFER_SIZE")
	}

	if c.Metering.DefaultCostPer1k < 0 || c.Metering.DefaultBudget < 0 {
		return fmt.Errorf("metering cost and budget must not be negative")
	}
	if c.Metering.ProjectedCompletionTokens < 0 {
		return fmt.Errorf("projected completion tokens must not be negative")
	}

	if c.Providers.Timeout <= 0 {
		return fmt.Errorf("provider timeout must be positive")
	}

	if c.IsProduction() && c.Auth.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required in production")
	}

	if c.Observability.LogLevel == "" {
		return fmt.Errorf("log level is required")
	}

	return nil
}

func (c *DatabaseConfig) validate() error {
	if c.ConnectionString == "" && c.Host == "" {
		return fmt.Errorf("database configuration required: set DATABASE_URL or DB_HOST")
	}
	if c.ConnectionString == "" {
		if c.User == "" {
			return fmt.Errorf("database user is required")
		}
		if c.Database == "" {
			return fmt.Errorf("database name is required")
		}
	}
	return nil
}

// IsProduction returns true if running in production environment
func (c *Config) IsProduction() bool {
	return c.Environment == "production" || c.Environment == "prod"
}

// IsDevelopment returns true if running in development environment
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development" || c.Environment == "dev"
}

// DSN returns the PostgreSQL connection string.
// Uses ConnectionString (from DATABASE_URL) when set; otherwise builds from individual fields.
func (c *DatabaseConfig) DSN() string {
	if c.ConnectionString != "" {
		return c.ConnectionString
	}
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// LogString returns a safe string for logging (no password). Parses ConnectionString when set.
func (c *DatabaseConfig) LogString() string {
	if c.ConnectionString != "" {
		u, err := url.Parse(c.ConnectionString)
		if err == nil {
			host := u.Hostname()
			port := u.Port()
			if port == "" {
				port = "5432"
			}
			db := strings.TrimPrefix(u.Path, "/")
			return fmt.Sprintf("host=%s port=%s database=%s", host, port, db)
		}
		return "host=<from DATABASE_URL>"
	}
	return fmt.Sprintf("host=%s port=%d database=%s", c.Host, c.Port, c.Database)
}

// loadDatabaseConfig loads database config from DATABASE_URL or DB_* env vars
func loadDatabaseConfig() DatabaseConfig {
	pool := func(cfg DatabaseConfig) DatabaseConfig {
		cfg.MaxOpenConns = getEnvAsInt("DB_MAX_OPEN_CONNS", 25)
		cfg.MaxIdleConns = getEnvAsInt("DB_MAX_IDLE_CONNS", 5)
		cfg.ConnMaxLifetime = getEnvAsDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute)
		return cfg
	}

	if dbURL := getEnv("DATABASE_URL", ""); dbURL != "" {
		return pool(DatabaseConfig{ConnectionString: dbURL})
	}
	return pool(DatabaseConfig{
		Host:     getEnv("DB_HOST", "localhost"),
		Port:     getEnvAsInt("DB_PORT", 5432),
		User:     getEnv("DB_USER", "grid"),
		Password: getEnv("DB_PASSWORD", ""),
		Database: getEnv("DB_NAME", "agent_safe_grid"),
		SSLMode:  getEnv("DB_SSLMODE", "disable"),
	})
}

// loadAuditDatabaseConfig loads audit DB config from DATABASE_URL_AUDIT.
// Returns nil when not set (audit uses main DB).
func loadAuditDatabaseConfig() *DatabaseConfig {
	dbURL := getEnv("DATABASE_URL_AUDIT", "")
	if dbURL == "" {
		return nil
	}
	return &DatabaseConfig{
		ConnectionString: dbURL,
		MaxOpenConns:     getEnvAsInt("DB_MAX_OPEN_CONNS", 25),
		MaxIdleConns:     getEnvAsInt("DB_MAX_IDLE_CONNS", 5),
		ConnMaxLifetime:  getEnvAsDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute),
	}
}

// Address returns the HTTP server address
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Helper functions

// getPort returns the server port from PORT or SERVER_PORT env vars (default: 8080)
func getPort() int {
	for _, key := range []string{"PORT", "SERVER_PORT"} {
		if value := os.Getenv(key); value != "" {
			if p, err := strconv.Atoi(value); err == nil {
				return p
			}
		}
	}
	return 8080
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsList splits a comma-separated value, dropping empty items
func getEnvAsList(key string, defaultValue []string) []string {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	var out []string
	for _, item := range strings.Split(valueStr, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
