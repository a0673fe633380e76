package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Store backends.
const (
	BackendMemory   = "memory"
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
	BackendSQLite   = "sqlite"
	BackendDynamoDB = "dynamodb"
)

type Config struct {
	// Server
	Port               string   // default: 8080
	CORSAllowedOrigins []string // empty disables CORS

	// Storage
	StoreBackend string // default: memory
	UsageTable   string // default: chatgpt_usage_tracking
	OrgTable     string // default: chatgpt_organizations
	StoreBreaker bool

	PostgresDSN      string
	SQLitePath       string // default: usage-tracker.db
	DynamoDBRegion   string
	DynamoDBEndpoint string // local emulators only

	// Cache
	RedisAddr    string
	AuthCacheTTL time.Duration // default: 5m, 0 disables

	// Pricing
	PricingFile string

	// Rate Limiting
	RateLimitRPM int // requests per minute per organization, 0 admits everything

	// Logging
	LogLevel  string // default: info
	LogFormat string // "json" or "console"

	// Observability
	OTELExporterType     string // "stdout", "otlp" or "none"
	OTELExporterEndpoint string // default: "localhost:4317"

	RunSeed bool
}

func Load() (*Config, error) {
	// Load .env file if present (non-fatal if missing)
	_ = godotenv.Load()

	cfg := &Config{
		Port:                 getEnv("PORT", "8080"),
		CORSAllowedOrigins:   splitList(os.Getenv("CORS_ALLOWED_ORIGINS")),
		StoreBackend:         strings.ToLower(getEnv("STORE_BACKEND", BackendMemory)),
		UsageTable:           getEnv("USAGE_TABLE", "chatgpt_usage_tracking"),
		OrgTable:             getEnv("ORG_TABLE", "chatgpt_organizations"),
		PostgresDSN:          os.Getenv("POSTGRES_DSN"),
		SQLitePath:           getEnv("SQLITE_PATH", "usage-tracker.db"),
		DynamoDBRegion:       getEnv("DYNAMODB_REGION", os.Getenv("AWS_REGION")),
		DynamoDBEndpoint:     os.Getenv("DYNAMODB_ENDPOINT"),
		RedisAddr:            os.Getenv("REDIS_ADDR"),
		PricingFile:          os.Getenv("PRICING_FILE"),
		LogLevel:             getEnv("LOG_LEVEL", "info"),
		LogFormat:            getEnv("LOG_FORMAT", "json"),
		OTELExporterType:     getEnv("OTEL_EXPORTER_TYPE", "stdout"),
		OTELExporterEndpoint: getEnv("OTEL_EXPORTER_ENDPOINT", "localhost:4317"),
	}

	var err error
	if cfg.StoreBreaker, err = getBool("STORE_BREAKER", false); err != nil {
		return nil, err
	}
	if cfg.RunSeed, err = getBool("RUN_SEED", false); err != nil {
		return nil, err
	}

	ttl, err := time.ParseDuration(getEnv("AUTH_CACHE_TTL", "5m"))
	if err != nil || ttl < 0 {
		return nil, fmt.Errorf("invalid AUTH_CACHE_TTL: %q", os.Getenv("AUTH_CACHE_TTL"))
	}
	cfg.AuthCacheTTL = ttl

	rpm, err := strconv.Atoi(getEnv("RATE_LIMIT_RPM", "0"))
	if err != nil || rpm < 0 {
		return nil, fmt.Errorf("invalid RATE_LIMIT_RPM: %q", os.Getenv("RATE_LIMIT_RPM"))
	}
	cfg.RateLimitRPM = rpm

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// UseRedis reports whether any component needs a Redis connection.
func (c *Config) UseRedis() bool {
	return c.StoreBackend == BackendRedis || c.RateLimitRPM > 0 || (c.RedisAddr != "" && c.AuthCacheTTL > 0)
}

func (c *Config) validate() error {
	switch c.StoreBackend {
	case BackendMemory:
	case BackendRedis:
		if c.RedisAddr == "" {
			return fmt.Errorf("REDIS_ADDR is required for the redis backend")
		}
	case BackendPostgres:
		if c.PostgresDSN == "" {
			return fmt.Errorf("POSTGRES_DSN is required for the postgres backend")
		}
	case BackendSQLite:
		if c.SQLitePath == "" {
			return fmt.Errorf("SQLITE_PATH is required for the sqlite backend")
		}
	case BackendDynamoDB:
		if c.DynamoDBRegion == "" {
			return fmt.Errorf("AWS_REGION or DYNAMODB_REGION is required for the dynamodb backend")
		}
	default:
		return fmt.Errorf("unknown STORE_BACKEND %q", c.StoreBackend)
	}

	if c.RateLimitRPM > 0 && c.RedisAddr == "" {
		return fmt.Errorf("REDIS_ADDR is required when RATE_LIMIT_RPM is set")
	}
	if c.UsageTable == "" || c.OrgTable == "" {
		return fmt.Errorf("USAGE_TABLE and ORG_TABLE must not be empty")
	}

	switch c.OTELExporterType {
	case "stdout", "otlp", "none":
	default:
		return fmt.Errorf("invalid OTEL_EXPORTER_TYPE %q", c.OTELExporterType)
	}
	return nil
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getBool(key string, fallback bool) (bool, error) {
	value, ok := os.LookupEnv(key)
	if !ok || value == "" {
		return fallback, nil
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		return false, fmt.Errorf("invalid %s: %w", key, err)
	}
	return b, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
