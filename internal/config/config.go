package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Env      string
	HTTPPort string

	LogLevel  string
	LogFormat string

	BackendBaseURL       string
	BackendFeaturesPath  string
	BackendUsageSyncPath string
	BackendToken         string
	BackendTimeout       time.Duration

	FlagCacheTTL      time.Duration
	EnvOverridePrefix string

	OverrideStoreDriver    string
	OverrideStoreNamespace string
	DatabaseURL            string
	RedisAddr              string
	RedisPassword          string
	RedisDB                int
	RedisPrefix            string

	JWTSecret   string
	JWTIssuer   string
	AdminRole   string
	CORSOrigins []string

	AdminRateLimitPerMinute int
	RateLimitFailureMode    string
	ShutdownTimeout         time.Duration

	OTELServiceName          string
	OTELEnvironment          string
	OTELTracingEnabled       bool
	OTELMetricsEnabled       bool
	OTELExporterOTLPEndpoint string
	OTELExporterOTLPInsecure bool
	OTELTraceSamplingRatio   float64
}

func Load() (*Config, error) {
	cfg := &Config{
		Env:                      getEnv("APP_ENV", "development"),
		HTTPPort:                 getEnv("HTTP_PORT", "8080"),
		LogLevel:                 strings.ToLower(getEnv("LOG_LEVEL", "info")),
		LogFormat:                strings.ToLower(getEnv("LOG_FORMAT", "json")),
		BackendBaseURL:           strings.TrimRight(os.Getenv("BACKEND_BASE_URL"), "/"),
		BackendFeaturesPath:      getEnv("BACKEND_FEATURES_PATH", "/api/v1/features"),
		BackendUsageSyncPath:     getEnv("BACKEND_USAGE_SYNC_PATH", "/api/v1/usage/sync-limits"),
		BackendToken:             os.Getenv("BACKEND_TOKEN"),
		EnvOverridePrefix:        getEnv("FEATURE_ENV_PREFIX", "FEATURE_"),
		OverrideStoreDriver:      strings.ToLower(getEnv("OVERRIDE_STORE_DRIVER", "memory")),
		OverrideStoreNamespace:   getEnv("OVERRIDE_STORE_NAMESPACE", "feature_flags"),
		DatabaseURL:              os.Getenv("DATABASE_URL"),
		RedisAddr:                os.Getenv("REDIS_ADDR"),
		RedisPassword:            os.Getenv("REDIS_PASSWORD"),
		RedisDB:                  getEnvInt("REDIS_DB", 0),
		RedisPrefix:              getEnv("REDIS_PREFIX", "flag_overrides"),
		JWTSecret:                os.Getenv("JWT_SECRET"),
		JWTIssuer:                getEnv("JWT_ISSUER", "labflags"),
		AdminRole:                getEnv("ADMIN_ROLE", "administrator"),
		CORSOrigins:              splitCSV(getEnv("CORS_ALLOWED_ORIGINS", "http://localhost:3000")),
		AdminRateLimitPerMinute:  getEnvInt("ADMIN_RATE_LIMIT_PER_MIN", 30),
		RateLimitFailureMode:     strings.ToLower(getEnv("RATE_LIMIT_FAILURE_MODE", "fail_open")),
		OTELServiceName:          getEnv("OTEL_SERVICE_NAME", "labflags"),
		OTELEnvironment:          getEnv("OTEL_ENVIRONMENT", "development"),
		OTELTracingEnabled:       getEnvBool("OTEL_TRACING_ENABLED", false),
		OTELMetricsEnabled:       getEnvBool("OTEL_METRICS_ENABLED", true),
		OTELExporterOTLPEndpoint: getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
		OTELExporterOTLPInsecure: getEnvBool("OTEL_EXPORTER_OTLP_INSECURE", true),
		OTELTraceSamplingRatio:   getEnvFloat("OTEL_TRACE_SAMPLING_RATIO", 1.0),
	}

	timeout, err := time.ParseDuration(getEnv("BACKEND_TIMEOUT", "10s"))
	if err != nil {
		return nil, fmt.Errorf("parse BACKEND_TIMEOUT: %w", err)
	}
	cfg.BackendTimeout = timeout

	ttl, err := time.ParseDuration(getEnv("FLAG_CACHE_TTL", "5m"))
	if err != nil {
		return nil, fmt.Errorf("parse FLAG_CACHE_TTL: %w", err)
	}
	cfg.FlagCacheTTL = ttl

	shutdown, err := time.ParseDuration(getEnv("SHUTDOWN_TIMEOUT", "15s"))
	if err != nil {
		return nil, fmt.Errorf("parse SHUTDOWN_TIMEOUT: %w", err)
	}
	cfg.ShutdownTimeout = shutdown

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	var errs []string
	if c.BackendBaseURL == "" {
		errs = append(errs, "BACKEND_BASE_URL is required")
	}
	if !strings.HasPrefix(c.BackendFeaturesPath, "/") {
		errs = append(errs, "BACKEND_FEATURES_PATH must start with /")
	}
	if !strings.HasPrefix(c.BackendUsageSyncPath, "/") {
		errs = append(errs, "BACKEND_USAGE_SYNC_PATH must start with /")
	}
	if c.BackendTimeout <= 0 || c.BackendTimeout > time.Minute {
		errs = append(errs, "BACKEND_TIMEOUT must be between 1ms and 1m")
	}
	if c.FlagCacheTTL < 0 {
		errs = append(errs, "FLAG_CACHE_TTL must be >= 0")
	}
	if c.EnvOverridePrefix == "" {
		errs = append(errs, "FEATURE_ENV_PREFIX must not be empty")
	}
	switch c.OverrideStoreDriver {
	case "none", "memory":
	case "redis":
		if c.RedisAddr == "" {
			errs = append(errs, "REDIS_ADDR is required when OVERRIDE_STORE_DRIVER=redis")
		}
	case "database":
		if c.DatabaseURL == "" {
			errs = append(errs, "DATABASE_URL is required when OVERRIDE_STORE_DRIVER=database")
		}
	default:
		errs = append(errs, "OVERRIDE_STORE_DRIVER must be one of none, memory, redis, database")
	}
	if c.OverrideStoreNamespace == "" {
		errs = append(errs, "OVERRIDE_STORE_NAMESPACE must not be empty")
	}
	if len(c.JWTSecret) < 32 {
		errs = append(errs, "JWT_SECRET must be at least 32 chars")
	}
	if c.AdminRateLimitPerMinute < 0 {
		errs = append(errs, "ADMIN_RATE_LIMIT_PER_MIN must be >= 0")
	}
	if c.RateLimitFailureMode != "fail_open" && c.RateLimitFailureMode != "fail_closed" {
		errs = append(errs, "RATE_LIMIT_FAILURE_MODE must be fail_open or fail_closed")
	}
	if c.OTELTraceSamplingRatio < 0 || c.OTELTraceSamplingRatio > 1 {
		errs = append(errs, "OTEL_TRACE_SAMPLING_RATIO must be between 0 and 1")
	}
	if len(errs) > 0 {
		return errors.New(strings.Join(errs, "; "))
	}
	return nil
}

func getEnv(key, def string) string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	return v
}

func getEnvBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func getEnvInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func getEnvFloat(key string, def float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return f
}

func splitCSV(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		trim := strings.TrimSpace(p)
		if trim != "" {
			out = append(out, trim)
		}
	}
	return out
}
