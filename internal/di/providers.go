package di

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/wire"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/sandeepkv93/labflags/internal/app"
	"github.com/sandeepkv93/labflags/internal/backend"
	"github.com/sandeepkv93/labflags/internal/config"
	"github.com/sandeepkv93/labflags/internal/database"
	"github.com/sandeepkv93/labflags/internal/http/handler"
	"github.com/sandeepkv93/labflags/internal/http/middleware"
	"github.com/sandeepkv93/labflags/internal/http/router"
	"github.com/sandeepkv93/labflags/internal/observability"
	"github.com/sandeepkv93/labflags/internal/repository"
	"github.com/sandeepkv93/labflags/internal/security"
	"github.com/sandeepkv93/labflags/internal/service"
)

var ConfigSet = wire.NewSet(config.Load)

var ObservabilitySet = wire.NewSet(provideLogger, provideRuntime)

var RuntimeInfraSet = wire.NewSet(provideRedisClient, provideOpenDB)

var RepositorySet = wire.NewSet(provideFlagOverrideRepository)

var SecuritySet = wire.NewSet(provideJWTManager)

var ServiceSet = wire.NewSet(
	provideBackendClient,
	provideOverrideStore,
	provideFeatureFlagResolver,
	wire.Bind(new(handler.FlagResolver), new(*service.FeatureFlagResolver)),
)

var HTTPSet = wire.NewSet(
	handler.NewFeatureFlagHandler,
	provideAdminRateLimiter,
	provideRouterDependencies,
	router.NewRouter,
	provideHTTPServer,
)

var AppSet = wire.NewSet(app.New)

func provideLogger(cfg *config.Config) *slog.Logger {
	logger := observability.NewLogger(cfg)
	slog.SetDefault(logger)
	return logger
}

func provideRuntime(cfg *config.Config, logger *slog.Logger) (*observability.Runtime, func(), error) {
	rt, err := observability.InitRuntime(context.Background(), cfg, logger)
	if err != nil {
		return nil, nil, err
	}
	cleanup := func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := rt.Shutdown(ctx); err != nil {
			logger.Warn("observability shutdown failed", "error", err)
		}
	}
	return rt, cleanup, nil
}

// provideRedisClient returns a nil client when REDIS_ADDR is unset.
func provideRedisClient(cfg *config.Config) (redis.UniversalClient, func(), error) {
	if cfg.RedisAddr == "" {
		return nil, func() {}, nil
	}
	client := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:    []string{cfg.RedisAddr},
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, func() { _ = client.Close() }, nil
}

// provideOpenDB returns a nil handle when DATABASE_URL is unset.
func provideOpenDB(cfg *config.Config) (*gorm.DB, func(), error) {
	return openMigratedDB(cfg, database.Migrate)
}

func openMigratedDB(cfg *config.Config, migrate func(*gorm.DB) error) (*gorm.DB, func(), error) {
	if cfg.DatabaseURL == "" {
		return nil, func() {}, nil
	}
	db, err := database.Open(cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("open database: %w", err)
	}
	cleanup := func() { closeDB(db) }
	if err := migrate(db); err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("migrate database: %w", err)
	}
	return db, cleanup, nil
}

func closeDB(db *gorm.DB) {
	if sqlDB, err := db.DB(); err == nil {
		_ = sqlDB.Close()
	}
}

func provideFlagOverrideRepository(db *gorm.DB) repository.FlagOverrideRepository {
	if db == nil {
		return nil
	}
	return repository.NewFlagOverrideRepository(db)
}

func provideJWTManager(cfg *config.Config) *security.JWTManager {
	return security.NewJWTManager(cfg.JWTIssuer, cfg.JWTSecret)
}

// provideBackendClient returns nil when BACKEND_BASE_URL is unset; the resolver then runs on defaults
// and environment overrides only.
func provideBackendClient(cfg *config.Config) backend.Client {
	if cfg.BackendBaseURL == "" {
		return nil
	}
	return backend.NewHTTPClient(backend.Options{
		BaseURL:       cfg.BackendBaseURL,
		FeaturesPath:  cfg.BackendFeaturesPath,
		UsageSyncPath: cfg.BackendUsageSyncPath,
		Token:         cfg.BackendToken,
		Timeout:       cfg.BackendTimeout,
	})
}

func provideOverrideStore(cfg *config.Config, client redis.UniversalClient, repo repository.FlagOverrideRepository) (service.OverrideStore, error) {
	switch cfg.OverrideStoreDriver {
	case "none":
		return service.NewNoopOverrideStore(), nil
	case "memory", "":
		return service.NewInMemoryOverrideStore(), nil
	case "redis":
		if client == nil {
			return nil, fmt.Errorf("override store redis: REDIS_ADDR is not configured")
		}
		return service.NewRedisOverrideStore(client, cfg.RedisPrefix, cfg.OverrideStoreNamespace), nil
	case "database":
		if repo == nil {
			return nil, fmt.Errorf("override store database: DATABASE_URL is not configured")
		}
		return service.NewDBOverrideStore(repo, cfg.OverrideStoreNamespace), nil
	default:
		return nil, fmt.Errorf("unknown override store driver %q", cfg.OverrideStoreDriver)
	}
}

func provideFeatureFlagResolver(cfg *config.Config, client backend.Client, store service.OverrideStore, logger *slog.Logger) *service.FeatureFlagResolver {
	return service.NewFeatureFlagResolver(service.FeatureFlagResolverOptions{
		Client:    client,
		Store:     store,
		Logger:    logger.With("component", "feature_flags"),
		CacheTTL:  cfg.FlagCacheTTL,
		EnvPrefix: cfg.EnvOverridePrefix,
	})
}

// provideAdminRateLimiter shares counters through redis when it is available.
func provideAdminRateLimiter(cfg *config.Config, client redis.UniversalClient) *middleware.RateLimiter {
	var limiter middleware.Limiter
	if client != nil {
		limiter = middleware.NewRedisFixedWindowLimiter(client, "rl")
	}
	return middleware.NewRateLimiter(limiter, cfg.AdminRateLimitPerMinute, time.Minute, middleware.FailureMode(cfg.RateLimitFailureMode), "admin")
}

func provideRouterDependencies(
	flagHandler *handler.FeatureFlagHandler,
	jwtMgr *security.JWTManager,
	limiter *middleware.RateLimiter,
	rt *observability.Runtime,
	cfg *config.Config,
) router.Dependencies {
	var metrics http.Handler
	if rt != nil && cfg.OTELMetricsEnabled {
		metrics = observability.MetricsHandler(rt.Registry)
	}
	return router.Dependencies{
		FeatureFlagHandler: flagHandler,
		JWTManager:         jwtMgr,
		AdminRole:          cfg.AdminRole,
		AdminRateLimiter:   limiter,
		MetricsHandler:     metrics,
		CORSOrigins:        cfg.CORSOrigins,
	}
}

func provideHTTPServer(cfg *config.Config, h http.Handler) *http.Server {
	return &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           h,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}
