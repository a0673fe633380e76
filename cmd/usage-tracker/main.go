package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"

	"github.com/vnmchuo/usage-tracker/config"
	"github.com/vnmchuo/usage-tracker/internal/api"
	"github.com/vnmchuo/usage-tracker/internal/auth"
	"github.com/vnmchuo/usage-tracker/internal/billing"
	"github.com/vnmchuo/usage-tracker/internal/logging"
	"github.com/vnmchuo/usage-tracker/internal/org"
	"github.com/vnmchuo/usage-tracker/internal/pricing"
	"github.com/vnmchuo/usage-tracker/internal/seeder"
	"github.com/vnmchuo/usage-tracker/internal/telemetry"
	"github.com/vnmchuo/usage-tracker/pkg/ratelimit"
)

const serviceName = "usage-tracker"

func main() {
	// 1. Load config
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	// 2. Init logger
	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	// 3. Init telemetry
	shutdownTracer, err := telemetry.InitTracer(serviceName, cfg, logger)
	if err != nil {
		logger.Fatal("failed to init tracer", zap.Error(err))
	}
	defer shutdownTracer()
	tracer := otel.GetTracerProvider().Tracer(serviceName)

	// 4. Connect Redis
	ctx := context.Background()
	var rdb *redis.Client
	if cfg.UseRedis() {
		rdb = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer rdb.Close()

		if err := rdb.Ping(ctx).Err(); err != nil {
			logger.Fatal("failed to ping redis", zap.Error(err))
		}
		logger.Info("Redis connected")
	}

	// 5. Open tables
	tbls, err := openTables(ctx, cfg, rdb, logger)
	if err != nil {
		logger.Fatal("failed to open store", zap.String("backend", cfg.StoreBackend), zap.Error(err))
	}
	defer tbls.close()

	// 6. Init pricing
	prices := pricing.Default()
	if cfg.PricingFile != "" {
		if prices, err = pricing.LoadFile(prices, cfg.PricingFile); err != nil {
			logger.Fatal("failed to load pricing", zap.Error(err))
		}
	}
	logger.Info("pricing loaded", zap.Strings("models", prices.Models()))

	// 7. Init organization directory and authorizer
	var dir org.Directory = org.NewKVDirectory(tbls.orgs)
	if rdb != nil && cfg.AuthCacheTTL > 0 {
		dir = org.NewCachedDirectory(dir, rdb, cfg.AuthCacheTTL, logger)
	}
	authz := auth.NewAuthorizer(dir, logger)

	// 8. Init admission policy
	var policy ratelimit.Policy = ratelimit.AllowAll{}
	if cfg.RateLimitRPM > 0 {
		policy = ratelimit.NewLimiter(rdb, cfg.RateLimitRPM, logger)
	}

	// 9. Init services
	usage := billing.NewKVStore(tbls.usage)
	recorder := billing.NewRecorder(usage, prices, authz, policy, logger, tracer)
	aggregator := billing.NewAggregator(usage, authz, logger, tracer)
	manager := org.NewManager(dir, usage, logger, tracer)

	// 10. Seed development organization if RUN_SEED=true
	if cfg.RunSeed {
		if err := seeder.SeedTestOrganization(ctx, dir, logger); err != nil {
			logger.Error("failed to seed organization", zap.Error(err))
		}
	}

	// 11. Init router
	handler := api.NewHandler(recorder, aggregator, manager, logger)
	r := api.NewRouter(handler, api.RouterOptions{
		AllowedOrigins: cfg.CORSAllowedOrigins,
		AccessLog:      true,
	})

	// 12. Graceful shutdown
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		logger.Info("usage tracker starting",
			zap.String("port", cfg.Port),
			zap.String("backend", cfg.StoreBackend),
		)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	<-quit
	logger.Info("shutting down gracefully")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("forced shutdown", zap.Error(err))
		return
	}
	logger.Info("server stopped")
}
