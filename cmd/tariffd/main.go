package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"

	"github.com/vnmchuo/tariff-engine/config"
	"github.com/vnmchuo/tariff-engine/internal/api"
	"github.com/vnmchuo/tariff-engine/internal/auth"
	"github.com/vnmchuo/tariff-engine/internal/billing"
	"github.com/vnmchuo/tariff-engine/internal/catalog"
	"github.com/vnmchuo/tariff-engine/internal/logger"
	"github.com/vnmchuo/tariff-engine/internal/migrate"
	"github.com/vnmchuo/tariff-engine/internal/seeder"
	"github.com/vnmchuo/tariff-engine/internal/telemetry"
	"github.com/vnmchuo/tariff-engine/pkg/ratelimit"
)

const serviceName = "tariff-engine"

func main() {
	// 1. Load config
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	zl, err := logger.New(cfg.Env, serviceName)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer func() { _ = zl.Sync() }()

	// 2. Init telemetry
	shutdownTracer, err := telemetry.InitTracer(serviceName, cfg, zl)
	if err != nil {
		zl.Fatal("failed to init tracer", zap.Error(err))
	}
	defer shutdownTracer()

	// 3. Connect PostgreSQL
	ctx := context.Background()
	if cfg.RunMigrations {
		if err := migrate.Up(ctx, cfg.PostgresDSN); err != nil {
			zl.Fatal("failed to run migrations", zap.Error(err))
		}
		zl.Info("migrations applied")
	}

	pool, err := pgxpool.New(ctx, cfg.PostgresDSN)
	if err != nil {
		zl.Fatal("failed to connect postgres", zap.Error(err))
	}
	defer pool.Close()

	if err := pool.Ping(ctx); err != nil {
		zl.Fatal("failed to ping postgres", zap.Error(err))
	}
	zl.Info("PostgreSQL connected")

	// 4. Connect Redis
	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	defer rdb.Close()

	if err := rdb.Ping(ctx).Err(); err != nil {
		zl.Fatal("failed to ping redis", zap.Error(err))
	}
	zl.Info("Redis connected")

	// 5. Init catalog
	catalogStore := catalog.NewPostgresStore(pool)
	loader, err := catalog.NewLoader(catalogStore, catalog.NewRedisCache(rdb), cfg.CatalogCacheTTL, zl)
	if err != nil {
		zl.Fatal("failed to init catalog loader", zap.Error(err))
	}
	defer loader.Close()

	// 6. Init billing
	billingStore := billing.NewPostgresStore(pool)
	billingService := billing.NewService(loader, billingStore, zl)

	// 7. Init auth
	authStore := auth.NewPostgresStore(pool)
	authMiddleware := auth.NewMiddleware(authStore, rdb, zl)

	// 8. Init rate limiter
	limiter := ratelimit.NewLimiter(rdb, cfg.RateLimitRPM)

	// 9. Init handler
	tracer := otel.GetTracerProvider().Tracer(serviceName)
	handler := api.NewHandler(billingService, loader, authStore, limiter, tracer, zl)

	// 10. Seed catalog and test operator key if RUN_SEED=true
	if os.Getenv("RUN_SEED") == "true" {
		seeder.SeedCatalog(ctx, catalogStore, zl)
		seeder.SeedTestOperatorKey(ctx, authStore, zl)
		if err := loader.Invalidate(ctx); err != nil {
			zl.Warn("failed to invalidate catalog cache after seeding", zap.Error(err))
		}
	}

	// 11. Init Chi router
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)

	// Public routes
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok","service":"tariff-engine"}`))
	})

	// Protected routes
	r.Group(func(r chi.Router) {
		r.Use(authMiddleware)
		handler.Routes(r)
	})

	// 12. Graceful shutdown
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		zl.Info("tariff engine starting", zap.String("port", cfg.Port), zap.String("env", cfg.Env))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zl.Fatal("server error", zap.Error(err))
		}
	}()

	<-quit
	zl.Info("shutting down gracefully")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		zl.Fatal("forced shutdown", zap.Error(err))
	}
	zl.Info("server stopped")
}
