package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"currency-ledger/config"
	httpHandler "currency-ledger/internal/adapter/http/handler"
	pgStorage "currency-ledger/internal/adapter/storage/postgres"
	redisStorage "currency-ledger/internal/adapter/storage/redis"
	"currency-ledger/internal/cache"
	"currency-ledger/internal/core/ports"
	"currency-ledger/internal/registry"
	"currency-ledger/internal/service"
	"currency-ledger/pkg/logger"
)

func main() {
	// Load configuration
	cfg, err := config.Load("")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log := logger.New(cfg.Log.Level, cfg.Log.Pretty)

	log.Info().
		Str("mode", cfg.Server.Mode).
		Int("port", cfg.Server.Port).
		Msg("Starting Currency Ledger")

	ctx := context.Background()

	// Build the currency registry before touching any infrastructure;
	// a bad currency table is a config error, not a runtime one.
	reg, err := registry.New(cfg.Currencies)
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid currency configuration")
	}
	log.Info().Int("currencies", len(reg.All())).Msg("Currency registry loaded")

	// Initialize PostgreSQL pool
	pool, err := pgStorage.NewPool(ctx, cfg.Database, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer pool.Close()
	log.Info().Msg("PostgreSQL connected")

	// Apply pending schema migrations
	if err := pgStorage.RunMigrations(cfg.Database, log); err != nil {
		log.Fatal().Err(err).Msg("Failed to run migrations")
	}

	// Initialize Redis client
	rdb, err := redisStorage.NewClient(ctx, cfg.Redis, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis")
	}
	defer rdb.Close()
	log.Info().Msg("Redis connected")

	// Initialize repositories
	txRepo := pgStorage.NewTransactionRepo(pool)
	balRepo := pgStorage.NewBalanceRepo(pool)
	transactor := pgStorage.NewTransactor(pool)

	// Initialize Redis stores
	cooldownStore := redisStorage.NewCooldownStore(rdb, cfg.Ledger.RecalcCooldown)
	rateLimitStore := redisStorage.NewRateLimitStore(rdb)

	// Initialize services
	balanceCache := cache.New()
	tokenSvc := service.NewJWTTokenService(cfg.Auth.JWTSecret, cfg.Auth.Expiry, cfg.Auth.Issuer)
	ledgerSvc := service.NewLedgerService(
		txRepo,
		balRepo,
		transactor,
		reg,
		balanceCache,
		cooldownStore,
		cfg.Ledger.CascadeDelay,
		log,
	)

	// Initialize health checkers
	pgHealth := pgStorage.NewHealthCheck(pool)
	redisHealth := redisStorage.NewHealthCheck(rdb)

	// Setup Gin router with all routes
	router := httpHandler.SetupRouter(httpHandler.RouterDeps{
		LedgerSvc:      ledgerSvc,
		TokenSvc:       tokenSvc,
		Registry:       reg,
		AdminKey:       cfg.Auth.AdminKey,
		RateLimitStore: rateLimitStore,
		HealthCheckers: []ports.HealthChecker{pgHealth, redisHealth},
		Logger:         log,
	})

	// HTTP Server with graceful shutdown
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: router,
	}

	// Start server in goroutine
	go func() {
		log.Info().Str("addr", addr).Msg("HTTP server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	log.Info().Msg("Server exited")
}
