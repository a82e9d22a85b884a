package handler

import (
	"currency-ledger/internal/adapter/http/middleware"
	redisStore "currency-ledger/internal/adapter/storage/redis"
	"currency-ledger/internal/core/ports"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// RouterDeps holds all dependencies needed to set up routes.
type RouterDeps struct {
	LedgerSvc      ports.LedgerService
	TokenSvc       ports.TokenService
	Registry       ports.CurrencyRegistry
	AdminKey       string
	RateLimitStore *redisStore.RateLimitStore // nil = rate limiting disabled
	HealthCheckers []ports.HealthChecker
	Logger         zerolog.Logger
}

// SetupRouter initialises the Gin engine with all routes and middleware.
func SetupRouter(deps RouterDeps) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()

	// Global middleware
	r.Use(middleware.Recovery(deps.Logger))
	r.Use(middleware.RequestID())
	r.Use(middleware.RequestLogger(deps.Logger))
	r.Use(middleware.MaxBodySize(1 << 20)) // 1 MB request body limit

	// Health check (deep — verifies PostgreSQL + Redis)
	r.GET("/health", HealthCheck(deps.HealthCheckers...))

	// Rate limit rules
	rules := middleware.DefaultRateLimitRules()

	// Helper: return rate limiter middleware if store is available, else noop.
	rl := func(group string) gin.HandlerFunc {
		if deps.RateLimitStore == nil {
			return func(c *gin.Context) { c.Next() }
		}
		rule, ok := rules[group]
		if !ok {
			return func(c *gin.Context) { c.Next() }
		}
		return middleware.RateLimiter(deps.RateLimitStore, group, rule, deps.Logger)
	}

	// API v1 routes
	v1 := r.Group("/api/v1")

	// --- Public routes (no auth) ---
	authHandler := NewAuthHandler(deps.TokenSvc, deps.AdminKey)
	auth := v1.Group("/auth")
	{
		auth.POST("/token", rl("auth_token"), authHandler.Token)
	}

	ledgerHandler := NewLedgerHandler(deps.LedgerSvc, deps.Registry)

	balances := v1.Group("/balances")
	{
		balances.GET("/top/:currency", rl("query"), ledgerHandler.GetTopBalances)
		balances.GET("/:user/:currency", rl("query"), ledgerHandler.GetBalance)
	}

	ledger := v1.Group("/ledger")
	{
		ledger.POST("/pay", rl("ledger"), ledgerHandler.Pay)
		ledger.GET("/history/:user/:currency", rl("query"), ledgerHandler.GetHistory)
		ledger.GET("/transactions/:user", rl("query"), ledgerHandler.GetTransactions)
		ledger.GET("/linked/:linker", rl("query"), ledgerHandler.GetLinked)
	}

	// --- Admin routes (JWT-authenticated) ---
	adminAuth := middleware.AdminAuth(deps.TokenSvc, deps.Logger)
	adminHandler := NewAdminHandler(deps.LedgerSvc)

	admin := v1.Group("/ledger", adminAuth)
	{
		admin.POST("/deposit", rl("admin"), adminHandler.Deposit)
		admin.POST("/withdraw", rl("admin"), adminHandler.Withdraw)
		admin.POST("/set", rl("admin"), adminHandler.Set)
		admin.POST("/transactions/:id/invalidate", rl("admin"), adminHandler.Invalidate)
		admin.POST("/transactions/:id/validate", rl("admin"), adminHandler.Validate)
		admin.POST("/recalculate/:user/:currency", rl("admin"), adminHandler.Recalculate)
	}

	return r
}
