package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	_ "github.com/noah-isme/sma-audit-api/api/swagger"
	"github.com/noah-isme/sma-audit-api/internal/handler"
	"github.com/noah-isme/sma-audit-api/internal/middleware"
	"github.com/noah-isme/sma-audit-api/internal/models"
	"github.com/noah-isme/sma-audit-api/internal/repository"
	"github.com/noah-isme/sma-audit-api/internal/service"
	"github.com/noah-isme/sma-audit-api/pkg/cache"
	"github.com/noah-isme/sma-audit-api/pkg/config"
	"github.com/noah-isme/sma-audit-api/pkg/database"
	"github.com/noah-isme/sma-audit-api/pkg/logger"
	corsmiddleware "github.com/noah-isme/sma-audit-api/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/sma-audit-api/pkg/middleware/requestid"
)

// @title SMA Audit API
// @version 0.1.0
// @description Audit trail and session integrity service
// @BasePath /api/v1
// @schemes http

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Sugar().Fatalw("failed to connect to postgres", "error", err)
	}
	defer db.Close()

	// Redis is optional; summaries fall back to direct queries without it.
	redisClient, err := cache.NewRedis(cfg.Redis)
	if err != nil {
		logr.Sugar().Warnw("redis unavailable, summary caching disabled", "error", err)
		redisClient = nil
	}

	auditRepo := repository.NewAuditRepository(db)
	sessionRepo := repository.NewSessionRepository(db)
	userRepo := repository.NewUserRepository(db)
	cacheRepo := repository.NewCacheRepository(redisClient, logr)
	defer cacheRepo.Close() //nolint:errcheck

	metrics := service.NewMetricsService()
	recorder := service.NewRecorderService(auditRepo, logr, metrics)
	sessions := service.NewSessionService(sessionRepo, logr, metrics)

	escalation := service.NewAuditRetryQueue(recorder, cfg.Audit, logr)
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	escalation.Start(ctx)
	defer escalation.Stop()

	security := service.NewSecurityService(userRepo, sessions, recorder, escalation, validator.New(), logr, metrics, service.SecurityConfig{
		AccessTokenSecret: cfg.JWT.Secret,
		AccessTokenExpiry: cfg.JWT.Expiration,
		Issuer:            cfg.JWT.Issuer,
		Audience:          cfg.JWT.Audience,
	})

	queries := service.NewQueryService(auditRepo, sessionRepo, cacheRepo, logr, service.QueryConfig{
		CacheTTL:    cfg.Query.CacheTTL,
		ExportLimit: cfg.Query.ExportLimit,
	})

	authHandler := handler.NewAuthHandler(security)
	auditHandler := handler.NewAuditHandler(queries)
	sessionHandler := handler.NewSessionHandler(queries, security)
	metricsHandler := handler.NewMetricsHandler(metrics)

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(metrics))

	r.GET("/health", metricsHandler.Health)
	r.GET("/ready", func(c *gin.Context) {
		if err := db.PingContext(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})
	r.GET("/metrics", metricsHandler.Prometheus)

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := r.Group(cfg.APIPrefix)

	auth := api.Group("/auth")
	auth.POST("/login", authHandler.Login)
	auth.POST("/logout", middleware.JWT(security), authHandler.Logout)
	auth.GET("/me", middleware.JWT(security), authHandler.Me)

	adminOnly := middleware.RequireRoles(models.RoleSuperAdmin, models.RoleAdmin)

	audit := api.Group("/audit", middleware.JWT(security), adminOnly)
	audit.GET("", auditHandler.List)
	audit.GET("/summary", auditHandler.Summary)
	audit.GET("/export", middleware.Audit(recorder, escalation, models.EventExported, "", "audit", "export"), auditHandler.Export)
	audit.GET("/:id", auditHandler.Get)

	sessionRoutes := api.Group("/sessions", middleware.JWT(security), adminOnly)
	sessionRoutes.GET("", sessionHandler.List)
	sessionRoutes.GET("/summary", sessionHandler.Summary)
	sessionRoutes.GET("/export", middleware.Audit(recorder, escalation, models.EventExported, "", "sessions", "export"), sessionHandler.Export)
	sessionRoutes.DELETE("/:id", sessionHandler.Terminate)

	api.GET("/metrics/summary", middleware.JWT(security), adminOnly, metricsHandler.Snapshot)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logr.Sugar().Infow("server starting", "addr", srv.Addr, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logr.Sugar().Fatalw("server failed", "error", err)
		}
	}()

	<-ctx.Done()
	logr.Sugar().Infow("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Sugar().Errorw("graceful shutdown failed", "error", err)
	}
}
