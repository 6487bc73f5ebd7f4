package routes

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rail-service/deposit_watcher/internal/api/handlers"
	"github.com/rail-service/deposit_watcher/internal/api/middleware"
	"github.com/rail-service/deposit_watcher/internal/infrastructure/config"
	"github.com/rail-service/deposit_watcher/pkg/logger"
	"github.com/rail-service/deposit_watcher/pkg/tracing"
)

// Handlers groups the HTTP handlers the router mounts
type Handlers struct {
	Stream *handlers.StreamHandler
	Admin  *handlers.AdminHandler
	Health *handlers.HealthHandler
}

// SetupRoutes configures all application routes
func SetupRoutes(cfg *config.Config, h Handlers, log *logger.Logger) *gin.Engine {
	router := gin.New()

	router.Use(tracing.HTTPMiddleware())
	router.Use(middleware.RequestID())
	router.Use(middleware.Metrics())
	router.Use(middleware.RequestSizeLimit())
	router.Use(middleware.Logger(log))
	router.Use(middleware.Recovery(log))
	router.Use(middleware.CORS(cfg.Server.AllowedOrigins))
	router.Use(middleware.SecurityHeaders())

	router.GET("/health", h.Health.Health)
	router.GET("/ping", h.Health.Ping)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/api/v1")
	{
		deposits := v1.Group("/deposits")
		deposits.Use(middleware.RateLimit(cfg.Server.RateLimitPerMin))
		deposits.Use(middleware.SessionUser())
		deposits.GET("/stream", h.Stream.Stream)

		admin := v1.Group("/admin")
		admin.Use(middleware.AdminToken(cfg.Server.AdminToken))
		admin.POST("/addresses/unlock", h.Admin.UnlockAddress)
		admin.GET("/addresses/:address/lock", h.Admin.AddressLockStatus)
	}

	return router
}
