package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// HealthCheck checks one dependency
type HealthCheck func(ctx context.Context) error

// EngineStats exposes engine gauges to the health endpoint
type EngineStats interface {
	ActiveSessions() int
}

// HealthHandler handles health check endpoints
type HealthHandler struct {
	checks    map[string]HealthCheck
	engine    EngineStats
	logger    *zap.Logger
	version   string
	startTime time.Time
}

// NewHealthHandler creates a new health handler
func NewHealthHandler(checks map[string]HealthCheck, engine EngineStats, logger *zap.Logger, version string) *HealthHandler {
	return &HealthHandler{
		checks:    checks,
		engine:    engine,
		logger:    logger,
		version:   version,
		startTime: time.Now(),
	}
}

// Health reports dependency status and engine gauges
// @Summary General health check
// @Tags health
// @Produce json
// @Router /health [get]
func (h *HealthHandler) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	status := "healthy"
	checks := make(map[string]string, len(h.checks))
	for name, check := range h.checks {
		if err := check(ctx); err != nil {
			status = "unhealthy"
			checks[name] = err.Error()
			h.logger.Warn("Health check failed", zap.String("check", name), zap.Error(err))
			continue
		}
		checks[name] = "ok"
	}

	statusCode := http.StatusOK
	if status != "healthy" {
		statusCode = http.StatusServiceUnavailable
	}

	body := gin.H{
		"status":         status,
		"timestamp":      time.Now(),
		"version":        h.version,
		"uptime_seconds": int(time.Since(h.startTime).Seconds()),
		"checks":         checks,
	}
	if h.engine != nil {
		body["active_sessions"] = h.engine.ActiveSessions()
	}
	c.JSON(statusCode, body)
}

// Ping handles simple ping endpoint (no checks, always returns 200)
func (h *HealthHandler) Ping(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"time":    time.Now().Unix(),
		"version": h.version,
	})
}
