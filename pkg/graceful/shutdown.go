package graceful

import (
	"context"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rail-service/deposit_watcher/pkg/logger"
)

const defaultTimeout = 30 * time.Second

// ShutdownFunc stops one component
type ShutdownFunc func(ctx context.Context) error

type hook struct {
	name string
	fn   ShutdownFunc
}

// ShutdownManager stops background components, then the HTTP server, then
// closes connections, in that order
type ShutdownManager struct {
	server  *http.Server
	hooks   []hook
	closers []hook
	timeout time.Duration
	logger  *logger.Logger
}

func NewShutdownManager(server *http.Server, logger *logger.Logger) *ShutdownManager {
	return &ShutdownManager{
		server:  server,
		timeout: defaultTimeout,
		logger:  logger,
	}
}

// Register adds a component stopped before the HTTP server
func (sm *ShutdownManager) Register(name string, fn ShutdownFunc) {
	sm.hooks = append(sm.hooks, hook{name: name, fn: fn})
}

// RegisterCloser adds a connection closed after the HTTP server
func (sm *ShutdownManager) RegisterCloser(name string, c io.Closer) {
	sm.closers = append(sm.closers, hook{name: name, fn: func(context.Context) error { return c.Close() }})
}

// WaitForShutdown blocks until SIGINT or SIGTERM, then shuts down
func (sm *ShutdownManager) WaitForShutdown() {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	ctx, cancel := context.WithTimeout(context.Background(), sm.timeout)
	defer cancel()
	sm.Shutdown(ctx)
}

// Shutdown runs every registered hook
func (sm *ShutdownManager) Shutdown(ctx context.Context) {
	sm.logger.Info("Shutting down gracefully...")

	for _, h := range sm.hooks {
		if err := h.fn(ctx); err != nil {
			sm.logger.Warn("Component shutdown error", "component", h.name, "error", err)
		}
	}

	if sm.server != nil {
		if err := sm.server.Shutdown(ctx); err != nil {
			sm.logger.Error("Server forced shutdown", "error", err)
		}
	}

	for _, c := range sm.closers {
		if err := c.fn(ctx); err != nil {
			sm.logger.Warn("Close error", "component", c.name, "error", err)
		}
	}

	sm.logger.Info("Shutdown complete")
}
