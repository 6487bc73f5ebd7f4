package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/rail-service/deposit_watcher/internal/api/handlers"
	"github.com/rail-service/deposit_watcher/internal/api/routes"
	"github.com/rail-service/deposit_watcher/internal/domain/services/deposit"
	"github.com/rail-service/deposit_watcher/internal/domain/services/monitor"
	"github.com/rail-service/deposit_watcher/internal/infrastructure/adapters/notify"
	"github.com/rail-service/deposit_watcher/internal/infrastructure/cache"
	"github.com/rail-service/deposit_watcher/internal/infrastructure/config"
	"github.com/rail-service/deposit_watcher/internal/infrastructure/database"
	"github.com/rail-service/deposit_watcher/internal/infrastructure/providers"
	"github.com/rail-service/deposit_watcher/internal/infrastructure/registry"
	"github.com/rail-service/deposit_watcher/internal/infrastructure/repositories"
	"github.com/rail-service/deposit_watcher/internal/workers/lock_sweeper"
	"github.com/rail-service/deposit_watcher/internal/workers/pending_audit"
	"github.com/rail-service/deposit_watcher/pkg/graceful"
	"github.com/rail-service/deposit_watcher/pkg/logger"
	"github.com/rail-service/deposit_watcher/pkg/tracing"
)

const version = "1.0.0"

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}

	log := logger.New(cfg.LogLevel, cfg.Environment)

	tracingShutdown, err := tracing.InitTracer(context.Background(), tracing.Config{
		Enabled:      cfg.Tracing.Enabled,
		ServiceName:  cfg.Tracing.ServiceName,
		CollectorURL: cfg.Tracing.CollectorURL,
		Environment:  cfg.Environment,
		SampleRate:   cfg.Tracing.SampleRate,
		Insecure:     cfg.Environment == "development",
	}, log.Zap())
	if err != nil {
		log.Fatal("Failed to initialize tracing", "error", err)
	}

	db, err := database.NewConnection(cfg.Database)
	if err != nil {
		log.Fatal("Failed to connect to database", "error", err)
	}
	if err := database.RunMigrations(db, cfg.Database.MigrationsPath); err != nil {
		log.Fatal("Failed to run migrations", "error", err)
	}

	redisClient, err := cache.NewRedisClient(&cfg.Redis, log.Zap())
	if err != nil {
		log.Fatal("Failed to connect to redis", "error", err)
	}

	reg, err := registry.New(cfg.Chains)
	if err != nil {
		log.Fatal("Failed to build chain registry", "error", err)
	}

	chains, err := buildChainServices(reg, cfg.Engine, log)
	if err != nil {
		log.Fatal("Failed to configure chains", "error", err)
	}

	emailService, err := notify.NewEmailService(log.Zap(), notify.EmailConfig{
		Provider:  cfg.Email.Provider,
		APIKey:    cfg.Email.APIKey,
		FromEmail: cfg.Email.FromEmail,
		FromName:  cfg.Email.FromName,
	})
	if err != nil {
		log.Fatal("Failed to create email service", "error", err)
	}

	walletRepo := repositories.NewWalletRepository(db)
	ledgerRepo := repositories.NewLedgerRepository(db)
	utxoRepo := repositories.NewUTXORepository(db)
	userRepo := repositories.NewUserRepository(db)

	store := deposit.NewRedisPendingStore(redisClient, cfg.Engine.PendingKey)
	hub := handlers.NewStreamHub(log)

	monitorCfg := monitor.DefaultConfig()
	monitorCfg.ProcessedTTL = cfg.Engine.ProcessedTTL
	monitorCfg.ProcessedCleanup = cfg.Engine.ProcessedCleanup
	monitorCfg.NativePollInterval = cfg.Engine.NativePollInterval
	monitorCfg.NativeLookback = cfg.Engine.NativeLookback
	monitorCfg.MOPollInterval = cfg.Engine.MOPollInterval
	monitorCfg.MOBlockRange = cfg.Engine.MOBlockRange
	monitorCfg.MOMaxRetries = cfg.Engine.MOMaxRetries
	monitorCfg.MOBaseBackoff = cfg.Engine.MOBaseBackoff

	engine := deposit.NewEngine(deposit.Deps{
		Store:         store,
		Registry:      reg,
		Providers:     providers.NewManager(reg, nil, providers.DefaultManagerConfig(), log),
		Wallets:       walletRepo,
		Ledger:        ledgerRepo,
		Explorers:     chains.explorers,
		UTXOWatchers:  chains.utxoWatchers,
		UTXOSet:       utxoRepo,
		WatchServices: chains.watchServices,
		Checkers:      chains.checkers,
		Notifier:      hub,
		Users:         notify.NewDepositNotifier(userRepo, emailService, log.Zap()),
		Logger:        log,
	}, deposit.Config{
		Monitor:           monitorCfg,
		VerifyInterval:    cfg.Engine.VerifyInterval,
		VerifyConcurrency: cfg.Engine.VerifyConcurrency,
		GracePeriod:       cfg.Engine.GracePeriod,
		LockTTL:           cfg.Engine.LockTTL,
	})

	ctx, cancel := context.WithCancel(context.Background())
	engine.Start(ctx)
	log.Info("Deposit engine started", "chains", reg.Chains())

	lockSweeper := lock_sweeper.NewWorker(engine.Locks(), cfg.Engine.LockSweepSchedule, log.Zap())
	if err := lockSweeper.Start(); err != nil {
		log.Fatal("Failed to start lock sweeper", "error", err)
	}

	auditWorker := pending_audit.NewWorker(store, &pending_audit.Config{
		MaxAge:        cfg.Engine.MaxPendingAge,
		CheckInterval: cfg.Engine.AuditInterval,
	}, log)
	go auditWorker.Start(ctx)

	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := routes.SetupRoutes(cfg, routes.Handlers{
		Stream: handlers.NewStreamHandler(engine, hub, cfg.Server.AllowedOrigins, log),
		Admin:  handlers.NewAdminHandler(engine.Locks(), log),
		Health: handlers.NewHealthHandler(map[string]handlers.HealthCheck{
			"database": db.PingContext,
			"redis":    redisClient.Ping,
		}, engine, log.Zap(), version),
	}, log)

	server := &http.Server{
		Addr:           fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:        router,
		ReadTimeout:    time.Duration(cfg.Server.ReadTimeout) * time.Second,
		IdleTimeout:    120 * time.Second,
		MaxHeaderBytes: 1 << 20,
	}

	go func() {
		log.Info("Starting server",
			"port", cfg.Server.Port,
			"environment", cfg.Environment,
		)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("Failed to start server", "error", err)
		}
	}()

	shutdown := graceful.NewShutdownManager(server, log)
	shutdown.Register("lock_sweeper", func(context.Context) error {
		lockSweeper.Stop()
		return nil
	})
	shutdown.Register("pending_audit", func(context.Context) error {
		auditWorker.Stop()
		return nil
	})
	shutdown.Register("deposit_engine", func(context.Context) error {
		engine.Shutdown()
		cancel()
		return nil
	})
	shutdown.Register("tracing", tracingShutdown)
	shutdown.RegisterCloser("redis", redisClient)
	shutdown.RegisterCloser("database", db)

	shutdown.WaitForShutdown()
}
