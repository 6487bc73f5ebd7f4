// Package deposit ties monitors, the pending store and the verifier into the
// deposit detection engine.
package deposit

import (
	"context"
	"fmt"
	"time"

	"github.com/rail-service/deposit_watcher/internal/domain/entities"
	domainerrors "github.com/rail-service/deposit_watcher/internal/domain/errors"
	"github.com/rail-service/deposit_watcher/internal/domain/services/decoder"
	"github.com/rail-service/deposit_watcher/internal/domain/services/monitor"
	"github.com/rail-service/deposit_watcher/pkg/logger"
)

// Registry is the full registry view the engine shares with its parts
type Registry interface {
	monitor.Registry
	decoder.TokenRegistry
}

// Deps are the engine's external collaborators
type Deps struct {
	Store         PendingStore
	Registry      Registry
	Providers     monitor.ProviderSource
	Wallets       monitor.WalletFinder
	Ledger        LedgerCreditor
	Explorers     map[string]monitor.Explorer
	UTXOWatchers  map[string]monitor.AddressWatcher
	UTXOSet       monitor.UTXORecorder
	WatchServices map[string]monitor.WatchService
	Checkers      map[string]ConfirmationChecker
	Notifier      SessionNotifier
	Users         UserNotifier
	Clock         Clock
	Logger        *logger.Logger
}

// Config tunes the engine
type Config struct {
	Monitor           monitor.Config
	VerifyInterval    time.Duration
	VerifyConcurrency int
	GracePeriod       time.Duration
	LockTTL           time.Duration
}

// DefaultConfig returns production settings
func DefaultConfig() Config {
	return Config{
		Monitor:           monitor.DefaultConfig(),
		VerifyInterval:    10 * time.Second,
		VerifyConcurrency: 5,
		GracePeriod:       10 * time.Minute,
		LockTTL:           time.Duration(entities.AddressLockExpiryHours) * time.Hour,
	}
}

// Engine is the deposit detection and confirmation engine
type Engine struct {
	store     PendingStore
	registry  Registry
	wallets   monitor.WalletFinder
	locks     *LockRegistry
	lifecycle *Lifecycle
	verifier  *Verifier
	log       *logger.Logger
}

// NewEngine wires the engine. The engine is the sink every monitor submits to.
func NewEngine(deps Deps, cfg Config) *Engine {
	log := deps.Logger.With("component", "deposit_engine")
	e := &Engine{
		store:    deps.Store,
		registry: deps.Registry,
		wallets:  deps.Wallets,
		locks:    NewLockRegistry(cfg.LockTTL),
		log:      log,
	}

	monitorDeps := monitor.Deps{
		Registry:      deps.Registry,
		Providers:     deps.Providers,
		Decoder:       decoder.New(deps.Registry),
		Wallets:       deps.Wallets,
		Sink:          e,
		Explorers:     deps.Explorers,
		UTXOWatchers:  deps.UTXOWatchers,
		UTXOSet:       deps.UTXOSet,
		WatchServices: deps.WatchServices,
		Logger:        deps.Logger,
	}
	factory := func(req entities.WatchRequest) (monitor.Monitor, error) {
		return monitor.New(req, monitorDeps, cfg.Monitor)
	}
	e.lifecycle = NewLifecycle(factory, cfg.GracePeriod, deps.Clock, log)

	e.verifier = NewVerifier(VerifierDeps{
		Store:         deps.Store,
		Registry:      deps.Registry,
		Providers:     deps.Providers,
		Ledger:        deps.Ledger,
		Locks:         e.locks,
		Sessions:      e.lifecycle,
		Notifier:      deps.Notifier,
		Users:         deps.Users,
		Checkers:      deps.Checkers,
		WatchServices: deps.WatchServices,
		Logger:        deps.Logger,
	}, cfg.VerifyInterval, cfg.VerifyConcurrency)

	return e
}

// Start launches the verifier loop
func (e *Engine) Start(ctx context.Context) {
	e.verifier.Start(ctx)
}

// Watch connects a session to the monitor for req's (user, chain). The
// watched address must hold the requested currency's wallet of the user.
func (e *Engine) Watch(ctx context.Context, req entities.WatchRequest) error {
	token, err := e.registry.GetToken(req.Chain, req.Currency)
	if err != nil {
		return err
	}
	wallet, err := monitor.OwnedWallet(ctx, e.wallets, req.UserID, token.Chain, token.Currency, req.Address)
	if err != nil {
		return fmt.Errorf("check address ownership: %w", err)
	}
	if wallet == nil {
		e.log.Warn("Rejected watch of address not owned by user",
			"user_id", req.UserID, "chain", req.Chain, "address", req.Address)
		return domainerrors.AddressNotOwnedError(req.Chain, req.Currency, req.Address)
	}
	_, err = e.lifecycle.Connect(ctx, req)
	return err
}

// Release disconnects a session
func (e *Engine) Release(key entities.MonitorKey) {
	e.lifecycle.Disconnect(key)
}

// Submit stores a detected candidate. Deposits that must later be swept
// from the address lock it until they are credited.
func (e *Engine) Submit(ctx context.Context, entry *entities.PendingEntry) error {
	if err := e.store.Put(ctx, entry); err != nil {
		return err
	}
	if entry.Detail.ContractCall == entities.ContractCallNoPermit {
		e.locks.Lock(entry.Detail.Address)
	}
	return nil
}

// Sweep runs one verifier pass
func (e *Engine) Sweep(ctx context.Context) (int, error) {
	return e.verifier.Sweep(ctx)
}

// Locks exposes the address lock registry
func (e *Engine) Locks() *LockRegistry {
	return e.locks
}

// Pending lists the current pending entries
func (e *Engine) Pending(ctx context.Context) ([]*entities.PendingEntry, error) {
	return e.store.List(ctx)
}

// ActiveSessions returns the number of connected sessions
func (e *Engine) ActiveSessions() int {
	return e.lifecycle.ActiveSessions()
}

// Shutdown stops the verifier and every monitor
func (e *Engine) Shutdown() {
	e.verifier.Stop()
	e.lifecycle.Shutdown()
	e.log.Info("Deposit engine stopped")
}
