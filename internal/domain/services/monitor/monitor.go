// Package monitor implements per (user, chain) deposit watchers.
package monitor

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rail-service/deposit_watcher/internal/domain/entities"
	domainerrors "github.com/rail-service/deposit_watcher/internal/domain/errors"
	"github.com/rail-service/deposit_watcher/internal/domain/services/decoder"
	"github.com/rail-service/deposit_watcher/internal/infrastructure/providers"
	"github.com/rail-service/deposit_watcher/pkg/logger"
	"github.com/rail-service/deposit_watcher/pkg/metrics"
)

// Monitor watches one (user, chain) pair for incoming deposits
type Monitor interface {
	// Start returns once the initial subscription or poll is armed
	Start(ctx context.Context) error
	// Stop releases every timer and subscription. Safe to call repeatedly.
	Stop()
	Active() bool
	Key() entities.MonitorKey
}

// Sink accepts detected candidates
type Sink interface {
	Submit(ctx context.Context, entry *entities.PendingEntry) error
}

// WalletFinder resolves the wallet holding a currency at an address
type WalletFinder interface {
	FindWallet(ctx context.Context, chain, currency, address string) (*entities.Wallet, error)
}

// OwnedWallet returns the wallet holding currency at address on chain when it
// belongs to userID, and nil otherwise.
func OwnedWallet(ctx context.Context, wallets WalletFinder, userID, chain, currency, address string) (*entities.Wallet, error) {
	wallet, err := wallets.FindWallet(ctx, chain, currency, address)
	if err != nil || wallet == nil {
		return nil, err
	}
	if wallet.UserID != userID || !entities.EqualAddress(wallet.Address, address) {
		return nil, nil
	}
	return wallet, nil
}

// Registry resolves chain and token metadata
type Registry interface {
	GetChainConfig(chain string) (entities.ChainConfig, error)
	GetToken(chain, currency string) (entities.Token, error)
	TokenByContract(chain, address string) (entities.Token, bool)
	Tokens(chain string) []entities.Token
}

// ProviderSource hands out chain connection handles. Invalidate drops h only
// while it is still the cached handle for chain.
type ProviderSource interface {
	GetOrCreate(ctx context.Context, chain string) (*providers.Handle, error)
	Invalidate(chain string, h *providers.Handle)
}

// Explorer lists recent native-coin transactions of an address
type Explorer interface {
	NativeTransactions(ctx context.Context, address string) ([]entities.NativeTransfer, error)
}

// AddressWatcher is a push address-watch service for UTXO chains
type AddressWatcher interface {
	WatchAddress(ctx context.Context, address string, cb func(entities.UTXONotification)) (func(), error)
}

// UTXORecorder stores outputs paying watched addresses
type UTXORecorder interface {
	RecordOutput(ctx context.Context, utxo *entities.UTXO) error
}

// WatchService is a chain SDK service that polls on its own and reports
// transfers with a status already attached
type WatchService interface {
	Watch(ctx context.Context, address string, cb func(entities.ChainTransfer)) (func(), error)
	GetBalance(ctx context.Context, address, currency string) (*big.Int, error)
}

// Deps are the collaborators shared by every monitor
type Deps struct {
	Registry      Registry
	Providers     ProviderSource
	Decoder       *decoder.Decoder
	Wallets       WalletFinder
	Sink          Sink
	Explorers     map[string]Explorer
	UTXOWatchers  map[string]AddressWatcher
	UTXOSet       UTXORecorder
	WatchServices map[string]WatchService
	Logger        *logger.Logger
}

// Config tunes monitor timers
type Config struct {
	ProcessedTTL       time.Duration
	ProcessedCleanup   time.Duration
	NativePollInterval time.Duration
	NativeLookback     time.Duration
	LogPollInterval    time.Duration
	MOPollInterval     time.Duration
	MOBlockRange       uint64
	MOMaxRetries       int
	MOBaseBackoff      time.Duration
}

// DefaultConfig returns production timer settings
func DefaultConfig() Config {
	return Config{
		ProcessedTTL:       time.Duration(entities.ProcessedTxExpiryMinutes) * time.Minute,
		ProcessedCleanup:   time.Minute,
		NativePollInterval: 15 * time.Second,
		NativeLookback:     10 * time.Minute,
		LogPollInterval:    15 * time.Second,
		MOPollInterval:     10 * time.Second,
		MOBlockRange:       5000,
		MOMaxRetries:       5,
		MOBaseBackoff:      time.Second,
	}
}

// New builds the monitor variant for the request's chain family
func New(req entities.WatchRequest, deps Deps, cfg Config) (Monitor, error) {
	chainCfg, err := deps.Registry.GetChainConfig(req.Chain)
	if err != nil {
		return nil, err
	}

	b := newBase(req, chainCfg, deps, cfg)

	switch chainCfg.Family {
	case entities.ChainFamilyEVM:
		return newEVMMonitor(b), nil
	case entities.ChainFamilyUTXO:
		watcher, ok := deps.UTXOWatchers[chainCfg.Name]
		if !ok {
			return nil, fmt.Errorf("no address watcher configured for %s", chainCfg.Name)
		}
		return newUTXOMonitor(b, watcher), nil
	case entities.ChainFamilySolana, entities.ChainFamilyTron, entities.ChainFamilyMonero, entities.ChainFamilyTon:
		svc, ok := deps.WatchServices[chainCfg.Name]
		if !ok {
			return nil, fmt.Errorf("no watch service configured for %s", chainCfg.Name)
		}
		return newSDKMonitor(b, svc), nil
	case entities.ChainFamilyMO:
		return newMOMonitor(b), nil
	default:
		return nil, domainerrors.UnsupportedChainError(req.Chain)
	}
}

// base holds the lifecycle plumbing every variant shares
type base struct {
	req   entities.WatchRequest
	chain entities.ChainConfig
	deps  Deps
	cfg   Config
	log   *logger.Logger

	mu       sync.Mutex
	ctx      context.Context
	cancel   context.CancelFunc
	cleanups []func()
	started  bool

	stopOnce  sync.Once
	stopped   atomic.Bool
	stopCalls atomic.Int32
}

func newBase(req entities.WatchRequest, chain entities.ChainConfig, deps Deps, cfg Config) *base {
	return &base{
		req:   req,
		chain: chain,
		deps:  deps,
		cfg:   cfg,
		log:   deps.Logger.With("user_id", req.UserID, "chain", chain.Name, "address", req.Address),
	}
}

// arm creates the monitor's run context. The run context outlives ctx's
// cancellation so a monitor survives the request that created it.
func (b *base) arm(ctx context.Context) (context.Context, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.stopped.Load() {
		return nil, domainerrors.ErrMonitorStopped
	}
	if b.started {
		return nil, fmt.Errorf("monitor %s already started", b.Key())
	}
	b.ctx, b.cancel = context.WithCancel(context.WithoutCancel(ctx))
	b.started = true
	metrics.ActiveMonitors.WithLabelValues(b.chain.Name).Inc()
	return b.ctx, nil
}

// onStop registers a release func run by Stop
func (b *base) onStop(fn func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.cleanups = append(b.cleanups, fn)
}

// every runs fn on a ticker until the monitor stops
func (b *base) every(ctx context.Context, interval time.Duration, fn func(ctx context.Context)) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				fn(ctx)
			}
		}
	}()
}

// startCleanup arms the expiry timer of a processed cache
func (b *base) startCleanup(ctx context.Context, cache *ProcessedTxCache) {
	b.every(ctx, b.cfg.ProcessedCleanup, func(context.Context) { cache.Cleanup() })
}

func (b *base) Stop() {
	b.stopOnce.Do(func() {
		b.stopCalls.Add(1)
		b.stopped.Store(true)

		b.mu.Lock()
		cancel := b.cancel
		cleanups := b.cleanups
		b.cleanups = nil
		started := b.started
		b.mu.Unlock()

		if cancel != nil {
			cancel()
		}
		for _, fn := range cleanups {
			fn()
		}
		if started {
			metrics.ActiveMonitors.WithLabelValues(b.chain.Name).Dec()
		}
		b.log.Info("Deposit monitor stopped")
	})
}

func (b *base) Active() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.started && !b.stopped.Load()
}

func (b *base) Key() entities.MonitorKey {
	return b.req.Key()
}

// submit attaches wallet ownership to detail and hands it to the sink. A
// detail is ignored unless it pays the watched address and that address
// holds a wallet of the watching user for the detected currency.
func (b *base) submit(ctx context.Context, detail *entities.TransactionDetail, status entities.PendingStatus) error {
	if detail.To != "" && !entities.EqualAddress(detail.To, b.req.Address) {
		b.log.Warn("Transfer does not pay the watched address, ignoring", "hash", detail.Hash, "to", detail.To)
		return nil
	}
	wallet, err := OwnedWallet(ctx, b.deps.Wallets, b.req.UserID, detail.Chain, detail.Currency, b.req.Address)
	if err != nil {
		return fmt.Errorf("find wallet: %w", err)
	}
	if wallet == nil {
		b.log.Warn("Watched address holds no wallet of the user for detected currency, ignoring",
			"hash", detail.Hash, "currency", detail.Currency)
		return nil
	}

	detail.WalletID = wallet.ID.String()
	detail.UserID = wallet.UserID
	detail.Address = b.req.Address

	entry := entities.NewPendingEntry(*detail, status, time.Now().UTC())
	if err := b.deps.Sink.Submit(ctx, entry); err != nil {
		return fmt.Errorf("submit pending entry: %w", err)
	}

	metrics.DepositsDetected.WithLabelValues(detail.Chain, string(detail.ContractCall)).Inc()
	b.log.Info("Deposit candidate detected",
		"hash", detail.Hash,
		"amount", detail.Amount,
		"currency", detail.Currency,
		"status", status)
	return nil
}

// handleOnce claims hash in cache, runs fn, and releases the claim when fn
// fails so a later observation retries.
func (b *base) handleOnce(cache *ProcessedTxCache, hash string, fn func() error) {
	if !cache.MarkProcessed(hash) {
		return
	}
	if err := fn(); err != nil {
		if domainerrors.IsDecodeFailure(err) {
			b.log.Warn("Dropping undecodable transaction", "hash", hash, "error", err)
			return
		}
		cache.Forget(hash)
		b.log.Warn("Failed to handle transaction, will retry on next observation", "hash", hash, "error", err)
	}
}
