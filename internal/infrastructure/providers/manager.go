// Package providers owns one chain connection handle per EVM-family chain.
package providers

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"

	domainerrors "github.com/rail-service/deposit_watcher/internal/domain/errors"
	"github.com/rail-service/deposit_watcher/internal/infrastructure/config"
	"github.com/rail-service/deposit_watcher/pkg/logger"
	"github.com/rail-service/deposit_watcher/pkg/metrics"
	"github.com/rail-service/deposit_watcher/pkg/retry"
)

// EVMClient is the subset of go-ethereum's ethclient used by monitors and the verifier
type EVMClient interface {
	TransactionByHash(ctx context.Context, hash common.Hash) (*types.Transaction, bool, error)
	TransactionReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error)
	SubscribeFilterLogs(ctx context.Context, q ethereum.FilterQuery, ch chan<- types.Log) (ethereum.Subscription, error)
	FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error)
	BlockNumber(ctx context.Context) (uint64, error)
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
	Close()
}

// Dialer opens a client for url
type Dialer func(ctx context.Context, url string) (EVMClient, error)

// DialEthclient dials with go-ethereum's ethclient
func DialEthclient(ctx context.Context, url string) (EVMClient, error) {
	client, err := ethclient.DialContext(ctx, url)
	if err != nil {
		return nil, err
	}
	return client, nil
}

// EndpointSource resolves chain connection settings
type EndpointSource interface {
	Endpoints(chain string) (config.ChainConfig, bool)
}

// Handle is a shared, read-only connection to one chain. It may go stale;
// callers that see an operation fail should Invalidate the handle they used
// and request a new one.
type Handle struct {
	Chain     string
	Client    EVMClient
	Streaming bool
	CreatedAt time.Time
}

func (h *Handle) transport() string {
	if h.Streaming {
		return "ws"
	}
	return "http"
}

// ManagerConfig configures dialing
type ManagerConfig struct {
	DialTimeout time.Duration
	DialRetries int
	RetryDelay  time.Duration
	// RetireAfter is how long an invalidated client stays open for holders
	// still reading from it
	RetireAfter time.Duration
}

// DefaultManagerConfig returns the default dialing configuration
func DefaultManagerConfig() ManagerConfig {
	return ManagerConfig{
		DialTimeout: 10 * time.Second,
		DialRetries: 2,
		RetryDelay:  500 * time.Millisecond,
		RetireAfter: 2 * time.Minute,
	}
}

// Manager caches one Handle per chain
type Manager struct {
	mu        sync.Mutex
	handles   map[string]*Handle
	retired   map[*Handle]*time.Timer
	endpoints EndpointSource
	dial      Dialer
	config    ManagerConfig
	logger    *logger.Logger
}

// NewManager creates a provider manager. A nil dialer uses ethclient.
func NewManager(endpoints EndpointSource, dial Dialer, cfg ManagerConfig, log *logger.Logger) *Manager {
	if dial == nil {
		dial = DialEthclient
	}
	return &Manager{
		handles:   make(map[string]*Handle),
		retired:   make(map[*Handle]*time.Timer),
		endpoints: endpoints,
		dial:      dial,
		config:    cfg,
		logger:    log,
	}
}

// GetOrCreate returns the cached handle for chain or establishes a new one,
// trying the websocket endpoint before the HTTP endpoint.
func (m *Manager) GetOrCreate(ctx context.Context, chain string) (*Handle, error) {
	chain = strings.ToLower(chain)

	m.mu.Lock()
	defer m.mu.Unlock()

	if h, ok := m.handles[chain]; ok {
		return h, nil
	}

	cc, ok := m.endpoints.Endpoints(chain)
	if !ok {
		return nil, domainerrors.UnsupportedChainError(chain)
	}

	policy := retry.ExponentialPolicy(m.config.RetryDelay, m.config.DialRetries)
	var handle *Handle
	err := retry.Do(ctx, policy, m.logger.Zap(), func(ctx context.Context) error {
		h, err := m.connect(ctx, chain, cc)
		if err != nil {
			return err
		}
		handle = h
		return nil
	})
	if err != nil {
		m.logger.Error("Provider unavailable", "chain", chain, "error", err)
		return nil, domainerrors.ProviderUnavailableError(chain, err)
	}

	m.handles[chain] = handle
	metrics.ProviderHandles.WithLabelValues(chain, handle.transport()).Inc()
	m.logger.Info("Provider connected", "chain", chain, "transport", handle.transport())
	return handle, nil
}

func (m *Manager) connect(ctx context.Context, chain string, cc config.ChainConfig) (*Handle, error) {
	var lastErr error

	candidates := []struct {
		url       string
		streaming bool
	}{
		{cc.WebSocket, true},
		{cc.RPC, false},
	}

	for _, c := range candidates {
		if c.url == "" {
			continue
		}
		client, err := m.dialAndPing(ctx, c.url)
		if err != nil {
			m.logger.Warn("Provider dial failed", "chain", chain, "streaming", c.streaming, "error", err)
			lastErr = err
			continue
		}
		return &Handle{
			Chain:     chain,
			Client:    client,
			Streaming: c.streaming,
			CreatedAt: time.Now(),
		}, nil
	}

	if lastErr == nil {
		lastErr = fmt.Errorf("no endpoints configured for %s", chain)
	}
	return nil, lastErr
}

func (m *Manager) dialAndPing(ctx context.Context, url string) (EVMClient, error) {
	ctx, cancel := context.WithTimeout(ctx, m.config.DialTimeout)
	defer cancel()

	client, err := m.dial(ctx, url)
	if err != nil {
		return nil, err
	}
	if _, err := client.BlockNumber(ctx); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}
	return client, nil
}

// Invalidate drops h from the cache so the next GetOrCreate redials. It is a
// no-op when h is no longer the cached handle for chain. The client is not
// closed right away: other monitors may still hold subscriptions on it, so it
// is closed after RetireAfter or on Close.
func (m *Manager) Invalidate(chain string, h *Handle) {
	if h == nil {
		return
	}
	chain = strings.ToLower(chain)

	m.mu.Lock()
	defer m.mu.Unlock()

	if cur, ok := m.handles[chain]; !ok || cur != h {
		return
	}
	delete(m.handles, chain)
	metrics.ProviderHandles.WithLabelValues(chain, h.transport()).Dec()

	if m.config.RetireAfter <= 0 {
		h.Client.Close()
	} else {
		m.retired[h] = time.AfterFunc(m.config.RetireAfter, func() { m.closeRetired(h) })
	}
	m.logger.Info("Provider handle invalidated", "chain", chain, "transport", h.transport())
}

func (m *Manager) closeRetired(h *Handle) {
	m.mu.Lock()
	_, ok := m.retired[h]
	delete(m.retired, h)
	m.mu.Unlock()

	if ok {
		h.Client.Close()
	}
}

// Status reports the transport of every cached handle
func (m *Manager) Status() map[string]string {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make(map[string]string, len(m.handles))
	for chain, h := range m.handles {
		out[chain] = h.transport()
	}
	return out
}

// Close closes every cached and retired handle
func (m *Manager) Close() {
	m.mu.Lock()
	handles := m.handles
	retired := m.retired
	m.handles = make(map[string]*Handle)
	m.retired = make(map[*Handle]*time.Timer)
	m.mu.Unlock()

	for chain, h := range handles {
		metrics.ProviderHandles.WithLabelValues(chain, h.transport()).Dec()
		h.Client.Close()
	}
	for h, timer := range retired {
		timer.Stop()
		h.Client.Close()
	}
}
