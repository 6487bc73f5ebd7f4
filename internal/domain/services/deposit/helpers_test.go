package deposit

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/ethereum/go-ethereum/common"
	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/mock"
	"go.uber.org/zap"

	"github.com/rail-service/deposit_watcher/internal/domain/entities"
	domainerrors "github.com/rail-service/deposit_watcher/internal/domain/errors"
	"github.com/rail-service/deposit_watcher/internal/infrastructure/cache"
	"github.com/rail-service/deposit_watcher/internal/infrastructure/providers"
	"github.com/rail-service/deposit_watcher/internal/infrastructure/providers/providertest"
)

const (
	testUser    = "user-1"
	otherUser   = "user-2"
	watchAddr   = "0x00000000000000000000000000000000000000bb"
	foreignAddr = "0x00000000000000000000000000000000000000dd"
	btcAddr     = "bc1qar0srrr7xfkvy5l643lydnw9re59gtzzwf5mdq"
	tronAddr    = "TJRabPrwbZy45sbavfcjinPJC18kjpRTv8"
)

var usdtContract = common.HexToAddress("0x00000000000000000000000000000000000000cc")

func newTestStore(t *testing.T) *RedisPendingStore {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return NewRedisPendingStore(cache.NewFromClient(rdb, zap.NewNop()), "")
}

type fakeRegistry struct {
	chains map[string]entities.ChainConfig
	tokens map[string][]entities.Token
}

func newFakeRegistry() *fakeRegistry {
	return &fakeRegistry{
		chains: map[string]entities.ChainConfig{
			"ethereum": {Name: "ethereum", Family: entities.ChainFamilyEVM, NativeCurrency: "ETH", Decimals: 18},
			"bitcoin":  {Name: "bitcoin", Family: entities.ChainFamilyUTXO, NativeCurrency: "BTC", Decimals: 8, Confirmations: 3},
			"tron":     {Name: "tron", Family: entities.ChainFamilyTron, NativeCurrency: "TRX", Decimals: 6},
		},
		tokens: map[string][]entities.Token{
			"ethereum": {
				{Chain: "ethereum", Currency: "ETH", Decimals: 18},
				{Chain: "ethereum", Currency: "USDT", ContractAddress: usdtContract.Hex(), Decimals: 6, ContractType: entities.TokenContractTypeStandard},
			},
			"bitcoin": {{Chain: "bitcoin", Currency: "BTC", Decimals: 8}},
			"tron": {
				{Chain: "tron", Currency: "TRX", Decimals: 6},
				{Chain: "tron", Currency: "USDT", ContractAddress: "TR7NHqjeKQxGTCi8q8ZY4pL8otSzgjLj6t", Decimals: 6, ContractType: entities.TokenContractTypeStandard},
			},
		},
	}
}

func (r *fakeRegistry) GetChainConfig(chain string) (entities.ChainConfig, error) {
	cfg, ok := r.chains[chain]
	if !ok {
		return entities.ChainConfig{}, domainerrors.UnsupportedChainError(chain)
	}
	return cfg, nil
}

func (r *fakeRegistry) GetToken(chain, currency string) (entities.Token, error) {
	for _, t := range r.tokens[chain] {
		if t.Currency == currency {
			return t, nil
		}
	}
	return entities.Token{}, domainerrors.UnsupportedTokenError(chain, currency)
}

func (r *fakeRegistry) TokenByContract(chain, address string) (entities.Token, bool) {
	for _, t := range r.tokens[chain] {
		if !t.IsNative() && entities.EqualAddress(t.ContractAddress, address) {
			return t, true
		}
	}
	return entities.Token{}, false
}

func (r *fakeRegistry) Tokens(chain string) []entities.Token {
	var out []entities.Token
	for _, t := range r.tokens[chain] {
		if !t.IsNative() {
			out = append(out, t)
		}
	}
	return out
}

type fakeProviders struct {
	client      *providertest.FakeClient
	streaming   bool
	invalidated atomic.Int32
}

func (p *fakeProviders) GetOrCreate(ctx context.Context, chain string) (*providers.Handle, error) {
	return &providers.Handle{Chain: chain, Client: p.client, Streaming: p.streaming, CreatedAt: time.Now()}, nil
}

func (p *fakeProviders) Invalidate(chain string, h *providers.Handle) {
	p.invalidated.Add(1)
}

// memoryLedger credits each hash once, like the database ledger
type memoryLedger struct {
	mu       sync.Mutex
	credited map[string]decimal.Decimal
	balance  decimal.Decimal
	calls    int
	err      error
}

func newMemoryLedger() *memoryLedger {
	return &memoryLedger{credited: make(map[string]decimal.Decimal)}
}

func (l *memoryLedger) CreditDeposit(ctx context.Context, detail *entities.TransactionDetail) (*entities.CreditResult, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls++
	if l.err != nil {
		return nil, l.err
	}
	wallet := &entities.Wallet{ID: uuid.New(), UserID: detail.UserID, Chain: detail.Chain, Currency: detail.Currency, Address: detail.Address}
	if _, ok := l.credited[detail.Hash]; ok {
		wallet.Balance = l.balance
		return &entities.CreditResult{Wallet: wallet, AlreadyProcessed: true}, nil
	}
	amount, err := detail.AmountDecimal()
	if err != nil {
		return nil, err
	}
	l.credited[detail.Hash] = amount
	l.balance = l.balance.Add(amount)
	wallet.Balance = l.balance
	return &entities.CreditResult{Wallet: wallet}, nil
}

func (l *memoryLedger) Credits() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.credited)
}

func (l *memoryLedger) Calls() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.calls
}

type recordingNotifier struct {
	mu     sync.Mutex
	events map[entities.RouteKey][]entities.DepositEvent
}

func newRecordingNotifier() *recordingNotifier {
	return &recordingNotifier{events: make(map[entities.RouteKey][]entities.DepositEvent)}
}

func (n *recordingNotifier) Notify(route entities.RouteKey, event entities.DepositEvent) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events[route] = append(n.events[route], event)
}

func (n *recordingNotifier) Events(route entities.RouteKey) []entities.DepositEvent {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]entities.DepositEvent(nil), n.events[route]...)
}

type mockUsers struct {
	mock.Mock
	sent atomic.Int32
}

func (m *mockUsers) NotifyDeposit(ctx context.Context, detail entities.TransactionDetail, balance string) error {
	defer m.sent.Add(1)
	return m.Called(ctx, detail, balance).Error(0)
}

type fakeChecker struct {
	confirmations atomic.Int32
	err           error
}

func (c *fakeChecker) Confirmations(ctx context.Context, hash string) (int, error) {
	if c.err != nil {
		return 0, c.err
	}
	return int(c.confirmations.Load()), nil
}

type staticSessions int

func (s staticSessions) ActiveSessions() int { return int(s) }

// fakeClock fires AfterFunc callbacks when Advance moves past their deadline
type fakeClock struct {
	mu     sync.Mutex
	now    time.Duration
	timers []*fakeTimer
}

type fakeTimer struct {
	clock    *fakeClock
	deadline time.Duration
	fn       func()
	stopped  bool
	fired    bool
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{clock: c, deadline: c.now + d, fn: f}
	c.timers = append(c.timers, t)
	return t
}

func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	if t.stopped || t.fired {
		return false
	}
	t.stopped = true
	return true
}

func (c *fakeClock) Timers() []*fakeTimer {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*fakeTimer(nil), c.timers...)
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now += d
	var due []*fakeTimer
	for _, t := range c.timers {
		if !t.stopped && !t.fired && t.deadline <= c.now {
			t.fired = true
			due = append(due, t)
		}
	}
	c.mu.Unlock()
	for _, t := range due {
		t.fn()
	}
}

// fakeMonitor records lifecycle calls
type fakeMonitor struct {
	key       entities.MonitorKey
	started   atomic.Bool
	stopped   atomic.Bool
	stopCalls atomic.Int32
	startErr  error
}

func (m *fakeMonitor) Start(ctx context.Context) error {
	if m.startErr != nil {
		return m.startErr
	}
	if m.stopped.Load() {
		return domainerrors.ErrMonitorStopped
	}
	m.started.Store(true)
	return nil
}

func (m *fakeMonitor) Stop() {
	m.stopCalls.Add(1)
	m.stopped.Store(true)
}

func (m *fakeMonitor) Active() bool {
	return m.started.Load() && !m.stopped.Load()
}

func (m *fakeMonitor) Key() entities.MonitorKey {
	return m.key
}

func pendingDetail(hash, chain, currency, amount string, call entities.ContractCallType) entities.TransactionDetail {
	return entities.TransactionDetail{
		Chain:        chain,
		Hash:         hash,
		ContractCall: call,
		From:         "0x00000000000000000000000000000000000000aa",
		To:           watchAddr,
		Amount:       amount,
		Currency:     currency,
		UserID:       testUser,
		WalletID:     uuid.NewString(),
		Address:      watchAddr,
		DetectedAt:   time.Now().UTC(),
	}
}
