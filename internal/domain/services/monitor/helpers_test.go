package monitor

import (
	"context"
	"math/big"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"

	"github.com/rail-service/deposit_watcher/internal/domain/entities"
	domainerrors "github.com/rail-service/deposit_watcher/internal/domain/errors"
	"github.com/rail-service/deposit_watcher/internal/domain/services/decoder"
	"github.com/rail-service/deposit_watcher/internal/infrastructure/providers"
	"github.com/rail-service/deposit_watcher/internal/infrastructure/providers/providertest"
	"github.com/rail-service/deposit_watcher/pkg/logger"
)

const (
	testUser  = "user-1"
	watchAddr = "0x00000000000000000000000000000000000000bb"
)

var usdtContract = common.HexToAddress("0x00000000000000000000000000000000000000cc")

type fakeRegistry struct {
	chains map[string]entities.ChainConfig
	tokens map[string][]entities.Token
}

func newFakeRegistry() *fakeRegistry {
	return &fakeRegistry{
		chains: map[string]entities.ChainConfig{
			"ethereum": {Name: "ethereum", Family: entities.ChainFamilyEVM, NativeCurrency: "ETH", Decimals: 18},
			"mo":       {Name: "mo", Family: entities.ChainFamilyMO, NativeCurrency: "MO", Decimals: 18},
			"bitcoin":  {Name: "bitcoin", Family: entities.ChainFamilyUTXO, NativeCurrency: "BTC", Decimals: 8, Confirmations: 3},
			"tron":     {Name: "tron", Family: entities.ChainFamilyTron, NativeCurrency: "TRX", Decimals: 6},
		},
		tokens: map[string][]entities.Token{
			"ethereum": {{Chain: "ethereum", Currency: "USDT", ContractAddress: usdtContract.Hex(), Decimals: 6, ContractType: entities.TokenContractTypeStandard}},
			"mo":       {{Chain: "mo", Currency: "USDT", ContractAddress: usdtContract.Hex(), Decimals: 6, ContractType: entities.TokenContractTypeStandard}},
			"tron":     {{Chain: "tron", Currency: "USDT", ContractAddress: "TR7NHqjeKQxGTCi8q8ZY4pL8otSzgjLj6t", Decimals: 6, ContractType: entities.TokenContractTypeStandard}},
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
		if entities.EqualAddress(t.ContractAddress, address) {
			return t, true
		}
	}
	return entities.Token{}, false
}

func (r *fakeRegistry) Tokens(chain string) []entities.Token {
	return r.tokens[chain]
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

// walletBook resolves wallets by address. Every currency at a known address
// belongs to its owner.
type walletBook struct {
	mu     sync.Mutex
	owners map[string]string
}

func newWalletBook() *walletBook {
	b := &walletBook{owners: map[string]string{}}
	b.add(watchAddr, testUser)
	b.add(tronAddr, testUser)
	b.add(btcAddr, testUser)
	return b
}

func (b *walletBook) add(address, userID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.owners[entities.NormalizeAddress(address)] = userID
}

func (b *walletBook) FindWallet(ctx context.Context, chain, currency, address string) (*entities.Wallet, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	owner, ok := b.owners[entities.NormalizeAddress(address)]
	if !ok {
		return nil, nil
	}
	return &entities.Wallet{ID: uuid.New(), UserID: owner, Chain: chain, Currency: currency, Address: address}, nil
}

type mockUTXOSet struct {
	mock.Mock
}

func (m *mockUTXOSet) RecordOutput(ctx context.Context, utxo *entities.UTXO) error {
	return m.Called(ctx, utxo).Error(0)
}

type recordingSink struct {
	mu      sync.Mutex
	entries []*entities.PendingEntry
}

func (s *recordingSink) Submit(ctx context.Context, entry *entities.PendingEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, entry)
	return nil
}

func (s *recordingSink) Entries() []*entities.PendingEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*entities.PendingEntry, len(s.entries))
	copy(out, s.entries)
	return out
}

func (s *recordingSink) Len() int {
	return len(s.Entries())
}

func testConfig() Config {
	return Config{
		ProcessedTTL:       time.Minute,
		ProcessedCleanup:   time.Minute,
		NativePollInterval: 5 * time.Millisecond,
		NativeLookback:     time.Hour,
		LogPollInterval:    5 * time.Millisecond,
		MOPollInterval:     2 * time.Millisecond,
		MOBlockRange:       5000,
		MOMaxRetries:       5,
		MOBaseBackoff:      time.Millisecond,
	}
}

type testEnv struct {
	registry  *fakeRegistry
	providers *fakeProviders
	client    *providertest.FakeClient
	wallets   *walletBook
	sink      *recordingSink
	deps      Deps
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	client := providertest.NewFakeClient()
	env := &testEnv{
		registry:  newFakeRegistry(),
		providers: &fakeProviders{client: client, streaming: true},
		client:    client,
		wallets:   newWalletBook(),
		sink:      &recordingSink{},
	}
	env.deps = Deps{
		Registry:      env.registry,
		Providers:     env.providers,
		Decoder:       decoder.New(env.registry),
		Wallets:       env.wallets,
		Sink:          env.sink,
		Explorers:     map[string]Explorer{},
		UTXOWatchers:  map[string]AddressWatcher{},
		WatchServices: map[string]WatchService{},
		Logger:        logger.NewNop(),
	}
	return env
}

func watchRequest(chain string) entities.WatchRequest {
	return entities.WatchRequest{UserID: testUser, Chain: chain, Currency: "USDT", Address: watchAddr}
}

func raw(v int64) *big.Int {
	return big.NewInt(v)
}
