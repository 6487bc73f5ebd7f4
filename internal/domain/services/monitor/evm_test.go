package monitor

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"math/big"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rail-service/deposit_watcher/internal/domain/entities"
	domainerrors "github.com/rail-service/deposit_watcher/internal/domain/errors"
	"github.com/rail-service/deposit_watcher/internal/domain/services/decoder"
	"github.com/rail-service/deposit_watcher/internal/infrastructure/config"
	"github.com/rail-service/deposit_watcher/internal/infrastructure/providers"
	"github.com/rail-service/deposit_watcher/internal/infrastructure/providers/providertest"
	"github.com/rail-service/deposit_watcher/pkg/logger"
)

func transferLog(hash string, value int64) types.Log {
	return types.Log{
		Address: usdtContract,
		Topics: []common.Hash{
			decoder.TransferTopic,
			decoder.PadAddressTopic("0x00000000000000000000000000000000000000aa"),
			decoder.PadAddressTopic(watchAddr),
		},
		Data:        common.LeftPadBytes(big.NewInt(value).Bytes(), 32),
		TxHash:      common.HexToHash(hash),
		BlockNumber: 100,
	}
}

func TestNew_DispatchesByFamily(t *testing.T) {
	env := newTestEnv(t)
	env.deps.UTXOWatchers["bitcoin"] = &fakeWatcher{}
	env.deps.WatchServices["tron"] = &fakeWatchService{}

	cases := map[string]interface{}{
		"ethereum": &evmMonitor{},
		"bitcoin":  &utxoMonitor{},
		"tron":     &sdkMonitor{},
		"mo":       &moMonitor{},
	}
	for chain, want := range cases {
		m, err := New(watchRequest(chain), env.deps, testConfig())
		require.NoError(t, err, chain)
		assert.IsType(t, want, m, chain)
		assert.Equal(t, entities.MonitorKey{UserID: testUser, Chain: chain}, m.Key())
	}

	_, err := New(watchRequest("cosmos"), env.deps, testConfig())
	assert.ErrorIs(t, err, domainerrors.ErrUnsupportedChain)

	delete(env.deps.UTXOWatchers, "bitcoin")
	_, err = New(watchRequest("bitcoin"), env.deps, testConfig())
	assert.Error(t, err)
}

func TestEVMMonitor_TokenDepositScenario(t *testing.T) {
	env := newTestEnv(t)

	var logs chan<- types.Log
	var query ethereum.FilterQuery
	sub := providertest.NewSubscription()
	env.client.SubscribeFilterLogsFn = func(ctx context.Context, q ethereum.FilterQuery, ch chan<- types.Log) (ethereum.Subscription, error) {
		logs, query = ch, q
		return sub, nil
	}

	m, err := New(watchRequest("ethereum"), env.deps, testConfig())
	require.NoError(t, err)
	require.NoError(t, m.Start(context.Background()))
	assert.True(t, m.Active())

	require.Len(t, query.Topics, 3)
	assert.Equal(t, decoder.TransferTopic, query.Topics[0][0])
	assert.Equal(t, decoder.PadAddressTopic(watchAddr), query.Topics[2][0])
	assert.Equal(t, []common.Address{usdtContract}, query.Addresses)

	lg := transferLog("0xfeed", 2_000_000)
	logs <- lg
	logs <- lg

	require.Eventually(t, func() bool { return env.sink.Len() == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)

	entries := env.sink.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, "2.0", entries[0].Detail.Amount)
	assert.Equal(t, "USDT", entries[0].Detail.Currency)
	assert.Equal(t, entities.ContractCallNoPermit, entries[0].Detail.ContractCall)
	assert.Equal(t, entities.PendingStatusPending, entries[0].Status)
	assert.NotEmpty(t, entries[0].Detail.WalletID)

	m.Stop()
	m.Stop()
	assert.False(t, m.Active())
	assert.True(t, sub.Unsubscribed())
	assert.Equal(t, int32(1), m.(*evmMonitor).stopCalls.Load())
}

func TestEVMMonitor_FallsBackToPolling(t *testing.T) {
	env := newTestEnv(t)
	env.client.SubscribeFilterLogsFn = func(ctx context.Context, q ethereum.FilterQuery, ch chan<- types.Log) (ethereum.Subscription, error) {
		return nil, errors.New("notifications not supported")
	}

	var head atomic.Uint64
	head.Store(100)
	env.client.BlockNumberFn = func(ctx context.Context) (uint64, error) {
		return head.Add(1), nil
	}

	var once sync.Once
	env.client.FilterLogsFn = func(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error) {
		var out []types.Log
		once.Do(func() { out = []types.Log{transferLog("0xbeef", 1_500_000)} })
		return out, nil
	}

	m, err := New(watchRequest("ethereum"), env.deps, testConfig())
	require.NoError(t, err)
	require.NoError(t, m.Start(context.Background()))
	defer m.Stop()

	require.Eventually(t, func() bool { return env.sink.Len() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, "1.5", env.sink.Entries()[0].Detail.Amount)
}

type fakeExplorer struct {
	txs []entities.NativeTransfer
}

func (f *fakeExplorer) NativeTransactions(ctx context.Context, address string) ([]entities.NativeTransfer, error) {
	return f.txs, nil
}

func signNative(t *testing.T, key *ecdsa.PrivateKey, to common.Address, value *big.Int) *types.Transaction {
	t.Helper()
	chainID := big.NewInt(1)
	tx, err := types.SignTx(types.NewTx(&types.DynamicFeeTx{
		ChainID:   chainID,
		GasTipCap: big.NewInt(1),
		GasFeeCap: big.NewInt(1),
		Gas:       21000,
		To:        &to,
		Value:     value,
	}), types.LatestSignerForChainID(chainID), key)
	require.NoError(t, err)
	return tx
}

func TestEVMMonitor_NativeDeposit(t *testing.T) {
	env := newTestEnv(t)
	key, err := crypto.GenerateKey()
	require.NoError(t, err)

	value := new(big.Int).Mul(big.NewInt(25), new(big.Int).Exp(big.NewInt(10), big.NewInt(17), nil))
	tx := signNative(t, key, common.HexToAddress(watchAddr), value)
	env.client.TransactionByHashFn = func(ctx context.Context, hash common.Hash) (*types.Transaction, bool, error) {
		return tx, false, nil
	}
	env.deps.Explorers["ethereum"] = &fakeExplorer{txs: []entities.NativeTransfer{
		{Hash: tx.Hash().Hex(), To: watchAddr, Value: value, Timestamp: time.Now()},
		{Hash: "0xold", To: watchAddr, Value: value, Timestamp: time.Now().Add(-2 * time.Hour)},
		{Hash: "0xfailed", To: watchAddr, Value: value, Timestamp: time.Now(), Failed: true},
	}}
	env.registry.tokens["ethereum"] = nil

	m, err := New(watchRequest("ethereum"), env.deps, testConfig())
	require.NoError(t, err)
	require.NoError(t, m.Start(context.Background()))
	defer m.Stop()

	require.Eventually(t, func() bool { return env.sink.Len() == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(30 * time.Millisecond)

	entries := env.sink.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, "2.5", entries[0].Detail.Amount)
	assert.Equal(t, "ETH", entries[0].Detail.Currency)
	assert.Equal(t, entities.ContractCallNative, entries[0].Detail.ContractCall)
	assert.Equal(t, 1, env.client.Calls("TransactionByHash"))
}

func TestMonitor_StartAfterStop(t *testing.T) {
	env := newTestEnv(t)
	m, err := New(watchRequest("ethereum"), env.deps, testConfig())
	require.NoError(t, err)

	m.Stop()
	assert.ErrorIs(t, m.Start(context.Background()), domainerrors.ErrMonitorStopped)
	assert.False(t, m.Active())
}

type staticEndpoints map[string]config.ChainConfig

func (s staticEndpoints) Endpoints(chain string) (config.ChainConfig, bool) {
	cc, ok := s[chain]
	return cc, ok
}

// topicSubscriptions records one log subscription per watched address topic
type topicSubscriptions struct {
	mu    sync.Mutex
	subs  map[common.Hash]*providertest.Subscription
	chans map[common.Hash]chan<- types.Log
}

func newTopicSubscriptions(client *providertest.FakeClient) *topicSubscriptions {
	ts := &topicSubscriptions{
		subs:  map[common.Hash]*providertest.Subscription{},
		chans: map[common.Hash]chan<- types.Log{},
	}
	client.SubscribeFilterLogsFn = func(ctx context.Context, q ethereum.FilterQuery, ch chan<- types.Log) (ethereum.Subscription, error) {
		ts.mu.Lock()
		defer ts.mu.Unlock()
		topic := q.Topics[2][0]
		sub := providertest.NewSubscription()
		ts.subs[topic] = sub
		ts.chans[topic] = ch
		return sub, nil
	}
	return ts
}

func (ts *topicSubscriptions) get(address string) (*providertest.Subscription, chan<- types.Log) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	topic := decoder.PadAddressTopic(address)
	return ts.subs[topic], ts.chans[topic]
}

func TestEVMMonitor_ProviderFailureLeavesOtherMonitorsSubscribed(t *testing.T) {
	const otherAddr = "0x00000000000000000000000000000000000000ab"

	env := newTestEnv(t)
	env.wallets.add(otherAddr, "user-2")

	client := providertest.NewFakeClient()
	client.TransactionByHashFn = func(ctx context.Context, hash common.Hash) (*types.Transaction, bool, error) {
		return nil, false, errors.New("connection reset by peer")
	}
	subs := newTopicSubscriptions(client)

	var dials atomic.Int32
	manager := providers.NewManager(
		staticEndpoints{"ethereum": {WebSocket: "wss://node"}},
		func(ctx context.Context, url string) (providers.EVMClient, error) {
			dials.Add(1)
			return client, nil
		},
		providers.ManagerConfig{DialTimeout: time.Second, RetryDelay: time.Millisecond, RetireAfter: time.Hour},
		logger.NewNop(),
	)
	t.Cleanup(manager.Close)
	env.deps.Providers = manager

	// only the other user's address has native activity, and fetching it fails
	env.deps.Explorers["ethereum"] = &fakeExplorer{txs: []entities.NativeTransfer{
		{Hash: "0xa1", To: otherAddr, Value: big.NewInt(1), Timestamp: time.Now()},
	}}

	watched, err := New(watchRequest("ethereum"), env.deps, testConfig())
	require.NoError(t, err)
	require.NoError(t, watched.Start(context.Background()))
	defer watched.Stop()

	failing, err := New(entities.WatchRequest{UserID: "user-2", Chain: "ethereum", Currency: "USDT", Address: otherAddr}, env.deps, testConfig())
	require.NoError(t, err)
	require.NoError(t, failing.Start(context.Background()))
	defer failing.Stop()

	require.Eventually(t, func() bool { return dials.Load() >= 2 }, time.Second, 5*time.Millisecond,
		"the failing monitor should have dropped the shared handle")

	sub, logs := subs.get(watchAddr)
	require.NotNil(t, sub)
	assert.False(t, sub.Unsubscribed())
	assert.False(t, client.Closed())

	logs <- transferLog("0xcafe", 3_000_000)
	require.Eventually(t, func() bool { return env.sink.Len() == 1 }, time.Second, 5*time.Millisecond)
	entry := env.sink.Entries()[0]
	assert.Equal(t, testUser, entry.Detail.UserID)
	assert.Equal(t, "3.0", entry.Detail.Amount)
	assert.True(t, watched.Active())
}

func TestEVMMonitor_ResubscribesAfterDroppedSubscription(t *testing.T) {
	env := newTestEnv(t)
	subs := newTopicSubscriptions(env.client)

	m, err := New(watchRequest("ethereum"), env.deps, testConfig())
	require.NoError(t, err)
	require.NoError(t, m.Start(context.Background()))
	defer m.Stop()

	first, _ := subs.get(watchAddr)
	require.NotNil(t, first)
	first.Fail(errors.New("websocket: close 1006"))

	require.Eventually(t, func() bool { return env.client.Calls("SubscribeFilterLogs") == 2 }, time.Second, 5*time.Millisecond)
	assert.True(t, first.Unsubscribed())
	assert.Equal(t, int32(1), env.providers.invalidated.Load())
	assert.Equal(t, 0, env.client.Calls("FilterLogs"))

	second, logs := subs.get(watchAddr)
	assert.NotSame(t, first, second)
	logs <- transferLog("0xd00d", 1_000_000)
	require.Eventually(t, func() bool { return env.sink.Len() == 1 }, time.Second, 5*time.Millisecond)
}

func TestEVMMonitor_DecodeFailureKeepsHandle(t *testing.T) {
	env := newTestEnv(t)
	env.registry.tokens["ethereum"] = nil
	env.deps.Explorers["ethereum"] = &fakeExplorer{txs: []entities.NativeTransfer{
		{Hash: "0xbad", To: watchAddr, Value: big.NewInt(1), Timestamp: time.Now()},
	}}
	env.client.TransactionByHashFn = func(ctx context.Context, hash common.Hash) (*types.Transaction, bool, error) {
		// unsigned, so the sender cannot be recovered
		to := common.HexToAddress(watchAddr)
		return types.NewTx(&types.DynamicFeeTx{ChainID: big.NewInt(1), To: &to, Value: big.NewInt(1), Gas: 21000}), false, nil
	}

	m, err := New(watchRequest("ethereum"), env.deps, testConfig())
	require.NoError(t, err)
	require.NoError(t, m.Start(context.Background()))
	defer m.Stop()

	require.Eventually(t, func() bool { return env.client.Calls("TransactionByHash") >= 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, int32(0), env.providers.invalidated.Load())
	assert.Equal(t, 0, env.sink.Len())
}
