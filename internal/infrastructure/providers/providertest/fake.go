// Package providertest provides an in-memory EVM client for tests.
package providertest

import (
	"context"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// FakeClient is a programmable EVMClient. Unset funcs return ethereum.NotFound
// for lookups and zero values otherwise.
type FakeClient struct {
	mu sync.Mutex

	TransactionByHashFn   func(ctx context.Context, hash common.Hash) (*types.Transaction, bool, error)
	TransactionReceiptFn  func(ctx context.Context, hash common.Hash) (*types.Receipt, error)
	SubscribeFilterLogsFn func(ctx context.Context, q ethereum.FilterQuery, ch chan<- types.Log) (ethereum.Subscription, error)
	FilterLogsFn          func(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error)
	BlockNumberFn         func(ctx context.Context) (uint64, error)
	BalanceAtFn           func(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)

	calls  map[string]int
	closed bool
}

// NewFakeClient creates an empty fake
func NewFakeClient() *FakeClient {
	return &FakeClient{calls: make(map[string]int)}
}

func (f *FakeClient) record(name string) {
	f.mu.Lock()
	f.calls[name]++
	f.mu.Unlock()
}

// Calls returns how often method name was invoked
func (f *FakeClient) Calls(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[name]
}

// Closed reports whether Close was called
func (f *FakeClient) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func (f *FakeClient) TransactionByHash(ctx context.Context, hash common.Hash) (*types.Transaction, bool, error) {
	f.record("TransactionByHash")
	if f.TransactionByHashFn != nil {
		return f.TransactionByHashFn(ctx, hash)
	}
	return nil, false, ethereum.NotFound
}

func (f *FakeClient) TransactionReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	f.record("TransactionReceipt")
	if f.TransactionReceiptFn != nil {
		return f.TransactionReceiptFn(ctx, hash)
	}
	return nil, ethereum.NotFound
}

func (f *FakeClient) SubscribeFilterLogs(ctx context.Context, q ethereum.FilterQuery, ch chan<- types.Log) (ethereum.Subscription, error) {
	f.record("SubscribeFilterLogs")
	if f.SubscribeFilterLogsFn != nil {
		return f.SubscribeFilterLogsFn(ctx, q, ch)
	}
	return NewSubscription(), nil
}

func (f *FakeClient) FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error) {
	f.record("FilterLogs")
	if f.FilterLogsFn != nil {
		return f.FilterLogsFn(ctx, q)
	}
	return nil, nil
}

func (f *FakeClient) BlockNumber(ctx context.Context) (uint64, error) {
	f.record("BlockNumber")
	if f.BlockNumberFn != nil {
		return f.BlockNumberFn(ctx)
	}
	return 0, nil
}

func (f *FakeClient) BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error) {
	f.record("BalanceAt")
	if f.BalanceAtFn != nil {
		return f.BalanceAtFn(ctx, account, blockNumber)
	}
	return big.NewInt(0), nil
}

func (f *FakeClient) Close() {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
}

// Subscription is a controllable ethereum.Subscription
type Subscription struct {
	errCh        chan error
	once         sync.Once
	mu           sync.Mutex
	unsubscribed bool
}

// NewSubscription creates an open subscription
func NewSubscription() *Subscription {
	return &Subscription{errCh: make(chan error, 1)}
}

// Fail delivers err on the subscription's error channel
func (s *Subscription) Fail(err error) {
	s.errCh <- err
}

func (s *Subscription) Unsubscribe() {
	s.once.Do(func() {
		s.mu.Lock()
		s.unsubscribed = true
		s.mu.Unlock()
	})
}

func (s *Subscription) Err() <-chan error {
	return s.errCh
}

// Unsubscribed reports whether Unsubscribe was called
func (s *Subscription) Unsubscribed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.unsubscribed
}
