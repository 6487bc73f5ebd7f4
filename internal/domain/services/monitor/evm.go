package monitor

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/rail-service/deposit_watcher/internal/domain/entities"
	domainerrors "github.com/rail-service/deposit_watcher/internal/domain/errors"
	"github.com/rail-service/deposit_watcher/internal/domain/services/decoder"
	"github.com/rail-service/deposit_watcher/internal/infrastructure/providers"
)

// evmMonitor watches native coin transfers through an explorer and token
// transfers through Transfer log subscriptions.
type evmMonitor struct {
	*base

	nativeProcessed *ProcessedTxCache
	tokenProcessed  *ProcessedTxCache

	logMu     sync.Mutex
	lastBlock uint64
	polling   bool
}

func newEVMMonitor(b *base) *evmMonitor {
	return &evmMonitor{
		base:            b,
		nativeProcessed: NewProcessedTxCache(b.cfg.ProcessedTTL),
		tokenProcessed:  NewProcessedTxCache(b.cfg.ProcessedTTL),
	}
}

func (m *evmMonitor) Start(ctx context.Context) error {
	runCtx, err := m.arm(ctx)
	if err != nil {
		return err
	}

	if explorer, ok := m.deps.Explorers[m.chain.Name]; ok {
		m.startCleanup(runCtx, m.nativeProcessed)
		m.every(runCtx, m.cfg.NativePollInterval, func(ctx context.Context) {
			m.pollNative(ctx, explorer)
		})
	} else {
		m.log.Warn("No explorer configured, native deposits will not be detected")
	}

	tokens := m.deps.Registry.Tokens(m.chain.Name)
	if len(tokens) == 0 {
		m.log.Info("EVM deposit monitor started", "tokens", 0)
		return nil
	}

	handle, err := m.deps.Providers.GetOrCreate(ctx, m.chain.Name)
	if err != nil {
		m.Stop()
		return err
	}

	m.startCleanup(runCtx, m.tokenProcessed)
	if err := m.watchTokens(runCtx, handle, tokens); err != nil {
		m.Stop()
		return err
	}

	m.log.Info("EVM deposit monitor started", "tokens", len(tokens), "streaming", handle.Streaming)
	return nil
}

func (m *evmMonitor) pollNative(ctx context.Context, explorer Explorer) {
	txs, err := explorer.NativeTransactions(ctx, m.req.Address)
	if err != nil {
		m.log.Warn("Explorer poll failed", "error", err)
		return
	}

	cutoff := time.Now().Add(-m.cfg.NativeLookback)
	for _, tx := range txs {
		if tx.Failed || !entities.EqualAddress(tx.To, m.req.Address) {
			continue
		}
		if tx.Value == nil || tx.Value.Sign() <= 0 {
			continue
		}
		if !tx.Timestamp.IsZero() && tx.Timestamp.Before(cutoff) {
			continue
		}

		hash := tx.Hash
		m.handleOnce(m.nativeProcessed, hash, func() error {
			return m.handleNative(ctx, hash)
		})
	}
}

func (m *evmMonitor) handleNative(ctx context.Context, hash string) error {
	handle, err := m.deps.Providers.GetOrCreate(ctx, m.chain.Name)
	if err != nil {
		return err
	}

	detail, err := m.deps.Decoder.Decode(ctx, handle.Client, m.chain.Name, hash, m.req.Address)
	if err != nil {
		if !errors.Is(err, context.Canceled) && !domainerrors.IsDecodeFailure(err) {
			m.deps.Providers.Invalidate(m.chain.Name, handle)
		}
		return err
	}
	if detail == nil {
		return errors.New("transaction not yet visible to provider")
	}
	return m.submit(ctx, detail, entities.PendingStatusPending)
}

func (m *evmMonitor) transferQuery(tokens []entities.Token) ethereum.FilterQuery {
	return transferQuery(tokens, m.req.Address)
}

func transferQuery(tokens []entities.Token, watch string) ethereum.FilterQuery {
	addresses := make([]common.Address, 0, len(tokens))
	for _, t := range tokens {
		addresses = append(addresses, common.HexToAddress(t.ContractAddress))
	}
	return ethereum.FilterQuery{
		Addresses: addresses,
		Topics: [][]common.Hash{
			{decoder.TransferTopic},
			nil,
			{decoder.PadAddressTopic(watch)},
		},
	}
}

func (m *evmMonitor) watchTokens(ctx context.Context, handle *providers.Handle, tokens []entities.Token) error {
	query := m.transferQuery(tokens)

	if handle.Streaming {
		logs := make(chan types.Log, 64)
		sub, err := handle.Client.SubscribeFilterLogs(ctx, query, logs)
		if err == nil {
			m.onStop(sub.Unsubscribe)
			go m.consume(ctx, handle, sub, logs, tokens)
			return nil
		}
		m.log.Warn("Log subscription failed, falling back to polling", "error", err)
	}

	return m.startLogPolling(ctx, handle, tokens)
}

func (m *evmMonitor) consume(ctx context.Context, handle *providers.Handle, sub ethereum.Subscription, logs <-chan types.Log, tokens []entities.Token) {
	for {
		select {
		case <-ctx.Done():
			return
		case lg := <-logs:
			m.handleLog(ctx, lg)
		case err := <-sub.Err():
			if ctx.Err() != nil {
				return
			}
			m.log.Warn("Log subscription dropped, resubscribing", "error", err)
			sub.Unsubscribe()
			m.deps.Providers.Invalidate(m.chain.Name, handle)

			fresh, herr := m.deps.Providers.GetOrCreate(ctx, m.chain.Name)
			if herr != nil {
				m.log.Error("Cannot resume token watching", "error", herr)
				return
			}
			if werr := m.watchTokens(ctx, fresh, tokens); werr != nil {
				m.log.Error("Cannot resume token watching", "error", werr)
			}
			return
		}
	}
}

func (m *evmMonitor) startLogPolling(ctx context.Context, handle *providers.Handle, tokens []entities.Token) error {
	head, err := handle.Client.BlockNumber(ctx)
	if err != nil {
		m.deps.Providers.Invalidate(m.chain.Name, handle)
		return err
	}

	m.logMu.Lock()
	if m.polling {
		m.logMu.Unlock()
		return nil
	}
	m.polling = true
	m.lastBlock = head
	m.logMu.Unlock()

	query := m.transferQuery(tokens)
	m.every(ctx, m.cfg.LogPollInterval, func(ctx context.Context) {
		if err := m.pollLogs(ctx, query); err != nil {
			m.log.Warn("Token log poll failed", "error", err)
		}
	})
	return nil
}

func (m *evmMonitor) pollLogs(ctx context.Context, query ethereum.FilterQuery) error {
	handle, err := m.deps.Providers.GetOrCreate(ctx, m.chain.Name)
	if err != nil {
		return err
	}
	head, err := handle.Client.BlockNumber(ctx)
	if err != nil {
		m.deps.Providers.Invalidate(m.chain.Name, handle)
		return err
	}

	m.logMu.Lock()
	from := m.lastBlock + 1
	m.logMu.Unlock()
	if head < from {
		return nil
	}

	query.FromBlock = new(big.Int).SetUint64(from)
	query.ToBlock = new(big.Int).SetUint64(head)
	logs, err := handle.Client.FilterLogs(ctx, query)
	if err != nil {
		m.deps.Providers.Invalidate(m.chain.Name, handle)
		return err
	}
	for _, lg := range logs {
		m.handleLog(ctx, lg)
	}

	m.logMu.Lock()
	m.lastBlock = head
	m.logMu.Unlock()
	return nil
}

func (m *evmMonitor) handleLog(ctx context.Context, lg types.Log) {
	handleTransferLog(ctx, m.base, m.tokenProcessed, lg)
}

// handleTransferLog turns a Transfer log into a pending candidate
func handleTransferLog(ctx context.Context, b *base, cache *ProcessedTxCache, lg types.Log) {
	if lg.Removed {
		return
	}
	token, ok := b.deps.Registry.TokenByContract(b.chain.Name, lg.Address.Hex())
	if !ok {
		return
	}

	b.handleOnce(cache, lg.TxHash.Hex(), func() error {
		detail, err := b.deps.Decoder.DetailFromTransferLog(lg, token, b.req.Address)
		if err != nil || detail == nil {
			return err
		}
		return b.submit(ctx, detail, entities.PendingStatusPending)
	})
}
