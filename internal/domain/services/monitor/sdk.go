package monitor

import (
	"context"
	"fmt"
	"time"

	"github.com/rail-service/deposit_watcher/internal/domain/entities"
	"github.com/rail-service/deposit_watcher/internal/domain/services/decoder"
)

// sdkMonitor wires a chain WatchService callback into the pending store.
// Solana, Tron, Monero and Ton share it.
type sdkMonitor struct {
	*base
	svc       WatchService
	processed *ProcessedTxCache
}

func newSDKMonitor(b *base, svc WatchService) *sdkMonitor {
	return &sdkMonitor{
		base:      b,
		svc:       svc,
		processed: NewProcessedTxCache(b.cfg.ProcessedTTL),
	}
}

func (m *sdkMonitor) Start(ctx context.Context) error {
	runCtx, err := m.arm(ctx)
	if err != nil {
		return err
	}

	unwatch, err := m.svc.Watch(runCtx, m.req.Address, func(t entities.ChainTransfer) {
		m.onTransfer(runCtx, t)
	})
	if err != nil {
		m.Stop()
		return err
	}
	m.onStop(unwatch)
	m.startCleanup(runCtx, m.processed)

	m.log.Info("SDK deposit monitor started", "family", m.chain.Family)
	return nil
}

func (m *sdkMonitor) onTransfer(ctx context.Context, t entities.ChainTransfer) {
	if !entities.EqualAddress(t.To, m.req.Address) {
		return
	}
	if t.Status == entities.PendingStatusFailed {
		m.log.Warn("Watch service reported failed transfer", "hash", t.Hash)
	}

	// A transfer is first seen PENDING and later COMPLETED, so the status is part of the key.
	key := t.Hash + ":" + string(t.Status)
	m.handleOnce(m.processed, key, func() error {
		detail, err := m.detail(t)
		if err != nil {
			return err
		}
		return m.submit(ctx, detail, t.Status)
	})
}

func (m *sdkMonitor) detail(t entities.ChainTransfer) (*entities.TransactionDetail, error) {
	currency := m.chain.NativeCurrency
	decimals := m.chain.Decimals
	call := entities.ContractCallNative

	if t.Contract != "" {
		token, ok := m.deps.Registry.TokenByContract(m.chain.Name, t.Contract)
		if !ok {
			return nil, fmt.Errorf("transfer %s uses unregistered contract %s", t.Hash, t.Contract)
		}
		currency, decimals, call = token.Currency, token.Decimals, token.CallType()
	} else if t.Currency != "" && t.Currency != currency {
		token, err := m.deps.Registry.GetToken(m.chain.Name, t.Currency)
		if err != nil {
			return nil, err
		}
		currency, decimals, call = token.Currency, token.Decimals, token.CallType()
	}

	detail := &entities.TransactionDetail{
		Chain:         m.chain.Name,
		Hash:          t.Hash,
		ContractCall:  call,
		From:          t.From,
		To:            t.To,
		Amount:        decoder.FormatUnits(t.Amount, decimals),
		Currency:      currency,
		Contract:      t.Contract,
		Address:       m.req.Address,
		Confirmations: t.Confirmations,
		DetectedAt:    time.Now().UTC(),
	}
	if t.Fee != nil {
		detail.Fee = decoder.FormatUnits(t.Fee, m.chain.Decimals)
	}
	return detail, nil
}
