package monitor

import (
	"context"
	"math/big"
	"time"

	"github.com/rail-service/deposit_watcher/internal/domain/entities"
	"github.com/rail-service/deposit_watcher/internal/domain/services/decoder"
)

// utxoMonitor subscribes to a push address-watch service
type utxoMonitor struct {
	*base
	watcher   AddressWatcher
	processed *ProcessedTxCache
}

func newUTXOMonitor(b *base, watcher AddressWatcher) *utxoMonitor {
	return &utxoMonitor{
		base:      b,
		watcher:   watcher,
		processed: NewProcessedTxCache(b.cfg.ProcessedTTL),
	}
}

func (m *utxoMonitor) Start(ctx context.Context) error {
	runCtx, err := m.arm(ctx)
	if err != nil {
		return err
	}

	unwatch, err := m.watcher.WatchAddress(runCtx, m.req.Address, func(n entities.UTXONotification) {
		m.handleOnce(m.processed, n.Hash, func() error {
			return m.handleNotification(runCtx, n)
		})
	})
	if err != nil {
		m.Stop()
		return err
	}
	m.onStop(unwatch)
	m.startCleanup(runCtx, m.processed)

	m.log.Info("UTXO deposit monitor started")
	return nil
}

func (m *utxoMonitor) handleNotification(ctx context.Context, n entities.UTXONotification) error {
	paying := n.PayingOutputs(m.req.Address)
	if len(paying) == 0 {
		return nil
	}

	var total int64
	for _, out := range paying {
		total += out.Value
	}

	detail := &entities.TransactionDetail{
		Chain:         m.chain.Name,
		Hash:          n.Hash,
		ContractCall:  entities.ContractCallNative,
		To:            m.req.Address,
		Amount:        decoder.FormatUnits(big.NewInt(total), m.chain.Decimals),
		Currency:      m.chain.NativeCurrency,
		Fee:           decoder.FormatUnits(big.NewInt(n.Fee), m.chain.Decimals),
		Address:       m.req.Address,
		Confirmations: n.Confirmations,
		DetectedAt:    time.Now().UTC(),
	}
	if len(n.Inputs) > 0 {
		detail.From = n.Inputs[0]
	}

	for _, out := range paying {
		utxo := &entities.UTXO{
			Chain:       m.chain.Name,
			TxHash:      n.Hash,
			OutputIndex: out.Index,
			Address:     out.Address,
			Value:       out.Value,
		}
		if err := m.deps.UTXOSet.RecordOutput(ctx, utxo); err != nil {
			return err
		}
	}

	return m.submit(ctx, detail, entities.PendingStatusPending)
}
