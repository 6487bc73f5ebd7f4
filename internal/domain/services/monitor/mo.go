package monitor

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"

	"github.com/rail-service/deposit_watcher/pkg/metrics"
	"github.com/rail-service/deposit_watcher/pkg/retry"
)

// moMonitor polls Transfer logs over bounded block ranges on a chain with no
// push support. It stops itself after MOMaxRetries consecutive failed retries.
type moMonitor struct {
	*base
	processed *ProcessedTxCache
	backoff   *retry.Backoff
	query     ethereum.FilterQuery
	lastBlock uint64
}

func newMOMonitor(b *base) *moMonitor {
	return &moMonitor{
		base:      b,
		processed: NewProcessedTxCache(b.cfg.ProcessedTTL),
		backoff:   retry.NewBackoff(retry.ExponentialPolicy(b.cfg.MOBaseBackoff, b.cfg.MOMaxRetries)),
	}
}

func (m *moMonitor) Start(ctx context.Context) error {
	runCtx, err := m.arm(ctx)
	if err != nil {
		return err
	}

	handle, err := m.deps.Providers.GetOrCreate(ctx, m.chain.Name)
	if err != nil {
		m.Stop()
		return err
	}
	head, err := handle.Client.BlockNumber(ctx)
	if err != nil {
		m.deps.Providers.Invalidate(m.chain.Name, handle)
		m.Stop()
		return err
	}

	m.lastBlock = head
	m.query = transferQuery(m.deps.Registry.Tokens(m.chain.Name), m.req.Address)
	m.startCleanup(runCtx, m.processed)
	go m.run(runCtx)

	m.log.Info("MO deposit monitor started", "from_block", head)
	return nil
}

func (m *moMonitor) run(ctx context.Context) {
	attempt := 0
	for {
		wait := m.cfg.MOPollInterval
		if attempt > 0 {
			wait = m.backoff.Calculate(attempt)
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		err := m.poll(ctx)
		if err == nil {
			attempt = 0
			continue
		}
		if ctx.Err() != nil {
			return
		}

		attempt++
		if m.backoff.Exhausted(attempt) {
			m.log.Error("MO poller giving up after consecutive provider errors", "attempts", attempt, "last_block", m.lastBlock, "error", err)
			metrics.MonitorSelfStops.WithLabelValues(m.chain.Name).Inc()
			m.Stop()
			return
		}
		m.log.Warn("MO poll failed, backing off", "attempt", attempt, "backoff", m.backoff.Calculate(attempt), "error", err)
	}
}

// poll scans at most MOBlockRange blocks past lastBlock and advances lastBlock
func (m *moMonitor) poll(ctx context.Context) error {
	handle, err := m.deps.Providers.GetOrCreate(ctx, m.chain.Name)
	if err != nil {
		return err
	}
	head, err := handle.Client.BlockNumber(ctx)
	if err != nil {
		m.deps.Providers.Invalidate(m.chain.Name, handle)
		return err
	}
	if head <= m.lastBlock {
		return nil
	}

	from := m.lastBlock + 1
	to := head
	if m.cfg.MOBlockRange > 0 && to-from+1 > m.cfg.MOBlockRange {
		to = from + m.cfg.MOBlockRange - 1
	}

	query := m.query
	query.FromBlock = new(big.Int).SetUint64(from)
	query.ToBlock = new(big.Int).SetUint64(to)

	logs, err := handle.Client.FilterLogs(ctx, query)
	if err != nil {
		m.deps.Providers.Invalidate(m.chain.Name, handle)
		return err
	}
	for _, lg := range logs {
		handleTransferLog(ctx, m.base, m.processed, lg)
	}

	m.lastBlock = to
	return nil
}
