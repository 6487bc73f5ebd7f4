package deposit

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/rail-service/deposit_watcher/internal/domain/entities"
	"github.com/rail-service/deposit_watcher/internal/domain/services/decoder"
	"github.com/rail-service/deposit_watcher/internal/domain/services/monitor"
	"github.com/rail-service/deposit_watcher/pkg/logger"
	"github.com/rail-service/deposit_watcher/pkg/metrics"
	"github.com/rail-service/deposit_watcher/pkg/tracing"
)

// LedgerCreditor applies a confirmed deposit to a wallet balance exactly once
type LedgerCreditor interface {
	CreditDeposit(ctx context.Context, detail *entities.TransactionDetail) (*entities.CreditResult, error)
}

// ConfirmationChecker reports how many confirmations a UTXO transaction has
type ConfirmationChecker interface {
	Confirmations(ctx context.Context, hash string) (int, error)
}

// SessionNotifier pushes events to the sessions subscribed to a route
type SessionNotifier interface {
	Notify(route entities.RouteKey, event entities.DepositEvent)
}

// UserNotifier sends the out-of-band deposit confirmation to the wallet owner
type UserNotifier interface {
	NotifyDeposit(ctx context.Context, detail entities.TransactionDetail, balance string) error
}

// SessionCounter reports whether anyone is watching
type SessionCounter interface {
	ActiveSessions() int
}

// ChainRegistry is the registry view the verifier needs
type ChainRegistry interface {
	GetChainConfig(chain string) (entities.ChainConfig, error)
	GetToken(chain, currency string) (entities.Token, error)
}

// VerifierDeps are the verifier's collaborators
type VerifierDeps struct {
	Store         PendingStore
	Registry      ChainRegistry
	Providers     monitor.ProviderSource
	Ledger        LedgerCreditor
	Locks         *LockRegistry
	Sessions      SessionCounter
	Notifier      SessionNotifier
	Users         UserNotifier
	Checkers      map[string]ConfirmationChecker
	WatchServices map[string]monitor.WatchService
	Logger        *logger.Logger
}

// Verifier periodically settles pending entries: it checks finality, credits
// completed deposits, drops failed ones and notifies the owners.
type Verifier struct {
	deps        VerifierDeps
	interval    time.Duration
	concurrency int
	log         *logger.Logger
	tracer      trace.Tracer

	stopCh chan struct{}
	wg     sync.WaitGroup
	once   sync.Once
}

// NewVerifier creates a verifier sweeping every interval with at most
// concurrency entries in flight
func NewVerifier(deps VerifierDeps, interval time.Duration, concurrency int) *Verifier {
	if concurrency <= 0 {
		concurrency = 5
	}
	return &Verifier{
		deps:        deps,
		interval:    interval,
		concurrency: concurrency,
		log:         deps.Logger.With("component", "deposit_verifier"),
		tracer:      tracing.GetTracer("deposit-verifier"),
		stopCh:      make(chan struct{}),
	}
}

// Start runs sweeps until ctx is cancelled or Stop is called
func (v *Verifier) Start(ctx context.Context) {
	v.log.Info("Starting deposit verifier", "interval", v.interval, "concurrency", v.concurrency)

	v.wg.Add(1)
	go func() {
		defer v.wg.Done()
		ticker := time.NewTicker(v.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				v.log.Info("Deposit verifier stopped due to context cancellation")
				return
			case <-v.stopCh:
				v.log.Info("Deposit verifier stopped")
				return
			case <-ticker.C:
				if _, err := v.Sweep(ctx); err != nil {
					v.log.Error("Verifier sweep failed", "error", err)
				}
			}
		}
	}()
}

// Stop halts the sweep loop and waits for the current sweep
func (v *Verifier) Stop() {
	v.once.Do(func() { close(v.stopCh) })
	v.wg.Wait()
}

// Sweep verifies every pending entry once. It does nothing while no session
// is connected and returns the number of entries examined.
func (v *Verifier) Sweep(ctx context.Context) (int, error) {
	if v.deps.Sessions != nil && v.deps.Sessions.ActiveSessions() == 0 {
		return 0, nil
	}

	start := time.Now()
	defer func() { metrics.VerifierSweepDuration.Observe(time.Since(start).Seconds()) }()

	entries, err := v.deps.Store.List(ctx)
	if err != nil {
		return 0, err
	}
	metrics.PendingEntries.Set(float64(len(entries)))
	if len(entries) == 0 {
		return 0, nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(v.concurrency)
	for _, entry := range entries {
		entry := entry
		g.Go(func() error {
			v.verify(gctx, entry)
			return nil
		})
	}
	_ = g.Wait()

	v.log.Debug("Verifier sweep complete", "entries", len(entries), "duration", time.Since(start))
	return len(entries), nil
}

func (v *Verifier) verify(ctx context.Context, entry *entities.PendingEntry) {
	detail := entry.Detail
	log := v.log.With("hash", detail.Hash, "chain", detail.Chain)

	chainCfg, err := v.deps.Registry.GetChainConfig(detail.Chain)
	if err != nil {
		log.Error("Pending entry references unknown chain", "error", err)
		return
	}

	status, err := v.resolve(ctx, chainCfg, entry, &detail)
	if err != nil {
		log.Warn("Could not determine finality, will retry", "error", err)
		return
	}

	switch status {
	case entities.PendingStatusCompleted:
		v.credit(ctx, chainCfg, detail)
	case entities.PendingStatusFailed:
		if _, err := v.deps.Store.Remove(ctx, detail.Hash); err != nil {
			log.Error("Failed to remove failed entry", "error", err)
			return
		}
		v.releaseLock(detail)
		metrics.DepositsFailed.WithLabelValues(detail.Chain).Inc()
		log.Warn("Deposit failed on chain, dropped", "amount", detail.Amount, "currency", detail.Currency)
	}
}

// resolve determines the entry's current status. Confirmation metadata is
// written into detail.
func (v *Verifier) resolve(ctx context.Context, chainCfg entities.ChainConfig, entry *entities.PendingEntry, detail *entities.TransactionDetail) (entities.PendingStatus, error) {
	switch {
	case chainCfg.Family.SDKReported():
		return entry.Status, nil

	case chainCfg.Family == entities.ChainFamilyUTXO:
		checker, ok := v.deps.Checkers[chainCfg.Name]
		if !ok {
			return entities.PendingStatusPending, errors.New("no confirmation checker for chain")
		}
		n, err := checker.Confirmations(ctx, detail.Hash)
		if err != nil {
			return entities.PendingStatusPending, err
		}
		detail.Confirmations = n
		required := chainCfg.Confirmations
		if required < 1 {
			required = 1
		}
		if n >= required {
			return entities.PendingStatusCompleted, nil
		}
		return entities.PendingStatusPending, nil

	case chainCfg.Family.UsesReceipts():
		return v.resolveReceipt(ctx, chainCfg, detail)
	}
	return entities.PendingStatusPending, nil
}

func (v *Verifier) resolveReceipt(ctx context.Context, chainCfg entities.ChainConfig, detail *entities.TransactionDetail) (entities.PendingStatus, error) {
	handle, err := v.deps.Providers.GetOrCreate(ctx, chainCfg.Name)
	if err != nil {
		return entities.PendingStatusPending, err
	}

	receipt, err := handle.Client.TransactionReceipt(ctx, common.HexToHash(detail.Hash))
	if errors.Is(err, ethereum.NotFound) || (err == nil && receipt == nil) {
		return entities.PendingStatusPending, nil
	}
	if err != nil {
		v.deps.Providers.Invalidate(chainCfg.Name, handle)
		return entities.PendingStatusPending, err
	}

	if receipt.Status == 0 {
		return entities.PendingStatusFailed, nil
	}

	detail.GasUsed = receipt.GasUsed
	if receipt.BlockNumber != nil {
		detail.BlockNumber = receipt.BlockNumber.Uint64()
	}
	if receipt.EffectiveGasPrice != nil {
		fee := new(big.Int).Mul(receipt.EffectiveGasPrice, new(big.Int).SetUint64(receipt.GasUsed))
		detail.Fee = decoder.FormatUnits(fee, chainCfg.Decimals)
	}

	if chainCfg.Confirmations > 1 {
		head, err := handle.Client.BlockNumber(ctx)
		if err != nil {
			return entities.PendingStatusPending, err
		}
		if head < detail.BlockNumber {
			return entities.PendingStatusPending, nil
		}
		detail.Confirmations = int(head-detail.BlockNumber) + 1
		if detail.Confirmations < chainCfg.Confirmations {
			return entities.PendingStatusPending, nil
		}
	}
	return entities.PendingStatusCompleted, nil
}

func (v *Verifier) credit(ctx context.Context, chainCfg entities.ChainConfig, detail entities.TransactionDetail) {
	ctx, span := v.tracer.Start(ctx, "deposit.credit", trace.WithAttributes(
		attribute.String("chain", detail.Chain),
		attribute.String("currency", detail.Currency),
		attribute.String("tx_hash", detail.Hash),
	))
	defer span.End()

	log := v.log.With("hash", detail.Hash, "chain", detail.Chain, "currency", detail.Currency)

	result, err := v.deps.Ledger.CreditDeposit(ctx, &detail)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "credit failed")
		log.Error("Failed to credit deposit, keeping entry", "error", err)
		return
	}

	if _, err := v.deps.Store.Remove(ctx, detail.Hash); err != nil {
		log.Error("Failed to remove credited entry", "error", err)
	}

	if result.AlreadyProcessed {
		metrics.DepositsAlreadyProcessed.WithLabelValues(detail.Chain).Inc()
		log.Info("Deposit already credited, dropped entry")
		return
	}

	v.releaseLock(detail)

	balance := v.balance(ctx, chainCfg, detail, result.Wallet)
	event := entities.DepositEvent{
		Status:      entities.PendingStatusCompleted,
		Transaction: detail,
		Balance:     balance,
		Currency:    detail.Currency,
		Chain:       detail.Chain,
	}
	if v.deps.Notifier != nil {
		v.deps.Notifier.Notify(detail.Route(), event)
	}
	if v.deps.Users != nil {
		notifyCtx := context.WithoutCancel(ctx)
		go func() {
			if err := v.deps.Users.NotifyDeposit(notifyCtx, detail, balance); err != nil {
				log.Warn("Failed to send deposit notification", "error", err)
			}
		}()
	}

	metrics.DepositsCredited.WithLabelValues(detail.Chain, detail.Currency).Inc()
	log.Info("Deposit credited", "amount", detail.Amount, "user_id", detail.UserID, "balance", balance)
}

// balance prefers the chain watch service's view for SDK chains and falls
// back to the ledger balance
func (v *Verifier) balance(ctx context.Context, chainCfg entities.ChainConfig, detail entities.TransactionDetail, wallet *entities.Wallet) string {
	var ledger string
	if wallet != nil {
		ledger = wallet.Balance.String()
	}
	if !chainCfg.Family.SDKReported() {
		return ledger
	}
	svc, ok := v.deps.WatchServices[chainCfg.Name]
	if !ok {
		return ledger
	}
	token, err := v.deps.Registry.GetToken(chainCfg.Name, detail.Currency)
	if err != nil {
		return ledger
	}
	raw, err := svc.GetBalance(ctx, detail.Address, detail.Currency)
	if err != nil {
		v.log.Warn("Failed to read on-chain balance", "chain", chainCfg.Name, "error", err)
		return ledger
	}
	return decoder.FormatUnits(raw, token.Decimals)
}

func (v *Verifier) releaseLock(detail entities.TransactionDetail) {
	if v.deps.Locks != nil && detail.ContractCall == entities.ContractCallNoPermit {
		v.deps.Locks.Unlock(detail.Address)
	}
}
