// Package solana implements the Solana watch service on top of solana-go.
package solana

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"time"

	solanago "github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/rail-service/deposit_watcher/internal/domain/entities"
	domainerrors "github.com/rail-service/deposit_watcher/internal/domain/errors"
	"github.com/rail-service/deposit_watcher/internal/infrastructure/adapters/chainapi"
)

const signatureLimit = 25

// RPC is the subset of the solana-go client the service uses
type RPC interface {
	GetSignaturesForAddressWithOpts(ctx context.Context, account solanago.PublicKey, opts *rpc.GetSignaturesForAddressOpts) ([]*rpc.TransactionSignature, error)
	GetTransaction(ctx context.Context, txSig solanago.Signature, opts *rpc.GetTransactionOpts) (*rpc.GetTransactionResult, error)
	GetBalance(ctx context.Context, account solanago.PublicKey, commitment rpc.CommitmentType) (*rpc.GetBalanceResult, error)
	GetTokenAccountBalance(ctx context.Context, account solanago.PublicKey, commitment rpc.CommitmentType) (*rpc.GetTokenAccountBalanceResult, error)
}

// TokenResolver maps SPL mints to registry currencies
type TokenResolver interface {
	TokenByContract(chain, address string) (entities.Token, bool)
	GetToken(chain, currency string) (entities.Token, error)
}

// Service reports incoming SOL and SPL transfers with their commitment status
type Service struct {
	chain   string
	native  string
	client  RPC
	tokens  TokenResolver
	poller  *chainapi.Poller
	limiter *rate.Limiter
	logger  *zap.Logger
}

// NewService creates a Solana watch service for endpoint
func NewService(chain, nativeCurrency, endpoint string, tokens TokenResolver, pollInterval time.Duration, rateLimit float64, logger *zap.Logger) *Service {
	return NewServiceWithClient(chain, nativeCurrency, rpc.New(endpoint), tokens, pollInterval, rateLimit, logger)
}

// NewServiceWithClient creates a service over an existing RPC client
func NewServiceWithClient(chain, nativeCurrency string, client RPC, tokens TokenResolver, pollInterval time.Duration, rateLimit float64, logger *zap.Logger) *Service {
	limiter := rate.NewLimiter(rate.Inf, 1)
	if rateLimit > 0 {
		limiter = rate.NewLimiter(rate.Limit(rateLimit), 1)
	}
	logger = logger.With(zap.String("chain", chain))
	return &Service{
		chain:   chain,
		native:  strings.ToUpper(nativeCurrency),
		client:  client,
		tokens:  tokens,
		poller:  chainapi.NewPoller(pollInterval, logger),
		limiter: limiter,
		logger:  logger,
	}
}

// Watch reports transfers into address until the returned func is called
func (s *Service) Watch(ctx context.Context, address string, cb func(entities.ChainTransfer)) (func(), error) {
	if _, err := solanago.PublicKeyFromBase58(address); err != nil {
		return nil, domainerrors.ValidationError("address", fmt.Sprintf("invalid solana address %q", address))
	}
	return s.poller.Watch(ctx, address, s.Transfers, cb)
}

// Transfers returns the recent incoming transfers of address
func (s *Service) Transfers(ctx context.Context, address string) ([]entities.ChainTransfer, error) {
	owner, err := solanago.PublicKeyFromBase58(address)
	if err != nil {
		return nil, err
	}

	limit := signatureLimit
	if err := s.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	sigs, err := s.client.GetSignaturesForAddressWithOpts(ctx, owner, &rpc.GetSignaturesForAddressOpts{
		Limit:      &limit,
		Commitment: rpc.CommitmentConfirmed,
	})
	if err != nil {
		return nil, domainerrors.ProviderUnavailableError(s.chain, err)
	}

	var out []entities.ChainTransfer
	for _, sig := range sigs {
		transfers, err := s.transfersIn(ctx, owner, sig)
		if err != nil {
			s.logger.Warn("Failed to load transaction", zap.String("signature", sig.Signature.String()), zap.Error(err))
			continue
		}
		out = append(out, transfers...)
	}
	return out, nil
}

func (s *Service) transfersIn(ctx context.Context, owner solanago.PublicKey, sig *rpc.TransactionSignature) ([]entities.ChainTransfer, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	version := uint64(0)
	res, err := s.client.GetTransaction(ctx, sig.Signature, &rpc.GetTransactionOpts{
		Encoding:                       solanago.EncodingBase64,
		Commitment:                     rpc.CommitmentConfirmed,
		MaxSupportedTransactionVersion: &version,
	})
	if err != nil {
		return nil, err
	}
	if res == nil || res.Meta == nil || res.Transaction == nil {
		return nil, nil
	}
	tx, err := res.Transaction.GetTransaction()
	if err != nil {
		return nil, domainerrors.DecodeFailureError(s.chain, sig.Signature.String(), err)
	}

	status := statusOf(sig)
	hash := sig.Signature.String()
	keys := tx.Message.AccountKeys
	sender := ""
	if len(keys) > 0 {
		sender = keys[0].String()
	}
	fee := new(big.Int).SetUint64(res.Meta.Fee)

	var out []entities.ChainTransfer

	for i, key := range keys {
		if !key.Equals(owner) || i >= len(res.Meta.PreBalances) || i >= len(res.Meta.PostBalances) {
			continue
		}
		pre, post := res.Meta.PreBalances[i], res.Meta.PostBalances[i]
		if post > pre {
			out = append(out, entities.ChainTransfer{
				Chain:    s.chain,
				Hash:     hash,
				From:     sender,
				To:       owner.String(),
				Currency: s.native,
				Amount:   new(big.Int).SetUint64(post - pre),
				Fee:      fee,
				Status:   status,
			})
		}
	}

	for mint, delta := range tokenDeltas(owner, res.Meta) {
		if delta.Sign() <= 0 {
			continue
		}
		token, ok := s.tokens.TokenByContract(s.chain, mint)
		if !ok {
			continue
		}
		out = append(out, entities.ChainTransfer{
			Chain:    s.chain,
			Hash:     hash,
			From:     sender,
			To:       owner.String(),
			Currency: token.Currency,
			Contract: mint,
			Amount:   delta,
			Fee:      fee,
			Status:   status,
		})
	}
	return out, nil
}

// tokenDeltas returns the per-mint balance change of owner's token accounts
func tokenDeltas(owner solanago.PublicKey, meta *rpc.TransactionMeta) map[string]*big.Int {
	deltas := make(map[string]*big.Int)
	apply := func(balances []rpc.TokenBalance, sign int64) {
		for _, b := range balances {
			if b.Owner == nil || !b.Owner.Equals(owner) || b.UiTokenAmount == nil {
				continue
			}
			amount, ok := new(big.Int).SetString(b.UiTokenAmount.Amount, 10)
			if !ok {
				continue
			}
			mint := b.Mint.String()
			if deltas[mint] == nil {
				deltas[mint] = new(big.Int)
			}
			deltas[mint].Add(deltas[mint], amount.Mul(amount, big.NewInt(sign)))
		}
	}
	apply(meta.PreTokenBalances, -1)
	apply(meta.PostTokenBalances, 1)
	return deltas
}

func statusOf(sig *rpc.TransactionSignature) entities.PendingStatus {
	switch {
	case sig.Err != nil:
		return entities.PendingStatusFailed
	case sig.ConfirmationStatus == rpc.ConfirmationStatusFinalized:
		return entities.PendingStatusCompleted
	default:
		return entities.PendingStatusPending
	}
}

// GetBalance returns the finalized balance of address in the currency's smallest unit
func (s *Service) GetBalance(ctx context.Context, address, currency string) (*big.Int, error) {
	owner, err := solanago.PublicKeyFromBase58(address)
	if err != nil {
		return nil, err
	}
	if err := s.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	if strings.EqualFold(currency, s.native) {
		res, err := s.client.GetBalance(ctx, owner, rpc.CommitmentFinalized)
		if err != nil {
			return nil, domainerrors.ProviderUnavailableError(s.chain, err)
		}
		return new(big.Int).SetUint64(res.Value), nil
	}

	token, err := s.tokens.GetToken(s.chain, currency)
	if err != nil {
		return nil, err
	}
	mint, err := solanago.PublicKeyFromBase58(token.ContractAddress)
	if err != nil {
		return nil, fmt.Errorf("invalid mint for %s: %w", currency, err)
	}
	ata, _, err := solanago.FindAssociatedTokenAddress(owner, mint)
	if err != nil {
		return nil, err
	}
	res, err := s.client.GetTokenAccountBalance(ctx, ata, rpc.CommitmentFinalized)
	if err != nil {
		return nil, domainerrors.ProviderUnavailableError(s.chain, err)
	}
	if res.Value == nil {
		return new(big.Int), nil
	}
	amount, ok := new(big.Int).SetString(res.Value.Amount, 10)
	if !ok {
		return nil, fmt.Errorf("invalid token amount %q", res.Value.Amount)
	}
	return amount, nil
}
