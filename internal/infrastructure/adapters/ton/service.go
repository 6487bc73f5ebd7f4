// Package ton implements the TON watch service against the toncenter v2 API.
package ton

import (
	"context"
	"fmt"
	"math/big"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/rail-service/deposit_watcher/internal/domain/entities"
	domainerrors "github.com/rail-service/deposit_watcher/internal/domain/errors"
	"github.com/rail-service/deposit_watcher/internal/infrastructure/adapters/chainapi"
)

const transactionLimit = 30

// Service reports incoming TON transfers. Transactions returned by toncenter
// are already part of a masterchain-referenced block, so they are final.
type Service struct {
	chain    string
	currency string
	api      *chainapi.Client
	poller   *chainapi.Poller
}

// NewService creates a TON watch service for a toncenter endpoint
func NewService(chain, currency, baseURL, apiKey string, pollInterval time.Duration, rateLimit float64, logger *zap.Logger) *Service {
	logger = logger.With(zap.String("chain", chain))
	return &Service{
		chain:    chain,
		currency: strings.ToUpper(currency),
		api: chainapi.NewClient(chainapi.Config{
			Name:         chain + "-toncenter",
			BaseURL:      baseURL,
			APIKey:       apiKey,
			APIKeyHeader: "X-API-Key",
			RateLimit:    rateLimit,
		}, logger),
		poller: chainapi.NewPoller(pollInterval, logger),
	}
}

// ValidateAddress accepts raw (workchain:hex) and user-friendly (48 char) addresses
func ValidateAddress(address string) error {
	if parts := strings.SplitN(address, ":", 2); len(parts) == 2 {
		if _, err := strconv.Atoi(parts[0]); err != nil || len(parts[1]) != 64 {
			return fmt.Errorf("invalid raw ton address %q", address)
		}
		return nil
	}
	if len(address) != 48 {
		return fmt.Errorf("invalid ton address %q", address)
	}
	return nil
}

// Watch reports transfers into address until the returned func is called
func (s *Service) Watch(ctx context.Context, address string, cb func(entities.ChainTransfer)) (func(), error) {
	if err := ValidateAddress(address); err != nil {
		return nil, domainerrors.ValidationError("address", err.Error())
	}
	return s.poller.Watch(ctx, address, s.Transfers, cb)
}

type envelope struct {
	OK     bool        `json:"ok"`
	Error  string      `json:"error"`
	Result interface{} `json:"result"`
}

type transaction struct {
	TransactionID struct {
		LT   string `json:"lt"`
		Hash string `json:"hash"`
	} `json:"transaction_id"`
	Fee   string `json:"fee"`
	InMsg struct {
		Source      string `json:"source"`
		Destination string `json:"destination"`
		Value       string `json:"value"`
	} `json:"in_msg"`
}

func (s *Service) get(ctx context.Context, method string, query url.Values, out interface{}) error {
	resp := envelope{Result: out}
	if err := s.api.Get(ctx, "/api/v2/"+method, query, &resp); err != nil {
		return domainerrors.ProviderUnavailableError(s.chain, err)
	}
	if !resp.OK {
		return domainerrors.ProviderUnavailableError(s.chain, fmt.Errorf("%s: %s", method, resp.Error))
	}
	return nil
}

// Transfers returns recent incoming value transfers to address
func (s *Service) Transfers(ctx context.Context, address string) ([]entities.ChainTransfer, error) {
	var txs []transaction
	query := url.Values{"address": {address}, "limit": {strconv.Itoa(transactionLimit)}}
	if err := s.get(ctx, "getTransactions", query, &txs); err != nil {
		return nil, err
	}

	var out []entities.ChainTransfer
	for _, tx := range txs {
		if tx.InMsg.Source == "" {
			continue
		}
		amount, ok := new(big.Int).SetString(tx.InMsg.Value, 10)
		if !ok || amount.Sign() == 0 {
			continue
		}
		fee, ok := new(big.Int).SetString(tx.Fee, 10)
		if !ok {
			fee = nil
		}
		out = append(out, entities.ChainTransfer{
			Chain:    s.chain,
			Hash:     tx.TransactionID.Hash,
			From:     tx.InMsg.Source,
			To:       address,
			Currency: s.currency,
			Amount:   amount,
			Fee:      fee,
			Status:   entities.PendingStatusCompleted,
		})
	}
	return out, nil
}

// GetBalance returns the nanoton balance of address
func (s *Service) GetBalance(ctx context.Context, address, currency string) (*big.Int, error) {
	if !strings.EqualFold(currency, s.currency) {
		return nil, domainerrors.UnsupportedTokenError(s.chain, currency)
	}
	var raw string
	if err := s.get(ctx, "getAddressBalance", url.Values{"address": {address}}, &raw); err != nil {
		return nil, err
	}
	balance, ok := new(big.Int).SetString(raw, 10)
	if !ok {
		return nil, fmt.Errorf("invalid ton balance %q", raw)
	}
	return balance, nil
}
