// Package monero implements the Monero watch service against monero-wallet-rpc.
package monero

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/rail-service/deposit_watcher/internal/domain/entities"
	domainerrors "github.com/rail-service/deposit_watcher/internal/domain/errors"
	"github.com/rail-service/deposit_watcher/internal/infrastructure/adapters/chainapi"
)

// Monero standard addresses are 95 characters, integrated addresses 106
const (
	standardAddressLength   = 95
	integratedAddressLength = 106
)

// Service reports incoming XMR transfers seen by a view wallet
type Service struct {
	chain         string
	currency      string
	confirmations int
	api           *chainapi.Client
	poller        *chainapi.Poller
	logger        *zap.Logger
}

// NewService creates a Monero watch service for a wallet RPC endpoint.
// Transfers with at least confirmations confirmations are reported completed.
func NewService(chain, currency, walletURL string, confirmations int, pollInterval time.Duration, logger *zap.Logger) *Service {
	if confirmations < 1 {
		confirmations = 1
	}
	logger = logger.With(zap.String("chain", chain))
	return &Service{
		chain:         chain,
		currency:      strings.ToUpper(currency),
		confirmations: confirmations,
		api:           chainapi.NewClient(chainapi.Config{Name: chain + "-wallet-rpc", BaseURL: walletURL}, logger),
		poller:        chainapi.NewPoller(pollInterval, logger),
		logger:        logger,
	}
}

// ValidateAddress checks the shape of a Monero address
func ValidateAddress(address string) error {
	if len(address) != standardAddressLength && len(address) != integratedAddressLength {
		return fmt.Errorf("invalid monero address length %d", len(address))
	}
	switch address[0] {
	case '4', '8', '5', '7', '9', 'A', 'B':
		return nil
	default:
		return fmt.Errorf("invalid monero address prefix %q", address[0])
	}
}

// Watch reports transfers into address until the returned func is called
func (s *Service) Watch(ctx context.Context, address string, cb func(entities.ChainTransfer)) (func(), error) {
	if err := ValidateAddress(address); err != nil {
		return nil, domainerrors.ValidationError("address", err.Error())
	}
	return s.poller.Watch(ctx, address, s.Transfers, cb)
}

type rpcRequest struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      string      `json:"id"`
	Method  string      `json:"method"`
	Params  interface{} `json:"params,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type transfer struct {
	TxID          string `json:"txid"`
	Address       string `json:"address"`
	Amount        uint64 `json:"amount"`
	Fee           uint64 `json:"fee"`
	Confirmations int    `json:"confirmations"`
	Height        uint64 `json:"height"`
}

type transfersResult struct {
	In     []transfer `json:"in"`
	Pool   []transfer `json:"pool"`
	Failed []transfer `json:"failed"`
}

func (s *Service) call(ctx context.Context, method string, params, out interface{}) error {
	var resp struct {
		Result interface{} `json:"result"`
		Error  *rpcError   `json:"error"`
	}
	resp.Result = out
	req := rpcRequest{JSONRPC: "2.0", ID: "0", Method: method, Params: params}
	if err := s.api.Post(ctx, "/json_rpc", req, &resp); err != nil {
		return domainerrors.ProviderUnavailableError(s.chain, err)
	}
	if resp.Error != nil {
		return fmt.Errorf("%s: rpc error %d: %s", method, resp.Error.Code, resp.Error.Message)
	}
	return nil
}

// Transfers returns incoming transfers to address from the pool and the chain
func (s *Service) Transfers(ctx context.Context, address string) ([]entities.ChainTransfer, error) {
	var result transfersResult
	params := map[string]interface{}{"in": true, "pool": true, "failed": true, "account_index": 0, "all_accounts": true}
	if err := s.call(ctx, "get_transfers", params, &result); err != nil {
		return nil, err
	}

	var out []entities.ChainTransfer
	add := func(t transfer, status entities.PendingStatus) {
		if t.Address != address {
			return
		}
		out = append(out, entities.ChainTransfer{
			Chain:         s.chain,
			Hash:          t.TxID,
			To:            t.Address,
			Currency:      s.currency,
			Amount:        new(big.Int).SetUint64(t.Amount),
			Fee:           new(big.Int).SetUint64(t.Fee),
			Status:        status,
			Confirmations: t.Confirmations,
		})
	}

	for _, t := range result.Pool {
		add(t, entities.PendingStatusPending)
	}
	for _, t := range result.In {
		status := entities.PendingStatusPending
		if t.Confirmations >= s.confirmations {
			status = entities.PendingStatusCompleted
		}
		add(t, status)
	}
	for _, t := range result.Failed {
		add(t, entities.PendingStatusFailed)
	}
	return out, nil
}

// GetBalance returns the piconero balance of the subaddress
func (s *Service) GetBalance(ctx context.Context, address, currency string) (*big.Int, error) {
	if !strings.EqualFold(currency, s.currency) {
		return nil, domainerrors.UnsupportedTokenError(s.chain, currency)
	}

	var index struct {
		Index struct {
			Major uint32 `json:"major"`
			Minor uint32 `json:"minor"`
		} `json:"index"`
	}
	if err := s.call(ctx, "get_address_index", map[string]string{"address": address}, &index); err != nil {
		return nil, err
	}

	var balance struct {
		Balance       uint64 `json:"balance"`
		PerSubaddress []struct {
			AddressIndex uint32 `json:"address_index"`
			Balance      uint64 `json:"balance"`
		} `json:"per_subaddress"`
	}
	params := map[string]interface{}{
		"account_index":   index.Index.Major,
		"address_indices": []uint32{index.Index.Minor},
	}
	if err := s.call(ctx, "get_balance", params, &balance); err != nil {
		return nil, err
	}
	for _, sub := range balance.PerSubaddress {
		if sub.AddressIndex == index.Index.Minor {
			return new(big.Int).SetUint64(sub.Balance), nil
		}
	}
	return new(big.Int), nil
}
