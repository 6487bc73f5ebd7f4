// Package tron implements the Tron watch service against the TronGrid API.
package tron

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

const listLimit = 50

// TokenResolver maps TRC20 contracts to registry currencies
type TokenResolver interface {
	TokenByContract(chain, address string) (entities.Token, bool)
	GetToken(chain, currency string) (entities.Token, error)
}

// Service reports incoming TRX and TRC20 transfers
type Service struct {
	chain  string
	native string
	api    *chainapi.Client
	tokens TokenResolver
	poller *chainapi.Poller
	logger *zap.Logger
}

// NewService creates a Tron watch service for a TronGrid endpoint
func NewService(chain, nativeCurrency, baseURL, apiKey string, tokens TokenResolver, pollInterval time.Duration, rateLimit float64, logger *zap.Logger) *Service {
	logger = logger.With(zap.String("chain", chain))
	return &Service{
		chain:  chain,
		native: strings.ToUpper(nativeCurrency),
		api: chainapi.NewClient(chainapi.Config{
			Name:         chain + "-trongrid",
			BaseURL:      baseURL,
			APIKey:       apiKey,
			APIKeyHeader: "TRON-PRO-API-KEY",
			RateLimit:    rateLimit,
		}, logger),
		tokens: tokens,
		poller: chainapi.NewPoller(pollInterval, logger),
		logger: logger,
	}
}

// Watch reports transfers into address until the returned func is called
func (s *Service) Watch(ctx context.Context, address string, cb func(entities.ChainTransfer)) (func(), error) {
	if err := ValidateAddress(address); err != nil {
		return nil, domainerrors.ValidationError("address", err.Error())
	}
	return s.poller.Watch(ctx, address, s.Transfers, cb)
}

type trc20Response struct {
	Data []struct {
		TransactionID string `json:"transaction_id"`
		TokenInfo     struct {
			Address  string `json:"address"`
			Symbol   string `json:"symbol"`
			Decimals int    `json:"decimals"`
		} `json:"token_info"`
		From  string `json:"from"`
		To    string `json:"to"`
		Type  string `json:"type"`
		Value string `json:"value"`
	} `json:"data"`
	Success bool `json:"success"`
}

type nativeResponse struct {
	Data []struct {
		TxID string `json:"txID"`
		Ret  []struct {
			ContractRet string `json:"contractRet"`
		} `json:"ret"`
		RawData struct {
			Contract []struct {
				Type      string `json:"type"`
				Parameter struct {
					Value struct {
						Amount       int64  `json:"amount"`
						OwnerAddress string `json:"owner_address"`
						ToAddress    string `json:"to_address"`
					} `json:"value"`
				} `json:"parameter"`
			} `json:"contract"`
		} `json:"raw_data"`
	} `json:"data"`
	Success bool `json:"success"`
}

type txInfo struct {
	ID          string `json:"id"`
	BlockNumber int64  `json:"blockNumber"`
	Fee         int64  `json:"fee"`
	Receipt     struct {
		Result string `json:"result"`
	} `json:"receipt"`
	Result string `json:"result"`
}

// Transfers returns recent incoming transfers with their solidified status
func (s *Service) Transfers(ctx context.Context, address string) ([]entities.ChainTransfer, error) {
	var out []entities.ChainTransfer

	query := url.Values{"only_to": {"true"}, "limit": {strconv.Itoa(listLimit)}}

	var tokenTxs trc20Response
	if err := s.api.Get(ctx, "/v1/accounts/"+address+"/transactions/trc20", query, &tokenTxs); err != nil {
		return nil, domainerrors.ProviderUnavailableError(s.chain, err)
	}
	for _, tx := range tokenTxs.Data {
		if tx.Type != "Transfer" || tx.To != address {
			continue
		}
		token, ok := s.tokens.TokenByContract(s.chain, tx.TokenInfo.Address)
		if !ok {
			continue
		}
		amount, ok := new(big.Int).SetString(tx.Value, 10)
		if !ok {
			continue
		}
		out = append(out, entities.ChainTransfer{
			Chain:    s.chain,
			Hash:     tx.TransactionID,
			From:     tx.From,
			To:       tx.To,
			Currency: token.Currency,
			Contract: token.ContractAddress,
			Amount:   amount,
		})
	}

	var nativeTxs nativeResponse
	if err := s.api.Get(ctx, "/v1/accounts/"+address+"/transactions", query, &nativeTxs); err != nil {
		return nil, domainerrors.ProviderUnavailableError(s.chain, err)
	}
	for _, tx := range nativeTxs.Data {
		for _, c := range tx.RawData.Contract {
			if c.Type != "TransferContract" {
				continue
			}
			to, err := HexToBase58(c.Parameter.Value.ToAddress)
			if err != nil || to != address {
				continue
			}
			from, _ := HexToBase58(c.Parameter.Value.OwnerAddress)
			transfer := entities.ChainTransfer{
				Chain:    s.chain,
				Hash:     tx.TxID,
				From:     from,
				To:       to,
				Currency: s.native,
				Amount:   big.NewInt(c.Parameter.Value.Amount),
			}
			if len(tx.Ret) > 0 && tx.Ret[0].ContractRet != "" && tx.Ret[0].ContractRet != "SUCCESS" {
				transfer.Status = entities.PendingStatusFailed
			}
			out = append(out, transfer)
		}
	}

	for i := range out {
		if out[i].Status == entities.PendingStatusFailed {
			continue
		}
		status, fee, err := s.status(ctx, out[i].Hash)
		if err != nil {
			s.logger.Warn("Failed to read transaction info", zap.String("hash", out[i].Hash), zap.Error(err))
			status = entities.PendingStatusPending
		}
		out[i].Status = status
		out[i].Fee = fee
	}
	return out, nil
}

// status reads the solidified transaction info. A transaction that is not
// yet solidified has no block number.
func (s *Service) status(ctx context.Context, hash string) (entities.PendingStatus, *big.Int, error) {
	var info txInfo
	if err := s.api.Post(ctx, "/walletsolidity/gettransactioninfobyid", map[string]string{"value": hash}, &info); err != nil {
		return entities.PendingStatusPending, nil, err
	}
	if info.ID == "" || info.BlockNumber == 0 {
		return entities.PendingStatusPending, nil, nil
	}
	fee := big.NewInt(info.Fee)
	if info.Result == "FAILED" || (info.Receipt.Result != "" && info.Receipt.Result != "SUCCESS") {
		return entities.PendingStatusFailed, fee, nil
	}
	return entities.PendingStatusCompleted, fee, nil
}

type accountResponse struct {
	Data []struct {
		Balance int64               `json:"balance"`
		TRC20   []map[string]string `json:"trc20"`
	} `json:"data"`
}

// GetBalance returns the balance of address in the currency's smallest unit
func (s *Service) GetBalance(ctx context.Context, address, currency string) (*big.Int, error) {
	var resp accountResponse
	if err := s.api.Get(ctx, "/v1/accounts/"+address, nil, &resp); err != nil {
		return nil, domainerrors.ProviderUnavailableError(s.chain, err)
	}
	if len(resp.Data) == 0 {
		return new(big.Int), nil
	}
	account := resp.Data[0]

	if strings.EqualFold(currency, s.native) {
		return big.NewInt(account.Balance), nil
	}

	token, err := s.tokens.GetToken(s.chain, currency)
	if err != nil {
		return nil, err
	}
	for _, holding := range account.TRC20 {
		for contract, value := range holding {
			if contract != token.ContractAddress {
				continue
			}
			amount, ok := new(big.Int).SetString(value, 10)
			if !ok {
				return nil, fmt.Errorf("invalid trc20 balance %q", value)
			}
			return amount, nil
		}
	}
	return new(big.Int), nil
}
