// Package explorer reads native-coin transaction history from
// Etherscan-compatible block explorer APIs.
package explorer

import (
	"context"
	"encoding/json"
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

const pageSize = 50

// Client lists recent native transactions of an address
type Client struct {
	chain  string
	apiKey string
	api    *chainapi.Client
	logger *zap.Logger
}

// NewClient creates an explorer client for chain
func NewClient(chain, baseURL, apiKey string, rateLimit float64, logger *zap.Logger) *Client {
	return &Client{
		chain:  chain,
		apiKey: apiKey,
		api: chainapi.NewClient(chainapi.Config{
			Name:      chain + "-explorer",
			BaseURL:   baseURL,
			RateLimit: rateLimit,
		}, logger),
		logger: logger,
	}
}

type txListResponse struct {
	Status  string          `json:"status"`
	Message string          `json:"message"`
	Result  json.RawMessage `json:"result"`
}

type explorerTx struct {
	Hash            string `json:"hash"`
	From            string `json:"from"`
	To              string `json:"to"`
	Value           string `json:"value"`
	BlockNumber     string `json:"blockNumber"`
	TimeStamp       string `json:"timeStamp"`
	Confirmations   string `json:"confirmations"`
	IsError         string `json:"isError"`
	TxReceiptStatus string `json:"txreceipt_status"`
}

// NativeTransactions returns the most recent native transactions touching address, newest first
func (c *Client) NativeTransactions(ctx context.Context, address string) ([]entities.NativeTransfer, error) {
	query := url.Values{
		"module":  {"account"},
		"action":  {"txlist"},
		"address": {address},
		"page":    {"1"},
		"offset":  {strconv.Itoa(pageSize)},
		"sort":    {"desc"},
	}
	if c.apiKey != "" {
		query.Set("apikey", c.apiKey)
	}

	var resp txListResponse
	if err := c.api.Get(ctx, "", query, &resp); err != nil {
		return nil, domainerrors.ProviderUnavailableError(c.chain, err)
	}

	if resp.Status != "1" {
		if strings.Contains(strings.ToLower(resp.Message), "no transactions") {
			return nil, nil
		}
		var reason string
		_ = json.Unmarshal(resp.Result, &reason)
		return nil, domainerrors.ProviderUnavailableError(c.chain, fmt.Errorf("explorer error: %s %s", resp.Message, reason))
	}

	var txs []explorerTx
	if err := json.Unmarshal(resp.Result, &txs); err != nil {
		return nil, fmt.Errorf("decode explorer txlist: %w", err)
	}

	out := make([]entities.NativeTransfer, 0, len(txs))
	for _, tx := range txs {
		transfer, err := tx.toTransfer()
		if err != nil {
			c.logger.Warn("Skipping malformed explorer transaction", zap.String("hash", tx.Hash), zap.Error(err))
			continue
		}
		out = append(out, transfer)
	}
	return out, nil
}

func (tx explorerTx) toTransfer() (entities.NativeTransfer, error) {
	value, ok := new(big.Int).SetString(tx.Value, 10)
	if !ok {
		return entities.NativeTransfer{}, fmt.Errorf("invalid value %q", tx.Value)
	}
	block, _ := strconv.ParseUint(tx.BlockNumber, 10, 64)
	ts, _ := strconv.ParseInt(tx.TimeStamp, 10, 64)
	confirmations, _ := strconv.Atoi(tx.Confirmations)

	return entities.NativeTransfer{
		Hash:          tx.Hash,
		From:          tx.From,
		To:            tx.To,
		Value:         value,
		BlockNumber:   block,
		Timestamp:     time.Unix(ts, 0).UTC(),
		Confirmations: confirmations,
		Failed:        tx.IsError == "1" || tx.TxReceiptStatus == "0",
	}, nil
}
