package utxo

import (
	"context"
	"fmt"
	"strconv"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"go.uber.org/zap"

	domainerrors "github.com/rail-service/deposit_watcher/internal/domain/errors"
	"github.com/rail-service/deposit_watcher/internal/infrastructure/adapters/chainapi"
)

// ConfirmationChecker counts confirmations through the Esplora REST API
type ConfirmationChecker struct {
	chain string
	api   *chainapi.Client
}

// NewConfirmationChecker creates a checker against baseURL
func NewConfirmationChecker(chain, baseURL string, rateLimit float64, logger *zap.Logger) *ConfirmationChecker {
	return &ConfirmationChecker{
		chain: chain,
		api: chainapi.NewClient(chainapi.Config{
			Name:      chain + "-esplora",
			BaseURL:   baseURL,
			RateLimit: rateLimit,
		}, logger),
	}
}

type txStatus struct {
	Confirmed   bool   `json:"confirmed"`
	BlockHeight uint64 `json:"block_height"`
}

// Confirmations returns 0 for unknown or unconfirmed transactions
func (c *ConfirmationChecker) Confirmations(ctx context.Context, hash string) (int, error) {
	if _, err := chainhash.NewHashFromStr(hash); err != nil {
		return 0, domainerrors.DecodeFailureError(c.chain, hash, err)
	}

	var status txStatus
	err := c.api.Get(ctx, "/tx/"+hash+"/status", nil, &status)
	if chainapi.IsNotFound(err) {
		return 0, nil
	}
	if err != nil {
		return 0, domainerrors.ProviderUnavailableError(c.chain, err)
	}
	if !status.Confirmed {
		return 0, nil
	}

	text, err := c.api.GetText(ctx, "/blocks/tip/height")
	if err != nil {
		return 0, domainerrors.ProviderUnavailableError(c.chain, err)
	}
	tip, err := strconv.ParseUint(text, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse tip height %q: %w", text, err)
	}
	if tip < status.BlockHeight {
		return 1, nil
	}
	return int(tip-status.BlockHeight) + 1, nil
}
