// Package decoder turns raw EVM transactions and logs into TransactionDetails.
package decoder

import (
	"bytes"
	"context"
	"errors"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/rail-service/deposit_watcher/internal/domain/entities"
	domainerrors "github.com/rail-service/deposit_watcher/internal/domain/errors"
	"github.com/rail-service/deposit_watcher/internal/infrastructure/providers"
)

var (
	// TransferTopic is the keccak hash of the ERC-20 Transfer event signature
	TransferTopic = crypto.Keccak256Hash([]byte("Transfer(address,address,uint256)"))

	transferSelector     = crypto.Keccak256([]byte("transfer(address,uint256)"))[:4]
	transferFromSelector = crypto.Keccak256([]byte("transferFrom(address,address,uint256)"))[:4]
)

// TokenRegistry resolves chain and token metadata
type TokenRegistry interface {
	GetChainConfig(chain string) (entities.ChainConfig, error)
	TokenByContract(chain, address string) (entities.Token, bool)
}

// Decoder builds TransactionDetails for EVM-family chains
type Decoder struct {
	registry TokenRegistry
	now      func() time.Time
}

// New creates a decoder
func New(registry TokenRegistry) *Decoder {
	return &Decoder{registry: registry, now: time.Now}
}

// Decode fetches hash and returns its detail if it pays watch. A nil detail
// with a nil error means the transaction is unknown yet or unrelated.
func (d *Decoder) Decode(ctx context.Context, client providers.EVMClient, chain, hash, watch string) (*entities.TransactionDetail, error) {
	tx, _, err := client.TransactionByHash(ctx, common.HexToHash(hash))
	if errors.Is(err, ethereum.NotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return d.DecodeTransaction(chain, tx, watch)
}

// DecodeTransaction classifies an already-fetched transaction
func (d *Decoder) DecodeTransaction(chain string, tx *types.Transaction, watch string) (*entities.TransactionDetail, error) {
	to := tx.To()
	if to == nil {
		return nil, nil
	}

	chainCfg, err := d.registry.GetChainConfig(chain)
	if err != nil {
		return nil, err
	}

	sender, err := types.Sender(types.LatestSignerForChainID(tx.ChainId()), tx)
	if err != nil {
		return nil, domainerrors.DecodeFailureError(chain, tx.Hash().Hex(), err)
	}

	detail := &entities.TransactionDetail{
		Chain:      chainCfg.Name,
		Hash:       tx.Hash().Hex(),
		From:       sender.Hex(),
		Address:    watch,
		GasLimit:   tx.Gas(),
		DetectedAt: d.now().UTC(),
	}
	if price := tx.GasPrice(); price != nil {
		detail.GasPrice = price.String()
	}

	if token, ok := d.registry.TokenByContract(chain, to.Hex()); ok {
		from, recipient, amount, matched, err := parseTokenCall(tx.Data())
		if err != nil {
			return nil, domainerrors.DecodeFailureError(chain, detail.Hash, err)
		}
		if !matched || !entities.EqualAddress(recipient.Hex(), watch) {
			return nil, nil
		}
		if from != nil {
			detail.From = from.Hex()
		}
		detail.To = recipient.Hex()
		detail.Contract = to.Hex()
		detail.Currency = token.Currency
		detail.ContractCall = token.CallType()
		detail.Amount = FormatUnits(amount, token.Decimals)
		return detail, nil
	}

	if tx.Value() == nil || tx.Value().Sign() <= 0 || !entities.EqualAddress(to.Hex(), watch) {
		return nil, nil
	}

	detail.To = to.Hex()
	detail.Currency = chainCfg.NativeCurrency
	detail.ContractCall = entities.ContractCallNative
	detail.Amount = FormatUnits(tx.Value(), chainCfg.Decimals)
	return detail, nil
}

// DetailFromTransferLog builds a detail from a Transfer event emitted by token
func (d *Decoder) DetailFromTransferLog(lg types.Log, token entities.Token, watch string) (*entities.TransactionDetail, error) {
	if len(lg.Topics) < 3 || lg.Topics[0] != TransferTopic {
		return nil, domainerrors.DecodeFailureError(token.Chain, lg.TxHash.Hex(), errors.New("not a Transfer log"))
	}
	from := common.BytesToAddress(lg.Topics[1].Bytes())
	to := common.BytesToAddress(lg.Topics[2].Bytes())
	if !entities.EqualAddress(to.Hex(), watch) {
		return nil, nil
	}

	return &entities.TransactionDetail{
		Chain:        token.Chain,
		Hash:         lg.TxHash.Hex(),
		ContractCall: token.CallType(),
		From:         from.Hex(),
		To:           to.Hex(),
		Amount:       FormatUnits(new(big.Int).SetBytes(lg.Data), token.Decimals),
		Currency:     token.Currency,
		Contract:     lg.Address.Hex(),
		Address:      watch,
		BlockNumber:  lg.BlockNumber,
		DetectedAt:   d.now().UTC(),
	}, nil
}

// parseTokenCall extracts the transfer arguments of an ERC-20 call. from is
// only set for transferFrom. matched is false for any other method.
func parseTokenCall(data []byte) (from *common.Address, to common.Address, amount *big.Int, matched bool, err error) {
	if len(data) < 4 {
		return nil, common.Address{}, nil, false, nil
	}
	selector, args := data[:4], data[4:]

	switch {
	case bytes.Equal(selector, transferSelector):
		if len(args) < 64 {
			return nil, common.Address{}, nil, false, errors.New("short transfer calldata")
		}
		return nil, common.BytesToAddress(args[:32]), new(big.Int).SetBytes(args[32:64]), true, nil
	case bytes.Equal(selector, transferFromSelector):
		if len(args) < 96 {
			return nil, common.Address{}, nil, false, errors.New("short transferFrom calldata")
		}
		sender := common.BytesToAddress(args[:32])
		return &sender, common.BytesToAddress(args[32:64]), new(big.Int).SetBytes(args[64:96]), true, nil
	default:
		return nil, common.Address{}, nil, false, nil
	}
}

// PadAddressTopic left-pads an address into a 32-byte log topic
func PadAddressTopic(address string) common.Hash {
	return common.BytesToHash(common.HexToAddress(address).Bytes())
}
