// Package utxo watches UTXO-chain addresses through an Esplora compatible
// service: a websocket push feed for detection and REST for confirmations.
package utxo

import (
	"fmt"
	"strings"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
)

// NetworkParams returns the address parameters for a bitcoin network name
func NetworkParams(network string) (*chaincfg.Params, bool) {
	switch strings.ToLower(network) {
	case "", "mainnet", "main":
		return &chaincfg.MainNetParams, true
	case "testnet", "testnet3", "test":
		return &chaincfg.TestNet3Params, true
	case "signet":
		return &chaincfg.SigNetParams, true
	case "regtest":
		return &chaincfg.RegressionNetParams, true
	default:
		return nil, false
	}
}

// ValidateAddress checks that address decodes for params
func ValidateAddress(address string, params *chaincfg.Params) error {
	if params == nil {
		return nil
	}
	addr, err := btcutil.DecodeAddress(address, params)
	if err != nil {
		return fmt.Errorf("invalid address %q: %w", address, err)
	}
	if !addr.IsForNet(params) {
		return fmt.Errorf("address %q is not for network %s", address, params.Name)
	}
	return nil
}
