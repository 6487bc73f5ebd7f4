package entities

import (
	"math/big"
	"time"
)

// ChainTransfer is an incoming transfer reported by a chain watch service
// (Solana, Tron, Monero, Ton). Amount is in the smallest unit of Currency.
type ChainTransfer struct {
	Chain         string
	Hash          string
	From          string
	To            string
	Currency      string
	Contract      string
	Amount        *big.Int
	Fee           *big.Int
	Status        PendingStatus
	Confirmations int
}

// UTXOOutput is a single output of a UTXO transaction
type UTXOOutput struct {
	Index   uint32
	Address string
	Value   int64
}

// UTXONotification is delivered by the push address-watch service
type UTXONotification struct {
	Chain         string
	Hash          string
	Inputs        []string
	Outputs       []UTXOOutput
	Confirmations int
	Fee           int64
}

// PayingOutputs returns the outputs that pay the given address
func (n UTXONotification) PayingOutputs(address string) []UTXOOutput {
	var out []UTXOOutput
	for _, o := range n.Outputs {
		if EqualAddress(o.Address, address) {
			out = append(out, o)
		}
	}
	return out
}

// NativeTransfer is a native-coin transaction reported by a block explorer
type NativeTransfer struct {
	Hash          string
	From          string
	To            string
	Value         *big.Int
	BlockNumber   uint64
	Timestamp     time.Time
	Confirmations int
	Failed        bool
}
