package entities

import (
	"fmt"
	"strings"
)

// ChainFamily groups chains that share detection and finality semantics
type ChainFamily string

const (
	ChainFamilyEVM    ChainFamily = "evm"
	ChainFamilyUTXO   ChainFamily = "utxo"
	ChainFamilySolana ChainFamily = "solana"
	ChainFamilyTron   ChainFamily = "tron"
	ChainFamilyMonero ChainFamily = "monero"
	ChainFamilyTon    ChainFamily = "ton"
	ChainFamilyMO     ChainFamily = "mo"
)

// AllChainFamilies lists every supported family
func AllChainFamilies() []ChainFamily {
	return []ChainFamily{
		ChainFamilyEVM, ChainFamilyUTXO, ChainFamilySolana, ChainFamilyTron,
		ChainFamilyMonero, ChainFamilyTon, ChainFamilyMO,
	}
}

// ParseChainFamily converts a config string into a ChainFamily
func ParseChainFamily(s string) (ChainFamily, error) {
	f := ChainFamily(strings.ToLower(strings.TrimSpace(s)))
	if !f.IsValid() {
		return "", fmt.Errorf("unsupported chain family: %q", s)
	}
	return f, nil
}

// IsValid checks if the family is supported
func (f ChainFamily) IsValid() bool {
	for _, family := range AllChainFamilies() {
		if family == f {
			return true
		}
	}
	return false
}

// UsesReceipts returns true for families finalized by transaction receipts
func (f ChainFamily) UsesReceipts() bool {
	return f == ChainFamilyEVM || f == ChainFamilyMO
}

// SDKReported returns true for families whose watch service reports status itself
func (f ChainFamily) SDKReported() bool {
	switch f {
	case ChainFamilySolana, ChainFamilyTron, ChainFamilyMonero, ChainFamilyTon:
		return true
	default:
		return false
	}
}

// ContractCallType classifies how a deposit interacts with a token contract
type ContractCallType string

const (
	ContractCallNative   ContractCallType = "NATIVE"
	ContractCallNoPermit ContractCallType = "NO_PERMIT"
	ContractCallPermit   ContractCallType = "PERMIT"
)

// Token contract types as declared in the registry
const (
	TokenContractTypeStandard = "standard"
	TokenContractTypePermit   = "permit"
)

// ChainConfig is the registry view of a chain
type ChainConfig struct {
	Name           string
	Family         ChainFamily
	NativeCurrency string
	Decimals       int32
	Confirmations  int
	Network        string
}

// Token is the registry view of a token on a chain
type Token struct {
	Chain           string
	Currency        string
	ContractAddress string
	Decimals        int32
	ContractType    string
}

// CallType returns the contract-call classification for deposits of this token
func (t Token) CallType() ContractCallType {
	if t.ContractAddress == "" {
		return ContractCallNative
	}
	if strings.EqualFold(t.ContractType, TokenContractTypePermit) {
		return ContractCallPermit
	}
	return ContractCallNoPermit
}

// IsNative returns true when the token is the chain's native coin
func (t Token) IsNative() bool {
	return t.ContractAddress == ""
}
