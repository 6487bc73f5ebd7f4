package tron

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/btcsuite/btcd/btcutil/base58"
)

// addressVersion is the prefix byte of every mainnet Tron address
const addressVersion = 0x41

// HexToBase58 converts a 41-prefixed hex address to its base58check form
func HexToBase58(h string) (string, error) {
	raw, err := hex.DecodeString(strings.TrimPrefix(h, "0x"))
	if err != nil {
		return "", fmt.Errorf("invalid hex address %q: %w", h, err)
	}
	if len(raw) != 21 || raw[0] != addressVersion {
		return "", fmt.Errorf("invalid tron address %q", h)
	}
	return base58.CheckEncode(raw[1:], addressVersion), nil
}

// ValidateAddress checks a base58check Tron address
func ValidateAddress(address string) error {
	payload, version, err := base58.CheckDecode(address)
	if err != nil {
		return fmt.Errorf("invalid tron address %q: %w", address, err)
	}
	if version != addressVersion || len(payload) != 20 {
		return fmt.Errorf("invalid tron address %q", address)
	}
	return nil
}
