package errors

import "errors"

// Deposit detection and confirmation errors
var (
	// ErrProviderUnavailable means no chain connection could be established
	ErrProviderUnavailable = errors.New("provider unavailable")

	// ErrDecodeFailure means a transaction payload was malformed or unexpected
	ErrDecodeFailure = errors.New("decode failure")

	// ErrNotYetFinal means the chain has no finality answer yet. Not a failure.
	ErrNotYetFinal = errors.New("transaction not yet final")

	// ErrAlreadyProcessed means the ledger already credited this transaction
	ErrAlreadyProcessed = errors.New("deposit already processed")

	// ErrInsufficientConfirmationSignal means the chain reported failure or revert
	ErrInsufficientConfirmationSignal = errors.New("chain reported transaction failure")

	// ErrUnsupportedChain means the chain is not in the registry
	ErrUnsupportedChain = errors.New("unsupported chain")

	// ErrUnsupportedToken means the currency is not registered for the chain
	ErrUnsupportedToken = errors.New("unsupported token")

	// ErrMonitorStopped means an operation was attempted on an inert monitor
	ErrMonitorStopped = errors.New("monitor stopped")

	// ErrAddressNotOwned means the watched address holds no wallet of the user
	ErrAddressNotOwned = errors.New("address not owned by user")
)

// ProviderUnavailableError creates a provider unavailable error
func ProviderUnavailableError(chain string, err error) *DomainError {
	de := &DomainError{
		Err:       ErrProviderUnavailable,
		Code:      "PROVIDER_UNAVAILABLE",
		Message:   "no provider connection could be established for " + chain,
		Retryable: true,
		Details: map[string]interface{}{
			"chain": chain,
		},
	}
	if err != nil {
		de.Details["cause"] = err.Error()
	}
	return de
}

// DecodeFailureError creates a decode failure error
func DecodeFailureError(chain, hash string, err error) *DomainError {
	de := &DomainError{
		Err:     ErrDecodeFailure,
		Code:    "DECODE_FAILURE",
		Message: "failed to decode transaction " + hash,
		Details: map[string]interface{}{
			"chain": chain,
			"hash":  hash,
		},
	}
	if err != nil {
		de.Details["cause"] = err.Error()
	}
	return de
}

// UnsupportedChainError creates an unsupported chain error
func UnsupportedChainError(chain string) *DomainError {
	return &DomainError{
		Err:     ErrUnsupportedChain,
		Code:    "UNSUPPORTED_CHAIN",
		Message: "chain " + chain + " is not configured",
		Details: map[string]interface{}{
			"chain": chain,
		},
	}
}

// UnsupportedTokenError creates an unsupported token error
func UnsupportedTokenError(chain, currency string) *DomainError {
	return &DomainError{
		Err:     ErrUnsupportedToken,
		Code:    "UNSUPPORTED_TOKEN",
		Message: currency + " is not configured on " + chain,
		Details: map[string]interface{}{
			"chain":    chain,
			"currency": currency,
		},
	}
}

// AddressNotOwnedError creates an address ownership error
func AddressNotOwnedError(chain, currency, address string) *DomainError {
	return &DomainError{
		Err:     ErrAddressNotOwned,
		Code:    "ADDRESS_NOT_OWNED",
		Message: "address holds no " + currency + " wallet of the user on " + chain,
		Details: map[string]interface{}{
			"chain":    chain,
			"currency": currency,
			"address":  address,
		},
	}
}

// IsAddressNotOwned checks for an address ownership rejection
func IsAddressNotOwned(err error) bool {
	return errors.Is(err, ErrAddressNotOwned)
}

// IsProviderUnavailable checks for a provider failure
func IsProviderUnavailable(err error) bool {
	return errors.Is(err, ErrProviderUnavailable)
}

// IsAlreadyProcessed checks for a ledger idempotency rejection
func IsAlreadyProcessed(err error) bool {
	return errors.Is(err, ErrAlreadyProcessed)
}

// IsDecodeFailure checks for a decode failure
func IsDecodeFailure(err error) bool {
	return errors.Is(err, ErrDecodeFailure)
}
