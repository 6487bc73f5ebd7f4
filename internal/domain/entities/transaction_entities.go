package entities

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// TransactionDetail is the canonical representation of a detected transfer.
// It is immutable once built except for Status-related confirmation metadata.
type TransactionDetail struct {
	Chain        string           `json:"chain"`
	Hash         string           `json:"hash"`
	ContractCall ContractCallType `json:"contractCall"`
	From         string           `json:"from"`
	To           string           `json:"to"`
	Amount       string           `json:"amount"`
	Currency     string           `json:"currency"`
	Contract     string           `json:"contract,omitempty"`
	GasPrice     string           `json:"gasPrice,omitempty"`
	GasLimit     uint64           `json:"gasLimit,omitempty"`
	Fee          string           `json:"fee,omitempty"`
	WalletID     string           `json:"walletId,omitempty"`
	UserID       string           `json:"userId,omitempty"`
	Address      string           `json:"address"`
	DetectedAt   time.Time        `json:"detectedAt"`

	// Confirmation metadata appended by the verifier
	GasUsed       uint64 `json:"gasUsed,omitempty"`
	BlockNumber   uint64 `json:"blockNumber,omitempty"`
	Confirmations int    `json:"confirmations,omitempty"`
}

// AmountDecimal parses the formatted amount
func (d TransactionDetail) AmountDecimal() (decimal.Decimal, error) {
	return decimal.NewFromString(d.Amount)
}

// Route returns the stream route notifications for this deposit go to
func (d TransactionDetail) Route() RouteKey {
	return NewRouteKey(d.Chain, d.Currency, d.Address)
}

// PendingEntry is a TransactionDetail awaiting finality, keyed by hash
type PendingEntry struct {
	Detail        TransactionDetail `json:"detail"`
	Status        PendingStatus     `json:"status"`
	FirstSeenAt   time.Time         `json:"firstSeenAt"`
	LastUpdatedAt time.Time         `json:"lastUpdatedAt"`
	Flagged       bool              `json:"flagged,omitempty"`
}

// NewPendingEntry wraps a detail with a status
func NewPendingEntry(detail TransactionDetail, status PendingStatus, now time.Time) *PendingEntry {
	if status == "" {
		status = PendingStatusPending
	}
	return &PendingEntry{
		Detail:        detail,
		Status:        status,
		FirstSeenAt:   now,
		LastUpdatedAt: now,
	}
}

// Key is the pending store key
func (e *PendingEntry) Key() string {
	return e.Detail.Hash
}

// Age returns how long the entry has been pending
func (e *PendingEntry) Age(now time.Time) time.Duration {
	return now.Sub(e.FirstSeenAt)
}

// MonitorKey identifies the monitor bound to a (user, chain) pair
type MonitorKey struct {
	UserID string
	Chain  string
}

func (k MonitorKey) String() string {
	return k.UserID + "-" + k.Chain
}

// RouteKey identifies a session stream route
type RouteKey struct {
	Chain    string
	Currency string
	Address  string
}

// NewRouteKey builds a case-normalized route key
func NewRouteKey(chain, currency, address string) RouteKey {
	return RouteKey{
		Chain:    strings.ToLower(chain),
		Currency: strings.ToUpper(currency),
		Address:  strings.ToLower(address),
	}
}

func (r RouteKey) String() string {
	return r.Chain + ":" + r.Currency + ":" + r.Address
}

// WatchRequest is what a client session asks to watch
type WatchRequest struct {
	UserID   string
	Chain    string
	Currency string
	Address  string
}

// Key returns the monitor key for the request
func (r WatchRequest) Key() MonitorKey {
	return MonitorKey{UserID: r.UserID, Chain: r.Chain}
}

// Route returns the stream route for the request
func (r WatchRequest) Route() RouteKey {
	return NewRouteKey(r.Chain, r.Currency, r.Address)
}

// DepositEvent is pushed to a session route when a deposit completes
type DepositEvent struct {
	Status      PendingStatus     `json:"status"`
	Transaction TransactionDetail `json:"transaction"`
	Balance     string            `json:"balance"`
	Currency    string            `json:"currency"`
	Chain       string            `json:"chain"`
}

// Wallet is the ledger-side wallet a deposit is credited to
type Wallet struct {
	ID        uuid.UUID       `json:"id" db:"id"`
	UserID    string          `json:"user_id" db:"user_id"`
	Chain     string          `json:"chain" db:"chain"`
	Currency  string          `json:"currency" db:"currency"`
	Address   string          `json:"address" db:"address"`
	Balance   decimal.Decimal `json:"balance" db:"balance"`
	UpdatedAt time.Time       `json:"updated_at" db:"updated_at"`
}

// CreditResult is returned by the ledger after a credit attempt
type CreditResult struct {
	Wallet           *Wallet
	AlreadyProcessed bool
}

// UTXO is an output paying a watched address, recorded for spend tracking
type UTXO struct {
	Chain       string    `db:"chain"`
	TxHash      string    `db:"tx_hash"`
	OutputIndex uint32    `db:"output_index"`
	Address     string    `db:"address"`
	Value       int64     `db:"value"`
	Spent       bool      `db:"spent"`
	CreatedAt   time.Time `db:"created_at"`
}
