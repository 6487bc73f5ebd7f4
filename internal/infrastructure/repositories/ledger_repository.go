package repositories

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"

	"github.com/rail-service/deposit_watcher/internal/domain/entities"
	domainerrors "github.com/rail-service/deposit_watcher/internal/domain/errors"
	"github.com/rail-service/deposit_watcher/internal/infrastructure/database"
)

// LedgerRepository credits confirmed deposits to wallet balances.
// A transaction hash is credited at most once.
type LedgerRepository struct {
	db *sqlx.DB
}

// NewLedgerRepository creates a new ledger repository
func NewLedgerRepository(db *sqlx.DB) *LedgerRepository {
	return &LedgerRepository{db: db}
}

// CreditDeposit records the deposit and increases the wallet balance in one
// transaction. A repeated hash yields AlreadyProcessed without touching the balance.
func (r *LedgerRepository) CreditDeposit(ctx context.Context, detail *entities.TransactionDetail) (*entities.CreditResult, error) {
	amount, err := detail.AmountDecimal()
	if err != nil {
		return nil, domainerrors.ValidationError("amount", fmt.Sprintf("invalid amount %q", detail.Amount))
	}
	if amount.LessThanOrEqual(decimal.Zero) {
		return nil, domainerrors.ValidationError("amount", "amount must be positive")
	}

	var result entities.CreditResult
	err = database.WithTransaction(ctx, r.db, func(tx *sqlx.Tx) error {
		var wallet entities.Wallet
		query := `SELECT ` + walletColumns + `
			FROM wallets
			WHERE chain = $1 AND currency = $2 AND LOWER(address) = LOWER($3)
			FOR UPDATE`
		args := []interface{}{detail.Chain, detail.Currency, detail.To}
		if walletID, err := uuid.Parse(detail.WalletID); err == nil {
			query = `SELECT ` + walletColumns + ` FROM wallets WHERE id = $1 FOR UPDATE`
			args = []interface{}{walletID}
		}
		if err := tx.GetContext(ctx, &wallet, query, args...); err != nil {
			if err == sql.ErrNoRows {
				return domainerrors.NotFoundError("WALLET")
			}
			return fmt.Errorf("lock wallet: %w", err)
		}

		insert := `
			INSERT INTO credited_deposits
				(tx_hash, wallet_id, chain, currency, amount, from_address, to_address, contract_call, block_number, credited_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
			ON CONFLICT (tx_hash) DO NOTHING`
		res, err := tx.ExecContext(ctx, insert,
			detail.Hash,
			wallet.ID,
			detail.Chain,
			detail.Currency,
			amount,
			detail.From,
			detail.To,
			string(detail.ContractCall),
			detail.BlockNumber,
			time.Now().UTC(),
		)
		if err != nil {
			return fmt.Errorf("record deposit: %w", err)
		}

		rowsAffected, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("rows affected: %w", err)
		}
		if rowsAffected == 0 {
			result = entities.CreditResult{Wallet: &wallet, AlreadyProcessed: true}
			return nil
		}

		update := `
			UPDATE wallets
			SET balance = balance + $1, updated_at = $2
			WHERE id = $3
			RETURNING balance, updated_at`
		if err := tx.QueryRowxContext(ctx, update, amount, time.Now().UTC(), wallet.ID).
			Scan(&wallet.Balance, &wallet.UpdatedAt); err != nil {
			return fmt.Errorf("update wallet balance: %w", err)
		}

		result = entities.CreditResult{Wallet: &wallet}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return &result, nil
}

// IsCredited reports whether hash already has a ledger entry
func (r *LedgerRepository) IsCredited(ctx context.Context, hash string) (bool, error) {
	var exists bool
	if err := r.db.GetContext(ctx, &exists, `SELECT EXISTS (SELECT 1 FROM credited_deposits WHERE tx_hash = $1)`, hash); err != nil {
		return false, fmt.Errorf("check credited deposit: %w", err)
	}
	return exists, nil
}
