package repositories

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/rail-service/deposit_watcher/internal/domain/entities"
)

const walletColumns = `id, user_id, chain, currency, address, balance, updated_at`

// WalletRepository resolves watched addresses to user wallets
type WalletRepository struct {
	db *sqlx.DB
}

// NewWalletRepository creates a new wallet repository
func NewWalletRepository(db *sqlx.DB) *WalletRepository {
	return &WalletRepository{db: db}
}

// FindWallet returns the wallet holding currency at address on chain, or nil
func (r *WalletRepository) FindWallet(ctx context.Context, chain, currency, address string) (*entities.Wallet, error) {
	query := `SELECT ` + walletColumns + `
		FROM wallets
		WHERE chain = $1 AND currency = $2 AND LOWER(address) = LOWER($3)`

	var wallet entities.Wallet
	if err := r.db.GetContext(ctx, &wallet, query, chain, currency, address); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to find wallet: %w", err)
	}
	return &wallet, nil
}

// GetByID retrieves a wallet by ID
func (r *WalletRepository) GetByID(ctx context.Context, id uuid.UUID) (*entities.Wallet, error) {
	var wallet entities.Wallet
	if err := r.db.GetContext(ctx, &wallet, `SELECT `+walletColumns+` FROM wallets WHERE id = $1`, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get wallet: %w", err)
	}
	return &wallet, nil
}

// ListByUser returns every wallet owned by userID
func (r *WalletRepository) ListByUser(ctx context.Context, userID string) ([]*entities.Wallet, error) {
	var wallets []*entities.Wallet
	query := `SELECT ` + walletColumns + ` FROM wallets WHERE user_id = $1 ORDER BY chain, currency`
	if err := r.db.SelectContext(ctx, &wallets, query, userID); err != nil {
		return nil, fmt.Errorf("failed to list wallets: %w", err)
	}
	return wallets, nil
}
