package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/rail-service/deposit_watcher/internal/domain/entities"
)

// UTXORepository stores outputs paying watched addresses
type UTXORepository struct {
	db *sqlx.DB
}

// NewUTXORepository creates a new UTXO repository
func NewUTXORepository(db *sqlx.DB) *UTXORepository {
	return &UTXORepository{db: db}
}

// RecordOutput stores an unspent output. Re-recording the same output is a no-op.
func (r *UTXORepository) RecordOutput(ctx context.Context, utxo *entities.UTXO) error {
	if utxo.CreatedAt.IsZero() {
		utxo.CreatedAt = time.Now().UTC()
	}
	query := `
		INSERT INTO utxos (chain, tx_hash, output_index, address, value, spent, created_at)
		VALUES (:chain, :tx_hash, :output_index, :address, :value, :spent, :created_at)
		ON CONFLICT (chain, tx_hash, output_index) DO NOTHING`
	if _, err := r.db.NamedExecContext(ctx, query, utxo); err != nil {
		return fmt.Errorf("record utxo: %w", err)
	}
	return nil
}

// ListUnspent returns unspent outputs for address on chain
func (r *UTXORepository) ListUnspent(ctx context.Context, chain, address string) ([]*entities.UTXO, error) {
	var utxos []*entities.UTXO
	query := `
		SELECT chain, tx_hash, output_index, address, value, spent, created_at
		FROM utxos
		WHERE chain = $1 AND address = $2 AND NOT spent
		ORDER BY created_at`
	if err := r.db.SelectContext(ctx, &utxos, query, chain, address); err != nil {
		return nil, fmt.Errorf("list unspent utxos: %w", err)
	}
	return utxos, nil
}
