package repository

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Ghostrayu/xahpayroll-sub001/internal/models"
)

type SettlementRepo struct {
	pool *pgxpool.Pool
}

func NewSettlementRepo(pool *pgxpool.Pool) *SettlementRepo {
	return &SettlementRepo{pool: pool}
}

// Create inserts the settlement record inside the closure transaction.
func (r *SettlementRepo) Create(ctx context.Context, tx pgx.Tx, s *models.Settlement) error {
	return tx.QueryRow(ctx, `
		INSERT INTO settlements (id, channel_id, amount, refund, closure_tx_hash, on_chain_at_close)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at
	`, s.ID, s.ChannelID, s.Amount, s.Refund, s.ClosureTxHash, s.OnChainAtClose).Scan(&s.CreatedAt)
}

func (r *SettlementRepo) GetByChannelID(ctx context.Context, channelID string) (*models.Settlement, error) {
	var s models.Settlement
	err := r.pool.QueryRow(ctx, `
		SELECT id, channel_id, amount, refund, closure_tx_hash, on_chain_at_close, created_at
		FROM settlements WHERE channel_id = $1
	`, channelID).Scan(&s.ID, &s.ChannelID, &s.Amount, &s.Refund, &s.ClosureTxHash, &s.OnChainAtClose, &s.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// GetByChannelIDTx reads the settlement inside an open transaction, for the
// idempotent re-confirmation path.
func (r *SettlementRepo) GetByChannelIDTx(ctx context.Context, tx pgx.Tx, channelID string) (*models.Settlement, error) {
	var s models.Settlement
	err := tx.QueryRow(ctx, `
		SELECT id, channel_id, amount, refund, closure_tx_hash, on_chain_at_close, created_at
		FROM settlements WHERE channel_id = $1
	`, channelID).Scan(&s.ID, &s.ChannelID, &s.Amount, &s.Refund, &s.ClosureTxHash, &s.OnChainAtClose, &s.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &s, nil
}
