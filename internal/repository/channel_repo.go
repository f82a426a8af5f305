package repository

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/Ghostrayu/xahpayroll-sub001/internal/models"
)

type ChannelRepo struct {
	pool *pgxpool.Pool
}

func NewChannelRepo(pool *pgxpool.Pool) *ChannelRepo {
	return &ChannelRepo{pool: pool}
}

func (r *ChannelRepo) Begin(ctx context.Context) (pgx.Tx, error) {
	return r.pool.Begin(ctx)
}

const channelColumns = `channel_id, employer_account_id, worker_account_id, status,
	off_chain_balance, on_chain_balance, escrow_funded_amount, settle_delay_seconds,
	expiration_time, creation_tx_hash, closure_tx_hash, closure_initiated_at,
	closed_at, last_ledger_sync, flagged_for_audit, created_at, updated_at`

func scanChannel(row pgx.Row) (*models.Channel, error) {
	var c models.Channel
	err := row.Scan(&c.ChannelID, &c.EmployerAccountID, &c.WorkerAccountID, &c.Status,
		&c.OffChainBalance, &c.OnChainBalance, &c.EscrowFundedAmount, &c.SettleDelaySeconds,
		&c.ExpirationTime, &c.CreationTxHash, &c.ClosureTxHash, &c.ClosureInitiatedAt,
		&c.ClosedAt, &c.LastLedgerSync, &c.FlaggedForAudit, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// Create records a funded channel. The channel_id is assigned by the ledger
// and unique; re-posting an existing id is a no-op and Create reports
// created=false so callers can return the existing row instead.
func (r *ChannelRepo) Create(ctx context.Context, c *models.Channel) (created bool, err error) {
	err = r.pool.QueryRow(ctx, `
		INSERT INTO channels (channel_id, employer_account_id, worker_account_id, status,
			off_chain_balance, on_chain_balance, escrow_funded_amount, settle_delay_seconds,
			creation_tx_hash)
		VALUES ($1, $2, $3, $4, 0, 0, $5, $6, $7)
		ON CONFLICT (channel_id) DO NOTHING
		RETURNING created_at, updated_at
	`, c.ChannelID, c.EmployerAccountID, c.WorkerAccountID, c.Status,
		c.EscrowFundedAmount, c.SettleDelaySeconds, c.CreationTxHash).Scan(&c.CreatedAt, &c.UpdatedAt)
	if err == pgx.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// GetByID is a non-blocking snapshot read.
func (r *ChannelRepo) GetByID(ctx context.Context, channelID string) (*models.Channel, error) {
	return scanChannel(r.pool.QueryRow(ctx,
		`SELECT `+channelColumns+` FROM channels WHERE channel_id = $1`, channelID))
}

// GetByIDForUpdate locks the channel row. This row lock is the single
// serialization point for all mutations on the channel. Call within a
// transaction.
func (r *ChannelRepo) GetByIDForUpdate(ctx context.Context, tx pgx.Tx, channelID string) (*models.Channel, error) {
	return scanChannel(tx.QueryRow(ctx,
		`SELECT `+channelColumns+` FROM channels WHERE channel_id = $1 FOR UPDATE`, channelID))
}

// AddWages atomically adds delta to off_chain_balance. The status guard
// rejects closed channels; pgx.ErrNoRows means the channel is closed or
// missing. Call within the session-completion transaction.
func (r *ChannelRepo) AddWages(ctx context.Context, tx pgx.Tx, channelID string, delta decimal.Decimal) (newBalance decimal.Decimal, err error) {
	err = tx.QueryRow(ctx, `
		UPDATE channels SET off_chain_balance = off_chain_balance + $1, updated_at = now()
		WHERE channel_id = $2 AND status IN ('active', 'closing')
		RETURNING off_chain_balance
	`, delta, channelID).Scan(&newBalance)
	return newBalance, err
}

// MarkClosing transitions active -> closing. pgx.ErrNoRows means the channel
// was not active.
func (r *ChannelRepo) MarkClosing(ctx context.Context, tx pgx.Tx, channelID string, expiration time.Time) error {
	var id string
	return tx.QueryRow(ctx, `
		UPDATE channels SET status = 'closing', expiration_time = $2, closure_initiated_at = now(), updated_at = now()
		WHERE channel_id = $1 AND status = 'active'
		RETURNING channel_id
	`, channelID, expiration).Scan(&id)
}

// Close flips the channel to closed, records the closure hash, and zeroes
// off_chain_balance in the same statement. The caller holds the row lock and
// has already snapshotted the balance; committing the surrounding transaction
// makes snapshot and zeroing visible together.
func (r *ChannelRepo) Close(ctx context.Context, tx pgx.Tx, channelID, closureTxHash string) error {
	var id string
	return tx.QueryRow(ctx, `
		UPDATE channels SET status = 'closed', closure_tx_hash = $2, closed_at = now(),
			off_chain_balance = 0, updated_at = now()
		WHERE channel_id = $1 AND status IN ('active', 'closing')
		RETURNING channel_id
	`, channelID, closureTxHash).Scan(&id)
}

// RecordLedgerState writes the observer's fields and nothing else. Runs in
// its own implicit transaction; off_chain_balance is never touched here.
func (r *ChannelRepo) RecordLedgerState(ctx context.Context, channelID string, balance, fundedAmount decimal.Decimal, syncedAt time.Time) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE channels SET on_chain_balance = $2, escrow_funded_amount = $3, last_ledger_sync = $4, updated_at = now()
		WHERE channel_id = $1
	`, channelID, balance, fundedAmount, syncedAt)
	return err
}

// FlagForAudit marks the channel for manual reconciliation review.
func (r *ChannelRepo) FlagForAudit(ctx context.Context, channelID string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE channels SET flagged_for_audit = TRUE, updated_at = now() WHERE channel_id = $1
	`, channelID)
	return err
}

func (r *ChannelRepo) ListByStatus(ctx context.Context, status string) ([]*models.Channel, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+channelColumns+` FROM channels WHERE status = $1 ORDER BY created_at`, status)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []*models.Channel
	for rows.Next() {
		c, err := scanChannel(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, c)
	}
	return list, rows.Err()
}

// ListUnclosed returns active and closing channels, for the periodic sync.
func (r *ChannelRepo) ListUnclosed(ctx context.Context) ([]*models.Channel, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+channelColumns+` FROM channels WHERE status <> 'closed' ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []*models.Channel
	for rows.Next() {
		c, err := scanChannel(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, c)
	}
	return list, rows.Err()
}
