package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/Ghostrayu/xahpayroll-sub001/internal/models"
)

type SessionRepo struct {
	pool *pgxpool.Pool
}

func NewSessionRepo(pool *pgxpool.Pool) *SessionRepo {
	return &SessionRepo{pool: pool}
}

const sessionColumns = `id, channel_id, worker_id, status, clock_in_time, clock_out_time,
	hourly_rate, computed_amount, created_at, updated_at`

func scanSession(row pgx.Row) (*models.WorkSession, error) {
	var s models.WorkSession
	err := row.Scan(&s.ID, &s.ChannelID, &s.WorkerID, &s.Status, &s.ClockInTime, &s.ClockOutTime,
		&s.HourlyRate, &s.ComputedAmount, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// Create inserts a session inside the clock-in transaction.
func (r *SessionRepo) Create(ctx context.Context, tx pgx.Tx, s *models.WorkSession) error {
	return tx.QueryRow(ctx, `
		INSERT INTO work_sessions (id, channel_id, worker_id, status, clock_in_time, hourly_rate)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at, updated_at
	`, s.ID, s.ChannelID, s.WorkerID, s.Status, s.ClockInTime, s.HourlyRate).Scan(&s.CreatedAt, &s.UpdatedAt)
}

func (r *SessionRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.WorkSession, error) {
	return scanSession(r.pool.QueryRow(ctx,
		`SELECT `+sessionColumns+` FROM work_sessions WHERE id = $1`, id))
}

// GetByIDForUpdate locks the session row. Call within a transaction.
func (r *SessionRepo) GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.WorkSession, error) {
	return scanSession(tx.QueryRow(ctx,
		`SELECT `+sessionColumns+` FROM work_sessions WHERE id = $1 FOR UPDATE`, id))
}

// HasActiveSession reports whether the worker already has an open session on
// the channel. Call under the channel row lock so concurrent clock-ins on the
// same channel cannot both pass the check.
func (r *SessionRepo) HasActiveSession(ctx context.Context, tx pgx.Tx, channelID string, workerID uuid.UUID) (bool, error) {
	var exists bool
	err := tx.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM work_sessions
			WHERE channel_id = $1 AND worker_id = $2 AND status = 'active'
		)
	`, channelID, workerID).Scan(&exists)
	return exists, err
}

// Complete flips an active session to its terminal status and writes the
// clock-out time and computed amount exactly once. The status='active' guard
// makes repeat completion a no-op; pgx.ErrNoRows signals the session was
// already completed (or never active).
func (r *SessionRepo) Complete(ctx context.Context, tx pgx.Tx, id uuid.UUID, status string, clockOut time.Time, amount decimal.Decimal) error {
	var sid uuid.UUID
	return tx.QueryRow(ctx, `
		UPDATE work_sessions SET status = $2, clock_out_time = $3, computed_amount = $4, updated_at = now()
		WHERE id = $1 AND status = 'active'
		RETURNING id
	`, id, status, clockOut, amount).Scan(&sid)
}

// ListActiveByChannel locks and returns the channel's open sessions. Used by
// the closure path to settle outstanding work inside its transaction.
func (r *SessionRepo) ListActiveByChannel(ctx context.Context, tx pgx.Tx, channelID string) ([]*models.WorkSession, error) {
	rows, err := tx.Query(ctx,
		`SELECT `+sessionColumns+` FROM work_sessions WHERE channel_id = $1 AND status = 'active' FOR UPDATE`, channelID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []*models.WorkSession
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, s)
	}
	return list, rows.Err()
}

func (r *SessionRepo) ListByChannel(ctx context.Context, channelID string) ([]*models.WorkSession, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+sessionColumns+` FROM work_sessions WHERE channel_id = $1 ORDER BY clock_in_time DESC`, channelID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []*models.WorkSession
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, s)
	}
	return list, rows.Err()
}

// ListStale returns sessions that have been open since before cutoff.
// Used by the timeout sweep.
func (r *SessionRepo) ListStale(ctx context.Context, cutoff time.Time) ([]*models.WorkSession, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+sessionColumns+` FROM work_sessions WHERE status = 'active' AND clock_in_time < $1 ORDER BY clock_in_time`, cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []*models.WorkSession
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, s)
	}
	return list, rows.Err()
}
