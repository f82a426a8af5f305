package services

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"

	"github.com/Ghostrayu/xahpayroll-sub001/internal/models"
	"github.com/Ghostrayu/xahpayroll-sub001/internal/payerr"
)

const (
	incrementAttempts = 3
	incrementBackoff  = 25 * time.Millisecond
)

// TxBeginner abstracts transaction creation so tests don't need a pgxpool.Pool.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// WageChannelRepo is the minimal channel repository interface for the wage ledger.
type WageChannelRepo interface {
	GetByID(ctx context.Context, channelID string) (*models.Channel, error)
	AddWages(ctx context.Context, tx pgx.Tx, channelID string, delta decimal.Decimal) (decimal.Decimal, error)
}

// WageLedger owns every write to off_chain_balance except the closure path
// (see Lifecycle.ConfirmClosure), which settles outstanding sessions and
// zeroes the balance inside its own transaction.
type WageLedger struct {
	db       TxBeginner
	channels WageChannelRepo
	logger   *slog.Logger
}

func NewWageLedger(db TxBeginner, channels WageChannelRepo, logger *slog.Logger) *WageLedger {
	return &WageLedger{db: db, channels: channels, logger: logger}
}

// IncrementTx adds delta to the channel's off-chain balance inside the
// caller's transaction, so session completion and the balance update commit
// together or not at all.
func (l *WageLedger) IncrementTx(ctx context.Context, tx pgx.Tx, channelID string, delta decimal.Decimal) (decimal.Decimal, error) {
	if delta.IsNegative() {
		return decimal.Zero, payerr.New(payerr.KindValidation, channelID, "wage increment must be non-negative")
	}
	newBalance, err := l.channels.AddWages(ctx, tx, channelID, delta)
	if errors.Is(err, pgx.ErrNoRows) {
		return decimal.Zero, payerr.New(payerr.KindStateConflict, channelID, "channel is closed or unknown")
	}
	if err != nil {
		return decimal.Zero, err
	}
	return newBalance, nil
}

// Increment runs IncrementTx in its own serialized transaction.
func (l *WageLedger) Increment(ctx context.Context, channelID string, delta decimal.Decimal) (decimal.Decimal, error) {
	var newBalance decimal.Decimal
	err := l.RunSerialized(ctx, channelID, func(tx pgx.Tx) error {
		var err error
		newBalance, err = l.IncrementTx(ctx, tx, channelID, delta)
		return err
	})
	if err != nil {
		return decimal.Zero, err
	}
	return newBalance, nil
}

// Read returns a non-blocking snapshot of the off-chain balance. It may lag a
// concurrent completion by one cycle but is never torn.
func (l *WageLedger) Read(ctx context.Context, channelID string) (decimal.Decimal, error) {
	ch, err := l.channels.GetByID(ctx, channelID)
	if err != nil {
		return decimal.Zero, err
	}
	return ch.OffChainBalance, nil
}

// RunSerialized executes fn inside a transaction, retrying the whole
// transaction a bounded number of times when Postgres reports lock contention.
// Exhausted retries surface as ConcurrencyConflict.
func (l *WageLedger) RunSerialized(ctx context.Context, channelID string, fn func(tx pgx.Tx) error) error {
	var lastErr error
	for attempt := 1; attempt <= incrementAttempts; attempt++ {
		lastErr = l.runOnce(ctx, fn)
		if lastErr == nil || !retryableTxError(lastErr) {
			return lastErr
		}
		l.logger.Warn("channel mutation contention, retrying",
			"channel_id", channelID, "attempt", attempt, "error", lastErr)
		select {
		case <-time.After(time.Duration(attempt) * incrementBackoff):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return payerr.Wrap(payerr.KindConcurrencyConflict, channelID, "retries exhausted", lastErr)
}

func (l *WageLedger) runOnce(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := l.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// retryableTxError reports whether err is a serialization failure (40001) or
// deadlock (40P01) that a fresh transaction may survive.
func retryableTxError(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "40001" || pgErr.Code == "40P01"
	}
	return false
}
