package services

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/Ghostrayu/xahpayroll-sub001/internal/models"
	"github.com/Ghostrayu/xahpayroll-sub001/internal/payerr"
)

// LifecycleChannelRepo is the channel repository interface for the state machine.
type LifecycleChannelRepo interface {
	Create(ctx context.Context, c *models.Channel) (created bool, err error)
	GetByID(ctx context.Context, channelID string) (*models.Channel, error)
	GetByIDForUpdate(ctx context.Context, tx pgx.Tx, channelID string) (*models.Channel, error)
	MarkClosing(ctx context.Context, tx pgx.Tx, channelID string, expiration time.Time) error
	AddWages(ctx context.Context, tx pgx.Tx, channelID string, delta decimal.Decimal) (decimal.Decimal, error)
	Close(ctx context.Context, tx pgx.Tx, channelID, closureTxHash string) error
	ListByStatus(ctx context.Context, status string) ([]*models.Channel, error)
}

// LifecycleSessionRepo is the slice of the session repository the closure path
// uses to settle work still in progress.
type LifecycleSessionRepo interface {
	ListActiveByChannel(ctx context.Context, tx pgx.Tx, channelID string) ([]*models.WorkSession, error)
	Complete(ctx context.Context, tx pgx.Tx, id uuid.UUID, status string, clockOut time.Time, amount decimal.Decimal) error
}

// LifecycleSettlementRepo persists and re-reads closure settlement records.
type LifecycleSettlementRepo interface {
	Create(ctx context.Context, tx pgx.Tx, s *models.Settlement) error
	GetByChannelIDTx(ctx context.Context, tx pgx.Tx, channelID string) (*models.Settlement, error)
}

// Lifecycle governs the channel state machine: active -> closing -> closed,
// with the direct active -> closed fast path. No transition reverses.
type Lifecycle struct {
	db          TxBeginner
	channels    LifecycleChannelRepo
	sessions    LifecycleSessionRepo
	settlements LifecycleSettlementRepo
	reconciler  *Reconciler
	ledger      LedgerClient
	signer      SigningProvider
	now         func() time.Time
	logger      *slog.Logger
}

func NewLifecycle(
	db TxBeginner,
	channels LifecycleChannelRepo,
	sessions LifecycleSessionRepo,
	settlements LifecycleSettlementRepo,
	reconciler *Reconciler,
	ledger LedgerClient,
	signer SigningProvider,
	logger *slog.Logger,
) *Lifecycle {
	return &Lifecycle{
		db:          db,
		channels:    channels,
		sessions:    sessions,
		settlements: settlements,
		reconciler:  reconciler,
		ledger:      ledger,
		signer:      signer,
		now:         time.Now,
		logger:      logger,
	}
}

// OpenChannel records a channel already funded on the ledger. The ledger
// assigns the channel id, so re-posting the same channel returns the existing
// row unchanged: creation is single-flight across processes by storage
// uniqueness, not by an in-memory guard.
func (l *Lifecycle) OpenChannel(ctx context.Context, ch *models.Channel) (*models.Channel, bool, error) {
	if !models.IsChannelID(ch.ChannelID) {
		return nil, false, payerr.New(payerr.KindValidation, ch.ChannelID, "malformed channel id")
	}
	if ch.CreationTxHash == "" {
		return nil, false, payerr.New(payerr.KindValidation, ch.ChannelID, "creation tx hash is required")
	}
	if ch.EscrowFundedAmount.IsNegative() {
		return nil, false, payerr.New(payerr.KindValidation, ch.ChannelID, "funded amount must be non-negative")
	}

	ch.Status = models.ChannelStatusActive
	created, err := l.channels.Create(ctx, ch)
	if err != nil {
		return nil, false, err
	}
	if !created {
		existing, err := l.channels.GetByID(ctx, ch.ChannelID)
		if err != nil {
			return nil, false, err
		}
		return existing, false, nil
	}
	l.logger.Info("channel opened",
		"channel_id", ch.ChannelID, "funded", ch.EscrowFundedAmount, "creation_tx", ch.CreationTxHash)
	return ch, true, nil
}

// InitiateClosure transitions active -> closing and records the ledger-side
// expiration. Any other starting state is a StateConflict.
func (l *Lifecycle) InitiateClosure(ctx context.Context, channelID string, expiration time.Time) error {
	tx, err := l.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if err := l.channels.MarkClosing(ctx, tx, channelID, expiration); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return l.closureStateConflict(ctx, channelID)
		}
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return err
	}
	l.logger.Info("closure initiated", "channel_id", channelID, "expiration", expiration)
	return nil
}

func (l *Lifecycle) closureStateConflict(ctx context.Context, channelID string) error {
	ch, err := l.channels.GetByID(ctx, channelID)
	if errors.Is(err, pgx.ErrNoRows) {
		return payerr.New(payerr.KindValidation, channelID, "channel not found")
	}
	if err != nil {
		return err
	}
	return payerr.New(payerr.KindStateConflict, channelID, "channel is "+ch.Status+", not active")
}

// ConfirmClosure moves the channel to its terminal state: the off-chain
// balance is snapshotted into the settlement record and zeroed, the closure
// hash and timestamp recorded, and the status flipped — one transaction, no
// intermediate observable state.
//
// Idempotent and hash-checked: re-confirming an already-closed channel with
// the same hash returns the recorded settlement unchanged; a different hash
// is a ClosureConflict and is never silently accepted. Crash recovery relies
// on exactly this: after a crash between broadcast and confirmation, the
// recovered process replays ConfirmClosure with the hash observed on the
// ledger.
func (l *Lifecycle) ConfirmClosure(ctx context.Context, channelID, closureTxHash string) (*models.Settlement, error) {
	if closureTxHash == "" {
		return nil, payerr.New(payerr.KindValidation, channelID, "closure tx hash is required")
	}

	tx, err := l.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	ch, err := l.channels.GetByIDForUpdate(ctx, tx, channelID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, payerr.New(payerr.KindValidation, channelID, "channel not found")
	}
	if err != nil {
		return nil, err
	}

	if ch.Status == models.ChannelStatusClosed {
		if ch.ClosureTxHash != nil && *ch.ClosureTxHash == closureTxHash {
			return l.settlements.GetByChannelIDTx(ctx, tx, channelID)
		}
		recorded := ""
		if ch.ClosureTxHash != nil {
			recorded = *ch.ClosureTxHash
		}
		return nil, payerr.New(payerr.KindClosureConflict, channelID,
			"already closed with tx "+recorded+", refusing "+closureTxHash)
	}

	// Sessions still open when the channel closes are settled inside the
	// closure transaction: elapsed time is paid into the off-chain balance
	// before the settlement snapshot is taken, so no earned wage is stranded
	// behind a closed channel.
	snapshot, err := l.settleOpenSessions(ctx, tx, channelID, ch.OffChainBalance)
	if err != nil {
		return nil, err
	}

	amount, refund, err := ComputeSettlement(channelID, snapshot, ch.EscrowFundedAmount)
	if err != nil {
		return nil, err
	}

	settlement := &models.Settlement{
		ID:             uuid.New(),
		ChannelID:      channelID,
		Amount:         amount,
		Refund:         refund,
		ClosureTxHash:  closureTxHash,
		OnChainAtClose: ch.OnChainBalance,
	}
	if err := l.settlements.Create(ctx, tx, settlement); err != nil {
		return nil, err
	}
	if err := l.channels.Close(ctx, tx, channelID, closureTxHash); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}

	l.logger.Info("channel closed",
		"channel_id", channelID, "settlement", amount, "refund", refund,
		"on_chain_at_close", ch.OnChainBalance, "closure_tx", closureTxHash)

	// Post-closure reconciliation pass on the terminal pair.
	closed := *ch
	closed.Status = models.ChannelStatusClosed
	closed.OffChainBalance = decimal.Zero
	if _, err := l.reconciler.Check(ctx, &closed); err != nil {
		l.logger.Error("post-closure reconciliation fault", "channel_id", channelID, "error", err)
	}
	return settlement, nil
}

// settleOpenSessions completes every active session on the channel inside the
// caller's transaction, paying elapsed time into the off-chain balance. It
// returns the balance after settlement. base is the balance read under the
// same lock.
func (l *Lifecycle) settleOpenSessions(ctx context.Context, tx pgx.Tx, channelID string, base decimal.Decimal) (decimal.Decimal, error) {
	open, err := l.sessions.ListActiveByChannel(ctx, tx, channelID)
	if err != nil {
		return decimal.Zero, err
	}
	snapshot := base
	closeTime := l.now().UTC()
	for _, s := range open {
		elapsed := closeTime.Sub(s.ClockInTime)
		if elapsed < 0 {
			elapsed = 0
		}
		earned := wageAmount(s.HourlyRate, elapsed)
		if err := l.sessions.Complete(ctx, tx, s.ID, models.SessionStatusCompleted, closeTime, earned); err != nil {
			return decimal.Zero, err
		}
		snapshot, err = l.channels.AddWages(ctx, tx, channelID, earned)
		if err != nil {
			return decimal.Zero, err
		}
		l.logger.Info("open session settled at closure",
			"channel_id", channelID, "session_id", s.ID, "amount", earned)
	}
	return snapshot, nil
}

// settleOutstanding runs settleOpenSessions in its own locked transaction and
// returns the resulting wage snapshot.
func (l *Lifecycle) settleOutstanding(ctx context.Context, channelID string) (decimal.Decimal, error) {
	tx, err := l.db.Begin(ctx)
	if err != nil {
		return decimal.Zero, err
	}
	defer tx.Rollback(ctx)

	ch, err := l.channels.GetByIDForUpdate(ctx, tx, channelID)
	if err != nil {
		return decimal.Zero, err
	}
	snapshot, err := l.settleOpenSessions(ctx, tx, channelID, ch.OffChainBalance)
	if err != nil {
		return decimal.Zero, err
	}
	if err := tx.Commit(ctx); err != nil {
		return decimal.Zero, err
	}
	return snapshot, nil
}

// CloseChannel orchestrates the fast-path closure: settle any open sessions,
// read the wage snapshot, obtain a signed claim, submit it to the ledger —
// both round trips strictly outside any transaction — then confirm with the
// returned hash. Any external failure mutates nothing beyond session
// settlement, which stands on its own; a crash after submission is healed by
// RecoverPendingClosures.
func (l *Lifecycle) CloseChannel(ctx context.Context, channelID string) (*models.Settlement, error) {
	ch, err := l.channels.GetByID(ctx, channelID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, payerr.New(payerr.KindValidation, channelID, "channel not found")
	}
	if err != nil {
		return nil, err
	}
	if ch.Status == models.ChannelStatusClosed {
		if ch.ClosureTxHash != nil {
			return l.ConfirmClosure(ctx, channelID, *ch.ClosureTxHash)
		}
		return nil, payerr.New(payerr.KindStateConflict, channelID, "channel already closed")
	}

	// Clock out open work before signing so the claim covers it. The confirm
	// step re-checks under lock for anything that slipped in between.
	snapshot, err := l.settleOutstanding(ctx, channelID)
	if err != nil {
		return nil, err
	}

	req := NewClaimRequest(channelID, snapshot)
	signed, err := l.signer.SignClaim(ctx, req)
	if err != nil {
		return nil, payerr.Wrap(payerr.KindExternalCall, channelID, "claim signing failed", err)
	}
	txHash, err := l.ledger.SubmitClaim(ctx, req, signed)
	if err != nil {
		return nil, payerr.Wrap(payerr.KindExternalCall, channelID, "claim submission failed", err)
	}
	return l.ConfirmClosure(ctx, channelID, txHash)
}

// RecoverPendingClosures replays confirmation for channels stuck in closing:
// the ledger is re-queried for each channel's terminal state, and any channel
// the ledger reports settled is confirmed with the observed hash. Safe to run
// at every startup.
func (l *Lifecycle) RecoverPendingClosures(ctx context.Context) error {
	pending, err := l.channels.ListByStatus(ctx, models.ChannelStatusClosing)
	if err != nil {
		return err
	}
	for _, ch := range pending {
		state, err := l.ledger.GetChannelState(ctx, ch.ChannelID)
		if err != nil {
			l.logger.Warn("recovery: ledger query failed", "channel_id", ch.ChannelID, "error", err)
			continue
		}
		if !state.Closed || state.ClosureTxHash == "" {
			continue
		}
		if _, err := l.ConfirmClosure(ctx, ch.ChannelID, state.ClosureTxHash); err != nil {
			l.logger.Error("recovery: closure replay failed", "channel_id", ch.ChannelID, "error", err)
			continue
		}
		l.logger.Info("recovery: closure replayed", "channel_id", ch.ChannelID, "closure_tx", state.ClosureTxHash)
	}
	return nil
}
