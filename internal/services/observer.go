package services

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/Ghostrayu/xahpayroll-sub001/internal/models"
	"github.com/Ghostrayu/xahpayroll-sub001/internal/payerr"
)

// ChannelState is a point-in-time read of a channel from the external ledger.
type ChannelState struct {
	Balance       decimal.Decimal
	FundedAmount  decimal.Decimal
	Closed        bool
	ClosureTxHash string
}

// LedgerClient is the opaque, possibly-failing remote ledger. Retry and
// backoff policy is owned by callers, not embedded here.
type LedgerClient interface {
	GetChannelState(ctx context.Context, channelID string) (*ChannelState, error)
	SubmitClaim(ctx context.Context, req ClaimRequest, signedPayload []byte) (txHash string, err error)
}

// SigningProvider produces a signed transaction blob for a claim. The core
// hands it unsigned settlement parameters and never sees key material.
type SigningProvider interface {
	SignClaim(ctx context.Context, req ClaimRequest) ([]byte, error)
}

// ObserverChannelRepo is the channel interface for the on-chain observer.
type ObserverChannelRepo interface {
	GetByID(ctx context.Context, channelID string) (*models.Channel, error)
	RecordLedgerState(ctx context.Context, channelID string, balance, fundedAmount decimal.Decimal, syncedAt time.Time) error
	ListUnclosed(ctx context.Context) ([]*models.Channel, error)
}

// Observer mirrors the external ledger's view of each channel into
// on_chain_balance and escrow_funded_amount. It is a one-way mirror: it never
// reads or writes off_chain_balance, and nothing it observes influences
// payment.
type Observer struct {
	ledger     LedgerClient
	channels   ObserverChannelRepo
	reconciler *Reconciler
	now        func() time.Time
	logger     *slog.Logger
}

func NewObserver(ledger LedgerClient, channels ObserverChannelRepo, reconciler *Reconciler, logger *slog.Logger) *Observer {
	return &Observer{
		ledger:     ledger,
		channels:   channels,
		reconciler: reconciler,
		now:        time.Now,
		logger:     logger,
	}
}

// Sync fetches the ledger state (outside any transaction), commits the
// observed fields, then runs the discrepancy monitor on the fresh pair.
// A failed fetch writes nothing. Re-running with the same ledger snapshot
// stores the same values.
func (o *Observer) Sync(ctx context.Context, channelID string) (*models.Channel, error) {
	if _, err := o.channels.GetByID(ctx, channelID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, payerr.New(payerr.KindValidation, channelID, "channel not found")
		}
		return nil, err
	}

	state, err := o.ledger.GetChannelState(ctx, channelID)
	if err != nil {
		return nil, payerr.Wrap(payerr.KindExternalCall, channelID, "ledger fetch failed", err)
	}
	if state.Balance.IsNegative() || state.FundedAmount.IsNegative() {
		return nil, payerr.New(payerr.KindExternalCall, channelID, "ledger reported negative amounts")
	}

	syncedAt := o.now().UTC()
	if err := o.channels.RecordLedgerState(ctx, channelID, state.Balance, state.FundedAmount, syncedAt); err != nil {
		return nil, err
	}

	ch, err := o.channels.GetByID(ctx, channelID)
	if err != nil {
		return nil, err
	}
	o.logger.Info("ledger sync",
		"channel_id", channelID, "on_chain", ch.OnChainBalance,
		"funded", ch.EscrowFundedAmount, "off_chain", ch.OffChainBalance)

	if _, err := o.reconciler.Check(ctx, ch); err != nil {
		return ch, err
	}
	return ch, nil
}

// SyncAll runs Sync over every non-closed channel; individual failures are
// logged and do not stop the cycle.
func (o *Observer) SyncAll(ctx context.Context) error {
	channels, err := o.channels.ListUnclosed(ctx)
	if err != nil {
		return err
	}
	for _, ch := range channels {
		if _, err := o.Sync(ctx, ch.ChannelID); err != nil {
			o.logger.Error("channel sync failed", "channel_id", ch.ChannelID, "error", err)
		}
	}
	return nil
}
