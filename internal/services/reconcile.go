package services

import (
	"context"
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/Ghostrayu/xahpayroll-sub001/internal/models"
	"github.com/Ghostrayu/xahpayroll-sub001/internal/payerr"
)

// DiscrepancyEpsilon is the residual mismatch tolerated on a closed channel.
var DiscrepancyEpsilon = decimal.RequireFromString("0.01")

type DiscrepancySeverity int

const (
	// SeverityNone: balances match within epsilon on a closed channel.
	SeverityNone DiscrepancySeverity = iota
	// SeverityInfo: expected drift on an active or closing channel.
	SeverityInfo
	// SeverityFault: residual mismatch on a closed channel. Terminal; needs
	// manual audit, never auto-retried.
	SeverityFault
)

// Discrepancy is the result of comparing the two balances of a channel.
type Discrepancy struct {
	ChannelID string
	Status    string
	OnChain   decimal.Decimal
	OffChain  decimal.Decimal
	Diff      decimal.Decimal
	Severity  DiscrepancySeverity
}

// ClassifyDiscrepancy is a pure function over the balance pair and the
// channel's lifecycle state. On open channels any difference is expected
// (off-chain work has not settled yet); on closed channels anything beyond
// epsilon is a reconciliation fault.
func ClassifyDiscrepancy(channelID string, onChain, offChain decimal.Decimal, status string) Discrepancy {
	d := Discrepancy{
		ChannelID: channelID,
		Status:    status,
		OnChain:   onChain,
		OffChain:  offChain,
		Diff:      onChain.Sub(offChain),
	}
	switch status {
	case models.ChannelStatusClosed:
		if d.Diff.Abs().GreaterThan(DiscrepancyEpsilon) {
			d.Severity = SeverityFault
		} else {
			d.Severity = SeverityNone
		}
	default:
		if d.Diff.IsZero() {
			d.Severity = SeverityNone
		} else {
			d.Severity = SeverityInfo
		}
	}
	return d
}

// AuditFlagger marks a channel for manual reconciliation review.
type AuditFlagger interface {
	FlagForAudit(ctx context.Context, channelID string) error
}

// Reconciler runs the discrepancy monitor after observer cycles and closures.
type Reconciler struct {
	channels AuditFlagger
	logger   *slog.Logger
}

func NewReconciler(channels AuditFlagger, logger *slog.Logger) *Reconciler {
	return &Reconciler{channels: channels, logger: logger}
}

// Check classifies the channel's balance pair, emits the event, and flags
// faults for audit. A fault is returned as LedgerDiscrepancyFault; nothing
// retries it.
func (r *Reconciler) Check(ctx context.Context, ch *models.Channel) (Discrepancy, error) {
	d := ClassifyDiscrepancy(ch.ChannelID, ch.OnChainBalance, ch.OffChainBalance, ch.Status)

	switch d.Severity {
	case SeverityInfo:
		r.logger.Info("balance discrepancy (expected, unsettled work)",
			"channel_id", d.ChannelID, "status", d.Status,
			"on_chain", d.OnChain, "off_chain", d.OffChain, "diff", d.Diff)
	case SeverityFault:
		r.logger.Error("residual discrepancy on closed channel, flagging for audit",
			"channel_id", d.ChannelID, "on_chain", d.OnChain, "off_chain", d.OffChain, "diff", d.Diff)
		if err := r.channels.FlagForAudit(ctx, ch.ChannelID); err != nil {
			return d, err
		}
		return d, payerr.New(payerr.KindLedgerDiscrepancy, ch.ChannelID,
			"closed channel balances differ by "+d.Diff.String())
	}
	return d, nil
}
