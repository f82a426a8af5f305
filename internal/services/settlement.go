package services

import (
	"github.com/shopspring/decimal"

	"github.com/Ghostrayu/xahpayroll-sub001/internal/payerr"
)

// ClaimRequest carries the unsigned settlement parameters handed to the
// signing provider and the ledger client. The core never constructs or stores
// keys; it only describes what to claim.
//
// Amount is a pointer so a zero-value claim is omitted from the serialized
// payload entirely — the ledger rejects an explicit zero-amount claim as
// malformed.
type ClaimRequest struct {
	ChannelID string           `json:"channel_id"`
	Amount    *decimal.Decimal `json:"amount,omitempty"`
}

// NewClaimRequest builds the claim for a settlement amount, omitting the
// amount field when it is exactly zero.
func NewClaimRequest(channelID string, amount decimal.Decimal) ClaimRequest {
	req := ClaimRequest{ChannelID: channelID}
	if !amount.IsZero() {
		req.Amount = &amount
	}
	return req
}

// ComputeSettlement derives the final claim and refund from the off-chain
// balance snapshot. The on-chain balance never enters this computation.
// A settlement exceeding the funded escrow means the escrow accounting is
// corrupted and surfaces as LedgerDiscrepancyFault.
func ComputeSettlement(channelID string, snapshot, fundedAmount decimal.Decimal) (amount, refund decimal.Decimal, err error) {
	if snapshot.IsNegative() {
		return decimal.Zero, decimal.Zero, payerr.New(payerr.KindLedgerDiscrepancy, channelID,
			"off-chain balance is negative: "+snapshot.String())
	}
	refund = fundedAmount.Sub(snapshot)
	if refund.IsNegative() {
		return decimal.Zero, decimal.Zero, payerr.New(payerr.KindLedgerDiscrepancy, channelID,
			"settlement "+snapshot.String()+" exceeds funded escrow "+fundedAmount.String())
	}
	return snapshot, refund, nil
}
