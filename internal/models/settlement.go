package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Settlement is the closure record of a channel: the off-chain balance
// snapshotted at the instant the channel was closed, and the refund of the
// unspent escrow. OnChainAtClose is recorded for audit only and never feeds
// the payable amount.
type Settlement struct {
	ID             uuid.UUID       `json:"id"`
	ChannelID      string          `json:"channel_id"`
	Amount         decimal.Decimal `json:"amount"`
	Refund         decimal.Decimal `json:"refund"`
	ClosureTxHash  string          `json:"closure_tx_hash"`
	OnChainAtClose decimal.Decimal `json:"on_chain_at_close"`
	CreatedAt      time.Time       `json:"created_at"`
}
