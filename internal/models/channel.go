package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Channel status enum. Transitions are forward-only:
// active -> closing -> closed, or active -> closed (fast path).
const (
	ChannelStatusActive  = "active"
	ChannelStatusClosing = "closing"
	ChannelStatusClosed  = "closed"
)

// channelIDLen is the length of a ledger-assigned channel identifier (hex).
const channelIDLen = 64

// Channel mirrors a funded payment channel on the external ledger plus the
// local payroll state accrued against it.
//
// OffChainBalance is written only by the wage ledger (increment) and the
// closure transaction (zero). OnChainBalance and EscrowFundedAmount are
// written only by the ledger observer. No other code writes either field.
type Channel struct {
	ChannelID          string          `json:"channel_id"`
	EmployerAccountID  uuid.UUID       `json:"employer_account_id"`
	WorkerAccountID    uuid.UUID       `json:"worker_account_id"`
	Status             string          `json:"status"`
	OffChainBalance    decimal.Decimal `json:"off_chain_balance"`
	OnChainBalance     decimal.Decimal `json:"on_chain_balance"`
	EscrowFundedAmount decimal.Decimal `json:"escrow_funded_amount"`
	SettleDelaySeconds int64           `json:"settle_delay_seconds"`
	ExpirationTime     *time.Time      `json:"expiration_time,omitempty"`
	CreationTxHash     string          `json:"creation_tx_hash"`
	ClosureTxHash      *string         `json:"closure_tx_hash,omitempty"`
	ClosureInitiatedAt *time.Time      `json:"closure_initiated_at,omitempty"`
	ClosedAt           *time.Time      `json:"closed_at,omitempty"`
	LastLedgerSync     *time.Time      `json:"last_ledger_sync,omitempty"`
	FlaggedForAudit    bool            `json:"flagged_for_audit"`
	CreatedAt          time.Time       `json:"created_at"`
	UpdatedAt          time.Time       `json:"updated_at"`
}

// IsChannelID reports whether s is a well-formed ledger channel identifier:
// exactly 64 hex characters.
func IsChannelID(s string) bool {
	if len(s) != channelIDLen {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= '0' && c <= '9':
		case c >= 'a' && c <= 'f':
		case c >= 'A' && c <= 'F':
		default:
			return false
		}
	}
	return true
}
