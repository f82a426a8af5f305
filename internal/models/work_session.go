package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Work session status enum.
const (
	SessionStatusActive    = "active"
	SessionStatusCompleted = "completed"
	SessionStatusTimeout   = "timeout"
	SessionStatusCancelled = "cancelled"
)

// WorkSession is one clock-in/clock-out interval on a channel.
// HourlyRate is snapshotted at clock-in; later rate changes never alter it.
// ComputedAmount is set exactly once, when the session completes.
type WorkSession struct {
	ID             uuid.UUID        `json:"id"`
	ChannelID      string           `json:"channel_id"`
	WorkerID       uuid.UUID        `json:"worker_id"`
	Status         string           `json:"status"`
	ClockInTime    time.Time        `json:"clock_in_time"`
	ClockOutTime   *time.Time       `json:"clock_out_time,omitempty"`
	HourlyRate     decimal.Decimal  `json:"hourly_rate"`
	ComputedAmount *decimal.Decimal `json:"computed_amount,omitempty"`
	CreatedAt      time.Time        `json:"created_at"`
	UpdatedAt      time.Time        `json:"updated_at"`
}
