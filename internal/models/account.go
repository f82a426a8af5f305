package models

import (
	"time"

	"github.com/google/uuid"
)

// Account role enum.
const (
	AccountRoleEmployer = "employer"
	AccountRoleWorker   = "worker"
)

type Account struct {
	ID            uuid.UUID `json:"id"`
	Email         string    `json:"email"`
	DisplayName   string    `json:"display_name"`
	Role          string    `json:"role"`
	PasswordHash  string    `json:"-"`
	LedgerAddress string    `json:"ledger_address,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}
