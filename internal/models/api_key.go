package models

import (
	"time"

	"github.com/google/uuid"
)

// APIKey authenticates machine callers (worker timeclock clients, payroll
// integrations) on the /v1 surface. Only the SHA-256 hash is stored; the raw
// key is shown once at creation.
type APIKey struct {
	ID        uuid.UUID `json:"id"`
	AccountID uuid.UUID `json:"account_id"`
	KeyHash   string    `json:"-"`
	KeyPrefix string    `json:"key_prefix"`
	Label     string    `json:"label,omitempty"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
}
