// Package payerr classifies payroll-channel errors so callers can branch on
// kind without string matching. Every error carries the channel (and, where
// relevant, session) identifier needed to reproduce and audit the failure.
package payerr

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

type Kind int

const (
	// KindUnknown is an unclassified internal error.
	KindUnknown Kind = iota
	// KindValidation: malformed input. Never retried.
	KindValidation
	// KindStateConflict: operation invalid for the entity's current state.
	KindStateConflict
	// KindConcurrencyConflict: per-channel lock contention, retries exhausted.
	KindConcurrencyConflict
	// KindClosureConflict: re-confirmation with a different closure hash.
	// Fatal; requires manual investigation.
	KindClosureConflict
	// KindLedgerDiscrepancy: residual mismatch on a closed channel, or a
	// settlement exceeding escrow. Fatal; flagged for audit.
	KindLedgerDiscrepancy
	// KindExternalCall: ledger or signing round trip failed. No local state
	// was mutated; retry policy belongs to the caller.
	KindExternalCall
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation_error"
	case KindStateConflict:
		return "state_conflict"
	case KindConcurrencyConflict:
		return "concurrency_conflict"
	case KindClosureConflict:
		return "closure_conflict"
	case KindLedgerDiscrepancy:
		return "ledger_discrepancy_fault"
	case KindExternalCall:
		return "external_call_failure"
	default:
		return "unknown"
	}
}

type Error struct {
	Kind      Kind
	ChannelID string
	SessionID uuid.UUID
	Msg       string
	Err       error
}

func (e *Error) Error() string {
	s := e.Kind.String() + ": " + e.Msg
	if e.ChannelID != "" {
		s += fmt.Sprintf(" (channel %s)", e.ChannelID)
	}
	if e.SessionID != uuid.Nil {
		s += fmt.Sprintf(" (session %s)", e.SessionID)
	}
	if e.Err != nil {
		s += ": " + e.Err.Error()
	}
	return s
}

func (e *Error) Unwrap() error { return e.Err }

// New returns a classified error for the given channel.
func New(kind Kind, channelID, msg string) *Error {
	return &Error{Kind: kind, ChannelID: channelID, Msg: msg}
}

// NewSession returns a classified error for the given session.
func NewSession(kind Kind, channelID string, sessionID uuid.UUID, msg string) *Error {
	return &Error{Kind: kind, ChannelID: channelID, SessionID: sessionID, Msg: msg}
}

// Wrap classifies an underlying error.
func Wrap(kind Kind, channelID, msg string, err error) *Error {
	return &Error{Kind: kind, ChannelID: channelID, Msg: msg, Err: err}
}

// KindOf extracts the classification from err, unwrapping as needed.
// Unclassified errors report KindUnknown.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}
