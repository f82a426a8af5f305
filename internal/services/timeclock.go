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

// TimeclockChannelRepo is the channel interface the tracker needs: the row
// lock that serializes all session activity on a channel.
type TimeclockChannelRepo interface {
	GetByIDForUpdate(ctx context.Context, tx pgx.Tx, channelID string) (*models.Channel, error)
}

// TimeclockSessionRepo is the work-session repository interface for the tracker.
type TimeclockSessionRepo interface {
	Create(ctx context.Context, tx pgx.Tx, s *models.WorkSession) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.WorkSession, error)
	GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.WorkSession, error)
	HasActiveSession(ctx context.Context, tx pgx.Tx, channelID string, workerID uuid.UUID) (bool, error)
	Complete(ctx context.Context, tx pgx.Tx, id uuid.UUID, status string, clockOut time.Time, amount decimal.Decimal) error
	ListStale(ctx context.Context, cutoff time.Time) ([]*models.WorkSession, error)
}

// WageIncrementer is the slice of the wage ledger the tracker uses.
type WageIncrementer interface {
	IncrementTx(ctx context.Context, tx pgx.Tx, channelID string, delta decimal.Decimal) (decimal.Decimal, error)
	RunSerialized(ctx context.Context, channelID string, fn func(tx pgx.Tx) error) error
}

// Timeclock records clock-in/clock-out work and feeds earned wages into the
// off-chain balance ledger.
type Timeclock struct {
	channels     TimeclockChannelRepo
	sessions     TimeclockSessionRepo
	wages        WageIncrementer
	timeoutAfter time.Duration
	now          func() time.Time
	logger       *slog.Logger
}

func NewTimeclock(channels TimeclockChannelRepo, sessions TimeclockSessionRepo, wages WageIncrementer, timeoutAfter time.Duration, logger *slog.Logger) *Timeclock {
	return &Timeclock{
		channels:     channels,
		sessions:     sessions,
		wages:        wages,
		timeoutAfter: timeoutAfter,
		now:          time.Now,
		logger:       logger,
	}
}

// ClockIn opens a work session. The channel must be active and the worker must
// not already have an open session on it.
func (t *Timeclock) ClockIn(ctx context.Context, channelID string, workerID uuid.UUID, hourlyRate decimal.Decimal) (*models.WorkSession, error) {
	if !models.IsChannelID(channelID) {
		return nil, payerr.New(payerr.KindValidation, channelID, "malformed channel id")
	}
	if !hourlyRate.IsPositive() {
		return nil, payerr.New(payerr.KindValidation, channelID, "hourly rate must be positive")
	}

	session := &models.WorkSession{
		ID:          uuid.New(),
		ChannelID:   channelID,
		WorkerID:    workerID,
		Status:      models.SessionStatusActive,
		ClockInTime: t.now().UTC(),
		HourlyRate:  hourlyRate,
	}

	err := t.wages.RunSerialized(ctx, channelID, func(tx pgx.Tx) error {
		ch, err := t.channels.GetByIDForUpdate(ctx, tx, channelID)
		if errors.Is(err, pgx.ErrNoRows) {
			return payerr.New(payerr.KindValidation, channelID, "channel not found")
		}
		if err != nil {
			return err
		}
		if ch.Status != models.ChannelStatusActive {
			return payerr.New(payerr.KindStateConflict, channelID, "channel is "+ch.Status+", not active")
		}
		open, err := t.sessions.HasActiveSession(ctx, tx, channelID, workerID)
		if err != nil {
			return err
		}
		if open {
			return payerr.New(payerr.KindStateConflict, channelID, "worker already clocked in on this channel")
		}
		return t.sessions.Create(ctx, tx, session)
	})
	if err != nil {
		return nil, err
	}

	t.logger.Info("clocked in", "channel_id", channelID, "session_id", session.ID, "worker_id", workerID)
	return session, nil
}

// ClockOut completes a session, computes the earned amount, and increments the
// channel's off-chain balance — all in one transaction. Calling it again on an
// already-completed session returns the prior result unchanged and increments
// nothing.
func (t *Timeclock) ClockOut(ctx context.Context, sessionID uuid.UUID) (*models.WorkSession, error) {
	// Snapshot read to learn the owning channel; the locked re-read inside the
	// transaction is authoritative.
	peek, err := t.sessions.GetByID(ctx, sessionID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, payerr.NewSession(payerr.KindValidation, "", sessionID, "session not found")
	}
	if err != nil {
		return nil, err
	}

	var result *models.WorkSession
	err = t.wages.RunSerialized(ctx, peek.ChannelID, func(tx pgx.Tx) error {
		if _, err := t.channels.GetByIDForUpdate(ctx, tx, peek.ChannelID); err != nil {
			return err
		}
		session, err := t.sessions.GetByIDForUpdate(ctx, tx, sessionID)
		if err != nil {
			return err
		}

		switch session.Status {
		case models.SessionStatusCompleted, models.SessionStatusTimeout:
			// Idempotent replay: prior result, no second increment.
			result = session
			return nil
		case models.SessionStatusCancelled:
			return payerr.NewSession(payerr.KindStateConflict, session.ChannelID, sessionID, "session is cancelled")
		case models.SessionStatusActive:
		default:
			return payerr.NewSession(payerr.KindStateConflict, session.ChannelID, sessionID, "session is "+session.Status)
		}

		clockOut := t.now().UTC()
		elapsed := clockOut.Sub(session.ClockInTime)
		if elapsed <= 0 {
			t.logger.Error("clock-out before clock-in rejected",
				"session_id", sessionID, "clock_in", session.ClockInTime, "clock_out", clockOut)
			return payerr.NewSession(payerr.KindValidation, session.ChannelID, sessionID, "non-positive session duration")
		}

		amount := wageAmount(session.HourlyRate, elapsed)
		if err := t.sessions.Complete(ctx, tx, sessionID, models.SessionStatusCompleted, clockOut, amount); err != nil {
			return err
		}
		if _, err := t.wages.IncrementTx(ctx, tx, session.ChannelID, amount); err != nil {
			return err
		}

		session.Status = models.SessionStatusCompleted
		session.ClockOutTime = &clockOut
		session.ComputedAmount = &amount
		result = session
		return nil
	})
	if err != nil {
		return nil, err
	}

	t.logger.Info("clocked out",
		"channel_id", result.ChannelID, "session_id", sessionID,
		"status", result.Status, "computed_amount", result.ComputedAmount)
	return result, nil
}

// SweepStale flags sessions open longer than the timeout threshold. Earned
// value is not discarded: elapsed time up to the threshold boundary is paid
// through the same completion transaction as a normal clock-out.
func (t *Timeclock) SweepStale(ctx context.Context) (int, error) {
	cutoff := t.now().UTC().Add(-t.timeoutAfter)
	stale, err := t.sessions.ListStale(ctx, cutoff)
	if err != nil {
		return 0, err
	}

	swept := 0
	for _, s := range stale {
		var cancelled bool
		err := t.wages.RunSerialized(ctx, s.ChannelID, func(tx pgx.Tx) error {
			ch, err := t.channels.GetByIDForUpdate(ctx, tx, s.ChannelID)
			if err != nil {
				return err
			}
			session, err := t.sessions.GetByIDForUpdate(ctx, tx, s.ID)
			if err != nil {
				return err
			}
			if session.Status != models.SessionStatusActive {
				return nil // completed concurrently
			}

			// Closure settles open sessions itself, so an active session on
			// a closed channel should not exist. If one does, there is no
			// balance left to pay into; park it instead of retrying forever.
			if ch.Status == models.ChannelStatusClosed {
				cancelled = true
				return t.sessions.Complete(ctx, tx, session.ID, models.SessionStatusCancelled, t.now().UTC(), decimal.Zero)
			}

			boundary := session.ClockInTime.Add(t.timeoutAfter)
			amount := wageAmount(session.HourlyRate, t.timeoutAfter)
			if err := t.sessions.Complete(ctx, tx, session.ID, models.SessionStatusTimeout, boundary, amount); err != nil {
				return err
			}
			_, err = t.wages.IncrementTx(ctx, tx, session.ChannelID, amount)
			return err
		})
		if err != nil {
			t.logger.Error("stale session sweep failed", "session_id", s.ID, "channel_id", s.ChannelID, "error", err)
			continue
		}
		swept++
		if cancelled {
			t.logger.Error("active session outlived its closed channel, cancelled unpaid",
				"session_id", s.ID, "channel_id", s.ChannelID)
			continue
		}
		t.logger.Warn("session timed out, paid to threshold boundary",
			"session_id", s.ID, "channel_id", s.ChannelID, "threshold", t.timeoutAfter)
	}
	return swept, nil
}

// wageAmount converts elapsed time at an hourly rate into a wage, rounded to
// 6 decimal places (the NUMERIC scale of the balance columns).
func wageAmount(hourlyRate decimal.Decimal, elapsed time.Duration) decimal.Decimal {
	seconds := decimal.NewFromInt(int64(elapsed / time.Second))
	return hourlyRate.Mul(seconds).Div(decimal.NewFromInt(3600)).Round(6)
}
