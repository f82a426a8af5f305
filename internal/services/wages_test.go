package services

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"

	"github.com/Ghostrayu/xahpayroll-sub001/internal/models"
	"github.com/Ghostrayu/xahpayroll-sub001/internal/payerr"
)

func TestIncrement_ConcurrentNoLostUpdates(t *testing.T) {
	store := newMockChannelStore()
	store.put(activeChannel("1000"))
	ledger := NewWageLedger(mockPool{}, store, testLogger())

	const workers = 50
	one := decimal.NewFromInt(1)

	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := ledger.Increment(context.Background(), chanID, one); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("increment failed: %v", err)
	}

	balance, err := ledger.Read(context.Background(), chanID)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !balance.Equal(decimal.NewFromInt(workers)) {
		t.Errorf("expected balance %d, got %s", workers, balance)
	}
}

func TestIncrement_NegativeDeltaRejected(t *testing.T) {
	store := newMockChannelStore()
	store.put(activeChannel("100"))
	ledger := NewWageLedger(mockPool{}, store, testLogger())

	_, err := ledger.Increment(context.Background(), chanID, decimal.NewFromInt(-5))
	if !payerr.IsKind(err, payerr.KindValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}

	balance, _ := ledger.Read(context.Background(), chanID)
	if !balance.IsZero() {
		t.Errorf("balance changed by rejected increment: %s", balance)
	}
}

func TestIncrement_ClosedChannelRejected(t *testing.T) {
	store := newMockChannelStore()
	ch := activeChannel("100")
	ch.Status = models.ChannelStatusClosed
	store.put(ch)
	ledger := NewWageLedger(mockPool{}, store, testLogger())

	_, err := ledger.Increment(context.Background(), chanID, decimal.NewFromInt(1))
	if !payerr.IsKind(err, payerr.KindStateConflict) {
		t.Fatalf("expected state conflict, got %v", err)
	}
}

func TestIncrement_ClosingChannelStillAccrues(t *testing.T) {
	store := newMockChannelStore()
	ch := activeChannel("100")
	ch.Status = models.ChannelStatusClosing
	store.put(ch)
	ledger := NewWageLedger(mockPool{}, store, testLogger())

	balance, err := ledger.Increment(context.Background(), chanID, decimal.NewFromInt(3))
	if err != nil {
		t.Fatalf("increment on closing channel: %v", err)
	}
	if !balance.Equal(decimal.NewFromInt(3)) {
		t.Errorf("expected balance 3, got %s", balance)
	}
}

// contendingChannelRepo reports lock contention on every AddWages call.
type contendingChannelRepo struct {
	attempts int
}

func (c *contendingChannelRepo) GetByID(context.Context, string) (*models.Channel, error) {
	return nil, pgx.ErrNoRows
}

func (c *contendingChannelRepo) AddWages(context.Context, pgx.Tx, string, decimal.Decimal) (decimal.Decimal, error) {
	c.attempts++
	return decimal.Zero, &pgconn.PgError{Code: "40001", Message: "could not serialize access"}
}

func TestIncrement_RetriesExhaustedSurfaceAsConcurrencyConflict(t *testing.T) {
	repo := &contendingChannelRepo{}
	ledger := NewWageLedger(mockPool{}, repo, testLogger())

	_, err := ledger.Increment(context.Background(), chanID, decimal.NewFromInt(1))
	if !payerr.IsKind(err, payerr.KindConcurrencyConflict) {
		t.Fatalf("expected concurrency conflict, got %v", err)
	}
	if repo.attempts != incrementAttempts {
		t.Errorf("expected %d attempts, got %d", incrementAttempts, repo.attempts)
	}

	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != "40001" {
		t.Errorf("expected wrapped serialization failure, got %v", err)
	}
}

func TestRunSerialized_NonRetryableErrorNotRetried(t *testing.T) {
	store := newMockChannelStore()
	store.put(activeChannel("100"))
	ledger := NewWageLedger(mockPool{}, store, testLogger())

	calls := 0
	err := ledger.RunSerialized(context.Background(), chanID, func(tx pgx.Tx) error {
		calls++
		return payerr.New(payerr.KindStateConflict, chanID, "not active")
	})
	if !payerr.IsKind(err, payerr.KindStateConflict) {
		t.Fatalf("expected state conflict passthrough, got %v", err)
	}
	if calls != 1 {
		t.Errorf("expected a single attempt, got %d", calls)
	}
}
