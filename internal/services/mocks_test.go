package services

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"

	"github.com/Ghostrayu/xahpayroll-sub001/internal/models"
)

// ---------------------------------------------------------------------------
// Mocks
// ---------------------------------------------------------------------------

// --- noopTx satisfies pgx.Tx for test use; only Commit/Rollback are called. ---

type noopTx struct{}

func (noopTx) Begin(context.Context) (pgx.Tx, error) { return noopTx{}, nil }
func (noopTx) Commit(context.Context) error          { return nil }
func (noopTx) Rollback(context.Context) error        { return nil }
func (noopTx) Exec(context.Context, string, ...any) (pgconn.CommandTag, error) {
	return pgconn.NewCommandTag(""), nil
}
func (noopTx) Query(context.Context, string, ...any) (pgx.Rows, error) { return nil, nil }
func (noopTx) QueryRow(context.Context, string, ...any) pgx.Row        { return nil }
func (noopTx) CopyFrom(context.Context, pgx.Identifier, []string, pgx.CopyFromSource) (int64, error) {
	return 0, nil
}
func (noopTx) SendBatch(context.Context, *pgx.Batch) pgx.BatchResults { return nil }
func (noopTx) LargeObjects() pgx.LargeObjects                         { return pgx.LargeObjects{} }
func (noopTx) Prepare(context.Context, string, string) (*pgconn.StatementDescription, error) {
	return nil, nil
}
func (noopTx) Conn() *pgx.Conn { return nil }

// --- memTx: transactional writes for the in-memory stores ---
//
// Writes made through a store's tx-taking methods are staged on the
// transaction and reach the shared maps only on Commit. A rolled-back
// transaction leaves no trace, matching what the services rely on when a
// completion and a balance increment must land together or not at all.

type memTx struct {
	noopTx
	mu      sync.Mutex
	done    bool
	writes  []func()
	pending map[string]decimal.Decimal
}

func newMemTx() *memTx { return &memTx{pending: make(map[string]decimal.Decimal)} }

func (tx *memTx) stage(fn func()) {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	tx.writes = append(tx.writes, fn)
}

func (tx *memTx) Commit(context.Context) error {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	if tx.done {
		return nil
	}
	tx.done = true
	for _, fn := range tx.writes {
		fn()
	}
	return nil
}

func (tx *memTx) Rollback(context.Context) error {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	tx.done = true
	tx.writes = nil
	return nil
}

// stageOn defers fn to the transaction's commit; a caller outside a memTx
// applies it immediately.
func stageOn(tx pgx.Tx, fn func()) {
	if t, ok := tx.(*memTx); ok {
		t.stage(fn)
		return
	}
	fn()
}

// --- TxBeginner mock ---

type mockPool struct{}

func (mockPool) Begin(context.Context) (pgx.Tx, error) { return newMemTx(), nil }

// --- channel store: in-memory stand-in for ChannelRepo ---
//
// Mirrors the repository's guard semantics: status-conditional updates
// return pgx.ErrNoRows when the guard rejects the row, and tx-scoped
// mutations stay invisible until the transaction commits.

type mockChannelStore struct {
	mu       sync.Mutex
	channels map[string]*models.Channel
}

func newMockChannelStore() *mockChannelStore {
	return &mockChannelStore{channels: make(map[string]*models.Channel)}
}

func (m *mockChannelStore) put(ch *models.Channel) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *ch
	m.channels[ch.ChannelID] = &cp
}

func (m *mockChannelStore) Create(_ context.Context, c *models.Channel) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.channels[c.ChannelID]; ok {
		return false, nil
	}
	cp := *c
	cp.CreatedAt = time.Now().UTC()
	cp.UpdatedAt = cp.CreatedAt
	m.channels[c.ChannelID] = &cp
	return true, nil
}

func (m *mockChannelStore) GetByID(_ context.Context, channelID string) (*models.Channel, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ch, ok := m.channels[channelID]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	cp := *ch
	return &cp, nil
}

func (m *mockChannelStore) GetByIDForUpdate(ctx context.Context, _ pgx.Tx, channelID string) (*models.Channel, error) {
	return m.GetByID(ctx, channelID)
}

func (m *mockChannelStore) AddWages(_ context.Context, tx pgx.Tx, channelID string, delta decimal.Decimal) (decimal.Decimal, error) {
	m.mu.Lock()
	ch, ok := m.channels[channelID]
	if !ok || ch.Status == models.ChannelStatusClosed {
		m.mu.Unlock()
		return decimal.Zero, pgx.ErrNoRows
	}
	visible := ch.OffChainBalance
	m.mu.Unlock()

	// Read-your-writes inside the transaction: repeated increments in one tx
	// return the accumulated balance even before commit.
	staged := delta
	if t, ok := tx.(*memTx); ok {
		t.mu.Lock()
		staged = t.pending[channelID].Add(delta)
		t.pending[channelID] = staged
		t.mu.Unlock()
	}
	stageOn(tx, func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if ch, ok := m.channels[channelID]; ok && ch.Status != models.ChannelStatusClosed {
			ch.OffChainBalance = ch.OffChainBalance.Add(delta)
		}
	})
	return visible.Add(staged), nil
}

func (m *mockChannelStore) MarkClosing(_ context.Context, tx pgx.Tx, channelID string, expiration time.Time) error {
	m.mu.Lock()
	ch, ok := m.channels[channelID]
	if !ok || ch.Status != models.ChannelStatusActive {
		m.mu.Unlock()
		return pgx.ErrNoRows
	}
	m.mu.Unlock()
	stageOn(tx, func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		ch, ok := m.channels[channelID]
		if !ok || ch.Status != models.ChannelStatusActive {
			return
		}
		ch.Status = models.ChannelStatusClosing
		exp := expiration
		ch.ExpirationTime = &exp
		now := time.Now().UTC()
		ch.ClosureInitiatedAt = &now
	})
	return nil
}

func (m *mockChannelStore) Close(_ context.Context, tx pgx.Tx, channelID, closureTxHash string) error {
	m.mu.Lock()
	ch, ok := m.channels[channelID]
	if !ok || ch.Status == models.ChannelStatusClosed {
		m.mu.Unlock()
		return pgx.ErrNoRows
	}
	m.mu.Unlock()
	stageOn(tx, func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		ch, ok := m.channels[channelID]
		if !ok || ch.Status == models.ChannelStatusClosed {
			return
		}
		ch.Status = models.ChannelStatusClosed
		hash := closureTxHash
		ch.ClosureTxHash = &hash
		now := time.Now().UTC()
		ch.ClosedAt = &now
		ch.OffChainBalance = decimal.Zero
	})
	return nil
}

func (m *mockChannelStore) RecordLedgerState(_ context.Context, channelID string, balance, fundedAmount decimal.Decimal, syncedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	ch, ok := m.channels[channelID]
	if !ok {
		return nil
	}
	ch.OnChainBalance = balance
	ch.EscrowFundedAmount = fundedAmount
	at := syncedAt
	ch.LastLedgerSync = &at
	return nil
}

func (m *mockChannelStore) FlagForAudit(_ context.Context, channelID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ch, ok := m.channels[channelID]; ok {
		ch.FlaggedForAudit = true
	}
	return nil
}

func (m *mockChannelStore) ListByStatus(_ context.Context, status string) ([]*models.Channel, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var list []*models.Channel
	for _, ch := range m.channels {
		if ch.Status == status {
			cp := *ch
			list = append(list, &cp)
		}
	}
	return list, nil
}

func (m *mockChannelStore) ListUnclosed(_ context.Context) ([]*models.Channel, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var list []*models.Channel
	for _, ch := range m.channels {
		if ch.Status != models.ChannelStatusClosed {
			cp := *ch
			list = append(list, &cp)
		}
	}
	return list, nil
}

// --- session store: in-memory stand-in for SessionRepo ---

type mockSessionStore struct {
	mu       sync.Mutex
	sessions map[uuid.UUID]*models.WorkSession
}

func newMockSessionStore() *mockSessionStore {
	return &mockSessionStore{sessions: make(map[uuid.UUID]*models.WorkSession)}
}

func (m *mockSessionStore) Create(_ context.Context, tx pgx.Tx, s *models.WorkSession) error {
	m.mu.Lock()
	if _, ok := m.sessions[s.ID]; ok {
		m.mu.Unlock()
		return fmt.Errorf("duplicate session id")
	}
	m.mu.Unlock()
	cp := *s
	stageOn(tx, func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		m.sessions[cp.ID] = &cp
	})
	return nil
}

func (m *mockSessionStore) GetByID(_ context.Context, id uuid.UUID) (*models.WorkSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	cp := *s
	return &cp, nil
}

func (m *mockSessionStore) GetByIDForUpdate(ctx context.Context, _ pgx.Tx, id uuid.UUID) (*models.WorkSession, error) {
	return m.GetByID(ctx, id)
}

func (m *mockSessionStore) HasActiveSession(_ context.Context, _ pgx.Tx, channelID string, workerID uuid.UUID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.sessions {
		if s.ChannelID == channelID && s.WorkerID == workerID && s.Status == models.SessionStatusActive {
			return true, nil
		}
	}
	return false, nil
}

func (m *mockSessionStore) Complete(_ context.Context, tx pgx.Tx, id uuid.UUID, status string, clockOut time.Time, amount decimal.Decimal) error {
	m.mu.Lock()
	s, ok := m.sessions[id]
	if !ok || s.Status != models.SessionStatusActive {
		m.mu.Unlock()
		return pgx.ErrNoRows
	}
	m.mu.Unlock()
	stageOn(tx, func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		s, ok := m.sessions[id]
		if !ok || s.Status != models.SessionStatusActive {
			return
		}
		s.Status = status
		out := clockOut
		s.ClockOutTime = &out
		amt := amount
		s.ComputedAmount = &amt
	})
	return nil
}

func (m *mockSessionStore) ListActiveByChannel(_ context.Context, _ pgx.Tx, channelID string) ([]*models.WorkSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var list []*models.WorkSession
	for _, s := range m.sessions {
		if s.ChannelID == channelID && s.Status == models.SessionStatusActive {
			cp := *s
			list = append(list, &cp)
		}
	}
	return list, nil
}

func (m *mockSessionStore) ListByChannel(_ context.Context, channelID string) ([]*models.WorkSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var list []*models.WorkSession
	for _, s := range m.sessions {
		if s.ChannelID == channelID {
			cp := *s
			list = append(list, &cp)
		}
	}
	return list, nil
}

func (m *mockSessionStore) ListStale(_ context.Context, cutoff time.Time) ([]*models.WorkSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var list []*models.WorkSession
	for _, s := range m.sessions {
		if s.Status == models.SessionStatusActive && s.ClockInTime.Before(cutoff) {
			cp := *s
			list = append(list, &cp)
		}
	}
	return list, nil
}

// --- settlement store ---

type mockSettlementStore struct {
	mu          sync.Mutex
	settlements map[string]*models.Settlement
	creates     int
}

func newMockSettlementStore() *mockSettlementStore {
	return &mockSettlementStore{settlements: make(map[string]*models.Settlement)}
}

func (m *mockSettlementStore) Create(_ context.Context, tx pgx.Tx, s *models.Settlement) error {
	m.mu.Lock()
	if _, ok := m.settlements[s.ChannelID]; ok {
		m.mu.Unlock()
		return fmt.Errorf("settlement already recorded for channel %s", s.ChannelID)
	}
	m.mu.Unlock()
	cp := *s
	stageOn(tx, func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		cp.CreatedAt = time.Now().UTC()
		m.settlements[cp.ChannelID] = &cp
		m.creates++
	})
	return nil
}

func (m *mockSettlementStore) GetByChannelID(_ context.Context, channelID string) (*models.Settlement, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.settlements[channelID]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	cp := *s
	return &cp, nil
}

func (m *mockSettlementStore) GetByChannelIDTx(ctx context.Context, _ pgx.Tx, channelID string) (*models.Settlement, error) {
	return m.GetByChannelID(ctx, channelID)
}

// --- ledger client mock ---

type mockLedger struct {
	mu       sync.Mutex
	states   map[string]*ChannelState
	fetchErr error
	fetches  int

	submitErr  error
	submitHash string
	submits    int
}

func newMockLedger() *mockLedger {
	return &mockLedger{states: make(map[string]*ChannelState), submitHash: "F00D"}
}

func (m *mockLedger) setState(channelID string, st ChannelState) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := st
	m.states[channelID] = &cp
}

func (m *mockLedger) GetChannelState(_ context.Context, channelID string) (*ChannelState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fetches++
	if m.fetchErr != nil {
		return nil, m.fetchErr
	}
	st, ok := m.states[channelID]
	if !ok {
		return nil, fmt.Errorf("channel %s not found on ledger", channelID)
	}
	cp := *st
	return &cp, nil
}

func (m *mockLedger) SubmitClaim(_ context.Context, _ ClaimRequest, _ []byte) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.submits++
	if m.submitErr != nil {
		return "", m.submitErr
	}
	return m.submitHash, nil
}

// --- signing provider mock ---

type mockSigner struct {
	mu    sync.Mutex
	err   error
	calls []ClaimRequest
}

func (m *mockSigner) SignClaim(_ context.Context, req ClaimRequest) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, req)
	if m.err != nil {
		return nil, m.err
	}
	return []byte("signed-blob"), nil
}

// --- helpers ---

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(bytes.NewBuffer(nil), nil))
}

const chanID = "ab12cd34ef56ab12cd34ef56ab12cd34ef56ab12cd34ef56ab12cd34ef56ab12"

func activeChannel(funded string) *models.Channel {
	return &models.Channel{
		ChannelID:          chanID,
		EmployerAccountID:  uuid.New(),
		WorkerAccountID:    uuid.New(),
		Status:             models.ChannelStatusActive,
		OffChainBalance:    decimal.Zero,
		OnChainBalance:     decimal.Zero,
		EscrowFundedAmount: decimal.RequireFromString(funded),
		CreationTxHash:     "CAFE01",
	}
}
