package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/Ghostrayu/xahpayroll-sub001/internal/models"
	"github.com/Ghostrayu/xahpayroll-sub001/internal/payerr"
)

// LifecycleService is the channel state machine surface used by the handler.
type LifecycleService interface {
	OpenChannel(ctx context.Context, ch *models.Channel) (*models.Channel, bool, error)
	InitiateClosure(ctx context.Context, channelID string, expiration time.Time) error
	ConfirmClosure(ctx context.Context, channelID, closureTxHash string) (*models.Settlement, error)
	CloseChannel(ctx context.Context, channelID string) (*models.Settlement, error)
}

// TimeclockService is the work-session surface used by the handler.
type TimeclockService interface {
	ClockIn(ctx context.Context, channelID string, workerID uuid.UUID, hourlyRate decimal.Decimal) (*models.WorkSession, error)
	ClockOut(ctx context.Context, sessionID uuid.UUID) (*models.WorkSession, error)
}

// ObserverService refreshes a channel's on-chain state on demand.
type ObserverService interface {
	Sync(ctx context.Context, channelID string) (*models.Channel, error)
}

// ChannelReader serves channel snapshot reads.
type ChannelReader interface {
	GetByID(ctx context.Context, channelID string) (*models.Channel, error)
}

// ChannelHandler serves /api/v1/channels and /api/v1/sessions endpoints.
type ChannelHandler struct {
	Lifecycle LifecycleService
	Timeclock TimeclockService
	Observer  ObserverService
	Channels  ChannelReader
	Logger    *slog.Logger
}

// --- POST /api/v1/channels ---

type openChannelRequest struct {
	ChannelID          string          `json:"channel_id"`
	EmployerAccountID  string          `json:"employer_account_id"`
	WorkerAccountID    string          `json:"worker_account_id"`
	FundedAmount       decimal.Decimal `json:"funded_amount"`
	CreationTxHash     string          `json:"creation_tx_hash"`
	SettleDelaySeconds int64           `json:"settle_delay_seconds"`
}

// OpenChannel handles POST /api/v1/channels. Posting a channel_id that already
// exists returns the stored row with 200 instead of 201.
func (h *ChannelHandler) OpenChannel(w http.ResponseWriter, r *http.Request) {
	var req openChannelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid JSON"}`, http.StatusBadRequest)
		return
	}

	employerID, err := uuid.Parse(req.EmployerAccountID)
	if err != nil {
		http.Error(w, `{"error":"invalid employer_account_id"}`, http.StatusBadRequest)
		return
	}
	workerID, err := uuid.Parse(req.WorkerAccountID)
	if err != nil {
		http.Error(w, `{"error":"invalid worker_account_id"}`, http.StatusBadRequest)
		return
	}

	ch := &models.Channel{
		ChannelID:          req.ChannelID,
		EmployerAccountID:  employerID,
		WorkerAccountID:    workerID,
		EscrowFundedAmount: req.FundedAmount,
		OnChainBalance:     decimal.Zero,
		OffChainBalance:    decimal.Zero,
		CreationTxHash:     req.CreationTxHash,
		SettleDelaySeconds: req.SettleDelaySeconds,
	}

	stored, created, err := h.Lifecycle.OpenChannel(r.Context(), ch)
	if err != nil {
		h.writeServiceError(w, "open channel", err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	writeJSON(w, status, stored)
}

// --- GET /api/v1/channels/{id} ---

// GetChannel handles GET /api/v1/channels/{id}.
func (h *ChannelHandler) GetChannel(w http.ResponseWriter, r *http.Request) {
	channelID, ok := extractChannelID(r)
	if !ok {
		http.Error(w, `{"error":"invalid channel id"}`, http.StatusBadRequest)
		return
	}

	ch, err := h.Channels.GetByID(r.Context(), channelID)
	if errors.Is(err, pgx.ErrNoRows) {
		http.Error(w, `{"error":"channel not found"}`, http.StatusNotFound)
		return
	}
	if err != nil {
		h.Logger.Error("get channel", "channel_id", channelID, "error", err)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, ch)
}

// --- POST /api/v1/channels/{id}/closure ---

type initiateClosureRequest struct {
	Expiration time.Time `json:"expiration"`
}

// InitiateClosure handles POST /api/v1/channels/{id}/closure.
func (h *ChannelHandler) InitiateClosure(w http.ResponseWriter, r *http.Request) {
	channelID, ok := extractChannelID(r)
	if !ok {
		http.Error(w, `{"error":"invalid channel id"}`, http.StatusBadRequest)
		return
	}

	var req initiateClosureRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid JSON"}`, http.StatusBadRequest)
		return
	}
	if req.Expiration.IsZero() {
		http.Error(w, `{"error":"expiration is required"}`, http.StatusBadRequest)
		return
	}

	if err := h.Lifecycle.InitiateClosure(r.Context(), channelID, req.Expiration); err != nil {
		h.writeServiceError(w, "initiate closure", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"channel_id": channelID,
		"status":     models.ChannelStatusClosing,
	})
}

// --- POST /api/v1/channels/{id}/closure/confirm ---

type confirmClosureRequest struct {
	ClosureTxHash string `json:"closure_tx_hash"`
}

// ConfirmClosure handles POST /api/v1/channels/{id}/closure/confirm. Replays
// with the recorded hash return the stored settlement; a different hash is a
// conflict.
func (h *ChannelHandler) ConfirmClosure(w http.ResponseWriter, r *http.Request) {
	channelID, ok := extractChannelID(r)
	if !ok {
		http.Error(w, `{"error":"invalid channel id"}`, http.StatusBadRequest)
		return
	}

	var req confirmClosureRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid JSON"}`, http.StatusBadRequest)
		return
	}

	settlement, err := h.Lifecycle.ConfirmClosure(r.Context(), channelID, req.ClosureTxHash)
	if err != nil {
		h.writeServiceError(w, "confirm closure", err)
		return
	}
	writeJSON(w, http.StatusOK, settlement)
}

// --- POST /api/v1/channels/{id}/close ---

// CloseChannel handles POST /api/v1/channels/{id}/close — the full fast path:
// sign and submit the claim, then confirm with the returned hash.
func (h *ChannelHandler) CloseChannel(w http.ResponseWriter, r *http.Request) {
	channelID, ok := extractChannelID(r)
	if !ok {
		http.Error(w, `{"error":"invalid channel id"}`, http.StatusBadRequest)
		return
	}

	settlement, err := h.Lifecycle.CloseChannel(r.Context(), channelID)
	if err != nil {
		h.writeServiceError(w, "close channel", err)
		return
	}
	writeJSON(w, http.StatusOK, settlement)
}

// --- POST /api/v1/channels/{id}/sync ---

// SyncChannel handles POST /api/v1/channels/{id}/sync.
func (h *ChannelHandler) SyncChannel(w http.ResponseWriter, r *http.Request) {
	channelID, ok := extractChannelID(r)
	if !ok {
		http.Error(w, `{"error":"invalid channel id"}`, http.StatusBadRequest)
		return
	}

	ch, err := h.Observer.Sync(r.Context(), channelID)
	if err != nil {
		h.writeServiceError(w, "sync channel", err)
		return
	}
	writeJSON(w, http.StatusOK, ch)
}

// --- POST /api/v1/sessions ---

type clockInRequest struct {
	ChannelID  string          `json:"channel_id"`
	WorkerID   string          `json:"worker_id"`
	HourlyRate decimal.Decimal `json:"hourly_rate"`
}

// ClockIn handles POST /api/v1/sessions.
func (h *ChannelHandler) ClockIn(w http.ResponseWriter, r *http.Request) {
	var req clockInRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid JSON"}`, http.StatusBadRequest)
		return
	}

	workerID, err := uuid.Parse(req.WorkerID)
	if err != nil {
		http.Error(w, `{"error":"invalid worker_id"}`, http.StatusBadRequest)
		return
	}

	session, err := h.Timeclock.ClockIn(r.Context(), req.ChannelID, workerID, req.HourlyRate)
	if err != nil {
		h.writeServiceError(w, "clock in", err)
		return
	}
	writeJSON(w, http.StatusCreated, session)
}

// --- POST /api/v1/sessions/{id}/clockout ---

// ClockOut handles POST /api/v1/sessions/{id}/clockout. Repeating the call on
// a completed session returns the prior result.
func (h *ChannelHandler) ClockOut(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := extractSessionID(r)
	if !ok {
		http.Error(w, `{"error":"invalid session id"}`, http.StatusBadRequest)
		return
	}

	session, err := h.Timeclock.ClockOut(r.Context(), sessionID)
	if err != nil {
		h.writeServiceError(w, "clock out", err)
		return
	}
	writeJSON(w, http.StatusOK, session)
}

// --- helpers ---

// writeServiceError maps the error taxonomy onto HTTP statuses. Unclassified
// errors are logged and reported as 500 without leaking internals.
func (h *ChannelHandler) writeServiceError(w http.ResponseWriter, op string, err error) {
	kind := payerr.KindOf(err)
	status := http.StatusInternalServerError
	switch kind {
	case payerr.KindValidation:
		status = http.StatusBadRequest
	case payerr.KindStateConflict, payerr.KindClosureConflict:
		status = http.StatusConflict
	case payerr.KindConcurrencyConflict:
		status = http.StatusServiceUnavailable
	case payerr.KindExternalCall:
		status = http.StatusBadGateway
	case payerr.KindLedgerDiscrepancy:
		status = http.StatusInternalServerError
	}

	if status == http.StatusInternalServerError {
		h.Logger.Error(op, "error", err)
		if kind == payerr.KindUnknown {
			http.Error(w, `{"error":"internal error"}`, status)
			return
		}
	}
	writeJSON(w, status, map[string]string{"error": err.Error(), "kind": kind.String()})
}

// extractChannelID parses the channel id from the URL path. Supports paths
// like /api/v1/channels/{id} and /v1/channels/{id}/close.
func extractChannelID(r *http.Request) (string, bool) {
	path := strings.TrimPrefix(r.URL.Path, "/api")
	path = strings.TrimPrefix(path, "/v1/channels/")
	parts := strings.SplitN(path, "/", 2)
	if len(parts) == 0 || !models.IsChannelID(parts[0]) {
		return "", false
	}
	return parts[0], true
}

// extractSessionID parses the session UUID from the URL path.
// Supports paths like /api/v1/sessions/{id}/clockout and /v1/sessions/{id}/clockout.
func extractSessionID(r *http.Request) (uuid.UUID, bool) {
	path := strings.TrimPrefix(r.URL.Path, "/api")
	path = strings.TrimPrefix(path, "/v1/sessions/")
	parts := strings.SplitN(path, "/", 2)
	if len(parts) == 0 {
		return uuid.Nil, false
	}
	id, err := uuid.Parse(parts[0])
	if err != nil {
		return uuid.Nil, false
	}
	return id, true
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
