// Package dashboard serves the read-only reporting endpoints: account info,
// channel listings, session history, settlements, and reconciliation status.
package dashboard

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/Ghostrayu/xahpayroll-sub001/internal/auth"
	"github.com/Ghostrayu/xahpayroll-sub001/internal/models"
	"github.com/Ghostrayu/xahpayroll-sub001/internal/repository"
	"github.com/Ghostrayu/xahpayroll-sub001/internal/services"
)

type Handler struct {
	authSvc     auth.Service
	accountR    *repository.AccountRepo
	channelR    *repository.ChannelRepo
	sessionR    *repository.SessionRepo
	settlementR *repository.SettlementRepo
	log         *slog.Logger
}

func NewHandler(
	authSvc auth.Service,
	accountR *repository.AccountRepo,
	channelR *repository.ChannelRepo,
	sessionR *repository.SessionRepo,
	settlementR *repository.SettlementRepo,
	log *slog.Logger,
) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{
		authSvc:     authSvc,
		accountR:    accountR,
		channelR:    channelR,
		sessionR:    sessionR,
		settlementR: settlementR,
		log:         log,
	}
}

func (h *Handler) accountIDFromRequest(r *http.Request) (uuid.UUID, error) {
	authz := r.Header.Get("Authorization")
	if authz == "" {
		return uuid.Nil, fmt.Errorf("missing authorization")
	}
	const prefix = "Bearer "
	if !strings.HasPrefix(authz, prefix) {
		return uuid.Nil, fmt.Errorf("bad authorization format")
	}
	token := strings.TrimSpace(authz[len(prefix):])
	if token == "" {
		return uuid.Nil, fmt.Errorf("empty token")
	}
	id, _, err := h.authSvc.ValidateToken(r.Context(), token)
	return id, err
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// channelIDFromPath parses /api/v1/channels/{id}/{suffix} style paths.
func channelIDFromPath(r *http.Request) (string, bool) {
	path := strings.TrimPrefix(r.URL.Path, "/api/v1/channels/")
	parts := strings.SplitN(path, "/", 2)
	if len(parts) == 0 || !models.IsChannelID(parts[0]) {
		return "", false
	}
	return parts[0], true
}

// GET /api/v1/account/me
func (h *Handler) GetMe(w http.ResponseWriter, r *http.Request) {
	accountID, err := h.accountIDFromRequest(r)
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	acc, err := h.accountR.GetByID(r.Context(), accountID)
	if err != nil {
		h.log.Error("get account failed", "error", err)
		http.Error(w, "account not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"id":             acc.ID,
		"email":          acc.Email,
		"display_name":   acc.DisplayName,
		"role":           acc.Role,
		"ledger_address": acc.LedgerAddress,
		"created_at":     acc.CreatedAt,
	})
}

// GET /api/v1/channels?status=active
func (h *Handler) ListChannels(w http.ResponseWriter, r *http.Request) {
	if _, err := h.accountIDFromRequest(r); err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	var (
		channels []*models.Channel
		err      error
	)
	switch status := r.URL.Query().Get("status"); status {
	case "":
		channels, err = h.channelR.ListUnclosed(r.Context())
	case models.ChannelStatusActive, models.ChannelStatusClosing, models.ChannelStatusClosed:
		channels, err = h.channelR.ListByStatus(r.Context(), status)
	default:
		http.Error(w, "invalid status filter", http.StatusBadRequest)
		return
	}
	if err != nil {
		h.log.Error("list channels failed", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if channels == nil {
		channels = []*models.Channel{}
	}
	writeJSON(w, http.StatusOK, channels)
}

// GET /api/v1/channels/{id}/sessions
func (h *Handler) ListSessions(w http.ResponseWriter, r *http.Request) {
	if _, err := h.accountIDFromRequest(r); err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	channelID, ok := channelIDFromPath(r)
	if !ok {
		http.Error(w, "invalid channel id", http.StatusBadRequest)
		return
	}
	sessions, err := h.sessionR.ListByChannel(r.Context(), channelID)
	if err != nil {
		h.log.Error("list sessions failed", "channel_id", channelID, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if sessions == nil {
		sessions = []*models.WorkSession{}
	}
	writeJSON(w, http.StatusOK, sessions)
}

// GET /api/v1/channels/{id}/settlement
func (h *Handler) GetSettlement(w http.ResponseWriter, r *http.Request) {
	if _, err := h.accountIDFromRequest(r); err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	channelID, ok := channelIDFromPath(r)
	if !ok {
		http.Error(w, "invalid channel id", http.StatusBadRequest)
		return
	}
	settlement, err := h.settlementR.GetByChannelID(r.Context(), channelID)
	if errors.Is(err, pgx.ErrNoRows) {
		http.Error(w, "no settlement recorded", http.StatusNotFound)
		return
	}
	if err != nil {
		h.log.Error("get settlement failed", "channel_id", channelID, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, settlement)
}

// GET /api/v1/channels/{id}/discrepancy
//
// Classifies the stored balance pair without touching the ledger; use the
// sync endpoint first for a fresh on-chain reading.
func (h *Handler) GetDiscrepancy(w http.ResponseWriter, r *http.Request) {
	if _, err := h.accountIDFromRequest(r); err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	channelID, ok := channelIDFromPath(r)
	if !ok {
		http.Error(w, "invalid channel id", http.StatusBadRequest)
		return
	}
	ch, err := h.channelR.GetByID(r.Context(), channelID)
	if errors.Is(err, pgx.ErrNoRows) {
		http.Error(w, "channel not found", http.StatusNotFound)
		return
	}
	if err != nil {
		h.log.Error("get channel failed", "channel_id", channelID, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	d := services.ClassifyDiscrepancy(ch.ChannelID, ch.OnChainBalance, ch.OffChainBalance, ch.Status)
	severity := "none"
	switch d.Severity {
	case services.SeverityInfo:
		severity = "info"
	case services.SeverityFault:
		severity = "fault"
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"channel_id":        d.ChannelID,
		"status":            d.Status,
		"on_chain":          d.OnChain,
		"off_chain":         d.OffChain,
		"diff":              d.Diff,
		"severity":          severity,
		"flagged_for_audit": ch.FlaggedForAudit,
		"last_ledger_sync":  ch.LastLedgerSync,
	})
}
