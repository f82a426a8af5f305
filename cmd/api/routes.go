package main

import (
	"log/slog"
	"net/http"

	"github.com/Ghostrayu/xahpayroll-sub001/internal/handlers"
	"github.com/Ghostrayu/xahpayroll-sub001/internal/middleware"
	"github.com/Ghostrayu/xahpayroll-sub001/internal/repository"
)

// RegisterV1Routes adds the /v1/ machine API (API-key authenticated) to the
// given mux. This is the surface worker clients and payroll integrations hit;
// the /api/v1 routes behind JWT serve the dashboard.
func RegisterV1Routes(
	mux *http.ServeMux,
	apiKeyRepo *repository.APIKeyRepo,
	ch *handlers.ChannelHandler,
	logger *slog.Logger,
) {
	authn := middleware.APIKeyAuth(apiKeyRepo)

	// POST /v1/sessions — clock in
	mux.Handle("POST /v1/sessions", authn(http.HandlerFunc(ch.ClockIn)))

	// POST /v1/sessions/{id}/clockout — clock out
	mux.Handle("POST /v1/sessions/{id}/clockout", authn(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ch.ClockOut(w, r)
	})))

	// GET /v1/channels/{id} — channel snapshot
	mux.Handle("GET /v1/channels/{id}", authn(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ch.GetChannel(w, r)
	})))

	// POST /v1/channels/{id}/sync — on-demand ledger sync
	mux.Handle("POST /v1/channels/{id}/sync", authn(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ch.SyncChannel(w, r)
	})))
}
