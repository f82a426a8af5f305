package router

import (
	"net/http"
	"strings"

	"github.com/Ghostrayu/xahpayroll-sub001/internal/auth"
	"github.com/Ghostrayu/xahpayroll-sub001/internal/dashboard"
	"github.com/Ghostrayu/xahpayroll-sub001/internal/handlers"
)

// New returns an http.Handler that serves API under /api/v1.
func New(authHandler *auth.Handler, channelHandler *handlers.ChannelHandler, dashHandler *dashboard.Handler) http.Handler {
	mux := http.NewServeMux()
	base := "/api/v1"
	mux.HandleFunc(base+"/auth/register", authHandler.Register)
	mux.HandleFunc(base+"/auth/login", authHandler.Login)

	mux.HandleFunc(base+"/account/me", methodGET(dashHandler.GetMe))

	mux.HandleFunc(base+"/channels", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPost:
			channelHandler.OpenChannel(w, r)
		case http.MethodGet:
			dashHandler.ListChannels(w, r)
		default:
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		}
	})
	mux.HandleFunc(base+"/channels/", channelSubroutes(channelHandler, dashHandler))

	mux.HandleFunc(base+"/sessions", methodPOST(channelHandler.ClockIn))
	mux.HandleFunc(base+"/sessions/", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost && strings.HasSuffix(r.URL.Path, "/clockout") {
			channelHandler.ClockOut(w, r)
			return
		}
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	})

	return mux
}

// channelSubroutes dispatches /api/v1/channels/{id}[/action] by trailing
// segment and method. The handlers re-parse and validate the id themselves.
func channelSubroutes(channelHandler *handlers.ChannelHandler, dashHandler *dashboard.Handler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rest := strings.TrimPrefix(r.URL.Path, "/api/v1/channels/")
		parts := strings.Split(strings.TrimRight(rest, "/"), "/")

		if len(parts) == 1 {
			if r.Method == http.MethodGet {
				channelHandler.GetChannel(w, r)
				return
			}
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		action := strings.Join(parts[1:], "/")
		switch {
		case r.Method == http.MethodPost && action == "closure":
			channelHandler.InitiateClosure(w, r)
		case r.Method == http.MethodPost && action == "closure/confirm":
			channelHandler.ConfirmClosure(w, r)
		case r.Method == http.MethodPost && action == "close":
			channelHandler.CloseChannel(w, r)
		case r.Method == http.MethodPost && action == "sync":
			channelHandler.SyncChannel(w, r)
		case r.Method == http.MethodGet && action == "sessions":
			dashHandler.ListSessions(w, r)
		case r.Method == http.MethodGet && action == "settlement":
			dashHandler.GetSettlement(w, r)
		case r.Method == http.MethodGet && action == "discrepancy":
			dashHandler.GetDiscrepancy(w, r)
		default:
			http.Error(w, "not found", http.StatusNotFound)
		}
	}
}

func methodGET(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		h(w, r)
	}
}

func methodPOST(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		h(w, r)
	}
}
