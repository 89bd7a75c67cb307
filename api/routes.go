package api

import (
	"crypto/subtle"
	"net/http"

	"github.com/gorilla/mux"

	"watchtally/handlers"
)

// pinHeader carries the admin PIN on every API request.
const pinHeader = "X-Watchtally-Pin"

// corsMiddleware handles CORS for API routes
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "*")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// pinAuthMiddleware rejects requests that do not carry the admin PIN. An
// empty configured PIN disables auth, which is only sane behind a private
// network.
func pinAuthMiddleware(pin string) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if pin != "" {
				supplied := r.Header.Get(pinHeader)
				if subtle.ConstantTimeCompare([]byte(supplied), []byte(pin)) != 1 {
					http.Error(w, "invalid or missing pin", http.StatusUnauthorized)
					return
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

// Register mounts API endpoints onto the provided router.
func Register(
	r *mux.Router,
	pin string,
	syncHandler *handlers.SyncHandler,
	watchHandler *handlers.WatchHandler,
	membershipHandler *handlers.MembershipHandler,
	accountsHandler *handlers.AccountsHandler,
) {
	// Health check sits outside auth so orchestrators can probe it.
	r.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok"}`))
	}).Methods(http.MethodGet)

	api := r.PathPrefix("/api").Subrouter()
	api.Use(corsMiddleware)
	api.Use(pinAuthMiddleware(pin))

	// Sync
	api.HandleFunc("/sync", syncHandler.TriggerFull).Methods(http.MethodPost)
	api.HandleFunc("/sync/status", syncHandler.Status).Methods(http.MethodGet)
	api.HandleFunc("/sync/{discordID}", syncHandler.TriggerAccount).Methods(http.MethodPost)
	api.HandleFunc("/import", syncHandler.Import).Methods(http.MethodPost)
	api.HandleFunc("/runs", syncHandler.ListRuns).Methods(http.MethodGet)

	// Watch activity
	api.HandleFunc("/accounts/{discordID}/watchtime", watchHandler.GetWatchtime).Methods(http.MethodGet)
	api.HandleFunc("/accounts/{discordID}/buckets", watchHandler.GetBuckets).Methods(http.MethodGet)
	api.HandleFunc("/leaderboard", watchHandler.Leaderboard).Methods(http.MethodGet)

	// Membership standing
	api.HandleFunc("/accounts/{discordID}/standing", membershipHandler.GetStanding).Methods(http.MethodGet)
	api.HandleFunc("/standings", membershipHandler.ListStandings).Methods(http.MethodGet)
	api.HandleFunc("/standings/atrisk", membershipHandler.ListAtRisk).Methods(http.MethodGet)

	// Accounts and subscriptions
	api.HandleFunc("/accounts", accountsHandler.List).Methods(http.MethodGet)
	api.HandleFunc("/accounts/{discordID}", accountsHandler.Get).Methods(http.MethodGet)
	api.HandleFunc("/accounts/{discordID}/links/{source}", accountsHandler.Link).Methods(http.MethodPut)
	api.HandleFunc("/accounts/{discordID}/links/{source}", accountsHandler.Unlink).Methods(http.MethodDelete)
	api.HandleFunc("/accounts/{discordID}/subscriptions", accountsHandler.GetSubscription).Methods(http.MethodGet)
	api.HandleFunc("/accounts/{discordID}/subscriptions", accountsHandler.CreateSubscription).Methods(http.MethodPost)
	api.HandleFunc("/accounts/{discordID}/subscriptions", accountsHandler.CancelSubscription).Methods(http.MethodDelete)
	api.HandleFunc("/accounts/{discordID}/audit", accountsHandler.Audit).Methods(http.MethodGet)
}
