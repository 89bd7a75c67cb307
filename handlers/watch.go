package handlers

import (
	"context"
	"errors"
	"net/http"

	"watchtally/internal/database"
	"watchtally/models"
	"watchtally/services/stats"
	"watchtally/utils"
)

type watchStore interface {
	ReadBuckets(ctx context.Context, accountID int64, q database.BucketQuery) ([]models.WatchBucket, error)
	WindowSeconds(ctx context.Context, accountID int64, from, to models.Date) (int64, error)
	SourceWindowSeconds(ctx context.Context, accountID int64, from, to models.Date) (map[models.SourceID]int64, error)
	TotalSeconds(ctx context.Context, accountID int64) (int64, error)
	SourceTotals(ctx context.Context, accountID int64) (map[models.SourceID]int64, error)
	Leaderboard(ctx context.Context, from, to models.Date, limit int) ([]database.LeaderboardEntry, error)
}

var _ watchStore = (*database.WatchRepository)(nil)

type WatchHandler struct {
	Watch    watchStore
	Accounts accountStore
}

func NewWatchHandler(watch watchStore, accounts accountStore) *WatchHandler {
	return &WatchHandler{Watch: watch, Accounts: accounts}
}

// GetWatchtime reports an account's watched time inside a window, broken
// down per source. The window defaults to 30 days; ?days= overrides it.
func (h *WatchHandler) GetWatchtime(w http.ResponseWriter, r *http.Request) {
	discordID, ok := discordIDVar(w, r)
	if !ok {
		return
	}
	account, ok := h.lookupAccount(w, r, discordID)
	if !ok {
		return
	}

	days := queryInt(r, "days", 30)
	from, to := stats.WindowBounds(models.Today(), days)

	watched, err := h.Watch.WindowSeconds(r.Context(), account.ID, from, to)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	bySource, err := h.Watch.SourceWindowSeconds(r.Context(), account.ID, from, to)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	allTime, err := h.Watch.TotalSeconds(r.Context(), account.ID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	allTimeBySource, err := h.Watch.SourceTotals(r.Context(), account.ID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	writeJSON(w, map[string]any{
		"discordId":       discordID,
		"windowDays":      days,
		"from":            from,
		"to":              to,
		"watchedSeconds":  watched,
		"watchedHuman":    utils.FormatDuration(watched),
		"bySource":        bySource,
		"allTimeSeconds":  allTime,
		"allTimeBySource": allTimeBySource,
	})
}

// GetBuckets returns the raw daily buckets for an account, optionally
// filtered by ?source=, ?from= and ?to=.
func (h *WatchHandler) GetBuckets(w http.ResponseWriter, r *http.Request) {
	discordID, ok := discordIDVar(w, r)
	if !ok {
		return
	}
	account, ok := h.lookupAccount(w, r, discordID)
	if !ok {
		return
	}

	var q database.BucketQuery
	if raw := r.URL.Query().Get("source"); raw != "" {
		source, err := models.ParseSourceID(raw)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		q.Source = source
	}
	if raw := r.URL.Query().Get("from"); raw != "" {
		date, err := models.ParseDate(raw)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		q.From = date
	}
	if raw := r.URL.Query().Get("to"); raw != "" {
		date, err := models.ParseDate(raw)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		q.To = date
	}

	buckets, err := h.Watch.ReadBuckets(r.Context(), account.ID, q)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if buckets == nil {
		buckets = []models.WatchBucket{}
	}
	writeJSON(w, buckets)
}

// Leaderboard returns the top watchers for a window. ?days= and ?limit=
// override the 30-day / top-10 defaults.
func (h *WatchHandler) Leaderboard(w http.ResponseWriter, r *http.Request) {
	days := queryInt(r, "days", 30)
	limit := queryInt(r, "limit", 10)
	from, to := stats.WindowBounds(models.Today(), days)

	entries, err := h.Watch.Leaderboard(r.Context(), from, to, limit)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if entries == nil {
		entries = []database.LeaderboardEntry{}
	}

	writeJSON(w, map[string]any{
		"windowDays": days,
		"from":       from,
		"to":         to,
		"entries":    entries,
	})
}

func (h *WatchHandler) lookupAccount(w http.ResponseWriter, r *http.Request, discordID int64) (models.AccountLink, bool) {
	account, err := h.Accounts.GetByDiscordID(r.Context(), discordID)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, database.ErrAccountNotFound) {
			status = http.StatusNotFound
		}
		http.Error(w, err.Error(), status)
		return models.AccountLink{}, false
	}
	return account, true
}
