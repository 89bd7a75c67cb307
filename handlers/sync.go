package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"watchtally/internal/database"
	"watchtally/models"
	syncsvc "watchtally/services/sync"
)

type syncService interface {
	RunFull(ctx context.Context) (models.SyncSummary, error)
	RunAccount(ctx context.Context, discordID int64) (models.AccountSyncResult, error)
	ImportManual(ctx context.Context, discordID int64, hours float64) (int64, int, error)
	Running() bool
}

var _ syncService = (*syncsvc.Service)(nil)

type runStore interface {
	RecentRuns(ctx context.Context, limit int) ([]models.SyncRun, error)
}

var _ runStore = (*database.WatchRepository)(nil)

type SyncHandler struct {
	Sync syncService
	Runs runStore
}

func NewSyncHandler(sync syncService, runs runStore) *SyncHandler {
	return &SyncHandler{Sync: sync, Runs: runs}
}

// TriggerFull starts a synchronous full sync and returns its summary.
func (h *SyncHandler) TriggerFull(w http.ResponseWriter, r *http.Request) {
	summary, err := h.Sync.RunFull(r.Context())
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, syncsvc.ErrSyncInProgress) {
			status = http.StatusConflict
		}
		http.Error(w, err.Error(), status)
		return
	}

	writeJSON(w, summary)
}

// TriggerAccount syncs a single account by Discord ID.
func (h *SyncHandler) TriggerAccount(w http.ResponseWriter, r *http.Request) {
	discordID, ok := discordIDVar(w, r)
	if !ok {
		return
	}

	result, err := h.Sync.RunAccount(r.Context(), discordID)
	if err != nil {
		status := http.StatusInternalServerError
		switch {
		case errors.Is(err, database.ErrAccountNotFound):
			status = http.StatusNotFound
		case errors.Is(err, syncsvc.ErrNotLinked):
			status = http.StatusBadRequest
		}
		http.Error(w, err.Error(), status)
		return
	}

	writeJSON(w, result)
}

// Status reports whether a sync run is active.
func (h *SyncHandler) Status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]bool{"running": h.Sync.Running()})
}

type importRequest struct {
	DiscordID int64   `json:"discordId"`
	Hours     float64 `json:"hours"`
}

// Import credits manually verified watch hours to an account.
func (h *SyncHandler) Import(w http.ResponseWriter, r *http.Request) {
	var req importRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	seconds, days, err := h.Sync.ImportManual(r.Context(), req.DiscordID, req.Hours)
	if err != nil {
		status := http.StatusInternalServerError
		switch {
		case errors.Is(err, database.ErrAccountNotFound):
			status = http.StatusNotFound
		case errors.Is(err, syncsvc.ErrInvalidImport):
			status = http.StatusBadRequest
		}
		http.Error(w, err.Error(), status)
		return
	}

	writeJSON(w, map[string]any{
		"discordId":       req.DiscordID,
		"source":          models.SourceManual,
		"secondsImported": seconds,
		"daysSpread":      days,
	})
}

// ListRuns returns recent sync runs, newest first.
func (h *SyncHandler) ListRuns(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 20)
	runs, err := h.Runs.RecentRuns(r.Context(), limit)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if runs == nil {
		runs = []models.SyncRun{}
	}
	writeJSON(w, runs)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func discordIDVar(w http.ResponseWriter, r *http.Request) (int64, bool) {
	raw := mux.Vars(r)["discordID"]
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		http.Error(w, "invalid discord id", http.StatusBadRequest)
		return 0, false
	}
	return id, true
}

func queryInt(r *http.Request, key string, fallback int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return fallback
	}
	return n
}
