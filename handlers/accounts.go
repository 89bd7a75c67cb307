package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/gorilla/mux"

	"watchtally/internal/database"
	"watchtally/models"
)

type accountStore interface {
	GetByDiscordID(ctx context.Context, discordID int64) (models.AccountLink, error)
	GetOrCreate(ctx context.Context, discordID int64, discordUsername string) (models.AccountLink, error)
	LinkSource(ctx context.Context, discordID int64, source models.SourceID, externalID, externalUsername string) error
	UnlinkSource(ctx context.Context, discordID int64, source models.SourceID) error
	ListAll(ctx context.Context) ([]models.AccountLink, error)
	CreateSubscription(ctx context.Context, accountID int64, planType string, amount float64, days int) (int64, error)
	CancelSubscription(ctx context.Context, accountID int64) error
	ActiveSubscription(ctx context.Context, accountID int64) (*models.Subscription, error)
	LogAction(ctx context.Context, accountID int64, action, details string) error
	RecentActions(ctx context.Context, accountID int64, limit int) ([]database.AuditEntry, error)
}

var _ accountStore = (*database.AccountRepository)(nil)

type AccountsHandler struct {
	Accounts accountStore
}

func NewAccountsHandler(accounts accountStore) *AccountsHandler {
	return &AccountsHandler{Accounts: accounts}
}

func (h *AccountsHandler) List(w http.ResponseWriter, r *http.Request) {
	accounts, err := h.Accounts.ListAll(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if accounts == nil {
		accounts = []models.AccountLink{}
	}
	writeJSON(w, accounts)
}

func (h *AccountsHandler) Get(w http.ResponseWriter, r *http.Request) {
	discordID, ok := discordIDVar(w, r)
	if !ok {
		return
	}
	account, err := h.Accounts.GetByDiscordID(r.Context(), discordID)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, database.ErrAccountNotFound) {
			status = http.StatusNotFound
		}
		http.Error(w, err.Error(), status)
		return
	}
	writeJSON(w, account)
}

type linkRequest struct {
	DiscordUsername  string `json:"discordUsername,omitempty"`
	ExternalID       string `json:"externalId"`
	ExternalUsername string `json:"externalUsername,omitempty"`
}

// Link attaches a backend identity to an account, creating the account on
// first contact. The source comes from the path.
func (h *AccountsHandler) Link(w http.ResponseWriter, r *http.Request) {
	discordID, ok := discordIDVar(w, r)
	if !ok {
		return
	}
	source, err := models.ParseSourceID(mux.Vars(r)["source"])
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	var req linkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.ExternalID == "" {
		http.Error(w, "externalId is required", http.StatusBadRequest)
		return
	}

	account, err := h.Accounts.GetOrCreate(r.Context(), discordID, req.DiscordUsername)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if err := h.Accounts.LinkSource(r.Context(), discordID, source, req.ExternalID, req.ExternalUsername); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, database.ErrUnknownSource) {
			status = http.StatusBadRequest
		}
		http.Error(w, err.Error(), status)
		return
	}
	if err := h.Accounts.LogAction(r.Context(), account.ID, "link", string(source)+" "+req.ExternalID); err != nil {
		log.Printf("[accounts] audit log failed for %d: %v", discordID, err)
	}

	account, err = h.Accounts.GetByDiscordID(r.Context(), discordID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, account)
}

// Unlink detaches a backend identity. The account and its buckets remain.
func (h *AccountsHandler) Unlink(w http.ResponseWriter, r *http.Request) {
	discordID, ok := discordIDVar(w, r)
	if !ok {
		return
	}
	source, err := models.ParseSourceID(mux.Vars(r)["source"])
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if err := h.Accounts.UnlinkSource(r.Context(), discordID, source); err != nil {
		status := http.StatusInternalServerError
		switch {
		case errors.Is(err, database.ErrAccountNotFound):
			status = http.StatusNotFound
		case errors.Is(err, database.ErrUnknownSource):
			status = http.StatusBadRequest
		}
		http.Error(w, err.Error(), status)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type subscriptionRequest struct {
	PlanType string  `json:"planType"`
	Amount   float64 `json:"amount,omitempty"`
	Days     int     `json:"days"`
}

// CreateSubscription records a subscription for an account. Any recorded
// subscription makes the account permanently immune to watchtime checks.
func (h *AccountsHandler) CreateSubscription(w http.ResponseWriter, r *http.Request) {
	discordID, ok := discordIDVar(w, r)
	if !ok {
		return
	}

	var req subscriptionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.PlanType == "" || req.Days < 1 {
		http.Error(w, "planType and a positive days value are required", http.StatusBadRequest)
		return
	}

	account, err := h.Accounts.GetByDiscordID(r.Context(), discordID)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, database.ErrAccountNotFound) {
			status = http.StatusNotFound
		}
		http.Error(w, err.Error(), status)
		return
	}

	id, err := h.Accounts.CreateSubscription(r.Context(), account.ID, req.PlanType, req.Amount, req.Days)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(map[string]any{"id": id, "discordId": discordID, "planType": req.PlanType, "days": req.Days})
}

// CancelSubscription ends the active subscription. Historical rows are
// retained, so immunity survives.
func (h *AccountsHandler) CancelSubscription(w http.ResponseWriter, r *http.Request) {
	discordID, ok := discordIDVar(w, r)
	if !ok {
		return
	}
	account, err := h.Accounts.GetByDiscordID(r.Context(), discordID)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, database.ErrAccountNotFound) {
			status = http.StatusNotFound
		}
		http.Error(w, err.Error(), status)
		return
	}

	if err := h.Accounts.CancelSubscription(r.Context(), account.ID); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GetSubscription returns the active subscription, or 404 if none exists.
func (h *AccountsHandler) GetSubscription(w http.ResponseWriter, r *http.Request) {
	discordID, ok := discordIDVar(w, r)
	if !ok {
		return
	}
	account, err := h.Accounts.GetByDiscordID(r.Context(), discordID)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, database.ErrAccountNotFound) {
			status = http.StatusNotFound
		}
		http.Error(w, err.Error(), status)
		return
	}

	sub, err := h.Accounts.ActiveSubscription(r.Context(), account.ID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if sub == nil {
		http.Error(w, "no active subscription", http.StatusNotFound)
		return
	}
	writeJSON(w, sub)
}

// Audit lists recent administrative actions on an account.
func (h *AccountsHandler) Audit(w http.ResponseWriter, r *http.Request) {
	discordID, ok := discordIDVar(w, r)
	if !ok {
		return
	}
	account, err := h.Accounts.GetByDiscordID(r.Context(), discordID)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, database.ErrAccountNotFound) {
			status = http.StatusNotFound
		}
		http.Error(w, err.Error(), status)
		return
	}

	entries, err := h.Accounts.RecentActions(r.Context(), account.ID, queryInt(r, "limit", 50))
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if entries == nil {
		entries = []database.AuditEntry{}
	}
	writeJSON(w, entries)
}
