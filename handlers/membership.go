package handlers

import (
	"context"
	"errors"
	"net/http"

	"watchtally/internal/database"
	"watchtally/models"
	"watchtally/services/membership"
	"watchtally/utils"
)

type membershipService interface {
	Evaluate(ctx context.Context, discordID int64) (models.Evaluation, error)
	EvaluateAll(ctx context.Context) ([]models.Evaluation, error)
	ListAtRisk(ctx context.Context) ([]models.Evaluation, error)
}

var _ membershipService = (*membership.Service)(nil)

type MembershipHandler struct {
	Membership membershipService
}

func NewMembershipHandler(svc membershipService) *MembershipHandler {
	return &MembershipHandler{Membership: svc}
}

// GetStanding evaluates one account against the membership policy.
func (h *MembershipHandler) GetStanding(w http.ResponseWriter, r *http.Request) {
	discordID, ok := discordIDVar(w, r)
	if !ok {
		return
	}

	eval, err := h.Membership.Evaluate(r.Context(), discordID)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, database.ErrAccountNotFound) {
			status = http.StatusNotFound
		}
		http.Error(w, err.Error(), status)
		return
	}

	writeJSON(w, map[string]any{
		"discordId":        eval.DiscordID,
		"standing":         eval.Standing,
		"watchedSeconds":   eval.WatchedSeconds,
		"watchedHuman":     utils.FormatDuration(eval.WatchedSeconds),
		"requiredSeconds":  eval.RequiredSeconds,
		"remainingSeconds": eval.RemainingSeconds,
		"remainingHuman":   utils.FormatDuration(eval.RemainingSeconds),
		"windowDays":       eval.WindowDays,
		"bySource":         eval.BySource,
	})
}

// ListStandings evaluates every account.
func (h *MembershipHandler) ListStandings(w http.ResponseWriter, r *http.Request) {
	evals, err := h.Membership.EvaluateAll(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if evals == nil {
		evals = []models.Evaluation{}
	}
	writeJSON(w, evals)
}

// ListAtRisk returns only the accounts below the threshold, the purge
// candidate set.
func (h *MembershipHandler) ListAtRisk(w http.ResponseWriter, r *http.Request) {
	evals, err := h.Membership.ListAtRisk(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if evals == nil {
		evals = []models.Evaluation{}
	}
	writeJSON(w, evals)
}
