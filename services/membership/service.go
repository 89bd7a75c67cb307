package membership

import (
	"context"
	"errors"
	"fmt"
	"math"

	"watchtally/config"
	"watchtally/internal/database"
	"watchtally/models"
	"watchtally/services/stats"
)

var ErrInvalidPolicy = errors.New("invalid membership policy")

// Service evaluates accounts against the watchtime membership policy. The
// policy is read-only here: Evaluate reports standing, it never mutates
// accounts or buckets.
type Service struct {
	accounts *database.AccountRepository
	watch    *database.WatchRepository

	requiredSeconds int64
	windowDays      int
}

// NewService validates the policy up front. A window of zero days or a
// negative threshold is a deployment mistake, not an account problem, so it
// fails construction instead of surfacing per evaluation.
func NewService(accounts *database.AccountRepository, watch *database.WatchRepository, policy config.MembershipSettings) (*Service, error) {
	if policy.WindowDays < 1 {
		return nil, fmt.Errorf("%w: window must be at least one day, got %d", ErrInvalidPolicy, policy.WindowDays)
	}
	if policy.ThresholdHours < 0 || math.IsNaN(policy.ThresholdHours) || math.IsInf(policy.ThresholdHours, 0) {
		return nil, fmt.Errorf("%w: threshold hours %v", ErrInvalidPolicy, policy.ThresholdHours)
	}
	return &Service{
		accounts:        accounts,
		watch:           watch,
		requiredSeconds: int64(policy.ThresholdHours * 3600),
		windowDays:      policy.WindowDays,
	}, nil
}

// Evaluate applies the policy to one account. Immunity is checked first:
// an account that has ever held a subscription is immune regardless of
// watch activity. Otherwise the account is safe when its watched seconds
// inside the evaluation window meet the threshold exactly or better.
func (s *Service) Evaluate(ctx context.Context, discordID int64) (models.Evaluation, error) {
	account, err := s.accounts.GetByDiscordID(ctx, discordID)
	if err != nil {
		return models.Evaluation{}, err
	}
	return s.evaluateAccount(ctx, account)
}

func (s *Service) evaluateAccount(ctx context.Context, account models.AccountLink) (models.Evaluation, error) {
	from, to := stats.WindowBounds(models.Today(), s.windowDays)

	watched, err := s.watch.WindowSeconds(ctx, account.ID, from, to)
	if err != nil {
		return models.Evaluation{}, fmt.Errorf("evaluate %d: %w", account.DiscordID, err)
	}
	bySource, err := s.watch.SourceWindowSeconds(ctx, account.ID, from, to)
	if err != nil {
		return models.Evaluation{}, fmt.Errorf("evaluate %d: %w", account.DiscordID, err)
	}

	eval := models.Evaluation{
		DiscordID:       account.DiscordID,
		WatchedSeconds:  watched,
		RequiredSeconds: s.requiredSeconds,
		WindowDays:      s.windowDays,
		BySource:        bySource,
	}

	immune, err := s.accounts.HasEverSubscribed(ctx, account.ID)
	if err != nil {
		return models.Evaluation{}, fmt.Errorf("evaluate %d: %w", account.DiscordID, err)
	}
	if immune {
		eval.Standing = models.StandingImmune
		return eval, nil
	}

	if watched >= s.requiredSeconds {
		eval.Standing = models.StandingSafe
	} else {
		eval.Standing = models.StandingAtRisk
		eval.RemainingSeconds = s.requiredSeconds - watched
	}
	return eval, nil
}

// EvaluateAll applies the policy to every account.
func (s *Service) EvaluateAll(ctx context.Context) ([]models.Evaluation, error) {
	accounts, err := s.accounts.ListAll(ctx)
	if err != nil {
		return nil, err
	}
	evals := make([]models.Evaluation, 0, len(accounts))
	for _, account := range accounts {
		eval, err := s.evaluateAccount(ctx, account)
		if err != nil {
			return nil, err
		}
		evals = append(evals, eval)
	}
	return evals, nil
}

// ListAtRisk returns the accounts currently below the threshold and not
// immune, the candidate set for a purge.
func (s *Service) ListAtRisk(ctx context.Context) ([]models.Evaluation, error) {
	evals, err := s.EvaluateAll(ctx)
	if err != nil {
		return nil, err
	}
	atRisk := evals[:0]
	for _, eval := range evals {
		if eval.Standing == models.StandingAtRisk {
			atRisk = append(atRisk, eval)
		}
	}
	return atRisk, nil
}
