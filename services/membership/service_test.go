package membership_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"watchtally/config"
	"watchtally/internal/database"
	"watchtally/models"
	"watchtally/services/membership"
)

func setup(t *testing.T) (*membership.Service, *database.AccountRepository, *database.WatchRepository) {
	t.Helper()
	db, err := database.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	accounts := database.NewAccountRepository(db.Connection())
	watch := database.NewWatchRepository(db.Connection())
	svc, err := membership.NewService(accounts, watch, config.MembershipSettings{
		ThresholdHours: 4,
		WindowDays:     30,
	})
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	return svc, accounts, watch
}

func addRecentSeconds(t *testing.T, watch *database.WatchRepository, accountID, seconds int64) {
	t.Helper()
	if err := watch.AddWatchSeconds(context.Background(), accountID, models.SourceJellyfin, models.Today(), seconds); err != nil {
		t.Fatalf("add watch seconds: %v", err)
	}
}

func TestEvaluateThresholdBoundary(t *testing.T) {
	svc, accounts, watch := setup(t)
	ctx := context.Background()

	safe, err := accounts.GetOrCreate(ctx, 1, "exactly")
	if err != nil {
		t.Fatalf("create account: %v", err)
	}
	atRisk, err := accounts.GetOrCreate(ctx, 2, "one-short")
	if err != nil {
		t.Fatalf("create account: %v", err)
	}

	// Exactly the 4h threshold is safe; one second short is not.
	addRecentSeconds(t, watch, safe.ID, 14400)
	addRecentSeconds(t, watch, atRisk.ID, 14399)

	eval, err := svc.Evaluate(ctx, 1)
	if err != nil {
		t.Fatalf("evaluate safe: %v", err)
	}
	if eval.Standing != models.StandingSafe {
		t.Fatalf("expected safe at exact threshold, got %s", eval.Standing)
	}
	if eval.RemainingSeconds != 0 {
		t.Fatalf("safe account should owe nothing, got %d", eval.RemainingSeconds)
	}

	eval, err = svc.Evaluate(ctx, 2)
	if err != nil {
		t.Fatalf("evaluate at-risk: %v", err)
	}
	if eval.Standing != models.StandingAtRisk {
		t.Fatalf("expected at_risk one second short, got %s", eval.Standing)
	}
	if eval.RemainingSeconds != 1 {
		t.Fatalf("expected 1 remaining second, got %d", eval.RemainingSeconds)
	}
}

func TestEvaluateSumsAcrossSources(t *testing.T) {
	svc, accounts, watch := setup(t)
	ctx := context.Background()

	a, err := accounts.GetOrCreate(ctx, 1, "split")
	if err != nil {
		t.Fatalf("create account: %v", err)
	}
	if err := watch.AddWatchSeconds(ctx, a.ID, models.SourceJellyfin, models.Today(), 3600); err != nil {
		t.Fatalf("add jellyfin seconds: %v", err)
	}
	if err := watch.AddWatchSeconds(ctx, a.ID, models.SourceEmby, models.Today(), 1800); err != nil {
		t.Fatalf("add emby seconds: %v", err)
	}

	eval, err := svc.Evaluate(ctx, 1)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if eval.WatchedSeconds != 5400 {
		t.Fatalf("expected 5400 watched seconds across sources, got %d", eval.WatchedSeconds)
	}
	if eval.BySource[models.SourceJellyfin] != 3600 || eval.BySource[models.SourceEmby] != 1800 {
		t.Fatalf("unexpected per-source breakdown: %v", eval.BySource)
	}
}

func TestImmunityOverridesThreshold(t *testing.T) {
	svc, accounts, _ := setup(t)
	ctx := context.Background()

	a, err := accounts.GetOrCreate(ctx, 1, "subscriber")
	if err != nil {
		t.Fatalf("create account: %v", err)
	}
	// Zero watch activity but a cancelled subscription: still immune.
	if _, err := accounts.CreateSubscription(ctx, a.ID, "monthly", 5, 30); err != nil {
		t.Fatalf("create subscription: %v", err)
	}
	if err := accounts.CancelSubscription(ctx, a.ID); err != nil {
		t.Fatalf("cancel subscription: %v", err)
	}

	eval, err := svc.Evaluate(ctx, 1)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if eval.Standing != models.StandingImmune {
		t.Fatalf("expected immune, got %s", eval.Standing)
	}
	if eval.RemainingSeconds != 0 {
		t.Fatalf("immune account should owe nothing, got %d", eval.RemainingSeconds)
	}
}

func TestEvaluateIgnoresActivityOutsideWindow(t *testing.T) {
	svc, accounts, watch := setup(t)
	ctx := context.Background()

	a, err := accounts.GetOrCreate(ctx, 1, "stale")
	if err != nil {
		t.Fatalf("create account: %v", err)
	}
	old := models.Today().AddDays(-31)
	if err := watch.AddWatchSeconds(ctx, a.ID, models.SourceJellyfin, old, 99999); err != nil {
		t.Fatalf("add old seconds: %v", err)
	}

	eval, err := svc.Evaluate(ctx, 1)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if eval.WatchedSeconds != 0 || eval.Standing != models.StandingAtRisk {
		t.Fatalf("day-31 activity leaked into a 30-day window: %+v", eval)
	}
}

func TestListAtRisk(t *testing.T) {
	svc, accounts, watch := setup(t)
	ctx := context.Background()

	safe, _ := accounts.GetOrCreate(ctx, 1, "safe")
	if _, err := accounts.GetOrCreate(ctx, 2, "risky"); err != nil {
		t.Fatalf("create account: %v", err)
	}
	addRecentSeconds(t, watch, safe.ID, 20000)

	atRisk, err := svc.ListAtRisk(ctx)
	if err != nil {
		t.Fatalf("list at risk: %v", err)
	}
	if len(atRisk) != 1 || atRisk[0].DiscordID != 2 {
		t.Fatalf("unexpected at-risk set: %+v", atRisk)
	}
}

func TestNewServiceRejectsBadPolicy(t *testing.T) {
	_, accounts, watch := setup(t)

	_, err := membership.NewService(accounts, watch, config.MembershipSettings{ThresholdHours: 4, WindowDays: 0})
	if !errors.Is(err, membership.ErrInvalidPolicy) {
		t.Fatalf("expected ErrInvalidPolicy for zero window, got %v", err)
	}

	_, err = membership.NewService(accounts, watch, config.MembershipSettings{ThresholdHours: -1, WindowDays: 30})
	if !errors.Is(err, membership.ErrInvalidPolicy) {
		t.Fatalf("expected ErrInvalidPolicy for negative threshold, got %v", err)
	}
}
