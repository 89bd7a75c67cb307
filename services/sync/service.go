package sync

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	gosync "sync"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/google/uuid"
	"github.com/sourcegraph/conc/pool"

	"watchtally/config"
	"watchtally/internal/database"
	"watchtally/models"
	"watchtally/services/sources"
	"watchtally/services/stats"
)

var (
	ErrSyncInProgress = errors.New("sync already in progress")
	ErrNotLinked      = errors.New("account has no linked sources")
	ErrInvalidImport  = errors.New("import hours must be positive")
)

// persistAttempts caps retries on bucket writes before the pair is failed.
const persistAttempts = 3

// maxImportSpreadDays bounds how far back a manual import reaches.
const maxImportSpreadDays = 30

// Service orchestrates sync runs: it fans fetches out across every linked
// (account, source) pair with bounded concurrency, aggregates the events,
// and persists full-history snapshots. One failing pair never aborts the
// run; its failure is isolated into the summary.
type Service struct {
	registry *sources.Registry
	accounts *database.AccountRepository
	watch    *database.WatchRepository
	cfg      config.SyncSettings

	mu      gosync.Mutex
	running bool
}

func NewService(registry *sources.Registry, accounts *database.AccountRepository, watch *database.WatchRepository, cfg config.SyncSettings) *Service {
	return &Service{
		registry: registry,
		accounts: accounts,
		watch:    watch,
		cfg:      cfg,
	}
}

// Running reports whether a full sync is currently executing.
func (s *Service) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

func (s *Service) tryAcquire() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return false
	}
	s.running = true
	return true
}

func (s *Service) release() {
	s.mu.Lock()
	s.running = false
	s.mu.Unlock()
}

// RunFull syncs every linked account against every configured source and
// records the run. Overlapping full syncs are rejected rather than queued.
func (s *Service) RunFull(ctx context.Context) (models.SyncSummary, error) {
	if !s.tryAcquire() {
		return models.SyncSummary{}, ErrSyncInProgress
	}
	defer s.release()

	now := time.Now().UTC()
	if s.registry.Len() == 0 {
		log.Printf("[sync] nothing to sync: no sources configured")
		return models.SyncSummary{
			RunID:      uuid.NewString(),
			StartedAt:  now,
			FinishedAt: time.Now().UTC(),
		}, nil
	}

	accounts, err := s.accounts.ListLinked(ctx)
	if err != nil {
		return models.SyncSummary{}, fmt.Errorf("list accounts: %w", err)
	}

	summary := models.SyncSummary{
		RunID:       uuid.NewString(),
		StartedAt:   now,
		SourcesUsed: s.registry.Sources(),
	}
	log.Printf("[sync] run %s starting: %d accounts, %d sources", summary.RunID, len(accounts), s.registry.Len())

	results := s.fanOut(ctx, accounts)
	summary.FinishedAt = time.Now().UTC()
	summary.Accounts = results

	for _, account := range results {
		failed := false
		for _, src := range account.Sources {
			if src.Failed {
				summary.FailedFetches++
				failed = true
				continue
			}
			summary.SecondsImported += src.Seconds
			summary.SkippedRecords += src.Skipped
		}
		if failed {
			summary.AccountsFailed++
		} else {
			summary.AccountsSynced++
		}
	}

	if err := s.watch.RecordRun(ctx, models.SyncRun{
		ID:              summary.RunID,
		StartedAt:       summary.StartedAt,
		FinishedAt:      summary.FinishedAt,
		AccountsSynced:  summary.AccountsSynced,
		SourcesFailed:   summary.FailedFetches,
		SecondsImported: summary.SecondsImported,
	}, s.cfg.KeepRuns); err != nil {
		log.Printf("[sync] run %s: failed to record run: %v", summary.RunID, err)
	}

	log.Printf("[sync] run %s finished in %s: %d synced, %d failed, %d seconds imported",
		summary.RunID, summary.FinishedAt.Sub(summary.StartedAt).Round(time.Millisecond),
		summary.AccountsSynced, summary.AccountsFailed, summary.SecondsImported)
	return summary, nil
}

// RunAccount syncs a single account across its linked sources.
func (s *Service) RunAccount(ctx context.Context, discordID int64) (models.AccountSyncResult, error) {
	account, err := s.accounts.GetByDiscordID(ctx, discordID)
	if err != nil {
		return models.AccountSyncResult{}, err
	}
	if len(account.LinkedSources()) == 0 {
		return models.AccountSyncResult{}, ErrNotLinked
	}
	result := s.syncAccount(ctx, account)
	if err := s.accounts.LogAction(ctx, account.ID, "sync", fmt.Sprintf("%d seconds", result.Seconds)); err != nil {
		log.Printf("[sync] audit log failed for %d: %v", discordID, err)
	}
	return result, nil
}

// fanOut runs every (account, source) fetch through a bounded worker pool.
// Results arrive in completion order; they are grouped per account and
// re-sorted afterwards so summaries stay deterministic.
func (s *Service) fanOut(ctx context.Context, accounts []models.AccountLink) []models.AccountSyncResult {
	type pairOutcome struct {
		accountIdx int
		result     models.SourceSyncResult
	}

	p := pool.NewWithResults[pairOutcome]().WithMaxGoroutines(s.cfg.MaxConcurrent)
	for idx, account := range accounts {
		for _, source := range account.LinkedSources() {
			if _, ok := s.registry.Get(source); !ok {
				continue
			}
			p.Go(func() pairOutcome {
				return pairOutcome{accountIdx: idx, result: s.syncPair(ctx, account, source)}
			})
		}
	}

	grouped := make([][]models.SourceSyncResult, len(accounts))
	for _, outcome := range p.Wait() {
		grouped[outcome.accountIdx] = append(grouped[outcome.accountIdx], outcome.result)
	}

	var results []models.AccountSyncResult
	for idx, account := range accounts {
		if len(grouped[idx]) == 0 {
			continue
		}
		sort.Slice(grouped[idx], func(i, j int) bool {
			return grouped[idx][i].Source < grouped[idx][j].Source
		})
		r := models.AccountSyncResult{
			DiscordID:       account.DiscordID,
			DiscordUsername: account.DiscordUsername,
			Sources:         grouped[idx],
		}
		for _, src := range grouped[idx] {
			r.Seconds += src.Seconds
		}
		results = append(results, r)
	}
	return results
}

func (s *Service) syncAccount(ctx context.Context, account models.AccountLink) models.AccountSyncResult {
	result := models.AccountSyncResult{
		DiscordID:       account.DiscordID,
		DiscordUsername: account.DiscordUsername,
	}
	for _, source := range account.LinkedSources() {
		if _, ok := s.registry.Get(source); !ok {
			continue
		}
		src := s.syncPair(ctx, account, source)
		result.Sources = append(result.Sources, src)
		result.Seconds += src.Seconds
	}
	return result
}

// syncPair fetches one backend's history for one account and replaces the
// stored snapshot for the pair. Re-running it with unchanged backend history
// leaves the stored totals unchanged.
func (s *Service) syncPair(ctx context.Context, account models.AccountLink, source models.SourceID) models.SourceSyncResult {
	result := models.SourceSyncResult{Source: source}

	adapter, ok := s.registry.Get(source)
	if !ok {
		result.Failed = true
		result.Error = "source not configured"
		return result
	}
	externalID, ok := account.ExternalID(source)
	if !ok {
		result.Failed = true
		result.Error = "account not linked"
		return result
	}

	fetchCtx, cancel := context.WithTimeout(ctx, time.Duration(s.cfg.FetchTimeoutSec)*time.Second)
	defer cancel()

	events, skipped, err := adapter.FetchEvents(fetchCtx, externalID)
	if err != nil {
		log.Printf("[sync] fetch %s for %d failed: %v", source, account.DiscordID, err)
		result.Failed = true
		result.Error = err.Error()
		return result
	}
	result.Skipped = skipped

	agg := stats.Aggregate(events)
	err = retry.Do(
		func() error {
			return s.watch.ReplaceSourceBuckets(ctx, account.ID, source, agg.ByDate)
		},
		retry.Attempts(persistAttempts),
		retry.Delay(200*time.Millisecond),
		retry.Context(ctx),
		retry.LastErrorOnly(true),
	)
	if err != nil {
		log.Printf("[sync] persist %s for %d failed: %v", source, account.DiscordID, err)
		result.Failed = true
		result.Error = fmt.Sprintf("persist: %v", err)
		return result
	}

	result.Seconds = agg.TotalSeconds
	result.Plays = agg.TotalPlays
	return result
}

// ImportManual credits an account with externally verified watch hours.
// The hours are spread backwards over recent days so a large one-off grant
// does not land on a single calendar day. Credits are stored under
// models.SourceManual, which sync runs never snapshot-replace, so a grant
// survives every later resync.
func (s *Service) ImportManual(ctx context.Context, discordID int64, hours float64) (int64, int, error) {
	if hours <= 0 {
		return 0, 0, ErrInvalidImport
	}
	account, err := s.accounts.GetByDiscordID(ctx, discordID)
	if err != nil {
		return 0, 0, err
	}

	totalSeconds := int64(hours * 3600)
	days := int(hours/2) + 1
	if days > maxImportSpreadDays {
		days = maxImportSpreadDays
	}

	base := totalSeconds / int64(days)
	remainder := totalSeconds % int64(days)
	today := models.Today()

	for i := 0; i < days; i++ {
		seconds := base
		if i == 0 {
			seconds += remainder
		}
		if seconds <= 0 {
			continue
		}
		date := today.AddDays(-i)
		if err := s.watch.AddWatchSeconds(ctx, account.ID, models.SourceManual, date, seconds); err != nil {
			return 0, 0, fmt.Errorf("import day %s: %w", date, err)
		}
	}

	if err := s.accounts.LogAction(ctx, account.ID, "import",
		fmt.Sprintf("%.1f hours over %d days", hours, days)); err != nil {
		log.Printf("[sync] audit log failed for %d: %v", discordID, err)
	}
	log.Printf("[sync] imported %.1f hours for %d over %d days", hours, discordID, days)
	return totalSeconds, days, nil
}
