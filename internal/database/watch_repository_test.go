package database_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"watchtally/internal/database"
	"watchtally/models"
)

func openTestDB(t *testing.T) *database.DB {
	t.Helper()
	db, err := database.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func createAccount(t *testing.T, db *database.DB, discordID int64) int64 {
	t.Helper()
	accounts := database.NewAccountRepository(db.Connection())
	a, err := accounts.GetOrCreate(context.Background(), discordID, "tester")
	require.NoError(t, err)
	return a.ID
}

func TestAddWatchSecondsIsAdditive(t *testing.T) {
	db := openTestDB(t)
	repo := database.NewWatchRepository(db.Connection())
	ctx := context.Background()
	accountID := createAccount(t, db, 100)

	require.NoError(t, repo.AddWatchSeconds(ctx, accountID, models.SourceJellyfin, "2024-01-05", 100))
	require.NoError(t, repo.AddWatchSeconds(ctx, accountID, models.SourceJellyfin, "2024-01-05", 50))

	buckets, err := repo.ReadBuckets(ctx, accountID, database.BucketQuery{})
	require.NoError(t, err)
	require.Len(t, buckets, 1)
	require.Equal(t, int64(150), buckets[0].Seconds)
}

func TestAddWatchSecondsRejectsNonPositiveDelta(t *testing.T) {
	db := openTestDB(t)
	repo := database.NewWatchRepository(db.Connection())
	accountID := createAccount(t, db, 100)

	err := repo.AddWatchSeconds(context.Background(), accountID, models.SourceEmby, "2024-01-05", 0)
	require.ErrorIs(t, err, database.ErrInvalidDelta)
}

func TestReplaceSourceBucketsIsIdempotent(t *testing.T) {
	db := openTestDB(t)
	repo := database.NewWatchRepository(db.Connection())
	ctx := context.Background()
	accountID := createAccount(t, db, 100)

	snapshot := map[models.Date]int64{
		"2024-01-05": 7200,
		"2024-01-06": 1800,
	}

	// Two imports of the identical historical dataset must not double-count.
	require.NoError(t, repo.ReplaceSourceBuckets(ctx, accountID, models.SourceJellyfin, snapshot))
	require.NoError(t, repo.ReplaceSourceBuckets(ctx, accountID, models.SourceJellyfin, snapshot))

	total, err := repo.TotalSeconds(ctx, accountID)
	require.NoError(t, err)
	require.Equal(t, int64(9000), total)
}

func TestReplaceSourceBucketsLeavesOtherSourcesAlone(t *testing.T) {
	db := openTestDB(t)
	repo := database.NewWatchRepository(db.Connection())
	ctx := context.Background()
	accountID := createAccount(t, db, 100)

	require.NoError(t, repo.AddWatchSeconds(ctx, accountID, models.SourceEmby, "2024-01-05", 600))
	require.NoError(t, repo.ReplaceSourceBuckets(ctx, accountID, models.SourceJellyfin,
		map[models.Date]int64{"2024-01-05": 7200}))
	require.NoError(t, repo.ReplaceSourceBuckets(ctx, accountID, models.SourceJellyfin,
		map[models.Date]int64{"2024-01-05": 3600}))

	total, err := repo.TotalSeconds(ctx, accountID)
	require.NoError(t, err)
	require.Equal(t, int64(4200), total)
}

func TestWindowSecondsSumsAcrossSources(t *testing.T) {
	db := openTestDB(t)
	repo := database.NewWatchRepository(db.Connection())
	ctx := context.Background()
	accountID := createAccount(t, db, 100)

	require.NoError(t, repo.AddWatchSeconds(ctx, accountID, models.SourceJellyfin, "2024-01-10", 3600))
	require.NoError(t, repo.AddWatchSeconds(ctx, accountID, models.SourceEmby, "2024-01-12", 1800))
	// Outside the window; must not count.
	require.NoError(t, repo.AddWatchSeconds(ctx, accountID, models.SourceJellyfin, "2023-12-01", 9999))

	total, err := repo.WindowSeconds(ctx, accountID, "2024-01-01", "2024-01-31")
	require.NoError(t, err)
	require.Equal(t, int64(5400), total)

	bySource, err := repo.SourceWindowSeconds(ctx, accountID, "2024-01-01", "2024-01-31")
	require.NoError(t, err)
	require.Equal(t, int64(3600), bySource[models.SourceJellyfin])
	require.Equal(t, int64(1800), bySource[models.SourceEmby])

	allTime, err := repo.SourceTotals(ctx, accountID)
	require.NoError(t, err)
	require.Equal(t, int64(3600+9999), allTime[models.SourceJellyfin])
	require.Equal(t, int64(1800), allTime[models.SourceEmby])
}

func TestReadBucketsFilters(t *testing.T) {
	db := openTestDB(t)
	repo := database.NewWatchRepository(db.Connection())
	ctx := context.Background()
	accountID := createAccount(t, db, 100)

	require.NoError(t, repo.AddWatchSeconds(ctx, accountID, models.SourceJellyfin, "2024-01-01", 100))
	require.NoError(t, repo.AddWatchSeconds(ctx, accountID, models.SourceJellyfin, "2024-01-15", 200))
	require.NoError(t, repo.AddWatchSeconds(ctx, accountID, models.SourceEmby, "2024-01-15", 300))

	buckets, err := repo.ReadBuckets(ctx, accountID, database.BucketQuery{
		Source: models.SourceJellyfin,
		From:   "2024-01-10",
		To:     "2024-01-31",
	})
	require.NoError(t, err)
	require.Len(t, buckets, 1)
	require.Equal(t, models.Date("2024-01-15"), buckets[0].Date)
	require.Equal(t, int64(200), buckets[0].Seconds)
}

func TestLeaderboardOrdersByWindowSeconds(t *testing.T) {
	db := openTestDB(t)
	repo := database.NewWatchRepository(db.Connection())
	accounts := database.NewAccountRepository(db.Connection())
	ctx := context.Background()

	heavy, err := accounts.GetOrCreate(ctx, 1, "heavy")
	require.NoError(t, err)
	light, err := accounts.GetOrCreate(ctx, 2, "light")
	require.NoError(t, err)

	require.NoError(t, repo.AddWatchSeconds(ctx, heavy.ID, models.SourceJellyfin, "2024-01-05", 7200))
	require.NoError(t, repo.AddWatchSeconds(ctx, light.ID, models.SourceEmby, "2024-01-05", 600))

	entries, err := repo.Leaderboard(ctx, "2024-01-01", "2024-01-31", 10)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	require.Equal(t, int64(1), entries[0].DiscordID)
	require.Equal(t, int64(7200), entries[0].TotalSeconds)
	require.Equal(t, int64(2), entries[1].DiscordID)
}

func TestRecordRunPrunesHistory(t *testing.T) {
	db := openTestDB(t)
	repo := database.NewWatchRepository(db.Connection())
	ctx := context.Background()

	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		run := models.SyncRun{
			ID:         string(rune('a' + i)),
			StartedAt:  base.Add(time.Duration(i) * time.Hour),
			FinishedAt: base.Add(time.Duration(i)*time.Hour + time.Minute),
		}
		require.NoError(t, repo.RecordRun(ctx, run, 3))
	}

	runs, err := repo.RecentRuns(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 3)
	require.Equal(t, "e", runs[0].ID)
}
