package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"watchtally/models"
)

var ErrInvalidDelta = errors.New("seconds delta must be positive")

// WatchRepository persists and reads daily watch buckets.
type WatchRepository struct {
	db *sql.DB
}

func NewWatchRepository(db *sql.DB) *WatchRepository {
	return &WatchRepository{db: db}
}

// AddWatchSeconds applies an additive upsert for one (account, source, date)
// key: existing buckets accumulate, missing buckets are inserted. The single
// ON CONFLICT statement is the atomicity boundary; concurrent writers on
// distinct keys never interfere.
func (r *WatchRepository) AddWatchSeconds(ctx context.Context, accountID int64, source models.SourceID, date models.Date, secondsDelta int64) error {
	if secondsDelta <= 0 {
		return ErrInvalidDelta
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO watch_bucket (account_id, source_id, watch_date, seconds)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(account_id, source_id, watch_date)
		 DO UPDATE SET seconds = seconds + excluded.seconds`,
		accountID, string(source), string(date), secondsDelta)
	if err != nil {
		return fmt.Errorf("upsert watch bucket: %w", err)
	}
	return nil
}

// ReplaceSourceBuckets stores a full-history snapshot for one (account,
// source) pair: the previous rows for the pair are dropped and the supplied
// per-date totals inserted, all in one transaction. Re-importing the same
// backend history is therefore idempotent and can never double-count.
func (r *WatchRepository) ReplaceSourceBuckets(ctx context.Context, accountID int64, source models.SourceID, byDate map[models.Date]int64) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin snapshot tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM watch_bucket WHERE account_id = ? AND source_id = ?`,
		accountID, string(source)); err != nil {
		return fmt.Errorf("clear source buckets: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO watch_bucket (account_id, source_id, watch_date, seconds) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare bucket insert: %w", err)
	}
	defer stmt.Close()

	for date, seconds := range byDate {
		if seconds <= 0 {
			continue
		}
		if _, err := stmt.ExecContext(ctx, accountID, string(source), string(date), seconds); err != nil {
			return fmt.Errorf("insert bucket %s/%s: %w", source, date, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit snapshot: %w", err)
	}
	return nil
}

// BucketQuery narrows ReadBuckets. Zero values mean "no filter".
type BucketQuery struct {
	Source models.SourceID
	From   models.Date
	To     models.Date
}

// ReadBuckets returns the stored buckets for an account, optionally filtered
// by source and inclusive date range, ordered by date then source.
func (r *WatchRepository) ReadBuckets(ctx context.Context, accountID int64, q BucketQuery) ([]models.WatchBucket, error) {
	query := `SELECT account_id, source_id, watch_date, seconds FROM watch_bucket WHERE account_id = ?`
	args := []any{accountID}

	if q.Source != "" {
		query += ` AND source_id = ?`
		args = append(args, string(q.Source))
	}
	if q.From != "" {
		query += ` AND watch_date >= ?`
		args = append(args, string(q.From))
	}
	if q.To != "" {
		query += ` AND watch_date <= ?`
		args = append(args, string(q.To))
	}
	query += ` ORDER BY watch_date, source_id`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("read buckets: %w", err)
	}
	defer rows.Close()

	var buckets []models.WatchBucket
	for rows.Next() {
		var b models.WatchBucket
		var source, date string
		if err := rows.Scan(&b.AccountID, &source, &date, &b.Seconds); err != nil {
			return nil, fmt.Errorf("scan bucket: %w", err)
		}
		b.Source = models.SourceID(source)
		b.Date = models.Date(date)
		buckets = append(buckets, b)
	}
	return buckets, rows.Err()
}

// WindowSeconds sums an account's watched seconds across all sources for the
// inclusive date range.
func (r *WatchRepository) WindowSeconds(ctx context.Context, accountID int64, from, to models.Date) (int64, error) {
	var total sql.NullInt64
	err := r.db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(seconds), 0) FROM watch_bucket
		 WHERE account_id = ? AND watch_date >= ? AND watch_date <= ?`,
		accountID, string(from), string(to)).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("window seconds: %w", err)
	}
	return total.Int64, nil
}

// SourceWindowSeconds is WindowSeconds broken down per source.
func (r *WatchRepository) SourceWindowSeconds(ctx context.Context, accountID int64, from, to models.Date) (map[models.SourceID]int64, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT source_id, COALESCE(SUM(seconds), 0) FROM watch_bucket
		 WHERE account_id = ? AND watch_date >= ? AND watch_date <= ?
		 GROUP BY source_id`,
		accountID, string(from), string(to))
	if err != nil {
		return nil, fmt.Errorf("source window seconds: %w", err)
	}
	defer rows.Close()

	totals := make(map[models.SourceID]int64)
	for rows.Next() {
		var source string
		var seconds int64
		if err := rows.Scan(&source, &seconds); err != nil {
			return nil, fmt.Errorf("scan source total: %w", err)
		}
		totals[models.SourceID(source)] = seconds
	}
	return totals, rows.Err()
}

// SourceTotals is the all-time per-source breakdown.
func (r *WatchRepository) SourceTotals(ctx context.Context, accountID int64) (map[models.SourceID]int64, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT source_id, COALESCE(SUM(seconds), 0) FROM watch_bucket
		 WHERE account_id = ? GROUP BY source_id`, accountID)
	if err != nil {
		return nil, fmt.Errorf("source totals: %w", err)
	}
	defer rows.Close()

	totals := make(map[models.SourceID]int64)
	for rows.Next() {
		var source string
		var seconds int64
		if err := rows.Scan(&source, &seconds); err != nil {
			return nil, fmt.Errorf("scan source total: %w", err)
		}
		totals[models.SourceID(source)] = seconds
	}
	return totals, rows.Err()
}

// TotalSeconds sums an account's all-time watched seconds.
func (r *WatchRepository) TotalSeconds(ctx context.Context, accountID int64) (int64, error) {
	var total sql.NullInt64
	err := r.db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(seconds), 0) FROM watch_bucket WHERE account_id = ?`,
		accountID).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("total seconds: %w", err)
	}
	return total.Int64, nil
}

// LeaderboardEntry is one row of the watchtime leaderboard.
type LeaderboardEntry struct {
	DiscordID       int64  `json:"discordId"`
	DiscordUsername string `json:"discordUsername,omitempty"`
	TotalSeconds    int64  `json:"totalSeconds"`
}

// Leaderboard returns the top accounts by watched seconds within the
// inclusive date range.
func (r *WatchRepository) Leaderboard(ctx context.Context, from, to models.Date, limit int) ([]LeaderboardEntry, error) {
	if limit < 1 {
		limit = 10
	}
	rows, err := r.db.QueryContext(ctx,
		`SELECT a.discord_id, a.discord_username, SUM(w.seconds) AS total
		 FROM watch_bucket w
		 JOIN account_link a ON w.account_id = a.id
		 WHERE w.watch_date >= ? AND w.watch_date <= ?
		 GROUP BY a.id
		 ORDER BY total DESC
		 LIMIT ?`,
		string(from), string(to), limit)
	if err != nil {
		return nil, fmt.Errorf("leaderboard: %w", err)
	}
	defer rows.Close()

	var entries []LeaderboardEntry
	for rows.Next() {
		var e LeaderboardEntry
		if err := rows.Scan(&e.DiscordID, &e.DiscordUsername, &e.TotalSeconds); err != nil {
			return nil, fmt.Errorf("scan leaderboard row: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// RecordRun persists a completed sync run and prunes rows beyond keep.
func (r *WatchRepository) RecordRun(ctx context.Context, run models.SyncRun, keep int) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO sync_run (id, started_at, finished_at, accounts_synced, sources_failed, seconds_imported)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		run.ID, run.StartedAt, run.FinishedAt, run.AccountsSynced, run.SourcesFailed, run.SecondsImported)
	if err != nil {
		return fmt.Errorf("record sync run: %w", err)
	}
	if keep > 0 {
		_, err = r.db.ExecContext(ctx,
			`DELETE FROM sync_run WHERE id NOT IN
			 (SELECT id FROM sync_run ORDER BY started_at DESC LIMIT ?)`, keep)
		if err != nil {
			return fmt.Errorf("prune sync runs: %w", err)
		}
	}
	return nil
}

// RecentRuns lists stored sync runs, newest first.
func (r *WatchRepository) RecentRuns(ctx context.Context, limit int) ([]models.SyncRun, error) {
	if limit < 1 {
		limit = 20
	}
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, started_at, finished_at, accounts_synced, sources_failed, seconds_imported
		 FROM sync_run ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("recent runs: %w", err)
	}
	defer rows.Close()

	var runs []models.SyncRun
	for rows.Next() {
		var run models.SyncRun
		if err := rows.Scan(&run.ID, &run.StartedAt, &run.FinishedAt,
			&run.AccountsSynced, &run.SourcesFailed, &run.SecondsImported); err != nil {
			return nil, fmt.Errorf("scan sync run: %w", err)
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}
