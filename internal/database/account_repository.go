package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"watchtally/models"
)

var (
	ErrAccountNotFound = errors.New("account not found")
	ErrUnknownSource   = errors.New("unknown source")
)

// AccountRepository manages account links and subscriptions. The linking and
// billing flows live outside this service; the engine mostly reads here, but
// the admin surface exposes link/unlink and subscription bookkeeping.
type AccountRepository struct {
	db *sql.DB
}

func NewAccountRepository(db *sql.DB) *AccountRepository {
	return &AccountRepository{db: db}
}

const accountColumns = `id, discord_id, discord_username,
	jellyfin_id, jellyfin_username, emby_id, emby_username,
	plex_id, plex_username, created_at, updated_at`

func scanAccount(row interface{ Scan(...any) error }) (models.AccountLink, error) {
	var a models.AccountLink
	err := row.Scan(&a.ID, &a.DiscordID, &a.DiscordUsername,
		&a.JellyfinID, &a.JellyfinUsername, &a.EmbyID, &a.EmbyUsername,
		&a.PlexID, &a.PlexUsername, &a.CreatedAt, &a.UpdatedAt)
	return a, err
}

// GetByDiscordID looks up one account by its Discord identity.
func (r *AccountRepository) GetByDiscordID(ctx context.Context, discordID int64) (models.AccountLink, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+accountColumns+` FROM account_link WHERE discord_id = ?`, discordID)
	a, err := scanAccount(row)
	if errors.Is(err, sql.ErrNoRows) {
		return models.AccountLink{}, ErrAccountNotFound
	}
	if err != nil {
		return models.AccountLink{}, fmt.Errorf("get account: %w", err)
	}
	return a, nil
}

// GetOrCreate returns the existing account for a Discord identity, creating
// it on first interaction.
func (r *AccountRepository) GetOrCreate(ctx context.Context, discordID int64, discordUsername string) (models.AccountLink, error) {
	a, err := r.GetByDiscordID(ctx, discordID)
	if err == nil {
		return a, nil
	}
	if !errors.Is(err, ErrAccountNotFound) {
		return models.AccountLink{}, err
	}

	_, err = r.db.ExecContext(ctx,
		`INSERT INTO account_link (discord_id, discord_username) VALUES (?, ?)
		 ON CONFLICT(discord_id) DO NOTHING`,
		discordID, discordUsername)
	if err != nil {
		return models.AccountLink{}, fmt.Errorf("create account: %w", err)
	}
	return r.GetByDiscordID(ctx, discordID)
}

// LinkSource attaches a backend identity to an account.
func (r *AccountRepository) LinkSource(ctx context.Context, discordID int64, source models.SourceID, externalID, externalUsername string) error {
	var idCol, nameCol string
	switch source {
	case models.SourceJellyfin:
		idCol, nameCol = "jellyfin_id", "jellyfin_username"
	case models.SourceEmby:
		idCol, nameCol = "emby_id", "emby_username"
	case models.SourcePlex:
		idCol, nameCol = "plex_id", "plex_username"
	default:
		return ErrUnknownSource
	}

	res, err := r.db.ExecContext(ctx,
		`UPDATE account_link SET `+idCol+` = ?, `+nameCol+` = ?, updated_at = CURRENT_TIMESTAMP
		 WHERE discord_id = ?`,
		externalID, externalUsername, discordID)
	if err != nil {
		return fmt.Errorf("link %s account: %w", source, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrAccountNotFound
	}
	return nil
}

// UnlinkSource detaches a backend identity from an account.
func (r *AccountRepository) UnlinkSource(ctx context.Context, discordID int64, source models.SourceID) error {
	return r.LinkSource(ctx, discordID, source, "", "")
}

// ListLinked returns every account with at least one backend identity,
// the target set for a full sync run.
func (r *AccountRepository) ListLinked(ctx context.Context) ([]models.AccountLink, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+accountColumns+` FROM account_link
		 WHERE jellyfin_id != '' OR emby_id != '' OR plex_id != ''
		 ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("list linked accounts: %w", err)
	}
	defer rows.Close()

	var accounts []models.AccountLink
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("scan account: %w", err)
		}
		accounts = append(accounts, a)
	}
	return accounts, rows.Err()
}

// ListAll returns every account, linked or not.
func (r *AccountRepository) ListAll(ctx context.Context) ([]models.AccountLink, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+accountColumns+` FROM account_link ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	defer rows.Close()

	var accounts []models.AccountLink
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("scan account: %w", err)
		}
		accounts = append(accounts, a)
	}
	return accounts, rows.Err()
}

// CreateSubscription records a new subscription lasting the given number of
// days from now.
func (r *AccountRepository) CreateSubscription(ctx context.Context, accountID int64, planType string, amount float64, days int) (int64, error) {
	end := time.Now().UTC().AddDate(0, 0, days)
	res, err := r.db.ExecContext(ctx,
		`INSERT INTO subscription (account_id, plan_type, amount, status, end_date)
		 VALUES (?, ?, ?, ?, ?)`,
		accountID, planType, amount, models.SubscriptionActive, end)
	if err != nil {
		return 0, fmt.Errorf("create subscription: %w", err)
	}
	return res.LastInsertId()
}

// CancelSubscription marks all active subscriptions cancelled. The rows are
// kept: a lapsed subscriber stays immune.
func (r *AccountRepository) CancelSubscription(ctx context.Context, accountID int64) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE subscription SET status = ? WHERE account_id = ? AND status = ?`,
		models.SubscriptionCancelled, accountID, models.SubscriptionActive)
	if err != nil {
		return fmt.Errorf("cancel subscription: %w", err)
	}
	return nil
}

// ActiveSubscription returns the newest still-running subscription, or nil.
func (r *AccountRepository) ActiveSubscription(ctx context.Context, accountID int64) (*models.Subscription, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT id, account_id, plan_type, amount, status, start_date, end_date
		 FROM subscription
		 WHERE account_id = ? AND status = ? AND (end_date IS NULL OR end_date > CURRENT_TIMESTAMP)
		 ORDER BY end_date DESC LIMIT 1`,
		accountID, models.SubscriptionActive)

	var s models.Subscription
	var end sql.NullTime
	err := row.Scan(&s.ID, &s.AccountID, &s.PlanType, &s.Amount, &s.Status, &s.StartDate, &end)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("active subscription: %w", err)
	}
	if end.Valid {
		s.EndDate = &end.Time
	}
	return &s, nil
}

// HasEverSubscribed is the immunity predicate: any subscription row, active
// or historical, counts.
func (r *AccountRepository) HasEverSubscribed(ctx context.Context, accountID int64) (bool, error) {
	var n int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM subscription WHERE account_id = ?`, accountID).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("has ever subscribed: %w", err)
	}
	return n > 0, nil
}

// LogAction appends an audit log entry. Audit failures are the caller's
// business to ignore; bookkeeping never blocks the operation it describes.
func (r *AccountRepository) LogAction(ctx context.Context, accountID int64, action, details string) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO audit_log (account_id, action, details) VALUES (?, ?, ?)`,
		accountID, action, details)
	if err != nil {
		return fmt.Errorf("log action: %w", err)
	}
	return nil
}

// AuditEntry is one audit log row.
type AuditEntry struct {
	ID        int64     `json:"id"`
	AccountID int64     `json:"accountId"`
	Action    string    `json:"action"`
	Details   string    `json:"details,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// RecentActions lists audit entries for one account, newest first.
func (r *AccountRepository) RecentActions(ctx context.Context, accountID int64, limit int) ([]AuditEntry, error) {
	if limit < 1 {
		limit = 100
	}
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, account_id, action, details, created_at FROM audit_log
		 WHERE account_id = ? ORDER BY created_at DESC LIMIT ?`,
		accountID, limit)
	if err != nil {
		return nil, fmt.Errorf("recent actions: %w", err)
	}
	defer rows.Close()

	var entries []AuditEntry
	for rows.Next() {
		var e AuditEntry
		if err := rows.Scan(&e.ID, &e.AccountID, &e.Action, &e.Details, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan audit entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
