package models

import "time"

// SourceSyncResult is the outcome of one (account, source) fetch within a
// sync run. A failed fetch contributes zero events and is recorded here
// rather than aborting the run.
type SourceSyncResult struct {
	Source  SourceID `json:"sourceId"`
	Seconds int64    `json:"seconds"`
	Plays   int      `json:"plays"`
	Skipped int      `json:"skippedRecords,omitempty"`
	Failed  bool     `json:"failed,omitempty"`
	Error   string   `json:"error,omitempty"`
}

// AccountSyncResult aggregates the per-source outcomes for one account.
type AccountSyncResult struct {
	DiscordID       int64              `json:"discordId"`
	DiscordUsername string             `json:"discordUsername,omitempty"`
	Seconds         int64              `json:"seconds"`
	Sources         []SourceSyncResult `json:"sources"`
}

// SyncSummary describes one orchestrated sync run across a set of accounts
// and sources. A run with zero successful pairs still completes and reports
// "nothing to sync".
type SyncSummary struct {
	RunID           string              `json:"runId"`
	StartedAt       time.Time           `json:"startedAt"`
	FinishedAt      time.Time           `json:"finishedAt"`
	SourcesUsed     []SourceID          `json:"sourcesUsed"`
	AccountsSynced  int                 `json:"accountsSynced"`
	AccountsFailed  int                 `json:"accountsFailed"`
	SecondsImported int64               `json:"secondsImported"`
	SkippedRecords  int                 `json:"skippedRecords"`
	FailedFetches   int                 `json:"failedFetches"`
	Accounts        []AccountSyncResult `json:"accounts,omitempty"`
}

// SyncRun is the persisted record of a completed sync run.
type SyncRun struct {
	ID              string    `json:"id"`
	StartedAt       time.Time `json:"startedAt"`
	FinishedAt      time.Time `json:"finishedAt"`
	AccountsSynced  int       `json:"accountsSynced"`
	SourcesFailed   int       `json:"sourcesFailed"`
	SecondsImported int64     `json:"secondsImported"`
}
