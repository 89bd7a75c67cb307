package models

import "time"

// AccountLink associates one Discord identity with zero or more backend
// identities. Created on first interaction; never deleted except by explicit
// administrative action.
type AccountLink struct {
	ID               int64     `json:"id"`
	DiscordID        int64     `json:"discordId"`
	DiscordUsername  string    `json:"discordUsername,omitempty"`
	JellyfinID       string    `json:"jellyfinId,omitempty"`
	JellyfinUsername string    `json:"jellyfinUsername,omitempty"`
	EmbyID           string    `json:"embyId,omitempty"`
	EmbyUsername     string    `json:"embyUsername,omitempty"`
	PlexID           string    `json:"plexId,omitempty"`
	PlexUsername     string    `json:"plexUsername,omitempty"`
	CreatedAt        time.Time `json:"createdAt"`
	UpdatedAt        time.Time `json:"updatedAt"`
}

// ExternalID returns the backend user ID linked for the given source, if any.
func (a AccountLink) ExternalID(source SourceID) (string, bool) {
	switch source {
	case SourceJellyfin:
		return a.JellyfinID, a.JellyfinID != ""
	case SourceEmby:
		return a.EmbyID, a.EmbyID != ""
	case SourcePlex:
		return a.PlexID, a.PlexID != ""
	}
	return "", false
}

// LinkedSources lists the backends this account is linked to.
func (a AccountLink) LinkedSources() []SourceID {
	var linked []SourceID
	for _, src := range AllSources {
		if _, ok := a.ExternalID(src); ok {
			linked = append(linked, src)
		}
	}
	return linked
}

// Subscription is one billing record for an account. Any row, active or
// historical, makes the account immune to watchtime enforcement.
type Subscription struct {
	ID        int64      `json:"id"`
	AccountID int64      `json:"accountId"`
	PlanType  string     `json:"planType"`
	Amount    float64    `json:"amount,omitempty"`
	Status    string     `json:"status"`
	StartDate time.Time  `json:"startDate"`
	EndDate   *time.Time `json:"endDate,omitempty"`
}

// Subscription statuses.
const (
	SubscriptionActive    = "active"
	SubscriptionCancelled = "cancelled"
)

// Standing is the membership policy outcome for an account.
type Standing string

const (
	// StandingSafe means the account met the watchtime threshold.
	StandingSafe Standing = "safe"
	// StandingAtRisk means the account is below the threshold and subject
	// to purge.
	StandingAtRisk Standing = "at_risk"
	// StandingImmune means the account has ever held a subscription and
	// bypasses threshold evaluation entirely.
	StandingImmune Standing = "immune"
)

// Evaluation is the result of applying the membership policy to an account's
// aggregated watch activity.
type Evaluation struct {
	DiscordID        int64              `json:"discordId"`
	Standing         Standing           `json:"standing"`
	WatchedSeconds   int64              `json:"watchedSeconds"`
	RequiredSeconds  int64              `json:"requiredSeconds"`
	RemainingSeconds int64              `json:"remainingSeconds,omitempty"`
	WindowDays       int                `json:"windowDays"`
	BySource         map[SourceID]int64 `json:"bySource,omitempty"`
}
