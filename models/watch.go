package models

import (
	"fmt"
	"time"
)

// SourceID identifies one configured media-server backend.
type SourceID string

const (
	SourceJellyfin SourceID = "jellyfin"
	SourceEmby     SourceID = "emby"
	SourcePlex     SourceID = "plex"

	// SourceManual tags operator-granted watch credits. It is not a
	// backend: sync runs never fetch it and never replace its buckets,
	// so manual grants survive every resync.
	SourceManual SourceID = "manual"
)

// AllSources lists every backend the engine knows how to talk to.
// SourceManual is deliberately absent; only fetchable backends belong here.
var AllSources = []SourceID{SourceJellyfin, SourceEmby, SourcePlex}

// ParseSourceID validates a source identifier from user input. It accepts
// the manual tag as well, so stored manual credits can be queried; linking
// still rejects it since there is no backend to link.
func ParseSourceID(s string) (SourceID, error) {
	switch SourceID(s) {
	case SourceJellyfin, SourceEmby, SourcePlex, SourceManual:
		return SourceID(s), nil
	}
	return "", fmt.Errorf("unknown source %q", s)
}

// MediaKind classifies a playback record.
type MediaKind string

const (
	MediaKindMovie   MediaKind = "movie"
	MediaKindEpisode MediaKind = "episode"
	MediaKindUnknown MediaKind = "unknown"
)

// Date is a calendar day in YYYY-MM-DD form. Watch activity is never
// attributed finer than a day, and ISO dates compare correctly as strings,
// so a string type keeps the bucket keys trivial to persist and merge.
type Date string

const dateLayout = "2006-01-02"

// DateOf truncates a timestamp to its UTC calendar day.
func DateOf(t time.Time) Date {
	return Date(t.UTC().Format(dateLayout))
}

// Today returns the current UTC calendar day.
func Today() Date {
	return DateOf(time.Now())
}

// ParseDate parses a YYYY-MM-DD string.
func ParseDate(s string) (Date, error) {
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		return "", fmt.Errorf("parse date %q: %w", s, err)
	}
	return DateOf(t), nil
}

// Time returns the midnight UTC instant of the day.
func (d Date) Time() (time.Time, error) {
	return time.Parse(dateLayout, string(d))
}

// AddDays returns the day n days after d (n may be negative).
func (d Date) AddDays(n int) Date {
	t, err := d.Time()
	if err != nil {
		return d
	}
	return DateOf(t.AddDate(0, 0, n))
}

// Before reports whether d falls strictly before other.
func (d Date) Before(other Date) bool { return string(d) < string(other) }

// After reports whether d falls strictly after other.
func (d Date) After(other Date) bool { return string(d) > string(other) }

// WatchEvent is one playback record normalized to canonical units.
// Repeats of the same title on the same day collapse into a single event
// with PlayCount > 1.
type WatchEvent struct {
	Title          string    `json:"title"`
	Kind           MediaKind `json:"mediaKind"`
	SeriesTitle    string    `json:"seriesTitle,omitempty"`
	RuntimeSeconds int64     `json:"runtimeSeconds"`
	PlayedDate     Date      `json:"playedDate"`
	PlayCount      int       `json:"playCount"`
	Source         SourceID  `json:"sourceId"`
}

// Seconds is the total watch-seconds this event contributes.
func (e WatchEvent) Seconds() int64 {
	return e.RuntimeSeconds * int64(e.PlayCount)
}

// WatchBucket is the durable aggregate unit: cumulative watched seconds for
// one account on one backend on one day. At most one bucket exists per
// (AccountID, Source, Date) triple.
type WatchBucket struct {
	AccountID int64    `json:"accountId"`
	Source    SourceID `json:"sourceId"`
	Date      Date     `json:"date"`
	Seconds   int64    `json:"seconds"`
}

// AggregateResult holds the summary totals derived from a set of watch
// events or buckets.
type AggregateResult struct {
	TotalSeconds int64          `json:"totalSeconds"`
	TotalPlays   int            `json:"totalPlays"`
	MovieCount   int            `json:"movieCount"`
	EpisodeCount int            `json:"episodeCount"`
	ByDate       map[Date]int64 `json:"byDate"`
}
