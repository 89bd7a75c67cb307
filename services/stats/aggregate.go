package stats

import "watchtally/models"

// Aggregate folds normalized watch events into summary totals. The fold is
// commutative: event order never changes the result, so concurrent fetches
// can be combined in whatever order they finish.
func Aggregate(events []models.WatchEvent) models.AggregateResult {
	result := models.AggregateResult{ByDate: make(map[models.Date]int64)}
	for _, e := range events {
		seconds := e.Seconds()
		if seconds <= 0 {
			continue
		}
		result.TotalSeconds += seconds
		result.TotalPlays += e.PlayCount
		result.ByDate[e.PlayedDate] += seconds

		switch e.Kind {
		case models.MediaKindMovie:
			result.MovieCount++
		case models.MediaKindEpisode:
			result.EpisodeCount++
		}
	}
	return result
}

// Merge combines two aggregate results, summing totals and per-date buckets.
func Merge(a, b models.AggregateResult) models.AggregateResult {
	merged := models.AggregateResult{
		TotalSeconds: a.TotalSeconds + b.TotalSeconds,
		TotalPlays:   a.TotalPlays + b.TotalPlays,
		MovieCount:   a.MovieCount + b.MovieCount,
		EpisodeCount: a.EpisodeCount + b.EpisodeCount,
		ByDate:       make(map[models.Date]int64, len(a.ByDate)+len(b.ByDate)),
	}
	for date, seconds := range a.ByDate {
		merged.ByDate[date] += seconds
	}
	for date, seconds := range b.ByDate {
		merged.ByDate[date] += seconds
	}
	return merged
}

// WindowBounds returns the inclusive date range ending today that spans the
// given number of days. A 30 day window on 2024-01-30 starts 2024-01-01.
func WindowBounds(today models.Date, days int) (from, to models.Date) {
	if days < 1 {
		days = 1
	}
	return today.AddDays(-(days - 1)), today
}
