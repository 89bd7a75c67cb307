package sources

import (
	"context"
	"errors"

	"watchtally/models"
)

// ErrUnavailable marks a backend that could not be reached or answered with
// a server error. A sync run treats it as a per-pair failure, never as a
// reason to abort.
var ErrUnavailable = errors.New("source unavailable")

// Adapter fetches playback history from one backend and normalizes it into
// canonical watch events. Records the backend reports in a shape the adapter
// cannot make sense of are dropped and counted, not returned as errors.
type Adapter interface {
	Source() models.SourceID
	FetchEvents(ctx context.Context, externalUserID string) (events []models.WatchEvent, skipped int, err error)
}

// Registry holds the configured adapters keyed by source.
type Registry struct {
	adapters map[models.SourceID]Adapter
}

func NewRegistry() *Registry {
	return &Registry{adapters: make(map[models.SourceID]Adapter)}
}

// Register adds an adapter. Registering the same source twice replaces the
// earlier adapter.
func (r *Registry) Register(a Adapter) {
	r.adapters[a.Source()] = a
}

// Get returns the adapter for a source, if one is configured.
func (r *Registry) Get(source models.SourceID) (Adapter, bool) {
	a, ok := r.adapters[source]
	return a, ok
}

// Sources lists the configured sources in canonical order.
func (r *Registry) Sources() []models.SourceID {
	var ids []models.SourceID
	for _, src := range models.AllSources {
		if _, ok := r.adapters[src]; ok {
			ids = append(ids, src)
		}
	}
	return ids
}

// Len reports the number of configured adapters.
func (r *Registry) Len() int { return len(r.adapters) }
