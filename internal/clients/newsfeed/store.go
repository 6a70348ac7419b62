package newsfeed

import (
	"sort"
	"sync"
	"time"

	"github.com/dpup/saferoute/server/internal/lib/incident"
)

// Store holds the current set of news incidents keyed by ID. Readers get
// copies so a snapshot is never affected by later ingestion.
type Store struct {
	mu      sync.RWMutex
	items   map[string]incident.News
	updated time.Time
}

// NewStore creates an empty store
func NewStore() *Store {
	return &Store{items: make(map[string]incident.News)}
}

// Replace swaps the whole set, used by the polling feed
func (s *Store) Replace(news []incident.News, at time.Time) {
	items := make(map[string]incident.News, len(news))
	for _, n := range news {
		items[n.ID] = n
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.items = items
	s.updated = at
}

// Upsert adds or overwrites incidents by ID, used by the streaming feed
func (s *Store) Upsert(news []incident.News, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, n := range news {
		s.items[n.ID] = n
	}
	s.updated = at
}

// Prune drops incidents published before cutoff. Undated incidents are kept.
func (s *Store) Prune(cutoff time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id, n := range s.items {
		if n.PublishedAt != nil && n.PublishedAt.Before(cutoff) {
			delete(s.items, id)
			removed++
		}
	}
	return removed
}

// Snapshot returns the incidents ordered by ID
func (s *Store) Snapshot() []incident.News {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]incident.News, 0, len(s.items))
	for _, n := range s.items {
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Len returns the number of stored incidents
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}

// UpdatedAt returns when the store last ingested data
func (s *Store) UpdatedAt() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.updated
}
