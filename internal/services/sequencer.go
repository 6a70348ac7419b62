package services

import "sync"

// Sequencer hands out increasing sequence numbers per client so that when a
// client fires several route requests (e.g. on every location update) only
// the newest one is applied. Older computations finish but are discarded.
type Sequencer struct {
	mu     sync.Mutex
	next   uint64
	latest map[string]uint64
}

// NewSequencer creates an empty sequencer
func NewSequencer() *Sequencer {
	return &Sequencer{latest: make(map[string]uint64)}
}

// Begin issues the next sequence number for key and marks it as the latest
func (s *Sequencer) Begin(key string) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.next++
	s.latest[key] = s.next
	return s.next
}

// Commit reports whether seq is still the latest for key. A superseded result
// must not be applied.
func (s *Sequencer) Commit(key string, seq uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.latest[key] == seq
}

// Forget drops tracking for key
func (s *Sequencer) Forget(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.latest, key)
}
