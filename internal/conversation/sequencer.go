package conversation

import "sync"

// Sequencer hands out tokens per delivery target. Only the holder of the
// newest token for a target may deliver to it, so the most recent turn wins
// deterministically. Tokens are unique across targets, so a released target
// never reissues a token an older turn still holds.
type Sequencer struct {
	mu      sync.Mutex
	counter uint64
	latest  map[string]uint64
}

// NewSequencer creates a Sequencer.
func NewSequencer() *Sequencer {
	return &Sequencer{latest: make(map[string]uint64)}
}

// Next issues a new token for key, superseding all earlier ones.
func (s *Sequencer) Next(key string) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counter++
	s.latest[key] = s.counter
	return s.counter
}

// IsCurrent reports whether token is still the newest for key.
func (s *Sequencer) IsCurrent(key string, token uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.latest[key] == token
}

// Release forgets key if token is still the newest one.
func (s *Sequencer) Release(key string, token uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.latest[key] == token {
		delete(s.latest, key)
	}
}

// Len returns the number of targets with an outstanding token.
func (s *Sequencer) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.latest)
}
