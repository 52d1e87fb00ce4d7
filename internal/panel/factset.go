package panel

import "sync"

// FactSet remembers which fact ids were already relayed in the current
// thread. It is cleared whenever the thread changes.
type FactSet struct {
	mu   sync.Mutex
	seen map[string]struct{}
}

// NewFactSet creates an empty set.
func NewFactSet() *FactSet {
	return &FactSet{seen: make(map[string]struct{})}
}

// CheckAndMark reports whether id was already seen and marks it if not.
func (s *FactSet) CheckAndMark(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.seen[id]; ok {
		return true
	}
	s.seen[id] = struct{}{}
	return false
}

// Clear forgets every id.
func (s *FactSet) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	clear(s.seen)
}

// Len returns the number of remembered ids.
func (s *FactSet) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.seen)
}
