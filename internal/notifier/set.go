package notifier

import "sync"

// NotifiedSet remembers which submissions were already notified in this
// session. It is safe for concurrent use and never persisted.
type NotifiedSet struct {
	mu   sync.Mutex
	keys map[Key]struct{}
}

func NewNotifiedSet() *NotifiedSet {
	return &NotifiedSet{keys: map[Key]struct{}{}}
}

func (s *NotifiedSet) Has(k Key) bool {
	s.mu.Lock()
	_, ok := s.keys[k]
	s.mu.Unlock()
	return ok
}

// Mark inserts k and reports whether it was absent.
func (s *NotifiedSet) Mark(k Key) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.keys[k]; ok {
		return false
	}
	s.keys[k] = struct{}{}
	return true
}

func (s *NotifiedSet) Len() int {
	s.mu.Lock()
	n := len(s.keys)
	s.mu.Unlock()
	return n
}
