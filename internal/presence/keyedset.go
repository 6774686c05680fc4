// Package presence tracks who is connected and which travel-group channel
// each connection watches. All state is in memory and rebuilt from nothing on
// restart.
package presence

import "sync"

// keyedSet is a concurrency-safe map of sets. Keys whose set becomes empty
// are dropped so the map never accumulates tombstones.
type keyedSet[K comparable, V comparable] struct {
	mu   sync.RWMutex
	sets map[K]map[V]struct{}
}

func newKeyedSet[K comparable, V comparable]() *keyedSet[K, V] {
	return &keyedSet[K, V]{sets: make(map[K]map[V]struct{})}
}

// add inserts v under k and reports whether it was new plus the resulting
// set size.
func (s *keyedSet[K, V]) add(k K, v V) (bool, int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	set, ok := s.sets[k]
	if !ok {
		set = make(map[V]struct{})
		s.sets[k] = set
	}
	if _, exists := set[v]; exists {
		return false, len(set)
	}
	set[v] = struct{}{}
	return true, len(set)
}

// remove deletes v from k and reports whether it was present plus the
// remaining set size.
func (s *keyedSet[K, V]) remove(k K, v V) (bool, int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	set, ok := s.sets[k]
	if !ok {
		return false, 0
	}
	if _, exists := set[v]; !exists {
		return false, len(set)
	}
	delete(set, v)
	n := len(set)
	if n == 0 {
		delete(s.sets, k)
	}
	return true, n
}

func (s *keyedSet[K, V]) members(k K) []V {
	s.mu.RLock()
	defer s.mu.RUnlock()

	set := s.sets[k]
	if len(set) == 0 {
		return nil
	}
	out := make([]V, 0, len(set))
	for v := range set {
		out = append(out, v)
	}
	return out
}

func (s *keyedSet[K, V]) size(k K) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sets[k])
}

func (s *keyedSet[K, V]) keys() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sets)
}
