package wakelock

import (
	"sort"
	"sync"
)

// Set hands out one Lock per interface. Locks share the backend and are
// named prefix:interface, so a release on one interface never drops the
// hold of another.
type Set struct {
	prefix  string
	backend Backend

	mu    sync.Mutex
	locks map[string]*Lock
}

func NewSet(prefix string, backend Backend) *Set {
	return &Set{
		prefix:  prefix,
		backend: backend,
		locks:   make(map[string]*Lock),
	}
}

// For returns the lock of iface, creating it on first use.
func (s *Set) For(iface string) *Lock {
	s.mu.Lock()
	defer s.mu.Unlock()

	l, ok := s.locks[iface]
	if !ok {
		l = New(s.prefix+":"+iface, s.backend)
		s.locks[iface] = l
	}
	return l
}

// Stats returns the stats of every lock ordered by name.
func (s *Set) Stats() []Stats {
	s.mu.Lock()
	locks := make([]*Lock, 0, len(s.locks))
	for _, l := range s.locks {
		locks = append(locks, l)
	}
	s.mu.Unlock()

	out := make([]Stats, 0, len(locks))
	for _, l := range locks {
		out = append(out, l.Stats())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
