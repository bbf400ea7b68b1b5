// Package activeusers implements the Active-Users Store (C5): the
// per-user list of currently observed (name, ip) pairs the violation
// detector consults.
//
// The store is consulted only from the Check Service's dedicated consumer,
// so per spec.md §4.5 no locking is required in the single-consumer design.
// Store still guards its map with a mutex so that diagnostics (an admin
// surface reading a snapshot, or tests) can read it from another goroutine
// without racing the consumer.
package activeusers

import (
	"sync"

	"github.com/firasghr/xrayguard/internal/model"
)

// Store holds, for each user name, the ordered list of observations seen
// and not yet resolved (by ban or by debounce-purge).
type Store struct {
	mu    sync.Mutex
	users map[string][]model.Observation
}

// New creates an empty Store.
func New() *Store {
	return &Store{users: make(map[string][]model.Observation)}
}

// AddUser appends obs to the list for obs.Name.
func (s *Store) AddUser(obs model.Observation) {
	s.mu.Lock()
	s.users[obs.Name] = append(s.users[obs.Name], obs)
	s.mu.Unlock()
}

// GetUsers returns the ordered observations for name. The returned slice is
// a copy; callers may not mutate the store through it.
func (s *Store) GetUsers(name string) []model.Observation {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.Observation(nil), s.users[name]...)
}

// GetUser returns the first (earliest still-present) observation for name,
// or false if name has no observations.
func (s *Store) GetUser(name string) (model.Observation, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := s.users[name]
	if len(list) == 0 {
		return model.Observation{}, false
	}
	return list[0], true
}

// GetLastUser returns the most recently added observation for name, or
// false if name has no observations.
func (s *Store) GetLastUser(name string) (model.Observation, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := s.users[name]
	if len(list) == 0 {
		return model.Observation{}, false
	}
	return list[len(list)-1], true
}

// DeleteUser removes every observation matching both name and ip.
func (s *Store) DeleteUser(name, ip string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := s.users[name]
	if len(list) == 0 {
		return
	}
	kept := list[:0:0]
	for _, obs := range list {
		if obs.IP != ip {
			kept = append(kept, obs)
		}
	}
	if len(kept) == 0 {
		delete(s.users, name)
		return
	}
	s.users[name] = kept
}
