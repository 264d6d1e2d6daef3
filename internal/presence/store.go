package presence

import (
	"cmp"
	"iter"
	"slices"
	"sync"

	"github.com/sharetube/watchsync/internal/domain"
)

type entry struct {
	presence domain.UserPresence
	seq      uint64
}

// Store holds the presences of a single session keyed by user id.
type Store struct {
	entries map[string]*entry
	nextSeq uint64
	mu      sync.RWMutex
}

func NewStore() *Store {
	return &Store{
		entries: make(map[string]*entry),
	}
}

// Upsert inserts p or replaces the stored presence with the same id. A
// replacement older than the stored presence is ignored and false is returned.
func (s *Store) Upsert(p domain.UserPresence) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e, ok := s.entries[p.Id]; ok {
		if p.LastActive < e.presence.LastActive {
			return false
		}

		e.presence = clonePresence(p)
		return true
	}

	s.nextSeq++
	s.entries[p.Id] = &entry{
		presence: clonePresence(p),
		seq:      s.nextSeq,
	}

	return true
}

// Update applies fn to the stored presence under the write lock.
func (s *Store) Update(id string, fn func(*domain.UserPresence)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[id]
	if !ok {
		return false
	}

	fn(&e.presence)
	return true
}

func (s *Store) Remove(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.entries[id]; !ok {
		return false
	}

	delete(s.entries, id)
	return true
}

func (s *Store) Get(id string) (domain.UserPresence, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.entries[id]
	if !ok {
		return domain.UserPresence{}, false
	}

	return clonePresence(e.presence), true
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.entries)
}

// SetHost makes newID the only presence with the host flag set. Readers never
// observe an intermediate state.
func (s *Store) SetHost(newID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	next, ok := s.entries[newID]
	if !ok {
		return false
	}

	for _, e := range s.entries {
		e.presence.IsHost = false
	}
	next.presence.IsHost = true

	return true
}

// ClearHost drops the host flag from every presence.
func (s *Store) ClearHost() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, e := range s.entries {
		e.presence.IsHost = false
	}
}

// List returns the presences ordered by join time. The snapshot is taken when
// List is called; ranging over the sequence again yields the same snapshot.
func (s *Store) List() iter.Seq[domain.UserPresence] {
	s.mu.RLock()
	snapshot := make([]entry, 0, len(s.entries))
	for _, e := range s.entries {
		snapshot = append(snapshot, entry{presence: clonePresence(e.presence), seq: e.seq})
	}
	s.mu.RUnlock()

	slices.SortFunc(snapshot, func(a, b entry) int {
		return cmp.Compare(a.seq, b.seq)
	})

	return func(yield func(domain.UserPresence) bool) {
		for _, e := range snapshot {
			if !yield(clonePresence(e.presence)) {
				return
			}
		}
	}
}

func clonePresence(p domain.UserPresence) domain.UserPresence {
	if p.PlaybackState != nil {
		state := *p.PlaybackState
		p.PlaybackState = &state
	}

	return p
}
