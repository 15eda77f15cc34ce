package store

import (
	"errors"
	"sort"
	"sync"

	"tokenScope/internal/model"
)

// ErrMissingTimestamp is returned for events that were not enriched yet.
var ErrMissingTimestamp = errors.New("event has no block timestamp")

// Snapshot is an immutable copy of the store contents at a version.
type Snapshot struct {
	Events  []model.ChainEvent
	Version uint64
}

// Change describes one store mutation.
type Change struct {
	Added   []model.ChainEvent
	Removed []model.ChainEvent
	Version uint64
}

// EventStore keeps every known TokenCreated event ordered newest first and
// unique by (tx hash, log index). All writes go through its mutex.
type EventStore struct {
	mu      sync.RWMutex
	events  []model.ChainEvent
	index   map[model.EventKey]struct{}
	version uint64

	// notifyMu is taken before mu is released so watchers see changes in
	// version order without blocking readers.
	notifyMu sync.Mutex
	watchers []func(Change)
}

// New returns an empty store.
func New() *EventStore {
	return &EventStore{index: make(map[model.EventKey]struct{})}
}

// Insert adds ev at its ordered position. It returns false when the key is
// already present, leaving the store untouched.
func (s *EventStore) Insert(ev model.ChainEvent) (bool, error) {
	if ev.BlockTimestamp == 0 {
		return false, ErrMissingTimestamp
	}

	s.mu.Lock()
	if !s.insertLocked(ev) {
		s.mu.Unlock()
		return false, nil
	}
	s.version++
	s.publishLocked(Change{Added: []model.ChainEvent{ev}, Version: s.version})
	return true, nil
}

// InsertBatch inserts events in one critical section and bumps the version
// once. Events without a timestamp are skipped. It returns the number added.
func (s *EventStore) InsertBatch(evs []model.ChainEvent) int {
	s.mu.Lock()

	var added []model.ChainEvent
	for _, ev := range evs {
		if ev.BlockTimestamp == 0 {
			continue
		}
		if s.insertLocked(ev) {
			added = append(added, ev)
		}
	}
	if len(added) == 0 {
		s.mu.Unlock()
		return 0
	}
	s.version++
	s.publishLocked(Change{Added: added, Version: s.version})
	return len(added)
}

func (s *EventStore) insertLocked(ev model.ChainEvent) bool {
	key := ev.Key()
	if _, ok := s.index[key]; ok {
		return false
	}

	pos := sort.Search(len(s.events), func(i int) bool {
		return ev.Before(s.events[i])
	})
	s.events = append(s.events, model.ChainEvent{})
	copy(s.events[pos+1:], s.events[pos:])
	s.events[pos] = ev
	s.index[key] = struct{}{}
	return true
}

// Has reports whether the key is already stored.
func (s *EventStore) Has(key model.EventKey) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.index[key]
	return ok
}

// Retract removes events whose block was reorganized out of the canonical
// chain. It is the only path that shrinks the store.
func (s *EventStore) Retract(keys []model.EventKey) int {
	if len(keys) == 0 {
		return 0
	}

	s.mu.Lock()

	drop := make(map[model.EventKey]struct{}, len(keys))
	for _, key := range keys {
		if _, ok := s.index[key]; ok {
			drop[key] = struct{}{}
		}
	}
	if len(drop) == 0 {
		s.mu.Unlock()
		return 0
	}

	removed := make([]model.ChainEvent, 0, len(drop))
	kept := s.events[:0]
	for _, ev := range s.events {
		if _, ok := drop[ev.Key()]; ok {
			delete(s.index, ev.Key())
			removed = append(removed, ev)
			continue
		}
		kept = append(kept, ev)
	}
	for i := len(kept); i < len(s.events); i++ {
		s.events[i] = model.ChainEvent{}
	}
	s.events = kept
	s.version++
	s.publishLocked(Change{Removed: removed, Version: s.version})
	return len(removed)
}

// Watch registers fn to be called after every mutation, in version order.
// fn must not write to the store.
func (s *EventStore) Watch(fn func(Change)) {
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()
	s.watchers = append(s.watchers, fn)
}

// publishLocked releases mu and delivers the change to the watchers.
func (s *EventStore) publishLocked(change Change) {
	s.notifyMu.Lock()
	s.mu.Unlock()
	defer s.notifyMu.Unlock()
	for _, fn := range s.watchers {
		fn(change)
	}
}

// Since returns the events at or above the given block, newest first.
func (s *EventStore) Since(block uint64) []model.ChainEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := sort.Search(len(s.events), func(i int) bool {
		return s.events[i].BlockNumber < block
	})
	out := make([]model.ChainEvent, n)
	copy(out, s.events[:n])
	return out
}

// Snapshot copies the current contents.
func (s *EventStore) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]model.ChainEvent, len(s.events))
	copy(out, s.events)
	return Snapshot{Events: out, Version: s.version}
}

// Len returns the number of stored events.
func (s *EventStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.events)
}

// Version increases on every mutation.
func (s *EventStore) Version() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.version
}
