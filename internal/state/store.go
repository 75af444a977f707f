// Package state holds the latest result of every probe. Each key is
// written by exactly one scheduler task; readers are arbitrary.
package state

import (
	"sort"
	"sync"

	"github.com/Dzordzu/o11y-389ds/internal/probe"
)

// Entry pairs the latest result of a probe with its derived health flag.
// Entries are replaced wholesale on publish, so a reader always sees one
// consistent result.
type Entry struct {
	Result probe.Result
	Health probe.HealthFlag
}

// Store is the shared snapshot of probe state. Writes replace immutable
// Entry values under a short-lived lock, so a slow probe never blocks
// readers or other writers.
type Store struct {
	mu      sync.RWMutex
	entries map[probe.Key]Entry
	subs    []func(Entry)
}

// New returns an empty Store.
func New() *Store {
	return &Store{entries: make(map[probe.Key]Entry)}
}

// Subscribe registers fn to be called synchronously after every publish.
// Subscribers must not block; anything slow should hand off internally.
// Subscriptions must be set up before the scheduler starts.
func (s *Store) Subscribe(fn func(Entry)) {
	s.mu.Lock()
	s.subs = append(s.subs, fn)
	s.mu.Unlock()
}

// Publish replaces the entry for the result's key. Last writer wins, no
// history is retained, and the observed timestamp never moves backwards
// for a key.
func (s *Store) Publish(res probe.Result) {
	s.mu.Lock()
	if prev, ok := s.entries[res.Key]; ok && res.ObservedAt.Before(prev.Result.ObservedAt) {
		res.ObservedAt = prev.Result.ObservedAt
	}
	entry := Entry{Result: res, Health: res.Health()}
	s.entries[res.Key] = entry
	subs := s.subs
	s.mu.Unlock()

	for _, fn := range subs {
		fn(entry)
	}
}

// Get returns the current entry for key. A probe that has never completed
// reports Unknown health and ok == false.
func (s *Store) Get(key probe.Key) (Entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.entries[key]
	if !ok {
		return Entry{Result: probe.Result{Key: key}, Health: probe.HealthUnknown}, false
	}
	return entry, true
}

// Snapshot returns a copy of all current entries ordered by key. The copy
// is internally consistent per key; across keys it may miss or include an
// update racing with the call.
func (s *Store) Snapshot() []Entry {
	s.mu.RLock()
	entries := make([]Entry, 0, len(s.entries))
	for _, entry := range s.entries {
		entries = append(entries, entry)
	}
	s.mu.RUnlock()

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Result.Key.String() < entries[j].Result.Key.String()
	})
	return entries
}
