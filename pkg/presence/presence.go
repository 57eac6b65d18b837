// Package presence tracks the ephemeral per-connection awareness state of a
// room. Entries live only in memory and disappear when their heartbeat goes
// quiet; nothing here is ever persisted.
package presence

import (
	"sort"
	"sync"
	"time"

	"github.com/Ramsey-B/trellis/pkg/models"
)

// Heartbeat cadence and the liveness window after which a silent peer is
// dropped.
const (
	DefaultHeartbeatInterval = 15 * time.Second
	DefaultTimeout           = 30 * time.Second
)

// Diff describes one batch of membership changes delivered to subscribers.
type Diff struct {
	Added   []models.PresenceEntry
	Updated []models.PresenceEntry
	Removed []models.PresenceEntry
}

func (d Diff) empty() bool {
	return len(d.Added) == 0 && len(d.Updated) == 0 && len(d.Removed) == 0
}

// Set is the awareness state of one room, keyed by connection id.
type Set struct {
	mu        sync.RWMutex
	entries   map[string]models.PresenceEntry
	nextSub   int
	listeners map[int]func(Diff)
}

func NewSet() *Set {
	return &Set{
		entries:   make(map[string]models.PresenceEntry),
		listeners: make(map[int]func(Diff)),
	}
}

// Subscribe registers a listener receiving one Diff per applied change batch.
// The returned func cancels the subscription.
func (s *Set) Subscribe(fn func(Diff)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextSub
	s.nextSub++
	s.listeners[id] = fn
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.listeners, id)
	}
}

// Apply upserts entries (local publishes and remote broadcasts alike) and
// notifies subscribers once for the whole batch.
func (s *Set) Apply(entries []models.PresenceEntry) {
	s.mu.Lock()
	var diff Diff
	for _, entry := range entries {
		if entry.ConnectionID == "" {
			continue
		}
		if entry.LastHeartbeat.IsZero() {
			entry.LastHeartbeat = time.Now()
		}
		if _, ok := s.entries[entry.ConnectionID]; ok {
			diff.Updated = append(diff.Updated, entry)
		} else {
			diff.Added = append(diff.Added, entry)
		}
		s.entries[entry.ConnectionID] = entry
	}
	listeners := s.snapshotListeners()
	s.mu.Unlock()

	s.notify(listeners, diff)
}

// Remove drops entries by connection id and notifies subscribers with the
// removed entries. Unknown ids are ignored.
func (s *Set) Remove(connectionIDs ...string) {
	s.mu.Lock()
	var diff Diff
	for _, id := range connectionIDs {
		if entry, ok := s.entries[id]; ok {
			diff.Removed = append(diff.Removed, entry)
			delete(s.entries, id)
		}
	}
	listeners := s.snapshotListeners()
	s.mu.Unlock()

	s.notify(listeners, diff)
}

// Sweep removes every entry whose heartbeat is older than the window and
// returns the removed entries. Subscribers see them as Removed.
func (s *Set) Sweep(now time.Time, window time.Duration) []models.PresenceEntry {
	s.mu.Lock()
	var diff Diff
	for id, entry := range s.entries {
		if now.Sub(entry.LastHeartbeat) > window {
			diff.Removed = append(diff.Removed, entry)
			delete(s.entries, id)
		}
	}
	listeners := s.snapshotListeners()
	s.mu.Unlock()

	s.notify(listeners, diff)
	return diff.Removed
}

// Get returns the entry for a connection id.
func (s *Set) Get(connectionID string) (models.PresenceEntry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.entries[connectionID]
	return entry, ok
}

// List returns all entries sorted by connection id.
func (s *Set) List() []models.PresenceEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.PresenceEntry, 0, len(s.entries))
	for _, entry := range s.entries {
		out = append(out, entry)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ConnectionID < out[j].ConnectionID })
	return out
}

// Len returns the number of live entries.
func (s *Set) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// HasUserName reports whether any live entry carries the given display name.
// The lock sweep uses this to find edit markers left by departed users.
func (s *Set) HasUserName(name string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, entry := range s.entries {
		if entry.UserName == name {
			return true
		}
	}
	return false
}

func (s *Set) snapshotListeners() []func(Diff) {
	listeners := make([]func(Diff), 0, len(s.listeners))
	for _, fn := range s.listeners {
		listeners = append(listeners, fn)
	}
	return listeners
}

func (s *Set) notify(listeners []func(Diff), diff Diff) {
	if diff.empty() {
		return
	}
	for _, fn := range listeners {
		fn(diff)
	}
}
