package cache

import (
	"sync"

	"github.com/mschirtzinger/tracksync/internal/model"
)

// EventType names what changed in the cache.
type EventType string

const (
	EventReplaced EventType = "replaced"
	EventPatched  EventType = "patched"
	EventUpserted EventType = "upserted"
	EventRemoved  EventType = "removed"
	EventSelected EventType = "selected"
	EventStatus   EventType = "status"
)

// Event describes one completed cache write. Observers read the new state
// back from the cache; events carry no entity payload.
type Event struct {
	Type       EventType  `json:"type"`
	Collection Name       `json:"collection,omitempty"`
	Kind       model.Kind `json:"kind,omitempty"`
	ID         string     `json:"id,omitempty"`
	Count      int        `json:"count,omitempty"`
	Status     Status     `json:"status"`
}

// Observer is called after every cache write, outside the cache lock.
type Observer func(Event)

// Observe registers fn and returns a function that removes it.
func (s *Store) Observe(fn Observer) (cancel func()) {
	id := s.observers.add(fn)
	return func() { s.observers.remove(id) }
}

type observerEntry struct {
	id uint64
	fn Observer
}

// observerList is copy-on-write so notify can iterate without holding the
// lock while callbacks run.
type observerList struct {
	mu      sync.Mutex
	nextID  uint64
	entries []observerEntry
}

func (l *observerList) add(fn Observer) uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.nextID++
	next := make([]observerEntry, len(l.entries), len(l.entries)+1)
	copy(next, l.entries)
	l.entries = append(next, observerEntry{id: l.nextID, fn: fn})
	return l.nextID
}

func (l *observerList) remove(id uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	next := make([]observerEntry, 0, len(l.entries))
	for _, e := range l.entries {
		if e.id != id {
			next = append(next, e)
		}
	}
	l.entries = next
}

func (l *observerList) clear() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = nil
}

func (l *observerList) get() []observerEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.entries
}

func (l *observerList) notify(ev Event) {
	for _, e := range l.get() {
		e.fn(ev)
	}
}
