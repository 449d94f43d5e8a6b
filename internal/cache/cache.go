// Package cache is the single in-memory source of truth for synced entities.
//
// The cache holds named collections. Several collections can hold the same
// kind of entity: "projects" is every project, "userProjects" only the ones
// assigned to the signed-in user. Each kind also has a selected pointer.
// Because one entity can be visible through several views at once, every
// write goes through an API that keeps all views of an (kind, id) pair on the
// same value:
//
//   - ReplaceCollection swaps a whole collection and refreshes any other view
//     holding an entity with the same id
//   - PatchEntity computes the new value once and writes it to every view
//   - RemoveEntity drops the entity from every view and clears the selection
//
// Entities stored in the cache are immutable. Writers hand in fresh values;
// readers must not modify what they get back.
package cache

import (
	"errors"
	"fmt"
	"sync"

	"github.com/mschirtzinger/tracksync/internal/model"
)

// Name identifies a cache collection.
type Name string

const (
	Projects      Name = "projects"
	UserProjects  Name = "userProjects"
	Tasks         Name = "tasks"
	UserTasks     Name = "userTasks"
	Notifications Name = "notifications"
	Users         Name = "users"
	ApprovedUsers Name = "approvedUsers"
)

// Names lists every collection in a stable order.
var Names = []Name{Projects, UserProjects, Tasks, UserTasks, Notifications, Users, ApprovedUsers}

var kinds = map[Name]model.Kind{
	Projects:      model.KindProject,
	UserProjects:  model.KindProject,
	Tasks:         model.KindTask,
	UserTasks:     model.KindTask,
	Notifications: model.KindNotification,
	Users:         model.KindUser,
	ApprovedUsers: model.KindUser,
}

// KindOf returns the entity kind a collection holds.
func KindOf(name Name) (model.Kind, bool) {
	k, ok := kinds[name]
	return k, ok
}

// ErrUnknownCollection is returned for a name the cache does not hold.
var ErrUnknownCollection = errors.New("unknown cache collection")

// Status is the loading/error flag pair kept per entity kind.
type Status struct {
	Loading bool   `json:"loading"`
	Error   string `json:"error,omitempty"`
}

// Store is the cache. The zero value is not usable; call New.
type Store struct {
	mu          sync.RWMutex
	collections map[Name][]model.Entity
	selected    map[model.Kind]model.Entity
	status      map[model.Kind]Status
	closed      bool

	observers observerList
}

// New creates an empty cache.
func New() *Store {
	s := &Store{
		collections: make(map[Name][]model.Entity, len(Names)),
		selected:    make(map[model.Kind]model.Entity),
		status:      make(map[model.Kind]Status),
	}
	for _, name := range Names {
		s.collections[name] = []model.Entity{}
	}
	return s
}

// Close detaches every observer. Writes after Close are ignored.
func (s *Store) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.observers.clear()
}

// ReplaceCollection swaps the named collection for items. Duplicate ids keep
// the position of the first occurrence and the value of the last. Replacing
// twice with the same items leaves the cache as after a single call.
func (s *Store) ReplaceCollection(name Name, items []model.Entity) error {
	kind, ok := kinds[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownCollection, name)
	}

	next := make([]model.Entity, 0, len(items))
	index := make(map[string]int, len(items))
	for _, e := range items {
		if e == nil {
			continue
		}
		if e.Kind() != kind {
			return fmt.Errorf("collection %s holds %s, got %s", name, kind, e.Kind())
		}
		if i, dup := index[e.EntityID()]; dup {
			next[i] = e
			continue
		}
		index[e.EntityID()] = len(next)
		next = append(next, e)
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.collections[name] = next
	for _, e := range next {
		s.propagateLocked(kind, name, e)
	}
	s.mu.Unlock()

	s.observers.notify(Event{Type: EventReplaced, Collection: name, Kind: kind, Count: len(next)})
	return nil
}

// PatchEntity applies update to the entity with the given id and writes the
// result to every view holding it: the named collection, its mirrors and the
// selected pointer. update receives a private copy and returns the new value.
// It reports whether anything was patched.
func (s *Store) PatchEntity(name Name, id string, update func(model.Entity) model.Entity) bool {
	kind, ok := kinds[name]
	if !ok {
		return false
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return false
	}
	base := s.findLocked(kind, name, id)
	if base == nil {
		s.mu.Unlock()
		return false
	}
	next := update(model.CloneEntity(base))
	if next == nil || next.Kind() != kind || next.EntityID() != id {
		s.mu.Unlock()
		return false
	}
	s.propagateLocked(kind, "", next)
	s.mu.Unlock()

	s.observers.notify(Event{Type: EventPatched, Collection: name, Kind: kind, ID: id})
	return true
}

// UpsertEntity stores e in the named collection, appending it if absent, and
// refreshes every other view that already holds it.
func (s *Store) UpsertEntity(name Name, e model.Entity) error {
	kind, ok := kinds[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownCollection, name)
	}
	if e == nil || e.Kind() != kind {
		return fmt.Errorf("collection %s holds %s", name, kind)
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	if indexOf(s.collections[name], e.EntityID()) < 0 {
		s.collections[name] = appendCopy(s.collections[name], e)
	}
	s.propagateLocked(kind, "", e)
	s.mu.Unlock()

	s.observers.notify(Event{Type: EventUpserted, Collection: name, Kind: kind, ID: e.EntityID()})
	return nil
}

// RemoveEntity drops the entity from every view of its kind and clears the
// selection if it points at it.
func (s *Store) RemoveEntity(name Name, id string) bool {
	kind, ok := kinds[name]
	if !ok {
		return false
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return false
	}
	removed := false
	for n, k := range kinds {
		if k != kind {
			continue
		}
		items := s.collections[n]
		if i := indexOf(items, id); i >= 0 {
			next := make([]model.Entity, 0, len(items)-1)
			next = append(next, items[:i]...)
			s.collections[n] = append(next, items[i+1:]...)
			removed = true
		}
	}
	if sel := s.selected[kind]; sel != nil && sel.EntityID() == id {
		delete(s.selected, kind)
		removed = true
	}
	s.mu.Unlock()

	if removed {
		s.observers.notify(Event{Type: EventRemoved, Collection: name, Kind: kind, ID: id})
	}
	return removed
}

// RemoveFrom drops the entity from the named collection only. Other views
// and the selection are left alone; use it when an entity leaves a scoped
// view such as userProjects without being deleted.
func (s *Store) RemoveFrom(name Name, id string) bool {
	kind, ok := kinds[name]
	if !ok {
		return false
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return false
	}
	items := s.collections[name]
	i := indexOf(items, id)
	if i >= 0 {
		next := make([]model.Entity, 0, len(items)-1)
		next = append(next, items[:i]...)
		s.collections[name] = append(next, items[i+1:]...)
	}
	s.mu.Unlock()

	if i < 0 {
		return false
	}
	s.observers.notify(Event{Type: EventRemoved, Collection: name, Kind: kind, ID: id})
	return true
}

// Select points the selection of e's kind at e.
func (s *Store) Select(e model.Entity) {
	if e == nil {
		return
	}
	kind := e.Kind()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.selected[kind] = e
	s.propagateLocked(kind, "", e)
	s.mu.Unlock()

	s.observers.notify(Event{Type: EventSelected, Kind: kind, ID: e.EntityID()})
}

// ClearSelected drops the selection for kind.
func (s *Store) ClearSelected(kind model.Kind) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	_, had := s.selected[kind]
	delete(s.selected, kind)
	s.mu.Unlock()

	if had {
		s.observers.notify(Event{Type: EventSelected, Kind: kind})
	}
}

// Selected returns the selected entity of kind, or nil.
func (s *Store) Selected(kind model.Kind) model.Entity {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.selected[kind]
}

// Collection returns a copy of the named collection.
func (s *Store) Collection(name Name) []model.Entity {
	s.mu.RLock()
	defer s.mu.RUnlock()
	items := s.collections[name]
	out := make([]model.Entity, len(items))
	copy(out, items)
	return out
}

// Get returns the entity with id from the named collection.
func (s *Store) Get(name Name, id string) (model.Entity, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	items := s.collections[name]
	if i := indexOf(items, id); i >= 0 {
		return items[i], true
	}
	return nil, false
}

// Counts reports the size of every collection.
func (s *Store) Counts() map[Name]int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[Name]int, len(s.collections))
	for name, items := range s.collections {
		out[name] = len(items)
	}
	return out
}

// SetPending marks an operation on kind as started.
func (s *Store) SetPending(kind model.Kind) {
	s.setStatus(kind, Status{Loading: true})
}

// SetFulfilled marks an operation on kind as finished.
func (s *Store) SetFulfilled(kind model.Kind) {
	s.setStatus(kind, Status{})
}

// SetRejected marks an operation on kind as failed with reason.
func (s *Store) SetRejected(kind model.Kind, reason string) {
	s.setStatus(kind, Status{Error: reason})
}

func (s *Store) setStatus(kind model.Kind, st Status) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.status[kind] = st
	s.mu.Unlock()

	s.observers.notify(Event{Type: EventStatus, Kind: kind, Status: st})
}

// Status returns the loading/error flags for kind.
func (s *Store) Status(kind model.Kind) Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status[kind]
}

// findLocked looks up id in the named collection first, then the selection,
// then any mirror of the same kind.
func (s *Store) findLocked(kind model.Kind, name Name, id string) model.Entity {
	if i := indexOf(s.collections[name], id); i >= 0 {
		return s.collections[name][i]
	}
	if sel := s.selected[kind]; sel != nil && sel.EntityID() == id {
		return sel
	}
	for n, k := range kinds {
		if k != kind || n == name {
			continue
		}
		if i := indexOf(s.collections[n], id); i >= 0 {
			return s.collections[n][i]
		}
	}
	return nil
}

// propagateLocked writes e into every view of kind that already holds its
// id, skipping the collection named skip.
func (s *Store) propagateLocked(kind model.Kind, skip Name, e model.Entity) {
	id := e.EntityID()
	for n, k := range kinds {
		if k != kind || n == skip {
			continue
		}
		items := s.collections[n]
		if i := indexOf(items, id); i >= 0 && items[i] != e {
			next := make([]model.Entity, len(items))
			copy(next, items)
			next[i] = e
			s.collections[n] = next
		}
	}
	if sel := s.selected[kind]; sel != nil && sel.EntityID() == id {
		s.selected[kind] = e
	}
}

func indexOf(items []model.Entity, id string) int {
	for i, e := range items {
		if e.EntityID() == id {
			return i
		}
	}
	return -1
}

func appendCopy(items []model.Entity, e model.Entity) []model.Entity {
	next := make([]model.Entity, len(items), len(items)+1)
	copy(next, items)
	return append(next, e)
}
