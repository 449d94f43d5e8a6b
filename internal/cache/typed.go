package cache

import "github.com/mschirtzinger/tracksync/internal/model"

// Items returns the named collection as concrete entity values. Entities of
// another type are skipped.
func Items[T model.Entity](s *Store, name Name) []T {
	all := s.Collection(name)
	out := make([]T, 0, len(all))
	for _, e := range all {
		if v, ok := e.(T); ok {
			out = append(out, v)
		}
	}
	return out
}

// Entities converts a typed slice for ReplaceCollection.
func Entities[T model.Entity](items []T) []model.Entity {
	out := make([]model.Entity, len(items))
	for i, v := range items {
		out[i] = v
	}
	return out
}

// SelectedProject returns the selected project, or nil.
func (s *Store) SelectedProject() *model.Project {
	p, _ := s.Selected(model.KindProject).(*model.Project)
	return p
}

// SelectedTask returns the selected task, or nil.
func (s *Store) SelectedTask() *model.Task {
	t, _ := s.Selected(model.KindTask).(*model.Task)
	return t
}

// Unread counts unread notifications.
func (s *Store) Unread() int {
	n := 0
	for _, v := range Items[*model.Notification](s, Notifications) {
		if !v.Read {
			n++
		}
	}
	return n
}
