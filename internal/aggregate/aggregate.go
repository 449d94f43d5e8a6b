// Package aggregate owns the write paths of the aggregate documents.
//
// Projects and tasks embed their sub-entities (subtasks, comments, files)
// as arrays inside the parent document. Additions use an array append so
// concurrent appends never clobber each other. Updates and deletions of an
// existing element read the whole array, transform it and write it back;
// two concurrent edits of different elements of the same array can lose one
// of them (last writer wins). That limitation is accepted and not detected.
//
// Every mutation refreshes the parent's updatedAt, returns the entity as
// re-read from the store, and then hands a fanout.Descriptor to the
// notifier. Notification failures never fail the mutation.
//
// The repository is also the only writer allowed to touch both sides of the
// project assignment: Project.assignedTo and User.projects.
package aggregate

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/mschirtzinger/tracksync/internal/fanout"
	"github.com/mschirtzinger/tracksync/internal/remote"
	"github.com/sirupsen/logrus"
)

// ErrSubTaskNotFound is returned when a subtask id is not in its project.
var ErrSubTaskNotFound = errors.New("subtask not found")

// Notifier publishes notifications derived from a mutation.
type Notifier interface {
	Publish(ctx context.Context, d fanout.Descriptor) fanout.Result
}

// Actor is the user performing a mutation.
type Actor struct {
	ID   string
	Name string
}

// Options tunes a Repository. Zero values pick sensible defaults.
type Options struct {
	Now   func() time.Time
	NewID func() string
}

type deps struct {
	store  remote.Store
	notify Notifier
	log    logrus.FieldLogger
	now    func() time.Time
	newID  func() string
}

// Repository groups the per-entity repositories over one store.
type Repository struct {
	Projects      *ProjectRepo
	Tasks         *TaskRepo
	Users         *UserRepo
	Notifications *NotificationRepo
}

// New wires the repositories. notify may be nil to disable fan-out.
func New(store remote.Store, notify Notifier, log logrus.FieldLogger, opts Options) *Repository {
	if log == nil {
		log = logrus.StandardLogger()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.NewID == nil {
		opts.NewID = uuid.NewString
	}
	d := &deps{
		store:  store,
		notify: notify,
		log:    log.WithField("component", "aggregate"),
		now:    opts.Now,
		newID:  opts.NewID,
	}
	users := &UserRepo{deps: d}
	return &Repository{
		Projects:      &ProjectRepo{deps: d, users: users},
		Tasks:         &TaskRepo{deps: d, users: users},
		Users:         users,
		Notifications: &NotificationRepo{deps: d},
	}
}

// timestamp is the store-precision current time.
func (d *deps) timestamp() time.Time {
	return d.now().UTC().Truncate(time.Millisecond)
}

// advance returns a timestamp strictly after prev.
func (d *deps) advance(prev time.Time) time.Time {
	t := d.timestamp()
	if !t.After(prev) {
		t = prev.Add(time.Millisecond)
	}
	return t
}

func (d *deps) publish(ctx context.Context, desc fanout.Descriptor) {
	if d.notify == nil {
		return
	}
	// The mutation already succeeded; a cancelled caller must not suppress
	// the notifications it caused.
	d.notify.Publish(context.WithoutCancel(ctx), desc)
}

func removeString(ids []string, id string) []string {
	out := make([]string, 0, len(ids))
	for _, v := range ids {
		if v != id {
			out = append(out, v)
		}
	}
	return out
}

func anyStrings(ids []string) []any {
	out := make([]any, len(ids))
	for i, v := range ids {
		out[i] = v
	}
	return out
}
