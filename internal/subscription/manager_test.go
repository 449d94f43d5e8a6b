package subscription

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/mschirtzinger/tracksync/internal/cache"
	"github.com/mschirtzinger/tracksync/internal/model"
	"github.com/mschirtzinger/tracksync/internal/remote"
	"github.com/mschirtzinger/tracksync/internal/remote/memstore"
	"github.com/sirupsen/logrus"
)

func quietLogger() logrus.FieldLogger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

func newMem(t *testing.T) *memstore.Store {
	t.Helper()
	mem, err := memstore.New()
	if err != nil {
		t.Fatalf("memstore.New() error = %v", err)
	}
	t.Cleanup(func() { _ = mem.Close() })
	return mem
}

func projectFields(title string, assigned ...string) map[string]any {
	now := time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)
	p := &model.Project{
		Title:      title,
		Status:     model.ProjectToDo,
		Priority:   model.ProjectMedium,
		AssignedTo: assigned,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	return p.Fields()
}

func addProject(t *testing.T, s remote.Store, title string, assigned ...string) string {
	t.Helper()
	id, err := s.Create(context.Background(), remote.CollectionProjects, projectFields(title, assigned...))
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	return id
}

// captureStore records snapshot callbacks instead of delivering them.
type captureStore struct {
	remote.Store

	mu   sync.Mutex
	fns  []remote.SnapshotFunc
	live int
	err  error
}

func (c *captureStore) Subscribe(collection string, q remote.Query, fn remote.SnapshotFunc) (remote.Unsubscribe, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return nil, c.err
	}
	c.fns = append(c.fns, fn)
	c.live++
	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			c.live--
			c.mu.Unlock()
		})
	}, nil
}

func (c *captureStore) last() remote.SnapshotFunc {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.fns[len(c.fns)-1]
}

func (c *captureStore) liveCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.live
}

func TestSnapshotsReplaceCollection(t *testing.T) {
	mem := newMem(t)
	c := cache.New()
	m := New(mem, c, quietLogger())
	defer m.Close()

	addProject(t, mem, "One", "U1")
	if err := m.Subscribe(AllProjects()); err != nil {
		t.Fatal(err)
	}
	if got := len(c.Collection(cache.Projects)); got != 1 {
		t.Fatalf("after initial snapshot projects = %d, want 1", got)
	}
	if got := m.State(AllProjects()); got != Subscribed {
		t.Errorf("State() = %v, want %v", got, Subscribed)
	}

	addProject(t, mem, "Two", "U2")
	if got := len(c.Collection(cache.Projects)); got != 2 {
		t.Errorf("after write projects = %d, want 2", got)
	}
}

func TestUserScopeFilters(t *testing.T) {
	mem := newMem(t)
	c := cache.New()
	m := New(mem, c, quietLogger())
	defer m.Close()

	addProject(t, mem, "Mine", "U1")
	addProject(t, mem, "Theirs", "U2")
	if err := m.Subscribe(ProjectsForUser("U1")); err != nil {
		t.Fatal(err)
	}

	got := cache.Items[*model.Project](c, cache.UserProjects)
	if len(got) != 1 || got[0].Title != "Mine" {
		t.Errorf("userProjects = %+v, want only Mine", got)
	}
	if n := len(c.Collection(cache.Projects)); n != 0 {
		t.Errorf("projects = %d, want untouched", n)
	}
}

func TestResubscribeKeepsOneListener(t *testing.T) {
	mem := newMem(t)
	m := New(mem, cache.New(), quietLogger())
	defer m.Close()

	for i := 0; i < 3; i++ {
		if err := m.Subscribe(TasksForUser("U1")); err != nil {
			t.Fatal(err)
		}
		if got := mem.ListenerCount(remote.CollectionTasks); got != 1 {
			t.Fatalf("subscribe #%d: listeners = %d, want 1", i+1, got)
		}
	}

	// A different scope on the same collection gets its own listener.
	if err := m.Subscribe(TasksForUser("U2")); err != nil {
		t.Fatal(err)
	}
	if got := mem.ListenerCount(remote.CollectionTasks); got != 2 {
		t.Errorf("listeners = %d, want 2", got)
	}
	if got := len(m.Active()); got != 2 {
		t.Errorf("Active() = %d, want 2", got)
	}
}

func TestSnapshotAfterUnsubscribeIsDropped(t *testing.T) {
	store := &captureStore{Store: newMem(t)}
	c := cache.New()
	m := New(store, c, quietLogger())
	defer m.Close()

	if err := m.Subscribe(AllProjects()); err != nil {
		t.Fatal(err)
	}
	deliver := store.last()

	doc := remote.Document{ID: "p1", Fields: projectFields("Late")}
	deliver([]remote.Document{doc}, nil)
	if got := len(c.Collection(cache.Projects)); got != 1 {
		t.Fatalf("projects = %d, want 1 while subscribed", got)
	}

	if !m.Unsubscribe(AllProjects()) {
		t.Fatal("Unsubscribe() = false, want true")
	}
	if m.Unsubscribe(AllProjects()) {
		t.Error("second Unsubscribe() = true, want false")
	}
	if got := store.liveCount(); got != 0 {
		t.Errorf("live listeners = %d, want 0", got)
	}

	deliver(nil, nil)
	if got := len(c.Collection(cache.Projects)); got != 1 {
		t.Errorf("stale snapshot changed cache: projects = %d, want 1", got)
	}
	if got := m.State(AllProjects()); got != Unsubscribed {
		t.Errorf("State() = %v, want %v", got, Unsubscribed)
	}
}

func TestResubscribeSilencesOldListener(t *testing.T) {
	store := &captureStore{Store: newMem(t)}
	c := cache.New()
	m := New(store, c, quietLogger())
	defer m.Close()

	if err := m.Subscribe(AllProjects()); err != nil {
		t.Fatal(err)
	}
	first := store.last()
	if err := m.Subscribe(AllProjects()); err != nil {
		t.Fatal(err)
	}
	if got := store.liveCount(); got != 1 {
		t.Fatalf("live listeners = %d, want 1", got)
	}

	first([]remote.Document{{ID: "p1", Fields: projectFields("Old")}}, nil)
	if got := len(c.Collection(cache.Projects)); got != 0 {
		t.Errorf("replaced listener still wrote %d projects", got)
	}
}

func TestInvalidDocumentsAreSkipped(t *testing.T) {
	store := &captureStore{Store: newMem(t)}
	c := cache.New()
	m := New(store, c, quietLogger())
	defer m.Close()

	if err := m.Subscribe(AllProjects()); err != nil {
		t.Fatal(err)
	}
	store.last()([]remote.Document{
		{ID: "good", Fields: projectFields("Good")},
		{ID: "bad", Fields: map[string]any{"title": "No status"}},
	}, nil)

	got := cache.Items[*model.Project](c, cache.Projects)
	if len(got) != 1 || got[0].ID != "good" {
		t.Errorf("projects = %+v, want only good", got)
	}
}

func TestListenerErrorSetsStatus(t *testing.T) {
	store := &captureStore{Store: newMem(t)}
	c := cache.New()
	m := New(store, c, quietLogger())
	defer m.Close()

	if err := m.Subscribe(NotificationsForUser("U1")); err != nil {
		t.Fatal(err)
	}
	store.last()(nil, errors.New("permission denied"))

	if got := c.Status(model.KindNotification).Error; got != "live updates stopped: permission denied" {
		t.Errorf("status error = %q", got)
	}
}

func TestSubscribeFailure(t *testing.T) {
	store := &captureStore{Store: newMem(t), err: remote.ErrClosed}
	m := New(store, cache.New(), quietLogger())

	err := m.Subscribe(AllUsers())
	if !errors.Is(err, remote.ErrClosed) {
		t.Fatalf("Subscribe() error = %v, want ErrClosed", err)
	}
	if got := m.State(AllUsers()); got != Unsubscribed {
		t.Errorf("State() = %v, want %v", got, Unsubscribed)
	}
	if len(m.Active()) != 0 {
		t.Errorf("Active() = %v, want empty", m.Active())
	}
}

func TestScopedUnsubscribesOnError(t *testing.T) {
	mem := newMem(t)
	m := New(mem, cache.New(), quietLogger())
	defer m.Close()

	boom := errors.New("boom")
	err := m.Scoped(context.Background(), ApprovedUsers(), func(context.Context) error {
		if got := mem.ListenerCount(remote.CollectionUsers); got != 1 {
			t.Errorf("listeners inside Scoped = %d, want 1", got)
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Errorf("Scoped() error = %v, want boom", err)
	}
	if got := mem.ListenerCount(remote.CollectionUsers); got != 0 {
		t.Errorf("listeners after Scoped = %d, want 0", got)
	}
}

func TestCloseDetachesEverything(t *testing.T) {
	mem := newMem(t)
	m := New(mem, cache.New(), quietLogger())

	for _, s := range ForUser("A", true) {
		if err := m.Subscribe(s); err != nil {
			t.Fatal(err)
		}
	}
	if got := len(m.Active()); got != 7 {
		t.Fatalf("Active() = %d, want 7", got)
	}

	m.Close()
	for _, coll := range remote.Collections {
		if got := mem.ListenerCount(coll); got != 0 {
			t.Errorf("%s listeners = %d, want 0", coll, got)
		}
	}
	if err := m.Subscribe(AllProjects()); !errors.Is(err, ErrClosed) {
		t.Errorf("Subscribe() after Close error = %v, want ErrClosed", err)
	}
}

func TestUnknownTarget(t *testing.T) {
	m := New(newMem(t), cache.New(), quietLogger())
	err := m.Subscribe(Scope{Source: remote.CollectionProjects, Target: "archive"})
	if !errors.Is(err, cache.ErrUnknownCollection) {
		t.Errorf("Subscribe() error = %v, want ErrUnknownCollection", err)
	}
}
