package aggregate

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/mschirtzinger/tracksync/internal/fanout"
	"github.com/mschirtzinger/tracksync/internal/model"
	"github.com/mschirtzinger/tracksync/internal/remote"
	"github.com/mschirtzinger/tracksync/internal/remote/memstore"
	"github.com/sirupsen/logrus"
)

var (
	admin = Actor{ID: "A", Name: "Ada"}
	dev1  = Actor{ID: "U1", Name: "Uma"}
)

type fixture struct {
	store *memstore.Store
	repo  *Repository
}

func setup(t *testing.T, wrap func(*memstore.Store) remote.Store) *fixture {
	t.Helper()
	var tick atomic.Int64
	clock := time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)
	return setupClock(t, wrap, func() time.Time { return clock.Add(time.Duration(tick.Add(1)) * time.Second) })
}

// setupClock is setup with a caller-controlled clock.
func setupClock(t *testing.T, wrap func(*memstore.Store) remote.Store, now func() time.Time) *fixture {
	t.Helper()
	mem, err := memstore.New()
	if err != nil {
		t.Fatalf("memstore.New() error = %v", err)
	}
	t.Cleanup(func() { _ = mem.Close() })

	var store remote.Store = mem
	if wrap != nil {
		store = wrap(mem)
	}

	log := logrus.New()
	log.SetOutput(io.Discard)

	var seq atomic.Int64
	notifier := fanout.New(store, log, fanout.Options{Now: now})
	repo := New(store, notifier, log, Options{
		Now:   now,
		NewID: func() string { return fmt.Sprintf("id-%d", seq.Add(1)) },
	})

	ctx := context.Background()
	for _, u := range []*model.User{
		{ID: "A", DisplayName: "Ada", Role: model.RoleAdmin, Approved: true},
		{ID: "U1", DisplayName: "Uma", Role: model.RoleDeveloper, Approved: true},
		{ID: "U2", DisplayName: "Ugo", Role: model.RoleDeveloper},
	} {
		if _, err := repo.Users.Put(ctx, u); err != nil {
			t.Fatalf("Put(%s) error = %v", u.ID, err)
		}
	}
	return &fixture{store: mem, repo: repo}
}

func (f *fixture) notifications(t *testing.T, filters ...remote.Filter) []*model.Notification {
	t.Helper()
	docs, err := f.store.Query(context.Background(), remote.CollectionNotifications, remote.Query{Filters: filters})
	if err != nil {
		t.Fatal(err)
	}
	out := make([]*model.Notification, 0, len(docs))
	for _, d := range docs {
		n, err := model.DecodeNotification(d)
		if err != nil {
			t.Fatalf("stored notification invalid: %v", err)
		}
		out = append(out, n)
	}
	return out
}

func (f *fixture) createProject(t *testing.T, assigned any) *model.Project {
	t.Helper()
	p, err := f.repo.Projects.Create(context.Background(), admin, NewProject{
		Title:      "Launch",
		Priority:   model.ProjectHigh,
		AssignedTo: assigned,
	})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	return p
}

func TestCreateProjectAssignsAndNotifies(t *testing.T) {
	f := setup(t, nil)
	p := f.createProject(t, "U1")

	if diff := cmp.Diff([]string{"U1"}, p.AssignedTo); diff != "" {
		t.Errorf("assignedTo (-want +got):\n%s", diff)
	}
	if p.Progress != 0 || p.Status != model.ProjectToDo || p.CreatedBy != "A" {
		t.Errorf("unexpected project %+v", p)
	}

	ns := f.notifications(t)
	if len(ns) != 1 {
		t.Fatalf("got %d notifications, want 1", len(ns))
	}
	if ns[0].UserID != "U1" || ns[0].ActionType != model.ActionProjectAssigned || ns[0].ProjectID != p.ID {
		t.Errorf("unexpected notification %+v", ns[0])
	}

	u, err := f.repo.Users.Get(context.Background(), "U1")
	if err != nil {
		t.Fatal(err)
	}
	if !model.Contains(u.Projects, p.ID) {
		t.Errorf("user back-reference missing: %v", u.Projects)
	}
}

func TestCreateProjectRejectsInvalid(t *testing.T) {
	f := setup(t, nil)
	_, err := f.repo.Projects.Create(context.Background(), admin, NewProject{Priority: model.ProjectHigh})
	if !errors.Is(err, model.ErrInvalidDocument) {
		t.Errorf("Create() error = %v, want ErrInvalidDocument", err)
	}
}

func TestCommentExcludesAuthor(t *testing.T) {
	f := setup(t, nil)
	p := f.createProject(t, []string{"U1"})
	before := len(f.notifications(t))

	if _, err := f.repo.Projects.AddComment(context.Background(), dev1, p.ID, "looks good"); err != nil {
		t.Fatalf("AddComment() error = %v", err)
	}

	comments := f.notifications(t, remote.Where("actionType", remote.OpEqual, string(model.ActionCommentAdded)))
	if len(f.notifications(t))-before != 1 || len(comments) != 1 {
		t.Fatalf("got %d comment notifications, want 1", len(comments))
	}
	if comments[0].UserID != "A" {
		t.Errorf("comment notification went to %s, want A", comments[0].UserID)
	}
}

// frozenClock returns the same instant on every call, so two mutations land
// in the same millisecond.
func frozenClock() time.Time {
	return time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)
}

func TestCommentsAreAppendOnly(t *testing.T) {
	f := setupClock(t, nil, frozenClock)
	p := f.createProject(t, "U1")
	ctx := context.Background()

	var prev []model.Comment
	for i := 0; i < 5; i++ {
		got, err := f.repo.Projects.AddComment(ctx, dev1, p.ID, fmt.Sprintf("comment %d", i))
		if err != nil {
			t.Fatalf("AddComment() error = %v", err)
		}
		if len(got.Comments) != len(prev)+1 {
			t.Fatalf("comments grew from %d to %d", len(prev), len(got.Comments))
		}
		if diff := cmp.Diff(prev, got.Comments[:len(prev)]); len(prev) > 0 && diff != "" {
			t.Fatalf("earlier comments changed (-before +after):\n%s", diff)
		}
		if !got.UpdatedAt.After(p.UpdatedAt) {
			t.Errorf("updatedAt not advanced: %v <= %v", got.UpdatedAt, p.UpdatedAt)
		}
		prev = got.Comments
		p = got
	}
}

func TestEmbeddedWritesAdvanceUpdatedAt(t *testing.T) {
	f := setupClock(t, nil, frozenClock)
	ctx := context.Background()
	p := f.createProject(t, "U1")

	steps := []struct {
		name string
		run  func(id string) (*model.Project, error)
	}{
		{"add subtask", func(id string) (*model.Project, error) {
			return f.repo.Projects.AddSubTask(ctx, admin, id, "first")
		}},
		{"update subtask", func(id string) (*model.Project, error) {
			done := model.ProjectDone
			return f.repo.Projects.UpdateSubTask(ctx, id, p.SubTasks[0].ID, SubTaskUpdate{Status: &done})
		}},
		{"add comment after rewrite", func(id string) (*model.Project, error) {
			return f.repo.Projects.AddComment(ctx, dev1, id, "looks good")
		}},
		{"add file", func(id string) (*model.Project, error) {
			return f.repo.Projects.AddFile(ctx, admin, id, model.File{ID: "f1", Name: "brief.pdf", URL: "file:///brief.pdf", Type: "application/pdf"})
		}},
	}
	for _, step := range steps {
		got, err := step.run(p.ID)
		if err != nil {
			t.Fatalf("%s: error = %v", step.name, err)
		}
		if !got.UpdatedAt.After(p.UpdatedAt) {
			t.Fatalf("%s: updatedAt %v not after %v", step.name, got.UpdatedAt, p.UpdatedAt)
		}
		p = got
	}

	task, err := f.repo.Tasks.Create(ctx, admin, NewTask{Title: "Fix login", AssignedTo: []string{"U1"}})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	commented, err := f.repo.Tasks.AddComment(ctx, dev1, task.ID, "on it")
	if err != nil {
		t.Fatalf("AddComment() error = %v", err)
	}
	if !commented.UpdatedAt.After(task.UpdatedAt) {
		t.Errorf("task comment: updatedAt %v not after %v", commented.UpdatedAt, task.UpdatedAt)
	}
	attached, err := f.repo.Tasks.AddAttachment(ctx, task.ID, model.File{ID: "f2", Name: "log.txt", URL: "file:///log.txt", Type: "text/plain"})
	if err != nil {
		t.Fatalf("AddAttachment() error = %v", err)
	}
	if !attached.UpdatedAt.After(commented.UpdatedAt) {
		t.Errorf("task attachment: updatedAt %v not after %v", attached.UpdatedAt, commented.UpdatedAt)
	}
}

// raceStore holds the first n project reads until all of them have
// happened, so the callers all see the same subTasks array.
type raceStore struct {
	*memstore.Store
	mu      sync.Mutex
	pending int
	release chan struct{}
}

func (r *raceStore) Get(ctx context.Context, collection, id string) (remote.Document, error) {
	doc, err := r.Store.Get(ctx, collection, id)
	if collection != remote.CollectionProjects {
		return doc, err
	}
	r.mu.Lock()
	if r.pending == 0 {
		r.mu.Unlock()
		return doc, err
	}
	r.pending--
	if r.pending == 0 {
		close(r.release)
	}
	r.mu.Unlock()
	<-r.release
	return doc, err
}

func TestConcurrentSubTaskUpdates(t *testing.T) {
	race := &raceStore{}
	f := setup(t, func(m *memstore.Store) remote.Store {
		race.Store = m
		return race
	})
	ctx := context.Background()

	p := f.createProject(t, "U1")
	p, _ = f.repo.Projects.AddSubTask(ctx, admin, p.ID, "first")
	p, _ = f.repo.Projects.AddSubTask(ctx, admin, p.ID, "second")
	if len(p.SubTasks) != 2 {
		t.Fatalf("setup produced %d subtasks", len(p.SubTasks))
	}
	s1, s2 := p.SubTasks[0].ID, p.SubTasks[1].ID

	race.mu.Lock()
	race.pending = 2
	race.release = make(chan struct{})
	race.mu.Unlock()

	done := model.ProjectDone
	var wg sync.WaitGroup
	for _, id := range []string{s1, s2} {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			if _, err := f.repo.Projects.UpdateSubTask(ctx, p.ID, id, SubTaskUpdate{Status: &done}); err != nil {
				t.Errorf("UpdateSubTask(%s) error = %v", id, err)
			}
		}(id)
	}
	wg.Wait()

	final, err := f.repo.Projects.Get(ctx, p.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(final.SubTasks) != 2 {
		t.Fatalf("subtask count = %d, want 2", len(final.SubTasks))
	}
	seen := map[string]bool{}
	doneCount := 0
	for _, s := range final.SubTasks {
		if seen[s.ID] {
			t.Fatalf("duplicate subtask id %s", s.ID)
		}
		seen[s.ID] = true
		if s.Status == model.ProjectDone {
			doneCount++
		}
	}
	if !seen[s1] || !seen[s2] {
		t.Fatalf("subtask ids changed: %v", seen)
	}
	// Both reads saw the same array, so the last writer wins and exactly one
	// update survives. Both surviving would also be acceptable.
	if doneCount < 1 {
		t.Errorf("no update survived")
	}
}

func TestUpdateSubTaskNotFound(t *testing.T) {
	f := setup(t, nil)
	p := f.createProject(t, "U1")
	done := model.ProjectDone
	_, err := f.repo.Projects.UpdateSubTask(context.Background(), p.ID, "missing", SubTaskUpdate{Status: &done})
	if !errors.Is(err, ErrSubTaskNotFound) {
		t.Errorf("error = %v, want ErrSubTaskNotFound", err)
	}
}

func TestDeleteSubTask(t *testing.T) {
	f := setup(t, nil)
	ctx := context.Background()
	p := f.createProject(t, "U1")
	p, _ = f.repo.Projects.AddSubTask(ctx, admin, p.ID, "a")
	p, _ = f.repo.Projects.AddSubTask(ctx, admin, p.ID, "b")

	got, err := f.repo.Projects.DeleteSubTask(ctx, p.ID, p.SubTasks[0].ID)
	if err != nil {
		t.Fatalf("DeleteSubTask() error = %v", err)
	}
	if len(got.SubTasks) != 1 || got.SubTasks[0].Title != "b" {
		t.Errorf("subtasks = %+v", got.SubTasks)
	}
}

func TestDeleteProjectCascades(t *testing.T) {
	f := setup(t, nil)
	ctx := context.Background()
	p := f.createProject(t, "U1")
	other := f.createProject(t, "U1")
	if _, err := f.repo.Projects.AddComment(ctx, dev1, p.ID, "hi"); err != nil {
		t.Fatal(err)
	}

	if err := f.repo.Projects.Delete(ctx, p.ID); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}

	if n := f.notifications(t, remote.Where("projectId", remote.OpEqual, p.ID)); len(n) != 0 {
		t.Errorf("%d notifications still reference the deleted project", len(n))
	}
	if n := f.notifications(t, remote.Where("projectId", remote.OpEqual, other.ID)); len(n) != 1 {
		t.Errorf("other project's notifications = %d, want 1", len(n))
	}
	u, _ := f.repo.Users.Get(ctx, "U1")
	if model.Contains(u.Projects, p.ID) {
		t.Errorf("back-reference not removed: %v", u.Projects)
	}
	if !model.Contains(u.Projects, other.ID) {
		t.Errorf("unrelated back-reference removed: %v", u.Projects)
	}
	if _, err := f.repo.Projects.Get(ctx, p.ID); !errors.Is(err, remote.ErrNotFound) {
		t.Errorf("Get() after delete error = %v", err)
	}
}

func TestUpdateSyncsAssignments(t *testing.T) {
	f := setup(t, nil)
	ctx := context.Background()
	p := f.createProject(t, "U1")

	next := []string{"U2"}
	if _, err := f.repo.Projects.Update(ctx, admin, p.ID, ProjectUpdate{AssignedTo: &next}); err != nil {
		t.Fatalf("Update() error = %v", err)
	}

	u1, _ := f.repo.Users.Get(ctx, "U1")
	u2, _ := f.repo.Users.Get(ctx, "U2")
	if model.Contains(u1.Projects, p.ID) {
		t.Error("U1 still linked")
	}
	if !model.Contains(u2.Projects, p.ID) {
		t.Error("U2 not linked")
	}
	if n := f.notifications(t, remote.Where("userId", remote.OpEqual, "U2")); len(n) != 1 {
		t.Errorf("U2 notifications = %d, want 1", len(n))
	}
}

func TestStatusChangeNotifiesAdmins(t *testing.T) {
	f := setup(t, nil)
	ctx := context.Background()
	p := f.createProject(t, "U1")

	got, err := f.repo.Projects.UpdateStatus(ctx, dev1, p.ID, model.ProjectInProgress)
	if err != nil {
		t.Fatalf("UpdateStatus() error = %v", err)
	}
	if got.Status != model.ProjectInProgress || !got.UpdatedAt.After(p.UpdatedAt) {
		t.Errorf("unexpected project %+v", got)
	}

	ns := f.notifications(t, remote.Where("actionType", remote.OpEqual, string(model.ActionStatusChanged)))
	if len(ns) != 1 || ns[0].UserID != "A" {
		t.Errorf("status notifications = %+v", ns)
	}
}

func TestTaskStatusChangeNotifiesAdmins(t *testing.T) {
	f := setup(t, nil)
	ctx := context.Background()

	task, err := f.repo.Tasks.Create(ctx, dev1, NewTask{Title: "Fix login", AssignedTo: []string{"U2"}})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if _, err := f.repo.Tasks.UpdateStatus(ctx, dev1, task.ID, model.TaskInProgress); err != nil {
		t.Fatalf("UpdateStatus() error = %v", err)
	}

	ns := f.notifications(t, remote.Where("actionType", remote.OpEqual, string(model.ActionTaskStatusChanged)))
	var got []string
	for _, n := range ns {
		got = append(got, n.UserID)
	}
	sort.Strings(got)
	if diff := cmp.Diff([]string{"A", "U2"}, got); diff != "" {
		t.Errorf("status notification targets (-want +got):\n%s", diff)
	}
}

// notifyDownStore rejects every notification write.
type notifyDownStore struct {
	*memstore.Store
	attempts atomic.Int64
}

func (s *notifyDownStore) Create(ctx context.Context, collection string, fields map[string]any) (string, error) {
	if collection == remote.CollectionNotifications {
		s.attempts.Add(1)
		return "", errors.New("notifications unavailable")
	}
	return s.Store.Create(ctx, collection, fields)
}

func TestMutationsSucceedWhenNotificationsFail(t *testing.T) {
	down := &notifyDownStore{}
	f := setup(t, func(m *memstore.Store) remote.Store {
		down.Store = m
		return down
	})
	ctx := context.Background()

	p := f.createProject(t, "U1")
	p, err := f.repo.Projects.AddComment(ctx, dev1, p.ID, "first")
	if err != nil {
		t.Fatalf("AddComment() error = %v", err)
	}
	p, err = f.repo.Projects.UpdateStatus(ctx, dev1, p.ID, model.ProjectInProgress)
	if err != nil {
		t.Fatalf("UpdateStatus() error = %v", err)
	}
	if p.Status != model.ProjectInProgress || len(p.Comments) != 1 {
		t.Errorf("project = %+v", p)
	}

	stored, err := f.repo.Projects.Get(ctx, p.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if stored.Status != model.ProjectInProgress || len(stored.Comments) != 1 {
		t.Errorf("stored project = %+v", stored)
	}
	if down.attempts.Load() == 0 {
		t.Error("no notification write was attempted")
	}
	if ns := f.notifications(t); len(ns) != 0 {
		t.Errorf("%d notifications stored, want 0", len(ns))
	}
}

func TestAddFileClassifiesByMIME(t *testing.T) {
	f := setup(t, nil)
	ctx := context.Background()
	p := f.createProject(t, "U1")

	p, err := f.repo.Projects.AddFile(ctx, admin, p.ID, model.File{ID: "f1", Name: "shot.png", URL: "file:///shot.png", Type: "image/png"})
	if err != nil {
		t.Fatal(err)
	}
	p, err = f.repo.Projects.AddFile(ctx, admin, p.ID, model.File{ID: "f2", Name: "brief.pdf", URL: "file:///brief.pdf", Type: "application/pdf"})
	if err != nil {
		t.Fatal(err)
	}
	if len(p.Images) != 1 || p.Images[0].ID != "f1" {
		t.Errorf("images = %+v", p.Images)
	}
	if len(p.Files) != 1 || p.Files[0].ID != "f2" {
		t.Errorf("files = %+v", p.Files)
	}
}

func TestTaskLifecycle(t *testing.T) {
	f := setup(t, nil)
	ctx := context.Background()

	task, err := f.repo.Tasks.Create(ctx, admin, NewTask{Title: "Fix login", Priority: model.TaskHigh, AssignedTo: []string{"U1", "U1"}})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if diff := cmp.Diff([]string{"U1"}, task.AssignedTo); diff != "" {
		t.Errorf("assignedTo (-want +got):\n%s", diff)
	}

	if _, err := f.repo.Tasks.UpdateStatus(ctx, dev1, task.ID, model.TaskCompleted); err != nil {
		t.Fatalf("UpdateStatus() error = %v", err)
	}
	if _, err := f.repo.Tasks.AddComment(ctx, dev1, task.ID, "done"); err != nil {
		t.Fatalf("AddComment() error = %v", err)
	}
	if n := f.notifications(t, remote.Where("taskId", remote.OpEqual, task.ID)); len(n) != 3 {
		t.Errorf("task notifications = %d, want 3 (assigned, status, comment)", len(n))
	}

	if err := f.repo.Tasks.Delete(ctx, task.ID); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if n := f.notifications(t, remote.Where("taskId", remote.OpEqual, task.ID)); len(n) != 0 {
		t.Errorf("%d notifications survived task delete", len(n))
	}
}

func TestNotificationReadFlags(t *testing.T) {
	f := setup(t, nil)
	ctx := context.Background()
	f.createProject(t, "U1")
	f.createProject(t, "U1")

	list, err := f.repo.Notifications.ListForUser(ctx, "U1")
	if err != nil || len(list) != 2 {
		t.Fatalf("ListForUser() = %d, %v", len(list), err)
	}
	if !list[0].CreatedAt.After(list[1].CreatedAt) {
		t.Error("notifications not ordered newest first")
	}

	if _, err := f.repo.Notifications.MarkRead(ctx, list[0].ID); err != nil {
		t.Fatal(err)
	}
	n, err := f.repo.Notifications.MarkAllRead(ctx, "U1")
	if err != nil || n != 1 {
		t.Errorf("MarkAllRead() = %d, %v; want 1", n, err)
	}
}

func TestUsers(t *testing.T) {
	f := setup(t, nil)
	ctx := context.Background()

	approved, err := f.repo.Users.ListApproved(ctx)
	if err != nil || len(approved) != 2 {
		t.Fatalf("ListApproved() = %d, %v", len(approved), err)
	}
	if _, err := f.repo.Users.Approve(ctx, "U2"); err != nil {
		t.Fatal(err)
	}
	approved, _ = f.repo.Users.ListApproved(ctx)
	if len(approved) != 3 {
		t.Errorf("approved after Approve = %d, want 3", len(approved))
	}
	if _, err := f.repo.Users.Approve(ctx, "ghost"); !errors.Is(err, remote.ErrNotFound) {
		t.Errorf("Approve(ghost) error = %v", err)
	}
}
