package snapshot

import (
	"context"
	"errors"
	"io"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/mschirtzinger/tracksync/internal/cache"
	"github.com/mschirtzinger/tracksync/internal/model"
	"github.com/sirupsen/logrus"
)

// testDB opens a snapshot database in a temporary directory.
func testDB(t *testing.T) *DB {
	t.Helper()
	log := logrus.New()
	log.SetOutput(io.Discard)
	db, err := Open(filepath.Join(t.TempDir(), "nested", "snapshot.db"), log)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func fixtureCache(t *testing.T) *cache.Store {
	t.Helper()
	at := time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)
	p1 := &model.Project{
		ID: "p1", Title: "Launch", Status: model.ProjectToDo, Priority: model.ProjectHigh,
		AssignedTo: []string{"U1"}, Progress: 40,
		Comments: []model.Comment{{ID: "c1", AuthorID: "A", Text: "go", CreatedAt: at}},
		Files:    []model.File{}, Images: []model.File{},
		SubTasks: []model.SubTask{{ID: "s1", Title: "docs", Status: model.ProjectDone, CreatedAt: at, UpdatedAt: at}},
		CreatedAt: at, UpdatedAt: at,
	}
	p2 := &model.Project{
		ID: "p2", Title: "Cleanup", Status: model.ProjectReview, Priority: model.ProjectLow,
		AssignedTo: []string{}, Comments: []model.Comment{}, Files: []model.File{}, Images: []model.File{},
		SubTasks: []model.SubTask{}, CreatedAt: at, UpdatedAt: at,
	}
	n := &model.Notification{
		ID: "n1", Title: "Assigned", Message: "hi", UserID: "U1",
		ActionType: model.ActionProjectAssigned, ProjectID: "p1", CreatedAt: at,
	}

	c := cache.New()
	if err := c.ReplaceCollection(cache.Projects, []model.Entity{p2, p1}); err != nil {
		t.Fatal(err)
	}
	if err := c.ReplaceCollection(cache.UserProjects, []model.Entity{p1}); err != nil {
		t.Fatal(err)
	}
	if err := c.ReplaceCollection(cache.Notifications, []model.Entity{n}); err != nil {
		t.Fatal(err)
	}
	c.Select(p1)
	return c
}

func TestInitSchemaIdempotent(t *testing.T) {
	db := testDB(t)
	for i := 0; i < 2; i++ {
		if err := db.InitSchema(context.Background()); err != nil {
			t.Fatalf("InitSchema() #%d failed: %v", i+1, err)
		}
	}

	for _, table := range []string{"entities", "selected", "meta"} {
		var count int
		err := db.conn.QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?`, table).Scan(&count)
		if err != nil {
			t.Fatalf("failed to query table %s: %v", table, err)
		}
		if count != 1 {
			t.Errorf("table %s does not exist", table)
		}
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	src := fixtureCache(t)

	if err := db.Save(ctx, src, "U1"); err != nil {
		t.Fatalf("Save() failed: %v", err)
	}

	dst := cache.New()
	st, err := db.Load(ctx, dst, "U1")
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if st.Counts[cache.Projects] != 2 || st.Counts[cache.UserProjects] != 1 || st.Counts[cache.Notifications] != 1 {
		t.Errorf("counts = %v", st.Counts)
	}

	for _, name := range cache.Names {
		if diff := cmp.Diff(src.Collection(name), dst.Collection(name)); diff != "" {
			t.Errorf("%s mismatch (-saved +loaded):\n%s", name, diff)
		}
	}
	if diff := cmp.Diff(src.SelectedProject(), dst.SelectedProject()); diff != "" {
		t.Errorf("selected mismatch (-saved +loaded):\n%s", diff)
	}
}

func TestSaveReplacesPrevious(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	if err := db.Save(ctx, fixtureCache(t), "U1"); err != nil {
		t.Fatal(err)
	}
	if err := db.Save(ctx, cache.New(), "U1"); err != nil {
		t.Fatal(err)
	}

	st, err := db.Stats(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(st.Counts) != 0 {
		t.Errorf("counts after empty save = %v, want none", st.Counts)
	}
	if st.SavedAt.IsZero() {
		t.Error("SavedAt not recorded")
	}
}

func TestLoadOtherUser(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	dst := cache.New()
	if _, err := db.Load(ctx, dst, "U1"); !errors.Is(err, ErrEmpty) {
		t.Fatalf("Load() on fresh db error = %v, want ErrEmpty", err)
	}

	if err := db.Save(ctx, fixtureCache(t), "U1"); err != nil {
		t.Fatal(err)
	}
	if _, err := db.Load(ctx, dst, "U2"); !errors.Is(err, ErrEmpty) {
		t.Errorf("Load() for another user error = %v, want ErrEmpty", err)
	}
	if n := len(dst.Collection(cache.Projects)); n != 0 {
		t.Errorf("projects loaded for wrong user: %d", n)
	}
}

func TestLoadSkipsUnreadableRows(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	if err := db.Save(ctx, fixtureCache(t), "U1"); err != nil {
		t.Fatal(err)
	}
	if _, err := db.conn.Exec(`UPDATE entities SET body = '{' WHERE collection = 'projects' AND id = 'p2'`); err != nil {
		t.Fatal(err)
	}

	dst := cache.New()
	if _, err := db.Load(ctx, dst, "U1"); err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	got := dst.Collection(cache.Projects)
	if len(got) != 1 || got[0].EntityID() != "p1" {
		t.Errorf("projects = %v, want only p1", got)
	}
}
