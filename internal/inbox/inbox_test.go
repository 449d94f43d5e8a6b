package inbox

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/mschirtzinger/tracksync/internal/model"
	"github.com/sirupsen/logrus"
)

type recorder struct {
	mu   sync.Mutex
	reqs []Request
	err  error
}

func (r *recorder) handle(ctx context.Context, req Request) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return "", r.err
	}
	r.reqs = append(r.reqs, req)
	return "id-1", nil
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.reqs)
}

func startInbox(t *testing.T, dir string, rec *recorder) *Inbox {
	t.Helper()
	log := logrus.New()
	log.SetOutput(io.Discard)

	in, err := New(Config{Dir: dir, Debounce: 50 * time.Millisecond, Logger: log}, rec.handle)
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	if err := in.Start(); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	t.Cleanup(func() { _ = in.Stop() })
	return in
}

// waitForFile polls until path exists.
func waitForFile(t *testing.T, path string) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for {
		if _, err := os.Stat(path); err == nil {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", filepath.Base(path))
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write %s: %v", path, err)
	}
}

func TestParse(t *testing.T) {
	now := time.Date(2024, 6, 3, 10, 0, 0, 0, time.UTC)

	req, err := Parse([]byte(`{"kind":"project","title":"Launch","assignedTo":"U1","priority":"High","endDate":"2024-07-01"}`), now)
	if err != nil {
		t.Fatal(err)
	}
	if req.Kind != model.KindProject || req.Project == nil {
		t.Fatalf("Parse() = %+v, want project request", req)
	}
	if req.Project.Title != "Launch" || req.Project.Priority != model.ProjectHigh || req.Project.AssignedTo != "U1" {
		t.Errorf("project = %+v", req.Project)
	}
	if req.Project.EndDate == nil || !req.Project.EndDate.Equal(time.Date(2024, 7, 1, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("EndDate = %v", req.Project.EndDate)
	}

	req, err = Parse([]byte(`{"kind":"task","title":"Fix","assignedTo":["U1","U1","U2"]}`), now)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]string{"U1", "U2"}, req.Task.AssignedTo); diff != "" {
		t.Errorf("assignedTo (-want +got):\n%s", diff)
	}

	for _, bad := range []string{
		`{`,
		`{"kind":"project"}`,
		`{"kind":"epic","title":"x"}`,
		`{"kind":"task","title":"x","dueDate":"blorp"}`,
	} {
		if _, err := Parse([]byte(bad), now); err == nil {
			t.Errorf("Parse(%s) succeeded, want error", bad)
		}
	}
}

func TestExistingFilesProcessedOnStart(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "a.json"), `{"kind":"task","title":"Fix login"}`)
	writeFile(t, filepath.Join(dir, "ignored.txt"), `not an import`)

	rec := &recorder{}
	in := startInbox(t, dir, rec)

	waitForFile(t, filepath.Join(dir, "a.json.done"))
	if rec.count() != 1 {
		t.Errorf("handled %d requests, want 1", rec.count())
	}
	if _, err := os.Stat(filepath.Join(dir, "ignored.txt")); err != nil {
		t.Errorf("non-json file touched: %v", err)
	}
	if got := in.Stats(); got.Processed != 1 || got.Failed != 0 {
		t.Errorf("Stats() = %+v", got)
	}
}

func TestDroppedFileIsImported(t *testing.T) {
	dir := t.TempDir()
	rec := &recorder{}
	startInbox(t, dir, rec)

	writeFile(t, filepath.Join(dir, "p.json"), `{"kind":"project","title":"Launch"}`)
	waitForFile(t, filepath.Join(dir, "p.json.done"))

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if len(rec.reqs) != 1 || rec.reqs[0].Kind != model.KindProject {
		t.Errorf("requests = %+v", rec.reqs)
	}
}

func TestFailedImportsAreMarked(t *testing.T) {
	dir := t.TempDir()
	rec := &recorder{}
	in := startInbox(t, dir, rec)

	writeFile(t, filepath.Join(dir, "bad.json"), `{"kind":"project"}`)
	waitForFile(t, filepath.Join(dir, "bad.json.failed"))

	rec.mu.Lock()
	rec.err = errors.New("the remote store is unavailable")
	rec.mu.Unlock()

	writeFile(t, filepath.Join(dir, "down.json"), `{"kind":"task","title":"x"}`)
	waitForFile(t, filepath.Join(dir, "down.json.failed"))

	if got := in.Stats(); got.Failed != 2 {
		t.Errorf("Stats().Failed = %d, want 2", got.Failed)
	}
}

func TestNewValidates(t *testing.T) {
	if _, err := New(Config{}, (&recorder{}).handle); err == nil {
		t.Error("New() with empty dir succeeded")
	}
	if _, err := New(Config{Dir: t.TempDir()}, nil); err == nil {
		t.Error("New() with nil handler succeeded")
	}
}
