package fanout

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/mschirtzinger/tracksync/internal/model"
	"github.com/mschirtzinger/tracksync/internal/remote"
	"github.com/mschirtzinger/tracksync/internal/remote/memstore"
	"github.com/sirupsen/logrus"
)

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func TestCompute(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name  string
		d     Descriptor
		users []string
	}{
		{name: "actor is sole target", d: Descriptor{Actor: "u1", Targets: []string{"u1"}}, users: nil},
		{name: "actor excluded", d: Descriptor{Actor: "u1", Targets: []string{"u1", "admin"}}, users: []string{"admin"}},
		{name: "duplicates collapse", d: Descriptor{Actor: "a", Targets: []string{"u1", "u2", "u1"}}, users: []string{"u1", "u2"}},
		{name: "blank targets dropped", d: Descriptor{Actor: "a", Targets: []string{"", " ", "u1"}}, users: []string{"u1"}},
		{name: "no targets", d: Descriptor{Actor: "a"}, users: nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Compute(tt.d, now)
			if len(got) != len(tt.users) {
				t.Fatalf("Compute() produced %d notifications, want %d", len(got), len(tt.users))
			}
			for i, n := range got {
				if n.UserID != tt.users[i] {
					t.Errorf("notification %d userId = %s, want %s", i, n.UserID, tt.users[i])
				}
			}
		})
	}
}

func TestComputeCarriesReferences(t *testing.T) {
	now := time.Now()
	got := Compute(Descriptor{
		Action:  model.ActionTaskCommentAdded,
		Actor:   "u1",
		Targets: []string{"u2"},
		TaskID:  "t1",
		Title:   "New comment",
		Message: "hello",
	}, now)
	if len(got) != 1 {
		t.Fatalf("got %d notifications", len(got))
	}
	n := got[0]
	if n.TaskID != "t1" || n.Type != "task" || n.ActionType != model.ActionTaskCommentAdded || n.Read {
		t.Errorf("unexpected notification %+v", n)
	}
}

// failingStore fails Create for selected users.
type failingStore struct {
	*memstore.Store
	failFor map[string]bool
}

func (f *failingStore) Create(ctx context.Context, collection string, fields map[string]any) (string, error) {
	if uid, _ := fields["userId"].(string); f.failFor[uid] {
		return "", errors.New("permission denied")
	}
	return f.Store.Create(ctx, collection, fields)
}

func TestPublishIsolatesFailures(t *testing.T) {
	mem, err := memstore.New()
	if err != nil {
		t.Fatal(err)
	}
	defer mem.Close()
	store := &failingStore{Store: mem, failFor: map[string]bool{"u2": true}}

	svc := New(store, quietLogger(), Options{})
	res := svc.Publish(context.Background(), Descriptor{
		Action:    model.ActionProjectAssigned,
		Actor:     "admin",
		Targets:   []string{"u1", "u2", "u3"},
		ProjectID: "p1",
		Title:     "Assigned",
		Message:   "You were assigned",
	})

	if res.Written != 2 || res.Failed != 1 {
		t.Errorf("Publish() = %+v, want 2 written 1 failed", res)
	}

	docs, err := mem.Query(context.Background(), remote.CollectionNotifications, remote.Query{
		Filters: []remote.Filter{remote.Where("projectId", remote.OpEqual, "p1")},
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(docs) != 2 {
		t.Errorf("stored %d notifications, want 2", len(docs))
	}
	for _, d := range docs {
		if _, err := model.DecodeNotification(d); err != nil {
			t.Errorf("stored notification does not decode: %v", err)
		}
	}
}
