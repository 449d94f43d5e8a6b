package mongostore

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/mschirtzinger/tracksync/internal/remote"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

func TestBuildFilter(t *testing.T) {
	tests := []struct {
		name string
		q    remote.Query
		want bson.D
	}{
		{name: "empty", q: remote.Query{}, want: bson.D{}},
		{
			name: "equal on id",
			q:    remote.Query{Filters: []remote.Filter{remote.Where("id", remote.OpEqual, "p1")}},
			want: bson.D{{Key: "$and", Value: bson.A{bson.M{"_id": "p1"}}}},
		},
		{
			name: "mixed",
			q: remote.Query{Filters: []remote.Filter{
				remote.Where("assignedTo", remote.OpArrayContains, "u1"),
				remote.Where("status", remote.OpNotEqual, "Done"),
				remote.Where("priority", remote.OpIn, []string{"High", "Critical"}),
			}},
			want: bson.D{{Key: "$and", Value: bson.A{
				bson.M{"assignedTo": bson.M{"$elemMatch": bson.M{"$eq": "u1"}}},
				bson.M{"status": bson.M{"$ne": "Done"}},
				bson.M{"priority": bson.M{"$in": bson.A{"High", "Critical"}}},
			}}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if diff := cmp.Diff(tt.want, BuildFilter(tt.q)); diff != "" {
				t.Errorf("BuildFilter() (-want +got):\n%s", diff)
			}
		})
	}
}

func TestFindOptions(t *testing.T) {
	opts := FindOptions(remote.Query{OrderBy: "createdAt", Descending: true, Limit: 10})
	if diff := cmp.Diff(bson.D{{Key: "createdAt", Value: -1}}, opts.Sort); diff != "" {
		t.Errorf("sort (-want +got):\n%s", diff)
	}
	if opts.Limit == nil || *opts.Limit != 10 {
		t.Errorf("limit = %v, want 10", opts.Limit)
	}

	plain := FindOptions(remote.Query{})
	if plain.Sort != nil || plain.Limit != nil {
		t.Errorf("unexpected options %+v", plain)
	}
}

func TestToDocumentNormalizes(t *testing.T) {
	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	raw := bson.M{
		"_id":       "p1",
		"title":     "x",
		"createdAt": primitive.NewDateTimeFromTime(at),
		"progress":  int32(5),
		"subTasks": bson.A{
			bson.D{{Key: "id", Value: "s1"}, {Key: "createdAt", Value: primitive.NewDateTimeFromTime(at)}},
		},
		"assignedTo": bson.A{"u1"},
	}

	doc := toDocument(raw)

	want := remote.Document{
		ID: "p1",
		Fields: map[string]any{
			"title":      "x",
			"createdAt":  at,
			"progress":   int64(5),
			"subTasks":   []any{map[string]any{"id": "s1", "createdAt": at}},
			"assignedTo": []any{"u1"},
		},
	}
	if diff := cmp.Diff(want, doc); diff != "" {
		t.Errorf("toDocument() (-want +got):\n%s", diff)
	}
}

func TestWithIDStripsClientKeys(t *testing.T) {
	doc := withID("u1", map[string]any{"id": "ignored", "role": "admin"})
	if doc["_id"] != "u1" {
		t.Errorf("_id = %v", doc["_id"])
	}
	if _, ok := doc["id"]; ok {
		t.Error("id key must not be persisted")
	}
}
