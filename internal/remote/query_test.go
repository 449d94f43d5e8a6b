package remote

import (
	"testing"
	"time"
)

func docs() []Document {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	return []Document{
		{ID: "a", Fields: map[string]any{"userId": "u1", "read": false, "createdAt": base, "tags": []any{"x", "y"}, "n": 3}},
		{ID: "b", Fields: map[string]any{"userId": "u2", "read": true, "createdAt": base.Add(time.Hour), "tags": []string{"y"}, "n": int64(1)}},
		{ID: "c", Fields: map[string]any{"userId": "u1", "read": true, "createdAt": base.Add(2 * time.Hour), "n": 2.0}},
	}
}

func ids(in []Document) []string {
	out := make([]string, 0, len(in))
	for _, d := range in {
		out = append(out, d.ID)
	}
	return out
}

func TestApply(t *testing.T) {
	tests := []struct {
		name string
		q    Query
		want []string
	}{
		{name: "no filters", q: Query{}, want: []string{"a", "b", "c"}},
		{name: "equal", q: Query{Filters: []Filter{Where("userId", OpEqual, "u1")}}, want: []string{"a", "c"}},
		{name: "not equal", q: Query{Filters: []Filter{Where("userId", OpNotEqual, "u1")}}, want: []string{"b"}},
		{name: "not equal missing field", q: Query{Filters: []Filter{Where("tags", OpNotEqual, "x")}}, want: []string{"a", "b", "c"}},
		{name: "array contains", q: Query{Filters: []Filter{Where("tags", OpArrayContains, "y")}}, want: []string{"a", "b"}},
		{name: "in", q: Query{Filters: []Filter{Where("id", OpIn, []string{"a", "c"})}}, want: []string{"a", "c"}},
		{name: "numeric equality across types", q: Query{Filters: []Filter{Where("n", OpEqual, 1)}}, want: []string{"b"}},
		{name: "combined", q: Query{Filters: []Filter{Where("userId", OpEqual, "u1"), Where("read", OpEqual, true)}}, want: []string{"c"}},
		{name: "order desc", q: Query{OrderBy: "createdAt", Descending: true}, want: []string{"c", "b", "a"}},
		{name: "order numeric", q: Query{OrderBy: "n"}, want: []string{"b", "c", "a"}},
		{name: "limit", q: Query{OrderBy: "createdAt", Descending: true, Limit: 2}, want: []string{"c", "b"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ids(Apply(docs(), tt.q))
			if len(got) != len(tt.want) {
				t.Fatalf("Apply() = %v, want %v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Fatalf("Apply() = %v, want %v", got, tt.want)
				}
			}
		})
	}
}

func TestQueryValidate(t *testing.T) {
	tests := []struct {
		name    string
		q       Query
		wantErr bool
	}{
		{name: "empty", q: Query{}},
		{name: "known ops", q: Query{Filters: []Filter{Where("a", OpEqual, 1), Where("b", OpArrayContains, "x")}}},
		{name: "in with list", q: Query{Filters: []Filter{Where("a", OpIn, []any{1, 2})}}},
		{name: "in with scalar", q: Query{Filters: []Filter{Where("a", OpIn, 1)}}, wantErr: true},
		{name: "unknown op", q: Query{Filters: []Filter{Where("a", ">", 1)}}, wantErr: true},
		{name: "empty field", q: Query{Filters: []Filter{Where("", OpEqual, 1)}}, wantErr: true},
		{name: "negative limit", q: Query{Limit: -1}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.q.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestQueryString(t *testing.T) {
	q := Query{Filters: []Filter{Where("userId", OpEqual, "u1")}, OrderBy: "createdAt", Descending: true, Limit: 5}
	want := "userId == u1, order createdAt desc, limit 5"
	if got := q.String(); got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}
}

func TestCloneFieldsIsDeep(t *testing.T) {
	orig := map[string]any{
		"list":   []any{map[string]any{"id": "s1"}},
		"ids":    []string{"u1"},
		"nested": map[string]any{"k": "v"},
	}
	c := CloneFields(orig)
	c["list"].([]any)[0].(map[string]any)["id"] = "changed"
	c["ids"].([]string)[0] = "changed"
	c["nested"].(map[string]any)["k"] = "changed"

	if orig["list"].([]any)[0].(map[string]any)["id"] != "s1" {
		t.Error("nested list element aliased")
	}
	if orig["ids"].([]string)[0] != "u1" {
		t.Error("string slice aliased")
	}
	if orig["nested"].(map[string]any)["k"] != "v" {
		t.Error("nested map aliased")
	}
}
