package mongostore

import (
	"fmt"

	"github.com/mschirtzinger/tracksync/internal/remote"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// BuildFilter translates a remote.Query into a MongoDB filter document.
func BuildFilter(q remote.Query) bson.D {
	if len(q.Filters) == 0 {
		return bson.D{}
	}
	clauses := make(bson.A, 0, len(q.Filters))
	for _, f := range q.Filters {
		clauses = append(clauses, clause(f))
	}
	return bson.D{{Key: "$and", Value: clauses}}
}

func clause(f remote.Filter) bson.M {
	field := fieldName(f.Field)
	switch f.Op {
	case remote.OpNotEqual:
		return bson.M{field: bson.M{"$ne": f.Value}}
	case remote.OpArrayContains:
		return bson.M{field: bson.M{"$elemMatch": bson.M{"$eq": f.Value}}}
	case remote.OpIn:
		items, _ := remote.ToSlice(f.Value)
		return bson.M{field: bson.M{"$in": bson.A(items)}}
	default:
		return bson.M{field: f.Value}
	}
}

// FindOptions carries the query's ordering and limit.
func FindOptions(q remote.Query) *options.FindOptions {
	opts := options.Find()
	if q.OrderBy != "" {
		dir := 1
		if q.Descending {
			dir = -1
		}
		opts.SetSort(bson.D{{Key: fieldName(q.OrderBy), Value: dir}})
	}
	if q.Limit > 0 {
		opts.SetLimit(int64(q.Limit))
	}
	return opts
}

func fieldName(field string) string {
	if field == "id" {
		return "_id"
	}
	return field
}

// Normalize converts driver types into the plain values remote.Document
// promises: map[string]any, []any, time.Time in UTC.
func Normalize(v any) any {
	switch t := v.(type) {
	case bson.M:
		return normalizeMap(t)
	case map[string]any:
		return normalizeMap(t)
	case bson.D:
		out := make(map[string]any, len(t))
		for _, e := range t {
			out[e.Key] = Normalize(e.Value)
		}
		return out
	case bson.A:
		return normalizeSlice(t)
	case []any:
		return normalizeSlice(t)
	case primitive.DateTime:
		return t.Time().UTC()
	case primitive.ObjectID:
		return t.Hex()
	case int32:
		return int64(t)
	default:
		return v
	}
}

func normalizeMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = Normalize(v)
	}
	return out
}

func normalizeSlice(items []any) []any {
	out := make([]any, len(items))
	for i, v := range items {
		out[i] = Normalize(v)
	}
	return out
}

func idString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case primitive.ObjectID:
		return t.Hex()
	default:
		return fmt.Sprint(v)
	}
}
